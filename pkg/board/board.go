// Package board is the only path through which tasks are read or changed.
//
// Every operation first resolves the caller's identity from the context and
// passes it down as the owner predicate. A mutation aimed at someone else's
// task reports zero changes, exactly like one aimed at a task that does not
// exist, so callers cannot probe for other users' tasks.
package board

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sharedtodo/pkg/identity"
	"sharedtodo/pkg/todo"
)

// ErrValidation classifies rejected input. Operations turn it into a no-op
// result rather than returning it.
var ErrValidation = errors.New("validation failed")

// Profile is what a visitor sees about themselves.
type Profile struct {
	IP          string `json:"ip"`
	DisplayName string `json:"display_name"`
}

// Service enforces task ownership on top of a todo.Store.
type Service struct {
	store  todo.Store
	tracer trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithTracer sets the tracer used for per-operation spans.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) { s.tracer = tr }
}

// New creates a Service over store.
func New(store todo.Store, opts ...Option) *Service {
	s := &Service{store: store, tracer: otel.Tracer("sharedtodo/board")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListForViewer returns every task, the caller's own first.
func (s *Service) ListForViewer(ctx context.Context) (tasks []todo.Task, err error) {
	ctx, viewer, end := s.begin(ctx, "board.ListForViewer")
	defer func() { end(err) }()
	if viewer == "" {
		return nil, identity.ErrUnavailable
	}
	tasks, err = s.store.ListTasks(ctx, viewer)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("board.tasks", len(tasks)))
	return tasks, nil
}

// AddTask stores text as a new task owned by the caller. Blank text is
// ignored and reported with created=false.
func (s *Service) AddTask(ctx context.Context, text string) (id int64, created bool, err error) {
	ctx, owner, end := s.begin(ctx, "board.AddTask")
	defer func() { end(err) }()
	if owner == "" {
		return 0, false, identity.ErrUnavailable
	}
	text, verr := required(text)
	if verr != nil {
		log.WithField("identity", owner).Debug("board: ignoring blank task")
		return 0, false, nil
	}
	id, err = s.store.InsertTask(context.WithoutCancel(ctx), owner, text)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ToggleTask sets the completion of one of the caller's tasks. With a nil
// target the current state is flipped. Returns the number of tasks changed.
func (s *Service) ToggleTask(ctx context.Context, id int64, completed *bool) (changes int64, err error) {
	ctx, owner, end := s.begin(ctx, "board.ToggleTask", attribute.Int64("task.id", id))
	defer func() { end(err) }()
	if owner == "" {
		return 0, identity.ErrUnavailable
	}

	var target bool
	if completed != nil {
		target = *completed
	} else {
		task, err := s.store.GetTask(ctx, id, owner)
		if err != nil {
			return 0, err
		}
		if task == nil {
			return 0, nil
		}
		target = !task.Completed
	}
	return s.store.UpdateTaskCompletion(context.WithoutCancel(ctx), id, owner, target)
}

// DeleteTask removes one of the caller's tasks. Returns the number removed.
func (s *Service) DeleteTask(ctx context.Context, id int64) (changes int64, err error) {
	ctx, owner, end := s.begin(ctx, "board.DeleteTask", attribute.Int64("task.id", id))
	defer func() { end(err) }()
	if owner == "" {
		return 0, identity.ErrUnavailable
	}
	return s.store.DeleteTask(context.WithoutCancel(ctx), id, owner)
}

// SetDisplayName records the caller's display name. A blank name is ignored
// and reported with ok=false.
func (s *Service) SetDisplayName(ctx context.Context, name string) (ok bool, err error) {
	ctx, who, end := s.begin(ctx, "board.SetDisplayName")
	defer func() { end(err) }()
	if who == "" {
		return false, identity.ErrUnavailable
	}
	name, verr := required(name)
	if verr != nil {
		log.WithField("identity", who).Debug("board: ignoring blank display name")
		return false, nil
	}
	if err := s.store.UpsertDisplayName(context.WithoutCancel(ctx), who, name); err != nil {
		return false, err
	}
	return true, nil
}

// GetViewerProfile returns the caller's address and display name, falling
// back to the address when no name was set.
func (s *Service) GetViewerProfile(ctx context.Context) (p Profile, err error) {
	ctx, who, end := s.begin(ctx, "board.GetViewerProfile")
	defer func() { end(err) }()
	if who == "" {
		return Profile{}, identity.ErrUnavailable
	}
	rec, err := s.store.GetIdentity(ctx, who)
	if err != nil {
		return Profile{}, err
	}
	p = Profile{IP: who, DisplayName: who}
	if rec != nil && rec.DisplayName != nil && *rec.DisplayName != "" {
		p.DisplayName = *rec.DisplayName
	}
	return p, nil
}

// begin starts a span and resolves the caller. The returned end func records
// err on the span and closes it.
func (s *Service) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, string, func(error)) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	who, err := identity.FromContext(ctx)
	if err == nil {
		span.SetAttributes(attribute.String("identity", who))
	}
	return ctx, who, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func required(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ErrValidation
	}
	return v, nil
}
