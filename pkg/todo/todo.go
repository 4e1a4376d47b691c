// Package todo stores tasks and identity display names.
//
// Every mutating operation is scoped by owner inside the statement itself:
// a mismatched owner affects zero rows rather than returning an error.
package todo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps every I/O failure of a Store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Task is a single to-do item. Owner and Text never change after creation.
type Task struct {
	ID          int64      `json:"id"`
	Owner       string     `json:"user_ip"`
	Text        string     `json:"text"`
	Completed   bool       `json:"completed"`
	LastUpdated *time.Time `json:"last_updated"` // nil on rows created before the column existed
	DisplayName *string    `json:"display_name"` // owner's display name, nil when never set
}

// Identity is the stored display name for an address.
type Identity struct {
	ID          string  `json:"ip"`
	DisplayName *string `json:"display_name"`
}

// Store is the contract for task and identity persistence.
type Store interface {
	// EnsureSchema creates the tasks and users tables if absent.
	EnsureSchema(ctx context.Context) error
	// Migrate adds columns missing from older schemas. Additive only.
	Migrate(ctx context.Context) error

	InsertTask(ctx context.Context, owner, text string) (int64, error)
	// UpdateTaskCompletion returns the number of rows changed; 0 when id is
	// unknown or not owned by owner.
	UpdateTaskCompletion(ctx context.Context, id int64, owner string, completed bool) (int64, error)
	DeleteTask(ctx context.Context, id int64, owner string) (int64, error)
	// GetTask returns task id when owner owns it, nil otherwise.
	GetTask(ctx context.Context, id int64, owner string) (*Task, error)
	// ListTasks returns every task, viewer's own first (see SortForViewer).
	ListTasks(ctx context.Context, viewer string) ([]Task, error)

	UpsertDisplayName(ctx context.Context, identity, name string) error
	// GetIdentity returns nil without error when no row exists.
	GetIdentity(ctx context.Context, identity string) (*Identity, error)

	Ping(ctx context.Context) error
	Close() error
}

// Setup runs EnsureSchema then Migrate. Safe on every start.
func Setup(ctx context.Context, s Store) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.Migrate(ctx)
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for last_updated.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func firstTask(tasks []Task) *Task {
	if len(tasks) == 0 {
		return nil
	}
	return &tasks[0]
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
