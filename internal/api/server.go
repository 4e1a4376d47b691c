// Package api serves the to-do board over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"sharedtodo/pkg/board"
	"sharedtodo/pkg/identity"
	"sharedtodo/pkg/todo"
)

// Board is the set of operations the handlers need.
type Board interface {
	ListForViewer(ctx context.Context) ([]todo.Task, error)
	AddTask(ctx context.Context, text string) (int64, bool, error)
	ToggleTask(ctx context.Context, id int64, completed *bool) (int64, error)
	DeleteTask(ctx context.Context, id int64) (int64, error)
	SetDisplayName(ctx context.Context, name string) (bool, error)
	GetViewerProfile(ctx context.Context) (board.Profile, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP-layer settings.
type Config struct {
	TrustProxy bool
	// StaticDir is served at /. Empty disables static files.
	StaticDir string
	Logger    *log.Logger
}

// Server is the HTTP API server.
type Server struct {
	board    Board
	health   Pinger
	resolver identity.Resolver
	logger   *log.Logger
	echo     *echo.Echo
}

// New creates a new Server.
func New(b Board, health Pinger, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Server{
		board:    b,
		health:   health,
		resolver: identity.Resolver{TrustProxy: cfg.TrustProxy},
		logger:   logger,
		echo:     echo.New(),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = s.handleError
	e.IPExtractor = func(r *http.Request) string {
		ip, _ := s.resolver.Resolve(r)
		return ip
	}

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())

	s.routes(cfg.StaticDir)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes(staticDir string) {
	s.echo.GET("/healthz", s.handleHealth)

	g := s.echo.Group("/api", s.withIdentity)

	// Tasks
	g.GET("/tasks", s.handleTaskList)
	g.POST("/tasks", s.handleTaskCreate)
	g.PUT("/tasks/:id", s.handleTaskUpdate)
	g.DELETE("/tasks/:id", s.handleTaskDelete)

	// User
	g.POST("/update-name", s.handleUpdateName)
	g.GET("/user", s.handleUser)

	if staticDir != "" {
		s.echo.Static("/", staticDir)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.health.Ping(c.Request().Context()); err != nil {
		s.logger.WithError(err).Warn("health check failed")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// handleError renders every error as {"error": msg}. Storage details never
// reach the client.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	case errors.Is(err, identity.ErrUnavailable):
		msg = "could not determine client address"
	case errors.Is(err, todo.ErrStoreUnavailable):
		msg = "storage unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Request().URL.Path).Error("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, echo.Map{"error": msg})
	}
	if err != nil {
		s.logger.WithError(err).Warn("write error response")
	}
}
