package api

import (
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"sharedtodo/pkg/identity"
)

// withIdentity resolves the caller's address and stores it in the request
// context for the board service.
func (s *Server) withIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		id, err := s.resolver.Resolve(req)
		if err != nil {
			return err
		}
		c.SetRequest(req.WithContext(identity.WithIdentity(req.Context(), id)))
		return next(c)
	}
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			fields := log.Fields{
				"method":     req.Method,
				"path":       req.URL.Path,
				"status":     res.Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"request_id": res.Header().Get(echo.HeaderXRequestID),
				"remote_ip":  c.RealIP(),
			}
			if id, err := identity.FromContext(req.Context()); err == nil {
				fields["identity"] = id
			}

			entry := logger.WithFields(fields)
			switch {
			case res.Status >= 500:
				entry.Error("request")
			case res.Status >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
			return nil
		}
	}
}
