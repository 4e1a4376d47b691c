package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleUpdateName(c echo.Context) error {
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	ok, err := s.board.SetDisplayName(c.Request().Context(), req.DisplayName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": ok})
}

func (s *Server) handleUser(c echo.Context) error {
	p, err := s.board.GetViewerProfile(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
