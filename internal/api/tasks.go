package api

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"sharedtodo/pkg/todo"
)

func (s *Server) handleTaskList(c echo.Context) error {
	tasks, err := s.board.ListForViewer(c.Request().Context())
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []todo.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleTaskCreate(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	id, created, err := s.board.AddTask(c.Request().Context(), req.Text)
	if err != nil {
		return err
	}
	if !created {
		return c.JSON(http.StatusOK, echo.Map{"id": nil, "changes": 0})
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id})
}

func (s *Server) handleTaskUpdate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Completed *bool `json:"completed"`
	}
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	n, err := s.board.ToggleTask(c.Request().Context(), id, req.Completed)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"changes": n})
}

func (s *Server) handleTaskDelete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	n, err := s.board.DeleteTask(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"changes": n})
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}
	return id, nil
}

// decodeBody reads a JSON body into v. An empty body, including a chunked
// one of unknown length, leaves v untouched.
func decodeBody(c echo.Context, v any) error {
	req := c.Request()
	if req.ContentLength == 0 || req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	br := bufio.NewReader(req.Body)
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return nil
	}
	req.Body = struct {
		io.Reader
		io.Closer
	}{br, req.Body}
	return c.Echo().JSONSerializer.Deserialize(c, v)
}
