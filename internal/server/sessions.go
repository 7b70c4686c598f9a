package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/colloquy-ai/colloquy/internal/dialogue"
)

// DialogueHandler exposes the session coordinator to calling agents.
type DialogueHandler struct {
	Manager *dialogue.Manager
}

func (h *DialogueHandler) Register(g *echo.Group) {
	g.POST("/sessions", h.start)
	g.DELETE("/sessions/:id", h.end)
	g.GET("/sessions/:id/next", h.next)
	g.POST("/sessions/:id/questions", h.push)
	g.GET("/questions", h.list)
	g.GET("/questions/:id/answer", h.answer)
	g.POST("/questions/:id/cancel", h.cancel)
}

func (h *DialogueHandler) start(c echo.Context) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.Manager.StartSession(req.Title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *DialogueHandler) push(c echo.Context) error {
	var req struct {
		Type   dialogue.QuestionType `json:"type"`
		Config json.RawMessage       `json:"config"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type required")
	}
	id, err := h.Manager.PushQuestion(c.Param("id"), req.Type, req.Config)
	if err != nil {
		if errors.Is(err, dialogue.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"question_id": id})
}

func (h *DialogueHandler) answer(c echo.Context) error {
	block, timeout := waitParams(c)
	res, err := h.Manager.GetAnswer(c.Request().Context(), c.Param("id"), block, timeout)
	if err != nil {
		// Only the request context can fail here.
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *DialogueHandler) next(c echo.Context) error {
	block, timeout := waitParams(c)
	res, err := h.Manager.GetNextAnswer(c.Request().Context(), c.Param("id"), block, timeout)
	if err != nil {
		if errors.Is(err, dialogue.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *DialogueHandler) cancel(c echo.Context) error {
	ok := h.Manager.CancelQuestion(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]bool{"ok": ok})
}

func (h *DialogueHandler) list(c echo.Context) error {
	items := h.Manager.ListQuestions(c.QueryParam("session_id"))
	if items == nil {
		items = []dialogue.Summary{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *DialogueHandler) end(c echo.Context) error {
	ok := h.Manager.EndSession(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]bool{"ok": ok})
}

// waitParams reads the blocking controls shared by the answer-retrieval
// endpoints: block=true to suspend, timeout_ms to bound the suspension.
func waitParams(c echo.Context) (bool, time.Duration) {
	block, _ := strconv.ParseBool(c.QueryParam("block"))
	var timeout time.Duration
	if ms, err := strconv.Atoi(c.QueryParam("timeout_ms")); err == nil && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	return block, timeout
}
