package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/colloquy-ai/colloquy/internal/brainstorm"
)

// BrainstormHandler exposes the branch state store and its orchestration
// loop.
type BrainstormHandler struct {
	Store  brainstorm.Store
	Runner *brainstorm.Runner
	Logger *log.Logger
}

func (h *BrainstormHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.remove)
	g.GET("/:id/next-branch", h.nextBranch)
	g.POST("/:id/branches/:branch/answers", h.recordAnswer)
}

func (h *BrainstormHandler) create(c echo.Context) error {
	var req struct {
		Request  string                  `json:"request"`
		Branches []brainstorm.BranchSpec `json:"branches"`
		Run      bool                    `json:"run"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Request == "" || len(req.Branches) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "request and branches required")
	}
	st, err := h.Runner.CreateSession(c.Request().Context(), req.Request, req.Branches)
	if err != nil {
		return storeError(err)
	}
	if req.Run {
		// The loop outlives the request; answers can arrive much later.
		go func() {
			if err := h.Runner.Run(context.Background(), st.SessionID); err != nil {
				h.Logger.Printf("brainstorm %s loop: %v", st.SessionID, err)
			}
		}()
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *BrainstormHandler) get(c echo.Context) error {
	st, err := h.Store.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *BrainstormHandler) remove(c echo.Context) error {
	if err := h.Store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *BrainstormHandler) nextBranch(c echo.Context) error {
	b, err := h.Store.NextExploringBranch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	done, err := h.Store.IsComplete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"branch": b, "complete": done})
}

func (h *BrainstormHandler) recordAnswer(c echo.Context) error {
	var req struct {
		QuestionID string          `json:"question_id"`
		Answer     json.RawMessage `json:"answer"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.QuestionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question_id required")
	}
	err := h.Runner.HandleAnswer(c.Request().Context(), c.Param("id"), c.Param("branch"), req.QuestionID, req.Answer)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// storeError maps store sentinels onto HTTP statuses.
func storeError(err error) error {
	switch {
	case errors.Is(err, brainstorm.ErrInvalidSessionID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, brainstorm.ErrSessionNotFound),
		errors.Is(err, brainstorm.ErrBranchNotFound),
		errors.Is(err, brainstorm.ErrQuestionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, brainstorm.ErrAlreadyAnswered):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
