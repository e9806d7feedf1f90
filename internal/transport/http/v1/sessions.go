package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/dinematch/internal/service"
)

// StartSession starts a session for the caller's group.
// POST /v1/sessions
func (h *Handler) StartSession(c echo.Context) error {
	var req service.StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	session, err := h.service.StartSession(c.Request().Context(), currentUser(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// GetSessionState returns status, matches and member count for resync.
// GET /v1/sessions/:session_id
func (h *Handler) GetSessionState(c echo.Context) error {
	state, err := h.service.GetSessionState(c.Request().Context(), c.Param("session_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// ListMatches returns matches in the order they formed.
// GET /v1/sessions/:session_id/matches
func (h *Handler) ListMatches(c echo.Context) error {
	matches, err := h.service.ListMatches(c.Request().Context(), c.Param("session_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"matches": matches})
}

// CancelSession cancels an active session.
// POST /v1/sessions/:session_id/cancel
func (h *Handler) CancelSession(c echo.Context) error {
	session, err := h.service.CancelSession(c.Request().Context(), c.Param("session_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// CompleteSession completes a session whose feed is exhausted.
// POST /v1/sessions/:session_id/complete
func (h *Handler) CompleteSession(c echo.Context) error {
	completion, err := h.service.CompleteSession(c.Request().Context(), c.Param("session_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session": completion.Session,
		"matches": completion.Matches,
	})
}

// AppendCandidates extends the session's restaurant queue.
// PUT /v1/sessions/:session_id/candidates
func (h *Handler) AppendCandidates(c echo.Context) error {
	var req service.CandidatesRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	queue, err := h.service.AppendCandidates(c.Request().Context(), c.Param("session_id"), currentUser(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, queue)
}

// RemainingCandidates lists restaurants the caller has not swiped yet.
// GET /v1/sessions/:session_id/candidates
func (h *Handler) RemainingCandidates(c echo.Context) error {
	queue, err := h.service.RemainingCandidates(c.Request().Context(), c.Param("session_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, queue)
}

// SubmitSwipe records one swipe from the caller.
// POST /v1/sessions/:session_id/swipes
func (h *Handler) SubmitSwipe(c echo.Context) error {
	var req service.SwipeRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	ack, err := h.service.SubmitSwipe(c.Request().Context(), c.Param("session_id"), currentUser(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	status := http.StatusCreated
	if ack.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, ack)
}
