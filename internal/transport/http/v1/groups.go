package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/dinematch/internal/service"
)

// UpsertMembers adds or updates roster entries.
// PUT /v1/groups/:group_id/members
func (h *Handler) UpsertMembers(c echo.Context) error {
	var req service.RosterRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	members, err := h.service.UpsertMembers(c.Request().Context(), c.Param("group_id"), currentUser(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"members": members})
}

// ListMembers returns the group roster.
// GET /v1/groups/:group_id/members
func (h *Handler) ListMembers(c echo.Context) error {
	members, err := h.service.ListMembers(c.Request().Context(), c.Param("group_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"members": members})
}

// GetGroup returns the group settings and roster.
// GET /v1/groups/:group_id
func (h *Handler) GetGroup(c echo.Context) error {
	view, err := h.service.GetGroup(c.Request().Context(), c.Param("group_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// UpdateGroupSettings changes the group's member cap.
// PUT /v1/groups/:group_id/settings
func (h *Handler) UpdateGroupSettings(c echo.Context) error {
	var req service.GroupSettingsRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	group, err := h.service.UpdateGroupSettings(c.Request().Context(), c.Param("group_id"), currentUser(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"group": group})
}

// JoinGroup adds the caller to the group.
// POST /v1/groups/:group_id/join
func (h *Handler) JoinGroup(c echo.Context) error {
	members, err := h.service.JoinGroup(c.Request().Context(), c.Param("group_id"), currentUser(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"members": members})
}

// LeaveGroup removes the caller from the group.
// DELETE /v1/groups/:group_id/leave
func (h *Handler) LeaveGroup(c echo.Context) error {
	if err := h.service.LeaveGroup(c.Request().Context(), c.Param("group_id"), currentUser(c)); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
