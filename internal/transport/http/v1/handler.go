// Package v1 provides the public REST API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/auth"
	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/service"
)

const userIDKey = "user_id"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	auth    *auth.Authenticator
	logger  *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, authenticator *auth.Authenticator, logger *zap.Logger) *Handler {
	return &Handler{
		service: svc,
		auth:    authenticator,
		logger:  logger,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1", h.authenticate)

	// Group roster
	g.PUT("/groups/:group_id/members", h.UpsertMembers)
	g.GET("/groups/:group_id/members", h.ListMembers)
	g.GET("/groups/:group_id", h.GetGroup)
	g.PUT("/groups/:group_id/settings", h.UpdateGroupSettings)
	g.POST("/groups/:group_id/join", h.JoinGroup)
	g.DELETE("/groups/:group_id/leave", h.LeaveGroup)

	// Sessions
	g.POST("/sessions", h.StartSession)
	g.GET("/sessions/:session_id", h.GetSessionState)
	g.GET("/sessions/:session_id/matches", h.ListMatches)
	g.POST("/sessions/:session_id/cancel", h.CancelSession)
	g.POST("/sessions/:session_id/complete", h.CompleteSession)

	// Candidate feed and swipes
	g.PUT("/sessions/:session_id/candidates", h.AppendCandidates)
	g.GET("/sessions/:session_id/candidates", h.RemainingCandidates)
	g.POST("/sessions/:session_id/swipes", h.SubmitSwipe)
}

// authenticate resolves the caller from the bearer token.
func (h *Handler) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := h.auth.Verify(auth.TokenFromRequest(c.Request()))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", err.Error()))
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func currentUser(c echo.Context) string {
	userID, _ := c.Get(userIDKey).(string)
	return userID
}

func errorBody(code, message string) map[string]string {
	return map[string]string{"code": code, "error": message}
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidDirection):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAMember), errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionNotActive),
		errors.Is(err, domain.ErrSessionAlreadyTerminal),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrFeedNotExhausted),
		errors.Is(err, domain.ErrGroupFull),
		errors.Is(err, domain.ErrAdminCannotLeave):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownRestaurant), errors.Is(err, domain.ErrInsufficientMembers):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error response.
func (h *Handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		message = "internal error"
	}
	return c.JSON(status, errorBody(domain.ErrorCode(err), message))
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, errorBody(domain.ErrorCodeInvalidRequest, "invalid request body"))
}
