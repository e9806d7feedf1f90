// Package internalapi serves operational endpoints that are not exposed to
// clients: health, Prometheus metrics and room presence.
package internalapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/dinematch/internal/hub"
	"github.com/xiaot623/dinematch/internal/metrics"
)

// Server is the internal HTTP server.
type Server struct {
	echo    *echo.Echo
	hub     *hub.Hub
	metrics *metrics.Collector
}

// NewServer creates a new internal HTTP server.
func NewServer(h *hub.Hub, collector *metrics.Collector) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		hub:     h,
		metrics: collector,
	}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))
	e.GET("/internal/groups/:group_id/connections", s.handleConnections)

	return s
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"rooms":       s.hub.GetRoomCount(),
	})
}

// ConnectionsResponse lists the users currently joined to a group's room.
type ConnectionsResponse struct {
	GroupID string   `json:"group_id"`
	Users   []string `json:"users"`
}

func (s *Server) handleConnections(c echo.Context) error {
	groupID := c.Param("group_id")
	return c.JSON(http.StatusOK, ConnectionsResponse{
		GroupID: groupID,
		Users:   s.hub.ConnectedUsers(groupID),
	})
}
