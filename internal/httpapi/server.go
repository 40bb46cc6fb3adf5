// Package httpapi exposes a small read-only HTTP surface next to the chat
// port: health checking and operational state for dashboards and scripts.
// Mutating chat state stays on the wire protocol.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"conchat/internal/chat"
	"conchat/internal/store"
)

// Server serves the admin API on its own TCP port.
type Server struct {
	version string
	started time.Time
	chat    *chat.Server
	store   *store.Store
	echo    *echo.Echo
}

// New constructs the API server and registers all routes.
func New(version string, cs *chat.Server, st *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("api request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &Server{
		version: version,
		started: time.Now(),
		chat:    cs,
		store:   st,
		echo:    e,
	}
	e.GET("/health", s.handleHealth)
	e.GET("/api/status", s.handleStatus)
	e.GET("/api/rooms", s.handleRooms)
	return s
}

// Echo exposes the underlying handler for tests and embedding.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Run starts the HTTP server on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("api server", "err", err)
		}
	}()
	<-ctx.Done()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		slog.Error("api shutdown", "err", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Clients: s.chat.ClientCount(),
	})
}

// StatusResponse is the payload for GET /api/status.
type StatusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Clients       int    `json:"clients"`
	RoomsInMemory int    `json:"rooms_in_memory"`
	Users         int    `json:"users"`
	Rooms         int    `json:"rooms"`
	Messages      int    `json:"messages"`
}

func (s *Server) handleStatus(c echo.Context) error {
	users, rooms, messages, err := s.store.Counts(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "database unavailable")
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Clients:       s.chat.ClientCount(),
		RoomsInMemory: s.chat.RoomCount(),
		Users:         users,
		Rooms:         rooms,
		Messages:      messages,
	})
}

// RoomInfo is one row of the GET /api/rooms response.
type RoomInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreateDate string `json:"createdate"`
}

func (s *Server) handleRooms(c echo.Context) error {
	rooms, err := s.store.RoomList(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "database unavailable")
	}
	out := make([]RoomInfo, len(rooms))
	for i, r := range rooms {
		out[i] = RoomInfo{ID: r.ID, Name: r.Name, CreateDate: r.CreateDate}
	}
	return c.JSON(http.StatusOK, out)
}
