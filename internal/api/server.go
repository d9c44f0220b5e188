// Package api exposes the management HTTP interface: device CRUD,
// schedule and override mutations, status and history reads. Every
// mutation reconciles the affected device synchronously before the
// response is written, so callers observe the hardware effect of their
// change, not a promise.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Server is the management API server.
type Server struct {
	addr string
	echo *echo.Echo
}

// NewServer creates a new API server with routes bound to the handler.
func NewServer(host string, port int, h *Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	e.GET("/healthz", h.Health)

	e.GET("/api/devices", h.ListDevices)
	e.POST("/api/devices", h.CreateDevice)
	e.PUT("/api/devices/:id", h.UpdateDevice)
	e.DELETE("/api/devices/:id", h.DeleteDevice)
	e.GET("/api/devices/:id/status", h.DeviceStatus)
	e.GET("/api/devices/:id/events", h.DeviceEvents)

	e.GET("/api/devices/:id/schedules", h.ListWindows)
	e.POST("/api/devices/:id/schedules", h.AddWindow)
	e.DELETE("/api/schedules/:id", h.DeleteWindow)

	e.POST("/api/devices/:id/access", h.GrantAccess)
	e.DELETE("/api/devices/:id/access", h.RevokeAccess)
	e.POST("/api/devices/:id/punishment", h.ActivatePunishment)
	e.DELETE("/api/devices/:id/punishment", h.CancelPunishment)

	e.POST("/api/reconcile", h.ReconcileAll)

	return &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		echo: e,
	}
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// requestLogger tags every request with an ID and logs its outcome.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := uuid.NewString()
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			log.Debug().
				Str("request_id", requestID).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Msg("Request handled")

			return nil
		}
	}
}
