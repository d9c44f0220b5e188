package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dokzlo13/curfewd/internal/clock"
	"github.com/dokzlo13/curfewd/internal/easysmart"
	"github.com/dokzlo13/curfewd/internal/ledger"
	"github.com/dokzlo13/curfewd/internal/policy"
	"github.com/dokzlo13/curfewd/internal/reconcile"
	"github.com/dokzlo13/curfewd/internal/store"
)

// Reconciler is the engine surface mutations drive synchronously.
type Reconciler interface {
	ReconcileDevice(ctx context.Context, deviceID int64) reconcile.Outcome
	ReconcileAll(ctx context.Context) []reconcile.Outcome
	CachedState(deviceID int64) (reconcile.PortState, bool)
	Invalidate(deviceID int64)
}

// Handler implements the API endpoints.
type Handler struct {
	store    *store.Store
	resolver *policy.Resolver
	engine   Reconciler
	history  *ledger.Ledger
	clk      clock.Clock
}

// NewHandler creates a new Handler.
func NewHandler(st *store.Store, resolver *policy.Resolver, engine Reconciler, history *ledger.Ledger, clk clock.Clock) *Handler {
	return &Handler{store: st, resolver: resolver, engine: engine, history: history, clk: clk}
}

// Health answers liveness probes.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ReconcileAll forces a full pass over every device and reports the
// per-device outcomes.
func (h *Handler) ReconcileAll(c echo.Context) error {
	outcomes := h.engine.ReconcileAll(c.Request().Context())
	out := make([]outcomeJSON, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, toOutcomeJSON(o))
	}
	return c.JSON(http.StatusOK, map[string]any{"outcomes": out})
}

// outcomeJSON is the wire form of a reconciliation outcome.
type outcomeJSON struct {
	DeviceID  int64  `json:"device_id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	Enabled   bool   `json:"enabled"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func toOutcomeJSON(o reconcile.Outcome) outcomeJSON {
	out := outcomeJSON{
		DeviceID: o.DeviceID,
		Name:     o.Name,
		Status:   string(o.Status),
		Enabled:  o.Enabled,
		Reason:   string(o.Reason),
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
		out.ErrorKind = errorKind(o.Err)
	}
	return out
}

// errorKind maps failures to the stable kinds clients branch on.
func errorKind(err error) string {
	switch {
	case errors.Is(err, easysmart.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, easysmart.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, easysmart.ErrCommandFailed):
		return "command_failed"
	case errors.Is(err, store.ErrDeviceNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func deviceID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid device id %q", c.Param("id"))
	}
	return id, nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": "device not found"})
}

func internalError(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// parseClock converts "HH:MM" to a minute of day.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// formatClock converts a minute of day back to "HH:MM".
func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
