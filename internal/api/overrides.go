package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dokzlo13/curfewd/internal/policy"
	"github.com/dokzlo13/curfewd/internal/store"
)

type accessRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

// GrantAccess opens temporary access, stacking on top of any grant
// already in force, and converges the port before answering.
func (h *Handler) GrantAccess(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := h.store.DeviceByID(id); err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return notFound(c)
		}
		return internalError(c, err)
	}

	var req accessRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.DurationMinutes < 1 {
		return badRequest(c, "duration_minutes must be at least 1")
	}

	grant, extended, err := h.store.GrantAccess(id, time.Duration(req.DurationMinutes)*time.Minute, h.clk.Now())
	if err != nil {
		return internalError(c, err)
	}

	outcome := h.engine.ReconcileDevice(c.Request().Context(), id)
	return c.JSON(http.StatusOK, map[string]any{
		"granted_at": grant.GrantedAt,
		"expires_at": grant.ExpiresAt,
		"extended":   extended,
		"reconcile":  toOutcomeJSON(outcome),
	})
}

// RevokeAccess ends temporary access early.
func (h *Handler) RevokeAccess(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := h.store.DeviceByID(id); err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return notFound(c)
		}
		return internalError(c, err)
	}

	revoked, err := h.store.RevokeAccess(id)
	if err != nil {
		return internalError(c, err)
	}

	outcome := h.engine.ReconcileDevice(c.Request().Context(), id)
	return c.JSON(http.StatusOK, map[string]any{
		"revoked":   revoked,
		"reconcile": toOutcomeJSON(outcome),
	})
}

// ActivatePunishment forces the port off until the next scheduled
// allowance begins. A device with no windows has no such boundary, so
// activation is refused and nothing is persisted.
func (h *Handler) ActivatePunishment(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := h.store.DeviceByID(id); err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return notFound(c)
		}
		return internalError(c, err)
	}

	windows, err := h.store.DeviceWindows(id)
	if err != nil {
		return internalError(c, err)
	}

	now := h.clk.Now()
	until, ok := policy.NextStart(windows, now)
	if !ok {
		return c.JSON(http.StatusPreconditionFailed, map[string]string{
			"error": "device has no schedule windows, so the punishment would never end",
		})
	}

	punishment, err := h.store.ActivatePunishment(id, now, until)
	if err != nil {
		return internalError(c, err)
	}

	outcome := h.engine.ReconcileDevice(c.Request().Context(), id)
	return c.JSON(http.StatusOK, map[string]any{
		"activated_at": punishment.ActivatedAt,
		"expires_at":   punishment.ExpiresAt,
		"reconcile":    toOutcomeJSON(outcome),
	})
}

// CancelPunishment lifts a punishment early.
func (h *Handler) CancelPunishment(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := h.store.DeviceByID(id); err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return notFound(c)
		}
		return internalError(c, err)
	}

	cancelled, err := h.store.CancelPunishment(id)
	if err != nil {
		return internalError(c, err)
	}

	outcome := h.engine.ReconcileDevice(c.Request().Context(), id)
	return c.JSON(http.StatusOK, map[string]any{
		"cancelled": cancelled,
		"reconcile": toOutcomeJSON(outcome),
	})
}
