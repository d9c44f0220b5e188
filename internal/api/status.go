package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dokzlo13/curfewd/internal/policy"
	"github.com/dokzlo13/curfewd/internal/store"
)

type portStateJSON struct {
	Enabled  bool      `json:"enabled"`
	SyncedAt time.Time `json:"synced_at"`
}

type grantJSON struct {
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type punishmentJSON struct {
	ActivatedAt time.Time `json:"activated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type statusResponse struct {
	DeviceID int64  `json:"device_id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Reason   string `json:"reason"`
	// Port is the last hardware state this process confirmed; null
	// until the first successful command after startup.
	Port            *portStateJSON  `json:"port"`
	TemporaryAccess *grantJSON      `json:"temporary_access"`
	Punishment      *punishmentJSON `json:"punishment"`
}

// DeviceStatus reports the desired state the resolver computes right now
// together with the overrides producing it and the confirmed port state.
func (h *Handler) DeviceStatus(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	dev, err := h.store.DeviceByID(id)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return notFound(c)
		}
		return internalError(c, err)
	}

	now := h.clk.Now()
	snap, err := h.resolver.Load(id, now)
	if err != nil {
		return internalError(c, err)
	}
	decision := policy.Decide(snap, now)

	resp := statusResponse{
		DeviceID: dev.ID,
		Name:     dev.Name,
		Enabled:  decision.Enabled,
		Reason:   string(decision.Reason),
	}
	if state, ok := h.engine.CachedState(id); ok {
		resp.Port = &portStateJSON{Enabled: state.Enabled, SyncedAt: state.SyncedAt}
	}
	if snap.Grant.ActiveAt(now) {
		resp.TemporaryAccess = &grantJSON{GrantedAt: snap.Grant.GrantedAt, ExpiresAt: snap.Grant.ExpiresAt}
	}
	if snap.Punishment.ActiveAt(now) {
		resp.Punishment = &punishmentJSON{ActivatedAt: snap.Punishment.ActivatedAt, ExpiresAt: snap.Punishment.ExpiresAt}
	}

	return c.JSON(http.StatusOK, resp)
}

type eventJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
}

// DeviceEvents returns a device's newest port transitions.
func (h *Handler) DeviceEvents(c echo.Context) error {
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

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	entries, err := h.history.RecentByDevice(id, limit)
	if err != nil {
		return internalError(c, err)
	}

	out := make([]eventJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, eventJSON{
			Timestamp: e.Timestamp,
			Event:     string(e.Event),
			Reason:    e.Reason,
			Detail:    e.Detail,
		})
	}
	return c.JSON(http.StatusOK, out)
}
