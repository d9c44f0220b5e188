package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dokzlo13/curfewd/internal/store"
)

type windowRequest struct {
	Day   int    `json:"day_of_week"`
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

type windowResponse struct {
	ID       int64  `json:"id"`
	DeviceID int64  `json:"device_id"`
	Day      int    `json:"day_of_week"`
	Start    string `json:"start_time"`
	End      string `json:"end_time"`
}

func toWindowResponse(w *store.Window) windowResponse {
	return windowResponse{
		ID:       w.ID,
		DeviceID: w.DeviceID,
		Day:      w.Day,
		Start:    formatClock(w.StartMin),
		End:      formatClock(w.EndMin),
	}
}

// ListWindows returns a device's schedule windows.
func (h *Handler) ListWindows(c echo.Context) error {
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

	out := make([]windowResponse, 0, len(windows))
	for i := range windows {
		out = append(out, toWindowResponse(&windows[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// AddWindow creates a weekly allowance window and reconciles the device,
// since the new window may change the current desired state.
func (h *Handler) AddWindow(c echo.Context) error {
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

	var req windowRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Day < 0 || req.Day > 6 {
		return badRequest(c, "day_of_week must be 0 (Monday) through 6 (Sunday)")
	}
	startMin, err := parseClock(req.Start)
	if err != nil {
		return badRequest(c, err.Error())
	}
	endMin, err := parseClock(req.End)
	if err != nil {
		return badRequest(c, err.Error())
	}

	w := &store.Window{DeviceID: id, Day: req.Day, StartMin: startMin, EndMin: endMin}
	if err := h.store.AddWindow(w); err != nil {
		return internalError(c, err)
	}

	outcome := h.engine.ReconcileDevice(c.Request().Context(), id)
	return c.JSON(http.StatusCreated, map[string]any{
		"window":    toWindowResponse(w),
		"reconcile": toOutcomeJSON(outcome),
	})
}

// DeleteWindow removes a schedule window and reconciles the device that
// owned it.
func (h *Handler) DeleteWindow(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	ownerID, err := h.store.DeleteWindow(id)
	if err != nil {
		if errors.Is(err, store.ErrWindowNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return internalError(c, err)
	}

	outcome := h.engine.ReconcileDevice(c.Request().Context(), ownerID)
	return c.JSON(http.StatusOK, map[string]any{
		"reconcile": toOutcomeJSON(outcome),
	})
}
