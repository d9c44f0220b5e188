package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dokzlo13/curfewd/internal/store"
)

type deviceRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	Port     int    `json:"port"`
}

func (r *deviceRequest) validate() string {
	switch {
	case r.Name == "":
		return "name is required"
	case r.Address == "":
		return "address is required"
	case r.Port < 1:
		return "port must be a positive port number"
	default:
		return ""
	}
}

// deviceResponse never echoes credentials back to clients.
type deviceResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func toDeviceResponse(d *store.Device) deviceResponse {
	return deviceResponse{ID: d.ID, Name: d.Name, Address: d.Address, Port: d.Port}
}

// ListDevices returns all managed devices.
func (h *Handler) ListDevices(c echo.Context) error {
	devices, err := h.store.Devices()
	if err != nil {
		return internalError(c, err)
	}

	out := make([]deviceResponse, 0, len(devices))
	for i := range devices {
		out = append(out, toDeviceResponse(&devices[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// CreateDevice registers a new managed device and converges its port
// before answering.
func (h *Handler) CreateDevice(c echo.Context) error {
	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	dev := &store.Device{
		Name:     req.Name,
		Address:  req.Address,
		Username: req.Username,
		Password: req.Password,
		Port:     req.Port,
	}
	if err := h.store.CreateDevice(dev); err != nil {
		return internalError(c, err)
	}

	outcome := h.engine.ReconcileDevice(c.Request().Context(), dev.ID)
	return c.JSON(http.StatusCreated, map[string]any{
		"device":    toDeviceResponse(dev),
		"reconcile": toOutcomeJSON(outcome),
	})
}

// UpdateDevice rewrites a device's connection settings. The confirmed
// state is dropped first: the new address or port may point at different
// hardware, so the next command must not be skipped.
func (h *Handler) UpdateDevice(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req deviceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	dev := &store.Device{
		ID:       id,
		Name:     req.Name,
		Address:  req.Address,
		Username: req.Username,
		Password: req.Password,
		Port:     req.Port,
	}
	if err := h.store.UpdateDevice(dev); err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return notFound(c)
		}
		return internalError(c, err)
	}

	h.engine.Invalidate(id)
	outcome := h.engine.ReconcileDevice(c.Request().Context(), id)
	return c.JSON(http.StatusOK, map[string]any{
		"device":    toDeviceResponse(dev),
		"reconcile": toOutcomeJSON(outcome),
	})
}

// DeleteDevice unmanages a device. Its port is left in whatever state it
// last had; only future control stops.
func (h *Handler) DeleteDevice(c echo.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.store.DeleteDevice(id); err != nil {
		switch {
		case errors.Is(err, store.ErrDeviceNotFound):
			return notFound(c)
		case errors.Is(err, store.ErrLastDevice):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			return internalError(c, err)
		}
	}

	h.engine.Invalidate(id)
	return c.NoContent(http.StatusNoContent)
}
