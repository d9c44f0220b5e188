// Package reconcile provides the reconciliation loop that makes switch
// ports match their resolved desired state.
package reconcile

import (
	"context"
	"time"

	"github.com/dokzlo13/curfewd/internal/easysmart"
	"github.com/dokzlo13/curfewd/internal/ledger"
	"github.com/dokzlo13/curfewd/internal/policy"
	"github.com/dokzlo13/curfewd/internal/store"
)

// Status classifies what reconciling one device did.
type Status string

const (
	// StatusUnchanged means the confirmed hardware state already matched.
	StatusUnchanged Status = "unchanged"
	// StatusChanged means a port command was issued and confirmed.
	StatusChanged Status = "changed"
	// StatusFailed means the device could not be converged this pass.
	StatusFailed Status = "failed"
)

// Outcome reports the result of reconciling one device.
type Outcome struct {
	DeviceID int64
	Name     string
	Status   Status
	Enabled  bool
	Reason   policy.Reason
	Err      error
}

// Store supplies the managed devices and sweeps their stale overrides.
type Store interface {
	Devices() ([]store.Device, error)
	DeviceByID(id int64) (*store.Device, error)
	ExpireStale(deviceID int64, now time.Time) error
}

// Resolver yields the desired state of a device at an instant.
type Resolver interface {
	ResolveAt(deviceID int64, now time.Time) (policy.Decision, error)
}

// PortSetter issues the hardware command that flips a port.
type PortSetter interface {
	SetPortState(ctx context.Context, t easysmart.Target, port int, enabled bool) error
}

// Recorder appends port transition history.
type Recorder interface {
	Append(deviceID int64, at time.Time, event ledger.EventType, reason, detail string) error
}
