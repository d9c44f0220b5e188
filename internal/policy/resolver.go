package policy

import (
	"time"

	"github.com/dokzlo13/curfewd/internal/clock"
	"github.com/dokzlo13/curfewd/internal/store"
)

// Source supplies the per-device records a resolution evaluates. Loaders
// filter by activity themselves, so stale rows that have not been swept
// yet never reach the rules.
type Source interface {
	DeviceWindows(deviceID int64) ([]store.Window, error)
	ActiveGrant(deviceID int64, now time.Time) (*store.Grant, error)
	ActivePunishment(deviceID int64, now time.Time) (*store.Punishment, error)
}

// Resolver loads a device's records and decides its desired port state.
type Resolver struct {
	src Source
	clk clock.Clock
}

func NewResolver(src Source, clk clock.Clock) *Resolver {
	return &Resolver{src: src, clk: clk}
}

// Resolve decides the device's desired state at the current instant.
func (r *Resolver) Resolve(deviceID int64) (Decision, error) {
	return r.ResolveAt(deviceID, r.clk.Now())
}

// ResolveAt decides the device's desired state at a fixed instant. The
// only failure mode is record loading; resolution itself cannot fail.
func (r *Resolver) ResolveAt(deviceID int64, now time.Time) (Decision, error) {
	snap, err := r.Load(deviceID, now)
	if err != nil {
		return Decision{}, err
	}
	return Decide(snap, now), nil
}

// Load assembles the snapshot the rules evaluate.
func (r *Resolver) Load(deviceID int64, now time.Time) (Snapshot, error) {
	punishment, err := r.src.ActivePunishment(deviceID, now)
	if err != nil {
		return Snapshot{}, err
	}
	grant, err := r.src.ActiveGrant(deviceID, now)
	if err != nil {
		return Snapshot{}, err
	}
	windows, err := r.src.DeviceWindows(deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Punishment: punishment, Grant: grant, Windows: windows}, nil
}
