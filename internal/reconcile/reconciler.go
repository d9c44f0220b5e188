package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/curfewd/internal/clock"
	"github.com/dokzlo13/curfewd/internal/easysmart"
	"github.com/dokzlo13/curfewd/internal/ledger"
	"github.com/dokzlo13/curfewd/internal/store"
)

// Reconciler converges every managed port to its desired state on a
// fixed interval. Mutating API calls additionally reconcile single
// devices synchronously through ReconcileDevice.
type Reconciler struct {
	store    Store
	resolver Resolver
	switches PortSetter
	history  Recorder
	clk      clock.Clock
	cache    *Cache

	// Configuration
	interval time.Duration

	// Rate limiting for switch commands
	limiter *rate.Limiter

	// Per-device serialization; devices reconcile concurrently with
	// each other but never with themselves.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates a new Reconciler
func New(st Store, resolver Resolver, switches PortSetter, history Recorder, clk clock.Clock, interval time.Duration, rateLimitRPS float64) *Reconciler {
	if interval == 0 {
		interval = time.Minute
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 5.0
	}

	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rateLimitRPS), burst)

	return &Reconciler{
		store:    st,
		resolver: resolver,
		switches: switches,
		history:  history,
		clk:      clk,
		cache:    NewCache(),
		interval: interval,
		limiter:  limiter,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// Run starts the reconciliation loop. The first pass runs immediately:
// after a restart every port state is unknown and must be forced.
func (r *Reconciler) Run(ctx context.Context) error {
	log.Info().Dur("interval", r.interval).Msg("Reconciler started")

	r.ReconcileAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciler stopping")
			return nil

		case <-ticker.C:
			r.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll converges all devices concurrently and reports per-device
// outcomes in device listing order. A device that fails never blocks the
// others.
func (r *Reconciler) ReconcileAll(ctx context.Context) []Outcome {
	devices, err := r.store.Devices()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list devices")
		return nil
	}

	runID := uuid.NewString()
	outcomes := make([]Outcome, len(devices))

	var wg sync.WaitGroup
	for i := range devices {
		wg.Add(1)
		go func(i int, dev store.Device) {
			defer wg.Done()
			outcomes[i] = r.reconcileOne(ctx, runID, &dev)
		}(i, devices[i])
	}
	wg.Wait()

	var changed, failed int
	for _, o := range outcomes {
		switch o.Status {
		case StatusChanged:
			changed++
		case StatusFailed:
			failed++
		}
	}
	log.Debug().
		Str("run_id", runID).
		Int("devices", len(outcomes)).
		Int("changed", changed).
		Int("failed", failed).
		Msg("Reconcile pass finished")

	return outcomes
}

// ReconcileDevice converges a single device immediately.
func (r *Reconciler) ReconcileDevice(ctx context.Context, deviceID int64) Outcome {
	dev, err := r.store.DeviceByID(deviceID)
	if err != nil {
		return Outcome{DeviceID: deviceID, Status: StatusFailed, Err: err}
	}
	return r.reconcileOne(ctx, uuid.NewString(), dev)
}

// CachedState exposes the confirmed hardware state for status reporting.
func (r *Reconciler) CachedState(deviceID int64) (PortState, bool) {
	return r.cache.Get(deviceID)
}

// Invalidate forgets a device's confirmed state so the next pass issues
// a command no matter what. Callers use it when a device's switch
// settings change or the device is removed.
func (r *Reconciler) Invalidate(deviceID int64) {
	r.cache.Invalidate(deviceID)
}

func (r *Reconciler) reconcileOne(ctx context.Context, runID string, dev *store.Device) Outcome {
	lock := r.deviceLock(dev.ID)
	lock.Lock()
	defer lock.Unlock()

	now := r.clk.Now()

	// Sweep first so stored override flags catch up with evaluated
	// activity. Resolution stays correct even if the sweep fails,
	// because active-record loads filter by expiry themselves.
	if err := r.store.ExpireStale(dev.ID, now); err != nil {
		log.Warn().Err(err).
			Str("run_id", runID).
			Int64("device", dev.ID).
			Msg("Failed to sweep expired overrides")
	}

	decision, err := r.resolver.ResolveAt(dev.ID, now)
	if err != nil {
		log.Error().Err(err).
			Str("run_id", runID).
			Int64("device", dev.ID).
			Msg("Failed to resolve desired state")
		return Outcome{DeviceID: dev.ID, Name: dev.Name, Status: StatusFailed, Err: err}
	}

	if cached, ok := r.cache.Get(dev.ID); ok && cached.Enabled == decision.Enabled {
		return Outcome{
			DeviceID: dev.ID,
			Name:     dev.Name,
			Status:   StatusUnchanged,
			Enabled:  decision.Enabled,
			Reason:   decision.Reason,
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return Outcome{DeviceID: dev.ID, Name: dev.Name, Status: StatusFailed, Enabled: decision.Enabled, Reason: decision.Reason, Err: err}
	}

	target := easysmart.Target{Address: dev.Address, Username: dev.Username, Password: dev.Password}
	if err := r.switches.SetPortState(ctx, target, dev.Port, decision.Enabled); err != nil {
		log.Error().Err(err).
			Str("run_id", runID).
			Int64("device", dev.ID).
			Str("name", dev.Name).
			Msg("Failed to apply port state")
		r.record(dev.ID, now, ledger.EventCommandFailed, string(decision.Reason), err.Error())
		return Outcome{DeviceID: dev.ID, Name: dev.Name, Status: StatusFailed, Enabled: decision.Enabled, Reason: decision.Reason, Err: err}
	}

	// Cache only after the switch confirmed the write.
	r.cache.Set(dev.ID, decision.Enabled, now)

	event := ledger.EventPortDisabled
	if decision.Enabled {
		event = ledger.EventPortEnabled
	}
	r.record(dev.ID, now, event, string(decision.Reason), "")

	log.Info().
		Str("run_id", runID).
		Int64("device", dev.ID).
		Str("name", dev.Name).
		Bool("enabled", decision.Enabled).
		Str("reason", string(decision.Reason)).
		Msg("Port state applied")

	return Outcome{
		DeviceID: dev.ID,
		Name:     dev.Name,
		Status:   StatusChanged,
		Enabled:  decision.Enabled,
		Reason:   decision.Reason,
	}
}

func (r *Reconciler) record(deviceID int64, at time.Time, event ledger.EventType, reason, detail string) {
	if r.history == nil {
		return
	}
	if err := r.history.Append(deviceID, at, event, reason, detail); err != nil {
		log.Warn().Err(err).Int64("device", deviceID).Msg("Failed to record port event")
	}
}

func (r *Reconciler) deviceLock(deviceID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[deviceID] = l
	}
	return l
}
