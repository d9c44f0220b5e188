package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/curfewd/internal/api"
	"github.com/dokzlo13/curfewd/internal/clock"
	"github.com/dokzlo13/curfewd/internal/config"
	"github.com/dokzlo13/curfewd/internal/db"
	"github.com/dokzlo13/curfewd/internal/easysmart"
	"github.com/dokzlo13/curfewd/internal/ledger"
	"github.com/dokzlo13/curfewd/internal/policy"
	"github.com/dokzlo13/curfewd/internal/reconcile"
	"github.com/dokzlo13/curfewd/internal/store"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Store   *store.Store
	History *ledger.Ledger
	Clock   *clock.Zone

	// Switch control
	Switches *easysmart.Client

	// Enforcement
	Resolver *policy.Resolver
	Engine   *reconcile.Reconciler

	// HTTP surface
	API *api.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	log.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	// Initialize stores
	s.Store = store.New(database.DB)
	s.History = ledger.New(database.DB)

	// Resolve the household timezone once; everything downstream asks the
	// zone for the current time instead of calling time.Now directly.
	s.Clock = clock.NewZone(cfg.Timezone)

	// Seed devices from config on first run
	seeded, err := s.Store.SeedDevices(seedDevices(cfg.Devices))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to seed devices: %w", err)
	}
	if seeded > 0 {
		log.Info().Int("count", seeded).Msg("Seeded devices from config")
	}

	// Initialize switch client
	s.Switches = easysmart.NewClient(cfg.Switch.Timeout.Duration())

	// Initialize policy resolver and reconciliation engine
	s.Resolver = policy.NewResolver(s.Store, s.Clock)
	s.Engine = reconcile.New(s.Store, s.Resolver, s.Switches, s.History, s.Clock,
		cfg.Reconciler.Interval.Duration(), cfg.Reconciler.RateLimitRPS)

	// Initialize HTTP API
	handler := api.NewHandler(s.Store, s.Resolver, s.Engine, s.History, s.Clock)
	s.API = api.NewServer(cfg.Listen.Host, cfg.Listen.Port, handler)

	return s, nil
}

// seedDevices converts configured devices into store records.
func seedDevices(configured []config.DeviceConfig) []store.Device {
	seeds := make([]store.Device, 0, len(configured))
	for _, d := range configured {
		seeds = append(seeds, store.Device{
			Name:     d.Name,
			Address:  d.Address,
			Username: d.Username,
			Password: d.Password,
			Port:     d.Port,
		})
	}
	return seeds
}

// Start starts all background services.
// The onFatalError callback is called when a service fails in a way the
// application cannot recover from (e.g., the API listener dies).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	go func() {
		if err := s.Engine.Run(ctx); err != nil {
			onFatalError(fmt.Errorf("reconciler stopped: %w", err))
		}
	}()

	go func() {
		if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(fmt.Errorf("api server failed: %w", err))
		}
	}()

	go s.runHistoryCleanup(ctx)

	return nil
}

// runHistoryCleanup periodically removes port events older than the retention period.
func (s *Services) runHistoryCleanup(ctx context.Context) {
	interval := s.cfg.History.CleanupInterval.Duration()
	retention := time.Duration(s.cfg.History.RetentionDays) * 24 * time.Hour

	log.Info().
		Dur("interval", interval).
		Int("retention_days", s.cfg.History.RetentionDays).
		Msg("History cleanup started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.History.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("History cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Removed old port events")
			}
		}
	}
}

// Stop gracefully stops all services. The reconciler and API server
// stop through context cancellation.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Switches != nil {
		s.Switches.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
