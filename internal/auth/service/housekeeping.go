package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

// HousekeepingService periodically deletes expired sessions, device and
// refresh tokens, exchange codes and stale rate-limit buckets so the tables
// do not grow without bound. Every sweep only touches rows already past
// expiry when the sweep started, so it is safe next to live traffic.
type HousekeepingService struct {
	Store    store.Store
	Devices  *DeviceService
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	// SessionRetention keeps expired and revoked sessions around for a while
	// so audit queries can still see them.
	SessionRetention time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, devices *DeviceService, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    store,
		Devices:  devices,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// SweepResult counts the rows removed per table. DeviceTokens includes the
// refresh tokens deleted alongside them.
type SweepResult struct {
	Sessions      int64
	DeviceTokens  int64
	ExchangeCodes int64
	RateLimits    int64
}

// Sweep runs one cleanup pass. Each deletion is independent; a failure in
// one is logged and does not stop the others.
func (s *HousekeepingService) Sweep(ctx context.Context) SweepResult {
	start := clock(s.Now)
	var res SweepResult

	steps := []struct {
		name string
		out  *int64
		run  func() (int64, error)
	}{
		{"device_tokens", &res.DeviceTokens, func() (int64, error) {
			return s.Devices.CleanupExpired(ctx)
		}},
		{"sessions", &res.Sessions, func() (int64, error) {
			return s.Store.Sessions().DeleteExpiredSessions(ctx, start.Add(-s.SessionRetention))
		}},
		{"exchange_codes", &res.ExchangeCodes, func() (int64, error) {
			return s.Store.ExchangeCodes().DeleteExpiredExchangeCodes(ctx, start)
		}},
		{"rate_limits", &res.RateLimits, func() (int64, error) {
			return s.Store.RateLimits().DeleteStaleRateLimits(ctx, start.Add(-LongestWindow))
		}},
	}

	for _, step := range steps {
		n, err := step.run()
		if err != nil {
			s.Logger.Error("housekeeping step failed", "table", step.name, "error", err)
			continue
		}
		*step.out = n
	}

	s.Logger.Info("housekeeping cleanup completed",
		"sessions", res.Sessions,
		"device_tokens", res.DeviceTokens,
		"exchange_codes", res.ExchangeCodes,
		"rate_limits", res.RateLimits,
	)
	return res
}
