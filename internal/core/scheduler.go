package core

// scheduler.go runs background maintenance for run history.
//
// Records older than the retention window are purged on start and then on
// every tick. A failed purge is logged and retried on the next tick; it never
// stops the scheduler.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig holds configuration for the retention scheduler.
// Zero values pick the defaults.
type RetentionConfig struct {
	RetentionDays int           // Days to keep run records (default: 30)
	CheckInterval time.Duration // How often to purge (default: 24h)
}

const (
	DefaultRetentionDays = 30
	DefaultCheckInterval = 24 * time.Hour
)

// StartRetentionScheduler purges old run records immediately and then every
// CheckInterval until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	slog.Info("retention scheduler started",
		"retention_days", cfg.RetentionDays,
		"check_interval", cfg.CheckInterval.String(),
	)

	// Run immediately on startup
	s.runRetentionJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			s.runRetentionJob(ctx, cfg)
		}
	}
}

// runRetentionJob performs one purge cycle and reports how many records
// were removed.
func (s *Service) runRetentionJob(ctx context.Context, cfg RetentionConfig) int64 {
	start := time.Now()
	cutoff := start.Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)

	purged, err := s.history.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("purge run history failed", "error", err)
		return 0
	}

	slog.Info("purged run history",
		"records_purged", purged,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return purged
}
