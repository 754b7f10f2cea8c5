package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"orbguard-appscan/internal/config"
	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/pkg/logger"
)

const defaultScanInterval = 30 * time.Minute

// Scheduler triggers periodic background rescans through the scanner's
// single-flight guard
type Scheduler struct {
	config  config.ScanConfig
	scanner *Scanner
	logger  *logger.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	stats   SchedulerStats
}

// NewScheduler creates a new Scheduler
func NewScheduler(cfg config.ScanConfig, scanner *Scanner, log *logger.Logger) *Scheduler {
	return &Scheduler{
		config:  cfg,
		scanner: scanner,
		logger:  log.WithComponent("scheduler"),
		stopCh:  make(chan struct{}),
	}
}

// Start runs the rescan loop until the context is cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info().Msg("scheduled scans are disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	interval := s.config.Interval
	if interval <= 0 {
		interval = defaultScanInterval
	}

	s.logger.Info().
		Dur("initial_delay", s.config.InitialDelay).
		Dur("interval", interval).
		Msg("scheduler started")

	if s.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-time.After(s.config.InitialDelay):
		}
	}

	s.runScan(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.runScan(ctx)
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)
	s.logger.Info().Msg("scheduler stopped")
}

// runScan executes one scheduled scan; a scan already in flight is skipped
func (s *Scheduler) runScan(ctx context.Context) {
	start := time.Now()
	result, err := s.scanner.Scan(ctx, models.ScanTriggerScheduled)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.LastAttempt = &start
	switch {
	case errors.Is(err, ErrScanInProgress):
		s.stats.SkippedRuns++
		s.logger.Info().Msg("scan in progress, skipping scheduled run")
	case err != nil:
		s.stats.FailedRuns++
		s.stats.LastError = err.Error()
		s.logger.Error().Err(err).Msg("scheduled scan failed")
	default:
		s.stats.CompletedRuns++
		s.stats.LastError = ""
		s.stats.LastScanID = result.ID.String()
		completed := result.CompletedAt
		s.stats.LastSuccess = &completed
	}
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Running = s.running
	stats.Enabled = s.config.Enabled
	stats.Interval = s.config.Interval.String()
	return stats
}

// SchedulerStats holds scheduler statistics
type SchedulerStats struct {
	Enabled       bool       `json:"enabled"`
	Running       bool       `json:"running"`
	Interval      string     `json:"interval"`
	CompletedRuns int        `json:"completed_runs"`
	FailedRuns    int        `json:"failed_runs"`
	SkippedRuns   int        `json:"skipped_runs"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastScanID    string     `json:"last_scan_id,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}
