package services

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"orbguard-appscan/internal/config"
	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/pkg/logger"
)

const (
	// ScanLockKey is the distributed lock held for the duration of a scan
	ScanLockKey = "scan:lock"

	// ScanFailedMessage is the user-facing message for a failed scan
	ScanFailedMessage = "scan failed, try again"

	defaultScanWorkers = 4
	defaultLockTTL     = 10 * time.Minute
)

// Scanner runs full scan passes: discovery, parallel analysis, reconciliation
// with stored state and result aggregation. At most one scan runs at a time.
type Scanner struct {
	config     config.ScanConfig
	source     PackageSource
	exclusions ExclusionStore
	discovery  *Discovery
	analyzer   *AppAnalyzer
	feedback   *FeedbackService
	locker     ScanLocker
	publisher  EventPublisher
	logger     *logger.Logger

	mu         sync.RWMutex
	isRunning  bool
	lastRun    time.Time
	lastResult *models.ScanResult
	totalScans int64
}

// NewScanner creates a new Scanner
func NewScanner(
	cfg config.ScanConfig,
	source PackageSource,
	exclusions ExclusionStore,
	analyzer *AppAnalyzer,
	feedback *FeedbackService,
	log *logger.Logger,
) *Scanner {
	return &Scanner{
		config:     cfg,
		source:     source,
		exclusions: exclusions,
		discovery:  NewDiscovery(cfg.MaxApps),
		analyzer:   analyzer,
		feedback:   feedback,
		publisher:  nopPublisher{},
		logger:     log.WithComponent("scanner"),
	}
}

// SetLocker enables the distributed scan lock
func (s *Scanner) SetLocker(locker ScanLocker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locker = locker
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *Scanner) SetEventPublisher(publisher EventPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s.publisher = publisher
	s.logger.Info().Msg("event publisher configured")
}

// Scan runs one full scan pass. It returns ErrScanInProgress when another
// scan holds the guard and an error wrapping ErrDiscoveryFailed when the
// package source cannot enumerate packages; in that case the returned result
// is marked failed and carries no apps.
func (s *Scanner) Scan(ctx context.Context, trigger models.ScanTrigger) (*models.ScanResult, error) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		s.logger.Warn().Str("trigger", string(trigger)).Msg("scan already running, dropping request")
		return nil, ErrScanInProgress
	}
	s.isRunning = true
	locker := s.locker
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.lastRun = time.Now()
		s.mu.Unlock()
	}()

	if locker != nil {
		ttl := s.config.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		acquired, err := locker.AcquireLock(ctx, ScanLockKey, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire scan lock: %w", err)
		}
		if !acquired {
			s.logger.Warn().Str("trigger", string(trigger)).Msg("scan lock held elsewhere, dropping request")
			return nil, ErrScanInProgress
		}
		defer func() {
			if err := locker.ReleaseLock(context.WithoutCancel(ctx), ScanLockKey); err != nil {
				s.logger.Warn().Err(err).Msg("failed to release scan lock")
			}
		}()
	}

	result := &models.ScanResult{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    models.ScanStatusRunning,
		StartedAt: time.Now().UTC(),
		Apps:      []models.AnalyzedApp{},
		Counts:    models.ScanCounts{Dropped: map[models.DropReason]int{}},
	}
	log := s.logger.WithScanID(result.ID.String())

	log.Info().Str("trigger", string(trigger)).Msg("scan started")
	s.publish(ctx, models.NewScanEvent(models.EventScanStarted, map[string]any{
		"trigger": trigger,
	}).WithScan(result.ID))

	packages, err := s.source.ListPackages(ctx)
	if err != nil {
		return s.fail(ctx, result, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err))
	}
	excluded, err := s.exclusions.List(ctx)
	if err != nil {
		return s.fail(ctx, result, fmt.Errorf("%w: failed to load exclusions: %w", ErrDiscoveryFailed, err))
	}

	discovered := s.discovery.DiscoverCandidates(packages, excluded)
	result.Counts.Total = discovered.Total
	result.Counts.Candidates = len(discovered.Candidates)
	result.Counts.Failed = discovered.Failed
	result.Counts.Truncated = discovered.Truncated
	result.Counts.Dropped = discovered.Dropped

	log.Info().
		Int("total", discovered.Total).
		Int("candidates", len(discovered.Candidates)).
		Int("failed", discovered.Failed).
		Int("truncated", discovered.Truncated).
		Msg("discovery completed")

	analyzed, skipped := s.analyzeAll(ctx, log, discovered.Candidates)
	result.Apps = analyzed
	result.Counts.Analyzed = len(analyzed)
	result.Counts.Skipped = skipped
	for i := range analyzed {
		if analyzed[i].Assessment.Incomplete {
			result.Counts.Incomplete++
		}
	}

	models.SortAppsByRisk(result.Apps)

	result.Status = models.ScanStatusCompleted
	result.CompletedAt = time.Now().UTC()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	s.finish(result)

	log.Info().
		Int("analyzed", result.Counts.Analyzed).
		Int("incomplete", result.Counts.Incomplete).
		Int("skipped", result.Counts.Skipped).
		Dur("duration", result.Duration).
		Msg("scan completed")

	s.publish(ctx, models.NewScanEvent(models.EventScanCompleted, map[string]any{
		"counts":      result.Counts,
		"tier_counts": result.TierCounts(),
		"duration_ms": result.Duration.Milliseconds(),
	}).WithScan(result.ID))

	return result, nil
}

// scanOutcome is one worker result
type scanOutcome struct {
	app         models.AnalyzedApp
	previous    models.RiskTier
	tierChanged bool
	skipped     bool
}

// analyzeAll fans candidates out to the worker pool. Candidates not started
// before the watchdog deadline are reported as skipped.
func (s *Scanner) analyzeAll(ctx context.Context, log *logger.Logger, candidates []models.InstalledPackageFacts) ([]models.AnalyzedApp, int) {
	if len(candidates) == 0 {
		return []models.AnalyzedApp{}, 0
	}

	scanCtx := ctx
	if s.config.MaxDuration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.config.MaxDuration)
		defer cancel()
	}

	workerCount := s.config.WorkerPoolSize
	if workerCount <= 0 {
		workerCount = defaultScanWorkers
	}
	workerCount = min(workerCount, len(candidates))

	jobs := make(chan models.InstalledPackageFacts, len(candidates))
	results := make(chan scanOutcome, len(candidates))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0
			for facts := range jobs {
				if scanCtx.Err() != nil {
					results <- scanOutcome{skipped: true}
					continue
				}
				results <- s.processApp(ctx, log, facts)
				processed++
				if s.config.YieldEvery > 0 && processed%s.config.YieldEvery == 0 {
					runtime.Gosched()
				}
			}
		}(i)
	}

	for _, facts := range candidates {
		jobs <- facts
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	apps := make([]models.AnalyzedApp, 0, len(candidates))
	skipped := 0
	for outcome := range results {
		if outcome.skipped {
			skipped++
			continue
		}
		apps = append(apps, outcome.app)
		if outcome.tierChanged {
			s.publish(ctx, models.NewScanEvent(models.EventAppRiskChanged, map[string]any{
				"package_name":  outcome.app.PackageName,
				"previous_tier": outcome.previous,
				"tier":          outcome.app.Assessment.Tier,
				"score":         outcome.app.Assessment.Score,
			}))
		}
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Dur("max_duration", s.config.MaxDuration).Msg("scan watchdog expired")
	}

	return apps, skipped
}

// processApp analyzes one package and reconciles it with stored state. A
// storage failure keeps the fresh analysis in the result.
func (s *Scanner) processApp(ctx context.Context, log *logger.Logger, facts models.InstalledPackageFacts) scanOutcome {
	fresh := s.analyzer.Analyze(facts)
	if s.feedback == nil {
		return scanOutcome{app: fresh}
	}

	reconciled, err := s.feedback.ReconcileAndStore(ctx, fresh)
	if err != nil {
		log.Error().Err(err).Str("package", facts.PackageName).Msg("failed to reconcile app")
		return scanOutcome{app: fresh}
	}

	return scanOutcome{
		app:         *reconciled.App,
		previous:    reconciled.PreviousTier,
		tierChanged: reconciled.TierChanged,
	}
}

func (s *Scanner) fail(ctx context.Context, result *models.ScanResult, err error) (*models.ScanResult, error) {
	result.Status = models.ScanStatusFailed
	result.Error = ScanFailedMessage
	result.CompletedAt = time.Now().UTC()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	s.finish(result)

	s.logger.Error().Err(err).Str("scan_id", result.ID.String()).Msg("scan failed")
	s.publish(ctx, models.NewScanEvent(models.EventScanFailed, map[string]any{
		"error": ScanFailedMessage,
	}).WithScan(result.ID))

	return result, err
}

func (s *Scanner) finish(result *models.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = result
	s.totalScans++
}

func (s *Scanner) publish(ctx context.Context, event *models.ScanEvent) {
	s.mu.RLock()
	publisher := s.publisher
	s.mu.RUnlock()

	if err := publisher.PublishScanEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish event")
	}
}

// LastResult returns the most recent scan result, nil before the first scan
func (s *Scanner) LastResult() *models.ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// IsRunning reports whether a scan is in progress in this process
func (s *Scanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Stats returns scanner statistics
func (s *Scanner) Stats() ScannerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ScannerStats{
		Running:    s.isRunning,
		TotalScans: s.totalScans,
	}
	if !s.lastRun.IsZero() {
		lastRun := s.lastRun
		stats.LastRun = &lastRun
	}
	if s.lastResult != nil {
		stats.LastScanID = s.lastResult.ID.String()
		stats.LastStatus = s.lastResult.Status
	}
	return stats
}

// ScannerStats holds scanner statistics
type ScannerStats struct {
	Running    bool              `json:"running"`
	TotalScans int64             `json:"total_scans"`
	LastRun    *time.Time        `json:"last_run,omitempty"`
	LastScanID string            `json:"last_scan_id,omitempty"`
	LastStatus models.ScanStatus `json:"last_status,omitempty"`
}
