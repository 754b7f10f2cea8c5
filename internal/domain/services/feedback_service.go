package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/pkg/logger"
)

// FeedbackRecorder is implemented by app stores that can persist an app and
// its feedback record atomically
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, app *models.AnalyzedApp, feedback *models.UserFeedback) error
}

// FeedbackService applies explicit user actions and reconciles rescans with
// stored state. All read-modify-write cycles for one package are serialized.
type FeedbackService struct {
	apps       AppStore
	feedback   FeedbackStore
	exclusions ExclusionStore
	publisher  EventPublisher
	locks      *KeyedMutex
	mu         sync.RWMutex
	logger     *logger.Logger
	now        func() time.Time
}

// NewFeedbackService creates a new FeedbackService
func NewFeedbackService(apps AppStore, feedback FeedbackStore, exclusions ExclusionStore, log *logger.Logger) *FeedbackService {
	return &FeedbackService{
		apps:       apps,
		feedback:   feedback,
		exclusions: exclusions,
		publisher:  nopPublisher{},
		locks:      NewKeyedMutex(),
		logger:     log.WithComponent("feedback"),
		now:        time.Now,
	}
}

// SetEventPublisher sets the publisher for feedback and risk change events
func (s *FeedbackService) SetEventPublisher(publisher EventPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s.publisher = publisher
}

// Trust marks a package as trusted by the user
func (s *FeedbackService) Trust(ctx context.Context, packageName string) (*models.AnalyzedApp, error) {
	return s.record(ctx, packageName, models.FeedbackTrusted)
}

// Flag marks a package as suspicious by the user
func (s *FeedbackService) Flag(ctx context.Context, packageName string) (*models.AnalyzedApp, error) {
	return s.record(ctx, packageName, models.FeedbackFlagged)
}

func (s *FeedbackService) record(ctx context.Context, packageName string, feedbackType models.FeedbackType) (*models.AnalyzedApp, error) {
	unlock := s.locks.Lock(packageName)
	defer unlock()

	current, err := s.apps.Get(ctx, packageName)
	if err != nil {
		return nil, fmt.Errorf("failed to load app: %w", err)
	}
	if current == nil {
		return nil, ErrAppNotFound
	}

	previousTier := current.Assessment.Tier
	updated, fb := ApplyFeedback(*current, feedbackType, s.now())

	if recorder, ok := s.apps.(FeedbackRecorder); ok {
		if err := recorder.RecordFeedback(ctx, &updated, &fb); err != nil {
			return nil, fmt.Errorf("failed to record feedback: %w", err)
		}
	} else {
		if err := s.feedback.Save(ctx, &fb); err != nil {
			return nil, fmt.Errorf("failed to save feedback: %w", err)
		}
		if err := s.apps.Upsert(ctx, &updated); err != nil {
			return nil, fmt.Errorf("failed to save app: %w", err)
		}
	}

	s.logger.Info().
		Str("package", packageName).
		Str("type", string(feedbackType)).
		Int("score", updated.Assessment.Score).
		Str("tier", string(updated.Assessment.Tier)).
		Float64("trust", updated.Assessment.TrustScore).
		Msg("feedback recorded")

	s.publish(ctx, models.NewScanEvent(models.EventFeedbackRecorded, map[string]any{
		"package_name":  packageName,
		"feedback_type": feedbackType,
		"score":         updated.Assessment.Score,
		"tier":          updated.Assessment.Tier,
		"previous_tier": previousTier,
		"trust_score":   updated.Assessment.TrustScore,
	}))

	return &updated, nil
}

// ReconcileResult is the outcome of reconciling one package
type ReconcileResult struct {
	App          *models.AnalyzedApp
	PreviousTier models.RiskTier
	TierChanged  bool
}

// ReconcileAndStore merges a fresh analysis with the stored app and feedback
// for the same package and persists the result.
func (s *FeedbackService) ReconcileAndStore(ctx context.Context, fresh models.AnalyzedApp) (*ReconcileResult, error) {
	unlock := s.locks.Lock(fresh.PackageName)
	defer unlock()

	prev, err := s.apps.Get(ctx, fresh.PackageName)
	if err != nil {
		return nil, fmt.Errorf("failed to load app: %w", err)
	}
	fb, err := s.feedback.Get(ctx, fresh.PackageName)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}

	merged := Reconcile(prev, fresh, fb)
	if err := s.apps.Upsert(ctx, &merged); err != nil {
		return nil, fmt.Errorf("failed to save app: %w", err)
	}

	result := &ReconcileResult{App: &merged}
	if prev != nil {
		result.PreviousTier = prev.Assessment.Tier
		result.TierChanged = prev.Assessment.Tier != merged.Assessment.Tier
	}
	return result, nil
}

// Exclude removes a package from analysis and deletes its stored record
func (s *FeedbackService) Exclude(ctx context.Context, packageName string) error {
	unlock := s.locks.Lock(packageName)
	defer unlock()

	if err := s.exclusions.Add(ctx, packageName); err != nil {
		return fmt.Errorf("failed to add exclusion: %w", err)
	}
	if err := s.apps.Delete(ctx, packageName); err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}

	s.logger.Info().Str("package", packageName).Msg("package excluded")
	return nil
}

// Include returns a previously excluded package to analysis on the next scan
func (s *FeedbackService) Include(ctx context.Context, packageName string) error {
	unlock := s.locks.Lock(packageName)
	defer unlock()

	if err := s.exclusions.Remove(ctx, packageName); err != nil {
		return fmt.Errorf("failed to remove exclusion: %w", err)
	}
	s.logger.Info().Str("package", packageName).Msg("package included")
	return nil
}

// Exclusions returns the excluded package set
func (s *FeedbackService) Exclusions(ctx context.Context) (map[string]struct{}, error) {
	return s.exclusions.List(ctx)
}

// ImportLegacy migrates feedback stored in the old delimited format.
// It returns the number of records imported and segments skipped.
func (s *FeedbackService) ImportLegacy(ctx context.Context, raw string) (int, int, error) {
	records, skipped := ParseLegacyFeedback(raw)
	imported := 0
	for i := range records {
		fb := records[i]
		unlock := s.locks.Lock(fb.PackageName)
		err := s.feedback.Save(ctx, &fb)
		unlock()
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to import feedback for %s: %w", fb.PackageName, err)
		}
		imported++
	}

	s.logger.Info().Int("imported", imported).Int("skipped", skipped).Msg("legacy feedback imported")
	return imported, skipped, nil
}

func (s *FeedbackService) publish(ctx context.Context, event *models.ScanEvent) {
	s.mu.RLock()
	publisher := s.publisher
	s.mu.RUnlock()

	if err := publisher.PublishScanEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish event")
	}
}
