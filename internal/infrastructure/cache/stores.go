package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"orbguard-appscan/internal/domain/models"
)

// AppStore keeps analyzed apps as JSON values in a single hash
type AppStore struct {
	cache *RedisCache
}

// NewAppStore creates a Redis-backed app store
func NewAppStore(c *RedisCache) *AppStore {
	return &AppStore{cache: c}
}

// Get returns the stored app, nil when unknown
func (s *AppStore) Get(ctx context.Context, packageName string) (*models.AnalyzedApp, error) {
	raw, err := s.cache.client.HGet(ctx, s.cache.key(KeyApps), packageName).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get app: %w", err)
	}

	var app models.AnalyzedApp
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, fmt.Errorf("failed to decode app %s: %w", packageName, err)
	}
	return &app, nil
}

// Upsert stores the app
func (s *AppStore) Upsert(ctx context.Context, app *models.AnalyzedApp) error {
	data, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to marshal app: %w", err)
	}
	if err := s.cache.client.HSet(ctx, s.cache.key(KeyApps), app.PackageName, data).Err(); err != nil {
		return fmt.Errorf("failed to upsert app: %w", err)
	}
	return nil
}

// Delete removes the app
func (s *AppStore) Delete(ctx context.Context, packageName string) error {
	if err := s.cache.client.HDel(ctx, s.cache.key(KeyApps), packageName).Err(); err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}
	return nil
}

// List returns stored apps matching the filter, highest risk first.
// Undecodable entries are logged and skipped.
func (s *AppStore) List(ctx context.Context, filter models.AppFilter) ([]*models.AnalyzedApp, error) {
	all, err := s.cache.client.HGetAll(ctx, s.cache.key(KeyApps)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}

	matched := make([]models.AnalyzedApp, 0, len(all))
	for name, raw := range all {
		var app models.AnalyzedApp
		if err := json.Unmarshal([]byte(raw), &app); err != nil {
			s.cache.logger.Warn().Err(err).Str("package", name).Msg("skipping malformed app entry")
			continue
		}
		if filter.Matches(&app) {
			matched = append(matched, app)
		}
	}

	models.SortAppsByRisk(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*models.AnalyzedApp, len(matched))
	for i := range matched {
		out[i] = &matched[i]
	}
	return out, nil
}

// RecordFeedback writes the app and its feedback record in one MULTI/EXEC
func (s *AppStore) RecordFeedback(ctx context.Context, app *models.AnalyzedApp, fb *models.UserFeedback) error {
	appData, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("failed to marshal app: %w", err)
	}
	fbData, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	_, err = s.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.cache.key(KeyApps), app.PackageName, appData)
		pipe.HSet(ctx, s.cache.key(KeyFeedback), fb.PackageName, fbData)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

// FeedbackStore keeps feedback records as JSON values in a single hash
type FeedbackStore struct {
	cache *RedisCache
}

// NewFeedbackStore creates a Redis-backed feedback store
func NewFeedbackStore(c *RedisCache) *FeedbackStore {
	return &FeedbackStore{cache: c}
}

// Get returns the feedback for a package. A malformed record is treated as
// absent so a corrupt entry never blocks a rescan.
func (s *FeedbackStore) Get(ctx context.Context, packageName string) (*models.UserFeedback, error) {
	raw, err := s.cache.client.HGet(ctx, s.cache.key(KeyFeedback), packageName).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}

	var fb models.UserFeedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		s.cache.logger.Warn().Err(err).Str("package", packageName).Msg("ignoring malformed feedback entry")
		return nil, nil
	}
	if _, ok := models.ParseFeedbackType(string(fb.Type)); !ok {
		s.cache.logger.Warn().Str("package", packageName).Str("type", string(fb.Type)).Msg("ignoring feedback with unknown type")
		return nil, nil
	}
	return &fb, nil
}

// Save stores the feedback record
func (s *FeedbackStore) Save(ctx context.Context, fb *models.UserFeedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	if err := s.cache.client.HSet(ctx, s.cache.key(KeyFeedback), fb.PackageName, data).Err(); err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// Delete removes the feedback record
func (s *FeedbackStore) Delete(ctx context.Context, packageName string) error {
	if err := s.cache.client.HDel(ctx, s.cache.key(KeyFeedback), packageName).Err(); err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return nil
}

// ExclusionStore keeps excluded package names in a set
type ExclusionStore struct {
	cache *RedisCache
}

// NewExclusionStore creates a Redis-backed exclusion store
func NewExclusionStore(c *RedisCache) *ExclusionStore {
	return &ExclusionStore{cache: c}
}

// List returns the excluded package names
func (s *ExclusionStore) List(ctx context.Context) (map[string]struct{}, error) {
	members, err := s.cache.client.SMembers(ctx, s.cache.key(KeyExclusions)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list exclusions: %w", err)
	}
	out := make(map[string]struct{}, len(members))
	for _, m := range members {
		out[m] = struct{}{}
	}
	return out, nil
}

// Add excludes a package
func (s *ExclusionStore) Add(ctx context.Context, packageName string) error {
	if err := s.cache.client.SAdd(ctx, s.cache.key(KeyExclusions), packageName).Err(); err != nil {
		return fmt.Errorf("failed to add exclusion: %w", err)
	}
	return nil
}

// Remove re-includes a package
func (s *ExclusionStore) Remove(ctx context.Context, packageName string) error {
	if err := s.cache.client.SRem(ctx, s.cache.key(KeyExclusions), packageName).Err(); err != nil {
		return fmt.Errorf("failed to remove exclusion: %w", err)
	}
	return nil
}
