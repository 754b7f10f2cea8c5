// Package memory provides in-process implementations of the app, feedback
// and exclusion stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"orbguard-appscan/internal/domain/models"
)

// AppStore keeps analyzed apps in a map keyed by package name
type AppStore struct {
	mu   sync.RWMutex
	apps map[string]models.AnalyzedApp
}

// NewAppStore creates an empty AppStore
func NewAppStore() *AppStore {
	return &AppStore{apps: make(map[string]models.AnalyzedApp)}
}

// Get returns a copy of the stored app, nil when unknown
func (s *AppStore) Get(_ context.Context, packageName string) (*models.AnalyzedApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[packageName]
	if !ok {
		return nil, nil
	}
	return cloneApp(app), nil
}

// Upsert stores a copy of the app
func (s *AppStore) Upsert(_ context.Context, app *models.AnalyzedApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.PackageName] = *cloneApp(*app)
	return nil
}

// Delete removes the app; deleting an unknown package is not an error
func (s *AppStore) Delete(_ context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apps, packageName)
	return nil
}

// List returns stored apps matching the filter, highest risk first
func (s *AppStore) List(_ context.Context, filter models.AppFilter) ([]*models.AnalyzedApp, error) {
	s.mu.RLock()
	matched := make([]models.AnalyzedApp, 0, len(s.apps))
	for _, app := range s.apps {
		if filter.Matches(&app) {
			matched = append(matched, app)
		}
	}
	s.mu.RUnlock()

	models.SortAppsByRisk(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*models.AnalyzedApp, len(matched))
	for i := range matched {
		out[i] = cloneApp(matched[i])
	}
	return out, nil
}

// Len returns the number of stored apps
func (s *AppStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apps)
}

// cloneApp copies the slices and feedback pointer so callers cannot mutate
// stored state
func cloneApp(app models.AnalyzedApp) *models.AnalyzedApp {
	app.RequestedPermissions = append([]string(nil), app.RequestedPermissions...)
	app.SuspiciousPatterns = append([]string(nil), app.SuspiciousPatterns...)
	app.Assessment.RiskFactors = append([]string(nil), app.Assessment.RiskFactors...)
	if app.Feedback != nil {
		fb := *app.Feedback
		app.Feedback = &fb
	}
	return &app
}

// FeedbackStore keeps user feedback in a map keyed by package name
type FeedbackStore struct {
	mu       sync.RWMutex
	feedback map[string]models.UserFeedback
}

// NewFeedbackStore creates an empty FeedbackStore
func NewFeedbackStore() *FeedbackStore {
	return &FeedbackStore{feedback: make(map[string]models.UserFeedback)}
}

// Get returns the feedback for a package, nil when none was recorded
func (s *FeedbackStore) Get(_ context.Context, packageName string) (*models.UserFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fb, ok := s.feedback[packageName]
	if !ok {
		return nil, nil
	}
	return &fb, nil
}

// Save stores the feedback, replacing any earlier record
func (s *FeedbackStore) Save(_ context.Context, feedback *models.UserFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[feedback.PackageName] = *feedback
	return nil
}

// Delete removes the feedback for a package
func (s *FeedbackStore) Delete(_ context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.feedback, packageName)
	return nil
}

// ExclusionStore keeps the excluded package set
type ExclusionStore struct {
	mu       sync.RWMutex
	excluded map[string]struct{}
}

// NewExclusionStore creates an ExclusionStore seeded with packages
func NewExclusionStore(packages ...string) *ExclusionStore {
	s := &ExclusionStore{excluded: make(map[string]struct{}, len(packages))}
	for _, p := range packages {
		s.excluded[p] = struct{}{}
	}
	return s
}

// List returns a copy of the excluded set
func (s *ExclusionStore) List(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{}, len(s.excluded))
	for p := range s.excluded {
		out[p] = struct{}{}
	}
	return out, nil
}

// Add excludes a package
func (s *ExclusionStore) Add(_ context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excluded[packageName] = struct{}{}
	return nil
}

// Remove includes a package again
func (s *ExclusionStore) Remove(_ context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.excluded, packageName)
	return nil
}

// Sorted returns the excluded packages in lexical order
func (s *ExclusionStore) Sorted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.excluded))
	for p := range s.excluded {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
