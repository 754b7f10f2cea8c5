package services

import (
	"context"
	"errors"
	"time"

	"orbguard-appscan/internal/domain/models"
)

var (
	// ErrDiscoveryFailed is returned when the package source cannot enumerate packages
	ErrDiscoveryFailed = errors.New("package discovery failed")

	// ErrScanInProgress is returned when a scan is requested while another is running
	ErrScanInProgress = errors.New("scan already in progress")

	// ErrAppNotFound is returned when a package has no stored analysis
	ErrAppNotFound = errors.New("app not found")
)

// PackageSource supplies installed package facts
type PackageSource interface {
	// ListPackages returns every installed package
	ListPackages(ctx context.Context) ([]models.InstalledPackageFacts, error)

	// GetPackage looks up one package by name; returns ErrAppNotFound when absent
	GetPackage(ctx context.Context, packageName string) (*models.InstalledPackageFacts, error)
}

// ExclusionStore holds the packages the user removed from analysis
type ExclusionStore interface {
	List(ctx context.Context) (map[string]struct{}, error)
	Add(ctx context.Context, packageName string) error
	Remove(ctx context.Context, packageName string) error
}

// FeedbackStore persists explicit user trust/flag records.
// Get returns nil, nil when the package has no feedback.
type FeedbackStore interface {
	Get(ctx context.Context, packageName string) (*models.UserFeedback, error)
	Save(ctx context.Context, feedback *models.UserFeedback) error
	Delete(ctx context.Context, packageName string) error
}

// AppStore persists analyzed apps.
// Get returns nil, nil when the package is unknown.
type AppStore interface {
	Get(ctx context.Context, packageName string) (*models.AnalyzedApp, error)
	Upsert(ctx context.Context, app *models.AnalyzedApp) error
	Delete(ctx context.Context, packageName string) error
	List(ctx context.Context, filter models.AppFilter) ([]*models.AnalyzedApp, error)
}

// EventPublisher fans scan and app events out to subscribers
type EventPublisher interface {
	PublishScanEvent(ctx context.Context, event *models.ScanEvent) error
}

// ScanLocker is a distributed single-flight lock shared between instances
type ScanLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// nopPublisher drops events
type nopPublisher struct{}

func (nopPublisher) PublishScanEvent(context.Context, *models.ScanEvent) error { return nil }
