// Package packagesource supplies installed package facts from snapshot files
// exported from a device.
package packagesource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/pkg/logger"
)

// Snapshot is the on-disk layout of a fixture file
type Snapshot struct {
	Device   string                         `json:"device,omitempty" yaml:"device"`
	Packages []models.InstalledPackageFacts `json:"packages" yaml:"packages"`
}

// FixtureSource serves packages from a JSON or YAML snapshot. The file is
// re-read on every ListPackages call so a refreshed export is picked up by
// the next scan.
type FixtureSource struct {
	path   string
	logger *logger.Logger

	mu   sync.RWMutex
	last []models.InstalledPackageFacts
}

// NewFixtureSource creates a source reading from path
func NewFixtureSource(path string, log *logger.Logger) *FixtureSource {
	return &FixtureSource{
		path:   path,
		logger: log.WithComponent("package-source"),
	}
}

// ListPackages loads the snapshot and returns every package in file order
func (s *FixtureSource) ListPackages(ctx context.Context) ([]models.InstalledPackageFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot, err := LoadSnapshot(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.last = snapshot.Packages
	s.mu.Unlock()

	s.logger.Debug().
		Str("path", s.path).
		Str("device", snapshot.Device).
		Int("packages", len(snapshot.Packages)).
		Msg("snapshot loaded")

	return snapshot.Packages, nil
}

// GetPackage returns one package from the most recent snapshot, loading it
// first when nothing has been read yet
func (s *FixtureSource) GetPackage(ctx context.Context, packageName string) (*models.InstalledPackageFacts, error) {
	s.mu.RLock()
	packages := s.last
	s.mu.RUnlock()

	if packages == nil {
		var err error
		packages, err = s.ListPackages(ctx)
		if err != nil {
			return nil, err
		}
	}

	for i := range packages {
		if packages[i].PackageName == packageName {
			pkg := packages[i]
			return &pkg, nil
		}
	}
	return nil, services.ErrAppNotFound
}

// LoadSnapshot reads a snapshot file; the format is chosen by extension
// (.yaml/.yml for YAML, anything else JSON)
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot Snapshot
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &snapshot)
	default:
		err = json.Unmarshal(data, &snapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", filepath.Base(path), err)
	}

	return &snapshot, nil
}

// StaticSource serves a fixed package list
type StaticSource struct {
	packages []models.InstalledPackageFacts
}

// NewStaticSource creates a source over packages
func NewStaticSource(packages ...models.InstalledPackageFacts) *StaticSource {
	return &StaticSource{packages: packages}
}

// ListPackages returns a copy of the package list
func (s *StaticSource) ListPackages(ctx context.Context) ([]models.InstalledPackageFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]models.InstalledPackageFacts(nil), s.packages...), nil
}

// GetPackage looks up one package by name
func (s *StaticSource) GetPackage(_ context.Context, packageName string) (*models.InstalledPackageFacts, error) {
	for i := range s.packages {
		if s.packages[i].PackageName == packageName {
			pkg := s.packages[i]
			return &pkg, nil
		}
	}
	return nil, services.ErrAppNotFound
}
