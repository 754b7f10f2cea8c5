package repository

import (
	"context"
	"fmt"

	"orbguard-appscan/internal/infrastructure/database"
)

// ExclusionRepository persists the packages excluded from analysis
type ExclusionRepository struct {
	db *database.PostgresDB
}

// NewExclusionRepository creates a new exclusion repository
func NewExclusionRepository(db *database.PostgresDB) *ExclusionRepository {
	return &ExclusionRepository{db: db}
}

// List returns the excluded package names as a set
func (r *ExclusionRepository) List(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT package_name FROM app_exclusions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list exclusions: %w", err)
	}
	defer rows.Close()

	excluded := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan exclusion: %w", err)
		}
		excluded[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exclusions: %w", err)
	}
	return excluded, nil
}

// Add excludes a package; adding twice is a no-op
func (r *ExclusionRepository) Add(ctx context.Context, packageName string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO app_exclusions (package_name) VALUES ($1)
		ON CONFLICT (package_name) DO NOTHING`, packageName)
	if err != nil {
		return fmt.Errorf("failed to add exclusion: %w", err)
	}
	return nil
}

// Remove re-includes a package
func (r *ExclusionRepository) Remove(ctx context.Context, packageName string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM app_exclusions WHERE package_name = $1`, packageName)
	if err != nil {
		return fmt.Errorf("failed to remove exclusion: %w", err)
	}
	return nil
}
