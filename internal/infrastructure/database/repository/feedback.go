package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/infrastructure/database"
)

// FeedbackRepository persists user trust/flag records
type FeedbackRepository struct {
	db *database.PostgresDB
}

// NewFeedbackRepository creates a new feedback repository
func NewFeedbackRepository(db *database.PostgresDB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Get returns the feedback for a package, nil when none was recorded
func (r *FeedbackRepository) Get(ctx context.Context, packageName string) (*models.UserFeedback, error) {
	query := `
		SELECT package_name, feedback_type, risk_adjustment, trust_score, recorded_at
		FROM app_feedback
		WHERE package_name = $1`

	var (
		fb     models.UserFeedback
		fbType string
	)
	err := r.db.Pool().QueryRow(ctx, query, packageName).Scan(
		&fb.PackageName, &fbType, &fb.RiskAdjustment, &fb.TrustScore, &fb.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	fb.Type = models.FeedbackType(fbType)
	fb.RecordedAt = fb.RecordedAt.UTC()
	return &fb, nil
}

// Save inserts or replaces the feedback record for its package
func (r *FeedbackRepository) Save(ctx context.Context, fb *models.UserFeedback) error {
	if err := saveFeedback(ctx, r.db.Pool(), fb); err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// Delete removes the feedback record for a package
func (r *FeedbackRepository) Delete(ctx context.Context, packageName string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM app_feedback WHERE package_name = $1`, packageName)
	if err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return nil
}

func saveFeedback(ctx context.Context, q database.DBTX, fb *models.UserFeedback) error {
	query := `
		INSERT INTO app_feedback (package_name, feedback_type, risk_adjustment, trust_score, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (package_name) DO UPDATE SET
			feedback_type = EXCLUDED.feedback_type,
			risk_adjustment = EXCLUDED.risk_adjustment,
			trust_score = EXCLUDED.trust_score,
			recorded_at = EXCLUDED.recorded_at`

	_, err := q.Exec(ctx, query, fb.PackageName, string(fb.Type), fb.RiskAdjustment, fb.TrustScore, fb.RecordedAt)
	return err
}
