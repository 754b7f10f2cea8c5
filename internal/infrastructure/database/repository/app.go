package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/infrastructure/database"
)

const appColumns = `
	a.package_name, a.display_name, a.category, a.permissions,
	a.is_system_app, a.is_enabled, a.has_launcher_activity,
	a.install_time, a.last_update_time, a.target_sdk, a.min_sdk,
	a.version_name, a.version_code, a.approx_size_bytes, a.signature_hash,
	a.query_status, a.query_error,
	a.score, a.tier, a.risk_factors, a.trust_score, a.incomplete,
	a.suspicious_patterns, a.analyzed_at,
	a.feedback_type, a.feedback_adjustment, a.feedback_trust, a.feedback_recorded_at`

// AppRepository persists analyzed apps in PostgreSQL
type AppRepository struct {
	db *database.PostgresDB
}

// NewAppRepository creates a new app repository
func NewAppRepository(db *database.PostgresDB) *AppRepository {
	return &AppRepository{db: db}
}

// Get returns the stored app with the feedback its score reflects, nil when unknown
func (r *AppRepository) Get(ctx context.Context, packageName string) (*models.AnalyzedApp, error) {
	query := `SELECT ` + appColumns + `
		FROM analyzed_apps a
		WHERE a.package_name = $1`

	app, err := scanApp(r.db.Pool().QueryRow(ctx, query, packageName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return app, nil
}

// Upsert inserts or replaces the app row
func (r *AppRepository) Upsert(ctx context.Context, app *models.AnalyzedApp) error {
	if err := upsertApp(ctx, r.db.Pool(), app); err != nil {
		return fmt.Errorf("failed to upsert app: %w", err)
	}
	return nil
}

// RecordFeedback writes the adjusted app and its feedback record in one transaction
func (r *AppRepository) RecordFeedback(ctx context.Context, app *models.AnalyzedApp, fb *models.UserFeedback) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := upsertApp(ctx, tx, app); err != nil {
			return fmt.Errorf("failed to upsert app: %w", err)
		}
		if err := saveFeedback(ctx, tx, fb); err != nil {
			return fmt.Errorf("failed to save feedback: %w", err)
		}
		return nil
	})
}

// Delete removes the app row; feedback is kept so a reinstall restores it
func (r *AppRepository) Delete(ctx context.Context, packageName string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM analyzed_apps WHERE package_name = $1`, packageName)
	if err != nil {
		return fmt.Errorf("failed to delete app: %w", err)
	}
	return nil
}

// List returns stored apps matching the filter, highest risk first
func (r *AppRepository) List(ctx context.Context, filter models.AppFilter) ([]*models.AnalyzedApp, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var apps []*models.AnalyzedApp
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apps: %w", err)
	}
	return apps, nil
}

// CountByTier returns the number of stored apps per tier
func (r *AppRepository) CountByTier(ctx context.Context) (map[models.RiskTier]int, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT tier, COUNT(*) FROM analyzed_apps GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to count apps: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RiskTier]int)
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		counts[models.RiskTier(tier)] = n
	}
	return counts, rows.Err()
}

func buildListQuery(filter models.AppFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if filter.Tier != "" {
		args = append(args, string(filter.Tier))
		conditions = append(conditions, fmt.Sprintf("a.tier = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		conditions = append(conditions, fmt.Sprintf("a.category = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + appColumns + `
		FROM analyzed_apps a`)
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	b.WriteString(" ORDER BY a.score DESC, a.package_name ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func upsertApp(ctx context.Context, q database.DBTX, app *models.AnalyzedApp) error {
	query := `
		INSERT INTO analyzed_apps (
			package_name, display_name, category, permissions,
			is_system_app, is_enabled, has_launcher_activity,
			install_time, last_update_time, target_sdk, min_sdk,
			version_name, version_code, approx_size_bytes, signature_hash,
			query_status, query_error,
			score, tier, risk_factors, trust_score, incomplete,
			suspicious_patterns, analyzed_at,
			feedback_type, feedback_adjustment, feedback_trust, feedback_recorded_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24,
			$25, $26, $27, $28, NOW()
		)
		ON CONFLICT (package_name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			category = EXCLUDED.category,
			permissions = EXCLUDED.permissions,
			is_system_app = EXCLUDED.is_system_app,
			is_enabled = EXCLUDED.is_enabled,
			has_launcher_activity = EXCLUDED.has_launcher_activity,
			install_time = EXCLUDED.install_time,
			last_update_time = EXCLUDED.last_update_time,
			target_sdk = EXCLUDED.target_sdk,
			min_sdk = EXCLUDED.min_sdk,
			version_name = EXCLUDED.version_name,
			version_code = EXCLUDED.version_code,
			approx_size_bytes = EXCLUDED.approx_size_bytes,
			signature_hash = EXCLUDED.signature_hash,
			query_status = EXCLUDED.query_status,
			query_error = EXCLUDED.query_error,
			score = EXCLUDED.score,
			tier = EXCLUDED.tier,
			risk_factors = EXCLUDED.risk_factors,
			trust_score = EXCLUDED.trust_score,
			incomplete = EXCLUDED.incomplete,
			suspicious_patterns = EXCLUDED.suspicious_patterns,
			analyzed_at = EXCLUDED.analyzed_at,
			feedback_type = EXCLUDED.feedback_type,
			feedback_adjustment = EXCLUDED.feedback_adjustment,
			feedback_trust = EXCLUDED.feedback_trust,
			feedback_recorded_at = EXCLUDED.feedback_recorded_at,
			updated_at = NOW()`

	var (
		fbType       *string
		fbAdjustment *int
		fbTrust      *float64
		fbRecordedAt *time.Time
	)
	if fb := app.Feedback; fb != nil {
		t := string(fb.Type)
		fbType, fbAdjustment, fbTrust, fbRecordedAt = &t, &fb.RiskAdjustment, &fb.TrustScore, &fb.RecordedAt
	}

	_, err := q.Exec(ctx, query,
		app.PackageName, app.DisplayName, string(app.Category), nonNil(app.RequestedPermissions),
		app.IsSystemApp, app.IsEnabled, app.HasLauncherActivity,
		app.InstallTime, app.LastUpdateTime, app.TargetSDK, app.MinSDK,
		app.VersionName, app.VersionCode, app.ApproxSizeBytes, app.SignatureHash,
		string(app.QueryStatus), app.QueryError,
		app.Assessment.Score, string(app.Assessment.Tier), nonNil(app.Assessment.RiskFactors),
		app.Assessment.TrustScore, app.Assessment.Incomplete,
		nonNil(app.SuspiciousPatterns), app.AnalyzedAt,
		fbType, fbAdjustment, fbTrust, fbRecordedAt,
	)
	return err
}

func scanApp(row pgx.Row) (*models.AnalyzedApp, error) {
	var (
		app          models.AnalyzedApp
		category     string
		tier         string
		queryStatus  string
		fbType       *string
		fbAdjustment *int
		fbTrust      *float64
		fbRecordedAt *time.Time
	)

	err := row.Scan(
		&app.PackageName, &app.DisplayName, &category, &app.RequestedPermissions,
		&app.IsSystemApp, &app.IsEnabled, &app.HasLauncherActivity,
		&app.InstallTime, &app.LastUpdateTime, &app.TargetSDK, &app.MinSDK,
		&app.VersionName, &app.VersionCode, &app.ApproxSizeBytes, &app.SignatureHash,
		&queryStatus, &app.QueryError,
		&app.Assessment.Score, &tier, &app.Assessment.RiskFactors,
		&app.Assessment.TrustScore, &app.Assessment.Incomplete,
		&app.SuspiciousPatterns, &app.AnalyzedAt,
		&fbType, &fbAdjustment, &fbTrust, &fbRecordedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Category = models.ParseCategory(category)
	app.QueryStatus = models.QueryStatus(queryStatus)
	if app.Assessment.Incomplete {
		app.Assessment.Tier = models.RiskTierUnknown
	} else {
		app.Assessment.Tier = models.ParseRiskTier(tier)
	}
	app.RequestedPermissions = nonNil(app.RequestedPermissions)
	app.Assessment.RiskFactors = nonNil(app.Assessment.RiskFactors)
	app.SuspiciousPatterns = nonNil(app.SuspiciousPatterns)

	if fbType != nil {
		fb := &models.UserFeedback{
			PackageName: app.PackageName,
			Type:        models.FeedbackType(*fbType),
		}
		if fbAdjustment != nil {
			fb.RiskAdjustment = *fbAdjustment
		}
		if fbTrust != nil {
			fb.TrustScore = *fbTrust
		}
		if fbRecordedAt != nil {
			fb.RecordedAt = fbRecordedAt.UTC()
		}
		app.Feedback = fb
	}

	return &app, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
