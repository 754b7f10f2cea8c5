package services

import (
	"time"

	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/pkg/logger"
)

// AppAnalyzer turns installed package facts into an AnalyzedApp:
// classify, score, then detect suspicious patterns.
type AppAnalyzer struct {
	scorer   *RiskScorer
	detector *PatternDetector
	logger   *logger.Logger
	now      func() time.Time
}

// NewAppAnalyzer creates a new app analyzer
func NewAppAnalyzer(log *logger.Logger) *AppAnalyzer {
	return &AppAnalyzer{
		scorer:   NewRiskScorer(),
		detector: NewPatternDetector(),
		logger:   log.WithComponent("app-analyzer"),
		now:      time.Now,
	}
}

// Analyze produces the analysis for one package. It never fails: packages
// whose permissions could not be read get an incomplete assessment.
func (a *AppAnalyzer) Analyze(facts models.InstalledPackageFacts) models.AnalyzedApp {
	now := a.now()
	facts = facts.Normalize(now)

	category := ClassifyCategory(facts.PackageName, facts.DisplayName, facts.IsSystemApp)

	app := models.AnalyzedApp{
		InstalledPackageFacts: facts,
		Category:              category,
		AnalyzedAt:            now.UTC(),
	}

	if !facts.PermissionsReadable() {
		app.RequestedPermissions = []string{}
		app.Assessment = a.scorer.ScoreIncomplete(category, facts.IsSystemApp)
		app.SuspiciousPatterns = []string{}
		a.logger.Debug().
			Str("package", facts.PackageName).
			Str("query_error", facts.QueryError).
			Msg("permissions unavailable, analysis incomplete")
		return app
	}

	app.Assessment = a.scorer.Score(facts.RequestedPermissions, category, facts.IsSystemApp)
	app.SuspiciousPatterns = a.detector.Detect(facts.RequestedPermissions, category, facts.DisplayName)

	a.logger.Debug().
		Str("package", facts.PackageName).
		Str("category", string(category)).
		Int("score", app.Assessment.Score).
		Str("tier", string(app.Assessment.Tier)).
		Int("patterns", len(app.SuspiciousPatterns)).
		Msg("app analyzed")

	return app
}
