package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"orbguard-appscan/internal/config"
	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/domain/services"
	"orbguard-appscan/internal/infrastructure/memory"
	"orbguard-appscan/internal/infrastructure/packagesource"
	"orbguard-appscan/pkg/logger"
)

var (
	version = "1.0.0"

	configFile   string
	fixturePath  string
	logLevel     string
	outputFormat string
	minTier      string
	feedbackFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "appscan",
		Short:         "OrbGuard AppScan - installed app risk assessment",
		Long:          `Scores the apps in a device package snapshot by the privacy risk of their permissions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&fixturePath, "fixture", "f", "", "Package snapshot (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(analyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one full scan over the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, err := setup()
			if err != nil {
				return err
			}

			if feedbackFile != "" {
				raw, err := os.ReadFile(feedbackFile)
				if err != nil {
					return fmt.Errorf("failed to read feedback file: %w", err)
				}
				imported, skipped, err := env.feedback.ImportLegacy(ctx, strings.TrimSpace(string(raw)))
				if err != nil {
					return err
				}
				env.log.Info().Int("imported", imported).Int("skipped", skipped).Msg("feedback imported")
			}

			result, err := env.scanner.Scan(ctx, models.ScanTriggerManual)
			if err != nil {
				return err
			}

			threshold := models.ParseRiskTier(minTier)
			if minTier != "" && threshold == models.RiskTierUnknown && !strings.EqualFold(minTier, string(models.RiskTierUnknown)) {
				return fmt.Errorf("invalid tier %q", minTier)
			}
			if minTier != "" {
				result.Apps = filterByTier(result.Apps, threshold)
			}

			return writeScan(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&minTier, "min-tier", "", "Only report apps at or above this tier")
	cmd.Flags().StringVar(&feedbackFile, "feedback", "", "Legacy feedback export to apply before scanning")

	return cmd
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <package>",
		Short: "Analyze a single package from the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}

			pkg, err := env.source.GetPackage(cmd.Context(), args[0])
			if errors.Is(err, services.ErrAppNotFound) {
				return fmt.Errorf("package %s is not in the snapshot", args[0])
			}
			if err != nil {
				return err
			}

			app := env.analyzer.Analyze(*pkg)
			return writeApps(cmd.OutOrStdout(), []models.AnalyzedApp{app})
		},
	}
}

type scanEnv struct {
	log      *logger.Logger
	source   *packagesource.FixtureSource
	analyzer *services.AppAnalyzer
	feedback *services.FeedbackService
	scanner  *services.Scanner
}

// setup builds an in-memory pipeline over the snapshot
func setup() (*scanEnv, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if fixturePath != "" {
		cfg.Source.FixturePath = fixturePath
	}
	if cfg.Source.FixturePath == "" {
		return nil, errors.New("no snapshot given, use --fixture")
	}

	log := logger.New(logger.Config{
		Level:  logLevel,
		Format: "console",
		Output: os.Stderr,
	}).WithComponent("appscan-cli")

	exclusions := memory.NewExclusionStore()
	env := &scanEnv{
		log:      log,
		source:   packagesource.NewFixtureSource(cfg.Source.FixturePath, log),
		analyzer: services.NewAppAnalyzer(log),
	}
	env.feedback = services.NewFeedbackService(memory.NewAppStore(), memory.NewFeedbackStore(), exclusions, log)
	env.scanner = services.NewScanner(cfg.Scan, env.source, exclusions, env.analyzer, env.feedback, log)

	return env, nil
}

func filterByTier(apps []models.AnalyzedApp, threshold models.RiskTier) []models.AnalyzedApp {
	out := apps[:0]
	for _, app := range apps {
		if app.Assessment.Tier.Rank() >= threshold.Rank() {
			out = append(out, app)
		}
	}
	return out
}

func writeScan(w io.Writer, result *models.ScanResult) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	c := result.Counts
	fmt.Fprintf(w, "scan %s: %d packages, %d analyzed, %d incomplete, %d failed, %d skipped\n\n",
		result.ID, c.Total, c.Analyzed, c.Incomplete, c.Failed, c.Skipped)
	return writeApps(w, result.Apps)
}

func writeApps(w io.Writer, apps []models.AnalyzedApp) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(apps)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tTIER\tCATEGORY\tPACKAGE\tPATTERNS")
	for _, app := range apps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			app.Assessment.Score,
			app.Assessment.Tier,
			app.Category,
			app.PackageName,
			strings.Join(app.SuspiciousPatterns, ", "),
		)
	}
	return tw.Flush()
}
