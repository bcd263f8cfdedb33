// Package main is the entry point for the hdx-scraper-unep binary.
// It scrapes the UNEP-WCMC WDPCA feature service and generates one HDX
// dataset per country.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocha-dap/hdx-scraper-unep/internal/arcgis"
	"github.com/ocha-dap/hdx-scraper-unep/internal/pipeline"
	"github.com/ocha-dap/hdx-scraper-unep/internal/retrieve"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/config"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/logging"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/storage"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/telemetry"
)

const defaultConfigPath = "config/config.yaml"

// CLIConfig holds the parsed CLI configuration
type CLIConfig struct {
	Config      string
	LogLevel    string
	Pretty      bool
	OutputDir   string
	SavedDir    string
	Save        bool
	UseSaved    bool
	Countries   []string
	Concurrency int
	MetricsAddr string
	Watch       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for hdx-scraper-unep
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hdx-scraper-unep",
		Short: "HDX scraper for UNEP-WCMC Protected and Conserved Areas",
		Long: `Scrapes the WDPCA ArcGIS FeatureServer and produces per-country HDX
datasets with GeoPackage, GeoJSON, CSV, and GeoService resources.

Example:
  hdx-scraper-unep --config config/config.yaml --countries BOL,AFG`,
		RunE: runScraper,
	}

	rootCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Human-readable log output")
	rootCmd.Flags().StringP("output-dir", "o", "", "Directory for generated files")
	rootCmd.Flags().String("saved-dir", "", "Directory for recorded upstream responses")
	rootCmd.Flags().Bool("save", false, "Record upstream responses to the saved dir")
	rootCmd.Flags().Bool("use-saved", false, "Replay recorded responses instead of hitting the service")
	rootCmd.Flags().StringSlice("countries", nil, "Restrict the run to these ISO3 codes")
	rootCmd.Flags().Int("concurrency", 0, "Countries scraped in parallel (0 = default)")
	rootCmd.Flags().String("metrics-addr", "", "Listen address for Prometheus metrics (empty = disabled)")
	rootCmd.Flags().Bool("watch", false, "Watch the config file and rerun on changes")

	return rootCmd
}

// parseCLIConfig parses command line flags into a CLIConfig
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	cli := &CLIConfig{}
	var err error

	if cli.Config, err = cmd.Flags().GetString("config"); err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if cli.LogLevel, err = cmd.Flags().GetString("log-level"); err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if cli.Pretty, err = cmd.Flags().GetBool("pretty"); err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	if cli.OutputDir, err = cmd.Flags().GetString("output-dir"); err != nil {
		return nil, fmt.Errorf("failed to get output-dir flag: %w", err)
	}
	if cli.SavedDir, err = cmd.Flags().GetString("saved-dir"); err != nil {
		return nil, fmt.Errorf("failed to get saved-dir flag: %w", err)
	}
	if cli.Save, err = cmd.Flags().GetBool("save"); err != nil {
		return nil, fmt.Errorf("failed to get save flag: %w", err)
	}
	if cli.UseSaved, err = cmd.Flags().GetBool("use-saved"); err != nil {
		return nil, fmt.Errorf("failed to get use-saved flag: %w", err)
	}
	if cli.Countries, err = cmd.Flags().GetStringSlice("countries"); err != nil {
		return nil, fmt.Errorf("failed to get countries flag: %w", err)
	}
	if cli.Concurrency, err = cmd.Flags().GetInt("concurrency"); err != nil {
		return nil, fmt.Errorf("failed to get concurrency flag: %w", err)
	}
	if cli.MetricsAddr, err = cmd.Flags().GetString("metrics-addr"); err != nil {
		return nil, fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}
	if cli.Watch, err = cmd.Flags().GetBool("watch"); err != nil {
		return nil, fmt.Errorf("failed to get watch flag: %w", err)
	}
	return cli, nil
}

// buildConfig loads the YAML configuration and applies CLI flag overrides.
func buildConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	return applyCLIOverrides(cfg, cli)
}

// applyCLIOverrides layers CLI flags over a loaded configuration.
func applyCLIOverrides(cfg *config.Config, cli *CLIConfig) (*config.Config, error) {
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.OutputDir != "" {
		cfg.Output.Dir = cli.OutputDir
	}
	if cli.SavedDir != "" {
		cfg.Retriever.SavedDir = cli.SavedDir
	}
	if cli.Save {
		cfg.Retriever.Save = true
	}
	if cli.UseSaved {
		cfg.Retriever.UseSaved = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runScraper is the main entry point for the scrape command
func runScraper(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cli)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cli.Pretty,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "hdx-scraper-unep",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to set up telemetry", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	metrics := telemetry.NewScrapeMetrics()
	if cli.MetricsAddr != "" {
		startMetricsServer(ctx, cli.MetricsAddr, metrics, logger)
	}

	if !cli.Watch {
		return runOnce(ctx, cfg, cli, metrics, logger)
	}
	return runWatched(ctx, cli, metrics, logger)
}

// runOnce performs a single scrape run.
func runOnce(ctx context.Context, cfg *config.Config, cli *CLIConfig, metrics *telemetry.ScrapeMetrics, logger *slog.Logger) error {
	retriever, err := retrieve.New(retrieve.Config{
		RequestTimeout: time.Duration(cfg.Retriever.RequestTimeoutMS) * time.Millisecond,
		Retry: retrieve.RetryConfig{
			MaxRetries:     cfg.Retriever.MaxRetries,
			InitialBackoff: time.Duration(cfg.Retriever.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Retriever.MaxBackoffMS) * time.Millisecond,
			Jitter:         true,
		},
		RateLimit: retrieve.RateLimiterConfig{
			RequestsPerSecond: cfg.Retriever.RequestsPerSecond,
			BurstSize:         cfg.Retriever.Burst,
		},
		SavedDir: cfg.Retriever.SavedDir,
		Save:     cfg.Retriever.Save,
		UseSaved: cfg.Retriever.UseSaved,
	}, metrics, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	client := arcgis.NewClient(cfg.Service.URL, retriever, logger)
	p := pipeline.New(client, pipeline.Config{
		BaseFilename:       cfg.Service.BaseFilename,
		Tags:               cfg.Service.Tags,
		StaticMetadataPath: cfg.Dataset.StaticMetadata,
		StagingDir:         cfg.Output.Dir,
	}, metrics, logger)

	store := storage.NewMemoryDatasetStore()
	defer func() { _ = store.Close() }()

	runner := pipeline.NewRunner(p, store, metrics, logger,
		pipeline.WithConcurrency(cli.Concurrency))
	result, err := runner.Run(ctx, cli.Countries)
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d countries failed", len(result.Failed))
	}
	return nil
}

// runWatched reruns the scrape whenever the config file changes.
func runWatched(ctx context.Context, cli *CLIConfig, metrics *telemetry.ScrapeMetrics, logger *slog.Logger) error {
	provider, err := config.NewFileConfigProvider(cli.Config)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	updates := provider.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}
			cfg, err := applyCLIOverrides(cfg, cli)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				continue
			}
			logger.Info("Configuration loaded, starting run")
			if err := runOnce(ctx, cfg, cli, metrics, logger); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				logger.Error("Run failed", "error", err)
			}
		}
	}
}

// startMetricsServer exposes the Prometheus registry on addr.
func startMetricsServer(ctx context.Context, addr string, metrics *telemetry.ScrapeMetrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
