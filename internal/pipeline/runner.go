package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocha-dap/hdx-scraper-unep/pkg/domain"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/storage"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/telemetry"
)

const defaultConcurrency = 4

// Runner drives the pipeline across all discovered countries. Countries are
// processed concurrently up to a bound; one country's failure never aborts
// the rest of the run.
type Runner struct {
	pipeline    *Pipeline
	store       storage.DatasetStore
	metrics     *telemetry.ScrapeMetrics
	logger      *slog.Logger
	concurrency int
}

// RunnerOption adjusts Runner construction.
type RunnerOption func(*Runner)

// WithConcurrency bounds the number of countries scraped in parallel.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner creates a runner. store and metrics may be nil.
func NewRunner(p *Pipeline, store storage.DatasetStore, metrics *telemetry.ScrapeMetrics, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline:    p,
		store:       store,
		metrics:     metrics,
		logger:      logger,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunResult summarises one scrape run.
type RunResult struct {
	RunID     string
	Generated []string          // ISO3 codes with a dataset written
	Skipped   map[string]string // ISO3 -> reason
	Failed    map[string]error  // ISO3 -> error
	Duration  time.Duration
}

// Run discovers the service layers and generates a dataset for every country,
// or only for the given subset when countriesFilter is non-empty. Dataset
// metadata documents are written next to the staged files.
func (r *Runner) Run(ctx context.Context, countriesFilter []string) (*RunResult, error) {
	started := time.Now()
	result := &RunResult{
		RunID:   uuid.NewString(),
		Skipped: map[string]string{},
		Failed:  map[string]error{},
	}
	r.pipeline.setRunID(result.RunID)
	r.logger.Info("Starting run", "run_id", result.RunID)

	info, err := r.pipeline.LayersInfo(ctx)
	if err != nil {
		return nil, err
	}
	if len(info.Layers) == 0 {
		// A service without feature layers yields an empty run, not a failure.
		r.logger.Error("Service reports no feature layers")
		result.Duration = time.Since(started)
		return result, nil
	}

	countries := selectCountries(info.Countries, countriesFilter)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, r.concurrency)
	)

	for _, iso3 := range countries {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(iso3 string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := r.scrapeCountry(ctx, info.Layers, iso3)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Generated = append(result.Generated, iso3)
			case errors.Is(err, domain.ErrCountryNotFound):
				r.logger.Error("Couldn't find country, skipping", "iso3", iso3)
				result.Skipped[iso3] = "country not found"
				r.skipMetrics("country_not_found")
			case errors.Is(err, domain.ErrNoData):
				r.logger.Error("No data, skipping", "iso3", iso3)
				result.Skipped[iso3] = "no data"
				r.skipMetrics("no_data")
			default:
				r.logger.Error("Country failed", "iso3", iso3, "error", err)
				result.Failed[iso3] = &domain.PipelineError{
					Err:     err,
					Code:    "country_failed",
					Message: fmt.Sprintf("scrape failed for %s: %v", iso3, err),
					Details: map[string]any{"iso3": iso3, "run_id": result.RunID},
				}
			}
		}(iso3)
	}
	wg.Wait()

	sort.Strings(result.Generated)
	result.Duration = time.Since(started)
	r.logger.Info("Run finished",
		"run_id", result.RunID,
		"generated", len(result.Generated),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
		"duration", result.Duration)
	return result, ctx.Err()
}

// scrapeCountry generates, persists, and records one country's dataset.
func (r *Runner) scrapeCountry(ctx context.Context, layers []domain.Layer, iso3 string) error {
	started := time.Now()
	dataset, err := r.pipeline.GenerateDataset(ctx, layers, iso3)
	if err != nil {
		outcome := telemetry.OutcomeFailed
		if errors.Is(err, domain.ErrCountryNotFound) || errors.Is(err, domain.ErrNoData) {
			outcome = telemetry.OutcomeSkipped
		}
		r.recordDatasetStage(ctx, iso3, outcome, started)
		return err
	}

	docPath := filepath.Join(r.pipeline.cfg.StagingDir, strings.ToLower(iso3), dataset.Name+".json")
	if err := dataset.WriteJSON(docPath); err != nil {
		r.recordDatasetStage(ctx, iso3, telemetry.OutcomeFailed, started)
		return err
	}

	if r.store != nil {
		if err := r.store.SaveDataset(ctx, iso3, dataset); err != nil {
			r.recordDatasetStage(ctx, iso3, telemetry.OutcomeFailed, started)
			return err
		}
	}

	if r.metrics != nil {
		r.metrics.DatasetGenerated()
	}
	r.recordDatasetStage(ctx, iso3, telemetry.OutcomeOK, started)
	return nil
}

func (r *Runner) recordDatasetStage(ctx context.Context, iso3 string, outcome telemetry.StageOutcome, started time.Time) {
	telemetry.RecordStageMetrics(ctx, telemetry.StageMetrics{
		RunID:    r.pipeline.runID,
		Stage:    "dataset",
		Country:  iso3,
		Outcome:  outcome,
		Duration: time.Since(started),
	})
}

func (r *Runner) skipMetrics(reason string) {
	if r.metrics != nil {
		r.metrics.CountrySkipped(reason)
	}
}

// selectCountries intersects the discovered countries with an optional
// operator-supplied filter. Filter entries not present upstream are kept so
// the run reports them as skipped rather than silently dropping them.
func selectCountries(discovered, filter []string) []string {
	if len(filter) == 0 {
		return discovered
	}
	out := make([]string, 0, len(filter))
	for _, iso3 := range filter {
		out = append(out, strings.ToUpper(strings.TrimSpace(iso3)))
	}
	sort.Strings(out)
	return out
}
