package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StageOutcome classifies how a pipeline stage ended.
type StageOutcome string

const (
	// OutcomeOK marks a stage that completed and produced output.
	OutcomeOK StageOutcome = "ok"
	// OutcomeSkipped marks a stage that ended early without output
	// (no dated data, unknown country).
	OutcomeSkipped StageOutcome = "skipped"
	// OutcomeFailed marks a stage that errored.
	OutcomeFailed StageOutcome = "failed"
)

var (
	metricsOnce             sync.Once
	metricsInitErr          error
	stageExecutionCounter   metric.Int64Counter
	countrySkippedCounter   metric.Int64Counter
	datasetGeneratedCounter metric.Int64Counter
	stageLatencyHistogram   metric.Float64Histogram
)

// StageMetrics captures the fields needed to record pipeline stage telemetry.
type StageMetrics struct {
	RunID    string
	Stage    string // discover, year_range, features, outputs, dataset
	Country  string
	Layer    string
	Outcome  StageOutcome
	Duration time.Duration
}

// RecordStageMetrics emits counters and histograms that describe stage
// execution behaviour.
func RecordStageMetrics(ctx context.Context, metrics StageMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("run.id", metrics.RunID),
		attribute.String("stage.name", metrics.Stage),
		attribute.String("stage.outcome", string(metrics.Outcome)),
	}
	if metrics.Country != "" {
		attrs = append(attrs, attribute.String("country.iso3", metrics.Country))
	}
	if metrics.Layer != "" {
		attrs = append(attrs, attribute.String("layer.type", metrics.Layer))
	}

	stageExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		stageLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	switch metrics.Outcome {
	case OutcomeSkipped:
		countrySkippedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case OutcomeOK:
		if metrics.Stage == "dataset" {
			datasetGeneratedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("scraper.pipeline")

		stageExecutionCounter, metricsInitErr = meter.Int64Counter(
			"scraper.stage.executions_total",
			metric.WithDescription("Pipeline stage executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		countrySkippedCounter, metricsInitErr = meter.Int64Counter(
			"scraper.countries.skipped_total",
			metric.WithDescription("Countries skipped during dataset generation"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		datasetGeneratedCounter, metricsInitErr = meter.Int64Counter(
			"scraper.datasets.generated_total",
			metric.WithDescription("Datasets generated by the pipeline"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"scraper.stage.duration_ms",
			metric.WithDescription("Observed stage execution latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
