package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ocha-dap/hdx-scraper-unep/internal/arcgis"
	"github.com/ocha-dap/hdx-scraper-unep/internal/geo"
	"github.com/ocha-dap/hdx-scraper-unep/internal/hdx"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/domain"
	"github.com/ocha-dap/hdx-scraper-unep/pkg/telemetry"
)

// Config carries the scrape parameters that shape dataset generation.
type Config struct {
	// BaseFilename is the stem of every generated file.
	BaseFilename string
	// Tags are attached to every dataset from the approved vocabulary.
	Tags []string
	// StaticMetadataPath points at the YAML file holding the dataset fields
	// that do not change per country. Empty disables the merge.
	StaticMetadataPath string
	// StagingDir is where per-country output files are written, one
	// subdirectory per ISO3 code.
	StagingDir string
}

// Pipeline generates one HDX dataset per country from a WDPCA FeatureServer.
type Pipeline struct {
	client  *arcgis.Client
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.ScrapeMetrics

	runID string
}

// New creates a pipeline. metrics may be nil.
func New(client *arcgis.Client, cfg Config, metrics *telemetry.ScrapeMetrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("scraper.pipeline"),
		metrics: metrics,
	}
}

func (p *Pipeline) setRunID(id string) {
	p.runID = id
}

// LayersInfo discovers the service's feature layers and the union of ISO3
// codes they cover. Non-feature layers (group layers, tables) are ignored.
func (p *Pipeline) LayersInfo(ctx context.Context) (*domain.LayersInfo, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.layers_info")
	defer span.End()

	started := time.Now()
	info, err := p.client.ServiceInfo(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "service discovery failed")
		p.recordStage(ctx, "discover", "", "", telemetry.OutcomeFailed, started)
		return nil, err
	}

	result := &domain.LayersInfo{}
	seen := map[string]struct{}{}
	for _, layer := range info.Layers {
		if layer.Type != "Feature Layer" {
			continue
		}
		layerType := domain.ClassifyGeometry(layer.GeometryType)
		result.Layers = append(result.Layers, domain.Layer{
			ID:           layer.ID,
			Name:         layer.Name,
			GeometryType: layer.GeometryType,
			Type:         layerType,
		})

		isoCodes, err := p.client.DistinctISO3(ctx, layer.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "country discovery failed")
			p.recordStage(ctx, "discover", "", string(layerType), telemetry.OutcomeFailed, started)
			return nil, err
		}
		for _, code := range isoCodes {
			seen[code] = struct{}{}
		}
	}

	result.Countries = make([]string, 0, len(seen))
	for code := range seen {
		result.Countries = append(result.Countries, code)
	}
	sort.Strings(result.Countries)

	span.SetAttributes(
		attribute.Int("layers.count", len(result.Layers)),
		attribute.Int("countries.count", len(result.Countries)),
	)
	p.recordStage(ctx, "discover", "", "", telemetry.OutcomeOK, started)
	p.logger.Info("Discovered service layers",
		"layers", len(result.Layers), "countries", len(result.Countries))
	return result, nil
}

// GenerateDataset scrapes one country across all layers and produces the HDX
// dataset with its staged resources. It returns domain.ErrCountryNotFound for
// ISO3 codes HDX does not know and domain.ErrNoData when no layer holds dated
// features for the country.
func (p *Pipeline) GenerateDataset(ctx context.Context, layers []domain.Layer, iso3 string) (*hdx.Dataset, error) {
	iso3 = strings.ToUpper(iso3)
	ctx, span := p.tracer.Start(ctx, "pipeline.generate_dataset",
		trace.WithAttributes(attribute.String("country.iso3", iso3)))
	defer span.End()

	countryName, err := hdx.CountryName(iso3)
	if err != nil {
		return nil, err
	}

	dataset := hdx.NewDataset(hdx.DatasetName(iso3),
		fmt.Sprintf("Protected and Conserved Areas (WDPCA) in %s", countryName))
	dataset.AddGroup(iso3)

	stagingDir := filepath.Join(p.cfg.StagingDir, strings.ToLower(iso3))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir for %s: %w", iso3, err)
	}

	gpkgPath := filepath.Join(stagingDir, p.cfg.BaseFilename+".gpkg")
	if err := os.Remove(gpkgPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale geopackage: %w", err)
	}

	var (
		gpkg      *geo.GeoPackage
		overall   domain.YearRange
		resources []*hdx.Resource
	)
	defer func() {
		if gpkg != nil {
			_ = gpkg.Close()
		}
	}()

	for _, layer := range layers {
		yearsStarted := time.Now()
		start, end, err := p.client.YearRange(ctx, layer.ID, iso3)
		if err != nil {
			p.recordStage(ctx, "year_range", iso3, string(layer.Type), telemetry.OutcomeFailed, yearsStarted)
			return nil, err
		}
		layerRange := domain.YearRange{Start: start, End: end}
		if layerRange.Empty() {
			p.recordStage(ctx, "year_range", iso3, string(layer.Type), telemetry.OutcomeSkipped, yearsStarted)
			continue
		}
		overall = overall.Merge(layerRange)
		p.recordStage(ctx, "year_range", iso3, string(layer.Type), telemetry.OutcomeOK, yearsStarted)

		featuresStarted := time.Now()
		featureSet, err := p.client.CountryFeatures(ctx, layer.ID, iso3)
		if err != nil {
			p.recordStage(ctx, "features", iso3, string(layer.Type), telemetry.OutcomeFailed, featuresStarted)
			return nil, err
		}
		table, err := geo.FromFeatureSet(featureSet)
		if err != nil {
			p.recordStage(ctx, "features", iso3, string(layer.Type), telemetry.OutcomeFailed, featuresStarted)
			return nil, fmt.Errorf("convert %s features for %s: %w", layer.Type, iso3, err)
		}
		p.recordStage(ctx, "features", iso3, string(layer.Type), telemetry.OutcomeOK, featuresStarted)

		outputsStarted := time.Now()
		layerResources, err := p.writeLayerOutputs(&gpkg, gpkgPath, stagingDir, layer, table)
		if err != nil {
			p.recordStage(ctx, "outputs", iso3, string(layer.Type), telemetry.OutcomeFailed, outputsStarted)
			return nil, err
		}
		resources = append(resources, layerResources...)
		p.recordStage(ctx, "outputs", iso3, string(layer.Type), telemetry.OutcomeOK, outputsStarted)
	}

	if overall.Empty() {
		return nil, fmt.Errorf("country %s: %w", iso3, domain.ErrNoData)
	}

	if err := gpkg.Close(); err != nil {
		return nil, fmt.Errorf("close geopackage for %s: %w", iso3, err)
	}
	gpkg = nil

	resources = append([]*hdx.Resource{{
		Name:        filepath.Base(gpkgPath),
		Description: "GPKG of point and polygon data",
		Format:      "gpkg",
		FilePath:    gpkgPath,
	}}, resources...)

	// The preview goes on the last GeoJSON resource, which holds the
	// polygon layer when both layers have data.
	for i := len(resources) - 1; i >= 0; i-- {
		if resources[i].Format == "geojson" {
			dataset.EnablePreview(resources[i])
			break
		}
	}

	dataset.AddUpdateResources(resources)
	dataset.SetTimePeriodYearRange(overall.Start, overall.End)
	dataset.AddTags(p.cfg.Tags)

	if p.cfg.StaticMetadataPath != "" {
		if err := dataset.UpdateFromYAML(p.cfg.StaticMetadataPath); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("resources.count", len(resources)),
		attribute.Int("years.start", overall.Start),
		attribute.Int("years.end", overall.End),
	)
	return dataset, nil
}

// writeLayerOutputs writes one layer's table into the shared GeoPackage and
// its own GeoJSON and CSV files, returning the three per-layer resources. The
// GeoPackage is created lazily so countries without data never leave an empty
// file behind.
func (p *Pipeline) writeLayerOutputs(gpkg **geo.GeoPackage, gpkgPath, stagingDir string, layer domain.Layer, table *geo.Table) ([]*hdx.Resource, error) {
	layerType := string(layer.Type)

	if *gpkg == nil {
		created, err := geo.CreateGeoPackage(gpkgPath)
		if err != nil {
			return nil, err
		}
		*gpkg = created
	}
	p.logger.Info("Adding GPKG data", "layer", layerType)
	if err := (*gpkg).AddLayer(layerType, table); err != nil {
		return nil, err
	}

	p.logger.Info("Adding GeoJSON data", "layer", layerType)
	geojsonName := fmt.Sprintf("%s_%s.geojson", p.cfg.BaseFilename, layerType)
	geojsonPath := filepath.Join(stagingDir, geojsonName)
	if err := geo.WriteGeoJSON(geojsonPath, table); err != nil {
		return nil, err
	}

	p.logger.Info("Adding csv data", "layer", layerType)
	csvName := fmt.Sprintf("%s_%s.csv", p.cfg.BaseFilename, layerType)
	csvPath := filepath.Join(stagingDir, csvName)
	if err := geo.WriteCSV(csvPath, table); err != nil {
		return nil, err
	}

	p.logger.Info("Adding GeoService", "layer", layerType)
	return []*hdx.Resource{
		{
			Name:        geojsonName,
			Description: fmt.Sprintf("GeoJSON format of the summary of %s", layerType),
			Format:      "geojson",
			FilePath:    geojsonPath,
		},
		{
			Name:        csvName,
			Description: fmt.Sprintf("CSV format of the summary of %s", layerType),
			Format:      "csv",
			FilePath:    csvPath,
		},
		{
			Name:        fmt.Sprintf("%s GeoService", layerType),
			Description: fmt.Sprintf("ArcGIS Map Service of the summary of %s", layerType),
			Format:      "GeoService",
			URL:         p.client.LayerURL(layer.ID),
		},
	}, nil
}

func (p *Pipeline) recordStage(ctx context.Context, stage, country, layer string, outcome telemetry.StageOutcome, started time.Time) {
	telemetry.RecordStageMetrics(ctx, telemetry.StageMetrics{
		RunID:    p.runID,
		Stage:    stage,
		Country:  country,
		Layer:    layer,
		Outcome:  outcome,
		Duration: time.Since(started),
	})
}
