package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ocha-dap/hdx-scraper-unep/internal/retrieve"
)

// DateField is the attribute column holding the designation year of a
// protected area.
const DateField = "STATUS_YR"

var iso3Pattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// Client queries a FeatureServer through a Retriever.
type Client struct {
	baseURL   string
	retriever *retrieve.Retriever
	logger    *slog.Logger
}

// NewClient creates a client for the FeatureServer rooted at baseURL.
func NewClient(baseURL string, retriever *retrieve.Retriever, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		retriever: retriever,
		logger:    logger,
	}
}

// LayerURL returns the REST endpoint of a layer.
func (c *Client) LayerURL(layerID int) string {
	return fmt.Sprintf("%s/%d", c.baseURL, layerID)
}

// ServiceInfo fetches the service metadata listing its layers.
func (c *Client) ServiceInfo(ctx context.Context) (*ServiceInfo, error) {
	var info ServiceInfo
	if err := c.retriever.DownloadJSON(ctx, c.baseURL+"?f=json", &info); err != nil {
		return nil, fmt.Errorf("service info: %w", err)
	}
	return &info, nil
}

// DistinctISO3 returns the distinct ISO3 codes present in a layer, uppercased.
func (c *Client) DistinctISO3(ctx context.Context, layerID int) ([]string, error) {
	query := url.Values{}
	query.Set("f", "json")
	query.Set("returnGeometry", "false")
	query.Set("returnDistinctValues", "true")
	query.Set("outFields", "ISO3")
	query.Set("where", "ISO3 LIKE '___'")

	var response FeatureSet
	queryURL := fmt.Sprintf("%s/query?%s", c.LayerURL(layerID), query.Encode())
	if err := c.retriever.DownloadJSON(ctx, queryURL, &response); err != nil {
		return nil, fmt.Errorf("distinct ISO3 for layer %d: %w", layerID, err)
	}

	codes := make([]string, 0, len(response.Features))
	for _, feature := range response.Features {
		// The server reports the field name in varying case depending on
		// the service configuration.
		code, ok := attrString(feature.Attributes, "ISO3")
		if !ok {
			continue
		}
		codes = append(codes, strings.ToUpper(code))
	}
	return codes, nil
}

// YearRange returns the min and max designation year for a country in a
// layer. Rows with no year (STATUS_YR <= 0) are excluded, matching the
// upstream convention that 0 means "not reported".
func (c *Client) YearRange(ctx context.Context, layerID int, iso3 string) (start, end int, err error) {
	if err := validateISO3(iso3); err != nil {
		return 0, 0, err
	}

	stats := []statistic{
		{StatisticType: "min", OnStatisticField: DateField, OutStatisticFieldName: "start_year"},
		{StatisticType: "max", OnStatisticField: DateField, OutStatisticFieldName: "end_year"},
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return 0, 0, fmt.Errorf("encode statistics: %w", err)
	}

	query := url.Values{}
	query.Set("f", "json")
	query.Set("outFields", "*")
	query.Set("outStatistics", string(statsJSON))
	query.Set("returnGeometry", "false")
	query.Set("where", fmt.Sprintf("%s > 0 AND ISO3='%s'", DateField, strings.ToUpper(iso3)))

	var response FeatureSet
	queryURL := fmt.Sprintf("%s/query?%s", c.LayerURL(layerID), query.Encode())
	if err := c.retriever.DownloadJSON(ctx, queryURL, &response); err != nil {
		return 0, 0, fmt.Errorf("year range for layer %d country %s: %w", layerID, iso3, err)
	}

	if len(response.Features) == 0 {
		return 0, 0, nil
	}
	attrs := response.Features[0].Attributes
	start = attrInt(attrs, "start_year")
	end = attrInt(attrs, "end_year")
	return start, end, nil
}

// CountryFeatures downloads all features of a layer for one country,
// following the server's transfer limit with resultOffset paging.
func (c *Client) CountryFeatures(ctx context.Context, layerID int, iso3 string) (*FeatureSet, error) {
	if err := validateISO3(iso3); err != nil {
		return nil, err
	}

	var result *FeatureSet
	offset := 0
	for {
		query := url.Values{}
		query.Set("f", "json")
		query.Set("orderByFields", "OBJECTID")
		query.Set("outFields", "*")
		query.Set("geometryPrecision", "10")
		query.Set("maxAllowableOffset", "10")
		query.Set("where", fmt.Sprintf("ISO3='%s'", strings.ToUpper(iso3)))
		if offset > 0 {
			query.Set("resultOffset", strconv.Itoa(offset))
		}

		queryURL := fmt.Sprintf("%s/query?%s", c.LayerURL(layerID), query.Encode())
		c.logger.Info("Querying", "url", queryURL)

		var page FeatureSet
		if err := c.retriever.DownloadJSON(ctx, queryURL, &page); err != nil {
			return nil, fmt.Errorf("features for layer %d country %s: %w", layerID, iso3, err)
		}

		if result == nil {
			result = &page
		} else {
			result.Features = append(result.Features, page.Features...)
		}

		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			break
		}
		offset += len(page.Features)
	}

	return result, nil
}

func validateISO3(iso3 string) error {
	if !iso3Pattern.MatchString(iso3) {
		return fmt.Errorf("invalid ISO3 code %q", iso3)
	}
	return nil
}

// attrString looks up a string attribute ignoring key case.
func attrString(attrs map[string]any, key string) (string, bool) {
	for k, v := range attrs {
		if strings.EqualFold(k, key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

// attrInt looks up a numeric attribute ignoring key case. Missing or null
// values yield 0.
func attrInt(attrs map[string]any, key string) int {
	for k, v := range attrs {
		if !strings.EqualFold(k, key) {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return 0
}
