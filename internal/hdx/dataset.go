package hdx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// VocabularyID is the HDX approved tag vocabulary.
const VocabularyID = "b891512e-9516-4bf5-962a-7a289772a2a1"

// Tag is an HDX tag within a vocabulary.
type Tag struct {
	Name         string `json:"name" yaml:"name"`
	VocabularyID string `json:"vocabulary_id" yaml:"vocabulary_id"`
}

// Group is a country grouping on HDX, keyed by lowercase ISO3.
type Group struct {
	Name string `json:"name" yaml:"name"`
}

// Resource describes one artifact attached to a dataset: either a local file
// staged for upload or an external link.
type Resource struct {
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	Format         string `json:"format" yaml:"format"`
	URL            string `json:"url,omitempty" yaml:"url,omitempty"`
	PreviewEnabled bool   `json:"dataset_preview_enabled,omitempty" yaml:"dataset_preview_enabled,omitempty"`

	// FilePath is the staged local file, empty for link resources. It is not
	// part of the metadata document.
	FilePath string `json:"-" yaml:"-"`
}

// Dataset is the metadata document for one country's scrape.
type Dataset struct {
	Name       string      `json:"name"`
	Title      string      `json:"title"`
	Groups     []Group     `json:"groups"`
	Tags       []Tag       `json:"tags"`
	TimePeriod string      `json:"dataset_date,omitempty"`
	Preview    string      `json:"dataset_preview,omitempty"`
	Resources  []*Resource `json:"resources"`

	// Extra carries the static metadata merged from configuration
	// (license, maintainer, methodology, notes, ...).
	Extra map[string]any `json:"-"`
}

// NewDataset creates a dataset with the given slug and title.
func NewDataset(name, title string) *Dataset {
	return &Dataset{
		Name:  name,
		Title: title,
		Extra: map[string]any{},
	}
}

// DatasetName derives the HDX dataset slug for a country.
func DatasetName(iso3 string) string {
	return "unep_wdpca_" + strings.ToLower(iso3)
}

// AddGroup attaches a country group.
func (d *Dataset) AddGroup(iso3 string) {
	d.Groups = append(d.Groups, Group{Name: strings.ToLower(iso3)})
}

// AddTags attaches tags from the approved vocabulary.
func (d *Dataset) AddTags(names []string) {
	for _, name := range names {
		d.Tags = append(d.Tags, Tag{Name: name, VocabularyID: VocabularyID})
	}
}

// SetTimePeriodYearRange records the dataset's reference period as whole
// years, matching the HDX date-range convention.
func (d *Dataset) SetTimePeriodYearRange(startYear, endYear int) {
	d.TimePeriod = fmt.Sprintf("[%d-01-01T00:00:00 TO %d-12-31T23:59:59]", startYear, endYear)
}

// AddUpdateResources appends resources in order.
func (d *Dataset) AddUpdateResources(resources []*Resource) {
	d.Resources = append(d.Resources, resources...)
}

// EnablePreview marks the dataset for resource-level preview and flags the
// given resource as the one to preview.
func (d *Dataset) EnablePreview(resource *Resource) {
	resource.PreviewEnabled = true
	d.Preview = "resource_id"
}

// ToMap renders the full metadata document, merging the static metadata with
// the generated fields. Generated fields win on conflict.
func (d *Dataset) ToMap() map[string]any {
	doc := make(map[string]any, len(d.Extra)+8)
	for k, v := range d.Extra {
		doc[k] = v
	}

	doc["name"] = d.Name
	doc["title"] = d.Title
	if len(d.Groups) > 0 {
		doc["groups"] = d.Groups
	}
	if len(d.Tags) > 0 {
		doc["tags"] = d.Tags
	}
	if d.TimePeriod != "" {
		doc["dataset_date"] = d.TimePeriod
	}
	if d.Preview != "" {
		doc["dataset_preview"] = d.Preview
	}
	return doc
}

// WriteJSON writes the metadata document (without resources) plus the
// resource list to path.
func (d *Dataset) WriteJSON(path string) error {
	doc := d.ToMap()
	doc["resources"] = d.Resources

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset %s: %w", d.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dataset %s: %w", d.Name, err)
	}
	return nil
}
