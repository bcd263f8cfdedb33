package hdx

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UpdateFromYAML merges static metadata from a YAML file into the dataset's
// extra fields. Fields the pipeline generates (name, title, groups, tags,
// dates) are never overridden by the static file.
func (d *Dataset) UpdateFromYAML(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- metadata path comes from configuration
	if err != nil {
		return fmt.Errorf("read static metadata %s: %w", path, err)
	}

	var static map[string]any
	if err := yaml.Unmarshal(data, &static); err != nil {
		return fmt.Errorf("parse static metadata %s: %w", path, err)
	}

	if d.Extra == nil {
		d.Extra = make(map[string]any, len(static))
	}
	for k, v := range static {
		d.Extra[k] = v
	}
	return nil
}
