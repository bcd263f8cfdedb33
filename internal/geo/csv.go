package geo

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ocha-dap/hdx-scraper-unep/internal/arcgis"
)

// WriteCSV writes the attribute columns of a table, one row per feature,
// dropping the geometry. Column order follows the layer's field order.
func WriteCSV(path string, table *Table) error {
	file, err := os.Create(path) // #nosec G304 -- staging dir is operator controlled
	if err != nil {
		return fmt.Errorf("create csv %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)

	fields := attributeFields(table.Fields)
	header := make([]string, len(fields))
	for i, field := range fields {
		header[i] = field.Name
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(fields))
	for _, feature := range table.Features {
		for i, field := range fields {
			row[i] = formatValue(feature.Attributes[field.Name], field.Type)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv %s: %w", path, err)
	}
	return nil
}

// attributeFields filters out geometry pseudo-columns reported by some
// services.
func attributeFields(fields []arcgis.Field) []arcgis.Field {
	out := make([]arcgis.Field, 0, len(fields))
	for _, field := range fields {
		if strings.EqualFold(field.Type, "esriFieldTypeGeometry") {
			continue
		}
		out = append(out, field)
	}
	return out
}

func formatValue(value any, fieldType string) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if IsIntegerField(fieldType) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// IsIntegerField reports whether an esriFieldType holds integral values.
func IsIntegerField(fieldType string) bool {
	switch fieldType {
	case "esriFieldTypeOID", "esriFieldTypeInteger", "esriFieldTypeSmallInteger", "esriFieldTypeDate":
		return true
	}
	return false
}
