package geo

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ocha-dap/hdx-scraper-unep/internal/arcgis"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300      // GeoPackage 1.3
	wgs84SRID         = 4326
)

const wgs84Definition = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// GeoPackage writes feature tables into a SQLite file following the
// GeoPackage 1.3 encoding.
type GeoPackage struct {
	db   *sql.DB
	path string
}

// CreateGeoPackage creates a new GeoPackage at path. An existing file must be
// removed by the caller first; the writer refuses to append to stale output.
func CreateGeoPackage(path string) (*GeoPackage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage %s: %w", path, err)
	}

	g := &GeoPackage{db: db, path: path}
	if err := g.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *GeoPackage) init() error {
	stmts := []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE,
			min_y DOUBLE,
			max_x DOUBLE,
			max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
			CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
			CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.Exec(stmt); err != nil {
			return fmt.Errorf("init geopackage: %w", err)
		}
	}

	srs := []struct {
		name  string
		id    int
		org   string
		orgID int
		def   string
	}{
		{"Undefined cartesian SRS", -1, "NONE", -1, "undefined"},
		{"Undefined geographic SRS", 0, "NONE", 0, "undefined"},
		{"WGS 84 geodetic", wgs84SRID, "EPSG", wgs84SRID, wgs84Definition},
	}
	for _, s := range srs {
		if _, err := g.db.Exec(
			`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition) VALUES (?, ?, ?, ?, ?)`,
			s.name, s.id, s.org, s.orgID, s.def,
		); err != nil {
			return fmt.Errorf("init spatial ref sys: %w", err)
		}
	}

	return nil
}

// AddLayer writes a table as a feature table named layer.
func (g *GeoPackage) AddLayer(layer string, table *Table) error {
	fields := attributeFields(table.Fields)

	columns := make([]string, 0, len(fields)+2)
	columns = append(columns, "fid INTEGER PRIMARY KEY AUTOINCREMENT", "geom BLOB")
	for _, field := range fields {
		columns = append(columns, fmt.Sprintf("%s %s", quoteIdent(field.Name), sqliteType(field.Type)))
	}

	createStmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(layer), strings.Join(columns, ", "))
	if _, err := g.db.Exec(createStmt); err != nil {
		return fmt.Errorf("create feature table %s: %w", layer, err)
	}

	bound, err := g.insertFeatures(layer, fields, table)
	if err != nil {
		return err
	}

	if _, err := g.db.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id) VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		layer, layer, bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], wgs84SRID,
	); err != nil {
		return fmt.Errorf("register contents for %s: %w", layer, err)
	}

	if _, err := g.db.Exec(
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, 'geom', ?, ?, 0, 0)`,
		layer, GeometryTypeName(table.GeometryType), wgs84SRID,
	); err != nil {
		return fmt.Errorf("register geometry column for %s: %w", layer, err)
	}

	return nil
}

func (g *GeoPackage) insertFeatures(layer string, fields []arcgis.Field, table *Table) (orb.Bound, error) {
	placeholders := make([]string, 0, len(fields)+1)
	names := make([]string, 0, len(fields)+1)
	names = append(names, "geom")
	placeholders = append(placeholders, "?")
	for _, field := range fields {
		names = append(names, quoteIdent(field.Name))
		placeholders = append(placeholders, "?")
	}

	insertStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(layer), strings.Join(names, ", "), strings.Join(placeholders, ", "),
	)

	tx, err := g.db.Begin()
	if err != nil {
		return orb.Bound{}, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(insertStmt)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("prepare insert for %s: %w", layer, err)
	}
	defer func() { _ = stmt.Close() }()

	var bound orb.Bound
	haveBound := false

	for i, feature := range table.Features {
		args := make([]any, 0, len(fields)+1)

		var blob any
		if feature.Geometry != nil {
			encoded, err := encodeGeometry(feature.Geometry)
			if err != nil {
				return orb.Bound{}, fmt.Errorf("encode geometry for feature %d: %w", i, err)
			}
			blob = encoded

			b := feature.Geometry.Bound()
			if haveBound {
				bound = bound.Union(b)
			} else {
				bound = b
				haveBound = true
			}
		}
		args = append(args, blob)

		for _, field := range fields {
			args = append(args, sqliteValue(feature.Attributes[field.Name], field.Type))
		}

		if _, err := stmt.Exec(args...); err != nil {
			return orb.Bound{}, fmt.Errorf("insert feature %d into %s: %w", i, layer, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return orb.Bound{}, fmt.Errorf("commit %s: %w", layer, err)
	}
	return bound, nil
}

// Close flushes and closes the underlying database.
func (g *GeoPackage) Close() error {
	return g.db.Close()
}

// encodeGeometry produces a GeoPackage binary blob: the "GP" header followed
// by little-endian WKB. No envelope is embedded; readers recompute it.
func encodeGeometry(geom orb.Geometry) ([]byte, error) {
	wkbData, err := wkb.Marshal(geom)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 8)
	header[0] = 'G'
	header[1] = 'P'
	header[2] = 0    // version
	header[3] = 0x01 // flags: little-endian, no envelope
	binary.LittleEndian.PutUint32(header[4:], wgs84SRID)

	return append(header, wkbData...), nil
}

func sqliteType(fieldType string) string {
	switch fieldType {
	case "esriFieldTypeOID", "esriFieldTypeInteger", "esriFieldTypeSmallInteger", "esriFieldTypeDate":
		return "MEDIUMINT"
	case "esriFieldTypeDouble", "esriFieldTypeSingle":
		return "REAL"
	default:
		return "TEXT"
	}
}

func sqliteValue(value any, fieldType string) any {
	if v, ok := value.(float64); ok && IsIntegerField(fieldType) {
		return int64(v)
	}
	return value
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
