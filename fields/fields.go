/*
Copyright © 2025 the SEBAL authors.
This file is part of SEBAL.

SEBAL is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SEBAL is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SEBAL.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package fields aggregates scene evapotranspiration rasters over
// agricultural field boundaries and keeps the resulting time series
// in a PostGIS database.
package fields

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/jackc/pgx/v4"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/sebal"
	"github.com/spatialmodel/sebal/raster"
)

// A Field is an agricultural management unit with a polygon boundary.
// The boundary must be in the same spatial reference as the scene
// grids it is aggregated over.
type Field struct {
	// ID is the database identifier. It is zero until the field has
	// been stored.
	ID int64

	// Name identifies the field. Names are unique within a Store.
	Name string

	// Geom is the field boundary.
	Geom geom.Polygonal
}

// Bounds returns the bounding box of the field boundary.
func (f *Field) Bounds() *geom.Bounds { return f.Geom.Bounds() }

// A Sample is the aggregate daily evapotranspiration of one field in
// one scene.
type Sample struct {
	// Scene is the identifier of the scene the sample came from.
	Scene string

	// Acquired is the scene acquisition time.
	Acquired time.Time

	// ET is the mean daily evapotranspiration over the valid pixels
	// of the field [mm day⁻¹].
	ET float64

	// Pixels is the number of valid pixels the mean was taken over.
	Pixels int
}

// A Season restricts a time series to the months of a growing season.
// The zero value keeps all months. A season may wrap the end of the
// year, as in StartMonth November, EndMonth March.
type Season struct {
	StartMonth time.Month
	EndMonth   time.Month
}

func (s Season) contains(t time.Time) bool {
	if s.StartMonth == 0 || s.EndMonth == 0 {
		return true
	}
	m := t.Month()
	if s.StartMonth <= s.EndMonth {
		return s.StartMonth <= m && m <= s.EndMonth
	}
	return m >= s.StartMonth || m <= s.EndMonth
}

// A Store reads and writes field boundaries and per-field
// evapotranspiration time series in a PostGIS database.
type Store struct {
	conn *pgx.Conn

	// Log is the logger for status messages. If it is nil, messages
	// are discarded.
	Log logrus.FieldLogger
}

// Connect opens a connection to the PostGIS database at connURL.
func Connect(ctx context.Context, connURL string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("fields: connecting to database: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (st *Store) Close(ctx context.Context) error { return st.conn.Close(ctx) }

var schema = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE TABLE IF NOT EXISTS fields (
	id BIGSERIAL PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	boundary GEOMETRY NOT NULL
);
CREATE INDEX IF NOT EXISTS fields_boundary_idx ON fields USING GIST (boundary);
CREATE TABLE IF NOT EXISTS field_et (
	field_id BIGINT NOT NULL REFERENCES fields (id),
	scene TEXT NOT NULL,
	acquired TIMESTAMPTZ NOT NULL,
	et_mm DOUBLE PRECISION NOT NULL,
	pixels INTEGER NOT NULL,
	PRIMARY KEY (field_id, scene)
);`

// InitSchema creates the tables used by the Store if they do not
// already exist.
func (st *Store) InitSchema(ctx context.Context) error {
	if _, err := st.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("fields: initializing schema: %w", err)
	}
	return nil
}

// AddField stores f, returning the assigned database identifier.
// If a field with the same name already exists its boundary is
// replaced and its existing identifier is returned. The boundary is
// transferred as GeoJSON so no geometry information is lost to
// driver-side binary encodings.
func (st *Store) AddField(ctx context.Context, f *Field) (int64, error) {
	b, err := geojson.Encode(f.Geom)
	if err != nil {
		return 0, fmt.Errorf("fields: encoding boundary of %s: %w", f.Name, err)
	}
	var id int64
	err = st.conn.QueryRow(ctx, `
		INSERT INTO fields (name, boundary)
		VALUES ($1, ST_GeomFromGeoJSON($2))
		ON CONFLICT (name) DO UPDATE SET boundary = EXCLUDED.boundary
		RETURNING id`, f.Name, string(b)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fields: storing %s: %w", f.Name, err)
	}
	f.ID = id
	return id, nil
}

// Fields returns all stored fields, ordered by name.
func (st *Store) Fields(ctx context.Context) ([]*Field, error) {
	rows, err := st.conn.Query(ctx,
		`SELECT id, name, ST_AsGeoJSON(boundary) FROM fields ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("fields: querying fields: %w", err)
	}
	defer rows.Close()
	var out []*Field
	for rows.Next() {
		var (
			f  Field
			gj string
		)
		if err := rows.Scan(&f.ID, &f.Name, &gj); err != nil {
			return nil, fmt.Errorf("fields: scanning field: %w", err)
		}
		g, err := geojson.Decode([]byte(gj))
		if err != nil {
			return nil, fmt.Errorf("fields: decoding boundary of %s: %w", f.Name, err)
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("fields: boundary of %s is a %T; want a polygon", f.Name, g)
		}
		f.Geom = p
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fields: reading fields: %w", err)
	}
	return out, nil
}

// LoadShapefile reads field boundaries from the given shapefile and
// stores them, returning the number of boundaries loaded. nameColumn
// is the attribute column holding the field names; boundaries for
// names that already exist in the database are replaced. If sr is
// non-nil the boundaries are transformed from the shapefile's
// spatial reference to sr before they are stored.
func (st *Store) LoadShapefile(ctx context.Context, filename, nameColumn string, sr *proj.SR) (int, error) {
	d, err := shp.NewDecoder(filename)
	if err != nil {
		return 0, fmt.Errorf("fields: opening %s: %w", filename, err)
	}
	defer d.Close()
	var trans proj.Transformer
	if sr != nil {
		fileSR, err := d.SR()
		if err != nil {
			return 0, fmt.Errorf("fields: reading projection of %s: %w", filename, err)
		}
		trans, err = fileSR.NewTransform(sr)
		if err != nil {
			return 0, fmt.Errorf("fields: transforming %s: %w", filename, err)
		}
	}
	n := 0
	for {
		g, attrs, more := d.DecodeRowFields(nameColumn)
		if !more {
			break
		}
		if trans != nil {
			g, err = g.Transform(trans)
			if err != nil {
				return n, fmt.Errorf("fields: transforming row %d of %s: %w", n, filename, err)
			}
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return n, fmt.Errorf("fields: row %d of %s is a %T; want a polygon", n, filename, g)
		}
		name := strings.TrimSpace(attrs[nameColumn])
		if name == "" {
			return n, fmt.Errorf("fields: row %d of %s is missing attribute %s", n, filename, nameColumn)
		}
		if _, err := st.AddField(ctx, &Field{Name: name, Geom: p}); err != nil {
			return n, err
		}
		n++
	}
	if err := d.Error(); err != nil {
		return n, fmt.Errorf("fields: reading %s: %w", filename, err)
	}
	return n, nil
}

// RecordResults aggregates the daily evapotranspiration of each
// result scene over the stored field boundaries, recording one
// sample per field and scene. Fields outside a scene's grid, and
// fields whose pixels are all cloud-masked, are skipped. A sample
// that already exists for a field and scene is replaced.
func (st *Store) RecordResults(ctx context.Context, results []sebal.Result) error {
	flds, err := st.Fields(ctx)
	if err != nil {
		return err
	}
	tree := rtree.NewTree(25, 50)
	for _, f := range flds {
		tree.Insert(f)
	}
	log := st.logger()
	for _, r := range results {
		e := r.Scene.Engine()
		et, err := r.Scene.Field(sebal.ET24)
		if err != nil {
			return fmt.Errorf("fields: scene %s: %w", r.Name, err)
		}
		n := 0
		for _, fI := range tree.SearchIntersect(e.Grid().Bounds()) {
			f := fI.(*Field)
			s, err := st.sample(ctx, e, et, f, r)
			if err != nil {
				return err
			}
			if s == nil {
				continue
			}
			if err := st.record(ctx, f, s); err != nil {
				return err
			}
			n++
		}
		log.WithFields(logrus.Fields{
			"scene":  r.Name,
			"fields": n,
		}).Info("recorded field samples")
	}
	return nil
}

// sample aggregates one field over one scene. It returns nil if the
// field contains no valid pixels.
func (st *Store) sample(ctx context.Context, e raster.Engine, et *raster.Image, f *Field, r sebal.Result) (*Sample, error) {
	count, err := e.ReduceRegion(ctx, et, raster.Count, f.Geom)
	if err != nil {
		return nil, fmt.Errorf("fields: sampling %s over scene %s: %w", f.Name, r.Name, err)
	}
	if count == 0 {
		st.logger().WithFields(logrus.Fields{
			"scene": r.Name,
			"field": f.Name,
		}).Debug("no valid pixels in field")
		return nil, nil
	}
	mean, err := e.ReduceRegion(ctx, et, raster.Mean, f.Geom)
	if err != nil {
		return nil, fmt.Errorf("fields: sampling %s over scene %s: %w", f.Name, r.Name, err)
	}
	return &Sample{
		Scene:    r.Name,
		Acquired: r.Scene.Time,
		ET:       mean,
		Pixels:   int(count),
	}, nil
}

func (st *Store) record(ctx context.Context, f *Field, s *Sample) error {
	_, err := st.conn.Exec(ctx, `
		INSERT INTO field_et (field_id, scene, acquired, et_mm, pixels)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (field_id, scene) DO UPDATE
		SET acquired = EXCLUDED.acquired, et_mm = EXCLUDED.et_mm,
			pixels = EXCLUDED.pixels`,
		f.ID, s.Scene, s.Acquired, s.ET, s.Pixels)
	if err != nil {
		return fmt.Errorf("fields: recording %s for scene %s: %w", f.Name, s.Scene, err)
	}
	return nil
}

// Series returns the evapotranspiration time series of the named
// field, ordered by acquisition time. Samples acquired outside
// season are omitted.
func (st *Store) Series(ctx context.Context, fieldName string, season Season) ([]Sample, error) {
	rows, err := st.conn.Query(ctx, `
		SELECT e.scene, e.acquired, e.et_mm, e.pixels
		FROM field_et AS e
		JOIN fields AS f ON f.id = e.field_id
		WHERE f.name = $1
		ORDER BY e.acquired`, fieldName)
	if err != nil {
		return nil, fmt.Errorf("fields: querying series for %s: %w", fieldName, err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Scene, &s.Acquired, &s.ET, &s.Pixels); err != nil {
			return nil, fmt.Errorf("fields: scanning sample for %s: %w", fieldName, err)
		}
		if !season.contains(s.Acquired) {
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fields: reading series for %s: %w", fieldName, err)
	}
	if len(out) == 0 {
		// Distinguish a field with no samples from a misspelled name.
		var id int64
		err := st.conn.QueryRow(ctx,
			`SELECT id FROM fields WHERE name = $1`, fieldName).Scan(&id)
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("fields: no field named %q", fieldName)
		} else if err != nil {
			return nil, fmt.Errorf("fields: querying field %s: %w", fieldName, err)
		}
	}
	return out, nil
}

// discardLog swallows status messages for stores without a logger.
var discardLog = func() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}()

func (st *Store) logger() logrus.FieldLogger {
	if st.Log == nil {
		return discardLog
	}
	return st.Log
}
