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

package sebal

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/sebal/raster"
)

// Config holds the tunable parameters of the algorithm. The zero value
// selects the defaults established by Laipelt et al. (2021).
type Config struct {
	// NDVIColdPercentile restricts the cold anchor candidates to the
	// pixels with the top NDVIColdPercentile percent of NDVI.
	// Default 5.
	NDVIColdPercentile float64

	// LSTColdPercentile restricts the cold anchor candidates to the
	// coldest LSTColdPercentile percent of the vegetated pool.
	// Default 20.
	LSTColdPercentile float64

	// NDVIHotPercentile restricts the hot anchor candidates to the
	// pixels with the bottom NDVIHotPercentile percent of positive
	// NDVI. Default 10.
	NDVIHotPercentile float64

	// LSTHotPercentile restricts the hot anchor candidates to the
	// hottest LSTHotPercentile percent of the bare pool. Default 20.
	LSTHotPercentile float64

	// Passes is the number of passes of the sensible heat flux
	// iteration. Zero selects the default of 2; a negative value
	// iterates to convergence instead. See ConvergenceCheck.
	Passes int

	// MaxCloudCover skips scenes whose reported cloud cover [percent]
	// exceeds it. Zero disables the filter.
	MaxCloudCover float64

	// Workers is the number of scenes processed concurrently.
	// Default 1.
	Workers int
}

// withDefaults returns a copy of c with zero values replaced by the
// defaults. A nil receiver selects all defaults.
func (c *Config) withDefaults() *Config {
	out := Config{
		NDVIColdPercentile: 5,
		LSTColdPercentile:  20,
		NDVIHotPercentile:  10,
		LSTHotPercentile:   20,
		Passes:             2,
		Workers:            1,
	}
	if c == nil {
		return &out
	}
	out.MaxCloudCover = c.MaxCloudCover
	if c.NDVIColdPercentile != 0 {
		out.NDVIColdPercentile = c.NDVIColdPercentile
	}
	if c.LSTColdPercentile != 0 {
		out.LSTColdPercentile = c.LSTColdPercentile
	}
	if c.NDVIHotPercentile != 0 {
		out.NDVIHotPercentile = c.NDVIHotPercentile
	}
	if c.LSTHotPercentile != 0 {
		out.LSTHotPercentile = c.LSTHotPercentile
	}
	if c.Passes != 0 {
		out.Passes = c.Passes
	}
	if c.Workers != 0 {
		out.Workers = c.Workers
	}
	return &out
}

// check validates the configuration after defaults have been applied.
func (c *Config) check() error {
	for _, p := range []struct {
		name string
		val  float64
	}{
		{"NDVIColdPercentile", c.NDVIColdPercentile},
		{"LSTColdPercentile", c.LSTColdPercentile},
		{"NDVIHotPercentile", c.NDVIHotPercentile},
		{"LSTHotPercentile", c.LSTHotPercentile},
	} {
		if p.val <= 0 || p.val >= 100 {
			return fmt.Errorf("sebal: %s = %g must be between 0 and 100", p.name, p.val)
		}
	}
	if c.MaxCloudCover < 0 || c.MaxCloudCover > 100 {
		return fmt.Errorf("sebal: MaxCloudCover = %g must be within 0–100", c.MaxCloudCover)
	}
	if c.Workers < 1 {
		return fmt.Errorf("sebal: Workers = %d must be positive", c.Workers)
	}
	return nil
}

// NewScene assembles a ready-to-run scene from ingestion data: it
// validates the inputs and wires up the standard processing pipeline
// in dependency order. The incoming long-wave radiation uses the cold
// anchor temperature as its atmospheric reference, so anchor selection
// is split around the radiation step: the cold anchor is located
// before it, the hot anchor after it, once the fluxes it must sample
// exist.
//
// The caller remains free to modify InitFuncs and RunFuncs before
// calling Init and Run, for example to insert diagnostics between
// steps.
func NewScene(ctx context.Context, data *SceneData, met Meteorology, engine raster.Engine, c *Config) (*Scene, error) {
	c = c.withDefaults()
	if err := c.check(); err != nil {
		return nil, err
	}
	sensor, err := ParseSensor(data.SpacecraftID)
	if err != nil {
		return nil, fmt.Errorf("sebal: scene %s: %w", data.ID, err)
	}
	if err := met.Check(); err != nil {
		return nil, err
	}
	if data.Grid == nil {
		return nil, fmt.Errorf("sebal: scene %s has no grid", data.ID)
	}
	if g := engine.Grid(); g.NY != data.Grid.NY || g.NX != data.Grid.NX {
		return nil, fmt.Errorf("sebal: scene %s: engine grid %d×%d does not match scene grid %d×%d",
			data.ID, g.NY, g.NX, data.Grid.NY, data.Grid.NX)
	}
	s := &Scene{
		ID:           data.ID,
		Sensor:       sensor,
		Time:         data.Time,
		SunElevation: data.SunElevation,
		CloudCover:   data.CloudCover,
		Region:       data.Region,
		Proj:         data.Proj,
		Met:          met,
		engine:       engine,
		ctx:          ctx,
		InitFuncs: []SceneManipulator{
			Ingest(data),
		},
		RunFuncs: []SceneManipulator{
			SpectralIndices(),
			SurfaceTemperature(),
			ColdAnchor(c.NDVIColdPercentile, c.LSTColdPercentile),
			Radiation(),
			SoilHeatFlux(),
			HotAnchor(c.NDVIHotPercentile, c.LSTHotPercentile),
			SensibleHeatFlux(ConvergenceCheck(c.Passes)),
			DailyET(),
		},
	}
	return s, nil
}

// Result is the outcome of processing one scene.
type Result struct {
	// Scene is the fully processed scene, with all intermediate fields
	// still addressable.
	Scene *Scene

	// Name identifies the result, derived from the scene identifier.
	Name string

	// ET is the materialized daily evapotranspiration [mm day⁻¹] with
	// NaN marking invalid pixels.
	ET *sparse.DenseArray
}

// A Collection processes a stream of scenes into daily
// evapotranspiration results.
type Collection struct {
	// Scenes provides the scenes to process.
	Scenes SceneSource

	// Meteorology provides the per-scene meteorological aggregates.
	Meteorology MeteorologySource

	// Terrain provides elevation for scenes that do not carry their
	// own elevation band. It may be nil if every scene does.
	Terrain ElevationSource

	// Config holds the algorithm parameters; nil selects the defaults.
	Config *Config

	// NewEngine creates the raster engine for each scene. If it is
	// nil, an in-memory engine is used.
	NewEngine func(g *raster.Grid) (raster.Engine, error)

	// Log is the logger for status messages. If it is nil, messages
	// are discarded.
	Log logrus.FieldLogger
}

func (c *Collection) logger() logrus.FieldLogger {
	if c.Log == nil {
		return discardLog
	}
	return c.Log
}

func (c *Collection) newEngine(g *raster.Grid) (raster.Engine, error) {
	if c.NewEngine == nil {
		return raster.NewMemory(g), nil
	}
	return c.NewEngine(g)
}

// Run processes every scene from the source, up to Config.Workers of
// them concurrently, and returns the results in source order. A scene
// that fails is logged and skipped, so one bad scene cannot abort a
// batch; Run returns an error only if the source itself fails, the
// context is canceled, or no scene produces a result
// (ErrNoValidScenes).
func (c *Collection) Run(ctx context.Context) ([]Result, error) {
	if c.Scenes == nil {
		return nil, fmt.Errorf("sebal: collection has no scene source")
	}
	if c.Meteorology == nil {
		return nil, fmt.Errorf("sebal: collection has no meteorology source")
	}
	cfg := c.Config.withDefaults()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	log := c.logger()

	type job struct {
		i    int
		data *SceneData
	}
	var (
		mx  sync.Mutex
		out = make(map[int]Result)
	)
	jobs := make(chan job, cfg.Workers)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r, err := c.process(ctx, j.data, cfg)
				if err != nil {
					log.WithField("scene", j.data.ID).WithError(err).Warn("skipping scene")
					continue
				}
				mx.Lock()
				out[j.i] = r
				mx.Unlock()
			}
		}()
	}

	// The source is sequential, so it is drained here rather than in
	// the workers; the bounded job channel keeps at most Workers
	// scenes' band data in flight.
	var srcErr error
	n := 0
	for {
		data, err := c.Scenes.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			srcErr = err
			break
		}
		if cfg.MaxCloudCover > 0 && data.CloudCover > cfg.MaxCloudCover {
			log.WithFields(logrus.Fields{
				"scene":      data.ID,
				"cloudCover": data.CloudCover,
			}).Info("skipping cloudy scene")
			n++
			continue
		}
		select {
		case jobs <- job{i: n, data: data}:
		case <-ctx.Done():
			srcErr = ctx.Err()
		}
		if srcErr != nil {
			break
		}
		n++
	}
	close(jobs)
	wg.Wait()
	if srcErr != nil {
		return nil, srcErr
	}

	results := make([]Result, 0, len(out))
	for i := 0; i < n; i++ {
		if r, ok := out[i]; ok {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return nil, ErrNoValidScenes
	}
	log.WithFields(logrus.Fields{
		"scenes":  n,
		"results": len(results),
	}).Info("collection finished")
	return results, nil
}

// process runs the full pipeline for one scene.
func (c *Collection) process(ctx context.Context, data *SceneData, cfg *Config) (Result, error) {
	fail := func(err error) (Result, error) {
		return Result{}, &SceneError{SceneID: data.ID, Err: err}
	}
	met, err := c.Meteorology.Meteorology(ctx, data.Time, data.Region)
	if err != nil {
		return fail(err)
	}
	if _, ok := data.Bands[Elevation]; !ok {
		if c.Terrain == nil {
			return fail(fmt.Errorf("scene has no elevation band and the collection has no terrain source"))
		}
		dem, err := c.Terrain.Elevation(ctx, data.Grid, data.Region)
		if err != nil {
			return fail(err)
		}
		if data.Bands == nil {
			data.Bands = make(map[string]*sparse.DenseArray)
		}
		data.Bands[Elevation] = dem
	}
	engine, err := c.newEngine(data.Grid)
	if err != nil {
		return fail(err)
	}
	s, err := NewScene(ctx, data, met, engine, cfg)
	if err != nil {
		return fail(err)
	}
	s.Log = c.Log
	if err := s.Init(); err != nil {
		return fail(err)
	}
	if err := s.Run(); err != nil {
		return fail(err)
	}
	etField, err := s.Field(ET24)
	if err != nil {
		return fail(err)
	}
	et, err := engine.Materialize(ctx, etField)
	if err != nil {
		return fail(err)
	}
	return Result{Scene: s, Name: data.OutputName(), ET: et}, nil
}
