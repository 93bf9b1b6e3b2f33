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
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"

	"github.com/spatialmodel/sebal/raster"
)

// SceneData is the raw material for one scene as delivered by a
// SceneSource: provider metadata plus the calibrated bands.
type SceneData struct {
	// ID is the scene identifier, typically the Landsat product
	// identifier.
	ID string

	// SpacecraftID is the provider's spacecraft identifier. It is
	// resolved to a Sensor exactly once, at ingestion; unsupported
	// values reject the scene.
	SpacecraftID string

	// Time is the acquisition time.
	Time time.Time

	// SunElevation is the solar elevation angle at acquisition
	// [degrees].
	SunElevation float64

	// CloudCover is the scene cloud-cover fraction reported by the
	// provider [percent].
	CloudCover float64

	// Grid is the pixel layout of the bands.
	Grid *raster.Grid

	// Region is the region of interest the scene was retrieved for.
	Region geom.Polygonal

	// Proj is the spatial reference definition of the grid coordinates
	// kept verbatim for output sidecar files. It may be empty.
	Proj string

	// Bands holds the calibrated input rasters, keyed by the band
	// name constants: surface reflectance [-] for the sensor's
	// reflectance bands, brightness temperature [K] for Thermal,
	// 1 where clear for CloudMask, and terrain height [m] for
	// Elevation.
	Bands map[string]*sparse.DenseArray
}

// OutputName returns the compact name under which the scene's daily ET
// field is collected: the sensor prefix, path/row, and acquisition
// date of a Collection 2 product identifier. Identifiers in any other
// format are returned unchanged.
func (d *SceneData) OutputName() string {
	if len(d.ID) >= 25 {
		return d.ID[:5] + d.ID[10:17] + d.ID[17:25]
	}
	return d.ID
}

// SceneSource streams the scenes of a collection, typically in
// acquisition order.
type SceneSource interface {
	// Next returns the data for the next scene, or io.EOF after the
	// last scene.
	Next(ctx context.Context) (*SceneData, error)
}

// MeteorologySource provides the per-scene meteorological aggregates
// for a given overpass time and region.
type MeteorologySource interface {
	Meteorology(ctx context.Context, t time.Time, region geom.Polygonal) (Meteorology, error)
}

// ElevationSource provides terrain height [m] for a region, resampled
// to grid g.
type ElevationSource interface {
	Elevation(ctx context.Context, g *raster.Grid, region geom.Polygonal) (*sparse.DenseArray, error)
}

// Meteorology holds the per-scene meteorological aggregates. The
// values are treated as constants for the duration of one scene's
// processing.
type Meteorology struct {
	// AirTemperature is the near-surface air temperature at the
	// overpass time [K].
	AirTemperature float64

	// WindSpeed is the wind speed at the 2 m measurement height
	// [m s⁻¹].
	WindSpeed float64

	// RelativeHumidity is the near-surface relative humidity
	// [percent].
	RelativeHumidity float64

	// NetRadiation24 is the 24-hour average net radiation [W m⁻²].
	NetRadiation24 float64
}

// wattPerMeter2 is the expected dimension of the 24-hour net
// radiation [kg s⁻³].
var wattPerMeter2 = unit.Dimensions{unit.MassDim: 1, unit.TimeDim: -3}

// NewMeteorology builds a Meteorology from dimensioned values so that
// unit mistakes fail at the source boundary instead of corrupting the
// energy balance. Air temperature must be in K, wind speed in m s⁻¹,
// relative humidity dimensionless [percent], and 24-hour net
// radiation in W m⁻².
func NewMeteorology(airTemperature, windSpeed, relativeHumidity, netRadiation24 *unit.Unit) (Meteorology, error) {
	if err := airTemperature.Check(unit.Kelvin); err != nil {
		return Meteorology{}, fmt.Errorf("sebal: air temperature: %v", err)
	}
	if err := windSpeed.Check(unit.MeterPerSecond); err != nil {
		return Meteorology{}, fmt.Errorf("sebal: wind speed: %v", err)
	}
	if err := relativeHumidity.Check(unit.Dimless); err != nil {
		return Meteorology{}, fmt.Errorf("sebal: relative humidity: %v", err)
	}
	if err := netRadiation24.Check(wattPerMeter2); err != nil {
		return Meteorology{}, fmt.Errorf("sebal: 24-hour net radiation: %v", err)
	}
	m := Meteorology{
		AirTemperature:   airTemperature.Value(),
		WindSpeed:        windSpeed.Value(),
		RelativeHumidity: relativeHumidity.Value(),
		NetRadiation24:   netRadiation24.Value(),
	}
	return m, m.Check()
}

// Check validates the physical plausibility of the meteorological
// values.
func (m Meteorology) Check() error {
	if !(m.AirTemperature > 0) {
		return fmt.Errorf("sebal: air temperature %g K must be positive", m.AirTemperature)
	}
	if !(m.WindSpeed > 0) {
		return fmt.Errorf("sebal: wind speed %g m/s must be positive", m.WindSpeed)
	}
	if m.RelativeHumidity < 0 || m.RelativeHumidity > 100 {
		return fmt.Errorf("sebal: relative humidity %g%% must be within 0–100", m.RelativeHumidity)
	}
	if !(m.NetRadiation24 > 0) {
		return fmt.Errorf("sebal: 24-hour net radiation %g W/m² must be positive", m.NetRadiation24)
	}
	return nil
}

// Ingest returns a SceneManipulator that registers data's bands with
// the scene's engine and appends the ingested fields to the arena.
// Reflectance bands are masked by the cloud mask and restricted to
// the physical 0–1 reflectance range; out-of-range pixels become
// no-data rather than being clamped. The thermal band is cloud-masked
// and elevation is registered unmasked.
//
// If the engine implements raster.BandAdder the band arrays are
// registered with it; otherwise the engine is assumed to already know
// the scene's bands, as a remote engine would.
func Ingest(data *SceneData) SceneManipulator {
	return func(s *Scene) error {
		required := append(s.Sensor.ReflectanceBands(), Thermal, CloudMask, Elevation)
		for _, name := range required {
			if _, ok := data.Bands[name]; !ok {
				return fmt.Errorf("sebal: scene %s is missing band %s", data.ID, name)
			}
		}
		if adder, ok := s.Engine().(raster.BandAdder); ok {
			for name, d := range data.Bands {
				if err := adder.AddBand(name, d); err != nil {
					return err
				}
			}
		}

		cloud := raster.Band(CloudMask)
		if err := s.Set(CloudMask, cloud); err != nil {
			return err
		}
		for _, name := range s.Sensor.ReflectanceBands() {
			leaf := raster.Band(name)
			inRange := leaf.Gte(raster.Const(0)).And(leaf.Lte(raster.Const(1)))
			if err := s.Set(name, leaf.UpdateMask(cloud).UpdateMask(inRange)); err != nil {
				return err
			}
		}
		if err := s.Set(Thermal, raster.Band(Thermal).UpdateMask(cloud)); err != nil {
			return err
		}
		return s.Set(Elevation, raster.Band(Elevation))
	}
}

// sliceSceneSource streams scenes from a slice; it is the source used
// for pre-assembled scene data.
type sliceSceneSource struct {
	scenes []*SceneData
	i      int
}

// SliceSceneSource returns a SceneSource that streams the given
// scenes in order.
func SliceSceneSource(scenes ...*SceneData) SceneSource {
	return &sliceSceneSource{scenes: scenes}
}

func (s *sliceSceneSource) Next(ctx context.Context) (*SceneData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.i >= len(s.scenes) {
		return nil, io.EOF
	}
	d := s.scenes[s.i]
	s.i++
	return d, nil
}

// FilterScenes returns a SceneSource that streams only the scenes from
// src for which keep returns true. Predicates such as AcquiredBetween
// and PathRow restrict a run to an acquisition window or a single
// footprint without changing the underlying source.
func FilterScenes(src SceneSource, keep func(*SceneData) bool) SceneSource {
	return &filterSceneSource{src: src, keep: keep}
}

type filterSceneSource struct {
	src  SceneSource
	keep func(*SceneData) bool
}

func (f *filterSceneSource) Next(ctx context.Context) (*SceneData, error) {
	for {
		d, err := f.src.Next(ctx)
		if err != nil {
			return nil, err
		}
		if f.keep(d) {
			return d, nil
		}
	}
}

// AcquiredBetween keeps the scenes acquired within [start, end).
func AcquiredBetween(start, end time.Time) func(*SceneData) bool {
	return func(d *SceneData) bool {
		return !d.Time.Before(start) && d.Time.Before(end)
	}
}

// PathRow keeps the scenes whose product identifier matches the given
// WRS-2 path and row. Scenes with identifiers in any other format are
// dropped.
func PathRow(path, row int) func(*SceneData) bool {
	want := fmt.Sprintf("%03d%03d", path, row)
	return func(d *SceneData) bool {
		return len(d.ID) >= 16 && d.ID[10:16] == want
	}
}

// ConstantMeteorology is a MeteorologySource that returns the same
// values for every scene.
type ConstantMeteorology Meteorology

func (m ConstantMeteorology) Meteorology(ctx context.Context, t time.Time, region geom.Polygonal) (Meteorology, error) {
	met := Meteorology(m)
	return met, met.Check()
}

// ConstantElevation is an ElevationSource with uniform terrain height.
type ConstantElevation float64

func (e ConstantElevation) Elevation(ctx context.Context, g *raster.Grid, region geom.Polygonal) (*sparse.DenseArray, error) {
	d := sparse.ZerosDense(g.NY, g.NX)
	for i := range d.Elements {
		d.Elements[i] = float64(e)
	}
	return d, nil
}
