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
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/unit"

	"github.com/spatialmodel/sebal/raster"
)

func TestOutputName(t *testing.T) {
	tests := []struct{ id, want string }{
		{"LC08_L2SP_042033_20210615_20210622_02_T1", "LC08_042033_20210615"},
		{"LT05_L2SP_231062_20000318_20200907_02_T1", "LT05_231062_20000318"},
		{"custom-scene", "custom-scene"},
		{"", ""},
	}
	for _, test := range tests {
		d := &SceneData{ID: test.id}
		if have := d.OutputName(); have != test.want {
			t.Errorf("OutputName(%q): have %q, want %q", test.id, have, test.want)
		}
	}
}

func TestNewMeteorology(t *testing.T) {
	m, err := NewMeteorology(
		unit.New(293.15, unit.Kelvin),
		unit.New(2, unit.MeterPerSecond),
		unit.New(50, unit.Dimless),
		unit.New(150, wattPerMeter2),
	)
	if err != nil {
		t.Fatal(err)
	}
	if m.AirTemperature != 293.15 || m.WindSpeed != 2 || m.RelativeHumidity != 50 || m.NetRadiation24 != 150 {
		t.Errorf("unexpected values: %+v", m)
	}

	// Wrong dimensions fail at the source boundary.
	if _, err := NewMeteorology(
		unit.New(20, unit.Dimless),
		unit.New(2, unit.MeterPerSecond),
		unit.New(50, unit.Dimless),
		unit.New(150, wattPerMeter2),
	); err == nil || !strings.Contains(err.Error(), "air temperature") {
		t.Errorf("have %v, want an air temperature unit error", err)
	}
	if _, err := NewMeteorology(
		unit.New(293.15, unit.Kelvin),
		unit.New(2, unit.Meter),
		unit.New(50, unit.Dimless),
		unit.New(150, wattPerMeter2),
	); err == nil || !strings.Contains(err.Error(), "wind speed") {
		t.Errorf("have %v, want a wind speed unit error", err)
	}
	if _, err := NewMeteorology(
		unit.New(293.15, unit.Kelvin),
		unit.New(2, unit.MeterPerSecond),
		unit.New(50, unit.Dimless),
		unit.New(150, unit.Watt),
	); err == nil || !strings.Contains(err.Error(), "net radiation") {
		t.Errorf("have %v, want a net radiation unit error", err)
	}
}

func TestMeteorologyCheck(t *testing.T) {
	tests := []struct {
		m    Meteorology
		ok   bool
		want string
	}{
		{testMeteorology(), true, ""},
		{Meteorology{}, false, "air temperature"},
		{Meteorology{AirTemperature: 290}, false, "wind speed"},
		{Meteorology{AirTemperature: 290, WindSpeed: 2, RelativeHumidity: 130, NetRadiation24: 150}, false, "relative humidity"},
		{Meteorology{AirTemperature: 290, WindSpeed: 2, RelativeHumidity: 50}, false, "net radiation"},
	}
	for i, test := range tests {
		err := test.m.Check()
		if test.ok && err != nil {
			t.Errorf("case %d: unexpected error %v", i, err)
		}
		if !test.ok && (err == nil || !strings.Contains(err.Error(), test.want)) {
			t.Errorf("case %d: have %v, want an error mentioning %q", i, err, test.want)
		}
	}
}

func TestIngestMissingBand(t *testing.T) {
	d := testSceneData()
	delete(d.Bands, NIR)
	s, err := NewScene(context.Background(), d, testMeteorology(), raster.NewMemory(d.Grid), nil)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Init()
	if err == nil || !strings.Contains(err.Error(), "missing band nir") {
		t.Errorf("have %v, want a missing band error", err)
	}
}

func TestIngestMasking(t *testing.T) {
	d := testSceneData()
	d.Bands[Red].Set(1.5, 0, 0)     // out of the physical reflectance range
	d.Bands[CloudMask].Set(0, 1, 1) // cloudy pixel
	s, err := NewScene(context.Background(), d, testMeteorology(), raster.NewMemory(d.Grid), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	red := materializeField(t, s, Red)
	if !math.IsNaN(red.Get(0, 0)) {
		t.Errorf("out-of-range reflectance was not masked: %g", red.Get(0, 0))
	}
	if !math.IsNaN(red.Get(1, 1)) {
		t.Errorf("cloudy reflectance was not masked: %g", red.Get(1, 1))
	}
	if math.IsNaN(red.Get(2, 2)) {
		t.Error("a clear, in-range pixel was masked")
	}

	thermal := materializeField(t, s, Thermal)
	if !math.IsNaN(thermal.Get(1, 1)) {
		t.Errorf("cloudy thermal pixel was not masked: %g", thermal.Get(1, 1))
	}

	// Elevation stays unmasked: terrain is defined under clouds too.
	dem := materializeField(t, s, Elevation)
	if math.IsNaN(dem.Get(1, 1)) {
		t.Error("elevation was masked under cloud")
	}

	// Ingestion order: the cloud mask first, then the reflectance
	// bands in instrument order, thermal, and elevation.
	names := s.Fields()
	if names[0] != CloudMask {
		t.Errorf("first ingested field: have %s, want %s", names[0], CloudMask)
	}
	if names[len(names)-1] != Elevation {
		t.Errorf("last ingested field: have %s, want %s", names[len(names)-1], Elevation)
	}
}

func TestSliceSceneSource(t *testing.T) {
	a, b := testSceneData(), testSceneData()
	b.ID = "second"
	src := SliceSceneSource(a, b)
	ctx := context.Background()

	d1, err := src.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d1.ID != a.ID {
		t.Errorf("first scene: have %s, want %s", d1.ID, a.ID)
	}
	if d2, err := src.Next(ctx); err != nil || d2.ID != "second" {
		t.Errorf("second scene: have %v, %v", d2, err)
	}
	if _, err := src.Next(ctx); err != io.EOF {
		t.Errorf("after the last scene: have %v, want io.EOF", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	src = SliceSceneSource(a)
	if _, err := src.Next(canceled); err == nil {
		t.Error("expected an error from a canceled context")
	}
}

func TestFilterScenes(t *testing.T) {
	mk := func(id string, day int) *SceneData {
		return &SceneData{ID: id, Time: time.Date(2021, time.June, day, 18, 30, 0, 0, time.UTC)}
	}
	scenes := []*SceneData{
		mk("LC08_L2SP_042033_20210601_20210610_02_T1", 1),
		mk("LC08_L2SP_042034_20210615_20210622_02_T1", 15),
		mk("LC09_L2SP_042033_20210629_20210706_02_T1", 29),
	}
	ctx := context.Background()

	src := FilterScenes(SliceSceneSource(scenes...), PathRow(42, 33))
	var kept []string
	for {
		d, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		kept = append(kept, d.OutputName())
	}
	if got := strings.Join(kept, " "); got != "LC08_042033_20210601 LC09_042033_20210629" {
		t.Errorf("path/row filter kept %q", got)
	}

	start := time.Date(2021, time.June, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, time.June, 29, 0, 0, 0, 0, time.UTC)
	src = FilterScenes(SliceSceneSource(scenes...), AcquiredBetween(start, end))
	kept = nil
	for {
		d, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		kept = append(kept, d.ID)
	}
	if len(kept) != 1 || kept[0] != scenes[1].ID {
		t.Errorf("acquisition window filter kept %v", kept)
	}
}

func TestConstantElevation(t *testing.T) {
	g := testGrid()
	dem, err := ConstantElevation(1250).Elevation(context.Background(), g, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(dem.Elements) != g.Size() {
		t.Fatalf("elevation array length: have %d, want %d", len(dem.Elements), g.Size())
	}
	for i, v := range dem.Elements {
		if v != 1250 {
			t.Fatalf("elevation at pixel %d: have %g, want 1250", i, v)
		}
	}
}
