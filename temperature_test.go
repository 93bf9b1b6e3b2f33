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
	"math"
	"testing"
)

func TestSurfaceTemperature(t *testing.T) {
	s := initTestScene(t, testSceneData())
	if err := SpectralIndices()(s); err != nil {
		t.Fatal(err)
	}
	if err := SurfaceTemperature()(s); err != nil {
		t.Fatal(err)
	}

	lst := materializeField(t, s, LST)
	eNB := materializeField(t, s, EmissivityNB)

	λ := s.Sensor.ThermalWavelength()
	for _, p := range []struct {
		row, col int
		tb       float64
	}{
		{5, 5, 295},
		{25, 25, 305},
		{27, 27, 290},
	} {
		want := p.tb / (1 + λ/radiationConstant2*p.tb*math.Log(eNB.Get(p.row, p.col)))
		if different(lst.Get(p.row, p.col), want, 1e-9) {
			t.Errorf("LST at (%d, %d): have %g, want %g", p.row, p.col, lst.Get(p.row, p.col), want)
		}
		// With emissivity below one the correction warms the surface
		// relative to the brightness temperature.
		if lst.Get(p.row, p.col) <= p.tb {
			t.Errorf("LST %g K at (%d, %d) is not above the brightness temperature %g K",
				lst.Get(p.row, p.col), p.row, p.col, p.tb)
		}
	}
}

func TestSurfaceTemperatureLapseRate(t *testing.T) {
	d := testSceneData()
	d.Bands[Elevation] = uniformBand(d.Grid, 1000)
	s := initTestScene(t, d)
	if err := SpectralIndices()(s); err != nil {
		t.Fatal(err)
	}
	if err := SurfaceTemperature()(s); err != nil {
		t.Fatal(err)
	}

	lst := materializeField(t, s, LST)
	lstDEM := materializeField(t, s, LSTDEM)
	want := 1000 * lapseRate
	for i := range lst.Elements {
		if absDifferent(lstDEM.Elements[i]-lst.Elements[i], want, 1e-9) {
			t.Fatalf("lapse-rate correction at pixel %d: have %g K, want %g K",
				i, lstDEM.Elements[i]-lst.Elements[i], want)
		}
	}
}
