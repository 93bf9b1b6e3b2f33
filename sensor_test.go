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
	"errors"
	"testing"
)

func TestParseSensor(t *testing.T) {
	tests := []struct {
		id   string
		want Sensor
	}{
		{"LANDSAT_5", Landsat5},
		{"LANDSAT_7", Landsat7},
		{"LANDSAT_8", Landsat8},
		{"LANDSAT_9", Landsat9},
	}
	for _, test := range tests {
		s, err := ParseSensor(test.id)
		if err != nil {
			t.Fatalf("%s: %v", test.id, err)
		}
		if s != test.want {
			t.Errorf("%s: have %v, want %v", test.id, s, test.want)
		}
		if s.String() != test.id {
			t.Errorf("String(%v): have %s, want %s", test.want, s, test.id)
		}
	}

	_, err := ParseSensor("SENTINEL_2")
	if !errors.Is(err, ErrUnsupportedSensor) {
		t.Errorf("SENTINEL_2: have %v, want ErrUnsupportedSensor", err)
	}
	if s := Sensor(0); s.String() != "Sensor(0)" {
		t.Errorf("zero sensor: have %s", s)
	}
}

func TestReflectanceBands(t *testing.T) {
	b8 := Landsat8.ReflectanceBands()
	if len(b8) != 7 || b8[0] != UltraBlue {
		t.Errorf("Landsat 8 bands: %v", b8)
	}
	b5 := Landsat5.ReflectanceBands()
	if len(b5) != 6 || b5[0] != Blue {
		t.Errorf("Landsat 5 bands: %v", b5)
	}
}

func TestAlbedoWeights(t *testing.T) {
	for _, s := range []Sensor{Landsat5, Landsat7, Landsat8, Landsat9} {
		w := s.AlbedoWeights()
		if len(w) != len(s.ReflectanceBands()) {
			t.Errorf("%v: %d weights for %d bands", s, len(w), len(s.ReflectanceBands()))
		}
		var sum float64
		for _, v := range w {
			sum += v
		}
		if absDifferent(sum, 1, 0.002) {
			t.Errorf("%v: weights sum to %g", s, sum)
		}
	}
}

func TestRadiometricScaling(t *testing.T) {
	if v := Landsat8.ScaleReflectance(10000); different(v, 0.075, 1e-12) {
		t.Errorf("reflectance of DN 10000: have %g, want 0.075", v)
	}
	if v := Landsat8.ScaleThermal(30000); different(v, 251.5406, 1e-12) {
		t.Errorf("brightness temperature of DN 30000: have %g K, want 251.5406 K", v)
	}
}

func TestRawBandNames(t *testing.T) {
	m8 := Landsat8.RawBandNames()
	if len(m8) != 8 || m8["SR_B1"] != UltraBlue || m8["ST_B10"] != Thermal {
		t.Errorf("Landsat 8 band names: %v", m8)
	}
	m5 := Landsat5.RawBandNames()
	if len(m5) != 7 || m5["SR_B1"] != Blue || m5["ST_B6"] != Thermal {
		t.Errorf("Landsat 5 band names: %v", m5)
	}
	for _, ingested := range m5 {
		if ingested == UltraBlue {
			t.Error("TM has no ultra-blue band")
		}
	}
}

func TestThermalWavelength(t *testing.T) {
	tests := []struct {
		s    Sensor
		want float64
	}{
		{Landsat5, 11.45e-6},
		{Landsat7, 11.27e-6},
		{Landsat8, 10.895e-6},
		{Landsat9, 10.895e-6},
	}
	for _, test := range tests {
		if have := test.s.ThermalWavelength(); have != test.want {
			t.Errorf("%v: have %g, want %g", test.s, have, test.want)
		}
	}
}

func TestClear(t *testing.T) {
	tests := []struct {
		qa   uint16
		want bool
	}{
		{0, true},
		{1 << 3, false},       // cloud
		{1 << 4, false},       // cloud shadow
		{1<<3 | 1<<4, false},  // both
		{1 << 5, true},        // snow does not mask
		{1<<1 | 1<<5, true},   // unrelated bits
		{1<<5 | 1<<3, false},  // cloud among other bits
	}
	for _, test := range tests {
		if have := Landsat8.Clear(test.qa); have != test.want {
			t.Errorf("Clear(%#x): have %v, want %v", test.qa, have, test.want)
		}
	}
}
