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
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/geom/carto"
	"github.com/ctessum/geom/encoding/shp"

	"github.com/spatialmodel/sebal/raster"
)

func TestNewOutputterErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"no variables", nil, "no variables specified"},
		{"bad character", map[string]string{"2et": NDVI}, "unsupported characters"},
		{"space", map[string]string{"et 24": NDVI}, "unsupported characters"},
		{"too long", map[string]string{"evaporation": NDVI}, "exceeds 10 characters"},
		{"self reference", map[string]string{"a": "a + 1"}, "references itself"},
		{"circular", map[string]string{"a": "b + 1", "b": "a + 1"}, "circular definition"},
		{"bad expression", map[string]string{"x": "Rn +* 2"}, "output variable x"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewOutputter("out.shp", test.vars, nil)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("have %v, want an error containing %q", err, test.want)
			}
		})
	}
}

func TestOutputterDerived(t *testing.T) {
	o, err := NewOutputter("out.shp", map[string]string{
		"le": "Rn - G - H",
		"ef": "le / (Rn - G)",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// After resolution only raster fields remain as inputs.
	if want := []string{"G", "H", "Rn"}; !reflect.DeepEqual(o.modelVariables, want) {
		t.Errorf("model variables: have %v, want %v", o.modelVariables, want)
	}
	if expr := o.outputVariables["ef"]; strings.Contains(expr, "le") {
		t.Errorf("derived variable was not substituted: %q", expr)
	}
}

func TestCheckOutputVars(t *testing.T) {
	d := testSceneData()
	s, err := NewScene(context.Background(), d, testMeteorology(), raster.NewMemory(d.Grid), nil)
	if err != nil {
		t.Fatal(err)
	}

	o, err := NewOutputter("out.shp", map[string]string{"et": ET24}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The scene has no fields yet, so the check runs against the names
	// the pipeline will produce.
	if err := o.CheckOutputVars()(s); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	o, err = NewOutputter("out.shp", map[string]string{"bad": "NDWI"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = o.CheckOutputVars()(s)
	if err == nil || !strings.Contains(err.Error(), `undefined variable name "NDWI"`) {
		t.Errorf("have %v, want an undefined variable error", err)
	}
}

func TestOutputShapefile(t *testing.T) {
	d := testSceneData()
	d.Bands[CloudMask].Set(0, 5, 5) // one cloudy pixel
	s := processTestScene(t, d, nil)

	fname := filepath.Join(t.TempDir(), "out.shp")
	o, err := NewOutputter(fname, map[string]string{
		"et":    ET24,
		"avail": "Rn - G",
		"logrn": "log(Rn)",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	o.Proj = testProj
	if err := o.Output()(s); err != nil {
		t.Fatal(err)
	}

	type outRow struct {
		ET    float64 `shp:"et"`
		Avail float64 `shp:"avail"`
		LogRn float64 `shp:"logrn"`
	}
	dec, err := shp.NewDecoder(fname)
	if err != nil {
		t.Fatal(err)
	}
	var recs []outRow
	for {
		var rec outRow
		if more := dec.DecodeRow(&rec); !more {
			break
		}
		recs = append(recs, rec)
	}
	if err := dec.Error(); err != nil {
		t.Fatal(err)
	}

	results, err := s.Results(o)
	if err != nil {
		t.Fatal(err)
	}
	var want []outRow
	for i := 0; i < s.Engine().Grid().Size(); i++ {
		row := outRow{results["et"][i], results["avail"][i], results["logrn"][i]}
		if math.IsNaN(row.ET) || math.IsNaN(row.Avail) || math.IsNaN(row.LogRn) {
			continue
		}
		want = append(want, row)
	}
	if len(want) != s.Engine().Grid().Size()-1 {
		t.Errorf("have %d valid pixels, want all but the cloudy one", len(want))
	}
	if len(recs) != len(want) {
		t.Fatalf("have %d records, want %d", len(recs), len(want))
	}
	for i, w := range want {
		h := recs[i]
		// The attribute format keeps 8 decimal places.
		if absDifferent(h.ET, w.ET, 1e-6) || absDifferent(h.Avail, w.Avail, 1e-6) || absDifferent(h.LogRn, w.LogRn, 1e-6) {
			t.Fatalf("record %d: have %+v, want %+v", i, h, w)
		}
	}

	prj, err := os.ReadFile(strings.TrimSuffix(fname, ".shp") + ".prj")
	if err != nil {
		t.Fatal(err)
	}
	if string(prj) != testProj {
		t.Errorf("prj sidecar: have %q", prj)
	}
}

func TestOutputGeoJSON(t *testing.T) {
	d := testSceneData()
	s := processTestScene(t, d, nil)

	fname := filepath.Join(t.TempDir(), "out.geojson")
	o, err := NewOutputter(fname, map[string]string{"et": ET24}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Output()(s); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}
	var fc carto.GeoJSON
	if err := json.Unmarshal(b, &fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("type: have %q", fc.Type)
	}
	if len(fc.Features) != s.Engine().Grid().Size() {
		t.Errorf("have %d features, want %d", len(fc.Features), s.Engine().Grid().Size())
	}

	results, err := s.Results(o)
	if err != nil {
		t.Fatal(err)
	}
	f0 := fc.Features[0]
	if f0.Geometry == nil {
		t.Error("feature has no geometry")
	}
	if absDifferent(f0.Properties["et"], results["et"][0], 1e-9) {
		t.Errorf("first feature: have %g, want %g", f0.Properties["et"], results["et"][0])
	}
}

func TestOutputCustomFunction(t *testing.T) {
	d := testSceneData()
	s := processTestScene(t, d, nil)

	o, err := NewOutputter("out.shp", map[string]string{"etr": "round(ET_24h)"},
		map[string]govaluate.ExpressionFunction{
			"round": func(arg ...interface{}) (interface{}, error) {
				return math.Round(arg[0].(float64)), nil
			},
		})
	if err != nil {
		t.Fatal(err)
	}
	results, err := s.Results(o)
	if err != nil {
		t.Fatal(err)
	}
	et := materializeField(t, s, ET24)
	for i, v := range results["etr"] {
		if want := math.Round(et.Elements[i]); !math.IsNaN(v) && v != want {
			t.Fatalf("pixel %d: have %g, want %g", i, v, want)
		}
	}
}
