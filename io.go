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
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/geom/carto"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
)

// Outputter holds the configuration for writing the results of a
// processed scene to a vector file, one record per valid pixel.
//
// outputVariables maps the names of the attributes to be written to
// expressions that define how they are calculated. The expressions
// can use any raster field of the scene, other output variables, and
// the output functions.
//
// modelVariables is generated automatically from the raster fields
// that the requested expressions reference.
type Outputter struct {
	fileName        string
	outputVariables map[string]string
	modelVariables  []string
	outputFunctions map[string]govaluate.ExpressionFunction

	// Proj is the well-known-text spatial reference written as the
	// .prj sidecar of shapefile output. Landsat Collection 2 products
	// are distributed in the UTM zone of the scene center, so it
	// varies by scene; if it is empty no .prj file is written.
	Proj string
}

// NewOutputter initializes an Outputter and adds a set of default
// output functions:
//
// 'exp(x)' applies the exponential function e^x.
//
// 'log(x)' applies the natural logarithm.
//
// 'sqrt(x)' applies the square root.
//
// 'abs(x)' applies the absolute value.
//
// The file format is selected by the extension of fileName: ".geojson"
// or ".json" writes a GeoJSON feature collection, anything else a
// shapefile.
func NewOutputter(fileName string, outputVariables map[string]string, outputFunctions map[string]govaluate.ExpressionFunction) (*Outputter, error) {
	defaultOutputFuncs := map[string]govaluate.ExpressionFunction{
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("sebal: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return math.Exp(arg[0].(float64)), nil
		},
		"log": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("sebal: got %d arguments for function 'log', but needs 1", len(arg))
			}
			return math.Log(arg[0].(float64)), nil
		},
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("sebal: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return math.Sqrt(arg[0].(float64)), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("sebal: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return math.Abs(arg[0].(float64)), nil
		},
	}
	for key, val := range outputFunctions {
		defaultOutputFuncs[key] = val
	}

	o := Outputter{
		fileName:        fileName,
		outputVariables: make(map[string]string, len(outputVariables)),
		outputFunctions: defaultOutputFuncs,
	}
	for key, val := range outputVariables {
		o.outputVariables[key] = val
	}
	if len(o.outputVariables) == 0 {
		return nil, fmt.Errorf("sebal: there are no variables specified for output")
	}
	if err := checkOutputNames(o.outputVariables); err != nil {
		return nil, err
	}
	return &o, o.resolveDerived()
}

// removeDuplicates removes all duplicated strings from a slice,
// returning a slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]struct{})
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = struct{}{}
		}
	}
	return result
}

// resolveDerived replaces references to user-defined output variables
// within other expressions by the expressions that define them, so
// that afterwards every expression references raster fields only, and
// collects those field names as modelVariables.
func (o *Outputter) resolveDerived() error {
	for pass := 0; ; pass++ {
		if pass > len(o.outputVariables) {
			return fmt.Errorf("sebal: circular definition among output variables")
		}
		changed := false
		for key, exprStr := range o.outputVariables {
			expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, o.outputFunctions)
			if err != nil {
				return fmt.Errorf("sebal: output variable %s: %v", key, err)
			}
			for _, v := range removeDuplicates(expr.Vars()) {
				def, ok := o.outputVariables[v]
				if !ok || v == key || def == v {
					continue
				}
				re := regexp.MustCompile(`\b` + regexp.QuoteMeta(v) + `\b`)
				exprStr = re.ReplaceAllString(exprStr, "("+def+")")
				changed = true
			}
			o.outputVariables[key] = exprStr
		}
		if !changed {
			break
		}
	}
	o.modelVariables = o.modelVariables[:0]
	for key, exprStr := range o.outputVariables {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, o.outputFunctions)
		if err != nil {
			return fmt.Errorf("sebal: output variable %s: %v", key, err)
		}
		vars := removeDuplicates(expr.Vars())
		for _, v := range vars {
			if v == key {
				return fmt.Errorf("sebal: output variable %s references itself", key)
			}
		}
		o.modelVariables = append(o.modelVariables, vars...)
	}
	o.modelVariables = removeDuplicates(o.modelVariables)
	sort.Strings(o.modelVariables)
	return nil
}

// checkOutputNames checks that the output variable names are legal
// attribute names: they must start with a letter, contain only word
// characters, and be at most 10 characters long, the limit of the
// shapefile attribute format.
func checkOutputNames(o map[string]string) error {
	for key := range o {
		ok, err := regexp.MatchString(`^[A-Za-z]\w*$`, key)
		if err != nil {
			panic(err)
		}
		if !ok {
			return fmt.Errorf("sebal: output variable name %q includes unsupported characters", key)
		}
		if len(key) > 10 {
			return fmt.Errorf("sebal: output variable name %q exceeds 10 characters", key)
		}
	}
	return nil
}

// OutputOptions returns the names of the raster fields that can be
// referenced in output variable expressions. Before the scene has been
// processed it returns the names the standard pipeline will produce;
// afterwards, the fields actually present.
func (s *Scene) OutputOptions() []string {
	if names := s.Fields(); len(names) > 0 {
		return names
	}
	return append(s.Sensor.ReflectanceBands(),
		Thermal, CloudMask, Elevation,
		NDVI, SAVI, LAI, EmissivityNB, Emissivity, Albedo, LST, LSTDEM,
		ShortIn, LongOut, LongIn, NetRadiation, SoilHeat, Roughness,
		SensibleHeat, LatentHeat, EvapFraction, ET24)
}

// checkModelVars checks whether the raster fields required to
// calculate the requested output variables are available.
func (s *Scene) checkModelVars(g ...string) error {
	avail := make(map[string]struct{})
	for _, n := range s.OutputOptions() {
		avail[n] = struct{}{}
	}
	for _, v := range g {
		if _, ok := avail[v]; !ok {
			return fmt.Errorf("sebal: undefined variable name %q", v)
		}
	}
	return nil
}

// CheckOutputVars returns a SceneManipulator that ensures the output
// variables can be calculated for the scene. Running it before the
// pipeline catches misspelled variable names before hours of
// processing are spent.
func (o *Outputter) CheckOutputVars() SceneManipulator {
	return func(s *Scene) error {
		return s.checkModelVars(o.modelVariables...)
	}
}

// Results calculates the output variables for a processed scene,
// returning one value per pixel for each variable. Pixels where an
// input field is invalid evaluate to NaN.
func (s *Scene) Results(o *Outputter) (map[string][]float64, error) {
	ctx, e := s.Context(), s.Engine()
	data := make(map[string][]float64, len(o.modelVariables))
	for _, v := range o.modelVariables {
		im, err := s.Field(v)
		if err != nil {
			return nil, err
		}
		d, err := e.Materialize(ctx, im)
		if err != nil {
			return nil, err
		}
		data[v] = d.Elements
	}
	n := e.Grid().Size()
	out := make(map[string][]float64, len(o.outputVariables))
	for name, exprStr := range o.outputVariables {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, o.outputFunctions)
		if err != nil {
			return nil, fmt.Errorf("sebal: output variable %s: %v", name, err)
		}
		vars := removeDuplicates(expr.Vars())
		vals := make([]float64, n)
		params := make(map[string]interface{}, len(vars))
		for i := 0; i < n; i++ {
			for _, v := range vars {
				params[v] = data[v][i]
			}
			result, err := expr.Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("sebal: evaluating output variable %s: %v", name, err)
			}
			f, ok := result.(float64)
			if !ok {
				return nil, fmt.Errorf("sebal: output variable %s evaluates to %T; it must be a number", name, result)
			}
			vals[i] = f
		}
		out[name] = vals
	}
	return out, nil
}

// Output returns a SceneManipulator that writes the configured output
// variables to the Outputter's file, one record per pixel. Pixels
// where any output variable is not finite are omitted, so cloud and
// out-of-range gaps do not appear in the output at all.
func (o *Outputter) Output() SceneManipulator {
	return func(s *Scene) error {
		results, err := s.Results(o)
		if err != nil {
			return err
		}
		vars := make([]string, 0, len(results))
		for v := range results {
			vars = append(vars, v)
		}
		sort.Strings(vars)

		switch strings.ToLower(filepath.Ext(o.fileName)) {
		case ".geojson", ".json":
			return o.writeGeoJSON(s, vars, results)
		default:
			return o.writeShapefile(s, vars, results)
		}
	}
}

// rowValues collects the values of all output variables at pixel i,
// reporting whether every one of them is finite.
func rowValues(vars []string, results map[string][]float64, i int) ([]float64, bool) {
	vals := make([]float64, len(vars))
	for j, v := range vars {
		val := results[v][i]
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, false
		}
		vals[j] = val
	}
	return vals, true
}

func (o *Outputter) writeShapefile(s *Scene, vars []string, results map[string][]float64) error {
	fields := make([]goshp.Field, len(vars))
	for i, v := range vars {
		fields[i] = goshp.FloatField(v, 14, 8)
	}

	// Remove the extension and replace it with .shp.
	fileBase := strings.TrimSuffix(o.fileName, filepath.Ext(o.fileName))
	fileName := fileBase + ".shp"
	shape, err := shp.NewEncoderFromFields(fileName, goshp.POLYGON, fields...)
	if err != nil {
		return fmt.Errorf("sebal: creating output shapefile: %v", err)
	}
	g := s.Engine().Grid()
	for i := 0; i < g.Size(); i++ {
		vals, ok := rowValues(vars, results, i)
		if !ok {
			continue
		}
		outFields := make([]interface{}, len(vals))
		for j, val := range vals {
			outFields[j] = val
		}
		cell := g.CellPolygon(i/g.NX, i%g.NX)
		if err := shape.EncodeFields(cell, outFields...); err != nil {
			shape.Close()
			return fmt.Errorf("sebal: writing output shapefile: %v", err)
		}
	}
	shape.Close()

	if o.Proj != "" {
		f, err := os.Create(fileBase + ".prj")
		if err != nil {
			return fmt.Errorf("sebal: creating output prj file: %v", err)
		}
		fmt.Fprint(f, o.Proj)
		return f.Close()
	}
	return nil
}

func (o *Outputter) writeGeoJSON(s *Scene, vars []string, results map[string][]float64) error {
	g := s.Engine().Grid()
	fc := carto.GeoJSON{Type: "FeatureCollection"}
	for i := 0; i < g.Size(); i++ {
		vals, ok := rowValues(vars, results, i)
		if !ok {
			continue
		}
		cell := g.CellPolygon(i/g.NX, i%g.NX)
		gj, err := geojson.ToGeoJSON(cell)
		if err != nil {
			return fmt.Errorf("sebal: encoding output geometry: %v", err)
		}
		props := make(map[string]float64, len(vars))
		for j, v := range vars {
			props[v] = vals[j]
		}
		fc.Features = append(fc.Features, &carto.GeoJSONfeature{
			Type:       "Feature",
			Geometry:   gj,
			Properties: props,
		})
	}
	b, err := json.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("sebal: encoding output geojson: %v", err)
	}
	return os.WriteFile(o.fileName, b, 0644)
}
