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
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"

	"github.com/spatialmodel/sebal/raster"
)

// SceneFileVersion is the format version of the NetCDF scene files
// written by SceneData.Write. Files with a different version are
// rejected by ReadSceneData.
const SceneFileVersion = "1"

// bandMetadata returns the description and units written as variable
// attributes of the named band.
func bandMetadata(name string) (description, units string) {
	switch name {
	case Thermal:
		return "brightness temperature", "K"
	case CloudMask:
		return "1 where the pixel is clear", "-"
	case Elevation:
		return "terrain height", "m"
	default:
		return "surface reflectance", "-"
	}
}

// Write writes d to the NetCDF file w. The scene metadata is stored in
// global attributes and each band becomes a float32 variable on the
// (y, x) dimensions.
func (d *SceneData) Write(w *os.File) error {
	if d.Grid == nil {
		return fmt.Errorf("sebal: scene %s has no grid", d.ID)
	}
	if len(d.Bands) == 0 {
		return fmt.Errorf("sebal: scene %s has no bands", d.ID)
	}
	g := d.Grid
	h := cdf.NewHeader([]string{"y", "x"}, []int{g.NY, g.NX})
	h.AddAttribute("", "comment", "SEBAL scene data file")
	h.AddAttribute("", "data_version", SceneFileVersion)
	h.AddAttribute("", "scene_id", d.ID)
	h.AddAttribute("", "spacecraft_id", d.SpacecraftID)
	h.AddAttribute("", "time", d.Time.UTC().Format(time.RFC3339))
	h.AddAttribute("", "sun_elevation", []float64{d.SunElevation})
	h.AddAttribute("", "cloud_cover", []float64{d.CloudCover})
	h.AddAttribute("", "x0", []float64{g.X0})
	h.AddAttribute("", "y0", []float64{g.Y0})
	h.AddAttribute("", "dx", []float64{g.DX})
	h.AddAttribute("", "dy", []float64{g.DY})
	if d.Proj != "" {
		h.AddAttribute("", "proj", d.Proj)
	}
	if d.Region != nil {
		b, err := geojson.Encode(d.Region)
		if err != nil {
			return fmt.Errorf("sebal: encoding region of scene %s: %v", d.ID, err)
		}
		h.AddAttribute("", "region", string(b))
	}

	// Sort the names so they write in the same order every time.
	names := make([]string, 0, len(d.Bands))
	for n := range d.Bands {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		data := d.Bands[name]
		if len(data.Shape) != 2 || data.Shape[0] != g.NY || data.Shape[1] != g.NX {
			return fmt.Errorf("sebal: band %s of scene %s has shape %v; want [%d %d]",
				name, d.ID, data.Shape, g.NY, g.NX)
		}
		h.AddVariable(name, []string{"y", "x"}, []float32{0})
		description, units := bandMetadata(name)
		h.AddAttribute(name, "description", description)
		h.AddAttribute(name, "units", units)
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := writeNCF(f, name, d.Bands[name]); err != nil {
			return fmt.Errorf("sebal: writing band %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// writeNCF writes data to variable Var in netcdf file f.
func writeNCF(f *cdf.File, Var string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}
	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(Var)
	start := make([]int, len(end))
	w := f.Writer(Var, start, end)
	_, err := w.Write(data32)
	return err
}

// attrString returns the named global attribute as a string, or "" if
// it is absent or has another type.
func attrString(h *cdf.Header, name string) string {
	if v, ok := h.GetAttribute("", name).(string); ok {
		return v
	}
	return ""
}

// attrFloat returns the named global attribute as a float64, or NaN if
// it is absent.
func attrFloat(h *cdf.Header, name string) float64 {
	switch v := h.GetAttribute("", name).(type) {
	case []float64:
		if len(v) > 0 {
			return v[0]
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0])
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0])
		}
	}
	return math.NaN()
}

// toFloat converts a buffer read from a NetCDF variable to float64
// values.
func toFloat(buf interface{}) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported variable type %T", buf)
	}
}

// readNCF reads variable Var out of netcdf file ff.
func readNCF(ff *cdf.File, Var string) (*sparse.DenseArray, error) {
	dims := ff.Header.Lengths(Var)
	if len(dims) == 0 {
		return nil, fmt.Errorf("variable %s not in file", Var)
	}
	r := ff.Reader(Var, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading variable %s: %v", Var, err)
	}
	vals, err := toFloat(buf)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %v", Var, err)
	}
	data := sparse.ZerosDense(dims...)
	if len(vals) != len(data.Elements) {
		return nil, fmt.Errorf("variable %s: dims are %v but array length is %d", Var, dims, len(vals))
	}
	copy(data.Elements, vals)
	return data, nil
}

// sceneMetadata reads the global scene attributes shared by calibrated
// scene files and raw digital-number stacks. The returned grid has no
// dimensions yet; the caller fills them in from the band variables.
func sceneMetadata(h *cdf.Header) (*SceneData, *raster.Grid, error) {
	d := &SceneData{
		ID:           attrString(h, "scene_id"),
		SpacecraftID: attrString(h, "spacecraft_id"),
		SunElevation: attrFloat(h, "sun_elevation"),
		CloudCover:   attrFloat(h, "cloud_cover"),
		Proj:         attrString(h, "proj"),
		Bands:        make(map[string]*sparse.DenseArray),
	}
	var err error
	if ts := attrString(h, "time"); ts != "" {
		if d.Time, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, nil, fmt.Errorf("sebal: scene %s: parsing time: %v", d.ID, err)
		}
	}
	g := &raster.Grid{
		X0: attrFloat(h, "x0"),
		Y0: attrFloat(h, "y0"),
		DX: attrFloat(h, "dx"),
		DY: attrFloat(h, "dy"),
	}
	// A proj4 definition can be reconstructed into a spatial
	// reference; other formats are kept verbatim in Proj only.
	if strings.HasPrefix(d.Proj, "+") {
		if g.SR, err = proj.Parse(d.Proj); err != nil {
			return nil, nil, fmt.Errorf("sebal: scene %s: parsing projection: %v", d.ID, err)
		}
	}
	if rj := attrString(h, "region"); rj != "" {
		gm, err := geojson.Decode([]byte(rj))
		if err != nil {
			return nil, nil, fmt.Errorf("sebal: scene %s: decoding region: %v", d.ID, err)
		}
		poly, ok := gm.(geom.Polygonal)
		if !ok {
			return nil, nil, fmt.Errorf("sebal: scene %s: region geometry type %T is not polygonal", d.ID, gm)
		}
		d.Region = poly
	}
	return d, g, nil
}

// ReadSceneData reads a scene from a NetCDF file written by
// SceneData.Write.
func ReadSceneData(rw cdf.ReaderWriterAt) (*SceneData, error) {
	ff, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("sebal: opening scene file: %v", err)
	}
	h := ff.Header
	if v := attrString(h, "data_version"); v != SceneFileVersion {
		return nil, fmt.Errorf("sebal: scene file version %q is incompatible with the required version %q",
			v, SceneFileVersion)
	}
	d, g, err := sceneMetadata(h)
	if err != nil {
		return nil, err
	}
	for _, v := range h.Variables() {
		dims := h.Lengths(v)
		if len(dims) != 2 {
			return nil, fmt.Errorf("sebal: scene %s: band %s has %d dimensions; want 2", d.ID, v, len(dims))
		}
		if g.NY == 0 {
			g.NY, g.NX = dims[0], dims[1]
		} else if g.NY != dims[0] || g.NX != dims[1] {
			return nil, fmt.Errorf("sebal: scene %s: band %s has shape %v; want [%d %d]",
				d.ID, v, dims, g.NY, g.NX)
		}
		data, err := readNCF(ff, v)
		if err != nil {
			return nil, fmt.Errorf("sebal: scene %s: %v", d.ID, err)
		}
		d.Bands[v] = data
	}
	if len(d.Bands) == 0 {
		return nil, fmt.Errorf("sebal: scene %s has no bands", d.ID)
	}
	d.Grid = g
	return d, nil
}

// WriteResults writes the daily evapotranspiration fields of results
// to the NetCDF file w, one float32 variable per scene named after
// the scene's compact output name. All results must share one grid.
func WriteResults(w *os.File, results []Result) error {
	if len(results) == 0 {
		return fmt.Errorf("sebal: no results to write")
	}
	g := results[0].Scene.Engine().Grid()
	h := cdf.NewHeader([]string{"y", "x"}, []int{g.NY, g.NX})
	h.AddAttribute("", "comment", "SEBAL daily evapotranspiration collection")
	h.AddAttribute("", "data_version", SceneFileVersion)
	h.AddAttribute("", "x0", []float64{g.X0})
	h.AddAttribute("", "y0", []float64{g.Y0})
	h.AddAttribute("", "dx", []float64{g.DX})
	h.AddAttribute("", "dy", []float64{g.DY})
	if p := results[0].Scene.Proj; p != "" {
		h.AddAttribute("", "proj", p)
	}
	seen := make(map[string]bool)
	for _, r := range results {
		rg := r.Scene.Engine().Grid()
		if rg.NY != g.NY || rg.NX != g.NX {
			return fmt.Errorf("sebal: scene %s grid %d×%d does not match collection grid %d×%d",
				r.Name, rg.NY, rg.NX, g.NY, g.NX)
		}
		if seen[r.Name] {
			return fmt.Errorf("sebal: duplicate scene name %s in collection", r.Name)
		}
		seen[r.Name] = true
		h.AddVariable(r.Name, []string{"y", "x"}, []float32{0})
		h.AddAttribute(r.Name, "description", "daily evapotranspiration")
		h.AddAttribute(r.Name, "units", "mm day-1")
		h.AddAttribute(r.Name, "time", r.Scene.Time.UTC().Format(time.RFC3339))
	}
	h.Define()
	f, err := cdf.Create(w, h)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := writeNCF(f, r.Name, r.ET); err != nil {
			return fmt.Errorf("sebal: writing scene %s to netcdf file: %v", r.Name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

// fileSceneSource streams scenes from NetCDF files, reading one file
// per Next call so that at most one unprocessed scene is held in
// memory.
type fileSceneSource struct {
	files []string
	i     int
}

// FileSceneSource returns a SceneSource that reads the given NetCDF
// scene files in order. A file that cannot be read ends the stream
// with an error.
func FileSceneSource(filenames ...string) SceneSource {
	return &fileSceneSource{files: filenames}
}

func (s *fileSceneSource) Next(ctx context.Context) (*SceneData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.i >= len(s.files) {
		return nil, io.EOF
	}
	name := s.files[s.i]
	s.i++
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("sebal: opening scene file: %v", err)
	}
	defer f.Close()
	d, err := ReadSceneData(f)
	if err != nil {
		return nil, fmt.Errorf("sebal: reading scene file %s: %v", name, err)
	}
	return d, nil
}

// NetCDFElevation is an ElevationSource backed by a digital elevation
// model stored in a NetCDF file with the same grid attribute
// convention as the scene files.
type NetCDFElevation struct {
	g    *raster.Grid
	data *sparse.DenseArray
}

// OpenNetCDFElevation reads the named variable from a NetCDF terrain
// file.
func OpenNetCDFElevation(filename, varName string) (*NetCDFElevation, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("sebal: opening elevation file: %v", err)
	}
	defer f.Close()
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("sebal: opening elevation file %s: %v", filename, err)
	}
	h := ff.Header
	dims := h.Lengths(varName)
	if len(dims) != 2 {
		return nil, fmt.Errorf("sebal: elevation variable %s in %s has %d dimensions; want 2",
			varName, filename, len(dims))
	}
	data, err := readNCF(ff, varName)
	if err != nil {
		return nil, fmt.Errorf("sebal: elevation file %s: %v", filename, err)
	}
	g := &raster.Grid{
		NY: dims[0],
		NX: dims[1],
		X0: attrFloat(h, "x0"),
		Y0: attrFloat(h, "y0"),
		DX: attrFloat(h, "dx"),
		DY: attrFloat(h, "dy"),
	}
	if p := attrString(h, "proj"); strings.HasPrefix(p, "+") {
		if g.SR, err = proj.Parse(p); err != nil {
			return nil, fmt.Errorf("sebal: elevation file %s: parsing projection: %v", filename, err)
		}
	}
	return &NetCDFElevation{g: g, data: data}, nil
}

// Elevation resamples the terrain model to grid g by nearest
// neighbor. If both grids carry a spatial reference the cell centers
// are transformed between them; otherwise the two grids are assumed
// to share one. Cells outside the terrain model become NaN.
func (e *NetCDFElevation) Elevation(ctx context.Context, g *raster.Grid, region geom.Polygonal) (*sparse.DenseArray, error) {
	var ct proj.Transformer
	if g.SR != nil && e.g.SR != nil {
		var err error
		if ct, err = g.SR.NewTransform(e.g.SR); err != nil {
			return nil, fmt.Errorf("sebal: elevation transform: %v", err)
		}
	}
	out := sparse.ZerosDense(g.NY, g.NX)
	for row := 0; row < g.NY; row++ {
		for col := 0; col < g.NX; col++ {
			p := g.CellCenter(row, col)
			if ct != nil {
				pt, err := p.Transform(ct)
				if err != nil {
					return nil, fmt.Errorf("sebal: elevation transform: %v", err)
				}
				p = pt.(geom.Point)
			}
			srcCol := int(math.Floor((p.X - e.g.X0) / e.g.DX))
			srcRow := int(math.Floor((p.Y - e.g.Y0) / e.g.DY))
			if srcRow < 0 || srcRow >= e.g.NY || srcCol < 0 || srcCol >= e.g.NX {
				out.Elements[row*g.NX+col] = math.NaN()
				continue
			}
			out.Elements[row*g.NX+col] = e.data.Get(srcRow, srcCol)
		}
	}
	return out, nil
}
