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

package sebalutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/sparse"

	"github.com/spatialmodel/sebal"
	"github.com/spatialmodel/sebal/raster"
)

// writeGradientScene writes a calibrated scene file whose pixels blend
// from bare soil on the left edge to full vegetation cover on the
// right, with surface temperature falling accordingly.
func writeGradientScene(t *testing.T, fname string) {
	t.Helper()
	const ny, nx = 20, 20
	soil := map[string]float64{
		sebal.UltraBlue: 0.10, sebal.Blue: 0.12, sebal.Green: 0.17,
		sebal.Red: 0.24, sebal.NIR: 0.26, sebal.SWIR1: 0.33, sebal.SWIR2: 0.28,
	}
	veg := map[string]float64{
		sebal.UltraBlue: 0.02, sebal.Blue: 0.03, sebal.Green: 0.06,
		sebal.Red: 0.03, sebal.NIR: 0.47, sebal.SWIR1: 0.15, sebal.SWIR2: 0.08,
	}
	d := &sebal.SceneData{
		ID:           "LC08_L2SP_042033_20210615_20210622_02_T1",
		SpacecraftID: "LANDSAT_8",
		Time:         time.Date(2021, time.June, 15, 18, 30, 0, 0, time.UTC),
		SunElevation: 65,
		Grid:         &raster.Grid{NY: ny, NX: nx, X0: 307500, Y0: 4120500, DX: 30, DY: -30},
		Bands:        make(map[string]*sparse.DenseArray),
	}
	for name, s := range soil {
		b := sparse.ZerosDense(ny, nx)
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				f := float64(i) / (nx - 1)
				b.Set(s+(veg[name]-s)*f, j, i)
			}
		}
		d.Bands[name] = b
	}
	thermal := sparse.ZerosDense(ny, nx)
	mask := sparse.ZerosDense(ny, nx)
	dem := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			f := float64(i) / (nx - 1)
			thermal.Set(309-18*f, j, i)
			mask.Set(1, j, i)
			dem.Set(100, j, i)
		}
	}
	d.Bands[sebal.Thermal] = thermal
	d.Bands[sebal.CloudMask] = mask
	d.Bands[sebal.Elevation] = dem

	f, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Write(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRunCmd(t *testing.T) {
	dir := t.TempDir()
	sceneFile := filepath.Join(dir, "scene.nc")
	writeGradientScene(t, sceneFile)
	metFile := filepath.Join(dir, "met.csv")
	met := "time,air_temperature,wind_speed,relative_humidity,net_radiation_24h\n" +
		"2021-06-15T12:00:00Z,298.15,3,45,170\n"
	if err := os.WriteFile(metFile, []byte(met), 0644); err != nil {
		t.Fatal(err)
	}

	Cfg.Set("SceneFiles", []string{sceneFile})
	Cfg.Set("MeteorologyFile", metFile)
	Cfg.Set("OutputFile", filepath.Join(dir, "{scene}_et.shp"))
	Cfg.Set("OutputVariables", map[string]interface{}{"et": "ET_24h", "avail": "Rn - G"})
	Cfg.Set("CollectionFile", filepath.Join(dir, "et.ncf"))
	Cfg.Set("LogFile", filepath.Join(dir, "run.log"))

	Root.SetArgs([]string{"run"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}

	// The scene name is derived from the product identifier.
	base := filepath.Join(dir, "LC08_042033_20210615_et")
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		if _, err := os.Stat(base + ext); err != nil {
			t.Fatal(err)
		}
	}
	sd, err := shp.NewDecoder(base + ".shp")
	if err != nil {
		t.Fatal(err)
	}
	rows, maxET := 0, 0.0
	for {
		_, attrs, more := sd.DecodeRowFields("et", "avail")
		if !more {
			break
		}
		et, err := strconv.ParseFloat(strings.TrimSpace(attrs["et"]), 64)
		if err != nil {
			t.Fatal(err)
		}
		if et > maxET {
			maxET = et
		}
		avail, err := strconv.ParseFloat(strings.TrimSpace(attrs["avail"]), 64)
		if err != nil {
			t.Fatal(err)
		}
		if avail <= 0 {
			t.Errorf("available energy %g at row %d is not positive", avail, rows)
		}
		rows++
	}
	if err := sd.Error(); err != nil {
		t.Fatal(err)
	}
	sd.Close()
	if rows != 20*20 {
		t.Errorf("output rows: have %d, want %d", rows, 20*20)
	}
	if maxET < 3 || maxET > 9 {
		t.Errorf("largest daily ET %g mm is outside the plausible range", maxET)
	}

	cf, err := os.Open(filepath.Join(dir, "et.ncf"))
	if err != nil {
		t.Fatal(err)
	}
	defer cf.Close()
	ff, err := cdf.Open(cf)
	if err != nil {
		t.Fatal(err)
	}
	if units, _ := ff.Header.GetAttribute("LC08_042033_20210615", "units").(string); units != "mm day-1" {
		t.Errorf("collected variable units = %q; want mm day-1", units)
	}
	if dims := ff.Header.Lengths("LC08_042033_20210615"); len(dims) != 2 || dims[0] != 20 || dims[1] != 20 {
		t.Errorf("collected variable dims = %v; want [20 20]", dims)
	}

	logText, err := os.ReadFile(filepath.Join(dir, "run.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logText), "Elapsed time") {
		t.Error("log file is missing the elapsed time record")
	}
}

func TestVersionCmd(t *testing.T) {
	var b bytes.Buffer
	Root.SetOutput(&b)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), sebal.Version) {
		t.Errorf("version output %q does not contain %q", b.String(), sebal.Version)
	}
}
