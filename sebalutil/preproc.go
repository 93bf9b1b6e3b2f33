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
	"fmt"
	"log"
	"os"

	"github.com/spatialmodel/sebal"
)

// Preproc calibrates a stack of raw Landsat Collection 2 Level-2
// bands and saves the result for use in future SEBAL runs.
//
// RawFile is the path of the NetCDF stack holding the raw bands as
// stored digital numbers, along with the scene metadata attributes.
//
// SceneFile is the path where the calibrated scene file is written.
//
// RegionFile is the path of a GeoJSON file holding the region of
// interest polygon to be stamped into the scene file. If it is empty,
// the region recorded in the raw stack is kept.
func Preproc(RawFile, SceneFile, RegionFile string) error {
	if RawFile == "" {
		return fmt.Errorf("sebal: no Preproc.RawFile is specified, so there is nothing to preprocess")
	}
	if SceneFile == "" {
		return fmt.Errorf("sebal: no Preproc.SceneFile is specified, so there is nowhere to put the result")
	}
	f, err := os.Open(RawFile)
	if err != nil {
		return fmt.Errorf("sebal: problem opening raw scene stack: %v", err)
	}
	defer f.Close()
	log.Println("Calibrating raw scene...")
	d, err := sebal.ReadRawScene(f)
	if err != nil {
		return err
	}
	region, err := parseRegion(RegionFile)
	if err != nil {
		return err
	}
	if region != nil {
		d.Region = region
	}
	w, err := os.Create(SceneFile)
	if err != nil {
		return fmt.Errorf("sebal: problem creating scene file: %v", err)
	}
	if err := d.Write(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
