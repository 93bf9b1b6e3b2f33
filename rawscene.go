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
	"fmt"
	"math"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// RawQABand is the quality variable of a raw digital-number stack.
const RawQABand = "QA_PIXEL"

// ReadRawScene reads a raw Collection 2 Level-2 digital-number stack
// from a NetCDF file and calibrates it into scene data: reflectance
// and temperature scale factors are applied, fill pixels become NaN,
// and the QA_PIXEL band becomes the cloud mask. The stack carries the
// same global attributes as a calibrated scene file, with the raw
// product band names as variables.
func ReadRawScene(rw cdf.ReaderWriterAt) (*SceneData, error) {
	ff, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("sebal: opening raw scene file: %v", err)
	}
	h := ff.Header
	d, g, err := sceneMetadata(h)
	if err != nil {
		return nil, err
	}
	sensor, err := ParseSensor(d.SpacecraftID)
	if err != nil {
		return nil, fmt.Errorf("sebal: raw scene %s: %w", d.ID, err)
	}

	dims := h.Lengths(RawQABand)
	if len(dims) != 2 {
		return nil, fmt.Errorf("sebal: raw scene %s: variable %s has %d dimensions; want 2",
			d.ID, RawQABand, len(dims))
	}
	g.NY, g.NX = dims[0], dims[1]

	for rawName, name := range sensor.RawBandNames() {
		bdims := h.Lengths(rawName)
		if len(bdims) == 0 {
			return nil, fmt.Errorf("sebal: raw scene %s is missing band %s", d.ID, rawName)
		}
		if len(bdims) != 2 || bdims[0] != g.NY || bdims[1] != g.NX {
			return nil, fmt.Errorf("sebal: raw scene %s: band %s has shape %v; want [%d %d]",
				d.ID, rawName, bdims, g.NY, g.NX)
		}
		data, err := readNCF(ff, rawName)
		if err != nil {
			return nil, fmt.Errorf("sebal: raw scene %s: %v", d.ID, err)
		}
		scale := sensor.ScaleReflectance
		if name == Thermal {
			scale = sensor.ScaleThermal
		}
		for i, v := range data.Elements {
			if v == 0 { // Digital number 0 is the fill value.
				data.Elements[i] = math.NaN()
				continue
			}
			data.Elements[i] = scale(v)
		}
		d.Bands[name] = data
	}

	qa, err := readNCF(ff, RawQABand)
	if err != nil {
		return nil, fmt.Errorf("sebal: raw scene %s: %v", d.ID, err)
	}
	mask := sparse.ZerosDense(g.NY, g.NX)
	for i, v := range qa.Elements {
		// Recover the 16 QA bits from storage as a signed integer.
		bits := uint16(int64(v) & 0xffff)
		if sensor.Clear(bits) {
			mask.Elements[i] = 1
		}
	}
	d.Bands[CloudMask] = mask

	// A stack may carry terrain height, which needs no calibration.
	if edims := h.Lengths(Elevation); len(edims) == 2 && edims[0] == g.NY && edims[1] == g.NX {
		dem, err := readNCF(ff, Elevation)
		if err != nil {
			return nil, fmt.Errorf("sebal: raw scene %s: %v", d.ID, err)
		}
		d.Bands[Elevation] = dem
	}

	d.Grid = g
	return d, nil
}
