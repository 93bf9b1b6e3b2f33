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
	"github.com/spatialmodel/sebal/raster"
)

// Soil brightness factor for SAVI; Huete (1988).
const saviL = 0.5

// SpectralIndices returns a SceneManipulator that appends the
// vegetation indices (NDVI, SAVI, LAI), the narrow-band and broadband
// surface emissivities, and the broadband albedo.
//
// The emissivities follow the NDVI/LAI-conditioned relations of
// Allen et al. (2002): a linear function of LAI over partial canopy,
// a constant over closed canopy (LAI ≥ 3), and a fixed high value
// over water (NDVI < 0). Albedo is the weighted sum of the surface
// reflectance bands with the sensor's weights.
func SpectralIndices() SceneManipulator {
	return func(s *Scene) error {
		red, err := s.Field(Red)
		if err != nil {
			return err
		}
		nir, err := s.Field(NIR)
		if err != nil {
			return err
		}

		ndvi := nir.Sub(red).Div(nir.Add(red))
		if err := s.Set(NDVI, ndvi); err != nil {
			return err
		}

		savi := nir.Sub(red).Mul(raster.Const(1 + saviL)).
			Div(nir.Add(red).Add(raster.Const(saviL)))
		if err := s.Set(SAVI, savi); err != nil {
			return err
		}

		// Allen et al. (2002) Equation 18. The logarithm's argument
		// vanishes as SAVI approaches 0.69, so the relation is replaced
		// by its saturation value of 6 there.
		lai := raster.Const(0.69).Sub(savi).Div(raster.Const(0.59)).
			Log().Neg().Div(raster.Const(0.91)).
			Max(raster.Const(0)).
			Where(savi.Gte(raster.Const(0.689)), raster.Const(6))
		if err := s.Set(LAI, lai); err != nil {
			return err
		}

		closed := lai.Gte(raster.Const(3))
		water := ndvi.Lt(raster.Const(0))

		eNB := raster.Const(0.97).Add(lai.Mul(raster.Const(0.0033))).
			Where(closed, raster.Const(0.98)).
			Where(water, raster.Const(0.99))
		if err := s.Set(EmissivityNB, eNB); err != nil {
			return err
		}

		e0 := raster.Const(0.95).Add(lai.Mul(raster.Const(0.01))).
			Where(closed, raster.Const(0.98)).
			Where(water, raster.Const(0.985))
		if err := s.Set(Emissivity, e0); err != nil {
			return err
		}

		weights := s.Sensor.AlbedoWeights()
		var albedo *raster.Image
		for i, name := range s.Sensor.ReflectanceBands() {
			band, err := s.Field(name)
			if err != nil {
				return err
			}
			term := band.Mul(raster.Const(weights[i]))
			if albedo == nil {
				albedo = term
			} else {
				albedo = albedo.Add(term)
			}
		}
		return s.Set(Albedo, albedo)
	}
}
