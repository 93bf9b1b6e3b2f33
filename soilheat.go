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

// SoilHeatFlux returns a SceneManipulator that appends the soil heat
// flux from the empirical regression of Bastiaanssen (2000):
//
//	G = Rn · (LST−273.15) · (0.0038 + 0.0074·α) · (1 − 0.98·NDVI⁴)
//
// The NDVI⁴ term drives G toward a small residual fraction of Rn under
// closed canopy.
func SoilHeatFlux() SceneManipulator {
	return func(s *Scene) error {
		rn, err := s.Field(NetRadiation)
		if err != nil {
			return err
		}
		lst, err := s.Field(LST)
		if err != nil {
			return err
		}
		albedo, err := s.Field(Albedo)
		if err != nil {
			return err
		}
		ndvi, err := s.Field(NDVI)
		if err != nil {
			return err
		}

		g := rn.Mul(lst.Sub(raster.Const(273.15))).
			Mul(albedo.Mul(raster.Const(0.0074)).Add(raster.Const(0.0038))).
			Mul(raster.Const(1).Sub(ndvi.Pow(raster.Const(4)).Mul(raster.Const(0.98))))
		return s.Set(SoilHeat, g)
	}
}
