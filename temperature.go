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

// Second radiation constant h·c/k [m K] for the single-channel
// emissivity correction.
const radiationConstant2 = 1.438e-2

// SurfaceTemperature returns a SceneManipulator that converts thermal
// brightness temperature to land surface temperature with the
// single-channel narrow-band emissivity correction
//
//	LST = Tb / (1 + (λ·Tb/ρ)·ln e_NB)
//
// (Markham and Barker 1986), where λ is the sensor's thermal band
// wavelength and ρ = h·c/k. It also appends LST_DEM, the surface
// temperature corrected to a common elevation datum by the standard
// lapse rate, which makes pixels at different terrain heights
// comparable during anchor selection.
func SurfaceTemperature() SceneManipulator {
	return func(s *Scene) error {
		tb, err := s.Field(Thermal)
		if err != nil {
			return err
		}
		eNB, err := s.Field(EmissivityNB)
		if err != nil {
			return err
		}
		dem, err := s.Field(Elevation)
		if err != nil {
			return err
		}

		λ := s.Sensor.ThermalWavelength()
		lst := tb.Div(raster.Const(1).
			Add(raster.Const(λ / radiationConstant2).Mul(tb).Mul(eNB.Log())))
		if err := s.Set(LST, lst); err != nil {
			return err
		}
		return s.Set(LSTDEM, lst.Add(dem.Mul(raster.Const(lapseRate))))
	}
}
