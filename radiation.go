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
	"math"

	"github.com/spatialmodel/sebal/raster"
)

// Radiation returns a SceneManipulator that appends the radiation
// balance: incoming short-wave, outgoing and incoming long-wave, and
// net radiation, following Allen et al. (2002).
//
// Atmospheric pressure, precipitable water and therefore the clear-sky
// transmissivity vary per pixel with terrain height. The incoming
// long-wave radiation uses the cold anchor temperature as the
// effective near-surface air temperature, per the SEBAL calibration
// convention that the coldest well-vegetated pixel is in equilibrium
// with the air; the cold anchor therefore must be selected before this
// step runs.
func Radiation() SceneManipulator {
	const turbidity = 1.0 // Kt, clean air
	return func(s *Scene) error {
		dem, err := s.Field(Elevation)
		if err != nil {
			return err
		}
		lst, err := s.Field(LST)
		if err != nil {
			return err
		}
		e0, err := s.Field(Emissivity)
		if err != nil {
			return err
		}
		albedo, err := s.Field(Albedo)
		if err != nil {
			return err
		}
		cold, err := s.Anchor(RoleCold)
		if err != nil {
			return err
		}

		// Solar geometry at overpass.
		cosZenith := math.Cos((90 - s.SunElevation) * math.Pi / 180)
		if cosZenith <= 0 {
			return &NumericalError{Op: "radiation balance", Reason: "sun below the horizon"}
		}
		dr := inverseEarthSunDistance(s.Time.YearDay())

		// Per-pixel pressure [kPa] from terrain height;
		// Allen et al. (1998) Equation 7.
		pressure := raster.Const(293).Sub(dem.Mul(raster.Const(lapseRate))).
			Div(raster.Const(293)).Pow(raster.Const(5.26)).Mul(raster.Const(101.3))

		// Precipitable water [mm] with the scalar vapor pressure from
		// the scene meteorology; Garrison and Adler (1990).
		ea := actualVaporPressure(s.Met.RelativeHumidity, s.Met.AirTemperature-273.15)
		water := pressure.Mul(raster.Const(0.14 * ea)).Add(raster.Const(2.1))

		// Broadband clear-sky transmissivity; ASCE-EWRI (2005).
		transmissivity := pressure.Mul(raster.Const(-0.00146 / (turbidity * cosZenith))).
			Sub(water.Mul(raster.Const(1 / cosZenith)).Pow(raster.Const(0.4)).Mul(raster.Const(0.075))).
			Exp().Mul(raster.Const(0.627)).Add(raster.Const(0.35))

		shortIn := transmissivity.Mul(raster.Const(solarConstant * dr * cosZenith))
		if err := s.Set(ShortIn, shortIn); err != nil {
			return err
		}

		longOut := e0.Mul(raster.Const(stefanBoltzmann)).Mul(lst.Pow(raster.Const(4)))
		if err := s.Set(LongOut, longOut); err != nil {
			return err
		}

		// Atmospheric emissivity from transmissivity,
		// Bastiaanssen (1995), applied to the cold anchor temperature.
		atmEmissivity := transmissivity.Log().Neg().Pow(raster.Const(0.09)).
			Mul(raster.Const(0.85))
		longIn := atmEmissivity.Mul(raster.Const(stefanBoltzmann * math.Pow(cold.LST, 4)))
		if err := s.Set(LongIn, longIn); err != nil {
			return err
		}

		one := raster.Const(1)
		rn := one.Sub(albedo).Mul(shortIn).
			Add(longIn).Sub(longOut).
			Sub(one.Sub(e0).Mul(longIn))
		return s.Set(NetRadiation, rn)
	}
}
