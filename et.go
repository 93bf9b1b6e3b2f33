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

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/sebal/raster"
)

const secondsPerDay = 86400.0

// DailyET returns a SceneManipulator that closes the energy balance
// and upscales the instantaneous result to a daily total.
//
// The latent heat flux is the balance residual LE = Rn − G − H. The
// evaporative fraction EF = LE / (Rn − G) is assumed constant over
// the day (Bastiaanssen et al. 1998), so the daily evapotranspiration
// follows from the 24-hour net radiation:
//
//	ET_24h = 86400 · EF · Rn_24h / λ  [mm day⁻¹]
//
// with the latent heat of vaporization λ evaluated per pixel from the
// surface temperature. EF is not clamped; values outside [0, 1] can
// occur over water and at advective edges and are kept as computed.
func DailyET() SceneManipulator {
	return func(s *Scene) error {
		rn, err := s.Field(NetRadiation)
		if err != nil {
			return err
		}
		g, err := s.Field(SoilHeat)
		if err != nil {
			return err
		}
		h, err := s.Field(SensibleHeat)
		if err != nil {
			return err
		}
		lst, err := s.Field(LST)
		if err != nil {
			return err
		}

		le := rn.Sub(g).Sub(h)
		if err := s.Set(LatentHeat, le); err != nil {
			return err
		}
		ef := le.Div(rn.Sub(g))
		if err := s.Set(EvapFraction, ef); err != nil {
			return err
		}

		// Harrison (1963), as in Allen et al. (1998) Annex 3.
		λ := lst.Sub(raster.Const(273.15)).Mul(raster.Const(-2.36e3)).
			Add(raster.Const(2.501e6))
		et := ef.Mul(raster.Const(secondsPerDay * s.Met.NetRadiation24)).Div(λ)
		if err := s.Set(ET24, et); err != nil {
			return err
		}

		e, ctx := s.Engine(), s.Context()
		count, err := e.Reduce(ctx, et, raster.Count)
		if err != nil {
			return err
		}
		if count == 0 {
			return &NumericalError{Op: "daily evapotranspiration",
				Reason: "no valid pixels remain"}
		}
		min, err := e.Reduce(ctx, et, raster.Min)
		if err != nil {
			return err
		}
		max, err := e.Reduce(ctx, et, raster.Max)
		if err != nil {
			return err
		}
		s.logger().WithFields(logrus.Fields{
			"pixels": int(count),
			"min":    fmt.Sprintf("%.3f", min),
			"max":    fmt.Sprintf("%.3f", max),
		}).Info("daily evapotranspiration")
		return nil
	}
}
