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

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/sebal/raster"
)

// AnchorRole distinguishes the two calibration endmembers.
type AnchorRole string

const (
	// RoleCold is the wet, well-vegetated endmember where all available
	// energy is assumed to go to evapotranspiration (H = 0).
	RoleCold AnchorRole = "cold"
	// RoleHot is the dry, bare endmember where evapotranspiration is
	// assumed to have stopped (LE = 0, H = Rn − G).
	RoleHot AnchorRole = "hot"
)

// An Anchor is a calibration endmember pixel, selected once per scene
// per role and read-only afterwards.
type Anchor struct {
	Role AnchorRole

	// LST is the elevation-corrected surface temperature at the
	// pixel [K].
	LST float64

	// Row and Col locate the pixel in the scene grid.
	Row, Col int

	// Rn and G are the net radiation and soil heat flux sampled at
	// the pixel [W m⁻²]. They are NaN until those fields exist; the
	// hot-anchor selection step fills them in for both anchors.
	Rn, G float64

	// NDVIPercentile and LSTPercentile are the thresholds that
	// selected the pixel.
	NDVIPercentile, LSTPercentile float64
}

// AvailableEnergy returns Rn − G at the anchor pixel [W m⁻²].
func (a *Anchor) AvailableEnergy() float64 { return a.Rn - a.G }

// Surface temperatures below this are considered corrupted thermal
// data and are excluded from anchor candidate pools.
const minPlausibleLST = 200.0

// ColdAnchor returns a SceneManipulator that selects the cold
// calibration pixel: among the ndviPct percent most vegetated pixels,
// restrict to the lstPct percent coldest, then take the pixel with the
// minimum elevation-corrected surface temperature. An empty candidate
// pool (a fully masked scene, or one with no vegetated contrast)
// rejects the scene with a SelectionError.
//
// The cold anchor must be selected before the radiation balance: its
// temperature stands in for the near-surface air temperature in the
// incoming long-wave radiation.
func ColdAnchor(ndviPct, lstPct float64) SceneManipulator {
	return func(s *Scene) error {
		ctx, e := s.Context(), s.Engine()
		ndvi, err := s.Field(NDVI)
		if err != nil {
			return err
		}
		lst, err := s.Field(LSTDEM)
		if err != nil {
			return err
		}
		plausible := lst.Gte(raster.Const(minPlausibleLST))

		ndviThresh, err := e.Percentile(ctx, ndvi.UpdateMask(plausible), 100-ndviPct)
		if err != nil {
			return err
		}
		pool := lst.UpdateMask(plausible).
			UpdateMask(ndvi.Gte(raster.Const(ndviThresh)))
		n, err := e.Reduce(ctx, pool, raster.Count)
		if err != nil {
			return err
		}
		if n == 0 {
			return &SelectionError{Role: string(RoleCold), Reason: "empty candidate set"}
		}

		lstThresh, err := e.Percentile(ctx, pool, lstPct)
		if err != nil {
			return err
		}
		coldest, err := e.Extremum(ctx, pool.UpdateMask(pool.Lte(raster.Const(lstThresh))), raster.Min)
		if err != nil {
			return err
		}
		if math.IsNaN(coldest.Value) {
			return &SelectionError{Role: string(RoleCold), Reason: "empty candidate set"}
		}

		s.logger().WithFields(logFields(coldest, ndviThresh, lstThresh)).Info("selected cold anchor")
		return s.SetAnchor(&Anchor{
			Role: RoleCold,
			LST:  coldest.Value,
			Row:  coldest.Row, Col: coldest.Col,
			Rn: math.NaN(), G: math.NaN(),
			NDVIPercentile: ndviPct, LSTPercentile: lstPct,
		})
	}
}

// HotAnchor returns a SceneManipulator that selects the hot
// calibration pixel: among the ndviPct percent least vegetated pixels
// with positive NDVI (bare agricultural soil rather than water),
// restrict to the lstPct percent hottest, then take the pixel with the
// maximum elevation-corrected surface temperature. It then samples net
// radiation and soil heat flux at both anchor locations, and verifies
// that the cold anchor is not warmer than the hot one.
func HotAnchor(ndviPct, lstPct float64) SceneManipulator {
	return func(s *Scene) error {
		ctx, e := s.Context(), s.Engine()
		ndvi, err := s.Field(NDVI)
		if err != nil {
			return err
		}
		lst, err := s.Field(LSTDEM)
		if err != nil {
			return err
		}
		plausible := lst.Gte(raster.Const(minPlausibleLST))
		positive := ndvi.Gt(raster.Const(0))

		ndviThresh, err := e.Percentile(ctx, ndvi.UpdateMask(positive).UpdateMask(plausible), ndviPct)
		if err != nil {
			return err
		}
		pool := lst.UpdateMask(plausible).
			UpdateMask(positive.And(ndvi.Lte(raster.Const(ndviThresh))))
		n, err := e.Reduce(ctx, pool, raster.Count)
		if err != nil {
			return err
		}
		if n == 0 {
			return &SelectionError{Role: string(RoleHot), Reason: "empty candidate set"}
		}

		lstThresh, err := e.Percentile(ctx, pool, 100-lstPct)
		if err != nil {
			return err
		}
		hottest, err := e.Extremum(ctx, pool.UpdateMask(pool.Gte(raster.Const(lstThresh))), raster.Max)
		if err != nil {
			return err
		}
		if math.IsNaN(hottest.Value) {
			return &SelectionError{Role: string(RoleHot), Reason: "empty candidate set"}
		}

		hot := &Anchor{
			Role: RoleHot,
			LST:  hottest.Value,
			Row:  hottest.Row, Col: hottest.Col,
			NDVIPercentile: ndviPct, LSTPercentile: lstPct,
		}
		if hot.Rn, hot.G, err = sampleFluxes(s, hot.Row, hot.Col); err != nil {
			return err
		}

		cold, err := s.Anchor(RoleCold)
		if err != nil {
			return err
		}
		if cold.LST > hot.LST {
			return &SelectionError{Role: string(RoleHot), Reason: fmt.Sprintf(
				"cold anchor (%.2f K) is warmer than hot anchor (%.2f K)", cold.LST, hot.LST)}
		}
		if cold.Rn, cold.G, err = sampleFluxes(s, cold.Row, cold.Col); err != nil {
			return err
		}

		s.logger().WithFields(logFields(hottest, ndviThresh, lstThresh)).Info("selected hot anchor")
		return s.SetAnchor(hot)
	}
}

// sampleFluxes evaluates net radiation and soil heat flux at one
// pixel.
func sampleFluxes(s *Scene, row, col int) (rn, g float64, err error) {
	rnField, err := s.Field(NetRadiation)
	if err != nil {
		return 0, 0, err
	}
	gField, err := s.Field(SoilHeat)
	if err != nil {
		return 0, 0, err
	}
	ctx, e := s.Context(), s.Engine()
	if rn, err = e.Sample(ctx, rnField, row, col); err != nil {
		return 0, 0, err
	}
	if g, err = e.Sample(ctx, gField, row, col); err != nil {
		return 0, 0, err
	}
	if !finite(rn) || !finite(g) {
		return 0, 0, &SelectionError{Role: "anchor", Reason: fmt.Sprintf(
			"fluxes at pixel (%d, %d) are not finite: Rn=%g G=%g", row, col, rn, g)}
	}
	return rn, g, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func logFields(sample raster.Sample, ndviThresh, lstThresh float64) logrus.Fields {
	return logrus.Fields{
		"row": sample.Row, "col": sample.Col,
		"LST":        fmt.Sprintf("%.2f", sample.Value),
		"ndviThresh": fmt.Sprintf("%.3f", ndviThresh),
		"lstThresh":  fmt.Sprintf("%.2f", lstThresh),
	}
}
