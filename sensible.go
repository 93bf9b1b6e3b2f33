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

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/spatialmodel/sebal/raster"
)

// Heights of the aerodynamic profile [m].
const (
	windMeasurementHeight   = 2.0   // z_x, wind speed measurement
	blendingHeight          = 200.0 // assumed free of local surface influence
	rahLowerHeight          = 0.1   // z_1, lower bound of the resistance integration
	rahUpperHeight          = 2.0   // z_2, upper bound of the resistance integration
	stationVegetationHeight = 3.0   // vegetation around the wind measurement
)

// Convergence decides when the sensible heat iteration stops. It is
// called after every pass with the number of completed passes and the
// largest absolute change in H since the previous pass [W m⁻²]
// (infinite after the first pass), and reports whether to stop.
type Convergence func(pass int, maxΔH float64) bool

// ConvergenceCheck returns a termination rule for the sensible heat
// iteration. If numPasses > 0, the iteration runs exactly that many
// passes; the processing pipelines default to 2, an empirical count
// chosen for typical overpass conditions. Otherwise the iteration
// runs until the largest change in H since the previous pass is below
// 0.1 W m⁻², with a hard cap of 100 passes.
//
// The two modes can disagree: a fixed count may stop before the
// stability functions have settled. Running the tolerance mode on a
// sample of scenes is the way to choose a trustworthy fixed count for
// a batch.
func ConvergenceCheck(numPasses int) Convergence {
	const (
		tolerance = 0.1
		maxPasses = 100
	)
	return func(pass int, maxΔH float64) bool {
		if numPasses > 0 {
			return pass >= numPasses
		}
		return pass >= maxPasses || maxΔH < tolerance
	}
}

// SensibleHeatFlux returns a SceneManipulator that solves for the
// sensible heat flux field, the algorithmic core of SEBAL
// (Bastiaanssen et al. 1998).
//
// The near-surface temperature difference is modeled as dT = a·T + b,
// pinned by the two anchors: dT = 0 at the cold anchor (all available
// energy goes to evapotranspiration) and dT = (Rn−G)·rah/(ρ·cp) at
// the hot anchor (evapotranspiration has stopped). Because the
// aerodynamic resistance rah itself depends on H through the
// Monin-Obukhov stability corrections, the solution is iterated from
// the neutral-stability wind profile until check says to stop.
//
// The iteration state (friction velocity, resistance, calibration
// coefficients) is internal and discarded on return; only the
// roughness length and final H are appended to the scene. The engine
// must implement raster.BandAdder to receive the computed flux field.
func SensibleHeatFlux(check Convergence) SceneManipulator {
	return func(s *Scene) error {
		ctx, e := s.Context(), s.Engine()
		adder, ok := e.(raster.BandAdder)
		if !ok {
			return fmt.Errorf("sebal: engine %T cannot store computed fields", e)
		}
		cold, err := s.Anchor(RoleCold)
		if err != nil {
			return err
		}
		hot, err := s.Anchor(RoleHot)
		if err != nil {
			return err
		}
		savi, err := s.Field(SAVI)
		if err != nil {
			return err
		}
		lstDEMField, err := s.Field(LSTDEM)
		if err != nil {
			return err
		}

		// Momentum roughness length from vegetation cover;
		// Bastiaanssen (2000).
		zomExpr := savi.Mul(raster.Const(5.62)).Sub(raster.Const(5.809)).Exp()
		if err := s.Set(Roughness, zomExpr); err != nil {
			return err
		}

		lstDEM, err := e.Materialize(ctx, lstDEMField)
		if err != nil {
			return err
		}
		zom, err := e.Materialize(ctx, zomExpr)
		if err != nil {
			return err
		}

		// Wind speed at the blending height, extrapolated from the
		// measurement through the logarithmic profile over the
		// reference vegetation.
		zomStation := 0.12 * stationVegetationHeight
		uStarStation := vonKarman * s.Met.WindSpeed / math.Log(windMeasurementHeight/zomStation)
		u200 := uStarStation * math.Log(blendingHeight/zomStation) / vonKarman
		if !finite(u200) || u200 <= 0 {
			return &NumericalError{Op: "sensible heat flux", Reason: fmt.Sprintf(
				"blending height wind speed %g m/s from measured %g m/s", u200, s.Met.WindSpeed)}
		}

		g := e.Grid()
		n := g.Size()
		coldIdx := cold.Row*g.NX + cold.Col
		hotIdx := hot.Row*g.NX + hot.Col

		// Neutral-stability initialization.
		uStar := make([]float64, n)
		rah := make([]float64, n)
		lnRah := math.Log(rahUpperHeight / rahLowerHeight)
		for i := 0; i < n; i++ {
			us := vonKarman * u200 / math.Log(blendingHeight/zom.Elements[i])
			uStar[i] = us
			rah[i] = lnRah / (us * vonKarman)
		}

		ρHot := airDensity(hot.LST)
		hHot := hot.AvailableEnergy()

		H := make([]float64, n)
		prevH := make([]float64, n)
		log := s.logger()
		pass := 0
		for {
			pass++
			if err := checkResistance(rah[coldIdx], RoleCold, pass); err != nil {
				return err
			}
			if err := checkResistance(rah[hotIdx], RoleHot, pass); err != nil {
				return err
			}

			// Boundary conditions at the anchors pin dT = a·T + b.
			dTHot := hHot * rah[hotIdx] / (ρHot * airHeatCapacity)
			a, b, err := calibrate(cold.LST, hot.LST, 0, dTHot)
			if err != nil {
				return err
			}

			maxΔ := math.Inf(1)
			if pass > 1 {
				maxΔ = 0
			}
			validPixels := 0
			for i := 0; i < n; i++ {
				dT := a*lstDEM.Elements[i] + b
				ρ := airDensity(lstDEM.Elements[i] - dT)
				H[i] = ρ * airHeatCapacity * dT / rah[i]
				if !finite(H[i]) {
					continue
				}
				validPixels++
				if pass > 1 && finite(prevH[i]) {
					maxΔ = math.Max(maxΔ, math.Abs(H[i]-prevH[i]))
				}
			}
			if validPixels == 0 {
				return &NumericalError{Op: "sensible heat flux",
					Reason: "no valid pixels remain"}
			}

			log.WithFields(logrus.Fields{
				"pass": pass,
				"a":    fmt.Sprintf("%.5f", a),
				"b":    fmt.Sprintf("%.3f", b),
				"ΔH":   fmt.Sprintf("%.3g", maxΔ),
			}).Debug("sensible heat pass")
			if check(pass, maxΔ) {
				break
			}
			copy(prevH, H)

			// Stability update for the next pass.
			for i := 0; i < n; i++ {
				if !finite(H[i]) || !finite(uStar[i]) {
					rah[i] = math.NaN()
					continue
				}
				var ψm200, ψh2, ψh01 float64
				if math.Abs(H[i]) > 1e-6 {
					L := -airDensity(lstDEM.Elements[i]-(a*lstDEM.Elements[i]+b)) *
						airHeatCapacity * math.Pow(uStar[i], 3) * lstDEM.Elements[i] /
						(vonKarman * gravity * H[i])
					ψm200, ψh2, ψh01 = stabilityCorrections(L)
				}
				denom := math.Log(blendingHeight/zom.Elements[i]) - ψm200
				if denom <= 0 {
					rah[i] = math.NaN()
					continue
				}
				us := vonKarman * u200 / denom
				uStar[i] = us
				r := (lnRah - ψh2 + ψh01) / (us * vonKarman)
				if r <= 0 {
					r = math.NaN()
				}
				rah[i] = r
			}
		}

		hArr := sparse.ZerosDense(g.NY, g.NX)
		copy(hArr.Elements, H)
		if err := adder.AddBand(SensibleHeat, hArr); err != nil {
			return err
		}
		return s.Set(SensibleHeat, raster.Band(SensibleHeat))
	}
}

// checkResistance guards against a vanishing or non-finite
// aerodynamic resistance at an anchor, which would make the
// calibration meaningless.
func checkResistance(rah float64, role AnchorRole, pass int) error {
	if !finite(rah) || rah < 1e-6 {
		return &NumericalError{Op: "sensible heat flux", Reason: fmt.Sprintf(
			"aerodynamic resistance %g s/m at %s anchor in pass %d", rah, role, pass)}
	}
	return nil
}

// calibrate solves the 2×2 system pinning dT = a·T + b at the two
// anchor temperatures.
func calibrate(tCold, tHot, dTCold, dTHot float64) (a, b float64, err error) {
	A := mat.NewDense(2, 2, []float64{tCold, 1, tHot, 1})
	if det := mat.Det(A); math.Abs(det) < 1e-9 {
		return 0, 0, &NumericalError{Op: "anchor calibration", Reason: fmt.Sprintf(
			"singular system: anchor temperatures %.3f K and %.3f K are indistinguishable",
			tCold, tHot)}
	}
	var x mat.VecDense
	if err := x.SolveVec(A, mat.NewVecDense(2, []float64{dTCold, dTHot})); err != nil {
		return 0, 0, &NumericalError{Op: "anchor calibration", Reason: err.Error()}
	}
	a, b = x.AtVec(0), x.AtVec(1)
	if !finite(a) || !finite(b) {
		return 0, 0, &NumericalError{Op: "anchor calibration", Reason: fmt.Sprintf(
			"non-finite coefficients a=%g b=%g", a, b)}
	}
	return a, b, nil
}

// stabilityCorrections returns the Monin-Obukhov stability correction
// functions for momentum at the blending height and for heat at the
// resistance integration heights, given the Obukhov length L.
// Unstable forms from Paulson (1970), stable forms from Webb (1970).
func stabilityCorrections(L float64) (ψm200, ψh2, ψh01 float64) {
	switch {
	case L < 0:
		x200 := math.Pow(1-16*blendingHeight/L, 0.25)
		x2 := math.Pow(1-16*rahUpperHeight/L, 0.25)
		x01 := math.Pow(1-16*rahLowerHeight/L, 0.25)
		ψm200 = 2*math.Log((1+x200)/2) + math.Log((1+x200*x200)/2) -
			2*math.Atan(x200) + math.Pi/2
		ψh2 = 2 * math.Log((1+x2*x2)/2)
		ψh01 = 2 * math.Log((1+x01*x01)/2)
	case L > 0:
		ψm200 = -5 * blendingHeight / L
		ψh2 = -5 * rahUpperHeight / L
		ψh01 = -5 * rahLowerHeight / L
	}
	return
}
