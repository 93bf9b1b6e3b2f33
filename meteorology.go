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

import "math"

// Physical constants.
const (
	stefanBoltzmann = 5.67e-8 // [W m⁻² K⁻⁴]
	solarConstant   = 1367.0  // [W m⁻²]
	vonKarman       = 0.41
	gravity         = 9.81   // [m s⁻²]
	airHeatCapacity = 1004.0 // specific heat of air at constant pressure [J kg⁻¹ K⁻¹]
	waterDensity    = 1000.0 // [kg m⁻³]
	// Standard-atmosphere temperature lapse rate [K m⁻¹].
	lapseRate = 0.0065
)

// atmosphericPressure returns the standard-atmosphere pressure [kPa]
// at elevation z [m]. Allen et al. (1998) Equation 7.
func atmosphericPressure(z float64) float64 {
	return 101.3 * math.Pow((293-lapseRate*z)/293, 5.26)
}

// saturationVaporPressure returns the saturation vapor pressure [kPa]
// at air temperature T [°C]. Allen et al. (1998) Equation 11.
func saturationVaporPressure(T float64) float64 {
	return 0.6108 * math.Exp(17.27 * T / (T + 237.3))
}

// actualVaporPressure returns the near-surface vapor pressure [kPa]
// from relative humidity rh [percent] and air temperature T [°C].
func actualVaporPressure(rh, T float64) float64 {
	return rh / 100 * saturationVaporPressure(T)
}

// precipitableWater returns the atmospheric precipitable water [mm]
// from vapor pressure ea [kPa] and pressure P [kPa].
// Garrison and Adler (1990).
func precipitableWater(ea, P float64) float64 {
	return 0.14*ea*P + 2.1
}

// shortwaveTransmissivity returns the broadband clear-sky atmospheric
// transmissivity from pressure P [kPa], precipitable water W [mm],
// the cosine of the solar zenith angle, and the turbidity coefficient
// Kt (1 for clean air). ASCE-EWRI (2005), as applied by
// Allen et al. (2007) Equation 4.
func shortwaveTransmissivity(P, W, cosZenith, Kt float64) float64 {
	return 0.35 + 0.627*math.Exp(-0.00146*P/(Kt*cosZenith)-0.075*math.Pow(W/cosZenith, 0.4))
}

// airDensity returns air density [kg m⁻³] linearized in temperature
// T [K].
func airDensity(T float64) float64 {
	return -0.0046*T + 2.5538
}

// inverseEarthSunDistance returns the inverse squared relative
// Earth-Sun distance for the given day of year.
// Allen et al. (1998) Equation 23.
func inverseEarthSunDistance(doy int) float64 {
	return 1 + 0.033*math.Cos(float64(doy)*2*math.Pi/365)
}

// latentHeatOfVaporization returns the latent heat of vaporization of
// water [J kg⁻¹] at surface temperature T [K]. Harrison (1963).
func latentHeatOfVaporization(T float64) float64 {
	return (2.501 - 0.00236*(T-273.15)) * 1e6
}
