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

import "fmt"

// Sensor identifies the Landsat generation a scene was acquired by.
// The sensor determines the band set, the radiometric scaling of the
// Collection 2 Level-2 products, the thermal band wavelength, and the
// band weights used for broadband albedo. It is resolved exactly once,
// at ingestion; unknown spacecraft identifiers reject the scene.
type Sensor int

const (
	// Landsat5 is the Thematic Mapper on Landsat 5.
	Landsat5 Sensor = iota + 1
	// Landsat7 is the Enhanced Thematic Mapper Plus on Landsat 7.
	Landsat7
	// Landsat8 is the OLI/TIRS instrument pair on Landsat 8.
	Landsat8
	// Landsat9 is the OLI-2/TIRS-2 instrument pair on Landsat 9.
	Landsat9
)

// ParseSensor resolves a SPACECRAFT_ID metadata value to a Sensor.
// Unrecognized identifiers return an error wrapping
// ErrUnsupportedSensor.
func ParseSensor(spacecraftID string) (Sensor, error) {
	switch spacecraftID {
	case "LANDSAT_5":
		return Landsat5, nil
	case "LANDSAT_7":
		return Landsat7, nil
	case "LANDSAT_8":
		return Landsat8, nil
	case "LANDSAT_9":
		return Landsat9, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSensor, spacecraftID)
	}
}

func (s Sensor) String() string {
	switch s {
	case Landsat5:
		return "LANDSAT_5"
	case Landsat7:
		return "LANDSAT_7"
	case Landsat8:
		return "LANDSAT_8"
	case Landsat9:
		return "LANDSAT_9"
	default:
		return fmt.Sprintf("Sensor(%d)", int(s))
	}
}

// ReflectanceBands returns the names of the surface reflectance bands
// this sensor provides, in instrument order.
func (s Sensor) ReflectanceBands() []string {
	switch s {
	case Landsat8, Landsat9:
		return []string{UltraBlue, Blue, Green, Red, NIR, SWIR1, SWIR2}
	default:
		return []string{Blue, Green, Red, NIR, SWIR1, SWIR2}
	}
}

// AlbedoWeights returns the per-band weights that combine surface
// reflectance into broadband albedo, following Ke et al. (2016) for
// OLI and Olmedo et al. (2017) for TM/ETM+. The weights are aligned
// with ReflectanceBands.
func (s Sensor) AlbedoWeights() []float64 {
	switch s {
	case Landsat8, Landsat9:
		return []float64{0.130, 0.115, 0.143, 0.180, 0.281, 0.108, 0.042}
	default:
		return []float64{0.254, 0.149, 0.147, 0.311, 0.103, 0.036}
	}
}

// RawBandNames maps the Collection 2 Level-2 product band names of
// this sensor to the names the bands are ingested under.
func (s Sensor) RawBandNames() map[string]string {
	switch s {
	case Landsat8, Landsat9:
		return map[string]string{
			"SR_B1": UltraBlue, "SR_B2": Blue, "SR_B3": Green,
			"SR_B4": Red, "SR_B5": NIR, "SR_B6": SWIR1, "SR_B7": SWIR2,
			"ST_B10": Thermal,
		}
	default:
		return map[string]string{
			"SR_B1": Blue, "SR_B2": Green, "SR_B3": Red,
			"SR_B4": NIR, "SR_B5": SWIR1, "SR_B7": SWIR2,
			"ST_B6": Thermal,
		}
	}
}

// ScaleReflectance converts a Collection 2 Level-2 surface reflectance
// digital number to reflectance.
func (s Sensor) ScaleReflectance(dn float64) float64 {
	return dn*2.75e-5 - 0.2
}

// ScaleThermal converts a Collection 2 Level-2 surface temperature
// digital number to brightness temperature in Kelvin.
func (s Sensor) ScaleThermal(dn float64) float64 {
	return dn*0.00341802 + 149.0
}

// ThermalWavelength returns the center wavelength in meters of the
// thermal band used for the single-channel surface temperature
// correction.
func (s Sensor) ThermalWavelength() float64 {
	switch s {
	case Landsat5:
		return 11.45e-6
	case Landsat7:
		return 11.27e-6
	default:
		return 10.895e-6
	}
}

// QA_PIXEL bits of the Collection 2 quality band.
const (
	qaCloud       = 1 << 3
	qaCloudShadow = 1 << 4
)

// Clear reports whether a QA_PIXEL value is free of cloud and cloud
// shadow.
func (s Sensor) Clear(qa uint16) bool {
	return qa&(qaCloud|qaCloudShadow) == 0
}
