package floor

import "math"

// PressureToAltitude converts static pressure (Pa) to altitude in meters using
// the International Standard Atmosphere approximation.
//
//	h(m) = 44330 * (1 - (p/p0)^(1/5.255))
func PressureToAltitude(pressurePa float64) float64 {
	p0 := 101325.0
	return 44330.0 * (1.0 - math.Pow(pressurePa/p0, 1.0/5.255))
}

// AltitudeToPressure is the inverse of PressureToAltitude.
func AltitudeToPressure(altitudeM float64) float64 {
	p0 := 101325.0
	return p0 * math.Pow(1.0-altitudeM/44330.0, 5.255)
}
