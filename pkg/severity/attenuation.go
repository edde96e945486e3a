package severity

import "math"

const (
	// magnitudeCorrection calibrates JMA magnitude to the moment magnitude the
	// attenuation relation expects.
	magnitudeCorrection = -0.171
	minFaultDistanceKm  = 3.0
	surfaceAmplifier    = 1.31
)

// EstimateIntensity returns the instrumental intensity expected at an
// epicentral distance for an event of the given magnitude and depth (km).
func EstimateIntensity(magnitude, depthKm, epicentralKm float64) float64 {
	mw := magnitude + magnitudeCorrection

	faultLength := math.Pow(10, 0.5*mw-1.85) / 2
	hypocentral := math.Sqrt(depthKm*depthKm+epicentralKm*epicentralKm) - faultLength
	x := math.Max(hypocentral, minFaultDistanceKm)

	pgv600 := math.Pow(10, 0.58*mw+0.0038*depthKm-1.29-math.Log10(x+0.0028*math.Pow(10, 0.5*mw))-0.002*x)
	pgv400 := pgv600 * surfaceAmplifier

	return 2.68 + 1.72*math.Log10(pgv400)
}
