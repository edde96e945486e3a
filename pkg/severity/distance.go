package severity

import "math"

// EarthRadiusKm is the mean Earth radius used for epicentral distance.
const EarthRadiusKm = 6371.0

// Location is a point on the Earth's surface in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Distance returns the great-circle distance in kilometres between a and b
// using the spherical law of cosines.
func Distance(a, b Location) float64 {
	if a == b {
		return 0
	}

	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	cosine := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(dLon)
	cosine = math.Max(-1, math.Min(1, cosine))

	return EarthRadiusKm * math.Acos(cosine)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
