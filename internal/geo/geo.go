package geo

import (
	"math"
	"time"
)

const earthRadiusMetres = 6371000.0

// Distance returns the great-circle distance in metres between two
// coordinates using the Haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMetres * c
}

// SpeedKPH estimates speed in km/h for a vehicle that covered the distance
// between two positions over the given elapsed time. Returns 0 when elapsed
// is not positive.
func SpeedKPH(lat1, lon1, lat2, lon2 float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	metres := Distance(lat1, lon1, lat2, lon2)
	return metres / elapsed.Hours() / 1000
}
