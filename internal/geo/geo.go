package geo

import (
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

// Haversine distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over two coords, in meters.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// EstimateSeconds is the naive ETA: distance / speed_mps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return Distance(from, to) / speedMps
}

// FormatETA renders a seconds count the way driver clients display it.
func FormatETA(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	m := int(seconds) / 60
	s := int(seconds) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
