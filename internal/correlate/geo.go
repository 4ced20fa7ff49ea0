package correlate

import "math"

type coord struct {
	lat float64
	lon float64
}

// cityCoords covers the geo vocabulary of the simulated telemetry. Events
// with an unknown city are excluded from distance-based rules.
var cityCoords = map[string]coord{
	"New York":      {40.7128, -74.0060},
	"San Francisco": {37.7749, -122.4194},
	"Chicago":       {41.8781, -87.6298},
	"Boston":        {42.3601, -71.0589},
	"Seattle":       {47.6062, -122.3321},
	"London":        {51.5074, -0.1278},
	"Berlin":        {52.5200, 13.4050},
	"Paris":         {48.8566, 2.3522},
	"Amsterdam":     {52.3676, 4.9041},
	"Tokyo":         {35.6762, 139.6503},
	"Singapore":     {1.3521, 103.8198},
	"Sydney":        {-33.8688, 151.2093},
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two coordinates.
func haversineKm(a, b coord) float64 {
	lat1 := a.lat * math.Pi / 180
	lat2 := b.lat * math.Pi / 180
	dLat := (b.lat - a.lat) * math.Pi / 180
	dLon := (b.lon - a.lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func lookupCity(city string) (coord, bool) {
	c, ok := cityCoords[city]
	return c, ok
}
