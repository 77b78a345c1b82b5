// Package geo provides great-circle distance math for travel-feasibility
// checks. Coordinates come from the account's registered locations, with a
// fallback table of common cities for locations the account has never
// registered.
package geo

import "math"

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371

// Coords is a latitude/longitude pair in decimal degrees.
type Coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceKm returns the great-circle distance between two points using
// the haversine formula.
func DistanceKm(a, b Coords) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// cityCoords covers locations the demo dataset uses, so travel checks work
// before an account has registered coordinates for a location.
var cityCoords = map[string]Coords{
	"New York, USA":      {Lat: 40.7128, Lon: -74.0060},
	"Los Angeles, USA":   {Lat: 34.0522, Lon: -118.2437},
	"Chicago, USA":       {Lat: 41.8781, Lon: -87.6298},
	"San Francisco, USA": {Lat: 37.7749, Lon: -122.4194},
	"Seattle, USA":       {Lat: 47.6062, Lon: -122.3321},
	"Boston, USA":        {Lat: 42.3601, Lon: -71.0589},
	"Miami, USA":         {Lat: 25.7617, Lon: -80.1918},
	"Oakland, USA":       {Lat: 37.8044, Lon: -122.2712},
	"San Diego, USA":     {Lat: 32.7157, Lon: -117.1611},
	"Portland, USA":      {Lat: 45.5152, Lon: -122.6784},
}

// LookupCity returns fallback coordinates for a known city name.
func LookupCity(name string) (Coords, bool) {
	c, ok := cityCoords[name]
	return c, ok
}
