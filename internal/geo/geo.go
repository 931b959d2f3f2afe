// Package geo measures distances between terminals and delivery addresses.
package geo

import (
	"errors"
	"math"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var ErrOutOfRange = errors.New("lat must be within [-90,90] and lng within [-180,180]")

func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrOutOfRange
	}
	return nil
}

// DistanceKm is the great-circle distance between a and b, rounded to whole meters.
func DistanceKm(a, b Point) float64 {
	dLat := deg2rad(b.Lat - a.Lat)
	dLng := deg2rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(a.Lat))*math.Cos(deg2rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	km := earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return math.Round(km*1000) / 1000
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
