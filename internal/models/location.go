package models

import (
	"fmt"
	"math"
)

// CoordinatePrecision is the number of decimals kept in a LocationKey (~1.1 km at 2).
const CoordinatePrecision = 2

var coordinateScale = math.Pow(10, CoordinatePrecision)

// LocationKey is the rounded coordinate tuple that partitions cache entries.
type LocationKey struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude *int    `json:"altitude,omitempty"`
}

// NewLocationKey rounds lat/lon to CoordinatePrecision. Applying it to an
// already rounded key yields the same key.
func NewLocationKey(lat, lon float64, altitude *int) LocationKey {
	k := LocationKey{Lat: RoundCoordinate(lat), Lon: RoundCoordinate(lon)}
	if altitude != nil {
		alt := *altitude
		k.Altitude = &alt
	}
	return k
}

// RoundCoordinate rounds v half away from zero to CoordinatePrecision decimals.
func RoundCoordinate(v float64) float64 {
	r := math.Round(v*coordinateScale) / coordinateScale
	if r == 0 {
		return 0 // normalise -0
	}
	return r
}

// SameCoordinates reports whether two keys share lat/lon, ignoring altitude.
func (k LocationKey) SameCoordinates(other LocationKey) bool {
	return k.Lat == other.Lat && k.Lon == other.Lon
}

// String renders the key with fixed precision, e.g. "59.91,10.75" or "59.91,10.75@120".
func (k LocationKey) String() string {
	s := fmt.Sprintf("%.*f,%.*f", CoordinatePrecision, k.Lat, CoordinatePrecision, k.Lon)
	if k.Altitude != nil {
		s += fmt.Sprintf("@%d", *k.Altitude)
	}
	return s
}
