// Package validation checks request inputs before they reach the service layer.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidCoordinates is returned for missing, unparsable or out-of-range lat/lon.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrInvalidAltitude is returned for an unparsable or out-of-range altitude.
var ErrInvalidAltitude = errors.New("invalid altitude")

// ErrInvalidUserID is returned when user_id is too long or not printable ASCII.
var ErrInvalidUserID = errors.New("invalid user_id")

// ErrUnknownBackend is returned when a preferred backend is not registered.
var ErrUnknownBackend = errors.New("unknown analysis backend")

// ErrInvalidFlag is returned when a boolean query flag cannot be parsed.
var ErrInvalidFlag = errors.New("invalid boolean flag")

// Altitude bounds in metres.
const (
	MinAltitude = -500
	MaxAltitude = 9000

	MaxUserIDLen = 128
)

// Coordinates is a validated lat/lon pair.
type Coordinates struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

type altitudeInput struct {
	Meters int `validate:"gte=-500,lte=9000"`
}

type userInput struct {
	ID string `validate:"max=128,printascii"`
}

var validate = validator.New()

// ValidateCoordinates range-checks an already parsed pair. NaN and infinities fail.
func ValidateCoordinates(lat, lon float64) (Coordinates, error) {
	c := Coordinates{Lat: lat, Lon: lon}
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return Coordinates{}, fmt.Errorf("%w: NaN", ErrInvalidCoordinates)
	}
	if err := validate.Struct(c); err != nil {
		return Coordinates{}, fmt.Errorf("%w: lat must be in [-90, 90] and lon in [-180, 180]", ErrInvalidCoordinates)
	}
	return c, nil
}

// ParseCoordinates parses lat/lon query values and range-checks them.
func ParseCoordinates(latStr, lonStr string) (Coordinates, error) {
	latStr, lonStr = strings.TrimSpace(latStr), strings.TrimSpace(lonStr)
	if latStr == "" || lonStr == "" {
		return Coordinates{}, fmt.Errorf("%w: lat and lon are required", ErrInvalidCoordinates)
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: lat %q is not a number", ErrInvalidCoordinates, latStr)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: lon %q is not a number", ErrInvalidCoordinates, lonStr)
	}
	return ValidateCoordinates(lat, lon)
}

// ParseAltitude parses an optional altitude in whole metres. Empty input yields nil.
func ParseAltitude(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidAltitude, s)
	}
	if err := validate.Struct(altitudeInput{Meters: n}); err != nil {
		return nil, fmt.Errorf("%w: must be in [%d, %d]", ErrInvalidAltitude, MinAltitude, MaxAltitude)
	}
	return &n, nil
}

// ValidateUserID trims and checks an optional user identifier.
func ValidateUserID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if err := validate.Struct(userInput{ID: s}); err != nil {
		return "", fmt.Errorf("%w: at most %d printable ASCII characters", ErrInvalidUserID, MaxUserIDLen)
	}
	return s, nil
}

// ValidateBackend accepts empty, "auto" or one of known.
func ValidateBackend(id string, known []string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "auto" {
		return "", nil
	}
	for _, k := range known {
		if id == k {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, id)
}

// ParseFlag parses an optional boolean query flag, returning def when empty.
func ParseFlag(s string, def bool) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidFlag, s)
	}
	return b, nil
}
