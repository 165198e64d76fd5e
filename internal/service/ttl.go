package service

import (
	"time"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// TTL tiers. The busiest location is refreshed most often; the long tail is
// cached longest because a refetch there rarely serves anyone else.
const (
	TierFlagship = "flagship"
	TierPopular  = "popular"
	TierDefault  = "default"

	DefaultFlagshipTTL = 300 * time.Second
	DefaultPopularTTL  = 600 * time.Second
	DefaultLongTailTTL = 900 * time.Second
)

// TTLPolicy maps a location to its cache TTL tier.
type TTLPolicy struct {
	Flagship    *models.LocationKey
	Popular     []models.LocationKey
	FlagshipTTL time.Duration
	PopularTTL  time.Duration
	DefaultTTL  time.Duration
}

// DefaultTTLPolicy returns the standard tiers with no flagship or popular locations.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		FlagshipTTL: DefaultFlagshipTTL,
		PopularTTL:  DefaultPopularTTL,
		DefaultTTL:  DefaultLongTailTTL,
	}
}

// For returns the TTL and tier label for loc. Altitude does not affect the tier.
func (p TTLPolicy) For(loc models.LocationKey) (time.Duration, string) {
	if p.Flagship != nil && p.Flagship.SameCoordinates(loc) {
		return p.FlagshipTTL, TierFlagship
	}
	for _, pop := range p.Popular {
		if pop.SameCoordinates(loc) {
			return p.PopularTTL, TierPopular
		}
	}
	return p.DefaultTTL, TierDefault
}
