package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/kjstillabower/forecast-enhancer/internal/analysis"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

const cacheKeyPrefix = "forecast:"

// CacheKey derives the cache key for a request. Nearby coordinates collapse
// onto the same key through LocationKey rounding; an empty backend means auto.
func CacheKey(loc models.LocationKey, skipAnalysis bool, preferredBackend string) string {
	backend := strings.TrimSpace(preferredBackend)
	if backend == "" {
		backend = analysis.AutoBackend
	}

	parts := []string{
		strconv.FormatFloat(loc.Lat, 'f', models.CoordinatePrecision, 64),
		strconv.FormatFloat(loc.Lon, 'f', models.CoordinatePrecision, 64),
	}
	if loc.Altitude != nil {
		parts = append(parts, "alt="+strconv.Itoa(*loc.Altitude))
	}
	parts = append(parts, strconv.FormatBool(skipAnalysis), backend)

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
