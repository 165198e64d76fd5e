// Package analysis turns a normalized forecast into a short advisory using
// interchangeable backends of increasing richness.
package analysis

import (
	"context"
	"errors"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// Backend identifiers.
const (
	RuleBasedID   = "rule-based"
	FastNumericID = "fast-numeric"
	RichID        = "rich"

	// AutoBackend selects the current-best backend.
	AutoBackend = "auto"
	// PlaceholderID labels results produced when no backend could answer.
	PlaceholderID = "none"
)

// NeutralAdvisory is returned when no Ready backend can produce an advisory.
const NeutralAdvisory = "Forecast data is available, but no advisory could be generated right now."

var (
	// ErrBackendInit marks initialization failures. It never leaves the registry.
	ErrBackendInit = errors.New("analysis backend initialization failed")
	// ErrBackendGone is returned by a Ready backend that can no longer serve at all
	// (e.g. its model was removed). It is the only error that demotes a backend.
	ErrBackendGone = errors.New("analysis backend gone")
)

// Backend produces advisory text for a forecast.
type Backend interface {
	Initialize(ctx context.Context) error
	Analyze(ctx context.Context, f models.NormalizedForecast) (string, error)
	IsReady() bool
}

// Registration pairs a backend with the identifier it is addressed by.
type Registration struct {
	ID      string
	Backend Backend
}

// State is a backend's position in the readiness lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
