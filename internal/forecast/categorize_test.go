package forecast

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kjstillabower/forecast-enhancer/internal/circuitbreaker"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled", context.Canceled, ErrorCategoryTimeout},
		{"breaker open", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, circuitbreaker.ErrOpen), ErrorCategoryCircuitOpen},
		{"malformed", fmt.Errorf("%w: empty timeseries", ErrUpstreamMalformed), ErrorCategoryMalformed},
		{"429", &StatusError{Code: 429}, ErrorCategoryRateLimited},
		{"503", &StatusError{Code: 503}, ErrorCategoryUpstream5xx},
		{"403", &StatusError{Code: 403}, ErrorCategoryUpstream4xx},
		{"connection refused", fmt.Errorf("%w: dial tcp: connection refused", ErrUpstreamUnavailable), ErrorCategoryNetwork},
		{"bare unavailable", ErrUpstreamUnavailable, ErrorCategoryNetwork},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeError(tt.err))
		})
	}
}

func TestIsBreakerFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"malformed", ErrUpstreamMalformed, false},
		{"404", &StatusError{Code: 404}, false},
		{"429", &StatusError{Code: 429}, true},
		{"500", &StatusError{Code: 500}, true},
		{"network", fmt.Errorf("%w: EOF", ErrUpstreamUnavailable), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBreakerFailure(tt.err))
		})
	}
}
