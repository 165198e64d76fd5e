// Package forecast fetches point forecasts from a met.no Locationforecast compatible
// provider and normalizes them into models.NormalizedForecast.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-enhancer/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
)

// Fetcher is implemented by MetNoClient and consumed by the enhancement service.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64, altitude *int) (models.NormalizedForecast, error)
}

var (
	// ErrUpstreamUnavailable covers network failures, timeouts, non-2xx responses and an open breaker.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamMalformed covers undecodable bodies and empty timeseries.
	ErrUpstreamMalformed = errors.New("upstream response malformed")
	// ErrInvalidUserAgent is returned at construction; met.no rejects anonymous clients.
	ErrInvalidUserAgent = errors.New("invalid user agent")
)

// maxBodyBytes bounds the response we are willing to decode (complete.json is ~1 MB).
const maxBodyBytes = 8 << 20

// StatusError is a non-2xx provider response. It unwraps to ErrUpstreamUnavailable.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", ErrUpstreamUnavailable, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamUnavailable }

// MetNoClient performs one GET per Fetch. Retries are the caller's concern.
type MetNoClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
}

// NewMetNoClient creates a client for baseURL (e.g. https://api.met.no/weatherapi/locationforecast/2.0/compact).
func NewMetNoClient(baseURL, userAgent string, timeout time.Duration) (*MetNoClient, error) {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return nil, fmt.Errorf("%w: a identifying User-Agent is required", ErrInvalidUserAgent)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", baseURL)
	}
	return &MetNoClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// SetCircuitBreaker enables fast failure while the provider is down.
// Only unavailability trips the breaker; malformed bodies and 4xx do not.
func (c *MetNoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Fetch retrieves and normalizes the forecast for the given point.
func (c *MetNoClient) Fetch(ctx context.Context, lat, lon float64, altitude *int) (models.NormalizedForecast, error) {
	var out models.NormalizedForecast
	call := func() error {
		var err error
		out, err = c.fetch(ctx, lat, lon, altitude)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
	} else {
		err = call()
	}
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.NormalizedForecast{}, err
	}
	return out, nil
}

func (c *MetNoClient) fetch(ctx context.Context, lat, lon float64, altitude *int) (models.NormalizedForecast, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, lat, lon, altitude)
	if err != nil {
		return models.NormalizedForecast{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		observability.UpstreamDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return models.NormalizedForecast{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	status := observability.StatusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return models.NormalizedForecast{}, &StatusError{Code: resp.StatusCode}
	}

	var apiResp locationforecastResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&apiResp); err != nil {
		return models.NormalizedForecast{}, fmt.Errorf("%w: parse response: %w", ErrUpstreamMalformed, err)
	}

	return Normalize(apiResp, models.NewLocationKey(lat, lon, altitude))
}

func (c *MetNoClient) buildRequest(ctx context.Context, lat, lon float64, altitude *int) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	params := u.Query()
	// met.no truncates to 4 decimals and rejects more.
	params.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	if altitude != nil {
		params.Set("altitude", strconv.Itoa(*altitude))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// IsBreakerFailure reports whether err reflects provider unavailability
// (network, timeout, 429, 5xx) as opposed to a bad request or bad body.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, ErrUpstreamMalformed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return errors.Is(err, ErrUpstreamUnavailable)
}
