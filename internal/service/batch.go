package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
)

// MaxBatchSize caps the number of locations in one batch.
const MaxBatchSize = 10

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
var ErrBatchTooLarge = errors.New("batch too large")

// ErrEmptyBatch is returned for a batch with no locations.
var ErrEmptyBatch = errors.New("batch is empty")

// Coordinate is one batch input.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BatchItem is one batch output, in input order. Exactly one of Forecast and
// Error is set.
type BatchItem struct {
	Coordinate Coordinate               `json:"coordinate"`
	Forecast   *models.EnhancedForecast `json:"forecast,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// BatchResult aggregates a batch. A failed location never fails the batch.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// EnhanceBatch enhances every coordinate concurrently with analysis skipped
// and joins on all of them. Only an invalid batch size is returned as an error.
func (s *EnhancementService) EnhanceBatch(ctx context.Context, coords []Coordinate) (BatchResult, error) {
	if len(coords) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	if len(coords) > MaxBatchSize {
		return BatchResult{}, fmt.Errorf("%w: %d locations, max %d", ErrBatchTooLarge, len(coords), MaxBatchSize)
	}
	observability.BatchLocations.Observe(float64(len(coords)))

	items := make([]BatchItem, len(coords))
	opts := DefaultOptions()
	opts.SkipAnalysis = true

	// Goroutines always return nil so one failure never cancels its siblings.
	var g errgroup.Group
	for i, c := range coords {
		g.Go(func() error {
			items[i].Coordinate = c
			e, err := s.Enhance(ctx, c.Lat, c.Lon, opts)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Forecast = &e
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Items: items}
	for _, it := range items {
		if it.Error != "" {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}
	if res.Failed > 0 {
		observability.BatchLocationErrors.Add(float64(res.Failed))
		observability.LoggerFromContext(ctx, s.logger).Info("batch completed with failures",
			zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	}
	return res, nil
}
