package analysis

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// ComfortModel holds the coefficients of the comfort scoring model.
type ComfortModel struct {
	Version                        int     `yaml:"version" validate:"gte=1"`
	IdealTemperature               float64 `yaml:"ideal_temperature" validate:"gte=-10,lte=40"`
	TemperatureWeight              float64 `yaml:"temperature_weight" validate:"gt=0"`
	WindFreeSpeed                  float64 `yaml:"wind_free_speed" validate:"gte=0"`
	WindWeight                     float64 `yaml:"wind_weight" validate:"gte=0"`
	PrecipitationWeight            float64 `yaml:"precipitation_weight" validate:"gte=0"`
	PrecipitationProbabilityWeight float64 `yaml:"precipitation_probability_weight" validate:"gte=0"`
	HumidityComfortMax             float64 `yaml:"humidity_comfort_max" validate:"gte=0,lte=100"`
	HumidityWeight                 float64 `yaml:"humidity_weight" validate:"gte=0"`
	WindowHours                    int     `yaml:"window_hours" validate:"gte=1,lte=24"`
}

// LoadComfortModel reads and validates a YAML model file.
func LoadComfortModel(path string) (*ComfortModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	var m ComfortModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model file: %w", err)
	}
	if err := validator.New().Struct(m); err != nil {
		return nil, fmt.Errorf("invalid model file: %w", err)
	}
	return &m, nil
}

// Score returns a 0..100 comfort score for one reading.
func (m *ComfortModel) Score(r models.Reading) float64 {
	s := 100.0
	s -= m.TemperatureWeight * math.Abs(r.Temperature-m.IdealTemperature)
	s -= m.WindWeight * math.Max(0, r.WindSpeed-m.WindFreeSpeed)
	s -= m.PrecipitationWeight * r.PrecipitationAmount
	s -= m.PrecipitationProbabilityWeight * r.PrecipitationProbability
	s -= m.HumidityWeight * math.Max(0, r.Humidity-m.HumidityComfortMax)
	return math.Max(0, math.Min(100, s))
}

// FastNumericBackend scores hourly readings with a small deterministic model
// and reports the comfort index and the best outdoor window.
type FastNumericBackend struct {
	path  string
	model atomic.Pointer[ComfortModel]
}

// NewFastNumericBackend creates a backend that loads its model from path on Initialize.
func NewFastNumericBackend(path string) *FastNumericBackend {
	return &FastNumericBackend{path: path}
}

func (b *FastNumericBackend) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := LoadComfortModel(b.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendInit, err)
	}
	b.model.Store(m)
	return nil
}

func (b *FastNumericBackend) IsReady() bool { return b.model.Load() != nil }

func (b *FastNumericBackend) Analyze(_ context.Context, f models.NormalizedForecast) (string, error) {
	m := b.model.Load()
	if m == nil {
		return "", fmt.Errorf("fast numeric model not loaded")
	}

	now := m.Score(f.Current)
	msg := fmt.Sprintf("Comfort index %.0f/100 (%s).", now, comfortLabel(now))

	start, avg, ok := bestWindow(m, f.Hourly)
	if !ok {
		return msg, nil
	}
	end := f.Hourly[start+m.WindowHours-1].Time.Add(timeStep(f.Hourly))
	return fmt.Sprintf("%s Best outdoor window %s-%s UTC (avg %.0f).",
		msg, f.Hourly[start].Time.Format("15:04"), end.Format("15:04"), avg), nil
}

// bestWindow finds the highest-scoring run of WindowHours consecutive readings.
// Ties go to the earliest window.
func bestWindow(m *ComfortModel, hourly []models.Reading) (int, float64, bool) {
	n := m.WindowHours
	if len(hourly) < n {
		return 0, 0, false
	}
	bestStart, bestAvg := 0, -1.0
	for i := 0; i+n <= len(hourly); i++ {
		sum := 0.0
		for _, r := range hourly[i : i+n] {
			sum += m.Score(r)
		}
		if avg := sum / float64(n); avg > bestAvg {
			bestStart, bestAvg = i, avg
		}
	}
	return bestStart, bestAvg, true
}

func timeStep(hourly []models.Reading) time.Duration {
	if len(hourly) >= 2 {
		if d := hourly[1].Time.Sub(hourly[0].Time); d > 0 {
			return d
		}
	}
	return time.Hour
}

func comfortLabel(score float64) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}
