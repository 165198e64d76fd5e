// Package alerts derives notification inputs from a normalized forecast.
// Delivery (devices, push providers, user preferences) happens elsewhere.
package alerts

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// Alert kinds, carried in Alert.Data["kind"].
const (
	KindHeavyRain = "heavy_rain"
	KindThunder   = "thunder"
	KindFrost     = "frost"
	KindWind      = "strong_wind"
	KindHeat      = "heat"
)

// Thresholds over the daily summaries.
const (
	HeavyRainDailyMM   = 10.0
	ThunderProbability = 30.0
	FrostBelowC        = 0.0
	StrongWindMS       = 15.0
	HeatAboveC         = 30.0
)

// Derive returns at most one alert per kind, for the earliest day that
// crosses the threshold. Thunder and heavy rain are high priority.
func Derive(f models.NormalizedForecast) []models.Alert {
	var out []models.Alert
	seen := make(map[string]bool)
	add := func(kind string, a models.Alert) {
		if seen[kind] {
			return
		}
		seen[kind] = true
		a.Data["kind"] = kind
		a.Data["location"] = f.Location.String()
		out = append(out, a)
	}

	for _, d := range f.Daily {
		if d.PrecipitationAmount >= HeavyRainDailyMM {
			add(KindHeavyRain, models.Alert{
				Title:    "Heavy rain expected",
				Body:     fmt.Sprintf("%.1f mm of precipitation forecast on %s.", d.PrecipitationAmount, d.Date),
				Data:     map[string]string{"date": d.Date, "amount_mm": formatFloat(d.PrecipitationAmount)},
				Priority: models.AlertPriorityHigh,
			})
		}
		if d.ThunderProbability >= ThunderProbability || strings.Contains(d.Symbol, "thunder") {
			add(KindThunder, models.Alert{
				Title:    "Thunderstorms possible",
				Body:     fmt.Sprintf("Thunder risk %.0f%% on %s.", d.ThunderProbability, d.Date),
				Data:     map[string]string{"date": d.Date, "probability": formatFloat(d.ThunderProbability)},
				Priority: models.AlertPriorityHigh,
			})
		}
		if d.MinTemperature < FrostBelowC {
			add(KindFrost, models.Alert{
				Title:    "Frost expected",
				Body:     fmt.Sprintf("Temperatures down to %.1f C on %s.", d.MinTemperature, d.Date),
				Data:     map[string]string{"date": d.Date, "min_c": formatFloat(d.MinTemperature)},
				Priority: models.AlertPriorityNormal,
			})
		}
		if d.MaxWindSpeed >= StrongWindMS {
			add(KindWind, models.Alert{
				Title:    "Strong wind",
				Body:     fmt.Sprintf("Wind up to %.1f m/s on %s.", d.MaxWindSpeed, d.Date),
				Data:     map[string]string{"date": d.Date, "max_ms": formatFloat(d.MaxWindSpeed)},
				Priority: models.AlertPriorityNormal,
			})
		}
		if d.MaxTemperature > HeatAboveC {
			add(KindHeat, models.Alert{
				Title:    "Heat",
				Body:     fmt.Sprintf("Temperatures up to %.1f C on %s.", d.MaxTemperature, d.Date),
				Data:     map[string]string{"date": d.Date, "max_c": formatFloat(d.MaxTemperature)},
				Priority: models.AlertPriorityNormal,
			})
		}
	}
	return out
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
