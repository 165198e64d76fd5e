package forecast

import (
	"fmt"
	"sort"
	"time"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

const (
	// HourlyEntries is the number of leading timeseries entries mapped into Hourly.
	HourlyEntries = 24
	// MaxDailyEntries caps the daily series.
	MaxDailyEntries = 7

	dateLayout = "2006-01-02"
)

// Normalize converts a decoded provider response into the canonical forecast.
// An empty timeseries is ErrUpstreamMalformed.
func Normalize(resp locationforecastResponse, loc models.LocationKey) (models.NormalizedForecast, error) {
	series := resp.Properties.Timeseries
	if len(series) == 0 {
		return models.NormalizedForecast{}, fmt.Errorf("%w: empty timeseries", ErrUpstreamMalformed)
	}

	updated := resp.Properties.Meta.UpdatedAt
	if updated.IsZero() {
		updated = series[0].Time
	}

	n := len(series)
	if n > HourlyEntries {
		n = HourlyEntries
	}
	hourly := make([]models.Reading, 0, n)
	for _, e := range series[:n] {
		hourly = append(hourly, toReading(e))
	}

	return models.NormalizedForecast{
		Location:  loc,
		UpdatedAt: updated.UTC(),
		Current:   hourly[0],
		Hourly:    hourly,
		Daily:     aggregateDaily(series),
	}, nil
}

func toReading(e timeseriesEntry) models.Reading {
	d := e.Data.Instant.Details
	periods := e.periods()

	return models.Reading{
		Time:                     e.Time.UTC(),
		Temperature:              deref(d.AirTemperature),
		WindSpeed:                deref(d.WindSpeed),
		WindDirection:            deref(d.WindFromDirection),
		Humidity:                 deref(d.RelativeHumidity),
		Pressure:                 deref(d.AirPressureAtSeaLevel),
		PrecipitationProbability: clampProbability(deref(firstDetail(periods, precipitationProbability))),
		PrecipitationAmount:      deref(firstDetail(periods, precipitationAmount)),
		ThunderProbability:       clampProbability(deref(firstDetail(periods, thunderProbability))),
		Symbol:                   symbolOf(periods),
	}
}

// dayAccumulator collects one calendar date while walking the series.
type dayAccumulator struct {
	date        string
	hasTemp     bool
	maxTemp     float64
	minTemp     float64
	precip      float64
	precipProb  float64
	thunderProb float64
	maxWind     float64
	symbolCount map[string]int
	symbolOrder []string
}

func (a *dayAccumulator) addTemp(v float64) {
	if !a.hasTemp {
		a.maxTemp, a.minTemp, a.hasTemp = v, v, true
		return
	}
	if v > a.maxTemp {
		a.maxTemp = v
	}
	if v < a.minTemp {
		a.minTemp = v
	}
}

func (a *dayAccumulator) addSymbol(s string) {
	if s == models.UnknownSymbol {
		return
	}
	if _, seen := a.symbolCount[s]; !seen {
		a.symbolOrder = append(a.symbolOrder, s)
	}
	a.symbolCount[s]++
}

// dominantSymbol returns the most frequent symbol; ties go to the first seen.
func (a *dayAccumulator) dominantSymbol() string {
	best, bestCount := models.UnknownSymbol, 0
	for _, s := range a.symbolOrder {
		if c := a.symbolCount[s]; c > bestCount {
			best, bestCount = s, c
		}
	}
	return best
}

func aggregateDaily(series []timeseriesEntry) []models.DailySummary {
	days := make(map[string]*dayAccumulator)
	for _, e := range series {
		ts := e.Time.UTC()
		key := ts.Format(dateLayout)
		acc, ok := days[key]
		if !ok {
			acc = &dayAccumulator{date: key, symbolCount: make(map[string]int)}
			days[key] = acc
		}

		d := e.Data.Instant.Details
		if d.AirTemperature != nil {
			acc.addTemp(*d.AirTemperature)
		}
		if d.WindSpeed != nil && *d.WindSpeed > acc.maxWind {
			acc.maxWind = *d.WindSpeed
		}

		periods := e.periods()
		// Extremes and probabilities only count when the whole window falls
		// inside this date.
		contained := e.periodsWithin(time.Date(ts.Year(), ts.Month(), ts.Day()+1, 0, 0, 0, 0, time.UTC))
		for _, p := range contained {
			if p.Details.AirTemperatureMax != nil {
				acc.addTemp(*p.Details.AirTemperatureMax)
			}
			if p.Details.AirTemperatureMin != nil {
				acc.addTemp(*p.Details.AirTemperatureMin)
			}
		}
		acc.addSymbol(symbolOf(periods))

		// Only the nearest period counts towards the sum so 1h and 6h windows
		// starting at the same instant are not added twice.
		if len(periods) > 0 && periods[0].Details.PrecipitationAmount != nil {
			acc.precip += *periods[0].Details.PrecipitationAmount
		}
		// Worst case over the day drives the probabilities.
		for _, p := range contained {
			if v := p.Details.ProbabilityOfPrecipitation; v != nil && *v > acc.precipProb {
				acc.precipProb = *v
			}
			if v := p.Details.ProbabilityOfThunder; v != nil && *v > acc.thunderProb {
				acc.thunderProb = *v
			}
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > MaxDailyEntries {
		keys = keys[:MaxDailyEntries]
	}

	out := make([]models.DailySummary, 0, len(keys))
	for _, k := range keys {
		acc := days[k]
		out = append(out, models.DailySummary{
			Date:                     acc.date,
			MaxTemperature:           acc.maxTemp,
			MinTemperature:           acc.minTemp,
			Symbol:                   acc.dominantSymbol(),
			PrecipitationAmount:      roundTenth(acc.precip),
			PrecipitationProbability: clampProbability(acc.precipProb),
			ThunderProbability:       clampProbability(acc.thunderProb),
			MaxWindSpeed:             acc.maxWind,
		})
	}
	return out
}

func symbolOf(periods []*periodForecast) string {
	for _, p := range periods {
		if p.Summary.SymbolCode != "" {
			return p.Summary.SymbolCode
		}
	}
	return models.UnknownSymbol
}

func precipitationAmount(p *periodForecast) *float64      { return p.Details.PrecipitationAmount }
func precipitationProbability(p *periodForecast) *float64 { return p.Details.ProbabilityOfPrecipitation }
func thunderProbability(p *periodForecast) *float64       { return p.Details.ProbabilityOfThunder }

// firstDetail returns the value from the nearest period that carries it.
func firstDetail(periods []*periodForecast, get func(*periodForecast) *float64) *float64 {
	for _, p := range periods {
		if v := get(p); v != nil {
			return v
		}
	}
	return nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func clampProbability(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
