package forecast

import "time"

// locationforecastResponse mirrors the subset of the met.no Locationforecast 2.0
// "compact"/"complete" GeoJSON we consume. Optional numbers are pointers so a
// missing value is distinguishable from zero.
type locationforecastResponse struct {
	Properties struct {
		Meta struct {
			UpdatedAt time.Time `json:"updated_at"`
		} `json:"meta"`
		Timeseries []timeseriesEntry `json:"timeseries"`
	} `json:"properties"`
}

type timeseriesEntry struct {
	Time time.Time `json:"time"`
	Data struct {
		Instant struct {
			Details instantDetails `json:"details"`
		} `json:"instant"`
		Next1Hours  *periodForecast `json:"next_1_hours,omitempty"`
		Next6Hours  *periodForecast `json:"next_6_hours,omitempty"`
		Next12Hours *periodForecast `json:"next_12_hours,omitempty"`
	} `json:"data"`
}

type instantDetails struct {
	AirPressureAtSeaLevel *float64 `json:"air_pressure_at_sea_level"`
	AirTemperature        *float64 `json:"air_temperature"`
	RelativeHumidity      *float64 `json:"relative_humidity"`
	WindFromDirection     *float64 `json:"wind_from_direction"`
	WindSpeed             *float64 `json:"wind_speed"`
}

type periodForecast struct {
	Summary struct {
		SymbolCode string `json:"symbol_code"`
	} `json:"summary"`
	Details struct {
		AirTemperatureMax          *float64 `json:"air_temperature_max"`
		AirTemperatureMin          *float64 `json:"air_temperature_min"`
		PrecipitationAmount        *float64 `json:"precipitation_amount"`
		ProbabilityOfPrecipitation *float64 `json:"probability_of_precipitation"`
		ProbabilityOfThunder       *float64 `json:"probability_of_thunder"`
	} `json:"details"`
}

// periods returns the forward summaries nearest first: 1h, then 6h, then 12h.
func (e timeseriesEntry) periods() []*periodForecast {
	out := make([]*periodForecast, 0, 3)
	for _, p := range []*periodForecast{e.Data.Next1Hours, e.Data.Next6Hours, e.Data.Next12Hours} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// periodsWithin returns the forward summaries whose window ends on or before
// limit, nearest first.
func (e timeseriesEntry) periodsWithin(limit time.Time) []*periodForecast {
	out := make([]*periodForecast, 0, 3)
	windows := []struct {
		p     *periodForecast
		hours time.Duration
	}{
		{e.Data.Next1Hours, time.Hour},
		{e.Data.Next6Hours, 6 * time.Hour},
		{e.Data.Next12Hours, 12 * time.Hour},
	}
	for _, w := range windows {
		if w.p != nil && !e.Time.Add(w.hours).After(limit) {
			out = append(out, w.p)
		}
	}
	return out
}
