package models

import "time"

// UnknownSymbol is used whenever the provider omits a condition symbol.
const UnknownSymbol = "unknown"

// Reading is a single point-in-time sample of the forecast series.
type Reading struct {
	Time                     time.Time `json:"time"`
	Temperature              float64   `json:"temperature"`
	WindSpeed                float64   `json:"windSpeed"`
	WindDirection            float64   `json:"windDirection"`
	Humidity                 float64   `json:"humidity"`
	Pressure                 float64   `json:"pressure"`
	PrecipitationProbability float64   `json:"precipitationProbability"`
	PrecipitationAmount      float64   `json:"precipitationAmount"`
	ThunderProbability       float64   `json:"thunderProbability"`
	Symbol                   string    `json:"symbol"`
}

// DailySummary aggregates all readings that fall on one UTC calendar date.
type DailySummary struct {
	Date                     string  `json:"date"`
	MaxTemperature           float64 `json:"maxTemperature"`
	MinTemperature           float64 `json:"minTemperature"`
	Symbol                   string  `json:"symbol"`
	PrecipitationAmount      float64 `json:"precipitationAmount"`
	PrecipitationProbability float64 `json:"precipitationProbability"`
	ThunderProbability       float64 `json:"thunderProbability"`
	MaxWindSpeed             float64 `json:"maxWindSpeed"`
}

// NormalizedForecast is the canonical forecast shape shared by every component.
// It is built once per successful upstream fetch and never mutated afterwards.
type NormalizedForecast struct {
	Location  LocationKey    `json:"location"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Current   Reading        `json:"current"`
	Hourly    []Reading      `json:"hourly"`
	Daily     []DailySummary `json:"daily"`
}
