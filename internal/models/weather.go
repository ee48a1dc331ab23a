package models

import "time"

// CurrentWeather holds the current conditions of one forecast.
type CurrentWeather struct {
	Temperature         float64 `json:"temperature"`
	ApparentTemperature float64 `json:"apparentTemperature"`
	Humidity            float64 `json:"humidity"`
	WindSpeed           float64 `json:"windSpeed"`
	WeatherCode         int     `json:"weatherCode"`
	IsDay               bool    `json:"isDay"`
}

// DailyForecast is one day of the forecast. Optional fields are nil when the
// provider did not return them.
type DailyForecast struct {
	Date                     string   `json:"date"`
	MaxTemp                  float64  `json:"maxTemp"`
	MinTemp                  float64  `json:"minTemp"`
	WeatherCode              int      `json:"weatherCode"`
	PrecipitationProbability *float64 `json:"precipitationProbability,omitempty"`
	WindSpeed                *float64 `json:"windSpeed,omitempty"`
	Sunrise                  string   `json:"sunrise,omitempty"`
	Sunset                   string   `json:"sunset,omitempty"`
}

// HourlyPoint is one hour of the forecast. Temperature and Humidity default to
// zero when absent; the other fields are nil.
type HourlyPoint struct {
	Time                     string   `json:"time"`
	Temperature              float64  `json:"temperature"`
	Humidity                 float64  `json:"humidity"`
	PrecipitationProbability *float64 `json:"precipitationProbability,omitempty"`
	WindSpeed                *float64 `json:"windSpeed,omitempty"`
}

// MaxHourlyPoints bounds WeatherState.Hourly.
const MaxHourlyPoints = 24

// WeatherState is the normalized result of one successful forecast fetch.
// It is never merged from two fetches.
type WeatherState struct {
	Location  Location        `json:"location"`
	Units     UnitPreferences `json:"units"`
	Current   CurrentWeather  `json:"current"`
	Daily     []DailyForecast `json:"daily"`
	Hourly    []HourlyPoint   `json:"hourly,omitempty"`
	Sunrise   string          `json:"sunrise,omitempty"`
	Sunset    string          `json:"sunset,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
