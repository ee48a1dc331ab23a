package client

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// The payload types below are the only place provider JSON is handled untyped;
// pointers distinguish absent from zero.

type currentPayload struct {
	Temperature         *float64 `json:"temperature_2m"`
	Humidity            *float64 `json:"relative_humidity_2m"`
	ApparentTemperature *float64 `json:"apparent_temperature"`
	IsDay               *float64 `json:"is_day"`
	WeatherCode         *float64 `json:"weather_code"`
	WindSpeed           *float64 `json:"wind_speed_10m"`
}

type dailyPayload struct {
	Time                     []string   `json:"time"`
	WeatherCode              []*float64 `json:"weather_code"`
	MaxTemp                  []*float64 `json:"temperature_2m_max"`
	MinTemp                  []*float64 `json:"temperature_2m_min"`
	PrecipitationProbability []*float64 `json:"precipitation_probability_max"`
	WindSpeed                []*float64 `json:"wind_speed_10m_max"`
	Sunrise                  []*string  `json:"sunrise"`
	Sunset                   []*string  `json:"sunset"`
}

type hourlyPayload struct {
	Time                     []string   `json:"time"`
	Temperature              []*float64 `json:"temperature_2m"`
	Humidity                 []*float64 `json:"relative_humidity_2m"`
	PrecipitationProbability []*float64 `json:"precipitation_probability"`
	WindSpeed                []*float64 `json:"wind_speed_10m"`
}

type forecastPayload struct {
	Current *currentPayload `json:"current"`
	Daily   *dailyPayload   `json:"daily"`
	Hourly  *hourlyPayload  `json:"hourly"`
}

type geocodingResult struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Country   string   `json:"country"`
	Admin1    string   `json:"admin1"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timezone  string   `json:"timezone"`
}

type geocodingPayload struct {
	Results []geocodingResult `json:"results"`
}

// decodeForecast validates the payload shape and builds a WeatherState. Current
// fields and the daily time, weather_code and min/max arrays are required; daily
// arrays must align with daily.time. Location, Units and UpdatedAt are left to the caller.
func decodeForecast(body []byte) (models.WeatherState, error) {
	var p forecastPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.WeatherState{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	current, err := p.Current.toModel()
	if err != nil {
		return models.WeatherState{}, err
	}
	daily, err := p.Daily.toModel()
	if err != nil {
		return models.WeatherState{}, err
	}
	state := models.WeatherState{
		Current: current,
		Daily:   daily,
		Hourly:  p.Hourly.toModel(),
	}
	if len(daily) > 0 {
		state.Sunrise = daily[0].Sunrise
		state.Sunset = daily[0].Sunset
	}
	return state, nil
}

// decodeCurrent decodes a current-only payload.
func decodeCurrent(body []byte) (models.CurrentWeather, error) {
	var p forecastPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.CurrentWeather{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p.Current.toModel()
}

func decodeGeocoding(body []byte) ([]models.Location, error) {
	var p geocodingPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	out := make([]models.Location, 0, len(p.Results))
	for _, r := range p.Results {
		if r.Latitude == nil || r.Longitude == nil {
			continue
		}
		out = append(out, models.Location{
			ID:        r.ID,
			Name:      r.Name,
			Country:   r.Country,
			Admin1:    r.Admin1,
			Latitude:  *r.Latitude,
			Longitude: *r.Longitude,
			Timezone:  r.Timezone,
		})
	}
	return out, nil
}

func (c *currentPayload) toModel() (models.CurrentWeather, error) {
	if c == nil {
		return models.CurrentWeather{}, fmt.Errorf("%w: missing current", ErrDecode)
	}
	required := []struct {
		name string
		v    *float64
	}{
		{"temperature_2m", c.Temperature},
		{"apparent_temperature", c.ApparentTemperature},
		{"relative_humidity_2m", c.Humidity},
		{"wind_speed_10m", c.WindSpeed},
		{"weather_code", c.WeatherCode},
	}
	for _, f := range required {
		if f.v == nil {
			return models.CurrentWeather{}, fmt.Errorf("%w: missing current.%s", ErrDecode, f.name)
		}
	}
	return models.CurrentWeather{
		Temperature:         *c.Temperature,
		ApparentTemperature: *c.ApparentTemperature,
		Humidity:            *c.Humidity,
		WindSpeed:           *c.WindSpeed,
		WeatherCode:         int(*c.WeatherCode),
		IsDay:               c.IsDay != nil && *c.IsDay != 0,
	}, nil
}

// toModel zips the parallel daily arrays in provider order.
func (d *dailyPayload) toModel() ([]models.DailyForecast, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: missing daily", ErrDecode)
	}
	n := len(d.Time)
	aligned := []struct {
		name string
		vals []*float64
	}{
		{"weather_code", d.WeatherCode},
		{"temperature_2m_max", d.MaxTemp},
		{"temperature_2m_min", d.MinTemp},
	}
	for _, a := range aligned {
		if len(a.vals) != n {
			return nil, fmt.Errorf("%w: daily.%s has %d values for %d days", ErrDecode, a.name, len(a.vals), n)
		}
		for i, v := range a.vals {
			if v == nil {
				return nil, fmt.Errorf("%w: daily.%s[%d] is null", ErrDecode, a.name, i)
			}
		}
	}
	out := make([]models.DailyForecast, n)
	for i, date := range d.Time {
		out[i] = models.DailyForecast{
			Date:                     date,
			MaxTemp:                  *d.MaxTemp[i],
			MinTemp:                  *d.MinTemp[i],
			WeatherCode:              int(*d.WeatherCode[i]),
			PrecipitationProbability: optional(d.PrecipitationProbability, i),
			WindSpeed:                optional(d.WindSpeed, i),
			Sunrise:                  optionalString(d.Sunrise, i),
			Sunset:                   optionalString(d.Sunset, i),
		}
	}
	return out, nil
}

// toModel zips at most MaxHourlyPoints entries. Temperature and humidity default to 0.
func (h *hourlyPayload) toModel() []models.HourlyPoint {
	if h == nil {
		return nil
	}
	n := len(h.Time)
	if n > models.MaxHourlyPoints {
		n = models.MaxHourlyPoints
	}
	out := make([]models.HourlyPoint, n)
	for i := 0; i < n; i++ {
		out[i] = models.HourlyPoint{
			Time:                     h.Time[i],
			Temperature:              valueOrZero(h.Temperature, i),
			Humidity:                 valueOrZero(h.Humidity, i),
			PrecipitationProbability: optional(h.PrecipitationProbability, i),
			WindSpeed:                optional(h.WindSpeed, i),
		}
	}
	return out
}

func optional(vals []*float64, i int) *float64 {
	if i >= len(vals) || vals[i] == nil {
		return nil
	}
	v := *vals[i]
	return &v
}

func optionalString(vals []*string, i int) string {
	if i >= len(vals) || vals[i] == nil {
		return ""
	}
	return *vals[i]
}

func valueOrZero(vals []*float64, i int) float64 {
	if p := optional(vals, i); p != nil {
		return *p
	}
	return 0
}
