// Package testhelpers provides an in-process Open-Meteo fake for tests.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// Endpoint paths served by OpenMeteoFake.
const (
	ForecastPath = "/v1/forecast"
	SearchPath   = "/v1/search"
	ReversePath  = "/v1/reverse"
)

// HourlyPointsServed is the number of hourly entries in every fake forecast.
const HourlyPointsServed = 36

// OpenMeteoFake serves deterministic geocoding and forecast responses.
// Forecast temperatures are 20 (celsius) or 68 (fahrenheit) plus latitude/100,
// so a response can be traced back to the location and units that produced it.
type OpenMeteoFake struct {
	*httptest.Server

	mu           sync.Mutex
	places       []models.Location
	reverse      []models.Location
	failures     map[string][]int
	delays       map[string]time.Duration
	forecastBody []byte
	requests     map[string][]url.Values
}

// NewOpenMeteoFake starts the fake and closes it when t finishes.
func NewOpenMeteoFake(t testing.TB) *OpenMeteoFake {
	t.Helper()
	f := &OpenMeteoFake{
		failures: make(map[string][]int),
		delays:   make(map[string]time.Duration),
		requests: make(map[string][]url.Values),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *OpenMeteoFake) ForecastURL() string  { return f.URL + ForecastPath }
func (f *OpenMeteoFake) GeocodingURL() string { return f.URL + SearchPath }
func (f *OpenMeteoFake) ReverseURL() string   { return f.URL + ReversePath }

// SetPlaces sets the search corpus. Search matches names by case-insensitive substring.
func (f *OpenMeteoFake) SetPlaces(locs ...models.Location) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places = append([]models.Location(nil), locs...)
}

// SetReverse sets the reverse geocoding results.
func (f *OpenMeteoFake) SetReverse(locs ...models.Location) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverse = append([]models.Location(nil), locs...)
}

// FailNext makes the next len(statuses) requests to path answer with those statuses.
func (f *OpenMeteoFake) FailNext(path string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = append(f.failures[path], statuses...)
}

// SetDelay delays responses on path. The delay ends early if the request is canceled.
func (f *OpenMeteoFake) SetDelay(path string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[path] = d
}

// SetForecastBody replaces the generated forecast payload; nil restores it.
func (f *OpenMeteoFake) SetForecastBody(body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forecastBody = body
}

// Requests returns the query parameters seen on path in arrival order.
func (f *OpenMeteoFake) Requests(path string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.requests[path]...)
}

// RequestCount returns how many requests reached path.
func (f *OpenMeteoFake) RequestCount(path string) int {
	return len(f.Requests(path))
}

func (f *OpenMeteoFake) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.requests[r.URL.Path] = append(f.requests[r.URL.Path], q)
	delay := f.delays[r.URL.Path]
	status := 0
	if pending := f.failures[r.URL.Path]; len(pending) > 0 {
		status = pending[0]
		f.failures[r.URL.Path] = pending[1:]
	}
	places := append([]models.Location(nil), f.places...)
	reverse := append([]models.Location(nil), f.reverse...)
	forecastBody := f.forecastBody
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch r.URL.Path {
	case SearchPath:
		writeJSON(w, geocodingBody(matchPlaces(places, q.Get("name"))))
	case ReversePath:
		writeJSON(w, geocodingBody(reverse))
	case ForecastPath:
		if forecastBody != nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(forecastBody)
			return
		}
		lat, _ := strconv.ParseFloat(q.Get("latitude"), 64)
		writeJSON(w, ForecastPayload(lat, q.Get("temperature_unit"), q.Get("current") != "" && q.Get("daily") == ""))
	default:
		http.NotFound(w, r)
	}
}

// ExpectedTemperature is the current temperature the fake reports for lat and unit.
func ExpectedTemperature(lat float64, unit models.TemperatureUnit) float64 {
	base := 20.0
	if unit == models.Fahrenheit {
		base = 68.0
	}
	return base + lat/100
}

// ForecastPayload builds an Open-Meteo style forecast document. currentOnly omits
// the daily and hourly blocks.
func ForecastPayload(lat float64, tempUnit string, currentOnly bool) map[string]any {
	temp := ExpectedTemperature(lat, models.TemperatureUnit(tempUnit))
	doc := map[string]any{
		"latitude":  lat,
		"longitude": 0,
		"current": map[string]any{
			"temperature_2m":       temp,
			"relative_humidity_2m": 60,
			"apparent_temperature": temp - 1,
			"is_day":               1,
			"weather_code":         3,
			"wind_speed_10m":       12.5,
		},
	}
	if currentOnly {
		return doc
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	days := 7
	daily := map[string]any{
		"time":                          make([]string, days),
		"weather_code":                  make([]int, days),
		"temperature_2m_max":            make([]float64, days),
		"temperature_2m_min":            make([]float64, days),
		"precipitation_probability_max": make([]int, days),
		"wind_speed_10m_max":            make([]float64, days),
		"sunrise":                       make([]string, days),
		"sunset":                        make([]string, days),
	}
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		daily["time"].([]string)[i] = d.Format("2006-01-02")
		daily["weather_code"].([]int)[i] = i % 4
		daily["temperature_2m_max"].([]float64)[i] = temp + 5
		daily["temperature_2m_min"].([]float64)[i] = temp - 5
		daily["precipitation_probability_max"].([]int)[i] = i * 10
		daily["wind_speed_10m_max"].([]float64)[i] = 20
		daily["sunrise"].([]string)[i] = d.Format("2006-01-02") + "T06:00"
		daily["sunset"].([]string)[i] = d.Format("2006-01-02") + "T18:00"
	}
	doc["daily"] = daily

	hourly := map[string]any{
		"time":                      make([]string, HourlyPointsServed),
		"temperature_2m":            make([]float64, HourlyPointsServed),
		"relative_humidity_2m":      make([]int, HourlyPointsServed),
		"precipitation_probability": make([]int, HourlyPointsServed),
		"wind_speed_10m":            make([]float64, HourlyPointsServed),
	}
	for i := 0; i < HourlyPointsServed; i++ {
		hourly["time"].([]string)[i] = start.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04")
		hourly["temperature_2m"].([]float64)[i] = temp
		hourly["relative_humidity_2m"].([]int)[i] = 60
		hourly["precipitation_probability"].([]int)[i] = 5
		hourly["wind_speed_10m"].([]float64)[i] = 10
	}
	doc["hourly"] = hourly
	return doc
}

func matchPlaces(places []models.Location, query string) []models.Location {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []models.Location
	for _, p := range places {
		if strings.Contains(strings.ToLower(p.Name), query) {
			out = append(out, p)
		}
	}
	return out
}

func geocodingBody(locs []models.Location) map[string]any {
	if len(locs) == 0 {
		return map[string]any{"generationtime_ms": 0.1}
	}
	results := make([]map[string]any, 0, len(locs))
	for _, l := range locs {
		results = append(results, map[string]any{
			"id":        l.ID,
			"name":      l.Name,
			"country":   l.Country,
			"admin1":    l.Admin1,
			"latitude":  l.Latitude,
			"longitude": l.Longitude,
			"timezone":  l.Timezone,
		})
	}
	return map[string]any{"results": results}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
