package client

import (
	"errors"
	"testing"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

const validCurrent = `"current":{"temperature_2m":21.5,"relative_humidity_2m":55,"apparent_temperature":20,"is_day":0,"weather_code":61,"wind_speed_10m":8}`

// TestDecodeForecast_Errors verifies that malformed payloads fail with ErrDecode instead
// of producing a partial WeatherState.
func TestDecodeForecast_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing current", `{"daily":{"time":[],"weather_code":[],"temperature_2m_max":[],"temperature_2m_min":[]}}`},
		{"missing current field", `{"current":{"temperature_2m":1},"daily":{"time":[]}}`},
		{"missing daily", `{` + validCurrent + `}`},
		{"misaligned daily", `{` + validCurrent + `,"daily":{"time":["2026-01-01","2026-01-02"],"weather_code":[1],"temperature_2m_max":[1,2],"temperature_2m_min":[0,1]}}`},
		{"null daily max", `{` + validCurrent + `,"daily":{"time":["2026-01-01"],"weather_code":[1],"temperature_2m_max":[null],"temperature_2m_min":[0]}}`},
		{"wrong type", `{"current":{"temperature_2m":"hot"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeForecast([]byte(tt.body))
			if !errors.Is(err, ErrDecode) {
				t.Errorf("decodeForecast() error = %v, want ErrDecode", err)
			}
		})
	}
}

// TestDecodeForecast_OptionalFields verifies nil optionals, zero-defaulted hourly
// temperature and humidity, and the absent hourly block.
func TestDecodeForecast_OptionalFields(t *testing.T) {
	body := `{` + validCurrent + `,
		"daily":{"time":["2026-01-01","2026-01-02"],"weather_code":[1,2],"temperature_2m_max":[25,26],"temperature_2m_min":[15,16],
			"precipitation_probability_max":[40],"sunrise":["2026-01-01T05:30"]},
		"hourly":{"time":["2026-01-01T00:00","2026-01-01T01:00"],"temperature_2m":[null,18],"precipitation_probability":[10]}}`

	state, err := decodeForecast([]byte(body))
	if err != nil {
		t.Fatalf("decodeForecast() error = %v", err)
	}
	if len(state.Daily) != 2 {
		t.Fatalf("len(Daily) = %d", len(state.Daily))
	}
	d0, d1 := state.Daily[0], state.Daily[1]
	if d0.PrecipitationProbability == nil || *d0.PrecipitationProbability != 40 {
		t.Errorf("Daily[0].PrecipitationProbability = %v", d0.PrecipitationProbability)
	}
	if d1.PrecipitationProbability != nil || d0.WindSpeed != nil {
		t.Error("absent optional daily fields should be nil")
	}
	if state.Sunrise != "2026-01-01T05:30" || state.Sunset != "" {
		t.Errorf("Sunrise/Sunset = %q/%q", state.Sunrise, state.Sunset)
	}
	if state.Current.IsDay || state.Current.WeatherCode != 61 {
		t.Errorf("Current = %+v", state.Current)
	}

	h0, h1 := state.Hourly[0], state.Hourly[1]
	if h0.Temperature != 0 || h0.Humidity != 0 || h1.Temperature != 18 {
		t.Errorf("hourly defaults = %+v %+v", h0, h1)
	}
	if h0.PrecipitationProbability == nil || h1.PrecipitationProbability != nil || h0.WindSpeed != nil {
		t.Errorf("hourly optionals = %+v %+v", h0, h1)
	}
}

func TestDecodeForecast_NoHourly(t *testing.T) {
	body := `{` + validCurrent + `,"daily":{"time":[],"weather_code":[],"temperature_2m_max":[],"temperature_2m_min":[]}}`
	state, err := decodeForecast([]byte(body))
	if err != nil {
		t.Fatalf("decodeForecast() error = %v", err)
	}
	if state.Hourly != nil || state.Sunrise != "" {
		t.Errorf("state = %+v", state)
	}
}

func TestDecodeGeocoding_SkipsResultsWithoutCoordinates(t *testing.T) {
	body := `{"results":[{"id":1,"name":"Nowhere"},{"id":2,"name":"Lisboa","country":"Portugal","latitude":38.72,"longitude":-9.14}]}`
	locs, err := decodeGeocoding([]byte(body))
	if err != nil {
		t.Fatalf("decodeGeocoding() error = %v", err)
	}
	want := models.Location{ID: 2, Name: "Lisboa", Country: "Portugal", Latitude: 38.72, Longitude: -9.14}
	if len(locs) != 1 || locs[0] != want {
		t.Errorf("decodeGeocoding() = %+v", locs)
	}
	if _, err := decodeGeocoding([]byte(`{"results":"x"}`)); !errors.Is(err, ErrDecode) {
		t.Errorf("decodeGeocoding() error = %v, want ErrDecode", err)
	}
}
