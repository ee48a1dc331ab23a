package urlstate

import (
	"net/url"
	"testing"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

var paris = models.Location{Name: "Paris", Admin1: "Île-de-France", Country: "França", Latitude: 48.85341, Longitude: 2.3488}

// TestEncodeDecode_RoundTrip verifies coordinates and units survive a round trip.
func TestEncodeDecode_RoundTrip(t *testing.T) {
	units := models.UnitPreferences{TemperatureUnit: models.Fahrenheit, WindSpeedUnit: models.Knots}
	tests := []models.Location{
		paris,
		models.DefaultLocation,
		{Latitude: -89.999999, Longitude: 179.123456789},
		{Name: "Null Island", Latitude: 0, Longitude: 0},
	}
	for _, loc := range tests {
		u := Encode(&url.URL{Path: "/"}, loc, units)
		got, ok := DecodeLocation(u.RawQuery)
		if !ok {
			t.Fatalf("DecodeLocation(%q) ok = false", u.RawQuery)
		}
		if !got.Same(loc) {
			t.Errorf("round trip coords = (%v, %v), want (%v, %v)", got.Latitude, got.Longitude, loc.Latitude, loc.Longitude)
		}
		if gotUnits := DecodeUnits(u.RawQuery, models.DefaultUnits()); gotUnits != units {
			t.Errorf("round trip units = %+v, want %+v", gotUnits, units)
		}
	}
}

func TestEncode_PreservesOtherParamsAndPath(t *testing.T) {
	in, _ := url.Parse("https://dash.example/app?ref=mail&name=Old&admin1=Stale")
	out := Encode(in, models.Location{Name: "Recife", Latitude: -8.05, Longitude: -34.9}, models.DefaultUnits())

	if out.Path != "/app" || out.Host != "dash.example" {
		t.Errorf("Encode() url = %s, want path and host preserved", out)
	}
	q := out.Query()
	if q.Get("ref") != "mail" {
		t.Errorf("ref = %q, want mail", q.Get("ref"))
	}
	if q.Get("name") != "Recife" {
		t.Errorf("name = %q, want Recife", q.Get("name"))
	}
	if q.Has("admin1") {
		t.Errorf("admin1 = %q, want removed for a location without region", q.Get("admin1"))
	}
	if q.Get("u") != "celsius" || q.Get("ws") != "kmh" {
		t.Errorf("units = (%q, %q), want (celsius, kmh)", q.Get("u"), q.Get("ws"))
	}
	if in.RawQuery != "ref=mail&name=Old&admin1=Stale" {
		t.Errorf("Encode() mutated its input: %q", in.RawQuery)
	}
}

func TestDecodeLocation(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantOK  bool
		wantLoc models.Location
	}{
		{"full", "lat=48.85&lon=2.35&name=Paris&admin1=IDF&country=FR", true, models.Location{Name: "Paris", Admin1: "IDF", Country: "FR", Latitude: 48.85, Longitude: 2.35}},
		{"name defaults", "lat=1.5&lon=-2", true, models.Location{Name: "Local", Latitude: 1.5, Longitude: -2}},
		{"missing lon", "lat=1.5", false, models.Location{}},
		{"missing lat", "lon=1.5", false, models.Location{}},
		{"empty lat", "lat=&lon=1", false, models.Location{}},
		{"not numeric", "lat=abc&lon=1", false, models.Location{}},
		{"nan", "lat=NaN&lon=1", false, models.Location{}},
		{"infinite", "lat=1&lon=Inf", false, models.Location{}},
		{"malformed escape", "lat=1&lon=%zz", false, models.Location{}},
		{"empty query", "", false, models.Location{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeLocation(tt.query)
			if ok != tt.wantOK {
				t.Fatalf("DecodeLocation(%q) ok = %v, want %v", tt.query, ok, tt.wantOK)
			}
			if got != tt.wantLoc {
				t.Errorf("DecodeLocation(%q) = %+v, want %+v", tt.query, got, tt.wantLoc)
			}
		})
	}
}

func TestDecodeUnits(t *testing.T) {
	fallback := models.UnitPreferences{TemperatureUnit: models.Fahrenheit, WindSpeedUnit: models.MilesPerHour}
	tests := []struct {
		name  string
		query string
		want  models.UnitPreferences
	}{
		{"fahrenheit and ms", "u=fahrenheit&ws=ms", models.UnitPreferences{TemperatureUnit: models.Fahrenheit, WindSpeedUnit: models.MetersPerSecond}},
		{"not exact fahrenheit", "u=Fahrenheit&ws=kn", models.UnitPreferences{TemperatureUnit: models.Celsius, WindSpeedUnit: models.Knots}},
		{"kelvin coerced", "u=kelvin&ws=mph", models.UnitPreferences{TemperatureUnit: models.Celsius, WindSpeedUnit: models.MilesPerHour}},
		{"unknown wind", "u=celsius&ws=beaufort", models.DefaultUnits()},
		{"absent", "lat=1&lon=2", models.DefaultUnits()},
		{"malformed uses fallback", "u=%zz", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeUnits(tt.query, fallback); got != tt.want {
				t.Errorf("DecodeUnits(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestHasUnits(t *testing.T) {
	tests := map[string]bool{
		"u=celsius":   true,
		"ws=kn":       true,
		"lat=1&lon=2": false,
		"":            false,
		"u=%zz":       false,
	}
	for q, want := range tests {
		if got := HasUnits(q); got != want {
			t.Errorf("HasUnits(%q) = %v, want %v", q, got, want)
		}
	}
}
