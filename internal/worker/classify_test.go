package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		url      string
		navigate bool
		want     Class
	}{
		{"post passes through", http.MethodPost, "https://api.open-meteo.com/v1/forecast", false, ClassPassthrough},
		{"head passes through", http.MethodHead, "http://localhost:5173/", false, ClassPassthrough},
		{"navigation by fetch mode", http.MethodGet, "http://localhost:5173/favorites", true, ClassNavigation},
		{"navigation wins over api path", http.MethodGet, "http://localhost:5173/v1/forecast", true, ClassNavigation},
		{"forecast host", http.MethodGet, "https://api.open-meteo.com/v1/forecast?latitude=1", false, ClassDataAPI},
		{"geocoding host", http.MethodGet, "https://geocoding-api.open-meteo.com/v1/search?name=Paris", false, ClassDataAPI},
		{"apex host", http.MethodGet, "https://open-meteo.com/", false, ClassDataAPI},
		{"lookalike host is static", http.MethodGet, "https://notopen-meteo.com/logo.png", false, ClassStatic},
		{"reverse path on other host", http.MethodGet, "http://proxy.local/geo/v1/reverse?latitude=1", false, ClassDataAPI},
		{"search path on other host", http.MethodGet, "http://127.0.0.1:9999/v1/search", false, ClassDataAPI},
		{"shell asset", http.MethodGet, "http://localhost:5173/assets/index-abc.js", false, ClassStatic},
		{"manifest", http.MethodGet, "http://localhost:5173/manifest.webmanifest", false, ClassStatic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			if tt.navigate {
				req.Header.Set("Sec-Fetch-Mode", "navigate")
			}
			if got := Classify(req); got != tt.want {
				t.Errorf("Classify(%s %s) = %s, want %s", tt.method, tt.url, got, tt.want)
			}
		})
	}
}

func TestClassifier_CustomSuffixes(t *testing.T) {
	c := Classifier{APIHostSuffixes: []string{".weather.internal"}}
	req := httptest.NewRequest(http.MethodGet, "http://eu.weather.internal/data", nil)
	if got := c.Classify(req); got != ClassDataAPI {
		t.Errorf("Classify() = %s, want data_api", got)
	}
	req = httptest.NewRequest(http.MethodGet, "https://api.open-meteo.com/data", nil)
	if got := c.Classify(req); got != ClassStatic {
		t.Errorf("Classify() = %s, want static when default suffix replaced", got)
	}
}

func TestKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://api.open-meteo.com/v1/forecast?latitude=1&longitude=2", nil)
	if got := Key(req); got != "GET https://api.open-meteo.com/v1/forecast?latitude=1&longitude=2" {
		t.Errorf("Key() = %q", got)
	}
	if got := originKey(req, "/index.html"); got != "GET https://api.open-meteo.com/index.html" {
		t.Errorf("originKey() = %q", got)
	}
}
