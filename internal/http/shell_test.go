package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/worker"
)

func TestNewShellProxy_InvalidOrigin(t *testing.T) {
	if _, err := NewShellProxy("localhost:5173", nil, nil); err == nil {
		t.Error("NewShellProxy() with relative origin: expected error")
	}
}

// TestShellProxy_ForwardsNavigationMode verifies that the Sec-Fetch-Mode header reaches
// the transport so navigations can be classified.
func TestShellProxy_ForwardsNavigationMode(t *testing.T) {
	var mode string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mode = r.Header.Get("Sec-Fetch-Mode")
		_, _ = io.WriteString(w, "<html>shell</html>")
	}))
	defer origin.Close()

	proxy, err := NewShellProxy(origin.URL, http.DefaultTransport, nil)
	if err != nil {
		t.Fatalf("NewShellProxy: %v", err)
	}
	req := httptest.NewRequest("GET", "/favorites", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "<html>shell</html>" {
		t.Errorf("response = %d %q", w.Code, w.Body.String())
	}
	if mode != "navigate" {
		t.Errorf("Sec-Fetch-Mode at origin = %q, want navigate", mode)
	}
}

// TestShellProxy_OfflineNavigationFallback verifies that with the origin down a deep link
// is answered with the installed root document.
func TestShellProxy_OfflineNavigationFallback(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "root:"+r.URL.Path)
	}))

	w := worker.New(cache.NewInMemoryStore(), nil, worker.Config{
		StaticPartition:  "weather-static-test",
		RuntimePartition: "weather-runtime-test",
		ShellOrigin:      origin.URL,
		ShellAssets:      []string{"/"},
		NetworkTimeout:   time.Second,
	}, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proxy, err := NewShellProxy(origin.URL, w, nil)
	if err != nil {
		t.Fatalf("NewShellProxy: %v", err)
	}
	origin.Close()

	req := httptest.NewRequest("GET", "/compare/view", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "root:/" {
		t.Errorf("response = %d %q, want cached root document", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(worker.SourceHeader); got != worker.SourceCacheFallback {
		t.Errorf("%s = %q, want %q", worker.SourceHeader, got, worker.SourceCacheFallback)
	}

	// A non-navigation request with nothing cached has no fallback.
	rec = httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest("GET", "/assets/missing.js", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("uncached asset status = %d, want 502", rec.Code)
	}
	_ = w.Wait(ctx)
}
