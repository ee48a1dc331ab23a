package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "GET", "/api/state", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		seen = correlationID(r)
		if loggerFromRequest(r) == nil {
			t.Error("request logger missing")
		}
	})

	req := httptest.NewRequest("GET", "/echo", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if seen != "client-provided-id" {
		t.Errorf("context correlation ID = %q", seen)
	}
}

// TestMiddleware_MetricsTracksInFlight verifies that the tracker counts a request while
// it is being served and returns to zero afterwards.
func TestMiddleware_MetricsTracksInFlight(t *testing.T) {
	tracker := NewInFlightTracker()
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware(tracker))
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		during = tracker.Count()
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/slow", nil))

	if during != 1 {
		t.Errorf("in-flight during request = %d, want 1", during)
	}
	if got := tracker.Count(); got != 0 {
		t.Errorf("in-flight after request = %d, want 0", got)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, recorder must pass the handler status through", w.Code)
	}
}

func TestMiddleware_GetRoute(t *testing.T) {
	var route string
	router := mux.NewRouter()
	router.HandleFunc("/api/favorites/{id}", func(w http.ResponseWriter, r *http.Request) {
		route = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/favorites/42", nil))
	if route != "/api/favorites/{id}" {
		t.Errorf("route = %q, want path template", route)
	}

	if got := getRoute(httptest.NewRequest("GET", "/nowhere", nil)); got != "unmatched" {
		t.Errorf("route outside router = %q, want unmatched", got)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	var ctxErr error
	router := mux.NewRouter()
	router.Use(TimeoutMiddleware(20 * time.Millisecond))
	router.HandleFunc("/wait", func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
		<-r.Context().Done()
		ctxErr = r.Context().Err()
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/wait", nil))

	if !hasDeadline {
		t.Error("request context has no deadline")
	}
	if ctxErr != context.DeadlineExceeded {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	limiter := rate.NewLimiter(1, 2)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/state", nil))

		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		var errResp struct {
			Error struct {
				Code      string `json:"code"`
				RequestID string `json:"requestId"`
			} `json:"error"`
		}
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if errResp.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", errResp.Error.Code)
		}
		if errResp.Error.RequestID == "" {
			t.Error("error.requestId empty")
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(nil))
	router.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/state", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (nil limiter should allow)", w.Code)
	}
}

func TestRouter_MetricsRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, "GET", "/api/state", nil)

	rec := env.do(t, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "httpRequestsTotal") {
		t.Error("metrics output missing httpRequestsTotal")
	}
}

// TestRouter_RateLimitScopedToAPI verifies that /health stays reachable when the /api
// bucket is empty.
func TestRouter_RateLimitScopedToAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	env.router = NewRouter(RouterConfig{Handler: env.handler, Limiter: rate.NewLimiter(0, 1)})

	if rec := env.do(t, "GET", "/api/state", nil); rec.Code != http.StatusOK {
		t.Fatalf("first /api request status = %d", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/state", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second /api request status = %d, want 429", rec.Code)
	}
	if rec := env.do(t, "GET", "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
}
