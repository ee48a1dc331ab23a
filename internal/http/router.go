package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// RouterConfig wires the handler and middleware into a router.
type RouterConfig struct {
	Handler  *Handler
	Shell    http.Handler // optional; serves every path outside /api
	Limiter  *rate.Limiter
	InFlight *InFlightTracker
	// RequestTimeout bounds each /api request except the event stream.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter returns the dashboard router.
func NewRouter(cfg RouterConfig) *mux.Router {
	h := cfg.Handler
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware(cfg.InFlight))
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	// The event stream is long-lived and stays outside the request timeout.
	router.HandleFunc("/api/events", h.GetEvents).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/bootstrap", h.GetBootstrap).Methods("GET")
	api.HandleFunc("/state", h.GetState).Methods("GET")
	api.HandleFunc("/search", h.PostSearch).Methods("POST")
	api.HandleFunc("/location", h.PostLocation).Methods("POST")
	api.HandleFunc("/locate", h.PostLocate).Methods("POST")
	api.HandleFunc("/retry", h.PostRetry).Methods("POST")
	api.HandleFunc("/settings", h.PutSettings).Methods("PUT")
	api.HandleFunc("/theme", h.PutTheme).Methods("PUT")
	api.HandleFunc("/theme/toggle", h.PostThemeToggle).Methods("POST")
	api.HandleFunc("/favorites", h.GetFavorites).Methods("GET")
	api.HandleFunc("/favorites", h.PostFavorites).Methods("POST")
	api.HandleFunc("/favorites", h.DeleteFavorites).Methods("DELETE")
	api.HandleFunc("/favorites/toggle", h.PostFavoritesToggle).Methods("POST")
	api.HandleFunc("/compare", h.PostCompare).Methods("POST")
	api.HandleFunc("/share", h.GetShare).Methods("GET")

	if cfg.Shell != nil {
		router.PathPrefix("/").Handler(cfg.Shell).Methods("GET", "HEAD")
	}
	return router
}
