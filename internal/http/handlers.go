package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/prefs"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
	"github.com/kjstillabower/weather-dashboard/internal/urlstate"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// HealthConfig holds connectivity thresholds for the health handler.
type HealthConfig struct {
	// Window is the sliding window for network outcomes.
	Window time.Duration
	// OfflineFailurePct is the failure percentage at or above which status is "offline".
	OfflineFailurePct int
	// CachePing, when set, is called to check partition store reachability.
	CachePing func(ctx context.Context) error
	// Reconnecting reports whether recovery probes are running.
	Reconnecting func() bool
	// ShellPending reports whether the fetcher still needs a fresh shell install.
	ShellPending func() bool
}

// Deps are the collaborators of Handler.
type Deps struct {
	Sync    *service.Synchronizer
	Prefs   *prefs.Store
	State   *lifecycle.State
	Tracker *traffic.Tracker
	Health  HealthConfig
	// QueryMaxLength bounds search queries in runes.
	QueryMaxLength int
	// ShareBase is the page URL used for share links when the caller gives none.
	ShareBase string
	Logger    *zap.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sync             *service.Synchronizer
	prefs            *prefs.Store
	state            *lifecycle.State
	tracker          *traffic.Tracker
	health           HealthConfig
	queryMaxLength   int
	shareBase        string
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(d Deps) *Handler {
	if d.State == nil {
		d.State = lifecycle.New()
	}
	if d.Tracker == nil {
		d.Tracker = traffic.NewTracker()
	}
	if d.Health.Window <= 0 {
		d.Health.Window = time.Minute
	}
	if d.QueryMaxLength <= 0 {
		d.QueryMaxLength = 100
	}
	if d.ShareBase == "" {
		d.ShareBase = "/"
	}
	return &Handler{
		sync:           d.Sync,
		prefs:          d.Prefs,
		state:          d.State,
		tracker:        d.Tracker,
		health:         d.Health,
		queryMaxLength: d.QueryMaxLength,
		shareBase:      d.ShareBase,
		logger:         observability.OrNop(d.Logger),
	}
}

// stateResponse is the synchronizer state plus the preferences the presentation layer renders.
type stateResponse struct {
	service.State
	Theme      models.Theme      `json:"theme"`
	Favorites  []models.Location `json:"favorites"`
	IsFavorite bool              `json:"isFavorite"`
	// Link is the page path and query to replace the current URL with.
	Link string `json:"link,omitempty"`
}

func (h *Handler) buildState(st service.State) stateResponse {
	resp := stateResponse{
		State:     st,
		Theme:     h.prefs.Theme(),
		Favorites: h.prefs.Favorites(),
	}
	if st.HasLocation {
		resp.IsFavorite = h.prefs.IsFavorite(st.Location)
		resp.Link = urlstate.Encode(&url.URL{Path: "/"}, st.Location, st.Units).String()
	}
	return resp
}

func (h *Handler) writeState(w http.ResponseWriter, status int) {
	writeJSON(w, status, h.buildState(h.sync.Snapshot()))
}

// await waits for an operation and writes the resulting state. A superseded or still
// running operation answers 202 with the current state; failures are carried in the
// state's error field.
func (h *Handler) await(w http.ResponseWriter, r *http.Request, op *service.Handle) {
	err := op.Wait(r.Context())
	switch {
	case err == nil:
		h.writeState(w, http.StatusOK)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeState(w, http.StatusAccepted)
	default:
		loggerFromRequest(r).Debug("operation failed", zap.Error(err))
		h.writeState(w, http.StatusOK)
	}
}

// GetBootstrap handles GET /api/bootstrap. The page's query string selects the initial
// location (default São Paulo) and units. Units from the URL apply to this session only;
// without them the stored units are used.
func (h *Handler) GetBootstrap(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.RawQuery
	loc, ok := urlstate.DecodeLocation(raw)
	if !ok {
		loc = models.DefaultLocation
	}
	units := h.prefs.Units()
	if urlstate.HasUnits(raw) {
		units = urlstate.DecodeUnits(raw, units)
	}
	// Any retrieval started here is superseded by the selection below.
	h.sync.SetUnits(units)
	h.await(w, r, h.sync.SelectLocation(loc))
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, http.StatusOK)
}

// PostSearch handles POST /api/search {query}.
func (h *Handler) PostSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	query, err := validation.ValidateQuery(body.Query, h.queryMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	h.await(w, r, h.sync.SetQuery(query))
}

// PostLocation handles POST /api/location with a location body.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var body validation.LocationPayload
	if !decodeBody(w, r, &body) {
		return
	}
	loc, err := body.Location(urlstate.DefaultName)
	if err != nil {
		writeValidationError(w, r, err)
		return
	}
	h.await(w, r, h.sync.SelectLocation(loc))
}

// PostLocate handles POST /api/locate {latitude, longitude}.
func (h *Handler) PostLocate(w http.ResponseWriter, r *http.Request) {
	var body validation.Coordinates
	if !decodeBody(w, r, &body) {
		return
	}
	if err := validation.Struct(body); err != nil {
		writeValidationError(w, r, err)
		return
	}
	h.await(w, r, h.sync.Locate(*body.Latitude, *body.Longitude))
}

// PostRetry handles POST /api/retry.
func (h *Handler) PostRetry(w http.ResponseWriter, r *http.Request) {
	h.await(w, r, h.sync.Retry())
}

// PutSettings handles PUT /api/settings. Units are stored and the forecast refetched.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var body models.UnitPreferences
	if !decodeBody(w, r, &body) {
		return
	}
	units := h.prefs.SetUnits(body)
	h.await(w, r, h.sync.SetUnits(units))
}

// PutTheme handles PUT /api/theme {theme}.
func (h *Handler) PutTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	theme, ok := models.ParseTheme(body.Theme)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_THEME", "theme must be light or dark")
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Theme{"theme": h.prefs.SetTheme(theme)})
}

// PostThemeToggle handles POST /api/theme/toggle.
func (h *Handler) PostThemeToggle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]models.Theme{"theme": h.prefs.ToggleTheme()})
}

// GetFavorites handles GET /api/favorites.
func (h *Handler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.Location{"favorites": h.prefs.Favorites()})
}

// PostFavorites handles POST /api/favorites with a location body (add, most recent first).
func (h *Handler) PostFavorites(w http.ResponseWriter, r *http.Request) {
	var body validation.LocationPayload
	if !decodeBody(w, r, &body) {
		return
	}
	loc, err := body.Location(urlstate.DefaultName)
	if err != nil {
		writeValidationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Location{"favorites": h.prefs.AddFavorite(loc)})
}

// PostFavoritesToggle handles POST /api/favorites/toggle for the selected location.
func (h *Handler) PostFavoritesToggle(w http.ResponseWriter, r *http.Request) {
	st := h.sync.Snapshot()
	if !st.HasLocation {
		writeError(w, r, http.StatusConflict, "NO_LOCATION", "no location selected")
		return
	}
	favorites, added := h.prefs.ToggleFavorite(st.Location)
	writeJSON(w, http.StatusOK, map[string]any{"favorites": favorites, "isFavorite": added})
}

// DeleteFavorites handles DELETE /api/favorites?lat=&lon=.
func (h *Handler) DeleteFavorites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat and lon are required")
		return
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		writeValidationError(w, r, err)
		return
	}
	favorites := h.prefs.RemoveFavorite(models.Location{Latitude: lat, Longitude: lon})
	writeJSON(w, http.StatusOK, map[string][]models.Location{"favorites": favorites})
}

// PostCompare handles POST /api/compare {locations}.
func (h *Handler) PostCompare(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Locations []validation.LocationPayload `json:"locations"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Locations) == 0 || len(body.Locations) > prefs.MaxFavorites {
		writeError(w, r, http.StatusBadRequest, "INVALID_SELECTION", "between 1 and "+strconv.Itoa(prefs.MaxFavorites)+" locations required")
		return
	}
	locs := make([]models.Location, 0, len(body.Locations))
	for _, p := range body.Locations {
		loc, err := p.Location(urlstate.DefaultName)
		if err != nil {
			writeValidationError(w, r, err)
			return
		}
		locs = append(locs, loc)
	}
	results := h.sync.Compare(r.Context(), locs, h.sync.Snapshot().Units)
	writeJSON(w, http.StatusOK, map[string][]service.CompareResult{"results": results})
}

// GetShare handles GET /api/share?base=. The link is base (or the configured page URL)
// with the current location and units encoded.
func (h *Handler) GetShare(w http.ResponseWriter, r *http.Request) {
	st := h.sync.Snapshot()
	if !st.HasLocation {
		writeError(w, r, http.StatusConflict, "NO_LOCATION", "no location selected")
		return
	}
	base := r.URL.Query().Get("base")
	if base == "" {
		base = h.shareBase
	}
	u, err := url.Parse(base)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BASE", "base must be a URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": urlstate.Encode(u, st.Location, st.Units).String()})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"network": "online", "worker": h.state.Phase().String()}
	if result.status == "offline" {
		checks["network"] = "offline"
	}
	if h.health.Reconnecting != nil {
		checks["reconnect"] = "idle"
		if h.health.Reconnecting() {
			checks["reconnect"] = "probing"
		}
	}
	if h.health.ShellPending != nil {
		checks["shell"] = "installed"
		if h.health.ShellPending() {
			checks["shell"] = "pending"
		}
	}
	statusCode := result.statusCode
	if h.health.CachePing != nil {
		if err := h.health.CachePing(r.Context()); err == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
			if statusCode == http.StatusOK {
				result.status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}
	}
	failures, total := h.tracker.FailureRate(h.health.Window)
	writeJSON(w, statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-dashboard",
		"version":   "dev",
		"checks":    checks,
		"network":   map[string]int{"failures": failures, "attempts": total, "fallbacks": h.tracker.FallbackCount(h.health.Window)},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > offline > online.
func (h *Handler) computeHealthStatus() healthResult {
	if h.state.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.health.OfflineFailurePct > 0 {
		failures, total := h.tracker.FailureRate(h.health.Window)
		if total > 0 && failures*100 >= h.health.OfflineFailurePct*total {
			// Offline still serves cached data, so the process itself is healthy.
			return healthResult{"offline", http.StatusOK, "network_failure_rate"}
		}
	}
	return healthResult{"online", http.StatusOK, ""}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	code := "INVALID_PAYLOAD"
	if errors.Is(err, validation.ErrInvalidCoordinates) {
		code = "INVALID_COORDINATES"
	}
	writeError(w, r, http.StatusBadRequest, code, err.Error())
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}
