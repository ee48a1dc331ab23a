package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// UserErrorMessage is the single user-facing message for a failed forecast retrieval.
const UserErrorMessage = "Algo saiu do previsto. Tente novamente em instantes."

// PlaceholderName names a located position when reverse geocoding yields nothing.
const PlaceholderName = "Minha localização"

// Operation kinds and outcomes for metrics.
const (
	kindSearch  = "search"
	kindSelect  = "select"
	kindUnits   = "units"
	kindLocate  = "locate"
	kindCompare = "compare"

	outcomeOK       = "success"
	outcomeError    = "error"
	outcomeCanceled = "cancelled"
	outcomeSkip     = "skipped"
)

// State is the synchronizer's view handed to the presentation layer by value.
// Weather is never mutated after it is published.
type State struct {
	Query       string                 `json:"query"`
	Suggestions []models.Location      `json:"suggestions"`
	Searching   bool                   `json:"searching"`
	Location    models.Location        `json:"location"`
	HasLocation bool                   `json:"hasLocation"`
	Units       models.UnitPreferences `json:"units"`
	Weather     *models.WeatherState   `json:"weather,omitempty"`
	Loading     bool                   `json:"loading"`
	Error       string                 `json:"error,omitempty"`
	Version     uint64                 `json:"version"`
}

const (
	// DefaultDebounce is the search quiet period when Config.Debounce is zero.
	DefaultDebounce = 350 * time.Millisecond
	// NoDebounce disables the search quiet period.
	NoDebounce time.Duration = -1
)

// Config tunes the synchronizer.
type Config struct {
	// Debounce is the quiet period before a search is issued. Zero means
	// DefaultDebounce; NoDebounce issues searches immediately.
	Debounce time.Duration
	// MinQueryLength is the minimum trimmed query length (in runes) that triggers a search.
	MinQueryLength int
}

// Synchronizer turns a selected Location and unit preferences into a WeatherState and
// a query into suggestions. Within each kind the last issued request wins: starting a
// new one cancels the previous, and a superseded result is discarded.
type Synchronizer struct {
	provider client.Provider
	cfg      Config
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	searchGen      uint64
	searchCancel   context.CancelFunc
	forecastGen    uint64
	forecastCancel context.CancelFunc
	subscribers    map[uint64]chan State
	nextSubscriber uint64
	closed         bool
}

// NewSynchronizer returns a Synchronizer with units as the initial preferences.
// No location is selected until SelectLocation or Locate is called.
func NewSynchronizer(provider client.Provider, units models.UnitPreferences, cfg Config, logger *zap.Logger) *Synchronizer {
	switch {
	case cfg.Debounce == 0:
		cfg.Debounce = DefaultDebounce
	case cfg.Debounce < 0:
		cfg.Debounce = 0
	}
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		provider:    provider,
		cfg:         cfg,
		logger:      observability.OrNop(logger),
		ctx:         ctx,
		cancel:      cancel,
		state:       State{Units: units.Normalize()},
		subscribers: make(map[uint64]chan State),
	}
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() State {
	st := s.state
	st.Suggestions = append([]models.Location(nil), s.state.Suggestions...)
	return st
}

// Subscribe returns a channel that receives the latest state after every change, and a
// function that ends the subscription. Slow readers only see the most recent state.
func (s *Synchronizer) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan State, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubscriber
	s.nextSubscriber++
	s.subscribers[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(c)
			}
		})
	}
}

// notifyLocked bumps the version and publishes the new state.
func (s *Synchronizer) notifyLocked() {
	s.state.Version++
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// SetQuery updates the search query. A trimmed query shorter than MinQueryLength clears
// the suggestions without any lookup; otherwise one Search is issued after the debounce.
func (s *Synchronizer) SetQuery(query string) *Handle {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return completedHandle(context.Canceled)
	}
	if s.searchCancel != nil {
		s.searchCancel()
		s.searchCancel = nil
	}
	s.searchGen++
	s.state.Query = query

	if utf8.RuneCountInString(query) < s.cfg.MinQueryLength {
		s.state.Suggestions = nil
		s.state.Searching = false
		s.notifyLocked()
		observability.SyncOperationsTotal.WithLabelValues(kindSearch, outcomeSkip).Inc()
		return completedHandle(nil)
	}

	gen := s.searchGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.searchCancel = cancel
	s.state.Searching = true
	s.notifyLocked()

	h := newHandle(cancel)
	go s.runSearch(ctx, h, gen, query)
	return h
}

func (s *Synchronizer) runSearch(ctx context.Context, h *Handle, gen uint64, query string) {
	timer := time.NewTimer(s.cfg.Debounce)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.discardSearch(h, gen)
		return
	case <-timer.C:
	}

	results, err := s.provider.Search(ctx, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.searchGen || ctx.Err() != nil {
		observability.SyncOperationsTotal.WithLabelValues(kindSearch, outcomeCanceled).Inc()
		s.clearSearchingLocked(gen)
		h.finish(context.Canceled)
		return
	}
	s.searchCancel = nil
	s.state.Searching = false
	if err != nil {
		s.logger.Warn("location search failed",
			zap.String("query", query),
			zap.String("error_category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		observability.SyncOperationsTotal.WithLabelValues(kindSearch, outcomeError).Inc()
		s.state.Suggestions = nil
		s.notifyLocked()
		h.finish(err)
		return
	}
	observability.SyncOperationsTotal.WithLabelValues(kindSearch, outcomeOK).Inc()
	s.state.Suggestions = results
	s.notifyLocked()
	h.finish(nil)
}

func (s *Synchronizer) discardSearch(h *Handle, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	observability.SyncOperationsTotal.WithLabelValues(kindSearch, outcomeCanceled).Inc()
	s.clearSearchingLocked(gen)
	h.finish(context.Canceled)
}

// clearSearchingLocked resets the searching flag when the canceled search was still the
// latest one (an explicit Cancel rather than supersession).
func (s *Synchronizer) clearSearchingLocked(gen uint64) {
	if gen == s.searchGen && s.state.Searching {
		s.searchCancel = nil
		s.state.Searching = false
		s.notifyLocked()
	}
}

// SelectLocation makes loc the current location and retrieves its forecast with the
// current units. Any pending search and forecast retrieval are canceled.
func (s *Synchronizer) SelectLocation(loc models.Location) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return completedHandle(context.Canceled)
	}
	s.clearQueryLocked()
	return s.startRetrievalLocked(loc, s.state.Units, kindSelect)
}

// SetUnits changes the unit preferences. When a location is selected its forecast is
// retrieved again in the new units.
func (s *Synchronizer) SetUnits(units models.UnitPreferences) *Handle {
	units = units.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return completedHandle(context.Canceled)
	}
	if !s.state.HasLocation {
		s.state.Units = units
		s.notifyLocked()
		return completedHandle(nil)
	}
	return s.startRetrievalLocked(s.state.Location, units, kindUnits)
}

// Retry retrieves the current location's forecast again.
func (s *Synchronizer) Retry() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.state.HasLocation {
		return completedHandle(context.Canceled)
	}
	return s.startRetrievalLocked(s.state.Location, s.state.Units, kindSelect)
}

// RetryFailed retries only when the last retrieval failed and nothing is loading.
// It reports whether a retrieval was started.
func (s *Synchronizer) RetryFailed() (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.state.HasLocation || s.state.Loading || s.state.Error == "" {
		return completedHandle(nil), false
	}
	return s.startRetrievalLocked(s.state.Location, s.state.Units, kindSelect), true
}

func (s *Synchronizer) clearQueryLocked() {
	if s.searchCancel != nil {
		s.searchCancel()
		s.searchCancel = nil
	}
	s.searchGen++
	s.state.Query = ""
	s.state.Suggestions = nil
	s.state.Searching = false
}

// supersedeForecastLocked cancels the in-flight retrieval and returns the context and
// generation of the new one.
func (s *Synchronizer) supersedeForecastLocked() (context.Context, context.CancelFunc, uint64) {
	if s.forecastCancel != nil {
		s.forecastCancel()
	}
	s.forecastGen++
	ctx, cancel := context.WithCancel(s.ctx)
	s.forecastCancel = cancel
	return ctx, cancel, s.forecastGen
}

func (s *Synchronizer) startRetrievalLocked(loc models.Location, units models.UnitPreferences, kind string) *Handle {
	ctx, cancel, gen := s.supersedeForecastLocked()
	s.state.Location = loc
	s.state.HasLocation = true
	s.state.Units = units
	s.state.Loading = true
	s.state.Error = ""
	s.notifyLocked()

	h := newHandle(cancel)
	go s.runRetrieval(ctx, h, gen, loc, units, kind)
	return h
}

func (s *Synchronizer) runRetrieval(ctx context.Context, h *Handle, gen uint64, loc models.Location, units models.UnitPreferences, kind string) {
	start := time.Now()
	weather, err := s.provider.Forecast(ctx, loc, units)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.forecastGen {
		observability.SyncOperationsTotal.WithLabelValues(kind, outcomeCanceled).Inc()
		h.finish(context.Canceled)
		return
	}
	s.forecastCancel = nil
	s.state.Loading = false

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		observability.SyncOperationsTotal.WithLabelValues(kind, outcomeCanceled).Inc()
		s.notifyLocked()
		h.finish(context.Canceled)
		return
	}
	if err != nil {
		s.logger.Warn("forecast retrieval failed",
			zap.String("location", loc.Label()),
			zap.String("error_category", string(client.CategorizeError(err))),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		observability.SyncOperationsTotal.WithLabelValues(kind, outcomeError).Inc()
		s.state.Error = UserErrorMessage
		if s.state.Weather != nil && !s.state.Weather.Location.Same(loc) {
			s.state.Weather = nil
		}
		s.notifyLocked()
		h.finish(err)
		return
	}

	observability.SyncOperationsTotal.WithLabelValues(kind, outcomeOK).Inc()
	s.logger.Debug("forecast retrieved", zap.String("location", loc.Label()), zap.Duration("duration", time.Since(start)))
	s.state.Weather = &weather
	s.state.Error = ""
	s.notifyLocked()
	h.finish(nil)
}

// Locate reverse-geocodes raw device coordinates and selects the result. On any lookup
// failure the location is named PlaceholderName at the raw coordinates, so a location is
// always selected unless the operation is canceled or superseded.
func (s *Synchronizer) Locate(lat, lon float64) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return completedHandle(context.Canceled)
	}
	ctx, cancel, gen := s.supersedeForecastLocked()
	s.state.Loading = true
	s.state.Error = ""
	s.notifyLocked()

	h := newHandle(cancel)
	go s.runLocate(ctx, h, gen, lat, lon)
	return h
}

func (s *Synchronizer) runLocate(ctx context.Context, h *Handle, gen uint64, lat, lon float64) {
	results, err := s.provider.Reverse(ctx, lat, lon)
	if ctx.Err() == nil && err != nil {
		s.logger.Info("reverse geocoding failed, using placeholder",
			zap.String("error_category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
	}
	loc := synthesizeLocation(lat, lon, results, err)

	s.mu.Lock()
	if gen != s.forecastGen || ctx.Err() != nil {
		if gen == s.forecastGen {
			s.forecastCancel = nil
			s.state.Loading = false
			s.notifyLocked()
		}
		s.mu.Unlock()
		observability.SyncOperationsTotal.WithLabelValues(kindLocate, outcomeCanceled).Inc()
		h.finish(context.Canceled)
		return
	}
	s.clearQueryLocked()
	next := s.startRetrievalLocked(loc, s.state.Units, kindLocate)
	s.mu.Unlock()

	h.chain(next)
	<-next.Done()
	h.finish(next.Err())
}

func synthesizeLocation(lat, lon float64, results []models.Location, err error) models.Location {
	loc := models.Location{Name: PlaceholderName, Latitude: lat, Longitude: lon}
	if err != nil || len(results) == 0 {
		return loc
	}
	top := results[0]
	if top.Name != "" {
		loc.Name = top.Name
	}
	loc.Admin1 = top.Admin1
	loc.Country = top.Country
	loc.Timezone = top.Timezone
	return loc
}

// Close cancels every pending operation and ends all subscriptions.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
