package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// ForecastFetcher is implemented by the provider client. Forecast responses travel
// through the fetcher transport, so a successful call leaves a runtime partition entry.
type ForecastFetcher interface {
	Forecast(ctx context.Context, loc models.Location, units models.UnitPreferences) (models.WeatherState, error)
}

// Warmer prefetches forecasts for favorite locations so they are available offline.
type Warmer struct {
	fetcher ForecastFetcher
	units   func() models.UnitPreferences
	logger  *zap.Logger
}

// NewWarmer creates a Warmer. units is read on every run; the cached request key
// includes the unit parameters, so prefetching must use the current preferences.
func NewWarmer(fetcher ForecastFetcher, units func() models.UnitPreferences, logger *zap.Logger) *Warmer {
	if units == nil {
		units = models.DefaultUnits
	}
	return &Warmer{fetcher: fetcher, units: units, logger: observability.OrNop(logger)}
}

// Warm fetches the forecast for each location concurrently.
// Returns an aggregated error if any location failed.
func (w *Warmer) Warm(ctx context.Context, locations []models.Location) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming favorites", zap.Int("locations", len(locations)))
	units := w.units()

	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.Forecast(ctx, loc, units); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", loc.Label(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("favorites warming complete", zap.Int("locations", len(locations)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
// source is read on every run so newly added favorites are picked up.
func (w *Warmer) WarmPeriodic(ctx context.Context, source func() []models.Location, interval time.Duration) error {
	if err := w.Warm(ctx, source()); err != nil {
		w.logger.Warn("initial favorites warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, source()); err != nil {
				w.logger.Warn("periodic favorites warm failed", zap.Error(err))
			}
		}
	}
}
