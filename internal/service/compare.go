package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// CompareResult is the current conditions for one compared location. Exactly one of
// Current and Err is set.
type CompareResult struct {
	Location models.Location        `json:"location"`
	Current  *models.CurrentWeather `json:"current,omitempty"`
	Err      error                  `json:"-"`
	Error    string                 `json:"error,omitempty"`
}

// Compare fetches current conditions for every location concurrently. Results keep the
// input order; a failure for one location does not affect the others. Compare does not
// touch the synchronizer state.
func (s *Synchronizer) Compare(ctx context.Context, locs []models.Location, units models.UnitPreferences) []CompareResult {
	units = units.Normalize()
	results := make([]CompareResult, len(locs))

	var wg sync.WaitGroup
	for i, loc := range locs {
		wg.Add(1)
		go func(i int, loc models.Location) {
			defer wg.Done()
			results[i].Location = loc
			cur, err := s.provider.Current(ctx, loc, units)
			if err != nil {
				results[i].Err = err
				results[i].Error = UserErrorMessage
				return
			}
			results[i].Current = &cur
		}(i, loc)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.logger.Warn("compare fetch failed",
				zap.String("location", r.Location.Label()),
				zap.String("error_category", string(client.CategorizeError(r.Err))),
				zap.Error(r.Err),
			)
		}
	}
	switch {
	case ctx.Err() != nil:
		observability.SyncOperationsTotal.WithLabelValues(kindCompare, outcomeCanceled).Inc()
	case failed > 0:
		observability.SyncOperationsTotal.WithLabelValues(kindCompare, outcomeError).Inc()
	default:
		observability.SyncOperationsTotal.WithLabelValues(kindCompare, outcomeOK).Inc()
	}
	return results
}
