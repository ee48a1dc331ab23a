// Package reconnect notices when the provider has become unreachable and, once it
// answers again, lets the dashboard refresh whatever failed while offline.
package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// ProbeFunc checks the provider over the network. It must not be served from cache.
type ProbeFunc func(ctx context.Context) error

// Config tunes a Watcher.
type Config struct {
	// Window and OfflineFailurePct decide offline the same way the health check does.
	Window            time.Duration
	OfflineFailurePct int
	// CheckInterval is how often the tracker is evaluated.
	CheckInterval time.Duration
	// InitialDelay and MaxDelay bound the Fibonacci probe schedule.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	ProbeTimeout time.Duration
}

// Watcher evaluates the fetcher's failure rate and runs probes while offline.
type Watcher struct {
	tracker   *traffic.Tracker
	probe     ProbeFunc
	onRecover func()
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	offline atomic.Bool

	mu          sync.Mutex
	recoveredAt time.Time
}

// New returns a Watcher. onRecover runs after a probe succeeds following an offline spell.
func New(tracker *traffic.Tracker, probe ProbeFunc, onRecover func(), cfg Config, logger *zap.Logger) *Watcher {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.OfflineFailurePct <= 0 {
		cfg.OfflineFailurePct = 50
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if onRecover == nil {
		onRecover = func() {}
	}
	return &Watcher{
		tracker:   tracker,
		probe:     probe,
		onRecover: onRecover,
		cfg:       cfg,
		logger:    observability.OrNop(logger).Named("reconnect"),
		now:       time.Now,
	}
}

// Offline reports whether the watcher is currently probing for recovery.
func (w *Watcher) Offline() bool {
	return w.offline.Load()
}

// Run evaluates connectivity every CheckInterval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.wentOffline() {
				w.recover(ctx)
			}
		}
	}
}

// wentOffline applies the offline threshold to outcomes recorded since the last recovery.
func (w *Watcher) wentOffline() bool {
	window := w.cfg.Window
	w.mu.Lock()
	if !w.recoveredAt.IsZero() {
		if since := w.now().Sub(w.recoveredAt); since < window {
			window = since
		}
	}
	w.mu.Unlock()
	failures, total := w.tracker.FailureRate(window)
	return total > 0 && failures*100 >= w.cfg.OfflineFailurePct*total
}

// recover probes on the Fibonacci schedule, repeating the longest delay, until a probe
// succeeds or ctx is done.
func (w *Watcher) recover(ctx context.Context) {
	w.offline.Store(true)
	defer w.offline.Store(false)
	w.logger.Warn("provider unreachable; probing for recovery")

	delays := fibDelays(w.cfg.InitialDelay, w.cfg.MaxDelay)
	for i := 0; ; i++ {
		d := delays[len(delays)-1]
		if i < len(delays) {
			d = delays[i]
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
		err := w.probe(attemptCtx)
		cancel()
		if err == nil {
			w.mu.Lock()
			w.recoveredAt = w.now()
			w.mu.Unlock()
			w.logger.Info("provider reachable again", zap.Int("probes", i+1))
			w.onRecover()
			return
		}
		w.logger.Debug("recovery probe failed", zap.Int("attempt", i+1), zap.Duration("delay", d), zap.Error(err))
	}
}

// fibDelays returns initial scaled by 1, 2, 3, 5, 8... up to max. The result always
// holds at least initial.
func fibDelays(initial, max time.Duration) []time.Duration {
	a, b := time.Duration(1), time.Duration(2)
	var out []time.Duration
	for {
		d := a * initial
		if d > max {
			break
		}
		out = append(out, d)
		a, b = b, a+b
	}
	if len(out) == 0 {
		out = append(out, initial)
	}
	return out
}
