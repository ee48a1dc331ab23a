// Package worker implements the cache-tiered fetcher: an http.RoundTripper that sits
// between every outbound request and the network and applies a caching strategy per
// request class.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// SourceHeader names the response header reporting where a response came from.
const SourceHeader = "X-Worker-Source"

// Response sources.
const (
	SourceNetwork       = "network"
	SourceCache         = "cache"
	SourceCacheFallback = "cache_fallback"
	SourcePassthrough   = "passthrough"
	SourceUncontrolled  = "uncontrolled"
)

var (
	// ErrInstallFailed is returned when any shell asset cannot be fetched or stored.
	ErrInstallFailed = errors.New("worker: install failed")
	// ErrNotInstalled is returned by Activate before a successful Install.
	ErrNotInstalled = errors.New("worker: not installed")
	// ErrNetwork wraps a failed network leg with no cached fallback.
	ErrNetwork = errors.New("worker: network unavailable")

	errServerStatus = errors.New("server error status")
)

// Config configures a Worker.
type Config struct {
	StaticPartition  string
	RuntimePartition string
	// ShellOrigin and ShellAssets name the documents seeded on install.
	ShellOrigin string
	ShellAssets []string
	Classifier  Classifier
	// NetworkTimeout bounds each network leg so fallbacks happen within the caller's deadline.
	NetworkTimeout time.Duration
	// WriteTimeout bounds each best-effort partition write.
	WriteTimeout            time.Duration
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
}

// Worker is the cache-tiered fetcher. Before Activate it forwards every request
// straight to the network.
type Worker struct {
	cfg       Config
	store     cache.Store
	next      http.RoundTripper
	state     *lifecycle.State
	tracker   *traffic.Tracker
	logger    *zap.Logger
	breaker   *gobreaker.CircuitBreaker
	coalescer *fetchCoalescer
	now       func() time.Time

	mu      sync.RWMutex
	static  cache.Partition
	runtime cache.Partition

	// shellStale is set while the worker runs on a static partition adopted from an
	// earlier run instead of one it installed.
	shellStale atomic.Bool
	installMu  sync.Mutex

	pending sync.WaitGroup
}

// New creates a Worker over store. next is the network transport (http.DefaultTransport
// if nil). state and tracker may be nil.
func New(store cache.Store, next http.RoundTripper, cfg Config, state *lifecycle.State, tracker *traffic.Tracker, logger *zap.Logger) *Worker {
	if next == nil {
		next = http.DefaultTransport
	}
	if state == nil {
		state = lifecycle.New()
	}
	if tracker == nil {
		tracker = traffic.NewTracker()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	logger = observability.OrNop(logger).Named("worker")
	w := &Worker{
		cfg:       cfg,
		store:     store,
		next:      next,
		state:     state,
		tracker:   tracker,
		logger:    logger,
		coalescer: newFetchCoalescer(),
		now:       time.Now,
	}
	threshold := uint32(cfg.BreakerFailureThreshold)
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "network",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// Caller cancellation says nothing about the network.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("network breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return w
}

// Phase returns the current lifecycle phase.
func (w *Worker) Phase() lifecycle.Phase {
	return w.state.Phase()
}

// Start installs and then activates immediately without waiting for older instances.
// When install fails but the store still holds a complete shell for this version,
// the worker activates on the stored partitions and NeedsInstall reports true.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		resumed, rerr := w.resume(ctx)
		if rerr != nil {
			w.logger.Warn("stored shell check failed", zap.Error(rerr))
		}
		if !resumed {
			return err
		}
		w.shellStale.Store(true)
		w.logger.Warn("install failed; activating on stored shell", zap.Error(err))
	}
	return w.Activate(ctx)
}

// NeedsInstall reports whether the worker is uncontrolled or running on a stored shell.
func (w *Worker) NeedsInstall() bool {
	return w.Phase() != lifecycle.PhaseActivated || w.shellStale.Load()
}

// Reinstall retries a failed install. An uncontrolled worker is started; a worker
// running on a stored shell refreshes it. Otherwise it does nothing.
func (w *Worker) Reinstall(ctx context.Context) error {
	w.installMu.Lock()
	defer w.installMu.Unlock()
	if w.Phase() != lifecycle.PhaseActivated {
		return w.Start(ctx)
	}
	if !w.shellStale.Load() {
		return nil
	}
	return w.Install(ctx)
}

// KeepInstalled calls Reinstall every interval while NeedsInstall is true, until ctx is done.
func (w *Worker) KeepInstalled(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("worker: reinstall interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !w.NeedsInstall() {
				continue
			}
			if err := w.Reinstall(ctx); err != nil {
				w.logger.Debug("reinstall failed", zap.Error(err))
			}
		}
	}
}

// resume adopts the current version's static partition left by an earlier run when
// it holds every shell asset. It never creates the partition.
func (w *Worker) resume(ctx context.Context) (bool, error) {
	names, err := w.store.Names(ctx)
	if err != nil {
		return false, err
	}
	found := false
	for _, name := range names {
		if name == w.cfg.StaticPartition {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}
	static, err := w.store.Open(ctx, w.cfg.StaticPartition)
	if err != nil {
		return false, err
	}
	keys, err := static.Keys(ctx)
	if err != nil {
		return false, err
	}
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[k] = true
	}
	for _, asset := range w.cfg.ShellAssets {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.ShellOrigin+asset, nil)
		if err != nil {
			return false, err
		}
		if !have[Key(req)] {
			return false, nil
		}
	}
	w.mu.Lock()
	w.static = static
	w.mu.Unlock()
	if !w.state.Transition(lifecycle.PhaseParsed, lifecycle.PhaseInstalled) {
		return false, nil
	}
	observability.WorkerInstallTotal.WithLabelValues("resumed").Inc()
	return true, nil
}

// Install seeds the static partition with the shell assets. Every asset is fetched
// before any is stored; one failure fails the whole install and stores nothing.
// An activated worker keeps control while it reinstalls.
func (w *Worker) Install(ctx context.Context) error {
	prev := w.state.Phase()
	controlling := prev == lifecycle.PhaseActivated
	if !controlling {
		w.state.SetPhase(lifecycle.PhaseInstalling)
	}
	fail := func(err error) error {
		observability.WorkerInstallTotal.WithLabelValues("error").Inc()
		if !controlling {
			w.state.SetPhase(prev)
		}
		w.logger.Error("install failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	type seeded struct {
		key   string
		entry cache.Entry
	}
	entries := make([]seeded, 0, len(w.cfg.ShellAssets))
	for _, asset := range w.cfg.ShellAssets {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.ShellOrigin+asset, nil)
		if err != nil {
			return fail(fmt.Errorf("asset %s: %w", asset, err))
		}
		e, err := w.fetch(req)
		if err != nil {
			return fail(fmt.Errorf("asset %s: %w", asset, err))
		}
		if !cacheable(e) {
			return fail(fmt.Errorf("asset %s: status %d", asset, e.Status))
		}
		e.StoredAt = w.now()
		entries = append(entries, seeded{key: Key(req), entry: e})
	}

	static, err := w.store.Open(ctx, w.cfg.StaticPartition)
	if err != nil {
		return fail(err)
	}
	for _, s := range entries {
		if err := static.Put(ctx, s.key, s.entry); err != nil {
			return fail(fmt.Errorf("store %s: %w", s.key, err))
		}
	}
	w.mu.Lock()
	w.static = static
	w.mu.Unlock()
	w.shellStale.Store(false)
	if !controlling {
		w.state.SetPhase(lifecycle.PhaseInstalled)
	}
	observability.WorkerInstallTotal.WithLabelValues("ok").Inc()
	w.logger.Info("installed", zap.String("partition", w.cfg.StaticPartition), zap.Int("assets", len(entries)))
	return nil
}

// Activate drops every partition not named by the current version and then claims
// control, so subsequent requests go through the caching strategies.
func (w *Worker) Activate(ctx context.Context) error {
	if !w.state.Transition(lifecycle.PhaseInstalled, lifecycle.PhaseActivating) {
		if w.state.Phase() == lifecycle.PhaseActivated {
			return nil
		}
		return ErrNotInstalled
	}
	names, err := w.store.Names(ctx)
	if err != nil {
		w.state.SetPhase(lifecycle.PhaseInstalled)
		return fmt.Errorf("worker: activate: %w", err)
	}
	for _, name := range names {
		if name == w.cfg.StaticPartition || name == w.cfg.RuntimePartition {
			continue
		}
		if _, err := w.store.Drop(ctx, name); err != nil {
			w.state.SetPhase(lifecycle.PhaseInstalled)
			return fmt.Errorf("worker: activate: drop %s: %w", name, err)
		}
		observability.WorkerPartitionsDroppedTotal.Inc()
		w.logger.Info("dropped stale partition", zap.String("partition", name))
	}
	runtime, err := w.store.Open(ctx, w.cfg.RuntimePartition)
	if err != nil {
		w.state.SetPhase(lifecycle.PhaseInstalled)
		return fmt.Errorf("worker: activate: %w", err)
	}
	w.mu.Lock()
	w.runtime = runtime
	w.mu.Unlock()
	w.state.SetPhase(lifecycle.PhaseActivated)
	w.logger.Info("activated", zap.String("static", w.cfg.StaticPartition), zap.String("runtime", w.cfg.RuntimePartition))
	return nil
}

// Wait blocks until pending partition writes and background refreshes finish or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoundTrip implements http.RoundTripper.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	class := w.cfg.Classifier.Classify(req)
	if class == ClassPassthrough {
		observability.WorkerFetchTotal.WithLabelValues(string(class), SourcePassthrough).Inc()
		return w.next.RoundTrip(req)
	}
	if !w.state.Controlling() {
		observability.WorkerFetchTotal.WithLabelValues(string(class), SourceUncontrolled).Inc()
		return w.next.RoundTrip(req)
	}
	switch class {
	case ClassNavigation:
		return w.networkFirst(req, class, originKey(req, "/"),
			[]string{Key(req), originKey(req, "/"), originKey(req, "/index.html")})
	case ClassDataAPI:
		return w.networkFirst(req, class, Key(req), []string{Key(req)})
	default:
		return w.staleWhileRevalidate(req)
	}
}

// networkFirst tries the network and stores a 2xx copy under storeKey. On failure
// the first cached hit among fallbackKeys is served.
func (w *Worker) networkFirst(req *http.Request, class Class, storeKey string, fallbackKeys []string) (*http.Response, error) {
	e, err := w.fetch(req)
	if err == nil {
		if cacheable(e) {
			w.storeAsync(w.runtimePartition(), storeKey, e)
		}
		observability.WorkerFetchTotal.WithLabelValues(string(class), SourceNetwork).Inc()
		return toResponse(req, e, SourceNetwork), nil
	}
	if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
		return nil, ctxErr
	}
	for _, k := range fallbackKeys {
		if hit, ok := w.lookup(req.Context(), k); ok {
			w.tracker.RecordFallback()
			observability.WorkerFetchTotal.WithLabelValues(string(class), SourceCacheFallback).Inc()
			w.logger.Debug("served cached fallback", zap.String("class", string(class)), zap.String("key", k), zap.Error(err))
			return toResponse(req, hit, SourceCacheFallback), nil
		}
	}
	return w.networkFailure(req, class, e, err)
}

// staleWhileRevalidate serves a cached copy immediately and refreshes it in the
// background; on a miss it waits for the network.
func (w *Worker) staleWhileRevalidate(req *http.Request) (*http.Response, error) {
	key := Key(req)
	if hit, ok := w.lookup(req.Context(), key); ok {
		w.revalidate(req, key)
		observability.WorkerFetchTotal.WithLabelValues(string(ClassStatic), SourceCache).Inc()
		return toResponse(req, hit, SourceCache), nil
	}
	e, leader, err := w.coalescer.Do(req.Context(), key, w.detachedFetch(req))
	if err == nil {
		if leader && cacheable(e) {
			w.storeAsync(w.staticPartition(), key, e)
		}
		observability.WorkerFetchTotal.WithLabelValues(string(ClassStatic), SourceNetwork).Inc()
		return toResponse(req, e, SourceNetwork), nil
	}
	if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
		return nil, ctxErr
	}
	return w.networkFailure(req, ClassStatic, e, err)
}

// revalidate refreshes key in the static partition in the background. Concurrent
// refreshes of one key share a single network fetch.
func (w *Worker) revalidate(req *http.Request, key string) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.revalidateTimeout())
		defer cancel()
		e, leader, err := w.coalescer.Do(ctx, key, w.detachedFetch(req))
		if !leader {
			observability.WorkerRevalidationsTotal.WithLabelValues("coalesced").Inc()
			return
		}
		if err != nil || !cacheable(e) {
			observability.WorkerRevalidationsTotal.WithLabelValues("error").Inc()
			w.logger.Debug("revalidation failed", zap.String("key", key), zap.Int("status", e.Status), zap.Error(err))
			return
		}
		observability.WorkerRevalidationsTotal.WithLabelValues("ok").Inc()
		w.put(w.staticPartition(), key, e)
	}()
}

func (w *Worker) networkFailure(req *http.Request, class Class, e cache.Entry, err error) (*http.Response, error) {
	observability.WorkerFetchTotal.WithLabelValues(string(class), "error").Inc()
	if errors.Is(err, errServerStatus) {
		return toResponse(req, e, SourceNetwork), nil
	}
	return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, class, req.URL.Redacted(), err)
}

// detachedFetch clones req onto a context that outlives the caller so a shared
// fetch is not aborted when its first waiter goes away.
func (w *Worker) detachedFetch(req *http.Request) func() (cache.Entry, error) {
	clone := req.Clone(context.WithoutCancel(req.Context()))
	return func() (cache.Entry, error) {
		return w.fetch(clone)
	}
}

// fetch performs the network leg through the breaker, buffering the whole body.
// A 5xx response is returned together with errServerStatus.
func (w *Worker) fetch(req *http.Request) (cache.Entry, error) {
	if w.cfg.NetworkTimeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), w.cfg.NetworkTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}
	var e cache.Entry
	_, err := w.breaker.Execute(func() (interface{}, error) {
		resp, err := w.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		e = cache.Entry{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %d", errServerStatus, resp.StatusCode)
		}
		return nil, nil
	})
	switch {
	case err == nil:
		w.tracker.RecordSuccess()
	case errors.Is(err, context.Canceled):
	default:
		w.tracker.RecordFailure()
	}
	return e, err
}

func (w *Worker) lookup(ctx context.Context, key string) (cache.Entry, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
	defer cancel()
	e, ok, err := w.store.Match(ctx, key)
	if err != nil {
		w.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return cache.Entry{}, false
	}
	return e, ok
}

// storeAsync writes e without blocking the response path.
func (w *Worker) storeAsync(p cache.Partition, key string, e cache.Entry) {
	if p == nil {
		return
	}
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		w.put(p, key, e)
	}()
}

// put is best-effort: failures are logged and counted, never returned.
func (w *Worker) put(p cache.Partition, key string, e cache.Entry) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()
	e.StoredAt = w.now()
	if err := p.Put(ctx, key, e); err != nil {
		observability.WorkerCacheWritesTotal.WithLabelValues(p.Name(), "error").Inc()
		w.logger.Warn("cache write failed", zap.String("partition", p.Name()), zap.String("key", key), zap.Error(err))
		return
	}
	observability.WorkerCacheWritesTotal.WithLabelValues(p.Name(), "ok").Inc()
}

func (w *Worker) staticPartition() cache.Partition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.static
}

func (w *Worker) runtimePartition() cache.Partition {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runtime
}

func (w *Worker) revalidateTimeout() time.Duration {
	if w.cfg.NetworkTimeout > 0 {
		return w.cfg.NetworkTimeout + w.cfg.WriteTimeout
	}
	return 30 * time.Second
}

func cacheable(e cache.Entry) bool {
	return e.Status >= 200 && e.Status < 300
}

func toResponse(req *http.Request, e cache.Entry, source string) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(SourceHeader, source)
	h.Del("Content-Length")
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
