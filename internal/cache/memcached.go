package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

const (
	keyPrefix            = "weather:"
	memcachedRegistryKey = keyPrefix + "partitions"

	// defaultIndexLimit keeps a partition's key index well under memcached's 1MB item size.
	defaultIndexLimit = 512 << 10
)

// registryRecord maps a partition name to its current generation. Entries are keyed
// under the generation, so dropping a partition makes its items unreachable.
type registryRecord struct {
	Name       string `json:"name"`
	Generation string `json:"generation"`
}

// MemcachedStore implements Store using memcached. Registry and key-index updates are
// serialized in-process; one dashboard process owns the keyspace.
type MemcachedStore struct {
	client     *memcache.Client
	logger     *zap.Logger
	indexLimit int
	mu         sync.Mutex
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. logger may be nil.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int, logger *zap.Logger) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{
		client:     client,
		logger:     observability.OrNop(logger).Named("memcached"),
		indexLimit: defaultIndexLimit,
	}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Open returns the named partition, registering a fresh generation if it is new.
func (s *MemcachedStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readRegistry()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Name == name {
			return s.partition(r), nil
		}
	}
	rec := registryRecord{Name: name, Generation: ulid.Make().String()}
	if err := s.writeRegistry(append(records, rec)); err != nil {
		return nil, err
	}
	return s.partition(rec), nil
}

// Names lists partitions in creation order.
func (s *MemcachedStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	records, err := s.readRegistry()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names, nil
}

// Drop unregisters the partition. Its items are left to expire from memcached.
func (s *MemcachedStore) Drop(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readRegistry()
	if err != nil {
		return false, err
	}
	kept := records[:0]
	var dropped *registryRecord
	for _, r := range records {
		if r.Name == name {
			r := r
			dropped = &r
			continue
		}
		kept = append(kept, r)
	}
	if dropped == nil {
		return false, nil
	}
	if err := s.writeRegistry(kept); err != nil {
		return false, err
	}
	if err := s.client.Delete(indexKey(dropped.Generation)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		s.logger.Warn("drop partition index failed", zap.String("partition", name), zap.Error(err))
	}
	return true, nil
}

// Match searches partitions in creation order.
func (s *MemcachedStore) Match(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	s.mu.Lock()
	records, err := s.readRegistry()
	s.mu.Unlock()
	if err != nil {
		return Entry{}, false, err
	}
	for _, r := range records {
		e, ok, err := s.partition(r).Match(ctx, key)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}

func (s *MemcachedStore) readRegistry() ([]registryRecord, error) {
	item, err := s.client.Get(memcachedRegistryKey)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: memcached registry: %w", err)
	}
	var records []registryRecord
	if err := json.Unmarshal(item.Value, &records); err != nil {
		return nil, fmt.Errorf("cache: memcached registry: %w", err)
	}
	return records, nil
}

func (s *MemcachedStore) writeRegistry(records []registryRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("cache: memcached registry: %w", err)
	}
	if err := s.client.Set(&memcache.Item{Key: memcachedRegistryKey, Value: raw}); err != nil {
		return fmt.Errorf("cache: memcached registry: %w", err)
	}
	return nil
}

func (s *MemcachedStore) partition(r registryRecord) *memcachedPartition {
	return &memcachedPartition{store: s, name: r.Name, generation: r.Generation}
}

func indexKey(generation string) string {
	return keyPrefix + generation + ":keys"
}

// itemKey hashes the request key; memcached keys are limited to 250 bytes without spaces.
func itemKey(generation, key string) string {
	sum := sha256.Sum256([]byte(key))
	return keyPrefix + generation + ":" + hex.EncodeToString(sum[:])
}

type memcachedPartition struct {
	store      *MemcachedStore
	name       string
	generation string
}

func (p *memcachedPartition) Name() string { return p.name }

func (p *memcachedPartition) Match(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	item, err := p.store.client.Get(itemKey(p.generation, key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: memcached match %s: %w", p.name, err)
	}
	e, err := decodeEntry(item.Value)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (p *memcachedPartition) Put(ctx context.Context, key string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := p.store.client.Set(&memcache.Item{Key: itemKey(p.generation, key), Value: raw}); err != nil {
		return fmt.Errorf("cache: memcached put %s: %w", p.name, err)
	}
	// The entry is stored and matchable; the index only serves Keys.
	if err := p.updateIndex(func(keys []string) []string { return append(removeKey(keys, key), key) }); err != nil {
		p.store.logger.Warn("index update failed", zap.String("partition", p.name), zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (p *memcachedPartition) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := p.store.client.Delete(itemKey(p.generation, key))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return false, fmt.Errorf("cache: memcached delete %s: %w", p.name, err)
	}
	if ierr := p.updateIndex(func(keys []string) []string { return removeKey(keys, key) }); ierr != nil {
		return err == nil, ierr
	}
	return err == nil, nil
}

func (p *memcachedPartition) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	keys, err := p.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// updateIndex rewrites the partition's key index in put order. Once the encoded index
// outgrows indexLimit the oldest keys are evicted along with their items.
func (p *memcachedPartition) updateIndex(mutate func([]string) []string) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	keys, err := p.readIndex()
	if err != nil {
		return err
	}
	raw, evicted, err := encodeIndex(mutate(keys), p.store.indexLimit)
	if err != nil {
		return fmt.Errorf("cache: memcached index %s: %w", p.name, err)
	}
	if err := p.store.client.Set(&memcache.Item{Key: indexKey(p.generation), Value: raw}); err != nil {
		return fmt.Errorf("cache: memcached index %s: %w", p.name, err)
	}
	for _, k := range evicted {
		if err := p.store.client.Delete(itemKey(p.generation, k)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			p.store.logger.Warn("evict entry failed", zap.String("partition", p.name), zap.String("key", k), zap.Error(err))
		}
	}
	if len(evicted) > 0 {
		p.store.logger.Debug("evicted oldest entries", zap.String("partition", p.name), zap.Int("count", len(evicted)))
	}
	return nil
}

// encodeIndex encodes keys, dropping the oldest until the result fits in limit bytes.
func encodeIndex(keys []string, limit int) ([]byte, []string, error) {
	var evicted []string
	for {
		raw, err := json.Marshal(keys)
		if err != nil {
			return nil, nil, err
		}
		if len(raw) <= limit || len(keys) == 0 {
			return raw, evicted, nil
		}
		evicted = append(evicted, keys[0])
		keys = keys[1:]
	}
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// readIndex must be called with store.mu held.
func (p *memcachedPartition) readIndex() ([]string, error) {
	item, err := p.store.client.Get(indexKey(p.generation))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: memcached index %s: %w", p.name, err)
	}
	var keys []string
	if err := json.Unmarshal(item.Value, &keys); err != nil {
		return nil, fmt.Errorf("cache: memcached index %s: %w", p.name, err)
	}
	return keys, nil
}
