package cache

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by a Store after Close.
var ErrClosed = errors.New("cache: store closed")

// Entry is a stored response. Body and Header are owned by the entry; callers
// receive copies from Match.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := Entry{Status: e.Status, StoredAt: e.StoredAt}
	if e.Header != nil {
		out.Header = e.Header.Clone()
	}
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}

// Partition is a named, isolated bucket of stored responses.
// It holds at most one entry per key; Put replaces the prior value.
type Partition interface {
	Name() string
	Match(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Store manages partitions. Match searches every partition in creation order and
// returns the first hit.
type Store interface {
	Open(ctx context.Context, name string) (Partition, error)
	Names(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, name string) (bool, error)
	Match(ctx context.Context, key string) (Entry, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// InMemoryStore implements Store with mutex-guarded maps. Safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
	order      []string
	closed     bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{partitions: make(map[string]*memoryPartition)}
}

// Open returns the named partition, creating it if needed.
func (s *InMemoryStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{name: name, entries: make(map[string]Entry)}
	s.partitions[name] = p
	s.order = append(s.order, name)
	return p, nil
}

// Names lists partitions in creation order.
func (s *InMemoryStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Drop deletes the named partition and all its entries. Reports whether it existed.
func (s *InMemoryStore) Drop(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Match returns the first entry stored under key across partitions in creation order.
func (s *InMemoryStore) Match(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	s.mu.RLock()
	parts := make([]*memoryPartition, 0, len(s.order))
	for _, n := range s.order {
		parts = append(parts, s.partitions[n])
	}
	s.mu.RUnlock()
	for _, p := range parts {
		if e, ok, _ := p.Match(ctx, key); ok {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Ping always succeeds unless the store is closed.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// Close marks the store closed. Existing partitions keep their data.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type memoryPartition struct {
	name    string
	mu      sync.RWMutex
	entries map[string]Entry
}

func (p *memoryPartition) Name() string { return p.name }

func (p *memoryPartition) Match(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	p.mu.RLock()
	e, ok := p.entries[key]
	p.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	return e.Clone(), true, nil
}

func (p *memoryPartition) Put(ctx context.Context, key string, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.entries[key] = e.Clone()
	p.mu.Unlock()
	return nil
}

func (p *memoryPartition) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[key]
	delete(p.entries, key)
	return ok, nil
}

func (p *memoryPartition) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
