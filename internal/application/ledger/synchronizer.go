package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache is a client-held view of ledger state that can be patched from a
// diff. Apply reports whether any entry changed.
type Cache interface {
	Name() string
	Apply(diff *ledger.LedgerDiff) bool
}

// Notification is delivered once per touched cache per applied diff
type Notification struct {
	Cache    string             `json:"cache"`
	DiffID   uuid.UUID          `json:"diff_id"`
	TeamID   uuid.UUID          `json:"team_id"`
	Op       string             `json:"op"`
	Inverted bool               `json:"inverted"`
	Keys     []ledger.EntityKey `json:"keys"`
}

// NotifyFunc receives cache notifications. It runs synchronously inside
// ApplyDiff and must not call back into the engine.
type NotifyFunc func(Notification)

type subscriber struct {
	id    uint64
	cache string
	fn    NotifyFunc
}

// CacheMetrics counts cache patches per cache and op
type CacheMetrics interface {
	RecordCachePatch(ctx context.Context, cache, op string, inverted bool)
}

// SynchronizerOption configures a Synchronizer
type SynchronizerOption func(*Synchronizer)

// WithCacheMetrics reports every cache that changed under a diff to m
func WithCacheMetrics(m CacheMetrics) SynchronizerOption {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// Synchronizer owns the cache registry and routes every committed diff to
// each registered cache. It implements ledger.DiffSink.
type Synchronizer struct {
	logger  *zap.Logger
	metrics CacheMetrics

	mu          sync.RWMutex
	caches      []Cache
	byName      map[string]Cache
	subscribers []subscriber
	nextID      uint64
}

// NewSynchronizer creates an empty synchronizer
func NewSynchronizer(logger *zap.Logger, opts ...SynchronizerOption) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{
		logger: logger,
		byName: make(map[string]Cache),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a cache. Names are unique.
func (s *Synchronizer) Register(c Cache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[c.Name()]; exists {
		return shared.NewDomainError("CACHE_ALREADY_REGISTERED", fmt.Sprintf("Cache %s is already registered", c.Name()))
	}
	s.caches = append(s.caches, c)
	s.byName[c.Name()] = c
	s.logger.Debug("Cache registered", zap.String("cache", c.Name()))
	return nil
}

// Unregister removes a cache and reports whether it was registered
func (s *Synchronizer) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		return false
	}
	delete(s.byName, name)
	for i, c := range s.caches {
		if c.Name() == name {
			s.caches = append(s.caches[:i:i], s.caches[i+1:]...)
			break
		}
	}
	return true
}

// Cache returns a registered cache by name
func (s *Synchronizer) Cache(name string) (Cache, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	return c, ok
}

// Names returns the registered cache names in registration order
func (s *Synchronizer) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.caches))
	for i, c := range s.caches {
		names[i] = c.Name()
	}
	return names
}

// Subscribe registers fn for notifications of one cache, or of every cache
// when cacheName is empty. The returned function cancels the subscription.
func (s *Synchronizer) Subscribe(cacheName string, fn NotifyFunc) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, cache: cacheName, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// ApplyDiff patches every registered cache with diff, in registration order,
// and emits exactly one notification per cache that changed.
func (s *Synchronizer) ApplyDiff(diff *ledger.LedgerDiff) {
	if diff == nil {
		return
	}
	s.mu.RLock()
	caches := append([]Cache(nil), s.caches...)
	subs := append([]subscriber(nil), s.subscribers...)
	s.mu.RUnlock()

	keys := diff.Keys()
	for _, c := range caches {
		if !c.Apply(diff) {
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordCachePatch(context.Background(), c.Name(), diff.Op, diff.Inverted)
		}
		n := Notification{
			Cache:    c.Name(),
			DiffID:   diff.ID,
			TeamID:   diff.TeamID,
			Op:       diff.Op,
			Inverted: diff.Inverted,
			Keys:     keys,
		}
		for _, sub := range subs {
			if sub.cache == "" || sub.cache == n.Cache {
				s.notify(sub, n)
			}
		}
	}
}

// Invert returns the structural inverse of diff
func (s *Synchronizer) Invert(diff *ledger.LedgerDiff) *ledger.LedgerDiff {
	return diff.Invert()
}

// ApplyInverse patches every cache with the inverse of diff and returns it.
// The store is not touched; use Engine.Revert to roll back both.
func (s *Synchronizer) ApplyInverse(diff *ledger.LedgerDiff) *ledger.LedgerDiff {
	inv := s.Invert(diff)
	s.ApplyDiff(inv)
	return inv
}

func (s *Synchronizer) notify(sub subscriber, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Cache subscriber panicked",
				zap.String("cache", n.Cache),
				zap.String("diff_id", n.DiffID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(n)
}
