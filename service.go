package optimistic

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Service owns the object cache, expiry bookkeeping, the event bus and the
// model registry. Models registered against the same Service share one cache.
// A Service is safe for concurrent use.
type Service struct {
	// mu guards the store, every cached entry, registered scopes and lists.
	mu         sync.RWMutex
	store      *keyedStore
	expiry     *expiryManager
	events     *bus
	logger     *slog.Logger
	now        func() time.Time
	defaults   ModelConfig
	registered map[reflect.Type]string
}

// New builds a Service.
func New(opts ...Option) *Service {
	s := &Service{
		store:      newKeyedStore(),
		events:     &bus{},
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
		defaults:   defaultModelConfig(),
		registered: make(map[reflect.Type]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.expiry = newExpiryManager(s.Now, func() { s.Sweep() })
	return s
}

// Now returns the current time from the configured clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Defaults merges the non-zero fields of cfg into the defaults applied to
// models registered afterwards.
func (s *Service) Defaults(cfg ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, err := mergeModelConfig(s.defaults, cfg)
	if err != nil {
		return configError("merge defaults: %v", err)
	}
	s.defaults = merged
	return nil
}

func (s *Service) modelDefaults() ModelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// Lookup returns the entry cached under key.
func (s *Service) Lookup(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(key)
}

// Len returns the number of cached keys.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.count()
}

// Touch refreshes the expiry clock of key.
func (s *Service) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry.touch(key)
}

// Clear empties the cache and drops all expiry records.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.clear()
	s.expiry.reset()
	s.logger.Debug("cache cleared")
}

// Sweep evicts every expired key and returns how many were removed.
// It runs periodically while keys with a TTL exist.
func (s *Service) Sweep() int {
	s.mu.Lock()
	expired := s.expiry.sweep()
	for _, key := range expired {
		s.store.delete(key)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, key := range expired {
		s.logger.Debug("cache key expired", "key", key)
		s.events.publish(ctx, Event{Kind: EventEvicted, Key: key})
	}
	return len(expired)
}

// Close stops the sweep goroutine. The cache stays readable.
func (s *Service) Close() error {
	s.expiry.close()
	return nil
}

// Subscribe registers l for events on topic, a cache key or TopicAll.
// The returned function unsubscribes.
func (s *Service) Subscribe(topic string, l Listener) func() {
	return s.events.subscribe(topic, l)
}

func (s *Service) emit(ctx context.Context, kind EventKind, key string, value any, err error) {
	s.events.publish(ctx, Event{Kind: kind, Key: key, Value: value, Err: err})
}

// lookupLocked reads key, evicting it first when it outlived its TTL.
func (s *Service) lookupLocked(key string) (any, bool) {
	if s.expiry.expired(key) {
		s.store.delete(key)
		s.logger.Debug("cache key expired on read", "key", key)
		return nil, false
	}
	return s.store.get(key)
}

// txn batches cache writes under the service lock; its events are published
// once the lock is released.
type txn struct {
	s      *Service
	events []Event
}

func (s *Service) commit(ctx context.Context, fn func(tx *txn) error) error {
	s.mu.Lock()
	tx := &txn{s: s}
	err := fn(tx)
	s.mu.Unlock()
	for _, ev := range tx.events {
		s.events.publish(ctx, ev)
	}
	return err
}

func (tx *txn) get(key string) (any, bool) {
	return tx.s.lookupLocked(key)
}

// put merges data into key, refreshes its expiry and queues a cached event.
func (tx *txn) put(key string, data any, ttl time.Duration) any {
	v := tx.s.store.put(key, data)
	tx.s.expiry.register(key, ttl)
	tx.notify(key, v)
	return v
}

func (tx *txn) remove(key string) {
	tx.s.store.delete(key)
	tx.s.expiry.forget(key)
	tx.events = append(tx.events, Event{Kind: EventRemoved, Key: key})
}

func (tx *txn) notify(key string, v any) {
	tx.events = append(tx.events, Event{Kind: EventCached, Key: key, Value: v})
}

// collectionKeys returns the cached collection keys of namespace.
func (tx *txn) collectionKeys(namespace string) []string {
	var out []string
	for _, key := range tx.s.store.keys() {
		if isCollectionKey(key, namespace) {
			out = append(out, key)
		}
	}
	return out
}
