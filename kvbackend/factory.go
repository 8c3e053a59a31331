package kvbackend

import (
	"context"
	"errors"
	"fmt"
)

// NewStore returns a concrete store for the requested driver. A driver that
// fails to initialize yields a store that reports the failure on every call.
//
// Example: sqlite store
//
//	store := kvbackend.NewStore(ctx, kvbackend.StoreConfig{
//		Driver:        kvbackend.DriverSQL,
//		SQLDriverName: "sqlite",
//		SQLDSN:        "file:records.db",
//	})
func NewStore(ctx context.Context, cfg StoreConfig) Store {
	cfg = cfg.withDefaults()
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case DriverMemory:
		store = newMemoryStore()
	case DriverFile:
		store, err = newFileStore(cfg.FileDir)
	case DriverRedis:
		store = newRedisStore(cfg.RedisClient, cfg.Prefix)
	case DriverNATS:
		store = newNATSStore(cfg.NATSKeyValue, cfg.Prefix)
	case DriverSQL:
		store, err = newSQLStore(ctx, cfg)
	case DriverDynamo:
		store, err = newDynamoStore(ctx, cfg)
	default:
		err = errors.New("unknown driver")
	}
	if err == nil {
		store, err = wrapStore(store, cfg)
	}
	if err != nil {
		return &errorStore{driver: cfg.Driver, err: fmt.Errorf("kvbackend: %s store: %w", cfg.Driver, err)}
	}
	return store
}

// wrapStore layers encryption under compression, so bodies are compressed
// before they are sealed.
func wrapStore(store Store, cfg StoreConfig) (Store, error) {
	store, err := newEncryptingStore(store, cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return newShapingStore(store, cfg.Compression, cfg.MaxValueBytes)
}

// NewStoreWith builds a store using a driver and a set of functional options.
//
// Example: redis store
//
//	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	store := kvbackend.NewStoreWith(ctx, kvbackend.DriverRedis,
//		kvbackend.WithRedisClient(client),
//		kvbackend.WithPrefix("app"),
//	)
func NewStoreWith(ctx context.Context, driver Driver, opts ...StoreOption) Store {
	cfg := StoreConfig{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return NewStore(ctx, cfg)
}

// StoreErr returns the construction error of a store built by NewStore.
func StoreErr(s Store) error {
	if es, ok := s.(*errorStore); ok {
		return es.err
	}
	return nil
}
