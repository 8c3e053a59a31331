package kvbackend_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goforj/optimistic/kvbackend"
	"github.com/goforj/optimistic/kvbackend/kvtest"
)

func sqliteStore(t *testing.T) kvbackend.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "records.db")
	return kvbackend.NewStoreWith(context.Background(), kvbackend.DriverSQL,
		kvbackend.WithSQL("sqlite", dsn, "kv_records"),
		kvbackend.WithPrefix("test"),
	)
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(t *testing.T) kvbackend.Store{
		"memory": func(*testing.T) kvbackend.Store {
			return kvbackend.NewStore(ctx, kvbackend.StoreConfig{})
		},
		"file": func(t *testing.T) kvbackend.Store {
			return kvbackend.NewStoreWith(ctx, kvbackend.DriverFile, kvbackend.WithFileDir(t.TempDir()))
		},
		"redis": func(*testing.T) kvbackend.Store {
			return kvbackend.NewStoreWith(ctx, kvbackend.DriverRedis, kvbackend.WithRedisClient(newStubRedis()))
		},
		"nats": func(*testing.T) kvbackend.Store {
			return kvbackend.NewStoreWith(ctx, kvbackend.DriverNATS, kvbackend.WithNATSKeyValue(newStubNATS()))
		},
		"sql": sqliteStore,
		"dynamodb": func(*testing.T) kvbackend.Store {
			return kvbackend.NewStoreWith(ctx, kvbackend.DriverDynamo, kvbackend.WithDynamoClient(newStubDynamo()))
		},
	}
	wrapped := func(t *testing.T) kvbackend.Store {
		return kvbackend.NewStoreWith(ctx, kvbackend.DriverFile,
			kvbackend.WithFileDir(t.TempDir()),
			kvbackend.WithCompression(kvbackend.CompressionGzip),
			kvbackend.WithEncryptionKey([]byte("0123456789abcdef")),
			kvbackend.WithMaxValueBytes(1<<20),
		)
	}
	t.Run("file sealed", func(t *testing.T) {
		kvtest.RunStoreContract(t, wrapped(t), kvtest.Options{})
	})
	for name, mk := range cases {
		t.Run(name, func(t *testing.T) {
			store := mk(t)
			if string(store.Driver()) != name {
				t.Fatalf("expected driver %s, got %s", name, store.Driver())
			}
			kvtest.RunStoreContract(t, store, kvtest.Options{})
		})
	}
}

func TestFlushKeepsOtherPrefixes(t *testing.T) {
	ctx := context.Background()
	client := newStubRedis()
	a := kvbackend.NewStoreWith(ctx, kvbackend.DriverRedis, kvbackend.WithRedisClient(client), kvbackend.WithPrefix("a"))
	b := kvbackend.NewStoreWith(ctx, kvbackend.DriverRedis, kvbackend.WithRedisClient(client), kvbackend.WithPrefix("b"))
	if err := a.Set(ctx, "k", []byte("1")); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := b.Set(ctx, "k", []byte("2")); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("flush a: %v", err)
	}
	if _, ok, _ := a.Get(ctx, "k"); ok {
		t.Fatalf("expected a flushed")
	}
	if body, ok, _ := b.Get(ctx, "k"); !ok || string(body) != "2" {
		t.Fatalf("expected b untouched, got ok=%v body=%q", ok, string(body))
	}
}

func TestNewStoreReportsConstructionFailure(t *testing.T) {
	ctx := context.Background()
	cases := map[string]kvbackend.StoreConfig{
		"unknown":      {Driver: "bogus"},
		"sql no dsn":   {Driver: kvbackend.DriverSQL},
		"sql bad name": {Driver: kvbackend.DriverSQL, SQLDriverName: "sqlite", SQLDSN: "file::memory:", SQLTable: "bad-name"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			store := kvbackend.NewStore(ctx, cfg)
			err := kvbackend.StoreErr(store)
			if err == nil {
				t.Fatalf("expected construction error")
			}
			if _, _, getErr := store.Get(ctx, "k"); !errors.Is(getErr, err) {
				t.Fatalf("expected get to surface construction error, got %v", getErr)
			}
			if store.Driver() != cfg.Driver {
				t.Fatalf("expected driver %q kept, got %q", cfg.Driver, store.Driver())
			}
		})
	}
}

func TestNilClientsError(t *testing.T) {
	ctx := context.Background()
	for _, store := range []kvbackend.Store{
		kvbackend.NewStoreWith(ctx, kvbackend.DriverRedis),
		kvbackend.NewStoreWith(ctx, kvbackend.DriverNATS),
	} {
		if _, _, err := store.Get(ctx, "k"); err == nil {
			t.Fatalf("%s: expected get error without client", store.Driver())
		}
		if err := store.Set(ctx, "k", []byte("v")); err == nil {
			t.Fatalf("%s: expected set error without client", store.Driver())
		}
		if _, err := store.Increment(ctx, "k", 1); err == nil {
			t.Fatalf("%s: expected increment error without client", store.Driver())
		}
		if err := store.Flush(ctx); err == nil {
			t.Fatalf("%s: expected flush error without client", store.Driver())
		}
	}
}
