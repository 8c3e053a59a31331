// Package kvtest provides a reusable contract suite for kvbackend.Store
// implementations.
//
//	func TestRedisStoreContract(t *testing.T) {
//		store := kvbackend.NewStoreWith(ctx, kvbackend.DriverRedis,
//			kvbackend.WithRedisClient(client))
//		kvtest.RunStoreContract(t, store, kvtest.Options{})
//	}
package kvtest

import (
	"context"
	"strings"
	"testing"

	"github.com/goforj/optimistic/kvbackend"
)

// Options configures shared store contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// SkipCloneCheck disables the "get returns a copy" assertion.
	SkipCloneCheck bool
	// SkipFlush disables the flush assertion for drivers where it is expensive.
	SkipFlush bool
}

// RunStoreContract runs a driver-agnostic store contract suite.
func RunStoreContract(t *testing.T, store kvbackend.Store, opts Options) {
	t.Helper()

	if err := kvbackend.StoreErr(store); err != nil {
		t.Fatalf("store construction failed: %v", err)
	}
	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ctx := context.Background()
	key := func(s string) string {
		return sanitize(caseName) + "/" + s
	}

	// Set/Get round trip.
	if err := store.Set(ctx, key("alpha"), []byte(`{"id":1}`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, key("alpha"))
	if err != nil || !ok || string(body) != `{"id":1}` {
		t.Fatalf("unexpected get result: ok=%v body=%q err=%v", ok, string(body), err)
	}
	if !opts.SkipCloneCheck {
		body[0] = 'X'
		again, ok, err := store.Get(ctx, key("alpha"))
		if err != nil || !ok || string(again) != `{"id":1}` {
			t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok, string(again), err)
		}
	}

	// Overwrite.
	if err := store.Set(ctx, key("alpha"), []byte(`{"id":2}`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if body, _, _ := store.Get(ctx, key("alpha")); string(body) != `{"id":2}` {
		t.Fatalf("expected overwritten value, got %q", string(body))
	}

	// Miss.
	if _, ok, err := store.Get(ctx, key("missing")); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	// Add only when absent.
	created, err := store.Add(ctx, key("once"), []byte("first"))
	if err != nil || !created {
		t.Fatalf("expected first add to create, got created=%v err=%v", created, err)
	}
	created, err = store.Add(ctx, key("once"), []byte("second"))
	if err != nil || created {
		t.Fatalf("expected second add to be refused, got created=%v err=%v", created, err)
	}
	if body, _, _ := store.Get(ctx, key("once")); string(body) != "first" {
		t.Fatalf("expected add to keep first value, got %q", string(body))
	}

	// Counters.
	n, err := store.Increment(ctx, key("seq"), 1)
	if err != nil || n != 1 {
		t.Fatalf("expected first increment 1, got %d err=%v", n, err)
	}
	n, err = store.Increment(ctx, key("seq"), 5)
	if err != nil || n != 6 {
		t.Fatalf("expected increment to 6, got %d err=%v", n, err)
	}
	n, err = store.Increment(ctx, key("seq"), -2)
	if err != nil || n != 4 {
		t.Fatalf("expected negative delta to 4, got %d err=%v", n, err)
	}
	if _, err := store.Increment(ctx, key("alpha"), 1); err == nil {
		t.Fatalf("expected increment of non-numeric value to fail")
	}

	// Delete, including a missing key.
	if err := store.Delete(ctx, key("alpha")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, key("alpha")); ok {
		t.Fatalf("expected alpha deleted")
	}
	if err := store.Delete(ctx, key("never")); err != nil {
		t.Fatalf("delete of missing key failed: %v", err)
	}
	created, err = store.Add(ctx, key("alpha"), []byte("reborn"))
	if err != nil || !created {
		t.Fatalf("expected add after delete to create, got created=%v err=%v", created, err)
	}

	if opts.SkipFlush {
		return
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	for _, k := range []string{"alpha", "once", "seq"} {
		if _, ok, _ := store.Get(ctx, key(k)); ok {
			t.Fatalf("expected %s flushed", k)
		}
	}
}

func sanitize(name string) string {
	return strings.NewReplacer(" ", "_", "/", "_", ":", "_").Replace(name)
}
