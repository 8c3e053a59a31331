package kvbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/goforj/optimistic"
)

func TestWrappedStoreCompressesAndSeals(t *testing.T) {
	ctx := context.Background()
	inner := newMemoryStore()
	key := bytes.Repeat([]byte("k"), 32)
	store, err := wrapStore(inner, StoreConfig{Compression: CompressionGzip, EncryptionKey: key})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	value := bytes.Repeat([]byte(`{"name":"Ada"}`), 20)
	if err := store.Set(ctx, "/people/1", value); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, _, _ := inner.Get(ctx, "/people/1")
	if !bytes.HasPrefix(raw, sealMagic) {
		t.Fatalf("expected sealed value at rest, got %q", raw)
	}
	got, ok, err := store.Get(ctx, "/people/1")
	if err != nil || !ok || !bytes.Equal(got, value) {
		t.Fatalf("round trip failed: ok=%v err=%v", ok, err)
	}

	n, err := store.Increment(ctx, "/people#seq", 3)
	if err != nil || n != 3 {
		t.Fatalf("expected counters to pass through, got %d err=%v", n, err)
	}
}

func TestShapingStoreLimitsSize(t *testing.T) {
	store, err := newShapingStore(newMemoryStore(), CompressionNone, 4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.Set(context.Background(), "k", []byte("too long")); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected size error, got %v", err)
	}
	if _, err := newShapingStore(newMemoryStore(), "snappy", 0); !errors.Is(err, ErrUnsupportedCodec) {
		t.Fatalf("expected unsupported codec, got %v", err)
	}
}

func TestEncryptingStoreRejectsBadKeyAndTamper(t *testing.T) {
	if _, err := newEncryptingStore(newMemoryStore(), []byte("short")); !errors.Is(err, ErrEncryptionKey) {
		t.Fatalf("expected key error, got %v", err)
	}
	ctx := context.Background()
	inner := newMemoryStore()
	store, err := newEncryptingStore(inner, bytes.Repeat([]byte("k"), 16))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.Set(ctx, "/notes/1", []byte(`{"text":"secret"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, _, _ := inner.Get(ctx, "/notes/1")

	moved := append([]byte(nil), raw...)
	_ = inner.Set(ctx, "/notes/2", moved)
	if _, _, err := store.Get(ctx, "/notes/2"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected a body copied to another key to fail, got %v", err)
	}

	raw[len(raw)-1] ^= 0xff
	_ = inner.Set(ctx, "/notes/1", raw)
	if _, _, err := store.Get(ctx, "/notes/1"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected decrypt failure, got %v", err)
	}
}

func TestWrappedStoreKeepsIndexesReadable(t *testing.T) {
	ctx := context.Background()
	inner := newMemoryStore()
	store, err := wrapStore(inner, StoreConfig{Compression: CompressionGzip, EncryptionKey: bytes.Repeat([]byte("k"), 16)})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	b := New(store)
	if _, err := b.Do(ctx, optimistic.Request{
		Method: optimistic.MethodPost, URL: "/notes", Operation: optimistic.OpCreate,
		Body: map[string]any{"text": "hello"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	index, ok, _ := inner.Get(ctx, "/notes")
	if !ok || string(index) != `["1"]` {
		t.Fatalf("expected plain index at rest, got %q", index)
	}
	record, ok, _ := inner.Get(ctx, "/notes/1")
	if !ok || !bytes.HasPrefix(record, sealMagic) || bytes.Contains(record, []byte("hello")) {
		t.Fatalf("expected sealed record at rest, got %q", record)
	}

	got, err := b.Do(ctx, optimistic.Request{Method: optimistic.MethodGet, URL: "/notes", Operation: optimistic.OpGetAll})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	raw, _ := got.(json.RawMessage)
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil || len(items) != 1 || items[0]["text"] != "hello" {
		t.Fatalf("expected one readable record, got %s (%v)", raw, err)
	}
}
