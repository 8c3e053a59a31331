package kvbackend

import "context"

// Store is the key/value surface the CRUD backend persists records through.
// Values never expire.
type Store interface {
	Driver() Driver
	// Get returns a copy of the value stored at key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Add stores value only when key is absent and reports whether it did.
	Add(ctx context.Context, key string, value []byte) (bool, error)
	// Increment adds delta to the integer at key, treating a missing key as 0.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, key string) error
	// Flush removes every key owned by the store.
	Flush(ctx context.Context) error
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
