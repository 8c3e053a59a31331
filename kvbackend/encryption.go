package kvbackend

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	sealMagic = []byte("KVE1")

	ErrEncryptionKey = errors.New("kvbackend: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed = errors.New("kvbackend: decrypt failed")
)

// sealingStore encrypts record bodies with AES-GCM, using the record key as
// additional data so a body copied to another key fails to open. Collection
// indexes and counters stay readable: the first so the id layout of a store
// can be inspected and repaired without the key, the second so drivers can
// increment natively.
type sealingStore struct {
	inner Store
	aead  cipher.AEAD
}

func newEncryptingStore(inner Store, key []byte) (Store, error) {
	if len(key) == 0 {
		return inner, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kvbackend: gcm: %w", err)
	}
	return &sealingStore{inner: inner, aead: aead}, nil
}

// isIndexBody reports whether value is a collection index, a JSON array of ids.
func isIndexBody(value []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(value), []byte("["))
}

func (s *sealingStore) Driver() Driver { return s.inner.Driver() }

func (s *sealingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	plain, err := s.open(key, body)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

func (s *sealingStore) Set(ctx context.Context, key string, value []byte) error {
	body, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, body)
}

func (s *sealingStore) Add(ctx context.Context, key string, value []byte) (bool, error) {
	body, err := s.seal(key, value)
	if err != nil {
		return false, err
	}
	return s.inner.Add(ctx, key, body)
}

func (s *sealingStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.inner.Increment(ctx, key, delta)
}

func (s *sealingStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *sealingStore) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

// seal lays a record out as magic, nonce, ciphertext.
func (s *sealingStore) seal(key string, value []byte) ([]byte, error) {
	if isIndexBody(value) {
		return value, nil
	}
	n := s.aead.NonceSize()
	out := make([]byte, len(sealMagic)+n, len(sealMagic)+n+len(value)+s.aead.Overhead())
	copy(out, sealMagic)
	nonce := out[len(sealMagic):]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("kvbackend: nonce: %w", err)
	}
	return s.aead.Seal(out, nonce, value, []byte(key)), nil
}

// open passes through bodies that were never sealed.
func (s *sealingStore) open(key string, body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, sealMagic) {
		return body, nil
	}
	rest := body[len(sealMagic):]
	n := s.aead.NonceSize()
	if len(rest) < n {
		return nil, ErrDecryptFailed
	}
	plain, err := s.aead.Open(nil, rest[:n], rest[n:], []byte(key))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
