package kvbackend

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
)

// Compression selects how record bodies are compressed at rest.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

var (
	compressMagic = []byte("CMP1")

	ErrValueTooLarge      = errors.New("kvbackend: value exceeds max size")
	ErrUnsupportedCodec   = errors.New("kvbackend: unsupported compression codec")
	ErrCorruptCompression = errors.New("kvbackend: corrupt compressed payload")
)

// shapingStore compresses record bodies and size-limits every value on top
// of any Store. Collection indexes are stored as written; counters pass
// through untouched.
type shapingStore struct {
	inner Store
	codec Compression
	max   int
}

func newShapingStore(inner Store, codec Compression, max int) (Store, error) {
	if codec == "" {
		codec = CompressionNone
	}
	if codec != CompressionNone && codec != CompressionGzip {
		return nil, ErrUnsupportedCodec
	}
	if codec == CompressionNone && max <= 0 {
		return inner, nil
	}
	return &shapingStore{inner: inner, codec: codec, max: max}, nil
}

func (s *shapingStore) Driver() Driver { return s.inner.Driver() }

func (s *shapingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	decoded, err := decodeValue(body)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func (s *shapingStore) Set(ctx context.Context, key string, value []byte) error {
	encoded, err := encodeValue(s.codec, s.max, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, encoded)
}

func (s *shapingStore) Add(ctx context.Context, key string, value []byte) (bool, error) {
	encoded, err := encodeValue(s.codec, s.max, value)
	if err != nil {
		return false, err
	}
	return s.inner.Add(ctx, key, encoded)
}

func (s *shapingStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.inner.Increment(ctx, key, delta)
}

func (s *shapingStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *shapingStore) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

func encodeValue(codec Compression, max int, value []byte) ([]byte, error) {
	if max > 0 && len(value) > max {
		return nil, ErrValueTooLarge
	}
	if codec != CompressionGzip || isIndexBody(value) {
		return value, nil
	}
	var buf bytes.Buffer
	buf.Write(compressMagic)
	buf.WriteByte('g')
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if _, err := zw.Write(value); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeValue passes through values written without compression.
func decodeValue(in []byte) ([]byte, error) {
	if len(in) < len(compressMagic)+1 || !bytes.Equal(in[:len(compressMagic)], compressMagic) {
		return in, nil
	}
	if in[len(compressMagic)] != 'g' {
		return nil, ErrUnsupportedCodec
	}
	gr, err := gzip.NewReader(bytes.NewReader(in[len(compressMagic)+1:]))
	if err != nil {
		return nil, ErrCorruptCompression
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, ErrCorruptCompression
	}
	return out, nil
}
