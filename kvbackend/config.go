package kvbackend

import (
	"os"
	"path/filepath"
)

const defaultPrefix = "optimistic"

func defaultFileDir() string {
	return filepath.Join(os.TempDir(), "optimistic-kv")
}

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	Driver Driver

	// Prefix namespaces keys on shared backends (redis, nats, sql, dynamodb).
	Prefix string

	// FileDir controls where the file driver writes records.
	FileDir string

	// RedisClient is required when DriverRedis is used.
	RedisClient RedisClient

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue

	// SQLDriverName is one of sqlite, pgx, postgres or mysql.
	SQLDriverName string
	SQLDSN        string
	// SQLTable defaults to kv_records.
	SQLTable string

	// DynamoClient overrides the client built from the endpoint and region.
	DynamoClient   DynamoAPI
	DynamoEndpoint string
	DynamoRegion   string
	// DynamoTable defaults to kv_records.
	DynamoTable string

	// Compression compresses record bodies at rest.
	Compression Compression
	// MaxValueBytes rejects record bodies above this size (0 disables).
	MaxValueBytes int
	// EncryptionKey enables AES-GCM sealing of record bodies (16, 24 or 32 bytes).
	EncryptionKey []byte
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.FileDir == "" {
		c.FileDir = defaultFileDir()
	}
	if c.SQLTable == "" {
		c.SQLTable = "kv_records"
	}
	if c.DynamoTable == "" {
		c.DynamoTable = "kv_records"
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = "us-east-1"
	}
	return c
}
