package kvbackend_test

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// stubRedis is an in-memory RedisClient.
type stubRedis struct {
	mu    sync.Mutex
	store map[string]string
}

func newStubRedis() *stubRedis {
	return &stubRedis{store: make(map[string]string)}
}

func (c *stubRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if val, ok := c.store[key]; ok {
		cmd.SetVal(val)
		return cmd
	}
	cmd.SetErr(redis.Nil)
	return cmd
}

func (c *stubRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	b, _ := value.([]byte)
	c.store[key] = string(b)
	cmd.SetVal("OK")
	return cmd
}

func (c *stubRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, exists := c.store[key]; exists {
		cmd.SetVal(false)
		return cmd
	}
	b, _ := value.([]byte)
	c.store[key] = string(b)
	cmd.SetVal(true)
	return cmd
}

func (c *stubRedis) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	current := int64(0)
	if existing, ok := c.store[key]; ok {
		parsed, err := strconv.ParseInt(existing, 10, 64)
		if err != nil {
			cmd.SetErr(err)
			return cmd
		}
		current = parsed
	}
	current += value
	c.store[key] = strconv.FormatInt(current, 10)
	cmd.SetVal(current)
	return cmd
}

func (c *stubRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, key := range keys {
		if _, ok := c.store[key]; ok {
			delete(c.store, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (c *stubRedis) Scan(ctx context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewScanCmd(ctx, nil)
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for key := range c.store {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	cmd.SetVal(keys, 0)
	return cmd
}

// stubNATS is an in-memory JetStream key-value bucket.
type stubNATS struct {
	mu      sync.Mutex
	rev     uint64
	entries map[string]*stubNATSEntry
}

func newStubNATS() *stubNATS {
	return &stubNATS{entries: make(map[string]*stubNATSEntry)}
}

func (s *stubNATS) Get(key string) (nats.KeyValueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	if entry.op != nats.KeyValuePut {
		return nil, nats.ErrKeyDeleted
	}
	cp := *entry
	cp.value = bytes.Clone(entry.value)
	return &cp, nil
}

func (s *stubNATS) Put(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value), nil
}

func (s *stubNATS) putLocked(key string, value []byte) uint64 {
	s.rev++
	s.entries[key] = &stubNATSEntry{key: key, value: bytes.Clone(value), revision: s.rev, op: nats.KeyValuePut}
	return s.rev
}

func (s *stubNATS) Create(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && existing.op == nats.KeyValuePut {
		return 0, nats.ErrKeyExists
	}
	return s.putLocked(key, value), nil
}

func (s *stubNATS) Update(key string, value []byte, last uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[key]
	if !ok || existing.op != nats.KeyValuePut {
		return 0, nats.ErrKeyNotFound
	}
	if existing.revision != last {
		return 0, nats.ErrKeyExists
	}
	return s.putLocked(key, value), nil
}

func (s *stubNATS) Delete(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	s.entries[key] = &stubNATSEntry{key: key, revision: s.rev, op: nats.KeyValueDelete}
	return nil
}

func (s *stubNATS) Purge(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *stubNATS) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keysCh := make(chan string, len(s.entries))
	for key, entry := range s.entries {
		if entry.op == nats.KeyValuePut {
			keysCh <- key
		}
	}
	close(keysCh)
	errCh := make(chan error)
	close(errCh)
	return &stubNATSLister{keys: keysCh, errs: errCh}, nil
}

type stubNATSEntry struct {
	key      string
	value    []byte
	revision uint64
	op       nats.KeyValueOp
}

func (e *stubNATSEntry) Bucket() string             { return "records" }
func (e *stubNATSEntry) Key() string                { return e.key }
func (e *stubNATSEntry) Value() []byte              { return e.value }
func (e *stubNATSEntry) Revision() uint64           { return e.revision }
func (e *stubNATSEntry) Created() time.Time         { return time.Time{} }
func (e *stubNATSEntry) Delta() uint64              { return 0 }
func (e *stubNATSEntry) Operation() nats.KeyValueOp { return e.op }

type stubNATSLister struct {
	keys chan string
	errs chan error
}

func (l *stubNATSLister) Keys() <-chan string { return l.keys }
func (l *stubNATSLister) Error() <-chan error { return l.errs }
func (l *stubNATSLister) Stop() error         { return nil }

// stubDynamo is an in-memory DynamoAPI honouring the store's two
// condition expressions.
type stubDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	created bool
}

func newStubDynamo() *stubDynamo {
	return &stubDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func dynamoKey(m map[string]types.AttributeValue) string {
	return m["k"].(*types.AttributeValueMemberS).Value
}

func (d *stubDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.items[dynamoKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (d *stubDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := dynamoKey(in.Item)
	existing, exists := d.items[key]
	if in.ConditionExpression != nil {
		switch *in.ConditionExpression {
		case "attribute_not_exists(k)":
			if exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "v = :old":
			old := in.ExpressionAttributeValues[":old"].(*types.AttributeValueMemberB).Value
			if !exists || !bytes.Equal(existing["v"].(*types.AttributeValueMemberB).Value, old) {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	d.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (d *stubDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, dynamoKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (d *stubDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, writes := range in.RequestItems {
		for _, wr := range writes {
			if dr := wr.DeleteRequest; dr != nil {
				delete(d.items, dynamoKey(dr.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (d *stubDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var items []map[string]types.AttributeValue
	for k := range d.items {
		items = append(items, map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: k}})
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func (d *stubDynamo) CreateTable(context.Context, *dynamodb.CreateTableInput, ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (d *stubDynamo) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.created {
		return nil, &types.ResourceNotFoundException{}
	}
	return &dynamodb.DescribeTableOutput{}, nil
}
