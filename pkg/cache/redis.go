package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const layerRedis = "redis"

// DefaultRedisNamespace prefixes every key written by RedisStorage.
const DefaultRedisNamespace = "assetcache"

// RedisStorage keeps partitions in Redis.
//
// Layout:
//
//	<ns>:partitions         ZSET  partition name -> creation time (ns)
//	<ns>:partition:<name>   HASH  "GET <url>"    -> JSON Entry
type RedisStorage struct {
	redis     *redis.Client
	namespace string
}

// NewRedisStorage creates a storage with Redis backend.
func NewRedisStorage(redisClient *redis.Client, namespace string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisStorage{
		redis:     redisClient,
		namespace: namespace,
	}
}

func (s *RedisStorage) indexKey() string {
	return s.namespace + ":partitions"
}

func (s *RedisStorage) partitionKey(name string) string {
	return s.namespace + ":partition:" + name
}

// Open returns the named partition, creating it if absent.
func (s *RedisStorage) Open(ctx context.Context, name string) (Partition, error) {
	member := redis.Z{Score: float64(time.Now().UnixNano()), Member: name}
	if err := s.redis.ZAddNX(ctx, s.indexKey(), member).Err(); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "open").Inc()
		return nil, fmt.Errorf("redis zadd: %w", err)
	}
	return &redisPartition{storage: s, name: name}, nil
}

// Has reports whether the named partition exists.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.redis.ZScore(ctx, s.indexKey(), name).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "has").Inc()
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return true, nil
}

// Delete removes the partition hash and its index entry in one transaction.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.partitionKey(name))
		removed = pipe.ZRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "delete").Inc()
		return false, fmt.Errorf("redis delete partition: %w", err)
	}
	if removed.Val() == 0 {
		return false, nil
	}
	PartitionsDeleted.WithLabelValues(layerRedis).Inc()
	return true, nil
}

// Keys lists partition names in creation order.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.redis.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "keys").Inc()
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return names, nil
}

func (s *RedisStorage) lookup(ctx context.Context, name string) (Partition, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return &redisPartition{storage: s, name: name}, nil
}

// Match searches all partitions in creation order.
func (s *RedisStorage) Match(ctx context.Context, req *Request) (*Response, error) {
	return matchInOrder(ctx, s, req)
}

type redisPartition struct {
	storage *RedisStorage
	name    string
}

func (p *redisPartition) Name() string {
	return p.name
}

func (p *redisPartition) Match(ctx context.Context, req *Request) (*Response, error) {
	data, err := p.storage.redis.HGet(ctx, p.storage.partitionKey(p.name), KeyFor(req).String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(layerRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(layerRedis, "match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "match").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues(layerRedis).Inc()
	return EntryToResponse(entry), nil
}

func (p *redisPartition) Put(ctx context.Context, req *Request, resp *Response) error {
	return p.PutAll(ctx, []Pair{{Request: req, Response: resp}})
}

// PutAll writes the batch inside MULTI/EXEC so either every field is set or none.
func (p *redisPartition) PutAll(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	fields := make([]interface{}, 0, len(pairs)*2)
	for _, pair := range pairs {
		key, entry, err := snapshot(pair.Request, pair.Response)
		if err != nil {
			CacheErrors.WithLabelValues(layerRedis, "put").Inc()
			return err
		}
		data, err := encodeEntry(entry)
		if err != nil {
			CacheErrors.WithLabelValues(layerRedis, "put").Inc()
			return err
		}
		fields = append(fields, key.String(), data)
	}

	member := redis.Z{Score: float64(time.Now().UnixNano()), Member: p.name}
	_, err := p.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, p.storage.indexKey(), member)
		pipe.HSet(ctx, p.storage.partitionKey(p.name), fields...)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	CacheWrites.WithLabelValues(layerRedis).Add(float64(len(pairs)))
	return nil
}

func (p *redisPartition) Delete(ctx context.Context, req *Request) (bool, error) {
	n, err := p.storage.redis.HDel(ctx, p.storage.partitionKey(p.name), KeyFor(req).String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return n > 0, nil
}

func (p *redisPartition) Keys(ctx context.Context) ([]Key, error) {
	fields, err := p.storage.redis.HKeys(ctx, p.storage.partitionKey(p.name)).Result()
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "keys").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}

	keys := make([]Key, 0, len(fields))
	for _, f := range fields {
		key, err := ParseKey(f)
		if err != nil {
			return nil, errors.Join(ErrInvalidEntry, err)
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].URL < keys[j].URL })
	return keys, nil
}
