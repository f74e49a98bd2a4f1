// Package redisstore implements persist.Adapter on Redis.
//
// Conditional primitives run as Lua scripts so the compare and the write are a
// single atomic step on the server, including on clustered deployments where
// every script touches exactly one key.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccount/persist"
	"github.com/redis/go-redis/v9"
)

var compareAndDeleteLua = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and cur == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// ARGV[1] = "1" when the key must be absent, ARGV[2] expected, ARGV[3] value, ARGV[4] ttl ms.
var compareAndSwapLua = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if ARGV[1] == "1" then
	if cur then
		return 0
	end
elseif (not cur) or cur ~= ARGV[2] then
	return 0
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call("SET", KEYS[1], ARGV[3], "PX", ttl)
else
	redis.call("SET", KEYS[1], ARGV[3])
end
return 1
`)

// Store is a Redis-backed persist.Adapter.
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	scanSize int64
}

// New returns a Store namespacing every key under prefix (may be empty).
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:    client,
		prefix:   prefix,
		scanSize: 256,
	}
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", persist.ErrUnavailable, err)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persist.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return raw, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteLua.Run(ctx, s.redis, []string{s.key(key)}, expected).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	mustBeAbsent := "0"
	if expected == nil {
		mustBeAbsent = "1"
		expected = []byte{}
	}
	n, err := compareAndSwapLua.Run(
		ctx,
		s.redis,
		[]string{s.key(key)},
		mustBeAbsent,
		expected,
		value,
		ttlMillis(ttl),
	).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// ttlMillis rounds a positive ttl up to whole milliseconds so a sub-millisecond
// ttl still expires. Zero means no expiry.
func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64((ttl + time.Millisecond - 1) / time.Millisecond)
}

// Scan walks keys under prefix with SCAN. Keys deleted between SCAN and GET
// are skipped. On a cluster client every master is scanned.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	match := s.key(prefix) + "*"
	strip := len(s.key(""))
	if s.prefix == "" {
		strip = 0
	}

	scanOne := func(ctx context.Context, client redis.Cmdable) error {
		iter := client.Scan(ctx, 0, match, s.scanSize).Iterator()
		for iter.Next(ctx) {
			full := iter.Val()
			raw, err := client.Get(ctx, full).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return unavailable(err)
			}
			if err := fn(full[strip:], raw); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}

	if cluster, ok := s.redis.(*redis.ClusterClient); ok {
		return cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return scanOne(ctx, c)
		})
	}
	return scanOne(ctx, s.redis)
}

// Ping reports whether Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
