package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

type RedisCacheStore struct {
	rdb  *redis.Client
	data *cache.Cache
}

var _ CacheStore = (*RedisCacheStore)(nil)

func NewRedisCacheStore(redisURL string) (*RedisCacheStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not configure session cache: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to session cache: %w", err)
	}
	// Values are already-encoded strings; identity marshaling keeps the wire
	// representation raw so Take can use GETDEL on the same keys.
	data := cache.New(&cache.Options{
		Redis: rdb,
		Marshal: func(v interface{}) ([]byte, error) {
			return []byte(*(v.(*string))), nil
		},
		Unmarshal: func(b []byte, v interface{}) error {
			*(v.(*string)) = string(b)
			return nil
		},
	})
	return &RedisCacheStore{rdb: rdb, data: data}, nil
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.data.Get(ctx, key, &val)
	if err == cache.ErrCacheMiss {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return s.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: &val,
		TTL:   ttl,
	})
}

func (s *RedisCacheStore) Take(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCacheStore) Purge(ctx context.Context, key string) error {
	err := s.data.Delete(ctx, key)
	if err == cache.ErrCacheMiss {
		return nil
	}
	return err
}
