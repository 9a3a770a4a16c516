package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"

	"boarcore.com/pkg/metrics"
)

// Redis stores each document as a plain string value under prefix+key.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Key(key string) string { return r.prefix + key }

func (r *Redis) Load(ctx context.Context, key string, v any) (bool, error) {
	begin := time.Now()
	data, err := r.rdb.Get(ctx, r.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveRedis("get", begin, nil)
		return false, nil
	}
	metrics.ObserveRedis("get", begin, err)
	if err != nil {
		return false, err
	}
	return true, decode(key, data, v)
}

func (r *Redis) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	begin := time.Now()
	err = r.rdb.Set(ctx, r.Key(key), data, 0).Err()
	metrics.ObserveRedis("set", begin, err)
	return err
}
