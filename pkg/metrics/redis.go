package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	RedisPoolOpen      = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_open"})
	RedisPoolIdle      = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_idle"})
	RedisPoolStale     = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_stale"})
	RedisPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_wait_count"})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_redis_cmd_duration_seconds",
		Help:    "Redis command latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"cmd", "status"})
)

// WatchRedisPool samples rdb's pool stats every interval until ctx is done.
func WatchRedisPool(ctx context.Context, rdb *redis.Client, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := rdb.PoolStats()
			RedisPoolOpen.Set(float64(st.TotalConns))
			RedisPoolIdle.Set(float64(st.IdleConns))
			RedisPoolStale.Set(float64(st.StaleConns))
			RedisPoolWaitCount.Set(float64(st.WaitCount))
		}
	}
}

// ObserveRedis records the latency of one redis command started at begin.
func ObserveRedis(cmd string, begin time.Time, err error) {
	status := "ok"
	if err != nil && err != redis.Nil {
		status = "error"
	}
	RedisCmdDuration.WithLabelValues(cmd, status).Observe(time.Since(begin).Seconds())
}
