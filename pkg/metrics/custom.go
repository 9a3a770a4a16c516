package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boarcore"

var (
	QueuePending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_pending_tasks",
		Help:      "Tasks waiting in a lane, including the running one.",
	}, []string{"lane"})

	QueueReplaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_replaced_total",
		Help:      "Pending tasks overwritten by a submission with the same task id.",
	}, []string{"lane"})

	QueueTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_task_duration_seconds",
		Help:      "Time a task spent running in its lane.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms ~ 16s
	}, []string{"lane", "status"})

	QueueTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_timeouts_total",
		Help:      "Submissions whose caller gave up waiting.",
	}, []string{"lane"})

	MarketOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "market_orders_total",
		Help:      "Orders listed, by side.",
	}, []string{"side"})

	MarketMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "market_matches_total",
		Help:      "Match attempts, by taker side and result.",
	}, []string{"side", "result"})

	RewardDraws = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reward_draws_total",
		Help:      "Items drawn, by tier name.",
	}, []string{"tier"})

	FanoutPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_published_total",
		Help:      "Events forwarded to the external broker, by event type and result.",
	}, []string{"type", "result"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}, []string{"name"})
)
