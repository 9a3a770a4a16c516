package fanout

import (
	"context"
	"errors"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"boarcore.com/internal/engine"
	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/metrics"
)

type Config struct {
	NatsURL     string        `mapstructure:"nats_url"` // empty keeps events in process
	TopicPrefix string        `mapstructure:"topic_prefix"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
	Influx      InfluxConfig  `mapstructure:"influx"`
}

// Forwarder logs every engine event, publishes it as JSON on
// "<prefix>:<type>" and, for trades, records a history point.
type Forwarder struct {
	prefix string
	broker Broker
	trades *TradeSink
}

// NewForwarder accepts nil broker and sink; each is skipped when absent.
func NewForwarder(prefix string, b Broker, trades *TradeSink) *Forwarder {
	if prefix == "" {
		prefix = "boarcore"
	}
	return &Forwarder{prefix: prefix, broker: b, trades: trades}
}

func (f *Forwarder) Topic(t engine.EventType) string { return f.prefix + ":" + t.String() }

// Run handles events until ctx ends or the channel closes.
func (f *Forwarder) Run(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.Handle(ctx, ev)
		}
	}
}

func (f *Forwarder) Handle(ctx context.Context, ev engine.Event) {
	logger.Info(ctx, "engine event",
		zap.Stringer("type", ev.Type), zap.String("user", ev.User), zap.String("item", ev.Item),
		zap.Int64("edition", ev.Edition), zap.Int64("qty", ev.Quantity), zap.Int64("amount", ev.Amount))

	if ev.Type == engine.EvTrade && f.trades != nil {
		f.trades.Write(ev)
	}
	if f.broker == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error(ctx, "encode event", zap.Error(err))
		return
	}
	result := "ok"
	if err := f.broker.Publish(ctx, f.Topic(ev.Type), payload); err != nil {
		result = "error"
		if errors.Is(err, ErrBreakerOpen) {
			result = "rejected"
		} else {
			logger.Warn(ctx, "publish event", zap.Stringer("type", ev.Type), zap.Error(err))
		}
	}
	metrics.FanoutPublished.WithLabelValues(ev.Type.String(), result).Inc()
}

// Close releases the broker and flushes the trade sink.
func (f *Forwarder) Close() error {
	if f.trades != nil {
		f.trades.Close()
	}
	if f.broker != nil {
		return f.broker.Close()
	}
	return nil
}
