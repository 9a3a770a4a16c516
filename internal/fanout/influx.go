package fanout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"boarcore.com/internal/engine"
	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/safe"
)

type InfluxConfig struct {
	URL    string `mapstructure:"url"` // empty disables trade history
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	UseGzip       bool          `mapstructure:"use_gzip"`
}

func (c InfluxConfig) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		c.URL, c.Org, c.Bucket, c.BatchSize, c.FlushInterval, c.UseGzip)
}

// TradeSink writes one "trade" point per match. Writes are batched and
// asynchronous; errors surface in the log only.
type TradeSink struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func NewTradeSink(ctx context.Context, c InfluxConfig) *TradeSink {
	if c.BatchSize == 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	opt := influxdb2.DefaultOptions().
		SetBatchSize(c.BatchSize).
		SetFlushInterval(uint(c.FlushInterval.Milliseconds())).
		SetUseGZip(c.UseGzip)

	client := influxdb2.NewClientWithOptions(c.URL, c.Token, opt)
	w := client.WriteAPI(c.Org, c.Bucket)

	// Errors must be drained or the async writer blocks.
	safe.Go(func() {
		for err := range w.Errors() {
			logger.Warn(ctx, "influx write failed", zap.Error(err))
		}
	})
	return &TradeSink{client: client, write: w}
}

func (s *TradeSink) Write(ev engine.Event) {
	s.write.WritePoint(tradePoint(ev))
}

// Close flushes pending points.
func (s *TradeSink) Close() {
	s.client.Close()
}

func tradePoint(ev engine.Event) *write.Point {
	tags := map[string]string{
		"item": ev.Item,
		"side": ev.Side,
	}
	if ev.Edition > 0 {
		tags["edition"] = strconv.FormatInt(ev.Edition, 10)
	}
	fields := map[string]interface{}{
		"qty":    ev.Quantity,
		"amount": ev.Amount,
	}
	if ev.Quantity > 0 {
		fields["avg_price"] = float64(ev.Amount) / float64(ev.Quantity)
	}
	return write.NewPoint("trade", tags, fields, ev.At)
}
