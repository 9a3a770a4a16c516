package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"boarcore.com/internal/engine"
	"boarcore.com/internal/fanout"
	"boarcore.com/internal/queue"
	"boarcore.com/internal/reward"
	"boarcore.com/internal/store"
	"boarcore.com/pkg/metrics"
	"boarcore.com/pkg/orm"
	"boarcore.com/pkg/safe"
	"boarcore.com/pkg/trace"
	"boarcore.com/pkg/xredis"
)

type Cfg struct {
	Name    string `mapstructure:"name"`
	OpsAddr string `mapstructure:"ops_addr"` // metrics, probes and debug views; empty disables
	Log     struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
	Trace   trace.Config  `mapstructure:"trace"`
	Queue   queue.Config  `mapstructure:"queue"`
	Engine  engine.Config `mapstructure:"engine"`
	Store   StoreCfg      `mapstructure:"store"`
	Events  fanout.Config `mapstructure:"events"`
	Journal struct {
		Path    string `mapstructure:"path"` // empty disables the fill journal
		BufSize int    `mapstructure:"buf_size"`
	} `mapstructure:"journal"`
	Rewards struct {
		Tiers []reward.TierConfig          `mapstructure:"tiers"`
		Items map[string]reward.ItemConfig `mapstructure:"items"`
	} `mapstructure:"rewards"`
}

type StoreCfg struct {
	Driver string        `mapstructure:"driver"` // file | redis | mysql | memory
	Dir    string        `mapstructure:"dir"`
	Prefix string        `mapstructure:"prefix"`
	Redis  xredis.Config `mapstructure:"redis"`
	MySQL  orm.Config    `mapstructure:"mysql"`
}

// newStore builds the configured document store. The returned closer releases
// connections, if any.
func newStore(ctx context.Context, c StoreCfg) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Driver {
	case "", "file":
		dir := c.Dir
		if dir == "" {
			dir = "data"
		}
		f, err := store.NewFile(dir)
		return f, noop, err
	case "redis":
		rdb, err := xredis.NewRedis(ctx, &c.Redis)
		if err != nil {
			return nil, nil, err
		}
		safe.GoCtx(ctx, func(ctx context.Context) { metrics.WatchRedisPool(ctx, rdb, 5*time.Second) })
		prefix := c.Prefix
		if prefix == "" {
			prefix = "boarcore:"
		}
		return store.NewRedis(rdb, prefix), rdb.Close, nil
	case "mysql":
		db, err := orm.NewMySQL(&c.MySQL)
		if err != nil {
			return nil, nil, err
		}
		s, err := store.NewSQL(ctx, db)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		return store.NewMemory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}

// newForwarder wires the configured broker and trade sink. Either may be
// absent; events are then only logged.
func newForwarder(ctx context.Context, c fanout.Config) (*fanout.Forwarder, error) {
	var b fanout.Broker
	if c.NatsURL != "" {
		nb, err := fanout.NewNatsBroker(c.NatsURL, nats.Name("boarcore"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		b = fanout.WithBreaker("nats", nb, c.Breaker)
	}
	var trades *fanout.TradeSink
	if c.Influx.URL != "" {
		trades = fanout.NewTradeSink(ctx, c.Influx)
	}
	return fanout.NewForwarder(c.TopicPrefix, b, trades), nil
}
