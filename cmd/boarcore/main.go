package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"boarcore.com/internal/engine"
	"boarcore.com/internal/journal"
	"boarcore.com/internal/queue"
	"boarcore.com/internal/reward"
	"boarcore.com/pkg/config"
	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/ratelimit"
	"boarcore.com/pkg/safe"
	"boarcore.com/pkg/trace"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &Cfg{}
	if _, err := config.LoadAndWatch("boarcore", cfg, func() { logger.SetLevel(cfg.Log.Level) }); err != nil {
		panic(fmt.Sprintf("load config: %+v", err))
	}
	if cfg.Name == "" {
		cfg.Name = "boarcore"
	}
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal(ctx, "boarcore stopped", zap.Error(err))
	}
	logger.Info(ctx, "boarcore stopped")
}

func run(ctx context.Context, cfg *Cfg) error {
	shutdownTrace, err := trace.Init(ctx, cfg.Name, cfg.Trace)
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTrace(flushCtx)
	}()

	table, err := reward.NewTable(cfg.Rewards.Tiers, cfg.Rewards.Items)
	if err != nil {
		return fmt.Errorf("reward table: %w", err)
	}

	st, closeStore, err := newStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = closeStore() }()

	var jr *journal.Journal
	if cfg.Journal.Path != "" {
		if jr, err = journal.Open(cfg.Journal.Path, cfg.Journal.BufSize); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer func() { _ = jr.Close() }()
	}

	q := queue.NewManager(cfg.Queue)
	q.Start(ctx)
	defer q.Stop()

	eng, err := engine.New(cfg.Engine, engine.Deps{
		Queue:   q,
		Store:   st,
		Table:   table,
		Sampler: reward.NewSampler(table, nil),
		Journal: jr,
	})
	if err != nil {
		return err
	}
	eng.Start(ctx)

	fw, err := newForwarder(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	safe.GoCtx(ctx, func(ctx context.Context) { fw.Run(ctx, eng.Events()) })

	limits := ratelimit.NewStore(50, 100, 10*time.Minute)
	limits.StartJanitor(ctx, time.Minute)
	srv := startOps(cfg.OpsAddr, newOpsRouter(opsDeps{name: cfg.Name, eng: eng, store: st, limits: limits}))
	logger.Info(ctx, "boarcore started",
		zap.Int("lanes", q.Lanes()), zap.String("store", cfg.Store.Driver), zap.Int("items", len(table.Items())))

	<-ctx.Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}
