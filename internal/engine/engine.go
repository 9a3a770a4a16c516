// Package engine is the call-site layer over the queue, reward sampler and
// order books. Every read-modify-write of a user record runs on that user's
// lane; every change to a market or to the edition counters runs on the global
// lane. User-lane tasks may wait on global-lane tasks, never the reverse.
package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"boarcore.com/internal/journal"
	"boarcore.com/internal/market"
	"boarcore.com/internal/queue"
	"boarcore.com/internal/reward"
	"boarcore.com/internal/store"
	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/ratelimit"
	"boarcore.com/pkg/trace"
	"boarcore.com/pkg/xerr"
)

const editionsKey = "editions"

type Deps struct {
	Queue   *queue.Manager
	Store   store.Store
	Table   *reward.Table
	Sampler *reward.Sampler
	// Journal is optional; nil skips trade journaling.
	Journal *journal.Journal
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Engine struct {
	cfg     Config
	q       *queue.Manager
	store   store.Store
	table   *reward.Table
	sampler *reward.Sampler
	journal *journal.Journal
	now     func() time.Time

	book  *market.Book
	names *market.NameIndex
	bus   *ChanBus

	loads    singleflight.Group
	loadedMu sync.RWMutex
	loaded   map[string]bool

	limits *ratelimit.Store
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Queue == nil || deps.Store == nil || deps.Table == nil {
		return nil, errors.New("engine: queue, store and table are required")
	}
	if deps.Sampler == nil {
		deps.Sampler = reward.NewSampler(deps.Table, nil)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	e := &Engine{
		cfg:     cfg,
		q:       deps.Queue,
		store:   deps.Store,
		table:   deps.Table,
		sampler: deps.Sampler,
		journal: deps.Journal,
		now:     deps.Clock,
		book:    market.NewBook(cfg.Market, deps.Clock),
		names:   market.NewNameIndex(),
		bus:     NewChanBus(cfg.EventBuffer),
		loaded:  make(map[string]bool),
	}
	if cfg.RateLimit > 0 {
		e.limits = ratelimit.NewStore(rate.Limit(cfg.RateLimit), cfg.RateBurst, 0)
	}
	for _, id := range deps.Table.Items() {
		it, _ := deps.Table.Item(id)
		e.names.Add(id, id)
		if it.Name != "" {
			e.names.Add(it.Name, id)
		}
	}
	return e, nil
}

func (e *Engine) Events() <-chan Event { return e.bus.C() }
func (e *Engine) DroppedEvents() uint64 { return e.bus.Dropped() }

func userKey(id string) string { return "user:" + id }
func marketKey(item string) string { return "market:" + item }

// Start runs the engine's housekeeping until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if e.limits != nil {
		e.limits.StartJanitor(ctx, time.Minute)
	}
}

// allow applies the per-user command rate.
func (e *Engine) allow(user string) error {
	if e.limits != nil && !e.limits.Allow(user) {
		return xerr.NewErrCode(xerr.RateLimited)
	}
	return nil
}

func (e *Engine) loadUser(ctx context.Context, id string) (*User, error) {
	u := newUser(id, e.cfg.StartingBalance)
	if _, err := e.store.Load(ctx, userKey(id), u); err != nil {
		return nil, err
	}
	if u.Luck < 1 {
		u.Luck = 1
	}
	return u, nil
}

// withUser runs fn on id's lane against a freshly loaded record and saves
// the record if fn succeeds, unless a market task already committed it. op
// names the span covering the whole call.
func (e *Engine) withUser(ctx context.Context, op, id string, fn func(ctx context.Context, u *User) error) (err error) {
	ctx, span := trace.Start(ctx, "engine."+op, attribute.String("user", id))
	defer func() { trace.End(span, err) }()
	ctx = logger.WithFields(ctx, zap.String("user", id), zap.String("op", op))
	return e.q.Submit(ctx, userKey(id), queue.NewTaskID(), func(ctx context.Context) error {
		u, err := e.loadUser(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, u); err != nil {
			return err
		}
		if u.committed {
			return nil
		}
		if err := e.store.Save(ctx, userKey(id), u); err != nil {
			logger.Error(ctx, "user save failed after mutation", zap.Error(err))
			return err
		}
		return nil
	})
}

// ensureMarket loads item's persisted book once per process.
func (e *Engine) ensureMarket(ctx context.Context, item string) error {
	e.loadedMu.RLock()
	ok := e.loaded[item]
	e.loadedMu.RUnlock()
	if ok {
		return nil
	}
	_, err, _ := e.loads.Do(item, func() (any, error) {
		e.loadedMu.RLock()
		ok := e.loaded[item]
		e.loadedMu.RUnlock()
		if ok {
			return nil, nil
		}
		var doc market.Doc
		found, err := e.store.Load(ctx, marketKey(item), &doc)
		if err != nil {
			return nil, err
		}
		if found {
			if err := e.book.Import(doc); err != nil {
				return nil, err
			}
			logger.Debug(ctx, "market loaded", zap.String("item", item), zap.Int("orders", len(doc.Orders)))
		}
		e.loadedMu.Lock()
		e.loaded[item] = true
		e.loadedMu.Unlock()
		return nil, nil
	})
	return err
}

const (
	marketQueued int32 = iota
	marketRunning
	marketAbandoned
)

var errMarketIncomplete = errors.New("engine: market task did not complete")

// withMarket runs fn on the global lane with item's book loaded. fn may change
// the book and u together; the task then saves the market and u, and any
// failure puts both back as they were. The task is the only commit point: if
// the caller stops waiting before it starts, it never runs, and once it has
// started the caller waits for its outcome. The caller must not touch u after
// a nil return; withUser skips its own save.
func (e *Engine) withMarket(ctx context.Context, item string, u *User, fn func(ctx context.Context) error) error {
	ctx = logger.WithFields(ctx, zap.String("item", item))
	var (
		state   atomic.Int32
		done    = make(chan struct{})
		taskErr error
	)
	err := e.q.Submit(ctx, e.q.GlobalKey(marketKey(item)), queue.NewTaskID(), func(ctx context.Context) error {
		if !state.CompareAndSwap(marketQueued, marketRunning) {
			return errMarketIncomplete
		}
		defer close(done)
		taskErr = errMarketIncomplete
		taskErr = e.commitMarket(ctx, item, u, fn)
		return taskErr
	})
	if err == nil {
		return nil
	}
	if state.CompareAndSwap(marketQueued, marketAbandoned) {
		return err
	}
	<-done
	return taskErr
}

func (e *Engine) commitMarket(ctx context.Context, item string, u *User, fn func(ctx context.Context) error) error {
	if err := e.ensureMarket(ctx, item); err != nil {
		return err
	}
	before, _ := e.book.Export(item)
	prev := u.clone()
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := e.book.Import(before); err != nil {
			logger.Error(ctx, "market rollback failed", zap.Error(err))
		}
		*u = *prev
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	doc, _ := e.book.Export(item)
	if err := e.store.Save(ctx, marketKey(item), doc); err != nil {
		logger.Error(ctx, "market save failed, change rolled back", zap.Error(err))
		return err
	}
	if err := e.store.Save(ctx, userKey(u.ID), u); err != nil {
		logger.Error(ctx, "user save failed, market change rolled back", zap.Error(err))
		if rerr := e.store.Save(ctx, marketKey(item), before); rerr != nil {
			logger.Error(ctx, "market document restore failed", zap.Error(rerr))
		}
		return err
	}
	committed = true
	u.committed = true
	return nil
}

// nextEdition hands out the next edition number of a limited item.
func (e *Engine) nextEdition(ctx context.Context, item string) (int64, error) {
	var n int64
	err := e.q.Submit(ctx, e.q.GlobalKey(editionsKey), queue.NewTaskID(), func(ctx context.Context) error {
		counters := map[string]int64{}
		if _, err := e.store.Load(ctx, editionsKey, &counters); err != nil {
			return err
		}
		counters[item]++
		n = counters[item]
		return e.store.Save(ctx, editionsKey, counters)
	})
	return n, err
}

// checkItem validates item and edition against the item configuration.
func (e *Engine) checkItem(item string, edition, qty int64) error {
	it, ok := e.table.Item(item)
	if !ok {
		return validation("That item doesn't exist.")
	}
	if qty <= 0 {
		return validation("Quantity must be a positive whole number.")
	}
	if it.Limited {
		if edition <= 0 {
			return validation("Pick an edition of that item.")
		}
		if qty != 1 {
			return validation("Each edition is unique, trade them one at a time.")
		}
	} else if edition != 0 {
		return validation("That item has no editions.")
	}
	return nil
}

func mulFits(a, b int64) bool {
	return a > 0 && b > 0 && a <= math.MaxInt64/b
}

func (e *Engine) publish(ev Event) {
	ev.At = e.now()
	e.bus.TryPublish(ev)
}

// Profile reads a user's record without queueing.
func (e *Engine) Profile(ctx context.Context, user string) (User, error) {
	u, err := e.loadUser(ctx, user)
	if err != nil {
		return User{}, err
	}
	return *u, nil
}

// Lookup resolves a typed item name to an item id.
func (e *Engine) Lookup(name string) (string, bool) {
	return e.names.Lookup(name)
}

// Snapshot is the current page of item's book for rendering.
func (e *Engine) Snapshot(ctx context.Context, item string, edition int64) (market.Snapshot, error) {
	if _, ok := e.table.Item(item); !ok {
		return market.Snapshot{}, validation("That item doesn't exist.")
	}
	if err := e.ensureMarket(ctx, item); err != nil {
		return market.Snapshot{}, err
	}
	return e.book.Snapshot(item, edition), nil
}

// Quote prices an immediate trade without executing it. Pass its TotalCost
// as TradeRequest.Quote to refuse execution if the book moves meanwhile.
func (e *Engine) Quote(ctx context.Context, item string, taker market.Side, qty, edition int64) (*market.MatchResult, error) {
	if err := e.checkItem(item, edition, qty); err != nil {
		return nil, err
	}
	if err := e.ensureMarket(ctx, item); err != nil {
		return nil, err
	}
	return e.book.Plan(item, taker, qty, edition)
}

// OrdersOf lists user's orders across every configured item.
func (e *Engine) OrdersOf(ctx context.Context, user string) ([]market.OwnedOrder, error) {
	for _, item := range e.table.Items() {
		if err := e.ensureMarket(ctx, item); err != nil {
			return nil, err
		}
	}
	return e.book.OrdersOf(user), nil
}
