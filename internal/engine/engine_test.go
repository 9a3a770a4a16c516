package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boarcore.com/internal/journal"
	"boarcore.com/internal/market"
	"boarcore.com/internal/queue"
	"boarcore.com/internal/reward"
	"boarcore.com/internal/store"
	"boarcore.com/pkg/xerr"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// zeroRand always rolls 0: the rarest eligible tier and its first eligible item.
type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }

func testTable(t *testing.T) *reward.Table {
	t.Helper()
	tbl, err := reward.NewTable([]reward.TierConfig{
		{Name: "Common", Weight: 600, Score: 1, FromDaily: true, Items: []string{"acorn", "mushroom"}},
		{Name: "Rare", Weight: 90, Score: 10, FromDaily: true, Items: []string{"truffle", "tusk"}},
		{Name: "Mythic", Weight: 10, Score: 100, FromDaily: true, Items: []string{"relic", "crown"}},
		{Name: "Secret", Weight: 5, Score: 500, Items: []string{"idol"}},
	}, map[string]reward.ItemConfig{
		"acorn":    {Name: "Acorn"},
		"mushroom": {Name: "Mushroom"},
		"truffle":  {Name: "Black Truffle"},
		"tusk":     {Name: "Golden Tusk", Exclusive: true},
		"relic":    {Name: "Relic", Blacklisted: true},
		"crown":    {Name: "Boar Crown", Limited: true},
		"idol":     {Name: "Idol"},
	})
	require.NoError(t, err)
	return tbl
}

type harness struct {
	e     *Engine
	clk   *testClock
	store store.Store
}

// seqRand replays vals in a loop.
type seqRand struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (s *seqRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func newHarness(t *testing.T, cfg Config, st store.Store, jr *journal.Journal) *harness {
	t.Helper()
	return newHarnessRand(t, cfg, st, jr, zeroRand{})
}

func newHarnessRand(t *testing.T, cfg Config, st store.Store, jr *journal.Journal, rng reward.Rand) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	if cfg.StartingBalance == 0 {
		cfg.StartingBalance = 1000
	}
	clk := &testClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	q := queue.NewManager(queue.Config{Lanes: 4, Timeout: 5 * time.Second})
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	tbl := testTable(t)
	e, err := New(cfg, Deps{
		Queue:   q,
		Store:   st,
		Table:   tbl,
		Sampler: reward.NewSampler(tbl, rng),
		Journal: jr,
		Clock:   clk.Now,
	})
	require.NoError(t, err)
	return &harness{e: e, clk: clk, store: st}
}

func (h *harness) profile(t *testing.T, user string) User {
	t.Helper()
	u, err := h.e.Profile(context.Background(), user)
	require.NoError(t, err)
	return u
}

func (h *harness) grant(t *testing.T, user, item string, qty int64) {
	t.Helper()
	_, err := h.e.Grant(context.Background(), user, item, qty)
	require.NoError(t, err)
}

func (h *harness) place(t *testing.T, user, item string, side market.Side, price, qty int64) *market.Order {
	t.Helper()
	o, err := h.e.PlaceOrder(context.Background(), OrderRequest{User: user, Item: item, Side: side, Price: price, Quantity: qty})
	require.NoError(t, err)
	return o
}

func TestConfig_Validate(t *testing.T) {
	c := Config{}
	require.NoError(t, c.Validate())
	assert.Equal(t, float64(DefaultLuckK), c.LuckK)
	assert.Equal(t, 1, c.RateBurst)

	bad := []Config{
		{LuckK: -1},
		{ExtraChances: []float64{120}},
		{DailyCoins: -5},
		{RateLimit: -1},
		{Market: market.Config{OrderTTL: -time.Second}},
	}
	for _, c := range bad {
		assert.Error(t, c.Validate())
	}
}

func TestDaily_OncePerDay(t *testing.T) {
	h := newHarness(t, Config{DailyCoins: 50}, nil, nil)
	ctx := context.Background()

	out, err := h.e.Daily(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "crown", out.Items[0].Item, "blacklisted relic is skipped")
	assert.Equal(t, int64(1), out.Items[0].Edition)
	assert.Equal(t, int64(100), out.Score)
	assert.Equal(t, 1.0, out.Multiplier)

	u := h.profile(t, "u1")
	assert.Equal(t, int64(1050), u.Balance)
	assert.Equal(t, int64(100), u.Score)
	assert.Equal(t, []int64{1}, u.Editions["crown"])

	_, err = h.e.Daily(ctx, "u1", nil)
	assert.True(t, xerr.Is(err, xerr.Validation))

	h.clk.Advance(14 * time.Hour)
	out, err = h.e.Daily(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Items[0].Edition)
	assert.Equal(t, []int64{1, 2}, h.profile(t, "u1").Editions["crown"])
}

func TestDaily_FilterAndExtraChances(t *testing.T) {
	// extra rolls 0 and 0, then tier 0.99 (Common) and item 0 for each draw
	rng := &seqRand{vals: []float64{0, 0, 0.99, 0, 0.99, 0}}
	h := newHarnessRand(t, Config{ExtraChances: []float64{50, 0}}, nil, nil, rng)
	onlyCommon := func(id string, _ reward.ItemConfig) bool { return id == "mushroom" }

	out, err := h.e.Daily(context.Background(), "u1", onlyCommon)
	require.NoError(t, err)
	// 0*100 < 50 grants one extra draw; the 0% chance never does
	require.Len(t, out.Items, 2)
	for _, d := range out.Items {
		assert.Equal(t, "mushroom", d.Item)
	}
	assert.Equal(t, int64(2), h.profile(t, "u1").Items["mushroom"])
}

func TestSetLuck(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()
	assert.True(t, xerr.Is(h.e.SetLuck(ctx, "u1", 0.5), xerr.Validation))
	require.NoError(t, h.e.SetLuck(ctx, "u1", 3))

	out, err := h.e.Daily(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Multiplier)
}

func TestGrant(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	eds, err := h.e.Grant(context.Background(), "u1", "crown", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, eds)

	h.grant(t, "u1", "acorn", 5)
	assert.Equal(t, int64(5), h.profile(t, "u1").Items["acorn"])

	_, err = h.e.Grant(context.Background(), "u1", "nope", 1)
	assert.True(t, xerr.Is(err, xerr.Validation))
}

func TestPlaceOrder_ValidatesAndEscrows(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()
	h.grant(t, "s", "acorn", 5)

	cases := []struct {
		name string
		req  OrderRequest
	}{
		{"unknown item", OrderRequest{User: "s", Item: "nope", Side: market.Sell, Price: 1, Quantity: 1}},
		{"edition on fungible", OrderRequest{User: "s", Item: "acorn", Side: market.Sell, Price: 1, Quantity: 1, Edition: 3}},
		{"zero price", OrderRequest{User: "s", Item: "acorn", Side: market.Sell, Price: 0, Quantity: 1}},
		{"not enough items", OrderRequest{User: "s", Item: "acorn", Side: market.Sell, Price: 10, Quantity: 6}},
		{"not enough coins", OrderRequest{User: "b", Item: "acorn", Side: market.Buy, Price: 600, Quantity: 2}},
		{"overflow", OrderRequest{User: "b", Item: "acorn", Side: market.Buy, Price: 1 << 62, Quantity: 4}},
		{"limited without edition", OrderRequest{User: "b", Item: "crown", Side: market.Buy, Price: 1, Quantity: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.e.PlaceOrder(ctx, tc.req)
			assert.True(t, xerr.Is(err, xerr.Validation), "%v", err)
		})
	}

	h.place(t, "s", "acorn", market.Sell, 10, 3)
	assert.Equal(t, int64(2), h.profile(t, "s").Items["acorn"])

	h.place(t, "b", "acorn", market.Buy, 100, 2)
	assert.Equal(t, int64(800), h.profile(t, "b").Balance)

	snap, err := h.e.Snapshot(ctx, "acorn", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.InstaBuy)
	assert.Equal(t, int64(100), snap.InstaSell)
}

func TestInstaBuy_ClaimAndCancel(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()
	h.grant(t, "s", "acorn", 5)
	first := h.place(t, "s", "acorn", market.Sell, 10, 3)
	second := h.place(t, "s", "acorn", market.Sell, 12, 2)

	quote, err := h.e.Quote(ctx, "acorn", market.Buy, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), quote.TotalCost)

	res, err := h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "acorn", Quantity: 4, Quote: quote.TotalCost})
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.TotalCost)
	b := h.profile(t, "b")
	assert.Equal(t, int64(958), b.Balance)
	assert.Equal(t, int64(4), b.Items["acorn"])

	_, err = h.e.Cancel(ctx, "s", "acorn", first.ID)
	assert.True(t, xerr.Is(err, xerr.MustClaim))
	_, err = h.e.Claim(ctx, "b", "acorn", first.ID)
	assert.True(t, xerr.Is(err, xerr.NotFound), "only the owner claims")

	cr, err := h.e.Claim(ctx, "s", "acorn", first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), cr.Coins)
	_, err = h.e.Claim(ctx, "s", "acorn", first.ID)
	assert.True(t, xerr.Is(err, xerr.NotFound), "settled orders are pruned")

	cr, err = h.e.Claim(ctx, "s", "acorn", second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), cr.Coins)
	_, err = h.e.Claim(ctx, "s", "acorn", second.ID)
	assert.True(t, xerr.Is(err, xerr.Validation))

	cancelled, err := h.e.Cancel(ctx, "s", "acorn", second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled.Remaining())

	s := h.profile(t, "s")
	assert.Equal(t, int64(1042), s.Balance)
	assert.Equal(t, int64(1), s.Items["acorn"])
	assert.Equal(t, int64(2000), s.Balance+b.Balance, "coins are conserved")

	orders, err := h.e.OrdersOf(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestInstaBuy_RejectionsLeaveStateAlone(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()
	h.grant(t, "s", "acorn", 3)
	h.place(t, "s", "acorn", market.Sell, 10, 2)

	_, err := h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "acorn", Quantity: 2, Quote: 15})
	assert.True(t, xerr.Is(err, xerr.PriceMoved))
	_, err = h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "acorn", Quantity: 3})
	assert.True(t, xerr.Is(err, xerr.InsufficientLiquidity))

	h.place(t, "s", "acorn", market.Sell, 5000, 1)
	_, err = h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "acorn", Quantity: 3})
	assert.True(t, xerr.Is(err, xerr.Validation), "can't afford")

	b := h.profile(t, "b")
	assert.Equal(t, int64(1000), b.Balance)
	assert.Empty(t, b.Items)

	snap, err := h.e.Snapshot(ctx, "acorn", 0)
	require.NoError(t, err)
	assert.Equal(t, []market.Level{{Price: 10, Quantity: 2, Orders: 1}, {Price: 5000, Quantity: 1, Orders: 1}}, snap.Asks)
}

func TestInstaSell_IntoBids(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()
	bid := h.place(t, "b", "acorn", market.Buy, 50, 2)
	h.grant(t, "s", "acorn", 1)

	_, err := h.e.InstaSell(ctx, TradeRequest{User: "s", Item: "acorn", Quantity: 2})
	assert.True(t, xerr.Is(err, xerr.Validation), "holds only one")

	res, err := h.e.InstaSell(ctx, TradeRequest{User: "s", Item: "acorn", Quantity: 1, Quote: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.TotalCost)
	s := h.profile(t, "s")
	assert.Equal(t, int64(1050), s.Balance)
	assert.Zero(t, s.Items["acorn"])

	cr, err := h.e.Claim(ctx, "b", "acorn", bid.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cr.Items)
	_, err = h.e.Cancel(ctx, "b", "acorn", bid.ID)
	require.NoError(t, err)

	b := h.profile(t, "b")
	assert.Equal(t, int64(950), b.Balance)
	assert.Equal(t, int64(1), b.Items["acorn"])
}

func TestLimitedEditions_TradeIndependently(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()
	eds, err := h.e.Grant(ctx, "s", "crown", 2)
	require.NoError(t, err)

	_, err = h.e.PlaceOrder(ctx, OrderRequest{User: "s", Item: "crown", Side: market.Sell, Price: 500, Quantity: 1, Edition: eds[0]})
	require.NoError(t, err)

	_, err = h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "crown", Quantity: 1, Edition: eds[1]})
	assert.True(t, xerr.Is(err, xerr.InsufficientLiquidity))
	_, err = h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "crown", Quantity: 2, Edition: eds[0]})
	assert.True(t, xerr.Is(err, xerr.Validation))

	_, err = h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "crown", Quantity: 1, Edition: eds[0]})
	require.NoError(t, err)
	assert.Equal(t, []int64{eds[0]}, h.profile(t, "b").Editions["crown"])
	assert.Equal(t, []int64{eds[1]}, h.profile(t, "s").Editions["crown"])
}

func TestMarkets_ReloadFromStore(t *testing.T) {
	st := store.NewMemory()
	h1 := newHarness(t, Config{}, st, nil)
	h1.grant(t, "s", "truffle", 2)
	o := h1.place(t, "s", "truffle", market.Sell, 70, 2)

	h2 := newHarness(t, Config{}, st, nil)
	ctx := context.Background()
	snap, err := h2.e.Snapshot(ctx, "truffle", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(70), snap.InstaBuy)

	orders, err := h2.e.OrdersOf(ctx, "s")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].Order.ID)
	assert.Zero(t, h2.profile(t, "s").Items["truffle"])
}

func TestConcurrentBuyers_NeverOversell(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()
	h.grant(t, "s", "acorn", 5)
	h.place(t, "s", "acorn", market.Sell, 10, 5)

	const buyers = 12
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.e.InstaBuy(ctx, TradeRequest{User: "b" + string(rune('a'+i)), Item: "acorn", Quantity: 1})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, xerr.Is(err, xerr.InsufficientLiquidity), "%v", err)
	}
	assert.Equal(t, 5, ok)

	var spent int64
	for i := 0; i < buyers; i++ {
		spent += 1000 - h.profile(t, "b"+string(rune('a'+i))).Balance
	}
	assert.Equal(t, int64(50), spent)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Config{RateLimit: 1, RateBurst: 2}, nil, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := h.e.Cancel(ctx, "spammer", "acorn", 99)
		assert.True(t, xerr.Is(err, xerr.NotFound))
	}
	_, err := h.e.Cancel(ctx, "spammer", "acorn", 99)
	assert.True(t, xerr.Is(err, xerr.RateLimited))

	_, err = h.e.Cancel(ctx, "someone-else", "acorn", 99)
	assert.True(t, xerr.Is(err, xerr.NotFound), "limits are per user")
}

func TestLookup(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	for in, want := range map[string]string{
		"acorn":       "acorn",
		"Boar Crown":  "crown",
		"black truff": "truffle",
		"tusk":        "tusk",
	} {
		got, ok := h.e.Lookup(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
}

func TestTrades_JournaledAndPublished(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.log")
	jr, err := journal.Open(path, 0)
	require.NoError(t, err)
	defer jr.Close()

	h := newHarness(t, Config{EventBuffer: 16}, nil, jr)
	ctx := context.Background()
	h.grant(t, "s", "acorn", 2)
	h.place(t, "s", "acorn", market.Sell, 10, 2)
	_, err = h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "acorn", Quantity: 2})
	require.NoError(t, err)

	var recs []journal.Record
	_, err = journal.Replay(path, journal.ReplayOptions{}, func(r journal.Record) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].Taker)
	assert.Equal(t, int64(20), recs[0].TotalCost)

	var types []EventType
	for len(types) < 2 {
		select {
		case ev := <-h.e.Events():
			types = append(types, ev.Type)
			if ev.Type == EvTrade {
				assert.Equal(t, uint64(1), ev.Seq)
				assert.Equal(t, int64(20), ev.Amount)
			}
		case <-time.After(time.Second):
			t.Fatal("missing events")
		}
	}
	assert.Equal(t, []EventType{EvListed, EvTrade}, types)
	assert.Zero(t, h.e.DroppedEvents())
}

// failingStore refuses saves of keys with a given prefix while armed.
type failingStore struct {
	*store.Memory
	mu     sync.Mutex
	prefix string
}

func (f *failingStore) arm(prefix string) {
	f.mu.Lock()
	f.prefix = prefix
	f.mu.Unlock()
}

func (f *failingStore) Save(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	prefix := f.prefix
	f.mu.Unlock()
	if prefix != "" && strings.HasPrefix(key, prefix) {
		return errors.New("disk full")
	}
	return f.Memory.Save(ctx, key, v)
}

func TestMarketSaveFailure_RollsBackOrder(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory()}
	h := newHarness(t, Config{}, st, nil)
	ctx := context.Background()

	st.arm("market:")
	_, err := h.e.PlaceOrder(ctx, OrderRequest{User: "b", Item: "acorn", Side: market.Buy, Price: 100, Quantity: 2})
	require.Error(t, err)
	st.arm("")

	assert.Equal(t, int64(1000), h.profile(t, "b").Balance, "no escrow without a saved order")
	snap, err := h.e.Snapshot(ctx, "acorn", 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)

	h.grant(t, "s", "acorn", 1)
	_, err = h.e.InstaSell(ctx, TradeRequest{User: "s", Item: "acorn", Quantity: 1})
	assert.True(t, xerr.Is(err, xerr.InsufficientLiquidity), "%v", err)
	s := h.profile(t, "s")
	assert.Equal(t, int64(1000), s.Balance)
	assert.Equal(t, int64(1), s.Items["acorn"])
}

func TestUserSaveFailure_RollsBackMatch(t *testing.T) {
	st := &failingStore{Memory: store.NewMemory()}
	h := newHarness(t, Config{}, st, nil)
	ctx := context.Background()
	h.grant(t, "s", "acorn", 2)
	h.place(t, "s", "acorn", market.Sell, 10, 2)

	st.arm("user:b")
	_, err := h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "acorn", Quantity: 2})
	require.Error(t, err)
	st.arm("")

	b := h.profile(t, "b")
	assert.Equal(t, int64(1000), b.Balance)
	assert.Empty(t, b.Items)

	snap, err := h.e.Snapshot(ctx, "acorn", 0)
	require.NoError(t, err)
	assert.Equal(t, []market.Level{{Price: 10, Quantity: 2, Orders: 1}}, snap.Asks, "asks survive the failed buy")

	var doc market.Doc
	found, err := st.Load(ctx, "market:acorn", &doc)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, doc.Orders, 1)
	assert.Zero(t, doc.Orders[0].Filled, "stored market matches memory")

	res, err := h.e.InstaBuy(ctx, TradeRequest{User: "b", Item: "acorn", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.TotalCost)
}

func TestCredit_Overflow(t *testing.T) {
	u := newUser("u1", math.MaxInt64-5)
	assert.True(t, xerr.Is(u.credit(6), xerr.Validation))
	assert.Equal(t, int64(math.MaxInt64-5), u.Balance)
	require.NoError(t, u.credit(5))

	u.Score = math.MaxInt64
	assert.True(t, xerr.Is(u.addScore(1), xerr.Validation))
}

func TestLeaderboard_DailyAndGrant(t *testing.T) {
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()

	_, err := h.e.Daily(ctx, "a", nil)
	require.NoError(t, err)
	h.grant(t, "b", "truffle", 3)
	h.grant(t, "c", "crown", 2)
	h.grant(t, "d", "acorn", 10)
	h.grant(t, "e", "truffle", 1)

	board, err := h.e.Leaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []Standing{
		{User: "c", Score: 200},
		{User: "a", Score: 100},
		{User: "b", Score: 30},
		{User: "d", Score: 10},
		{User: "e", Score: 10},
	}, board)

	h.grant(t, "e", "tusk", 10)
	top, err := h.e.Leaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []Standing{{User: "c", Score: 200}, {User: "e", Score: 110}}, top)
	assert.Equal(t, int64(110), h.profile(t, "e").Score)
}

func TestLeaderboard_Capped(t *testing.T) {
	h := newHarness(t, Config{LeaderboardSize: 2}, nil, nil)
	ctx := context.Background()

	empty, err := h.e.Leaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	h.grant(t, "a", "acorn", 1)
	h.grant(t, "b", "acorn", 3)
	h.grant(t, "c", "acorn", 2)
	h.grant(t, "d", "acorn", 1)

	board, err := h.e.Leaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []Standing{{User: "b", Score: 3}, {User: "c", Score: 2}}, board)
}

func TestBoard_Upsert(t *testing.T) {
	var b board
	assert.True(t, b.upsert(Standing{User: "x", Score: 5}, 3))
	assert.False(t, b.upsert(Standing{User: "x", Score: 4}, 3), "scores never drop")
	assert.True(t, b.upsert(Standing{User: "y", Score: 5}, 3))
	assert.True(t, b.upsert(Standing{User: "w", Score: 5}, 3))
	assert.False(t, b.upsert(Standing{User: "z", Score: 5}, 3), "ties at the cut stay out")
	assert.True(t, b.upsert(Standing{User: "z", Score: 6}, 3))
	assert.Equal(t, []Standing{{User: "z", Score: 6}, {User: "w", Score: 5}, {User: "x", Score: 5}}, b.Entries)
}
