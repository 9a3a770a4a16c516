// Package market keeps the per-item order books players trade against.
//
// Every item has a fungible book (edition 0) plus one independent book per
// edition that has ever been listed. Resting orders are matched in price-time
// priority: asks ascending, bids descending, equal prices in listing order.
// A match is planned against a read-only walk of the book and only applied
// once the whole quantity is covered, so a failed match never moves a fill.
//
// Book is safe for concurrent use. Callers that need read-modify-write
// sequences spanning several calls (check a balance, then match) serialize
// them through the task queue.
package market

import (
	"math"
	"sort"
	"sync"
	"time"

	"boarcore.com/pkg/metrics"
	"boarcore.com/pkg/xerr"
)

type Config struct {
	// OrderTTL hides orders from quotes and matching once exceeded. Zero disables expiry.
	OrderTTL time.Duration `mapstructure:"order_ttl" json:"orderTtl"`
}

// itemMarket is every book of one item plus its trade history.
type itemMarket struct {
	item     string
	books    map[int64]*book
	nextID   uint64
	lastBuy  int64
	lastSell int64
}

func newItemMarket(item string) *itemMarket {
	return &itemMarket{item: item, books: make(map[int64]*book), nextID: 1}
}

func (m *itemMarket) book(edition int64, create bool) *book {
	b := m.books[edition]
	if b == nil && create {
		b = newBook()
		m.books[edition] = b
	}
	return b
}

// find looks an order up across every edition book.
func (m *itemMarket) find(id uint64) (*book, *Order) {
	for _, b := range m.books {
		if o := b.get(id); o != nil {
			return b, o
		}
	}
	return nil, nil
}

type Book struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	markets map[string]*itemMarket
}

// NewBook returns an empty book. A nil clock means time.Now.
func NewBook(cfg Config, clock func() time.Time) *Book {
	if clock == nil {
		clock = time.Now
	}
	return &Book{cfg: cfg, now: clock, markets: make(map[string]*itemMarket)}
}

func (b *Book) market(item string, create bool) *itemMarket {
	m := b.markets[item]
	if m == nil && create {
		m = newItemMarket(item)
		b.markets[item] = m
	}
	return m
}

// Items lists every item with a market, sorted.
func (b *Book) Items() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.markets))
	for item := range b.markets {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func (b *Book) live(o *Order, now time.Time) bool {
	return o.Remaining() > 0 && !o.Expired(now, b.cfg.OrderTTL)
}

// Submit rests a new order. Nothing is matched on submission.
func (b *Book) Submit(item string, side Side, price, qty int64, owner string, edition int64) (*Order, error) {
	switch {
	case item == "":
		return nil, xerr.New(xerr.Validation, "Pick an item to trade.")
	case side != Buy && side != Sell:
		return nil, xerr.New(xerr.Validation, "Choose buy or sell.")
	case price <= 0:
		return nil, xerr.New(xerr.Validation, "Price must be a positive whole number.")
	case qty <= 0:
		return nil, xerr.New(xerr.Validation, "Quantity must be a positive whole number.")
	case edition < 0:
		return nil, xerr.New(xerr.Validation, "That edition doesn't exist.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.market(item, true)
	o := &Order{
		ID:       m.nextID,
		Owner:    owner,
		Side:     side,
		Price:    price,
		Quantity: qty,
		ListedAt: b.now(),
		Edition:  edition,
	}
	m.nextID++
	m.book(edition, true).add(o)
	metrics.MarketOrders.WithLabelValues(side.String()).Inc()
	cp := *o
	return &cp, nil
}

func (b *Book) best(item string, side Side, edition int64) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.market(item, false)
	if m == nil {
		return 0, false
	}
	bk := m.book(edition, false)
	if bk == nil {
		return 0, false
	}
	now := b.now()
	var price int64
	var ok bool
	bk.walk(side, func(o *Order) bool {
		if b.live(o, now) {
			price, ok = o.Price, true
			return false
		}
		return true
	})
	return price, ok
}

// QuoteInstaBuy is the price an immediate buyer of one unit pays: the best live ask.
func (b *Book) QuoteInstaBuy(item string, edition int64) (int64, bool) {
	return b.best(item, Sell, edition)
}

// QuoteInstaSell is the price an immediate seller of one unit gets: the best live bid.
func (b *Book) QuoteInstaSell(item string, edition int64) (int64, bool) {
	return b.best(item, Buy, edition)
}

// Match consumes qty units from the side opposite taker.
func (b *Book) Match(item string, taker Side, qty int64, edition int64) (*MatchResult, error) {
	return b.MatchLimit(item, taker, qty, edition, 0)
}

// MatchLimit is Match with a total-price bound the caller was quoted. For a
// buying taker the total cost may not exceed limit, for a selling taker the
// proceeds may not fall below it. A zero limit disables the check.
func (b *Book) MatchLimit(item string, taker Side, qty int64, edition int64, limit int64) (*MatchResult, error) {
	if taker != Buy && taker != Sell {
		return nil, xerr.New(xerr.Validation, "Choose buy or sell.")
	}
	if qty <= 0 {
		return nil, xerr.New(xerr.Validation, "Quantity must be a positive whole number.")
	}
	if limit < 0 {
		return nil, xerr.New(xerr.Validation, "Price limit can't be negative.")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	res := &MatchResult{Item: item, Edition: edition, Taker: taker, Quantity: qty}
	m := b.market(item, false)
	var bk *book
	if m != nil {
		bk = m.book(edition, false)
	}
	if bk == nil {
		metrics.MarketMatches.WithLabelValues(taker.String(), "no_liquidity").Inc()
		return nil, xerr.NewErrCode(xerr.InsufficientLiquidity)
	}

	planned, need, err := b.plan(bk, res, b.now())
	if err != nil {
		metrics.MarketMatches.WithLabelValues(taker.String(), "overflow").Inc()
		return nil, err
	}
	if need > 0 {
		metrics.MarketMatches.WithLabelValues(taker.String(), "no_liquidity").Inc()
		return nil, xerr.NewErrCode(xerr.InsufficientLiquidity)
	}
	if limit > 0 && ((taker == Buy && res.TotalCost > limit) || (taker == Sell && res.TotalCost < limit)) {
		metrics.MarketMatches.WithLabelValues(taker.String(), "price_moved").Inc()
		return nil, xerr.NewErrCode(xerr.PriceMoved)
	}

	for i, o := range planned {
		o.Filled += res.Fills[i].Quantity
	}
	last := res.Fills[len(res.Fills)-1].Price
	if taker == Buy {
		m.lastBuy = last
	} else {
		m.lastSell = last
	}
	metrics.MarketMatches.WithLabelValues(taker.String(), "ok").Inc()
	return res, nil
}

// plan walks bk for res.Taker and fills in res without touching any order.
// It returns the orders consumed, aligned with res.Fills, and the quantity
// still uncovered. A total that does not fit in int64 is a Validation error.
func (b *Book) plan(bk *book, res *MatchResult, now time.Time) ([]*Order, int64, error) {
	need := res.Quantity
	var planned []*Order
	overflow := false
	bk.walk(res.Taker.Opposite(), func(o *Order) bool {
		if !b.live(o, now) {
			return true
		}
		take := min(o.Remaining(), need)
		if o.Price > (math.MaxInt64-res.TotalCost)/take {
			overflow = true
			return false
		}
		planned = append(planned, o)
		res.Fills = append(res.Fills, Fill{OrderID: o.ID, Owner: o.Owner, Price: o.Price, Quantity: take})
		res.TotalCost += o.Price * take
		need -= take
		return need > 0
	})
	if overflow {
		return nil, need, xerr.New(xerr.Validation, "That trade is too large to price.")
	}
	return planned, need, nil
}

// Plan reports what Match would do right now without applying it.
func (b *Book) Plan(item string, taker Side, qty int64, edition int64) (*MatchResult, error) {
	if taker != Buy && taker != Sell {
		return nil, xerr.New(xerr.Validation, "Choose buy or sell.")
	}
	if qty <= 0 {
		return nil, xerr.New(xerr.Validation, "Quantity must be a positive whole number.")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := &MatchResult{Item: item, Edition: edition, Taker: taker, Quantity: qty}
	m := b.market(item, false)
	if m == nil || m.book(edition, false) == nil {
		return nil, xerr.NewErrCode(xerr.InsufficientLiquidity)
	}
	_, need, err := b.plan(m.book(edition, false), res, b.now())
	if err != nil {
		return nil, err
	}
	if need > 0 {
		return nil, xerr.NewErrCode(xerr.InsufficientLiquidity)
	}
	return res, nil
}

// Order returns a copy of one resting order.
func (b *Book) Order(item string, orderID uint64) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, _, o, err := b.lookup(item, orderID)
	if err != nil {
		return Order{}, false
	}
	return *o, true
}

func (b *Book) lookup(item string, id uint64) (*itemMarket, *book, *Order, error) {
	m := b.market(item, false)
	if m == nil {
		return nil, nil, nil, xerr.NewErrCode(xerr.NotFound)
	}
	bk, o := m.find(id)
	if o == nil {
		return nil, nil, nil, xerr.NewErrCode(xerr.NotFound)
	}
	return m, bk, o, nil
}

// Claim marks amount filled units as collected by the order's owner.
// Expired orders stay claimable.
func (b *Book) Claim(item string, orderID uint64, amount int64) (Order, error) {
	if amount <= 0 {
		return Order{}, xerr.New(xerr.Validation, "Claim amount must be positive.")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, o, err := b.lookup(item, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Claimed+amount > o.Filled {
		return Order{}, xerr.New(xerr.Validation, "There isn't that much to claim on this order.")
	}
	o.Claimed += amount
	return *o, nil
}

// Cancel removes an order owned by owner and returns it as it was at removal;
// the caller refunds Remaining(). Orders with unclaimed fills must be claimed first.
func (b *Book) Cancel(item string, orderID uint64, owner string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, bk, o, err := b.lookup(item, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Owner != owner {
		return Order{}, xerr.NewErrCode(xerr.NotFound)
	}
	if o.Unclaimed() > 0 {
		return Order{}, xerr.NewErrCode(xerr.MustClaim)
	}
	bk.remove(orderID)
	return *o, nil
}

// Prune drops orders that are fully filled and fully claimed. It returns how
// many were removed.
func (b *Book) Prune(item string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.market(item, false)
	if m == nil {
		return 0
	}
	n := 0
	for ed, bk := range m.books {
		var done []uint64
		for id, node := range bk.byID {
			if node.order.Status() == Claimed {
				done = append(done, id)
			}
		}
		for _, id := range done {
			bk.remove(id)
			n++
		}
		if bk.len() == 0 {
			delete(m.books, ed)
		}
	}
	return n
}

// OrdersOf lists every order owner has resting, including expired and
// filled-but-unclaimed ones, by item then id.
func (b *Book) OrdersOf(owner string) []OwnedOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []OwnedOrder
	for item, m := range b.markets {
		for _, bk := range m.books {
			for _, n := range bk.byID {
				if n.order.Owner == owner {
					out = append(out, OwnedOrder{Item: item, Order: *n.order})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Item != out[j].Item {
			return out[i].Item < out[j].Item
		}
		return out[i].Order.ID < out[j].Order.ID
	})
	return out
}

// Snapshot aggregates the live orders of one book by price, best first.
func (b *Book) Snapshot(item string, edition int64) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{Item: item, Edition: edition, Bids: []Level{}, Asks: []Level{}}
	m := b.market(item, false)
	if m == nil {
		return snap
	}
	snap.LastBuy, snap.LastSell = m.lastBuy, m.lastSell
	bk := m.book(edition, false)
	if bk == nil {
		return snap
	}
	now := b.now()
	collect := func(s Side) []Level {
		levels := []Level{}
		bk.walk(s, func(o *Order) bool {
			if !b.live(o, now) {
				return true
			}
			if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
				levels[n-1].Quantity += o.Remaining()
				levels[n-1].Orders++
			} else {
				levels = append(levels, Level{Price: o.Price, Quantity: o.Remaining(), Orders: 1})
			}
			return true
		})
		return levels
	}
	snap.Bids = collect(Buy)
	snap.Asks = collect(Sell)
	if len(snap.Bids) > 0 {
		snap.InstaSell = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.InstaBuy = snap.Asks[0].Price
	}
	return snap
}

// Export copies one item's market into its persisted form. Orders are in
// listing order so Import restores time priority.
func (b *Book) Export(item string) (Doc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.market(item, false)
	if m == nil {
		return Doc{Item: item, NextID: 1}, false
	}
	doc := Doc{Item: item, NextID: m.nextID, LastBuy: m.lastBuy, LastSell: m.lastSell, Orders: []Order{}}
	for _, bk := range m.books {
		for _, n := range bk.byID {
			doc.Orders = append(doc.Orders, *n.order)
		}
	}
	sort.Slice(doc.Orders, func(i, j int) bool { return doc.Orders[i].ID < doc.Orders[j].ID })
	return doc, true
}

// Import replaces the market of doc.Item with doc's contents.
func (b *Book) Import(doc Doc) error {
	if doc.Item == "" {
		return xerr.New(xerr.DataIntegrity, "market document has no item")
	}
	m := newItemMarket(doc.Item)
	m.lastBuy, m.lastSell = doc.LastBuy, doc.LastSell
	orders := append([]Order(nil), doc.Orders...)
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	for i := range orders {
		o := orders[i]
		if (o.Side != Buy && o.Side != Sell) || o.Price <= 0 || o.Quantity <= 0 ||
			o.Claimed < 0 || o.Claimed > o.Filled || o.Filled > o.Quantity || o.Edition < 0 {
			return xerr.New(xerr.DataIntegrity, "market document holds an invalid order")
		}
		if o.ID >= m.nextID {
			m.nextID = o.ID + 1
		}
		m.book(o.Edition, true).add(&o)
	}
	if doc.NextID > m.nextID {
		m.nextID = doc.NextID
	}
	b.mu.Lock()
	b.markets[doc.Item] = m
	b.mu.Unlock()
	return nil
}
