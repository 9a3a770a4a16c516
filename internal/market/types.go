package market

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite is the side a taker on s trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Status uint8

const (
	Open            Status = iota + 1 // nothing filled yet
	PartiallyFilled                   // 0 < filled < quantity
	Filled                            // filled == quantity, some fills unclaimed
	Claimed                           // filled == quantity == claimed; terminal
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Claimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Order is a resting buy or sell. Invariant: 0 <= Claimed <= Filled <= Quantity.
type Order struct {
	ID       uint64    `json:"id"`
	Owner    string    `json:"owner"`
	Side     Side      `json:"side"`
	Price    int64     `json:"price"`
	Quantity int64     `json:"quantity"`
	Filled   int64     `json:"filled"`
	Claimed  int64     `json:"claimed"`
	ListedAt time.Time `json:"listedAt"`
	// Edition is set for unique items; 0 means the fungible book.
	Edition int64 `json:"edition,omitempty"`
}

func (o *Order) Remaining() int64 { return o.Quantity - o.Filled }
func (o *Order) Unclaimed() int64 { return o.Filled - o.Claimed }

func (o *Order) Status() Status {
	switch {
	case o.Filled == 0:
		return Open
	case o.Filled < o.Quantity:
		return PartiallyFilled
	case o.Claimed < o.Filled:
		return Filled
	default:
		return Claimed
	}
}

// Expired reports whether the order is past ttl at now. A zero ttl never expires.
// Expiry only hides an order from quotes and matching.
func (o *Order) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && o.ListedAt.Add(ttl).Before(now)
}

// Fill is the part of one resting order consumed by a match.
type Fill struct {
	OrderID  uint64 `json:"orderId"`
	Owner    string `json:"owner"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type MatchResult struct {
	Item     string `json:"item"`
	Edition  int64  `json:"edition,omitempty"`
	Taker    Side   `json:"taker"`
	Quantity int64  `json:"quantity"`
	Fills    []Fill `json:"fills"`
	// TotalCost is the exact sum of price*quantity over Fills.
	TotalCost int64 `json:"totalCost"`
}

// AvgPrice is the per-unit price of the match, for display.
func (r *MatchResult) AvgPrice() decimal.Decimal {
	if r.Quantity == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.TotalCost).Div(decimal.NewFromInt(r.Quantity))
}

// Level aggregates the live orders at one price.
type Level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Snapshot is one page of a book for the renderer. Zero prices mean none.
type Snapshot struct {
	Item      string  `json:"item"`
	Edition   int64   `json:"edition,omitempty"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	InstaBuy  int64   `json:"instaBuy"`
	InstaSell int64   `json:"instaSell"`
	LastBuy   int64   `json:"lastBuy"`
	LastSell  int64   `json:"lastSell"`
}

// OwnedOrder pairs an order with the item it rests on.
type OwnedOrder struct {
	Item  string `json:"item"`
	Order Order  `json:"order"`
}

// Doc is the persisted form of one item's market.
type Doc struct {
	Item     string  `json:"item"`
	NextID   uint64  `json:"nextId"`
	LastBuy  int64   `json:"lastBuy"`
	LastSell int64   `json:"lastSell"`
	Orders   []Order `json:"orders"`
}
