package engine

import (
	"context"
	"sync/atomic"
	"time"
)

type EventType uint8

const (
	EvListed    EventType = iota + 1 // order rested on a book
	EvTrade                          // insta-buy or insta-sell matched
	EvCancelled                      // order withdrawn, remainder refunded
	EvClaimed                        // owner collected fills
	EvDaily                          // daily reward granted
)

func (t EventType) String() string {
	switch t {
	case EvListed:
		return "listed"
	case EvTrade:
		return "trade"
	case EvCancelled:
		return "cancelled"
	case EvClaimed:
		return "claimed"
	case EvDaily:
		return "daily"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Event tells downstream notifiers (chat replies, leaderboards) that state changed.
type Event struct {
	Type     EventType `json:"type"`
	At       time.Time `json:"at"`
	User     string    `json:"user"`
	Item     string    `json:"item,omitempty"`
	Side     string    `json:"side,omitempty"` // taker side of a trade, order side of a listing
	Edition  int64     `json:"edition,omitempty"`
	OrderID  uint64    `json:"order_id,omitempty"`
	Quantity int64     `json:"qty,omitempty"`
	// Amount is coins moved, if any.
	Amount int64 `json:"amount,omitempty"`
	// Seq is the journal sequence of a trade, 0 when not journaled.
	Seq uint64 `json:"seq,omitempty"`
}

// ChanBus fans events out to a single consumer. Publishing never blocks a
// lane: when the buffer is full the event is counted as dropped.
type ChanBus struct {
	ch      chan Event
	dropped uint64
}

func NewChanBus(size int) *ChanBus {
	if size <= 0 {
		size = 1024
	}
	return &ChanBus{ch: make(chan Event, size)}
}

func (b *ChanBus) TryPublish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		atomic.AddUint64(&b.dropped, 1)
		return false
	}
}

func (b *ChanBus) C() <-chan Event { return b.ch }
func (b *ChanBus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }

func (b *ChanBus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
