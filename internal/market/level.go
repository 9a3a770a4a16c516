package market

import "github.com/huandu/skiplist"

// priceLevel holds every order at one price in listing order.
type priceLevel struct {
	price int64
	head  *lvNode
	tail  *lvNode
	size  int
}

type lvNode struct {
	prev  *lvNode
	next  *lvNode
	order *Order
	lv    *priceLevel
}

// pushBack appends n; same-price orders therefore keep time priority.
func (l *priceLevel) pushBack(n *lvNode) {
	n.prev, n.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.size++
}

func (l *priceLevel) remove(n *lvNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.size--
}

func (l *priceLevel) empty() bool { return l.size == 0 }

// priceOrder sorts skiplist keys (int64 prices) best-first for one side.
type priceOrder int

const (
	ascending  priceOrder = 0 // asks: lowest first
	descending priceOrder = 1 // bids: highest first
)

var _ skiplist.Comparable = (*priceOrder)(nil)

func (p priceOrder) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(int64), rhs.(int64)
	var c int
	if l < r {
		c = -1
	} else if l > r {
		c = 1
	}
	if p == descending {
		c = -c
	}
	return c
}

func (p priceOrder) CalcScore(key interface{}) float64 {
	if p == descending {
		return -float64(key.(int64))
	}
	return float64(key.(int64))
}

// book is one independent order book: the fungible book of an item, or the
// book of a single edition.
type book struct {
	bids *skiplist.SkipList
	asks *skiplist.SkipList
	byID map[uint64]*lvNode
}

func newBook() *book {
	return &book{
		bids: skiplist.New(descending),
		asks: skiplist.New(ascending),
		byID: make(map[uint64]*lvNode),
	}
}

func (b *book) levels(s Side) *skiplist.SkipList {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

func (b *book) add(o *Order) {
	if _, exists := b.byID[o.ID]; exists {
		return
	}
	list := b.levels(o.Side)
	var lv *priceLevel
	if e := list.Get(o.Price); e != nil {
		lv = e.Value.(*priceLevel)
	} else {
		lv = &priceLevel{price: o.Price}
		list.Set(o.Price, lv)
	}
	n := &lvNode{order: o, lv: lv}
	lv.pushBack(n)
	b.byID[o.ID] = n
}

func (b *book) get(id uint64) *Order {
	if n := b.byID[id]; n != nil {
		return n.order
	}
	return nil
}

func (b *book) remove(id uint64) *Order {
	n := b.byID[id]
	if n == nil {
		return nil
	}
	lv := n.lv
	lv.remove(n)
	delete(b.byID, id)
	if lv.empty() {
		b.levels(n.order.Side).Remove(lv.price)
	}
	return n.order
}

// walk visits side s in price-time priority until fn returns false.
func (b *book) walk(s Side, fn func(o *Order) bool) {
	for e := b.levels(s).Front(); e != nil; e = e.Next() {
		lv := e.Value.(*priceLevel)
		for n := lv.head; n != nil; n = n.next {
			if !fn(n.order) {
				return
			}
		}
	}
}

func (b *book) len() int { return len(b.byID) }
