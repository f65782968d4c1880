package state

import (
	"container/heap"
	"sort"

	"github.com/perpl-dex/state-replica/pkg/num"
)

// bookOrder is an Order plus the intrusive doubly-linked-list pointers
// scoped to its price level. Prev/Next are zero (OrderId's "none") at
// the head/tail respectively.
type bookOrder struct {
	Order Order
	Prev  OrderId
	Next  OrderId
}

// OrderBook is the per-perpetual L3 book: an order-id-indexed arena plus
// two price-ordered level maps (asks ascending, bids descending). It is
// the single owner of every linked-list pointer it hands out; no
// external reference to a bookOrder or Level may outlive the mutation
// that produced it (§5).
type OrderBook struct {
	orders map[OrderId]*bookOrder

	askLevels map[string]*Level
	bidLevels map[string]*Level
	asks      *priceHeap
	bids      *priceHeap
}

// NewOrderBook returns an empty book.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		orders:    make(map[OrderId]*bookOrder),
		askLevels: make(map[string]*Level),
		bidLevels: make(map[string]*Level),
		asks:      newPriceHeap(true),
		bids:      newPriceHeap(false),
	}
}

func (b *OrderBook) levelsFor(side OrderSide) map[string]*Level {
	if side == Ask {
		return b.askLevels
	}
	return b.bidLevels
}

func (b *OrderBook) heapFor(side OrderSide) *priceHeap {
	if side == Ask {
		return b.asks
	}
	return b.bids
}

func (b *OrderBook) getOrCreateLevel(side OrderSide, price num.UD64) *Level {
	levels := b.levelsFor(side)
	key := price.String()
	lvl, ok := levels[key]
	if !ok {
		lvl = &Level{}
		levels[key] = lvl
		b.heapFor(side).insert(price)
	}
	return lvl
}

func (b *OrderBook) pruneIfEmpty(side OrderSide, price num.UD64, lvl *Level) {
	if !lvl.Empty() {
		return
	}
	key := price.String()
	delete(b.levelsFor(side), key)
	b.heapFor(side).remove(price)
}

// Add appends order at the tail of its price level's queue.
func (b *OrderBook) Add(order Order) error {
	if order.Size.IsZero() || order.Size.Sign() < 0 {
		return ErrInvalidOrderSize
	}
	if order.Price.IsZero() || order.Price.Sign() < 0 {
		return ErrInvalidOrderPrice
	}
	if _, exists := b.orders[order.OrderId]; exists {
		return ErrOrderAlreadyExists
	}

	side := order.Type.Side()
	lvl := b.getOrCreateLevel(side, order.Price)

	bo := &bookOrder{Order: order, Prev: lvl.Tail, Next: 0}
	if lvl.Tail != 0 {
		b.orders[lvl.Tail].Next = order.OrderId
	} else {
		lvl.Head = order.OrderId
	}
	lvl.Tail = order.OrderId
	lvl.addSize(order.Size)
	b.orders[order.OrderId] = bo
	return nil
}

// UpdateSizeInPlace shrinks an order's size without touching its queue
// position. newSize must be strictly smaller than the order's current
// size (a partial fill or amend-down); the cached level size is
// adjusted by the delta.
func (b *OrderBook) UpdateSizeInPlace(orderId OrderId, newSize num.UD64) error {
	bo, ok := b.orders[orderId]
	if !ok {
		return ErrOrderNotFound
	}
	if newSize.IsZero() || newSize.Cmp(bo.Order.Size) >= 0 {
		return ErrInvalidOrderSize
	}
	lvl := b.levelsFor(bo.Order.Type.Side())[bo.Order.Price.String()]
	if lvl == nil {
		return ErrLevelNotFound
	}
	lvl.updateSize(bo.Order.Size, newSize)
	bo.Order.Size = newSize
	return nil
}

// MoveToBack relocates an order to the tail of updated's price level
// (its own level if the price is unchanged, otherwise the new level),
// replacing its stored fields with updated's. If the order is already
// at the tail of the destination level, this degenerates to an
// in-place data update with no relink.
func (b *OrderBook) MoveToBack(updated Order) error {
	bo, ok := b.orders[updated.OrderId]
	if !ok {
		return ErrOrderNotFound
	}
	oldSide := bo.Order.Type.Side()
	oldPrice := bo.Order.Price
	newSide := updated.Type.Side()
	newPrice := updated.Price

	samePriceLevel := oldSide == newSide && oldPrice.Cmp(newPrice) == 0
	if samePriceLevel {
		lvl := b.levelsFor(oldSide)[oldPrice.String()]
		if lvl == nil {
			return ErrLevelNotFound
		}
		if lvl.Tail == updated.OrderId {
			lvl.updateSize(bo.Order.Size, updated.Size)
			bo.Order = updated
			return nil
		}
	}

	if err := b.unlink(bo); err != nil {
		return err
	}
	delete(b.orders, updated.OrderId)

	lvl := b.getOrCreateLevel(newSide, newPrice)
	nb := &bookOrder{Order: updated, Prev: lvl.Tail, Next: 0}
	if lvl.Tail != 0 {
		b.orders[lvl.Tail].Next = updated.OrderId
	} else {
		lvl.Head = updated.OrderId
	}
	lvl.Tail = updated.OrderId
	lvl.addSize(updated.Size)
	b.orders[updated.OrderId] = nb
	return nil
}

// unlink removes bo from its level's chain and adjusts cached
// aggregates, without touching the order-id index. Callers must delete
// from the index and prune the level themselves.
func (b *OrderBook) unlink(bo *bookOrder) error {
	side := bo.Order.Type.Side()
	price := bo.Order.Price
	lvl := b.levelsFor(side)[price.String()]
	if lvl == nil {
		return ErrLevelNotFound
	}
	if bo.Prev == 0 {
		lvl.Head = bo.Next
	} else {
		b.orders[bo.Prev].Next = bo.Next
	}
	if bo.Next == 0 {
		lvl.Tail = bo.Prev
	} else {
		b.orders[bo.Next].Prev = bo.Prev
	}
	lvl.subSize(bo.Order.Size)
	b.pruneIfEmpty(side, price, lvl)
	return nil
}

// RemoveByID unlinks and frees order_id, pruning its level if it became
// empty.
func (b *OrderBook) RemoveByID(orderId OrderId) (Order, error) {
	bo, ok := b.orders[orderId]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if err := b.unlink(bo); err != nil {
		return Order{}, err
	}
	delete(b.orders, orderId)
	return bo.Order, nil
}

// Get returns the order for orderId in O(1), if present.
func (b *OrderBook) Get(orderId OrderId) (Order, bool) {
	bo, ok := b.orders[orderId]
	if !ok {
		return Order{}, false
	}
	return bo.Order, true
}

// Len returns the total number of resting orders across both sides.
func (b *OrderBook) Len() int { return len(b.orders) }

// BestAsk returns the lowest ask price and its cached level size.
func (b *OrderBook) BestAsk() (price, size num.UD64, ok bool) {
	p, found := b.asks.peek()
	if !found {
		return num.UD64{}, num.UD64{}, false
	}
	lvl := b.askLevels[p.String()]
	return p, lvl.CachedSize, true
}

// BestBid returns the highest bid price and its cached level size.
func (b *OrderBook) BestBid() (price, size num.UD64, ok bool) {
	p, found := b.bids.peek()
	if !found {
		return num.UD64{}, num.UD64{}, false
	}
	lvl := b.bidLevels[p.String()]
	return p, lvl.CachedSize, true
}

// LevelSnapshot is one price level's aggregate, as returned by Levels.
type LevelSnapshot struct {
	Price num.UD64
	Size  num.UD64
}

// Levels returns every occupied price level on side, best price first
// (lowest-to-highest for asks, highest-to-lowest for bids).
func (b *OrderBook) Levels(side OrderSide) []LevelSnapshot {
	heap := b.heapFor(side)
	levels := b.levelsFor(side)

	prices := make([]num.UD64, len(heap.prices))
	copy(prices, heap.prices)
	sort.Slice(prices, func(i, j int) bool {
		c := prices[i].Cmp(prices[j])
		if side == Ask {
			return c < 0
		}
		return c > 0
	})

	out := make([]LevelSnapshot, len(prices))
	for i, p := range prices {
		out[i] = LevelSnapshot{Price: p, Size: levels[p.String()].CachedSize}
	}
	return out
}

// ImpactResult is the outcome of walking a book side to fill wantSize.
type ImpactResult struct {
	LastFillPrice num.UD64
	FilledSize    num.UD64
	AvgPrice      num.UD64
}

// Impact walks levels on side from the spread outward, consuming
// wantSize, and reports the resulting last price and volume-weighted
// average price. It stops early if the side is exhausted, filling up to
// the available depth only. Read-only: the book is left untouched.
func (b *OrderBook) Impact(side OrderSide, wantSize num.UD64) (ImpactResult, bool) {
	h := b.heapFor(side)
	levels := b.levelsFor(side)

	var popped []num.UD64
	defer func() {
		for _, p := range popped {
			heap.Push(h, p)
		}
	}()

	remaining := wantSize
	filled := num.ZeroUD64
	notional := num.ZeroUD256
	var lastPrice num.UD64
	any := false

	for h.Len() > 0 && remaining.Sign() > 0 {
		price := h.prices[0]
		lvl := levels[price.String()]
		take := lvl.CachedSize
		if take.Cmp(remaining) > 0 {
			take = remaining
		}
		notional = notional.Add(price.ToUD256().Mul(take.ToUD256()))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
		lastPrice = price
		any = true
		popped = append(popped, heap.Pop(h).(num.UD64))
	}

	if !any {
		return ImpactResult{}, false
	}
	avg256, err := notional.Div(filled.ToUD256())
	if err != nil {
		return ImpactResult{}, false
	}
	avg, err := avg256.Narrow64()
	if err != nil {
		avg = lastPrice
	}
	return ImpactResult{LastFillPrice: lastPrice, FilledSize: filled, AvgPrice: avg}, true
}

// AddOrdersFromSnapshot rebuilds the book structure from a flat batch of
// orders carrying prev/next link hints, per §4.1's reconstruction
// algorithm. A hint naming an order id that is not in the batch fails
// the whole call with ErrDanglingOrderReference. Orders whose hints
// point outside their own price/side group, or carry no hint at all,
// are treated as head/tail terminators; when an entire
// price/side group carries no hints, members are chained in input
// order (an explicit, implementation-defined fallback, see SPEC_FULL.md
// open question #2).
func (b *OrderBook) AddOrdersFromSnapshot(orders []Order) error {
	present := make(map[OrderId]Order, len(orders))
	for _, o := range orders {
		if o.Size.IsZero() || o.Size.Sign() < 0 {
			return ErrInvalidOrderSize
		}
		if o.Price.IsZero() || o.Price.Sign() < 0 {
			return ErrInvalidOrderPrice
		}
		if _, exists := present[o.OrderId]; exists {
			return ErrOrderAlreadyExists
		}
		present[o.OrderId] = o
	}
	for _, o := range present {
		if o.PrevHint != 0 {
			if _, ok := present[o.PrevHint]; !ok {
				return ErrDanglingOrderReference
			}
		}
		if o.NextHint != 0 {
			if _, ok := present[o.NextHint]; !ok {
				return ErrDanglingOrderReference
			}
		}
	}

	type groupKey struct {
		side  OrderSide
		price string
	}
	groups := make(map[groupKey][]Order)
	for _, o := range orders {
		k := groupKey{o.Type.Side(), o.Price.String()}
		groups[k] = append(groups[k], o)
	}

	for k, members := range groups {
		next := make(map[OrderId]OrderId)
		prev := make(map[OrderId]OrderId)
		local := make(map[OrderId]struct{}, len(members))
		for _, o := range members {
			local[o.OrderId] = struct{}{}
		}
		hasLinks := false
		for _, o := range members {
			if o.PrevHint != 0 || o.NextHint != 0 {
				hasLinks = true
				break
			}
		}

		var heads, tails []OrderId
		if hasLinks {
			for _, o := range members {
				if o.PrevHint == 0 {
					heads = append(heads, o.OrderId)
				} else if _, ok := local[o.PrevHint]; !ok {
					heads = append(heads, o.OrderId)
				} else {
					prev[o.OrderId] = o.PrevHint
				}
				if o.NextHint == 0 {
					tails = append(tails, o.OrderId)
				} else if _, ok := local[o.NextHint]; !ok {
					tails = append(tails, o.OrderId)
				} else {
					next[o.OrderId] = o.NextHint
				}
			}
		} else {
			for i, o := range members {
				if i > 0 {
					prev[o.OrderId] = members[i-1].OrderId
					next[members[i-1].OrderId] = o.OrderId
				}
			}
			heads = []OrderId{members[0].OrderId}
			tails = []OrderId{members[len(members)-1].OrderId}
		}
		if len(heads) != 1 || len(tails) != 1 {
			return ErrDanglingOrderReference
		}

		lvl := &Level{Head: heads[0], Tail: tails[0]}
		for _, o := range members {
			lvl.addSize(o.Size)
			b.orders[o.OrderId] = &bookOrder{Order: o, Prev: prev[o.OrderId], Next: next[o.OrderId]}
		}
		b.levelsFor(k.side)[k.price] = lvl
		b.heapFor(k.side).insert(members[0].Price)
	}
	return nil
}
