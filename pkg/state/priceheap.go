package state

import (
	"container/heap"

	"github.com/perpl-dex/state-replica/pkg/num"
)

// priceHeap tracks the set of occupied price levels on one side of a
// book, giving O(log L) best-price access and removal. It generalizes
// the teacher's MaxPriceHeap/MinPriceHeap (container/heap over int64
// ticks) to decimal prices, adding an index so a price can be located
// and removed by value in O(log L) instead of a linear scan.
type priceHeap struct {
	prices []num.UD64
	index  map[string]int
	// ascending orders asks (best = lowest price) on top;
	// descending orders bids (best = highest price) on top.
	ascending bool
}

func newPriceHeap(ascending bool) *priceHeap {
	return &priceHeap{index: make(map[string]int), ascending: ascending}
}

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	c := h.prices[i].Cmp(h.prices[j])
	if h.ascending {
		return c < 0
	}
	return c > 0
}

func (h *priceHeap) Swap(i, j int) {
	h.prices[i], h.prices[j] = h.prices[j], h.prices[i]
	h.index[h.prices[i].String()] = i
	h.index[h.prices[j].String()] = j
}

func (h *priceHeap) Push(x any) {
	p := x.(num.UD64)
	h.index[p.String()] = len(h.prices)
	h.prices = append(h.prices, p)
}

func (h *priceHeap) Pop() any {
	old := h.prices
	n := len(old)
	p := old[n-1]
	h.prices = old[:n-1]
	delete(h.index, p.String())
	return p
}

// peek returns the best price without removing it.
func (h *priceHeap) peek() (num.UD64, bool) {
	if len(h.prices) == 0 {
		return num.UD64{}, false
	}
	return h.prices[0], true
}

// insert adds a price if it is not already present.
func (h *priceHeap) insert(p num.UD64) {
	if _, ok := h.index[p.String()]; ok {
		return
	}
	heap.Push(h, p)
}

// remove drops a price if present.
func (h *priceHeap) remove(p num.UD64) {
	idx, ok := h.index[p.String()]
	if !ok {
		return
	}
	heap.Remove(h, idx)
}
