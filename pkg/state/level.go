package state

import "github.com/perpl-dex/state-replica/pkg/num"

// Level is one price level of an order book side: the head/tail of an
// intrusive doubly-linked list of orders plus cached aggregates so
// callers never need to walk the chain to answer "how much size rests
// here". Empty iff Head is the zero OrderId.
type Level struct {
	Head        OrderId
	Tail        OrderId
	CachedSize  num.UD64
	CachedCount uint32
}

// Empty reports whether the level has no resting orders.
func (l *Level) Empty() bool { return l.Head == 0 }

func (l *Level) addSize(size num.UD64) {
	l.CachedSize = l.CachedSize.Add(size)
	l.CachedCount++
}

func (l *Level) subSize(size num.UD64) {
	l.CachedSize = l.CachedSize.Sub(size)
	l.CachedCount--
}

func (l *Level) updateSize(old, new num.UD64) {
	l.CachedSize = l.CachedSize.Sub(old).Add(new)
}
