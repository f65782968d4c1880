package state

import (
	"testing"

	"github.com/perpl-dex/state-replica/pkg/num"
)

func askOrder(id OrderId, price, size string) Order {
	return Order{OrderId: id, Type: OpenShort, Price: priceFromString(price), Size: priceFromString(size)}
}

func bidOrder(id OrderId, price, size string) Order {
	return Order{OrderId: id, Type: OpenLong, Price: priceFromString(price), Size: priceFromString(size)}
}

func priceFromString(s string) num.UD64 {
	v, err := num.ParseUD64(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestOrderBookPartialFillPreservesPriority(t *testing.T) {
	b := NewOrderBook()
	a := askOrder(1, "100", "5.0")
	c := askOrder(2, "100", "3.0")
	if err := b.Add(a); err != nil {
		t.Fatalf("add A: %v", err)
	}
	if err := b.Add(c); err != nil {
		t.Fatalf("add B: %v", err)
	}

	newSize := priceFromString("2.0")
	if err := b.UpdateSizeInPlace(1, newSize); err != nil {
		t.Fatalf("update in place: %v", err)
	}

	lvl := b.askLevels[priceFromString("100").String()]
	if lvl.CachedCount != 2 {
		t.Fatalf("count = %d, want 2", lvl.CachedCount)
	}
	if lvl.CachedSize.String() != priceFromString("5.0").String() {
		t.Fatalf("cached size = %s, want 5.0", lvl.CachedSize.String())
	}
	if lvl.Head != 1 || lvl.Tail != 2 {
		t.Fatalf("FIFO order broken: head=%d tail=%d", lvl.Head, lvl.Tail)
	}
	got, _ := b.Get(1)
	if got.Size.String() != newSize.String() {
		t.Fatalf("order 1 size = %s, want %s", got.Size.String(), newSize.String())
	}
}

func TestOrderBookSizeIncreaseLosesPriority(t *testing.T) {
	b := NewOrderBook()
	_ = b.Add(askOrder(1, "100", "1"))
	_ = b.Add(askOrder(2, "100", "2"))
	_ = b.Add(askOrder(3, "100", "3"))

	updated := askOrder(2, "100", "2.5")
	if err := b.MoveToBack(updated); err != nil {
		t.Fatalf("move to back: %v", err)
	}

	lvl := b.askLevels[priceFromString("100").String()]
	order := lvl.Head
	var fifo []OrderId
	for order != 0 {
		fifo = append(fifo, order)
		bo := b.orders[order]
		order = bo.Next
	}
	want := []OrderId{1, 3, 2}
	if len(fifo) != len(want) {
		t.Fatalf("fifo = %v, want %v", fifo, want)
	}
	for i := range want {
		if fifo[i] != want[i] {
			t.Fatalf("fifo = %v, want %v", fifo, want)
		}
	}
	if lvl.CachedSize.String() != priceFromString("6.5").String() {
		t.Fatalf("cached size = %s, want 6.5", lvl.CachedSize.String())
	}
}

func TestOrderBookCrossLevelMove(t *testing.T) {
	b := NewOrderBook()
	_ = b.Add(askOrder(7, "100", "1.0"))

	updated := askOrder(7, "110", "1.0")
	if err := b.MoveToBack(updated); err != nil {
		t.Fatalf("move to back: %v", err)
	}

	if _, ok := b.askLevels[priceFromString("100").String()]; ok {
		t.Fatalf("level 100 should have been pruned")
	}
	lvl110 := b.askLevels[priceFromString("110").String()]
	if lvl110 == nil || lvl110.CachedCount != 1 {
		t.Fatalf("expected single order at 110")
	}
	got, ok := b.Get(7)
	if !ok || got.Price.String() != priceFromString("110").String() {
		t.Fatalf("order 7 price = %v, want 110", got.Price)
	}
	if lvl110.Head != 7 {
		t.Fatalf("fifo at 110 should be [7]")
	}
}

func TestOrderBookRemoveByIDRoundTrip(t *testing.T) {
	b := NewOrderBook()
	o := askOrder(1, "100", "1.0")
	if err := b.Add(o); err != nil {
		t.Fatalf("add: %v", err)
	}
	removed, err := b.RemoveByID(1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.OrderId != 1 {
		t.Fatalf("removed wrong order")
	}
	if b.Len() != 0 {
		t.Fatalf("book should be empty after remove")
	}
	if _, ok := b.askLevels[priceFromString("100").String()]; ok {
		t.Fatalf("level should have been pruned")
	}
}

func TestOrderBookRemoveUnknownNotFound(t *testing.T) {
	b := NewOrderBook()
	if _, err := b.RemoveByID(99); err != ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderBookAddInvalid(t *testing.T) {
	b := NewOrderBook()
	zeroSize := askOrder(1, "100", "0")
	if err := b.Add(zeroSize); err != ErrInvalidOrderSize {
		t.Fatalf("expected ErrInvalidOrderSize, got %v", err)
	}
	zeroPrice := askOrder(2, "0", "1")
	if err := b.Add(zeroPrice); err != ErrInvalidOrderPrice {
		t.Fatalf("expected ErrInvalidOrderPrice, got %v", err)
	}
}

func TestOrderBookImpactWalksLevels(t *testing.T) {
	b := NewOrderBook()
	_ = b.Add(askOrder(1, "100", "5"))
	_ = b.Add(askOrder(2, "101", "5"))

	res, ok := b.Impact(Ask, priceFromString("7"))
	if !ok {
		t.Fatalf("expected impact result")
	}
	if res.FilledSize.String() != priceFromString("7").String() {
		t.Fatalf("filled = %s, want 7", res.FilledSize.String())
	}
	if res.LastFillPrice.String() != priceFromString("101").String() {
		t.Fatalf("last fill price = %s, want 101", res.LastFillPrice.String())
	}
	// book must be untouched by a read-only impact walk
	if _, _, ok := b.BestAsk(); !ok {
		t.Fatalf("book should be unchanged after impact")
	}
}

func TestOrderBookLevelsSortedBestFirst(t *testing.T) {
	b := NewOrderBook()
	_ = b.Add(askOrder(1, "102", "1"))
	_ = b.Add(askOrder(2, "100", "2"))
	_ = b.Add(askOrder(3, "100", "3"))
	_ = b.Add(bidOrder(4, "98", "1"))
	_ = b.Add(bidOrder(5, "99", "4"))

	asks := b.Levels(Ask)
	if len(asks) != 2 {
		t.Fatalf("ask levels = %d, want 2", len(asks))
	}
	if asks[0].Price.String() != "100" || asks[0].Size.String() != "5" {
		t.Fatalf("best ask level = %+v, want price 100 size 5", asks[0])
	}
	if asks[1].Price.String() != "102" {
		t.Fatalf("second ask level price = %s, want 102", asks[1].Price.String())
	}

	bids := b.Levels(Bid)
	if len(bids) != 2 {
		t.Fatalf("bid levels = %d, want 2", len(bids))
	}
	if bids[0].Price.String() != "99" {
		t.Fatalf("best bid level price = %s, want 99", bids[0].Price.String())
	}
	if bids[1].Price.String() != "98" {
		t.Fatalf("second bid level price = %s, want 98", bids[1].Price.String())
	}
}

func hintedAskOrder(id OrderId, price, size string, prevHint, nextHint OrderId) Order {
	o := askOrder(id, price, size)
	o.PrevHint = prevHint
	o.NextHint = nextHint
	return o
}

// TestOrderBookAddOrdersFromSnapshotCrossGroupHintIgnored reconstructs two
// price levels from a single batch where one order's hint points at an
// order belonging to a different (side, price) group. The cross-group
// hint must not get wired into either group's chain (it should be
// treated as a local head/tail terminator instead), per §4.1 step 1's
// group-scoped second pass.
func TestOrderBookAddOrdersFromSnapshotCrossGroupHintIgnored(t *testing.T) {
	b := NewOrderBook()
	orders := []Order{
		hintedAskOrder(1, "100", "1", 0, 2),
		hintedAskOrder(2, "100", "1", 1, 3),
		hintedAskOrder(3, "100", "1", 2, 0),
		// order 4's PrevHint wrongly references order 3, which belongs
		// to the 100 group, not this 101 group.
		hintedAskOrder(4, "101", "1", 3, 5),
		hintedAskOrder(5, "101", "1", 4, 0),
	}
	if err := b.AddOrdersFromSnapshot(orders); err != nil {
		t.Fatalf("AddOrdersFromSnapshot: %v", err)
	}

	lvl100 := b.levelsFor(Ask)["100"]
	if lvl100 == nil {
		t.Fatal("level 100 missing")
	}
	if lvl100.Head != 1 || lvl100.Tail != 3 {
		t.Fatalf("level 100 head/tail = %d/%d, want 1/3", lvl100.Head, lvl100.Tail)
	}
	if b.orders[3].Next != 0 {
		t.Fatalf("order 3 (tail of 100) must not link into the 101 group, got Next=%d", b.orders[3].Next)
	}

	lvl101 := b.levelsFor(Ask)["101"]
	if lvl101 == nil {
		t.Fatal("level 101 missing")
	}
	if lvl101.Head != 4 || lvl101.Tail != 5 {
		t.Fatalf("level 101 head/tail = %d/%d, want 4/5", lvl101.Head, lvl101.Tail)
	}
	if b.orders[4].Prev != 0 {
		t.Fatalf("order 4 (head of 101) must not link back into the 100 group, got Prev=%d", b.orders[4].Prev)
	}
}

// TestOrderBookAddOrdersFromSnapshotRejectsDanglingHint verifies a hint
// referencing an OrderId absent from the entire input batch is rejected
// up front, rather than silently treated as a head/tail terminator.
func TestOrderBookAddOrdersFromSnapshotRejectsDanglingHint(t *testing.T) {
	b := NewOrderBook()
	orders := []Order{
		hintedAskOrder(1, "100", "1", 0, 999),
		hintedAskOrder(2, "100", "1", 1, 0),
	}
	err := b.AddOrdersFromSnapshot(orders)
	if err != ErrDanglingOrderReference {
		t.Fatalf("err = %v, want ErrDanglingOrderReference", err)
	}
}
