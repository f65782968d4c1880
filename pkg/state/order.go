package state

import "github.com/perpl-dex/state-replica/pkg/num"

// Order is an active entry in a perpetual's order book.
//
// The exchange reuses OrderIds aggressively (a limited keyspace per
// perpetual), so an Order value is only meaningful paired with the
// instant it was observed at. PrevHint/NextHint are populated only when
// an order arrives via snapshot reconstruction (§4.1 add_orders_from_snapshot);
// they are zero (no hint) for orders created from live events.
type Order struct {
	Instant     Instant
	RequestId   RequestId // zero means "unknown" (not available from snapshot)
	HasRequest  bool
	OrderId     OrderId
	Type        OrderType
	AccountId   AccountId
	Price       num.UD64
	Size        num.UD64
	ExpiryBlock uint64 // 0 = never
	Leverage    num.UD64

	// Flags are only known from live events, never from a snapshot read.
	PostOnly          *bool
	FillOrKill        *bool
	ImmediateOrCancel *bool

	// Link hints, populated only for snapshot reconstruction input.
	PrevHint OrderId
	NextHint OrderId
}

// Placed builds a new Order from an OrderPlaced event: size is
// authoritative from the event, the rest is filled in from the current
// OrderContext (§4.2 "OrderPlaced").
func Placed(instant Instant, ctx OrderContext, orderId OrderId, size num.UD64) Order {
	postOnly := ctx.PostOnly
	fok := ctx.FillOrKill
	ioc := ctx.ImmediateOrCancel
	return Order{
		Instant:           instant,
		RequestId:         ctx.RequestId,
		HasRequest:        true,
		OrderId:           orderId,
		Type:              ctx.RequestType.OrderType(),
		AccountId:         ctx.AccountId,
		Price:             ctx.Price,
		Size:              size,
		ExpiryBlock:       ctx.ExpiryBlock,
		Leverage:          ctx.Leverage,
		PostOnly:          &postOnly,
		FillOrKill:        &fok,
		ImmediateOrCancel: &ioc,
	}
}

// Updated returns a copy of the order with the given instant and any
// provided overrides applied; nil pointers keep the current value.
func (o Order) Updated(instant Instant, price, size *num.UD64, expiryBlock *uint64) Order {
	n := o
	n.Instant = instant
	if price != nil {
		n.Price = *price
	}
	if size != nil {
		n.Size = *size
	}
	if expiryBlock != nil {
		n.ExpiryBlock = *expiryBlock
	}
	return n
}
