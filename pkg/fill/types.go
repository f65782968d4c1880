// Package fill correlates raw maker/taker fill events within a block
// into matched trades, independent of Exchange state (§4.6).
package fill

import (
	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/state"
)

// MakerFill is one maker order's contribution to a TakerTrade.
type MakerFill struct {
	LogIndex       uint64
	MakerAccountId state.AccountId
	MakerOrderId   state.OrderId
	Price          num.UD64
	Size           num.UD64
	Fee            num.UD64
}

// TakerTrade is a taker fill matched against one or more buffered maker
// fills from the same transaction.
type TakerTrade struct {
	TxHash         [32]byte
	TxIndex        uint64
	PerpetualId    state.PerpetualId
	TakerAccountId state.AccountId
	TakerSide      state.OrderSide
	TakerFee       num.UD64
	MakerFills     []MakerFill
}

// BlockTrades is every trade correlated within a single block.
type BlockTrades struct {
	Instant state.Instant
	Trades  []TakerTrade
}

// PerpetualConverters are the decimal scales needed to normalize a
// perpetual's fill prices and sizes, discovered at snapshot time.
type PerpetualConverters struct {
	Price num.Converter
	Size  num.Converter
}
