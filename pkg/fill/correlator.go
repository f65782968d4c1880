package fill

import (
	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/state"
	"github.com/perpl-dex/state-replica/pkg/stream"
)

// orderContext tracks the account/side of the order request currently
// in scope within a transaction, mirroring the same contextless-event
// pattern the event application engine uses (§4.2).
type orderContext struct {
	accountId state.AccountId
	side      state.OrderSide
}

// pendingMakerFill is a normalized MakerOrderFilled waiting to be
// matched against the TakerOrderFilled that closes the same match.
type pendingMakerFill struct {
	txHash      [32]byte
	logIndex    uint64
	perpetualId state.PerpetualId
	makerFill   MakerFill
}

// Correlator is a pure, synchronous trade extractor: no async, no I/O,
// no dependency on Exchange state (§4.6).
type Correlator struct {
	collateralConverter num.Converter
	perpetuals          map[state.PerpetualId]PerpetualConverters

	ctx             *orderContext
	pending         []pendingMakerFill
	prevTxIndex     uint64
	havePrevTxIndex bool
}

// NewCorrelator builds a Correlator from the normalization config
// fetched once at startup: the exchange's collateral converter (fees
// are denominated in collateral) and each tracked perpetual's price
// and size converters.
func NewCorrelator(collateralConverter num.Converter, perpetuals map[state.PerpetualId]PerpetualConverters) *Correlator {
	return &Correlator{
		collateralConverter: collateralConverter,
		perpetuals:          perpetuals,
	}
}

// ProcessBlock extracts every matched trade from one block's raw
// events, in (tx_index, log_index) order.
func (c *Correlator) ProcessBlock(batch stream.RawBlockEvents) BlockTrades {
	var trades []TakerTrade
	c.ctx = nil
	c.pending = nil
	c.havePrevTxIndex = false
	for _, ev := range batch.Events {
		if c.havePrevTxIndex && c.prevTxIndex != ev.TxIndex {
			c.ctx = nil
			c.pending = nil
		}
		if trade, ok := c.processEvent(ev); ok {
			trades = append(trades, trade)
		}
		c.prevTxIndex = ev.TxIndex
		c.havePrevTxIndex = true
	}
	return BlockTrades{
		Instant: state.Instant{BlockNumber: batch.Instant.BlockNumber, BlockTimestamp: batch.Instant.BlockTimestamp},
		Trades:  trades,
	}
}

func (c *Correlator) processEvent(ev stream.RawEvent) (TakerTrade, bool) {
	switch ev.Kind {

	case stream.KindOrderRequest:
		if side, ok := state.RequestType(ev.RequestType).Side(); ok {
			c.ctx = &orderContext{accountId: state.AccountId(ev.AccountId), side: side}
		}
		return TakerTrade{}, false

	case stream.KindOrderBatchCompleted:
		c.ctx = nil
		c.pending = nil
		return TakerTrade{}, false

	case stream.KindMakerOrderFilled:
		c.handleMakerFill(ev)
		return TakerTrade{}, false

	case stream.KindTakerOrderFilled:
		return c.handleTakerFill(ev)

	default:
		return TakerTrade{}, false
	}
}

func (c *Correlator) handleMakerFill(ev stream.RawEvent) {
	perpetualId := state.PerpetualId(ev.PerpetualId)
	conv, ok := c.perpetuals[perpetualId]
	if !ok {
		return
	}
	price, err := conv.Price.FromUnsignedBigIntUD64(ev.FillPrice)
	if err != nil {
		return
	}
	size, err := conv.Size.FromUnsignedBigIntUD64(ev.FillSize)
	if err != nil {
		return
	}
	fee, err := c.collateralConverter.FromUnsignedBigIntUD64(ev.Fee)
	if err != nil {
		return
	}
	c.pending = append(c.pending, pendingMakerFill{
		txHash:      ev.TxHash,
		logIndex:    ev.LogIndex,
		perpetualId: perpetualId,
		makerFill: MakerFill{
			LogIndex:       ev.LogIndex,
			MakerAccountId: state.AccountId(ev.AccountId),
			MakerOrderId:   state.OrderId(ev.OrderId),
			Price:          price,
			Size:           size,
			Fee:            fee,
		},
	})
}

// handleTakerFill matches the buffered maker fills against the taker
// event. The buffer is always drained here, win or lose (§4.6 step 4).
func (c *Correlator) handleTakerFill(ev stream.RawEvent) (TakerTrade, bool) {
	makers := c.pending
	c.pending = nil
	if len(makers) == 0 || c.ctx == nil {
		return TakerTrade{}, false
	}
	for _, m := range makers {
		if m.txHash != ev.TxHash {
			return TakerTrade{}, false
		}
	}
	fee, err := c.collateralConverter.FromUnsignedBigIntUD64(ev.Fee)
	if err != nil {
		return TakerTrade{}, false
	}
	fills := make([]MakerFill, len(makers))
	for i, m := range makers {
		fills[i] = m.makerFill
	}
	return TakerTrade{
		TxHash:         ev.TxHash,
		TxIndex:        ev.TxIndex,
		PerpetualId:    makers[0].perpetualId,
		TakerAccountId: c.ctx.accountId,
		TakerSide:      c.ctx.side,
		TakerFee:       fee,
		MakerFills:     fills,
	}, true
}
