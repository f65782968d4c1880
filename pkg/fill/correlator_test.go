package fill

import (
	"math/big"
	"testing"

	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/state"
	"github.com/perpl-dex/state-replica/pkg/stream"
)

func testCorrelator() *Correlator {
	collateral := num.NewConverter(6)
	perp := num.NewConverter(2)
	return NewCorrelator(collateral, map[state.PerpetualId]PerpetualConverters{
		1: {Price: perp, Size: perp},
	})
}

func bigFromDecimal(conv num.Converter, s string) *big.Int {
	v, err := num.ParseUD64(s)
	if err != nil {
		panic(err)
	}
	return conv.ToUnsignedBigInt128(v.ToUD128())
}

func TestCorrelatorMatchesOneMakerToOneTaker(t *testing.T) {
	c := testCorrelator()
	txHash := [32]byte{1}
	collateral := num.NewConverter(6)
	perpConv := num.NewConverter(2)

	batch := stream.RawBlockEvents{
		Instant: stream.Instant{BlockNumber: 10},
		Events: []stream.RawEvent{
			{TxHash: txHash, TxIndex: 0, LogIndex: 0, Kind: stream.KindOrderRequest, AccountId: 5, PerpetualId: 1, RequestType: 0},
			{TxHash: txHash, TxIndex: 0, LogIndex: 1, Kind: stream.KindMakerOrderFilled, PerpetualId: 1, AccountId: 9, OrderId: 3,
				FillPrice: bigFromDecimal(perpConv, "100"), FillSize: bigFromDecimal(perpConv, "2"), Fee: bigFromDecimal(collateral, "0.5")},
			{TxHash: txHash, TxIndex: 0, LogIndex: 2, Kind: stream.KindTakerOrderFilled,
				Fee: bigFromDecimal(collateral, "1")},
		},
	}

	trades := c.ProcessBlock(batch).Trades
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	trade := trades[0]
	if trade.TakerAccountId != 5 {
		t.Fatalf("taker account = %d, want 5", trade.TakerAccountId)
	}
	if trade.TakerSide != state.Bid {
		t.Fatalf("taker side = %v, want Bid", trade.TakerSide)
	}
	if len(trade.MakerFills) != 1 || trade.MakerFills[0].MakerAccountId != 9 {
		t.Fatalf("unexpected maker fills: %+v", trade.MakerFills)
	}
}

func TestCorrelatorDropsTakerWithNoContext(t *testing.T) {
	c := testCorrelator()
	collateral := num.NewConverter(6)
	perpConv := num.NewConverter(2)
	txHash := [32]byte{2}

	batch := stream.RawBlockEvents{
		Events: []stream.RawEvent{
			{TxHash: txHash, TxIndex: 0, LogIndex: 0, Kind: stream.KindMakerOrderFilled, PerpetualId: 1,
				FillPrice: bigFromDecimal(perpConv, "100"), FillSize: bigFromDecimal(perpConv, "1"), Fee: bigFromDecimal(collateral, "0.1")},
			{TxHash: txHash, TxIndex: 0, LogIndex: 1, Kind: stream.KindTakerOrderFilled, Fee: bigFromDecimal(collateral, "0.2")},
		},
	}

	if trades := c.ProcessBlock(batch).Trades; len(trades) != 0 {
		t.Fatalf("trades = %d, want 0 (no order context)", len(trades))
	}
}

func TestCorrelatorClearsStateAtTransactionBoundary(t *testing.T) {
	c := testCorrelator()
	collateral := num.NewConverter(6)
	perpConv := num.NewConverter(2)
	txA := [32]byte{3}
	txB := [32]byte{4}

	batch := stream.RawBlockEvents{
		Events: []stream.RawEvent{
			{TxHash: txA, TxIndex: 0, LogIndex: 0, Kind: stream.KindOrderRequest, AccountId: 1, PerpetualId: 1, RequestType: 0},
			{TxHash: txA, TxIndex: 0, LogIndex: 1, Kind: stream.KindMakerOrderFilled, PerpetualId: 1,
				FillPrice: bigFromDecimal(perpConv, "100"), FillSize: bigFromDecimal(perpConv, "1"), Fee: bigFromDecimal(collateral, "0.1")},
			// New tx, no OrderBatchCompleted in between: context/buffer must still clear.
			{TxHash: txB, TxIndex: 1, LogIndex: 0, Kind: stream.KindTakerOrderFilled, Fee: bigFromDecimal(collateral, "0.2")},
		},
	}

	if trades := c.ProcessBlock(batch).Trades; len(trades) != 0 {
		t.Fatalf("trades = %d, want 0 (stale context/buffer must not leak across tx boundary)", len(trades))
	}
}

func TestCorrelatorDropsMismatchedTxHash(t *testing.T) {
	c := testCorrelator()
	collateral := num.NewConverter(6)
	perpConv := num.NewConverter(2)

	batch := stream.RawBlockEvents{
		Events: []stream.RawEvent{
			{TxHash: [32]byte{5}, TxIndex: 0, LogIndex: 0, Kind: stream.KindOrderRequest, AccountId: 1, PerpetualId: 1, RequestType: 0},
			{TxHash: [32]byte{5}, TxIndex: 0, LogIndex: 1, Kind: stream.KindMakerOrderFilled, PerpetualId: 1,
				FillPrice: bigFromDecimal(perpConv, "100"), FillSize: bigFromDecimal(perpConv, "1"), Fee: bigFromDecimal(collateral, "0.1")},
			{TxHash: [32]byte{6}, TxIndex: 0, LogIndex: 2, Kind: stream.KindTakerOrderFilled, Fee: bigFromDecimal(collateral, "0.2")},
		},
	}

	if trades := c.ProcessBlock(batch).Trades; len(trades) != 0 {
		t.Fatalf("trades = %d, want 0 (corrupt cross-tx maker fill)", len(trades))
	}
}
