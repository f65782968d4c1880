package state

import (
	"math/big"
	"testing"

	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/stream"
)

func newTestExchange() *Exchange {
	return NewExchange(Instant{}, num.NewConverter(6), 0, num.ZeroUD128, num.ZeroUD128, num.ZeroUD128, false, nil, nil, true)
}

func TestApplyEventsAccountCreatedThenDeposit(t *testing.T) {
	ex := newTestExchange()

	batch := stream.RawBlockEvents{
		Instant: stream.Instant{BlockNumber: 1, BlockTimestamp: 100},
		Events: []stream.RawEvent{
			{Kind: stream.KindAccountCreated, AccountId: 7, TxIndex: 0, LogIndex: 0},
			{Kind: stream.KindCollateralDeposit, AccountId: 7, Balance: big.NewInt(5_000_000), TxIndex: 0, LogIndex: 1},
		},
	}

	events, err := ex.ApplyEvents(batch)
	if err != nil {
		t.Fatalf("ApplyEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("produced %d events, want 2", len(events))
	}

	acc, ok := ex.Accounts[7]
	if !ok {
		t.Fatal("account 7 not created")
	}
	if acc.Balance.String() != "5" {
		t.Fatalf("balance = %s, want 5", acc.Balance.String())
	}
	if ex.Instant.BlockNumber != 1 {
		t.Fatalf("exchange instant = %d, want 1", ex.Instant.BlockNumber)
	}
}

func TestApplyEventsRejectsOutOfOrderBlock(t *testing.T) {
	ex := newTestExchange()

	_, err := ex.ApplyEvents(stream.RawBlockEvents{Instant: stream.Instant{BlockNumber: 5}})
	var outOfOrder *BlockOutOfOrderError
	if err == nil {
		t.Fatal("expected an out-of-order error")
	}
	if e, ok := err.(*BlockOutOfOrderError); !ok {
		t.Fatalf("error type = %T, want *BlockOutOfOrderError", err)
	} else {
		outOfOrder = e
	}
	if outOfOrder.Expected != 1 || outOfOrder.Got != 5 {
		t.Fatalf("got %+v, want expected=1 got=5", outOfOrder)
	}
}

func TestApplyEventsIgnoresStaleOrRepeatedBlock(t *testing.T) {
	ex := newTestExchange()

	if _, err := ex.ApplyEvents(stream.RawBlockEvents{Instant: stream.Instant{BlockNumber: 1}}); err != nil {
		t.Fatalf("apply block 1: %v", err)
	}
	events, err := ex.ApplyEvents(stream.RawBlockEvents{Instant: stream.Instant{BlockNumber: 1}})
	if err != nil {
		t.Fatalf("replay of block 1 should be ignored, not error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("replay produced %d events, want 0", len(events))
	}
}

func TestApplyEventsSkipsUnknownKind(t *testing.T) {
	ex := newTestExchange()

	batch := stream.RawBlockEvents{
		Instant: stream.Instant{BlockNumber: 1},
		Events:  []stream.RawEvent{{Kind: stream.KindUnknown}},
	}
	events, err := ex.ApplyEvents(batch)
	if err != nil {
		t.Fatalf("ApplyEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("unknown kind produced %d events, want 0", len(events))
	}
	if ex.Instant.BlockNumber != 1 {
		t.Fatalf("exchange instant did not advance past the unknown-kind block")
	}
}
