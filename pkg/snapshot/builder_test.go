package snapshot

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/state"
)

type fakeAccount struct {
	info      AccountInfo
	bank1     *big.Int
	bank2     *big.Int
	bank3     *big.Int
	bank4     *big.Int
	positions map[state.PerpetualId]state.Position
}

type fakeDataSource struct {
	instant    state.Instant
	params     ExchangeParams
	perpetuals map[state.PerpetualId]PerpetualInfo
	orders     map[state.PerpetualId][]state.Order
	accounts   map[common.Address]*fakeAccount
	allIds     []state.AccountId
}

func (f *fakeDataSource) ResolveBlock(_ context.Context, _ uint64, _ bool) (state.Instant, error) {
	return f.instant, nil
}

func (f *fakeDataSource) ExchangeParams(context.Context, state.Instant) (ExchangeParams, error) {
	return f.params, nil
}

func (f *fakeDataSource) PerpetualInfo(_ context.Context, _ state.Instant, id state.PerpetualId) (PerpetualInfo, error) {
	return f.perpetuals[id], nil
}

func (f *fakeDataSource) LiveOrderIds(_ context.Context, _ state.Instant, id state.PerpetualId) ([]state.OrderId, error) {
	ids := make([]state.OrderId, len(f.orders[id]))
	for i, o := range f.orders[id] {
		ids[i] = o.OrderId
	}
	return ids, nil
}

func (f *fakeDataSource) Orders(_ context.Context, _ state.Instant, id state.PerpetualId, ids []state.OrderId) ([]state.Order, error) {
	want := make(map[state.OrderId]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []state.Order
	for _, o := range f.orders[id] {
		if want[o.OrderId] {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeDataSource) Account(_ context.Context, _ state.Instant, address common.Address) (AccountInfo, error) {
	return f.accounts[address].info, nil
}

func (f *fakeDataSource) PositionBitmap(_ context.Context, _ state.Instant, accountId state.AccountId) (*big.Int, *big.Int, *big.Int, *big.Int, error) {
	for _, acc := range f.accounts {
		if acc.info.Id == accountId {
			return acc.bank1, acc.bank2, acc.bank3, acc.bank4, nil
		}
	}
	return big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), nil
}

func (f *fakeDataSource) Position(_ context.Context, _ state.Instant, accountId state.AccountId, perpetualId state.PerpetualId) (state.Position, error) {
	for _, acc := range f.accounts {
		if acc.info.Id == accountId {
			if p, ok := acc.positions[perpetualId]; ok {
				return p, nil
			}
		}
	}
	return state.Position{}, ErrNoPosition
}

func (f *fakeDataSource) AccountIdsPage(_ context.Context, _ state.Instant, offset, limit uint64) ([]state.AccountId, error) {
	if offset >= uint64(len(f.allIds)) {
		return nil, nil
	}
	end := offset + limit
	if end > uint64(len(f.allIds)) {
		end = uint64(len(f.allIds))
	}
	return f.allIds[offset:end], nil
}

func conv(decimals int32) num.Converter { return num.NewConverter(decimals) }

func ud64(s string) num.UD64 {
	v, err := num.ParseUD64(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBuilderAssemblesPerpetualsAndOrders(t *testing.T) {
	instant := state.Instant{BlockNumber: 500, BlockTimestamp: 1000}
	order := state.Order{Instant: instant, OrderId: 7, Type: state.OpenLong, AccountId: 1, Price: ud64("100"), Size: ud64("2")}
	src := &fakeDataSource{
		instant: instant,
		params:  ExchangeParams{CollateralDecimals: 6},
		perpetuals: map[state.PerpetualId]PerpetualInfo{
			1: {Name: "BTC-PERP", Symbol: "BTC", PriceDecimals: 2, LotDecimals: 2, BasePrice: ud64("50000")},
		},
		orders: map[state.PerpetualId][]state.Order{1: {order}},
	}

	ex, err := New(src).AtInstant(500).WithPerpetuals(1).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	perp, ok := ex.Perpetuals[1]
	if !ok {
		t.Fatalf("perpetual 1 missing")
	}
	if perp.Name != "BTC-PERP" {
		t.Fatalf("name = %q, want BTC-PERP", perp.Name)
	}
	got, ok := perp.Book.Get(7)
	if !ok {
		t.Fatalf("order 7 missing from snapshot-reconstructed book")
	}
	if got.Price.Cmp(ud64("100")) != 0 {
		t.Fatalf("order price = %v, want 100", got.Price)
	}
}

func TestBuilderAssemblesRequestedAccountWithPositions(t *testing.T) {
	instant := state.Instant{BlockNumber: 500}
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	pos := state.Opened(instant, 1, 42, state.Long, ud64("100"), ud64("1"), num.ZeroUD128, ud64("50"))

	bank1 := big.NewInt(0).SetBit(big.NewInt(0), 1, 1)
	src := &fakeDataSource{
		instant: instant,
		params:  ExchangeParams{CollateralDecimals: 6},
		perpetuals: map[state.PerpetualId]PerpetualInfo{
			1: {Name: "BTC-PERP"},
		},
		accounts: map[common.Address]*fakeAccount{
			addr: {
				info:      AccountInfo{Id: 42, Address: addr, Balance: conv(0).FromUnsigned64(1000).ToUD128()},
				bank1:     bank1,
				bank2:     big.NewInt(0),
				bank3:     big.NewInt(0),
				bank4:     big.NewInt(0),
				positions: map[state.PerpetualId]state.Position{1: pos},
			},
		},
	}

	ex, err := New(src).AtInstant(500).WithPerpetuals(1).WithAccounts(addr).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	acc, ok := ex.Accounts[42]
	if !ok {
		t.Fatalf("account 42 missing")
	}
	if _, ok := acc.Positions[1]; !ok {
		t.Fatalf("account 42 missing position in perpetual 1")
	}
}

func TestBuilderWithAllPositionsSynthesizesStubAccounts(t *testing.T) {
	instant := state.Instant{BlockNumber: 500}
	pos := state.Opened(instant, 1, 7, state.Short, ud64("100"), ud64("1"), num.ZeroUD128, ud64("50"))
	src := &fakeDataSource{
		instant: instant,
		params:  ExchangeParams{CollateralDecimals: 6},
		perpetuals: map[state.PerpetualId]PerpetualInfo{
			1: {Name: "BTC-PERP"},
		},
		accounts: map[common.Address]*fakeAccount{
			common.HexToAddress("0x2222222222222222222222222222222222222222"): {
				info:      AccountInfo{Id: 7},
				positions: map[state.PerpetualId]state.Position{1: pos},
			},
		},
		allIds: []state.AccountId{7},
	}

	ex, err := New(src).AtInstant(500).WithPerpetuals(1).WithAllPositions().Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	acc, ok := ex.Accounts[7]
	if !ok {
		t.Fatalf("expected synthesized stub account 7")
	}
	if acc.Balance.Sign() != 0 {
		t.Fatalf("stub account balance should be zero, got %v", acc.Balance)
	}
	if _, ok := acc.Positions[1]; !ok {
		t.Fatalf("stub account missing position")
	}
}
