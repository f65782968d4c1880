package snapshot

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/state"
)

// defaultBatchSize is N in "batched up to N per call" (§4.3 step 3).
const defaultBatchSize = 3000

// Builder assembles an Exchange from a single consistent read of the
// chain. It is a one-shot fluent builder: construct with New, chain
// the With*/At* calls, then Build.
type Builder struct {
	source DataSource

	blockNumber uint64
	latest      bool

	perpetualIds     []state.PerpetualId
	accountAddresses []common.Address
	withAllPositions bool

	batchSize int
}

// New starts a snapshot build against source.
func New(source DataSource) *Builder {
	return &Builder{source: source, batchSize: defaultBatchSize}
}

// AtInstant pins the build to a specific block number.
func (b *Builder) AtInstant(blockNumber uint64) *Builder {
	b.blockNumber = blockNumber
	b.latest = false
	return b
}

// AtLatest pins the build to the chain's current head at call time.
func (b *Builder) AtLatest() *Builder {
	b.latest = true
	return b
}

// WithPerpetuals adds perpetuals whose configuration and order book
// are fetched and included in the assembled Exchange.
func (b *Builder) WithPerpetuals(ids ...state.PerpetualId) *Builder {
	b.perpetualIds = append(b.perpetualIds, ids...)
	return b
}

// WithAccounts adds accounts whose balances and positions are fetched
// and included in the assembled Exchange.
func (b *Builder) WithAccounts(addresses ...common.Address) *Builder {
	b.accountAddresses = append(b.accountAddresses, addresses...)
	return b
}

// WithAllPositions, instead of (or alongside) WithAccounts, discovers
// every account with an open position in a requested perpetual and
// includes it as a balance-less stub.
func (b *Builder) WithAllPositions() *Builder {
	b.withAllPositions = true
	return b
}

// WithBatchSize overrides the default page size used for order and
// account-ID pagination (N in §4.3 step 3; default 3000).
func (b *Builder) WithBatchSize(n int) *Builder {
	if n > 0 {
		b.batchSize = n
	}
	return b
}

// Build runs the snapshot algorithm. A build error is fatal: no
// partial Exchange is ever returned (§4.3, "Build errors are fatal").
func (b *Builder) Build(ctx context.Context) (*state.Exchange, error) {
	instant, err := b.source.ResolveBlock(ctx, b.blockNumber, b.latest)
	if err != nil {
		return nil, fmt.Errorf("snapshot: resolve block: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var params ExchangeParams
	g.Go(func() error {
		p, err := b.source.ExchangeParams(gctx, instant)
		if err != nil {
			return fmt.Errorf("snapshot: exchange params: %w", err)
		}
		params = p
		return nil
	})

	perpetualResults := make([]*state.Perpetual, len(b.perpetualIds))
	for i, id := range b.perpetualIds {
		i, id := i, id
		g.Go(func() error {
			perp, err := b.buildPerpetual(gctx, instant, id)
			if err != nil {
				return fmt.Errorf("snapshot: perpetual %d: %w", id, err)
			}
			perpetualResults[i] = perp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	perpetuals := make(map[state.PerpetualId]*state.Perpetual, len(perpetualResults))
	for _, perp := range perpetualResults {
		perpetuals[perp.Id] = perp
	}

	accounts := make(map[state.AccountId]*state.Account)
	if len(b.accountAddresses) > 0 {
		ag, agctx := errgroup.WithContext(ctx)
		accountResults := make([]*state.Account, len(b.accountAddresses))
		for i, addr := range b.accountAddresses {
			i, addr := i, addr
			ag.Go(func() error {
				acc, err := b.buildAccount(agctx, instant, addr)
				if err != nil {
					return fmt.Errorf("snapshot: account %s: %w", addr, err)
				}
				accountResults[i] = acc
				return nil
			})
		}
		if err := ag.Wait(); err != nil {
			return nil, err
		}
		for _, acc := range accountResults {
			accounts[acc.Id] = acc
		}
	}

	if b.withAllPositions {
		if err := b.collectAllPositions(ctx, instant, perpetuals, accounts); err != nil {
			return nil, fmt.Errorf("snapshot: collect positions: %w", err)
		}
	}

	collateralConverter := num.NewConverter(params.CollateralDecimals)
	return state.NewExchange(instant, collateralConverter, params.FundingIntervalBlocks, params.MinPost, params.MinSettle, params.RecycleFee, params.IsHalted, perpetuals, accounts, false), nil
}

func (b *Builder) buildPerpetual(ctx context.Context, instant state.Instant, id state.PerpetualId) (*state.Perpetual, error) {
	info, err := b.source.PerpetualInfo(ctx, instant, id)
	if err != nil {
		return nil, err
	}
	perp := state.NewPerpetual(instant, id, info.Name, info.Symbol, info.Paused,
		info.PriceDecimals, info.LotDecimals,
		info.BasePrice, info.MakerFee, info.TakerFee, info.InitialMargin, info.MaintenanceMargin,
		info.LastPrice, info.MarkPrice, info.OraclePrice,
		info.LastTimestamp, info.MarkTimestamp, info.OracleTimestampSec,
		info.PrevFundingRate, info.FundingStartBlock,
		info.OracleFeedId, info.IsOracleUsed, info.PriceMaxAgeSec, info.OpenInterest)

	orderIds, err := b.source.LiveOrderIds(ctx, instant, id)
	if err != nil {
		return nil, err
	}
	var all []state.Order
	for start := 0; start < len(orderIds); start += b.batchSize {
		end := start + b.batchSize
		if end > len(orderIds) {
			end = len(orderIds)
		}
		orders, err := b.source.Orders(ctx, instant, id, orderIds[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, orders...)
	}
	if err := perp.Book.AddOrdersFromSnapshot(all); err != nil {
		return nil, err
	}
	return perp, nil
}

func (b *Builder) buildAccount(ctx context.Context, instant state.Instant, address common.Address) (*state.Account, error) {
	info, err := b.source.Account(ctx, instant, address)
	if err != nil {
		return nil, err
	}
	acc := state.NewAccountFromEvent(instant, info.Id, info.Address)
	acc.Balance = info.Balance
	acc.LockedBalance = info.LockedBalance
	acc.Frozen = info.Frozen

	bank1, bank2, bank3, bank4, err := b.source.PositionBitmap(ctx, instant, info.Id)
	if err != nil {
		return nil, err
	}
	for _, perpetualId := range positionsWithBits(bank1, bank2, bank3, bank4) {
		pos, err := b.source.Position(ctx, instant, info.Id, perpetualId)
		if err != nil {
			return nil, err
		}
		acc.Positions[perpetualId] = &pos
	}
	return acc, nil
}

// collectAllPositions implements §4.3 step 5: for each requested
// perpetual, page through every known account ID and keep any
// non-empty position, synthesizing a balance-less Account stub for
// any account not already present from WithAccounts.
func (b *Builder) collectAllPositions(ctx context.Context, instant state.Instant, perpetuals map[state.PerpetualId]*state.Perpetual, accounts map[state.AccountId]*state.Account) error {
	for _, perp := range perpetuals {
		offset := uint64(0)
		for {
			ids, err := b.source.AccountIdsPage(ctx, instant, offset, uint64(b.batchSize))
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				break
			}
			for _, accountId := range ids {
				pos, err := b.source.Position(ctx, instant, accountId, perp.Id)
				if err != nil {
					if err == ErrNoPosition {
						continue
					}
					return err
				}
				if pos.Size.IsZero() {
					continue
				}
				if acc, ok := accounts[accountId]; ok {
					acc.Positions[perp.Id] = &pos
				} else {
					accounts[accountId] = state.NewAccountFromPosition(instant, &pos)
				}
			}
			if uint64(len(ids)) < uint64(b.batchSize) {
				break
			}
			offset += uint64(len(ids))
		}
	}
	return nil
}

// positionsWithBits decodes the four position banks into the IDs of
// perpetuals an account holds a position in. Bank layout mirrors the
// on-chain bitmap: bank1 covers IDs [0,253), bank2 [253,509), bank3
// [509,765), bank4 [765,1021) — the 3-bit gap in bank1 is reserved.
func positionsWithBits(bank1, bank2, bank3, bank4 *big.Int) []state.PerpetualId {
	type bank struct {
		offset, bits int
		v            *big.Int
	}
	banks := []bank{
		{0, 253, bank1},
		{253, 256, bank2},
		{509, 256, bank3},
		{765, 256, bank4},
	}

	var ids []state.PerpetualId
	for _, bk := range banks {
		if bk.v == nil || bk.v.Sign() == 0 {
			continue
		}
		for i := 0; i < bk.bits; i++ {
			if bk.v.Bit(i) == 1 {
				ids = append(ids, state.PerpetualId(bk.offset+i))
			}
		}
	}
	return ids
}
