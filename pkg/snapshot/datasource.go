// Package snapshot builds a fully-populated Exchange from a single
// consistent read of the chain, as an alternative entry point to
// replaying the event stream from genesis (§4.3).
package snapshot

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/state"
)

// ErrNoPosition is returned by DataSource.Position when the account
// holds no position in the requested perpetual.
var ErrNoPosition = errors.New("snapshot: no position")

// ExchangeParams is the exchange-level configuration read once per
// build (§4.3 step 2).
type ExchangeParams struct {
	CollateralDecimals   int32
	FundingIntervalBlocks uint32
	MinPost              num.UD128
	MinSettle            num.UD128
	RecycleFee           num.UD128
	IsHalted             bool
	NumberOfAccounts     uint64
}

// PerpetualInfo is a perpetual's on-chain configuration and last
// observed market state, read once per build (§4.3 step 3).
type PerpetualInfo struct {
	Name, Symbol                       string
	Paused                             bool
	PriceDecimals, LotDecimals         int32
	BasePrice                          num.UD64
	MakerFee, TakerFee                 num.UD64
	InitialMargin, MaintenanceMargin   num.UD64
	LastPrice, MarkPrice, OraclePrice  num.UD64
	LastTimestamp, MarkTimestamp       uint64
	OracleTimestampSec                 uint64
	PrevFundingRate                    num.D256
	FundingStartBlock                  uint64
	OracleFeedId                       [32]byte
	IsOracleUsed                       bool
	PriceMaxAgeSec                     uint64
	OpenInterest                       num.UD128
}

// AccountInfo is an account's on-chain record, read once per requested
// address (§4.3 step 4).
type AccountInfo struct {
	Id            state.AccountId
	Address       common.Address
	Balance       num.UD128
	LockedBalance num.UD128
	Frozen        bool
}

// DataSource is everything the builder needs from the chain at a
// fixed block. Implementations are expected to wrap a contract caller
// or an archival RPC client; none of that plumbing belongs here.
type DataSource interface {
	// ResolveBlock pins block_id to a concrete instant. blockNumber is
	// ignored when latest is true.
	ResolveBlock(ctx context.Context, blockNumber uint64, latest bool) (state.Instant, error)

	ExchangeParams(ctx context.Context, instant state.Instant) (ExchangeParams, error)

	PerpetualInfo(ctx context.Context, instant state.Instant, perpetualId state.PerpetualId) (PerpetualInfo, error)

	// LiveOrderIds decodes the perpetual's order-id bitmap into the
	// IDs of its currently resting orders.
	LiveOrderIds(ctx context.Context, instant state.Instant, perpetualId state.PerpetualId) ([]state.OrderId, error)

	// Orders fetches the given orders' full records, batched by the
	// caller to at most N per call.
	Orders(ctx context.Context, instant state.Instant, perpetualId state.PerpetualId, ids []state.OrderId) ([]state.Order, error)

	Account(ctx context.Context, instant state.Instant, address common.Address) (AccountInfo, error)

	// PositionBitmap returns an account's four position banks, as
	// raw on-chain words (§4.3 step 4, decoded by positionsWithBits).
	PositionBitmap(ctx context.Context, instant state.Instant, accountId state.AccountId) (bank1, bank2, bank3, bank4 *big.Int, err error)

	// Position fetches one account/perpetual position. It returns
	// ErrNoPosition if the account never opened one.
	Position(ctx context.Context, instant state.Instant, accountId state.AccountId, perpetualId state.PerpetualId) (state.Position, error)

	// AccountIdsPage lists up to limit account IDs starting at
	// offset, in ascending order; an empty result means exhausted.
	AccountIdsPage(ctx context.Context, instant state.Instant, offset, limit uint64) ([]state.AccountId, error)
}
