// Package stream decodes and sequences raw on-chain exchange events
// into per-block batches for pkg/state to apply.
package stream

import (
	"math/big"
)

// Instant pairs a block number with its timestamp, mirroring
// pkg/state.Instant without importing it: pkg/state depends on this
// package to decode events, so the dependency cannot run the other way.
type Instant struct {
	BlockNumber    uint64
	BlockTimestamp uint64
}

// RawEventKind enumerates every exchange contract event the engine
// recognizes. Kinds not listed here are decoded as KindUnknown and
// ignored by the state engine (§4.2 "unlisted kinds are ignored").
type RawEventKind int

const (
	KindUnknown RawEventKind = iota

	KindAccountCreated
	KindAccountFreeze
	KindAccountLiquidationCredit
	KindCollateralDeposit
	KindCollateralWithdrawal
	KindTransferAccountToProtocol
	KindTransferProtocolToAccount

	KindContractPaused
	KindContractRemoved
	KindContractLinkFeedUpdated
	KindIgnoreOracleUpdated
	KindPriceMaxAgeUpdated
	KindInitialMarginFractionUpdated
	KindMaintenanceMarginFractionUpdated
	KindMakerFeeUpdated
	KindTakerFeeUpdated

	KindLinkPriceUpdated
	KindMarkUpdated

	KindOrderRequest
	KindOrderPlaced
	KindMakerOrderFilled
	KindTakerOrderFilled
	KindOrderChanged
	KindOrderCancelled
	KindOrderCancelledByAdmin
	KindOrderCancelledByLiquidator
	KindClearingExpiredOrder
	KindClearingFrozenAccountOrder
	KindClearingInvalidCloseOrder
	KindClearingSelfMatchingOrder
	KindMakerOrderSettlementFailed
	KindOrderBatchCompleted

	KindIncreasePositionCollateral
	KindPositionOpened
	KindPositionIncreased
	KindPositionDecreased
	KindPositionDeleveraged
	KindPositionLiquidated
	KindPositionInverted
	KindPositionClosed
	KindPositionUnwound
	KindPositionUnwoundWithoutPayment

	KindFundingEventCompleted

	KindExchangeHalted
	KindMinPostUpdated
	KindMinSettleUpdated
	KindRecycleFeeUpdated

	// Named no-ops: recognized contract events with no modeled state
	// effect, kept distinct from KindUnknown so a downstream consumer
	// switching exhaustively on RawEventKind can see they were decoded,
	// not dropped as unrecognized.
	KindPositionDoesNotExist
	KindPriceAdministratorUpdated
	KindPriceTolUpdated
	KindProtocolBalanceDeposit
	KindProtocolBalanceWithdraw
	KindRecycleBalanceInsufficientSevere
	KindReferencePriceAgesExceedMax
	KindReportAgeExceedsLastUpdate
	KindReportPriceIsNegative
	KindSyntheticPriceError
	KindTransferPerpInsToProtocol

	// KindPositionLiquidationCredit drives Position.Deposit the way
	// KindAccountLiquidationCredit drives Account.Balance.
	KindPositionLiquidationCredit

	// Order-rejection kinds (§4.2, "Order-rejection kinds").
	KindAccountFrozen
	KindAmountExceedsAvailableBalance
	KindCrossesBook
	KindPostOrderUnderMinimum
	KindPriceOutOfRange
	KindSizeOutOfRange
	KindInvalidExpiryBlock
	KindInvalidOrderId
	KindMaxMatchesReached
	KindMaximumAccountOrders
	KindWrongAccountForOrder
	KindOrderDoesNotExist
	KindImmediateOrCancelExecuted
	KindCantChangeCloseOrder
	KindCancelExistingInvalidCloseOrders
	KindCloseOrderExceedsPosition
	KindCloseOrderPositionMismatch
	KindContractIsPaused
	KindExceedsLastExecutionBlock
	KindInsufficientFundsForRecycleFee
	KindOrderSettlementImpliesInsolvent
	KindOrderSizeExceedsAvailableSize
	KindOrderPostFailed
	KindChangeExpiredOrderNeedsNewExpiry
)

// RawEvent is a single decoded contract log within a block, carrying
// every field any recognized Kind might need. Unused fields for a given
// Kind are zero.
type RawEvent struct {
	TxHash   [32]byte
	TxIndex  uint64
	LogIndex uint64
	Kind     RawEventKind

	AccountId   uint32
	Address     [20]byte
	PerpetualId uint32
	OrderId     uint16
	RequestId   uint64
	HasOrderId  bool

	Status   uint8
	Amount   *big.Int
	Balance  *big.Int
	Locked   *big.Int

	Paused      bool
	FeedId      [32]byte
	IgnoreFlag  bool
	MaxAgeSec   uint64
	FractionRaw *big.Int

	PricePNS      *big.Int
	Timestamp     uint64

	// RequestType mirrors state.RequestType's ordinal values
	// (RequestOpenLong=0 .. RequestChange=6) without importing it.
	RequestType   int
	ExpiryBlock   uint64
	LeverageHdths *big.Int
	PostOnly      bool
	FillOrKill    bool
	ImmediateOrCancel bool

	FillPrice *big.Int
	FillSize  *big.Int
	Fee       *big.Int
	IsMaker   bool

	NewPrice       *big.Int
	HasNewPrice    bool
	NewSize        *big.Int
	HasNewSize     bool
	NewExpiryBlock uint64
	HasNewExpiry   bool

	// PositionType mirrors state.PositionType's ordinal values
	// (Long=0, Short=1) without importing it.
	PositionType int
	EntryPrice   *big.Int
	DepositRaw   *big.Int
	SizeRaw      *big.Int
	PrevSizeRaw  *big.Int
	NewSizeRaw   *big.Int
	ForceClose   bool

	FundingRateRaw   *big.Int
	PaymentPerUnitRaw *big.Int
	FundingEventBlock uint64

	PostFailStatus uint16
	RequiredRaw    *big.Int
	AvailableRaw   *big.Int
}

// RawBlockEvents is one block's worth of events, in (tx_index,
// log_index) order, plus the instant they occurred at.
type RawBlockEvents struct {
	Instant Instant
	Events  []RawEvent
}
