package state

import "github.com/perpl-dex/state-replica/pkg/num"

// StateEvent is the sealed set of state mutation / rejection notices the
// engine emits while applying a batch. It is modeled as a closed set of
// concrete types behind an unexported marker method rather than through
// dynamic dispatch: callers switch on concrete type (or on Kind() where a
// category carries its own sub-taxonomy), there is no vtable per event.
type StateEvent interface {
	isStateEvent()
}

// AccountEventKind distinguishes the sub-cases of AccountEvent.
type AccountEventKind int

const (
	AccountCreated AccountEventKind = iota
	AccountFrozenChanged
	AccountBalanceUpdated
	AccountLockedBalanceUpdated
)

// AccountEvent reports a mutation to account state.
type AccountEvent struct {
	AccountId AccountId
	RequestId RequestId
	HasRequest bool
	Kind      AccountEventKind

	CreatedId     AccountId // AccountCreated
	Frozen        bool      // AccountFrozenChanged
	Balance       num.UD128 // AccountBalanceUpdated
	LockedBalance num.UD128 // AccountLockedBalanceUpdated
}

func (AccountEvent) isStateEvent() {}

// OrderErrorKind enumerates every reason an order request can be
// rejected without mutating state (§9, "OrderDoesNotExist" through
// "WrongAccountForOrder").
type OrderErrorKind int

const (
	ErrAccountFrozen OrderErrorKind = iota
	ErrAmountExceedsAvailableBalance
	ErrCancelExistingInvalidCloseOrders
	ErrCantChangeCloseOrder
	ErrChangeExpiredOrderNeedsNewExpiry
	ErrCloseOrderExceedsPosition
	ErrCloseOrderPositionMismatch
	ErrContractIsPaused
	ErrCrossesBook
	ErrExceedsLastExecutionBlock
	ErrImmediateOrCancelExecuted
	ErrInsufficientFundsForRecycleFee
	ErrInvalidExpiryBlock
	ErrInvalidOrderId
	ErrMakerOrderSettlementFailed
	ErrMaxMatchesReached
	ErrMaximumAccountOrders
	ErrOrderDoesNotExist
	ErrOrderPostFailed
	ErrOrderSettlementImpliesInsolvent
	ErrOrderSizeExceedsAvailableSize
	ErrPostOrderUnderMinimum
	ErrPriceOutOfRange
	ErrSizeOutOfRange
	ErrWrongAccountForOrder
)

// OrderError is a rejection notice for an order request: no order or
// position state changed.
type OrderError struct {
	PerpetualId PerpetualId
	AccountId   AccountId
	RequestId   RequestId
	OrderId     OrderId
	HasOrderId  bool
	Kind        OrderErrorKind

	Required  num.UD128 // ErrAmountExceedsAvailableBalance
	Available num.UD128 // ErrAmountExceedsAvailableBalance
	Status    uint16    // ErrOrderPostFailed
}

func (OrderError) isStateEvent() {}

// ExchangeEventKind distinguishes the sub-cases of ExchangeEvent.
type ExchangeEventKind int

const (
	ExchangeHaltedChanged ExchangeEventKind = iota
	ExchangeMinPostUpdated
	ExchangeMinSettleUpdated
	ExchangeRecycleFeeUpdated
)

// ExchangeEvent reports a mutation to exchange-wide configuration.
type ExchangeEvent struct {
	Kind ExchangeEventKind

	Halted     bool      // ExchangeHaltedChanged
	MinPost    num.UD128 // ExchangeMinPostUpdated
	MinSettle  num.UD128 // ExchangeMinSettleUpdated
	RecycleFee num.UD128 // ExchangeRecycleFeeUpdated
}

func (ExchangeEvent) isStateEvent() {}

// OrderEventKind distinguishes the sub-cases of OrderEvent.
type OrderEventKind int

const (
	OrderFilled OrderEventKind = iota
	OrderPlaced
	OrderRemoved
	OrderUpdated
)

// OrderEvent reports a mutation to the order book.
type OrderEvent struct {
	PerpetualId PerpetualId
	AccountId   AccountId
	RequestId   RequestId
	HasRequest  bool
	OrderId     OrderId
	Kind        OrderEventKind

	// OrderFilled
	FillPrice num.UD64
	FillSize  num.UD64
	Fee       num.UD64
	IsMaker   bool

	// OrderPlaced
	Type              OrderType
	Price             num.UD64
	Size              num.UD64
	ExpiryBlock       uint64
	Leverage          num.UD64
	PostOnly          bool
	FillOrKill        bool
	ImmediateOrCancel bool

	// OrderUpdated (all optional; zero-value + Has* means absent)
	HasNewPrice       bool
	NewPrice          num.UD64
	HasNewSize        bool
	NewSize           num.UD64
	HasNewExpiryBlock bool
	NewExpiryBlock    uint64
}

func (OrderEvent) isStateEvent() {}

// PerpetualEventKind distinguishes the sub-cases of PerpetualEvent.
type PerpetualEventKind int

const (
	PerpetualFundingEvent PerpetualEventKind = iota
	PerpetualInitialMarginFractionUpdated
	PerpetualLastPriceUpdated
	PerpetualMaintenanceMarginFractionUpdated
	PerpetualMarkPriceUpdated
	PerpetualMakerFeeUpdated
	PerpetualOpenInterestUpdated
	PerpetualOracleConfigurationUpdated
	PerpetualOraclePriceUpdated
	PerpetualPausedChanged
	PerpetualTakerFeeUpdated
)

// PerpetualEvent reports a mutation to a perpetual contract's state or
// configuration.
type PerpetualEvent struct {
	PerpetualId PerpetualId
	Kind        PerpetualEventKind

	Rate            num.D256 // PerpetualFundingEvent
	PaymentPerUnit  num.D256 // PerpetualFundingEvent
	UD64Value       num.UD64 // margin fractions, prices, fees
	UD128Value      num.UD128
	Paused          bool
	OracleIsUsed    bool
	OracleFeedId    [32]byte
}

func (PerpetualEvent) isStateEvent() {}

// PositionEventKind distinguishes the sub-cases of PositionEvent.
type PositionEventKind int

const (
	PositionClosed PositionEventKind = iota
	PositionCollateralDecreased
	PositionDecreased
	PositionDeleveraged
	PositionDepositUpdated
	PositionIncreased
	PositionInverted
	PositionLiquidated
	PositionMaintenanceMarginUpdated
	PositionOpened
	PositionUnrealizedPnLUpdated
	PositionUnwound
)

// PositionEvent reports a mutation to a position.
type PositionEvent struct {
	PerpetualId PerpetualId
	AccountId   AccountId
	RequestId   RequestId
	HasRequest  bool
	Kind        PositionEventKind

	Type       PositionType
	EntryPrice num.UD64
	ExitPrice  num.UD64
	Size       num.UD64
	PrevSize   num.UD64
	NewSize    num.UD64
	Deposit    num.UD128
	DeltaPnl   num.D256
	PremiumPnl num.D256
	Pnl        num.D256
	ForceClose bool

	FairMarketValue num.D256 // PositionUnwound
	Payment         num.UD128 // PositionUnwound
}

func (PositionEvent) isStateEvent() {}

// OrderContext captures the fields of an OrderRequest that later
// "contextless" events in the same transaction (Filled, Removed,
// Updated, rejections) need but do not carry themselves. It is
// populated by the first OrderRequest processed in a transaction and
// cleared at the next transaction-index boundary or OrderBatchCompleted
// (§4.2).
type OrderContext struct {
	PerpetualId PerpetualId
	AccountId   AccountId
	RequestId   RequestId
	OrderId     OrderId
	HasOrderId  bool
	RequestType RequestType
	Price       num.UD64
	ExpiryBlock uint64
	Leverage    num.UD64

	PostOnly          bool
	FillOrKill        bool
	ImmediateOrCancel bool
}

// NewOrderContext builds the scoped context from an OrderRequest raw
// event's decoded fields.
func NewOrderContext(perpetualId PerpetualId, accountId AccountId, requestId RequestId, orderId OrderId, requestType RequestType, price num.UD64, expiryBlock uint64, leverage num.UD64, postOnly, fillOrKill, immediateOrCancel bool) OrderContext {
	return OrderContext{
		PerpetualId:       perpetualId,
		AccountId:         accountId,
		RequestId:         requestId,
		OrderId:           orderId,
		HasOrderId:        orderId != 0,
		RequestType:       requestType,
		Price:             price,
		ExpiryBlock:       expiryBlock,
		Leverage:          leverage,
		PostOnly:          postOnly,
		FillOrKill:        fillOrKill,
		ImmediateOrCancel: immediateOrCancel,
	}
}
