package state

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/perpl-dex/state-replica/pkg/num"
	"github.com/perpl-dex/state-replica/pkg/stream"
)

// Exchange is the root aggregate: exchange-wide configuration plus the
// tracked perpetuals and accounts, consistent as of Instant. It is
// produced by a SnapshotBuilder and kept current by repeated calls to
// ApplyEvents (§4.2).
type Exchange struct {
	Instant Instant

	CollateralConverter   num.Converter
	FundingIntervalBlocks uint32
	MinPost               num.UD128
	MinSettle             num.UD128
	RecycleFee            num.UD128
	IsHalted              bool

	Perpetuals map[PerpetualId]*Perpetual
	Accounts   map[AccountId]*Account

	// TrackAllAccounts mirrors every AccountCreated event into Accounts;
	// when false, only accounts discovered via SnapshotBuilder.WithAccounts
	// are tracked, and events about untracked accounts are dropped.
	TrackAllAccounts bool
}

// NewExchange builds an Exchange aggregate at instant with the given
// configuration and initial tracked entities, as assembled by a
// SnapshotBuilder.
func NewExchange(instant Instant, collateralConverter num.Converter, fundingIntervalBlocks uint32, minPost, minSettle, recycleFee num.UD128, isHalted bool, perpetuals map[PerpetualId]*Perpetual, accounts map[AccountId]*Account, trackAllAccounts bool) *Exchange {
	if perpetuals == nil {
		perpetuals = make(map[PerpetualId]*Perpetual)
	}
	if accounts == nil {
		accounts = make(map[AccountId]*Account)
	}
	return &Exchange{
		Instant:               instant,
		CollateralConverter:   collateralConverter,
		FundingIntervalBlocks: fundingIntervalBlocks,
		MinPost:               minPost,
		MinSettle:             minSettle,
		RecycleFee:            recycleFee,
		IsHalted:              isHalted,
		Perpetuals:            perpetuals,
		Accounts:              accounts,
		TrackAllAccounts:      trackAllAccounts,
	}
}

func (e *Exchange) account(id AccountId) (*Account, bool) {
	a, ok := e.Accounts[id]
	return a, ok
}

func (e *Exchange) perpetual(id PerpetualId) (*Perpetual, bool) {
	p, ok := e.Perpetuals[id]
	return p, ok
}

func (e *Exchange) position(accountId AccountId, perpetualId PerpetualId) (*Position, bool) {
	acc, ok := e.account(accountId)
	if !ok {
		return nil, false
	}
	pos, ok := acc.Positions[perpetualId]
	return pos, ok
}

// ApplyEvents advances the exchange past one block's raw events,
// returning the StateEvents produced, or an error if the batch could
// not be applied. A block whose number is ≤ the exchange's current
// instant is treated as already applied: (nil, nil) with no mutation.
// A block more than one ahead is rejected with BlockOutOfOrderError.
func (e *Exchange) ApplyEvents(batch stream.RawBlockEvents) ([]StateEvent, error) {
	next := Instant{BlockNumber: batch.Instant.BlockNumber, BlockTimestamp: batch.Instant.BlockTimestamp}
	if e.Instant.BlockNumber >= next.BlockNumber {
		return nil, nil
	}
	if e.Instant.BlockNumber+1 < next.BlockNumber {
		return nil, &BlockOutOfOrderError{Expected: e.Instant.BlockNumber + 1, Got: next.BlockNumber}
	}

	var ctx *OrderContext
	var prevTxIndex uint64
	havePrevTxIndex := false
	var produced []StateEvent

	for _, ev := range batch.Events {
		if havePrevTxIndex && prevTxIndex < ev.TxIndex {
			ctx = nil
		}
		result, err := e.applyRawEvent(next, ev, &ctx)
		if err != nil {
			return nil, err
		}
		produced = append(produced, result...)
		prevTxIndex = ev.TxIndex
		havePrevTxIndex = true
	}

	e.Instant = next

	var perpEvents []StateEvent
	for _, perp := range e.Perpetuals {
		perpEvents = append(perpEvents, perp.UpdateStateInstant(e.Instant)...)
	}
	for _, pe := range perpEvents {
		result, err := e.applyStateEvent(e.Instant, pe)
		if err != nil {
			return nil, err
		}
		produced = append(produced, result...)
	}

	return produced, nil
}

// applyStateEvent handles the second-pass propagation of events
// synthesized by the state-synchronous pass itself (currently only
// FundingEvent, see §4.5).
func (e *Exchange) applyStateEvent(instant Instant, ev StateEvent) ([]StateEvent, error) {
	fe, ok := ev.(PerpetualEvent)
	if !ok || fe.Kind != PerpetualFundingEvent {
		return []StateEvent{ev}, nil
	}
	out := []StateEvent{ev}
	for _, acc := range e.Accounts {
		pos, ok := acc.Positions[fe.PerpetualId]
		if !ok {
			continue
		}
		if pos.ApplyFundingPayment(instant, fe.PaymentPerUnit) {
			out = append(out, PositionEvent{
				PerpetualId: pos.PerpetualId,
				AccountId:   pos.AccountId,
				Kind:        PositionUnrealizedPnLUpdated,
				Pnl:         pos.Pnl(),
				DeltaPnl:    pos.DeltaPnl,
				PremiumPnl:  pos.PremiumPnl,
			})
		}
	}
	return out, nil
}

func (e *Exchange) applyRawEvent(instant Instant, ev stream.RawEvent, ctx **OrderContext) ([]StateEvent, error) {
	switch ev.Kind {

	case stream.KindOrderRequest:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		price, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.PricePNS)
		if err != nil {
			return nil, err
		}
		leverage, err := perp.LeverageConverter.FromUnsignedBigIntUD64(ev.LeverageHdths)
		if err != nil {
			return nil, err
		}
		nc := NewOrderContext(PerpetualId(ev.PerpetualId), AccountId(ev.AccountId), RequestId(ev.RequestId), OrderId(ev.OrderId), RequestType(ev.RequestType), price, ev.ExpiryBlock, leverage, ev.PostOnly, ev.FillOrKill, ev.ImmediateOrCancel)
		*ctx = &nc
		return nil, nil

	case stream.KindOrderBatchCompleted:
		*ctx = nil
		return nil, nil

	case stream.KindAccountCreated:
		if !e.TrackAllAccounts {
			return nil, nil
		}
		accountId := AccountId(ev.AccountId)
		acc := NewAccountFromEvent(instant, accountId, common.Address(ev.Address))
		e.Accounts[accountId] = acc
		return []StateEvent{AccountEvent{AccountId: accountId, Kind: AccountCreated, CreatedId: accountId}}, nil

	case stream.KindAccountFreeze:
		acc, ok := e.account(AccountId(ev.AccountId))
		if !ok {
			return nil, nil
		}
		acc.UpdateFrozen(instant, ev.Status > 0)
		return []StateEvent{accountEvent(acc, *ctx, AccountFrozenChanged, acc.Frozen)}, nil

	case stream.KindCollateralDeposit, stream.KindCollateralWithdrawal, stream.KindAccountLiquidationCredit,
		stream.KindTransferAccountToProtocol, stream.KindTransferProtocolToAccount:
		acc, ok := e.account(AccountId(ev.AccountId))
		if !ok {
			return nil, nil
		}
		bal, err := e.CollateralConverter.FromUnsignedBigInt128(ev.Balance)
		if err != nil {
			return nil, err
		}
		acc.UpdateBalance(instant, bal)
		return []StateEvent{accountBalanceEvent(acc, *ctx, bal)}, nil

	case stream.KindIncreasePositionCollateral:
		acc, ok := e.account(AccountId(ev.AccountId))
		if !ok {
			return nil, nil
		}
		bal, err := e.CollateralConverter.FromUnsignedBigInt128(ev.Balance)
		if err != nil {
			return nil, err
		}
		acc.UpdateBalance(instant, bal)
		events := []StateEvent{accountBalanceEvent(acc, *ctx, bal)}
		if pos, ok := acc.Positions[PerpetualId(ev.PerpetualId)]; ok {
			deposit, err := e.CollateralConverter.FromUnsignedBigInt128(ev.DepositRaw)
			if err == nil {
				pos.UpdateDeposit(instant, deposit)
				events = append(events, positionEvent(pos, *ctx, PositionDepositUpdated, func(pe *PositionEvent) { pe.Deposit = deposit }))
			}
		}
		return events, nil

	case stream.KindPositionLiquidationCredit:
		pos, ok := e.position(AccountId(ev.AccountId), PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		deposit, err := e.CollateralConverter.FromUnsignedBigInt128(ev.DepositRaw)
		if err != nil {
			return nil, err
		}
		pos.UpdateDeposit(instant, deposit)
		return []StateEvent{positionEvent(pos, *ctx, PositionDepositUpdated, func(pe *PositionEvent) { pe.Deposit = deposit })}, nil

	case stream.KindContractPaused, stream.KindContractRemoved:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		perp.UpdatePaused(instant, ev.Paused)
		return []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualPausedChanged, Paused: perp.IsPaused}}, nil

	case stream.KindContractLinkFeedUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		perp.UpdateOracleFeedId(instant, ev.FeedId)
		return []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualOracleConfigurationUpdated, OracleIsUsed: perp.IsOracleUsed, OracleFeedId: perp.OracleFeedId}}, nil

	case stream.KindIgnoreOracleUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		perp.UpdateIsOracleUsed(instant, !ev.IgnoreFlag)
		return []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualOracleConfigurationUpdated, OracleIsUsed: perp.IsOracleUsed, OracleFeedId: perp.OracleFeedId}}, nil

	case stream.KindPriceMaxAgeUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		perp.UpdatePriceMaxAgeSec(instant, ev.MaxAgeSec)
		return nil, nil

	case stream.KindInitialMarginFractionUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		v, err := perp.LeverageConverter.FromUnsignedBigIntUD64(ev.FractionRaw)
		if err != nil {
			return nil, err
		}
		perp.UpdateInitialMargin(instant, v)
		return []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualInitialMarginFractionUpdated, UD64Value: v}}, nil

	case stream.KindMaintenanceMarginFractionUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		v, err := perp.LeverageConverter.FromUnsignedBigIntUD64(ev.FractionRaw)
		if err != nil {
			return nil, err
		}
		perp.UpdateMaintenanceMargin(instant, v)
		events := []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualMaintenanceMarginFractionUpdated, UD64Value: v}}
		for _, acc := range e.Accounts {
			if pos, ok := acc.Positions[perp.Id]; ok {
				pos.ApplyMaintenanceMargin(instant, v)
				events = append(events, PositionEvent{PerpetualId: pos.PerpetualId, AccountId: pos.AccountId, Kind: PositionMaintenanceMarginUpdated, Deposit: pos.MaintenanceMarginRequirement})
			}
		}
		return events, nil

	case stream.KindMakerFeeUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		v, err := perp.FeeConverter.FromUnsignedBigIntUD64(ev.FractionRaw)
		if err != nil {
			return nil, err
		}
		perp.UpdateMakerFee(instant, v)
		return []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualMakerFeeUpdated, UD64Value: v}}, nil

	case stream.KindTakerFeeUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		v, err := perp.FeeConverter.FromUnsignedBigIntUD64(ev.FractionRaw)
		if err != nil {
			return nil, err
		}
		perp.UpdateTakerFee(instant, v)
		return []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualTakerFeeUpdated, UD64Value: v}}, nil

	case stream.KindLinkPriceUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		v, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.PricePNS)
		if err != nil {
			return nil, err
		}
		perp.UpdateOraclePrice(instant, v)
		return []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualOraclePriceUpdated, UD64Value: v}}, nil

	case stream.KindMarkUpdated:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		v, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.PricePNS)
		if err != nil {
			return nil, err
		}
		perp.UpdateMarkPrice(instant, v)
		events := []StateEvent{PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualMarkPriceUpdated, UD64Value: v}}
		for _, acc := range e.Accounts {
			if pos, ok := acc.Positions[perp.Id]; ok {
				pos.ApplyMarkPrice(instant, v)
				events = append(events, PositionEvent{PerpetualId: pos.PerpetualId, AccountId: pos.AccountId, Kind: PositionUnrealizedPnLUpdated, Pnl: pos.Pnl(), DeltaPnl: pos.DeltaPnl, PremiumPnl: pos.PremiumPnl})
			}
		}
		return events, nil

	case stream.KindOrderPlaced:
		if *ctx == nil {
			return nil, &OrderContextExpectedError{TxIndex: ev.TxIndex, LogIndex: ev.LogIndex}
		}
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		size, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.SizeRaw)
		if err != nil {
			return nil, err
		}
		order := Placed(instant, **ctx, OrderId(ev.OrderId), size)
		if err := perp.Book.Add(order); err != nil {
			return nil, err
		}
		return []StateEvent{OrderEvent{
			PerpetualId: perp.Id, AccountId: order.AccountId, RequestId: order.RequestId, HasRequest: true, OrderId: order.OrderId,
			Kind: OrderPlaced, Type: order.Type, Price: order.Price, Size: order.Size, ExpiryBlock: order.ExpiryBlock,
			Leverage: order.Leverage, PostOnly: derefBool(order.PostOnly), FillOrKill: derefBool(order.FillOrKill), ImmediateOrCancel: derefBool(order.ImmediateOrCancel),
		}}, nil

	case stream.KindMakerOrderFilled:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		fillPrice, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.FillPrice)
		if err != nil {
			return nil, err
		}
		fillSize, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.FillSize)
		if err != nil {
			return nil, err
		}
		fee, err := perp.FeeConverter.FromUnsignedBigIntUD64(ev.Fee)
		if err != nil {
			return nil, err
		}
		orderId := OrderId(ev.OrderId)
		order, ok := perp.Book.Get(orderId)
		if !ok {
			return nil, ErrOrderNotFound
		}
		if fillSize.Cmp(order.Size) > 0 {
			return nil, ErrInvalidOrderSize
		}
		perp.UpdateLastPrice(instant, fillPrice)
		var removeKind OrderEventKind
		remaining := order.Size.Sub(fillSize)
		if remaining.IsZero() {
			if _, err := perp.Book.RemoveByID(orderId); err != nil {
				return nil, err
			}
			removeKind = OrderRemoved
		} else {
			if err := perp.Book.UpdateSizeInPlace(orderId, remaining); err != nil {
				return nil, err
			}
			removeKind = OrderUpdated
		}
		events := []StateEvent{
			OrderEvent{PerpetualId: perp.Id, AccountId: order.AccountId, OrderId: order.OrderId, Kind: removeKind, HasNewSize: removeKind == OrderUpdated, NewSize: remaining},
			OrderEvent{PerpetualId: perp.Id, AccountId: order.AccountId, OrderId: order.OrderId, Kind: OrderFilled, FillPrice: fillPrice, FillSize: fillSize, Fee: fee, IsMaker: true},
			PerpetualEvent{PerpetualId: perp.Id, Kind: PerpetualLastPriceUpdated, UD64Value: fillPrice},
		}
		return events, nil

	case stream.KindTakerOrderFilled:
		if *ctx == nil {
			return nil, &OrderContextExpectedError{TxIndex: ev.TxIndex, LogIndex: ev.LogIndex}
		}
		perp, ok := e.perpetual((*ctx).PerpetualId)
		if !ok {
			return nil, nil
		}
		fillPrice, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.FillPrice)
		if err != nil {
			return nil, err
		}
		fillSize, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.FillSize)
		if err != nil {
			return nil, err
		}
		fee, err := perp.FeeConverter.FromUnsignedBigIntUD64(ev.Fee)
		if err != nil {
			return nil, err
		}
		events := []StateEvent{OrderEvent{PerpetualId: perp.Id, AccountId: (*ctx).AccountId, RequestId: (*ctx).RequestId, HasRequest: true, Kind: OrderFilled, FillPrice: fillPrice, FillSize: fillSize, Fee: fee, IsMaker: false}}
		if acc, ok := e.account((*ctx).AccountId); ok {
			bal, err := e.CollateralConverter.FromUnsignedBigInt128(ev.Balance)
			if err == nil {
				acc.UpdateBalance(instant, bal)
				events = append(events, accountBalanceEvent(acc, *ctx, bal))
			}
		}
		return events, nil

	case stream.KindOrderChanged:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		orderId := OrderId(ev.OrderId)
		current, ok := perp.Book.Get(orderId)
		if !ok {
			return nil, ErrOrderNotFound
		}
		var newPrice, newSize *num.UD64
		if ev.HasNewPrice {
			v, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.NewPrice)
			if err != nil {
				return nil, err
			}
			newPrice = &v
		}
		if ev.HasNewSize {
			v, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.NewSize)
			if err != nil {
				return nil, err
			}
			newSize = &v
		}
		var newExpiry *uint64
		if ev.HasNewExpiry {
			newExpiry = &ev.NewExpiryBlock
		}
		updated := current.Updated(instant, newPrice, newSize, newExpiry)
		priceChanged := newPrice != nil && newPrice.Cmp(current.Price) != 0
		var err error
		switch {
		case priceChanged, newSize != nil && newSize.Cmp(current.Size) > 0:
			err = perp.Book.MoveToBack(updated)
		case newSize != nil && newSize.Cmp(current.Size) < 0:
			err = perp.Book.UpdateSizeInPlace(orderId, *newSize)
		}
		if err != nil {
			return nil, err
		}
		return []StateEvent{OrderEvent{
			PerpetualId: perp.Id, AccountId: current.AccountId, OrderId: current.OrderId, Kind: OrderUpdated,
			HasNewPrice: newPrice != nil, NewPrice: derefUD64(newPrice),
			HasNewSize: newSize != nil, NewSize: derefUD64(newSize),
			HasNewExpiryBlock: newExpiry != nil, NewExpiryBlock: updated.ExpiryBlock,
		}}, nil

	case stream.KindOrderCancelled, stream.KindOrderCancelledByAdmin, stream.KindOrderCancelledByLiquidator,
		stream.KindClearingExpiredOrder, stream.KindClearingFrozenAccountOrder, stream.KindClearingInvalidCloseOrder,
		stream.KindClearingSelfMatchingOrder, stream.KindMakerOrderSettlementFailed:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		order, err := perp.Book.RemoveByID(OrderId(ev.OrderId))
		if err != nil {
			return nil, err
		}
		events := []StateEvent{OrderEvent{PerpetualId: perp.Id, AccountId: order.AccountId, OrderId: order.OrderId, Kind: OrderRemoved}}
		if acc, ok := e.account(order.AccountId); ok && ev.Locked != nil {
			locked, err := e.CollateralConverter.FromUnsignedBigInt128(ev.Locked)
			if err == nil {
				acc.UpdateLockedBalance(instant, locked)
				events = append(events, AccountEvent{AccountId: acc.Id, Kind: AccountLockedBalanceUpdated, LockedBalance: locked})
			}
		}
		return events, nil

	case stream.KindPositionOpened:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		acc, ok := e.account(AccountId(ev.AccountId))
		if !ok {
			return nil, nil
		}
		entryPrice, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.EntryPrice)
		if err != nil {
			return nil, err
		}
		size, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.SizeRaw)
		if err != nil {
			return nil, err
		}
		deposit, err := e.CollateralConverter.FromUnsignedBigInt128(ev.DepositRaw)
		if err != nil {
			return nil, err
		}
		posType := PositionType(ev.PositionType)
		pos := Opened(instant, perp.Id, acc.Id, posType, entryPrice, size, deposit, perp.MaintenanceMargin)
		acc.Positions[perp.Id] = &pos
		if posType == Long {
			perp.UpdateOpenInterest(instant, num.ZeroUD64, size)
		}
		return []StateEvent{PositionEvent{PerpetualId: perp.Id, AccountId: acc.Id, Kind: PositionOpened, Type: pos.Type, EntryPrice: entryPrice, Size: size, Deposit: deposit}}, nil

	case stream.KindPositionIncreased:
		perp, pos, err := e.perpPosition(ev)
		if err != nil {
			return nil, err
		}
		entryPrice, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.EntryPrice)
		if err != nil {
			return nil, err
		}
		newSize, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.NewSizeRaw)
		if err != nil {
			return nil, err
		}
		deposit, err := e.CollateralConverter.FromUnsignedBigInt128(ev.DepositRaw)
		if err != nil {
			return nil, err
		}
		prevSize := pos.Size
		pos.UpdateEntryPrice(instant, entryPrice)
		pos.UpdateSize(instant, newSize)
		pos.UpdateDeposit(instant, deposit)
		pos.UpdatePremiumPnl(instant, num.ZeroD256)
		pos.ApplyMarkPrice(instant, perp.MarkPrice)
		if pos.Type == Long {
			perp.UpdateOpenInterest(instant, prevSize, newSize)
		}
		return []StateEvent{PositionEvent{PerpetualId: perp.Id, AccountId: pos.AccountId, Kind: PositionIncreased, EntryPrice: entryPrice, PrevSize: prevSize, NewSize: newSize, Deposit: deposit}}, nil

	case stream.KindPositionDecreased, stream.KindPositionDeleveraged, stream.KindPositionLiquidated:
		perp, pos, err := e.perpPosition(ev)
		if err != nil {
			return nil, err
		}
		newSize, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.NewSizeRaw)
		if err != nil {
			return nil, err
		}
		deposit, err := e.CollateralConverter.FromUnsignedBigInt128(ev.DepositRaw)
		if err != nil {
			return nil, err
		}
		paymentPerUnit, err := e.CollateralConverter.FromSignedBigInt256(ev.PaymentPerUnitRaw)
		if err != nil {
			paymentPerUnit = num.ZeroD256
		}
		prevSize := pos.Size
		pos.ApplyFundingPayment(instant, paymentPerUnit)
		pos.UpdateSize(instant, newSize)
		pos.UpdateDeposit(instant, deposit)
		if pos.Type == Long {
			perp.UpdateOpenInterest(instant, prevSize, newSize)
		}
		kind := PositionDecreased
		if ev.Kind == stream.KindPositionDeleveraged {
			kind = PositionDeleveraged
		} else if ev.Kind == stream.KindPositionLiquidated {
			kind = PositionLiquidated
		}
		pe := PositionEvent{PerpetualId: perp.Id, AccountId: pos.AccountId, Kind: kind, PrevSize: prevSize, NewSize: newSize, Deposit: deposit, DeltaPnl: pos.DeltaPnl, PremiumPnl: pos.PremiumPnl, ForceClose: ev.ForceClose}
		events := []StateEvent{pe}
		if newSize.IsZero() && kind != PositionDecreased {
			delete(e.Accounts[pos.AccountId].Positions, perp.Id)
		}
		return events, nil

	case stream.KindPositionInverted:
		perp, pos, err := e.perpPosition(ev)
		if err != nil {
			return nil, err
		}
		exitPrice, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.EntryPrice)
		if err != nil {
			return nil, err
		}
		closed := PositionEvent{PerpetualId: perp.Id, AccountId: pos.AccountId, Kind: PositionClosed, Type: pos.Type, EntryPrice: pos.EntryPrice, ExitPrice: exitPrice, Size: pos.Size, DeltaPnl: pos.DeltaPnl, PremiumPnl: pos.PremiumPnl}
		newType := Short
		if pos.Type == Short {
			newType = Long
		}
		newSize, err := perp.SizeConverter.FromUnsignedBigIntUD64(ev.NewSizeRaw)
		if err != nil {
			return nil, err
		}
		deposit, err := e.CollateralConverter.FromUnsignedBigInt128(ev.DepositRaw)
		if err != nil {
			return nil, err
		}
		prevSize := pos.Size
		if pos.Type == Long {
			perp.UpdateOpenInterest(instant, prevSize, num.ZeroUD64)
		}
		pos.UpdateType(instant, newType)
		pos.UpdateEntryPrice(instant, exitPrice)
		pos.UpdateSize(instant, newSize)
		pos.UpdateDeposit(instant, deposit)
		pos.UpdateDeltaPnl(instant, num.ZeroD256)
		pos.UpdatePremiumPnl(instant, num.ZeroD256)
		if newType == Long {
			perp.UpdateOpenInterest(instant, num.ZeroUD64, newSize)
		}
		opened := PositionEvent{PerpetualId: perp.Id, AccountId: pos.AccountId, Kind: PositionInverted, Type: newType, EntryPrice: exitPrice, PrevSize: prevSize, NewSize: newSize, Deposit: deposit}
		return []StateEvent{closed, opened}, nil

	case stream.KindPositionClosed, stream.KindPositionUnwound, stream.KindPositionUnwoundWithoutPayment:
		perp, pos, err := e.perpPosition(ev)
		if err != nil {
			return nil, err
		}
		exitPrice, err := perp.PriceConverter.FromUnsignedBigIntUD64(ev.EntryPrice)
		if err != nil {
			return nil, err
		}
		if pos.Type == Long {
			perp.UpdateOpenInterest(instant, pos.Size, num.ZeroUD64)
		}
		kind := PositionClosed
		if ev.Kind != stream.KindPositionClosed {
			kind = PositionUnwound
		}
		pe := PositionEvent{PerpetualId: perp.Id, AccountId: pos.AccountId, Kind: kind, Type: pos.Type, EntryPrice: pos.EntryPrice, ExitPrice: exitPrice, Size: pos.Size, DeltaPnl: pos.DeltaPnl, PremiumPnl: pos.PremiumPnl}
		delete(e.Accounts[pos.AccountId].Positions, perp.Id)
		return []StateEvent{pe}, nil

	case stream.KindFundingEventCompleted:
		perp, ok := e.perpetual(PerpetualId(ev.PerpetualId))
		if !ok {
			return nil, nil
		}
		rate, err := e.CollateralConverter.FromSignedBigInt256(ev.FundingRateRaw)
		if err != nil {
			return nil, err
		}
		payment, err := e.CollateralConverter.FromSignedBigInt256(ev.PaymentPerUnitRaw)
		if err != nil {
			return nil, err
		}
		perp.UpdateFunding(instant, rate, payment, ev.FundingEventBlock)
		return nil, nil

	case stream.KindExchangeHalted:
		e.IsHalted = ev.Paused
		return []StateEvent{ExchangeEvent{Kind: ExchangeHaltedChanged, Halted: e.IsHalted}}, nil

	case stream.KindMinPostUpdated:
		v, err := e.CollateralConverter.FromUnsignedBigInt128(ev.Balance)
		if err != nil {
			return nil, err
		}
		e.MinPost = v
		return []StateEvent{ExchangeEvent{Kind: ExchangeMinPostUpdated, MinPost: v}}, nil

	case stream.KindMinSettleUpdated:
		v, err := e.CollateralConverter.FromUnsignedBigInt128(ev.Balance)
		if err != nil {
			return nil, err
		}
		e.MinSettle = v
		return []StateEvent{ExchangeEvent{Kind: ExchangeMinSettleUpdated, MinSettle: v}}, nil

	case stream.KindRecycleFeeUpdated:
		v, err := e.CollateralConverter.FromUnsignedBigInt128(ev.Balance)
		if err != nil {
			return nil, err
		}
		e.RecycleFee = v
		return []StateEvent{ExchangeEvent{Kind: ExchangeRecycleFeeUpdated, RecycleFee: v}}, nil

	default:
		if kind, ok := orderErrorKind(ev.Kind); ok {
			if *ctx == nil {
				return nil, &OrderContextExpectedError{TxIndex: ev.TxIndex, LogIndex: ev.LogIndex}
			}
			if _, tracked := e.account((*ctx).AccountId); !tracked {
				return nil, nil
			}
			oe := OrderError{PerpetualId: (*ctx).PerpetualId, AccountId: (*ctx).AccountId, RequestId: (*ctx).RequestId, Kind: kind}
			if (*ctx).HasOrderId {
				oe.OrderId = (*ctx).OrderId
				oe.HasOrderId = true
			}
			return []StateEvent{oe}, nil
		}
		return nil, nil
	}
}

func (e *Exchange) perpPosition(ev stream.RawEvent) (*Perpetual, *Position, error) {
	perpetualId := PerpetualId(ev.PerpetualId)
	accountId := AccountId(ev.AccountId)
	perp, ok := e.perpetual(perpetualId)
	if !ok {
		return nil, nil, nil
	}
	pos, ok := e.position(accountId, perpetualId)
	if !ok {
		return nil, nil, &PositionNotFoundError{AccountId: accountId, PerpetualId: perpetualId}
	}
	return perp, pos, nil
}

func accountEvent(acc *Account, ctx *OrderContext, kind AccountEventKind, frozen bool) StateEvent {
	e := AccountEvent{AccountId: acc.Id, Kind: kind, Frozen: frozen}
	if ctx != nil {
		e.RequestId = ctx.RequestId
		e.HasRequest = true
	}
	return e
}

func accountBalanceEvent(acc *Account, ctx *OrderContext, balance num.UD128) StateEvent {
	e := AccountEvent{AccountId: acc.Id, Kind: AccountBalanceUpdated, Balance: balance}
	if ctx != nil {
		e.RequestId = ctx.RequestId
		e.HasRequest = true
	}
	return e
}

func positionEvent(pos *Position, ctx *OrderContext, kind PositionEventKind, set func(*PositionEvent)) StateEvent {
	e := PositionEvent{PerpetualId: pos.PerpetualId, AccountId: pos.AccountId, Kind: kind}
	if ctx != nil {
		e.RequestId = ctx.RequestId
		e.HasRequest = true
	}
	set(&e)
	return e
}

func derefBool(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

func derefUD64(p *num.UD64) num.UD64 {
	if p == nil {
		return num.ZeroUD64
	}
	return *p
}

func orderErrorKind(k stream.RawEventKind) (OrderErrorKind, bool) {
	switch k {
	case stream.KindAccountFrozen:
		return ErrAccountFrozen, true
	case stream.KindAmountExceedsAvailableBalance:
		return ErrAmountExceedsAvailableBalance, true
	case stream.KindCrossesBook:
		return ErrCrossesBook, true
	case stream.KindPostOrderUnderMinimum:
		return ErrPostOrderUnderMinimum, true
	case stream.KindPriceOutOfRange:
		return ErrPriceOutOfRange, true
	case stream.KindSizeOutOfRange:
		return ErrSizeOutOfRange, true
	case stream.KindInvalidExpiryBlock:
		return ErrInvalidExpiryBlock, true
	case stream.KindInvalidOrderId:
		return ErrInvalidOrderId, true
	case stream.KindMaxMatchesReached:
		return ErrMaxMatchesReached, true
	case stream.KindMaximumAccountOrders:
		return ErrMaximumAccountOrders, true
	case stream.KindWrongAccountForOrder:
		return ErrWrongAccountForOrder, true
	case stream.KindOrderDoesNotExist:
		return ErrOrderDoesNotExist, true
	case stream.KindImmediateOrCancelExecuted:
		return ErrImmediateOrCancelExecuted, true
	case stream.KindCantChangeCloseOrder:
		return ErrCantChangeCloseOrder, true
	case stream.KindCancelExistingInvalidCloseOrders:
		return ErrCancelExistingInvalidCloseOrders, true
	case stream.KindCloseOrderExceedsPosition:
		return ErrCloseOrderExceedsPosition, true
	case stream.KindCloseOrderPositionMismatch:
		return ErrCloseOrderPositionMismatch, true
	case stream.KindContractIsPaused:
		return ErrContractIsPaused, true
	case stream.KindExceedsLastExecutionBlock:
		return ErrExceedsLastExecutionBlock, true
	case stream.KindInsufficientFundsForRecycleFee:
		return ErrInsufficientFundsForRecycleFee, true
	case stream.KindOrderSettlementImpliesInsolvent:
		return ErrOrderSettlementImpliesInsolvent, true
	case stream.KindOrderSizeExceedsAvailableSize:
		return ErrOrderSizeExceedsAvailableSize, true
	case stream.KindOrderPostFailed:
		return ErrOrderPostFailed, true
	case stream.KindChangeExpiredOrderNeedsNewExpiry:
		return ErrChangeExpiredOrderNeedsNewExpiry, true
	case stream.KindMakerOrderSettlementFailed:
		return ErrMakerOrderSettlementFailed, true
	default:
		return 0, false
	}
}
