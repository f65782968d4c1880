package state

import "github.com/perpl-dex/state-replica/pkg/num"

// Position is an account's open exposure to one perpetual contract.
//
// FundingInstant tracks the last instant a funding payment was folded
// into PremiumPnl, separately from Instant (which advances on every
// mutation); ApplyFundingPayment uses it to make repeated delivery of
// the same funding event a no-op (§4.5 "funding idempotency").
type Position struct {
	Instant                     Instant
	FundingInstant              Instant
	PerpetualId                 PerpetualId
	AccountId                   AccountId
	Type                        PositionType
	EntryPrice                  num.UD64
	Size                        num.UD64
	Deposit                     num.UD128
	DeltaPnl                    num.D256
	PremiumPnl                  num.D256
	MaintenanceMarginRequirement num.UD128
}

func maintenanceMarginRequirement(entryPrice, size num.UD64, maintenanceMargin num.UD64) num.UD128 {
	notional := entryPrice.ToD256().Mul(size.ToD256())
	mmr, err := notional.Div(maintenanceMargin.ToD256())
	if err != nil {
		return num.ZeroUD128
	}
	v, err := mmr.AsUD128()
	if err != nil {
		return num.ZeroUD128
	}
	return v
}

// Opened constructs a freshly opened position with zeroed PnL.
func Opened(instant Instant, perpetualId PerpetualId, accountId AccountId, t PositionType, entryPrice, size num.UD64, deposit num.UD128, maintenanceMargin num.UD64) Position {
	return Position{
		Instant:                      instant,
		FundingInstant:               instant,
		PerpetualId:                  perpetualId,
		AccountId:                    accountId,
		Type:                         t,
		EntryPrice:                   entryPrice,
		Size:                         size,
		Deposit:                      deposit,
		DeltaPnl:                     num.ZeroD256,
		PremiumPnl:                   num.ZeroD256,
		MaintenanceMarginRequirement: maintenanceMarginRequirement(entryPrice, size, maintenanceMargin),
	}
}

// Pnl is the sum of unrealized delta and premium PnL.
func (p Position) Pnl() num.D256 { return p.DeltaPnl.Add(p.PremiumPnl) }

func positionSign(t PositionType) num.D256 {
	if t == Long {
		return num.OneD256
	}
	return num.OneD256.Neg()
}

// clampPrice floors a signed price at zero and narrows it to UD64,
// falling back to zero if it is (improbably) out of 64-bit range.
func clampPrice(d num.D256) num.UD64 {
	if d.Sign() < 0 {
		return num.ZeroUD64
	}
	v, err := d.AsUD64()
	if err != nil {
		return num.ZeroUD64
	}
	return v
}

// LiquidationPrice is the mark price at which this position's margin
// falls to the maintenance margin requirement.
func (p Position) LiquidationPrice() num.UD64 {
	sign := positionSign(p.Type)
	term, err := sign.Mul(p.MaintenanceMarginRequirement.ToD256().Sub(p.Deposit.ToD256()).Sub(p.PremiumPnl)).Div(p.Size.ToD256())
	if err != nil {
		term = num.ZeroD256
	}
	return clampPrice(p.EntryPrice.ToD256().Add(term))
}

// BankruptcyPrice is the mark price at which this position's margin
// falls to zero.
func (p Position) BankruptcyPrice() num.UD64 {
	sign := positionSign(p.Type)
	term, err := sign.Mul(p.Deposit.ToD256().Add(p.PremiumPnl)).Div(p.Size.ToD256())
	if err != nil {
		term = num.ZeroD256
	}
	return clampPrice(p.EntryPrice.ToD256().Sub(term))
}

func (p *Position) UpdateType(instant Instant, t PositionType) {
	p.Type = t
	p.Instant = instant
}

func (p *Position) UpdateEntryPrice(instant Instant, entryPrice num.UD64) {
	p.EntryPrice = entryPrice
	p.Instant = instant
}

func (p *Position) UpdateSize(instant Instant, size num.UD64) {
	p.Size = size
	p.Instant = instant
}

func (p *Position) UpdateDeposit(instant Instant, deposit num.UD128) {
	p.Deposit = deposit
	p.Instant = instant
}

func (p *Position) UpdateDeltaPnl(instant Instant, deltaPnl num.D256) {
	p.DeltaPnl = deltaPnl
	p.Instant = instant
}

func (p *Position) UpdatePremiumPnl(instant Instant, premiumPnl num.D256) {
	p.PremiumPnl = premiumPnl
	p.Instant = instant
	p.FundingInstant = instant
}

// ApplyMarkPrice recomputes DeltaPnl from a new mark price. Long
// positions gain when mark rises above entry; short positions gain
// when it falls below.
func (p *Position) ApplyMarkPrice(instant Instant, markPrice num.UD64) {
	sign := positionSign(p.Type)
	diff := markPrice.ToD256().Sub(p.EntryPrice.ToD256())
	p.DeltaPnl = sign.Mul(diff).Mul(p.Size.ToD256())
	p.Instant = instant
}

// ApplyFundingPayment folds a per-unit funding payment into PremiumPnl.
// A positive payment means longs pay shorts. Returns false without
// mutating state if FundingInstant is already at or past instant
// (idempotent replay of the same funding event).
func (p *Position) ApplyFundingPayment(instant Instant, paymentPerUnit num.D256) bool {
	if !p.FundingInstant.Less(instant) {
		return false
	}
	sign := num.OneD256
	if p.Type == Long {
		sign = num.OneD256.Neg()
	}
	p.PremiumPnl = p.PremiumPnl.Add(sign.Mul(paymentPerUnit).Mul(p.Size.ToD256()))
	p.Instant = instant
	p.FundingInstant = instant
	return true
}

// ApplyMaintenanceMargin recomputes MaintenanceMarginRequirement from
// the position's current entry price and size against an updated
// maintenance margin parameter.
func (p *Position) ApplyMaintenanceMargin(instant Instant, maintenanceMargin num.UD64) {
	p.MaintenanceMarginRequirement = maintenanceMarginRequirement(p.EntryPrice, p.Size, maintenanceMargin)
	p.Instant = instant
}
