package state

import (
	"github.com/perpl-dex/state-replica/pkg/num"
)

const (
	leverageScale    int32 = 2
	feeScale         int32 = 5
	fundingRateScale int32 = 5
)

// Perpetual is a tradeable contract: its configuration, market data,
// and order book. StateInstant advances independently of Instant:
// StateInstant is advanced once per applied block by the
// state-synchronous pass, which can trigger a deferred funding event on
// block-boundary crossing (§4.4); Instant is stamped by each event that
// mutates the perpetual.
type Perpetual struct {
	Instant      Instant
	StateInstant Instant
	Id           PerpetualId
	Name         string
	Symbol       string
	IsPaused     bool

	PriceConverter        num.Converter
	SizeConverter         num.Converter
	LeverageConverter     num.Converter
	FeeConverter          num.Converter
	FundingRateConverter  num.Converter
	BasePrice             num.UD64

	MakerFee           num.UD64
	TakerFee           num.UD64
	InitialMargin      num.UD64
	MaintenanceMargin  num.UD64

	LastPrice          num.UD64
	LastPriceBlock     uint64
	HasLastPriceBlock  bool
	LastPriceTimestamp uint64

	MarkPrice          num.UD64
	MarkPriceBlock     uint64
	HasMarkPriceBlock  bool
	MarkPriceTimestamp uint64

	OraclePrice          num.UD64
	OraclePriceBlock     uint64
	HasOraclePriceBlock  bool
	OraclePriceTimestamp uint64

	PrevFundingRate       num.D256
	NextFundingRate       num.D256
	HasNextFundingRate    bool
	NextFundingPayment    num.D256
	HasNextFundingPayment bool
	NextFundingEventBlock uint64
	HasNextFundingEvent   bool
	FundingStartBlock     uint64

	OracleFeedId    [32]byte
	IsOracleUsed    bool
	PriceMaxAgeSec  uint64

	Book *OrderBook

	OpenInterest num.UD128
}

// NewPerpetual constructs a perpetual contract from decoded snapshot
// configuration, using the canonical decimal scales for leverage, fees
// and funding rates.
func NewPerpetual(instant Instant, id PerpetualId, name, symbol string, paused bool, priceDecimals, lotDecimals int32, basePrice, makerFee, takerFee, initialMargin, maintenanceMargin, lastPrice, markPrice, oraclePrice num.UD64, lastTimestamp, markTimestamp, oracleTimestampSec uint64, prevFundingRate num.D256, fundingStartBlock uint64, oracleFeedId [32]byte, isOracleUsed bool, priceMaxAgeSec uint64, openInterest num.UD128) *Perpetual {
	return &Perpetual{
		Instant:              instant,
		StateInstant:         instant,
		Id:                   id,
		Name:                 name,
		Symbol:               symbol,
		IsPaused:             paused,
		PriceConverter:       num.NewConverter(priceDecimals),
		SizeConverter:        num.NewConverter(lotDecimals),
		LeverageConverter:    num.NewConverter(leverageScale),
		FeeConverter:         num.NewConverter(feeScale),
		FundingRateConverter: num.NewConverter(fundingRateScale),
		BasePrice:            basePrice,
		MakerFee:             makerFee,
		TakerFee:             takerFee,
		InitialMargin:        initialMargin,
		MaintenanceMargin:    maintenanceMargin,
		LastPrice:            lastPrice,
		LastPriceTimestamp:   lastTimestamp,
		MarkPrice:            markPrice,
		MarkPriceTimestamp:   markTimestamp,
		OraclePrice:          oraclePrice,
		OraclePriceTimestamp: oracleTimestampSec,
		PrevFundingRate:      prevFundingRate,
		FundingStartBlock:    fundingStartBlock,
		OracleFeedId:         oracleFeedId,
		IsOracleUsed:         isOracleUsed,
		PriceMaxAgeSec:       priceMaxAgeSec,
		Book:                 NewOrderBook(),
		OpenInterest:         openInterest,
	}
}

// IsMarkPriceObsolete reports whether the mark price is too old to be
// trusted for order/position settlement at the perpetual's current
// Instant.
func (p *Perpetual) IsMarkPriceObsolete() bool {
	return p.MarkPriceTimestamp+p.PriceMaxAgeSec <= p.Instant.BlockTimestamp
}

// IsOraclePriceObsolete mirrors IsMarkPriceObsolete for the oracle price.
func (p *Perpetual) IsOraclePriceObsolete() bool {
	return p.OraclePriceTimestamp+p.PriceMaxAgeSec <= p.Instant.BlockTimestamp
}

// FundingRate returns the funding rate in effect at StateInstant: the
// pending next rate once its funding event block has been reached,
// otherwise the previously applied rate.
func (p *Perpetual) FundingRate() num.D256 {
	if p.HasNextFundingRate && p.HasNextFundingEvent && p.NextFundingEventBlock <= p.StateInstant.BlockNumber {
		return p.NextFundingRate
	}
	return p.PrevFundingRate
}

// HasPendingFundingRate reports whether a next funding rate is staged
// but its event block has not yet been reached.
func (p *Perpetual) HasPendingFundingRate() bool {
	return p.HasNextFundingRate && p.HasNextFundingEvent && p.NextFundingEventBlock > p.StateInstant.BlockNumber
}

// UpdateStateInstant advances StateInstant and, if a pending funding
// payment's event block has just been reached, returns the
// FundingEvent notice to propagate to every position in the contract
// (§4.4 "two-pass event application").
func (p *Perpetual) UpdateStateInstant(instant Instant) []StateEvent {
	p.StateInstant = instant
	if p.HasNextFundingPayment && p.HasNextFundingEvent && p.NextFundingEventBlock == instant.BlockNumber {
		return []StateEvent{PerpetualEvent{
			PerpetualId: p.Id,
			Kind:        PerpetualFundingEvent,
			Rate:        p.FundingRate(),
			PaymentPerUnit: p.NextFundingPayment,
		}}
	}
	return nil
}

func (p *Perpetual) UpdatePaused(instant Instant, paused bool) {
	p.IsPaused = paused
	p.Instant = instant
}

func (p *Perpetual) UpdateMakerFee(instant Instant, fee num.UD64) {
	p.MakerFee = fee
	p.Instant = instant
}

func (p *Perpetual) UpdateTakerFee(instant Instant, fee num.UD64) {
	p.TakerFee = fee
	p.Instant = instant
}

func (p *Perpetual) UpdateInitialMargin(instant Instant, margin num.UD64) {
	p.InitialMargin = margin
	p.Instant = instant
}

func (p *Perpetual) UpdateMaintenanceMargin(instant Instant, margin num.UD64) {
	p.MaintenanceMargin = margin
	p.Instant = instant
}

func (p *Perpetual) UpdateLastPrice(instant Instant, price num.UD64) {
	p.LastPrice = price
	p.LastPriceBlock = instant.BlockNumber
	p.HasLastPriceBlock = true
	p.LastPriceTimestamp = instant.BlockTimestamp
	p.Instant = instant
}

func (p *Perpetual) UpdateMarkPrice(instant Instant, price num.UD64) {
	p.MarkPrice = price
	p.MarkPriceBlock = instant.BlockNumber
	p.HasMarkPriceBlock = true
	p.MarkPriceTimestamp = instant.BlockTimestamp
	p.Instant = instant
}

func (p *Perpetual) UpdateOraclePrice(instant Instant, price num.UD64) {
	p.OraclePrice = price
	p.OraclePriceBlock = instant.BlockNumber
	p.HasOraclePriceBlock = true
	p.OraclePriceTimestamp = instant.BlockTimestamp
	p.Instant = instant
}

// UpdateFunding stages a new funding rate/payment to take effect at
// blockNum. If a previously staged rate's event block has already
// passed, it is folded into PrevFundingRate first.
func (p *Perpetual) UpdateFunding(instant Instant, fundingRate, fundingPayment num.D256, blockNum uint64) {
	if p.HasNextFundingRate && p.HasNextFundingEvent && p.NextFundingEventBlock < blockNum {
		p.PrevFundingRate = p.NextFundingRate
	}
	p.NextFundingRate = fundingRate
	p.HasNextFundingRate = true
	p.NextFundingPayment = fundingPayment
	p.HasNextFundingPayment = true
	p.NextFundingEventBlock = blockNum
	p.HasNextFundingEvent = true
	p.Instant = instant
}

func (p *Perpetual) UpdateOracleFeedId(instant Instant, feedId [32]byte) {
	p.OracleFeedId = feedId
	p.Instant = instant
}

func (p *Perpetual) UpdateIsOracleUsed(instant Instant, used bool) {
	p.IsOracleUsed = used
	p.Instant = instant
}

func (p *Perpetual) UpdatePriceMaxAgeSec(instant Instant, sec uint64) {
	p.PriceMaxAgeSec = sec
	p.Instant = instant
}

// UpdateOpenInterest folds a position-size delta into the aggregate
// open interest.
func (p *Perpetual) UpdateOpenInterest(instant Instant, prevSize, newSize num.UD64) {
	oi := p.OpenInterest.ToD256().Sub(prevSize.ToD256()).Add(newSize.ToD256())
	if v, err := oi.AsUD128(); err == nil {
		p.OpenInterest = v
	}
	p.Instant = instant
}
