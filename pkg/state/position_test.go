package state

import (
	"testing"

	"github.com/perpl-dex/state-replica/pkg/num"
)

func amt(n int64) num.UD64    { return num.NewConverter(0).FromUnsigned64(uint64(n)) }
func deposit(n int64) num.UD128 { return amt(n).ToUD128() }

func TestMaintenanceMarginRequirement(t *testing.T) {
	i0 := Instant{}
	mm1, mm2 := amt(20), amt(10)

	for _, side := range []PositionType{Long, Short} {
		pos := Opened(i0, 1, 1, side, amt(100), amt(10), deposit(100), mm1)
		if got := pos.MaintenanceMarginRequirement.String(); got != "50" {
			t.Fatalf("%v: initial MMR = %s, want 50", side, got)
		}

		pos.UpdateEntryPrice(i0, amt(80))
		pos.ApplyMaintenanceMargin(i0, mm1)
		if got := pos.MaintenanceMarginRequirement.String(); got != "40" {
			t.Fatalf("%v: MMR after entry price change = %s, want 40", side, got)
		}

		pos.UpdateSize(i0, amt(20))
		pos.ApplyMaintenanceMargin(i0, mm1)
		if got := pos.MaintenanceMarginRequirement.String(); got != "80" {
			t.Fatalf("%v: MMR after size change = %s, want 80", side, got)
		}

		pos.ApplyMaintenanceMargin(i0, mm2)
		if got := pos.MaintenanceMarginRequirement.String(); got != "160" {
			t.Fatalf("%v: MMR after margin change = %s, want 160", side, got)
		}
	}
}

func TestLiquidationPrice(t *testing.T) {
	i0 := Instant{}
	i1 := Instant{BlockNumber: 1, BlockTimestamp: 1}
	mm1 := amt(20)

	long := Opened(i0, 1, 1, Long, amt(100), amt(10), deposit(100), mm1)
	if got := long.LiquidationPrice().String(); got != "95" {
		t.Fatalf("long liquidation price = %s, want 95", got)
	}
	if !long.ApplyFundingPayment(i1, num.NewConverter(0).FromUnsigned64(5).ToD256()) {
		t.Fatal("expected funding payment to apply")
	}
	if got := long.LiquidationPrice().String(); got != "100" {
		t.Fatalf("long liquidation price after funding = %s, want 100", got)
	}

	short := Opened(i0, 1, 1, Short, amt(100), amt(10), deposit(100), mm1)
	if got := short.LiquidationPrice().String(); got != "105" {
		t.Fatalf("short liquidation price = %s, want 105", got)
	}
	if !short.ApplyFundingPayment(i1, num.NewConverter(0).FromUnsigned64(5).ToD256().Neg()) {
		t.Fatal("expected funding payment to apply")
	}
	if got := short.LiquidationPrice().String(); got != "100" {
		t.Fatalf("short liquidation price after funding = %s, want 100", got)
	}
}

func TestBankruptcyPrice(t *testing.T) {
	i0 := Instant{}
	i1 := Instant{BlockNumber: 1, BlockTimestamp: 1}
	mm1 := amt(20)

	long := Opened(i0, 1, 1, Long, amt(100), amt(10), deposit(100), mm1)
	if got := long.BankruptcyPrice().String(); got != "90" {
		t.Fatalf("long bankruptcy price = %s, want 90", got)
	}
	if !long.ApplyFundingPayment(i1, num.NewConverter(0).FromUnsigned64(5).ToD256()) {
		t.Fatal("expected funding payment to apply")
	}
	if got := long.BankruptcyPrice().String(); got != "95" {
		t.Fatalf("long bankruptcy price after funding = %s, want 95", got)
	}

	short := Opened(i0, 1, 1, Short, amt(100), amt(10), deposit(100), mm1)
	if got := short.BankruptcyPrice().String(); got != "110" {
		t.Fatalf("short bankruptcy price = %s, want 110", got)
	}
	if !short.ApplyFundingPayment(i1, num.NewConverter(0).FromUnsigned64(5).ToD256().Neg()) {
		t.Fatal("expected funding payment to apply")
	}
	if got := short.BankruptcyPrice().String(); got != "105" {
		t.Fatalf("short bankruptcy price after funding = %s, want 105", got)
	}
}

func TestApplyFundingPaymentIsIdempotent(t *testing.T) {
	i0 := Instant{}
	i1 := Instant{BlockNumber: 1, BlockTimestamp: 1}
	pos := Opened(i0, 1, 1, Long, amt(100), amt(10), deposit(100), amt(20))

	if !pos.ApplyFundingPayment(i1, num.NewConverter(0).FromUnsigned64(5).ToD256()) {
		t.Fatal("expected first delivery to apply")
	}
	before := pos.PremiumPnl.String()

	if pos.ApplyFundingPayment(i1, num.NewConverter(0).FromUnsigned64(5).ToD256()) {
		t.Fatal("expected replay at the same instant to be a no-op")
	}
	if got := pos.PremiumPnl.String(); got != before {
		t.Fatalf("PremiumPnl mutated on replay: got %s, want %s", got, before)
	}
}
