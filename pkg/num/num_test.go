package num

import (
	"math/big"
	"testing"
)

func TestConverterFromUnsigned64(t *testing.T) {
	tests := []struct {
		name     string
		decimals int32
		in       uint64
		want     string
	}{
		{"six decimals", 6, 1234567890, "1234.56789"},
		{"zero decimals", 0, 42, "42"},
		{"five decimals, zero value", 5, 0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConverter(tt.decimals)
			got := c.FromUnsigned64(tt.in)
			if got.String() != tt.want {
				t.Fatalf("FromUnsigned64(%d) with %d decimals = %s, want %s", tt.in, tt.decimals, got.String(), tt.want)
			}
		})
	}
}

func TestConverterRoundTrip(t *testing.T) {
	c := NewConverter(5)
	in := big.NewInt(12345678)
	v, err := c.FromUnsignedBigInt256(in)
	if err != nil {
		t.Fatalf("FromUnsignedBigInt256: %v", err)
	}
	if got := v.String(); got != "123.45678" {
		t.Fatalf("got %s, want 123.45678", got)
	}
	back := c.ToUnsignedBigInt(v)
	if back.Cmp(in) != 0 {
		t.Fatalf("round trip mismatch: got %s, want %s", back.String(), in.String())
	}
}

func TestUD64DivFloors(t *testing.T) {
	c := NewConverter(0)
	a := c.FromUnsigned64(7)
	b := c.FromUnsigned64(2)
	got, err := a.Div(b)
	if err != nil {
		t.Fatalf("Div: %v", err)
	}
	if got.String() != "3" {
		t.Fatalf("7/2 floor = %s, want 3", got.String())
	}
}

func TestUD64OutOfRange(t *testing.T) {
	c := NewConverter(0)
	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	if _, err := c.FromUnsignedBigInt256(huge); err != nil {
		t.Fatalf("256-bit value should fit UD256: %v", err)
	}
	v, _ := c.FromUnsignedBigInt256(huge)
	if _, err := v.Narrow64(); err == nil {
		t.Fatalf("expected narrowing 2^64 into UD64 to fail")
	}
}

func TestD256SignAndAbs(t *testing.T) {
	c := NewConverter(2)
	neg, err := c.FromSignedBigInt256(big.NewInt(-500))
	if err != nil {
		t.Fatalf("FromSignedBigInt256: %v", err)
	}
	if neg.Sign() != -1 {
		t.Fatalf("expected negative sign")
	}
	if got := neg.Abs().String(); got != "5" {
		t.Fatalf("abs(-5.00) = %s, want 5", got)
	}
}

func TestZeroConstants(t *testing.T) {
	if !ZeroUD64.IsZero() || !ZeroUD128.IsZero() || !ZeroUD256.IsZero() || !ZeroD256.IsZero() {
		t.Fatalf("zero constants must report IsZero")
	}
	if OneUD64.Cmp(ZeroUD64.Add(OneUD64)) != 0 {
		t.Fatalf("one + zero should equal one")
	}
}
