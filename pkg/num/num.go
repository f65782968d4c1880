// Package num provides fixed-width decimal values and scale-aware
// conversion between on-wire fixed-point integers and decimals.
//
// Values are backed by shopspring/decimal, which stores an arbitrary
// precision (coefficient, exponent) pair over math/big. Each exported
// type additionally enforces that its integer mantissa (the decimal's
// coefficient, e.g. 15 for 1.5) fits the advertised bit width, the
// same constraint the on-chain fixed-point encoding carries.
package num

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	maxUnsigned64  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
	maxUnsigned128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxUnsigned256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxSigned256   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	minSigned256   = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
)

// ErrOutOfRange is returned when a value's mantissa does not fit the
// target width, or a decimal can't be resized without losing magnitude.
type ErrOutOfRange struct {
	Width int
	Value string
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("value %s does not fit in %d-bit range", e.Value, e.Width)
}

func checkRange(width int, v decimal.Decimal, min, max *big.Int) error {
	mantissa := v.Shift(v.Exponent() * -1)
	i := mantissa.BigInt()
	if i == nil {
		return &ErrOutOfRange{Width: width, Value: v.String()}
	}
	if i.Cmp(min) < 0 || i.Cmp(max) > 0 {
		return &ErrOutOfRange{Width: width, Value: v.String()}
	}
	return nil
}

// UD64 is an unsigned decimal whose zero-exponent mantissa fits 64 bits.
type UD64 struct{ v decimal.Decimal }

// UD128 is an unsigned decimal whose zero-exponent mantissa fits 128 bits.
type UD128 struct{ v decimal.Decimal }

// UD256 is an unsigned decimal whose zero-exponent mantissa fits 256 bits.
type UD256 struct{ v decimal.Decimal }

// D256 is a signed decimal whose zero-exponent mantissa fits 256 bits
// (two's-complement range).
type D256 struct{ v decimal.Decimal }

func (UD64) zero() UD64   { return UD64{decimal.Zero} }
func (UD128) zero() UD128 { return UD128{decimal.Zero} }
func (UD256) zero() UD256 { return UD256{decimal.Zero} }
func (D256) zero() D256   { return D256{decimal.Zero} }

// Zero / one constants, one per width.
var (
	ZeroUD64  = UD64{decimal.Zero}
	OneUD64   = UD64{decimal.New(1, 0)}
	ZeroUD128 = UD128{decimal.Zero}
	OneUD128  = UD128{decimal.New(1, 0)}
	ZeroUD256 = UD256{decimal.Zero}
	OneUD256  = UD256{decimal.New(1, 0)}
	ZeroD256  = D256{decimal.Zero}
	OneD256   = D256{decimal.New(1, 0)}
)

func newUD64(v decimal.Decimal) (UD64, error) {
	if v.IsNegative() {
		return UD64{}, &ErrOutOfRange{Width: 64, Value: v.String()}
	}
	if err := checkRange(64, v, big.NewInt(0), maxUnsigned64); err != nil {
		return UD64{}, err
	}
	return UD64{v}, nil
}

func newUD128(v decimal.Decimal) (UD128, error) {
	if v.IsNegative() {
		return UD128{}, &ErrOutOfRange{Width: 128, Value: v.String()}
	}
	if err := checkRange(128, v, big.NewInt(0), maxUnsigned128); err != nil {
		return UD128{}, err
	}
	return UD128{v}, nil
}

func newUD256(v decimal.Decimal) (UD256, error) {
	if v.IsNegative() {
		return UD256{}, &ErrOutOfRange{Width: 256, Value: v.String()}
	}
	if err := checkRange(256, v, big.NewInt(0), maxUnsigned256); err != nil {
		return UD256{}, err
	}
	return UD256{v}, nil
}

func newD256(v decimal.Decimal) (D256, error) {
	if err := checkRange(256, v, minSigned256, maxSigned256); err != nil {
		return D256{}, err
	}
	return D256{v}, nil
}

// --- UD64 ---

func (a UD64) Add(b UD64) UD64 { return UD64{a.v.Add(b.v)} }

// Sub returns a-b. Callers must ensure a >= b; the exchange domain never
// subtracts past zero on an unsigned quantity without checking first.
func (a UD64) Sub(b UD64) UD64    { return UD64{a.v.Sub(b.v)} }
func (a UD64) Mul(b UD64) UD64    { return UD64{a.v.Mul(b.v)} }
func (a UD64) Cmp(b UD64) int     { return a.v.Cmp(b.v) }
func (a UD64) IsZero() bool       { return a.v.IsZero() }
func (a UD64) Sign() int          { return a.v.Sign() }
func (a UD64) String() string     { return a.v.String() }
func (a UD64) Decimal() decimal.Decimal { return a.v }
func (a UD64) ToD256() D256       { return D256{a.v} }
func (a UD64) ToUD128() UD128     { return UD128{a.v} }
func (a UD64) ToUD256() UD256     { return UD256{a.v} }

// Div performs floor-rounded division: a / b, floored toward negative
// infinity (equivalent to truncation for unsigned operands).
func (a UD64) Div(b UD64) (UD64, error) {
	if b.IsZero() {
		return UD64{}, fmt.Errorf("division by zero")
	}
	q, _ := a.v.QuoRem(b.v, 0)
	return newUD64(q)
}

// --- UD128 ---

func (a UD128) Add(b UD128) UD128 { return UD128{a.v.Add(b.v)} }
func (a UD128) Sub(b UD128) UD128 { return UD128{a.v.Sub(b.v)} }
func (a UD128) Mul(b UD128) UD128 { return UD128{a.v.Mul(b.v)} }
func (a UD128) Cmp(b UD128) int   { return a.v.Cmp(b.v) }
func (a UD128) IsZero() bool      { return a.v.IsZero() }
func (a UD128) Sign() int         { return a.v.Sign() }
func (a UD128) String() string    { return a.v.String() }
func (a UD128) Decimal() decimal.Decimal { return a.v }
func (a UD128) ToD256() D256      { return D256{a.v} }
func (a UD128) ToUD256() UD256    { return UD256{a.v} }

// Narrow64 rescales into a 64-bit range, failing if the magnitude overflows.
func (a UD128) Narrow64() (UD64, error) { return newUD64(a.v) }

func (a UD128) Div(b UD128) (UD128, error) {
	if b.IsZero() {
		return UD128{}, fmt.Errorf("division by zero")
	}
	q, _ := a.v.QuoRem(b.v, 0)
	return newUD128(q)
}

// --- UD256 ---

func (a UD256) Add(b UD256) UD256 { return UD256{a.v.Add(b.v)} }
func (a UD256) Sub(b UD256) UD256 { return UD256{a.v.Sub(b.v)} }
func (a UD256) Mul(b UD256) UD256 { return UD256{a.v.Mul(b.v)} }
func (a UD256) Cmp(b UD256) int   { return a.v.Cmp(b.v) }
func (a UD256) IsZero() bool      { return a.v.IsZero() }
func (a UD256) Sign() int         { return a.v.Sign() }
func (a UD256) String() string    { return a.v.String() }
func (a UD256) Decimal() decimal.Decimal { return a.v }
func (a UD256) ToD256() D256      { return D256{a.v} }

func (a UD256) Narrow128() (UD128, error) { return newUD128(a.v) }
func (a UD256) Narrow64() (UD64, error)   { return newUD64(a.v) }

func (a UD256) Div(b UD256) (UD256, error) {
	if b.IsZero() {
		return UD256{}, fmt.Errorf("division by zero")
	}
	q, _ := a.v.QuoRem(b.v, 0)
	return newUD256(q)
}

// --- D256 ---

func (a D256) Add(b D256) D256 { return D256{a.v.Add(b.v)} }
func (a D256) Sub(b D256) D256 { return D256{a.v.Sub(b.v)} }
func (a D256) Mul(b D256) D256 { return D256{a.v.Mul(b.v)} }
func (a D256) Cmp(b D256) int  { return a.v.Cmp(b.v) }
func (a D256) IsZero() bool    { return a.v.IsZero() }
func (a D256) Sign() int       { return a.v.Sign() }
func (a D256) Neg() D256       { return D256{a.v.Neg()} }
func (a D256) Abs() D256       { return D256{a.v.Abs()} }
func (a D256) String() string  { return a.v.String() }
func (a D256) Decimal() decimal.Decimal { return a.v }

// Div performs floor-rounded division (toward negative infinity),
// matching the spec's floor-rounding requirement for signed values too.
func (a D256) Div(b D256) (D256, error) {
	if b.IsZero() {
		return D256{}, fmt.Errorf("division by zero")
	}
	q, r := a.v.QuoRem(b.v, 0)
	if !r.IsZero() && r.Sign() != b.v.Sign() {
		q = q.Sub(decimal.New(1, 0))
	}
	return newD256(q)
}

// AsUD64 reinterprets a non-negative signed value as an unsigned
// 64-bit-range decimal, failing if it is negative or out of range.
func (a D256) AsUD64() (UD64, error) {
	if a.Sign() < 0 {
		return UD64{}, &ErrOutOfRange{Width: 64, Value: a.v.String()}
	}
	return newUD64(a.v)
}

// AsUD128 reinterprets a non-negative signed value as an unsigned
// 128-bit-range decimal, failing if it is negative or out of range.
func (a D256) AsUD128() (UD128, error) {
	if a.Sign() < 0 {
		return UD128{}, &ErrOutOfRange{Width: 128, Value: a.v.String()}
	}
	return newUD128(a.v)
}

// Rescale returns the value expressed at the target exponent (negative
// exponent = number of decimal places), discarding any finer precision
// by floor rounding.
func (a D256) Rescale(exp int32) D256 {
	return D256{a.v.RoundFloor(-exp)}
}

// ParseUD64 parses a decimal string into an unsigned 64-bit-range value,
// used by tests and fixture construction rather than the wire-conversion
// path.
func ParseUD64(s string) (UD64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return UD64{}, err
	}
	return newUD64(d)
}

// ParseD256 parses a decimal string into a signed 256-bit-range value.
func ParseD256(s string) (D256, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return D256{}, err
	}
	return newD256(d)
}

// Converter maps on-wire fixed-point integers at a fixed decimal count D
// to and from decimal values: from_unsigned(i) = i * 10^-D.
type Converter struct {
	decimals int32
}

// NewConverter builds a Converter for the given number of decimal places.
func NewConverter(decimals int32) Converter {
	return Converter{decimals: decimals}
}

// Decimals returns the scale this converter was constructed with.
func (c Converter) Decimals() int32 { return c.decimals }

func (c Converter) fromBigInt(i *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(i, -c.decimals)
}

func (c Converter) toBigInt(v decimal.Decimal) *big.Int {
	shifted := v.Shift(c.decimals).Truncate(0)
	i := shifted.BigInt()
	if i == nil {
		return big.NewInt(0)
	}
	return i
}

// FromUnsigned64 converts a u64 on-wire integer into a decimal.
func (c Converter) FromUnsigned64(i uint64) UD64 {
	v, err := newUD64(c.fromBigInt(new(big.Int).SetUint64(i)))
	if err != nil {
		// i is already bounded by uint64, only panics on a misconfigured
		// (negative) decimals count, which is a programmer error.
		panic(err)
	}
	return v
}

// FromUnsignedBigIntUD64 converts an arbitrary-width unsigned on-wire
// integer into a 64-bit-range decimal, used for prices/sizes carried on
// the wire as uint256 but known to fit 64 bits (PNS/LNS quantities).
func (c Converter) FromUnsignedBigIntUD64(i *big.Int) (UD64, error) {
	return newUD64(c.fromBigInt(i))
}

// FromUnsignedBigInt128 converts an arbitrary-width unsigned on-wire integer
// into the 128-bit decimal family, used for collateral/deposit quantities.
func (c Converter) FromUnsignedBigInt128(i *big.Int) (UD128, error) {
	return newUD128(c.fromBigInt(i))
}

// FromUnsignedBigInt256 converts an arbitrary-width unsigned on-wire
// integer into the 256-bit decimal family, used for price/size fields.
func (c Converter) FromUnsignedBigInt256(i *big.Int) (UD256, error) {
	return newUD256(c.fromBigInt(i))
}

// FromSignedBigInt256 converts a signed on-wire integer (two's complement
// already resolved to a signed *big.Int) into a signed decimal.
func (c Converter) FromSignedBigInt256(i *big.Int) (D256, error) {
	return newD256(c.fromBigInt(i))
}

// ToUnsignedBigInt rescales a decimal back to its on-wire integer form.
func (c Converter) ToUnsignedBigInt(v UD256) *big.Int { return c.toBigInt(v.v) }

// ToUnsignedBigInt128 rescales a 128-bit decimal back to its on-wire
// integer form.
func (c Converter) ToUnsignedBigInt128(v UD128) *big.Int { return c.toBigInt(v.v) }

// ToSignedBigInt rescales a signed decimal back to its on-wire integer form.
func (c Converter) ToSignedBigInt(v D256) *big.Int { return c.toBigInt(v.v) }
