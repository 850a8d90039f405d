package num

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// FractionalBits is the implicit binary scale of I80F48.
const FractionalBits = 48

var (
	ErrOverflow       = errors.New("value overflows 128 bits")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNotFinite      = errors.New("value is not finite")
)

var fivePow48 = new(big.Int).Exp(big.NewInt(5), big.NewInt(FractionalBits), nil)

// I80F48 is a signed fixed-point number: 80 integer bits and 48 fractional
// bits packed in a 128-bit two's-complement integer. The raw bits are the
// on-chain representation and are never rescaled.
type I80F48 struct {
	bits I128
}

// I80F48FromBits wraps raw bits as stored on chain.
func I80F48FromBits(bits I128) I80F48 {
	return I80F48{bits: bits}
}

// I80F48FromBytes reads the 16-byte little-endian wire field.
func I80F48FromBytes(b []byte) I80F48 {
	return I80F48{bits: I128FromBytes(b)}
}

// I80F48FromInt64 returns the fixed-point value equal to the integer v.
func I80F48FromInt64(v int64) I80F48 {
	b := I128FromInt64(v)
	return I80F48{bits: I128{v: b.v.Lsh(FractionalBits)}}
}

// I80F48FromFloat64 converts v, truncating bits below 2^-48.
func I80F48FromFloat64(v float64) (I80F48, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return I80F48{}, ErrNotFinite
	}
	f := new(big.Float).SetMantExp(new(big.Float).SetFloat64(v), FractionalBits)
	raw, _ := f.Int(nil)
	bits, err := I128FromBig(raw)
	if err != nil {
		return I80F48{}, err
	}
	return I80F48{bits: bits}, nil
}

func (x I80F48) Bits() I128        { return x.bits }
func (x I80F48) PutBytes(b []byte) { x.bits.PutBytes(b) }

func (x I80F48) Sign() int            { return x.bits.Sign() }
func (x I80F48) IsZero() bool         { return x.bits.IsZero() }
func (x I80F48) IsNegative() bool     { return x.bits.Sign() < 0 }
func (x I80F48) Cmp(y I80F48) int     { return x.bits.Cmp(y.bits) }
func (x I80F48) Equals(y I80F48) bool { return x.bits.Equals(y.bits) }
func (x I80F48) Add(y I80F48) I80F48  { return I80F48{bits: x.bits.addWrap(y.bits)} }
func (x I80F48) Sub(y I80F48) I80F48  { return I80F48{bits: x.bits.subWrap(y.bits)} }
func (x I80F48) Neg() I80F48          { return I80F48{}.Sub(x) }

// Mul multiplies through a 256-bit intermediate and drops the low 48 bits of
// the product, rounding toward negative infinity.
func (x I80F48) Mul(y I80F48) (I80F48, error) {
	product := new(big.Int).Mul(x.bits.Big(), y.bits.Big())
	product.Rsh(product, FractionalBits)
	bits, err := I128FromBig(product)
	if err != nil {
		return I80F48{}, err
	}
	return I80F48{bits: bits}, nil
}

// Quo divides through a 256-bit intermediate, truncating toward zero.
func (x I80F48) Quo(y I80F48) (I80F48, error) {
	if y.IsZero() {
		return I80F48{}, ErrDivisionByZero
	}
	numerator := new(big.Int).Lsh(x.bits.Big(), FractionalBits)
	numerator.Quo(numerator, y.bits.Big())
	bits, err := I128FromBig(numerator)
	if err != nil {
		return I80F48{}, err
	}
	return I80F48{bits: bits}, nil
}

// Float64 is lossy and meant for display and UI arithmetic.
func (x I80F48) Float64() float64 {
	f := new(big.Float).SetMantExp(new(big.Float).SetInt(x.bits.Big()), -FractionalBits)
	out, _ := f.Float64()
	return out
}

// Decimal returns the exact decimal value. n/2^48 == n*5^48/10^48, so the
// conversion never rounds.
func (x I80F48) Decimal() decimal.Decimal {
	scaled := new(big.Int).Mul(x.bits.Big(), fivePow48)
	return decimal.NewFromBigInt(scaled, -FractionalBits)
}

func (x I80F48) String() string { return x.Decimal().String() }
