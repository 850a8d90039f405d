// Package num holds the 128-bit integer and I80F48 fixed-point types used by
// Mango and Serum account layouts.
package num

import (
	"math/big"

	"lukechampine.com/uint128"
)

// WideSize is the number of bytes a 128-bit value occupies on the wire.
const WideSize = 16

var (
	two128    = new(big.Int).Lsh(big.NewInt(1), 128)
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// U128 is an unsigned 128-bit integer. Serum stores slot occupancy and order
// side as U128 bitsets.
type U128 struct {
	v uint128.Uint128
}

func NewU128(lo, hi uint64) U128 {
	return U128{v: uint128.New(lo, hi)}
}

// U128FromBytes reads 16 little-endian bytes.
func U128FromBytes(b []byte) U128 {
	return U128{v: uint128.FromBytes(b)}
}

func (x U128) Lo() uint64 { return x.v.Lo }
func (x U128) Hi() uint64 { return x.v.Hi }

func (x U128) And(y U128) U128 { return U128{v: x.v.And(y.v)} }
func (x U128) Or(y U128) U128  { return U128{v: x.v.Or(y.v)} }
func (x U128) Xor(y U128) U128 { return U128{v: x.v.Xor(y.v)} }
func (x U128) Not() U128       { return U128{v: x.v.Xor(uint128.Max)} }

func (x U128) Lsh(n uint) U128 {
	if n >= 128 {
		return U128{}
	}
	return U128{v: x.v.Lsh(n)}
}

func (x U128) Rsh(n uint) U128 {
	if n >= 128 {
		return U128{}
	}
	return U128{v: x.v.Rsh(n)}
}

func (x U128) Equals(y U128) bool { return x.v.Equals(y.v) }
func (x U128) IsZero() bool       { return x.v.IsZero() }
func (x U128) OnesCount() int     { return x.v.OnesCount() }

// Bit reports whether bit i is set. Bits at or above 128 are never set.
func (x U128) Bit(i uint) bool {
	if i >= 128 {
		return false
	}
	return !x.v.Rsh(i).And64(1).IsZero()
}

// PutBytes writes x as 16 little-endian bytes.
func (x U128) PutBytes(b []byte) { x.v.PutBytes(b) }

func (x U128) Big() *big.Int  { return x.v.Big() }
func (x U128) String() string { return x.v.String() }
func (x U128) Signed() I128   { return I128{v: x.v} }
func (x U128) Cmp(y U128) int { return x.v.Cmp(y.v) }

// I128 is a signed 128-bit integer in two's complement. Mango perp order ids
// are stored as I128.
type I128 struct {
	v uint128.Uint128
}

func NewI128(lo, hi uint64) I128 {
	return I128{v: uint128.New(lo, hi)}
}

// I128FromBytes reads 16 little-endian bytes.
func I128FromBytes(b []byte) I128 {
	return I128{v: uint128.FromBytes(b)}
}

// I128FromInt64 sign-extends v.
func I128FromInt64(v int64) I128 {
	hi := uint64(0)
	if v < 0 {
		hi = ^uint64(0)
	}
	return I128{v: uint128.New(uint64(v), hi)}
}

// I128FromBig converts v, failing with ErrOverflow when it does not fit.
func I128FromBig(v *big.Int) (I128, error) {
	if v.Cmp(maxInt128) > 0 || v.Cmp(minInt128) < 0 {
		return I128{}, ErrOverflow
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	return I128{v: uint128.FromBig(u)}, nil
}

func (x I128) Lo() uint64 { return x.v.Lo }
func (x I128) Hi() uint64 { return x.v.Hi }

func (x I128) Sign() int {
	switch {
	case x.v.Hi>>63 == 1:
		return -1
	case x.v.IsZero():
		return 0
	default:
		return 1
	}
}

func (x I128) Equals(y I128) bool { return x.v.Equals(y.v) }
func (x I128) IsZero() bool       { return x.v.IsZero() }

// Cmp compares x and y as signed values.
func (x I128) Cmp(y I128) int {
	a := uint128.New(x.v.Lo, x.v.Hi^(1<<63))
	b := uint128.New(y.v.Lo, y.v.Hi^(1<<63))
	return a.Cmp(b)
}

// Unsigned reinterprets the bits without conversion.
func (x I128) Unsigned() U128 { return U128{v: x.v} }

func (x I128) PutBytes(b []byte) { x.v.PutBytes(b) }

func (x I128) Big() *big.Int {
	out := x.v.Big()
	if x.v.Hi>>63 == 1 {
		out.Sub(out, two128)
	}
	return out
}

func (x I128) String() string { return x.Big().String() }

func (x I128) addWrap(y I128) I128 { return I128{v: x.v.AddWrap(y.v)} }
func (x I128) subWrap(y I128) I128 { return I128{v: x.v.SubWrap(y.v)} }
