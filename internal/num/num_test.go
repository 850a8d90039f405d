package num

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU128BitOps(t *testing.T) {
	x := NewU128(0b1010, 1<<63)

	assert.True(t, x.Bit(1))
	assert.False(t, x.Bit(0))
	assert.True(t, x.Bit(3))
	assert.True(t, x.Bit(127))
	assert.False(t, x.Bit(126))
	assert.False(t, x.Bit(128))
	assert.Equal(t, 3, x.OnesCount())

	assert.True(t, x.And(NewU128(0b0010, 0)).Equals(NewU128(0b0010, 0)))
	assert.True(t, x.Or(NewU128(1, 0)).Bit(0))
	assert.True(t, x.Xor(x).IsZero())
	assert.True(t, x.Not().Not().Equals(x))
	assert.False(t, x.Not().Bit(1))
	assert.True(t, x.Not().Bit(0))

	assert.True(t, NewU128(1, 0).Lsh(64).Equals(NewU128(0, 1)))
	assert.True(t, NewU128(0, 1).Rsh(64).Equals(NewU128(1, 0)))
	assert.True(t, NewU128(1, 0).Lsh(128).IsZero())
}

func TestU128FromBytesLittleEndian(t *testing.T) {
	raw := make([]byte, WideSize)
	binary.LittleEndian.PutUint64(raw[0:8], 7)
	binary.LittleEndian.PutUint64(raw[8:16], 9)

	x := U128FromBytes(raw)
	assert.Equal(t, uint64(7), x.Lo())
	assert.Equal(t, uint64(9), x.Hi())

	out := make([]byte, WideSize)
	x.PutBytes(out)
	assert.Equal(t, raw, out)
}

func TestI128Signed(t *testing.T) {
	neg := I128FromInt64(-5)
	assert.Equal(t, -1, neg.Sign())
	assert.Equal(t, "-5", neg.String())
	assert.Equal(t, 1, I128FromInt64(3).Cmp(neg))
	assert.Equal(t, -1, neg.Cmp(I128FromInt64(0)))
	assert.Equal(t, 0, I128FromInt64(0).Sign())

	v, err := I128FromBig(big.NewInt(-5))
	require.NoError(t, err)
	assert.True(t, v.Equals(neg))

	tooBig := new(big.Int).Lsh(big.NewInt(1), 127)
	_, err = I128FromBig(tooBig)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestI80F48FromRawBitsKeepsScale(t *testing.T) {
	raw := make([]byte, WideSize)
	binary.LittleEndian.PutUint64(raw[0:8], 1<<47) // 0.5
	binary.LittleEndian.PutUint64(raw[8:16], 1)    // + 2^16

	x := I80F48FromBytes(raw)
	assert.Equal(t, 65536.5, x.Float64())
	assert.Equal(t, "65536.5", x.String())

	out := make([]byte, WideSize)
	x.PutBytes(out)
	assert.Equal(t, raw, out)
}

func TestI80F48Arithmetic(t *testing.T) {
	a := I80F48FromInt64(3)
	b := I80F48FromInt64(-5)

	assert.Equal(t, -2.0, a.Add(b).Float64())
	assert.Equal(t, 8.0, a.Sub(b).Float64())
	assert.Equal(t, 5.0, b.Neg().Float64())
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, -1, b.Cmp(a))
	assert.True(t, b.IsNegative())
	assert.True(t, a.Sub(a).IsZero())

	product, err := a.Mul(b)
	require.NoError(t, err)
	assert.Equal(t, -15.0, product.Float64())

	quotient, err := b.Quo(I80F48FromInt64(2))
	require.NoError(t, err)
	assert.Equal(t, -2.5, quotient.Float64())

	_, err = a.Quo(I80F48{})
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestI80F48MulOverflow(t *testing.T) {
	large, err := I80F48FromFloat64(1 << 70)
	require.NoError(t, err)

	_, err = large.Mul(large)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestI80F48FromFloat64(t *testing.T) {
	x, err := I80F48FromFloat64(0.25)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<46), x.Bits().Lo())
	assert.Equal(t, "0.25", x.Decimal().String())

	neg, err := I80F48FromFloat64(-1.5)
	require.NoError(t, err)
	assert.Equal(t, -1.5, neg.Float64())
}
