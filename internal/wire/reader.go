package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coldbell/mango/backend/internal/num"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ErrSizeMismatch = errors.New("size mismatch")

// CheckSize must pass before any field of a fixed layout is read.
func CheckSize(layout string, data []byte, want int) error {
	if len(data) != want {
		return fmt.Errorf("%w: %s expected %d bytes, got %d", ErrSizeMismatch, layout, want, len(data))
	}
	return nil
}

// Reader decodes little-endian fields in order. The first failure sticks and
// every later read returns a zero value, so callers check Err once.
type Reader struct {
	dec *bin.Decoder
	err error
}

func NewReader(data []byte) *Reader {
	return &Reader{dec: bin.NewBinDecoder(data)}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) Position() int { return int(r.dec.Position()) }

func (r *Reader) Remaining() int { return r.dec.Remaining() }

func (r *Reader) fail(field string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("read %s at offset %d: %w", field, r.dec.Position(), err)
	}
}

func (r *Reader) Skip(n int) {
	if r.err != nil {
		return
	}
	if err := r.dec.SkipBytes(uint(n)); err != nil {
		r.fail("padding", err)
	}
}

func (r *Reader) U8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	if err != nil {
		r.fail("u8", err)
	}
	return v
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		r.fail("u32", err)
	}
	return v
}

func (r *Reader) U64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		r.fail("u64", err)
	}
	return v
}

func (r *Reader) I64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(binary.LittleEndian)
	if err != nil {
		r.fail("i64", err)
	}
	return v
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	out := make([]byte, n)
	if r.err != nil {
		return out
	}
	raw, err := r.dec.ReadNBytes(n)
	if err != nil {
		r.fail("bytes", err)
		return out
	}
	copy(out, raw)
	return out
}

func (r *Reader) PublicKey() solana.PublicKey {
	return solana.PublicKeyFromBytes(r.Bytes(solana.PublicKeyLength))
}

func (r *Reader) U128() num.U128 { return num.U128FromBytes(r.Bytes(num.WideSize)) }

func (r *Reader) I128() num.I128 { return num.I128FromBytes(r.Bytes(num.WideSize)) }

func (r *Reader) I80F48() num.I80F48 { return num.I80F48FromBytes(r.Bytes(num.WideSize)) }

// Done fails when the layout did not consume exactly the whole buffer.
func (r *Reader) Done(layout string) error {
	if r.err != nil {
		return fmt.Errorf("decode %s: %w", layout, r.err)
	}
	if rem := r.dec.Remaining(); rem != 0 {
		return fmt.Errorf("decode %s: %d trailing bytes", layout, rem)
	}
	return nil
}
