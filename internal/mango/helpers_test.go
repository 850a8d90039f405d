package mango

import (
	"encoding/binary"
	"testing"

	"github.com/coldbell/mango/backend/internal/num"
	"github.com/gagliardetto/solana-go"
)

// newBuffer returns a zeroed account buffer with an initialized header.
func newBuffer(size int, dataType DataType) []byte {
	data := make([]byte, size)
	data[0] = uint8(dataType)
	data[1] = 1
	data[2] = 1
	return data
}

func putU64(data []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(data[offset:], v)
}

func putI64(data []byte, offset int, v int64) {
	binary.LittleEndian.PutUint64(data[offset:], uint64(v))
}

func putKey(data []byte, offset int, key solana.PublicKey) {
	copy(data[offset:], key[:])
}

func putFixed(data []byte, offset int, v num.I80F48) {
	v.PutBytes(data[offset : offset+num.WideSize])
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	return solana.NewWallet().PublicKey()
}
