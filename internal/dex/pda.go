package dex

import (
	"bytes"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// DeriveGroupSigner returns the signer that owns a group's vaults. The nonce
// is the group's SignerNonce; the program stores it instead of a bump.
func DeriveGroupSigner(programID, group solana.PublicKey, nonce uint64) (solana.PublicKey, error) {
	return solana.CreateProgramAddress([][]byte{group.Bytes(), u64LE(nonce)}, programID)
}

// DeriveAccountPDA returns the address CreateMangoAccount assigns to the
// owner's accountNum-th margin account in group.
func DeriveAccountPDA(programID, group, owner solana.PublicKey, accountNum uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{group.Bytes(), owner.Bytes(), u64LE(accountNum)}, programID)
}

func DeriveAdvancedOrdersPDA(programID, account solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{account.Bytes()}, programID)
}

// FixedString reads a NUL-padded byte field.
func FixedString(raw []byte) string {
	index := bytes.IndexByte(raw, 0)
	if index < 0 {
		index = len(raw)
	}
	return string(raw[:index])
}

func u64LE(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}
