package mango

import (
	"encoding/binary"
	"testing"

	"github.com/coldbell/mango/backend/internal/num"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type groupFixture struct {
	data        []byte
	perpMarkets []solana.PublicKey
	spotMarkets []solana.PublicKey
	mints       []solana.PublicKey
	rootBanks   []solana.PublicKey
	cache       solana.PublicKey
	feesVault   solana.PublicKey
}

func sampleGroup(t *testing.T, numOracles uint64) groupFixture {
	t.Helper()

	f := groupFixture{data: newBuffer(GroupSize, DataTypeGroup)}
	putU64(f.data, offsetGroupNumOracles, numOracles)
	for i := 0; i < MaxTokens; i++ {
		mint, rootBank := newKey(t), newKey(t)
		off := offsetGroupTokens + i*tokenInfoSize
		putKey(f.data, off, mint)
		putKey(f.data, off+solana.PublicKeyLength, rootBank)
		f.data[off+2*solana.PublicKeyLength] = uint8(6 + i%3)
		f.mints = append(f.mints, mint)
		f.rootBanks = append(f.rootBanks, rootBank)
	}
	for i := 0; i < MaxPairs; i++ {
		spot, perp := newKey(t), newKey(t)
		putKey(f.data, offsetGroupSpotMarkets+i*spotMarketInfoSize, spot)

		off := offsetGroupPerpMarkets + i*perpMarketInfoSize
		putKey(f.data, off, perp)
		putFixed(f.data, off+solana.PublicKeyLength+6*num.WideSize, num.I80F48FromInt64(-1))
		putI64(f.data, off+solana.PublicKeyLength+7*num.WideSize, 100)
		putI64(f.data, off+solana.PublicKeyLength+7*num.WideSize+8, 10)

		f.spotMarkets = append(f.spotMarkets, spot)
		f.perpMarkets = append(f.perpMarkets, perp)
	}
	putU64(f.data, offsetGroupSignerNonce, 254)
	f.cache = newKey(t)
	putKey(f.data, offsetGroupCache, f.cache)
	f.feesVault = newKey(t)
	putKey(f.data, offsetGroupVaults+3*solana.PublicKeyLength, f.feesVault)
	binary.LittleEndian.PutUint32(f.data[offsetGroupAccounts:], 100000)
	binary.LittleEndian.PutUint32(f.data[offsetGroupAccounts+4:], 4242)
	return f
}

func TestDecodeGroup(t *testing.T) {
	f := sampleGroup(t, 3)

	g, err := DecodeGroup(f.data)
	require.NoError(t, err)

	assert.Equal(t, DataTypeGroup, g.MetaData.DataType)
	assert.Equal(t, uint64(3), g.NumOracles)
	assert.Equal(t, f.mints[4], g.Tokens[4].Mint)
	assert.Equal(t, f.rootBanks[15], g.Tokens[15].RootBank)
	assert.Equal(t, uint8(7), g.Tokens[1].Decimals)
	assert.Equal(t, f.spotMarkets[14], g.SpotMarkets[14].SpotMarket)
	assert.Equal(t, f.perpMarkets[2], g.PerpMarkets[2].PerpMarket)
	assert.True(t, g.PerpMarkets[2].TakerFee.Equals(num.I80F48FromInt64(-1)))
	assert.Equal(t, int64(100), g.PerpMarkets[2].BaseLotSize)
	assert.Equal(t, int64(10), g.PerpMarkets[2].QuoteLotSize)
	assert.Equal(t, uint64(254), g.SignerNonce)
	assert.Equal(t, f.cache, g.Cache)
	assert.Equal(t, f.feesVault, g.FeesVault)
	assert.Equal(t, uint32(100000), g.MaxAccounts)
	assert.Equal(t, uint32(4242), g.NumAccounts)
}

func TestGroupIndexLookups(t *testing.T) {
	f := sampleGroup(t, 3)
	g, err := DecodeGroup(f.data)
	require.NoError(t, err)

	for k := 0; k < 3; k++ {
		idx, err := g.PerpMarketIndex(f.perpMarkets[k])
		require.NoError(t, err)
		assert.Equal(t, k, idx)

		idx, err = g.SpotMarketIndex(f.spotMarkets[k])
		require.NoError(t, err)
		assert.Equal(t, k, idx)
	}

	// present in the array but beyond numOracles
	_, err = g.PerpMarketIndex(f.perpMarkets[5])
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), f.perpMarkets[5].String())

	_, err = g.SpotMarketIndex(f.spotMarkets[3])
	require.ErrorIs(t, err, ErrNotFound)

	idx, err := g.TokenIndex(f.mints[QuoteIndex])
	require.NoError(t, err)
	assert.Equal(t, QuoteIndex, idx)

	idx, err = g.RootBankIndex(f.rootBanks[9])
	require.NoError(t, err)
	assert.Equal(t, 9, idx)

	missing := newKey(t)
	_, err = g.TokenIndex(missing)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), missing.String())
	_, err = g.RootBankIndex(missing)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGroupLookupFirstMatchWins(t *testing.T) {
	f := sampleGroup(t, 4)
	putKey(f.data, offsetGroupPerpMarkets+3*perpMarketInfoSize, f.perpMarkets[1])

	g, err := DecodeGroup(f.data)
	require.NoError(t, err)
	idx, err := g.PerpMarketIndex(f.perpMarkets[1])
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestGroupLookupClampsNumOracles(t *testing.T) {
	f := sampleGroup(t, 1000)
	g, err := DecodeGroup(f.data)
	require.NoError(t, err)

	idx, err := g.PerpMarketIndex(f.perpMarkets[MaxPairs-1])
	require.NoError(t, err)
	assert.Equal(t, MaxPairs-1, idx)
}
