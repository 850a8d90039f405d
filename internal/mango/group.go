package mango

import (
	"fmt"

	"github.com/coldbell/mango/backend/internal/num"
	"github.com/gagliardetto/solana-go"
)

const GroupSize = 6032

const (
	tokenInfoSize      = 2*solana.PublicKeyLength + 1 + 7
	spotMarketInfoSize = solana.PublicKeyLength + 5*num.WideSize
	perpMarketInfoSize = solana.PublicKeyLength + 7*num.WideSize + 2*8

	offsetGroupNumOracles  = metaDataSize
	offsetGroupTokens      = offsetGroupNumOracles + 8
	offsetGroupSpotMarkets = offsetGroupTokens + MaxTokens*tokenInfoSize
	offsetGroupPerpMarkets = offsetGroupSpotMarkets + MaxPairs*spotMarketInfoSize
	offsetGroupOracles     = offsetGroupPerpMarkets + MaxPairs*perpMarketInfoSize
	offsetGroupSignerNonce = offsetGroupOracles + MaxPairs*solana.PublicKeyLength
	offsetGroupSignerKey   = offsetGroupSignerNonce + 8
	offsetGroupCache       = offsetGroupSignerKey + 3*solana.PublicKeyLength
	offsetGroupVaults      = offsetGroupCache + solana.PublicKeyLength + 8
	offsetGroupAccounts    = offsetGroupVaults + 4*solana.PublicKeyLength
	offsetGroupPadding     = offsetGroupAccounts + 2*4
	groupLayoutLength      = offsetGroupPadding + 24
)

var _ [0]struct{} = [GroupSize - groupLayoutLength]struct{}{}

type TokenInfo struct {
	Mint     solana.PublicKey
	RootBank solana.PublicKey
	Decimals uint8
}

type SpotMarketInfo struct {
	SpotMarket       solana.PublicKey
	MaintAssetWeight num.I80F48
	InitAssetWeight  num.I80F48
	MaintLiabWeight  num.I80F48
	InitLiabWeight   num.I80F48
	LiquidationFee   num.I80F48
}

type PerpMarketInfo struct {
	PerpMarket       solana.PublicKey
	MaintAssetWeight num.I80F48
	InitAssetWeight  num.I80F48
	MaintLiabWeight  num.I80F48
	InitLiabWeight   num.I80F48
	LiquidationFee   num.I80F48
	MakerFee         num.I80F48
	TakerFee         num.I80F48
	BaseLotSize      int64
	QuoteLotSize     int64
}

// Group is a decoded MangoGroup account. Token, spot and perp arrays line up
// by index only by convention; the layout does not enforce it.
type Group struct {
	MetaData       MetaData
	NumOracles     uint64
	Tokens         [MaxTokens]TokenInfo
	SpotMarkets    [MaxPairs]SpotMarketInfo
	PerpMarkets    [MaxPairs]PerpMarketInfo
	Oracles        [MaxPairs]solana.PublicKey
	SignerNonce    uint64
	SignerKey      solana.PublicKey
	Admin          solana.PublicKey
	DexProgramID   solana.PublicKey
	Cache          solana.PublicKey
	ValidInterval  uint64
	InsuranceVault solana.PublicKey
	SrmVault       solana.PublicKey
	MsrmVault      solana.PublicKey
	FeesVault      solana.PublicKey
	MaxAccounts    uint32
	NumAccounts    uint32
}

func DecodeGroup(data []byte) (*Group, error) {
	r, meta, err := beginDecode("Group", data, GroupSize, DataTypeGroup)
	if err != nil {
		return nil, err
	}

	g := &Group{MetaData: meta}
	g.NumOracles = r.U64()
	for i := range g.Tokens {
		g.Tokens[i] = TokenInfo{
			Mint:     r.PublicKey(),
			RootBank: r.PublicKey(),
			Decimals: r.U8(),
		}
		r.Skip(7)
	}
	for i := range g.SpotMarkets {
		g.SpotMarkets[i] = SpotMarketInfo{
			SpotMarket:       r.PublicKey(),
			MaintAssetWeight: r.I80F48(),
			InitAssetWeight:  r.I80F48(),
			MaintLiabWeight:  r.I80F48(),
			InitLiabWeight:   r.I80F48(),
			LiquidationFee:   r.I80F48(),
		}
	}
	for i := range g.PerpMarkets {
		g.PerpMarkets[i] = PerpMarketInfo{
			PerpMarket:       r.PublicKey(),
			MaintAssetWeight: r.I80F48(),
			InitAssetWeight:  r.I80F48(),
			MaintLiabWeight:  r.I80F48(),
			InitLiabWeight:   r.I80F48(),
			LiquidationFee:   r.I80F48(),
			MakerFee:         r.I80F48(),
			TakerFee:         r.I80F48(),
			BaseLotSize:      r.I64(),
			QuoteLotSize:     r.I64(),
		}
	}
	for i := range g.Oracles {
		g.Oracles[i] = r.PublicKey()
	}
	g.SignerNonce = r.U64()
	g.SignerKey = r.PublicKey()
	g.Admin = r.PublicKey()
	g.DexProgramID = r.PublicKey()
	g.Cache = r.PublicKey()
	g.ValidInterval = r.U64()
	g.InsuranceVault = r.PublicKey()
	g.SrmVault = r.PublicKey()
	g.MsrmVault = r.PublicKey()
	g.FeesVault = r.PublicKey()
	g.MaxAccounts = r.U32()
	g.NumAccounts = r.U32()
	r.Skip(24)

	if err := r.Done("Group"); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) activePairs() int {
	if g.NumOracles > MaxPairs {
		return MaxPairs
	}
	return int(g.NumOracles)
}

// SpotMarketIndex returns the first active slot holding spotMarket.
func (g *Group) SpotMarketIndex(spotMarket solana.PublicKey) (int, error) {
	for i := 0; i < g.activePairs(); i++ {
		if g.SpotMarkets[i].SpotMarket.Equals(spotMarket) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: spot market %s does not belong to this group", ErrNotFound, spotMarket)
}

// PerpMarketIndex returns the first active slot holding perpMarket.
func (g *Group) PerpMarketIndex(perpMarket solana.PublicKey) (int, error) {
	for i := 0; i < g.activePairs(); i++ {
		if g.PerpMarkets[i].PerpMarket.Equals(perpMarket) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: perp market %s does not belong to this group", ErrNotFound, perpMarket)
}

func (g *Group) TokenIndex(mint solana.PublicKey) (int, error) {
	for i := range g.Tokens {
		if g.Tokens[i].Mint.Equals(mint) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: token %s does not belong to this group", ErrNotFound, mint)
}

func (g *Group) RootBankIndex(rootBank solana.PublicKey) (int, error) {
	for i := range g.Tokens {
		if g.Tokens[i].RootBank.Equals(rootBank) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: root bank %s does not belong to this group", ErrNotFound, rootBank)
}
