package mango

import (
	"github.com/coldbell/mango/backend/internal/num"
	"github.com/gagliardetto/solana-go"
)

const PerpMarketSize = 320

const (
	liquidityMiningInfoSize = 2*num.WideSize + 4*8

	offsetPerpMarketGroup      = metaDataSize
	offsetPerpMarketEventQueue = offsetPerpMarketGroup + 3*solana.PublicKeyLength
	offsetPerpMarketLotSizes   = offsetPerpMarketEventQueue + solana.PublicKeyLength
	offsetPerpMarketFunding    = offsetPerpMarketLotSizes + 2*8
	offsetPerpMarketOpenInt    = offsetPerpMarketFunding + 2*num.WideSize
	offsetPerpMarketFees       = offsetPerpMarketOpenInt + 3*8
	offsetPerpMarketMining     = offsetPerpMarketFees + num.WideSize
	offsetPerpMarketMngoVault  = offsetPerpMarketMining + liquidityMiningInfoSize
	perpMarketLayoutLength     = offsetPerpMarketMngoVault + solana.PublicKeyLength
)

var _ [0]struct{} = [PerpMarketSize - perpMarketLayoutLength]struct{}{}

// LiquidityMiningInfo holds the MNGO reward schedule of a perp market.
type LiquidityMiningInfo struct {
	Rate               num.I80F48
	MaxDepthBps        num.I80F48
	PeriodStart        uint64
	TargetPeriodLength uint64
	MngoLeft           uint64
	MngoPerPeriod      uint64
}

type PerpMarket struct {
	MetaData        MetaData
	Group           solana.PublicKey
	Bids            solana.PublicKey
	Asks            solana.PublicKey
	EventQueue      solana.PublicKey
	QuoteLotSize    int64
	BaseLotSize     int64
	LongFunding     num.I80F48
	ShortFunding    num.I80F48
	OpenInterest    int64
	LastUpdated     uint64
	SeqNum          uint64
	FeesAccrued     num.I80F48
	LiquidityMining LiquidityMiningInfo
	MngoVault       solana.PublicKey
}

func DecodePerpMarket(data []byte) (*PerpMarket, error) {
	r, meta, err := beginDecode("PerpMarket", data, PerpMarketSize, DataTypePerpMarket)
	if err != nil {
		return nil, err
	}

	m := &PerpMarket{MetaData: meta}
	m.Group = r.PublicKey()
	m.Bids = r.PublicKey()
	m.Asks = r.PublicKey()
	m.EventQueue = r.PublicKey()
	m.QuoteLotSize = r.I64()
	m.BaseLotSize = r.I64()
	m.LongFunding = r.I80F48()
	m.ShortFunding = r.I80F48()
	m.OpenInterest = r.I64()
	m.LastUpdated = r.U64()
	m.SeqNum = r.U64()
	m.FeesAccrued = r.I80F48()
	m.LiquidityMining = LiquidityMiningInfo{
		Rate:               r.I80F48(),
		MaxDepthBps:        r.I80F48(),
		PeriodStart:        r.U64(),
		TargetPeriodLength: r.U64(),
		MngoLeft:           r.U64(),
		MngoPerPeriod:      r.U64(),
	}
	m.MngoVault = r.PublicKey()

	if err := r.Done("PerpMarket"); err != nil {
		return nil, err
	}
	return m, nil
}
