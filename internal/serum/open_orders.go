// Package serum decodes the Serum DEX OpenOrders account, a 1-byte packed
// layout referenced by Mango margin accounts for their spot positions.
package serum

import (
	"github.com/coldbell/mango/backend/internal/num"
	"github.com/coldbell/mango/backend/internal/wire"
	"github.com/gagliardetto/solana-go"
)

const (
	Size      = 3228
	MaxOrders = 128

	headPaddingSize = 5
	tailPaddingSize = 7
)

// Field offsets inside the packed account.
const (
	OffsetAccountFlags     = headPaddingSize
	OffsetMarket           = OffsetAccountFlags + 8
	OffsetOwner            = OffsetMarket + solana.PublicKeyLength
	OffsetBaseTokenFree    = OffsetOwner + solana.PublicKeyLength
	OffsetBaseTokenTotal   = OffsetBaseTokenFree + 8
	OffsetQuoteTokenFree   = OffsetBaseTokenTotal + 8
	OffsetQuoteTokenTotal  = OffsetQuoteTokenFree + 8
	OffsetFreeSlotBits     = OffsetQuoteTokenTotal + 8
	OffsetIsBidBits        = OffsetFreeSlotBits + num.WideSize
	OffsetOrders           = OffsetIsBidBits + num.WideSize
	OffsetClientIDs        = OffsetOrders + MaxOrders*num.WideSize
	OffsetReferrerRebates  = OffsetClientIDs + MaxOrders*8
	offsetTrailingPadding  = OffsetReferrerRebates + 8
	openOrdersLayoutLength = offsetTrailingPadding + tailPaddingSize
)

// Build fails if the offset table drifts from the on-chain account size.
var _ [0]struct{} = [Size - openOrdersLayoutLength]struct{}{}

var ErrSizeMismatch = wire.ErrSizeMismatch

type AccountFlag uint

const (
	FlagInitialized AccountFlag = iota
	FlagMarket
	FlagOpenOrders
	FlagRequestQueue
	FlagEventQueue
	FlagBids
	FlagAsks
)

type AccountFlags uint64

func (f AccountFlags) Has(flag AccountFlag) bool {
	return f&(1<<flag) != 0
}

type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

type OpenOrders struct {
	AccountFlags           AccountFlags
	Market                 solana.PublicKey
	Owner                  solana.PublicKey
	BaseTokenFree          uint64
	BaseTokenTotal         uint64
	QuoteTokenFree         uint64
	QuoteTokenTotal        uint64
	FreeSlotBits           num.U128
	IsBidBits              num.U128
	Orders                 [MaxOrders]num.U128
	ClientIDs              [MaxOrders]uint64
	ReferrerRebatesAccrued uint64
}

type Order struct {
	Slot     int
	Side     Side
	OrderID  num.U128
	ClientID uint64
}

// Decode reads a raw OpenOrders account. Flag validity is not checked here;
// see Valid.
func Decode(data []byte) (*OpenOrders, error) {
	if err := wire.CheckSize("serum.OpenOrders", data, Size); err != nil {
		return nil, err
	}

	r := wire.NewReader(data)
	out := &OpenOrders{}
	r.Skip(headPaddingSize)
	out.AccountFlags = AccountFlags(r.U64())
	out.Market = r.PublicKey()
	out.Owner = r.PublicKey()
	out.BaseTokenFree = r.U64()
	out.BaseTokenTotal = r.U64()
	out.QuoteTokenFree = r.U64()
	out.QuoteTokenTotal = r.U64()
	out.FreeSlotBits = r.U128()
	out.IsBidBits = r.U128()
	for i := range out.Orders {
		out.Orders[i] = r.U128()
	}
	for i := range out.ClientIDs {
		out.ClientIDs[i] = r.U64()
	}
	out.ReferrerRebatesAccrued = r.U64()
	r.Skip(tailPaddingSize)

	if err := r.Done("serum.OpenOrders"); err != nil {
		return nil, err
	}
	return out, nil
}

// Valid reports whether the account is an initialized OpenOrders account.
func (o *OpenOrders) Valid() bool {
	return o.AccountFlags.Has(FlagInitialized) && o.AccountFlags.Has(FlagOpenOrders)
}

// OpenOrderSlots lists occupied slots. A slot is in use when its free-slot bit is
// clear; its side is bid when its is-bid bit is set.
func (o *OpenOrders) OpenOrderSlots() []Order {
	out := make([]Order, 0)
	for slot := 0; slot < MaxOrders; slot++ {
		if o.FreeSlotBits.Bit(uint(slot)) {
			continue
		}
		side := SideAsk
		if o.IsBidBits.Bit(uint(slot)) {
			side = SideBid
		}
		out = append(out, Order{
			Slot:     slot,
			Side:     side,
			OrderID:  o.Orders[slot],
			ClientID: o.ClientIDs[slot],
		})
	}
	return out
}

// Price is the limit price in lots, carried in the high half of a Serum
// order id.
func (o Order) Price() uint64 {
	return o.OrderID.Hi()
}

var layoutVersions = map[solana.PublicKey]int{
	solana.MustPublicKeyFromBase58("4ckmDgGdxQoPDLUkDT3vHgSAkzA3QRdNq5ywwY4sUSJn"): 1,
	solana.MustPublicKeyFromBase58("BJ3jrUzddfuSrZHXSCxMUUQsjKEyLmuuyZebkcaFp2fg"): 1,
	solana.MustPublicKeyFromBase58("EUqojwWA2rd19FZrzeBncJsm38Jm1hEhE3zsmX3bRc2o"): 2,
	solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"): 3,
}

// LatestLayoutVersion is the only OpenOrders layout Decode understands.
const LatestLayoutVersion = 3

// LayoutVersion returns the OpenOrders layout version used by a Serum DEX
// program. Unknown programs are assumed to run the latest layout.
func LayoutVersion(programID solana.PublicKey) int {
	if version, ok := layoutVersions[programID]; ok {
		return version
	}
	return LatestLayoutVersion
}
