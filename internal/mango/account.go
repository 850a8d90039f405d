package mango

import (
	"strings"

	"github.com/coldbell/mango/backend/internal/dex"
	"github.com/coldbell/mango/backend/internal/num"
	"github.com/gagliardetto/solana-go"
)

const (
	AccountSize = 4296

	// Offsets usable in getProgramAccounts memcmp filters.
	AccountGroupOffset = metaDataSize
	AccountOwnerOffset = AccountGroupOffset + solana.PublicKeyLength

	// FreeOrderSlot marks an unused entry in Account.OrderMarket.
	FreeOrderSlot = 0xff
)

const (
	perpAccountSize = 8 + 3*num.WideSize + 5*8

	offsetAccountInMarginBasket = AccountOwnerOffset + solana.PublicKeyLength
	offsetAccountDeposits       = offsetAccountInMarginBasket + MaxPairs + 1
	offsetAccountBorrows        = offsetAccountDeposits + MaxTokens*num.WideSize
	offsetAccountSpotOpenOrders = offsetAccountBorrows + MaxTokens*num.WideSize
	offsetAccountPerpAccounts   = offsetAccountSpotOpenOrders + MaxPairs*solana.PublicKeyLength
	offsetAccountOrderMarket    = offsetAccountPerpAccounts + MaxPairs*perpAccountSize
	offsetAccountOrderSide      = offsetAccountOrderMarket + MaxPerpOpenOrders
	offsetAccountOrders         = offsetAccountOrderSide + MaxPerpOpenOrders
	offsetAccountClientOrderIDs = offsetAccountOrders + MaxPerpOpenOrders*num.WideSize
	offsetAccountMsrmAmount     = offsetAccountClientOrderIDs + MaxPerpOpenOrders*8
	offsetAccountFlags          = offsetAccountMsrmAmount + 8
	offsetAccountInfo           = offsetAccountFlags + 2
	offsetAccountAdvancedOrders = offsetAccountInfo + InfoLen
	offsetAccountNotUpgradable  = offsetAccountAdvancedOrders + solana.PublicKeyLength
	offsetAccountDelegate       = offsetAccountNotUpgradable + 1
	accountLayoutLength         = offsetAccountDelegate + solana.PublicKeyLength + 5
)

var _ [0]struct{} = [AccountSize - accountLayoutLength]struct{}{}

// PerpAccount is a margin account's position in one perp market.
type PerpAccount struct {
	BasePosition        int64
	QuotePosition       num.I80F48
	LongSettledFunding  num.I80F48
	ShortSettledFunding num.I80F48
	BidsQuantity        int64
	AsksQuantity        int64
	TakerBase           int64
	TakerQuote          int64
	MngoAccrued         uint64
}

// Account is a decoded MangoAccount. SpotOpenOrders holds addresses only;
// the referenced Serum accounts are loaded with ResolveOpenOrders.
type Account struct {
	MetaData          MetaData
	Group             solana.PublicKey
	Owner             solana.PublicKey
	InMarginBasket    [MaxPairs]bool
	NumInMarginBasket uint8
	Deposits          [MaxTokens]num.I80F48
	Borrows           [MaxTokens]num.I80F48
	SpotOpenOrders    [MaxPairs]solana.PublicKey
	PerpAccounts      [MaxPairs]PerpAccount
	OrderMarket       [MaxPerpOpenOrders]uint8
	OrderSide         [MaxPerpOpenOrders]Side
	Orders            [MaxPerpOpenOrders]num.I128
	ClientOrderIDs    [MaxPerpOpenOrders]uint64
	MsrmAmount        uint64
	BeingLiquidated   bool
	IsBankrupt        bool
	Info              [InfoLen]byte
	AdvancedOrdersKey solana.PublicKey
	NotUpgradable     bool
	Delegate          solana.PublicKey
}

func DecodeAccount(data []byte) (*Account, error) {
	r, meta, err := beginDecode("Account", data, AccountSize, DataTypeAccount)
	if err != nil {
		return nil, err
	}

	a := &Account{MetaData: meta}
	a.Group = r.PublicKey()
	a.Owner = r.PublicKey()
	for i := range a.InMarginBasket {
		a.InMarginBasket[i] = r.Bool()
	}
	a.NumInMarginBasket = r.U8()
	for i := range a.Deposits {
		a.Deposits[i] = r.I80F48()
	}
	for i := range a.Borrows {
		a.Borrows[i] = r.I80F48()
	}
	for i := range a.SpotOpenOrders {
		a.SpotOpenOrders[i] = r.PublicKey()
	}
	for i := range a.PerpAccounts {
		a.PerpAccounts[i] = PerpAccount{
			BasePosition:        r.I64(),
			QuotePosition:       r.I80F48(),
			LongSettledFunding:  r.I80F48(),
			ShortSettledFunding: r.I80F48(),
			BidsQuantity:        r.I64(),
			AsksQuantity:        r.I64(),
			TakerBase:           r.I64(),
			TakerQuote:          r.I64(),
			MngoAccrued:         r.U64(),
		}
	}
	for i := range a.OrderMarket {
		a.OrderMarket[i] = r.U8()
	}
	for i := range a.OrderSide {
		a.OrderSide[i] = Side(r.U8())
	}
	for i := range a.Orders {
		a.Orders[i] = r.I128()
	}
	for i := range a.ClientOrderIDs {
		a.ClientOrderIDs[i] = r.U64()
	}
	a.MsrmAmount = r.U64()
	a.BeingLiquidated = r.Bool()
	a.IsBankrupt = r.Bool()
	copy(a.Info[:], r.Bytes(InfoLen))
	a.AdvancedOrdersKey = r.PublicKey()
	a.NotUpgradable = r.Bool()
	a.Delegate = r.PublicKey()
	r.Skip(5)

	if err := r.Done("Account"); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenOrdersKeys returns the non-zero spot open-orders addresses keyed by
// market index.
func (a *Account) OpenOrdersKeys() map[int]solana.PublicKey {
	out := make(map[int]solana.PublicKey)
	for i, key := range a.SpotOpenOrders {
		if !key.IsZero() {
			out[i] = key
		}
	}
	return out
}

// PerpOrder is one occupied perp order slot of a margin account.
type PerpOrder struct {
	Slot          int
	MarketIndex   int
	Side          Side
	OrderID       OrderID
	ClientOrderID uint64
}

func (a *Account) PerpOrders() []PerpOrder {
	out := make([]PerpOrder, 0)
	for slot, market := range a.OrderMarket {
		if market == FreeOrderSlot {
			continue
		}
		out = append(out, PerpOrder{
			Slot:          slot,
			MarketIndex:   int(market),
			Side:          a.OrderSide[slot],
			OrderID:       OrderID(a.Orders[slot]),
			ClientOrderID: a.ClientOrderIDs[slot],
		})
	}
	return out
}

// PerpOrdersForMarket filters PerpOrders by market index.
func (a *Account) PerpOrdersForMarket(marketIndex int) []PerpOrder {
	out := make([]PerpOrder, 0)
	for _, order := range a.PerpOrders() {
		if order.MarketIndex == marketIndex {
			out = append(out, order)
		}
	}
	return out
}

func (a *Account) IsDelegated() bool {
	return !a.Delegate.IsZero()
}

// Name is the user-set account label, cut at the first NUL.
func (a *Account) Name() string {
	return strings.TrimSpace(dex.FixedString(a.Info[:]))
}

// NetDeposit returns deposits minus borrows for a token index.
func (a *Account) NetDeposit(tokenIndex int) num.I80F48 {
	return a.Deposits[tokenIndex].Sub(a.Borrows[tokenIndex])
}
