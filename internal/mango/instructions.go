package mango

import (
	"bytes"
	"fmt"

	"github.com/coldbell/mango/backend/internal/wire"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// InstructionKind is the u32 opcode that opens every Mango instruction.
type InstructionKind uint32

const (
	InstructionPlacePerpOrder      InstructionKind = 12
	InstructionCancelAllPerpOrders InstructionKind = 39
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionPlacePerpOrder:
		return "PlacePerpOrder"
	case InstructionCancelAllPerpOrders:
		return "CancelAllPerpOrders"
	default:
		return fmt.Sprintf("Instruction(%d)", uint32(k))
	}
}

// Packed instruction data lengths, opcode included.
const (
	PlacePerpOrderDataSize      = 4 + 8 + 8 + 8 + 1 + 1 + 1
	CancelAllPerpOrdersDataSize = 4 + 1
)

type InstructionData interface {
	Kind() InstructionKind
}

type PlacePerpOrder struct {
	Price         int64
	Quantity      int64
	ClientOrderID uint64
	Side          Side
	OrderType     OrderType
	ReduceOnly    bool
}

func (PlacePerpOrder) Kind() InstructionKind { return InstructionPlacePerpOrder }

// CancelAllPerpOrders cancels up to Limit orders of one market.
type CancelAllPerpOrders struct {
	Limit uint8
}

func (CancelAllPerpOrders) Kind() InstructionKind { return InstructionCancelAllPerpOrders }

// EncodeInstructionData writes the opcode followed by the packed fields.
func EncodeInstructionData(data InstructionData) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	var fields []any
	switch d := data.(type) {
	case PlacePerpOrder:
		fields = []any{uint32(d.Kind()), d.Price, d.Quantity, d.ClientOrderID, uint8(d.Side), uint8(d.OrderType), d.ReduceOnly}
	case *PlacePerpOrder:
		if d == nil {
			return nil, fmt.Errorf("%w: nil %s", ErrUnsupportedInstruction, InstructionPlacePerpOrder)
		}
		return EncodeInstructionData(*d)
	case CancelAllPerpOrders:
		fields = []any{uint32(d.Kind()), d.Limit}
	case *CancelAllPerpOrders:
		if d == nil {
			return nil, fmt.Errorf("%w: nil %s", ErrUnsupportedInstruction, InstructionCancelAllPerpOrders)
		}
		return EncodeInstructionData(*d)
	default:
		kind := "nil"
		if data != nil {
			kind = data.Kind().String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInstruction, kind)
	}

	for _, field := range fields {
		if err := enc.Encode(field); err != nil {
			return nil, fmt.Errorf("encode %s: %w", data.Kind(), err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeInstructionData parses bytes produced by EncodeInstructionData.
func DecodeInstructionData(raw []byte) (InstructionData, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: instruction expected at least 4 bytes, got %d", ErrSizeMismatch, len(raw))
	}
	r := wire.NewReader(raw)
	kind := InstructionKind(r.U32())

	var out InstructionData
	switch kind {
	case InstructionPlacePerpOrder:
		if err := wire.CheckSize(kind.String(), raw, PlacePerpOrderDataSize); err != nil {
			return nil, err
		}
		out = PlacePerpOrder{
			Price:         r.I64(),
			Quantity:      r.I64(),
			ClientOrderID: r.U64(),
			Side:          Side(r.U8()),
			OrderType:     OrderType(r.U8()),
			ReduceOnly:    r.Bool(),
		}
	case InstructionCancelAllPerpOrders:
		if err := wire.CheckSize(kind.String(), raw, CancelAllPerpOrdersDataSize); err != nil {
			return nil, err
		}
		out = CancelAllPerpOrders{Limit: r.U8()}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInstruction, kind)
	}

	if err := r.Done(kind.String()); err != nil {
		return nil, err
	}
	return out, nil
}

// PlacePerpOrderAccounts lists the accounts PlacePerpOrder touches.
// OpenOrders entries left zero are sent as read-only placeholders; the
// program expects all MaxPairs of them.
type PlacePerpOrderAccounts struct {
	Group      solana.PublicKey
	Account    solana.PublicKey
	Owner      solana.PublicKey
	Cache      solana.PublicKey
	Market     solana.PublicKey
	Bids       solana.PublicKey
	Asks       solana.PublicKey
	EventQueue solana.PublicKey
	OpenOrders [MaxPairs]solana.PublicKey
}

// NewPlacePerpOrderAccounts fills the account list from decoded snapshots.
func NewPlacePerpOrderAccounts(groupKey solana.PublicKey, group *Group, accountKey, owner, marketKey solana.PublicKey, market *PerpMarket) PlacePerpOrderAccounts {
	return PlacePerpOrderAccounts{
		Group:      groupKey,
		Account:    accountKey,
		Owner:      owner,
		Cache:      group.Cache,
		Market:     marketKey,
		Bids:       market.Bids,
		Asks:       market.Asks,
		EventQueue: market.EventQueue,
	}
}

func (a PlacePerpOrderAccounts) metas() solana.AccountMetaSlice {
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Group, false, false),
		solana.NewAccountMeta(a.Account, true, false),
		solana.NewAccountMeta(a.Owner, false, true),
		solana.NewAccountMeta(a.Cache, false, false),
		solana.NewAccountMeta(a.Market, true, false),
		solana.NewAccountMeta(a.Bids, true, false),
		solana.NewAccountMeta(a.Asks, true, false),
		solana.NewAccountMeta(a.EventQueue, true, false),
	}
	for _, openOrders := range a.OpenOrders {
		metas = append(metas, solana.NewAccountMeta(openOrders, false, false))
	}
	return metas
}

func NewPlacePerpOrderInstruction(programID solana.PublicKey, data PlacePerpOrder, accounts PlacePerpOrderAccounts) (solana.Instruction, error) {
	raw, err := EncodeInstructionData(data)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, accounts.metas(), raw), nil
}

type CancelAllPerpOrdersAccounts struct {
	Group   solana.PublicKey
	Account solana.PublicKey
	Owner   solana.PublicKey
	Market  solana.PublicKey
	Bids    solana.PublicKey
	Asks    solana.PublicKey
}

func NewCancelAllPerpOrdersAccounts(groupKey, accountKey, owner, marketKey solana.PublicKey, market *PerpMarket) CancelAllPerpOrdersAccounts {
	return CancelAllPerpOrdersAccounts{
		Group:   groupKey,
		Account: accountKey,
		Owner:   owner,
		Market:  marketKey,
		Bids:    market.Bids,
		Asks:    market.Asks,
	}
}

func NewCancelAllPerpOrdersInstruction(programID solana.PublicKey, data CancelAllPerpOrders, accounts CancelAllPerpOrdersAccounts) (solana.Instruction, error) {
	raw, err := EncodeInstructionData(data)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Group, false, false),
		solana.NewAccountMeta(accounts.Account, true, false),
		solana.NewAccountMeta(accounts.Owner, false, true),
		solana.NewAccountMeta(accounts.Market, true, false),
		solana.NewAccountMeta(accounts.Bids, true, false),
		solana.NewAccountMeta(accounts.Asks, true, false),
	}
	return solana.NewInstruction(programID, metas, raw), nil
}
