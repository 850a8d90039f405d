// Package mango decodes Mango v3 account snapshots and encodes the perp order
// instructions together with their account lists.
package mango

import (
	"fmt"

	"github.com/coldbell/mango/backend/internal/wire"
)

const (
	MaxTokens         = 16
	MaxPairs          = 15
	MaxPerpOpenOrders = 64
	QuoteIndex        = MaxTokens - 1
	InfoLen           = 32

	metaDataSize = 8
)

type DataType uint8

const (
	DataTypeGroup DataType = iota
	DataTypeAccount
	DataTypeRootBank
	DataTypeNodeBank
	DataTypePerpMarket
	DataTypeBids
	DataTypeAsks
	DataTypeCache
	DataTypeEventQueue
	DataTypeAdvancedOrders
)

var dataTypeNames = [...]string{
	DataTypeGroup:          "Group",
	DataTypeAccount:        "Account",
	DataTypeRootBank:       "RootBank",
	DataTypeNodeBank:       "NodeBank",
	DataTypePerpMarket:     "PerpMarket",
	DataTypeBids:           "Bids",
	DataTypeAsks:           "Asks",
	DataTypeCache:          "Cache",
	DataTypeEventQueue:     "EventQueue",
	DataTypeAdvancedOrders: "AdvancedOrders",
}

func (t DataType) String() string {
	if int(t) < len(dataTypeNames) {
		return fmt.Sprintf("%s(%d)", dataTypeNames[t], uint8(t))
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// MetaData prefixes every Mango account.
type MetaData struct {
	DataType      DataType
	Version       uint8
	IsInitialized bool
}

func readMetaData(r *wire.Reader) MetaData {
	out := MetaData{
		DataType:      DataType(r.U8()),
		Version:       r.U8(),
		IsInitialized: r.Bool(),
	}
	r.Skip(5)
	return out
}

func (m MetaData) validate(want DataType) error {
	if m.DataType != want {
		return fmt.Errorf("%w: expected data type %s, got %s", ErrTypeMismatch, want, m.DataType)
	}
	if !m.IsInitialized {
		return fmt.Errorf("%w: %s expected is_initialized=1, got 0", ErrTypeMismatch, want)
	}
	return nil
}

// beginDecode checks the buffer length and the metadata header, in that
// order, and returns a reader positioned after the header.
func beginDecode(layout string, data []byte, size int, want DataType) (*wire.Reader, MetaData, error) {
	if err := wire.CheckSize(layout, data, size); err != nil {
		return nil, MetaData{}, err
	}
	r := wire.NewReader(data)
	meta := readMetaData(r)
	if err := r.Err(); err != nil {
		return nil, MetaData{}, fmt.Errorf("decode %s metadata: %w", layout, err)
	}
	if err := meta.validate(want); err != nil {
		return nil, MetaData{}, err
	}
	return r, meta, nil
}
