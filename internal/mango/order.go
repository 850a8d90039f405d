package mango

import (
	"fmt"

	"github.com/coldbell/mango/backend/internal/num"
)

type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeIOC
	OrderTypePostOnly
	OrderTypeMarket
	OrderTypePostOnlySlide
)

var orderTypeNames = [...]string{
	OrderTypeLimit:         "limit",
	OrderTypeIOC:           "ioc",
	OrderTypePostOnly:      "post_only",
	OrderTypeMarket:        "market",
	OrderTypePostOnlySlide: "post_only_slide",
}

func (t OrderType) String() string {
	if int(t) < len(orderTypeNames) {
		return orderTypeNames[t]
	}
	return fmt.Sprintf("order_type(%d)", uint8(t))
}

// OrderID is a perp book key: the limit price in lots sits in the high 64
// bits and the book sequence number in the low 64 bits.
type OrderID num.I128

func (id OrderID) Price() int64     { return int64(num.I128(id).Hi()) }
func (id OrderID) Sequence() uint64 { return num.I128(id).Lo() }
func (id OrderID) String() string   { return num.I128(id).String() }
