package mango

import (
	"fmt"
	"iter"

	"github.com/coldbell/mango/backend/internal/num"
	"github.com/coldbell/mango/backend/internal/wire"
	"github.com/gagliardetto/solana-go"
)

const (
	EventSize          = 200
	EventQueueCapacity = 256
	EventQueueSize     = 51232

	eventQueueHeaderSize   = metaDataSize + 3*8
	eventQueueLayoutLength = eventQueueHeaderSize + EventQueueCapacity*EventSize
)

var _ [0]struct{} = [EventQueueSize - eventQueueLayoutLength]struct{}{}

// Bytes each variant interprets; the rest of the slot is padding.
const (
	fillEventLength      = 200
	outEventLength       = 64
	liquidateEventLength = 128
)

var (
	_ [0]struct{} = [EventSize - fillEventLength]struct{}{}
	_ [0]struct{} = [EventSize - outEventLength - 136]struct{}{}
	_ [0]struct{} = [EventSize - liquidateEventLength - 72]struct{}{}
)

type EventType uint8

const (
	EventTypeFill EventType = iota
	EventTypeOut
	EventTypeLiquidate
)

func (t EventType) String() string {
	switch t {
	case EventTypeFill:
		return "fill"
	case EventTypeOut:
		return "out"
	case EventTypeLiquidate:
		return "liquidate"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event is one of *FillEvent, *OutEvent, *LiquidateEvent or *UnknownEvent.
type Event interface {
	Type() EventType
	isEvent()
}

type FillEvent struct {
	TakerSide          Side
	MakerSlot          uint8
	MakerOut           bool
	Version            uint8
	Timestamp          uint64
	SeqNum             uint64
	Maker              solana.PublicKey
	MakerOrderID       OrderID
	MakerClientOrderID uint64
	MakerFee           num.I80F48
	BestInitial        int64
	MakerTimestamp     uint64
	Taker              solana.PublicKey
	TakerOrderID       OrderID
	TakerClientOrderID uint64
	TakerFee           num.I80F48
	Price              int64
	Quantity           int64
}

// OutEvent reports an order leaving the book without a fill.
type OutEvent struct {
	Side      Side
	Slot      uint8
	Timestamp uint64
	SeqNum    uint64
	Owner     solana.PublicKey
	Quantity  int64
}

type LiquidateEvent struct {
	Timestamp      uint64
	SeqNum         uint64
	Liqee          solana.PublicKey
	Liqor          solana.PublicKey
	Price          num.I80F48
	Quantity       int64
	LiquidationFee num.I80F48
}

// UnknownEvent keeps the raw slot of a tag this package does not know.
type UnknownEvent struct {
	Tag uint8
	Raw [EventSize]byte
}

func (*FillEvent) Type() EventType      { return EventTypeFill }
func (*OutEvent) Type() EventType       { return EventTypeOut }
func (*LiquidateEvent) Type() EventType { return EventTypeLiquidate }
func (e *UnknownEvent) Type() EventType { return EventType(e.Tag) }

func (*FillEvent) isEvent()      {}
func (*OutEvent) isEvent()       {}
func (*LiquidateEvent) isEvent() {}
func (*UnknownEvent) isEvent()   {}

// DecodeEvent decodes a single 200-byte event slot.
func DecodeEvent(raw []byte) (Event, error) {
	if err := wire.CheckSize("Event", raw, EventSize); err != nil {
		return nil, err
	}
	return decodeSlot(raw), nil
}

// decodeSlot reads the tag and then only the tagged variant's fields. The
// caller guarantees len(raw) == EventSize, so reads cannot fail.
func decodeSlot(raw []byte) Event {
	r := wire.NewReader(raw)
	switch tag := EventType(r.U8()); tag {
	case EventTypeFill:
		e := &FillEvent{
			TakerSide: Side(r.U8()),
			MakerSlot: r.U8(),
			MakerOut:  r.Bool(),
			Version:   r.U8(),
		}
		r.Skip(3)
		e.Timestamp = r.U64()
		e.SeqNum = r.U64()
		e.Maker = r.PublicKey()
		e.MakerOrderID = OrderID(r.I128())
		e.MakerClientOrderID = r.U64()
		e.MakerFee = r.I80F48()
		e.BestInitial = r.I64()
		e.MakerTimestamp = r.U64()
		e.Taker = r.PublicKey()
		e.TakerOrderID = OrderID(r.I128())
		e.TakerClientOrderID = r.U64()
		e.TakerFee = r.I80F48()
		e.Price = r.I64()
		e.Quantity = r.I64()
		return e
	case EventTypeOut:
		e := &OutEvent{
			Side: Side(r.U8()),
			Slot: r.U8(),
		}
		r.Skip(5)
		e.Timestamp = r.U64()
		e.SeqNum = r.U64()
		e.Owner = r.PublicKey()
		e.Quantity = r.I64()
		return e
	case EventTypeLiquidate:
		r.Skip(7)
		return &LiquidateEvent{
			Timestamp:      r.U64(),
			SeqNum:         r.U64(),
			Liqee:          r.PublicKey(),
			Liqor:          r.PublicKey(),
			Price:          r.I80F48(),
			Quantity:       r.I64(),
			LiquidationFee: r.I80F48(),
		}
	default:
		e := &UnknownEvent{Tag: uint8(tag)}
		copy(e.Raw[:], raw)
		return e
	}
}

type EventQueueHeader struct {
	MetaData MetaData
	Head     uint64
	Count    uint64
	SeqNum   uint64
}

// EventQueue holds the header and the raw slots. Slots are decoded on
// iteration, never cached.
type EventQueue struct {
	Header EventQueueHeader
	Items  [EventQueueCapacity][EventSize]byte
}

func DecodeEventQueue(data []byte) (*EventQueue, error) {
	r, meta, err := beginDecode("EventQueue", data, EventQueueSize, DataTypeEventQueue)
	if err != nil {
		return nil, err
	}

	q := &EventQueue{Header: EventQueueHeader{MetaData: meta}}
	q.Header.Head = r.U64()
	q.Header.Count = r.U64()
	q.Header.SeqNum = r.U64()
	for i := range q.Items {
		copy(q.Items[i][:], r.Bytes(EventSize))
	}

	if err := r.Done("EventQueue"); err != nil {
		return nil, err
	}
	return q, nil
}

// Events yields the live events from head, keyed by ring index.
func (q *EventQueue) Events() iter.Seq2[int, Event] {
	return ReadEvents(q.Header, &q.Items)
}

// ReadEvents yields exactly min(Count, capacity) events starting at Head and
// wrapping around the ring. Each call starts over from the given header.
func ReadEvents(header EventQueueHeader, items *[EventQueueCapacity][EventSize]byte) iter.Seq2[int, Event] {
	count := min(header.Count, EventQueueCapacity)
	return readRing(header.Head%EventQueueCapacity, count, items)
}

// EventsSince yields the events pushed after lastSeqNum, including ones the
// consumer already popped. At most capacity-1 events are returned, so a
// reader that fell further behind loses the oldest ones. A lastSeqNum at or
// past the header yields nothing.
func (q *EventQueue) EventsSince(lastSeqNum uint64) iter.Seq2[int, Event] {
	if lastSeqNum >= q.Header.SeqNum {
		return readRing(0, 0, &q.Items)
	}
	missed := q.Header.SeqNum - lastSeqNum
	if missed > EventQueueCapacity-1 {
		missed = EventQueueCapacity - 1
	}
	end := q.Header.SeqNum % EventQueueCapacity
	start := (end + EventQueueCapacity - missed) % EventQueueCapacity
	return readRing(start, missed, &q.Items)
}

func readRing(start, n uint64, items *[EventQueueCapacity][EventSize]byte) iter.Seq2[int, Event] {
	return func(yield func(int, Event) bool) {
		for i := uint64(0); i < n; i++ {
			idx := int((start + i) % EventQueueCapacity)
			if !yield(idx, decodeSlot(items[idx][:])) {
				return
			}
		}
	}
}
