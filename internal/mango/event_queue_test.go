package mango

import (
	"iter"
	"testing"

	"github.com/coldbell/mango/backend/internal/num"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventSlotOffset(idx int) int {
	return eventQueueHeaderSize + idx*EventSize
}

// newEventQueue writes an out event into every slot whose quantity is the
// slot index, so iteration order is visible in the decoded events.
func newEventQueue(head, count, seqNum uint64) []byte {
	data := newBuffer(EventQueueSize, DataTypeEventQueue)
	putU64(data, metaDataSize, head)
	putU64(data, metaDataSize+8, count)
	putU64(data, metaDataSize+16, seqNum)
	for i := 0; i < EventQueueCapacity; i++ {
		off := eventSlotOffset(i)
		data[off] = uint8(EventTypeOut)
		putU64(data, off+16, uint64(i))
		putI64(data, off+56, int64(i))
	}
	return data
}

func collect(t *testing.T, seq iter.Seq2[int, Event]) ([]int, []Event) {
	t.Helper()
	var idxs []int
	var events []Event
	for i, e := range seq {
		idxs = append(idxs, i)
		events = append(events, e)
	}
	return idxs, events
}

func TestEventQueueWrapsAroundRing(t *testing.T) {
	q, err := DecodeEventQueue(newEventQueue(250, 10, 260))
	require.NoError(t, err)

	idxs, events := collect(t, q.Events())
	assert.Equal(t, []int{250, 251, 252, 253, 254, 255, 0, 1, 2, 3}, idxs)
	require.Len(t, events, 10)
	for n, e := range events {
		out, ok := e.(*OutEvent)
		require.True(t, ok)
		assert.Equal(t, int64(idxs[n]), out.Quantity)
	}

	// restartable: a second pass yields the same sequence
	again, _ := collect(t, q.Events())
	assert.Equal(t, idxs, again)
}

func TestEventQueueCountClampedToCapacity(t *testing.T) {
	q, err := DecodeEventQueue(newEventQueue(3, 1000, 0))
	require.NoError(t, err)

	idxs, _ := collect(t, q.Events())
	require.Len(t, idxs, EventQueueCapacity)
	assert.Equal(t, 3, idxs[0])
	assert.Equal(t, 2, idxs[EventQueueCapacity-1])
}

func TestEventQueueEmptyAndEarlyStop(t *testing.T) {
	q, err := DecodeEventQueue(newEventQueue(17, 0, 0))
	require.NoError(t, err)
	idxs, _ := collect(t, q.Events())
	assert.Empty(t, idxs)

	q, err = DecodeEventQueue(newEventQueue(0, 50, 50))
	require.NoError(t, err)
	seen := 0
	for range q.Events() {
		seen++
		if seen == 4 {
			break
		}
	}
	assert.Equal(t, 4, seen)
}

func TestReadEventsUsesGivenHeader(t *testing.T) {
	q, err := DecodeEventQueue(newEventQueue(0, 0, 0))
	require.NoError(t, err)

	header := q.Header
	header.Head = 254
	header.Count = 3
	idxs, _ := collect(t, ReadEvents(header, &q.Items))
	assert.Equal(t, []int{254, 255, 0}, idxs)
}

func TestEventsSince(t *testing.T) {
	q, err := DecodeEventQueue(newEventQueue(0, 0, 258))
	require.NoError(t, err)

	idxs, _ := collect(t, q.EventsSince(255))
	assert.Equal(t, []int{255, 0, 1}, idxs)

	idxs, _ = collect(t, q.EventsSince(258))
	assert.Empty(t, idxs)

	// cursor ahead of an older snapshot
	idxs, _ = collect(t, q.EventsSince(300))
	assert.Empty(t, idxs)

	// fell behind by more than the ring holds
	idxs, _ = collect(t, q.EventsSince(0))
	require.Len(t, idxs, EventQueueCapacity-1)
	assert.Equal(t, 3, idxs[0])
	assert.Equal(t, 1, idxs[len(idxs)-1])
}

func TestDecodeFillEvent(t *testing.T) {
	raw := make([]byte, EventSize)
	raw[0] = uint8(EventTypeFill)
	raw[1] = uint8(SideSell)
	raw[2] = 9
	raw[3] = 1
	raw[4] = 1
	putU64(raw, 8, 1650000000)
	putU64(raw, 16, 4321)
	maker, taker := newKey(t), newKey(t)
	putKey(raw, 24, maker)
	putU64(raw, 56, 11)
	putU64(raw, 64, 2500)
	putU64(raw, 72, 555)
	putFixed(raw, 80, num.I80F48FromInt64(-2))
	putI64(raw, 96, 2499)
	putU64(raw, 104, 1649999999)
	putKey(raw, 112, taker)
	putU64(raw, 144, 12)
	putU64(raw, 160, 556)
	putFixed(raw, 168, num.I80F48FromInt64(5))
	putI64(raw, 184, 2500)
	putI64(raw, 192, 3)

	e, err := DecodeEvent(raw)
	require.NoError(t, err)
	fill, ok := e.(*FillEvent)
	require.True(t, ok)
	assert.Equal(t, EventTypeFill, fill.Type())
	assert.Equal(t, SideSell, fill.TakerSide)
	assert.Equal(t, uint8(9), fill.MakerSlot)
	assert.True(t, fill.MakerOut)
	assert.Equal(t, uint8(1), fill.Version)
	assert.Equal(t, uint64(1650000000), fill.Timestamp)
	assert.Equal(t, uint64(4321), fill.SeqNum)
	assert.Equal(t, maker, fill.Maker)
	assert.Equal(t, int64(2500), fill.MakerOrderID.Price())
	assert.Equal(t, uint64(555), fill.MakerClientOrderID)
	assert.Equal(t, "-2", fill.MakerFee.String())
	assert.Equal(t, int64(2499), fill.BestInitial)
	assert.Equal(t, uint64(1649999999), fill.MakerTimestamp)
	assert.Equal(t, taker, fill.Taker)
	assert.Equal(t, uint64(12), fill.TakerOrderID.Sequence())
	assert.Equal(t, uint64(556), fill.TakerClientOrderID)
	assert.Equal(t, "5", fill.TakerFee.String())
	assert.Equal(t, int64(2500), fill.Price)
	assert.Equal(t, int64(3), fill.Quantity)
}

func TestDecodeLiquidateEventIgnoresPadding(t *testing.T) {
	raw := make([]byte, EventSize)
	raw[0] = uint8(EventTypeLiquidate)
	for i := 1; i < 8; i++ {
		raw[i] = 0xee
	}
	for i := liquidateEventLength; i < EventSize; i++ {
		raw[i] = 0xee
	}
	liqee, liqor := newKey(t), newKey(t)
	putU64(raw, 8, 77)
	putU64(raw, 16, 78)
	putKey(raw, 24, liqee)
	putKey(raw, 56, liqor)
	putFixed(raw, 88, num.I80F48FromInt64(31))
	putI64(raw, 104, -40)
	putFixed(raw, 112, num.I80F48FromInt64(1))

	e, err := DecodeEvent(raw)
	require.NoError(t, err)
	liq, ok := e.(*LiquidateEvent)
	require.True(t, ok)
	assert.Equal(t, &LiquidateEvent{
		Timestamp:      77,
		SeqNum:         78,
		Liqee:          liqee,
		Liqor:          liqor,
		Price:          num.I80F48FromInt64(31),
		Quantity:       -40,
		LiquidationFee: num.I80F48FromInt64(1),
	}, liq)
}

func TestDecodeUnknownEvent(t *testing.T) {
	raw := make([]byte, EventSize)
	raw[0] = 7
	raw[199] = 1

	e, err := DecodeEvent(raw)
	require.NoError(t, err)
	unknown, ok := e.(*UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, EventType(7), unknown.Type())
	assert.Equal(t, byte(1), unknown.Raw[199])

	_, err = DecodeEvent(raw[:199])
	require.ErrorIs(t, err, ErrSizeMismatch)
}
