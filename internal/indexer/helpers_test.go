package indexer

import (
	"encoding/binary"
	"testing"

	"github.com/coldbell/mango/backend/internal/mango"
	"github.com/coldbell/mango/backend/internal/num"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

const testEventTime = 1_700_000_000

var (
	testGroup      = mango.Mainnet.Group
	testPerpMarket = solana.PublicKey{31: 1}
	testEventQueue = solana.PublicKey{31: 2}
	testMaker      = solana.PublicKey{0: 7, 31: 3}
	testTaker      = solana.PublicKey{0: 9, 31: 4}
)

// solMarket mirrors SOL-PERP lot sizes: 0.01 SOL base lots, 100 native
// quote per quote lot.
func solMarket() *mango.PerpMarket {
	return &mango.PerpMarket{
		Group:        testGroup,
		EventQueue:   testEventQueue,
		BaseLotSize:  10_000_000,
		QuoteLotSize: 100,
	}
}

func solState() *marketState {
	return &marketState{
		symbol:     "SOL-PERP",
		index:      3,
		key:        testPerpMarket,
		market:     solMarket(),
		eventQueue: testEventQueue,
	}
}

type queueBuilder struct {
	queue mango.EventQueue
}

func newQueue() *queueBuilder {
	return &queueBuilder{}
}

func (b *queueBuilder) slot(seq uint64) []byte {
	idx := seq % mango.EventQueueCapacity
	b.queue.Header.SeqNum = max(b.queue.Header.SeqNum, seq+1)
	return b.queue.Items[idx][:]
}

func (b *queueBuilder) fill(seq uint64, takerSide mango.Side, price, quantity int64) *queueBuilder {
	raw := b.slot(seq)
	clear(raw)
	raw[0] = byte(mango.EventTypeFill)
	raw[1] = byte(takerSide)
	raw[3] = 1
	binary.LittleEndian.PutUint64(raw[8:], testEventTime+seq)
	binary.LittleEndian.PutUint64(raw[16:], seq)
	copy(raw[24:56], testMaker[:])
	num.I128FromInt64(int64(seq) + 1000).PutBytes(raw[56:72])
	binary.LittleEndian.PutUint64(raw[72:], 7)
	copy(raw[112:144], testTaker[:])
	num.I128FromInt64(int64(seq) + 2000).PutBytes(raw[144:160])
	binary.LittleEndian.PutUint64(raw[160:], 11)
	num.I80F48FromInt64(1).PutBytes(raw[168:184])
	binary.LittleEndian.PutUint64(raw[184:], uint64(price))
	binary.LittleEndian.PutUint64(raw[192:], uint64(quantity))
	return b
}

func (b *queueBuilder) out(seq uint64, side mango.Side, orderSlot uint8, quantity int64) *queueBuilder {
	raw := b.slot(seq)
	clear(raw)
	raw[0] = byte(mango.EventTypeOut)
	raw[1] = byte(side)
	raw[2] = orderSlot
	binary.LittleEndian.PutUint64(raw[8:], testEventTime+seq)
	binary.LittleEndian.PutUint64(raw[16:], seq)
	copy(raw[24:56], testMaker[:])
	binary.LittleEndian.PutUint64(raw[56:], uint64(quantity))
	return b
}

func (b *queueBuilder) liquidate(seq uint64, price, quantity int64) *queueBuilder {
	raw := b.slot(seq)
	clear(raw)
	raw[0] = byte(mango.EventTypeLiquidate)
	binary.LittleEndian.PutUint64(raw[8:], testEventTime+seq)
	binary.LittleEndian.PutUint64(raw[16:], seq)
	copy(raw[24:56], testTaker[:])
	copy(raw[56:88], testMaker[:])
	num.I80F48FromInt64(price).PutBytes(raw[88:104])
	binary.LittleEndian.PutUint64(raw[104:], uint64(quantity))
	num.I80F48FromInt64(0).PutBytes(raw[112:128])
	return b
}

func (b *queueBuilder) unknown(seq uint64, tag uint8) *queueBuilder {
	raw := b.slot(seq)
	clear(raw)
	raw[0] = tag
	return b
}

func (b *queueBuilder) build() *mango.EventQueue {
	q := b.queue
	return &q
}

// encode lays the queue out as account data.
func (b *queueBuilder) encode() []byte {
	data := make([]byte, mango.EventQueueSize)
	data[0] = byte(mango.DataTypeEventQueue)
	data[2] = 1
	binary.LittleEndian.PutUint64(data[8:], b.queue.Header.Head)
	binary.LittleEndian.PutUint64(data[16:], b.queue.Header.Count)
	binary.LittleEndian.PutUint64(data[24:], b.queue.Header.SeqNum)
	for i := range b.queue.Items {
		copy(data[32+i*mango.EventSize:], b.queue.Items[i][:])
	}
	return data
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
