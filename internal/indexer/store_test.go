package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBatch(seq uint64) EventBatch {
	return EventBatch{
		Market:     "SOL-PERP",
		EventQueue: testEventQueue.String(),
		Slot:       500 + seq,
		SeqNum:     seq + 1,
		Fills: []FillRecord{{
			Market:         "SOL-PERP",
			SeqNum:         seq,
			EventTime:      testEventTime + int64(seq),
			TakerSide:      "buy",
			Maker:          testMaker.String(),
			MakerOrderID:   "1000",
			MakerFee:       "0",
			MakerOut:       true,
			Taker:          testTaker.String(),
			TakerOrderID:   "2000",
			TakerFee:       "1",
			Price:          "95.5",
			Quantity:       "1.25",
			NativePrice:    9550,
			NativeQuantity: 125,
		}},
	}
}

func TestSaveBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	assert.Equal(t, "sqlite", store.Driver())

	batch := sampleBatch(4)
	batch.Outs = []OutRecord{{SeqNum: 5, EventTime: testEventTime, Side: "sell", Owner: testMaker.String(), OrderSlot: 2, Quantity: "0.4", NativeQuantity: 40}}
	batch.Liquidations = []LiquidationRecord{{SeqNum: 6, EventTime: testEventTime, Liqee: testTaker.String(), Liqor: testMaker.String(), Price: "2000", Quantity: "0.1", NativeQuantity: 10, LiquidationFee: "0"}}
	batch.SeqNum = 7

	inserted, err := store.SaveBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	inserted, err = store.SaveBatch(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	fills, _, _, err := store.ListFills(ctx, FillFilter{})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(4), fills[0].SeqNum)
	assert.True(t, fills[0].MakerOut)
	assert.Equal(t, "95.5", fills[0].Price)
	assert.Equal(t, uint64(504), fills[0].Slot)

	cursor, err := store.GetCursor(ctx, "SOL-PERP")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, uint64(7), cursor.SeqNum)
	assert.Equal(t, testEventQueue.String(), cursor.EventQueue)
}

func TestGetCursorMissing(t *testing.T) {
	store := newTestStore(t)
	cursor, err := store.GetCursor(context.Background(), "BTC-PERP")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestCursorAdvances(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SaveBatch(ctx, sampleBatch(1))
	require.NoError(t, err)
	_, err = store.SaveBatch(ctx, sampleBatch(8))
	require.NoError(t, err)

	cursors, err := store.ListCursors(ctx)
	require.NoError(t, err)
	require.Len(t, cursors, 1)
	assert.Equal(t, uint64(9), cursors[0].SeqNum)
	assert.Equal(t, uint64(508), cursors[0].Slot)
}

func TestListFillsFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for seq := uint64(0); seq < 5; seq++ {
		_, err := store.SaveBatch(ctx, sampleBatch(seq))
		require.NoError(t, err)
	}
	other := sampleBatch(0)
	other.Market = "BTC-PERP"
	other.Fills[0].Maker = testTaker.String()
	_, err := store.SaveBatch(ctx, other)
	require.NoError(t, err)

	fills, limit, offset, err := store.ListFills(ctx, FillFilter{Market: "SOL-PERP", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, limit)
	assert.Equal(t, 1, offset)
	require.Len(t, fills, 2)
	assert.Equal(t, uint64(3), fills[0].SeqNum)
	assert.Equal(t, uint64(2), fills[1].SeqNum)

	fills, _, _, err = store.ListFills(ctx, FillFilter{Account: testMaker.String()})
	require.NoError(t, err)
	assert.Len(t, fills, 5)

	fills, _, _, err = store.ListFills(ctx, FillFilter{Account: testTaker.String()})
	require.NoError(t, err)
	assert.Len(t, fills, 6)
}

func TestListLiquidationsFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := EventBatch{
		Market:     "SOL-PERP",
		EventQueue: testEventQueue.String(),
		SeqNum:     3,
		Liquidations: []LiquidationRecord{
			{SeqNum: 1, EventTime: 10, Liqee: testTaker.String(), Liqor: testMaker.String(), Price: "1", Quantity: "1", LiquidationFee: "0"},
			{SeqNum: 2, EventTime: 20, Liqee: "someone", Liqor: "else", Price: "1", Quantity: "1", LiquidationFee: "0"},
		},
	}
	_, err := store.SaveBatch(ctx, batch)
	require.NoError(t, err)

	items, _, _, err := store.ListLiquidations(ctx, LiquidationFilter{Account: testMaker.String()})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, uint64(1), items[0].SeqNum)

	items, limit, _, err := store.ListLiquidations(ctx, LiquidationFilter{Market: "SOL-PERP", Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, maxPageLimit, limit)
	require.Len(t, items, 2)
	assert.Equal(t, int64(20), items[0].EventTime)
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	got := rebindPostgresPlaceholders(`SELECT * FROM fills WHERE market = ? AND note = 'it''s ?' AND seq_num > ?`)
	assert.Equal(t, `SELECT * FROM fills WHERE market = $1 AND note = 'it''s ?' AND seq_num > $2`, got)
	assert.Equal(t, "a = ?", dialectSQLite.rebind("a = ?"))
}

func TestNormalizePagination(t *testing.T) {
	limit, offset := normalizePagination(0, -3)
	assert.Equal(t, defaultPageLimit, limit)
	assert.Zero(t, offset)
}

func TestGetMarketCandles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := EventBatch{Market: "SOL-PERP", EventQueue: testEventQueue.String(), SeqNum: 5}
	for i, fill := range []struct {
		at       int64
		price    string
		quantity string
	}{
		{120, "10", "1"},
		{130, "12", "2"},
		{150, "9", "1"},
		{185, "11", "3"},
		{400, "50", "1"},
	} {
		batch.Fills = append(batch.Fills, FillRecord{
			SeqNum:    uint64(i),
			EventTime: fill.at,
			TakerSide: "buy",
			Price:     fill.price,
			Quantity:  fill.quantity,
		})
	}
	_, err := store.SaveBatch(ctx, batch)
	require.NoError(t, err)

	candles, err := store.GetMarketCandles(ctx, CandleFilter{Market: "SOL-PERP", IntervalSec: 60, Limit: 10, Until: 239})
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, int64(120), first.TS)
	assert.Equal(t, "10", first.Open.String())
	assert.Equal(t, "12", first.High.String())
	assert.Equal(t, "9", first.Low.String())
	assert.Equal(t, "9", first.Close.String())
	assert.Equal(t, "4", first.Volume.String())
	assert.Equal(t, 3, first.Trades)

	assert.Equal(t, int64(180), candles[1].TS)
	assert.Equal(t, "3", candles[1].Volume.String())

	candles, err = store.GetMarketCandles(ctx, CandleFilter{Market: "BTC-PERP", Until: 239})
	require.NoError(t, err)
	assert.Empty(t, candles)
}
