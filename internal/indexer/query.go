package indexer

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

// EventBatch is everything read from one market's event queue in one pass.
type EventBatch struct {
	Market       string
	EventQueue   string
	Slot         uint64
	SeqNum       uint64
	Fills        []FillRecord
	Outs         []OutRecord
	Liquidations []LiquidationRecord
}

func (b EventBatch) Len() int {
	return len(b.Fills) + len(b.Outs) + len(b.Liquidations)
}

type FillRecord struct {
	ID                 int64  `json:"id"`
	Market             string `json:"market"`
	SeqNum             uint64 `json:"seq_num"`
	EventTime          int64  `json:"event_time"`
	TakerSide          string `json:"taker_side"`
	Maker              string `json:"maker"`
	MakerOrderID       string `json:"maker_order_id"`
	MakerClientOrderID string `json:"maker_client_order_id"`
	MakerFee           string `json:"maker_fee"`
	MakerOut           bool   `json:"maker_out"`
	Taker              string `json:"taker"`
	TakerOrderID       string `json:"taker_order_id"`
	TakerClientOrderID string `json:"taker_client_order_id"`
	TakerFee           string `json:"taker_fee"`
	Price              string `json:"price"`
	Quantity           string `json:"quantity"`
	NativePrice        int64  `json:"native_price"`
	NativeQuantity     int64  `json:"native_quantity"`
	Slot               uint64 `json:"slot"`
}

type OutRecord struct {
	ID             int64  `json:"id"`
	Market         string `json:"market"`
	SeqNum         uint64 `json:"seq_num"`
	EventTime      int64  `json:"event_time"`
	Side           string `json:"side"`
	Owner          string `json:"owner"`
	OrderSlot      uint8  `json:"order_slot"`
	Quantity       string `json:"quantity"`
	NativeQuantity int64  `json:"native_quantity"`
	Slot           uint64 `json:"slot"`
}

type LiquidationRecord struct {
	ID             int64  `json:"id"`
	Market         string `json:"market"`
	SeqNum         uint64 `json:"seq_num"`
	EventTime      int64  `json:"event_time"`
	Liqee          string `json:"liqee"`
	Liqor          string `json:"liqor"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	NativeQuantity int64  `json:"native_quantity"`
	LiquidationFee string `json:"liquidation_fee"`
	Slot           uint64 `json:"slot"`
}

type FillFilter struct {
	Market string
	// Account matches either side of the fill.
	Account string
	Limit   int
	Offset  int
}

type LiquidationFilter struct {
	Market  string
	Account string
	Limit   int
	Offset  int
}

func (s *Store) ListFills(ctx context.Context, filter FillFilter) ([]FillRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 5)

	if filter.Market != "" {
		clauses = append(clauses, "market = ?")
		args = append(args, filter.Market)
	}
	if filter.Account != "" {
		clauses = append(clauses, "(maker = ? OR taker = ?)")
		args = append(args, filter.Account, filter.Account)
	}

	query := fmt.Sprintf(`
		SELECT
			id, market, seq_num, event_time, taker_side,
			maker, maker_order_id, maker_client_order_id, maker_fee, maker_out,
			taker, taker_order_id, taker_client_order_id, taker_fee,
			price, quantity, native_price, native_quantity, slot
		FROM fills
		WHERE %s
		ORDER BY event_time DESC, seq_num DESC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]FillRecord, 0, min(limit, defaultPageLimit))
	for rows.Next() {
		var (
			item     FillRecord
			seqNum   int64
			makerOut int
			slot     int64
		)
		if err := rows.Scan(
			&item.ID, &item.Market, &seqNum, &item.EventTime, &item.TakerSide,
			&item.Maker, &item.MakerOrderID, &item.MakerClientOrderID, &item.MakerFee, &makerOut,
			&item.Taker, &item.TakerOrderID, &item.TakerClientOrderID, &item.TakerFee,
			&item.Price, &item.Quantity, &item.NativePrice, &item.NativeQuantity, &slot,
		); err != nil {
			return nil, 0, 0, err
		}
		item.SeqNum = uint64(seqNum)
		item.MakerOut = makerOut != 0
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func (s *Store) ListLiquidations(ctx context.Context, filter LiquidationFilter) ([]LiquidationRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 5)

	if filter.Market != "" {
		clauses = append(clauses, "market = ?")
		args = append(args, filter.Market)
	}
	if filter.Account != "" {
		clauses = append(clauses, "(liqee = ? OR liqor = ?)")
		args = append(args, filter.Account, filter.Account)
	}

	query := fmt.Sprintf(`
		SELECT
			id, market, seq_num, event_time, liqee, liqor,
			price, quantity, native_quantity, liquidation_fee, slot
		FROM liquidations
		WHERE %s
		ORDER BY event_time DESC, seq_num DESC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]LiquidationRecord, 0, min(limit, defaultPageLimit))
	for rows.Next() {
		var (
			item   LiquidationRecord
			seqNum int64
			slot   int64
		)
		if err := rows.Scan(
			&item.ID, &item.Market, &seqNum, &item.EventTime, &item.Liqee, &item.Liqor,
			&item.Price, &item.Quantity, &item.NativeQuantity, &item.LiquidationFee, &slot,
		); err != nil {
			return nil, 0, 0, err
		}
		item.SeqNum = uint64(seqNum)
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market, event_queue, seq_num, slot, updated_at FROM queue_cursors ORDER BY market`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var (
			cursor Cursor
			seqNum int64
			slot   int64
		)
		if err := rows.Scan(&cursor.Market, &cursor.EventQueue, &seqNum, &slot, &cursor.UpdatedAt); err != nil {
			return nil, err
		}
		cursor.SeqNum = uint64(seqNum)
		cursor.Slot = uint64(slot)
		out = append(out, cursor)
	}
	return out, rows.Err()
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
