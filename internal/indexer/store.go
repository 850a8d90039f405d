package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// sqliteDSNPrefix selects the embedded SQLite driver, e.g. sqlite::memory:
// or sqlite:data/mango.db. Anything else is handed to pgx.
const sqliteDSNPrefix = "sqlite:"

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

func (d dialect) String() string {
	if d == dialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

type Store struct {
	db *DB
}

type DB struct {
	raw     *sql.DB
	dialect dialect
}

type Tx struct {
	raw     *sql.Tx
	dialect dialect
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx, dialect: db.dialect}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, tx.dialect.rebind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, tx.dialect.rebind(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

func (d dialect) rebind(query string) string {
	if d == dialectSQLite {
		return query
	}
	return rebindPostgresPlaceholders(query)
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// '' is an escaped quote inside a literal
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	driver, dsn, d := "pgx", dbDSN, dialectPostgres
	if strings.HasPrefix(dbDSN, sqliteDSNPrefix) {
		driver, dsn, d = "sqlite", strings.TrimPrefix(dbDSN, sqliteDSNPrefix), dialectSQLite
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	if d == dialectSQLite {
		// one writer, and :memory: databases are per connection
		db.SetMaxOpenConns(1)
		db.SetConnMaxIdleTime(0)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}

	store := &Store{db: &DB{raw: db, dialect: d}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Driver() string {
	return s.db.dialect.String()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	id := "BIGSERIAL PRIMARY KEY"
	if s.db.dialect == dialectSQLite {
		id = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			id ` + id + `,
			market TEXT NOT NULL,
			seq_num BIGINT NOT NULL,
			event_time BIGINT NOT NULL,
			taker_side TEXT NOT NULL,
			maker TEXT NOT NULL,
			maker_order_id TEXT NOT NULL,
			maker_client_order_id TEXT NOT NULL,
			maker_fee TEXT NOT NULL,
			maker_out INTEGER NOT NULL,
			taker TEXT NOT NULL,
			taker_order_id TEXT NOT NULL,
			taker_client_order_id TEXT NOT NULL,
			taker_fee TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			native_price BIGINT NOT NULL,
			native_quantity BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL,
			UNIQUE (market, seq_num)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_market_time ON fills(market, event_time DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_maker ON fills(maker, event_time DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_taker ON fills(taker, event_time DESC);`,
		`CREATE TABLE IF NOT EXISTS outs (
			id ` + id + `,
			market TEXT NOT NULL,
			seq_num BIGINT NOT NULL,
			event_time BIGINT NOT NULL,
			side TEXT NOT NULL,
			owner TEXT NOT NULL,
			order_slot INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			native_quantity BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL,
			UNIQUE (market, seq_num)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outs_owner ON outs(owner, event_time DESC);`,
		`CREATE TABLE IF NOT EXISTS liquidations (
			id ` + id + `,
			market TEXT NOT NULL,
			seq_num BIGINT NOT NULL,
			event_time BIGINT NOT NULL,
			liqee TEXT NOT NULL,
			liqor TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			native_quantity BIGINT NOT NULL,
			liquidation_fee TEXT NOT NULL,
			slot BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL,
			UNIQUE (market, seq_num)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_liquidations_market_time ON liquidations(market, event_time DESC);`,
		`CREATE TABLE IF NOT EXISTS queue_cursors (
			market TEXT PRIMARY KEY,
			event_queue TEXT NOT NULL,
			seq_num BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Cursor is the last event-queue sequence number stored for a market.
type Cursor struct {
	Market     string `json:"market"`
	EventQueue string `json:"event_queue"`
	SeqNum     uint64 `json:"seq_num"`
	Slot       uint64 `json:"slot"`
	UpdatedAt  int64  `json:"updated_at"`
}

func (s *Store) GetCursor(ctx context.Context, market string) (*Cursor, error) {
	var (
		cursor = Cursor{Market: market}
		seqNum int64
		slot   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT event_queue, seq_num, slot, updated_at FROM queue_cursors WHERE market = ?`,
		market,
	).Scan(&cursor.EventQueue, &seqNum, &slot, &cursor.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor for %s: %w", market, err)
	}
	cursor.SeqNum = uint64(seqNum)
	cursor.Slot = uint64(slot)
	return &cursor, nil
}

// SaveBatch stores one market's events and advances its cursor atomically.
// Events already stored are skipped; the number of new rows is returned.
func (s *Store) SaveBatch(ctx context.Context, batch EventBatch) (int, error) {
	inserted := 0
	now := time.Now().Unix()
	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, fill := range batch.Fills {
			n, err := s.insertFillTx(ctx, tx, batch, fill, now)
			if err != nil {
				return err
			}
			inserted += n
		}
		for _, out := range batch.Outs {
			n, err := s.insertOutTx(ctx, tx, batch, out, now)
			if err != nil {
				return err
			}
			inserted += n
		}
		for _, liq := range batch.Liquidations {
			n, err := s.insertLiquidationTx(ctx, tx, batch, liq, now)
			if err != nil {
				return err
			}
			inserted += n
		}
		return s.upsertCursorTx(ctx, tx, batch, now)
	})
	if err != nil {
		return 0, fmt.Errorf("save %s batch: %w", batch.Market, err)
	}
	return inserted, nil
}

func (s *Store) insertFillTx(ctx context.Context, tx *Tx, batch EventBatch, fill FillRecord, now int64) (int, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO fills (
			market, seq_num, event_time, taker_side,
			maker, maker_order_id, maker_client_order_id, maker_fee, maker_out,
			taker, taker_order_id, taker_client_order_id, taker_fee,
			price, quantity, native_price, native_quantity, slot, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market, seq_num) DO NOTHING`,
		batch.Market, int64(fill.SeqNum), fill.EventTime, fill.TakerSide,
		fill.Maker, fill.MakerOrderID, fill.MakerClientOrderID, fill.MakerFee, boolToInt(fill.MakerOut),
		fill.Taker, fill.TakerOrderID, fill.TakerClientOrderID, fill.TakerFee,
		fill.Price, fill.Quantity, fill.NativePrice, fill.NativeQuantity, int64(batch.Slot), now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert fill %d: %w", fill.SeqNum, err)
	}
	return rowsAffected(res), nil
}

func (s *Store) insertOutTx(ctx context.Context, tx *Tx, batch EventBatch, out OutRecord, now int64) (int, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO outs (
			market, seq_num, event_time, side, owner, order_slot,
			quantity, native_quantity, slot, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market, seq_num) DO NOTHING`,
		batch.Market, int64(out.SeqNum), out.EventTime, out.Side, out.Owner, int(out.OrderSlot),
		out.Quantity, out.NativeQuantity, int64(batch.Slot), now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert out %d: %w", out.SeqNum, err)
	}
	return rowsAffected(res), nil
}

func (s *Store) insertLiquidationTx(ctx context.Context, tx *Tx, batch EventBatch, liq LiquidationRecord, now int64) (int, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO liquidations (
			market, seq_num, event_time, liqee, liqor, price,
			quantity, native_quantity, liquidation_fee, slot, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market, seq_num) DO NOTHING`,
		batch.Market, int64(liq.SeqNum), liq.EventTime, liq.Liqee, liq.Liqor, liq.Price,
		liq.Quantity, liq.NativeQuantity, liq.LiquidationFee, int64(batch.Slot), now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert liquidation %d: %w", liq.SeqNum, err)
	}
	return rowsAffected(res), nil
}

func (s *Store) upsertCursorTx(ctx context.Context, tx *Tx, batch EventBatch, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_cursors (market, event_queue, seq_num, slot, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (market) DO UPDATE SET
			event_queue = excluded.event_queue,
			seq_num = excluded.seq_num,
			slot = excluded.slot,
			updated_at = excluded.updated_at`,
		batch.Market, batch.EventQueue, int64(batch.SeqNum), int64(batch.Slot), now,
	)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
