package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultCandleInterval = 60
	defaultCandleLimit    = 120
	maxCandleLimit        = 2000
)

type CandleRecord struct {
	TS     int64           `json:"ts"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Trades int             `json:"trades"`
}

type CandleFilter struct {
	Market      string
	IntervalSec int64
	Limit       int
	// Until closes the window; zero means now.
	Until int64
}

// GetMarketCandles buckets stored fills into OHLCV candles, oldest first.
// Buckets without fills are omitted.
func (s *Store) GetMarketCandles(ctx context.Context, filter CandleFilter) ([]CandleRecord, error) {
	interval := filter.IntervalSec
	if interval <= 0 {
		interval = defaultCandleInterval
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultCandleLimit
	}
	limit = min(limit, maxCandleLimit)
	until := filter.Until
	if until <= 0 {
		until = time.Now().Unix()
	}
	from := (until/interval - int64(limit) + 1) * interval

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_time, price, quantity
		FROM fills
		WHERE market = ? AND event_time >= ? AND event_time <= ?
		ORDER BY event_time ASC, seq_num ASC`,
		filter.Market, from, until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candles := make([]CandleRecord, 0, min(limit, defaultCandleLimit))
	for rows.Next() {
		var (
			eventTime        int64
			rawPrice, rawQty string
		)
		if err := rows.Scan(&eventTime, &rawPrice, &rawQty); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("fill price %q: %w", rawPrice, err)
		}
		quantity, err := decimal.NewFromString(rawQty)
		if err != nil {
			return nil, fmt.Errorf("fill quantity %q: %w", rawQty, err)
		}

		bucket := (eventTime / interval) * interval
		if n := len(candles); n > 0 && candles[n-1].TS == bucket {
			last := &candles[n-1]
			last.High = decimal.Max(last.High, price)
			last.Low = decimal.Min(last.Low, price)
			last.Close = price
			last.Volume = last.Volume.Add(quantity)
			last.Trades++
			continue
		}
		candles = append(candles, CandleRecord{
			TS:     bucket,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: quantity,
			Trades: 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candles, nil
}
