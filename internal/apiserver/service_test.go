package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coldbell/mango/backend/internal/config"
	"github.com/coldbell/mango/backend/internal/indexer"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	fills        []indexer.FillRecord
	liquidations []indexer.LiquidationRecord
	cursors      []indexer.Cursor
	candles      []indexer.CandleRecord
	err          error

	lastFill indexer.FillFilter
	lastLiq  indexer.LiquidationFilter
	lastCdl  indexer.CandleFilter
}

func (f *fakeStore) ListFills(_ context.Context, filter indexer.FillFilter) ([]indexer.FillRecord, int, int, error) {
	f.lastFill = filter
	return f.fills, filter.Limit, filter.Offset, f.err
}

func (f *fakeStore) ListLiquidations(_ context.Context, filter indexer.LiquidationFilter) ([]indexer.LiquidationRecord, int, int, error) {
	f.lastLiq = filter
	return f.liquidations, filter.Limit, filter.Offset, f.err
}

func (f *fakeStore) ListCursors(context.Context) ([]indexer.Cursor, error) {
	return f.cursors, f.err
}

func (f *fakeStore) GetMarketCandles(_ context.Context, filter indexer.CandleFilter) ([]indexer.CandleRecord, error) {
	f.lastCdl = filter
	return f.candles, f.err
}

func testServer(store *fakeStore, origins ...string) *Service {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg := config.APIServerConfig{
		DefaultLimit:   100,
		MaxLimit:       500,
		AllowedOrigins: origins,
	}
	return newService(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, handler http.Handler, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestFillsQuery(t *testing.T) {
	account := solana.PublicKey{31: 5}
	store := &fakeStore{fills: []indexer.FillRecord{{Market: "SOL-PERP", SeqNum: 3, Price: "95.5"}}}
	handler := testServer(store).routes()

	rec := get(t, handler, "/api/v1/fills?market=sol-perp&account="+account.String()+"&limit=20&offset=40")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body listResponse[indexer.FillRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "95.5", body.Items[0].Price)
	assert.Equal(t, 20, body.Limit)
	assert.Equal(t, 40, body.Offset)

	assert.Equal(t, "SOL-PERP", store.lastFill.Market)
	assert.Equal(t, account.String(), store.lastFill.Account)
}

func TestMarketPathAndLimits(t *testing.T) {
	store := &fakeStore{}
	handler := testServer(store).routes()

	rec := get(t, handler, "/api/v1/markets/btc-perp/liquidations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC-PERP", store.lastLiq.Market)
	assert.Equal(t, 100, store.lastLiq.Limit)
	assert.JSONEq(t, `{"items":[],"limit":100,"offset":0}`, rec.Body.String())

	rec = get(t, handler, "/api/v1/markets/eth-perp/fills?limit=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, store.lastFill.Limit)
}

func TestBadQueries(t *testing.T) {
	handler := testServer(&fakeStore{}).routes()
	for _, target := range []string{
		"/api/v1/fills?limit=ten",
		"/api/v1/fills?limit=0",
		"/api/v1/fills?offset=-1",
		"/api/v1/liquidations?account=not-a-key",
	} {
		rec := get(t, handler, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), `"error"`, target)
	}
}

func TestStoreFailure(t *testing.T) {
	handler := testServer(&fakeStore{err: errors.New("db gone")}).routes()

	rec := get(t, handler, "/api/v1/fills")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = get(t, handler, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthListsCursors(t *testing.T) {
	store := &fakeStore{cursors: []indexer.Cursor{{Market: "SOL-PERP", SeqNum: 77, Slot: 1234}}}
	rec := get(t, testServer(store).routes(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	require.Len(t, body.Markets, 1)
	assert.Equal(t, uint64(77), body.Markets[0].SeqNum)
}

func TestRoutingErrors(t *testing.T) {
	handler := testServer(&fakeStore{}).routes()

	rec := get(t, handler, "/api/v1/orders")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/fills", nil)
	post := httptest.NewRecorder()
	handler.ServeHTTP(post, req)
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
}

func TestCORS(t *testing.T) {
	handler := testServer(&fakeStore{}, "https://app.mango.markets").routes()

	rec := get(t, handler, "/api/v1/cursors", "Origin", "https://app.mango.markets")
	assert.Equal(t, "https://app.mango.markets", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, handler, "/api/v1/cursors", "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestsAreCounted(t *testing.T) {
	svc := testServer(&fakeStore{})
	handler := svc.routes()

	get(t, handler, "/api/v1/markets/sol-perp/fills")
	get(t, handler, "/api/v1/markets/btc-perp/fills")

	assert.Equal(t, 2.0, testutil.ToFloat64(svc.requests.WithLabelValues("/api/v1/markets/{market}/fills", "200")))

	rec := get(t, handler, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mango_api_requests_total")
}

func TestCandles(t *testing.T) {
	store := &fakeStore{candles: []indexer.CandleRecord{{
		TS:     120,
		Open:   decimal.RequireFromString("95.5"),
		High:   decimal.RequireFromString("96"),
		Low:    decimal.RequireFromString("95"),
		Close:  decimal.RequireFromString("95.75"),
		Volume: decimal.RequireFromString("3.5"),
		Trades: 4,
	}}}
	handler := testServer(store).routes()

	rec := get(t, handler, "/api/v1/markets/sol-perp/candles?interval=300")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, indexer.CandleFilter{Market: "SOL-PERP", IntervalSec: 300, Limit: 120}, store.lastCdl)

	var body struct {
		Market string `json:"market"`
		Candles []struct {
			TS    int64  `json:"ts"`
			Close string `json:"close"`
		} `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SOL-PERP", body.Market)
	require.Len(t, body.Candles, 1)
	assert.Equal(t, "95.75", body.Candles[0].Close)

	rec = get(t, handler, "/api/v1/markets/sol-perp/candles?interval=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
