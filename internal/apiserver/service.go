package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coldbell/mango/backend/internal/config"
	"github.com/coldbell/mango/backend/internal/indexer"
	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// eventReader is the read side of the indexer store.
type eventReader interface {
	ListFills(ctx context.Context, filter indexer.FillFilter) ([]indexer.FillRecord, int, int, error)
	ListLiquidations(ctx context.Context, filter indexer.LiquidationFilter) ([]indexer.LiquidationRecord, int, int, error)
	ListCursors(ctx context.Context) ([]indexer.Cursor, error)
	GetMarketCandles(ctx context.Context, filter indexer.CandleFilter) ([]indexer.CandleRecord, error)
}

type Service struct {
	cfg      config.APIServerConfig
	logger   *slog.Logger
	store    eventReader
	close    func() error
	driver   string
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func New(cfg config.APIServerConfig, logger *slog.Logger) (*Service, error) {
	store, err := indexer.NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	s := newService(cfg, store, logger)
	s.close = store.Close
	s.driver = store.Driver()
	return s, nil
}

func newService(cfg config.APIServerConfig, store eventReader, logger *slog.Logger) *Service {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Service{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		close:    func() error { return nil },
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mango",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mango",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"db_driver", s.driver,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

func (s *Service) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/fills", s.handleFills).Methods(http.MethodGet)
	api.HandleFunc("/markets/{market}/fills", s.handleFills).Methods(http.MethodGet)
	api.HandleFunc("/liquidations", s.handleLiquidations).Methods(http.MethodGet)
	api.HandleFunc("/markets/{market}/liquidations", s.handleLiquidations).Methods(http.MethodGet)
	api.HandleFunc("/markets/{market}/candles", s.handleCandles).Methods(http.MethodGet)
	api.HandleFunc("/cursors", s.handleCursors).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	})
	return c.Handler(router)
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK      bool             `json:"ok"`
	Markets []indexer.Cursor `json:"markets"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth reports ready once the store answers; the cursors show how
// far each market has been indexed.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.store.ListCursors(r.Context())
	if err != nil {
		s.logger.Error("health check failed", "err", err)
		s.respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if cursors == nil {
		cursors = []indexer.Cursor{}
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true, Markets: cursors})
}

func (s *Service) handleFills(w http.ResponseWriter, r *http.Request) {
	query, ok := s.parseListQuery(w, r)
	if !ok {
		return
	}

	items, limit, offset, err := s.store.ListFills(r.Context(), indexer.FillFilter{
		Market:  query.market,
		Account: query.account,
		Limit:   query.limit,
		Offset:  query.offset,
	})
	if err != nil {
		s.logger.Error("list fills failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}
	if items == nil {
		items = []indexer.FillRecord{}
	}

	s.respondJSON(w, http.StatusOK, listResponse[indexer.FillRecord]{
		Items:  items,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Service) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	query, ok := s.parseListQuery(w, r)
	if !ok {
		return
	}

	items, limit, offset, err := s.store.ListLiquidations(r.Context(), indexer.LiquidationFilter{
		Market:  query.market,
		Account: query.account,
		Limit:   query.limit,
		Offset:  query.offset,
	})
	if err != nil {
		s.logger.Error("list liquidations failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list liquidations")
		return
	}
	if items == nil {
		items = []indexer.LiquidationRecord{}
	}

	s.respondJSON(w, http.StatusOK, listResponse[indexer.LiquidationRecord]{
		Items:  items,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Service) handleCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.store.ListCursors(r.Context())
	if err != nil {
		s.logger.Error("list cursors failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list cursors")
		return
	}
	if cursors == nil {
		cursors = []indexer.Cursor{}
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.Cursor]{
		Items: cursors,
		Limit: len(cursors),
	})
}

type candlesResponse struct {
	Market      string                 `json:"market"`
	IntervalSec int64                  `json:"interval_sec"`
	Candles     []indexer.CandleRecord `json:"candles"`
}

func (s *Service) handleCandles(w http.ResponseWriter, r *http.Request) {
	market := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["market"]))
	interval, err := parseOptionalInt(r, "interval", 60)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalInt(r, "limit", 120)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if interval <= 0 || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "interval and limit must be positive")
		return
	}

	candles, err := s.store.GetMarketCandles(r.Context(), indexer.CandleFilter{
		Market:      market,
		IntervalSec: int64(interval),
		Limit:       limit,
	})
	if err != nil {
		s.logger.Error("market candles failed", "market", market, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load candles")
		return
	}
	if candles == nil {
		candles = []indexer.CandleRecord{}
	}
	s.respondJSON(w, http.StatusOK, candlesResponse{Market: market, IntervalSec: int64(interval), Candles: candles})
}

type listQuery struct {
	market  string
	account string
	limit   int
	offset  int
}

// parseListQuery reads market (path or query), account, limit and offset.
// It writes the 400 itself and reports false on bad input.
func (s *Service) parseListQuery(w http.ResponseWriter, r *http.Request) (listQuery, bool) {
	market := mux.Vars(r)["market"]
	if market == "" {
		market = r.URL.Query().Get("market")
	}
	query := listQuery{market: strings.ToUpper(strings.TrimSpace(market))}

	if account := strings.TrimSpace(r.URL.Query().Get("account")); account != "" {
		key, err := solana.PublicKeyFromBase58(account)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid account: %v", err))
			return listQuery{}, false
		}
		query.account = key.String()
	}

	limit, err := parseOptionalInt(r, "limit", s.cfg.DefaultLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return listQuery{}, false
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return listQuery{}, false
	}
	if limit <= 0 || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "limit must be positive and offset non-negative")
		return listQuery{}, false
	}
	query.limit = min(limit, s.cfg.MaxLimit)
	query.offset = offset
	return query, true
}

func parseOptionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument labels requests by route template so path variables do not
// explode the label space.
func (s *Service) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
