package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coldbell/mango/backend/internal/chain"
	"github.com/coldbell/mango/backend/internal/config"
	"github.com/coldbell/mango/backend/internal/mango"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// A fresh market starts this far behind the queue head, the most
	// EventsSince can replay.
	replayWindow = mango.EventQueueCapacity - 1

	subscribeMinBackoff = time.Second
	subscribeMaxBackoff = 30 * time.Second
)

type chainReader interface {
	LoadGroup(ctx context.Context, key solana.PublicKey) (*mango.Group, error)
	LoadPerpMarket(ctx context.Context, key solana.PublicKey) (*mango.PerpMarket, error)
	LoadEventQueue(ctx context.Context, key solana.PublicKey) (*mango.EventQueue, uint64, error)
}

type eventStore interface {
	GetCursor(ctx context.Context, market string) (*Cursor, error)
	SaveBatch(ctx context.Context, batch EventBatch) (int, error)
	Close() error
}

type subscribeFunc func(
	ctx context.Context,
	endpoint string,
	key solana.PublicKey,
	commitment rpc.CommitmentType,
	handler chain.AccountHandler,
) error

type Service struct {
	cfg       config.IndexerConfig
	chain     chainReader
	store     eventStore
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics
	subscribe subscribeFunc
	markets   []*marketState
}

// marketState is owned by the Run loop; subscription goroutines only read
// the fields fixed at resolve time.
type marketState struct {
	symbol     string
	index      int
	key        solana.PublicKey
	market     *mango.PerpMarket
	eventQueue solana.PublicKey
	lastSeqNum uint64
	hasCursor  bool
}

type queueUpdate struct {
	market *marketState
	slot   uint64
	data   []byte
}

func New(cfg config.IndexerConfig, logger *slog.Logger) (*Service, error) {
	store, err := NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return newService(cfg, chain.NewClient(cfg.Chain, logger), store, logger), nil
}

func newService(cfg config.IndexerConfig, reader chainReader, store eventStore, logger *slog.Logger) *Service {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Service{
		cfg:       cfg,
		chain:     reader,
		store:     store,
		logger:    logger,
		registry:  registry,
		metrics:   newMetrics(registry),
		subscribe: chain.SubscribeAccount,
	}
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	if err := s.resolveMarkets(ctx); err != nil {
		return err
	}

	s.logger.Info("indexer started",
		"cluster", s.cfg.Chain.Cluster.Name,
		"rpc", s.cfg.Chain.RPCURL,
		"group", s.cfg.Chain.Group.String(),
		"markets", len(s.markets),
		"commitment", s.cfg.Chain.Commitment,
	)

	if s.cfg.MetricsAddr != "" {
		go s.serveMetrics(ctx)
	}

	s.syncAll(ctx)

	updates := make(chan queueUpdate, 64)
	if s.cfg.EnableWS {
		s.startSubscriptions(ctx, updates)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			s.syncAll(ctx)
		case update := <-updates:
			s.applyUpdate(ctx, update)
		}
	}
}

// resolveMarkets maps each configured symbol to its perp market and event
// queue, and restores the stored cursor.
func (s *Service) resolveMarkets(ctx context.Context) error {
	cluster := s.cfg.Chain.Cluster
	group, err := s.chain.LoadGroup(ctx, s.cfg.Chain.Group)
	if err != nil {
		return fmt.Errorf("load group %s: %w", s.cfg.Chain.Group, err)
	}

	markets := make([]*marketState, 0, len(s.cfg.Markets))
	for _, symbol := range s.cfg.Markets {
		index, err := cluster.SymbolIndex(symbol)
		if err != nil {
			return err
		}
		if index >= mango.MaxPairs {
			return fmt.Errorf("%s is the quote token and has no perp market", symbol)
		}
		key := group.PerpMarkets[index].PerpMarket
		if key.IsZero() {
			return fmt.Errorf("%s is not listed in group %s", symbol, s.cfg.Chain.Group)
		}
		if listed, err := group.PerpMarketIndex(key); err != nil || listed != index {
			return fmt.Errorf("%s perp market %s is not active in group %s", symbol, key, s.cfg.Chain.Group)
		}

		market, err := s.chain.LoadPerpMarket(ctx, key)
		if err != nil {
			return fmt.Errorf("load %s perp market: %w", symbol, err)
		}
		if !market.Group.Equals(s.cfg.Chain.Group) {
			return fmt.Errorf("%s perp market %s belongs to group %s", symbol, key, market.Group)
		}

		state := &marketState{
			symbol:     symbol,
			index:      index,
			key:        key,
			market:     market,
			eventQueue: market.EventQueue,
		}

		cursor, err := s.store.GetCursor(ctx, symbol)
		if err != nil {
			return fmt.Errorf("load %s cursor: %w", symbol, err)
		}
		switch {
		case cursor == nil:
		case cursor.EventQueue != state.eventQueue.String():
			s.logger.Warn("stored cursor points at another event queue, starting fresh",
				"market", symbol,
				"stored", cursor.EventQueue,
				"current", state.eventQueue.String(),
			)
		default:
			state.lastSeqNum = cursor.SeqNum
			state.hasCursor = true
		}

		s.logger.Info("market resolved",
			"market", symbol,
			"index", index,
			"perp_market", key.String(),
			"event_queue", state.eventQueue.String(),
			"resume_seq_num", state.lastSeqNum,
			"has_cursor", state.hasCursor,
		)
		markets = append(markets, state)
	}

	s.markets = markets
	return nil
}

func (s *Service) syncAll(ctx context.Context) {
	for _, market := range s.markets {
		if ctx.Err() != nil {
			return
		}
		if err := s.syncMarket(ctx, market); err != nil {
			s.metrics.syncErrors.WithLabelValues(market.symbol).Inc()
			s.logger.Error("sync failed", "market", market.symbol, "err", err)
		}
	}
}

func (s *Service) syncMarket(ctx context.Context, market *marketState) error {
	queue, slot, err := s.chain.LoadEventQueue(ctx, market.eventQueue)
	if err != nil {
		return fmt.Errorf("load event queue: %w", err)
	}
	return s.process(ctx, market, queue, slot)
}

func (s *Service) applyUpdate(ctx context.Context, update queueUpdate) {
	queue, err := mango.DecodeEventQueue(update.data)
	if err == nil {
		err = s.process(ctx, update.market, queue, update.slot)
	}
	if err != nil {
		s.metrics.syncErrors.WithLabelValues(update.market.symbol).Inc()
		s.logger.Warn("pushed event queue rejected",
			"market", update.market.symbol,
			"slot", update.slot,
			"err", err,
		)
	}
}

// process stores the events of one queue snapshot and advances the cursor.
// Snapshots older than the cursor are ignored; the poll and the push stream
// can deliver out of order.
func (s *Service) process(ctx context.Context, market *marketState, queue *mango.EventQueue, slot uint64) error {
	head := queue.Header.SeqNum
	if market.hasCursor && head <= market.lastSeqNum {
		if head < market.lastSeqNum {
			s.logger.Debug("stale event queue snapshot",
				"market", market.symbol,
				"seq_num", head,
				"cursor", market.lastSeqNum,
				"slot", slot,
			)
		}
		return nil
	}

	start := time.Now()
	batch, lost, err := buildBatch(s.cfg.Chain.Cluster, market, queue, slot)
	if err != nil {
		return err
	}
	if lost > 0 {
		s.metrics.eventsLost.WithLabelValues(market.symbol).Add(float64(lost))
		s.logger.Warn("events overwritten before they were read",
			"market", market.symbol,
			"lost", lost,
			"from_seq_num", market.lastSeqNum,
			"to_seq_num", head,
		)
	}

	inserted, err := s.store.SaveBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	market.lastSeqNum = head
	market.hasCursor = true

	s.metrics.observeBatch(batch)
	s.metrics.syncDuration.WithLabelValues(market.symbol).Observe(time.Since(start).Seconds())
	if batch.Len() > 0 {
		s.logger.Debug("event queue synced",
			"market", market.symbol,
			"slot", slot,
			"seq_num", head,
			"fills", len(batch.Fills),
			"outs", len(batch.Outs),
			"liquidations", len(batch.Liquidations),
			"inserted", inserted,
		)
	}
	return nil
}

// buildBatch converts the events after the market cursor into records. The
// second result counts events that fell out of the ring unread.
func buildBatch(cluster mango.Cluster, market *marketState, queue *mango.EventQueue, slot uint64) (EventBatch, uint64, error) {
	head := queue.Header.SeqNum
	since := market.lastSeqNum
	if !market.hasCursor {
		since = head - min(head, replayWindow)
	}

	var lost uint64
	if missed := head - since; missed > replayWindow {
		lost = missed - replayWindow
	}

	batch := EventBatch{
		Market:     market.symbol,
		EventQueue: market.eventQueue.String(),
		Slot:       slot,
		SeqNum:     head,
	}
	for _, event := range queue.EventsSince(since) {
		switch e := event.(type) {
		case *mango.FillEvent:
			record, err := fillRecord(cluster, market, e, slot)
			if err != nil {
				return EventBatch{}, 0, err
			}
			batch.Fills = append(batch.Fills, record)
		case *mango.OutEvent:
			record, err := outRecord(cluster, market, e, slot)
			if err != nil {
				return EventBatch{}, 0, err
			}
			batch.Outs = append(batch.Outs, record)
		case *mango.LiquidateEvent:
			record, err := liquidationRecord(cluster, market, e, slot)
			if err != nil {
				return EventBatch{}, 0, err
			}
			batch.Liquidations = append(batch.Liquidations, record)
		}
	}
	return batch, lost, nil
}

func fillRecord(cluster mango.Cluster, market *marketState, e *mango.FillEvent, slot uint64) (FillRecord, error) {
	price, err := mango.NativePriceToUI(e.Price, cluster, market.index, market.market)
	if err != nil {
		return FillRecord{}, fmt.Errorf("fill %d price: %w", e.SeqNum, err)
	}
	quantity, err := mango.NativeQuantityToUI(e.Quantity, cluster, market.index, market.market)
	if err != nil {
		return FillRecord{}, fmt.Errorf("fill %d quantity: %w", e.SeqNum, err)
	}
	return FillRecord{
		Market:             market.symbol,
		SeqNum:             e.SeqNum,
		EventTime:          int64(e.Timestamp),
		TakerSide:          e.TakerSide.String(),
		Maker:              e.Maker.String(),
		MakerOrderID:       e.MakerOrderID.String(),
		MakerClientOrderID: strconv.FormatUint(e.MakerClientOrderID, 10),
		MakerFee:           e.MakerFee.String(),
		MakerOut:           e.MakerOut,
		Taker:              e.Taker.String(),
		TakerOrderID:       e.TakerOrderID.String(),
		TakerClientOrderID: strconv.FormatUint(e.TakerClientOrderID, 10),
		TakerFee:           e.TakerFee.String(),
		Price:              price.String(),
		Quantity:           quantity.String(),
		NativePrice:        e.Price,
		NativeQuantity:     e.Quantity,
		Slot:               slot,
	}, nil
}

func outRecord(cluster mango.Cluster, market *marketState, e *mango.OutEvent, slot uint64) (OutRecord, error) {
	quantity, err := mango.NativeQuantityToUI(e.Quantity, cluster, market.index, market.market)
	if err != nil {
		return OutRecord{}, fmt.Errorf("out %d quantity: %w", e.SeqNum, err)
	}
	return OutRecord{
		Market:         market.symbol,
		SeqNum:         e.SeqNum,
		EventTime:      int64(e.Timestamp),
		Side:           e.Side.String(),
		Owner:          e.Owner.String(),
		OrderSlot:      e.Slot,
		Quantity:       quantity.String(),
		NativeQuantity: e.Quantity,
		Slot:           slot,
	}, nil
}

// Liquidation prices are I80F48 native quote per native base, so only the
// decimal shift applies.
func liquidationRecord(cluster mango.Cluster, market *marketState, e *mango.LiquidateEvent, slot uint64) (LiquidationRecord, error) {
	quantity, err := mango.NativeQuantityToUI(e.Quantity, cluster, market.index, market.market)
	if err != nil {
		return LiquidationRecord{}, fmt.Errorf("liquidation %d quantity: %w", e.SeqNum, err)
	}
	shift := int32(cluster.Decimals[market.index]) - int32(cluster.Decimals[mango.QuoteIndex])
	return LiquidationRecord{
		Market:         market.symbol,
		SeqNum:         e.SeqNum,
		EventTime:      int64(e.Timestamp),
		Liqee:          e.Liqee.String(),
		Liqor:          e.Liqor.String(),
		Price:          e.Price.Decimal().Shift(shift).String(),
		Quantity:       quantity.String(),
		NativeQuantity: e.Quantity,
		LiquidationFee: e.LiquidationFee.String(),
		Slot:           slot,
	}, nil
}

func (s *Service) startSubscriptions(ctx context.Context, updates chan<- queueUpdate) {
	endpoint := s.cfg.Chain.WSURL
	if endpoint == "" {
		derived, err := chain.WebsocketURL(s.cfg.Chain.RPCURL)
		if err != nil {
			s.logger.Warn("event queue subscriptions disabled", "err", err)
			return
		}
		endpoint = derived
	}
	for _, market := range s.markets {
		go s.runSubscription(ctx, endpoint, market, updates)
	}
}

// resubscribeDelay starts over from the floor after a connection that stayed
// up longer than the ceiling.
func resubscribeDelay(previous, uptime time.Duration) time.Duration {
	if previous == 0 || uptime > subscribeMaxBackoff {
		return subscribeMinBackoff
	}
	return chain.NextBackoff(previous, subscribeMinBackoff, subscribeMaxBackoff)
}

// runSubscription keeps one event-queue subscription alive until ctx ends.
func (s *Service) runSubscription(ctx context.Context, endpoint string, market *marketState, updates chan<- queueUpdate) {
	backoff := time.Duration(0)
	for {
		connected := time.Now()
		err := s.subscribe(ctx, endpoint, market.eventQueue, s.cfg.Chain.Commitment, func(slot uint64, data []byte) {
			select {
			case updates <- queueUpdate{market: market, slot: slot, data: data}:
			case <-ctx.Done():
			}
		})
		if ctx.Err() != nil {
			return
		}
		backoff = resubscribeDelay(backoff, time.Since(connected))
		s.logger.Warn("event queue subscription dropped",
			"market", market.symbol,
			"endpoint", endpoint,
			"retry_in", backoff.String(),
			"err", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Service) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	server := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("metrics listening", "addr", s.cfg.MetricsAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("metrics server failed", "err", err)
	}
}
