package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	eventsIndexed *prometheus.CounterVec
	eventsLost    *prometheus.CounterVec
	syncErrors    *prometheus.CounterVec
	queueSeqNum   *prometheus.GaugeVec
	queueSlot     *prometheus.GaugeVec
	syncDuration  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		eventsIndexed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mango",
			Subsystem: "indexer",
			Name:      "events_indexed_total",
			Help:      "Event-queue events written to the store.",
		}, []string{"market", "type"}),
		eventsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mango",
			Subsystem: "indexer",
			Name:      "events_lost_total",
			Help:      "Events overwritten in the ring before they could be read.",
		}, []string{"market"}),
		syncErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mango",
			Subsystem: "indexer",
			Name:      "sync_errors_total",
			Help:      "Failed event-queue sync passes.",
		}, []string{"market"}),
		queueSeqNum: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mango",
			Subsystem: "indexer",
			Name:      "queue_seq_num",
			Help:      "Last event-queue sequence number stored.",
		}, []string{"market"}),
		queueSlot: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mango",
			Subsystem: "indexer",
			Name:      "queue_slot",
			Help:      "Slot of the last event-queue snapshot processed.",
		}, []string{"market"}),
		syncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mango",
			Subsystem: "indexer",
			Name:      "sync_duration_seconds",
			Help:      "Time spent decoding and storing one event-queue snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"market"}),
	}
}

func (m *metrics) observeBatch(batch EventBatch) {
	m.eventsIndexed.WithLabelValues(batch.Market, "fill").Add(float64(len(batch.Fills)))
	m.eventsIndexed.WithLabelValues(batch.Market, "out").Add(float64(len(batch.Outs)))
	m.eventsIndexed.WithLabelValues(batch.Market, "liquidate").Add(float64(len(batch.Liquidations)))
	m.queueSeqNum.WithLabelValues(batch.Market).Set(float64(batch.SeqNum))
	if batch.Slot > 0 {
		m.queueSlot.WithLabelValues(batch.Market).Set(float64(batch.Slot))
	}
}
