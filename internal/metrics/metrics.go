// Package metrics собирает метрики Prometheus хранилища.
//
// Все методы безопасны для nil-получателя: хранилище, созданное без метрик,
// просто ничего не учитывает.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livestore"

// Metrics набор метрик на собственном реестре
type Metrics struct {
	registry *prometheus.Registry

	ingestedChunks   prometheus.Counter
	ingestedBytes    prometheus.Counter
	deliveredChunks  prometheus.Counter
	deliveredBytes   prometheus.Counter
	uploads          *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	activeUploads    prometheus.Gauge
	activeDeliveries prometheus.Gauge
}

// New регистрирует метрики в новом реестре
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ingestedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Total number of chunks appended to resources",
		}),
		ingestedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_bytes_total",
			Help:      "Total number of bytes appended to resources",
		}),
		deliveredChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_chunks_total",
			Help:      "Total number of chunks sent to readers",
		}),
		deliveredBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_bytes_total",
			Help:      "Total number of bytes sent to readers",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by outcome",
		}, []string{"outcome"}), // "complete", "partial"
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Finished deliveries by outcome",
		}, []string{"outcome"}), // "complete", "lagged", "aborted"
		activeUploads: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_uploads",
			Help:      "Uploads currently streaming into memory",
		}),
		activeDeliveries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_deliveries",
			Help:      "Deliveries currently streaming to readers",
		}),
	}
}

// RegisterResourceCount публикует количество путей в пространстве имен
func (m *Metrics) RegisterResourceCount(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resources",
		Help:      "Number of paths currently linked in the namespace",
	}, func() float64 { return float64(count()) })
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UploadStarted учитывает начало загрузки
func (m *Metrics) UploadStarted() {
	if m == nil {
		return
	}
	m.activeUploads.Inc()
}

// ChunkIngested учитывает дописанный в ресурс чанк
func (m *Metrics) ChunkIngested(size int) {
	if m == nil {
		return
	}
	m.ingestedChunks.Inc()
	m.ingestedBytes.Add(float64(size))
}

// UploadFinished учитывает завершение загрузки, полной или оборванной
func (m *Metrics) UploadFinished(complete bool) {
	if m == nil {
		return
	}
	m.activeUploads.Dec()
	if complete {
		m.uploads.WithLabelValues("complete").Inc()
	} else {
		m.uploads.WithLabelValues("partial").Inc()
	}
}

// DeliveryStarted учитывает открытие выдачи
func (m *Metrics) DeliveryStarted() {
	if m == nil {
		return
	}
	m.activeDeliveries.Inc()
}

// ChunkDelivered учитывает отданный читателю чанк
func (m *Metrics) ChunkDelivered(size int) {
	if m == nil {
		return
	}
	m.deliveredChunks.Inc()
	m.deliveredBytes.Add(float64(size))
}

// DeliveryFinished outcome: "complete", "lagged" или "aborted"
func (m *Metrics) DeliveryFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeDeliveries.Dec()
	m.deliveries.WithLabelValues(outcome).Inc()
}
