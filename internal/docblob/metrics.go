package docblob

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// metrics are labelled by provider id
type metrics struct {
	registry *prometheus.Registry

	writes        *prometheus.CounterVec
	reads         *prometheus.CounterVec
	writtenBytes  *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	keyReuses     prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	m := &metrics{
		registry: reg,
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobdispatch_writes_total",
			Help: "Blob writes by provider and result",
		}, []string{"provider", "result"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobdispatch_reads_total",
			Help: "Blob content loads by provider and result",
		}, []string{"provider", "result"}),
		writtenBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blobdispatch_write_bytes_total",
			Help: "Declared length of written blobs",
		}, []string{"provider"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blobdispatch_write_duration_seconds",
			Help:    "Time spent in provider writes",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		keyReuses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blobdispatch_key_reuses_total",
			Help: "Writes of already managed blobs that kept their key",
		}),
	}

	reg.MustRegister(m.writes, m.reads, m.writtenBytes, m.writeDuration, m.keyReuses)

	return m
}

func (m *metrics) observeWrite(providerID string, length int64, started time.Time, err error) {
	m.writeDuration.WithLabelValues(providerID).Observe(time.Since(started).Seconds())
	if err != nil {
		m.writes.WithLabelValues(providerID, resultError).Inc()
		return
	}
	m.writes.WithLabelValues(providerID, resultOK).Inc()
	if length > 0 {
		m.writtenBytes.WithLabelValues(providerID).Add(float64(length))
	}
}

func (m *metrics) observeRead(providerID string, err error) {
	if err != nil {
		m.reads.WithLabelValues(providerID, resultError).Inc()
		return
	}
	m.reads.WithLabelValues(providerID, resultOK).Inc()
}
