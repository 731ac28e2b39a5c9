package session

import (
	"context"
	"errors"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	transitionsTotal  *prometheus.CounterVec
	failuresTotal     *prometheus.CounterVec
	discardedTotal    *prometheus.CounterVec
	normalizeDuration prometheus.Histogram
	uploadDuration    prometheus.Histogram
	outputBytes       prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avatarcrop_session_transitions_total",
			Help: "Session stage transitions by target stage.",
		}, []string{"stage"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avatarcrop_session_failures_total",
			Help: "Failed session operations by error kind.",
		}, []string{"kind"}),
		discardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avatarcrop_session_discarded_results_total",
			Help: "Results of in-flight operations dropped after a reset.",
		}, []string{"operation"}),
		normalizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "avatarcrop_normalize_duration_seconds",
			Help:    "Time spent decoding, compositing and encoding one image.",
			Buckets: prometheus.DefBuckets,
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "avatarcrop_upload_duration_seconds",
			Help:    "Time spent in the upload destination.",
			Buckets: prometheus.DefBuckets,
		}),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "avatarcrop_output_bytes",
			Help:    "Size of encoded 500x500 outputs.",
			Buckets: prometheus.ExponentialBuckets(4*1024, 2, 8),
		}),
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		m.transitionsTotal,
		m.failuresTotal,
		m.discardedTotal,
		m.normalizeDuration,
		m.uploadDuration,
		m.outputBytes,
	)
	return m
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	case errors.Is(err, domain.ErrEncode):
		return "encode"
	case errors.Is(err, domain.ErrRead):
		return "read"
	case errors.Is(err, domain.ErrUpload):
		return "upload"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
