// Package metrics exposes prometheus counters and histograms for the dues engine.
// All Observe/Inc functions are no-ops until Init is called.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "dues_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	duesGeneratedTotal *prometheus.CounterVec

	paymentEventsTotal  *prometheus.CounterVec
	paymentEventLatency *prometheus.HistogramVec

	propagationTotal      *prometheus.CounterVec
	propagationLatency    *prometheus.HistogramVec
	propagationStaleTotal prometheus.Counter

	sweepTotal   *prometheus.CounterVec
	sweepLatency *prometheus.HistogramVec

	exportTotal *prometheus.CounterVec
)

// Init registers metrics with the given registerer, or the default one when nil.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		duesGeneratedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "generated_total",
				Help: "Total monthly dues materialized by outcome (created, existing)",
			},
			[]string{"outcome"},
		)

		paymentEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_events_total",
				Help: "Total payment workflow events by event and result",
			},
			[]string{"event", "result"},
		)
		paymentEventLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "payment_event_latency_seconds",
				Help:    "Payment workflow event latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		)

		propagationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "propagation_total",
				Help: "Total price propagation runs by result",
			},
			[]string{"result"},
		)
		propagationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "propagation_latency_seconds",
				Help:    "Price propagation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		propagationStaleTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "propagation_stale_dues_total",
				Help: "Total dues left stale by a partial propagation",
			},
		)

		sweepTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mora_sweep_total",
				Help: "Total mora sweep runs by result",
			},
			[]string{"result"},
		)
		sweepLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "mora_sweep_latency_seconds",
				Help:    "Mora sweep latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)

		reg.MustRegister(
			duesGeneratedTotal,
			paymentEventsTotal,
			paymentEventLatency,
			propagationTotal,
			propagationLatency,
			propagationStaleTotal,
			sweepTotal,
			sweepLatency,
			exportTotal,
		)
	})
}

// AddDuesGenerated counts created and already-existing dues of one generation call.
func AddDuesGenerated(created, existing int) {
	if duesGeneratedTotal == nil {
		return
	}
	if created > 0 {
		duesGeneratedTotal.WithLabelValues("created").Add(float64(created))
	}
	if existing > 0 {
		duesGeneratedTotal.WithLabelValues("existing").Add(float64(existing))
	}
}

// ObservePaymentEvent records a workflow event (record, report, approve, reject, settle, void).
func ObservePaymentEvent(event string, err error, duration time.Duration) {
	if event == "" {
		event = "unknown"
	}
	if paymentEventsTotal != nil {
		paymentEventsTotal.WithLabelValues(event, resultOf(err)).Inc()
	}
	if paymentEventLatency != nil {
		paymentEventLatency.WithLabelValues(event).Observe(duration.Seconds())
	}
}

// ObservePropagation records a propagation run and the number of stale dues it left.
func ObservePropagation(err error, stale int, duration time.Duration) {
	result := resultOf(err)
	if stale > 0 && err != nil {
		result = "partial"
	}
	if propagationTotal != nil {
		propagationTotal.WithLabelValues(result).Inc()
	}
	if propagationLatency != nil {
		propagationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if propagationStaleTotal != nil && stale > 0 {
		propagationStaleTotal.Add(float64(stale))
	}
}

// ObserveSweep records a mora sweep run.
func ObserveSweep(err error, duration time.Duration) {
	result := resultOf(err)
	if sweepTotal != nil {
		sweepTotal.WithLabelValues(result).Inc()
	}
	if sweepLatency != nil {
		sweepLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncExport counts a report export.
func IncExport(format string, err error) {
	if format == "" {
		format = "unknown"
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, resultOf(err)).Inc()
	}
}

func resultOf(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
