// Package metrics registers and records Prometheus metrics for all lab
// subsystems: pipeline runs, oracle simulation, chi-square validation, the
// HTTP API, and MQTT summary publishing.
package metrics

import (
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GenerationsTotal   prometheus.Counter
	GenerationFailures *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	GenerationBitWidth prometheus.Histogram
	GenerationSamples  prometheus.Histogram
	OracleCalls        prometheus.Counter
	OracleCallDuration prometheus.Histogram
	ChiSquareStatistic prometheus.Histogram
	ChiSquarePValue    prometheus.Histogram
	UniformVerdicts    *prometheus.CounterVec
	StoredSampleCount  prometheus.Gauge
	APIRequests        *prometheus.CounterVec
	APIRequestLatency  prometheus.Histogram
	APIRateLimited     prometheus.Counter
	MQTTConnected      prometheus.Gauge
	MQTTPublishes      *prometheus.CounterVec
	MQTTDisconnects    prometheus.Counter

	metricsMu         sync.RWMutex
	currentRegisterer prometheus.Registerer = prometheus.DefaultRegisterer
)

func init() {
	resetMetrics(prometheus.DefaultRegisterer)
}

// SetRegisterer sets a new registerer and reinitializes all metrics. It
// returns the previous registerer so it can be restored later. This function
// is thread-safe and designed for use in tests to provide isolated metric
// registries per test.
func SetRegisterer(registerer prometheus.Registerer) prometheus.Registerer {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	previous := currentRegisterer

	if currentRegisterer != nil {
		unregisterAll(currentRegisterer)
	}

	currentRegisterer = registerer
	initializeMetrics(registerer)

	return previous
}

func resetMetrics(registerer prometheus.Registerer) {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if currentRegisterer != nil {
		unregisterAll(currentRegisterer)
	}

	currentRegisterer = registerer
	initializeMetrics(registerer)
}

// initializeMetrics creates all metrics using the provided registerer.
// Must be called while holding metricsMu.
func initializeMetrics(registerer prometheus.Registerer) {
	factory := promauto.With(registerer)

	GenerationsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "qrng_generations_total",
		Help: "Completed generation runs",
	})
	GenerationFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "qrng_generation_failures_total",
		Help: "Failed generation runs by stage",
	}, []string{"stage"})
	GenerationDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrng_generation_duration_seconds",
		Help:    "End-to-end pipeline duration per run",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	GenerationBitWidth = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrng_generation_bit_width",
		Help:    "Requested bit width per run",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})
	GenerationSamples = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrng_generation_samples",
		Help:    "Expanded sample count per run",
		Buckets: prometheus.ExponentialBuckets(100, 2, 8),
	})
	OracleCalls = factory.NewCounter(prometheus.CounterOpts{
		Name: "qrng_oracle_calls_total",
		Help: "Successful oracle backend calls",
	})
	OracleCallDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrng_oracle_call_duration_seconds",
		Help:    "Oracle backend call duration",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	ChiSquareStatistic = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrng_chi_square_statistic",
		Help:    "Chi-square statistic per run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	ChiSquarePValue = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrng_chi_square_p_value",
		Help:    "Chi-square p-value per run",
		Buckets: prometheus.LinearBuckets(0, 0.05, 21),
	})
	UniformVerdicts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "qrng_uniform_verdicts_total",
		Help: "Uniformity verdicts at the conventional threshold",
	}, []string{"verdict"})
	StoredSampleCount = factory.NewGauge(prometheus.GaugeOpts{
		Name: "qrng_stored_sample_count",
		Help: "Sample count of the latest stored run",
	})
	APIRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "qrng_api_requests_total",
		Help: "API requests by HTTP status code",
	}, []string{"code"})
	APIRequestLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrng_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	APIRateLimited = factory.NewCounter(prometheus.CounterOpts{
		Name: "qrng_api_rate_limited_total",
		Help: "API requests rejected by the rate limiter",
	})
	MQTTConnected = factory.NewGauge(prometheus.GaugeOpts{
		Name: "qrng_mqtt_connected",
		Help: "MQTT broker connectivity (1 connected, 0 disconnected)",
	})
	MQTTPublishes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "qrng_mqtt_publishes_total",
		Help: "Run summary publish attempts by outcome",
	}, []string{"outcome"})
	MQTTDisconnects = factory.NewCounter(prometheus.CounterOpts{
		Name: "qrng_mqtt_disconnects_total",
		Help: "MQTT broker disconnections",
	})
}

// unregisterAll removes every collector from the registerer so a new
// registerer can be installed without duplicate registration panics.
// Must be called while holding metricsMu.
func unregisterAll(registerer prometheus.Registerer) {
	collectors := []prometheus.Collector{
		GenerationsTotal,
		GenerationFailures,
		GenerationDuration,
		GenerationBitWidth,
		GenerationSamples,
		OracleCalls,
		OracleCallDuration,
		ChiSquareStatistic,
		ChiSquarePValue,
		UniformVerdicts,
		StoredSampleCount,
		APIRequests,
		APIRequestLatency,
		APIRateLimited,
		MQTTConnected,
		MQTTPublishes,
		MQTTDisconnects,
	}

	for _, collector := range collectors {
		if collector == nil {
			continue
		}
		// A nil *CounterVec (or similar) stored in the interface is not
		// caught by the plain nil check above but still panics inside
		// Unregister, so detect typed nils as well.
		if v := reflect.ValueOf(collector); v.Kind() == reflect.Pointer && v.IsNil() {
			continue
		}
		registerer.Unregister(collector)
	}
}

// RecordGeneration records the outcome of a completed pipeline run.
func RecordGeneration(bitWidth, samples int, statistic, pValue float64, uniform bool, duration time.Duration) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()

	GenerationsTotal.Inc()
	GenerationDuration.Observe(duration.Seconds())
	GenerationBitWidth.Observe(float64(bitWidth))
	GenerationSamples.Observe(float64(samples))
	ChiSquareStatistic.Observe(statistic)
	ChiSquarePValue.Observe(pValue)

	verdict := "non_uniform"
	if uniform {
		verdict = "uniform"
	}
	UniformVerdicts.WithLabelValues(verdict).Inc()
}

// RecordGenerationFailure records a failed pipeline run by failing stage.
func RecordGenerationFailure(stage string) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	GenerationFailures.WithLabelValues(stage).Inc()
}

// RecordOracleCall records a successful oracle backend call.
func RecordOracleCall(duration time.Duration) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	OracleCalls.Inc()
	OracleCallDuration.Observe(duration.Seconds())
}

// SetStoredSampleCount updates the latest-run sample count gauge.
func SetStoredSampleCount(count int) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	StoredSampleCount.Set(float64(count))
}

// RecordAPIRequest records one API request with its status code and latency.
func RecordAPIRequest(code int, duration time.Duration) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	APIRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	APIRequestLatency.Observe(duration.Seconds())
}

// RecordAPIRateLimited counts a request rejected by the rate limiter.
func RecordAPIRateLimited() {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	APIRateLimited.Inc()
}

// SetMQTTConnected updates the broker connectivity gauge.
func SetMQTTConnected(connected bool) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if connected {
		MQTTConnected.Set(1)
	} else {
		MQTTConnected.Set(0)
	}
}

// RecordMQTTPublish counts a run summary publish attempt.
func RecordMQTTPublish(success bool) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	MQTTPublishes.WithLabelValues(outcome).Inc()
}

// RecordMQTTDisconnect counts a broker disconnection.
func RecordMQTTDisconnect() {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	MQTTDisconnects.Inc()
}
