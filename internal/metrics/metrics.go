// Package metrics provides the gateway's request counters.
//
// The same Recorder feeds two surfaces: the JSON snapshot served on /metrics
// (plain cumulative counters, reset on restart) and a Prometheus mirror scoped
// to a private registry (not the global default) so it doesn't interfere with
// host-level metrics when embedded in other applications. The exposition
// handler is exposed via Handler().
package metrics

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Recorder accumulates per-request observations. It is injected into the
// gateway at construction; there is no package-level state. All methods are
// safe for concurrent use.
type Recorder struct {
	mu               sync.Mutex
	requestCount     int64
	errorCount       int64
	totalLatencyMS   float64
	promptTokens     int64
	completionTokens int64

	reg *prometheus.Registry

	// gateway_requests_total{mode,status}
	requestsTotal *prometheus.CounterVec

	// gateway_request_duration_seconds{mode}
	duration *prometheus.HistogramVec

	// gateway_tokens_total{direction}
	tokensTotal *prometheus.CounterVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

// Snapshot is the wire shape of GET /metrics. Latency is reported in
// milliseconds rounded to two decimals.
type Snapshot struct {
	RequestCount     int64   `json:"request_count"`
	ErrorCount       int64   `json:"error_count"`
	TotalLatencyMS   float64 `json:"total_latency_ms"`
	PromptTokens     int64   `json:"prompt_tokens_total"`
	CompletionTokens int64   `json:"completion_tokens_total"`
}

func New() *Recorder {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Recorder{
		reg: reg,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of dispatched chat-completion requests",
			},
			[]string{"mode", "status"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "End-to-end chat-completion duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"mode"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Token totals, whitespace-estimated in echo mode and taken from upstream usage in proxy mode",
			},
			[]string{"direction"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.requestsTotal,
		r.duration,
		r.tokensTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// Record observes one completed chat-completion dispatch. status is the code
// actually written to the client; anything >= 400 also counts as an error.
// Every dispatch path calls this exactly once.
func (r *Recorder) Record(mode string, status int, latency time.Duration, promptTokens, completionTokens int) {
	ms := float64(latency.Microseconds()) / 1000.0

	r.mu.Lock()
	r.requestCount++
	if status >= 400 {
		r.errorCount++
	}
	r.totalLatencyMS += ms
	r.promptTokens += int64(promptTokens)
	r.completionTokens += int64(completionTokens)
	r.mu.Unlock()

	r.requestsTotal.WithLabelValues(mode, strconv.Itoa(status)).Inc()
	r.duration.WithLabelValues(mode).Observe(latency.Seconds())
	if promptTokens > 0 {
		r.tokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// Snapshot returns a consistent copy of the counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RequestCount:     r.requestCount,
		ErrorCount:       r.errorCount,
		TotalLatencyMS:   math.Round(r.totalLatencyMS*100) / 100,
		PromptTokens:     r.promptTokens,
		CompletionTokens: r.completionTokens,
	}
}

func (r *Recorder) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

// Handler serves the Prometheus exposition format for the private registry.
func (r *Recorder) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Recorder) PromRegistry() *prometheus.Registry { return r.reg }
