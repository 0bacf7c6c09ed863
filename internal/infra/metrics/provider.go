package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		providerTokensIn,
		providerTokensOut,
		providerTokensTotal,
		providerCostMicro,
		providerCallLatency,
		providerErrors,
	)
}

var (
	providerTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/stage.",
		},
		[]string{"provider", "stage"},
	)

	providerTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_tokens_out",
			Help: "Sum of completion (output) tokens per provider/stage.",
		},
		[]string{"provider", "stage"},
	)

	providerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_tokens_total",
			Help: "Sum of total tokens per provider/stage.",
		},
		[]string{"provider", "stage"},
	)

	providerCostMicro = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_cost_micro",
			Help: "Micro-units spent per provider/stage, failed attempts included.",
		},
		[]string{"provider", "stage"},
	)

	providerCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Provider call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"provider", "stage", "success"},
	)

	providerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Failed provider calls by error kind.",
		},
		[]string{"provider", "kind"},
	)
)

func ObserveProviderCall(provider, stage string, tokensIn, tokensOut, tokensTotal int, costMicro int64, latency time.Duration, success bool) {
	lbl := []string{norm(provider), norm(stage)}
	providerTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	providerTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	providerTokensTotal.WithLabelValues(lbl...).Add(float64(tokensTotal))
	providerCostMicro.WithLabelValues(lbl...).Add(float64(costMicro))
	providerCallLatency.WithLabelValues(norm(provider), norm(stage), strconv.FormatBool(success)).
		Observe(float64(latency.Milliseconds()))
}

func IncProviderError(provider, kind string) {
	providerErrors.WithLabelValues(norm(provider), norm(kind)).Inc()
}
