// File: internal/scoring/scoring.go

// Package scoring turns diff features and runtime behavior into the two gate
// scores: structural brittleness on a 0..100 scale and QoE risk on 0..1.
package scoring

import "math"

// Action vocabulary shared by both scorers.
const (
	ActionPass = "PASS"
	ActionWarn = "WARN"
	ActionFail = "FAIL"
)

// RuntimeStats aggregates observed runtime behavior for one operation. Rates
// are fractions in [0,1]; latency figures are milliseconds.
type RuntimeStats struct {
	TimeoutRate       float64 `json:"timeout_rate" yaml:"timeout_rate"`
	ErrorRate         float64 `json:"error_rate" yaml:"error_rate"`
	LatencyVarianceMs float64 `json:"latency_variance_ms" yaml:"latency_variance_ms"`
	MismatchRate      float64 `json:"mismatch_rate" yaml:"mismatch_rate"`
	Nondeterminism    float64 `json:"nondeterminism" yaml:"nondeterminism"`
	LatencyMs         float64 `json:"latency_ms" yaml:"latency_ms"`
}

// latencyNormalizationMs maps observed latency onto [0,1]. One second of
// latency saturates the signal; anything beyond is equally bad for a
// playback start.
const latencyNormalizationMs = 1000.0

// NormalizedLatency returns the latency signal in [0,1].
func (r RuntimeStats) NormalizedLatency() float64 {
	return clamp01(r.LatencyMs / latencyNormalizationMs)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
