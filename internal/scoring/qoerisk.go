// File: internal/scoring/qoerisk.go

package scoring

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/features"
	"github.com/varelix/qoegate/internal/treediff"
)

// maxTopSignals bounds the explanation list on a QoE risk result.
const maxTopSignals = 5

// Per-change signal thresholds and weights. Criticality gates keep noise
// changes (analytics counters, telemetry blobs) out of the signal list.
const (
	removedCriticalFloor   = 0.7
	typeChangeFloor        = 0.5
	numericShiftFloor      = 0.5
	valueChangeFloor       = 0.7
	relativeShiftThreshold = 0.10

	removedSignalWeight = 0.15
	typeSignalWeight    = 0.20
	numericSignalWeight = 0.18
	valueSignalWeight   = 0.10
	runtimeSignalWeight = 0.05

	latencySignalFloor   = 0.3
	errorRateSignalFloor = 0.05
)

// Floors applied after the logistic curve. Repeated critical breakage is a
// gate event no matter how flat the rest of the feature mass is.
const (
	typeChangeFloorCount = 2
	typeChangeFloorRisk  = 0.75
	removedFloorCount    = 2
	removedFloorRisk     = 0.70
)

// aggregate feature weights, in feature order: critical-weighted changes
// (critical and high buckets), critical type changes, numeric delta max,
// removed critical, value changes, added fields, latency, error rate.
var qoeFeatureWeights = [8]float64{0.22, 0.20, 0.18, 0.15, 0.10, 0.05, 0.05, 0.05}

// QoERiskOptions configures the action thresholds.
type QoERiskOptions struct {
	FailThreshold float64
	WarnThreshold float64
}

// DefaultQoERiskOptions returns the production thresholds.
func DefaultQoERiskOptions() QoERiskOptions {
	return QoERiskOptions{FailThreshold: 0.72, WarnThreshold: 0.45}
}

// QoESignalInputs feeds one scoring pass. Resolve maps a path to its
// criticality; nil means nothing is critical. Runtime is optional.
type QoESignalInputs struct {
	Changes []treediff.Change
	Vector  features.Vector
	Resolve func(path string) float64
	Runtime *RuntimeStats
}

// Signal is one scored observation, kept for the report.
type Signal struct {
	Path        string  `json:"path,omitempty"`
	Type        string  `json:"type"`
	Weight      float64 `json:"weight"`
	Criticality float64 `json:"criticality"`
	Detail      string  `json:"detail"`
}

// QoERiskResult is the scored outcome for one operation.
type QoERiskResult struct {
	Risk                float64  `json:"risk"`
	Action              string   `json:"action"`
	TopSignals          []Signal `json:"top_signals,omitempty"`
	CriticalTypeChanges int      `json:"critical_type_changes"`
	RemovedCritical     int      `json:"removed_critical"`
}

// QoERiskScorer estimates how likely a change set is to degrade playback
// for end users. Safe for concurrent use.
type QoERiskScorer struct {
	logger        *zap.Logger
	failThreshold float64
	warnThreshold float64
}

// NewQoERiskScorer builds a scorer with the given thresholds.
func NewQoERiskScorer(logger *zap.Logger, opts QoERiskOptions) *QoERiskScorer {
	return &QoERiskScorer{
		logger:        logger.Named("qoerisk"),
		failThreshold: opts.FailThreshold,
		warnThreshold: opts.WarnThreshold,
	}
}

// Score walks the changes for per-change signals, blends the aggregate
// feature vector through a logistic curve, applies the critical-breakage
// floors, and picks an action from the thresholds.
func (s *QoERiskScorer) Score(in QoESignalInputs) QoERiskResult {
	resolve := in.Resolve
	if resolve == nil {
		resolve = func(string) float64 { return 0 }
	}

	var (
		signals             []Signal
		criticalTypeChanges int
		removedCritical     int
	)
	for _, change := range in.Changes {
		criticality := resolve(change.Path)
		switch change.Type {
		case treediff.ChangeRemoved:
			if criticality >= removedCriticalFloor {
				removedCritical++
				signals = append(signals, Signal{
					Path:        change.Path,
					Type:        "removed_critical",
					Weight:      removedSignalWeight,
					Criticality: criticality,
					Detail:      "critical field removed from response",
				})
			}
		case treediff.ChangeTypeChanged:
			if criticality >= typeChangeFloor {
				criticalTypeChanges++
				signals = append(signals, Signal{
					Path:        change.Path,
					Type:        "critical_type_change",
					Weight:      typeSignalWeight,
					Criticality: criticality,
					Detail:      fmt.Sprintf("type changed from %s to %s", change.BeforeKind, change.AfterKind),
				})
			}
		case treediff.ChangeValueChanged:
			before, beforeNumeric := treediff.NumberOf(change.Before)
			after, afterNumeric := treediff.NumberOf(change.After)
			if beforeNumeric && afterNumeric {
				if before == 0 || criticality < numericShiftFloor {
					continue
				}
				shift := math.Abs(after-before) / math.Abs(before)
				if shift > relativeShiftThreshold {
					signals = append(signals, Signal{
						Path:        change.Path,
						Type:        "numeric_shift",
						Weight:      numericSignalWeight * criticality,
						Criticality: criticality,
						Detail:      fmt.Sprintf("value moved %.1f%% on a critical path", shift*100),
					})
				}
			} else if criticality >= valueChangeFloor {
				signals = append(signals, Signal{
					Path:        change.Path,
					Type:        "critical_value_change",
					Weight:      valueSignalWeight,
					Criticality: criticality,
					Detail:      "value changed on a critical path",
				})
			}
		}
	}

	var latency, errorRate float64
	if in.Runtime != nil {
		latency = in.Runtime.NormalizedLatency()
		errorRate = clamp01(in.Runtime.ErrorRate)
		if latency > latencySignalFloor {
			signals = append(signals, Signal{
				Type:        "latency",
				Weight:      runtimeSignalWeight,
				Criticality: latency,
				Detail:      fmt.Sprintf("observed latency %.0fms", in.Runtime.LatencyMs),
			})
		}
		if in.Runtime.ErrorRate > errorRateSignalFloor {
			signals = append(signals, Signal{
				Type:        "error_rate",
				Weight:      runtimeSignalWeight,
				Criticality: errorRate,
				Detail:      fmt.Sprintf("observed error rate %.1f%%", in.Runtime.ErrorRate*100),
			})
		}
	}

	feats := [8]float64{
		clamp01(float64(in.Vector.CriticalChanges+in.Vector.HighCriticalityChanges) / 5),
		clamp01(float64(criticalTypeChanges) / 2),
		clamp01(in.Vector.NumericDeltaMax / 100),
		clamp01(float64(removedCritical) / 2),
		clamp01(float64(in.Vector.ValueChanges) / 10),
		clamp01(float64(in.Vector.AddedFields) / 10),
		latency,
		errorRate,
	}
	var raw float64
	for i, f := range feats {
		raw += f * qoeFeatureWeights[i]
	}
	risk := 1 / (1 + math.Exp(-(6*raw - 2)))

	if criticalTypeChanges >= typeChangeFloorCount && risk < typeChangeFloorRisk {
		risk = typeChangeFloorRisk
	}
	if removedCritical >= removedFloorCount && risk < removedFloorRisk {
		risk = removedFloorRisk
	}
	risk = round4(risk)

	action := ActionPass
	switch {
	case risk >= s.failThreshold:
		action = ActionFail
	case risk >= s.warnThreshold:
		action = ActionWarn
	}

	top := append([]Signal(nil), signals...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Weight*top[i].Criticality > top[j].Weight*top[j].Criticality
	})
	if len(top) > maxTopSignals {
		top = top[:maxTopSignals]
	}

	s.logger.Debug("qoe risk scored",
		zap.Float64("risk", risk),
		zap.String("action", action),
		zap.Int("critical_type_changes", criticalTypeChanges),
		zap.Int("removed_critical", removedCritical),
		zap.Int("signals", len(signals)),
	)

	return QoERiskResult{
		Risk:                risk,
		Action:              action,
		TopSignals:          top,
		CriticalTypeChanges: criticalTypeChanges,
		RemovedCritical:     removedCritical,
	}
}
