// File: internal/drift/drift.go

// Package drift classifies how an API's observed behavior diverged from its
// contract: a spec-only change, runtime drift, or the dangerous case of
// runtime changes on critical paths with no spec update at all.
package drift

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/conformance"
)

// Type names the drift category.
type Type string

const (
	TypeNone         Type = "none"
	TypeSpecDrift    Type = "spec_drift"
	TypeRuntimeDrift Type = "runtime_drift"
	TypeUndocumented Type = "undocumented"
)

// Severity grades a classification or a single piece of evidence.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Evidence is one observation supporting a classification.
type Evidence struct {
	Kind     string   `json:"kind"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Classification is the classified drift for one operation.
type Classification struct {
	Type               Type       `json:"type"`
	Severity           Severity   `json:"severity"`
	Score              float64    `json:"score"`
	SpecChanged        bool       `json:"spec_changed"`
	Mismatches         int        `json:"mismatches"`
	CriticalMismatches int        `json:"critical_mismatches"`
	Evidence           []Evidence `json:"evidence,omitempty"`
	Recommendations    []string   `json:"recommendations,omitempty"`
}

// Inputs feeds one classification. CriticalPaths decides whether a mismatch
// path is critical; nil leaves only the built-in keyword rule.
type Inputs struct {
	SpecChanged   bool
	PrevSpecHash  string
	CurSpecHash   string
	Mismatches    []conformance.Mismatch
	CriticalPaths func(path string) bool
}

// criticalKeywords marks mismatch paths critical by name alone. These are
// the streaming surfaces where silent drift breaks playback outright.
var criticalKeywords = []string{"playback", "drm", "license", "entitle", "manifest"}

// runtimeDriftHighWatermark: more mismatches than this upgrades
// RUNTIME_DRIFT from medium to high.
const runtimeDriftHighWatermark = 3

const hashEvidenceChars = 8

// Classifier turns spec-change and runtime-mismatch signals into a drift
// classification. Safe for concurrent use.
type Classifier struct {
	logger *zap.Logger
}

func NewClassifier(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger.Named("drift")}
}

// Classify applies the fixed rule table. Critical mismatches dominate: once
// any mismatch touches a critical path the result is UNDOCUMENTED even when
// the spec also changed.
func (c *Classifier) Classify(in Inputs) Classification {
	cls := Classification{
		SpecChanged: in.SpecChanged,
		Mismatches:  len(in.Mismatches),
	}

	if in.SpecChanged {
		cls.Evidence = append(cls.Evidence, Evidence{
			Kind:     "spec_hash",
			Path:     "spec",
			Message:  fmt.Sprintf("Spec hash changed: %s... → %s...", hashPrefix(in.PrevSpecHash), hashPrefix(in.CurSpecHash)),
			Severity: SeverityMedium,
		})
		cls.Recommendations = append(cls.Recommendations, "Review spec changes for backward compatibility")
	}

	for _, m := range in.Mismatches {
		if isCritical(m.Path, in.CriticalPaths) {
			cls.CriticalMismatches++
			cls.Evidence = append(cls.Evidence, Evidence{
				Kind:     "critical_mismatch",
				Path:     m.Path,
				Message:  mismatchMessage(m, "Schema mismatch on critical path"),
				Severity: SeverityHigh,
			})
		} else {
			cls.Evidence = append(cls.Evidence, Evidence{
				Kind:     "schema_mismatch",
				Path:     m.Path,
				Message:  mismatchMessage(m, "Schema mismatch"),
				Severity: SeverityMedium,
			})
		}
	}

	switch {
	case !in.SpecChanged && cls.Mismatches == 0:
		cls.Type = TypeNone
		cls.Severity = SeverityLow

	case in.SpecChanged && cls.Mismatches == 0:
		cls.Type = TypeSpecDrift
		cls.Severity = SeverityMedium
		cls.Recommendations = append(cls.Recommendations, "Update baselines to match new spec")

	case cls.CriticalMismatches > 0:
		cls.Type = TypeUndocumented
		cls.Severity = SeverityCritical
		cls.Recommendations = append(cls.Recommendations,
			"URGENT: Runtime behavior changed on critical paths without spec update",
			"Investigate implementation changes",
			"Consider rolling back or updating spec",
		)

	default:
		cls.Type = TypeRuntimeDrift
		if cls.Mismatches > runtimeDriftHighWatermark {
			cls.Severity = SeverityHigh
		} else {
			cls.Severity = SeverityMedium
		}
		cls.Recommendations = append(cls.Recommendations,
			"Runtime behavior differs from spec",
			"Update spec to document new behavior or fix implementation",
		)
	}

	cls.Score = severityScore(cls)

	c.logger.Debug("drift classified",
		zap.String("type", string(cls.Type)),
		zap.String("severity", string(cls.Severity)),
		zap.Float64("score", cls.Score),
		zap.Int("mismatches", cls.Mismatches),
		zap.Int("critical_mismatches", cls.CriticalMismatches),
		zap.Bool("spec_changed", cls.SpecChanged),
	)
	return cls
}

func isCritical(path string, criticalPaths func(string) bool) bool {
	if criticalPaths != nil && criticalPaths(path) {
		return true
	}
	lowered := strings.ToLower(path)
	for _, keyword := range criticalKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func mismatchMessage(m conformance.Mismatch, fallback string) string {
	if m.Message != "" {
		return m.Message
	}
	return fallback
}

func hashPrefix(hash string) string {
	if len(hash) > hashEvidenceChars {
		return hash[:hashEvidenceChars]
	}
	return hash
}

// severityScore maps a classification onto 0..100 for reports: a base per
// type plus capped bumps for critical and total mismatch counts.
func severityScore(cls Classification) float64 {
	var base float64
	switch cls.Type {
	case TypeSpecDrift:
		base = 40
	case TypeRuntimeDrift:
		base = 60
	case TypeUndocumented:
		base = 90
	}

	score := base +
		minFloat(float64(cls.CriticalMismatches)*5, 10) +
		minFloat(float64(cls.Mismatches)*2, 10)
	if score > 100 {
		score = 100
	}
	return score
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
