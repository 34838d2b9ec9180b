// File: internal/policy/engine.go
package policy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/drift"
	"github.com/varelix/qoegate/internal/scoring"
)

// Severity ranks a violation. Critical and error both fail the gate; the
// split is kept so reports can distinguish an override from a threshold.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Violation is one policy rule the results broke.
type Violation struct {
	Rule      string      `json:"rule"`
	Severity  Severity    `json:"severity"`
	Message   string      `json:"message"`
	Value     interface{} `json:"value,omitempty"`
	Threshold interface{} `json:"threshold,omitempty"`
}

// EvalInputs carries one operation's results into the gate. Every result is
// optional; a missing one skips its checks.
type EvalInputs struct {
	Operation    string
	Brittleness  *scoring.BrittlenessResult
	QoE          *scoring.QoERiskResult
	Drift        *drift.Classification
	ChangedPaths []string
}

// Decision is the gate verdict for one operation.
type Decision struct {
	Operation       string                 `json:"operation,omitempty"`
	Decision        string                 `json:"decision"`
	CIGateBlock     bool                   `json:"ci_gate_block"`
	Violations      []Violation            `json:"violations"`
	Recommendations []string               `json:"recommendations"`
	Scores          map[string]float64     `json:"scores"`
	Details         map[string]interface{} `json:"details"`
}

// Engine applies one policy Config to evaluation results. Safe for
// concurrent use.
type Engine struct {
	logger *zap.Logger
	cfg    Config
}

// NewEngine validates the config and builds an engine around it.
func NewEngine(logger *zap.Logger, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{logger: logger.Named("policy"), cfg: cfg}, nil
}

// Config returns the policy this engine applies.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate checks the inputs against every policy rule and folds the
// violations into a PASS, WARN or FAIL. Checks run in a fixed order: skip
// list, allow-list filtering, brittleness, QoE risk, the critical-change
// overrides, then drift. Recommendations keep first-seen order with
// duplicates dropped.
func (e *Engine) Evaluate(in EvalInputs) Decision {
	if in.Operation != "" && containsString(e.cfg.SkipOperations, in.Operation) {
		return Decision{
			Operation:       in.Operation,
			Decision:        scoring.ActionPass,
			Violations:      []Violation{},
			Recommendations: []string{"Operation is in skip list"},
			Scores:          map[string]float64{},
			Details:         map[string]interface{}{"skipped": true, "reason": "operation_in_skip_list"},
		}
	}

	violations := make([]Violation, 0, 4)
	recommendations := make([]string, 0, 4)
	scores := make(map[string]float64, 3)
	details := map[string]interface{}{
		"policy_applied": map[string]interface{}{
			"name":      e.cfg.Name,
			"version":   e.cfg.Version,
			"hard_gate": e.cfg.CIHardGate,
		},
	}

	if len(e.cfg.AllowedDriftPaths) > 0 && len(in.ChangedPaths) > 0 {
		var allowed []string
		for _, p := range in.ChangedPaths {
			if pathAllowed(p, e.cfg.AllowedDriftPaths) {
				allowed = append(allowed, p)
			}
		}
		if len(allowed) > 0 {
			details["allowed_paths"] = allowed
		}
	}

	if in.Brittleness != nil {
		score := in.Brittleness.Score
		scores["brittleness"] = score
		switch {
		case score >= e.cfg.BrittlenessFailThreshold:
			violations = append(violations, Violation{
				Rule:      "brittleness_threshold",
				Severity:  SeverityError,
				Message:   fmt.Sprintf("Brittleness score %.1f exceeds fail threshold %v", score, e.cfg.BrittlenessFailThreshold),
				Value:     score,
				Threshold: e.cfg.BrittlenessFailThreshold,
			})
			recommendations = append(recommendations, "Reduce schema complexity or address top brittleness contributors")
		case score >= e.cfg.BrittlenessWarnThreshold:
			violations = append(violations, Violation{
				Rule:      "brittleness_threshold",
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("Brittleness score %.1f exceeds warn threshold %v", score, e.cfg.BrittlenessWarnThreshold),
				Value:     score,
				Threshold: e.cfg.BrittlenessWarnThreshold,
			})
			recommendations = append(recommendations, "Consider simplifying API contract")
		}
	}

	if in.QoE != nil {
		risk := in.QoE.Risk
		scores["qoe_risk"] = risk
		switch {
		case risk >= e.cfg.QoEFailThreshold:
			violations = append(violations, Violation{
				Rule:      "qoe_risk_threshold",
				Severity:  SeverityError,
				Message:   fmt.Sprintf("QoE risk score %.4f exceeds fail threshold %v", risk, e.cfg.QoEFailThreshold),
				Value:     risk,
				Threshold: e.cfg.QoEFailThreshold,
			})
			recommendations = append(recommendations, "Review changes to critical paths")
		case risk >= e.cfg.QoEWarnThreshold:
			violations = append(violations, Violation{
				Rule:      "qoe_risk_threshold",
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("QoE risk score %.4f exceeds warn threshold %v", risk, e.cfg.QoEWarnThreshold),
				Value:     risk,
				Threshold: e.cfg.QoEWarnThreshold,
			})
			recommendations = append(recommendations, "Verify QoE-impacting changes are intentional")
		}

		if e.cfg.FailOnCriticalTypeChanges && in.QoE.CriticalTypeChanges >= e.cfg.CriticalTypeChangeThreshold {
			violations = append(violations, Violation{
				Rule:      "critical_type_changes",
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("Detected %d type changes on critical paths", in.QoE.CriticalTypeChanges),
				Value:     in.QoE.CriticalTypeChanges,
				Threshold: e.cfg.CriticalTypeChangeThreshold,
			})
			recommendations = append(recommendations, "Type changes on critical paths are high-risk; ensure backward compatibility")
		}

		if e.cfg.FailOnRemovedCriticalPaths && in.QoE.RemovedCritical >= e.cfg.RemovedCriticalThreshold {
			violations = append(violations, Violation{
				Rule:      "removed_critical_paths",
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("Detected %d removed fields on critical paths", in.QoE.RemovedCritical),
				Value:     in.QoE.RemovedCritical,
				Threshold: e.cfg.RemovedCriticalThreshold,
			})
			recommendations = append(recommendations, "Removing critical fields breaks consumers; restore or version the API")
		}
	}

	if in.Drift != nil {
		scores["drift_severity"] = driftSeverityScore(in.Drift.Severity)
		details["drift"] = map[string]interface{}{
			"type":           string(in.Drift.Type),
			"evidence_count": len(in.Drift.Evidence),
		}
		switch {
		case in.Drift.Type == drift.TypeUndocumented && e.cfg.FailOnUndocumentedDrift:
			violations = append(violations, Violation{
				Rule:     "undocumented_drift",
				Severity: SeverityCritical,
				Message:  "Undocumented runtime drift detected on critical paths",
				Value:    string(in.Drift.Type),
			})
			recommendations = append(recommendations, in.Drift.Recommendations...)
		case in.Drift.Type == drift.TypeSpecDrift && e.cfg.WarnOnSpecDrift:
			violations = append(violations, Violation{
				Rule:     "spec_drift",
				Severity: SeverityWarning,
				Message:  "OpenAPI specification has changed",
				Value:    string(in.Drift.Type),
			})
			recommendations = append(recommendations, "Update baselines to reflect spec changes")
		case in.Drift.Type == drift.TypeRuntimeDrift:
			violations = append(violations, Violation{
				Rule:     "runtime_drift",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Runtime drift detected: %d schema mismatches", in.Drift.Mismatches),
				Value:    in.Drift.Mismatches,
			})
			recommendations = append(recommendations, "Investigate runtime behavior changes")
		}
	}

	decision := computeDecision(violations)
	gateBlock := (decision == scoring.ActionFail && e.cfg.CIHardGate) ||
		(decision == scoring.ActionWarn && e.cfg.RequireApprovalOnWarn)

	e.logger.Debug("policy evaluated",
		zap.String("operation", in.Operation),
		zap.String("decision", decision),
		zap.Int("violations", len(violations)),
		zap.Bool("ci_gate_block", gateBlock),
	)

	return Decision{
		Operation:       in.Operation,
		Decision:        decision,
		CIGateBlock:     gateBlock,
		Violations:      violations,
		Recommendations: dedupeFirstSeen(recommendations),
		Scores:          scores,
		Details:         details,
	}
}

// computeDecision folds violation severities into the final verdict. Any
// error or critical fails; any warning without one warns.
func computeDecision(violations []Violation) string {
	decision := scoring.ActionPass
	for _, v := range violations {
		switch v.Severity {
		case SeverityCritical, SeverityError:
			return scoring.ActionFail
		case SeverityWarning:
			decision = scoring.ActionWarn
		}
	}
	return decision
}

// driftSeverityScore maps a drift severity onto the 0..1 reporting scale.
func driftSeverityScore(s drift.Severity) float64 {
	switch s {
	case drift.SeverityCritical:
		return 1.0
	case drift.SeverityHigh:
		return 0.75
	case drift.SeverityMedium:
		return 0.5
	case drift.SeverityLow:
		return 0.25
	}
	return 0
}

// pathAllowed reports whether the path matches any allow-list pattern:
// exact, trailing-star prefix, or leading-star suffix.
func pathAllowed(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == path {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(path, pattern[:len(pattern)-1]) {
			return true
		}
		if strings.HasPrefix(pattern, "*") && strings.HasSuffix(path, pattern[1:]) {
			return true
		}
	}
	return false
}

// dedupeFirstSeen drops repeated recommendations, keeping the order in
// which each first appeared.
func dedupeFirstSeen(recs []string) []string {
	seen := make(map[string]struct{}, len(recs))
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
