// File: internal/scoring/brittleness.go

package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/features"
)

// maxContributors bounds the explanation list on a brittleness result.
const maxContributors = 5

// BrittlenessWeights blends the four sub-scores. The defaults sum to 1.0;
// callers overriding them keep the blend meaningful themselves, the scorer
// only rejects a set that cannot produce a score at all.
type BrittlenessWeights struct {
	ContractComplexity float64 `json:"contract_complexity" yaml:"contract_complexity"`
	ChangeSensitivity  float64 `json:"change_sensitivity" yaml:"change_sensitivity"`
	RuntimeFragility   float64 `json:"runtime_fragility" yaml:"runtime_fragility"`
	BlastRadius        float64 `json:"blast_radius" yaml:"blast_radius"`
}

// DefaultBrittlenessWeights returns the production blend.
func DefaultBrittlenessWeights() BrittlenessWeights {
	return BrittlenessWeights{
		ContractComplexity: 0.25,
		ChangeSensitivity:  0.30,
		RuntimeFragility:   0.25,
		BlastRadius:        0.20,
	}
}

// BrittlenessInputs carries the four sub-scores, each already normalized to
// [0,1], plus the contributor candidates gathered while building them.
type BrittlenessInputs struct {
	ContractComplexity float64
	ChangeSensitivity  float64
	RuntimeFragility   float64
	BlastRadius        float64
	Contributors       []Contributor
}

// SubScores echoes the clamped inputs that produced a score.
type SubScores struct {
	ContractComplexity float64 `json:"contract_complexity"`
	ChangeSensitivity  float64 `json:"change_sensitivity"`
	RuntimeFragility   float64 `json:"runtime_fragility"`
	BlastRadius        float64 `json:"blast_radius"`
}

// Contributor names one driver of a brittleness score so a report can say
// why an operation scored the way it did.
type Contributor struct {
	Name   string  `json:"name"`
	Impact float64 `json:"impact"`
	Detail string  `json:"detail"`
}

// BrittlenessResult is the scored outcome for one operation.
type BrittlenessResult struct {
	Score        float64       `json:"score"`
	SubScores    SubScores     `json:"sub_scores"`
	Contributors []Contributor `json:"contributors,omitempty"`
}

// BrittlenessScorer computes the weighted blend. Safe for concurrent use.
type BrittlenessScorer struct {
	logger  *zap.Logger
	weights BrittlenessWeights
}

// NewBrittlenessScorer rejects weight sets that sum to zero or less since
// they would pin every score at zero regardless of input.
func NewBrittlenessScorer(logger *zap.Logger, weights BrittlenessWeights) (*BrittlenessScorer, error) {
	sum := weights.ContractComplexity + weights.ChangeSensitivity + weights.RuntimeFragility + weights.BlastRadius
	if sum <= 0 {
		return nil, errors.New("brittleness weights must sum to a positive value")
	}
	return &BrittlenessScorer{
		logger:  logger.Named("brittleness"),
		weights: weights,
	}, nil
}

// Score blends the clamped sub-scores onto a 0..100 scale, rounded to two
// decimals, and attaches the top contributors by impact.
func (s *BrittlenessScorer) Score(in BrittlenessInputs) BrittlenessResult {
	sub := SubScores{
		ContractComplexity: clamp01(in.ContractComplexity),
		ChangeSensitivity:  clamp01(in.ChangeSensitivity),
		RuntimeFragility:   clamp01(in.RuntimeFragility),
		BlastRadius:        clamp01(in.BlastRadius),
	}

	raw := sub.ContractComplexity*s.weights.ContractComplexity +
		sub.ChangeSensitivity*s.weights.ChangeSensitivity +
		sub.RuntimeFragility*s.weights.RuntimeFragility +
		sub.BlastRadius*s.weights.BlastRadius
	score := round2(clamp(raw*100, 0, 100))

	contributors := append([]Contributor(nil), in.Contributors...)
	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].Impact > contributors[j].Impact
	})
	if len(contributors) > maxContributors {
		contributors = contributors[:maxContributors]
	}

	s.logger.Debug("brittleness scored",
		zap.Float64("score", score),
		zap.Float64("contract_complexity", sub.ContractComplexity),
		zap.Float64("change_sensitivity", sub.ChangeSensitivity),
		zap.Float64("runtime_fragility", sub.RuntimeFragility),
		zap.Float64("blast_radius", sub.BlastRadius),
		zap.Int("contributors", len(contributors)),
	)

	return BrittlenessResult{Score: score, SubScores: sub, Contributors: contributors}
}

// SchemaStats summarizes the shape of a JSON Schema for the complexity
// sub-score. ParamCount comes from the operation definition rather than the
// schema body, so AnalyzeSchema leaves it zero.
type SchemaStats struct {
	MaxDepth        int `json:"max_depth"`
	BranchCount     int `json:"branch_count"`
	RequiredCount   int `json:"required_count"`
	FreeformCount   int `json:"freeform_count"`
	ParamCount      int `json:"param_count"`
	ConstraintCount int `json:"constraint_count"`
}

// AnalyzeSchema walks a decoded JSON Schema and tallies the structural
// signals that feed ComplexitySignals. A nil or empty schema yields zeros.
func AnalyzeSchema(schema map[string]interface{}) SchemaStats {
	var stats SchemaStats
	if len(schema) == 0 {
		return stats
	}
	walkSchema(schema, 1, &stats)
	return stats
}

func walkSchema(node map[string]interface{}, depth int, stats *SchemaStats) {
	if depth > stats.MaxDepth {
		stats.MaxDepth = depth
	}
	if required, ok := node["required"].([]interface{}); ok {
		stats.RequiredCount += len(required)
	}
	if freeform, ok := node["additionalProperties"].(bool); ok && freeform {
		stats.FreeformCount++
	}
	for _, key := range []string{"minimum", "maximum", "minLength", "maxLength", "pattern", "enum"} {
		if _, ok := node[key]; ok {
			stats.ConstraintCount++
		}
	}

	if props, ok := node["properties"].(map[string]interface{}); ok {
		for _, sub := range props {
			if child, ok := sub.(map[string]interface{}); ok {
				walkSchema(child, depth+1, stats)
			}
		}
	}
	if items, ok := node["items"].(map[string]interface{}); ok {
		walkSchema(items, depth+1, stats)
	}
	for _, branch := range []string{"anyOf", "oneOf"} {
		arms, ok := node[branch].([]interface{})
		if !ok {
			continue
		}
		if len(arms) > 1 {
			stats.BranchCount += len(arms) - 1
		}
		for _, arm := range arms {
			if child, ok := arm.(map[string]interface{}); ok {
				walkSchema(child, depth, stats)
			}
		}
	}
}

// ComplexitySignals scores how hard the contract is to hold stable. Each
// term saturates so a single pathological dimension cannot dominate.
func ComplexitySignals(stats SchemaStats) (float64, []Contributor) {
	depth := math.Min(float64(stats.MaxDepth)*10, 30)
	branching := math.Min(float64(stats.BranchCount)*15, 25)
	required := math.Min(float64(stats.RequiredCount)*2, 15)
	freeform := math.Min(float64(stats.FreeformCount)*20, 20)
	params := math.Min(float64(stats.ParamCount)*3, 10)
	raw := math.Min(depth+branching+required+freeform+params, 100)

	var contributors []Contributor
	if stats.MaxDepth > 3 {
		contributors = append(contributors, Contributor{
			Name:   "deep_nesting",
			Impact: depth,
			Detail: fmt.Sprintf("schema nests %d levels deep", stats.MaxDepth),
		})
	}
	if stats.BranchCount > 0 {
		contributors = append(contributors, Contributor{
			Name:   "schema_branching",
			Impact: branching,
			Detail: fmt.Sprintf("%d anyOf/oneOf alternatives beyond the first", stats.BranchCount),
		})
	}
	if stats.FreeformCount > 0 {
		contributors = append(contributors, Contributor{
			Name:   "freeform_objects",
			Impact: freeform,
			Detail: fmt.Sprintf("%d objects accept arbitrary additional properties", stats.FreeformCount),
		})
	}
	return raw / 100, contributors
}

// ChangeSignals scores how disruptive the observed contract changes are.
// Removed fields and type changes come from the diff feature vector; enum,
// response-code, and requiredness changes come from comparing the contract
// documents themselves.
func ChangeSignals(v features.Vector, enumRemovals, responseCodeChanges, requirednessChanges int) (float64, []Contributor) {
	removed := math.Min(float64(v.RemovedFields)*20, 40)
	typed := math.Min(float64(v.TypeChanges)*25, 30)
	enums := math.Min(float64(enumRemovals)*10, 10)
	codes := math.Min(float64(responseCodeChanges)*10, 10)
	requiredness := math.Min(float64(requirednessChanges)*15, 10)
	raw := math.Min(removed+typed+enums+codes+requiredness, 100)

	var contributors []Contributor
	if v.RemovedFields > 0 {
		contributors = append(contributors, Contributor{
			Name:   "removed_fields",
			Impact: removed,
			Detail: fmt.Sprintf("%d fields removed from the contract", v.RemovedFields),
		})
	}
	if v.TypeChanges > 0 {
		contributors = append(contributors, Contributor{
			Name:   "type_changes",
			Impact: typed,
			Detail: fmt.Sprintf("%d fields changed type", v.TypeChanges),
		})
	}
	return raw / 100, contributors
}

// FragilitySignals scores observed runtime instability.
func FragilitySignals(rt RuntimeStats) (float64, []Contributor) {
	timeouts := rt.TimeoutRate * 30
	errors := rt.ErrorRate * 25
	variance := math.Min(rt.LatencyVarianceMs/100, 1) * 15
	mismatches := rt.MismatchRate * 20
	nondet := rt.Nondeterminism * 10
	raw := math.Min(timeouts+errors+variance+mismatches+nondet, 100)

	var contributors []Contributor
	if rt.TimeoutRate > 0.1 {
		contributors = append(contributors, Contributor{
			Name:   "timeout_rate",
			Impact: timeouts,
			Detail: fmt.Sprintf("%.0f%% of probes timed out", rt.TimeoutRate*100),
		})
	}
	if rt.ErrorRate > 0.1 {
		contributors = append(contributors, Contributor{
			Name:   "error_rate",
			Impact: errors,
			Detail: fmt.Sprintf("%.0f%% of probes returned errors", rt.ErrorRate*100),
		})
	}
	return raw / 100, contributors
}

// BlastSignals scores how far a break would propagate: the most critical
// tag on the operation, the deployment environment, and downstream
// dependents.
func BlastSignals(maxTagCriticality float64, environment string, dependents int) (float64, []Contributor) {
	criticality := clamp01(maxTagCriticality) * 50
	env := environmentWeight(environment) * 30
	deps := math.Min(float64(dependents)*5, 20)
	raw := math.Min(criticality+env+deps, 100)

	var contributors []Contributor
	if maxTagCriticality > 0.8 {
		contributors = append(contributors, Contributor{
			Name:   "critical_surface",
			Impact: criticality,
			Detail: fmt.Sprintf("operation serves a %.2f-criticality surface", maxTagCriticality),
		})
	}
	return raw / 100, contributors
}

func environmentWeight(environment string) float64 {
	switch strings.ToLower(environment) {
	case "prod", "production":
		return 1.0
	case "stage", "staging":
		return 0.5
	case "dev", "development":
		return 0.2
	default:
		return 0.5
	}
}
