// File: internal/pipeline/pipeline.go

// Package pipeline runs one operation's documents through the full
// evaluation chain: structural diff, criticality resolution, feature
// extraction, both scorers, conformance checking, drift classification,
// and finally the policy gate. The stages are pure given their inputs, so
// a Report is reproducible from its Request.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/conformance"
	"github.com/varelix/qoegate/internal/criticality"
	"github.com/varelix/qoegate/internal/drift"
	"github.com/varelix/qoegate/internal/features"
	"github.com/varelix/qoegate/internal/policy"
	"github.com/varelix/qoegate/internal/scoring"
	"github.com/varelix/qoegate/internal/semantic"
	"github.com/varelix/qoegate/internal/treediff"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// criticalPathWeight is the resolver weight at or above which a path counts
// as critical for drift classification.
const criticalPathWeight = 0.85

// Options configures a Service. Zero values select the built-in defaults.
type Options struct {
	Profile     *criticality.Profile
	Policy      *policy.Config
	Brittleness scoring.BrittlenessWeights
	QoEFail     float64
	QoEWarn     float64
	Analyzer    semantic.Analyzer
}

// Request carries one operation's documents and context into an evaluation.
// Baseline and Current are parsed JSON values. Schema, spec bytes, and
// runtime stats are optional; absent inputs skip their stages.
type Request struct {
	Operation   string
	Tags        []string
	Baseline    interface{}
	Current     interface{}
	Schema      string
	PrevSpec    []byte
	CurSpec     []byte
	Runtime     *scoring.RuntimeStats
	Environment string
	Dependents  int
}

// Report is the full evaluation record for one operation.
type Report struct {
	ID          string                    `json:"id"`
	Operation   string                    `json:"operation"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Changes     []treediff.Change         `json:"changes"`
	Vector      features.Vector           `json:"vector"`
	Brittleness scoring.BrittlenessResult `json:"brittleness"`
	QoE         scoring.QoERiskResult     `json:"qoe"`
	Conformance *conformance.Result       `json:"conformance,omitempty"`
	Drift       drift.Classification      `json:"drift"`
	Decision    policy.Decision           `json:"decision"`
	Insight     *semantic.Insight         `json:"insight,omitempty"`
}

// Service owns the evaluation chain. Safe for concurrent use once built.
type Service struct {
	logger     *zap.Logger
	differ     *treediff.Differ
	resolver   *criticality.Resolver
	britt      *scoring.BrittlenessScorer
	qoe        *scoring.QoERiskScorer
	classifier *drift.Classifier
	engine     *policy.Engine
	analyzer   semantic.Analyzer
}

// NewService builds the chain from the options, falling back to the
// streaming profile, the default policy, and the default brittleness blend
// where the caller left fields zero.
func NewService(logger *zap.Logger, opts Options) (*Service, error) {
	cfg := policy.DefaultConfig()
	if opts.Policy != nil {
		cfg = *opts.Policy
	}
	engine, err := policy.NewEngine(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("building policy engine: %w", err)
	}

	weights := opts.Brittleness
	if weights == (scoring.BrittlenessWeights{}) {
		weights = scoring.DefaultBrittlenessWeights()
	}
	brittScorer, err := scoring.NewBrittlenessScorer(logger, weights)
	if err != nil {
		return nil, fmt.Errorf("building brittleness scorer: %w", err)
	}

	// The scorer's advisory action uses the same thresholds as the gate
	// unless the caller overrides them.
	qoeOpts := scoring.QoERiskOptions{
		FailThreshold: cfg.QoEFailThreshold,
		WarnThreshold: cfg.QoEWarnThreshold,
	}
	if opts.QoEFail > 0 {
		qoeOpts.FailThreshold = opts.QoEFail
	}
	if opts.QoEWarn > 0 {
		qoeOpts.WarnThreshold = opts.QoEWarn
	}

	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer = semantic.NewNop()
	}

	return &Service{
		logger:     logger.Named("pipeline"),
		differ:     treediff.NewDiffer(logger),
		resolver:   criticality.NewResolver(logger, opts.Profile),
		britt:      brittScorer,
		qoe:        scoring.NewQoERiskScorer(logger, qoeOpts),
		classifier: drift.NewClassifier(logger),
		engine:     engine,
		analyzer:   analyzer,
	}, nil
}

// Evaluate runs the full chain for one request. The context is checked
// between stages; cancellation returns the context error with no report.
func (s *Service) Evaluate(ctx context.Context, req Request) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()

	changes := s.differ.Diff(req.Baseline, req.Current)
	resolve := func(path string) float64 {
		return s.resolver.Resolve(path, req.Tags)
	}
	vector := features.Extract(changes, resolve)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	britt := s.britt.Score(s.brittlenessInputs(req, vector))
	qoe := s.qoe.Score(scoring.QoESignalInputs{
		Changes: changes,
		Vector:  vector,
		Resolve: resolve,
		Runtime: req.Runtime,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf, err := s.checkConformance(req)
	if err != nil {
		return nil, err
	}
	specChanged, prevHash, curHash, err := specFingerprints(req)
	if err != nil {
		return nil, err
	}

	var mismatches []conformance.Mismatch
	if conf != nil {
		mismatches = conf.Mismatches
	}
	cls := s.classifier.Classify(drift.Inputs{
		SpecChanged:  specChanged,
		PrevSpecHash: prevHash,
		CurSpecHash:  curHash,
		Mismatches:   mismatches,
		CriticalPaths: func(path string) bool {
			return s.resolver.ResolvePath(path) >= criticalPathWeight
		},
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	changedPaths := make([]string, 0, len(changes))
	for _, c := range changes {
		changedPaths = append(changedPaths, c.Path)
	}
	decision := s.engine.Evaluate(policy.EvalInputs{
		Operation:    req.Operation,
		Brittleness:  &britt,
		QoE:          &qoe,
		Drift:        &cls,
		ChangedPaths: changedPaths,
	})

	report := &Report{
		ID:          uuid.New().String(),
		Operation:   req.Operation,
		GeneratedAt: time.Now().UTC(),
		Changes:     changes,
		Vector:      vector,
		Brittleness: britt,
		QoE:         qoe,
		Conformance: conf,
		Drift:       cls,
		Decision:    decision,
	}

	if s.analyzer.Available() {
		insight, err := s.analyzer.Analyze(ctx, req.Baseline, req.Current)
		if err != nil {
			// Insights are advisory; a failed analysis never sinks the run.
			s.logger.Warn("semantic analysis failed",
				zap.String("operation", req.Operation),
				zap.Error(err),
			)
		} else {
			report.Insight = insight
		}
	}

	s.logger.Info("operation evaluated",
		zap.String("operation", req.Operation),
		zap.String("decision", decision.Decision),
		zap.Float64("brittleness", britt.Score),
		zap.Float64("qoe_risk", qoe.Risk),
		zap.String("drift", string(cls.Type)),
		zap.Int("changes", len(changes)),
		zap.Duration("took", time.Since(started)),
	)

	return report, nil
}

// brittlenessInputs assembles the four sub-scores and their contributor
// candidates from whatever the request supplied.
func (s *Service) brittlenessInputs(req Request, vector features.Vector) scoring.BrittlenessInputs {
	var contributors []scoring.Contributor

	var complexity float64
	if req.Schema != "" {
		stats, err := schemaStats(req.Schema)
		if err != nil {
			s.logger.Warn("schema stats skipped", zap.Error(err))
		} else {
			var cs []scoring.Contributor
			complexity, cs = scoring.ComplexitySignals(stats)
			contributors = append(contributors, cs...)
		}
	}

	sensitivity, cs := scoring.ChangeSignals(vector, 0, 0, 0)
	contributors = append(contributors, cs...)

	var rt scoring.RuntimeStats
	if req.Runtime != nil {
		rt = *req.Runtime
	}
	fragility, cs2 := scoring.FragilitySignals(rt)
	contributors = append(contributors, cs2...)

	maxTag := s.resolver.ResolveTag("")
	for _, tag := range req.Tags {
		if w := s.resolver.ResolveTag(tag); w > maxTag {
			maxTag = w
		}
	}
	blast, cs3 := scoring.BlastSignals(maxTag, req.Environment, req.Dependents)
	contributors = append(contributors, cs3...)

	return scoring.BrittlenessInputs{
		ContractComplexity: complexity,
		ChangeSensitivity:  sensitivity,
		RuntimeFragility:   fragility,
		BlastRadius:        blast,
		Contributors:       contributors,
	}
}

// checkConformance validates the current document against the request's
// schema, when one was supplied.
func (s *Service) checkConformance(req Request) (*conformance.Result, error) {
	if req.Schema == "" {
		return nil, nil
	}
	v, err := conformance.NewValidator(s.logger, req.Schema)
	if err != nil {
		return nil, fmt.Errorf("conformance: %w", err)
	}
	res := v.ValidateResponse(req.Current)
	return &res, nil
}

// specFingerprints canonicalizes both spec documents when present and
// reports whether they differ.
func specFingerprints(req Request) (bool, string, string, error) {
	if len(req.PrevSpec) == 0 || len(req.CurSpec) == 0 {
		return false, "", "", nil
	}
	prev, err := conformance.SpecFingerprint(req.PrevSpec)
	if err != nil {
		return false, "", "", fmt.Errorf("fingerprinting previous spec: %w", err)
	}
	cur, err := conformance.SpecFingerprint(req.CurSpec)
	if err != nil {
		return false, "", "", fmt.Errorf("fingerprinting current spec: %w", err)
	}
	return prev != cur, prev, cur, nil
}

// schemaStats parses a JSON Schema document for the complexity sub-score.
func schemaStats(schemaJSON string) (scoring.SchemaStats, error) {
	var node map[string]interface{}
	if err := json.UnmarshalFromString(schemaJSON, &node); err != nil {
		return scoring.SchemaStats{}, fmt.Errorf("parsing schema for stats: %w", err)
	}
	return scoring.AnalyzeSchema(node), nil
}
