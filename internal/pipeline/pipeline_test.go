// File: internal/pipeline/pipeline_test.go
package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varelix/qoegate/internal/config"
	"github.com/varelix/qoegate/internal/drift"
	"github.com/varelix/qoegate/internal/observability"
	"github.com/varelix/qoegate/internal/pipeline"
	"github.com/varelix/qoegate/internal/policy"
	"github.com/varelix/qoegate/internal/scoring"
	"github.com/varelix/qoegate/internal/semantic"
	"github.com/varelix/qoegate/internal/treediff"
)

// TestMain sets up the global logger for all tests in this package.
func TestMain(m *testing.M) {
	observability.ResetForTest()

	cfg := config.NewDefaultConfig().Logger
	cfg.Level = "debug"
	cfg.LogFile = ""
	cfg.Format = "console"
	observability.InitializeLogger(cfg)

	code := m.Run()

	observability.Sync()
	os.Exit(code)
}

func parseDoc(t *testing.T, doc string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return v
}

func newService(t *testing.T, opts pipeline.Options) *pipeline.Service {
	t.Helper()
	svc, err := pipeline.NewService(observability.GetLogger(), opts)
	require.NoError(t, err)
	return svc
}

type stubAnalyzer struct {
	insight *semantic.Insight
	err     error
}

func (s stubAnalyzer) Available() bool { return true }

func (s stubAnalyzer) Analyze(context.Context, interface{}, interface{}) (*semantic.Insight, error) {
	return s.insight, s.err
}

func TestNewService(t *testing.T) {
	t.Run("zero options build the default chain", func(t *testing.T) {
		svc, err := pipeline.NewService(observability.GetLogger(), pipeline.Options{})
		require.NoError(t, err)
		require.NotNil(t, svc)
	})

	t.Run("invalid policy is rejected", func(t *testing.T) {
		cfg := policy.DefaultConfig()
		cfg.QoEWarnThreshold = 0.9
		_, err := pipeline.NewService(observability.GetLogger(), pipeline.Options{Policy: &cfg})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "policy")
	})

	t.Run("invalid brittleness weights are rejected", func(t *testing.T) {
		_, err := pipeline.NewService(observability.GetLogger(), pipeline.Options{
			Brittleness: scoring.BrittlenessWeights{ContractComplexity: -1},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "brittleness")
	})
}

func TestService_Evaluate_BitrateBumpPasses(t *testing.T) {
	baseline := parseDoc(t, `{
		"playback": {"manifestUrl": "https://cdn.example.com/m.m3u8", "maxBitrateKbps": 8000}
	}`)
	current := parseDoc(t, `{
		"playback": {"manifestUrl": "https://cdn.example.com/m.m3u8", "maxBitrateKbps": 8200},
		"metadata": {"year": 2024}
	}`)

	rep, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Operation: "getPlaybackManifest",
		Baseline:  baseline,
		Current:   current,
	})
	require.NoError(t, err)

	_, parseErr := uuid.Parse(rep.ID)
	assert.NoError(t, parseErr)
	assert.Equal(t, "getPlaybackManifest", rep.Operation)
	assert.WithinDuration(t, time.Now().UTC(), rep.GeneratedAt, time.Minute)

	wantChanges := []treediff.Change{
		{
			Path:      "$.metadata",
			Type:      treediff.ChangeAdded,
			After:     map[string]interface{}{"year": float64(2024)},
			AfterKind: treediff.KindObject,
		},
		{
			Path:       "$.playback.maxBitrateKbps",
			Type:       treediff.ChangeValueChanged,
			Before:     float64(8000),
			After:      float64(8200),
			BeforeKind: treediff.KindNumber,
			AfterKind:  treediff.KindNumber,
		},
	}
	if diff := cmp.Diff(wantChanges, rep.Changes); diff != "" {
		t.Errorf("changes mismatch. Diff:\n%s", diff)
	}

	assert.Equal(t, 1, rep.Vector.AddedFields)
	assert.Equal(t, 1, rep.Vector.ValueChanges)
	assert.Equal(t, 1, rep.Vector.CriticalChanges, "maxBitrateKbps resolves to 0.95")
	assert.Zero(t, rep.Vector.HighCriticalityChanges)
	assert.Equal(t, 1, rep.Vector.LowCriticalityChanges, "metadata sits at the 0.35 default")
	assert.Equal(t, 200.0, rep.Vector.NumericDeltaMax)

	assert.InDelta(t, 0.3622, rep.QoE.Risk, 0.0002)
	assert.Equal(t, scoring.ActionPass, rep.QoE.Action)
	assert.Empty(t, rep.QoE.TopSignals)

	// No schema, no runtime, no tags: only the blast sub-score is nonzero.
	assert.InDelta(t, 6.5, rep.Brittleness.Score, 0.0001)

	assert.Nil(t, rep.Conformance)
	assert.Equal(t, drift.TypeNone, rep.Drift.Type)
	assert.Nil(t, rep.Insight)

	assert.Equal(t, scoring.ActionPass, rep.Decision.Decision)
	assert.False(t, rep.Decision.CIGateBlock)
	assert.Empty(t, rep.Decision.Violations)
	assert.InDelta(t, 0.3622, rep.Decision.Scores["qoe_risk"], 0.0002)
}

func TestService_Evaluate_CriticalBreakageFails(t *testing.T) {
	baseline := parseDoc(t, `{
		"playback": {"manifestUrl": "https://cdn.example.com/m.m3u8", "maxBitrateKbps": 8000},
		"ads": {"adDecision": "preroll"}
	}`)
	current := parseDoc(t, `{
		"playback": {"manifestUrl": "https://cdn.newhost.com/m.m3u8", "maxBitrateKbps": "6000"},
		"ads": {}
	}`)

	rep, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Operation: "getPlaybackManifest",
		Baseline:  baseline,
		Current:   current,
	})
	require.NoError(t, err)

	wantChanges := []treediff.Change{
		{
			Path:       "$.ads.adDecision",
			Type:       treediff.ChangeRemoved,
			Before:     "preroll",
			BeforeKind: treediff.KindString,
		},
		{
			Path:       "$.playback.manifestUrl",
			Type:       treediff.ChangeValueChanged,
			Before:     "https://cdn.example.com/m.m3u8",
			After:      "https://cdn.newhost.com/m.m3u8",
			BeforeKind: treediff.KindString,
			AfterKind:  treediff.KindString,
		},
		{
			Path:       "$.playback.maxBitrateKbps",
			Type:       treediff.ChangeTypeChanged,
			Before:     float64(8000),
			After:      "6000",
			BeforeKind: treediff.KindNumber,
			AfterKind:  treediff.KindString,
		},
	}
	if diff := cmp.Diff(wantChanges, rep.Changes); diff != "" {
		t.Errorf("changes mismatch. Diff:\n%s", diff)
	}

	assert.InDelta(t, 0.4755, rep.QoE.Risk, 0.001)
	assert.Equal(t, scoring.ActionWarn, rep.QoE.Action)
	assert.Equal(t, 1, rep.QoE.CriticalTypeChanges)
	assert.Equal(t, 1, rep.QoE.RemovedCritical)

	assert.InDelta(t, 20.0, rep.Brittleness.Score, 0.0001)

	// The scorer only warns; the override rules turn it into a failure.
	assert.Equal(t, scoring.ActionFail, rep.Decision.Decision)
	assert.True(t, rep.Decision.CIGateBlock)
	require.Len(t, rep.Decision.Violations, 3)

	rules := make([]string, 0, 3)
	for _, v := range rep.Decision.Violations {
		rules = append(rules, v.Rule)
	}
	assert.ElementsMatch(t, rules, []string{
		"qoe_risk_threshold", "critical_type_changes", "removed_critical_paths",
	})
}

func TestService_Evaluate_UndocumentedDrift(t *testing.T) {
	doc := parseDoc(t, `{"drm": {"licenseUrl": 12345}}`)
	schema := `{
		"type": "object",
		"properties": {
			"drm": {
				"type": "object",
				"required": ["licenseUrl"],
				"properties": {"licenseUrl": {"type": "string"}}
			}
		}
	}`

	rep, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Operation: "getLicense",
		Baseline:  doc,
		Current:   doc,
		Schema:    schema,
	})
	require.NoError(t, err)

	assert.Empty(t, rep.Changes)

	require.NotNil(t, rep.Conformance)
	assert.False(t, rep.Conformance.Valid)
	require.Len(t, rep.Conformance.Mismatches, 1)
	assert.Equal(t, "$.drm.licenseUrl", rep.Conformance.Mismatches[0].Path)

	assert.Equal(t, drift.TypeUndocumented, rep.Drift.Type)
	assert.Equal(t, drift.SeverityCritical, rep.Drift.Severity)
	assert.Equal(t, 1, rep.Drift.CriticalMismatches)

	assert.Equal(t, scoring.ActionFail, rep.Decision.Decision)
	found := false
	for _, v := range rep.Decision.Violations {
		if v.Rule == "undocumented_drift" {
			found = true
		}
	}
	assert.True(t, found, "expected an undocumented_drift violation, got %+v", rep.Decision.Violations)
}

func TestService_Evaluate_SpecDrift(t *testing.T) {
	doc := parseDoc(t, `{"status": "ok"}`)

	rep, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Operation: "getStatus",
		Baseline:  doc,
		Current:   doc,
		PrevSpec:  []byte(`{"openapi": "3.0.0", "info": {"version": "1.0.0"}}`),
		CurSpec:   []byte(`{"openapi": "3.0.0", "info": {"version": "1.1.0"}}`),
	})
	require.NoError(t, err)

	assert.True(t, rep.Drift.SpecChanged)
	assert.Equal(t, drift.TypeSpecDrift, rep.Drift.Type)
	require.NotEmpty(t, rep.Drift.Evidence)
	assert.Equal(t, "spec_hash", rep.Drift.Evidence[0].Kind)

	assert.Equal(t, scoring.ActionWarn, rep.Decision.Decision)
	assert.False(t, rep.Decision.CIGateBlock)
}

func TestService_Evaluate_IdenticalSpecsNoDrift(t *testing.T) {
	doc := parseDoc(t, `{"status": "ok"}`)

	// Key order and whitespace differ but the canonical form is the same.
	rep, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Baseline: doc,
		Current:  doc,
		PrevSpec: []byte(`{"a": 1, "b": 2}`),
		CurSpec:  []byte(`{"b":2,"a":1}`),
	})
	require.NoError(t, err)

	assert.False(t, rep.Drift.SpecChanged)
	assert.Equal(t, drift.TypeNone, rep.Drift.Type)
	assert.Equal(t, scoring.ActionPass, rep.Decision.Decision)
}

func TestService_Evaluate_BlastRadiusInputs(t *testing.T) {
	doc := parseDoc(t, `{"status": "ok"}`)

	rep, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Operation:   "getPlaybackManifest",
		Baseline:    doc,
		Current:     doc,
		Tags:        []string{"playback"},
		Environment: "prod",
		Dependents:  4,
	})
	require.NoError(t, err)

	// Tag 1.0, production environment, and four dependents saturate the
	// blast sub-score: 0.20 of the blend.
	assert.InDelta(t, 20.0, rep.Brittleness.Score, 0.0001)
	require.NotEmpty(t, rep.Brittleness.Contributors)
	assert.Equal(t, "critical_surface", rep.Brittleness.Contributors[0].Name)
}

func TestService_Evaluate_RuntimeStatsRaiseRisk(t *testing.T) {
	baseline := parseDoc(t, `{"playback": {"maxBitrateKbps": 8000}}`)
	current := parseDoc(t, `{"playback": {"maxBitrateKbps": 4000}}`)
	svc := newService(t, pipeline.Options{})

	quiet, err := svc.Evaluate(context.Background(), pipeline.Request{
		Baseline: baseline,
		Current:  current,
	})
	require.NoError(t, err)

	hot, err := svc.Evaluate(context.Background(), pipeline.Request{
		Baseline: baseline,
		Current:  current,
		Runtime:  &scoring.RuntimeStats{LatencyMs: 600, ErrorRate: 0.12},
	})
	require.NoError(t, err)

	assert.Greater(t, hot.QoE.Risk, quiet.QoE.Risk)

	types := make(map[string]bool)
	for _, sig := range hot.QoE.TopSignals {
		types[sig.Type] = true
	}
	assert.True(t, types["latency"], "expected a latency signal, got %+v", hot.QoE.TopSignals)
	assert.True(t, types["error_rate"], "expected an error_rate signal, got %+v", hot.QoE.TopSignals)
}

func TestService_Evaluate_SchemaStatsFeedComplexity(t *testing.T) {
	doc := parseDoc(t, `{"status": "ok"}`)
	schema := `{
		"type": "object",
		"additionalProperties": true,
		"properties": {"status": {"type": "string"}}
	}`

	rep, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Baseline: doc,
		Current:  doc,
		Schema:   schema,
	})
	require.NoError(t, err)

	assert.Greater(t, rep.Brittleness.SubScores.ContractComplexity, 0.0)
	require.NotNil(t, rep.Conformance)
	assert.True(t, rep.Conformance.Valid)
}

func TestService_Evaluate_InvalidSchema(t *testing.T) {
	doc := parseDoc(t, `{"status": "ok"}`)

	_, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Baseline: doc,
		Current:  doc,
		Schema:   `{"type": 123}`,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conformance")
}

func TestService_Evaluate_InvalidSpecBytes(t *testing.T) {
	doc := parseDoc(t, `{"status": "ok"}`)

	_, err := newService(t, pipeline.Options{}).Evaluate(context.Background(), pipeline.Request{
		Baseline: doc,
		Current:  doc,
		PrevSpec: []byte(`not json`),
		CurSpec:  []byte(`{}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fingerprinting previous spec")
}

func TestService_Evaluate_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newService(t, pipeline.Options{}).Evaluate(ctx, pipeline.Request{
		Baseline: map[string]interface{}{"a": 1.0},
		Current:  map[string]interface{}{"a": 2.0},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rep)
}

func TestService_Evaluate_Analyzer(t *testing.T) {
	doc := parseDoc(t, `{"status": "ok"}`)

	t.Run("available analyzer attaches its insight", func(t *testing.T) {
		insight := &semantic.Insight{Summary: "values are equivalent", Confidence: 0.9}
		svc := newService(t, pipeline.Options{Analyzer: stubAnalyzer{insight: insight}})

		rep, err := svc.Evaluate(context.Background(), pipeline.Request{Baseline: doc, Current: doc})
		require.NoError(t, err)
		assert.Equal(t, insight, rep.Insight)
	})

	t.Run("analyzer failure is advisory only", func(t *testing.T) {
		svc := newService(t, pipeline.Options{Analyzer: stubAnalyzer{err: errors.New("backend down")}})

		rep, err := svc.Evaluate(context.Background(), pipeline.Request{Baseline: doc, Current: doc})
		require.NoError(t, err)
		assert.Nil(t, rep.Insight)
		assert.Equal(t, scoring.ActionPass, rep.Decision.Decision)
	})
}

func TestService_Evaluate_SkipListShortCircuits(t *testing.T) {
	cfg := policy.DefaultConfig()
	cfg.SkipOperations = []string{"healthCheck"}
	svc := newService(t, pipeline.Options{Policy: &cfg})

	rep, err := svc.Evaluate(context.Background(), pipeline.Request{
		Operation: "healthCheck",
		Baseline:  parseDoc(t, `{"playback": {"manifestUrl": "a"}}`),
		Current:   parseDoc(t, `{}`),
	})
	require.NoError(t, err)

	// Scores still compute; only the gate decision is bypassed.
	assert.NotEmpty(t, rep.Changes)
	assert.Equal(t, scoring.ActionPass, rep.Decision.Decision)
	assert.Equal(t, []string{"Operation is in skip list"}, rep.Decision.Recommendations)
}
