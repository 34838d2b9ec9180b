// File: internal/batch/batch_test.go
package batch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/varelix/qoegate/internal/batch"
	"github.com/varelix/qoegate/internal/config"
	"github.com/varelix/qoegate/internal/observability"
	"github.com/varelix/qoegate/internal/pipeline"
	"github.com/varelix/qoegate/internal/scoring"
	"github.com/varelix/qoegate/internal/source"
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

func newRunner(t *testing.T, concurrency int) *batch.Runner {
	t.Helper()
	logger := observability.GetLogger()
	service, err := pipeline.NewService(logger, pipeline.Options{})
	require.NoError(t, err)
	loader := source.NewLoader(logger, source.Options{})
	return batch.NewRunner(logger, service, loader, concurrency)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fixtures returns refs for three change sets: one that passes, one that
// warns on QoE risk, and one that fails on the type-change override.
func fixtures(t *testing.T) (passBase, passCur, warnBase, warnCur, failBase, failCur string) {
	t.Helper()
	dir := t.TempDir()

	stable := `{"playback": {"manifestUrl": "https://cdn.example.com/master.m3u8", "maxBitrateKbps": 8000}}`
	passBase = writeFile(t, dir, "pass_base.json", stable)
	passCur = writeFile(t, dir, "pass_cur.json", stable)

	warnBase = writeFile(t, dir, "warn_base.json", `{
		"playback": {
			"manifestUrl": "https://cdn.example.com/master.m3u8",
			"maxBitrateKbps": 8000,
			"quality": "hd",
			"resolution": "1080p"
		},
		"drm": {"licenseUrl": "https://license.example.com/v1"}
	}`)
	warnCur = writeFile(t, dir, "warn_cur.json", `{
		"playback": {
			"manifestUrl": "https://edge.newcdn.net/master.m3u8",
			"maxBitrateKbps": 5000,
			"quality": "uhd",
			"resolution": "2160p"
		},
		"drm": {"licenseUrl": "https://license.newcdn.net/v2"}
	}`)

	failBase = writeFile(t, dir, "fail_base.json", `{
		"playback": {"manifestUrl": "https://cdn.example.com/master.m3u8", "maxBitrateKbps": 8000},
		"ads": {"adDecision": "preroll"}
	}`)
	failCur = writeFile(t, dir, "fail_cur.json", `{
		"playback": {"manifestUrl": "https://edge.newhost.net/master.m3u8", "maxBitrateKbps": "6000"},
		"ads": {}
	}`)
	return
}

func TestLoadManifest(t *testing.T) {
	t.Run("parses entries", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "manifest.yaml", `
- operation: getPlaybackManifest
  tags: [playback, drm]
  baseline: baseline.json
  current: current.json
  schema: schema.json
  runtime:
    latency_ms: 240
    error_rate: 0.02
  environment: prod
  dependents: 3
- operation: searchCatalog
  baseline: b.json
  current: c.json
`)

		entries, err := batch.LoadManifest(path)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		first := entries[0]
		assert.Equal(t, "getPlaybackManifest", first.Operation)
		assert.Equal(t, []string{"playback", "drm"}, first.Tags)
		assert.Equal(t, "baseline.json", first.Baseline)
		assert.Equal(t, "current.json", first.Current)
		assert.Equal(t, "schema.json", first.Schema)
		require.NotNil(t, first.Runtime)
		assert.Equal(t, 240.0, first.Runtime.LatencyMs)
		assert.Equal(t, 0.02, first.Runtime.ErrorRate)
		assert.Equal(t, "prod", first.Environment)
		assert.Equal(t, 3, first.Dependents)

		second := entries[1]
		assert.Equal(t, "searchCatalog", second.Operation)
		assert.Empty(t, second.Schema)
		assert.Nil(t, second.Runtime)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := batch.LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
		require.ErrorContains(t, err, "reading manifest")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "manifest.yaml", "operation: [unclosed\n")
		_, err := batch.LoadManifest(path)
		require.ErrorContains(t, err, "parsing manifest")
	})
}

func TestRunner_Run_EmptyManifest(t *testing.T) {
	runner := newRunner(t, 0)

	summary, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Passed)
	assert.Zero(t, summary.Warned)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, scoring.ActionPass, summary.WorstDecision)
	assert.Empty(t, summary.Results)
}

func TestRunner_Run_MixedDecisions(t *testing.T) {
	defer goleak.VerifyNone(t)

	passBase, passCur, warnBase, warnCur, failBase, failCur := fixtures(t)
	entries := []batch.Entry{
		{Operation: "getEntitlements", Baseline: passBase, Current: passCur},
		{Operation: "getPlaybackManifest", Baseline: failBase, Current: failCur},
		{Operation: "startPlayback", Baseline: warnBase, Current: warnCur},
		{Operation: "getCatalogPage", Baseline: passBase, Current: passCur},
	}

	runner := newRunner(t, 2)
	summary, err := runner.Run(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.Warned)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, scoring.ActionFail, summary.WorstDecision)

	require.Len(t, summary.Results, 4)
	for i, entry := range entries {
		assert.Equal(t, entry.Operation, summary.Results[i].Entry.Operation)
		require.NotNil(t, summary.Results[i].Report)
		assert.Equal(t, entry.Operation, summary.Results[i].Report.Operation)
	}

	assert.Equal(t, scoring.ActionPass, summary.Results[0].Report.Decision.Decision)
	assert.Equal(t, scoring.ActionFail, summary.Results[1].Report.Decision.Decision)
	assert.Equal(t, scoring.ActionWarn, summary.Results[2].Report.Decision.Decision)

	warned := summary.Results[2].Report
	assert.InDelta(t, 0.6682, warned.QoE.Risk, 0.0002)
	assert.False(t, warned.Decision.CIGateBlock)
}

func TestRunner_Run_WorstDecisionWarn(t *testing.T) {
	passBase, passCur, warnBase, warnCur, _, _ := fixtures(t)
	entries := []batch.Entry{
		{Operation: "getCatalogPage", Baseline: passBase, Current: passCur},
		{Operation: "startPlayback", Baseline: warnBase, Current: warnCur},
	}

	runner := newRunner(t, 4)
	summary, err := runner.Run(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, scoring.ActionWarn, summary.WorstDecision)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Warned)
	assert.Zero(t, summary.Failed)
}

func TestRunner_Run_SchemaAndRuntimeFromEntry(t *testing.T) {
	passBase, passCur, _, _, _, _ := fixtures(t)
	schema := writeFile(t, t.TempDir(), "schema.json", `{"type": "object", "required": ["playback"]}`)

	entries := []batch.Entry{{
		Operation: "getPlaybackManifest",
		Baseline:  passBase,
		Current:   passCur,
		Schema:    schema,
		Runtime:   &scoring.RuntimeStats{LatencyMs: 100},
	}}

	runner := newRunner(t, 1)
	summary, err := runner.Run(context.Background(), entries)
	require.NoError(t, err)

	report := summary.Results[0].Report
	require.NotNil(t, report.Conformance)
	assert.True(t, report.Conformance.Valid)
	assert.InDelta(t, 0.1224, report.QoE.Risk, 0.0002)
	assert.Equal(t, scoring.ActionPass, summary.WorstDecision)
}

func TestRunner_Run_MissingRefIsInfrastructureError(t *testing.T) {
	passBase, passCur, _, _, _, _ := fixtures(t)
	entries := []batch.Entry{
		{Operation: "getCatalogPage", Baseline: passBase, Current: passCur},
		{Operation: "getEntitlements", Baseline: filepath.Join(t.TempDir(), "absent.json"), Current: passCur},
	}

	runner := newRunner(t, 2)
	summary, err := runner.Run(context.Background(), entries)
	require.ErrorContains(t, err, `operation "getEntitlements": loading baseline`)
	assert.Nil(t, summary)
}

func TestRunner_Run_RequiresBaselineAndCurrent(t *testing.T) {
	runner := newRunner(t, 1)

	_, err := runner.Run(context.Background(), []batch.Entry{
		{Operation: "getCatalogPage", Baseline: "only-baseline.json"},
	})
	require.ErrorContains(t, err, "baseline and current are required")
}

func TestRunner_Run_ContextCanceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	passBase, passCur, _, _, _, _ := fixtures(t)
	entries := []batch.Entry{
		{Operation: "getCatalogPage", Baseline: passBase, Current: passCur},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := newRunner(t, 2)
	_, err := runner.Run(ctx, entries)
	require.ErrorIs(t, err, context.Canceled)
}
