// File: internal/batch/batch.go

// Package batch evaluates many operations from one manifest, fanning out
// across a bounded worker group while keeping manifest order in the output.
package batch

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/varelix/qoegate/internal/pipeline"
	"github.com/varelix/qoegate/internal/scoring"
	"github.com/varelix/qoegate/internal/source"
)

// defaultConcurrency matches the config default for batch workers.
const defaultConcurrency = 4

// Entry is one manifest row. Baseline and Current are references the source
// loader understands; Schema is a local file path.
type Entry struct {
	Operation   string                `yaml:"operation"`
	Tags        []string              `yaml:"tags"`
	Baseline    string                `yaml:"baseline"`
	Current     string                `yaml:"current"`
	Schema      string                `yaml:"schema"`
	Runtime     *scoring.RuntimeStats `yaml:"runtime"`
	Environment string                `yaml:"environment"`
	Dependents  int                   `yaml:"dependents"`
}

// Result pairs a manifest entry with its evaluation report.
type Result struct {
	Entry  Entry
	Report *pipeline.Report
}

// Summary aggregates a finished batch. WorstDecision is FAIL if any entry
// failed, WARN if any warned, PASS otherwise.
type Summary struct {
	Total         int
	Passed        int
	Warned        int
	Failed        int
	WorstDecision string
	Results       []Result
}

// LoadManifest reads a YAML manifest: a list of entries.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return entries, nil
}

// Runner drives pipeline evaluations for manifest entries.
type Runner struct {
	logger      *zap.Logger
	service     *pipeline.Service
	loader      *source.Loader
	concurrency int
}

// NewRunner builds a runner. Concurrency below one falls back to the
// default worker count.
func NewRunner(logger *zap.Logger, service *pipeline.Service, loader *source.Loader, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &Runner{
		logger:      logger.Named("batch"),
		service:     service,
		loader:      loader,
		concurrency: concurrency,
	}
}

// Run evaluates every entry, at most concurrency at a time. Results keep
// manifest order regardless of completion order. The returned error covers
// infrastructure failures only; gate decisions live in the summary.
func (r *Runner) Run(ctx context.Context, entries []Entry) (*Summary, error) {
	summary := &Summary{
		Total:         len(entries),
		WorstDecision: scoring.ActionPass,
	}
	if len(entries) == 0 {
		r.logger.Info("batch manifest is empty")
		return summary, nil
	}

	for i, entry := range entries {
		if entry.Baseline == "" || entry.Current == "" {
			return nil, fmt.Errorf("manifest entry %d (%s): baseline and current are required", i, entry.Operation)
		}
	}

	summary.Results = make([]Result, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			report, err := r.evaluate(ctx, entry)
			if err != nil {
				return fmt.Errorf("operation %q: %w", entry.Operation, err)
			}
			summary.Results[i] = Result{Entry: entry, Report: report}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range summary.Results {
		switch res.Report.Decision.Decision {
		case scoring.ActionFail:
			summary.Failed++
		case scoring.ActionWarn:
			summary.Warned++
		default:
			summary.Passed++
		}
		if decisionRank(res.Report.Decision.Decision) > decisionRank(summary.WorstDecision) {
			summary.WorstDecision = res.Report.Decision.Decision
		}
	}

	r.logger.Info("batch finished",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("warned", summary.Warned),
		zap.Int("failed", summary.Failed),
		zap.String("worst_decision", summary.WorstDecision),
	)
	return summary, nil
}

func (r *Runner) evaluate(ctx context.Context, entry Entry) (*pipeline.Report, error) {
	baseline, err := r.loader.Load(ctx, entry.Baseline)
	if err != nil {
		return nil, fmt.Errorf("loading baseline: %w", err)
	}
	current, err := r.loader.Load(ctx, entry.Current)
	if err != nil {
		return nil, fmt.Errorf("loading current: %w", err)
	}

	var schema string
	if entry.Schema != "" {
		data, err := os.ReadFile(entry.Schema)
		if err != nil {
			return nil, fmt.Errorf("reading schema: %w", err)
		}
		schema = string(data)
	}

	return r.service.Evaluate(ctx, pipeline.Request{
		Operation:   entry.Operation,
		Tags:        entry.Tags,
		Baseline:    baseline,
		Current:     current,
		Schema:      schema,
		Runtime:     entry.Runtime,
		Environment: entry.Environment,
		Dependents:  entry.Dependents,
	})
}

func decisionRank(decision string) int {
	switch decision {
	case scoring.ActionFail:
		return 2
	case scoring.ActionWarn:
		return 1
	default:
		return 0
	}
}
