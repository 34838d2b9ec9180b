// File: internal/reporting/reporting.go

// Package reporting renders evaluation reports for humans, for machines,
// and for GitHub Actions job annotations.
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/pipeline"
	"github.com/varelix/qoegate/internal/policy"
	"github.com/varelix/qoegate/internal/scoring"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supported output formats.
const (
	FormatSummary = "summary"
	FormatJSON    = "json"
	FormatGitHub  = "github"
)

// maxSummaryRecommendations caps the recommendation list in the human
// summary so a noisy report stays readable.
const maxSummaryRecommendations = 5

// Reporter writes evaluation reports to a destination. Write may be called
// once per report; Close flushes and releases the destination.
type Reporter interface {
	Write(report *pipeline.Report) error
	Close() error
}

// New builds a reporter for the named format. An empty format means
// summary; an empty outputPath writes to stdout.
func New(format, outputPath string, logger *zap.Logger) (Reporter, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatSummary
	}
	switch format {
	case FormatSummary, FormatJSON, FormatGitHub:
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}

	out, err := openOutput(outputPath)
	if err != nil {
		return nil, err
	}

	log := logger.Named("reporting")
	switch format {
	case FormatJSON:
		return &jsonReporter{out: out, logger: log}, nil
	case FormatGitHub:
		return &githubReporter{out: out, logger: log}, nil
	default:
		return &summaryReporter{out: out, logger: log}, nil
	}
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "stdout" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating report file %s: %w", path, err)
	}
	return f, nil
}

// nopWriteCloser keeps Close from ever touching stdout.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func decisionIcon(decision string) string {
	switch decision {
	case scoring.ActionPass:
		return "✅"
	case scoring.ActionWarn:
		return "⚠️"
	case scoring.ActionFail:
		return "❌"
	default:
		return "•"
	}
}

func severityIcon(severity policy.Severity) string {
	switch severity {
	case policy.SeverityCritical:
		return "🚨"
	case policy.SeverityError:
		return "❌"
	case policy.SeverityWarning:
		return "⚠️"
	default:
		return "•"
	}
}

// summaryReporter prints the human-readable block.
type summaryReporter struct {
	out    io.WriteCloser
	logger *zap.Logger
}

func (r *summaryReporter) Write(report *pipeline.Report) error {
	var b strings.Builder

	header := fmt.Sprintf("%s qoegate: %s", decisionIcon(report.Decision.Decision), report.Decision.Decision)
	if report.Operation != "" {
		header += fmt.Sprintf(" (%s)", report.Operation)
	}
	fmt.Fprintln(&b, header)

	fmt.Fprintf(&b, "ci_gate_block: %t\n", report.Decision.CIGateBlock)
	fmt.Fprintf(&b, "brittleness:   %.1f\n", report.Brittleness.Score)
	fmt.Fprintf(&b, "qoe_risk:      %.4f\n", report.QoE.Risk)
	fmt.Fprintf(&b, "drift:         %s (%s)\n", report.Drift.Type, report.Drift.Severity)
	if report.Conformance != nil {
		if report.Conformance.Valid {
			fmt.Fprintln(&b, "conformance:   valid")
		} else {
			fmt.Fprintf(&b, "conformance:   %d mismatches\n", len(report.Conformance.Mismatches))
		}
	}
	if report.Insight != nil {
		fmt.Fprintf(&b, "insight:       %s (confidence %.2f)\n", report.Insight.Summary, report.Insight.Confidence)
	}

	if len(report.Decision.Violations) > 0 {
		fmt.Fprintln(&b, "\nviolations:")
		for _, v := range report.Decision.Violations {
			fmt.Fprintf(&b, "  %s [%s] %s\n", severityIcon(v.Severity), v.Rule, v.Message)
		}
	}

	if len(report.Decision.Recommendations) > 0 {
		fmt.Fprintln(&b, "\nrecommendations:")
		recs := report.Decision.Recommendations
		if len(recs) > maxSummaryRecommendations {
			recs = recs[:maxSummaryRecommendations]
		}
		for _, rec := range recs {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}
	fmt.Fprintln(&b)

	if _, err := io.WriteString(r.out, b.String()); err != nil {
		return fmt.Errorf("writing summary report: %w", err)
	}
	r.logger.Debug("report written",
		zap.String("format", FormatSummary),
		zap.String("operation", report.Operation),
		zap.String("decision", report.Decision.Decision),
	)
	return nil
}

func (r *summaryReporter) Close() error { return r.out.Close() }

// jsonReporter emits the full report, one indented document per Write.
type jsonReporter struct {
	out    io.WriteCloser
	logger *zap.Logger
}

func (r *jsonReporter) Write(report *pipeline.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.out.Write(data); err != nil {
		return fmt.Errorf("writing json report: %w", err)
	}
	r.logger.Debug("report written",
		zap.String("format", FormatJSON),
		zap.String("operation", report.Operation),
	)
	return nil
}

func (r *jsonReporter) Close() error { return r.out.Close() }

// githubReporter emits one workflow-command annotation per violation so
// results surface directly on the pull request.
type githubReporter struct {
	out    io.WriteCloser
	logger *zap.Logger
}

func (r *githubReporter) Write(report *pipeline.Report) error {
	var b strings.Builder

	for _, v := range report.Decision.Violations {
		level := "warning"
		if v.Severity == policy.SeverityError || v.Severity == policy.SeverityCritical {
			level = "error"
		}
		fmt.Fprintf(&b, "::%s ::[%s] %s\n", level, v.Rule, v.Message)
	}
	if len(report.Decision.Violations) == 0 {
		op := report.Operation
		if op == "" {
			op = "operation"
		}
		fmt.Fprintf(&b, "::notice ::QoE gate PASS for %s\n", op)
	}

	if _, err := io.WriteString(r.out, b.String()); err != nil {
		return fmt.Errorf("writing github report: %w", err)
	}
	r.logger.Debug("report written",
		zap.String("format", FormatGitHub),
		zap.String("operation", report.Operation),
		zap.Int("annotations", len(report.Decision.Violations)),
	)
	return nil
}

func (r *githubReporter) Close() error { return r.out.Close() }
