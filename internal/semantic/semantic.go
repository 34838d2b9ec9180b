// File: internal/semantic/semantic.go

// Package semantic defines the optional deep-compare collaborator. An
// Analyzer can spot equivalences a structural diff cannot, like a renamed
// key carrying the same meaning. Results are advisory and never change a
// score or a gate decision.
package semantic

import "context"

// Insight is an analyzer's read on a baseline/current pair.
type Insight struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// Analyzer inspects a document pair when one is available. Callers must
// check Available before Analyze; an unavailable analyzer is the normal
// state, not an error.
type Analyzer interface {
	Available() bool
	Analyze(ctx context.Context, baseline, current interface{}) (*Insight, error)
}

// nop is the analyzer used when no semantic backend is wired in.
type nop struct{}

// NewNop returns the no-op analyzer.
func NewNop() Analyzer {
	return nop{}
}

func (nop) Available() bool {
	return false
}

func (nop) Analyze(context.Context, interface{}, interface{}) (*Insight, error) {
	return nil, nil
}
