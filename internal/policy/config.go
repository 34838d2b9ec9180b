// File: internal/policy/config.go

// Package policy turns scoring and drift results into a CI gate decision.
// A Config names the thresholds and override rules; the Engine applies them
// to one operation's results and explains every violation it finds.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// policyValidate is the shared validator instance for policy configs.
var policyValidate *validator.Validate

func init() {
	policyValidate = validator.New()
}

// Config is one named gating policy. Thresholds are inclusive: a score equal
// to a threshold triggers it. Warn thresholds must not exceed their fail
// counterparts.
type Config struct {
	Name        string `mapstructure:"name" yaml:"name" validate:"required"`
	Version     string `mapstructure:"version" yaml:"version" validate:"required"`
	Description string `mapstructure:"description" yaml:"description"`

	// Brittleness thresholds on the 0..100 scale.
	BrittlenessFailThreshold float64 `mapstructure:"brittleness_fail_threshold" yaml:"brittleness_fail_threshold" validate:"gte=0,lte=100"`
	BrittlenessWarnThreshold float64 `mapstructure:"brittleness_warn_threshold" yaml:"brittleness_warn_threshold" validate:"gte=0,lte=100,ltefield=BrittlenessFailThreshold"`

	// QoE risk thresholds on the 0..1 scale.
	QoEFailThreshold float64 `mapstructure:"qoe_fail_threshold" yaml:"qoe_fail_threshold" validate:"gte=0,lte=1"`
	QoEWarnThreshold float64 `mapstructure:"qoe_warn_threshold" yaml:"qoe_warn_threshold" validate:"gte=0,lte=1,ltefield=QoEFailThreshold"`

	// Override rules that force a decision regardless of the scores.
	FailOnCriticalTypeChanges  bool `mapstructure:"fail_on_critical_type_changes" yaml:"fail_on_critical_type_changes"`
	FailOnUndocumentedDrift    bool `mapstructure:"fail_on_undocumented_drift" yaml:"fail_on_undocumented_drift"`
	WarnOnSpecDrift            bool `mapstructure:"warn_on_spec_drift" yaml:"warn_on_spec_drift"`
	FailOnRemovedCriticalPaths bool `mapstructure:"fail_on_removed_critical_paths" yaml:"fail_on_removed_critical_paths"`

	// Minimum counts before the overrides trigger.
	CriticalTypeChangeThreshold int `mapstructure:"critical_type_change_threshold" yaml:"critical_type_change_threshold" validate:"gte=1"`
	RemovedCriticalThreshold    int `mapstructure:"removed_critical_threshold" yaml:"removed_critical_threshold" validate:"gte=1"`

	// AllowedDriftPaths lists path patterns whose changes are expected and
	// excluded from drift accounting. SkipOperations bypasses gating
	// entirely for the named operations.
	AllowedDriftPaths []string `mapstructure:"allowed_drift_paths" yaml:"allowed_drift_paths"`
	SkipOperations    []string `mapstructure:"skip_operations" yaml:"skip_operations"`

	// CIHardGate makes a FAIL block the build; RequireApprovalOnWarn makes
	// a WARN require manual sign-off.
	CIHardGate            bool `mapstructure:"ci_hard_gate" yaml:"ci_hard_gate"`
	RequireApprovalOnWarn bool `mapstructure:"require_approval_on_warn" yaml:"require_approval_on_warn"`

	// Baseline promotion requirements.
	MinStableRunsForPromotion     int     `mapstructure:"min_stable_runs_for_promotion" yaml:"min_stable_runs_for_promotion" validate:"gte=1"`
	MaxQoEDegradationForPromotion float64 `mapstructure:"max_qoe_degradation_for_promotion" yaml:"max_qoe_degradation_for_promotion" validate:"gte=0,lte=1"`
}

// DefaultConfig is the balanced gate most deployments start from.
func DefaultConfig() Config {
	return Config{
		Name:    "default",
		Version: "1.0.0",

		BrittlenessFailThreshold: 75.0,
		BrittlenessWarnThreshold: 50.0,
		QoEFailThreshold:         0.72,
		QoEWarnThreshold:         0.45,

		FailOnCriticalTypeChanges:  true,
		FailOnUndocumentedDrift:    true,
		WarnOnSpecDrift:            true,
		FailOnRemovedCriticalPaths: true,

		CriticalTypeChangeThreshold: 1,
		RemovedCriticalThreshold:    1,

		CIHardGate:            true,
		RequireApprovalOnWarn: false,

		MinStableRunsForPromotion:     3,
		MaxQoEDegradationForPromotion: 0.05,
	}
}

// StrictConfig tightens every threshold for production deployments.
func StrictConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "strict"
	cfg.Description = "Strict policy for production deployments"
	cfg.BrittlenessFailThreshold = 60.0
	cfg.BrittlenessWarnThreshold = 40.0
	cfg.QoEFailThreshold = 0.60
	cfg.QoEWarnThreshold = 0.35
	cfg.RequireApprovalOnWarn = true
	cfg.MinStableRunsForPromotion = 5
	cfg.MaxQoEDegradationForPromotion = 0.02
	return cfg
}

// PermissiveConfig loosens the gate for development environments. The
// removed-critical-paths override stays on even here; silently dropping a
// critical field is never routine.
func PermissiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "permissive"
	cfg.Description = "Permissive policy for development environments"
	cfg.BrittlenessFailThreshold = 90.0
	cfg.BrittlenessWarnThreshold = 70.0
	cfg.QoEFailThreshold = 0.85
	cfg.QoEWarnThreshold = 0.60
	cfg.FailOnCriticalTypeChanges = false
	cfg.FailOnUndocumentedDrift = false
	cfg.WarnOnSpecDrift = false
	cfg.CIHardGate = false
	cfg.MinStableRunsForPromotion = 1
	cfg.MaxQoEDegradationForPromotion = 0.20
	return cfg
}

// ConfigByName resolves a built-in preset. Matching is case-insensitive and
// an empty name means the default policy.
func ConfigByName(name string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultConfig(), nil
	case "strict":
		return StrictConfig(), nil
	case "permissive":
		return PermissiveConfig(), nil
	}
	return Config{}, fmt.Errorf("unknown policy preset %q", name)
}

// LoadConfig reads a YAML policy document. Fields absent from the document
// keep their default values, so a policy file only states what it changes.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading policy file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks threshold ranges and ordering.
func (c Config) Validate() error {
	if err := policyValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("policy field %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("policy validation: %w", err)
	}
	return nil
}
