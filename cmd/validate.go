// File: cmd/validate.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/config"
	"github.com/varelix/qoegate/internal/criticality"
	"github.com/varelix/qoegate/internal/observability"
	"github.com/varelix/qoegate/internal/pipeline"
	"github.com/varelix/qoegate/internal/policy"
	"github.com/varelix/qoegate/internal/reporting"
	"github.com/varelix/qoegate/internal/scoring"
	"github.com/varelix/qoegate/internal/source"
)

// newValidateCmd creates the `validate` command: one operation, two
// documents, one gate decision.
func newValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Scores drift between a baseline and a current response and gates it against policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := configFromContext(ctx)

			flags := cmd.Flags()
			baselineRef, _ := flags.GetString("baseline")
			currentRef, _ := flags.GetString("current")
			operation, _ := flags.GetString("operation")
			tags, _ := flags.GetStringSlice("tags")
			schemaPath, _ := flags.GetString("schema")
			prevSpecPath, _ := flags.GetString("prev-spec")
			curSpecPath, _ := flags.GetString("cur-spec")
			environment, _ := flags.GetString("environment")
			dependents, _ := flags.GetInt("dependents")
			format, _ := flags.GetString("format")
			output, _ := flags.GetString("output")
			headerPairs, _ := flags.GetStringArray("header")
			failOnWarn, _ := flags.GetBool("fail-on-warn")

			headers, err := source.ParseHeaders(headerPairs)
			if err != nil {
				return err
			}

			policyCfg, profile, err := gateOptions(cmd, cfg)
			if err != nil {
				return err
			}

			loader := source.NewLoader(logger, source.Options{
				Timeout:   cfg.HTTP.Timeout,
				RateLimit: cfg.HTTP.RateLimit,
				Burst:     cfg.HTTP.Burst,
				Headers:   headers,
			})

			baseline, err := loader.Load(ctx, baselineRef)
			if err != nil {
				return fmt.Errorf("loading baseline: %w", err)
			}
			current, err := loader.Load(ctx, currentRef)
			if err != nil {
				return fmt.Errorf("loading current: %w", err)
			}

			req := pipeline.Request{
				Operation:   operation,
				Tags:        tags,
				Baseline:    baseline,
				Current:     current,
				Environment: environment,
				Dependents:  dependents,
			}
			if schemaPath != "" {
				data, err := os.ReadFile(schemaPath)
				if err != nil {
					return fmt.Errorf("reading schema: %w", err)
				}
				req.Schema = string(data)
			}
			if prevSpecPath != "" {
				if req.PrevSpec, err = os.ReadFile(prevSpecPath); err != nil {
					return fmt.Errorf("reading previous spec: %w", err)
				}
			}
			if curSpecPath != "" {
				if req.CurSpec, err = os.ReadFile(curSpecPath); err != nil {
					return fmt.Errorf("reading current spec: %w", err)
				}
			}

			service, err := pipeline.NewService(logger, pipeline.Options{Profile: profile, Policy: &policyCfg})
			if err != nil {
				return err
			}
			report, err := service.Evaluate(ctx, req)
			if err != nil {
				return err
			}

			if err := writeReports(format, output, logger, report); err != nil {
				return err
			}
			return gateResult(report.Decision.Decision, failOnWarn)
		},
	}

	flags := validateCmd.Flags()
	flags.String("baseline", "", "Baseline document: file path or http(s) URL. (Required)")
	flags.String("current", "", "Current document: file path or http(s) URL. (Required)")
	flags.String("operation", "", "Operation name, matched against the policy skip list.")
	flags.StringSlice("tags", nil, "Operation tags for criticality resolution (e.g. playback,drm).")
	flags.String("schema", "", "JSON Schema file the current document must conform to.")
	flags.String("prev-spec", "", "Previous API spec document for fingerprint drift.")
	flags.String("cur-spec", "", "Current API spec document for fingerprint drift.")
	flags.String("environment", "", "Deployment environment for blast-radius weighting (e.g. prod).")
	flags.Int("dependents", 0, "Number of downstream consumers of this operation.")
	flags.String("policy", "", "Policy preset (default, strict, permissive) or YAML policy file.")
	flags.String("profile", "", "Criticality profile YAML file; empty uses the streaming profile.")
	flags.StringP("format", "f", reporting.FormatSummary, "Report format: summary, json, or github.")
	flags.StringP("output", "o", "", "Report destination path; empty writes to stdout.")
	flags.StringArray("header", nil, `HTTP header for document fetches, as "Key: Value". Repeatable.`)
	flags.Bool("fail-on-warn", false, "Exit with the FAIL code when the decision is WARN.")
	_ = validateCmd.MarkFlagRequired("baseline")
	_ = validateCmd.MarkFlagRequired("current")

	return validateCmd
}

// gateOptions resolves the policy and criticality profile from flags and
// config, flags winning.
func gateOptions(cmd *cobra.Command, cfg *config.Config) (policy.Config, *criticality.Profile, error) {
	policySpec, _ := cmd.Flags().GetString("policy")
	if policySpec == "" {
		if cfg.Policy.File != "" {
			policySpec = cfg.Policy.File
		} else {
			policySpec = cfg.Policy.Name
		}
	}
	policyCfg, err := resolvePolicy(policySpec)
	if err != nil {
		return policy.Config{}, nil, err
	}

	profilePath, _ := cmd.Flags().GetString("profile")
	if profilePath == "" {
		profilePath = cfg.Policy.Profile
	}
	var profile *criticality.Profile
	if profilePath != "" {
		if profile, err = criticality.LoadProfile(profilePath); err != nil {
			return policy.Config{}, nil, err
		}
	}
	return policyCfg, profile, nil
}

// resolvePolicy maps a policy value to a config: preset names first,
// otherwise a YAML policy file.
func resolvePolicy(spec string) (policy.Config, error) {
	cfg, nameErr := policy.ConfigByName(spec)
	if nameErr == nil {
		return cfg, nil
	}
	if _, err := os.Stat(spec); err != nil {
		return policy.Config{}, fmt.Errorf("policy %q is neither a preset nor a readable file", spec)
	}
	return policy.LoadConfig(spec)
}

// gateResult converts a decision into the exit-code error contract.
func gateResult(decision string, failOnWarn bool) error {
	switch decision {
	case scoring.ActionFail:
		return &GateError{Decision: decision, Code: CodeFail}
	case scoring.ActionWarn:
		code := CodeWarn
		if failOnWarn {
			code = CodeFail
		}
		return &GateError{Decision: decision, Code: code}
	default:
		return nil
	}
}

// writeReports renders every report with one reporter.
func writeReports(format, output string, logger *zap.Logger, reports ...*pipeline.Report) error {
	reporter, err := reporting.New(format, output, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("failed to close reporter", zap.Error(err))
		}
	}()

	for _, report := range reports {
		if err := reporter.Write(report); err != nil {
			return err
		}
	}
	return nil
}
