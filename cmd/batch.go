// File: cmd/batch.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varelix/qoegate/internal/batch"
	"github.com/varelix/qoegate/internal/observability"
	"github.com/varelix/qoegate/internal/pipeline"
	"github.com/varelix/qoegate/internal/reporting"
	"github.com/varelix/qoegate/internal/source"
)

// newBatchCmd creates the `batch` command: every operation in a manifest,
// worst decision wins.
func newBatchCmd() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluates every operation in a manifest and exits with the worst decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := configFromContext(ctx)

			flags := cmd.Flags()
			manifestPath, _ := flags.GetString("manifest")
			format, _ := flags.GetString("format")
			output, _ := flags.GetString("output")
			headerPairs, _ := flags.GetStringArray("header")
			failOnWarn, _ := flags.GetBool("fail-on-warn")

			concurrency := cfg.Batch.Concurrency
			if flags.Changed("concurrency") {
				concurrency, _ = flags.GetInt("concurrency")
			}

			headers, err := source.ParseHeaders(headerPairs)
			if err != nil {
				return err
			}

			policyCfg, profile, err := gateOptions(cmd, cfg)
			if err != nil {
				return err
			}

			entries, err := batch.LoadManifest(manifestPath)
			if err != nil {
				return err
			}

			service, err := pipeline.NewService(logger, pipeline.Options{Profile: profile, Policy: &policyCfg})
			if err != nil {
				return err
			}
			loader := source.NewLoader(logger, source.Options{
				Timeout:   cfg.HTTP.Timeout,
				RateLimit: cfg.HTTP.RateLimit,
				Burst:     cfg.HTTP.Burst,
				Headers:   headers,
			})
			runner := batch.NewRunner(logger, service, loader, concurrency)

			summary, err := runner.Run(ctx, entries)
			if err != nil {
				return err
			}

			reports := make([]*pipeline.Report, 0, len(summary.Results))
			for _, res := range summary.Results {
				reports = append(reports, res.Report)
			}
			if err := writeReports(format, output, logger, reports...); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "batch: %d evaluated, %d passed, %d warned, %d failed (worst %s)\n",
				summary.Total, summary.Passed, summary.Warned, summary.Failed, summary.WorstDecision)

			return gateResult(summary.WorstDecision, failOnWarn)
		},
	}

	flags := batchCmd.Flags()
	flags.String("manifest", "", "YAML manifest listing operations to evaluate. (Required)")
	flags.Int("concurrency", 0, "Concurrent evaluations. (Overrides config/env)")
	flags.String("policy", "", "Policy preset (default, strict, permissive) or YAML policy file.")
	flags.String("profile", "", "Criticality profile YAML file; empty uses the streaming profile.")
	flags.StringP("format", "f", reporting.FormatSummary, "Report format: summary, json, or github.")
	flags.StringP("output", "o", "", "Report destination path; empty writes to stdout.")
	flags.StringArray("header", nil, `HTTP header for document fetches, as "Key: Value". Repeatable.`)
	flags.Bool("fail-on-warn", false, "Exit with the FAIL code when the worst decision is WARN.")
	_ = batchCmd.MarkFlagRequired("manifest")

	return batchCmd
}
