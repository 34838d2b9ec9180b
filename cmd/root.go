// File: cmd/root.go

// Package cmd wires the qoegate command tree: validate for single
// operations, batch for manifests, version for build metadata.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/varelix/qoegate/internal/config"
	"github.com/varelix/qoegate/internal/observability"
)

// Process exit codes. Gate decisions map onto them so CI can branch on the
// exit status alone.
const (
	CodePass     = 0
	CodeWarn     = 1
	CodeFail     = 2
	CodeInternal = 3
)

// GateError carries a non-passing gate decision out of a subcommand along
// with the exit code it maps to.
type GateError struct {
	Decision string
	Code     int
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gate decision %s", e.Decision)
}

// contextKey scopes values this package stores on a command context.
type contextKey string

// configKey carries the loaded *config.Config to subcommands.
const configKey contextKey = "config"

// NewRootCommand builds a pristine qoegate command tree. Each call returns
// a fresh instance so no flag or config state leaks between executions.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "qoegate",
		Short:         "qoegate scores API response drift and gates deployments on QoE risk.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("starting qoegate",
				zap.String("version", Version),
				zap.String("commit", Commit),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./qoegate.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command under the given signal-aware context. Gate
// decisions come back as *GateError; anything else is an infrastructure
// failure.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var gate *GateError
		if !errors.As(err, &gate) {
			if logger := observability.GetLogger(); logger != nil {
				logger.Error("command failed", zap.Error(err))
			} else {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		return err
	}
	return nil
}

func fallbackLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{Level: "info", Format: "console", ServiceName: config.ServiceName}
}

// initializeConfig loads the config file and environment into v. A missing
// config file is fine; defaults and QOEGATE_* variables carry the run. An
// explicit --config path that cannot be read is an error.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "qoegate"))
		}
		v.SetConfigName("qoegate")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("QOEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// configFromContext returns the config the root command stored, or the
// defaults when a command runs without the root PersistentPreRunE (tests).
func configFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg
	}
	return config.NewDefaultConfig()
}
