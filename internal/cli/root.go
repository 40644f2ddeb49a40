// Package cli provides the adgraph command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/adgraph/internal/app"
	"github.com/yungbote/adgraph/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

const (
	ExitOK         = 0
	ExitRowFailure = 1
	ExitError      = 2
)

// ExitCoder carries the process exit code of a failed command.
type ExitCoder struct {
	Code int
	Err  error
}

func (e *ExitCoder) Error() string { return e.Err.Error() }
func (e *ExitCoder) Unwrap() error { return e.Err }

// ExitCode maps a command error onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec *ExitCoder
	if errors.As(err, &ec) {
		return ec.Code
	}
	return ExitError
}

type configKey struct{}

// newApp is swapped in tests.
var newApp = app.New

func getConfig(cmd *cobra.Command) config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(config.Config); ok {
		return cfg
	}
	return config.Config{}
}

func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "adgraph",
		Short: "Migrate ad account shopping structures into a typed graph",
		Long: `adgraph reads campaigns, ad groups, product partitions and offers from the
relational account database and writes them into a typed graph keyspace per account.

Schema modules are applied idempotently before loading; reruns create nothing new.`,
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return &ExitCoder{Code: ExitError, Err: err}
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./adgraph.yaml)")
	pf.StringP("host", "s", "", "graph store host (host[:port])")
	pf.String("neo4j-uri", "", "graph store URI; overrides --host")
	pf.String("neo4j-database", "", "graph store database")
	pf.String("source-dsn", "", "account database DSN")
	pf.String("redis-addr", "", "redis address for cross-process canonical key locks")
	pf.String("log-mode", "", "log mode (development|production)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("metrics-out", "", "write Prometheus text metrics to this file when a run ends")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newTaxonomyCmd())
	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		root.PrintErrln("Error:", err)
	}
	return ExitCode(err)
}

// commandError marks a component error as a command failure.
func commandError(err error) error {
	if err == nil {
		return nil
	}
	var ec *ExitCoder
	if errors.As(err, &ec) {
		return err
	}
	return &ExitCoder{Code: ExitError, Err: err}
}
