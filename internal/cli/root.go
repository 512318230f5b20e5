package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/config"
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is resolved by the root command before any subcommand runs.
	// Commands constructed on their own fall back to config.Load.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the flowledger CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "flowledger",
		Short: "flowledger - deterministic dataflow simulation",
		Long: `A deterministic discrete-event engine for dataflow graphs.

Every step appends to an append-only activity ledger. Runs can be replayed
step by step, traced back to their inputs and exported as Merkle claims.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./"+config.DefaultFile+" if present)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStepCommand(opts))
	cmd.AddCommand(NewLineageCommand(opts))
	cmd.AddCommand(NewAggregateCommand(opts))
	cmd.AddCommand(NewClaimCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// config returns the resolved configuration, loading it on first use.
func (o *RootOptions) config() (*config.Config, error) {
	if o.Config != nil {
		return o.Config, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	o.Config = cfg
	return cfg, nil
}

// logger builds the diagnostic logger. Logs always go to w so JSON output on
// stdout stays parseable; --verbose lowers the level to debug.
func (o *RootOptions) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.Logging.Level
	if o.Verbose && logging.ParseLevel(level) > slog.LevelDebug {
		level = "debug"
	}
	return logging.NewLogger(level, w)
}

// engineOptions combines the config's engine settings with a logger and a
// per-step tracer.
func (o *RootOptions) engineOptions(cfg *config.Config, logger *slog.Logger, observers ...engine.Observer) []engine.EngineOption {
	observers = append(observers, logging.NewStepTracer(logger))
	opts := append(cfg.EngineOptions(), engine.WithLogger(logger))
	return append(opts, engine.WithObserver(logging.Observers(observers)))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
