// Package cli implements the cobra-based CLI commands for ckpt-sync.
//
// Each subcommand (install, list, verify, sets) is defined in its own file
// within this package. This file defines the root command that serves as
// the parent for all subcommands and handles global flags.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shinji-kodama/ckpt-sync/internal/config"
	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose enables debug logging on stderr.
	verbose bool

	// quiet suppresses announcements and progress; only errors and the
	// final report are printed.
	quiet bool

	// configPath is an optional YAML or JSONC configuration file.
	configPath string

	// workDir overrides the directory relative targets are resolved against.
	workDir string
)

// logger is built in PersistentPreRunE and used by every subcommand.
var logger = zap.NewNop().Sugar()

// Version, Commit, and Date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// Invoked without a subcommand, the root command installs every
// configured checkpoint set, so a bare `ckpt-sync` provisions both
// OpenVoice checkpoint trees and prints what ended up on disk.
func NewRootCommand() *cobra.Command {
	flags := &installFlags{}

	rootCmd := &cobra.Command{
		Use:   "ckpt-sync",
		Short: "Download and install OpenVoice model checkpoints",
		Long: `ckpt-sync downloads the OpenVoice checkpoint archives, extracts them to
temporary storage and mirrors their contents into the local checkpoint
directories (checkpoints and checkpoints_v2 by default).

Existing files with the same name are overwritten; unrelated files in the
target directories are left alone. Running it again is harmless.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		Args: cobra.NoArgs,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(verbose, quiet)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to initialize logger", err)
			}
			logger = l
			return nil
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), flags)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print errors and the final report")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (.yaml, .yml, .json or .jsonc)")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "Directory relative targets are resolved against")

	// The root command accepts the install flags so that a bare invocation
	// can be tuned without spelling out the subcommand.
	bindInstallFlags(rootCmd, flags)

	rootCmd.AddCommand(NewInstallCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewSetsCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// SIGINT and SIGTERM cancel the command context; the running pass stops at
// its next I/O boundary and its scratch files are removed before exit.
// Errors are translated into exit codes: CLIError values carry their own,
// everything else is classified by model.ExitCodeFor.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()

	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(err.Error(), nil)
		os.Exit(int(model.ExitCodeFor(err)))
	}
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode; stdout is reserved for
		// successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		if underlying != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", message)
		}
	}
}

// newLogger builds the console logger on stderr. The level is debug with
// --verbose, error with --quiet and warn otherwise.
func newLogger(verbose, quiet bool) (*zap.SugaredLogger, error) {
	level := zapcore.WarnLevel
	switch {
	case verbose:
		level = zapcore.DebugLevel
	case quiet:
		level = zapcore.ErrorLevel
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       false,
		DisableCaller:     !verbose,
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// VerboseLog logs a debug message, shown only when verbose mode is enabled.
func VerboseLog(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig builds the effective configuration from defaults, the
// optional config file, the environment and the --workdir flag, and
// validates it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, model.WrapCLIError(model.ExitConfigError, "failed to load configuration", err)
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}
	VerboseLog("Loaded configuration with %d checkpoint set(s)", len(cfg.Sets))
	return cfg, nil
}
