// Package cli: install.go implements the "ckpt-sync install" command.
//
// The install command runs one fetch-and-install pass per checkpoint set,
// in configuration order, and then prints every file found under the
// targets, prefixed with the set label. It is also what the root command
// runs when invoked without a subcommand.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ckpt-sync/internal/config"
	"github.com/shinji-kodama/ckpt-sync/internal/fetch"
	"github.com/shinji-kodama/ckpt-sync/internal/install"
	"github.com/shinji-kodama/ckpt-sync/internal/model"
	"github.com/shinji-kodama/ckpt-sync/internal/report"
)

// installFlags holds the flag values for the install command.
type installFlags struct {
	// keepGoing attempts every set even after a failure.
	keepGoing bool

	// timeout overrides the configured per-set timeout when non-zero.
	timeout time.Duration

	// skipPresent skips sets whose required files are already installed.
	skipPresent bool

	// only restricts the run to the named sets.
	only []string

	// noProgress disables the download progress line.
	noProgress bool
}

// NewInstallCommand creates the "install" cobra command.
func NewInstallCommand() *cobra.Command {
	flags := &installFlags{}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download and install checkpoint sets",
		Long: `Download each checkpoint archive, extract it to temporary storage and
mirror its contents into the set's target directory.

Sets are processed one at a time, in configuration order. By default the
first failure stops the run; --keep-going attempts every set and exits
with code 6 if some of them failed.

Examples:
  ckpt-sync install
  ckpt-sync install --only v2
  ckpt-sync install --keep-going --timeout 1h
  ckpt-sync install --skip-present --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), flags)
		},
	}

	bindInstallFlags(cmd, flags)
	return cmd
}

// bindInstallFlags registers the install flags on cmd.
func bindInstallFlags(cmd *cobra.Command, flags *installFlags) {
	cmd.Flags().BoolVar(&flags.keepGoing, "keep-going", false,
		"Attempt every set even if one fails")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0,
		"Time limit per set, e.g. 45m (default from configuration: 30m)")
	cmd.Flags().BoolVar(&flags.skipPresent, "skip-present", false,
		"Skip sets whose required files are already installed")
	cmd.Flags().StringSliceVar(&flags.only, "only", nil,
		"Install only the named set (repeatable)")
	cmd.Flags().BoolVar(&flags.noProgress, "no-progress", false,
		"Do not show download progress")
}

// runInstall is the main logic function for the install command.
func runInstall(ctx context.Context, flags *installFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Step 1: Load configuration and apply flag overrides.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flags.keepGoing {
		cfg.Policy = model.PolicyKeepGoing
	}
	if flags.timeout < 0 {
		return model.NewCLIError(model.ExitConfigError, fmt.Sprintf("invalid --timeout %s: must be positive", flags.timeout))
	}
	if flags.timeout > 0 {
		cfg.Timeout = flags.timeout
	}

	sets, err := cfg.Select(flags.only)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid --only value", err)
	}

	// Step 2: Wire the fetchers, the target directories and the installer.
	inst, err := newInstaller(cfg, flags)
	if err != nil {
		return err
	}

	// Step 3: Run the passes sequentially.
	VerboseLog("Installing %d set(s) with policy %s and timeout %s", len(sets), cfg.Policy, cfg.Timeout)
	results, runErr := inst.Run(ctx, sets, cfg.Policy)
	VerboseLog("Run finished: %s", FormatPassSummary(results))

	// Step 4: Report. A fail-fast failure stops before the listing, the
	// same as a cancelled run.
	if runErr == nil || (cfg.Policy == model.PolicyKeepGoing && !errors.Is(runErr, context.Canceled)) {
		rep, err := report.Build(sets, inst.Targets().Lookup, cfg.MaxDepth)
		if err != nil {
			return model.WrapCLIError(model.ExitFilesystemError, "failed to list installed files", err)
		}
		if err := printInstallResult(os.Stdout, results, rep); err != nil {
			return err
		}
	} else if IsJSONOutput() {
		if err := printInstallResult(os.Stdout, results, report.Report{Groups: []report.Group{}}); err != nil {
			return err
		}
	}

	return installError(results, runErr)
}

// newInstaller wires an Installer for cfg. HTTP(S) sources go through the
// plain HTTP client and s3:// sources through the S3 client.
func newInstaller(cfg config.Config, flags *installFlags) (*install.Installer, error) {
	httpOpts := fetch.DefaultHTTPOptions()
	httpOpts.UserAgent = cfg.UserAgent

	s3, err := fetch.NewS3Client(cfg.S3)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to configure S3 access", err)
	}

	opts := install.Options{
		Logger:      logger,
		Timeout:     cfg.Timeout,
		SkipPresent: flags.skipPresent,
	}
	// Announcements and progress would corrupt JSON on stdout.
	if !quiet && !IsJSONOutput() {
		opts.Out = os.Stdout
		if !flags.noProgress {
			opts.Progress = os.Stderr
		}
	}

	mux := fetch.NewMux(fetch.NewHTTPClient(httpOpts), s3)
	return install.New(mux, targetsFor(cfg), opts), nil
}

// targetsFor returns the on-disk targets of cfg.
func targetsFor(cfg config.Config) install.OSTargets {
	return install.OSTargets{Resolve: cfg.TargetPath}
}

// installError converts the outcome of a run into the command error.
//
// A cancelled run exits with ExitCancelled. Under keep-going, a run where
// some sets succeeded and others failed exits with ExitPartialFailure.
// Otherwise the first failure decides the exit code.
func installError(results []model.PassResult, runErr error) error {
	if runErr == nil {
		return nil
	}
	if errors.Is(runErr, context.Canceled) {
		return model.WrapCLIError(model.ExitCancelled, "interrupted", runErr)
	}

	var failed, succeeded []string
	var first error
	for _, r := range results {
		switch r.Status {
		case model.PassFailed:
			failed = append(failed, r.Set.Label)
			if first == nil {
				first = r.Err
			}
		case model.PassInstalled, model.PassSkipped:
			succeeded = append(succeeded, r.Set.Label)
		}
	}
	if first == nil {
		first = runErr
	}

	if len(failed) > 0 && len(succeeded) > 0 {
		return model.WrapCLIError(model.ExitPartialFailure,
			fmt.Sprintf("%d of %d set(s) failed: %s", len(failed), len(results), strings.Join(failed, ", ")), runErr)
	}
	label := "checkpoint"
	if len(failed) > 0 {
		label = failed[0]
	}
	return model.WrapCLIError(model.ExitCodeFor(first), fmt.Sprintf("failed to install %s checkpoints", label), first)
}

// passJSON is the JSON output structure for one pass.
type passJSON struct {
	Label        string `json:"label"`
	Status       string `json:"status"`
	Target       string `json:"target"`
	Files        int    `json:"files"`
	BytesFetched int64  `json:"bytesFetched"`
	Duration     string `json:"duration"`
	Error        string `json:"error,omitempty"`
}

// printInstallResult writes the final listing (text) or the passes plus
// the listing (JSON).
func printInstallResult(w io.Writer, results []model.PassResult, rep report.Report) error {
	if !IsJSONOutput() {
		return report.WriteText(w, rep)
	}

	out := struct {
		Passes []passJSON     `json:"passes"`
		Sets   []report.Group `json:"sets"`
	}{
		Passes: make([]passJSON, 0, len(results)),
		Sets:   rep.Groups,
	}
	for _, r := range results {
		out.Passes = append(out.Passes, passJSON{
			Label:        r.Set.Label,
			Status:       r.Status.String(),
			Target:       r.Set.Target,
			Files:        len(r.Files),
			BytesFetched: r.BytesFetched,
			Duration:     r.Duration.Round(time.Millisecond).String(),
			Error:        r.ErrorMessage(),
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// FormatPassSummary condenses pass outcomes into one line for logs.
//
// Example:
//
//	[installed, failed, not-run] → "1 installed, 1 failed, 1 not run"
//	[]                           → "nothing to do"
func FormatPassSummary(results []model.PassResult) string {
	counts := map[model.PassStatus]int{}
	for _, r := range results {
		counts[r.Status]++
	}

	order := []struct {
		status model.PassStatus
		word   string
	}{
		{model.PassInstalled, "installed"},
		{model.PassSkipped, "skipped"},
		{model.PassFailed, "failed"},
		{model.PassNotRun, "not run"},
	}
	parts := make([]string, 0, len(order))
	for _, o := range order {
		if n := counts[o.status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o.word))
		}
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}
