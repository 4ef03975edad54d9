// Package cli: verify.go implements the "ckpt-sync verify" command.
//
// The verify command checks that every required file of each checkpoint
// set exists under its target. It downloads nothing and exits with code 8
// when anything is missing, which makes it usable as a container health or
// readiness check.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ckpt-sync/internal/install"
	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// NewVerifyCommand creates the "verify" cobra command.
func NewVerifyCommand() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that required checkpoint files are installed",
		Long: `Check that the required files of each checkpoint set exist under its
target directory. Nothing is downloaded.

Exits with code 8 if any required file is missing.

Examples:
  ckpt-sync verify
  ckpt-sync verify --only v1 --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(only)
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "Verify only the named set (repeatable)")
	return cmd
}

// verifyResult is the outcome for one set.
type verifyResult struct {
	Label    string   `json:"label"`
	Target   string   `json:"target"`
	Required int      `json:"required"`
	Missing  []string `json:"missing"`
}

// runVerify is the main logic function for the verify command.
func runVerify(only []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sets, err := cfg.Select(only)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid --only value", err)
	}

	inst := install.New(nil, targetsFor(cfg), install.Options{Logger: logger})

	results := make([]verifyResult, 0, len(sets))
	var incomplete []string
	for _, set := range sets {
		missing, err := inst.Verify(set)
		if err != nil {
			return model.WrapCLIError(model.ExitFilesystemError,
				fmt.Sprintf("failed to verify %s checkpoints", set.Label), err)
		}
		if missing == nil {
			missing = []string{}
		}
		if len(missing) > 0 {
			incomplete = append(incomplete, set.Label)
		}
		results = append(results, verifyResult{
			Label:    set.Label,
			Target:   set.Target,
			Required: len(set.Required),
			Missing:  missing,
		})
	}

	if err := printVerifyResult(os.Stdout, results); err != nil {
		return err
	}

	if len(incomplete) > 0 {
		return model.WrapCLIError(model.ExitMissingFiles,
			fmt.Sprintf("incomplete checkpoint set(s): %s", strings.Join(incomplete, ", ")),
			model.ErrMissingFiles)
	}
	return nil
}

// printVerifyResult outputs the verification results in text or JSON.
//
// The text format is one line per set:
//
//	v1: ok (2 required files present in checkpoints)
//	v2: missing converter/checkpoint.pth
func printVerifyResult(w io.Writer, results []verifyResult) error {
	if IsJSONOutput() {
		data, err := json.MarshalIndent(struct {
			Sets []verifyResult `json:"sets"`
		}{Sets: results}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	for _, r := range results {
		var err error
		switch {
		case r.Required == 0:
			_, err = fmt.Fprintf(w, "%s: nothing to verify\n", r.Label)
		case len(r.Missing) == 0:
			_, err = fmt.Fprintf(w, "%s: ok (%d required files present in %s)\n", r.Label, r.Required, r.Target)
		default:
			_, err = fmt.Fprintf(w, "%s: missing %s\n", r.Label, strings.Join(r.Missing, ", "))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
