// Package cli: list.go implements the "ckpt-sync list" command.
//
// The list command prints the files currently installed under every
// checkpoint target, without downloading anything. The output is the same
// listing the install command ends with: one "<label>: <target>/<path>"
// line per file, or a JSON document with --json.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
	"github.com/shinji-kodama/ckpt-sync/internal/report"
)

// listFlags holds the flag values for the list command.
type listFlags struct {
	// depth is how many directory levels below each target are listed.
	// Zero means the configured max depth.
	depth int

	// only restricts the listing to the named sets.
	only []string
}

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed checkpoint files",
		Long: `List the files installed under each checkpoint target.

Files are grouped by set, in configuration order, and sorted within each
group. Each line is prefixed with the set label.

Examples:
  ckpt-sync list
  ckpt-sync list --only v2 --depth 2
  ckpt-sync list --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(flags)
		},
	}

	cmd.Flags().IntVar(&flags.depth, "depth", 0,
		"Directory levels to list below each target (default from configuration: 3)")
	cmd.Flags().StringSliceVar(&flags.only, "only", nil,
		"List only the named set (repeatable)")

	return cmd
}

// runList is the main logic function for the list command.
func runList(flags *listFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flags.depth < 0 {
		return model.NewCLIError(model.ExitConfigError, "--depth must not be negative")
	}
	depth := cfg.MaxDepth
	if flags.depth > 0 {
		depth = flags.depth
	}

	sets, err := cfg.Select(flags.only)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid --only value", err)
	}

	rep, err := report.Build(sets, targetsFor(cfg).Lookup, depth)
	if err != nil {
		return model.WrapCLIError(model.ExitFilesystemError, "failed to list installed files", err)
	}
	VerboseLog("Listed %d set(s) at depth %d", len(rep.Groups), depth)

	if IsJSONOutput() {
		return report.WriteJSON(os.Stdout, rep)
	}
	return report.WriteText(os.Stdout, rep)
}
