// Package main is the entry point for the ckpt-sync CLI.
//
// This binary downloads the OpenVoice checkpoint archives and installs
// them into the local checkpoint directories. It delegates all
// functionality to the internal/cli package, which defines cobra commands.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development, they default to "dev", "none", and "unknown".
package main

import (
	"github.com/shinji-kodama/ckpt-sync/internal/cli"
)

// version, commit, and date are set at build time via ldflags
// (-X main.version=...). They are shown by --version.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
