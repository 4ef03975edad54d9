// Package model defines the domain types and value objects for the
// ckpt-sync CLI.
//
// This package contains pure data structures with no external dependencies.
// CheckpointSet describes one downloadable archive and where it is
// installed. PassResult is the transient record of one fetch-and-install
// pass. Nothing here is persisted; the only durable state is the files in
// the target directories.
//
// The package also defines the error taxonomy (ErrNetwork, ErrArchive,
// ErrFilesystem, ...), exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
