package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Error taxonomy shared by every package. Lower layers wrap one of these
// with %w so the CLI layer can pick an exit code with errors.Is.
var (
	// ErrNetwork covers unreachable hosts, timeouts and non-2xx responses.
	ErrNetwork = errors.New("network error")

	// ErrArchive covers corrupt, non-ZIP or structurally unexpected archives.
	ErrArchive = errors.New("archive error")

	// ErrFilesystem covers permission problems, full disks and path collisions.
	ErrFilesystem = errors.New("filesystem error")

	// ErrConfig indicates an invalid configuration file, flag or variable.
	ErrConfig = errors.New("configuration error")

	// ErrMissingFiles is reported by verify when required paths are absent.
	ErrMissingFiles = errors.New("required checkpoint files missing")
)

// FailurePolicy decides what a run does after a pass fails.
//
//	fail-fast  → stop immediately, later sets are not attempted
//	keep-going → attempt every set, report which ones failed
type FailurePolicy string

const (
	// PolicyFailFast aborts the whole run on the first failed pass.
	// This is the default and matches the stop-on-error behaviour of a
	// provisioning script.
	PolicyFailFast FailurePolicy = "fail-fast"

	// PolicyKeepGoing runs every pass independently and aggregates errors.
	PolicyKeepGoing FailurePolicy = "keep-going"
)

// String returns the string representation of FailurePolicy.
func (p FailurePolicy) String() string {
	return string(p)
}

// IsValid checks whether the FailurePolicy value is one of the
// predefined policies.
func (p FailurePolicy) IsValid() bool {
	switch p {
	case PolicyFailFast, PolicyKeepGoing:
		return true
	default:
		return false
	}
}

// ParseFailurePolicy converts a string to a FailurePolicy.
// Returns an error if the string does not match any valid policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	policy := FailurePolicy(strings.ToLower(strings.TrimSpace(s)))
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid failure policy: %q (valid: fail-fast, keep-going)", s)
	}
	return policy, nil
}

// CheckpointSet is a named collection of pretrained model files that is
// distributed as a single downloadable ZIP archive.
type CheckpointSet struct {
	// Label identifies the set in console output and in --only filters.
	Label string `json:"label" yaml:"label"`

	// URL is the archive location. http, https and s3 schemes are supported.
	URL string `json:"url" yaml:"url"`

	// ArchiveDir is the directory-name hint. When the extracted archive has
	// a directory with this name directly under its root, that directory's
	// contents are installed instead of the archive root.
	ArchiveDir string `json:"archiveDir,omitempty" yaml:"archive_dir,omitempty"`

	// Target is the persistent install directory. Relative paths are
	// resolved against the working directory.
	Target string `json:"target" yaml:"target"`

	// Required lists slash-separated paths, relative to the effective
	// source root, that a usable install must contain.
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
}

// labelRegex validates set labels: lowercase alphanumerics plus '-', '_'
// and '.', starting with an alphanumeric.
var labelRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateLabel checks if the given string is a valid checkpoint set label.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("checkpoint set label must not be empty")
	}
	if !labelRegex.MatchString(label) {
		return fmt.Errorf("invalid checkpoint set label %q: use lowercase letters, digits, '.', '_' or '-'", label)
	}
	return nil
}

// Validate checks that the set has everything a pass needs.
func (s *CheckpointSet) Validate() error {
	if err := ValidateLabel(s.Label); err != nil {
		return err
	}
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("checkpoint set %q: url must not be empty", s.Label)
	}
	if strings.TrimSpace(s.Target) == "" {
		return fmt.Errorf("checkpoint set %q: target must not be empty", s.Label)
	}
	if strings.ContainsAny(s.ArchiveDir, `/\`) || s.ArchiveDir == "." || s.ArchiveDir == ".." {
		return fmt.Errorf("checkpoint set %q: archive dir %q must be a single path element", s.Label, s.ArchiveDir)
	}
	for _, p := range s.Required {
		clean := filepath.ToSlash(filepath.Clean(p))
		if p == "" || filepath.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("checkpoint set %q: required path %q must be relative to the set root", s.Label, p)
		}
	}
	return nil
}

// PassStatus is the outcome of one fetch-and-install pass.
type PassStatus string

const (
	// PassInstalled means the archive was fetched and mirrored into the target.
	PassInstalled PassStatus = "installed"

	// PassSkipped means every required path was already present, so no
	// download happened.
	PassSkipped PassStatus = "skipped"

	// PassFailed means the pass aborted with an error.
	PassFailed PassStatus = "failed"

	// PassNotRun means an earlier failure stopped the run under fail-fast.
	PassNotRun PassStatus = "not-run"
)

// String returns the string representation of PassStatus.
func (s PassStatus) String() string {
	return string(s)
}

// PassResult records what one pass did. It is transient and only used
// for console and JSON output.
type PassResult struct {
	// Set is the checkpoint set the pass worked on.
	Set CheckpointSet `json:"set"`

	// Status is the outcome of the pass.
	Status PassStatus `json:"status"`

	// Files lists the mirrored paths relative to the target, sorted.
	Files []string `json:"files,omitempty"`

	// BytesFetched is the size of the downloaded archive.
	BytesFetched int64 `json:"bytesFetched"`

	// Duration is the wall time of the pass.
	Duration time.Duration `json:"duration"`

	// Err is the failure, if any. Not serialized; see ErrorMessage.
	Err error `json:"-"`
}

// ErrorMessage returns the failure text or "" for passes without an error.
func (r *PassResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ExitCode defines the process exit codes of ckpt-sync.
// Scripts can tell the failure class apart without parsing output.
type ExitCode int

const (
	// ExitSuccess indicates every pass completed (installed or skipped).
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unclassified error.
	ExitGeneralError ExitCode = 1

	// ExitNetworkError indicates a fetch failed.
	ExitNetworkError ExitCode = 2

	// ExitArchiveError indicates a corrupt or unexpected archive.
	ExitArchiveError ExitCode = 3

	// ExitFilesystemError indicates a local filesystem operation failed.
	ExitFilesystemError ExitCode = 4

	// ExitConfigError indicates invalid configuration.
	ExitConfigError ExitCode = 5

	// ExitPartialFailure indicates keep-going mode finished with at least
	// one failed pass.
	ExitPartialFailure ExitCode = 6

	// ExitCancelled indicates the run was interrupted.
	ExitCancelled ExitCode = 7

	// ExitMissingFiles indicates verify found required paths missing.
	ExitMissingFiles ExitCode = 8
)

// ExitCodeFor classifies err into an exit code using the error taxonomy.
// A nil error maps to ExitSuccess.
func ExitCodeFor(err error) ExitCode {
	var cliErr *CLIError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &cliErr):
		return cliErr.Code
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, ErrConfig):
		return ExitConfigError
	case errors.Is(err, ErrNetwork):
		return ExitNetworkError
	case errors.Is(err, ErrArchive):
		return ExitArchiveError
	case errors.Is(err, ErrFilesystem):
		return ExitFilesystemError
	case errors.Is(err, ErrMissingFiles):
		return ExitMissingFiles
	default:
		return ExitGeneralError
	}
}

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
