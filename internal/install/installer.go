// Package install runs fetch-and-install passes, one per checkpoint set.
//
// A pass downloads the set's archive into a scratch workspace, extracts
// it, picks the effective source root using the set's directory hint and
// mirrors that tree into the target directory. The workspace is removed
// when the pass ends, whatever the outcome. Passes never run concurrently.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	billy "github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/shinji-kodama/ckpt-sync/internal/archive"
	"github.com/shinji-kodama/ckpt-sync/internal/fetch"
	"github.com/shinji-kodama/ckpt-sync/internal/mirror"
	"github.com/shinji-kodama/ckpt-sync/internal/model"
	"github.com/shinji-kodama/ckpt-sync/internal/progress"
	"github.com/shinji-kodama/ckpt-sync/internal/scratch"
)

// DefaultTimeout bounds a single pass when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Minute

// Options configures an Installer.
type Options struct {
	// Scratch is where workspaces are allocated.
	// Default: the OS temp directory.
	Scratch billy.Filesystem

	// Logger receives diagnostic output. Default: a no-op logger.
	Logger *zap.SugaredLogger

	// Out receives the per-pass announcements. Default: io.Discard.
	Out io.Writer

	// Progress receives the download progress line. Nil disables it.
	Progress io.Writer

	// Timeout bounds each pass. Default: DefaultTimeout.
	Timeout time.Duration

	// SkipPresent skips the download for sets whose required paths already
	// exist under the target.
	SkipPresent bool
}

// Installer provisions checkpoint sets into their targets.
type Installer struct {
	fetcher fetch.Fetcher
	targets Targets
	opts    Options
	log     *zap.SugaredLogger
}

// New creates an Installer that downloads with f and writes into t.
func New(f fetch.Fetcher, t Targets, opts Options) *Installer {
	if opts.Scratch == nil {
		opts.Scratch = scratch.OSFilesystem()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Installer{fetcher: f, targets: t, opts: opts, log: opts.Logger}
}

// Install runs one fetch-and-install pass for set.
//
// The returned PassResult is filled in on failure too, with Status
// PassFailed and Err set. Nothing is written to the target unless the
// download, the extraction and the required-path check all succeed.
func (i *Installer) Install(ctx context.Context, set model.CheckpointSet) (model.PassResult, error) {
	start := time.Now()
	res := model.PassResult{Set: set, Status: model.PassFailed}
	log := i.log.With("set", set.Label)

	if i.opts.SkipPresent && len(set.Required) > 0 {
		missing, err := i.Verify(set)
		if err == nil && len(missing) == 0 {
			fmt.Fprintf(i.opts.Out, "Skipping %s checkpoints: already present in %s\n", set.Label, set.Target)
			res.Status = model.PassSkipped
			res.Duration = time.Since(start)
			return res, nil
		}
		log.Debugw("checkpoints incomplete, installing", "missing", missing, "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	fmt.Fprintf(i.opts.Out, "Downloading %s checkpoints from %s\n", set.Label, set.URL)

	stats, fetched, err := i.install(ctx, set, log)
	res.BytesFetched = fetched
	res.Duration = time.Since(start)
	if err != nil {
		err = timeoutError(ctx, err, i.opts.Timeout)
		res.Err = err
		log.Debugw("pass failed", "error", err, "duration", res.Duration)
		return res, err
	}

	res.Status = model.PassInstalled
	res.Files = stats.Files
	fmt.Fprintf(i.opts.Out, "Installed %s checkpoints: %d files (%s) into %s\n",
		set.Label, len(stats.Files), humanize.Bytes(uint64(stats.Bytes)), set.Target)
	return res, nil
}

// timeoutError classifies a pass that ran out of time. The fetcher already
// reports its own deadline as fetch.ErrTimeout; a deadline reached while
// extracting or mirroring is reported the same way, as a network-class
// failure naming the limit.
func timeoutError(ctx context.Context, err error, limit time.Duration) error {
	if errors.Is(err, fetch.ErrTimeout) {
		return err
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w: pass timed out after %s: %w", model.ErrNetwork, fetch.ErrTimeout, limit, err)
}

// install does the work of Install inside a scratch workspace. It returns
// the mirror statistics and the number of archive bytes downloaded.
func (i *Installer) install(ctx context.Context, set model.CheckpointSet, log *zap.SugaredLogger) (mirror.Stats, int64, error) {
	ws, err := scratch.New(i.opts.Scratch, "ckpt-sync-"+set.Label+"-")
	if err != nil {
		return mirror.Stats{}, 0, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warnw("failed to remove scratch workspace", "error", err)
		}
	}()
	log.Debugw("allocated scratch workspace", "archive", ws.ArchiveName(), "dir", ws.Dir())

	fetched, err := i.download(ctx, set, ws)
	if err != nil {
		return mirror.Stats{}, fetched, fmt.Errorf("download %s: %w", set.URL, err)
	}

	n, err := archive.Extract(ctx, ws.Archive(), fetched, ws.FS(), ws.Dir())
	if err != nil {
		return mirror.Stats{}, fetched, fmt.Errorf("extract %s archive: %w", set.Label, err)
	}

	src := archive.ResolveSource(ws.FS(), ws.Dir(), set.ArchiveDir)
	log.Debugw("extracted archive", "entries", n, "source", src, "hint", set.ArchiveDir)

	if missing := archive.MissingPaths(ws.FS(), src, set.Required); len(missing) > 0 {
		return mirror.Stats{}, fetched, fmt.Errorf("%w: %s archive lacks required files: %s",
			model.ErrArchive, set.Label, strings.Join(missing, ", "))
	}

	dst, err := i.targets.Open(set)
	if err != nil {
		return mirror.Stats{}, fetched, err
	}

	stats, err := mirror.Mirror(ctx, ws.FS(), src, dst)
	if err != nil {
		return stats, fetched, fmt.Errorf("install into %s: %w", set.Target, err)
	}
	log.Debugw("mirrored checkpoints", "files", len(stats.Files), "dirs", stats.Dirs, "bytes", stats.Bytes)
	return stats, fetched, nil
}

// download streams the set's archive into the workspace archive file.
func (i *Installer) download(ctx context.Context, set model.CheckpointSet, ws *scratch.Workspace) (int64, error) {
	var reporter *progress.Reporter
	if i.opts.Progress != nil {
		reporter = progress.NewReporter(progress.Options{
			Label:  set.Label,
			Output: i.opts.Progress,
		})
	}
	defer reporter.Stop()

	dl, err := i.fetcher.Open(ctx, set.URL)
	if err != nil {
		return 0, err
	}
	defer dl.Body.Close()

	// The size is only known once the server has answered.
	reporter.SetTotal(dl.Size)
	reporter.Start()

	var dst io.Writer = ws.Archive()
	if reporter != nil {
		dst = io.MultiWriter(dst, reporter)
	}

	n, err := fetch.Copy(ctx, dst, dl.Body)
	reporter.Stop()
	if err != nil {
		return n, err
	}
	if dl.Size >= 0 && n != dl.Size {
		return n, fmt.Errorf("%w: short download: got %d of %d bytes", model.ErrNetwork, n, dl.Size)
	}
	i.log.Debugw("fetched archive", "set", set.Label, "url", dl.URL, "bytes", n)
	return n, nil
}

// Run installs sets in order, one pass at a time.
//
// Under PolicyFailFast the first failure ends the run; that pass is
// reported as failed and every later set as not-run. Under
// PolicyKeepGoing every set is attempted and the failures are joined.
// Cancellation always ends the run.
//
// The returned slice has one result per set, in set order.
func (i *Installer) Run(ctx context.Context, sets []model.CheckpointSet, policy model.FailurePolicy) ([]model.PassResult, error) {
	results := make([]model.PassResult, 0, len(sets))
	var errs []error

	for idx, set := range sets {
		if err := ctx.Err(); err != nil {
			results = append(results, notRun(sets[idx:])...)
			return results, errors.Join(append(errs, err)...)
		}

		res, err := i.Install(ctx, set)
		results = append(results, res)
		if err == nil {
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", set.Label, err))
		if policy != model.PolicyKeepGoing || errors.Is(err, context.Canceled) {
			results = append(results, notRun(sets[idx+1:])...)
			return results, errors.Join(errs...)
		}
		i.log.Warnw("pass failed, continuing with the next set", "set", set.Label, "error", err)
	}

	return results, errors.Join(errs...)
}

func notRun(sets []model.CheckpointSet) []model.PassResult {
	results := make([]model.PassResult, 0, len(sets))
	for _, s := range sets {
		results = append(results, model.PassResult{Set: s, Status: model.PassNotRun})
	}
	return results
}

// Verify returns the required paths of set that are missing under its
// target, sorted. A target that does not exist misses all of them.
func (i *Installer) Verify(set model.CheckpointSet) ([]string, error) {
	fs, err := i.targets.Lookup(set)
	if err != nil {
		return nil, err
	}
	if fs == nil {
		missing := append([]string(nil), set.Required...)
		sort.Strings(missing)
		return missing, nil
	}
	return archive.MissingPaths(fs, "", set.Required), nil
}

// Targets returns the target resolver the Installer writes into.
func (i *Installer) Targets() Targets {
	return i.targets
}
