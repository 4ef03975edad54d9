package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// Label names the checkpoint set being fetched (for display).
	Label string

	// Total is the expected size in bytes, or <= 0 if unknown.
	Total int64

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter counts bytes written through it and prints a periodic
// one-line status. A nil *Reporter is valid and silent, so callers can
// disable progress without branching.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	written   atomic.Int64
	startTime time.Time
	lastTick  time.Time
	lastBytes int64
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetTotal records the expected size once the server has advertised it.
func (r *Reporter) SetTotal(total int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.opts.Total = total
	r.mu.Unlock()
}

// Write implements io.Writer. It only counts; the bytes are discarded.
func (r *Reporter) Write(p []byte) (int, error) {
	if r != nil {
		r.written.Add(int64(len(p)))
	}
	return len(p), nil
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastTick = r.startTime
	r.mu.Unlock()

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status line. It blocks
// until the update loop has exited, so no output follows Stop.
func (r *Reporter) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	completed := r.written.Load()

	elapsed := now.Sub(r.lastTick).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed
	r.lastTick = now
	r.lastBytes = completed

	if r.opts.Total > 0 {
		percent := float64(completed) / float64(r.opts.Total) * 100
		fmt.Fprintf(r.opts.Output, "\r[ckpt-sync] %s: %s / %s (%.1f%%) | %s/s    ",
			r.opts.Label,
			humanize.Bytes(uint64(completed)),
			humanize.Bytes(uint64(r.opts.Total)),
			percent,
			humanize.Bytes(uint64(speed)),
		)
		return
	}
	fmt.Fprintf(r.opts.Output, "\r[ckpt-sync] %s: %s | %s/s    ",
		r.opts.Label,
		humanize.Bytes(uint64(completed)),
		humanize.Bytes(uint64(speed)),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.written.Load()
	duration := time.Since(r.startTime)
	avg := float64(completed) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[ckpt-sync] %s: %s fetched in %s (%s/s)    \n",
		r.opts.Label,
		humanize.Bytes(uint64(completed)),
		duration.Round(time.Millisecond),
		humanize.Bytes(uint64(avg)),
	)
}
