package progress

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer guards bytes.Buffer; the reporter writes from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporter_CountsAndPrintsFinalStatus(t *testing.T) {
	out := &syncBuffer{}
	r := NewReporter(Options{
		Label:          "v2",
		Output:         out,
		UpdateInterval: time.Hour,
	})
	r.SetTotal(2000)
	r.Start()

	n, err := io.Copy(r, strings.NewReader(strings.Repeat("x", 2000)))
	assert.NoError(t, err)
	assert.Equal(t, int64(2000), n)
	assert.Equal(t, int64(2000), r.written.Load())

	r.Stop()
	got := out.String()
	assert.Contains(t, got, "[ckpt-sync] v2: 2.0 kB fetched in")
	assert.True(t, strings.HasSuffix(got, "\n"))
}

func TestReporter_PeriodicUpdates(t *testing.T) {
	out := &syncBuffer{}
	r := NewReporter(Options{
		Label:          "v1",
		Total:          1000,
		Output:         out,
		UpdateInterval: 10 * time.Millisecond,
	})
	r.Start()
	_, _ = r.Write(make([]byte, 500))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "(50.0%)")
	}, time.Second, 5*time.Millisecond)

	r.Stop()
}

func TestReporter_StopIsIdempotent(t *testing.T) {
	out := &syncBuffer{}
	r := NewReporter(Options{Label: "v1", Output: out, UpdateInterval: time.Hour})
	r.Start()
	r.Stop()
	r.Stop()

	assert.Equal(t, 1, strings.Count(out.String(), "fetched in"))
}

func TestReporter_StopWithoutStartPrintsNothing(t *testing.T) {
	out := &syncBuffer{}
	r := NewReporter(Options{Label: "v1", Output: out})
	r.Stop()
	assert.Empty(t, out.String())
}

func TestReporter_NilIsSilent(t *testing.T) {
	var r *Reporter
	r.Start()
	r.SetTotal(10)
	n, err := r.Write([]byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	r.Stop()
}

func TestReporter_SetTotalAfterStart(t *testing.T) {
	out := &syncBuffer{}
	r := NewReporter(Options{Label: "v2", Output: out, UpdateInterval: 10 * time.Millisecond})
	r.Start()
	r.SetTotal(400)
	_, _ = r.Write(make([]byte, 100))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "(25.0%)")
	}, time.Second, 5*time.Millisecond)

	r.Stop()
}
