package flusher

import (
	"context"

	"github.com/shuffleio/partition-writer/buffer"
	"github.com/shuffleio/partition-writer/notifier"
	"github.com/shuffleio/partition-writer/sink"
)

// Task is a submittable unit: a buffer to drain into a sink, plus the
// notifier to report completion on. Once submitted a Task is immutable;
// Run releases its buffer back to pool regardless of outcome.
type Task struct {
	Buf      *buffer.Composite
	Sink     sink.Sink
	Notifier *notifier.Notifier
	// Final marks the tail flush issued from Close — callers use this to
	// force a chunk-boundary record even below the chunk-size threshold.
	Final bool
	// OnFlushed is invoked with the number of bytes written on success,
	// under no lock; the partition writer uses it to update bytesFlushed
	// and the chunk-offset list.
	OnFlushed func(n int64)
}

// Run drains the task's buffer into its sink. The buffer is always
// returned to pool before the pending counter is decremented, success or
// failure. On failure the error is latched on the notifier before the
// pending counter is decremented, so any goroutine waking on pending==0 is
// guaranteed to observe the error.
func (t *Task) Run(ctx context.Context, pool *buffer.Pool) {
	n, err := t.Sink.Append(ctx, t.Buf.Segments())
	pool.Return(t.Buf)
	if err != nil {
		t.Notifier.SetError(err)
		t.Notifier.DecPending()
		return
	}

	if t.OnFlushed != nil {
		t.OnFlushed(n)
	}
	t.Notifier.DecPending()
}
