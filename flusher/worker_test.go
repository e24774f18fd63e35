package flusher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuffleio/partition-writer/notifier"
	"github.com/shuffleio/partition-writer/sink"
)

type fakeSink struct {
	written [][]byte
	err     error
	block   chan struct{}
}

func (f *fakeSink) Append(_ context.Context, segments [][]byte) (int64, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, s := range segments {
		f.written = append(f.written, s)
		n += int64(len(s))
	}
	return n, nil
}
func (f *fakeSink) Close() error    { return nil }
func (f *fakeSink) Kind() sink.Kind { return sink.LocalDisk }

func TestWorker_SubmitAndDrain(t *testing.T) {
	t.Run("DrainsTaskAndReturnsBuffer", func(t *testing.T) {
		w, err := NewWorker(0, 1024, 2, 4)
		require.NoError(t, err)
		defer w.Close()

		buf := w.BorrowBuffer(time.Second)
		require.NotNil(t, buf)
		buf.Append([]byte("payload"))

		n := notifier.New()
		fs := &fakeSink{}
		var flushed int64
		task := &Task{Buf: buf, Sink: fs, Notifier: n, OnFlushed: func(written int64) { flushed = written }}

		require.True(t, w.Submit(task, time.Second))

		err2, drained := n.AwaitDrain(time.Now().Add(time.Second))
		require.NoError(t, err2)
		assert.True(t, drained)
		assert.Equal(t, int64(7), flushed)
		assert.Equal(t, 2, w.Pool().Available())
	})

	t.Run("FailureLatchesErrorBeforeDecrementing", func(t *testing.T) {
		w, err := NewWorker(0, 1024, 1, 4)
		require.NoError(t, err)
		defer w.Close()

		buf := w.BorrowBuffer(time.Second)
		require.NotNil(t, buf)
		buf.Append([]byte("x"))

		n := notifier.New()
		boom := errors.New("disk failure")
		task := &Task{Buf: buf, Sink: &fakeSink{err: boom}, Notifier: n}

		require.True(t, w.Submit(task, time.Second))

		drainErr, drained := n.AwaitDrain(time.Now().Add(time.Second))
		assert.False(t, drained)
		assert.Equal(t, boom, drainErr)
	})

	t.Run("SubmitTimesOutWhenQueueFull", func(t *testing.T) {
		w, err := NewWorker(0, 1024, 3, 1)
		require.NoError(t, err)
		defer w.Close()

		block := make(chan struct{})
		defer close(block)

		n := notifier.New()
		blockingSink := &fakeSink{block: block}

		// First task occupies the drain goroutine (blocked in Append).
		require.True(t, w.Submit(&Task{Buf: w.BorrowBuffer(time.Second), Sink: blockingSink, Notifier: n}, time.Second))
		// Second fills the one queue slot.
		require.True(t, w.Submit(&Task{Buf: w.BorrowBuffer(time.Second), Sink: blockingSink, Notifier: n}, time.Second))

		// Third must time out: drain is busy, queue is full.
		thirdBuf := w.BorrowBuffer(time.Second)
		ok := w.Submit(&Task{Buf: thirdBuf, Sink: blockingSink, Notifier: n}, 50*time.Millisecond)
		assert.False(t, ok)
		// On a failed submit the task never ran; the caller owns returning
		// the buffer it borrowed.
		w.ReturnBuffer(thirdBuf)
	})
}

func TestManager_WorkerPinning(t *testing.T) {
	t.Run("SameIndexAlwaysReturnsSameWorker", func(t *testing.T) {
		m, err := NewManager(4, 1024, 2, 4)
		require.NoError(t, err)
		defer m.Close()

		w1 := m.Worker(2)
		w2 := m.Worker(2)
		assert.Same(t, w1, w2)
	})

	t.Run("WrapsOutOfRangeIndex", func(t *testing.T) {
		m, err := NewManager(3, 1024, 2, 4)
		require.NoError(t, err)
		defer m.Close()

		assert.Same(t, m.Worker(0), m.Worker(3))
	})
}
