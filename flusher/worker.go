// Package flusher implements the per-disk single-threaded flush drain and
// the bounded task queue that feeds it, plus the buffer pool it owns.
package flusher

import (
	"context"
	"fmt"
	"time"

	"github.com/shuffleio/partition-writer/buffer"
)

// Worker is a single disk's (or mount's) flush executor: one drain
// goroutine pulling from a bounded FIFO queue, plus the buffer pool it
// owns. Pinning a writer to one Worker's index is what gives the write
// path intra-writer flush ordering — tasks from the same writer always
// land on the same queue and are drained in submission order.
type Worker struct {
	index int
	pool  *buffer.Pool
	queue chan *Task
	done  chan struct{}
}

// NewWorker starts a drain goroutine backed by a buffer pool of poolSize
// buffers of bufferCapacity bytes each, and a bounded task queue of
// queueDepth.
func NewWorker(index, bufferCapacity, poolSize, queueDepth int) (*Worker, error) {
	pool, err := buffer.NewPool(bufferCapacity, poolSize)
	if err != nil {
		return nil, fmt.Errorf("flusher: worker %d: %w", index, err)
	}

	w := &Worker{
		index: index,
		pool:  pool,
		queue: make(chan *Task, queueDepth),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w, nil
}

// Index returns this worker's pinning index.
func (w *Worker) Index() int { return w.index }

// Pool returns the buffer pool this worker owns.
func (w *Worker) Pool() *buffer.Pool { return w.pool }

// BorrowBuffer blocks up to timeout for a free buffer. A nil return is the
// recoverable BufferExhausted signal the caller (the partition writer)
// must translate into poisoning itself.
func (w *Worker) BorrowBuffer(timeout time.Duration) *buffer.Composite {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.pool.Borrow(ctx)
}

// ReturnBuffer idempotently returns buf to the pool. Safe from any
// goroutine.
func (w *Worker) ReturnBuffer(buf *buffer.Composite) {
	w.pool.Return(buf)
}

// Submit enqueues task, blocking up to timeout if the queue is full.
// Returns false on timeout; on false the task never ran and never will, so
// the caller is responsible for returning task.Buf to the pool itself.
func (w *Worker) Submit(task *Task, timeout time.Duration) bool {
	task.Notifier.IncPending()
	select {
	case w.queue <- task:
		return true
	case <-time.After(timeout):
		// Undo the increment: the task never entered the queue, so no
		// drain will ever decrement it.
		task.Notifier.DecPending()
		return false
	}
}

// drain is the single thread that pulls tasks in FIFO order and runs them
// sequentially, guaranteeing per-writer flush ordering.
func (w *Worker) drain() {
	for {
		select {
		case task := <-w.queue:
			task.Run(context.Background(), w.pool)
		case <-w.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case task := <-w.queue:
					task.Run(context.Background(), w.pool)
				default:
					return
				}
			}
		}
	}
}

// Close stops the drain goroutine after draining the queue, and releases
// the buffer pool. Callers must ensure no further Submit calls race with
// Close.
func (w *Worker) Close() {
	close(w.done)
	w.pool.Close()
}
