// Package partition implements the per-file write-path state machine: the
// Partition Writer (accepts writes, triggers flushes, tracks chunk
// boundaries, closes/destroys) and its File Metadata record.
package partition

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shuffleio/partition-writer/buffer"
	"github.com/shuffleio/partition-writer/config"
	"github.com/shuffleio/partition-writer/devicemon"
	"github.com/shuffleio/partition-writer/flusher"
	"github.com/shuffleio/partition-writer/notifier"
	"github.com/shuffleio/partition-writer/sink"
)

// StorageInfo is published once a writer closes successfully: which
// backing store holds the bytes, where, and whether they are reachable.
type StorageInfo struct {
	Kind        sink.Kind
	MountOrPath string
	Available   bool
}

// Writer is the per-partition-replica state machine. Exactly one Writer
// owns one FileInfo and one open sink handle for its whole lifetime.
// States: Open -> Closing -> Closed, with an orthogonal Poisoned condition
// (any notifier error) and Destroyed reachable from any state.
type Writer struct {
	cfg         config.Config
	fileInfo    *FileInfo
	sinkHandle  sink.Sink
	dfsSink     sink.DistributedSink // nil unless sinkHandle also implements it
	worker      *flusher.Worker
	mount       string
	deviceMon   *devicemon.Monitor
	destroyHook func()
	notifier    *notifier.Notifier

	// OutstandingBytes, if set, is incremented by each write's size — the
	// external "disk buffer bytes outstanding" counter the memory manager
	// watches for back-pressure. Left nil-safe for callers that don't wire
	// one in.
	OutstandingBytes *atomic.Int64

	mu           sync.Mutex // guards current and nextBoundary
	current      *buffer.Composite
	nextBoundary int64

	numPendingWrites atomic.Int64
	bytesFlushed     atomic.Int64

	closeStarted atomic.Bool // claims the single Close() attempt
	closed       atomic.Bool // true once write()/close() must reject
	deleted      atomic.Bool // DFS peer won the replication race
	destroyOnce  sync.Once
}

// NewWriter constructs a Writer over an already-open backing sink, pinned
// to worker, and registers it with mon as an observer of mount. backing
// must be exactly what §4.E calls "the open sink handle" — either a local
// or a DFS sink; if it also implements sink.DistributedSink, close() uses
// the DFS finalization branch.
func NewWriter(cfg config.Config, fileInfo *FileInfo, backing sink.Sink, worker *flusher.Worker, mount string, mon *devicemon.Monitor, destroyHook func()) *Writer {
	w := &Writer{
		cfg:          cfg,
		fileInfo:     fileInfo,
		sinkHandle:   backing,
		worker:       worker,
		mount:        mount,
		deviceMon:    mon,
		destroyHook:  destroyHook,
		notifier:     notifier.New(),
		nextBoundary: cfg.ChunkSize,
	}
	if dfs, ok := backing.(sink.DistributedSink); ok {
		w.dfsSink = dfs
	}
	if mon != nil {
		mon.Register(mount, w)
	}
	return w
}

// IncrementPendingWrites announces an intent to write before the bytes
// arrive. Callers must pair each call with either a Write call (which
// decrements internally) or a DecrementPendingWrites if the bytes never
// materialize.
func (w *Writer) IncrementPendingWrites() { w.numPendingWrites.Add(1) }

// DecrementPendingWrites reconciles an announced-but-abandoned write.
func (w *Writer) DecrementPendingWrites() { w.numPendingWrites.Add(-1) }

// Write appends buf to the current composite buffer, flushing and
// borrowing a fresh one first if buf would not fit in the space remaining.
// Returns AlreadyClosedError once the writer has closed; returns nil
// silently (dropping buf) once poisoned, since the file is already
// unrecoverable.
func (w *Writer) Write(buf []byte) error {
	if w.closed.Load() {
		return &AlreadyClosedError{Op: "write"}
	}
	if w.notifier.HasError() {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.RangeReadFilter && len(buf) >= 16 {
		mapID := binary.NativeEndian.Uint32(buf[0:4])
		w.fileInfo.AddMapID(mapID)
	}

	if w.current == nil {
		newBuf := w.worker.BorrowBuffer(w.cfg.CloseTimeout)
		if newBuf == nil {
			err := &BufferExhaustedError{WorkerIndex: w.worker.Index()}
			w.notifier.SetError(err)
			w.DecrementPendingWrites()
			return &IOError{Err: err}
		}
		w.current = newBuf
	}

	if !w.current.Append(buf) {
		// current's backing region has no room left for buf: flush it
		// (triggerFlushLocked borrows its replacement) and retry once
		// against the fresh buffer.
		if err := w.triggerFlushLocked(false); err != nil {
			w.DecrementPendingWrites()
			return err
		}
		if !w.current.Append(buf) {
			w.DecrementPendingWrites()
			err := &OversizedWriteError{Size: len(buf), Capacity: w.current.Cap()}
			w.notifier.SetError(err)
			return &IOError{Err: err}
		}
	}

	if w.OutstandingBytes != nil {
		w.OutstandingBytes.Add(int64(len(buf)))
	}

	w.DecrementPendingWrites()
	return nil
}

// FlushOnMemoryPressure flushes the current buffer (non-final) and borrows
// a replacement, if the current buffer holds any bytes. Called by the
// external memory manager when it needs outstanding bytes to drop.
func (w *Writer) FlushOnMemoryPressure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil || w.current.Empty() {
		return nil
	}
	return w.triggerFlushLocked(false)
}

// triggerFlushLocked submits the current buffer as a task and, unless
// final, borrows its replacement. Must be called with w.mu held.
func (w *Writer) triggerFlushLocked(final bool) error {
	if w.current == nil || w.current.Empty() {
		return nil
	}

	buf := w.current
	w.current = nil

	task := &flusher.Task{
		Buf:      buf,
		Sink:     w.sinkHandle,
		Notifier: w.notifier,
		Final:    final,
		OnFlushed: func(n int64) {
			w.onFlushed(n, final)
		},
	}

	if !w.worker.Submit(task, w.cfg.CloseTimeout) {
		w.worker.ReturnBuffer(buf)
		err := &TimeoutError{Op: "flush submit"}
		w.notifier.SetError(err)
		return err
	}

	if final {
		return nil
	}

	newBuf := w.worker.BorrowBuffer(w.cfg.CloseTimeout)
	if newBuf == nil {
		err := &BufferExhaustedError{WorkerIndex: w.worker.Index()}
		w.notifier.SetError(err)
		return &IOError{Err: err}
	}
	w.current = newBuf
	return nil
}

// onFlushed is the flush task's completion callback: updates bytesFlushed
// and, per the chunk-boundary rule, the chunk-offset list.
func (w *Writer) onFlushed(n int64, final bool) {
	total := w.bytesFlushed.Add(n)

	w.mu.Lock()
	defer w.mu.Unlock()
	if total >= w.nextBoundary || final {
		last, ok := w.fileInfo.LastChunkOffset()
		if !ok || last != total {
			w.fileInfo.AddChunkOffset(total)
		}
		w.nextBoundary = total + w.cfg.ChunkSize
	}
}

// finalizeChunkBoundaryLocked force-appends bytesFlushed as a final chunk
// offset if the last recorded offset doesn't already match it. Must be
// called with w.mu held.
func (w *Writer) finalizeChunkBoundaryLocked() {
	total := w.bytesFlushed.Load()
	last, ok := w.fileInfo.LastChunkOffset()
	if !ok || last != total {
		w.fileInfo.AddChunkOffset(total)
	}
}

func (w *Writer) waitPendingWrites(deadline time.Time) bool {
	const pollInterval = 20 * time.Millisecond
	for {
		if w.numPendingWrites.Load() <= 0 {
			return true
		}
		if w.notifier.HasError() {
			return false
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// Close finalizes the writer: waits for producer quiescence, flushes the
// tail, waits for in-flight flushes to drain, finalizes the sink, and
// publishes FileInfo. Always returns the total bytes flushed, even when
// the post-close finalization step itself fails (that failure is logged,
// not re-thrown, per spec.md §4.E step 7).
//
// Every exit path — including the early pending-writes-timeout and
// drain-timeout/poisoned returns — runs through the same deferred scope
// guard, so a held current buffer is always returned to the pool and the
// sink is always closed exactly once, per spec.md §4.E step 5 ("return the
// current buffer to the pool — always").
func (w *Writer) Close(ctx context.Context) (int64, error) {
	if w.closed.Load() || !w.closeStarted.CompareAndSwap(false, true) {
		return w.bytesFlushed.Load(), &AlreadyClosedError{Op: "close"}
	}

	var sinkClosed bool
	defer func() {
		w.mu.Lock()
		if w.current != nil {
			w.worker.ReturnBuffer(w.current)
			w.current = nil
		}
		w.mu.Unlock()

		if !sinkClosed {
			if err := w.sinkHandle.Close(); err != nil {
				log.Printf("[WARNING] partition writer: close: sink close failed for %s: %v", w.fileInfo.PrimaryPath, err)
			}
		}

		if w.deviceMon != nil {
			w.deviceMon.Unregister(w.mount, w)
		}
	}()

	deadline := time.Now().Add(w.cfg.CloseTimeout)

	if !w.waitPendingWrites(deadline) {
		w.closed.Store(true)
		if err := w.notifier.CheckError(); err != nil {
			return w.bytesFlushed.Load(), &IOError{Err: err}
		}
		return w.bytesFlushed.Load(), &IOError{Err: &TimeoutError{Op: "close: pending writes"}}
	}

	w.closed.Store(true)

	w.mu.Lock()
	if w.current != nil && !w.current.Empty() {
		if err := w.triggerFlushLocked(true); err != nil {
			w.mu.Unlock()
			return w.bytesFlushed.Load(), err
		}
	}
	w.mu.Unlock()

	drainErr, drained := w.notifier.AwaitDrain(deadline)

	w.mu.Lock()
	w.finalizeChunkBoundaryLocked()
	w.mu.Unlock()

	if drainErr != nil {
		return w.bytesFlushed.Load(), &IOError{Err: drainErr}
	}
	if !drained {
		return w.bytesFlushed.Load(), &IOError{Err: &TimeoutError{Op: "close: pending flushes"}}
	}

	if err := w.finalizeSink(ctx); err != nil {
		log.Printf("[WARNING] partition writer: finalize failed for %s: %v", w.fileInfo.PrimaryPath, err)
	}
	sinkClosed = true

	return w.bytesFlushed.Load(), nil
}

// finalizeSink closes the backing sink and, for DFS, runs the
// success-marker / peer-race / index-file sequence from spec.md §6.
func (w *Writer) finalizeSink(ctx context.Context) error {
	if err := w.sinkHandle.Close(); err != nil {
		return fmt.Errorf("partition writer: sink close failed: %w", err)
	}
	if w.dfsSink == nil {
		return nil
	}

	peerPath := w.fileInfo.AuxPaths["peerSuccess"]
	peerExists, err := w.dfsSink.Exists(ctx, peerPath)
	if err != nil {
		return fmt.Errorf("partition writer: peer marker check failed: %w", err)
	}
	if peerExists {
		if err := w.dfsSink.Delete(ctx, w.fileInfo.PrimaryPath); err != nil {
			return fmt.Errorf("partition writer: losing-peer-race cleanup failed: %w", err)
		}
		w.deleted.Store(true)
		return nil
	}

	if err := w.dfsSink.Create(ctx, w.fileInfo.AuxPaths["success"]); err != nil {
		return fmt.Errorf("partition writer: success marker write failed: %w", err)
	}

	indexPath := w.fileInfo.AuxPaths["index"]
	if err := w.dfsSink.WriteObject(ctx, indexPath, encodeIndex(w.fileInfo.Offsets())); err != nil {
		return fmt.Errorf("partition writer: index file write failed: %w", err)
	}
	return nil
}

// Destroy tears the writer down: if not already Closed, poisons the
// notifier, returns any held buffer, and closes the sink; then deletes all
// associated files best-effort, unregisters, and runs the destroy hook.
// Idempotent — later calls are no-ops.
func (w *Writer) Destroy(ctx context.Context) error {
	w.destroyOnce.Do(func() {
		wasClosed := w.closed.Swap(true)
		if !wasClosed {
			w.notifier.SetError(ErrDestroyed)

			w.mu.Lock()
			if w.current != nil {
				w.worker.ReturnBuffer(w.current)
				w.current = nil
			}
			w.mu.Unlock()

			if err := w.sinkHandle.Close(); err != nil {
				log.Printf("[WARNING] partition writer: destroy: sink close failed for %s: %v", w.fileInfo.PrimaryPath, err)
			}
		}

		w.deleteAllFiles(ctx)

		if w.deviceMon != nil {
			w.deviceMon.Unregister(w.mount, w)
		}
		if w.destroyHook != nil {
			w.destroyHook()
		}
	})
	return nil
}

func (w *Writer) deleteAllFiles(ctx context.Context) {
	if w.dfsSink == nil {
		if err := os.Remove(w.fileInfo.PrimaryPath); err != nil && !os.IsNotExist(err) {
			log.Printf("[WARNING] partition writer: destroy: remove %s failed: %v", w.fileInfo.PrimaryPath, err)
		}
		return
	}

	paths := []string{w.fileInfo.PrimaryPath}
	for role, p := range w.fileInfo.AuxPaths {
		if role == "peerSuccess" {
			continue // not ours to delete
		}
		paths = append(paths, p)
	}
	for _, p := range paths {
		if err := w.dfsSink.Delete(ctx, p); err != nil {
			log.Printf("[DEBUG] partition writer: destroy: delete %s: %v", p, err)
		}
	}
}

// NotifyDeviceError poisons the notifier with a DeviceError identifying
// mount and status, and unregisters from the device monitor.
func (w *Writer) NotifyDeviceError(mount string, status devicemon.Status) {
	w.notifier.SetError(&DeviceError{Mount: mount, Status: status})
	if w.deviceMon != nil {
		w.deviceMon.Unregister(mount, w)
	}
}

// NotifyHealthy is a no-op at this layer.
func (w *Writer) NotifyHealthy(mount string) {}

// NotifyHighDiskUsage is a no-op at this layer.
func (w *Writer) NotifyHighDiskUsage(mount string) {}

// StorageInfo publishes the writer's storage descriptor. The second return
// is false until the writer has closed, or if a DFS peer won the
// replication race (deleted == true).
func (w *Writer) StorageInfo() (StorageInfo, bool) {
	if !w.closed.Load() {
		return StorageInfo{}, false
	}
	if w.dfsSink != nil {
		if w.deleted.Load() {
			return StorageInfo{}, false
		}
		return StorageInfo{Kind: sink.DistributedFS, MountOrPath: w.fileInfo.PrimaryPath, Available: true}, true
	}
	return StorageInfo{Kind: sink.LocalDisk, MountOrPath: w.mount, Available: true}, true
}

// BytesFlushed returns the monotone total of bytes successfully flushed.
func (w *Writer) BytesFlushed() int64 { return w.bytesFlushed.Load() }

// FileInfo returns the writer's metadata record.
func (w *Writer) FileInfo() *FileInfo { return w.fileInfo }

// Poisoned reports whether the notifier has latched an error.
func (w *Writer) Poisoned() bool { return w.notifier.HasError() }

// PoisonError returns the latched error, or nil.
func (w *Writer) PoisonError() error { return w.notifier.CheckError() }

// Deleted reports whether a DFS peer won the replication race.
func (w *Writer) Deleted() bool { return w.deleted.Load() }

// Mount returns the mount point this writer is pinned to, for device-error
// attribution and StorageInfo.
func (w *Writer) Mount() string { return w.mount }
