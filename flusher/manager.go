package flusher

import "fmt"

// Manager owns the full set of per-disk Workers and exposes lookup by
// index. Choosing each writer's index (e.g. round-robin over local mounts
// or a hash of the partition key) is the caller's responsibility; the
// chosen *Worker is passed to partition.NewWriter, which keeps it for the
// writer's lifetime.
type Manager struct {
	workers []*Worker
}

// NewManager starts numWorkers Workers, each with its own buffer pool and
// drain goroutine.
func NewManager(numWorkers, bufferCapacity, poolSizePerWorker, queueDepth int) (*Manager, error) {
	if numWorkers <= 0 {
		return nil, fmt.Errorf("flusher: numWorkers must be > 0, got %d", numWorkers)
	}

	m := &Manager{workers: make([]*Worker, 0, numWorkers)}
	for i := 0; i < numWorkers; i++ {
		w, err := NewWorker(i, bufferCapacity, poolSizePerWorker, queueDepth)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.workers = append(m.workers, w)
	}
	return m, nil
}

// NumWorkers returns the number of workers managed.
func (m *Manager) NumWorkers() int { return len(m.workers) }

// Worker returns the worker pinned to index, wrapping out-of-range indices
// into [0, NumWorkers).
func (m *Manager) Worker(index int) *Worker {
	n := len(m.workers)
	if n == 0 {
		return nil
	}
	idx := index % n
	if idx < 0 {
		idx += n
	}
	return m.workers[idx]
}

// Close stops every worker's drain goroutine and releases its pool.
func (m *Manager) Close() {
	for _, w := range m.workers {
		if w != nil {
			w.Close()
		}
	}
}
