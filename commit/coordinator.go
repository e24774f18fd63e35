// Package commit implements the Commit Coordinator: fanning out close()
// and destroy() across every writer of a shuffle in parallel, with a
// wall-clock deadline and partial-failure classification.
package commit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/shuffleio/partition-writer/config"
	"github.com/shuffleio/partition-writer/partition"
)

// LookupFunc resolves a replica ID to its live writer, mirroring the
// partition-location index the coordinator sits in front of. A false
// second return means "no writer registered for this ID": CommitFiles logs
// and skips such an ID without counting it as failed, while Destroy reports
// it in FailedDestroys.
type LookupFunc func(id string) (*partition.Writer, bool)

// CommitStatus is the coarse outcome of a CommitFiles call.
type CommitStatus int

const (
	Success CommitStatus = iota
	PartialSuccess
)

func (s CommitStatus) String() string {
	if s == PartialSuccess {
		return "PartialSuccess"
	}
	return "Success"
}

// CommitResult is the classified outcome of one CommitFiles fan-out.
type CommitResult struct {
	Status        CommitStatus
	Committed     []string
	Failed        []string
	StorageInfos  map[string]partition.StorageInfo
	MapIDBitmaps  map[string]*roaring.Bitmap
	SizeEstimates []int64
}

// DestroyResult is the classified outcome of one Destroy fan-out.
type DestroyResult struct {
	FailedDestroys []string
}

// Coordinator fans out Close/Destroy across writers looked up by ID.
type Coordinator struct {
	cfg    config.Config
	lookup LookupFunc

	mu             sync.Mutex
	mapperAttempts map[string][]int32
}

// NewCoordinator returns a Coordinator bounded by cfg.ShuffleCommitTimeout,
// resolving replica IDs via lookup.
func NewCoordinator(cfg config.Config, lookup LookupFunc) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		lookup:         lookup,
		mapperAttempts: make(map[string][]int32),
	}
}

// MapperAttempts returns the recorded attempt array for shuffleKey, if any
// has been recorded yet.
func (c *Coordinator) MapperAttempts(shuffleKey string) ([]int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attempts, ok := c.mapperAttempts[shuffleKey]
	return attempts, ok
}

func (c *Coordinator) recordMapperAttempts(shuffleKey string, attempts []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mapperAttempts[shuffleKey]; !exists {
		c.mapperAttempts[shuffleKey] = attempts
	}
}

// CommitFiles fans out close() across every primary and secondary replica
// ID, records mapperAttempts first-writer-wins, and classifies the result.
func (c *Coordinator) CommitFiles(ctx context.Context, shuffleKey string, primaryIDs, secondaryIDs []string, mapperAttempts []int32) *CommitResult {
	c.recordMapperAttempts(shuffleKey, mapperAttempts)

	ids := make([]string, 0, len(primaryIDs)+len(secondaryIDs))
	ids = append(ids, primaryIDs...)
	ids = append(ids, secondaryIDs...)

	results := c.closeAll(ctx, ids)
	return c.classify(results)
}

type closeOutcome struct {
	id           string
	resolved     bool
	found        bool
	bytesFlushed int64
	storageInfo  partition.StorageInfo
	err          error
}

// closeAll runs Close concurrently over ids via an errgroup, and gives up
// waiting once shuffleCommitTimeout elapses. Closes already inside the
// sink's I/O cannot be safely interrupted, so goroutines that haven't
// reported back by the deadline keep running in the background; their
// eventual result is simply never observed (closeOutcome.resolved stays
// false), matching spec.md §5's cancellation note.
func (c *Coordinator) closeAll(ctx context.Context, ids []string) []closeOutcome {
	outcomes := make([]closeOutcome, len(ids))
	var mu sync.Mutex

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			w, found := c.lookup(id)
			if !found {
				log.Printf("[WARNING] commit coordinator: writer %s not registered, skipping", id)
				mu.Lock()
				outcomes[i] = closeOutcome{id: id, resolved: true, found: false}
				mu.Unlock()
				return nil
			}

			n, err := w.Close(ctx)
			info, _ := w.StorageInfo()
			mu.Lock()
			defer mu.Unlock()
			outcomes[i] = closeOutcome{
				id:           id,
				resolved:     true,
				found:        true,
				bytesFlushed: n,
				storageInfo:  info,
				err:          err,
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.cfg.ShuffleCommitTimeout):
		log.Printf("[WARNING] commit coordinator: close fan-out did not finish within %s: %v", c.cfg.ShuffleCommitTimeout, ErrCancelled)
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := make([]closeOutcome, len(outcomes))
	copy(snapshot, outcomes)
	return snapshot
}

func (c *Coordinator) classify(outcomes []closeOutcome) *CommitResult {
	result := &CommitResult{
		StorageInfos: make(map[string]partition.StorageInfo),
		MapIDBitmaps: make(map[string]*roaring.Bitmap),
	}

	for _, o := range outcomes {
		if !o.resolved || !o.found {
			continue
		}
		if o.err != nil {
			result.Failed = append(result.Failed, o.id)
			continue
		}
		if o.bytesFlushed == 0 || !o.storageInfo.Available {
			continue // dropped silently
		}

		result.Committed = append(result.Committed, o.id)
		result.StorageInfos[o.id] = o.storageInfo
		if w, ok := c.lookup(o.id); ok {
			if bm := w.FileInfo().MapIDBitmap(); bm != nil {
				result.MapIDBitmaps[o.id] = bm
			}
		}
		if o.bytesFlushed >= c.cfg.MinPartitionSizeToEstimate {
			result.SizeEstimates = append(result.SizeEstimates, o.bytesFlushed)
		}
	}

	result.Status = Success
	if len(result.Failed) > 0 {
		result.Status = PartialSuccess
	}
	return result
}

// Destroy fans out destroy() across every ID given — primaries and
// secondaries alike, with no distinction between them. This is the fix for
// the open question in spec.md §9: destroy everything allocated so far
// rather than only the primaries. IDs with no live writer are reported as
// failed destroys; destroy() itself never raises.
func (c *Coordinator) Destroy(ctx context.Context, ids []string) *DestroyResult {
	var mu sync.Mutex
	var failedDestroys []string

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			w, found := c.lookup(id)
			if !found {
				mu.Lock()
				failedDestroys = append(failedDestroys, id)
				mu.Unlock()
				return nil
			}
			if err := w.Destroy(ctx); err != nil {
				// Destroy is documented never to raise; guard anyway so a
				// future change here can't silently swallow a real bug.
				log.Printf("[ERROR] commit coordinator: destroy(%s) unexpectedly returned an error: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return &DestroyResult{FailedDestroys: failedDestroys}
}

// ErrCancelled marks a close fan-out that did not complete before
// shuffleCommitTimeout elapsed.
var ErrCancelled = fmt.Errorf("commit coordinator: aggregate cancelled")
