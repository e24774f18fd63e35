package commit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuffleio/partition-writer/config"
	"github.com/shuffleio/partition-writer/devicemon"
	"github.com/shuffleio/partition-writer/flusher"
	"github.com/shuffleio/partition-writer/partition"
	"github.com/shuffleio/partition-writer/sink"
)

type failingSink struct{}

func (f *failingSink) Append(_ context.Context, _ [][]byte) (int64, error) {
	return 0, errors.New("disk exploded")
}
func (f *failingSink) Close() error    { return nil }
func (f *failingSink) Kind() sink.Kind { return sink.LocalDisk }

func TestCoordinator_S6CommitPartialSuccess(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ShuffleCommitTimeout = 2 * time.Second
	cfg.FlushBufferSize = 1024
	cfg.ChunkSize = 4096
	cfg.CloseTimeout = 2 * time.Second

	worker, err := flusher.NewWorker(0, cfg.FlushBufferSize, 8, 8)
	require.NoError(t, err)
	defer worker.Close()
	mon := devicemon.New()

	registry := map[string]*partition.Writer{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("replica-%d", i)
		dir := t.TempDir()
		s, err := sink.NewLocalSink(filepath.Join(dir, "data.bin"))
		require.NoError(t, err)
		fi := partition.NewFileInfo(s.Path(), false)
		w := partition.NewWriter(cfg, fi, s, worker, dir, mon, nil)
		require.NoError(t, w.Write([]byte("hello")))
		registry[id] = w
	}

	const failingID = "replica-fail"
	fi := partition.NewFileInfo("replica-fail.bin", false)
	failWriter := partition.NewWriter(cfg, fi, &failingSink{}, worker, "/mnt/x", mon, nil)
	require.NoError(t, failWriter.Write([]byte("hello")))
	registry[failingID] = failWriter

	lookup := func(id string) (*partition.Writer, bool) {
		w, ok := registry[id]
		return w, ok
	}

	coord := NewCoordinator(cfg, lookup)
	ids := []string{"replica-0", "replica-1", "replica-2", "replica-3", failingID}
	result := coord.CommitFiles(context.Background(), "shuffle-1", ids, nil, []int32{1, 2, 3})

	assert.Equal(t, PartialSuccess, result.Status)
	assert.ElementsMatch(t, []string{failingID}, result.Failed)
	assert.Len(t, result.Committed, 4)
	for _, id := range result.Committed {
		info, ok := result.StorageInfos[id]
		assert.True(t, ok)
		assert.True(t, info.Available)
	}
}

func TestCoordinator_MapperAttemptsFirstWriterWins(t *testing.T) {
	cfg := config.DefaultConfig()
	coord := NewCoordinator(cfg, func(string) (*partition.Writer, bool) { return nil, false })

	coord.recordMapperAttempts("shuffle-1", []int32{1, 2, 3})
	coord.recordMapperAttempts("shuffle-1", []int32{9, 9, 9})

	attempts, ok := coord.MapperAttempts("shuffle-1")
	require.True(t, ok)
	assert.Equal(t, []int32{1, 2, 3}, attempts)
}

func TestCoordinator_UnregisteredWriterSkippedNotFailed(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ShuffleCommitTimeout = time.Second
	coord := NewCoordinator(cfg, func(string) (*partition.Writer, bool) { return nil, false })

	result := coord.CommitFiles(context.Background(), "shuffle-2", []string{"ghost"}, nil, nil)
	assert.Equal(t, Success, result.Status)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Committed)
}

func TestCoordinator_DestroyReportsMissingWriters(t *testing.T) {
	cfg := config.DefaultConfig()

	worker, err := flusher.NewWorker(0, cfg.FlushBufferSize, 4, 4)
	require.NoError(t, err)
	defer worker.Close()
	mon := devicemon.New()

	dir := t.TempDir()
	s, err := sink.NewLocalSink(filepath.Join(dir, "data.bin"))
	require.NoError(t, err)
	fi := partition.NewFileInfo(s.Path(), false)
	w := partition.NewWriter(cfg, fi, s, worker, dir, mon, nil)

	registry := map[string]*partition.Writer{"present": w}
	lookup := func(id string) (*partition.Writer, bool) {
		wr, ok := registry[id]
		return wr, ok
	}

	coord := NewCoordinator(cfg, lookup)
	result := coord.Destroy(context.Background(), []string{"present", "ghost"})

	assert.Equal(t, []string{"ghost"}, result.FailedDestroys)
}
