// Command shuffleworker is a manual-exercise demo binary: it wires a
// config.Config, a flusher.Manager, a devicemon.Monitor, a handful of
// partition.Writers, and a commit.Coordinator together against a local
// directory, writes some sample data, and commits it. It is not a
// production RPC server — see spec.md §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/shuffleio/partition-writer/commit"
	"github.com/shuffleio/partition-writer/config"
	"github.com/shuffleio/partition-writer/devicemon"
	"github.com/shuffleio/partition-writer/flusher"
	"github.com/shuffleio/partition-writer/partition"
	"github.com/shuffleio/partition-writer/sink"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "shuffle-data", "directory to write partition files under")
		numPartitions = flag.Int("num-partitions", 4, "number of partition writers to simulate")
		numWorkers   = flag.Int("num-workers", 2, "number of flusher workers (disks)")
		writeSizeKB  = flag.Int("write-size-kb", 64, "size of each simulated write, in KiB")
		writesPer    = flag.Int("writes-per-partition", 20, "number of writes per partition before close")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.FlushBufferSize = 256 * 1024
	cfg.ChunkSize = 4 * 1024 * 1024
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	manager, err := flusher.NewManager(*numWorkers, cfg.FlushBufferSize, 4, 8)
	if err != nil {
		log.Fatalf("failed to start flusher manager: %v", err)
	}
	defer manager.Close()

	mon := devicemon.New()

	registry := make(map[string]*partition.Writer, *numPartitions)
	for i := 0; i < *numPartitions; i++ {
		id := fmt.Sprintf("partition-%d", i)
		path := filepath.Join(*dataDir, id+".data")

		backing, err := sink.NewLocalSink(path)
		if err != nil {
			log.Fatalf("partition %s: failed to open sink: %v", id, err)
		}

		fi := partition.NewFileInfo(path, cfg.RangeReadFilter)
		worker := manager.Worker(i)
		w := partition.NewWriter(cfg, fi, backing, worker, *dataDir, mon, func() {
			log.Printf("partition %s: destroy hook fired", id)
		})
		registry[id] = w
	}

	log.Printf("writing %d x %d KiB to %d partitions...", *writesPer, *writeSizeKB, *numPartitions)
	payload := make([]byte, *writeSizeKB*1024)
	for id, w := range registry {
		for i := 0; i < *writesPer; i++ {
			w.IncrementPendingWrites()
			if err := w.Write(payload); err != nil {
				log.Printf("partition %s: write failed: %v", id, err)
				break
			}
		}
	}

	lookup := func(id string) (*partition.Writer, bool) {
		w, ok := registry[id]
		return w, ok
	}
	coordinator := commit.NewCoordinator(cfg, lookup)

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := coordinator.CommitFiles(ctx, "demo-shuffle", ids, nil, []int32{1})
	log.Printf("commit result: %s, committed=%v failed=%v", result.Status, result.Committed, result.Failed)
	for id, info := range result.StorageInfos {
		log.Printf("  %s: kind=%s location=%s", id, info.Kind, info.MountOrPath)
	}
}
