package partition

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/shuffleio/partition-writer/sink"
)

// FileInfo is the append-only metadata record owned by exactly one writer
// until close, then frozen and published: backing-store kind, primary and
// auxiliary paths, the chunk-offset list, and an optional map-id presence
// bitmap.
type FileInfo struct {
	Kind        sink.Kind
	PrimaryPath string
	// AuxPaths holds the DFS sidecar paths keyed by role: "success",
	// "index", "peerSuccess". Empty for local-disk files.
	AuxPaths map[string]string

	mu            sync.Mutex
	chunkOffsets  []int64
	mapIDPresence *roaring.Bitmap
}

// NewFileInfo returns a FileInfo for a local-disk writer.
func NewFileInfo(primaryPath string, trackMapIDs bool) *FileInfo {
	fi := &FileInfo{Kind: sink.LocalDisk, PrimaryPath: primaryPath}
	if trackMapIDs {
		fi.mapIDPresence = roaring.New()
	}
	return fi
}

// NewDFSFileInfo returns a FileInfo for a DFS writer, with its sidecar
// paths derived from primaryPath per spec.md §6: `<path>.success`,
// `<path>.index`, and the peer's `<peerPath>.success`.
func NewDFSFileInfo(primaryPath, peerPrimaryPath string, trackMapIDs bool) *FileInfo {
	fi := &FileInfo{
		Kind:        sink.DistributedFS,
		PrimaryPath: primaryPath,
		AuxPaths: map[string]string{
			"success":     primaryPath + ".success",
			"index":       primaryPath + ".index",
			"peerSuccess": peerPrimaryPath + ".success",
		},
	}
	if trackMapIDs {
		fi.mapIDPresence = roaring.New()
	}
	return fi
}

// AddMapID records mapID as present, if map-id tracking is enabled for this
// file. No-op otherwise.
func (fi *FileInfo) AddMapID(mapID uint32) {
	if fi.mapIDPresence != nil {
		fi.mapIDPresence.Add(mapID)
	}
}

// MapIDBitmap returns the presence bitmap, or nil if tracking is disabled.
func (fi *FileInfo) MapIDBitmap() *roaring.Bitmap {
	return fi.mapIDPresence
}

// AddChunkOffset appends offset to the chunk-offset list. Callers (the
// writer) are responsible for maintaining monotonicity; this only guards
// concurrent access to the slice.
func (fi *FileInfo) AddChunkOffset(offset int64) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.chunkOffsets = append(fi.chunkOffsets, offset)
}

// LastChunkOffset returns the most recently recorded offset, and whether
// any offset has been recorded yet.
func (fi *FileInfo) LastChunkOffset() (int64, bool) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if len(fi.chunkOffsets) == 0 {
		return 0, false
	}
	return fi.chunkOffsets[len(fi.chunkOffsets)-1], true
}

// Offsets returns a read-only copy of the chunk-offset list.
func (fi *FileInfo) Offsets() []int64 {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	out := make([]int64, len(fi.chunkOffsets))
	copy(out, fi.chunkOffsets)
	return out
}

// encodeIndex serializes offsets in the spec's DFS index-file format:
// a 4-byte big-endian signed count followed by that many 8-byte
// big-endian signed offsets.
func encodeIndex(offsets []int64) []byte {
	buf := make([]byte, 4+8*len(offsets))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(offsets)))
	for i, off := range offsets {
		binary.BigEndian.PutUint64(buf[4+8*i:4+8*i+8], uint64(off))
	}
	return buf
}

// decodeIndex parses the format encodeIndex produces. Used by tests to
// assert the round trip, and available to a reader-side consumer.
func decodeIndex(data []byte) ([]int64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("partition: index file too short: %d bytes", len(data))
	}
	count := int(int32(binary.BigEndian.Uint32(data[0:4])))
	if count < 0 {
		return nil, fmt.Errorf("partition: index file has negative count %d", count)
	}
	want := 4 + 8*count
	if len(data) < want {
		return nil, fmt.Errorf("partition: index file truncated: want %d bytes, got %d", want, len(data))
	}
	offsets := make([]int64, count)
	for i := 0; i < count; i++ {
		offsets[i] = int64(binary.BigEndian.Uint64(data[4+8*i : 4+8*i+8]))
	}
	return offsets, nil
}
