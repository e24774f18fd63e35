// Package sink implements the Backing Sink abstraction: a sequential,
// no-seek append target that is either a local file (vectored pwritev on
// Linux, without O_DIRECT) or a distributed filesystem object (GCS-backed).
package sink

import "context"

// Kind identifies which backing store a sink targets.
type Kind int

const (
	LocalDisk Kind = iota
	DistributedFS
)

func (k Kind) String() string {
	if k == DistributedFS {
		return "DistributedFS"
	}
	return "LocalDisk"
}

// Sink is the capability set every backing store must provide. Append must
// be called sequentially by a single caller; sinks do not support seeking
// or concurrent appenders.
type Sink interface {
	// Append writes segments, in order, as a single logical append.
	Append(ctx context.Context, segments [][]byte) (n int64, err error)
	// Close flushes and releases the sink's resources.
	Close() error
	// Kind reports which backing store this sink targets.
	Kind() Kind
}

// DistributedSink is the superset of capabilities a distributed-filesystem
// sink additionally exposes, used only at close.
type DistributedSink interface {
	Sink
	Exists(ctx context.Context, path string) (bool, error)
	Create(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	// WriteObject writes the entirety of data to path as a single new
	// object — used for the index file, which is written whole rather
	// than appended to incrementally.
	WriteObject(ctx context.Context, path string, data []byte) error
}
