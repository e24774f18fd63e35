package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSink appends sequentially to a single local file. MountPoint is the
// directory the file lives under; partition.Writer's StorageInfo does not
// read it and reports the mount the writer was constructed with instead.
type LocalSink struct {
	path       string
	mountPoint string
	file       *os.File
	impl       localAppender
}

// localAppender is the platform-specific append/close strategy; Linux uses
// vectored pwritev (buffered, not O_DIRECT), other platforms fall back to
// WriteAt.
type localAppender interface {
	append(segments [][]byte) (int64, error)
	sync() error
}

// NewLocalSink opens path for sequential append, creating parent
// directories as needed.
func NewLocalSink(path string) (*LocalSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: failed to create directory %s: %w", dir, err)
	}

	impl, file, err := openLocalAppender(path)
	if err != nil {
		return nil, fmt.Errorf("sink: failed to open %s: %w", path, err)
	}

	return &LocalSink{
		path:       path,
		mountPoint: dir,
		file:       file,
		impl:       impl,
	}, nil
}

func (s *LocalSink) Append(_ context.Context, segments [][]byte) (int64, error) {
	return s.impl.append(segments)
}

func (s *LocalSink) Close() error {
	if err := s.impl.sync(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("sink: failed to sync %s: %w", s.path, err)
	}
	return s.file.Close()
}

func (s *LocalSink) Kind() Kind { return LocalDisk }

// Path returns the sink's file path.
func (s *LocalSink) Path() string { return s.path }

// MountPoint returns the directory the sink's file lives under.
func (s *LocalSink) MountPoint() string { return s.mountPoint }
