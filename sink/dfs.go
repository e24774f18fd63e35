package sink

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// DFSSink appends sequentially to a GCS object via a single resumable
// Writer, grounded on the teacher's Uploader/ChunkManager use of
// cloud.google.com/go/storage as the distributed-filesystem backend.
type DFSSink struct {
	client *storage.Client
	bucket string
	path   string
	writer *storage.Writer
	n      int64
}

// NewDFSSink opens a resumable writer for bucket/path. The caller retains
// ownership of client (it is shared across sinks and closed by whoever
// constructed it).
func NewDFSSink(ctx context.Context, client *storage.Client, bucket, path string) (*DFSSink, error) {
	w := client.Bucket(bucket).Object(path).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return &DFSSink{client: client, bucket: bucket, path: path, writer: w}, nil
}

func (s *DFSSink) Append(_ context.Context, segments [][]byte) (int64, error) {
	var total int64
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		n, err := s.writer.Write(seg)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("dfs sink: write to %s failed: %w", s.path, err)
		}
	}
	s.n += total
	return total, nil
}

func (s *DFSSink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("dfs sink: close %s failed: %w", s.path, err)
	}
	return nil
}

func (s *DFSSink) Kind() Kind { return DistributedFS }

// Path returns the object path this sink targets.
func (s *DFSSink) Path() string { return s.path }

func (s *DFSSink) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	return false, fmt.Errorf("dfs sink: exists(%s) failed: %w", path, err)
}

func (s *DFSSink) Create(ctx context.Context, path string) error {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if err := w.Close(); err != nil {
		return fmt.Errorf("dfs sink: create(%s) failed: %w", path, err)
	}
	return nil
}

func (s *DFSSink) Delete(ctx context.Context, path string) error {
	if err := s.client.Bucket(s.bucket).Object(path).Delete(ctx); err != nil {
		return fmt.Errorf("dfs sink: delete(%s) failed: %w", path, err)
	}
	return nil
}

// WriteObject writes the entirety of data to a single new object in one
// shot — used for the index file, which is written whole rather than
// appended to incrementally. The success marker is written by Create.
func (s *DFSSink) WriteObject(ctx context.Context, path string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return fmt.Errorf("dfs sink: write object %s failed: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("dfs sink: close object %s failed: %w", path, err)
	}
	return nil
}
