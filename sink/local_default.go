//go:build !linux

package sink

import (
	"fmt"
	"os"
)

// portableAppender falls back to sequential WriteAt, grounded on
// file_writer_default.go's non-Linux SizeFileWriter.
type portableAppender struct {
	file   *os.File
	offset int64
}

func openLocalAppender(path string) (localAppender, *os.File, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &portableAppender{file: file}, file, nil
}

func (a *portableAppender) append(segments [][]byte) (int64, error) {
	var total int64
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		n, err := a.file.WriteAt(seg, a.offset+total)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	a.offset += total
	return total, nil
}

func (a *portableAppender) sync() error {
	return a.file.Sync()
}
