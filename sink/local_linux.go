//go:build linux

package sink

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// linuxAppender issues vectored pwritev syscalls at a tracked offset,
// grounded on file_writer_linux.go's writevAlignedWithOffset.
type linuxAppender struct {
	fd     int
	offset int64
}

func openLocalAppender(path string) (localAppender, *os.File, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	file := os.NewFile(uintptr(fd), path)
	return &linuxAppender{fd: fd}, file, nil
}

func (a *linuxAppender) append(segments [][]byte) (int64, error) {
	nonEmpty := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		if len(seg) > 0 {
			nonEmpty = append(nonEmpty, seg)
		}
	}
	if len(nonEmpty) == 0 {
		return 0, nil
	}

	n, err := unix.Pwritev(a.fd, nonEmpty, a.offset)
	if err != nil {
		return int64(n), fmt.Errorf("pwritev failed: %w", err)
	}
	a.offset += int64(n)
	return int64(n), nil
}

func (a *linuxAppender) sync() error {
	return unix.Fsync(a.fd)
}
