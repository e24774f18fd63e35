//go:build linux || darwin

package buffer

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// allocMmap reserves an anonymous, private mapping of at least size bytes,
// rounded up to the page size — the same mechanism Shard uses for its
// double buffer, generalized to pool-of-N.
func allocMmap(size int) ([]byte, error) {
	aligned := alignSize(size)
	data, err := unix.Mmap(-1, 0, aligned,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, err
	}
	runtime.KeepAlive(data)
	return data, nil
}

func releaseBacking(b []byte) {
	_ = unix.Munmap(b)
}
