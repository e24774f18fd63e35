//go:build !linux && !darwin

package buffer

// allocMmap falls back to a plain heap allocation on platforms without an
// anonymous-mmap syscall wrapper in golang.org/x/sys/unix.
func allocMmap(size int) ([]byte, error) {
	return make([]byte, alignSize(size)), nil
}

func releaseBacking(b []byte) {
	// Left to the garbage collector.
}
