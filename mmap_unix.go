//go:build unix

package terrain

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps the first size bytes of file read-only into memory. The
// returned function unmaps it.
func mapFile(file *os.File, size int64) ([]byte, func() error, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error {
		return unix.Munmap(data)
	}, nil
}
