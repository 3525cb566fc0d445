//go:build !unix

package terrain

import (
	"io"
	"os"
)

// mapFile reads the first size bytes of file into memory on platforms without
// mmap.
func mapFile(file *os.File, size int64) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, nil, err
	}
	return data, func() error {
		return nil
	}, nil
}
