//go:build linux

package acquire

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential hints a single forward pass over f.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_WILLNEED)
}
