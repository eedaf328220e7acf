//go:build !linux

package acquire

import "os"

func adviseSequential(*os.File) {}
