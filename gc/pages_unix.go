//go:build unix

package gc

import (
	"golang.org/x/sys/unix"
)

func osPageSize() int { return unix.Getpagesize() }

// sysAlloc returns zeroed memory, from an anonymous private mapping when
// useMmap is set.
func sysAlloc(size int, useMmap bool) ([]byte, bool, error) {
	if !useMmap {
		return make([]byte, size), false, nil
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return mem, true, nil
}

func sysFree(mem []byte, mapped bool) {
	if !mapped {
		return
	}
	if err := unix.Munmap(mem); err != nil {
		gcPanic("munmap failed: " + err.Error())
	}
}
