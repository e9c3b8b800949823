//go:build !unix

package gc

func osPageSize() int { return 4096 }

// sysAlloc ignores useMmap on systems without anonymous mappings.
func sysAlloc(size int, useMmap bool) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func sysFree(mem []byte, mapped bool) {}
