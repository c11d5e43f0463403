package shm

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	BackendSysV = "sysv"
	BackendFile = "file"
	BackendHeap = "heap"
)

// Open picks a backend by name. key is used by sysv, path by file; heap
// gives a private segment nobody else can attach to.
func Open(backend string, key int, path string, size int) (Segment, error) {
	switch strings.ToLower(backend) {
	case BackendSysV, "":
		return OpenSysV(key, size)
	case BackendFile:
		return OpenFile(path, size)
	case BackendHeap:
		return NewHeap(size), nil
	default:
		return nil, errors.Errorf("unknown shared memory backend %q", backend)
	}
}
