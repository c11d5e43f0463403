//go:build !unix

package shm

import "github.com/pkg/errors"

func OpenFile(path string, size int) (Segment, error) {
	return nil, errors.New("file-backed shared memory requires a unix platform")
}
