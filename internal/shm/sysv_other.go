//go:build !linux

package shm

import "github.com/pkg/errors"

var errNoSysV = errors.New("System V shared memory is only supported on linux")

func OpenSysV(key, size int) (Segment, error) {
	return nil, errNoSysV
}

func RemoveSysV(key int) error {
	return errNoSysV
}
