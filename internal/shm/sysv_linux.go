//go:build linux

package shm

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const sysvPerm = 0o666

type sysvSegment struct {
	id      int
	data    []byte
	created bool
}

// OpenSysV creates or attaches the System V segment identified by key.
// Exclusive creation decides the race between processes: the one whose
// IPC_EXCL call succeeds is the creator, every other caller attaches.
func OpenSysV(key, size int) (Segment, error) {
	created := true
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|unix.IPC_EXCL|sysvPerm)
	if errors.Is(err, unix.EEXIST) {
		created = false
		id, err = unix.SysvShmGet(key, size, sysvPerm)
	}
	if err != nil {
		if errors.Is(err, unix.EINVAL) {
			return nil, errors.Wrapf(ErrTooSmall, "shmget key %#x", key)
		}
		return nil, errors.Wrapf(err, "shmget key %#x", key)
	}

	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "shmat id %d", id)
	}
	if len(data) < size {
		_ = unix.SysvShmDetach(data)
		return nil, errors.Wrapf(ErrTooSmall, "shm id %d has %d bytes, want %d", id, len(data), size)
	}

	return &sysvSegment{id: id, data: data, created: created}, nil
}

func (s *sysvSegment) Bytes() []byte { return s.data }
func (s *sysvSegment) Created() bool { return s.created }

func (s *sysvSegment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.data)
	s.data = nil
	return errors.Wrap(err, "shmdt")
}

// RemoveSysV marks the segment for deletion once every process detaches.
// This is the operator action that ends a store's life.
func RemoveSysV(key int) error {
	id, err := unix.SysvShmGet(key, 0, 0)
	if err != nil {
		return errors.Wrapf(err, "shmget key %#x", key)
	}
	_, err = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return errors.Wrapf(err, "shmctl rmid %d", id)
}
