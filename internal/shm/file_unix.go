//go:build unix

package shm

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	filePerm = 0o666

	sizeWaitStep  = 2 * time.Millisecond
	sizeWaitSteps = 50
)

type fileSegment struct {
	data    []byte
	created bool
}

// OpenFile creates or attaches a segment backed by a file mapped with
// MAP_SHARED, typically under /dev/shm. O_EXCL decides who creates it.
func OpenFile(path string, size int) (Segment, error) {
	created := true
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
	if errors.Is(err, os.ErrExist) {
		created = false
		f, err = os.OpenFile(path, os.O_RDWR, filePerm)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	if created {
		if err := f.Truncate(int64(size)); err != nil {
			_ = os.Remove(path)
			return nil, errors.Wrapf(err, "truncate %s", path)
		}
	} else if err := waitForSize(f, size); err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}

	return &fileSegment{data: data, created: created}, nil
}

// waitForSize covers the window between the creator's open and its truncate.
func waitForSize(f *os.File, size int) error {
	for i := 0; i < sizeWaitSteps; i++ {
		st, err := f.Stat()
		if err != nil {
			return errors.Wrapf(err, "stat %s", f.Name())
		}
		if st.Size() >= int64(size) {
			return nil
		}
		time.Sleep(sizeWaitStep)
	}
	return errors.Wrapf(ErrTooSmall, "%s", f.Name())
}

func (s *fileSegment) Bytes() []byte { return s.data }
func (s *fileSegment) Created() bool { return s.created }

func (s *fileSegment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return errors.Wrap(err, "munmap")
}
