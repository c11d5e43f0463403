package store

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/codec"
	"github.com/Heidric/shmbridge/internal/customerrors"
)

const (
	// Magic marks a published record ("SNMP").
	Magic uint32 = 0x534E4D50
	// LayoutVersion changes whenever a field moves or changes size.
	LayoutVersion uint32 = 1

	textSlot  = codec.MaxDisplayText + 1
	textWords = textSlot / 8

	// seqSpins bounds both text readers and writers.
	seqSpins = 64
)

// record is the shared layout. Every field is accessed atomically; offsets
// are fixed and checked in tests against RecordSize.
type record struct {
	magic             atomic.Uint32
	version           atomic.Uint32
	bytesReceived     atomic.Uint64
	bytesSent         atomic.Uint64
	packetsLost       atomic.Uint64
	latency           atomic.Int32 // microseconds
	_                 uint32       // reserved, formerly cached uptime
	cpuUsage          text
	memoryUsage       text
	activeConnections atomic.Uint32
	_                 uint32
	totalConnections  atomic.Uint64
	startTime         atomic.Int64 // unix nanoseconds
}

// RecordSize is the number of bytes a segment must provide.
const RecordSize = int(unsafe.Sizeof(record{}))

// text is a NUL-terminated display string guarded by a sequence lock.
// An odd seq means a writer is inside. Words are packed little-endian.
type text struct {
	seq   atomic.Uint32
	_     uint32
	words [textWords]atomic.Uint64
}

func (t *text) store(s string) error {
	if len(s) > codec.MaxDisplayText {
		return errors.Wrapf(customerrors.ErrTextTooLong, "%q is %d bytes, limit %d", s, len(s), codec.MaxDisplayText)
	}
	if i := strings.IndexByte(s, 0); i >= 0 {
		return errors.Wrapf(customerrors.ErrInvalidValue, "NUL at offset %d", i)
	}

	var buf [textSlot]byte
	copy(buf[:], s)

	seq, err := t.lock()
	if err != nil {
		return err
	}
	for i := range t.words {
		t.words[i].Store(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	t.seq.Store(seq + 2)
	return nil
}

// lock takes the field for writing. A writer that dies while holding it
// leaves seq odd for good; the field then fails with ErrStoreUnavailable until
// the segment is removed. There is no takeover: a slow live writer cannot be
// told apart from a dead one.
func (t *text) lock() (uint32, error) {
	for i := 0; i < seqSpins; i++ {
		seq := t.seq.Load()
		if seq&1 == 0 && t.seq.CompareAndSwap(seq, seq+1) {
			return seq, nil
		}
		runtime.Gosched()
	}
	return 0, errors.Wrap(customerrors.ErrStoreUnavailable, "text field held by another writer")
}

func (t *text) load() ([]byte, error) {
	var buf [textSlot]byte
	for i := 0; i < seqSpins; i++ {
		before := t.seq.Load()
		if before&1 == 1 {
			runtime.Gosched()
			continue
		}
		for j := range t.words {
			binary.LittleEndian.PutUint64(buf[j*8:], t.words[j].Load())
		}
		if t.seq.Load() != before {
			continue
		}

		n := bytes.IndexByte(buf[:], 0)
		if n < 0 {
			return nil, errors.Wrap(customerrors.ErrTextTooLong, "display text is not terminated")
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
	return nil, errors.Wrap(customerrors.ErrStoreUnavailable, "text field kept changing during read")
}
