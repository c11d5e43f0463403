// Package shm provides memory segments that several processes can map at
// once. A segment is just bytes; the record layout on top of it lives in the
// store package.
package shm

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Segment is a mapped region of at least the requested size.
type Segment interface {
	// Bytes returns the mapped region. The slice is invalid after Close.
	Bytes() []byte
	// Created reports whether this call allocated the segment, as opposed
	// to attaching to one another process created first.
	Created() bool
	// Close detaches the mapping. It never removes the segment.
	Close() error
}

var ErrTooSmall = errors.New("segment smaller than requested size")

// Heap is a process-private segment backed by Go memory, 8-byte aligned.
// Used for tests and for running the bridge without a shared producer.
type Heap struct {
	words []uint64
	buf   []byte
}

func NewHeap(size int) *Heap {
	words := make([]uint64, (size+7)/8)
	var buf []byte
	if len(words) > 0 {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	}
	return &Heap{words: words, buf: buf}
}

func (h *Heap) Bytes() []byte { return h.buf }
func (h *Heap) Created() bool { return true }
func (h *Heap) Close() error  { return nil }

// Attach returns a second view of the same memory that reports Created()
// false, mimicking a later process attaching to an existing segment.
func (h *Heap) Attach() Segment { return heapView{h} }

type heapView struct{ h *Heap }

func (v heapView) Bytes() []byte { return v.h.buf }
func (v heapView) Created() bool { return false }
func (v heapView) Close() error  { return nil }
