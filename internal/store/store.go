// Package store implements the shared metrics record: a fixed layout mapped
// by the producer and by any number of readers, with every field read and
// written atomically.
package store

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/customerrors"
	"github.com/Heidric/shmbridge/internal/model"
	"github.com/Heidric/shmbridge/internal/shm"
)

// CounterField names one of the 64-bit monotonic counters.
type CounterField int

const (
	BytesReceived CounterField = iota + 1
	BytesSent
	PacketsLost
	TotalConnections
)

func (f CounterField) String() string {
	switch f {
	case BytesReceived:
		return "bytesReceived"
	case BytesSent:
		return "bytesSent"
	case PacketsLost:
		return "packetsLost"
	case TotalConnections:
		return "totalConnections"
	default:
		return fmt.Sprintf("CounterField(%d)", int(f))
	}
}

const (
	defaultAttachWait = 100 * time.Millisecond
	attachPoll        = 2 * time.Millisecond
)

type Option func(*Handle)

// WithClock replaces time.Now, mainly for tests of uptime.
func WithClock(now func() time.Time) Option {
	return func(h *Handle) { h.now = now }
}

// WithAttachWait bounds how long an attaching process waits for the creator
// to publish the record.
func WithAttachWait(d time.Duration) Option {
	return func(h *Handle) { h.attachWait = d }
}

// Handle is one process's attachment to the shared record. It is safe for
// concurrent use. Close only waits for reads already in flight.
type Handle struct {
	mu         sync.RWMutex
	seg        shm.Segment
	rec        *record
	now        func() time.Time
	attachWait time.Duration
}

// CreateOrAttach lays the record over seg. When seg was freshly created the
// start time and layout version are written and the record is published;
// otherwise the existing values are left untouched and the layout is
// verified. Any failure is reported as ErrStoreUnavailable.
func CreateOrAttach(seg shm.Segment, opts ...Option) (*Handle, error) {
	h := &Handle{
		seg:        seg,
		now:        time.Now,
		attachWait: defaultAttachWait,
	}
	for _, opt := range opts {
		opt(h)
	}

	if seg == nil {
		return nil, errors.Wrap(customerrors.ErrStoreUnavailable, "no segment")
	}
	buf := seg.Bytes()
	if len(buf) < RecordSize {
		return nil, errors.Wrapf(customerrors.ErrStoreUnavailable, "segment has %d bytes, record needs %d", len(buf), RecordSize)
	}
	if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		return nil, errors.Wrap(customerrors.ErrStoreUnavailable, "segment is not 8-byte aligned")
	}
	h.rec = (*record)(unsafe.Pointer(&buf[0]))

	if seg.Created() {
		h.rec.version.Store(LayoutVersion)
		h.rec.startTime.Store(h.now().UnixNano())
		h.rec.magic.Store(Magic)
		return h, nil
	}

	if err := h.verify(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handle) verify() error {
	deadline := time.Now().Add(h.attachWait)
	magic := h.rec.magic.Load()
	for magic == 0 && time.Now().Before(deadline) {
		time.Sleep(attachPoll)
		magic = h.rec.magic.Load()
	}

	switch {
	case magic == 0:
		return errors.Wrap(customerrors.ErrStoreUnavailable, "record never published by its creator")
	case magic != Magic:
		return errors.Wrapf(customerrors.ErrStoreUnavailable, "foreign segment, magic %#x", magic)
	}
	if v := h.rec.version.Load(); v != LayoutVersion {
		return errors.Wrapf(customerrors.ErrStoreUnavailable, "layout version %d, want %d", v, LayoutVersion)
	}
	return nil
}

// Close detaches from the segment. Later calls on h fail with
// ErrStoreUnavailable; the segment itself survives.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rec == nil {
		return nil
	}
	h.rec = nil
	return h.seg.Close()
}

// Attached reports whether the handle can still serve reads.
func (h *Handle) Attached() bool {
	_, release, err := h.acquire()
	if err != nil {
		return false
	}
	release()
	return true
}

func (h *Handle) acquire() (*record, func(), error) {
	h.mu.RLock()
	rec := h.rec
	if rec == nil {
		h.mu.RUnlock()
		return nil, nil, errors.Wrap(customerrors.ErrStoreUnavailable, "store detached")
	}
	if rec.magic.Load() != Magic {
		h.mu.RUnlock()
		return nil, nil, errors.Wrap(customerrors.ErrStoreUnavailable, "record no longer published")
	}
	return rec, h.mu.RUnlock, nil
}

func (r *record) counter(f CounterField) (*atomic.Uint64, error) {
	switch f {
	case BytesReceived:
		return &r.bytesReceived, nil
	case BytesSent:
		return &r.bytesSent, nil
	case PacketsLost:
		return &r.packetsLost, nil
	case TotalConnections:
		return &r.totalConnections, nil
	default:
		return nil, errors.Wrapf(customerrors.ErrInvalidValue, "counter field %d", int(f))
	}
}

// Counter returns the current value of a 64-bit counter.
func (h *Handle) Counter(f CounterField) (uint64, error) {
	rec, release, err := h.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	c, err := rec.counter(f)
	if err != nil {
		return 0, err
	}
	return c.Load(), nil
}

// Latency returns the last sampled latency in microseconds.
func (h *Handle) Latency() (int32, error) {
	rec, release, err := h.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return rec.latency.Load(), nil
}

func (h *Handle) ActiveConnections() (uint32, error) {
	rec, release, err := h.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return rec.activeConnections.Load(), nil
}

func (h *Handle) CPUUsage() ([]byte, error) {
	rec, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return rec.cpuUsage.load()
}

func (h *Handle) MemoryUsage() ([]byte, error) {
	rec, release, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return rec.memoryUsage.load()
}

// StartTime is the moment the record was created. It never changes.
func (h *Handle) StartTime() (time.Time, error) {
	rec, release, err := h.acquire()
	if err != nil {
		return time.Time{}, err
	}
	defer release()
	return time.Unix(0, rec.startTime.Load()), nil
}

// Uptime is computed from the start time on every call and never stored.
// A wall clock behind the start time yields zero.
func (h *Handle) Uptime() (time.Duration, error) {
	start, err := h.StartTime()
	if err != nil {
		return 0, err
	}
	d := h.now().Sub(start)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Snapshot reads every field. Each field is read atomically but the
// snapshot as a whole is not a consistent cut across fields.
func (h *Handle) Snapshot() (model.Snapshot, error) {
	rec, release, err := h.acquire()
	if err != nil {
		return model.Snapshot{}, err
	}
	defer release()

	cpu, err := rec.cpuUsage.load()
	if err != nil {
		return model.Snapshot{}, errors.Wrap(err, "cpu usage")
	}
	mem, err := rec.memoryUsage.load()
	if err != nil {
		return model.Snapshot{}, errors.Wrap(err, "memory usage")
	}

	now := h.now()
	start := time.Unix(0, rec.startTime.Load())
	uptime := now.Sub(start)
	if uptime < 0 {
		uptime = 0
	}

	return model.Snapshot{
		TakenAt:           now.UTC(),
		BytesReceived:     rec.bytesReceived.Load(),
		BytesSent:         rec.bytesSent.Load(),
		PacketsLost:       rec.packetsLost.Load(),
		LatencyMicros:     rec.latency.Load(),
		UptimeSeconds:     int64(uptime / time.Second),
		CPUUsage:          string(cpu),
		MemoryUsage:       string(mem),
		ActiveConnections: rec.activeConnections.Load(),
		TotalConnections:  rec.totalConnections.Load(),
		StartTime:         start.UTC(),
	}, nil
}

// SetCounter overwrites a counter. Producers that mirror an external
// cumulative total use this; everyone else should prefer AddCounter.
func (h *Handle) SetCounter(f CounterField, v uint64) error {
	rec, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()

	c, err := rec.counter(f)
	if err != nil {
		return err
	}
	c.Store(v)
	return nil
}

// AddCounter increments a counter by delta, wrapping modulo 2^64.
func (h *Handle) AddCounter(f CounterField, delta uint64) error {
	rec, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()

	c, err := rec.counter(f)
	if err != nil {
		return err
	}
	c.Add(delta)
	return nil
}

func (h *Handle) SetLatencyMicros(us int32) error {
	rec, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	rec.latency.Store(us)
	return nil
}

// SetLatency stores d in microseconds, rejecting durations that do not fit
// a signed 32-bit field (about 35 minutes).
func (h *Handle) SetLatency(d time.Duration) error {
	us := d.Microseconds()
	if us > math.MaxInt32 || us < math.MinInt32 {
		return errors.Wrapf(customerrors.ErrEncodingOverflow, "latency %s", d)
	}
	return h.SetLatencyMicros(int32(us))
}

func (h *Handle) SetActiveConnections(n uint32) error {
	rec, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	rec.activeConnections.Store(n)
	return nil
}

// AddActiveConnections moves the gauge up or down by delta. It refuses to
// take the gauge below zero or past its 32-bit range.
func (h *Handle) AddActiveConnections(delta int32) error {
	rec, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()

	for i := 0; i < seqSpins; i++ {
		cur := rec.activeConnections.Load()
		next := int64(cur) + int64(delta)
		if next < 0 || next > math.MaxUint32 {
			return errors.Wrapf(customerrors.ErrInvalidValue, "active connections %d%+d out of range", cur, delta)
		}
		if rec.activeConnections.CompareAndSwap(cur, uint32(next)) {
			return nil
		}
	}
	return errors.Wrap(customerrors.ErrStoreUnavailable, "active connections kept changing during update")
}

func (h *Handle) SetCPUUsage(s string) error {
	rec, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	return errors.Wrap(rec.cpuUsage.store(s), "cpu usage")
}

func (h *Handle) SetMemoryUsage(s string) error {
	rec, release, err := h.acquire()
	if err != nil {
		return err
	}
	defer release()
	return errors.Wrap(rec.memoryUsage.store(s), "memory usage")
}
