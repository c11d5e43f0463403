package store

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heidric/shmbridge/internal/customerrors"
	"github.com/Heidric/shmbridge/internal/shm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T, opts ...Option) (*Handle, *shm.Heap) {
	t.Helper()
	seg := shm.NewHeap(RecordSize)
	h, err := CreateOrAttach(seg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, seg
}

func TestRecordLayout(t *testing.T) {
	var r record
	assert.Equal(t, 144, RecordSize)
	assert.Equal(t, uintptr(0), unsafe.Offsetof(r.magic))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(r.version))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(r.bytesReceived))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(r.bytesSent))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(r.packetsLost))
	assert.Equal(t, uintptr(32), unsafe.Offsetof(r.latency))
	assert.Equal(t, uintptr(40), unsafe.Offsetof(r.cpuUsage))
	assert.Equal(t, uintptr(80), unsafe.Offsetof(r.memoryUsage))
	assert.Equal(t, uintptr(120), unsafe.Offsetof(r.activeConnections))
	assert.Equal(t, uintptr(128), unsafe.Offsetof(r.totalConnections))
	assert.Equal(t, uintptr(136), unsafe.Offsetof(r.startTime))
}

func TestCreateOrAttach(t *testing.T) {
	t.Run("fresh store is zeroed and stamped", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1700000000, 0)}
		h, _ := newStore(t, WithClock(clock.Now))

		for _, f := range []CounterField{BytesReceived, BytesSent, PacketsLost, TotalConnections} {
			v, err := h.Counter(f)
			require.NoError(t, err)
			assert.Zero(t, v, f.String())
		}
		cpu, err := h.CPUUsage()
		require.NoError(t, err)
		assert.Empty(t, cpu)

		start, err := h.StartTime()
		require.NoError(t, err)
		assert.True(t, start.Equal(clock.t))
	})

	t.Run("attach keeps existing values", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1700000000, 0)}
		creator, seg := newStore(t, WithClock(clock.Now))
		require.NoError(t, creator.SetCounter(BytesReceived, 22598313))
		require.NoError(t, creator.SetCPUUsage("25%"))

		clock.Advance(time.Hour)
		reader, err := CreateOrAttach(seg.Attach(), WithClock(clock.Now))
		require.NoError(t, err)

		v, err := reader.Counter(BytesReceived)
		require.NoError(t, err)
		assert.Equal(t, uint64(22598313), v)

		cpu, err := reader.CPUUsage()
		require.NoError(t, err)
		assert.Equal(t, "25%", string(cpu))

		start, err := reader.StartTime()
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), start.Unix(), "attach must not restamp start time")
	})

	t.Run("unpublished segment", func(t *testing.T) {
		seg := shm.NewHeap(RecordSize)
		_, err := CreateOrAttach(seg.Attach(), WithAttachWait(5*time.Millisecond))
		assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	})

	t.Run("layout version mismatch", func(t *testing.T) {
		_, seg := newStore(t)
		(*record)(unsafe.Pointer(&seg.Bytes()[0])).version.Store(LayoutVersion + 1)

		_, err := CreateOrAttach(seg.Attach())
		assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	})

	t.Run("foreign magic", func(t *testing.T) {
		seg := shm.NewHeap(RecordSize)
		seg.Bytes()[0] = 0xFF
		_, err := CreateOrAttach(seg.Attach())
		assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	})

	t.Run("segment too small", func(t *testing.T) {
		_, err := CreateOrAttach(shm.NewHeap(RecordSize - 8))
		assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	})

	t.Run("nil segment", func(t *testing.T) {
		_, err := CreateOrAttach(nil)
		assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	})
}

func TestClosedHandle(t *testing.T) {
	h, _ := newStore(t)
	require.True(t, h.Attached())
	require.NoError(t, h.Close())
	assert.False(t, h.Attached())

	_, err := h.Counter(BytesSent)
	assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	_, err = h.Uptime()
	assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	err = h.AddCounter(BytesSent, 1)
	assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	assert.NoError(t, h.Close())
}

func TestCounters(t *testing.T) {
	h, _ := newStore(t)

	require.NoError(t, h.AddCounter(TotalConnections, 40))
	require.NoError(t, h.AddCounter(TotalConnections, 2))
	v, err := h.Counter(TotalConnections)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	require.NoError(t, h.SetCounter(BytesSent, math.MaxUint64))
	require.NoError(t, h.AddCounter(BytesSent, 2))
	v, err = h.Counter(BytesSent)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v, "counters wrap modulo 2^64")

	_, err = h.Counter(CounterField(99))
	assert.ErrorIs(t, err, customerrors.ErrInvalidValue)
}

func TestLatency(t *testing.T) {
	h, _ := newStore(t)

	require.NoError(t, h.SetLatency(45200*time.Microsecond))
	v, err := h.Latency()
	require.NoError(t, err)
	assert.Equal(t, int32(45200), v)

	err = h.SetLatency(time.Hour)
	assert.ErrorIs(t, err, customerrors.ErrEncodingOverflow)
	v, err = h.Latency()
	require.NoError(t, err)
	assert.Equal(t, int32(45200), v, "rejected write leaves the old value")
}

func TestActiveConnections(t *testing.T) {
	h, _ := newStore(t)

	require.NoError(t, h.SetActiveConnections(5))
	require.NoError(t, h.AddActiveConnections(-2))
	v, err := h.ActiveConnections()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)

	err = h.AddActiveConnections(-4)
	assert.ErrorIs(t, err, customerrors.ErrInvalidValue)
	v, err = h.ActiveConnections()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)
}

func TestDisplayText(t *testing.T) {
	h, _ := newStore(t)

	require.NoError(t, h.SetMemoryUsage("512MB"))
	mem, err := h.MemoryUsage()
	require.NoError(t, err)
	assert.Equal(t, "512MB", string(mem))

	require.NoError(t, h.SetMemoryUsage("1GB"))
	mem, err = h.MemoryUsage()
	require.NoError(t, err)
	assert.Equal(t, "1GB", string(mem), "shorter text must not leave a tail behind")

	longest := strings.Repeat("9", 31)
	require.NoError(t, h.SetCPUUsage(longest))
	cpu, err := h.CPUUsage()
	require.NoError(t, err)
	assert.Equal(t, longest, string(cpu))

	err = h.SetCPUUsage(strings.Repeat("9", 32))
	assert.ErrorIs(t, err, customerrors.ErrTextTooLong)

	err = h.SetCPUUsage("2\x005%")
	assert.ErrorIs(t, err, customerrors.ErrInvalidValue)
}

func TestUnterminatedText(t *testing.T) {
	h, seg := newStore(t)
	rec := (*record)(unsafe.Pointer(&seg.Bytes()[0]))
	for i := range rec.cpuUsage.words {
		rec.cpuUsage.words[i].Store(0x4141414141414141)
	}

	_, err := h.CPUUsage()
	assert.ErrorIs(t, err, customerrors.ErrTextTooLong)
}

// A writer that died inside the sequence lock leaves seq odd. Only that text
// field becomes unavailable; it is not taken over.
func TestAbandonedTextLock(t *testing.T) {
	h, seg := newStore(t)
	require.NoError(t, h.SetCPUUsage("25%"))
	require.NoError(t, h.SetMemoryUsage("512MB"))
	require.NoError(t, h.SetCounter(BytesSent, 7))

	rec := (*record)(unsafe.Pointer(&seg.Bytes()[0]))
	rec.cpuUsage.seq.Add(1)

	_, err := h.CPUUsage()
	assert.ErrorIs(t, err, customerrors.ErrStoreUnavailable)
	assert.ErrorIs(t, h.SetCPUUsage("30%"), customerrors.ErrStoreUnavailable)

	mem, err := h.MemoryUsage()
	require.NoError(t, err)
	assert.Equal(t, "512MB", string(mem))
	sent, err := h.Counter(BytesSent)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), sent)
	assert.True(t, h.Attached())
}

func TestUptime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	h, _ := newStore(t, WithClock(clock.Now))

	clock.Advance(10 * time.Second)
	d, err := h.Uptime()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	for i := 0; i < 100; i++ {
		_, _ = h.Uptime()
	}
	d, err = h.Uptime()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d, "reads do not affect uptime")

	clock.Advance(-time.Minute)
	d, err = h.Uptime()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestSnapshot(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	h, _ := newStore(t, WithClock(clock.Now))

	require.NoError(t, h.SetCounter(BytesReceived, 22598313))
	require.NoError(t, h.SetCounter(BytesSent, 6658912))
	require.NoError(t, h.SetLatencyMicros(45200))
	require.NoError(t, h.SetCPUUsage("25%"))
	require.NoError(t, h.SetMemoryUsage("512MB"))
	require.NoError(t, h.SetActiveConnections(5))
	require.NoError(t, h.SetCounter(TotalConnections, 42))
	clock.Advance(10 * time.Second)

	s, err := h.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(22598313), s.BytesReceived)
	assert.Equal(t, uint64(6658912), s.BytesSent)
	assert.Zero(t, s.PacketsLost)
	assert.Equal(t, int32(45200), s.LatencyMicros)
	assert.Equal(t, int64(10), s.UptimeSeconds)
	assert.Equal(t, "25%", s.CPUUsage)
	assert.Equal(t, "512MB", s.MemoryUsage)
	assert.Equal(t, uint32(5), s.ActiveConnections)
	assert.Equal(t, uint64(42), s.TotalConnections)
}
