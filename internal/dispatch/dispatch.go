// Package dispatch answers one poll at a time: it resolves the identifier,
// reads or derives the value from the store and encodes it for the wire.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Heidric/shmbridge/internal/codec"
	"github.com/Heidric/shmbridge/internal/customerrors"
	"github.com/Heidric/shmbridge/internal/registry"
	"github.com/Heidric/shmbridge/internal/store"
)

// Mode is the operation the protocol engine asks for.
type Mode int

const (
	ModeGet Mode = iota + 1
	ModeGetNext
	ModeGetBulk
	ModeSet
)

func (m Mode) String() string {
	switch m {
	case ModeGet:
		return "get"
	case ModeGetNext:
		return "getnext"
	case ModeGetBulk:
		return "getbulk"
	case ModeSet:
		return "set"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names produced by Mode.String. An empty string is GET.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "get":
		return ModeGet, nil
	case "getnext", "get-next":
		return ModeGetNext, nil
	case "getbulk", "get-bulk":
		return ModeGetBulk, nil
	case "set":
		return ModeSet, nil
	default:
		return 0, errors.Wrapf(customerrors.ErrUnsupportedOperation, "mode %q", s)
	}
}

// Stage is where a request failed.
type Stage int

const (
	StageIdle Stage = iota
	StageResolving
	StageComputing
	StageEncoding
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageResolving:
		return "resolving"
	case StageComputing:
		return "computing"
	case StageEncoding:
		return "encoding"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Error is returned for every failed request. It unwraps to one of the
// customerrors sentinels.
type Error struct {
	Stage Stage
	OID   string
	Mode  Mode
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Mode, e.OID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store is the read side of the metrics store.
type Store interface {
	Counter(f store.CounterField) (uint64, error)
	Latency() (int32, error)
	Uptime() (time.Duration, error)
	CPUUsage() ([]byte, error)
	MemoryUsage() ([]byte, error)
	ActiveConnections() (uint32, error)
	Attached() bool
}

// Result is the typed answer handed back to the protocol engine.
type Result struct {
	Descriptor registry.Descriptor
	Value      codec.Value
}

type Dispatcher struct {
	registry *registry.Registry
	store    Store
	logger   *zerolog.Logger
}

// New builds a dispatcher. A nil store is allowed: every read then fails
// with ErrStoreUnavailable, which is what the engine should see when the
// segment could not be attached.
func New(reg *registry.Registry, st Store, logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{registry: reg, store: st, logger: logger}
}

// Registry exposes the registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Available reports whether reads can currently succeed.
func (d *Dispatcher) Available() bool {
	return d.store != nil && d.store.Attached()
}

// Handle serves one request. Only ModeGet is accepted; the store is
// read-only from the monitoring side.
func (d *Dispatcher) Handle(oid registry.OID, mode Mode) (Result, error) {
	res, err := d.handle(oid, mode)
	if err != nil {
		d.logger.Debug().Err(err).Str("oid", oid.String()).Str("mode", mode.String()).Msg("request failed")
		return Result{}, err
	}
	d.logger.Trace().Str("oid", oid.String()).Str("type", res.Value.WireType().String()).Msg("request served")
	return res, nil
}

// HandleString parses oid before handling it.
func (d *Dispatcher) HandleString(oid string, mode Mode) (Result, error) {
	parsed, err := registry.ParseOID(oid)
	if err != nil {
		return Result{}, &Error{Stage: StageResolving, OID: oid, Mode: mode, Err: err}
	}
	return d.Handle(parsed, mode)
}

func (d *Dispatcher) handle(oid registry.OID, mode Mode) (Result, error) {
	fail := func(stage Stage, err error) (Result, error) {
		return Result{}, &Error{Stage: stage, OID: oid.String(), Mode: mode, Err: err}
	}

	if mode != ModeGet {
		return fail(StageIdle, errors.Wrapf(customerrors.ErrUnsupportedOperation, "mode %s", mode))
	}

	desc, err := d.registry.Lookup(oid)
	if err != nil {
		return fail(StageResolving, err)
	}

	if d.store == nil {
		return fail(StageComputing, errors.Wrap(customerrors.ErrStoreUnavailable, "store not attached"))
	}
	raw, err := d.compute(desc.Metric)
	if err != nil {
		return fail(StageComputing, err)
	}

	val, err := encode(desc.Type, raw)
	if err != nil {
		return fail(StageEncoding, err)
	}
	return Result{Descriptor: desc, Value: val}, nil
}

// compute returns the domain value for m: uint64, uint32, int32, int64
// seconds, or []byte.
func (d *Dispatcher) compute(m registry.Metric) (any, error) {
	switch m {
	case registry.BytesReceived:
		return d.store.Counter(store.BytesReceived)
	case registry.BytesSent:
		return d.store.Counter(store.BytesSent)
	case registry.PacketsLost:
		return d.store.Counter(store.PacketsLost)
	case registry.TotalConnections:
		return d.store.Counter(store.TotalConnections)
	case registry.Latency:
		return d.store.Latency()
	case registry.Uptime:
		up, err := d.store.Uptime()
		if err != nil {
			return nil, err
		}
		return int64(up / time.Second), nil
	case registry.CPUUsage:
		return d.store.CPUUsage()
	case registry.MemoryUsage:
		return d.store.MemoryUsage()
	case registry.ActiveConnections:
		return d.store.ActiveConnections()
	default:
		return nil, errors.Wrapf(customerrors.ErrUnknownIdentifier, "metric %s has no accessor", m)
	}
}

func encode(t codec.WireType, raw any) (codec.Value, error) {
	switch t {
	case codec.WideCounter:
		if v, ok := raw.(uint64); ok {
			return codec.EncodeWideCounter(v), nil
		}
	case codec.Gauge:
		if v, ok := raw.(uint32); ok {
			return codec.EncodeGauge(v), nil
		}
	case codec.SignedInteger:
		switch v := raw.(type) {
		case int32:
			return codec.EncodeSignedDuration(v), nil
		case int64:
			return codec.SecondsToInteger32(v)
		}
	case codec.BoundedText:
		if v, ok := raw.([]byte); ok {
			return codec.EncodeDisplayText(v, codec.MaxDisplayText)
		}
	}
	return nil, errors.Wrapf(customerrors.ErrEncodingOverflow, "%T cannot be encoded as %s", raw, t)
}
