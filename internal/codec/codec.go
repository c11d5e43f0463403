// Package codec converts stored metric values into the scalar forms the
// monitoring protocol carries on the wire.
//
// Every encoder is pure and total over its input domain, with the exception of
// EncodeDisplayText which rejects text that does not fit rather than cutting it.
package codec

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/customerrors"
)

// WireType is the declared protocol type of a metric.
type WireType int

const (
	WideCounter WireType = iota + 1
	Gauge
	SignedInteger
	BoundedText
)

// SNMP application/universal tags for each wire type.
const (
	TagInteger     byte = 0x02
	TagOctetString byte = 0x04
	TagGauge32     byte = 0x42
	TagCounter64   byte = 0x46
)

// MaxDisplayText is the longest display string a shared record can hold,
// one byte of the 32-byte slot being reserved for the terminator.
const MaxDisplayText = 31

func (t WireType) String() string {
	switch t {
	case WideCounter:
		return "Counter64"
	case Gauge:
		return "Gauge32"
	case SignedInteger:
		return "INTEGER"
	case BoundedText:
		return "OCTET STRING"
	default:
		return fmt.Sprintf("WireType(%d)", int(t))
	}
}

// Tag returns the ASN.1 tag the protocol engine uses for t.
func (t WireType) Tag() byte {
	switch t {
	case WideCounter:
		return TagCounter64
	case Gauge:
		return TagGauge32
	case SignedInteger:
		return TagInteger
	case BoundedText:
		return TagOctetString
	default:
		return 0
	}
}

// Value is an encoded wire scalar. The set of implementations is closed:
// Counter64, Gauge32, Integer32 and OctetString.
type Value interface {
	WireType() WireType
	String() string
	isValue()
}

// Counter64 is a 64-bit counter split into the two halves carried by
// protocols without native 64-bit integers.
type Counter64 struct {
	High uint32
	Low  uint32
}

// Gauge32 is an instantaneous value that may rise and fall.
type Gauge32 uint32

// Integer32 is a signed 32-bit value. Its unit is fixed per metric
// (seconds for uptime, microseconds for latency).
type Integer32 int32

// OctetString is bounded display text without a terminator.
type OctetString []byte

func (Counter64) WireType() WireType   { return WideCounter }
func (Gauge32) WireType() WireType     { return Gauge }
func (Integer32) WireType() WireType   { return SignedInteger }
func (OctetString) WireType() WireType { return BoundedText }

func (Counter64) isValue()   {}
func (Gauge32) isValue()     {}
func (Integer32) isValue()   {}
func (OctetString) isValue() {}

// Uint64 reassembles the full counter value.
func (c Counter64) Uint64() uint64 { return DecodeWideCounter(c) }

func (c Counter64) String() string   { return fmt.Sprintf("%d", c.Uint64()) }
func (g Gauge32) String() string     { return fmt.Sprintf("%d", uint32(g)) }
func (i Integer32) String() string   { return fmt.Sprintf("%d", int32(i)) }
func (s OctetString) String() string { return string(s) }

// EncodeWideCounter splits v into its high and low 32-bit halves.
func EncodeWideCounter(v uint64) Counter64 {
	return Counter64{
		High: uint32(v >> 32),
		Low:  uint32(v & 0xFFFFFFFF),
	}
}

// DecodeWideCounter is the inverse of EncodeWideCounter.
func DecodeWideCounter(c Counter64) uint64 {
	return uint64(c.High)<<32 | uint64(c.Low)
}

func EncodeGauge(v uint32) Gauge32 {
	return Gauge32(v)
}

func EncodeSignedDuration(v int32) Integer32 {
	return Integer32(v)
}

// EncodeDisplayText copies b into an OctetString. Text longer than maxLen is
// rejected with ErrTextTooLong; it is never truncated.
func EncodeDisplayText(b []byte, maxLen int) (OctetString, error) {
	if maxLen < 0 {
		return nil, errors.Wrapf(customerrors.ErrInvalidValue, "negative text bound %d", maxLen)
	}
	if len(b) > maxLen {
		return nil, errors.Wrapf(customerrors.ErrTextTooLong, "%d bytes, limit %d", len(b), maxLen)
	}
	out := make(OctetString, len(b))
	copy(out, b)
	return out, nil
}

// SecondsToInteger32 narrows a whole number of seconds to Integer32,
// failing instead of wrapping when it does not fit.
func SecondsToInteger32(seconds int64) (Integer32, error) {
	if seconds > math.MaxInt32 || seconds < math.MinInt32 {
		return 0, errors.Wrapf(customerrors.ErrEncodingOverflow, "%d seconds", seconds)
	}
	return Integer32(seconds), nil
}
