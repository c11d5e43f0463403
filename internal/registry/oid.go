package registry

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Heidric/shmbridge/internal/customerrors"
)

// OID is a dotted numeric identifier such as 1.3.6.1.4.1.2021.10.1.3.1.0.
type OID []uint32

// ParseOID accepts the dotted form with or without a leading dot.
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), ".")
	if s == "" {
		return nil, errors.Wrap(customerrors.ErrUnknownIdentifier, "empty identifier")
	}

	parts := strings.Split(s, ".")
	oid := make(OID, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(customerrors.ErrUnknownIdentifier, "malformed identifier %q", s)
		}
		oid[i] = uint32(n)
	}
	return oid, nil
}

// MustParseOID is ParseOID for package-level constants.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

func (o OID) String() string {
	var sb strings.Builder
	for i, n := range o {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.FormatUint(uint64(n), 10))
	}
	return sb.String()
}

// Append returns a new OID with sub appended to o.
func (o OID) Append(sub ...uint32) OID {
	out := make(OID, 0, len(o)+len(sub))
	out = append(out, o...)
	return append(out, sub...)
}

// Compare orders OIDs lexicographically by arc, shorter prefix first.
func (o OID) Compare(other OID) int {
	for i := 0; i < len(o) && i < len(other); i++ {
		switch {
		case o[i] < other[i]:
			return -1
		case o[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(o) < len(other):
		return -1
	case len(o) > len(other):
		return 1
	}
	return 0
}

// HasPrefix reports whether o lies under prefix.
func (o OID) HasPrefix(prefix OID) bool {
	if len(prefix) > len(o) {
		return false
	}
	return o[:len(prefix)].Compare(prefix) == 0
}
