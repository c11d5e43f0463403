package dispatch

import (
	"errors"

	"github.com/Heidric/shmbridge/internal/customerrors"
)

// ErrorStatus values from RFC 3416.
const (
	StatusNoError     = 0
	StatusNoSuchName  = 2
	StatusGenErr      = 5
	StatusNotWritable = 17
)

// ErrorStatus maps a Handle error onto the error-status field of a response
// PDU. Store failures stay generic: the engine reports genErr for them.
func ErrorStatus(err error) int {
	if err == nil {
		return StatusNoError
	}

	var de *Error
	if errors.As(err, &de) && de.Mode == ModeSet && errors.Is(err, customerrors.ErrUnsupportedOperation) {
		return StatusNotWritable
	}

	switch {
	case errors.Is(err, customerrors.ErrUnknownIdentifier):
		return StatusNoSuchName
	default:
		return StatusGenErr
	}
}
