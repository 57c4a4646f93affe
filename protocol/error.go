package protocol

import (
	"errors"
	"fmt"
)

// ErrFrameTooLarge is returned when a frame body exceeds the allowed size.
var ErrFrameTooLarge = errors.New("protocol: frame body too large")

// ProtocolError reports a frame or payload that could not be understood.
//
// Fatal errors mean the byte stream itself can no longer be trusted and the
// connection must be closed. Non-fatal errors (unknown tag, malformed payload
// inside an intact frame) only invalidate one message.
type ProtocolError struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a ProtocolError that corrupts the stream.
func IsFatal(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Fatal
	}
	return false
}

// Malformed builds a non-fatal ProtocolError for a payload that failed to decode.
func Malformed(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Fatal: false, Err: err}
}

func fatalf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: "decode", Fatal: true, Err: fmt.Errorf(format, args...)}
}
