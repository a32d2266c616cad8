// Package errs defines the closed set of failure kinds surfaced by demo
// processing. Every error that reaches a match row is classified by KindOf.
package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedEndOfStream means a read would cross the end of its buffer.
	ErrUnexpectedEndOfStream = errors.New("unexpected end of stream")
	// ErrMalformedMessage means a protobuf or bit-level sub-message failed to decode.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownField means a field path is not present in the schema registry.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidFormat means a structural invariant of the demo was violated.
	ErrInvalidFormat = errors.New("invalid format")
)

// SinkWriteError reports a batch rejected by one of the sinks.
type SinkWriteError struct {
	Sink string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s sink write failed: %v", e.Sink, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// SinkWrite wraps err as a SinkWriteError for the named sink. A nil err stays nil.
func SinkWrite(sink string, err error) error {
	if err == nil {
		return nil
	}
	return &SinkWriteError{Sink: sink, Err: err}
}

// Kind strings persisted on failed match rows.
const (
	KindUnexpectedEndOfStream = "unexpected_end_of_stream"
	KindMalformedMessage      = "malformed_message"
	KindUnknownField          = "unknown_field"
	KindInvalidFormat         = "invalid_format"
	KindCanceled              = "canceled"
	KindInternal              = "internal"
)

// KindOf classifies err into its stable kind string.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var sinkErr *SinkWriteError
	switch {
	case errors.As(err, &sinkErr):
		return "sink_write:" + sinkErr.Sink
	case errors.Is(err, ErrUnexpectedEndOfStream):
		return KindUnexpectedEndOfStream
	case errors.Is(err, ErrMalformedMessage):
		return KindMalformedMessage
	case errors.Is(err, ErrUnknownField):
		return KindUnknownField
	case errors.Is(err, ErrInvalidFormat):
		return KindInvalidFormat
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
