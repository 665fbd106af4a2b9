package frameseq

import (
	"errors"
	"fmt"
)

var (
	// ErrInputTooSmall is returned when the input ends inside a frame header.
	ErrInputTooSmall = errors.New("input too small")
	// ErrUnexpectedEOF is returned when the input ends inside a frame.
	ErrUnexpectedEOF = errors.New("unexpected end of input")
)

// Kind classifies the origin of an Error.
type Kind int

const (
	// KindIO means reading the descriptor failed.
	KindIO Kind = iota + 1
	// KindMalformed means the input ended too early.
	KindMalformed
	// KindEngine means the engine rejected the input, including a frame
	// whose window exceeds the memory limit (engine.ErrMemLimit).
	KindEngine
	// KindAlloc means the Reader could not allocate its own state.  The Go
	// runtime aborts on allocation failure, so no Reader operation returns it.
	KindAlloc
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "I/O error"
	case KindMalformed:
		return "malformed input"
	case KindEngine:
		return "engine error"
	case KindAlloc:
		return "allocation error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error returned by Reader operations.  It renders as
// "origin: message" where Op names the failing operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
