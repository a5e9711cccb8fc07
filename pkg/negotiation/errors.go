package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for every trigger after the instance closed.
	ErrClosed = errors.New("connection instance closed")

	ErrUnexpectedCandidate     = errors.New("unexpected candidate failure")
	ErrIncompatibleDescription = errors.New("incompatible description")
	ErrChannel                 = errors.New("signaling channel failure")
	ErrFatalEngine             = errors.New("fatal engine failure")
)

// Error is a failure surfaced by the coordinator. Kind is one of the
// sentinel errors above, so both errors.Is(err, ErrChannel) and
// errors.Is(err, cause) hold.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// kindLabel names an error kind for metrics.
func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnexpectedCandidate):
		return "unexpected_candidate"
	case errors.Is(err, ErrIncompatibleDescription):
		return "incompatible_description"
	case errors.Is(err, ErrChannel):
		return "channel"
	case errors.Is(err, ErrFatalEngine):
		return "fatal_engine"
	default:
		return "other"
	}
}
