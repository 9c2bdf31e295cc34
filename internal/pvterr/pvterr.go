// Package pvterr classifies the failures a calculation can end in so that
// the CLI, the HTTP API and tests can report them uniformly.
package pvterr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the user-facing category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInput covers missing user input: no valid pressures, empty well number.
	KindInput
	// KindValidation covers non-finite or out-of-range well context fields.
	KindValidation
	// KindTransport covers network failures and non-success HTTP statuses.
	KindTransport
	// KindContract covers responses that do not line up with the request.
	KindContract
	// KindStale marks results discarded because the session moved on.
	KindStale
	// KindBusy marks a submission rejected while another is pending.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindContract:
		return "contract"
	case KindStale:
		return "stale"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

var (
	ErrNoValidInputs  = &Error{Kind: KindInput, Op: "compact", Err: errors.New("no valid pressure inputs")}
	ErrEmptyWellNo    = &Error{Kind: KindInput, Op: "load well", Err: errors.New("well number is required")}
	ErrNotInitialized = &Error{Kind: KindInput, Op: "calculate", Err: errors.New("load a well before calculating")}
	ErrBusy           = &Error{Kind: KindBusy, Op: "calculate", Err: errors.New("a calculation is already pending")}
	ErrStale          = &Error{Kind: KindStale, Op: "calculate", Err: errors.New("result belongs to a superseded well context")}
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ContractError reports a batch response whose length does not match the request.
type ContractError struct {
	Want int
	Got  int
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("response has %d results, request had %d values", e.Got, e.Want)
}

// TransportError wraps a failed remote call.
type TransportError struct {
	Endpoint string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timed out: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Input wraps err as an input error.
func Input(op string, err error) error {
	return &Error{Kind: KindInput, Op: op, Err: err}
}

// Validation wraps err as a validation error.
func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// Transport wraps err as a transport error for endpoint.
func Transport(endpoint string, err error) error {
	return &TransportError{
		Endpoint: endpoint,
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ce *ContractError
	if errors.As(err, &ce) {
		return KindContract
	}
	var te *TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	return KindUnknown
}

// IsTimeout reports whether err is a transport error caused by a deadline.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout
}
