// Package errkind defines the closed taxonomy of error kinds a ledger
// component can raise, so callers can branch on errors.Is against a kind
// sentinel instead of string-matching messages.
package errkind

import "github.com/pkg/errors"

type Kind int

const (
	_ Kind = iota
	Transient     // I/O failures expected to be retried: network timeouts, temporary file errors
	Authentication // challenge/response or bearer-token failures
	Integrity      // hash mismatch, signature mismatch, schema mismatch
	Policy         // rate limit, epoch-bump policy, eligibility rejection
	Configuration  // malformed or missing configuration
	Plugin         // an auditor plugin's on_cycle handler failed
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Authentication:
		return "authentication"
	case Integrity:
		return "integrity"
	case Policy:
		return "policy"
	case Configuration:
		return "configuration"
	case Plugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// kindError wraps an underlying error with a Kind so errors.Is(err, kindSentinel)
// works after arbitrary wrapping via errors.Wrap.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.kind.String() + ": " + e.msg }

// Is reports whether target is the sentinel for the same kind, letting
// errors.Is(err, errkind.Sentinel(errkind.Integrity)) match any error
// wrapped via New/Wrap with that kind.
func (e *kindError) Is(target error) bool {
	other, ok := target.(*kindError)
	return ok && other.kind == e.kind
}

// Sentinel returns the comparison value for errors.Is checks against kind.
func Sentinel(kind Kind) error { return &kindError{kind: kind} }

// New creates a new error tagged with kind, with a stack trace attached.
func New(kind Kind, msg string) error {
	return errors.WithStack(&kindError{kind: kind, msg: msg})
}

// Wrap tags an existing error with kind, preserving its message and adding
// a stack trace at the wrap site.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&kindError{kind: kind, msg: msg + ": " + err.Error()})
}

// Of reports the Kind tagged onto err, if any was attached via New/Wrap.
func Of(err error) (Kind, bool) {
	var ke *kindError
	for err != nil {
		if k, ok := err.(*kindError); ok {
			ke = k
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ke == nil {
		return 0, false
	}
	return ke.kind, true
}
