package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	// connection errors, the only kinds that move the connection state machine
	ErrTransport      = errors.New("transport error")
	ErrAuthentication = errors.New("authentication failed")

	// message level errors, contained to a single message
	ErrParse        = errors.New("message parsing failed")
	ErrEnrichment   = errors.New("enrichment failed")
	ErrIndex        = errors.New("index write failed")
	ErrNotification = errors.New("notification delivery failed")

	// registry errors
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountInactive = errors.New("account is not active")
	ErrEmailNotFound   = errors.New("email not found")
	ErrInvalidField    = errors.New("field cannot be updated")
	ErrInvalidAccount  = errors.New("invalid account")

	ErrSupervisorStopped = errors.New("supervisor stopped")
	ErrAccountStopping   = errors.New("account supervisor is still shutting down")
	ErrConnectionTimeout = errors.New("connection timeout")
)

// Classified wraps err so errors.Is matches both kind and the original cause.
type Classified struct {
	Kind  error
	Cause error
}

func (e *Classified) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *Classified) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

func Classify(kind, cause error) error {
	if cause == nil {
		return nil
	}
	if stderrors.Is(cause, kind) {
		return cause
	}
	return &Classified{Kind: kind, Cause: cause}
}

func IsTransport(err error) bool {
	return stderrors.Is(err, ErrTransport)
}

func IsAuthentication(err error) bool {
	return stderrors.Is(err, ErrAuthentication)
}
