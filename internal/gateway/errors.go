package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrAuthFailure          = errors.New("auth failure")
	ErrNotAuthenticated     = errors.New("no user logged in")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrNoActiveConversation = errors.New("no chat selected")
	ErrGatewayFailure       = errors.New("gateway failure")

	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Failure carries a provider error across the container boundary. Its message
// is the provider's, unchanged, and errors.Is matches both Kind and Err.
type Failure struct {
	Kind error
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.Error()
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() []error {
	return []error{f.Kind, f.Err}
}

// AuthError classifies err as an auth provider rejection.
func AuthError(err error) error {
	return classify(ErrAuthFailure, err)
}

// GatewayError classifies err as an opaque backend failure. Errors that
// already belong to the taxonomy pass through untouched.
func GatewayError(err error) error {
	return classify(ErrGatewayFailure, err)
}

func classify(kind, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	for _, known := range []error{ErrNotAuthenticated, ErrNotAuthorized, ErrNoActiveConversation, ErrAuthFailure} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &Failure{Kind: kind, Err: err}
}

// Invalid builds an ErrInvalidArgument with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
