package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrSubmit            = errors.New("submit failed")
	ErrFetch             = errors.New("fetch failed")
	ErrRemoteFailure     = errors.New("remote failure")
	ErrMalformedSuccess  = errors.New("malformed success")
	ErrTimeout           = errors.New("timeout")
	ErrMissingCredential = errors.New("missing credential")
)

// User-facing messages rendered on the error facet.
const (
	MessageInvalidURL       = "Please enter a valid URL."
	MessageSubmitFailed     = "Failed to initiate prediction."
	MessagePredictionFailed = "Prediction failed."
	MessagePredictionCancel = "Prediction was canceled."
	MessageMalformedSuccess = "Prediction succeeded without any output."
	MessageTimeout          = "Timed out waiting for the prediction to finish."
	MessageGeneric          = "An error occurred while generating alt text."
)

// InvalidInputError reports a user input that is not an absolute URL.
// No remote call is attempted for it.
type InvalidInputError struct {
	Input string
	Err   error
}

func (e *InvalidInputError) Error() string {
	return MessageInvalidURL
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// SubmitError is returned when the remote service rejects or cannot be
// reached for a job submission. Cause holds the remote error body verbatim.
type SubmitError struct {
	StatusCode int
	Cause      string
	Err        error
}

func (e *SubmitError) Error() string {
	if cause := strings.TrimSpace(e.Cause); cause != "" {
		return cause
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return MessageSubmitFailed
}

func (e *SubmitError) Unwrap() error { return e.Err }

func (e *SubmitError) Is(target error) bool { return target == ErrSubmit }

// FetchError is returned when a status snapshot could not be obtained or
// decoded.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return "fetch status failed"
	}
	return "fetch status: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// RemoteFailure is the remote service explicitly reporting a failed job.
type RemoteFailure struct {
	Reason string
}

func (e *RemoteFailure) Error() string {
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		return reason
	}
	return MessagePredictionFailed
}

func (e *RemoteFailure) Is(target error) bool { return target == ErrRemoteFailure }

// FailureMessage maps any error reaching the Failed state to the text shown
// to the user.
func FailureMessage(err error) string {
	if err == nil {
		return MessageGeneric
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return MessageInvalidURL
	case errors.Is(err, ErrMalformedSuccess):
		return MessageMalformedSuccess
	case errors.Is(err, ErrTimeout):
		return MessageTimeout
	}
	var submitErr *SubmitError
	if errors.As(err, &submitErr) {
		if cause := strings.TrimSpace(submitErr.Cause); cause != "" {
			return submitErr.Cause
		}
		return MessageSubmitFailed
	}
	var remote *RemoteFailure
	if errors.As(err, &remote) {
		return remote.Error()
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return MessageGeneric
}
