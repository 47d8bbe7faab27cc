package api

import "errors"

// ErrInvalidRequest marks failures caused by the request body itself.
var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// Error kinds reported in the "error" field of a failed response.
const (
	errKindInput       = "Input Error"
	errKindRateLimited = "Too Many Requests"
	errKindServer      = "Unknown Server Error"
)
