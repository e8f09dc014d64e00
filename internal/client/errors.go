package client

import "errors"

var (
	// ErrUnexpectedResponse is returned when the server answers with a cmd
	// the pending request cannot accept.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrServerRejected wraps a scoped error response from the server.
	ErrServerRejected = errors.New("server rejected request")

	// ErrRetriesExhausted is the terminal join supervisor failure.
	ErrRetriesExhausted = errors.New("join retries exhausted")
)
