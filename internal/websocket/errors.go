package websocket

import "errors"

var (
	// ErrConnectionClosed is returned for writes after the connection closed.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrWriteTimeout is returned when the write buffer stays full past the
	// configured timeout.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrInvalidJSON is returned when a payload cannot be marshalled.
	ErrInvalidJSON = errors.New("invalid JSON payload")
)
