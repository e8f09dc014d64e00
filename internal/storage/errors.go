package storage

import "errors"

var (
	// ErrStoreClosed is returned for operations after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrWriteTimeout is returned when the writer goroutine cannot accept an
	// operation in time.
	ErrWriteTimeout = errors.New("write operation timeout")
)
