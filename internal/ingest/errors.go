package ingest

import "errors"

var (
	// ErrChannelFull is returned when the submission buffer is saturated.
	ErrChannelFull = errors.New("ingest channel full")

	// ErrDispatcherStopped is returned for submissions after Stop.
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)
