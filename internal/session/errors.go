package session

import "errors"

var (
	ErrSessionClosed    = errors.New("session is closed")
	ErrAlreadyJoined    = errors.New("session already joined")
	ErrNotJoined        = errors.New("session has not joined")
	ErrSensorOutOfScope = errors.New("sensor outside joined scope")
)
