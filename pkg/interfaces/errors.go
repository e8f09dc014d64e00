package interfaces

import "errors"

// ErrNoData is reported by Aggregate when the closed range holds no readings.
var ErrNoData = errors.New("no readings in range")
