package types

import "errors"

var (
	ErrMissingField = errors.New("reading is missing a required field")
)
