package protocol

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownCommand   = errors.New("unknown command")
)
