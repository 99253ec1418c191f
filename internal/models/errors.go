package models

import "errors"

// Sentinel errors shared by the store, the conversation controller and the gateways.
var (
	// ErrInvalidInput is returned for a blank topic name or message text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a topic id is not known to the store.
	ErrNotFound = errors.New("topic not found")
	// ErrGatewayUnavailable is returned when the completion gateway could not be reached or failed
	// at the transport level.
	ErrGatewayUnavailable = errors.New("completion gateway unavailable")
	// ErrGatewayError is returned when the completion gateway answered with an application-level
	// error, such as a rate limit or an invalid model response.
	ErrGatewayError = errors.New("completion gateway error")
	// ErrStreamInterrupted is returned when a stream began but ended before its end-of-stream
	// signal.
	ErrStreamInterrupted = errors.New("completion stream interrupted")
)
