package feed

import "errors"

var (
	// ErrClosed is returned when subscribing to a closed broker.
	ErrClosed = errors.New("feed broker closed")
	// ErrUnknownTopic is returned for a topic the broker does not carry.
	ErrUnknownTopic = errors.New("unknown feed topic")
)
