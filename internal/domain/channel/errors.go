package channel

import "errors"

var (
	// ErrChannelNotFound indicates the channel has no connected clients.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrInvalidInput indicates an empty channel, client or user id.
	ErrInvalidInput = errors.New("invalid channel input")
)
