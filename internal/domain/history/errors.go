package history

import "errors"

// ErrInvalidInput indicates an entry without a meeting or event type.
var ErrInvalidInput = errors.New("invalid history input")
