package engine

import (
	"errors"
	"fmt"

	"github.com/ganot/meetsync/internal/domain/channel"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/transport"
)

var (
	// ErrForbidden indicates a facilitator-only action by another role.
	ErrForbidden = errors.New("facilitator role required")
	// ErrUnknownClient indicates a message from a client that is not joined.
	ErrUnknownClient = errors.New("client is not joined to a meeting")
	// ErrInvalidPayload indicates a payload that failed decoding or validation.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnknownMessage indicates an unsupported message type.
	ErrUnknownMessage = errors.New("unknown message type")
)

// APIError is the client-facing form of a rejected action.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
	Retriable    bool   `json:"retriable"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Payload converts the error into an "error" frame body.
func (e *APIError) Payload() transport.ErrorPayload {
	return transport.ErrorPayload{
		Code:         e.Code,
		Message:      e.Message,
		Retriable:    e.Retriable,
		RecoveryHint: e.RecoveryHint,
	}
}

// MapError maps domain errors to client error codes. Unknown errors map to
// INTERNAL without leaking their text.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, protocol.ErrNotReady):
		return &APIError{Code: "NOT_READY", Message: "not everyone is ready yet", RecoveryHint: "Wait for participants to finish the phase", Retriable: true}
	case errors.Is(err, protocol.ErrStalePhase):
		return &APIError{Code: "STALE_PHASE", Message: "the phase has changed", RecoveryHint: "Sync and retry in the current phase", Retriable: true}
	case errors.Is(err, protocol.ErrAlreadyCompleted):
		return &APIError{Code: "ALREADY_COMPLETED", Message: "protocol already completed"}
	case errors.Is(err, protocol.ErrAtFirstPhase):
		return &APIError{Code: "AT_FIRST_PHASE", Message: "already at the first phase"}
	case errors.Is(err, protocol.ErrInvalidPhaseIndex):
		return &APIError{Code: "INVALID_PHASE_INDEX", Message: "phase index out of range"}
	case errors.Is(err, protocol.ErrNotCollectivePhase):
		return &APIError{Code: "NOT_COLLECTIVE_PHASE", Message: "current phase is not collective", RecoveryHint: "Participants complete solo phases themselves"}
	case errors.Is(err, protocol.ErrNotSoloPhase):
		return &APIError{Code: "NOT_SOLO_PHASE", Message: "current phase is not solo", RecoveryHint: "The facilitator marks collective phases ready"}
	case errors.Is(err, protocol.ErrDanglingParent):
		return &APIError{Code: "DANGLING_PARENT", Message: "parent item not found", RecoveryHint: "Submit the group first"}
	case errors.Is(err, protocol.ErrInvalidParent):
		return &APIError{Code: "INVALID_PARENT", Message: "parent must be a top-level group"}
	case errors.Is(err, protocol.ErrInvalidItemType):
		return &APIError{Code: "INVALID_ITEM_TYPE", Message: "item type must be Group or Item"}
	case errors.Is(err, protocol.ErrInstanceNotFound):
		return &APIError{Code: "INSTANCE_NOT_FOUND", Message: "protocol instance not found", RecoveryHint: "Sync to refresh the meeting's protocols"}
	case errors.Is(err, protocol.ErrUnknownType):
		return &APIError{Code: "UNKNOWN_PROTOCOL_TYPE", Message: "unknown protocol type", RecoveryHint: "List the available protocol types"}
	case errors.Is(err, ErrForbidden):
		return &APIError{Code: "FORBIDDEN", Message: "facilitator role required"}
	case errors.Is(err, ErrUnknownClient), errors.Is(err, channel.ErrChannelNotFound):
		return &APIError{Code: "NOT_JOINED", Message: "client is not joined to a meeting", RecoveryHint: "Reconnect"}
	case errors.Is(err, ErrUnknownMessage):
		return &APIError{Code: "UNKNOWN_MESSAGE", Message: err.Error()}
	case errors.Is(err, ErrInvalidPayload),
		errors.Is(err, protocol.ErrInvalidInput),
		errors.Is(err, channel.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error()}
	default:
		return &APIError{Code: "INTERNAL", Message: "internal error", Retriable: true}
	}
}
