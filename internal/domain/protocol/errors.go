package protocol

import "errors"

var (
	// ErrInstanceNotFound indicates the protocol instance doesn't exist.
	ErrInstanceNotFound = errors.New("protocol instance not found")
	// ErrUnknownType indicates the protocol type is not in the catalog.
	ErrUnknownType = errors.New("unknown protocol type")
	// ErrInvalidType indicates a protocol type definition failed validation.
	ErrInvalidType = errors.New("invalid protocol type")
	// ErrInvalidInput indicates invalid protocol input.
	ErrInvalidInput = errors.New("invalid protocol input")

	// ErrNotReady indicates the current phase has not reached readiness.
	ErrNotReady = errors.New("not everyone is ready yet")
	// ErrAlreadyCompleted indicates the instance already finished its last phase.
	ErrAlreadyCompleted = errors.New("protocol already completed")
	// ErrAtFirstPhase indicates a rewind was attempted on the first phase.
	ErrAtFirstPhase = errors.New("already at the first phase")
	// ErrInvalidPhaseIndex indicates a phase index outside the protocol's phases.
	ErrInvalidPhaseIndex = errors.New("invalid phase index")
	// ErrStalePhase indicates the caller acted on a phase that is no longer current.
	ErrStalePhase = errors.New("phase has changed")
	// ErrNotCollectivePhase indicates a collective-only action in a solo phase.
	ErrNotCollectivePhase = errors.New("current phase is not collective")
	// ErrNotSoloPhase indicates a solo-only action in a collective phase.
	ErrNotSoloPhase = errors.New("current phase is not solo")

	// ErrInvalidItemType indicates an item type other than Group or Item.
	ErrInvalidItemType = errors.New("invalid item type")
	// ErrDanglingParent indicates a parent id that matches no item of the instance.
	ErrDanglingParent = errors.New("parent item not found")
	// ErrInvalidParent indicates a parent that is not a Group, or a Group with a parent.
	ErrInvalidParent = errors.New("invalid parent item")
)
