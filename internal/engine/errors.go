package engine

import "errors"

var (
	// ErrRoleMismatch is returned when the actor lacks the role required by
	// the current level
	ErrRoleMismatch = errors.New("actor role does not match required role")

	// ErrAlreadyDecided is returned when the current level is not pending
	ErrAlreadyDecided = errors.New("level already decided")

	// ErrWorkflowNotPending is returned when the workflow is in a terminal
	// state and cannot accept decisions
	ErrWorkflowNotPending = errors.New("workflow is not pending")

	// ErrValidation is returned for invalid decision input, e.g. notes
	// shorter than the configured minimum
	ErrValidation = errors.New("validation failed")

	// ErrDeadlinePassed is returned for a decision submitted after the
	// current level's deadline, when late decisions are not accepted
	ErrDeadlinePassed = errors.New("level deadline has passed")

	// ErrNotInitiator is returned when cancel is requested by anyone other
	// than the workflow initiator
	ErrNotInitiator = errors.New("only the initiator may cancel")

	// ErrCancelTooLate is returned when cancel is requested after the first
	// level has been decided or passed
	ErrCancelTooLate = errors.New("workflow can no longer be cancelled")
)
