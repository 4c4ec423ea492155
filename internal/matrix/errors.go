package matrix

import "errors"

var (
	// ErrNoAvailablePosition signals that a sponsor's matrix has no free
	// slot. Callers should have checked completion first; hitting this is a
	// contract violation, not a retryable condition.
	ErrNoAvailablePosition = errors.New("no available position in matrix")

	// ErrUnknownStage is returned for stages outside the fixed ladder.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrAlreadyPlaced signals that the candidate already holds a position
	// for this stage under a different sponsor. Same-sponsor duplicates are
	// an idempotent no-op, not an error.
	ErrAlreadyPlaced = errors.New("member already placed for stage under another sponsor")

	// ErrStageRegression is returned when a stage-entry request names a
	// stage at or below the member's current one.
	ErrStageRegression = errors.New("member stage can only move up the ladder")
)
