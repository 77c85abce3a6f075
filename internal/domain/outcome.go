package domain

// Action is the terminal outcome of processing one raw item.
type Action string

const (
	// ActionCreated means a new item was inserted.
	ActionCreated Action = "created"
	// ActionUpdated means a duplicate was found and the stored item enriched.
	ActionUpdated Action = "updated"
	// ActionSkipped means the item was intentionally not persisted.
	ActionSkipped Action = "skipped"
	// ActionError means processing failed unexpectedly.
	ActionError Action = "error"
)

// Skip reasons reported in Outcome.Reason.
const (
	SkipReasonValidation = "validation_failed"
	SkipReasonDuplicate  = "duplicate"
	SkipReasonDailyCap   = "daily_cap_reached"
	SkipReasonExpired    = "already_expired"
)

// Outcome describes how one raw item terminated in the pipeline.
type Outcome struct {
	Action Action
	Reason string
	ItemID string
	Err    error
}

// Created builds a created outcome for the given item ID.
func Created(itemID string) Outcome {
	return Outcome{Action: ActionCreated, ItemID: itemID}
}

// Updated builds an updated outcome for the given existing item ID.
func Updated(itemID, reason string) Outcome {
	return Outcome{Action: ActionUpdated, ItemID: itemID, Reason: reason}
}

// Skipped builds a skipped outcome with a machine-readable reason.
func Skipped(reason string) Outcome {
	return Outcome{Action: ActionSkipped, Reason: reason}
}

// Errored builds an error outcome wrapping the underlying failure.
func Errored(err error) Outcome {
	return Outcome{Action: ActionError, Err: err}
}
