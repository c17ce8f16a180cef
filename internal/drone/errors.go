package drone

import "errors"

// Command errors are sentinel kinds so callers and the API layer can map them
// structurally instead of matching message text.
var (
	// ErrInvalidState rejects a command issued in the wrong flight state.
	ErrInvalidState = errors.New("command not allowed in current flight state")
	// ErrLowBattery rejects takeoff below the minimum charge threshold.
	ErrLowBattery = errors.New("battery level too low for takeoff")
	// ErrInvalidTarget rejects targets that are out of bounds or obstructed.
	ErrInvalidTarget = errors.New("target position is out of bounds or obstructed")
)
