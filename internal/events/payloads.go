package events

import "skyfleet/simulator/internal/vmath"

// StateChangePayload describes a flight-state transition.
type StateChangePayload struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Position vmath.Vector3 `json:"position"`
	Battery  float64       `json:"battery"`
}

// CollisionPayload describes a tick rejected by the collision check.
type CollisionPayload struct {
	ObstacleID     string        `json:"obstacle_id"`
	Position       vmath.Vector3 `json:"position"`
	CollisionCount int           `json:"collision_count"`
}

// BatteryPayload describes a battery milestone.
type BatteryPayload struct {
	Level    float64       `json:"level"`
	Position vmath.Vector3 `json:"position"`
	Empty    bool          `json:"empty"`
}

// Contact is a single proximity-sensor return.
type Contact struct {
	ObstacleID string  `json:"obstacle_id"`
	Type       string  `json:"type"`
	RangeM     float64 `json:"range_m"`
	BearingDeg float64 `json:"bearing_deg"`
}

// DetectionPayload carries one sensor sweep for one drone.
type DetectionPayload struct {
	Contacts []Contact `json:"contacts"`
}

// LifecyclePayload describes fleet membership changes.
type LifecyclePayload struct {
	Action string `json:"action"`
}
