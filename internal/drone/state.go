package drone

import (
	"time"

	"skyfleet/simulator/internal/vmath"
)

// FlightState is the drone's phase in its command state machine.
type FlightState int

const (
	// FlightIdle is the initial grounded state; only takeoff leaves it.
	FlightIdle FlightState = iota
	// FlightTakeoff climbs toward the takeoff target altitude.
	FlightTakeoff
	// FlightFlying accepts move and rotate commands.
	FlightFlying
	// FlightLanding descends toward the landing target.
	FlightLanding
	// FlightLanded is reached on touchdown; Reset returns to idle.
	FlightLanded
	// FlightEmergency descends straight down with no further commands accepted.
	FlightEmergency
	// FlightCollision is entered momentarily when a tick is rejected by the
	// collision check; it resolves into FlightEmergency in the same tick.
	FlightCollision
)

func (f FlightState) String() string {
	switch f {
	case FlightIdle:
		return "idle"
	case FlightTakeoff:
		return "takeoff"
	case FlightFlying:
		return "flying"
	case FlightLanding:
		return "landing"
	case FlightLanded:
		return "landed"
	case FlightEmergency:
		return "emergency"
	case FlightCollision:
		return "collision"
	default:
		return "unknown"
	}
}

// State is a full snapshot of one drone. It is owned by a single Simulator
// and handed out by value, so readers never observe a torn update.
type State struct {
	Position        vmath.Vector3 `json:"position"`
	Velocity        vmath.Vector3 `json:"velocity"`
	Acceleration    vmath.Vector3 `json:"acceleration"`
	Rotation        vmath.Vector3 `json:"rotation"`
	AngularVelocity vmath.Vector3 `json:"angular_velocity"`
	Battery         float64       `json:"battery_level"`
	Flight          FlightState   `json:"-"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Statistics aggregates the live counters consumers poll.
type Statistics struct {
	DroneID          string         `json:"drone_id"`
	Position         vmath.Vector3  `json:"position"`
	Velocity         vmath.Vector3  `json:"velocity"`
	Battery          float64        `json:"battery_level"`
	FlightState      string         `json:"flight_state"`
	TotalFlightTimeS float64        `json:"total_flight_time"`
	TotalDistanceM   float64        `json:"total_distance_traveled"`
	CollisionCount   int            `json:"collision_count"`
	ObstacleCount    int            `json:"obstacle_count"`
	YawDeg           float64        `json:"yaw_deg"`
	TargetPosition   *vmath.Vector3 `json:"target_position,omitempty"`
}
