package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"skyfleet/simulator/internal/drone"
	"skyfleet/simulator/internal/vmath"
)

// BackendKind selects which drone implementation a manager creates.
type BackendKind string

const (
	// BackendSimulated runs the in-process physics simulator.
	BackendSimulated BackendKind = "simulated"
	// BackendHardware would bridge to real airframes; not implemented here.
	BackendHardware BackendKind = "hardware"
)

// ErrUnsupportedBackend rejects backend kinds this build cannot provide.
var ErrUnsupportedBackend = errors.New("unsupported drone backend")

// Backend is the capability set shared by simulated and hardware drones.
// The manager and every API consumer program against it, never against a
// concrete implementation.
type Backend interface {
	ID() string
	Takeoff() error
	Land() error
	EmergencyLand()
	MoveTo(position vmath.Vector3) error
	RotateToYaw(degrees float64) error
	Reset() error
	Start(ctx context.Context)
	Stop()
	Running() bool
	Snapshot() drone.State
	FlightState() drone.FlightState
	Statistics() drone.Statistics
}

// The simulator satisfies the backend contract directly.
var _ Backend = (*drone.Simulator)(nil)

// ParseBackendKind validates a raw backend selector.
func ParseBackendKind(raw string) (BackendKind, error) {
	switch BackendKind(strings.ToLower(strings.TrimSpace(raw))) {
	case BackendSimulated, "":
		return BackendSimulated, nil
	case BackendHardware:
		return BackendHardware, fmt.Errorf("%w: hardware bridge not built in", ErrUnsupportedBackend)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, raw)
	}
}
