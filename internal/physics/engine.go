package physics

import (
	"skyfleet/simulator/internal/vmath"
)

const (
	// Gravity is the downward acceleration applied every step, in m/s².
	Gravity = 9.81
	// AirDensity feeds the quadratic drag model, in kg/m³.
	AirDensity = 1.225
)

// Kinematics is the slice of drone state the engine advances. The engine is a
// pure function over it; callers decide whether to commit the result.
type Kinematics struct {
	Position     vmath.Vector3
	Velocity     vmath.Vector3
	Acceleration vmath.Vector3
	// Battery is the remaining charge in percent, clamped to [0, 100].
	Battery float64
}

// Engine steps drone kinematics under thrust, gravity and drag.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine for the provided tuning.
func NewEngine(cfg Config) *Engine {
	if cfg.MassKg <= 0 {
		cfg.MassKg = DefaultConfig().MassKg
	}
	return &Engine{cfg: cfg}
}

// Config exposes the engine tuning for consumers such as the controller.
func (e *Engine) Config() Config {
	return e.cfg
}

// GravityCompensation returns the upward thrust that exactly cancels gravity.
func (e *Engine) GravityCompensation() vmath.Vector3 {
	return vmath.Vector3{Z: e.cfg.MassKg * Gravity}
}

// ApplyForces advances the kinematic state by dt seconds under the requested
// thrust. It never fails; collision rejection is the caller's responsibility.
func (e *Engine) ApplyForces(state Kinematics, thrust vmath.Vector3, dt float64) Kinematics {
	if dt <= 0 {
		return state
	}

	//1.- Clamp the commanded thrust to what the motors can actually produce.
	maxThrust := e.cfg.MaxThrustNewtons()
	thrust = thrust.ClampMagnitude(maxThrust)

	//2.- Sum thrust, gravity and quadratic drag opposing the current velocity.
	gravity := vmath.Vector3{Z: -e.cfg.MassKg * Gravity}
	total := thrust.Add(gravity).Sub(e.dragForce(state.Velocity))

	//3.- Integrate acceleration and velocity, capping speed while keeping direction.
	next := state
	next.Acceleration = total.Scale(1 / e.cfg.MassKg)
	next.Velocity = state.Velocity.Add(next.Acceleration.Scale(dt)).ClampMagnitude(e.cfg.MaxSpeedMps)

	//4.- Advance the position with the clamped velocity.
	next.Position = state.Position.Add(next.Velocity.Scale(dt))

	//5.- Drain the battery faster under high thrust, clamping at empty.
	drain := e.cfg.BatteryDrainRate * dt
	if maxThrust > 0 {
		drain *= 1 + thrust.Magnitude()/maxThrust
	}
	next.Battery = state.Battery - drain
	if next.Battery < 0 {
		next.Battery = 0
	}
	return next
}

// dragForce returns 0.5 * rho * Cd * |v|² directed against the velocity.
func (e *Engine) dragForce(velocity vmath.Vector3) vmath.Vector3 {
	speed := velocity.Magnitude()
	if speed == 0 {
		return vmath.Vector3{}
	}
	magnitude := 0.5 * AirDensity * e.cfg.DragCoefficient * speed * speed
	return velocity.Normalize().Scale(magnitude)
}
