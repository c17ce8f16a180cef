package physics

// Config carries the per-drone physical constants. Values are read-only after
// construction; every simulator owns one copy for its lifetime.
type Config struct {
	// MassKg is the airframe mass including battery.
	MassKg float64
	// MaxSpeedMps caps the velocity magnitude after integration.
	MaxSpeedMps float64
	// MaxAccelerationMps2 bounds the thrust the motors can produce.
	MaxAccelerationMps2 float64
	// MaxAngularVelocityDps bounds commanded yaw rates.
	MaxAngularVelocityDps float64
	// DragCoefficient scales the quadratic air-drag force.
	DragCoefficient float64
	// LiftCoefficient is carried for camera/telemetry consumers; the point-mass
	// model does not use it.
	LiftCoefficient float64
	// BatteryDrainRate is the hover drain in percent per second.
	BatteryDrainRate float64
}

// DefaultConfig returns the tuning used for a stock simulated quadcopter.
// MaxAccelerationMps2 must stay above gravity or the thrust clamp makes
// hovering impossible.
func DefaultConfig() Config {
	return Config{
		MassKg:                1.2,
		MaxSpeedMps:           8.0,
		MaxAccelerationMps2:   20.0,
		MaxAngularVelocityDps: 90.0,
		DragCoefficient:       0.3,
		LiftCoefficient:       1.2,
		BatteryDrainRate:      0.05,
	}
}

// MaxThrustNewtons returns the motor thrust ceiling implied by the config.
func (c Config) MaxThrustNewtons() float64 {
	return c.MaxAccelerationMps2 * c.MassKg
}
