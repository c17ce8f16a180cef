package physics

import (
	"math"
	"testing"

	"skyfleet/simulator/internal/vmath"
)

func TestApplyForcesHoverIsStationary(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	state := Kinematics{Position: vmath.Vector3{Z: 2}, Battery: 100}

	next := engine.ApplyForces(state, engine.GravityCompensation(), 0.01)
	if math.Abs(next.Velocity.Z) > 1e-9 {
		t.Fatalf("hover thrust must cancel gravity, got vz=%v", next.Velocity.Z)
	}
	if math.Abs(next.Position.Z-2) > 1e-9 {
		t.Fatalf("hovering drone drifted to z=%v", next.Position.Z)
	}
}

func TestApplyForcesGravityPullsDown(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	state := Kinematics{Position: vmath.Vector3{Z: 5}, Battery: 100}

	next := engine.ApplyForces(state, vmath.Vector3{}, 0.1)
	if next.Velocity.Z >= 0 {
		t.Fatalf("expected downward velocity under zero thrust, got %v", next.Velocity.Z)
	}
	if next.Position.Z >= 5 {
		t.Fatalf("expected descent, got z=%v", next.Position.Z)
	}
}

func TestSpeedCapHoldsForAnyThrust(t *testing.T) {
	cfg := DefaultConfig()
	engine := NewEngine(cfg)
	state := Kinematics{Battery: 100}

	// Hammer the engine with an absurd thrust across many steps and dt values.
	thrust := vmath.Vector3{X: 1e6, Z: 1e6}
	for _, dt := range []float64{0.01, 0.1, 0.5, 1.0} {
		for i := 0; i < 50; i++ {
			state = engine.ApplyForces(state, thrust, dt)
			if speed := state.Velocity.Magnitude(); speed > cfg.MaxSpeedMps+1e-9 {
				t.Fatalf("speed cap violated: %v > %v (dt=%v)", speed, cfg.MaxSpeedMps, dt)
			}
		}
	}
}

func TestBatteryMonotonicAndClamped(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	state := Kinematics{Battery: 1}

	previous := state.Battery
	for i := 0; i < 10000; i++ {
		state = engine.ApplyForces(state, engine.GravityCompensation(), 0.1)
		if state.Battery > previous {
			t.Fatalf("battery increased from %v to %v", previous, state.Battery)
		}
		if state.Battery < 0 {
			t.Fatalf("battery went negative: %v", state.Battery)
		}
		previous = state.Battery
	}
	if state.Battery != 0 {
		t.Fatalf("expected battery exhausted, got %v", state.Battery)
	}
}

func TestHighThrustDrainsFaster(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	idle := engine.ApplyForces(Kinematics{Battery: 100}, vmath.Vector3{}, 1.0)
	maxed := engine.ApplyForces(Kinematics{Battery: 100}, vmath.Vector3{Z: 1e9}, 1.0)
	if maxed.Battery >= idle.Battery {
		t.Fatalf("full thrust must burn more battery: idle=%v maxed=%v", idle.Battery, maxed.Battery)
	}
}

func TestDragOpposesMotion(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	state := Kinematics{Velocity: vmath.Vector3{X: 5}, Battery: 100}

	next := engine.ApplyForces(state, engine.GravityCompensation(), 0.01)
	if next.Velocity.X >= 5 {
		t.Fatalf("drag must slow horizontal motion, got vx=%v", next.Velocity.X)
	}
}

func TestApplyForcesIgnoresNonPositiveTimestep(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	state := Kinematics{Position: vmath.Vector3{Z: 1}, Battery: 50}
	if got := engine.ApplyForces(state, vmath.Vector3{Z: 100}, 0); got != state {
		t.Fatalf("zero dt must be a no-op, got %+v", got)
	}
}
