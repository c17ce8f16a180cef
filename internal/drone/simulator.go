package drone

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/physics"
	"skyfleet/simulator/internal/sim"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

const (
	// DefaultTickRateHz is the target frequency of the simulation loop.
	DefaultTickRateHz = 100.0
	// TakeoffAltitude is added to the current position when takeoff is commanded.
	TakeoffAltitude = 1.5
	// MinTakeoffBattery is the charge threshold below which takeoff is refused.
	MinTakeoffBattery = 10.0
	// LandingTargetZ is the altitude the landing controller steers toward.
	LandingTargetZ = 0.1

	// groundContactZ is the altitude at which a descending drone is considered
	// touched down; it sits above the landing target so the controller cannot
	// push the airframe into the floor slab first.
	groundContactZ = 0.15
	// altitudeReachedTolerance promotes takeoff to flying once the climb target
	// is within this margin.
	altitudeReachedTolerance = 0.1

	// PD gains for the position-hold controller.
	controllerKp = 10.0
	controllerKd = 5.0

	// flightPathLimit bounds the retained move-command history.
	flightPathLimit = 256
)

// Option customises a Simulator at construction time.
type Option func(*Simulator)

// WithPhysics overrides the default physics tuning.
func WithPhysics(cfg physics.Config) Option {
	return func(s *Simulator) { s.engine = physics.NewEngine(cfg) }
}

// WithEvents attaches the fleet event stream for state-transition publication.
func WithEvents(stream *events.Stream) Option {
	return func(s *Simulator) { s.events = stream }
}

// WithLogger overrides the logger; the global logger is used otherwise.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithTickRate overrides the loop frequency, primarily for tests.
func WithTickRate(hz float64) Option {
	return func(s *Simulator) {
		if hz > 0 {
			s.tickRateHz = hz
		}
	}
}

// WithInitialPosition places the drone before the first tick.
func WithInitialPosition(position vmath.Vector3) Option {
	return func(s *Simulator) { s.state.Position = position }
}

// WithInitialBattery seeds the battery level, clamped to [0, 100].
func WithInitialBattery(level float64) Option {
	return func(s *Simulator) {
		s.state.Battery = math.Max(0, math.Min(100, level))
	}
}

// WithTickMonitor records per-tick wall durations into the shared monitor.
func WithTickMonitor(monitor *sim.TickMonitor) Option {
	return func(s *Simulator) { s.monitor = monitor }
}

// Simulator owns one drone's state and advances it on a fixed-timestep
// background loop: compute PD thrust toward the current target, step the
// physics engine, validate the new position against the shared space, then
// commit or reject. Commands and getters are safe to call from any goroutine.
type Simulator struct {
	id         string
	space      *world.Space
	engine     *physics.Engine
	events     *events.Stream
	log        *logging.Logger
	monitor    *sim.TickMonitor
	tickRateHz float64
	loop       *sim.Loop

	mu             sync.Mutex
	state          State
	target         *vmath.Vector3
	flightPath     []vmath.Vector3
	totalFlight    float64
	totalDistance  float64
	collisionCount int
}

// NewSimulator constructs a grounded, idle drone operating inside space.
func NewSimulator(id string, space *world.Space, opts ...Option) (*Simulator, error) {
	if id == "" {
		return nil, fmt.Errorf("drone id must be provided")
	}
	if space == nil {
		return nil, fmt.Errorf("drone %q requires a space", id)
	}
	s := &Simulator{
		id:         id,
		space:      space,
		engine:     physics.NewEngine(physics.DefaultConfig()),
		log:        logging.L(),
		tickRateHz: DefaultTickRateHz,
		state: State{
			Battery:   100,
			Flight:    FlightIdle,
			Timestamp: time.Now(),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(logging.String("drone_id", id))
	s.loop = sim.NewLoop(s.tickRateHz, s.step)
	return s, nil
}

// ID returns the drone identifier.
func (s *Simulator) ID() string { return s.id }

// Space exposes the arena the drone flies in.
func (s *Simulator) Space() *world.Space { return s.space }

// Physics exposes the engine tuning.
func (s *Simulator) Physics() physics.Config { return s.engine.Config() }

// Start launches the background simulation loop. Starting twice warns and is
// otherwise a no-op.
func (s *Simulator) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if !s.loop.Start(ctx) {
		s.log.Warn("simulation loop already running")
		return
	}
	s.log.Info("simulation loop started", logging.Float64("tick_rate_hz", s.tickRateHz))
}

// Stop signals the loop to exit and waits for it. Safe to call repeatedly.
func (s *Simulator) Stop() {
	if s == nil {
		return
	}
	s.loop.Stop()
}

// Running reports whether the background loop is active.
func (s *Simulator) Running() bool { return s.loop.Running() }

func (s *Simulator) step(step time.Duration) {
	started := time.Now()
	s.Tick(step.Seconds())
	s.monitor.Observe(time.Since(started))
}

// Takeoff commands a climb of TakeoffAltitude above the current position.
// The drone must be idle with at least MinTakeoffBattery percent charge, and
// the climb target must be a valid position.
func (s *Simulator) Takeoff() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Flight != FlightIdle {
		return fmt.Errorf("%w: takeoff from %s", ErrInvalidState, s.state.Flight)
	}
	if s.state.Battery < MinTakeoffBattery {
		return fmt.Errorf("%w: %.1f%% < %.0f%%", ErrLowBattery, s.state.Battery, MinTakeoffBattery)
	}
	target := s.state.Position.Add(vmath.Vector3{Z: TakeoffAltitude})
	if !s.space.IsPositionValid(target) {
		return fmt.Errorf("%w: takeoff target %+v", ErrInvalidTarget, target)
	}
	s.target = &target
	s.transitionLocked(FlightTakeoff)
	return nil
}

// Land steers the drone to LandingTargetZ directly below its position. Only
// valid while flying or still climbing.
func (s *Simulator) Land() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Flight != FlightFlying && s.state.Flight != FlightTakeoff {
		return fmt.Errorf("%w: land from %s", ErrInvalidState, s.state.Flight)
	}
	target := vmath.Vector3{X: s.state.Position.X, Y: s.state.Position.Y, Z: LandingTargetZ}
	s.target = &target
	s.transitionLocked(FlightLanding)
	return nil
}

// EmergencyLand drops the drone straight down regardless of state. It never
// fails; repeated calls simply refresh the ground target.
func (s *Simulator) EmergencyLand() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergencyLandLocked()
}

func (s *Simulator) emergencyLandLocked() {
	target := vmath.Vector3{X: s.state.Position.X, Y: s.state.Position.Y, Z: 0}
	s.target = &target
	s.transitionLocked(FlightEmergency)
}

// MoveTo retargets the controller while flying. The target must pass the
// position validity check; on failure the previous target is left unchanged.
func (s *Simulator) MoveTo(position vmath.Vector3) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Flight != FlightFlying {
		return fmt.Errorf("%w: move from %s", ErrInvalidState, s.state.Flight)
	}
	if !position.IsFinite() || !s.space.IsPositionValid(position) {
		return fmt.Errorf("%w: %+v", ErrInvalidTarget, position)
	}
	target := position
	s.target = &target
	//1.- Record the waypoint history, trimming the oldest entries when full.
	s.flightPath = append(s.flightPath, position)
	if len(s.flightPath) > flightPathLimit {
		s.flightPath = s.flightPath[len(s.flightPath)-flightPathLimit:]
	}
	return nil
}

// RotateToYaw sets the heading instantly; yaw is not physically integrated.
func (s *Simulator) RotateToYaw(degrees float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Flight != FlightFlying {
		return fmt.Errorf("%w: rotate from %s", ErrInvalidState, s.state.Flight)
	}
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return fmt.Errorf("%w: yaw %v", ErrInvalidTarget, degrees)
	}
	s.state.Rotation.Z = wrapAngleDeg(degrees)
	return nil
}

// Reset returns a terminal drone (landed, emergency, collision) to idle on
// the ground so a new takeoff can begin.
func (s *Simulator) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Flight {
	case FlightLanded, FlightEmergency, FlightCollision:
	default:
		return fmt.Errorf("%w: reset from %s", ErrInvalidState, s.state.Flight)
	}
	s.state.Position.Z = 0
	s.state.Velocity = vmath.Vector3{}
	s.state.Acceleration = vmath.Vector3{}
	s.target = nil
	s.transitionLocked(FlightIdle)
	return nil
}

// Tick advances the simulation by dt seconds. Exposed so tests and single
// threaded schedulers can drive the drone deterministically.
func (s *Simulator) Tick(dt float64) {
	if s == nil || dt <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Idle and landed drones burn no battery and run no physics.
	if s.state.Flight == FlightIdle || s.state.Flight == FlightLanded {
		return
	}

	//2.- Declare touchdown before physics can push the airframe into the floor.
	if s.state.Flight == FlightLanding || s.state.Flight == FlightEmergency {
		if s.state.Position.Z <= groundContactZ {
			s.state.Position.Z = 0
			s.state.Velocity = vmath.Vector3{}
			s.state.Acceleration = vmath.Vector3{}
			s.target = nil
			s.transitionLocked(FlightLanded)
			return
		}
	}

	thrust := s.controlThrustLocked()
	previous := physics.Kinematics{
		Position:     s.state.Position,
		Velocity:     s.state.Velocity,
		Acceleration: s.state.Acceleration,
		Battery:      s.state.Battery,
	}
	next := s.engine.ApplyForces(previous, thrust, dt)

	//3.- Reject the tick on collision, keeping the previous committed state.
	if collided, obstacleID := s.space.CheckCollision(next.Position, world.DefaultDroneHalfExtents); collided {
		s.handleCollisionLocked(obstacleID)
		return
	}

	//4.- Commit the new state and accumulate flight statistics.
	s.totalDistance += vmath.Distance(previous.Position, next.Position)
	s.totalFlight += dt
	s.state.Position = next.Position
	s.state.Velocity = next.Velocity
	s.state.Acceleration = next.Acceleration
	s.state.Battery = next.Battery
	s.state.Timestamp = time.Now()

	//5.- Promote takeoff to flying once the climb target altitude is reached.
	if s.state.Flight == FlightTakeoff && s.target != nil {
		if math.Abs(s.state.Position.Z-s.target.Z) < altitudeReachedTolerance {
			s.transitionLocked(FlightFlying)
		}
	}

	//6.- An exhausted battery forces an emergency descent.
	if s.state.Battery <= 0 && s.state.Flight != FlightEmergency {
		s.handleBatteryEmptyLocked()
	}
}

// controlThrustLocked computes the PD position-hold thrust toward the current
// target, or plain gravity compensation when no target is set.
func (s *Simulator) controlThrustLocked() vmath.Vector3 {
	hover := s.engine.GravityCompensation()
	if s.target == nil {
		return hover
	}
	positionError := s.target.Sub(s.state.Position)
	damping := s.state.Velocity.Scale(-1)
	return positionError.Scale(controllerKp).Add(damping.Scale(controllerKd)).Add(hover)
}

func (s *Simulator) handleCollisionLocked(obstacleID string) {
	s.collisionCount++
	s.state.Velocity = vmath.Vector3{}
	s.state.Acceleration = vmath.Vector3{}
	s.transitionLocked(FlightCollision)
	s.log.Warn("collision detected",
		logging.String("obstacle_id", obstacleID),
		logging.Int("collision_count", s.collisionCount))
	s.publishLocked(events.KindCollision, events.CollisionPayload{
		ObstacleID:     obstacleID,
		Position:       s.state.Position,
		CollisionCount: s.collisionCount,
	})
	s.emergencyLandLocked()
}

func (s *Simulator) handleBatteryEmptyLocked() {
	s.log.Warn("battery exhausted, forcing emergency landing")
	s.publishLocked(events.KindBattery, events.BatteryPayload{
		Level:    s.state.Battery,
		Position: s.state.Position,
		Empty:    true,
	})
	s.emergencyLandLocked()
}

func (s *Simulator) transitionLocked(to FlightState) {
	from := s.state.Flight
	if from == to {
		return
	}
	s.state.Flight = to
	s.log.Debug("flight state transition",
		logging.String("from", from.String()),
		logging.String("to", to.String()))
	s.publishLocked(events.KindStateChange, events.StateChangePayload{
		From:     from.String(),
		To:       to.String(),
		Position: s.state.Position,
		Battery:  s.state.Battery,
	})
}

func (s *Simulator) publishLocked(kind events.Kind, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(kind, s.id, payload); err != nil {
		s.log.Warn("event publish failed", logging.Error(err), logging.String("kind", string(kind)))
	}
}

// Snapshot returns a copy of the full drone state.
func (s *Simulator) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the current position.
func (s *Simulator) Position() vmath.Vector3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Position
}

// Velocity returns the current velocity.
func (s *Simulator) Velocity() vmath.Vector3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Velocity
}

// BatteryLevel returns the remaining charge in percent.
func (s *Simulator) BatteryLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Battery
}

// FlightState returns the current state-machine phase.
func (s *Simulator) FlightState() FlightState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Flight
}

// Target returns the current controller target, if any.
func (s *Simulator) Target() (vmath.Vector3, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return vmath.Vector3{}, false
	}
	return *s.target, true
}

// FlightPath returns a copy of the recorded waypoint history.
func (s *Simulator) FlightPath() []vmath.Vector3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vmath.Vector3(nil), s.flightPath...)
}

// Statistics assembles the counters external consumers poll.
func (s *Simulator) Statistics() Statistics {
	s.mu.Lock()
	stats := Statistics{
		DroneID:          s.id,
		Position:         s.state.Position,
		Velocity:         s.state.Velocity,
		Battery:          s.state.Battery,
		FlightState:      s.state.Flight.String(),
		TotalFlightTimeS: s.totalFlight,
		TotalDistanceM:   s.totalDistance,
		CollisionCount:   s.collisionCount,
		YawDeg:           s.state.Rotation.Z,
	}
	if s.target != nil {
		target := *s.target
		stats.TargetPosition = &target
	}
	s.mu.Unlock()

	stats.ObstacleCount = s.space.ObstacleCount()
	return stats
}

// wrapAngleDeg normalizes an angle to the [-180, 180) range.
func wrapAngleDeg(angle float64) float64 {
	wrapped := math.Mod(angle+180.0, 360.0)
	if wrapped < 0 {
		wrapped += 360.0
	}
	return wrapped - 180.0
}
