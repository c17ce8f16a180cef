package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"skyfleet/simulator/internal/drone"
	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/physics"
	"skyfleet/simulator/internal/sim"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

// Registry errors, mapped to HTTP statuses by the API layer.
var (
	// ErrUnknownDrone rejects operations on ids the manager never saw.
	ErrUnknownDrone = errors.New("unknown drone")
	// ErrDuplicateDrone rejects re-registration of an existing id.
	ErrDuplicateDrone = errors.New("drone id already registered")
	// ErrInvalidSpawn rejects spawn positions outside the arena or inside obstacles.
	ErrInvalidSpawn = errors.New("spawn position is out of bounds or obstructed")
)

// Options configures a fleet manager.
type Options struct {
	Space      *world.Space
	Events     *events.Stream
	Logger     *logging.Logger
	Physics    *physics.Config
	TickRateHz float64
	Clock      *sim.Clock
}

// Manager owns a set of drone backends sharing one space and one event
// stream. Drones collide with the shared obstacle registry but not with each
// other.
type Manager struct {
	space      *world.Space
	events     *events.Stream
	log        *logging.Logger
	physics    physics.Config
	tickRateHz float64
	clock      *sim.Clock
	monitor    *sim.TickMonitor
	clockLoop  *sim.Loop

	mu      sync.Mutex
	drones  map[string]Backend
	order   []string
	started bool
}

// NewManager builds a manager around the shared space.
func NewManager(opts Options) (*Manager, error) {
	if opts.Space == nil {
		return nil, fmt.Errorf("fleet manager requires a space")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	cfg := physics.DefaultConfig()
	if opts.Physics != nil {
		cfg = *opts.Physics
	}
	tickRate := opts.TickRateHz
	if tickRate <= 0 {
		tickRate = drone.DefaultTickRateHz
	}
	m := &Manager{
		space:      opts.Space,
		events:     opts.Events,
		log:        logger.With(logging.String("component", "fleet")),
		physics:    cfg,
		tickRateHz: tickRate,
		clock:      opts.Clock,
		monitor:    sim.NewTickMonitor(),
		drones:     make(map[string]Backend),
	}
	//1.- A lightweight loop advances simulated time in step with the drones.
	m.clockLoop = sim.NewLoop(tickRate, m.clock.Advance)
	return m, nil
}

// Space returns the shared arena.
func (m *Manager) Space() *world.Space { return m.space }

// TickMetrics exposes aggregated per-tick timings across the fleet.
func (m *Manager) TickMetrics() sim.TickMetricsSnapshot { return m.monitor.Snapshot() }

// AddDrone registers a new backend of the given kind at the spawn position.
// The new drone always flies in the manager's shared space, whatever the
// backend's own default would have been.
func (m *Manager) AddDrone(ctx context.Context, id string, kind BackendKind, spawn vmath.Vector3) (Backend, error) {
	if _, err := ParseBackendKind(string(kind)); err != nil {
		return nil, err
	}
	if !spawn.IsFinite() || !m.space.IsPositionValid(spawn) {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidSpawn, spawn)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.drones[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateDrone, id)
	}

	simulator, err := drone.NewSimulator(id, m.space,
		drone.WithPhysics(m.physics),
		drone.WithEvents(m.events),
		drone.WithLogger(m.log),
		drone.WithTickRate(m.tickRateHz),
		drone.WithTickMonitor(m.monitor),
		drone.WithInitialPosition(spawn),
	)
	if err != nil {
		return nil, err
	}
	m.drones[id] = simulator
	m.order = append(m.order, id)

	//1.- New members join a running fleet immediately.
	if m.started {
		simulator.Start(ctx)
	}
	m.publishLifecycle(id, "added")
	m.log.Info("drone registered", logging.String("drone_id", id))
	return simulator, nil
}

// RemoveDrone stops and forgets the backend.
func (m *Manager) RemoveDrone(id string) error {
	m.mu.Lock()
	backend, ok := m.drones[id]
	if ok {
		delete(m.drones, id)
		for i, candidate := range m.order {
			if candidate == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDrone, id)
	}
	backend.Stop()
	m.publishLifecycle(id, "removed")
	m.log.Info("drone removed", logging.String("drone_id", id))
	return nil
}

// Get returns the backend registered under id.
func (m *Manager) Get(id string) (Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	backend, ok := m.drones[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDrone, id)
	}
	return backend, nil
}

// IDs lists the registered drone ids in registration order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// StartAll launches every backend's simulation loop plus the shared clock.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	m.started = true
	backends := m.snapshotLocked()
	m.mu.Unlock()

	m.clockLoop.Start(ctx)
	for _, backend := range backends {
		backend.Start(ctx)
	}
	m.log.Info("fleet started", logging.Int("drones", len(backends)))
}

// StopAll halts every backend loop and the shared clock. Idempotent.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.started = false
	backends := m.snapshotLocked()
	m.mu.Unlock()

	for _, backend := range backends {
		backend.Stop()
	}
	m.clockLoop.Stop()
	m.log.Info("fleet stopped", logging.Int("drones", len(backends)))
}

// Running reports whether StartAll is in effect.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// AllStatistics gathers statistics for every drone, sorted by id for stable
// output.
func (m *Manager) AllStatistics() []drone.Statistics {
	m.mu.Lock()
	backends := m.snapshotLocked()
	m.mu.Unlock()

	stats := make([]drone.Statistics, 0, len(backends))
	for _, backend := range backends {
		stats = append(stats, backend.Statistics())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].DroneID < stats[j].DroneID })
	return stats
}

// Positions returns the current position of every drone keyed by id.
func (m *Manager) Positions() map[string]vmath.Vector3 {
	m.mu.Lock()
	backends := m.snapshotLocked()
	m.mu.Unlock()

	positions := make(map[string]vmath.Vector3, len(backends))
	for _, backend := range backends {
		positions[backend.ID()] = backend.Snapshot().Position
	}
	return positions
}

func (m *Manager) snapshotLocked() []Backend {
	backends := make([]Backend, 0, len(m.order))
	for _, id := range m.order {
		backends = append(backends, m.drones[id])
	}
	return backends
}

func (m *Manager) publishLifecycle(id, action string) {
	if m.events == nil {
		return
	}
	if _, err := m.events.Publish(events.KindLifecycle, id, events.LifecyclePayload{Action: action}); err != nil {
		m.log.Warn("lifecycle publish failed", logging.Error(err))
	}
}
