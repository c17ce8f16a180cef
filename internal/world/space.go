package world

import (
	"fmt"
	"math/rand"
	"sync"

	"skyfleet/simulator/internal/vmath"
)

// boundaryThickness is the wall thickness of the auto-populated arena shell.
const boundaryThickness = 0.2

// floorClearance drops the floor slab just below the ground-level drone AABB
// so a drone resting at z=0 is not in contact with it.
const floorClearance = 0.11

// DefaultDroneHalfExtents is the collision half-extent box used for a drone
// when the caller does not supply one.
var DefaultDroneHalfExtents = vmath.Vector3{X: 0.2, Y: 0.2, Z: 0.1}

// Space is a bounded 3D arena with an obstacle registry. Bounds holds the
// full extents of the flyable volume: x and y are centered on the origin and
// z spans [0, Bounds.Z]. All methods are safe for concurrent use; every
// simulator sharing the space queries through the same registry lock.
type Space struct {
	bounds vmath.Vector3

	mu        sync.RWMutex
	obstacles map[string]Obstacle
	order     []string

	// rngMu is separate from the registry lock: sampling draws interleave
	// with collision queries that take the read lock.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSpace constructs a space of the given full extents and installs the six
// boundary obstacles (floor, ceiling, four walls) so nothing can legally fly
// outside the declared volume.
func NewSpace(bounds vmath.Vector3) (*Space, error) {
	if bounds.X <= 0 || bounds.Y <= 0 || bounds.Z <= 0 {
		return nil, fmt.Errorf("space bounds must be positive on every axis, got %+v", bounds)
	}
	s := &Space{
		bounds:    bounds,
		obstacles: make(map[string]Obstacle),
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
	s.installBoundaryShell()
	return s, nil
}

// Bounds returns the full extents of the space.
func (s *Space) Bounds() vmath.Vector3 {
	return s.bounds
}

func (s *Space) installBoundaryShell() {
	hx, hy := s.bounds.X/2, s.bounds.Y/2
	t := boundaryThickness
	shell := []Obstacle{
		{ID: "boundary-floor", Type: ObstacleFloor, Position: vmath.Vector3{Z: -t/2 - floorClearance}, Size: vmath.Vector3{X: s.bounds.X, Y: s.bounds.Y, Z: t}, Static: true},
		{ID: "boundary-ceiling", Type: ObstacleCeiling, Position: vmath.Vector3{Z: s.bounds.Z + t/2}, Size: vmath.Vector3{X: s.bounds.X, Y: s.bounds.Y, Z: t}, Static: true},
		{ID: "boundary-wall-east", Type: ObstacleWall, Position: vmath.Vector3{X: hx + t/2, Z: s.bounds.Z / 2}, Size: vmath.Vector3{X: t, Y: s.bounds.Y, Z: s.bounds.Z}, Static: true},
		{ID: "boundary-wall-west", Type: ObstacleWall, Position: vmath.Vector3{X: -hx - t/2, Z: s.bounds.Z / 2}, Size: vmath.Vector3{X: t, Y: s.bounds.Y, Z: s.bounds.Z}, Static: true},
		{ID: "boundary-wall-north", Type: ObstacleWall, Position: vmath.Vector3{Y: hy + t/2, Z: s.bounds.Z / 2}, Size: vmath.Vector3{X: s.bounds.X, Y: t, Z: s.bounds.Z}, Static: true},
		{ID: "boundary-wall-south", Type: ObstacleWall, Position: vmath.Vector3{Y: -hy - t/2, Z: s.bounds.Z / 2}, Size: vmath.Vector3{X: s.bounds.X, Y: t, Z: s.bounds.Z}, Static: true},
	}
	for _, obstacle := range shell {
		s.addLocked(obstacle)
	}
}

// AddObstacle registers the obstacle, overwriting any previous entry with the
// same id. Last write wins; no uniqueness error.
func (s *Space) AddObstacle(obstacle Obstacle) error {
	if err := obstacle.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.addLocked(obstacle)
	s.mu.Unlock()
	return nil
}

func (s *Space) addLocked(obstacle Obstacle) {
	if _, exists := s.obstacles[obstacle.ID]; !exists {
		//1.- Remember insertion order so collision scans stay deterministic.
		s.order = append(s.order, obstacle.ID)
	}
	s.obstacles[obstacle.ID] = obstacle
}

// RemoveObstacle deletes the obstacle and reports whether it was present.
func (s *Space) RemoveObstacle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.obstacles[id]; !ok {
		return false
	}
	delete(s.obstacles, id)
	for i, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// CheckCollision tests the drone AABB centered at position with the given
// half extents against every registered obstacle, scanning in insertion
// order. It returns the first colliding obstacle id, or ok=false when the
// position is free.
func (s *Space) CheckCollision(position vmath.Vector3, halfExtents vmath.Vector3) (bool, string) {
	if halfExtents == (vmath.Vector3{}) {
		halfExtents = DefaultDroneHalfExtents
	}
	droneBox := vmath.AABB{Center: position, Half: halfExtents}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if droneBox.Overlaps(s.obstacles[id].Bounds()) {
			return true, id
		}
	}
	return false, ""
}

// IsPositionValid reports whether the point lies inside the arena volume and
// clear of every obstacle.
func (s *Space) IsPositionValid(position vmath.Vector3) bool {
	if !position.IsFinite() {
		return false
	}
	hx, hy := s.bounds.X/2, s.bounds.Y/2
	if position.X < -hx || position.X > hx {
		return false
	}
	if position.Y < -hy || position.Y > hy {
		return false
	}
	if position.Z < 0 || position.Z > s.bounds.Z {
		return false
	}
	collided, _ := s.CheckCollision(position, DefaultDroneHalfExtents)
	return !collided
}

// SafeLandingPositions rejection-samples up to 10*n random ground points at
// z=0.5 and returns those that are valid. Fewer than n points may be returned
// when the space is crowded.
func (s *Space) SafeLandingPositions(n int) []vmath.Vector3 {
	if n <= 0 {
		n = 10
	}
	positions := make([]vmath.Vector3, 0, n)
	hx, hy := s.bounds.X/2, s.bounds.Y/2
	for attempt := 0; attempt < 10*n && len(positions) < n; attempt++ {
		//1.- rand.Rand is not goroutine-safe, so each draw takes the RNG lock.
		s.rngMu.Lock()
		x, y := s.rng.Float64(), s.rng.Float64()
		s.rngMu.Unlock()
		candidate := vmath.Vector3{
			X: (x*2 - 1) * hx,
			Y: (y*2 - 1) * hy,
			Z: 0.5,
		}
		if s.IsPositionValid(candidate) {
			positions = append(positions, candidate)
		}
	}
	return positions
}

// Obstacle returns the obstacle registered under id.
func (s *Space) Obstacle(id string) (Obstacle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obstacle, ok := s.obstacles[id]
	return obstacle, ok
}

// ObstacleCount reports how many obstacles the registry currently holds,
// boundary shell included.
func (s *Space) ObstacleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.obstacles)
}

// SnapshotObstacles returns a copy of the registry in insertion order.
func (s *Space) SnapshotObstacles() []Obstacle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]Obstacle, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.obstacles[id])
	}
	return snapshot
}

// IsBoundary reports whether the id belongs to the auto-populated shell.
func IsBoundary(id string) bool {
	switch id {
	case "boundary-floor", "boundary-ceiling",
		"boundary-wall-east", "boundary-wall-west",
		"boundary-wall-north", "boundary-wall-south":
		return true
	}
	return false
}

// PopulateSampleScenario drops a handful of columns and boxes into the space
// so fresh installs have something to fly around.
func (s *Space) PopulateSampleScenario() {
	hx, hy := s.bounds.X/2, s.bounds.Y/2
	samples := []Obstacle{
		{ID: "column-1", Type: ObstacleColumn, Position: vmath.Vector3{X: hx * 0.4, Y: hy * 0.4, Z: s.bounds.Z * 0.25}, Size: vmath.Vector3{X: 0.6, Y: 0.6, Z: s.bounds.Z * 0.5}, Static: true},
		{ID: "column-2", Type: ObstacleColumn, Position: vmath.Vector3{X: -hx * 0.4, Y: -hy * 0.4, Z: s.bounds.Z * 0.25}, Size: vmath.Vector3{X: 0.6, Y: 0.6, Z: s.bounds.Z * 0.5}, Static: true},
		{ID: "box-1", Type: ObstacleDynamic, Position: vmath.Vector3{X: hx * 0.3, Y: -hy * 0.3, Z: 0.5}, Size: vmath.Vector3{X: 1, Y: 1, Z: 1}, Static: false},
	}
	s.mu.Lock()
	for _, obstacle := range samples {
		s.addLocked(obstacle)
	}
	s.mu.Unlock()
}
