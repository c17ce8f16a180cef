package world

import (
	"sync"
	"testing"

	"skyfleet/simulator/internal/vmath"
)

func newTestSpace(t *testing.T) *Space {
	t.Helper()
	space, err := NewSpace(vmath.Vector3{X: 20, Y: 20, Z: 10})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return space
}

func TestNewSpaceInstallsBoundaryShell(t *testing.T) {
	space := newTestSpace(t)
	if got := space.ObstacleCount(); got != 6 {
		t.Fatalf("expected 6 boundary obstacles, got %d", got)
	}
	for _, id := range []string{"boundary-floor", "boundary-ceiling", "boundary-wall-east", "boundary-wall-west", "boundary-wall-north", "boundary-wall-south"} {
		if _, ok := space.Obstacle(id); !ok {
			t.Fatalf("missing boundary obstacle %q", id)
		}
	}
}

func TestNewSpaceRejectsInvalidBounds(t *testing.T) {
	if _, err := NewSpace(vmath.Vector3{X: 10, Y: -1, Z: 5}); err == nil {
		t.Fatalf("expected error for negative bounds")
	}
}

func TestBoundaryInvariant(t *testing.T) {
	space := newTestSpace(t)
	cases := []struct {
		name     string
		position vmath.Vector3
		valid    bool
	}{
		{"center", vmath.Vector3{Z: 5}, true},
		{"beyond east", vmath.Vector3{X: 10.5, Z: 5}, false},
		{"beyond north", vmath.Vector3{Y: 10.5, Z: 5}, false},
		{"below floor", vmath.Vector3{Z: -0.5}, false},
		{"above ceiling", vmath.Vector3{Z: 10.5}, false},
	}
	for _, tc := range cases {
		if got := space.IsPositionValid(tc.position); got != tc.valid {
			t.Fatalf("%s: IsPositionValid(%+v) = %v, want %v", tc.name, tc.position, got, tc.valid)
		}
	}
}

func TestCollisionSymmetry(t *testing.T) {
	space := newTestSpace(t)
	obstacle := Obstacle{
		ID:       "crate",
		Type:     ObstacleDynamic,
		Position: vmath.Vector3{X: 3, Y: 3, Z: 0.5},
		Size:     vmath.Vector3{X: 1, Y: 1, Z: 1},
	}
	if err := space.AddObstacle(obstacle); err != nil {
		t.Fatalf("AddObstacle: %v", err)
	}

	// A drone exactly at the obstacle center must collide with it.
	collided, id := space.CheckCollision(obstacle.Position, vmath.Vector3{})
	if !collided || id != "crate" {
		t.Fatalf("expected collision with crate, got collided=%v id=%q", collided, id)
	}
	// A drone whose AABB cannot overlap the crate must be free.
	collided, id = space.CheckCollision(vmath.Vector3{X: 6, Y: 6, Z: 3}, vmath.Vector3{})
	if collided {
		t.Fatalf("unexpected collision with %q", id)
	}
}

func TestAddObstacleLastWriteWins(t *testing.T) {
	space := newTestSpace(t)
	first := Obstacle{ID: "crate", Type: ObstacleDynamic, Position: vmath.Vector3{X: 1, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 1}}
	second := first
	second.Position = vmath.Vector3{X: -4, Y: -4, Z: 2}
	if err := space.AddObstacle(first); err != nil {
		t.Fatalf("AddObstacle: %v", err)
	}
	if err := space.AddObstacle(second); err != nil {
		t.Fatalf("AddObstacle overwrite: %v", err)
	}
	stored, ok := space.Obstacle("crate")
	if !ok {
		t.Fatalf("crate missing after overwrite")
	}
	if stored.Position != second.Position {
		t.Fatalf("expected overwrite to win, got %+v", stored.Position)
	}
	if got := space.ObstacleCount(); got != 7 {
		t.Fatalf("overwrite must not duplicate registry entries, count=%d", got)
	}
}

func TestAddObstacleValidation(t *testing.T) {
	space := newTestSpace(t)
	if err := space.AddObstacle(Obstacle{ID: "", Type: ObstacleWall, Size: vmath.Vector3{X: 1, Y: 1, Z: 1}}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := space.AddObstacle(Obstacle{ID: "bad-type", Type: "sphere", Size: vmath.Vector3{X: 1, Y: 1, Z: 1}}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if err := space.AddObstacle(Obstacle{ID: "flat", Type: ObstacleWall, Size: vmath.Vector3{X: 1, Y: 1}}); err == nil {
		t.Fatalf("expected error for degenerate size")
	}
}

func TestRemoveObstacle(t *testing.T) {
	space := newTestSpace(t)
	obstacle := Obstacle{ID: "crate", Type: ObstacleDynamic, Position: vmath.Vector3{X: 2, Y: 2, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 1}}
	if err := space.AddObstacle(obstacle); err != nil {
		t.Fatalf("AddObstacle: %v", err)
	}
	if !space.RemoveObstacle("crate") {
		t.Fatalf("expected removal of existing obstacle to succeed")
	}
	if space.RemoveObstacle("crate") {
		t.Fatalf("expected removal of missing obstacle to report false")
	}
	if collided, _ := space.CheckCollision(obstacle.Position, vmath.Vector3{}); collided {
		t.Fatalf("removed obstacle still collides")
	}
}

func TestSafeLandingPositions(t *testing.T) {
	space := newTestSpace(t)
	positions := space.SafeLandingPositions(5)
	if len(positions) == 0 {
		t.Fatalf("expected at least one safe landing position in an empty arena")
	}
	if len(positions) > 5 {
		t.Fatalf("requested 5 positions, got %d", len(positions))
	}
	for _, position := range positions {
		if position.Z != 0.5 {
			t.Fatalf("landing positions must sample z=0.5, got %+v", position)
		}
		if !space.IsPositionValid(position) {
			t.Fatalf("sampled invalid landing position %+v", position)
		}
	}
}

func TestSafeLandingPositionsConcurrentCallers(t *testing.T) {
	space := newTestSpace(t)

	var wg sync.WaitGroup
	results := make([][]vmath.Vector3, 4)
	for i := range results {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = space.SafeLandingPositions(5)
		}(i)
	}
	wg.Wait()

	for _, positions := range results {
		for _, position := range positions {
			if !space.IsPositionValid(position) {
				t.Fatalf("concurrent sampling produced invalid position %+v", position)
			}
		}
	}
}

func TestSnapshotObstaclesPreservesInsertionOrder(t *testing.T) {
	space := newTestSpace(t)
	_ = space.AddObstacle(Obstacle{ID: "a", Type: ObstacleColumn, Position: vmath.Vector3{X: 5, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 2}})
	_ = space.AddObstacle(Obstacle{ID: "b", Type: ObstacleColumn, Position: vmath.Vector3{X: -5, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 2}})
	snapshot := space.SnapshotObstacles()
	if len(snapshot) != 8 {
		t.Fatalf("expected 8 obstacles, got %d", len(snapshot))
	}
	if snapshot[6].ID != "a" || snapshot[7].ID != "b" {
		t.Fatalf("insertion order lost: %q, %q", snapshot[6].ID, snapshot[7].ID)
	}
}
