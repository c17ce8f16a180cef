package fleet

import (
	"context"
	"errors"
	"testing"

	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	space, err := world.NewSpace(vmath.Vector3{X: 20, Y: 20, Z: 10})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	manager, err := NewManager(Options{Space: space, Events: events.NewStream(events.Config{})})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func TestAddDroneSharesSpace(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	a, err := manager.AddDrone(ctx, "alpha", BackendSimulated, vmath.Vector3{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("AddDrone alpha: %v", err)
	}
	b, err := manager.AddDrone(ctx, "bravo", BackendSimulated, vmath.Vector3{X: -1, Y: -1})
	if err != nil {
		t.Fatalf("AddDrone bravo: %v", err)
	}

	// An obstacle registered through the manager's space is visible to both.
	if err := manager.Space().AddObstacle(world.Obstacle{
		ID: "crate", Type: world.ObstacleDynamic,
		Position: vmath.Vector3{X: 5, Y: 5, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 1},
	}); err != nil {
		t.Fatalf("AddObstacle: %v", err)
	}
	if got := a.Statistics().ObstacleCount; got != 7 {
		t.Fatalf("alpha sees %d obstacles, want 7", got)
	}
	if got := b.Statistics().ObstacleCount; got != 7 {
		t.Fatalf("bravo sees %d obstacles, want 7", got)
	}
}

func TestAddDroneRejectsDuplicates(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	if _, err := manager.AddDrone(ctx, "alpha", BackendSimulated, vmath.Vector3{}); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}
	_, err := manager.AddDrone(ctx, "alpha", BackendSimulated, vmath.Vector3{X: 2})
	if !errors.Is(err, ErrDuplicateDrone) {
		t.Fatalf("expected ErrDuplicateDrone, got %v", err)
	}
}

func TestAddDroneRejectsInvalidSpawn(t *testing.T) {
	manager := newTestManager(t)
	_, err := manager.AddDrone(context.Background(), "ghost", BackendSimulated, vmath.Vector3{X: 99})
	if !errors.Is(err, ErrInvalidSpawn) {
		t.Fatalf("expected ErrInvalidSpawn, got %v", err)
	}
}

func TestAddDroneRejectsHardwareBackend(t *testing.T) {
	manager := newTestManager(t)
	_, err := manager.AddDrone(context.Background(), "metal", BackendHardware, vmath.Vector3{})
	if !errors.Is(err, ErrUnsupportedBackend) {
		t.Fatalf("expected ErrUnsupportedBackend, got %v", err)
	}
}

func TestRemoveDrone(t *testing.T) {
	manager := newTestManager(t)
	if _, err := manager.AddDrone(context.Background(), "alpha", BackendSimulated, vmath.Vector3{}); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}
	if err := manager.RemoveDrone("alpha"); err != nil {
		t.Fatalf("RemoveDrone: %v", err)
	}
	if err := manager.RemoveDrone("alpha"); !errors.Is(err, ErrUnknownDrone) {
		t.Fatalf("expected ErrUnknownDrone, got %v", err)
	}
	if _, err := manager.Get("alpha"); !errors.Is(err, ErrUnknownDrone) {
		t.Fatalf("expected removed drone to be forgotten, got %v", err)
	}
}

func TestStartAllStopAll(t *testing.T) {
	manager := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := manager.AddDrone(ctx, "alpha", BackendSimulated, vmath.Vector3{X: 1})
	manager.StartAll(ctx)
	if !manager.Running() || !a.Running() {
		t.Fatalf("expected fleet and members running after StartAll")
	}

	// Drones added while running start immediately.
	b, err := manager.AddDrone(ctx, "bravo", BackendSimulated, vmath.Vector3{X: -1})
	if err != nil {
		t.Fatalf("AddDrone while running: %v", err)
	}
	if !b.Running() {
		t.Fatalf("expected late joiner to start automatically")
	}

	manager.StopAll()
	manager.StopAll() // idempotent
	if manager.Running() || a.Running() || b.Running() {
		t.Fatalf("expected everything stopped after StopAll")
	}
}

func TestAllStatisticsSortedByID(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	_, _ = manager.AddDrone(ctx, "zulu", BackendSimulated, vmath.Vector3{X: 1})
	_, _ = manager.AddDrone(ctx, "alpha", BackendSimulated, vmath.Vector3{X: -1})

	stats := manager.AllStatistics()
	if len(stats) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stats))
	}
	if stats[0].DroneID != "alpha" || stats[1].DroneID != "zulu" {
		t.Fatalf("expected sorted output, got %q then %q", stats[0].DroneID, stats[1].DroneID)
	}
}

func TestParseBackendKind(t *testing.T) {
	if kind, err := ParseBackendKind(""); err != nil || kind != BackendSimulated {
		t.Fatalf("empty selector must default to simulated, got %v/%v", kind, err)
	}
	if _, err := ParseBackendKind("Simulated"); err != nil {
		t.Fatalf("selector must be case insensitive: %v", err)
	}
	if _, err := ParseBackendKind("quantum"); !errors.Is(err, ErrUnsupportedBackend) {
		t.Fatalf("expected ErrUnsupportedBackend, got %v", err)
	}
}
