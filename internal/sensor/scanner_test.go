package sensor

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

type staticFleet map[string]vmath.Vector3

func (f staticFleet) Positions() map[string]vmath.Vector3 { return f }

func newTestSpace(t *testing.T) *world.Space {
	t.Helper()
	space, err := world.NewSpace(vmath.Vector3{X: 40, Y: 40, Z: 20})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return space
}

func TestContactsSortedByRange(t *testing.T) {
	space := newTestSpace(t)
	_ = space.AddObstacle(world.Obstacle{ID: "far", Type: world.ObstacleColumn, Position: vmath.Vector3{X: 4, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 2}})
	_ = space.AddObstacle(world.Obstacle{ID: "near", Type: world.ObstacleColumn, Position: vmath.Vector3{X: 2, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 2}})
	_ = space.AddObstacle(world.Obstacle{ID: "out-of-range", Type: world.ObstacleColumn, Position: vmath.Vector3{X: 15, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 2}})

	scanner := NewScanner(Options{Fleet: staticFleet{}, Space: space, RangeM: 5})
	contacts := scanner.ContactsFor(vmath.Vector3{Z: 1})
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts in range, got %d", len(contacts))
	}
	if contacts[0].ObstacleID != "near" || contacts[1].ObstacleID != "far" {
		t.Fatalf("contacts not sorted by range: %q, %q", contacts[0].ObstacleID, contacts[1].ObstacleID)
	}
	if math.Abs(contacts[0].RangeM-2) > 1e-9 {
		t.Fatalf("unexpected range %v", contacts[0].RangeM)
	}
	if math.Abs(contacts[0].BearingDeg-0) > 1e-9 {
		t.Fatalf("expected bearing 0 for contact due east, got %v", contacts[0].BearingDeg)
	}
}

func TestBoundaryShellIsNotReported(t *testing.T) {
	space := newTestSpace(t)
	scanner := NewScanner(Options{Fleet: staticFleet{}, Space: space, RangeM: 1000})
	if contacts := scanner.ContactsFor(vmath.Vector3{Z: 10}); len(contacts) != 0 {
		t.Fatalf("boundary obstacles must be filtered, got %+v", contacts)
	}
}

func TestSweepPublishesDetections(t *testing.T) {
	space := newTestSpace(t)
	_ = space.AddObstacle(world.Obstacle{ID: "column-1", Type: world.ObstacleColumn, Position: vmath.Vector3{X: 3, Y: 4, Z: 1}, Size: vmath.Vector3{X: 1, Y: 1, Z: 2}})

	stream := events.NewStream(events.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := stream.Subscribe(ctx, "observer", 8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	fleet := staticFleet{"drone-1": {Z: 1}, "lonely": {X: -15, Y: -15, Z: 1}}
	scanner := NewScanner(Options{Fleet: fleet, Space: space, Events: stream, RangeM: 6})
	scanner.Sweep()

	select {
	case env := <-sub.Events():
		if env.Kind != events.KindDetection || env.DroneID != "drone-1" {
			t.Fatalf("unexpected event %q for %q", env.Kind, env.DroneID)
		}
		var payload events.DetectionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Contacts) != 1 || payload.Contacts[0].ObstacleID != "column-1" {
			t.Fatalf("unexpected contacts %+v", payload.Contacts)
		}
		if math.Abs(payload.Contacts[0].RangeM-5) > 1e-9 {
			t.Fatalf("expected range 5, got %v", payload.Contacts[0].RangeM)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for detection event")
	}

	// The out-of-range drone must not generate an event.
	select {
	case env := <-sub.Events():
		t.Fatalf("unexpected extra event for %q", env.DroneID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScannerStartStop(t *testing.T) {
	space := newTestSpace(t)
	scanner := NewScanner(Options{Fleet: staticFleet{}, Space: space, Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner.Start(ctx)
	scanner.Start(ctx) // second start is a no-op
	time.Sleep(5 * time.Millisecond)
	scanner.Stop()
	scanner.Stop() // idempotent
}
