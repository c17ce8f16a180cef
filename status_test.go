package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skyfleet/simulator/internal/blackbox"
	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/fleet"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/sim"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

type broadcastHarness struct {
	broadcaster *StatusBroadcaster
	hub         *Hub
	stream      *events.Stream
	recorder    *blackbox.Recorder
	conn        *websocket.Conn
}

func newBroadcastHarness(t *testing.T, interval time.Duration) *broadcastHarness {
	t.Helper()

	space, err := world.NewSpace(vmath.Vector3{X: 20, Y: 20, Z: 10})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	stream := events.NewStream(events.Config{})
	manager, err := fleet.NewManager(fleet.Options{Space: space, Events: stream, Logger: logging.NewTestLogger()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := manager.AddDrone(context.Background(), "alpha", fleet.BackendSimulated, vmath.Vector3{X: 1, Y: 1}); err != nil {
		t.Fatalf("AddDrone: %v", err)
	}

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recorder, _, err := blackbox.NewRecorder(t.TempDir(), "status-test", func() time.Time { return fixed }, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	t.Cleanup(func() { recorder.Close() })

	hub := NewHub(testHubConfig(), logging.NewTestLogger(), nil)
	t.Cleanup(hub.Close)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	conn := dialHub(t, server)
	waitForClients(t, hub, 1)

	clock := sim.NewClock(func() time.Time { return fixed })
	broadcaster := NewStatusBroadcaster(manager, hub, stream, recorder, clock, nil, logging.NewTestLogger(), interval)
	return &broadcastHarness{broadcaster: broadcaster, hub: hub, stream: stream, recorder: recorder, conn: conn}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if clients, _ := hub.SnapshotClientCounts(); clients == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readHubMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return message
}

func TestBroadcastStatusPublishesRoster(t *testing.T) {
	harness := newBroadcastHarness(t, time.Second)

	harness.broadcaster.broadcastStatus()

	var status statusMessage
	if err := json.Unmarshal(readHubMessage(t, harness.conn), &status); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if status.Type != "drone_status_update" {
		t.Fatalf("unexpected message type %q", status.Type)
	}
	if len(status.Drones) != 1 || status.Drones[0].DroneID != "alpha" {
		t.Fatalf("unexpected roster %+v", status.Drones)
	}

	//1.- The same tick must land in the flight recorder buffer.
	if stats := harness.recorder.Stats(); stats.BufferedFrames != 1 {
		t.Fatalf("expected one buffered frame, got %d", stats.BufferedFrames)
	}
}

func TestForwardEventWrapsEnvelope(t *testing.T) {
	harness := newBroadcastHarness(t, time.Second)

	envelope := &events.Envelope{
		Sequence: 7,
		Kind:     events.KindCollision,
		DroneID:  "alpha",
		At:       time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC),
		Payload:  json.RawMessage(`{"obstacle_id":"boundary-floor"}`),
	}
	harness.broadcaster.forwardEvent(envelope)

	var message eventMessage
	if err := json.Unmarshal(readHubMessage(t, harness.conn), &message); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	if message.Type != "simulation_event" {
		t.Fatalf("unexpected message type %q", message.Type)
	}
	if message.Event == nil || message.Event.Kind != events.KindCollision || message.Event.DroneID != "alpha" {
		t.Fatalf("unexpected envelope %+v", message.Event)
	}

	if stats := harness.recorder.Stats(); stats.Events != 1 {
		t.Fatalf("expected one recorded event, got %d", stats.Events)
	}
}

func TestRunForwardsStreamEvents(t *testing.T) {
	harness := newBroadcastHarness(t, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- harness.broadcaster.Run(ctx) }()

	if _, err := harness.stream.Publish(events.KindBattery, "alpha", events.BatteryPayload{Level: 12}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	//1.- Status ticks interleave with events, so skip until the event shows up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("battery event never reached the client")
		}
		var message eventMessage
		if err := json.Unmarshal(readHubMessage(t, harness.conn), &message); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if message.Type == "simulation_event" && message.Event != nil && message.Event.Kind == events.KindBattery {
			break
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
