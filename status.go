package main

import (
	"context"
	"encoding/json"
	"time"

	"skyfleet/simulator/internal/blackbox"
	"skyfleet/simulator/internal/drone"
	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/fleet"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/sim"
)

// statusMessage is the periodic fleet snapshot pushed to WebSocket consumers.
type statusMessage struct {
	Type        string             `json:"type"`
	Timestamp   string             `json:"timestamp"`
	SimulatedMs int64              `json:"simulated_ms"`
	Drones      []drone.Statistics `json:"drones"`
}

// eventMessage wraps a stream envelope for WebSocket delivery.
type eventMessage struct {
	Type  string           `json:"type"`
	Event *events.Envelope `json:"event"`
}

// StatusBroadcaster periodically pushes fleet snapshots to the hub and relays
// simulation events as they occur, feeding the flight recorder on the way.
type StatusBroadcaster struct {
	fleet     *fleet.Manager
	hub       *Hub
	stream    *events.Stream
	recorder  *blackbox.Recorder
	clock     *sim.Clock
	snapshots *StateSnapshotter
	log       *logging.Logger
	interval  time.Duration
	tick      uint64
}

// NewStatusBroadcaster wires the broadcaster; recorder, clock and snapshots
// may be nil when those features are disabled.
func NewStatusBroadcaster(manager *fleet.Manager, hub *Hub, stream *events.Stream, recorder *blackbox.Recorder, clock *sim.Clock, snapshots *StateSnapshotter, logger *logging.Logger, interval time.Duration) *StatusBroadcaster {
	if logger == nil {
		logger = logging.L()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusBroadcaster{
		fleet:     manager,
		hub:       hub,
		stream:    stream,
		recorder:  recorder,
		clock:     clock,
		snapshots: snapshots,
		log:       logger.With(logging.String("component", "status")),
		interval:  interval,
	}
}

// Run drives the broadcaster until the context is cancelled.
func (b *StatusBroadcaster) Run(ctx context.Context) error {
	sub, err := b.stream.Subscribe(ctx, "hub-forwarder", 128)
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope, ok := <-sub.Events():
			if !ok {
				return nil
			}
			b.forwardEvent(envelope)
			//1.- Acknowledge after delivery so a crash replays the event.
			if err := sub.Ack(envelope.Sequence); err != nil {
				b.log.Warn("event ack failed", logging.Error(err), logging.Int64("sequence", int64(envelope.Sequence)))
			}
		case <-ticker.C:
			b.broadcastStatus()
		}
	}
}

func (b *StatusBroadcaster) forwardEvent(envelope *events.Envelope) {
	if envelope == nil {
		return
	}
	message, err := json.Marshal(eventMessage{Type: "simulation_event", Event: envelope})
	if err != nil {
		b.log.Error("event encode failed", logging.Error(err))
		return
	}
	b.hub.Broadcast(message)
	if b.recorder != nil {
		if err := b.recorder.AppendEvent(b.tick, b.clock.SimulatedMs(), string(envelope.Kind), envelope.Payload); err != nil {
			b.log.Warn("blackbox event append failed", logging.Error(err))
		}
	}
}

func (b *StatusBroadcaster) broadcastStatus() {
	b.tick++
	stats := b.fleet.AllStatistics()
	message, err := json.Marshal(statusMessage{
		Type:        "drone_status_update",
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		SimulatedMs: b.clock.SimulatedMs(),
		Drones:      stats,
	})
	if err != nil {
		b.log.Error("status encode failed", logging.Error(err))
		return
	}
	b.hub.Broadcast(message)
	//1.- Persist the latest roster so reconnecting clients catch up instantly.
	b.snapshots.Record("drone_status_update", message)

	if b.recorder == nil {
		return
	}
	frames := make([]blackbox.StateFrame, 0, len(stats))
	for _, s := range stats {
		frames = append(frames, blackbox.StateFrame{
			DroneID:     s.DroneID,
			PositionX:   s.Position.X,
			PositionY:   s.Position.Y,
			PositionZ:   s.Position.Z,
			VelocityX:   s.Velocity.X,
			VelocityY:   s.Velocity.Y,
			VelocityZ:   s.Velocity.Z,
			Battery:     s.Battery,
			FlightState: s.FlightState,
		})
	}
	payload, err := blackbox.EncodeFrames(frames)
	if err != nil {
		b.log.Warn("blackbox frame encode failed", logging.Error(err))
		return
	}
	if err := b.recorder.AppendFrame(b.tick, b.clock.SimulatedMs(), payload); err != nil {
		b.log.Warn("blackbox frame append failed", logging.Error(err))
	}
}
