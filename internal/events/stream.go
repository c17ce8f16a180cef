package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind enumerates the fleet event payloads carried by the stream.
type Kind string

const (
	// KindStateChange marks a flight-state transition on one drone.
	KindStateChange Kind = "state_change"
	// KindCollision marks a rejected tick caused by an obstacle contact.
	KindCollision Kind = "collision"
	// KindBattery marks battery milestones such as exhaustion mid-flight.
	KindBattery Kind = "battery"
	// KindDetection carries proximity-sensor contact sweeps.
	KindDetection Kind = "detection"
	// KindLifecycle marks drones joining or leaving the fleet.
	KindLifecycle Kind = "lifecycle"
)

func (k Kind) valid() bool {
	switch k {
	case KindStateChange, KindCollision, KindBattery, KindDetection, KindLifecycle:
		return true
	}
	return false
}

// Envelope carries one event together with sequencing metadata. Payload holds
// the event body as JSON so transports can forward it without re-encoding.
type Envelope struct {
	Sequence uint64          `json:"sequence"`
	Kind     Kind            `json:"kind"`
	DroneID  string          `json:"drone_id,omitempty"`
	At       time.Time       `json:"at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Clone duplicates the envelope so subscribers can mutate their copy safely.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &clone
}

// Config controls the retention policy for the stream log and subscriber buffers.
type Config struct {
	Retain int
	Now    func() time.Time
}

// Default retention keeps the last 512 events if no explicit value is provided.
const defaultRetention = 512

// Stream coordinates ordered event delivery with at-least-once semantics per
// subscriber. Publishing never blocks; slow subscribers fall back to replay
// on their next acknowledgement cycle. The log is a single slice kept in
// ascending sequence order, so replay and pruning are slice walks.
type Stream struct {
	mu          sync.Mutex
	now         func() time.Time
	nextSeq     uint64
	retention   int
	log         []*Envelope
	subscribers map[string]*subscriberState
}

// subscriberState persists acknowledgement state between transient connections.
type subscriberState struct {
	pending []uint64
	lastAck uint64
	ch      chan *Envelope
	active  bool
}

// Subscription exposes the event channel and acknowledgement helpers.
type Subscription struct {
	id     string
	stream *Stream
	events <-chan *Envelope
	once   sync.Once
}

// ErrOutOfOrderAck signals that a subscriber attempted to acknowledge future sequences.
var ErrOutOfOrderAck = errors.New("ack sequence must match the next pending event")

// NewStream constructs a stream using the provided configuration.
func NewStream(cfg Config) *Stream {
	retention := cfg.Retain
	if retention <= 0 {
		retention = defaultRetention
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Stream{
		now:         now,
		retention:   retention,
		subscribers: make(map[string]*subscriberState),
	}
}

// Publish encodes the payload and enqueues the event for reliable delivery.
func (s *Stream) Publish(kind Kind, droneID string, payload any) (uint64, error) {
	if s == nil {
		return 0, errors.New("nil stream")
	}
	if !kind.valid() {
		return 0, fmt.Errorf("unsupported event kind %q", kind)
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = encoded
	}
	envelope := &Envelope{Kind: kind, DroneID: droneID, At: s.now().UTC(), Payload: raw}

	s.mu.Lock()
	s.nextSeq++
	envelope.Sequence = s.nextSeq
	s.log = append(s.log, envelope)

	type handoff struct {
		ch      chan<- *Envelope
		payload *Envelope
	}
	deliveries := make([]handoff, 0, len(s.subscribers))
	for _, state := range s.subscribers {
		state.pending = append(state.pending, envelope.Sequence)
		if state.active && state.ch != nil {
			deliveries = append(deliveries, handoff{ch: state.ch, payload: envelope.Clone()})
		}
	}
	s.pruneLocked()
	s.mu.Unlock()

	for _, item := range deliveries {
		//1.- Never block the publisher; a full buffer is recovered via replay.
		select {
		case item.ch <- item.payload:
		default:
		}
	}
	return envelope.Sequence, nil
}

// Subscribe attaches the logical subscriber to the stream and replays
// outstanding events. Reconnecting with the same id resumes after the last
// acknowledged sequence.
func (s *Stream) Subscribe(ctx context.Context, subscriberID string, buffer int) (*Subscription, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	if subscriberID == "" {
		return nil, errors.New("subscriber id must be provided")
	}
	if buffer <= 0 {
		buffer = 32
	}

	s.mu.Lock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		state = &subscriberState{}
		s.subscribers[subscriberID] = state
	}
	//1.- Everything past lastAck is owed to this subscriber, acked or dropped.
	var replay []*Envelope
	state.pending = state.pending[:0]
	for _, envelope := range s.log {
		if envelope.Sequence <= state.lastAck {
			continue
		}
		state.pending = append(state.pending, envelope.Sequence)
		replay = append(replay, envelope.Clone())
	}
	ch := make(chan *Envelope, buffer)
	state.ch = ch
	state.active = true
	s.mu.Unlock()

	go func() {
		for _, envelope := range replay {
			select {
			case <-ctx.Done():
				return
			default:
			}
			//2.- Re-check under the lock so a Close or resubscribe halts stale replay.
			s.mu.Lock()
			if !state.active || state.ch != ch {
				s.mu.Unlock()
				return
			}
			select {
			case ch <- envelope:
				s.mu.Unlock()
			default:
				//3.- Full buffer: stop here, the rest stays pending for the next resubscribe.
				s.mu.Unlock()
				return
			}
		}
	}()

	return &Subscription{id: subscriberID, stream: s, events: ch}, nil
}

// Events exposes the ordered delivery channel for the subscriber.
func (s *Subscription) Events() <-chan *Envelope {
	if s == nil {
		return nil
	}
	return s.events
}

// Ack informs the stream that the subscriber processed the given sequence.
func (s *Subscription) Ack(sequence uint64) error {
	if s == nil || s.stream == nil {
		return errors.New("subscription closed")
	}
	return s.stream.ack(s.id, sequence)
}

// Close marks the subscription as inactive while preserving acknowledgement state.
func (s *Subscription) Close() {
	if s == nil || s.stream == nil {
		return
	}
	s.once.Do(func() {
		s.stream.deactivate(s.id)
	})
}

// pruneLocked drops log entries every subscriber has acknowledged, but always
// keeps the newest `retention` events so late joiners have history to replay.
func (s *Stream) pruneLocked() {
	if len(s.log) <= s.retention {
		return
	}
	floor := s.nextSeq
	for _, state := range s.subscribers {
		if state.lastAck < floor {
			floor = state.lastAck
		}
	}
	if guard := s.log[len(s.log)-s.retention].Sequence; guard < floor {
		floor = guard
	}
	if floor == 0 {
		return
	}
	idx := sort.Search(len(s.log), func(i int) bool { return s.log[i].Sequence > floor })
	if idx > 0 {
		s.log = append([]*Envelope(nil), s.log[idx:]...)
	}
}

func (s *Stream) ack(subscriberID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("unknown subscriber %q", subscriberID)
	}
	if len(state.pending) == 0 {
		if sequence <= state.lastAck {
			return nil
		}
		return ErrOutOfOrderAck
	}
	if sequence != state.pending[0] {
		return ErrOutOfOrderAck
	}
	state.pending = state.pending[1:]
	state.lastAck = sequence
	s.pruneLocked()
	return nil
}

func (s *Stream) deactivate(subscriberID string) {
	s.mu.Lock()
	if state, ok := s.subscribers[subscriberID]; ok {
		//1.- Never close the channel: a replay goroutine or an in-flight Publish
		// delivery may still hold a reference. Dropping it lets GC reclaim it.
		state.active = false
		state.ch = nil
	}
	s.mu.Unlock()
}
