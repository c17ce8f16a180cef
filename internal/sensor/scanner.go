package sensor

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

const (
	defaultSweepFrequencyHz = 4.0
	defaultRangeM           = 5.0
)

// PositionSource exposes the fleet positions the scanner sweeps.
type PositionSource interface {
	Positions() map[string]vmath.Vector3
}

// Options configure the proximity scanner.
type Options struct {
	Fleet    PositionSource
	Space    *world.Space
	Events   *events.Stream
	Logger   *logging.Logger
	Interval time.Duration
	RangeM   float64
}

// Scanner periodically sweeps each drone's surroundings against the obstacle
// registry and publishes detection events. The model is purely geometric:
// ranges are center-to-center distances and bearings are measured in the XY
// plane.
type Scanner struct {
	fleet    PositionSource
	space    *world.Space
	events   *events.Stream
	log      *logging.Logger
	interval time.Duration
	rangeM   float64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScanner wires the sweep pipeline using the provided configuration.
func NewScanner(opts Options) *Scanner {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Duration(float64(time.Second) / defaultSweepFrequencyHz)
	}
	rangeM := opts.RangeM
	if rangeM <= 0 {
		rangeM = defaultRangeM
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &Scanner{
		fleet:    opts.Fleet,
		space:    opts.Space,
		events:   opts.Events,
		log:      logger.With(logging.String("component", "sensor")),
		interval: interval,
		rangeM:   rangeM,
	}
}

// Start begins sweeping until the context is cancelled or Stop is invoked.
func (s *Scanner) Start(ctx context.Context) {
	if s == nil || s.fleet == nil || s.space == nil {
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	derived, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-derived.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Scanner) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Sweep scans every drone once and publishes one detection event per drone
// that has contacts in range, nearest first. Exposed for deterministic tests.
func (s *Scanner) Sweep() {
	if s == nil || s.fleet == nil || s.space == nil {
		return
	}
	obstacles := s.space.SnapshotObstacles()
	for droneID, position := range s.fleet.Positions() {
		contacts := s.contactsFor(position, obstacles)
		if len(contacts) == 0 {
			continue
		}
		if s.events == nil {
			continue
		}
		if _, err := s.events.Publish(events.KindDetection, droneID, events.DetectionPayload{Contacts: contacts}); err != nil {
			s.log.Warn("detection publish failed", logging.Error(err), logging.String("drone_id", droneID))
		}
	}
}

// ContactsFor computes the in-range contacts around one position; used by
// Sweep and directly by tests.
func (s *Scanner) ContactsFor(position vmath.Vector3) []events.Contact {
	return s.contactsFor(position, s.space.SnapshotObstacles())
}

func (s *Scanner) contactsFor(position vmath.Vector3, obstacles []world.Obstacle) []events.Contact {
	contacts := make([]events.Contact, 0, 4)
	for _, obstacle := range obstacles {
		//1.- The boundary shell surrounds every position; skip it to avoid noise.
		if world.IsBoundary(obstacle.ID) {
			continue
		}
		delta := obstacle.Position.Sub(position)
		rangeM := delta.Magnitude()
		if rangeM > s.rangeM {
			continue
		}
		bearing := math.Atan2(delta.Y, delta.X) * 180 / math.Pi
		contacts = append(contacts, events.Contact{
			ObstacleID: obstacle.ID,
			Type:       string(obstacle.Type),
			RangeM:     rangeM,
			BearingDeg: bearing,
		})
	}
	//2.- Nearest contacts first so consumers can truncate safely.
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].RangeM < contacts[j].RangeM })
	return contacts
}
