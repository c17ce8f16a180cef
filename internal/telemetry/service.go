package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"skyfleet/simulator/internal/drone"
)

const (
	fleetStreamRateHz = 20
	clockStreamRate   = time.Second
)

// FleetSource exposes the live fleet view the bridge snapshots from.
type FleetSource interface {
	AllStatistics() []drone.Statistics
	Running() bool
}

// ClockSource reports wall/simulated clock drift in milliseconds.
type ClockSource interface {
	Snapshot() (serverMs, simulatedMs, offsetMs int64)
}

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Option customises the behaviour of the telemetry service.
type Option func(*Service)

// WithCompressor overrides the default payload compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// Service implements TelemetryServer on top of the fleet manager and the
// simulation clock.
type Service struct {
	fleet      FleetSource
	clock      ClockSource
	compressor Compressor
	newTicker  tickerFactory
}

// NewService wires the telemetry bridge to its sources and optional settings.
func NewService(fleet FleetSource, clock ClockSource, opts ...Option) *Service {
	service := &Service{
		fleet:      fleet,
		clock:      clock,
		compressor: NewGZIPCompressor(),
		newTicker:  defaultTickerFactory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// snapshotValue renders the fleet statistics into a structpb-compatible tree.
func (s *Service) snapshotValue() (map[string]interface{}, error) {
	stats := s.fleet.AllStatistics()
	//1.- Round-trip through JSON so struct tags decide the field names.
	encoded, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	var drones []interface{}
	if err := json.Unmarshal(encoded, &drones); err != nil {
		return nil, err
	}
	if drones == nil {
		drones = []interface{}{}
	}
	return map[string]interface{}{
		"running":     s.fleet.Running(),
		"drone_count": float64(len(stats)),
		"drones":      drones,
	}, nil
}

// FleetSnapshot returns the current fleet statistics as a single message.
func (s *Service) FleetSnapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.fleet == nil {
		return nil, status.Error(codes.FailedPrecondition, "telemetry unavailable")
	}
	fields, err := s.snapshotValue()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build snapshot: %v", err)
	}
	return out, nil
}

// StreamFleet pushes compressed snapshot frames at the throttled cadence.
func (s *Service) StreamFleet(_ *structpb.Struct, stream SnapshotStream) error {
	if s == nil || s.fleet == nil {
		return status.Error(codes.FailedPrecondition, "telemetry unavailable")
	}
	ctx := stream.Context()
	compressor := s.compressor
	if compressor == nil {
		compressor = NewGZIPCompressor()
	}
	tickCh, stop := s.newTicker(time.Second / fleetStreamRateHz)
	defer stop()

	var sequence uint64
	for {
		select {
		case <-ctx.Done():
			//1.- Surface context cancellation so clients can retry cleanly.
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case <-tickCh:
			fields, err := s.snapshotValue()
			if err != nil {
				return status.Errorf(codes.Internal, "encode snapshot: %v", err)
			}
			payload, err := json.Marshal(fields)
			if err != nil {
				return status.Errorf(codes.Internal, "encode snapshot: %v", err)
			}
			compressed, err := compressor.Compress(payload)
			if err != nil {
				return status.Errorf(codes.Internal, "compress snapshot: %v", err)
			}
			sequence++
			//2.- Bytes become base64 strings inside structpb values.
			frame, err := structpb.NewStruct(map[string]interface{}{
				"sequence": float64(sequence),
				"encoding": compressor.Name(),
				"payload":  compressed,
			})
			if err != nil {
				return status.Errorf(codes.Internal, "build frame: %v", err)
			}
			if err := stream.Send(frame); err != nil {
				return err
			}
		}
	}
}

// StreamClock pushes clock drift samples roughly once per second.
func (s *Service) StreamClock(_ *structpb.Struct, stream SnapshotStream) error {
	if s == nil || s.clock == nil {
		return status.Error(codes.FailedPrecondition, "telemetry unavailable")
	}
	ctx := stream.Context()
	tickCh, stop := s.newTicker(clockStreamRate)
	defer stop()

	//1.- Emit an immediate sample so clients can align without waiting a tick.
	if err := s.sendClockSample(stream); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case <-tickCh:
			if err := s.sendClockSample(stream); err != nil {
				return err
			}
		}
	}
}

func (s *Service) sendClockSample(stream SnapshotStream) error {
	serverMs, simulatedMs, offsetMs := s.clock.Snapshot()
	sample, err := structpb.NewStruct(map[string]interface{}{
		"server_ms":             float64(serverMs),
		"simulated_ms":          float64(simulatedMs),
		"recommended_offset_ms": float64(offsetMs),
	})
	if err != nil {
		return status.Errorf(codes.Internal, "build sample: %v", err)
	}
	return stream.Send(sample)
}

var _ TelemetryServer = (*Service)(nil)
