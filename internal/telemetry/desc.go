package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// TelemetryServer is implemented by the simulator's telemetry bridge. All
// messages are structpb.Struct values so the wire contract stays loose and no
// code generation is required on either side.
type TelemetryServer interface {
	// FleetSnapshot returns the current statistics for every drone.
	FleetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// StreamFleet pushes throttled snapshot frames until the client leaves.
	StreamFleet(*structpb.Struct, SnapshotStream) error
	// StreamClock pushes simulated/wall clock drift samples.
	StreamClock(*structpb.Struct, SnapshotStream) error
}

// SnapshotStream is the server-side view of a telemetry stream.
type SnapshotStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

type snapshotStream struct {
	grpc.ServerStream
}

func (s *snapshotStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func fleetSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).FleetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/skyfleet.v1.Telemetry/FleetSnapshot",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TelemetryServer).FleetSnapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFleetHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	//1.- Server-streaming RPCs receive exactly one request message up front.
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamFleet(in, &snapshotStream{ServerStream: stream})
}

func streamClockHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamClock(in, &snapshotStream{ServerStream: stream})
}

// ServiceDesc describes the telemetry service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "skyfleet.v1.Telemetry",
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FleetSnapshot",
			Handler:    fleetSnapshotHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFleet",
			Handler:       streamFleetHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "StreamClock",
			Handler:       streamClockHandler,
			ServerStreams: true,
		},
	},
	Metadata: "skyfleet/v1/telemetry.proto",
}

// Register attaches a telemetry implementation to the gRPC server.
func Register(server *grpc.Server, impl TelemetryServer) {
	server.RegisterService(&ServiceDesc, impl)
}
