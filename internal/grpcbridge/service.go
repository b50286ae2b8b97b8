// Package grpcbridge exposes the operation catalog as a gRPC service. Messages
// are google.protobuf.Struct values so no generated code is needed.
package grpcbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "taskbridge.v1.Bridge"

	InvokeMethod         = "/" + ServiceName + "/Invoke"
	InvokeStreamMethod   = "/" + ServiceName + "/InvokeStream"
	ListOperationsMethod = "/" + ServiceName + "/ListOperations"
)

// BridgeServer is the server side of taskbridge.v1.Bridge.
type BridgeServer interface {
	// Invoke takes {name, arguments} and returns the success envelope body.
	// Failures come back as a gRPC status.
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// InvokeStream is Invoke with {"progress": ...} messages streamed ahead of
	// the final {"result": ...}.
	InvokeStream(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	// ListOperations takes an optional {kind} filter.
	ListOperations(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: unaryHandler(InvokeMethod, BridgeServer.Invoke)},
		{MethodName: "ListOperations", Handler: unaryHandler(ListOperationsMethod, BridgeServer.ListOperations)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "InvokeStream", Handler: invokeStreamHandler, ServerStreams: true},
	},
	Metadata: "taskbridge/v1/bridge.proto",
}

// RegisterBridgeServer registers srv on s.
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&serviceDesc, srv)
}

type unaryMethod func(BridgeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(BridgeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(BridgeServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func invokeStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BridgeServer).InvokeStream(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// toStruct converts any JSON encodable value into a Struct. structpb cannot
// take typed slices or structs directly.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode struct: %w", err)
	}
	return out, nil
}
