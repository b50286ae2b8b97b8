package grpcbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"taskbridge/internal/bridge"
)

// Client calls a taskbridge.v1.Bridge service.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+c.token)
}

func request(name string, args map[string]any) (*structpb.Struct, error) {
	if args == nil {
		args = map[string]any{}
	}
	return toStruct(map[string]any{"name": name, "arguments": args})
}

// Invoke runs one operation and returns the success body.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	in, err := request(name, args)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), InvokeMethod, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// InvokeStream runs one operation, passing progress events to onProgress as
// they arrive.
func (c *Client) InvokeStream(ctx context.Context, name string, args map[string]any, onProgress func(bridge.ProgressEvent)) (map[string]any, error) {
	in, err := request(name, args)
	if err != nil {
		return nil, err
	}
	cs, err := c.cc.NewStream(c.outgoing(ctx), &serviceDesc.Streams[0], InvokeStreamMethod)
	if err != nil {
		return nil, err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("stream ended without a result")
		}
		if err != nil {
			return nil, err
		}
		fields := msg.GetFields()
		if result, ok := fields["result"]; ok {
			return result.GetStructValue().AsMap(), nil
		}
		if p, ok := fields["progress"]; ok && onProgress != nil {
			var e bridge.ProgressEvent
			raw, err := protojson.Marshal(p)
			if err == nil {
				err = json.Unmarshal(raw, &e)
			}
			if err != nil {
				return nil, fmt.Errorf("decode progress: %w", err)
			}
			onProgress(e)
		}
	}
}

// ListOperations lists the catalog, optionally only one kind.
func (c *Client) ListOperations(ctx context.Context, kind bridge.Kind) ([]OperationInfo, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if kind != "" {
		in.Fields["kind"] = structpb.NewStringValue(string(kind))
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), ListOperationsMethod, in, out); err != nil {
		return nil, err
	}
	raw, err := protojson.Marshal(out)
	if err != nil {
		return nil, err
	}
	var list struct {
		Operations []OperationInfo `json:"operations"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return list.Operations, nil
}

// ErrorKind recovers the error kind and field from a failed invocation.
func ErrorKind(err error) (kind bridge.ErrorKind, field string, ok bool) {
	st, isStatus := status.FromError(err)
	if !isStatus {
		return "", "", false
	}
	for _, d := range st.Details() {
		if info, isInfo := d.(*errdetails.ErrorInfo); isInfo && info.GetDomain() == ErrorDomain {
			return bridge.ErrorKind(info.GetReason()), info.GetMetadata()["field"], true
		}
	}
	return "", "", false
}
