package grpcbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"taskbridge/internal/bridge"
)

// ErrorDomain is the ErrorInfo domain attached to failed invocations.
const ErrorDomain = "taskbridge"

// progressBuffer bounds the progress messages waiting to be sent on a stream.
const progressBuffer = 64

type Options struct {
	Secret string
	Logger *slog.Logger
}

// Server implements BridgeServer on top of an Invoker.
type Server struct {
	invoker bridge.Invoker
	catalog bridge.Catalog
	secret  string
	logger  *slog.Logger
}

var _ BridgeServer = (*Server)(nil)

func NewServer(invoker bridge.Invoker, catalog bridge.Catalog, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{invoker: invoker, catalog: catalog, secret: opts.Secret, logger: opts.Logger}
}

// StartAsync starts the gRPC server in its own goroutine. returns a func to shut it down.
func (s *Server) StartAsync(port int) (*net.TCPAddr, func(), error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, func() {}, fmt.Errorf("grpc listen: %w", err)
	}
	stop := s.StartOnListener(lis)
	tcpAddr, _ := lis.Addr().(*net.TCPAddr)
	return tcpAddr, stop, nil
}

// StartOnListener serves on lis in its own goroutine and returns a func that
// stops the server gracefully.
func (s *Server) StartOnListener(lis net.Listener) func() {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryAuthInterceptor),
		grpc.ChainStreamInterceptor(s.streamAuthInterceptor),
	)
	RegisterBridgeServer(grpcServer, s)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		s.logger.Info("grpc bridge listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			s.logger.Error("grpc serve failed", "error", err)
		}
	}()
	return func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}
}

func (s *Server) Invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := parseRequest(in)
	if err != nil {
		return nil, err
	}
	env := s.invoker.Invoke(context.WithoutCancel(ctx), req, nil)
	return envelopeResult(env)
}

func (s *Server) InvokeStream(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	req, err := parseRequest(in)
	if err != nil {
		return err
	}

	events := make(chan bridge.ProgressEvent, progressBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range events {
			msg, err := toStruct(map[string]any{"progress": e})
			if err == nil {
				err = stream.Send(msg)
			}
			if err != nil {
				s.logger.Debug("progress dropped", "error", err)
			}
		}
	}()
	sink := bridge.ProgressSinkFunc(func(e bridge.ProgressEvent) {
		select {
		case events <- e:
		default:
		}
	})

	env := s.invoker.Invoke(context.WithoutCancel(stream.Context()), req, sink)
	close(events)
	wg.Wait()

	result, err := envelopeResult(env)
	if err != nil {
		return err
	}
	return stream.Send(&structpb.Struct{Fields: map[string]*structpb.Value{
		"result": structpb.NewStructValue(result),
	}})
}

// OperationInfo is one entry of ListOperations.
type OperationInfo struct {
	Name        string         `json:"name"`
	Kind        bridge.Kind    `json:"kind"`
	Description string         `json:"description"`
	URI         string         `json:"uri,omitempty"`
	ReadOnly    bool           `json:"read_only"`
	InputSchema map[string]any `json:"input_schema"`
}

func (s *Server) ListOperations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var kinds []bridge.Kind
	if k := in.GetFields()["kind"].GetStringValue(); k != "" {
		kinds = append(kinds, bridge.Kind(k))
	}
	ops := []OperationInfo{}
	for d := range s.catalog.List(kinds...) {
		ops = append(ops, OperationInfo{
			Name:        d.Name,
			Kind:        d.Kind,
			Description: d.Description,
			URI:         d.URI,
			ReadOnly:    d.ReadOnly,
			InputSchema: d.Schema.JSONSchema(),
		})
	}
	out, err := toStruct(map[string]any{"operations": ops})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func parseRequest(in *structpb.Struct) (bridge.Request, error) {
	fields := in.GetFields()
	name := fields["name"].GetStringValue()
	if name == "" {
		return bridge.Request{}, status.Error(codes.InvalidArgument, "name is required")
	}
	req := bridge.Request{Name: name, Arguments: map[string]any{}}
	if v, ok := fields["arguments"]; ok {
		args := v.GetStructValue()
		if args == nil {
			return bridge.Request{}, status.Error(codes.InvalidArgument, "arguments must be an object")
		}
		req.Arguments = args.AsMap()
	}
	return req, nil
}

// envelopeResult returns the body of a successful envelope, or the failure as
// a status carrying an ErrorInfo with the error kind and field.
func envelopeResult(env *bridge.Envelope) (*structpb.Struct, error) {
	if !env.OK() {
		return nil, envelopeStatus(env).Err()
	}
	out, err := toStruct(env)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func envelopeStatus(env *bridge.Envelope) *status.Status {
	st := status.New(CodeFor(env.ErrorKind), env.Message)
	info := &errdetails.ErrorInfo{Reason: string(env.ErrorKind), Domain: ErrorDomain}
	if env.Field != "" {
		info.Metadata = map[string]string{"field": env.Field}
	}
	if detailed, err := st.WithDetails(info); err == nil {
		return detailed
	}
	return st
}

// CodeFor maps an error kind to its gRPC code.
func CodeFor(kind bridge.ErrorKind) codes.Code {
	switch kind {
	case bridge.ErrValidation:
		return codes.InvalidArgument
	case bridge.ErrNotFound:
		return codes.NotFound
	case bridge.ErrUpstream:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
