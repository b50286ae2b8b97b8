package bridge

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Request names an operation and carries its raw arguments. An empty Kind
// accepts any kind; otherwise a descriptor of another kind is reported as
// not found.
type Request struct {
	Name      string
	Kind      Kind
	Arguments map[string]any
}

// Invoker is the one capability transports depend on.
type Invoker interface {
	Invoke(ctx context.Context, req Request, sink ProgressSink) *Envelope
}

// Dispatcher validates arguments, runs handlers and turns every outcome into
// an Envelope. It is the only place raw errors are classified.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Invoke never panics and never returns nil.
func (d *Dispatcher) Invoke(ctx context.Context, req Request, sink ProgressSink) (env *Envelope) {
	desc, err := d.registry.Get(req.Name)
	if err != nil || (req.Kind != "" && desc.Kind != req.Kind) {
		return Failure(ErrNotFound, "Unknown operation: "+req.Name)
	}

	args, err := desc.Schema.Validate(req.Arguments)
	if err != nil {
		return d.classify(desc, err)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"operation", desc.Name, "panic", r, "stack", string(debug.Stack()))
			env = Failure(ErrInternal, internalMessage)
		}
	}()

	payload, err := desc.Handler(ctx, args, newReporter(sink))
	if err != nil {
		return d.classify(desc, err)
	}
	d.logger.Debug("operation succeeded", "operation", desc.Name, "elapsed", time.Since(start))
	return Success(payload)
}

func (d *Dispatcher) classify(desc Descriptor, err error) *Envelope {
	var verr *ValidationError
	if errors.As(err, &verr) {
		env := Failure(ErrValidation, verr.Error())
		env.Field = verr.Field
		return env
	}

	if errors.Is(err, context.DeadlineExceeded) {
		d.logger.Warn("operation timed out", "operation", desc.Name, "error", err)
		return Failure(ErrUpstream, upstreamMessage)
	}

	st, ok := status.FromError(err)
	if !ok {
		d.logger.Error("operation failed", "operation", desc.Name, "error", err)
		return Failure(ErrInternal, internalMessage)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return Failure(ErrValidation, st.Message())
	case codes.NotFound:
		return Failure(ErrNotFound, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		d.logger.Warn("upstream call failed", "operation", desc.Name, "error", err)
		return Failure(ErrUpstream, upstreamMessage)
	default:
		d.logger.Error("operation failed", "operation", desc.Name, "code", st.Code().String(), "error", err)
		return Failure(ErrInternal, internalMessage)
	}
}
