// Package rest publishes the operation catalog as plain HTTP: one POST route
// per tool and resource, an OpenAPI document describing them, and a server
// sent events channel for progress.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"taskbridge/internal/bridge"
	"taskbridge/internal/mcpconst"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type Options struct {
	// Secret is the bearer token every operation route requires.
	Secret  string
	Title   string
	Version string
	Logger  *slog.Logger
	// Mounts are extra handlers served behind the same bearer check, such as
	// the MCP streamable HTTP endpoint.
	Mounts map[string]http.Handler
	// ProgressIdle ends a progress stream that has seen no event for this
	// long. Zero means DefaultProgressIdle.
	ProgressIdle time.Duration
}

type Server struct {
	invoker  bridge.Invoker
	catalog  bridge.Catalog
	opts     Options
	logger   *slog.Logger
	hub      *Hub
	bindings atomic.Pointer[bindings]
}

// bindings maps route names to descriptors. It is replaced wholesale on
// Rebind so requests never see a half built table.
type bindings struct {
	order  []string
	byName map[string]bridge.Descriptor
}

func New(invoker bridge.Invoker, catalog bridge.Catalog, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Title == "" {
		opts.Title = "taskbridge"
	}
	s := &Server{
		invoker: invoker,
		catalog: catalog,
		opts:    opts,
		logger:  opts.Logger,
		hub:     NewHub(opts.ProgressIdle),
	}
	s.Rebind()
	return s
}

// Rebind derives the route table from the catalog again. Prompts get no
// route.
func (s *Server) Rebind() {
	b := &bindings{byName: map[string]bridge.Descriptor{}}
	for d := range s.catalog.List(bridge.KindTool, bridge.KindResource) {
		b.order = append(b.order, d.Name)
		b.byName[d.Name] = d
	}
	s.bindings.Store(b)
	s.logger.Debug("rest routes bound", "routes", len(b.order))
}

// Routes lists the bound operation names in catalog order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.bindings.Load().order...)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.OpenAPI())
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireBearer(s.opts.Secret))
		for path, h := range s.opts.Mounts {
			r.Handle(path, h)
		}
		r.Get("/progress/{invocationID}", s.hub.ServeHTTP)
		r.Post("/{operation}", s.invoke)
	})
	return r
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(mcpconst.INVOCATION_ID_HEADER)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(mcpconst.INVOCATION_ID_HEADER, id)

	name := chi.URLParam(r, "operation")
	d, ok := s.bindings.Load().byName[name]
	if !ok {
		writeEnvelope(w, bridge.Failure(bridge.ErrNotFound, "Unknown operation: "+name))
		return
	}

	args, err := decodeArgs(r)
	if err != nil {
		writeEnvelope(w, bridge.Failure(bridge.ErrValidation, err.Error()))
		return
	}

	// The handler finishes even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	env := s.invoker.Invoke(ctx, bridge.Request{Name: d.Name, Kind: d.Kind, Arguments: args}, s.hub.Sink(id))
	s.hub.Finish(id)

	s.logger.Debug("rest call", "operation", name, "invocation_id", id,
		"request_id", middleware.GetReqID(r.Context()), "status", StatusFor(env))
	writeEnvelope(w, env)
}

var errNotObject = errors.New("request body must be a JSON object")

func decodeArgs(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errNotObject
		}
		return nil, errors.New("request body is not valid JSON")
	}
	if args == nil {
		return map[string]any{}, nil
	}
	return args, nil
}

// StatusFor maps an envelope to its HTTP status.
func StatusFor(env *bridge.Envelope) int {
	if env.OK() {
		return http.StatusOK
	}
	switch env.ErrorKind {
	case bridge.ErrValidation:
		return http.StatusUnprocessableEntity
	case bridge.ErrNotFound:
		return http.StatusNotFound
	case bridge.ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, env *bridge.Envelope) {
	writeJSON(w, StatusFor(env), env)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
