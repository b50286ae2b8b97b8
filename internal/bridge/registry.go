package bridge

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/yosida95/uritemplate/v3"
)

var (
	ErrDuplicateName    = errors.New("duplicate operation name")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Kind separates the three families of operations an MCP client can see.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Payload is the structured value a handler returns on success. By convention
// it carries a human readable "message" key.
type Payload map[string]any

// PromptMessage is one entry of the "messages" list a prompt returns.
type PromptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Handler executes one operation with already validated arguments.
type Handler func(ctx context.Context, args Args, progress Progress) (Payload, error)

// Descriptor is the registered metadata for one operation.
type Descriptor struct {
	Name        string
	Kind        Kind
	Description string
	// URI is the resource address, possibly an RFC 6570 template such as
	// task://get/{id}. Only used for resources.
	URI      string
	MIMEType string
	Schema   Schema
	// ReadOnly operations never modify the backend and are safe to repeat.
	ReadOnly bool
	// Destructive operations overwrite or remove existing tasks.
	Destructive bool
	Handler     Handler

	template *uritemplate.Template
}

// Templated reports whether the resource URI contains template variables.
func (d Descriptor) Templated() bool {
	return d.template != nil && len(d.template.Varnames()) > 0
}

// MatchURI reports whether uri addresses this resource and returns the
// template variables it carries.
func (d Descriptor) MatchURI(uri string) (map[string]string, bool) {
	if d.Kind != KindResource {
		return nil, false
	}
	if d.template == nil {
		return nil, d.URI == uri
	}
	values := d.template.Match(uri)
	if values == nil {
		return nil, false
	}
	vars := make(map[string]string, len(values))
	for _, name := range d.template.Varnames() {
		vars[name] = values.Get(name).String()
	}
	return vars, true
}

// Catalog is the read side of the registry that transports rely on.
type Catalog interface {
	List(kinds ...Kind) iter.Seq[Descriptor]
}

// Registry is the catalog of operations. It is filled at startup and read
// concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Descriptor{}}
}

// Register adds a descriptor after checking it is structurally well formed.
func (r *Registry) Register(d Descriptor) error {
	if err := d.check(); err != nil {
		return fmt.Errorf("register %q: %w", d.Name, err)
	}
	d.Schema = d.Schema.clone()
	if d.Kind == KindResource && strings.Contains(d.URI, "{") {
		tmpl, err := uritemplate.New(d.URI)
		if err != nil {
			return fmt.Errorf("register %q: bad uri template: %w", d.Name, err)
		}
		d.template = tmpl
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

func (d Descriptor) check() error {
	if d.Name == "" {
		return errors.New("empty name")
	}
	switch d.Kind {
	case KindTool, KindPrompt:
	case KindResource:
		if d.URI == "" {
			return errors.New("resource without uri")
		}
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	if d.Handler == nil {
		return errors.New("nil handler")
	}
	return d.Schema.check()
}

// Get returns a copy of the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	d.Schema = d.Schema.clone()
	return d, nil
}

// List yields descriptors in registration order, optionally filtered by kind.
// Every iteration takes a fresh snapshot, so the sequence can be replayed.
func (r *Registry) List(kinds ...Kind) iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		r.mu.RLock()
		snapshot := make([]Descriptor, 0, len(r.order))
		for _, name := range r.order {
			d := r.byName[name]
			if len(kinds) == 0 || containsKind(kinds, d.Kind) {
				d.Schema = d.Schema.clone()
				snapshot = append(snapshot, d)
			}
		}
		r.mu.RUnlock()

		for _, d := range snapshot {
			if !yield(d) {
				return
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
