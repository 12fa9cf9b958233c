// Package simplego implements a simple, and not very fast, but very portable execution engine for lazygraph,
// in pure Go.
//
// It implements the operation types emitted by the graph package (see backends.OpTypeConst and friends),
// validating attributes and inputs of each operation when it is added to the graph, and it executes
// sessions by evaluating the dependencies of the fetched outputs.
//
// Variables values are kept in the session, keyed by their "container" and "shared_name" attributes,
// or by the operation name if no shared_name is given.
package simplego

import (
	"fmt"
	"sync"

	"github.com/gomlx/lazygraph/backends"
	"github.com/pkg/errors"
)

// BackendName to be used in LAZYGRAPH_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
// There are no configurations, the string is simply ignored.
func New(_ string) (backends.Backend, error) {
	return newBackend(), nil
}

func newBackend() *Backend {
	return &Backend{}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	mu         sync.Mutex
	graphCount int
	finalized  bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "SimpleGo portable reference engine (pure Go)"
}

// NewGraph creates a new empty graph. If name is empty, a unique one is generated.
func (b *Backend) NewGraph(name string) backends.Graph {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.graphCount++
	if name == "" {
		name = fmt.Sprintf("graph_#%d", b.graphCount)
	}
	return &Graph{
		backend: b,
		name:    name,
		byName:  make(map[string]*Operation),
	}
}

// NewSession creates a new session bound to g, which must have been created by this backend.
func (b *Backend) NewSession(g backends.Graph) (backends.Session, error) {
	b.mu.Lock()
	finalized := b.finalized
	b.mu.Unlock()
	if finalized {
		return nil, errors.Errorf("backend %q has been finalized", BackendName)
	}
	graph, ok := g.(*Graph)
	if !ok || graph.backend != b {
		return nil, errors.Errorf("backend %q can only create sessions for graphs it created, got %T", BackendName, g)
	}
	return newSession(graph), nil
}

// Finalize releases all the associated resources immediately, and makes the backend invalid:
// new sessions can no longer be created.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = true
}
