/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package graph is the core package of lazygraph. It is used to describe computation graphs lazily, and
// to run them on a backend.
//
// The main elements in the package are:
//
//   - Node is a deferred operation: a description (an operation type, an optional name, attributes and
//     inputs) of an operation that is only built in a backend graph when it is resolved.
//     Nothing is built while composing nodes with Const, Add, MatMul, etc.
//
//   - Context owns the backend, the default backend graph, the name allocator and the variable registry.
//     Most functions have a version that takes a Context and a convenience version that uses the
//     process-wide Default context.
//
//   - Runner executes a list of nodes in three phases: it initializes every registered variable, executes
//     all nodes but the last for their effect, and finally executes the last node and returns its value.
//
// # Backends
//
// You have to import the backend(s) you are going to use, or the default selection with:
//
//	import _ "github.com/gomlx/lazygraph/backends/default"
//
// # Rebuilding
//
// Resolving a Node always builds new operations in the backend graph: resolving the same node twice creates
// two distinct operations with the same semantics. Variables share state across rebuilds because the
// variable operations carry the same "shared_name".
//
// # Error Handling
//
// Node constructors (Const, Add, Variable, etc.) "throw" errors with panic() for programmer errors
// (e.g.: a host value that can't be converted to a tensor). Everything that talks to the backend
// (Node.Resolve, RunOne, Runner.Run) returns errors, and these are the ones to expect in a working program:
// the backend only validates an operation when it is built.
package graph

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/support/sets"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Context holds the state used while building and running lazy graphs: the backend, the default graph
// used when none is given explicitly, the name allocator and the variable registry.
//
// It is safe for concurrent use, but notice that the registry is shared: variables declared in one
// goroutine are initialized by every Run in any goroutine.
type Context struct {
	backend backends.Backend

	mu        sync.Mutex
	graph     backends.Graph
	names     NameAllocator
	variables []VariableBinding

	// sharedNames of all variables ever declared, including the ones removed by ClearVariables.
	sharedNames sets.Set[string]
}

// ContextOption configures a Context created with NewContext.
type ContextOption func(ctx *Context)

// WithGraph sets the default graph of the context. It must have been created by the same backend.
func WithGraph(g backends.Graph) ContextOption {
	return func(ctx *Context) { ctx.graph = g }
}

// WithCounterNames makes the context allocate operation names as "<OpType>_<counter>". This is the default.
func WithCounterNames() ContextOption {
	return func(ctx *Context) { ctx.names = NewCounterNames() }
}

// WithUUIDNames makes the context allocate operation names as "<OpType>_<uuid>".
func WithUUIDNames() ContextOption {
	return func(ctx *Context) { ctx.names = uuidNames{} }
}

// WithNameAllocator sets a custom name allocator.
func WithNameAllocator(names NameAllocator) ContextOption {
	return func(ctx *Context) { ctx.names = names }
}

var (
	muContextCount sync.Mutex
	contextCount   int
)

// NewContext creates a new Context for the given backend.
// Unless WithGraph is given, a new backend graph is created as the default graph of the context.
func NewContext(backend backends.Backend, options ...ContextOption) *Context {
	if backend == nil {
		exceptions.Panicf("graph.NewContext: backend is nil")
	}
	ctx := &Context{backend: backend, sharedNames: sets.Make[string]()}
	for _, option := range options {
		option(ctx)
	}
	if ctx.names == nil {
		ctx.names = NewCounterNames()
	}
	if ctx.graph == nil {
		muContextCount.Lock()
		name := fmt.Sprintf("lazygraph_#%d", contextCount)
		contextCount++
		muContextCount.Unlock()
		ctx.graph = backend.NewGraph(name)
	}
	return ctx
}

// Backend used by the context.
func (ctx *Context) Backend() backends.Backend { return ctx.backend }

// Graph returns the default graph of the context: where nodes are resolved when no graph is given.
func (ctx *Context) Graph() backends.Graph {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.graph
}

// SetGraph replaces the default graph of the context. Variables registered so far are kept.
func (ctx *Context) SetGraph(g backends.Graph) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.graph = g
}

// ResetGraph replaces the default graph with a new empty one, and returns it.
func (ctx *Context) ResetGraph() backends.Graph {
	g := ctx.backend.NewGraph("")
	ctx.SetGraph(g)
	return g
}

// uniqueName returns the name to use for a new operation in g: requested if given and free, otherwise a
// name generated by the allocator.
//
// It must be called with ctx.mu locked.
func (ctx *Context) uniqueName(g backends.Graph, opType, requested string) string {
	if requested != "" {
		if _, found := g.Operation(requested); !found {
			return requested
		}
		for ii := 1; ; ii++ {
			name := fmt.Sprintf("%s_%d", requested, ii)
			if _, found := g.Operation(name); !found {
				return name
			}
		}
	}
	for {
		name := ctx.names.NewName(opType)
		if _, found := g.Operation(name); !found {
			return name
		}
	}
}

var (
	muDefault      sync.Mutex
	defaultContext *Context
)

// Default returns the process-wide default Context, creating it on the first call with backends.MustNew()
// (so it panics if no backend is available).
func Default() *Context {
	muDefault.Lock()
	defer muDefault.Unlock()
	if defaultContext == nil {
		defaultContext = NewContext(backends.MustNew())
		klog.V(1).Infof("graph: created default context with backend %q", defaultContext.backend.Name())
	}
	return defaultContext
}

// SetDefault replaces the process-wide default Context.
func SetDefault(ctx *Context) {
	muDefault.Lock()
	defer muDefault.Unlock()
	defaultContext = ctx
}

// ResetDefault discards the process-wide default Context. A new one is created on the next call to Default.
func ResetDefault() {
	SetDefault(nil)
}

// NameAllocator generates names for operations that were not given one.
//
// The Context checks the names against the graph, and asks for a new one if it is already in use,
// so an allocator only needs to avoid repeating itself.
type NameAllocator interface {
	NewName(opType string) string
}

// CounterNames allocates names as "<OpType>_<counter>", with a counter shared by all operation types.
type CounterNames struct {
	mu    sync.Mutex
	count int
}

// NewCounterNames returns a NameAllocator that uses a monotonically increasing counter.
func NewCounterNames() *CounterNames {
	return &CounterNames{}
}

// NewName implements NameAllocator.
func (c *CounterNames) NewName(opType string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := fmt.Sprintf("%s_%d", opType, c.count)
	c.count++
	return name
}

type uuidNames struct{}

func (uuidNames) NewName(opType string) string {
	return opType + "_" + uuid.NewString()
}
