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

package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Feeds maps placeholder (or operation) names to the values to feed them with. Values can be anything
// accepted by tensors.FromAnyValue, including a *tensors.Tensor, which is not modified.
type Feeds map[string]any

// RunOne resolves node in the graph of the session, executes it with the given feeds, and returns the
// resulting tensor, owned by the caller (call Tensor.Finalize when done).
//
// Feeds keyed by the name of a node resolved in this call (see WithName) are bound to the operation just
// built, even if the name had to be suffixed because of a previous resolution.
//
// If ctx is nil, the Default context is used.
func RunOne(ctx *Context, session backends.Session, node *Node, feeds Feeds) (*tensors.Tensor, error) {
	if ctx == nil {
		ctx = Default()
	}
	g := session.Graph()
	r := ctx.newResolution(g)
	output, err := r.resolve(node)
	if err != nil {
		return nil, err
	}

	runner := session.Runner()
	var encoded []*tensors.Tensor
	defer func() {
		for _, t := range encoded {
			t.Finalize()
		}
	}()
	for _, name := range slices.Sorted(maps.Keys(feeds)) {
		t, isTensor := feeds[name].(*tensors.Tensor)
		if !isTensor {
			t, err = tensors.FromAnyValue(feeds[name])
			if err != nil {
				return nil, errors.WithMessagef(err, "failed to encode feed %q", name)
			}
			encoded = append(encoded, t)
		}
		target, err := r.feedName(name)
		if err != nil {
			return nil, err
		}
		runner.Feed(target, t)
	}
	runner.Fetch(output.Op.Name())
	results, err := runner.Run()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to run %s", node)
	}
	if len(results) == 0 {
		return nil, errors.Errorf("running %s in graph %q returned no results", node, g.Name())
	}
	for _, extra := range results[1:] {
		extra.Finalize()
	}
	klog.V(2).Infof("graph: executed %q in graph %q: %s", output.Op.Name(), g.Name(), results[0].Shape())
	return results[0], nil
}

// MustRunOne is like RunOne, but panics on error.
func MustRunOne(ctx *Context, session backends.Session, node *Node, feeds Feeds) *tensors.Tensor {
	t, err := RunOne(ctx, session, node, feeds)
	if err != nil {
		panic(err)
	}
	return t
}

// feedName translates a feed name to the operation built for it in this resolution, if any.
//
// A name of an operation built in this resolution is used as is. Otherwise, if it is the requested name
// (see WithName) of exactly one operation built, that operation is fed. If it was requested by several
// operations, which one to feed is ambiguous, and an error is returned.
func (r *resolution) feedName(name string) (string, error) {
	opName, slot := name, -1
	if strings.Contains(name, ":") {
		if parsed, parsedSlot, err := backends.ParseOutputName(name); err == nil {
			opName, slot = parsed, parsedSlot
		}
	}
	if r.built.Has(opName) {
		return name, nil
	}
	candidates := r.names[opName]
	switch len(candidates) {
	case 0:
		return name, nil
	case 1:
		if slot < 0 {
			return candidates[0], nil
		}
		return fmt.Sprintf("%s:%d", candidates[0], slot), nil
	}
	return "", errors.Errorf("feed %q is ambiguous: operations %q were all built with the name %q, feed them by "+
		"their actual names instead", name, candidates, opName)
}

// Runner executes a list of nodes in three phases:
//
//  1. Initialize: executes the initializer of every variable registered in the context (a snapshot taken at
//     the start of Run), in declaration order. This happens on every call to Run, so every Run resets the
//     variables to their initial values, unless WithoutInitialization is used.
//  2. Sequence: executes every node but the last, in order, discarding the results.
//  3. Finalize: executes the last node, with the feeds, and returns its value converted to a Go value.
//
// Every node is resolved (built anew) before being executed. Unless WithSession is used, each call to Run
// creates a new session, and closes it before returning.
//
// A failure in any phase aborts the run: nodes executed before the failure keep their effects.
type Runner struct {
	ctx        *Context
	graph      backends.Graph
	session    backends.Session
	feeds      Feeds
	initialize bool
	progress   func(done, total int)
}

// NewRunner creates a Runner for the given context. If ctx is nil, the Default context is used.
func NewRunner(ctx *Context) *Runner {
	if ctx == nil {
		ctx = Default()
	}
	return &Runner{ctx: ctx, initialize: true}
}

// WithFeeds sets the feeds used when executing the last node. It returns the Runner itself.
func (r *Runner) WithFeeds(feeds Feeds) *Runner {
	r.feeds = feeds
	return r
}

// WithoutInitialization disables the Initialize phase: variables keep the values they have in the session.
// It's only useful with WithSession. It returns the Runner itself.
func (r *Runner) WithoutInitialization() *Runner {
	r.initialize = false
	return r
}

// WithProgress sets a function called after each node of the Sequence and Finalize phases is executed.
// It returns the Runner itself.
func (r *Runner) WithProgress(progress func(done, total int)) *Runner {
	r.progress = progress
	return r
}

// WithGraph sets the graph where nodes are resolved, instead of the default graph of the context.
// It is ignored if a session is given with WithSession. It returns the Runner itself.
func (r *Runner) WithGraph(g backends.Graph) *Runner {
	r.graph = g
	return r
}

// WithSession makes Run use the given session (and its graph), instead of creating a new one.
// The session is not closed by the Runner. It returns the Runner itself.
func (r *Runner) WithSession(session backends.Session) *Runner {
	r.session = session
	return r
}

// Run executes the nodes and returns the value of the last one, converted to a Go value
// (see tensors.Tensor.Value).
//
// The nodes can be given as *Node, []*Node or []any, nested arbitrarily: they are flattened in order.
func (r *Runner) Run(nodes ...any) (any, error) {
	t, err := r.RunTensor(nodes...)
	if err != nil {
		return nil, err
	}
	defer t.Finalize()
	return t.Value(), nil
}

// MustRun is like Run, but panics on error.
func (r *Runner) MustRun(nodes ...any) any {
	value, err := r.Run(nodes...)
	if err != nil {
		panic(err)
	}
	return value
}

// RunTensor is like Run, but returns the tensor of the last node, owned by the caller.
func (r *Runner) RunTensor(nodes ...any) (result *tensors.Tensor, err error) {
	flat, err := flattenNodes(nodes)
	if err != nil {
		return nil, err
	}
	session := r.session
	if session == nil {
		g := r.graph
		if g == nil {
			g = r.ctx.Graph()
		}
		session, err = r.ctx.backend.NewSession(g)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to create session for graph %q", g.Name())
		}
		defer func() {
			closeErr := session.Close()
			if closeErr != nil && result != nil {
				result.Finalize()
				result = nil
			}
			err = multierr.Append(err, closeErr)
		}()
	}
	start := time.Now()

	if r.initialize {
		bindings := r.ctx.Variables()
		klog.V(1).Infof("graph: initializing %d variable(s) in graph %q", len(bindings), session.Graph().Name())
		for _, binding := range bindings {
			t, err := RunOne(r.ctx, session, binding.Initializer, nil)
			if err != nil {
				return nil, errors.WithMessagef(err, "failed to initialize variable %q", binding.SharedName)
			}
			t.Finalize()
		}
	}

	total := len(flat)
	klog.V(1).Infof("graph: executing %d node(s) in graph %q", total, session.Graph().Name())
	for ii, node := range flat[:total-1] {
		t, err := RunOne(r.ctx, session, node, nil)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to execute node #%d of %d", ii, total)
		}
		t.Finalize()
		r.reportProgress(ii+1, total)
	}
	result, err = RunOne(r.ctx, session, flat[total-1], r.feeds)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to execute last node (#%d)", total-1)
	}
	r.reportProgress(total, total)
	klog.V(1).Infof("graph: run in graph %q took %s", session.Graph().Name(), time.Since(start))
	return result, nil
}

func (r *Runner) reportProgress(done, total int) {
	if r.progress != nil {
		r.progress(done, total)
	}
}

// flattenNodes flattens the nested lists of nodes, in order.
func flattenNodes(inputs []any) ([]*Node, error) {
	var nodes []*Node
	stack := make([]any, 0, len(inputs))
	pushReversed := func(items []any) {
		for ii := len(items) - 1; ii >= 0; ii-- {
			stack = append(stack, items[ii])
		}
	}
	pushReversed(inputs)
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch v := item.(type) {
		case *Node:
			if v == nil {
				return nil, errors.Errorf("nil *Node given to run, at position %d", len(nodes))
			}
			nodes = append(nodes, v)
		case []*Node:
			for ii := len(v) - 1; ii >= 0; ii-- {
				stack = append(stack, v[ii])
			}
		case []any:
			pushReversed(v)
		default:
			return nil, errors.Errorf("cannot run value of type %T: only *Node, []*Node or []any are accepted", item)
		}
	}
	if len(nodes) == 0 {
		return nil, errors.New("no nodes given to run")
	}
	return nodes, nil
}

// Run executes the nodes in the Default context. See Runner.
func Run(nodes ...any) (any, error) {
	return NewRunner(nil).Run(nodes...)
}

// MustRun is like Run, but panics on error.
func MustRun(nodes ...any) any {
	return NewRunner(nil).MustRun(nodes...)
}
