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
	"github.com/gomlx/exceptions"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NodeType identifies the kind of Node.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota

	// NodeTypeOp is a deferred operation, described by a Profile.
	NodeTypeOp

	// NodeTypeOutput wraps an output of an operation already built in a backend graph.
	NodeTypeOutput
)

// String implements fmt.Stringer.
func (t NodeType) String() string {
	switch t {
	case NodeTypeOp:
		return "Op"
	case NodeTypeOutput:
		return "Output"
	default:
		return "Invalid"
	}
}

// Attr is one named attribute of a Profile.
type Attr struct {
	Name  string
	Value backends.Attr
}

// Profile describes an operation to build: the operation type, an optional name, the attributes
// in the order they are set and the inputs in the order the operation expects them.
type Profile struct {
	// Operation is the backend operation type, e.g.: "Add" (see backends.OpTypeAdd).
	Operation string

	// Name is used verbatim if it is free in the graph. If empty, the Context allocates one
	// when the node is resolved.
	Name string

	Attrs  []Attr
	Inputs []*Node
}

// SetAttr sets or replaces an attribute of the profile, keeping its original position if it was already set.
func (p *Profile) SetAttr(name string, value backends.Attr) {
	for ii := range p.Attrs {
		if p.Attrs[ii].Name == name {
			p.Attrs[ii].Value = value
			return
		}
	}
	p.Attrs = append(p.Attrs, Attr{Name: name, Value: value})
}

// Attr returns the value of the attribute with the given name, or nil if it is not set.
func (p *Profile) Attr(name string) backends.Attr {
	for _, attr := range p.Attrs {
		if attr.Name == name {
			return attr.Value
		}
	}
	return nil
}

// Node is a deferred operation: nothing is built in a backend graph until it is resolved with Node.Resolve
// (or executed with RunOne/Run).
//
// Nodes are immutable once built, and can be freely shared as inputs of other nodes.
type Node struct {
	nodeType NodeType
	profile  Profile
	output   backends.Output
}

// Build creates a deferred Node from a Profile. It performs no validation: the backend validates
// the operation when the node is resolved.
//
// The attributes and inputs slices are copied.
func Build(profile Profile) *Node {
	n := &Node{nodeType: NodeTypeOp, profile: profile}
	n.profile.Attrs = append([]Attr(nil), profile.Attrs...)
	n.profile.Inputs = append([]*Node(nil), profile.Inputs...)
	return n
}

// FromOutput wraps an output of an operation already built in a backend graph, so it can be used as
// the input of a deferred Node. It can only be resolved in the graph that holds the operation.
func FromOutput(output backends.Output) *Node {
	if !output.Ok() {
		exceptions.Panicf("graph.FromOutput: invalid output %s", output)
	}
	return &Node{nodeType: NodeTypeOutput, output: output}
}

// Resolve builds the operations of the node and of all its deferred inputs in the graph g, and returns
// the output of the node. If g is nil, the default graph of ctx is used. If ctx is nil, the Default
// context is used.
//
// Every call builds new operations: resolving the same node twice gives two distinct operations.
// Within one call, a node that is the input of several nodes is built only once.
//
// Errors come from the backend rejecting an operation (unknown type, missing attributes, shape mismatches, etc.).
func (n *Node) Resolve(ctx *Context, g backends.Graph) (backends.Output, error) {
	if ctx == nil {
		ctx = Default()
	}
	if g == nil {
		g = ctx.Graph()
	}
	r := ctx.newResolution(g)
	return r.resolve(n)
}

// MustResolve is like Resolve, but panics on error.
func (n *Node) MustResolve(ctx *Context, g backends.Graph) backends.Output {
	output, err := n.Resolve(ctx, g)
	if err != nil {
		panic(err)
	}
	return output
}

// resolution builds nodes in one graph, memoising the nodes already built.
type resolution struct {
	ctx      *Context
	graph    backends.Graph
	resolved map[*Node]backends.Output

	// names maps the requested names of the nodes built to the names actually used, in build order.
	names map[string][]string

	// built holds the names of all operations built.
	built sets.Set[string]
}

func (ctx *Context) newResolution(g backends.Graph) *resolution {
	return &resolution{
		ctx:      ctx,
		graph:    g,
		resolved: make(map[*Node]backends.Output),
		names:    make(map[string][]string),
		built:    sets.Make[string](),
	}
}

// resolve uses an explicit stack, since folds of thousands of nodes are expected.
func (r *resolution) resolve(root *Node) (backends.Output, error) {
	if root == nil {
		return backends.Output{}, errors.Errorf("cannot resolve a nil Node in graph %q", r.graph.Name())
	}
	stack := []*Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		if _, done := r.resolved[node]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		switch node.nodeType {
		case NodeTypeOutput:
			r.resolved[node] = node.output
			stack = stack[:len(stack)-1]
			continue
		case NodeTypeOp:
		default:
			return backends.Output{}, errors.Errorf("cannot resolve Node of type %s in graph %q", node.nodeType, r.graph.Name())
		}

		pending := false
		for ii, input := range node.profile.Inputs {
			if input == nil {
				return backends.Output{}, errors.Errorf("input #%d of %s is nil", ii, node)
			}
			if _, done := r.resolved[input]; !done {
				stack = append(stack, input)
				pending = true
			}
		}
		if pending {
			continue
		}
		output, err := r.build(node)
		if err != nil {
			return backends.Output{}, err
		}
		r.resolved[node] = output
		stack = stack[:len(stack)-1]
	}
	return r.resolved[root], nil
}

// build the operation of node, whose inputs must have been resolved already.
func (r *resolution) build(node *Node) (backends.Output, error) {
	p := &node.profile
	r.ctx.mu.Lock()
	name := r.ctx.uniqueName(r.graph, p.Operation, p.Name)
	b := r.graph.NewOperation(p.Operation, name)
	for _, attr := range p.Attrs {
		b.SetAttr(attr.Name, attr.Value)
	}
	for _, input := range p.Inputs {
		b.AddInput(r.resolved[input])
	}
	op, err := b.Finish()
	r.ctx.mu.Unlock()
	if err != nil {
		return backends.Output{}, err
	}
	r.built.Insert(name)
	if p.Name != "" {
		r.names[p.Name] = append(r.names[p.Name], name)
	}
	if klog.V(2).Enabled() {
		klog.Infof("graph: resolved %s as %q in graph %q", node, name, r.graph.Name())
	}
	if op.NumOutputs() == 0 {
		return backends.Output{}, errors.Errorf("operation %q (%s) in graph %q has no outputs",
			name, p.Operation, r.graph.Name())
	}
	return op.Output(0), nil
}
