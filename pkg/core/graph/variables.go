// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VariableBinding is one entry of the variable registry of a Context: a variable node and the node that
// assigns its initial value.
type VariableBinding struct {
	// SharedName identifies the variable state in a session. Every rebuild of the variable node uses it.
	SharedName string

	Variable    *Node
	Initializer *Node
}

// NewVariable declares a variable with the given initial value, and returns its node.
//
// The value (anything accepted by tensors.FromAnyValue) defines the dtype and shape of the variable.
// The initializer (an Assign of the value) is appended to the variable registry of the context, and is
// executed at the start of every Runner.Run. The registry only grows, see ClearVariables.
//
// Options can override the attributes of the VariableV2 operation. WithName sets both the operation name
// and the "shared_name" of the variable, suffixed (e.g. "v_1") if another variable of the context already
// uses it; otherwise a unique "shared_name" is allocated. Variables only share state in a session if given
// the same "shared_name" explicitly, with WithAttr(backends.AttrSharedName, ...).
func (ctx *Context) NewVariable(value any, options ...OpOption) (*Node, error) {
	t, err := tensors.FromAnyValue(value)
	if err != nil {
		return nil, errors.WithMessage(err, "graph.Variable")
	}
	profile := Profile{
		Operation: backends.OpTypeVariable,
		Attrs: []Attr{
			{backends.AttrDType, backends.DTypeAttr(t.DType())},
			{backends.AttrShape, backends.ShapeAttr(t.Shape().Dimensions)},
		},
	}
	for _, option := range options {
		option(&profile)
	}

	ctx.mu.Lock()
	if explicit, ok := profile.Attr(backends.AttrSharedName).(backends.StringAttr); ok {
		ctx.sharedNames.Insert(string(explicit))
	} else {
		sharedName := ctx.uniqueSharedName(profile.Name)
		if profile.Name != "" {
			profile.Name = sharedName
		}
		profile.SetAttr(backends.AttrSharedName, backends.StringAttr(sharedName))
	}
	variable := Build(profile)
	binding := VariableBinding{
		SharedName:  string(profile.Attr(backends.AttrSharedName).(backends.StringAttr)),
		Variable:    variable,
		Initializer: Assign(variable, Const(t)),
	}
	ctx.variables = append(ctx.variables, binding)
	numVariables := len(ctx.variables)
	ctx.mu.Unlock()
	klog.V(2).Infof("graph: declared variable %q %s (%d variables registered)",
		binding.SharedName, t.Shape(), numVariables)
	return variable, nil
}

// uniqueSharedName returns requested if no variable of the context used it yet, otherwise requested with
// a numeric suffix. If requested is empty, a name is generated by the allocator.
//
// It must be called with ctx.mu locked.
func (ctx *Context) uniqueSharedName(requested string) string {
	name := requested
	for ii := 1; ; ii++ {
		if name == "" {
			name = ctx.names.NewName(backends.OpTypeVariable)
		}
		if !ctx.sharedNames.Has(name) {
			ctx.sharedNames.Insert(name)
			return name
		}
		if requested == "" {
			name = ""
		} else {
			name = fmt.Sprintf("%s_%d", requested, ii)
		}
	}
}

// Variable is like NewVariable, but panics on errors.
func (ctx *Context) Variable(value any, options ...OpOption) *Node {
	n, err := ctx.NewVariable(value, options...)
	if err != nil {
		panic(err)
	}
	return n
}

// Variable declares a variable in the Default context. See Context.NewVariable.
func Variable(value any, options ...OpOption) *Node {
	return Default().Variable(value, options...)
}

// Variables returns a snapshot of the variable registry, in declaration order.
func (ctx *Context) Variables() []VariableBinding {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return append([]VariableBinding(nil), ctx.variables...)
}

// NumVariables returns the number of variables registered.
func (ctx *Context) NumVariables() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return len(ctx.variables)
}

// ClearVariables empties the variable registry. Variable nodes already created can still be used,
// but they are no longer initialized by Runner.Run. Their shared names stay taken: new variables
// never bind the state of the cleared ones.
func (ctx *Context) ClearVariables() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.variables = nil
}
