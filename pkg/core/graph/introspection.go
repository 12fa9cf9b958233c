// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/gomlx/lazygraph/pkg/support/sets"
)

// This file defines methods that allow for introspection of deferred nodes, without building them.

// Type of the node. It's an "introspection" method.
func (n *Node) Type() NodeType {
	if n == nil {
		return NodeTypeInvalid
	}
	return n.nodeType
}

// OpType returns the backend operation type of the node, e.g.: "Add".
// For NodeTypeOutput it's the type of the operation already built.
func (n *Node) OpType() string {
	switch n.Type() {
	case NodeTypeOp:
		return n.profile.Operation
	case NodeTypeOutput:
		return n.output.Op.Type()
	}
	return ""
}

// Name returns the name requested for the node, or "" if the name is allocated on resolution.
// For NodeTypeOutput it's the name of the operation already built.
func (n *Node) Name() string {
	switch n.Type() {
	case NodeTypeOp:
		return n.profile.Name
	case NodeTypeOutput:
		return n.output.Op.Name()
	}
	return ""
}

// Attrs returns a copy of the attributes of the node, in the order they were set.
// It returns nil for NodeTypeOutput.
func (n *Node) Attrs() []Attr {
	if n.Type() != NodeTypeOp {
		return nil
	}
	return append([]Attr(nil), n.profile.Attrs...)
}

// Inputs returns a copy of the list of input nodes.
func (n *Node) Inputs() []*Node {
	if n.Type() != NodeTypeOp {
		return nil
	}
	return append([]*Node(nil), n.profile.Inputs...)
}

// Output returns the output wrapped by a NodeTypeOutput node, or an invalid output otherwise.
func (n *Node) Output() backends.Output {
	if n.Type() != NodeTypeOutput {
		return backends.Output{}
	}
	return n.output
}

// ConstantValue returns the tensor held by a Const node, or nil if the node is not a Const.
// The tensor is shared with the node, and shouldn't be modified.
func (n *Node) ConstantValue() *tensors.Tensor {
	if n.Type() != NodeTypeOp || n.profile.Operation != backends.OpTypeConst {
		return nil
	}
	if attr, ok := n.profile.Attr(backends.AttrValue).(backends.TensorAttr); ok {
		return attr.Tensor
	}
	return nil
}

// String implements fmt.Stringer. It describes only the node itself, not its inputs.
func (n *Node) String() string {
	switch n.Type() {
	case NodeTypeOp:
		var sb strings.Builder
		sb.WriteString(n.profile.Operation)
		if n.profile.Name != "" {
			fmt.Fprintf(&sb, "(%q)", n.profile.Name)
		}
		if len(n.profile.Attrs) > 0 {
			parts := make([]string, len(n.profile.Attrs))
			for ii, attr := range n.profile.Attrs {
				parts[ii] = fmt.Sprintf("%s=%s", attr.Name, attr.Value)
			}
			fmt.Fprintf(&sb, "[%s]", strings.Join(parts, ", "))
		}
		if numInputs := len(n.profile.Inputs); numInputs > 0 {
			fmt.Fprintf(&sb, " with %d input(s)", numInputs)
		}
		return sb.String()
	case NodeTypeOutput:
		return fmt.Sprintf("Output(%s, %s)", n.output, n.output.Op.Type())
	}
	return "Node(invalid)"
}

// Walk visits n and all the nodes it depends on, each once, depth-first with inputs visited in order
// after the node that uses them. If fn returns false, the inputs of that node are not visited (unless
// reached through another node).
func (n *Node) Walk(fn func(node *Node) bool) {
	if n == nil {
		return
	}
	visited := sets.Make[*Node]()
	stack := []*Node{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil || visited.Has(node) {
			continue
		}
		visited.Insert(node)
		if !fn(node) {
			continue
		}
		inputs := node.profile.Inputs
		for ii := len(inputs) - 1; ii >= 0; ii-- {
			stack = append(stack, inputs[ii])
		}
	}
}

// CountOps returns the number of distinct deferred operations (NodeTypeOp) n depends on, including itself.
// That's the number of operations built when n is resolved.
func (n *Node) CountOps() int {
	count := 0
	n.Walk(func(node *Node) bool {
		if node.nodeType == NodeTypeOp {
			count++
		}
		return true
	})
	return count
}
