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
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// OpOption changes the Profile of a node created by one of the constructors that accept options
// (Const, Placeholder, Variable, Assign).
type OpOption func(p *Profile)

// WithName sets the name of the operation.
//
// The name is used verbatim the first time the node is resolved in a graph. Later resolutions in the
// same graph get a numeric suffix ("x_1", "x_2", ...); feeds keyed by the name are bound to the operation
// built in the same run.
func WithName(name string) OpOption {
	return func(p *Profile) { p.Name = name }
}

// WithAttr sets (or overrides) an attribute of the operation. The value is converted with
// backends.AttrFromValue, and it panics if it can't be converted.
func WithAttr(name string, value any) OpOption {
	attr, err := backends.AttrFromValue(value)
	if err != nil {
		panic(errors.WithMessagef(err, "graph.WithAttr(%q)", name))
	}
	return func(p *Profile) { p.SetAttr(name, attr) }
}

// WithShape sets the "shape" attribute of a Placeholder.
func WithShape(dimensions ...int) OpOption {
	return func(p *Profile) { p.SetAttr(backends.AttrShape, backends.ShapeAttr(dimensions)) }
}

func buildWithOptions(profile Profile, options []OpOption) *Node {
	for _, option := range options {
		option(&profile)
	}
	return Build(profile)
}

// NewConst creates a Const node holding value, which can be anything accepted by tensors.FromAnyValue:
// a Go scalar, a (multi-dimensional) slice or a *tensors.Tensor.
//
// The value is converted to a tensor immediately, so conversion errors are returned here,
// and not when the node is resolved.
func NewConst(value any, options ...OpOption) (*Node, error) {
	t, err := tensors.FromAnyValue(value)
	if err != nil {
		return nil, errors.WithMessage(err, "graph.Const")
	}
	return buildWithOptions(Profile{
		Operation: backends.OpTypeConst,
		Attrs: []Attr{
			{backends.AttrDType, backends.DTypeAttr(t.DType())},
			{backends.AttrValue, backends.TensorAttr{Tensor: t}},
		},
	}, options), nil
}

// Const is like NewConst, but panics if value can't be converted to a tensor.
func Const(value any, options ...OpOption) *Node {
	n, err := NewConst(value, options...)
	if err != nil {
		panic(err)
	}
	return n
}

// Placeholder creates a node whose value must be fed at execution time: see Runner.WithFeeds.
// Give it a name with WithName, since feeds are keyed by name. WithShape sets the expected shape.
func Placeholder(dtype dtypes.DType, options ...OpOption) *Node {
	return buildWithOptions(Profile{
		Operation: backends.OpTypePlaceholder,
		Attrs:     []Attr{{backends.AttrDType, backends.DTypeAttr(dtype)}},
	}, options)
}

// Assign creates a node that assigns value to variable, and returns the assigned value.
// If value is not a *Node, it is first converted with Const.
func Assign(variable *Node, value any, options ...OpOption) *Node {
	valueNode, ok := value.(*Node)
	if !ok {
		valueNode = Const(value)
	}
	return buildWithOptions(Profile{
		Operation: backends.OpTypeAssign,
		Inputs:    []*Node{variable, valueNode},
	}, options)
}

func unaryOp(opType string, x *Node) *Node {
	return Build(Profile{Operation: opType, Inputs: []*Node{x}})
}

func binaryOp(opType string, x, y *Node) *Node {
	return Build(Profile{Operation: opType, Inputs: []*Node{x, y}})
}

// Identity returns a node with the same value as x.
func Identity(x *Node) *Node { return unaryOp(backends.OpTypeIdentity, x) }

// Add returns x + y, with broadcasting.
func Add(x, y *Node) *Node { return binaryOp(backends.OpTypeAdd, x, y) }

// Sub returns x - y, with broadcasting.
func Sub(x, y *Node) *Node { return binaryOp(backends.OpTypeSub, x, y) }

// Mul returns x * y, with broadcasting.
func Mul(x, y *Node) *Node { return binaryOp(backends.OpTypeMul, x, y) }

// Div returns x / y, with broadcasting. Integer division truncates.
func Div(x, y *Node) *Node { return binaryOp(backends.OpTypeDiv, x, y) }

// Pow returns x^y, with broadcasting.
func Pow(x, y *Node) *Node { return binaryOp(backends.OpTypePow, x, y) }

// MatMul returns the matrix multiplication of the rank-2 x and y.
func MatMul(x, y *Node) *Node { return binaryOp(backends.OpTypeMatMul, x, y) }

// Dot is an alias to MatMul.
func Dot(x, y *Node) *Node { return MatMul(x, y) }

// MatMulTransposed returns the matrix multiplication of x and y, optionally transposing either of them first.
func MatMulTransposed(x, y *Node, transposeX, transposeY bool) *Node {
	return Build(Profile{
		Operation: backends.OpTypeMatMul,
		Attrs: []Attr{
			{backends.AttrTransposeA, backends.BoolAttr(transposeX)},
			{backends.AttrTransposeB, backends.BoolAttr(transposeY)},
		},
		Inputs: []*Node{x, y},
	})
}

// optionalAxis returns the single optional axis node, or the default one.
func optionalAxis(opName string, axis []*Node, defaultFn func() *Node) *Node {
	if len(axis) > 1 {
		exceptions.Panicf("graph.%s: at most one axis node can be given, got %d", opName, len(axis))
	}
	if len(axis) == 1 {
		return axis[0]
	}
	return defaultFn()
}

func defaultReduceAxis() *Node { return Const(int32(0)) }

// Sum reduces x by summing over the axes given by the optional axis node: an int32 or int64 scalar
// or list. The axis defaults to 0.
func Sum(x *Node, axis ...*Node) *Node {
	return binaryOp(backends.OpTypeSum, x, optionalAxis("Sum", axis, defaultReduceAxis))
}

// Mean reduces x by taking the mean over the axes given by the optional axis node: an int32 or int64 scalar
// or list. The axis defaults to 0.
func Mean(x *Node, axis ...*Node) *Node {
	return binaryOp(backends.OpTypeMean, x, optionalAxis("Mean", axis, defaultReduceAxis))
}

// ReduceSum sums x over the given axes, keeping the reduced axes with dimension 1 if keepDims is set.
func ReduceSum(x *Node, keepDims bool, axes ...int) *Node {
	return reduceAxes(backends.OpTypeSum, x, keepDims, axes)
}

// ReduceMean takes the mean of x over the given axes, keeping the reduced axes with dimension 1
// if keepDims is set.
func ReduceMean(x *Node, keepDims bool, axes ...int) *Node {
	return reduceAxes(backends.OpTypeMean, x, keepDims, axes)
}

func reduceAxes(opType string, x *Node, keepDims bool, axes []int) *Node {
	if len(axes) == 0 {
		exceptions.Panicf("graph: reducing with %s requires at least one axis", opType)
	}
	axesI32 := make([]int32, len(axes))
	for ii, axis := range axes {
		axesI32[ii] = int32(axis)
	}
	return Build(Profile{
		Operation: opType,
		Attrs:     []Attr{{backends.AttrKeepDims, backends.BoolAttr(keepDims)}},
		Inputs:    []*Node{x, Const(axesI32)},
	})
}

// Transpose permutes the axes of x according to the optional permutation node. It defaults to [1, 0],
// the transposition of a matrix.
func Transpose(x *Node, permutation ...*Node) *Node {
	return binaryOp(backends.OpTypeTranspose, x, optionalAxis("Transpose", permutation, func() *Node {
		return Const([]int32{1, 0})
	}))
}

// Tanh returns the element-wise hyperbolic tangent of x.
func Tanh(x *Node) *Node { return unaryOp(backends.OpTypeTanh, x) }

// Sigmoid returns the element-wise 1/(1+exp(-x)).
func Sigmoid(x *Node) *Node { return unaryOp(backends.OpTypeSigmoid, x) }

// Abs returns the element-wise absolute value of x.
func Abs(x *Node) *Node { return unaryOp(backends.OpTypeAbs, x) }

// Size returns the number of elements of x, as an int32 scalar.
func Size(x *Node) *Node { return unaryOp(backends.OpTypeSize, x) }
