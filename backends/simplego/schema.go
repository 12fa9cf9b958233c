package simplego

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// kernelFn executes an operation given its evaluated inputs. It must return a new tensor owned by the caller.
type kernelFn func(s *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error)

type attrSpec struct {
	kind     backends.AttrKind
	required bool
}

// opSchema declares the inputs and attributes of an operation type, how to infer its output and how to execute it.
type opSchema struct {
	numInputs int
	attrs     map[string]attrSpec

	// refInput indicates the first input is a variable taken by reference: it is not evaluated before execution.
	refInput bool

	// infer validates the inputs and attributes, and sets the output dtype and dimensions of op.
	infer func(op *Operation) error

	exec kernelFn
}

var (
	noAttrs = map[string]attrSpec{}

	binarySchema = func(kernel kernelFn) *opSchema {
		return &opSchema{numInputs: 2, attrs: noAttrs, infer: inferBinary, exec: withHalfUpcast(kernel)}
	}
	reduceSchema = func(kernel kernelFn) *opSchema {
		return &opSchema{
			numInputs: 2,
			attrs:     map[string]attrSpec{backends.AttrKeepDims: {kind: backends.AttrKindBool}},
			infer:     inferReduce,
			exec:      withHalfUpcast(kernel),
		}
	}
)

// opSchemas maps the operation type to its schema.
var opSchemas = map[string]*opSchema{
	backends.OpTypeConst: {
		attrs: map[string]attrSpec{
			backends.AttrDType: {kind: backends.AttrKindDType, required: true},
			backends.AttrValue: {kind: backends.AttrKindTensor, required: true},
		},
		infer: inferConst,
		exec:  execConst,
	},
	backends.OpTypePlaceholder: {
		attrs: map[string]attrSpec{
			backends.AttrDType: {kind: backends.AttrKindDType, required: true},
			backends.AttrShape: {kind: backends.AttrKindShape},
		},
		infer: inferPlaceholder,
		exec:  execPlaceholder,
	},
	backends.OpTypeVariable: {
		attrs: map[string]attrSpec{
			backends.AttrDType:      {kind: backends.AttrKindDType, required: true},
			backends.AttrShape:      {kind: backends.AttrKindShape, required: true},
			backends.AttrContainer:  {kind: backends.AttrKindString},
			backends.AttrSharedName: {kind: backends.AttrKindString},
		},
		infer: inferVariable,
		exec:  execVariable,
	},
	backends.OpTypeAssign: {
		numInputs: 2,
		attrs: map[string]attrSpec{
			backends.AttrValidateShape: {kind: backends.AttrKindBool},
			backends.AttrUseLocking:    {kind: backends.AttrKindBool},
		},
		refInput: true,
		infer:    inferAssign,
		exec:     execAssign,
	},
	backends.OpTypeIdentity: {numInputs: 1, attrs: noAttrs, infer: inferIdentity, exec: execIdentity},

	backends.OpTypeAdd: binarySchema(execBinary),
	backends.OpTypeSub: binarySchema(execBinary),
	backends.OpTypeMul: binarySchema(execBinary),
	backends.OpTypeDiv: binarySchema(execBinary),
	backends.OpTypePow: binarySchema(execBinary),
	backends.OpTypeMatMul: {
		numInputs: 2,
		attrs: map[string]attrSpec{
			backends.AttrTransposeA: {kind: backends.AttrKindBool},
			backends.AttrTransposeB: {kind: backends.AttrKindBool},
		},
		infer: inferMatMul,
		exec:  withHalfUpcast(execMatMul),
	},
	backends.OpTypeSum:       reduceSchema(execReduce),
	backends.OpTypeMean:      reduceSchema(execReduce),
	backends.OpTypeTranspose: {numInputs: 2, attrs: noAttrs, infer: inferTranspose, exec: execTranspose},
	backends.OpTypeTanh:      {numInputs: 1, attrs: noAttrs, infer: inferFloatUnary, exec: withHalfUpcast(execUnary)},
	backends.OpTypeSigmoid:   {numInputs: 1, attrs: noAttrs, infer: inferFloatUnary, exec: withHalfUpcast(execUnary)},
	backends.OpTypeAbs:       {numInputs: 1, attrs: noAttrs, infer: inferAbs, exec: withHalfUpcast(execUnary)},
	backends.OpTypeSize: {
		numInputs: 1,
		attrs:     map[string]attrSpec{backends.AttrOutType: {kind: backends.AttrKindDType}},
		infer:     inferSize,
		exec:      execSize,
	},
}

// Attribute accessors: the kinds were already validated against the schema.

func (op *Operation) dtypeAttr(name string, defaultValue dtypes.DType) dtypes.DType {
	if attr, found := op.attrs[name]; found {
		return attr.(backends.DTypeAttr).DType()
	}
	return defaultValue
}

func (op *Operation) boolAttr(name string, defaultValue bool) bool {
	if attr, found := op.attrs[name]; found {
		return bool(attr.(backends.BoolAttr))
	}
	return defaultValue
}

func (op *Operation) stringAttr(name string) string {
	if attr, found := op.attrs[name]; found {
		return string(attr.(backends.StringAttr))
	}
	return ""
}

func (op *Operation) shapeAttr(name string) (dims []int, found bool) {
	attr, found := op.attrs[name]
	if !found {
		return nil, false
	}
	return slices.Clone([]int(attr.(backends.ShapeAttr))), true
}

func (op *Operation) tensorAttr(name string) *tensors.Tensor {
	if attr, found := op.attrs[name]; found {
		return attr.(backends.TensorAttr).Tensor
	}
	return nil
}

// setOutput sets the output dtype and dimensions. A nil dims with known=true is a scalar.
func (op *Operation) setOutput(dtype dtypes.DType, dims []int, known bool) {
	op.dtype = dtype
	op.shapeKnown = known
	if known {
		op.dims = slices.Clone(dims)
		if op.dims == nil {
			op.dims = []int{}
		}
	}
}

// constValue returns the value of a Const operation, or nil if op is not a Const.
func constValue(op *Operation) *tensors.Tensor {
	if op.opType != backends.OpTypeConst {
		return nil
	}
	return op.tensorAttr(backends.AttrValue)
}

func checkDims(dims []int) error {
	for _, dim := range dims {
		if dim < 0 {
			return errors.Errorf("invalid negative dimension in %v", dims)
		}
	}
	return nil
}

func inferConst(op *Operation) error {
	dtype := op.dtypeAttr(backends.AttrDType, dtypes.InvalidDType)
	value := op.tensorAttr(backends.AttrValue)
	if !value.Ok() {
		return errors.New("attribute \"value\" holds an invalid tensor")
	}
	if value.DType() != dtype {
		return errors.Errorf("attribute \"dtype\" (%s) doesn't match the dtype of \"value\" (%s)", dtype, value.DType())
	}
	op.setOutput(dtype, value.Shape().Dimensions, true)
	return nil
}

func inferPlaceholder(op *Operation) error {
	dims, known := op.shapeAttr(backends.AttrShape)
	if err := checkDims(dims); err != nil {
		return err
	}
	op.setOutput(op.dtypeAttr(backends.AttrDType, dtypes.InvalidDType), dims, known)
	return nil
}

func inferVariable(op *Operation) error {
	dims, _ := op.shapeAttr(backends.AttrShape)
	if err := checkDims(dims); err != nil {
		return err
	}
	op.setOutput(op.dtypeAttr(backends.AttrDType, dtypes.InvalidDType), dims, true)
	return nil
}

func inferAssign(op *Operation) error {
	ref, value := op.inputs[0], op.inputs[1]
	if ref.opType != backends.OpTypeVariable {
		return errors.Errorf("input #0 must be a %s, got %s %q", backends.OpTypeVariable, ref.opType, ref.name)
	}
	if ref.dtype != value.dtype {
		return errors.Errorf("cannot assign value of dtype %s to variable %q of dtype %s", value.dtype, ref.name, ref.dtype)
	}
	if op.boolAttr(backends.AttrValidateShape, true) && value.shapeKnown && !slices.Equal(ref.dims, value.dims) {
		return errors.Errorf("cannot assign value of dimensions %v to variable %q of dimensions %v", value.dims, ref.name, ref.dims)
	}
	op.setOutput(ref.dtype, ref.dims, true)
	return nil
}

func inferIdentity(op *Operation) error {
	input := op.inputs[0]
	op.setOutput(input.dtype, input.dims, input.shapeKnown)
	return nil
}

func inferBinary(op *Operation) error {
	lhs, rhs := op.inputs[0], op.inputs[1]
	if lhs.dtype != rhs.dtype {
		return errors.Errorf("operands have different dtypes: %s and %s", lhs.dtype, rhs.dtype)
	}
	if !isNumber(lhs.dtype) {
		return errors.Errorf("dtype %s not supported", lhs.dtype)
	}
	if !lhs.shapeKnown || !rhs.shapeKnown {
		op.setOutput(lhs.dtype, nil, false)
		return nil
	}
	lhsShape, _ := lhs.Shape()
	rhsShape, _ := rhs.Shape()
	dims, err := shapes.BroadcastDimensions(lhsShape, rhsShape)
	if err != nil {
		return err
	}
	op.setOutput(lhs.dtype, dims, true)
	return nil
}

// matMulDims returns the output dimensions of a matrix multiplication, given the dimensions of the operands.
func matMulDims(lhsDims, rhsDims []int, transposeA, transposeB bool) ([]int, error) {
	if len(lhsDims) != 2 || len(rhsDims) != 2 {
		return nil, errors.Errorf("operands must be matrices (rank 2), got dimensions %v and %v", lhsDims, rhsDims)
	}
	m, k := lhsDims[0], lhsDims[1]
	if transposeA {
		m, k = k, m
	}
	k2, n := rhsDims[0], rhsDims[1]
	if transposeB {
		k2, n = n, k2
	}
	if k != k2 {
		return nil, errors.Errorf("contracting dimensions don't match: lhs %v (transpose_a=%v), rhs %v (transpose_b=%v)",
			lhsDims, transposeA, rhsDims, transposeB)
	}
	return []int{m, n}, nil
}

func inferMatMul(op *Operation) error {
	lhs, rhs := op.inputs[0], op.inputs[1]
	if lhs.dtype != rhs.dtype {
		return errors.Errorf("operands have different dtypes: %s and %s", lhs.dtype, rhs.dtype)
	}
	if !isRealNumber(lhs.dtype) {
		return errors.Errorf("dtype %s not supported", lhs.dtype)
	}
	for ii, input := range op.inputs {
		if input.shapeKnown && len(input.dims) != 2 {
			return errors.Errorf("operand #%d must be a matrix (rank 2), got dimensions %v", ii, input.dims)
		}
	}
	if !lhs.shapeKnown || !rhs.shapeKnown {
		op.setOutput(lhs.dtype, nil, false)
		return nil
	}
	dims, err := matMulDims(lhs.dims, rhs.dims,
		op.boolAttr(backends.AttrTransposeA, false), op.boolAttr(backends.AttrTransposeB, false))
	if err != nil {
		return err
	}
	op.setOutput(lhs.dtype, dims, true)
	return nil
}

// axesFromTensor converts a scalar or vector Int32/Int64 tensor to a slice of ints.
func axesFromTensor(t *tensors.Tensor) ([]int, error) {
	if !isAxisDType(t.DType()) {
		return nil, errors.Errorf("axes must be Int32 or Int64, got %s", t.DType())
	}
	if t.Rank() > 1 {
		return nil, errors.Errorf("axes must be a scalar or a vector, got shape %s", t.Shape())
	}
	axes := make([]int, 0, t.Size())
	t.ConstFlatData(func(flatAny any) {
		switch flat := flatAny.(type) {
		case []int32:
			for _, v := range flat {
				axes = append(axes, int(v))
			}
		case []int64:
			for _, v := range flat {
				axes = append(axes, int(v))
			}
		}
	})
	return axes, nil
}

// reduceDims returns which axes are reduced, and the output dimensions of a reduction.
func reduceDims(dims []int, axes []int, keepDims bool) (reduced []bool, outputDims []int, err error) {
	reduced = make([]bool, len(dims))
	for _, axis := range axes {
		adjusted := axis
		if adjusted < 0 {
			adjusted += len(dims)
		}
		if adjusted < 0 || adjusted >= len(dims) {
			return nil, nil, errors.Errorf("reduction axis %d out-of-bounds for dimensions %v", axis, dims)
		}
		reduced[adjusted] = true
	}
	outputDims = make([]int, 0, len(dims))
	for axis, dim := range dims {
		if !reduced[axis] {
			outputDims = append(outputDims, dim)
		} else if keepDims {
			outputDims = append(outputDims, 1)
		}
	}
	return reduced, outputDims, nil
}

func inferReduce(op *Operation) error {
	x, axisOp := op.inputs[0], op.inputs[1]
	if !isRealNumber(x.dtype) {
		return errors.Errorf("dtype %s not supported", x.dtype)
	}
	if !isAxisDType(axisOp.dtype) {
		return errors.Errorf("reduction axis must be Int32 or Int64, got %s", axisOp.dtype)
	}
	if axisOp.shapeKnown && len(axisOp.dims) > 1 {
		return errors.Errorf("reduction axis must be a scalar or a vector, got dimensions %v", axisOp.dims)
	}
	axisValue := constValue(axisOp)
	if !x.shapeKnown || axisValue == nil {
		op.setOutput(x.dtype, nil, false)
		return nil
	}
	axes, err := axesFromTensor(axisValue)
	if err != nil {
		return err
	}
	_, outputDims, err := reduceDims(x.dims, axes, op.boolAttr(backends.AttrKeepDims, false))
	if err != nil {
		return err
	}
	op.setOutput(x.dtype, outputDims, true)
	return nil
}

// checkPermutation validates perm is a permutation of the axes of a tensor of the given rank.
func checkPermutation(perm []int, rank int) error {
	if len(perm) != rank {
		return errors.Errorf("permutation %v has %d elements, but operand has rank %d", perm, len(perm), rank)
	}
	seen := make([]bool, rank)
	for _, axis := range perm {
		if axis < 0 || axis >= rank || seen[axis] {
			return errors.Errorf("invalid permutation %v for rank %d", perm, rank)
		}
		seen[axis] = true
	}
	return nil
}

func inferTranspose(op *Operation) error {
	x, permOp := op.inputs[0], op.inputs[1]
	if !isAxisDType(permOp.dtype) {
		return errors.Errorf("permutation must be Int32 or Int64, got %s", permOp.dtype)
	}
	permValue := constValue(permOp)
	if !x.shapeKnown || permValue == nil {
		op.setOutput(x.dtype, nil, false)
		return nil
	}
	perm, err := axesFromTensor(permValue)
	if err != nil {
		return err
	}
	if err = checkPermutation(perm, len(x.dims)); err != nil {
		return err
	}
	dims := make([]int, len(perm))
	for ii, axis := range perm {
		dims[ii] = x.dims[axis]
	}
	op.setOutput(x.dtype, dims, true)
	return nil
}

func inferFloatUnary(op *Operation) error {
	x := op.inputs[0]
	if !isFloat(x.dtype) {
		return errors.Errorf("dtype %s not supported, it requires a float", x.dtype)
	}
	op.setOutput(x.dtype, x.dims, x.shapeKnown)
	return nil
}

func inferAbs(op *Operation) error {
	x := op.inputs[0]
	if !isRealNumber(x.dtype) {
		return errors.Errorf("dtype %s not supported", x.dtype)
	}
	op.setOutput(x.dtype, x.dims, x.shapeKnown)
	return nil
}

func inferSize(op *Operation) error {
	outType := op.dtypeAttr(backends.AttrOutType, dtypes.Int32)
	if !isAxisDType(outType) {
		return errors.Errorf("attribute %q must be Int32 or Int64, got %s", backends.AttrOutType, outType)
	}
	op.setOutput(outType, nil, true)
	return nil
}
