package simplego

import (
	"reflect"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// This file implements the kernels of operations that only move data around.
// Kernels are called with the Session lock held.

// copyFlat copies the flat slice src to dst, both of the same type.
func copyFlat(dst, src any) {
	reflect.Copy(reflect.ValueOf(dst), reflect.ValueOf(src))
}

func execConst(_ *Session, op *Operation, _ []*tensors.Tensor) (*tensors.Tensor, error) {
	return cloneTensor(op.tensorAttr(backends.AttrValue)), nil
}

func execPlaceholder(_ *Session, op *Operation, _ []*tensors.Tensor) (*tensors.Tensor, error) {
	return nil, errors.Errorf("missing feed for placeholder %q", op.name)
}

func execVariable(s *Session, op *Operation, _ []*tensors.Tensor) (*tensors.Tensor, error) {
	value, found := s.variables[variableKey(op)]
	if !found {
		return nil, errors.Errorf("attempting to use uninitialized variable %q", variableKey(op))
	}
	return cloneTensor(value), nil
}

func execAssign(s *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	ref, value := op.inputs[0], inputs[1]
	if value.DType() != ref.dtype {
		return nil, errors.Errorf("cannot assign value of dtype %s to variable %q of dtype %s", value.DType(), ref.name, ref.dtype)
	}
	if op.boolAttr(backends.AttrValidateShape, true) && !slices.Equal(value.Shape().Dimensions, ref.dims) {
		return nil, errors.Errorf("cannot assign value of shape %s to variable %q of dimensions %v", value.Shape(), ref.name, ref.dims)
	}
	key := variableKey(ref)
	if previous, found := s.variables[key]; found {
		previous.Finalize()
	}
	s.variables[key] = cloneTensor(value)
	return cloneTensor(value), nil
}

func execIdentity(_ *Session, _ *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	return cloneTensor(inputs[0]), nil
}

func execSize(_ *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	size := inputs[0].Size()
	if op.dtypeAttr(backends.AttrOutType, dtypes.Int32) == dtypes.Int64 {
		return tensors.FromScalar(int64(size)), nil
	}
	return tensors.FromScalar(int32(size)), nil
}

func execTranspose(_ *Session, _ *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	x := inputs[0]
	perm, err := axesFromTensor(inputs[1])
	if err != nil {
		return nil, err
	}
	if err = checkPermutation(perm, x.Rank()); err != nil {
		return nil, err
	}
	inputShape := x.Shape()
	inputStrides := inputShape.Strides()
	outputDims := make([]int, len(perm))
	for ii, axis := range perm {
		outputDims[ii] = inputShape.Dimensions[axis]
	}
	output := tensors.FromShape(shapes.Make(x.DType(), outputDims...))
	x.ConstFlatData(func(flat any) {
		output.MutableFlatData(func(outFlat any) {
			inV, outV := reflect.ValueOf(flat), reflect.ValueOf(outFlat)
			for outIdx, indices := range output.Shape().Iter() {
				inIdx := 0
				for ii, axis := range perm {
					inIdx += indices[ii] * inputStrides[axis]
				}
				outV.Index(outIdx).Set(inV.Index(inIdx))
			}
		})
	})
	return output, nil
}
