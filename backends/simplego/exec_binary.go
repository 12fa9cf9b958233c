package simplego

import (
	"math"
	"math/cmplx"

	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// This file implements the element-wise binary operations, with numpy-style broadcasting.

// flatOf returns the flat data of a tensor owned by the executor.
// Kernels don't hold the tensor lock while computing, since the same tensor may be passed as more than one input.
func flatOf(t *tensors.Tensor) (flat any) {
	t.ConstFlatData(func(f any) { flat = f })
	return
}

func execBinary(_ *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	lhs, rhs := inputs[0], inputs[1]
	if lhs.DType() != rhs.DType() {
		return nil, errors.Errorf("operands have different dtypes: %s and %s", lhs.DType(), rhs.DType())
	}
	dims, err := shapes.BroadcastDimensions(lhs.Shape(), rhs.Shape())
	if err != nil {
		return nil, err
	}
	output := tensors.FromShape(shapes.Make(lhs.DType(), dims...))
	b := binaryBroadcast{
		outputShape: output.Shape(),
		lhsStrides:  lhs.Shape().BroadcastStrides(dims),
		rhsStrides:  rhs.Shape().BroadcastStrides(dims),
	}
	opType := op.opType
	rhsFlat, outFlat := flatOf(rhs), flatOf(output)
	switch lhsFlat := flatOf(lhs).(type) {
	case []int8:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]int8), outFlat.([]int8), integerBinaryFn[int8](opType))
	case []int16:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]int16), outFlat.([]int16), integerBinaryFn[int16](opType))
	case []int32:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]int32), outFlat.([]int32), integerBinaryFn[int32](opType))
	case []int64:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]int64), outFlat.([]int64), integerBinaryFn[int64](opType))
	case []uint8:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]uint8), outFlat.([]uint8), integerBinaryFn[uint8](opType))
	case []uint16:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]uint16), outFlat.([]uint16), integerBinaryFn[uint16](opType))
	case []uint32:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]uint32), outFlat.([]uint32), integerBinaryFn[uint32](opType))
	case []uint64:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]uint64), outFlat.([]uint64), integerBinaryFn[uint64](opType))
	case []float32:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]float32), outFlat.([]float32), floatBinaryFn[float32](opType))
	case []float64:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]float64), outFlat.([]float64), floatBinaryFn[float64](opType))
	case []complex64:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]complex64), outFlat.([]complex64), complexBinaryFn[complex64](opType))
	case []complex128:
		err = binaryLoop(b, lhsFlat, rhsFlat.([]complex128), outFlat.([]complex128), complexBinaryFn[complex128](opType))
	default:
		err = errors.Errorf("dtype %s not supported", lhs.DType())
	}
	if err != nil {
		output.Finalize()
		return nil, err
	}
	return output, nil
}

// binaryBroadcast holds how the operands map to the output positions.
type binaryBroadcast struct {
	outputShape            shapes.Shape
	lhsStrides, rhsStrides []int
}

// binaryLoop applies fn to every position of the output, broadcasting the operands as needed.
func binaryLoop[T any](b binaryBroadcast, lhs, rhs, output []T, fn func(x, y T) (T, error)) (err error) {
	if len(lhs) == len(output) && len(rhs) == len(output) {
		// Same shapes: no broadcasting needed.
		for ii := range output {
			if output[ii], err = fn(lhs[ii], rhs[ii]); err != nil {
				return err
			}
		}
		return nil
	}
	for outIdx, indices := range b.outputShape.Iter() {
		lhsIdx, rhsIdx := 0, 0
		for axis, idx := range indices {
			lhsIdx += idx * b.lhsStrides[axis]
			rhsIdx += idx * b.rhsStrides[axis]
		}
		if output[outIdx], err = fn(lhs[lhsIdx], rhs[rhsIdx]); err != nil {
			return err
		}
	}
	return nil
}

func integerBinaryFn[T constraints.Integer](opType string) func(x, y T) (T, error) {
	switch opType {
	case backends.OpTypeAdd:
		return func(x, y T) (T, error) { return x + y, nil }
	case backends.OpTypeSub:
		return func(x, y T) (T, error) { return x - y, nil }
	case backends.OpTypeMul:
		return func(x, y T) (T, error) { return x * y, nil }
	case backends.OpTypeDiv:
		return func(x, y T) (T, error) {
			if y == 0 {
				return 0, errors.New("integer division by zero")
			}
			return x / y, nil
		}
	case backends.OpTypePow:
		return func(x, y T) (T, error) {
			if y < 0 {
				return 0, errors.New("integers to negative integer powers are not allowed")
			}
			return execScalarPowIntGeneric(x, y), nil
		}
	}
	return unsupportedBinaryFn[T](opType)
}

// execScalarPowIntGeneric is a O(num of bits) for Pow(base, exp) implementation for integers.
func execScalarPowIntGeneric[T constraints.Integer](base, exp T) T {
	result := T(1)
	for exp > 0 {
		if exp%2 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func floatBinaryFn[T constraints.Float](opType string) func(x, y T) (T, error) {
	switch opType {
	case backends.OpTypeAdd:
		return func(x, y T) (T, error) { return x + y, nil }
	case backends.OpTypeSub:
		return func(x, y T) (T, error) { return x - y, nil }
	case backends.OpTypeMul:
		return func(x, y T) (T, error) { return x * y, nil }
	case backends.OpTypeDiv:
		return func(x, y T) (T, error) { return x / y, nil }
	case backends.OpTypePow:
		return func(x, y T) (T, error) { return T(math.Pow(float64(x), float64(y))), nil }
	}
	return unsupportedBinaryFn[T](opType)
}

func complexBinaryFn[T constraints.Complex](opType string) func(x, y T) (T, error) {
	switch opType {
	case backends.OpTypeAdd:
		return func(x, y T) (T, error) { return x + y, nil }
	case backends.OpTypeSub:
		return func(x, y T) (T, error) { return x - y, nil }
	case backends.OpTypeMul:
		return func(x, y T) (T, error) { return x * y, nil }
	case backends.OpTypeDiv:
		return func(x, y T) (T, error) { return x / y, nil }
	case backends.OpTypePow:
		return func(x, y T) (T, error) { return T(cmplx.Pow(complex128(x), complex128(y))), nil }
	}
	return unsupportedBinaryFn[T](opType)
}

func unsupportedBinaryFn[T any](opType string) func(x, y T) (T, error) {
	return func(_, _ T) (T, error) {
		var zero T
		return zero, errors.Errorf("%q is not a binary operation", opType)
	}
}
