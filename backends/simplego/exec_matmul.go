package simplego

import (
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// matMulParams describes the matrix multiplication [m, k] x [k, n] -> [m, n], with the strides to
// access the (possibly transposed) operands.
type matMulParams struct {
	m, k, n                    int
	lhsRowStride, lhsColStride int
	rhsRowStride, rhsColStride int
}

func execMatMul(_ *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	lhs, rhs := inputs[0], inputs[1]
	if lhs.DType() != rhs.DType() {
		return nil, errors.Errorf("operands have different dtypes: %s and %s", lhs.DType(), rhs.DType())
	}
	transposeA := op.boolAttr(backends.AttrTransposeA, false)
	transposeB := op.boolAttr(backends.AttrTransposeB, false)
	dims, err := matMulDims(lhs.Shape().Dimensions, rhs.Shape().Dimensions, transposeA, transposeB)
	if err != nil {
		return nil, err
	}
	p := matMulParams{m: dims[0], n: dims[1]}
	p.k = lhs.Shape().Dimensions[1]
	p.lhsRowStride, p.lhsColStride = lhs.Shape().Dimensions[1], 1
	if transposeA {
		p.k = lhs.Shape().Dimensions[0]
		p.lhsRowStride, p.lhsColStride = 1, lhs.Shape().Dimensions[1]
	}
	p.rhsRowStride, p.rhsColStride = rhs.Shape().Dimensions[1], 1
	if transposeB {
		p.rhsRowStride, p.rhsColStride = 1, rhs.Shape().Dimensions[1]
	}

	output := tensors.FromShape(shapes.Make(lhs.DType(), dims...))
	rhsFlat, outFlat := flatOf(rhs), flatOf(output)
	switch lhsFlat := flatOf(lhs).(type) {
	case []int8:
		matMulGeneric(p, lhsFlat, rhsFlat.([]int8), outFlat.([]int8))
	case []int16:
		matMulGeneric(p, lhsFlat, rhsFlat.([]int16), outFlat.([]int16))
	case []int32:
		matMulGeneric(p, lhsFlat, rhsFlat.([]int32), outFlat.([]int32))
	case []int64:
		matMulGeneric(p, lhsFlat, rhsFlat.([]int64), outFlat.([]int64))
	case []uint8:
		matMulGeneric(p, lhsFlat, rhsFlat.([]uint8), outFlat.([]uint8))
	case []uint16:
		matMulGeneric(p, lhsFlat, rhsFlat.([]uint16), outFlat.([]uint16))
	case []uint32:
		matMulGeneric(p, lhsFlat, rhsFlat.([]uint32), outFlat.([]uint32))
	case []uint64:
		matMulGeneric(p, lhsFlat, rhsFlat.([]uint64), outFlat.([]uint64))
	case []float32:
		matMulGeneric(p, lhsFlat, rhsFlat.([]float32), outFlat.([]float32))
	case []float64:
		matMulGeneric(p, lhsFlat, rhsFlat.([]float64), outFlat.([]float64))
	default:
		output.Finalize()
		return nil, errors.Errorf("dtype %s not supported", lhs.DType())
	}
	return output, nil
}

func matMulGeneric[T realNumber](p matMulParams, lhs, rhs, output []T) {
	for row := range p.m {
		for col := range p.n {
			var sum T
			for ii := range p.k {
				sum += lhs[row*p.lhsRowStride+ii*p.lhsColStride] * rhs[ii*p.rhsRowStride+col*p.rhsColStride]
			}
			output[row*p.n+col] = sum
		}
	}
}
