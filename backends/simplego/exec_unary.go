package simplego

import (
	"math"

	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

func execUnary(_ *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	x := inputs[0]
	output := tensors.FromShape(x.Shape())
	var err error
	outFlat := flatOf(output)
	switch op.opType {
	case backends.OpTypeTanh, backends.OpTypeSigmoid:
		switch flat := flatOf(x).(type) {
		case []float32:
			unaryLoop(flat, outFlat.([]float32), floatUnaryFn[float32](op.opType))
		case []float64:
			unaryLoop(flat, outFlat.([]float64), floatUnaryFn[float64](op.opType))
		default:
			err = errors.Errorf("dtype %s not supported", x.DType())
		}
	case backends.OpTypeAbs:
		switch flat := flatOf(x).(type) {
		case []int8:
			unaryLoop(flat, outFlat.([]int8), absFn[int8])
		case []int16:
			unaryLoop(flat, outFlat.([]int16), absFn[int16])
		case []int32:
			unaryLoop(flat, outFlat.([]int32), absFn[int32])
		case []int64:
			unaryLoop(flat, outFlat.([]int64), absFn[int64])
		case []uint8, []uint16, []uint32, []uint64:
			copyFlat(outFlat, flat)
		case []float32:
			unaryLoop(flat, outFlat.([]float32), absFn[float32])
		case []float64:
			unaryLoop(flat, outFlat.([]float64), absFn[float64])
		default:
			err = errors.Errorf("dtype %s not supported", x.DType())
		}
	default:
		err = errors.Errorf("%q is not a unary operation", op.opType)
	}
	if err != nil {
		output.Finalize()
		return nil, err
	}
	return output, nil
}

func unaryLoop[T any](input, output []T, fn func(x T) T) {
	for ii, x := range input {
		output[ii] = fn(x)
	}
}

func absFn[T constraints.Signed | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

func floatUnaryFn[T constraints.Float](opType string) func(x T) T {
	if opType == backends.OpTypeTanh {
		return func(x T) T { return T(math.Tanh(float64(x))) }
	}
	return func(x T) T { return T(1 / (1 + math.Exp(-float64(x)))) }
}
