package simplego

import (
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// reduceParams maps each input position to the output position it is accumulated to.
type reduceParams struct {
	inputShape shapes.Shape

	// outputStrides has one stride per input axis: 0 for reduced axes.
	outputStrides []int

	// count is the number of input elements accumulated into each output element.
	count int
	mean  bool
}

// execReduce implements Sum and Mean.
func execReduce(_ *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	x := inputs[0]
	axes, err := axesFromTensor(inputs[1])
	if err != nil {
		return nil, err
	}
	reduced, outputDims, err := reduceDims(x.Shape().Dimensions, axes, op.boolAttr(backends.AttrKeepDims, false))
	if err != nil {
		return nil, err
	}

	p := reduceParams{
		inputShape:    x.Shape(),
		outputStrides: make([]int, x.Rank()),
		count:         1,
		mean:          op.opType == backends.OpTypeMean,
	}
	stride := 1
	for axis := x.Rank() - 1; axis >= 0; axis-- {
		dim := x.Shape().Dimensions[axis]
		if reduced[axis] {
			p.count *= dim
			continue
		}
		p.outputStrides[axis] = stride
		stride *= dim
	}
	if p.mean && p.count == 0 && isInteger(x.DType()) {
		return nil, errors.New("mean over zero elements is undefined for integers")
	}

	output := tensors.FromShape(shapes.Make(x.DType(), outputDims...))
	outFlat := flatOf(output)
	switch flat := flatOf(x).(type) {
	case []int8:
		reduceGeneric(p, flat, outFlat.([]int8))
	case []int16:
		reduceGeneric(p, flat, outFlat.([]int16))
	case []int32:
		reduceGeneric(p, flat, outFlat.([]int32))
	case []int64:
		reduceGeneric(p, flat, outFlat.([]int64))
	case []uint8:
		reduceGeneric(p, flat, outFlat.([]uint8))
	case []uint16:
		reduceGeneric(p, flat, outFlat.([]uint16))
	case []uint32:
		reduceGeneric(p, flat, outFlat.([]uint32))
	case []uint64:
		reduceGeneric(p, flat, outFlat.([]uint64))
	case []float32:
		reduceGeneric(p, flat, outFlat.([]float32))
	case []float64:
		reduceGeneric(p, flat, outFlat.([]float64))
	default:
		output.Finalize()
		return nil, errors.Errorf("dtype %s not supported", x.DType())
	}
	return output, nil
}

func reduceGeneric[T realNumber](p reduceParams, input, output []T) {
	for inIdx, indices := range p.inputShape.Iter() {
		outIdx := 0
		for axis, idx := range indices {
			outIdx += idx * p.outputStrides[axis]
		}
		output[outIdx] += input[inIdx]
	}
	if p.mean {
		count := T(p.count)
		for ii := range output {
			output[ii] /= count
		}
	}
}
