package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// realNumber are the Go types of the non-complex numeric dtypes natively supported by Go.
// Float16 and BFloat16 are handled by converting them to float32, see upcastFloat32.
type realNumber interface {
	constraints.Integer | constraints.Float
}

func isFloat(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}

func isHalfFloat(dtype dtypes.DType) bool {
	return dtype == dtypes.Float16 || dtype == dtypes.BFloat16
}

func isSignedInt(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64:
		return true
	}
	return false
}

func isUnsignedInt(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return true
	}
	return false
}

func isInteger(dtype dtypes.DType) bool { return isSignedInt(dtype) || isUnsignedInt(dtype) }

func isComplex(dtype dtypes.DType) bool {
	return dtype == dtypes.Complex64 || dtype == dtypes.Complex128
}

// isRealNumber returns whether the dtype is an integer or a float.
func isRealNumber(dtype dtypes.DType) bool { return isInteger(dtype) || isFloat(dtype) }

// isNumber returns whether the dtype supports arithmetic.
func isNumber(dtype dtypes.DType) bool { return isRealNumber(dtype) || isComplex(dtype) }

// isAxisDType returns whether the dtype can be used for axes and permutations.
func isAxisDType(dtype dtypes.DType) bool { return dtype == dtypes.Int32 || dtype == dtypes.Int64 }

// withDType returns the shape of t with the dtype replaced.
func withDType(t *tensors.Tensor, dtype dtypes.DType) shapes.Shape {
	shape := t.Shape().Clone()
	shape.DType = dtype
	return shape
}

// upcastFloat32 converts a Float16 or BFloat16 tensor to a new Float32 tensor.
func upcastFloat32(t *tensors.Tensor) *tensors.Tensor {
	output := tensors.FromShape(withDType(t, dtypes.Float32))
	t.ConstFlatData(func(flatAny any) {
		tensors.MutableFlatData(output, func(outFlat []float32) {
			switch flat := flatAny.(type) {
			case []float16.Float16:
				for ii, v := range flat {
					outFlat[ii] = v.Float32()
				}
			case []bfloat16.BFloat16:
				for ii, v := range flat {
					outFlat[ii] = v.Float32()
				}
			}
		})
	})
	return output
}

// downcastHalf converts a Float32 tensor to a new tensor of the given half-precision dtype.
func downcastHalf(t *tensors.Tensor, dtype dtypes.DType) *tensors.Tensor {
	output := tensors.FromShape(withDType(t, dtype))
	tensors.ConstFlatData(t, func(flat []float32) {
		output.MutableFlatData(func(outAny any) {
			switch outFlat := outAny.(type) {
			case []float16.Float16:
				for ii, v := range flat {
					outFlat[ii] = float16.Fromfloat32(v)
				}
			case []bfloat16.BFloat16:
				for ii, v := range flat {
					outFlat[ii] = bfloat16.FromFloat32(v)
				}
			}
		})
	})
	return output
}

// withHalfUpcast wraps a kernel so Float16 and BFloat16 inputs are computed in float32.
// The output is converted back to the original dtype, if the kernel returns a Float32 tensor.
func withHalfUpcast(kernel kernelFn) kernelFn {
	return func(s *Session, op *Operation, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
		halfDType := dtypes.InvalidDType
		upcast := make([]*tensors.Tensor, len(inputs))
		for ii, input := range inputs {
			if isHalfFloat(input.DType()) {
				halfDType = input.DType()
				upcast[ii] = upcastFloat32(input)
				defer upcast[ii].Finalize()
			} else {
				upcast[ii] = input
			}
		}
		if halfDType == dtypes.InvalidDType {
			return kernel(s, op, inputs)
		}
		output, err := kernel(s, op, upcast)
		if err != nil || output.DType() != dtypes.Float32 {
			return output, err
		}
		defer output.Finalize()
		return downcastHalf(output, halfDType), nil
	}
}
