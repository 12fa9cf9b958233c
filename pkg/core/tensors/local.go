package tensors

import (
	"fmt"
	"math"
	"math/cmplx"
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype %s not supported", shape, shape.DType)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface(),
	}
}

// FromScalar returns a scalar tensor with the given value.
func FromScalar[T dtypes.Supported](value T) (t *Tensor) {
	t = FromShape(shapes.Make(dtypes.FromGenericsType[T]()))
	t.flat.([]T)[0] = value
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with a copy of the flattened values
// given in data. The data is copied.
//
// It panics if len(data) doesn't match the size implied by dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(len(data)=%d, dimensions=%v): dimensions imply %d elements",
			len(data), dimensions, shape.Size())
	}
	t = FromShape(shape)
	copy(t.flat.([]T), data)
	return
}

// FromAnyValue converts a Go value to a Tensor: it works with the scalar types supported by dtypes, as well as
// with any arbitrary regular multidimensional slice of them.
//
// If value is already a *Tensor, it is returned as is.
//
// Go's `int` is converted to the DType of the corresponding size in the platform, usually Int64. So decoding
// the returned tensor with Value will yield `int64` (or a slice of them), not `int`.
//
// It returns an error if the value can't be represented as a tensor: unsupported type, irregular or empty slices.
func FromAnyValue(value any) (t *Tensor, err error) {
	if valueT, ok := value.(*Tensor); ok {
		return valueT, nil
	}
	if value == nil {
		return nil, errors.New("cannot convert nil to a tensor")
	}
	shape, err := shapeForValue(value)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot create shape from %T", value)
	}
	t = FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	if shape.IsScalar() {
		setConverted(flatV.Index(0), reflect.ValueOf(value))
		return t, nil
	}
	copySlicesRecursively(flatV, reflect.ValueOf(value), shape.Strides())
	return t, nil
}

// MustFromAnyValue is like FromAnyValue, but panics in case of error.
func MustFromAnyValue(value any) *Tensor {
	t, err := FromAnyValue(value)
	if err != nil {
		panic(err)
	}
	return t
}

// setConverted sets to with the value of from, converting the type if needed (e.g. int to int64).
func setConverted(to, from reflect.Value) {
	if from.Type() != to.Type() {
		from = from.Convert(to.Type())
	}
	to.Set(from)
}

// copySlicesRecursively copy values on a multi-dimension slice to a flat data slice
// assuming the strides for each dimension.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		if data.Type() == mdSlice.Type() {
			reflect.Copy(data, mdSlice)
			return
		}
		for ii := range mdSlice.Len() {
			setConverted(data.Index(ii), mdSlice.Index(ii))
		}
		return
	}
	subStrides := strides[1:]
	for ii := range mdSlice.Len() {
		start := ii * strides[0]
		end := (ii + 1) * strides[0]
		copySlicesRecursively(data.Slice(start, end), mdSlice.Index(ii), subStrides)
	}
}

func shapeForValue(v any) (shape shapes.Shape, err error) {
	err = shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Slice:
		t = t.Elem()
		shape.Dimensions = append(shape.Dimensions, v.Len())
		shapePrefix := shape.Clone()
		if v.Len() == 0 {
			return errors.Errorf("value with empty slice not valid for tensor conversion: %s -- "+
				"it's impossible to represent tensors with zero-dimensions generically using Go slices", v.Type())
		}

		// The first element is the reference.
		if err := shapeForValueRecursive(shape, v.Index(0), t); err != nil {
			return err
		}
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := shapePrefix.Clone()
			if err := shapeForValueRecursive(&shapeTest, v.Index(ii), t); err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}
	case reflect.Pointer:
		return errors.Errorf("cannot convert Pointer (%s) to a concrete value for tensors", t)
	default:
		shape.DType = dtypes.FromGoType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %s to a value concrete tensor type (maybe type not supported yet?)", t)
		}
	}
	return nil
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
// It locks the Tensor until accessFn returns.
//
// The slice is owned by the Tensor and should not be changed. See MutableFlatData.
//
// It panics if the tensor is in an invalid state (if it was finalized).
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Changes made to the slice are reflected in the tensor.
//
// It panics if the tensor is in an invalid state (if it was finalized).
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.AssertValid()
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// ConstFlatData is the generics version of Tensor.ConstFlatData.
//
// It panics if T doesn't match the tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	assertDType[T](t, "ConstFlatData")
	t.ConstFlatData(func(anyFlat any) { accessFn(anyFlat.([]T)) })
}

// MutableFlatData is the generics version of Tensor.MutableFlatData.
//
// It panics if T doesn't match the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	assertDType[T](t, "MutableFlatData")
	t.MutableFlatData(func(anyFlat any) { accessFn(anyFlat.([]T)) })
}

func assertDType[T dtypes.Supported](t *Tensor, method string) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("%s[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			method, v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
}

// ToScalar returns the scalar value of the Tensor.
//
// It panics if the tensor is not a scalar or if T doesn't match its DType.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.IsScalar() {
		exceptions.Panicf("ToScalar[%T] requires a scalar tensor, got shape %s", *new(T), t.shape)
	}
	var result T
	ConstFlatData(t, func(flat []T) { result = flat[0] })
	return result
}

// CopyFlatData returns a copy of the flat data of the Tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var result []T
	ConstFlatData(t, func(flat []T) {
		result = make([]T, len(flat))
		copy(result, flat)
	})
	return result
}

// Value returns a copy of the tensor's values as a Go value: a scalar of the Go type corresponding to the DType for
// rank 0 tensors, or a multidimensional slice otherwise. E.g: `[][]float32` for a rank-2 Float32 tensor.
//
// It panics if the tensor was finalized.
func (t *Tensor) Value() any {
	var mdSlice any
	t.ConstFlatData(func(flat any) {
		srcV := reflect.ValueOf(flat)
		if t.shape.IsScalar() {
			mdSlice = srcV.Index(0).Interface()
			return
		}
		flatCopyV := reflect.MakeSlice(srcV.Type(), t.Size(), t.Size())
		reflect.Copy(flatCopyV, srcV)
		mdSlice = convertDataToSlices(flatCopyV, t.shape.Dimensions...).Interface()
	})
	return mdSlice
}

// convertDataToSlices takes data as a flat slice, and creates a multidimensional slices with the given dimensions that
// points to the given data.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	strides := shapes.Make(dtypes.InvalidDType, dimensions...).Strides()
	return createSlicesRecursively(resultT, dataV, dimensions, strides)
}

// createSlicesRecursively recursively creates slices pointing to the flat data, assuming the strides for each dimension.
func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(strides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	for ii := range numElements {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		slice.Index(ii).Set(createSlicesRecursively(resultT.Elem(), subData, dimensions[1:], strides[1:]))
	}
	return slice
}

// Equal checks weather t == otherTensor.
// If they are the same pointer they are considered equal.
// If the shapes are different it returns false.
// If either are invalid (nil) it panics.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			t0V, t1V := reflect.ValueOf(flat0), reflect.ValueOf(flat1)
			for ii := range t0V.Len() {
				if !t0V.Index(ii).Equal(t1V.Index(ii)) {
					equal = false
					return
				}
			}
		})
	})
	return equal
}

// InDelta checks weather Abs(t - otherTensor) <= delta for every element.
// If the shapes are different it returns false.
// If either are invalid (nil) it panics.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	inDelta := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			t0V, t1V := reflect.ValueOf(flat0), reflect.ValueOf(flat1)
			for ii := range t0V.Len() {
				if elementDistance(t0V.Index(ii), t1V.Index(ii)) > delta {
					inDelta = false
					return
				}
			}
		})
	})
	return inDelta
}

// elementDistance returns |a-b| for two values of the same supported dtype.
func elementDistance(a, b reflect.Value) float64 {
	if a.Kind() == reflect.Complex64 || a.Kind() == reflect.Complex128 {
		return cmplx.Abs(a.Complex() - b.Complex())
	}
	diff := math.Abs(elementAsFloat64(a) - elementAsFloat64(b))
	if math.IsNaN(diff) {
		return math.Inf(1)
	}
	return diff
}

// elementAsFloat64 converts a scalar of any supported non-complex dtype to float64.
func elementAsFloat64(v reflect.Value) float64 {
	// Float16 and BFloat16 are uint16 based types: use their own conversion.
	if f, ok := v.Interface().(interface{ Float32() float32 }); ok {
		return float64(f.Float32())
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	}
	exceptions.Panicf("cannot convert %s to float64", v.Type())
	return 0
}

// String implements fmt.Stringer: it pretty-prints the shape and the values.
func (t *Tensor) String() string {
	if !t.Ok() {
		return "Tensor(invalid)"
	}
	return fmt.Sprintf("%s: %v", t.shape, t.Value())
}

// Summary returns a one-line description of the tensor: its shape and memory used.
func (t *Tensor) Summary() string {
	return fmt.Sprintf("%s, %s", t.shape, humanize.Bytes(uint64(t.Memory())))
}
