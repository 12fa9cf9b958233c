/*
 *	Copyright 2023 Jan Pfeifer
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

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.True(t, tensor.Ok())
	require.Equal(t, dtypes.Float32, tensor.DType())
	require.Equal(t, 2, tensor.Rank())
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, [][]float32{{0, 0, 0}, {0, 0, 0}}, tensor.Value())
	require.Panics(t, func() { _ = FromShape(shapes.Invalid()) })
}

func TestFromAnyValue(t *testing.T) {
	testCases := []struct {
		name  string
		value any
		shape shapes.Shape
		want  any
	}{
		{"float64 scalar", 2.5, shapes.Make(dtypes.Float64), 2.5},
		{"float32 vector", []float32{1, 2, 3}, shapes.Make(dtypes.Float32, 3), []float32{1, 2, 3}},
		{"int32 matrix", [][]int32{{1, 2}, {3, 4}, {5, 6}}, shapes.Make(dtypes.Int32, 3, 2), [][]int32{{1, 2}, {3, 4}, {5, 6}}},
		{"bool", true, shapes.Make(dtypes.Bool), true},
		{"int becomes int64", 7, shapes.Make(dtypes.Int64), int64(7)},
		{"int slice becomes int64", []int{1, 2}, shapes.Make(dtypes.Int64, 2), []int64{1, 2}},
		{"rank 3", [][][]uint8{{{1}, {2}}}, shapes.Make(dtypes.Uint8, 1, 2, 1), [][][]uint8{{{1}, {2}}}},
		{"complex", []complex64{1 + 2i}, shapes.Make(dtypes.Complex64, 1), []complex64{1 + 2i}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tensor, err := FromAnyValue(tc.value)
			require.NoError(t, err)
			require.Truef(t, tc.shape.Equal(tensor.Shape()), "got shape %s, wanted %s", tensor.Shape(), tc.shape)
			require.Equal(t, tc.want, tensor.Value())
		})
	}

	t.Run("float16", func(t *testing.T) {
		tensor, err := FromAnyValue([]float16.Float16{float16.Fromfloat32(1.5)})
		require.NoError(t, err)
		require.Equal(t, dtypes.Float16, tensor.DType())
		require.True(t, tensor.InDelta(MustFromAnyValue([]float16.Float16{float16.Fromfloat32(1.5)}), 0))
	})

	t.Run("tensor passthrough", func(t *testing.T) {
		original := FromScalar(int32(3))
		tensor, err := FromAnyValue(original)
		require.NoError(t, err)
		require.Same(t, original, tensor)
	})
}

func TestFromAnyValueErrors(t *testing.T) {
	_, err := FromAnyValue([][]float32{{1, 2, 3}, {4, 5}})
	require.ErrorContains(t, err, "irregular")

	_, err = FromAnyValue([]float32{})
	require.ErrorContains(t, err, "empty slice")

	_, err = FromAnyValue("not a number")
	require.ErrorContains(t, err, "cannot convert type")

	v := float32(1)
	_, err = FromAnyValue(&v)
	require.ErrorContains(t, err, "Pointer")

	_, err = FromAnyValue(nil)
	require.Error(t, err)

	require.Panics(t, func() { _ = MustFromAnyValue(struct{}{}) })
}

func TestFlatData(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int64{1, 2, 3, 4, 5, 6}, 2, 3)
	require.Equal(t, [][]int64{{1, 2, 3}, {4, 5, 6}}, tensor.Value())
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, CopyFlatData[int64](tensor))

	MutableFlatData(tensor, func(flat []int64) { flat[5] = 60 })
	require.Equal(t, [][]int64{{1, 2, 3}, {4, 5, 60}}, tensor.Value())

	require.Panics(t, func() { ConstFlatData(tensor, func(flat []float32) {}) })
	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]int64{1, 2, 3}, 2, 2) })

	require.Equal(t, float32(3), ToScalar[float32](FromScalar(float32(3))))
	require.Panics(t, func() { _ = ToScalar[int64](tensor) })
}

func TestValueIsACopy(t *testing.T) {
	tensor := MustFromAnyValue([]float64{1, 2})
	value := tensor.Value().([]float64)
	value[0] = 100
	assert.Equal(t, []float64{1, 2}, tensor.Value())
}

func TestEqualAndInDelta(t *testing.T) {
	a := MustFromAnyValue([][]float32{{1, 2}, {3, 4}})
	b := MustFromAnyValue([][]float32{{1, 2}, {3, 4.001}})
	require.False(t, a.Equal(b))
	require.True(t, a.InDelta(b, 0.01))
	require.False(t, a.InDelta(b, 1e-6))
	require.True(t, a.Equal(MustFromAnyValue([][]float32{{1, 2}, {3, 4}})))

	// Different shapes.
	require.False(t, a.Equal(MustFromAnyValue([]float32{1, 2, 3, 4})))
	require.False(t, a.InDelta(MustFromAnyValue([]float64{1, 2, 3, 4}), 1))

	require.True(t, MustFromAnyValue([]int32{1, 5}).InDelta(MustFromAnyValue([]int32{2, 4}), 1))
}

func TestFinalize(t *testing.T) {
	tensor := MustFromAnyValue([]float32{1, 2})
	require.True(t, tensor.Ok())
	tensor.Finalize()
	require.False(t, tensor.Ok())
	require.Panics(t, func() { _ = tensor.Value() })
	require.Equal(t, "Tensor(invalid)", tensor.String())
	tensor.Finalize() // No-op.

	var nilTensor *Tensor
	require.False(t, nilTensor.Ok())
	nilTensor.Finalize()
}

func TestStringAndSummary(t *testing.T) {
	tensor := MustFromAnyValue([]float32{1, 2})
	require.Equal(t, "(Float32)[2]: [1 2]", tensor.String())
	require.Equal(t, "(Float32)[2], 8 B", tensor.Summary())
}
