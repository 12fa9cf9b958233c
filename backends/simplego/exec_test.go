package simplego

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// runBinary builds opType(lhs, rhs) with constants and returns the result.
func runBinary(t *testing.T, opType string, attrs map[string]backends.Attr, lhs, rhs any) (any, error) {
	t.Helper()
	g := backend.NewGraph("")
	op := addOp(t, g, opType, "result", attrs, addConst(t, g, "lhs", lhs), addConst(t, g, "rhs", rhs))
	return runOnce(g, nil, op.Name())
}

func runUnary(t *testing.T, opType string, attrs map[string]backends.Attr, x any) (any, error) {
	t.Helper()
	g := backend.NewGraph("")
	op := addOp(t, g, opType, "result", attrs, addConst(t, g, "x", x))
	return runOnce(g, nil, op.Name())
}

func TestExecBinary(t *testing.T) {
	testCases := []struct {
		name     string
		opType   string
		lhs, rhs any
		want     any
	}{
		{"add float32", backends.OpTypeAdd, []float32{1, 2}, []float32{10, 20}, []float32{11, 22}},
		{"sub int32", backends.OpTypeSub, []int32{1, 2}, []int32{10, 20}, []int32{-9, -18}},
		{"mul float64 scalar broadcast", backends.OpTypeMul, [][]float64{{1, 2}, {3, 4}}, 2.0, [][]float64{{2, 4}, {6, 8}}},
		{"div int64 truncates", backends.OpTypeDiv, []int64{7, -7}, []int64{2, 2}, []int64{3, -3}},
		{"div float32", backends.OpTypeDiv, float32(1), float32(4), float32(0.25)},
		{"pow int32", backends.OpTypePow, []int32{2, 3, 5}, []int32{10, 3, 0}, []int32{1024, 27, 1}},
		{"pow float64", backends.OpTypePow, 4.0, 0.5, 2.0},
		{"add uint8 wraps", backends.OpTypeAdd, uint8(250), uint8(10), uint8(4)},
		{"add complex64", backends.OpTypeAdd, complex64(1 + 2i), complex64(3 - 1i), complex64(4 + 1i)},
		{"row and column broadcast", backends.OpTypeAdd, [][]int32{{1}, {2}}, []int32{10, 20, 30},
			[][]int32{{11, 21, 31}, {12, 22, 32}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := runBinary(t, tc.opType, nil, tc.lhs, tc.rhs)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("integer division by zero", func(t *testing.T) {
		_, err := runBinary(t, backends.OpTypeDiv, nil, []int32{1, 2}, []int32{1, 0})
		require.ErrorContains(t, err, "division by zero")
	})
	t.Run("negative integer power", func(t *testing.T) {
		_, err := runBinary(t, backends.OpTypePow, nil, int64(2), int64(-1))
		require.ErrorContains(t, err, "negative integer powers")
	})
	t.Run("float16", func(t *testing.T) {
		got, err := runBinary(t, backends.OpTypeAdd, nil,
			[]float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(2.5)},
			float16.Fromfloat32(0.5))
		require.NoError(t, err)
		require.Equal(t, []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(3)}, got)
	})
}

func TestExecMatMul(t *testing.T) {
	a := [][]float32{{1, 2, 3}, {4, 5, 6}}
	b := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	got, err := runBinary(t, backends.OpTypeMatMul, nil, a, b)
	require.NoError(t, err)
	require.Equal(t, [][]float32{{4, 5}, {10, 11}}, got)

	// a^T x a^T^T = a^T x a
	got, err = runBinary(t, backends.OpTypeMatMul, map[string]backends.Attr{backends.AttrTransposeA: backends.BoolAttr(true)},
		a, a)
	require.NoError(t, err)
	require.Equal(t, [][]float32{{17, 22, 27}, {22, 29, 36}, {27, 36, 45}}, got)

	// a x a^T
	got, err = runBinary(t, backends.OpTypeMatMul, map[string]backends.Attr{backends.AttrTransposeB: backends.BoolAttr(true)},
		a, a)
	require.NoError(t, err)
	require.Equal(t, [][]float32{{14, 32}, {32, 77}}, got)

	got, err = runBinary(t, backends.OpTypeMatMul, nil, [][]int64{{2}}, [][]int64{{3, 4}})
	require.NoError(t, err)
	require.Equal(t, [][]int64{{6, 8}}, got)
}

func TestExecReduce(t *testing.T) {
	x := [][]float64{{1, 2, 3}, {4, 5, 6}}
	keepDims := map[string]backends.Attr{backends.AttrKeepDims: backends.BoolAttr(true)}
	testCases := []struct {
		name   string
		opType string
		attrs  map[string]backends.Attr
		axis   any
		want   any
	}{
		{"sum axis 0", backends.OpTypeSum, nil, int32(0), []float64{5, 7, 9}},
		{"sum axis -1", backends.OpTypeSum, nil, int64(-1), []float64{6, 15}},
		{"sum all axes", backends.OpTypeSum, nil, []int32{0, 1}, 21.0},
		{"sum keep dims", backends.OpTypeSum, keepDims, int32(1), [][]float64{{6}, {15}}},
		{"mean axis 0", backends.OpTypeMean, nil, int32(0), []float64{2.5, 3.5, 4.5}},
		{"mean all", backends.OpTypeMean, nil, []int64{1, 0}, 3.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := runBinary(t, tc.opType, tc.attrs, x, tc.axis)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	got, err := runBinary(t, backends.OpTypeMean, nil, []int32{1, 2, 4}, int32(0))
	require.NoError(t, err)
	require.Equal(t, int32(2), got, "integer mean truncates")

	g := backend.NewGraph("")
	_, err = tryOp(g, backends.OpTypeSum, "s", nil, addConst(t, g, "x", x), addConst(t, g, "axis", int32(2)))
	require.ErrorContains(t, err, "out-of-bounds")
}

func TestExecTranspose(t *testing.T) {
	got, err := runBinary(t, backends.OpTypeTranspose, nil, [][]int32{{1, 2, 3}, {4, 5, 6}}, []int32{1, 0})
	require.NoError(t, err)
	require.Equal(t, [][]int32{{1, 4}, {2, 5}, {3, 6}}, got)

	got, err = runBinary(t, backends.OpTypeTranspose, nil, [][][]bool{{{true, false}}}, []int64{2, 0, 1})
	require.NoError(t, err)
	require.Equal(t, [][][]bool{{{true}}, {{false}}}, got)

	g := backend.NewGraph("")
	_, err = tryOp(g, backends.OpTypeTranspose, "t", nil, addConst(t, g, "x", []float32{1}), addConst(t, g, "perm", []int32{1, 0}))
	require.ErrorContains(t, err, "rank 1")
}

func TestExecUnary(t *testing.T) {
	got, err := runUnary(t, backends.OpTypeTanh, nil, []float64{0, 1})
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{0, math.Tanh(1)}, got, 1e-9)

	got, err = runUnary(t, backends.OpTypeSigmoid, nil, []float32{0, 2})
	require.NoError(t, err)
	require.InDeltaSlice(t, []float32{0.5, float32(1 / (1 + math.Exp(-2)))}, got, 1e-6)

	got, err = runUnary(t, backends.OpTypeAbs, nil, []int32{-3, 0, 4})
	require.NoError(t, err)
	require.Equal(t, []int32{3, 0, 4}, got)

	got, err = runUnary(t, backends.OpTypeAbs, nil, []uint16{3})
	require.NoError(t, err)
	require.Equal(t, []uint16{3}, got)

	got, err = runUnary(t, backends.OpTypeAbs, nil, -2.5)
	require.NoError(t, err)
	require.Equal(t, 2.5, got)

	got, err = runUnary(t, backends.OpTypeSize, nil, [][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	require.Equal(t, int32(6), got)

	got, err = runUnary(t, backends.OpTypeSize, map[string]backends.Attr{backends.AttrOutType: backends.DTypeAttr(dtypes.Int64)}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	got, err = runUnary(t, backends.OpTypeTanh, nil, float16.Fromfloat32(0))
	require.NoError(t, err)
	require.Equal(t, float16.Fromfloat32(0), got)
}

func TestCloneTensor(t *testing.T) {
	original := tensors.MustFromAnyValue([]float32{1, 2})
	clone := cloneTensor(original)
	original.Finalize()
	require.Equal(t, []float32{1, 2}, clone.Value())
}
