// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape_Strides(t *testing.T) {
	require.Equal(t, []int{12, 4, 1}, Make(dtypes.Float32, 2, 3, 4).Strides())
	require.Equal(t, []int{1}, Make(dtypes.Float32, 5).Strides())
	require.Equal(t, []int{2, 2, 1}, Make(dtypes.Float32, 3, 1, 2).Strides())
	require.Nil(t, Make(dtypes.Float32).Strides())
}

func TestShape_Iter(t *testing.T) {
	// Scalar: a single empty index.
	var count int
	for flatIdx, indices := range Make(dtypes.Int32).Iter() {
		require.Equal(t, 0, flatIdx)
		require.Empty(t, indices)
		count++
	}
	require.Equal(t, 1, count)

	shape := Make(dtypes.Float64, 3, 1, 2)
	collect := make([][]int, 0, shape.Size())
	var counter int
	for flatIdx, indices := range shape.Iter() {
		collect = append(collect, slices.Clone(indices))
		require.Equal(t, counter, flatIdx)
		counter++
	}
	want := [][]int{
		{0, 0, 0},
		{0, 0, 1},
		{1, 0, 0},
		{1, 0, 1},
		{2, 0, 0},
		{2, 0, 1},
	}
	require.Equal(t, want, collect)

	// Zero-sized shapes yield nothing.
	for range Make(dtypes.Float32, 2, 0).Iter() {
		t.Fatal("zero-sized shape should not iterate")
	}
}
