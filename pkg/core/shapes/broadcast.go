// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/pkg/errors"
)

// BroadcastDimensions returns the dimensions resulting from broadcasting the given shapes together, following
// the usual numpy rules: shapes are aligned on their last axis, and each pair of dimensions must either be equal
// or one of them must be 1. Missing leading axes are taken as 1.
//
// The DType of the shapes is not checked.
func BroadcastDimensions(shapes ...Shape) ([]int, error) {
	rank := 0
	for _, s := range shapes {
		rank = max(rank, s.Rank())
	}
	dims := make([]int, rank)
	for ii := range dims {
		dims[ii] = 1
	}
	for _, s := range shapes {
		offset := rank - s.Rank()
		for axis, dim := range s.Dimensions {
			outAxis := axis + offset
			switch {
			case dims[outAxis] == dim, dim == 1:
				// Nothing to change.
			case dims[outAxis] == 1:
				dims[outAxis] = dim
			default:
				return nil, errors.Errorf("shapes %v cannot be broadcast together: axis %d has incompatible dimensions %d and %d",
					shapes, outAxis, dims[outAxis], dim)
			}
		}
	}
	return dims, nil
}

// BroadcastStrides returns the strides to use to iterate over a tensor of shape s when it is broadcast
// to the given output dimensions: broadcast axes get a stride of 0.
//
// It assumes the dimensions are compatible, see BroadcastDimensions.
func (s Shape) BroadcastStrides(outputDimensions []int) []int {
	strides := make([]int, len(outputDimensions))
	offset := len(outputDimensions) - s.Rank()
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		if s.Dimensions[axis] != 1 {
			strides[axis+offset] = stride
		}
		stride *= s.Dimensions[axis]
	}
	return strides
}
