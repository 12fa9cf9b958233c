// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"sync"
	"testing"

	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/backends/simplego"
	"github.com/gomlx/lazygraph/pkg/core/graph"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// BuildTestBackend returns the backend shared by tests. It sets backends.DefaultConfig to the pure Go backend,
// which can be overwritten by the LAZYGRAPH_BACKEND environment variable.
func BuildTestBackend() backends.Backend {
	backendOnce.Do(func() {
		backends.DefaultConfig = simplego.BackendName
		var err error
		cachedBackend, err = backends.New()
		if err != nil {
			klog.Fatalf("Failed to create test backend: %+v", err)
		}
	})
	return cachedBackend
}

// BuildTestContext returns a new graph.Context on the test backend, with its own empty graph and
// variable registry, so tests don't interfere with each other.
func BuildTestContext(t testing.TB, options ...graph.ContextOption) *graph.Context {
	t.Helper()
	return graph.NewContext(BuildTestBackend(), options...)
}

// RunAndCompare runs the nodes in ctx (see graph.Runner) and compares the value of the last one with want.
//
// delta is the margin of value on the difference of output and want values that are acceptable.
// Values of delta <= 0 means only exact equality is accepted.
func RunAndCompare(t *testing.T, ctx *graph.Context, want any, delta float64, nodes ...any) {
	t.Helper()
	got, err := graph.NewRunner(ctx).RunTensor(nodes...)
	require.NoError(t, err, "failed to run graph")
	defer got.Finalize()
	wantTensor, err := tensors.FromAnyValue(want)
	require.NoError(t, err, "invalid wanted value %#v", want)
	if delta <= 0 {
		require.Truef(t, wantTensor.Equal(got), "got %s, wanted %s", got, wantTensor)
		return
	}
	require.Truef(t, wantTensor.InDelta(got, delta), "got %s, wanted %s (delta=%g)", got, wantTensor, delta)
}
