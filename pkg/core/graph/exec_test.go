/*
 *	Copyright 2025 Jan Pfeifer
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

package graph_test

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/backends"
	. "github.com/gomlx/lazygraph/pkg/core/graph"
	"github.com/gomlx/lazygraph/pkg/core/graph/graphtest"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// countingBackend wraps a backend and counts the operations fetched, per operation type,
// and the sessions created and closed.
type countingBackend struct {
	backends.Backend

	mu             sync.Mutex
	fetched        map[string]int
	sessions       int
	closedSessions int
	failClose      bool
}

func newCountingBackend() *countingBackend {
	return &countingBackend{Backend: graphtest.BuildTestBackend(), fetched: make(map[string]int)}
}

func (b *countingBackend) NewSession(g backends.Graph) (backends.Session, error) {
	session, err := b.Backend.NewSession(g)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	return &countingSession{Session: session, backend: b}, nil
}

func (b *countingBackend) count(opType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetched[opType]
}

type countingSession struct {
	backends.Session
	backend *countingBackend
}

func (s *countingSession) Runner() backends.Runner {
	return &countingRunner{Runner: s.Session.Runner(), session: s}
}

func (s *countingSession) Close() error {
	err := s.Session.Close()
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.closedSessions++
	if s.backend.failClose {
		return errors.New("close failed")
	}
	return err
}

type countingRunner struct {
	backends.Runner
	session *countingSession
	fetches []string
}

func (r *countingRunner) Feed(name string, value *tensors.Tensor) backends.Runner {
	r.Runner.Feed(name, value)
	return r
}

func (r *countingRunner) Fetch(name string) backends.Runner {
	r.fetches = append(r.fetches, name)
	r.Runner.Fetch(name)
	return r
}

func (r *countingRunner) Run() ([]*tensors.Tensor, error) {
	results, err := r.Runner.Run()
	if err != nil {
		return nil, err
	}
	b := r.session.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range r.fetches {
		opName, _, _ := backends.ParseOutputName(name)
		if op, found := r.session.Graph().Operation(opName); found {
			b.fetched[op.Type()]++
		}
	}
	return results, nil
}

func TestRunScenarios(t *testing.T) {
	backend := newCountingBackend()
	ctx := NewContext(backend)

	got, err := NewRunner(ctx).Run(Const(int64(5)))
	require.NoError(t, err)
	require.Equal(t, int64(5), got)

	v := ctx.Variable(int64(2))
	got, err = NewRunner(ctx).Run(v, Const(int64(3)), Add(v, Const(int64(3))))
	require.NoError(t, err)
	require.Equal(t, int64(5), got)
	require.Equal(t, 1, backend.count(backends.OpTypeAssign), "the initializer must run exactly once per Run")
	require.Equal(t, 2, backend.sessions)
	require.Equal(t, 2, backend.closedSessions)

	// Nested lists of nodes are flattened.
	got, err = NewRunner(ctx).Run([]any{v, []*Node{Const(int64(1))}}, []any{[]any{Mul(v, v)}})
	require.NoError(t, err)
	require.Equal(t, int64(4), got)
	require.Equal(t, 2, backend.count(backends.OpTypeAssign))

	_, err = NewRunner(ctx).Run()
	require.Error(t, err)
	_, err = NewRunner(ctx).Run([]any{})
	require.Error(t, err)
	_, err = NewRunner(ctx).Run("not a node")
	require.ErrorContains(t, err, "string")
	var nilNode *Node
	_, err = NewRunner(ctx).Run(nilNode)
	require.Error(t, err)
}

func TestVariables(t *testing.T) {
	ctx := graphtest.BuildTestContext(t)
	v := ctx.Variable([]float32{1, 2, 3})
	graphtest.RunAndCompare(t, ctx, []float32{1, 2, 3}, 0, v)

	bindings := ctx.Variables()
	require.Len(t, bindings, 1)
	require.Same(t, v, bindings[0].Variable)
	require.Equal(t, backends.OpTypeAssign, bindings[0].Initializer.OpType())
	require.NotEmpty(t, bindings[0].SharedName)

	// Assignments in the sequence are seen by later nodes, but every Run re-initializes.
	graphtest.RunAndCompare(t, ctx, []float32{2, 4, 6}, 0, Assign(v, Mul(v, Const(float32(2)))), v)
	graphtest.RunAndCompare(t, ctx, []float32{1, 2, 3}, 0, v)

	// Named variables.
	w := ctx.Variable(int32(10), WithName("w"))
	require.Equal(t, "w", ctx.Variables()[1].SharedName)
	graphtest.RunAndCompare(t, ctx, int32(13), 0, Assign(w, int32(13)), w)
	graphtest.RunAndCompare(t, ctx, int32(10), 0, w)

	// Registry only grows, until explicitly cleared.
	ctx.Variable(0.0)
	require.Equal(t, 3, ctx.NumVariables())
	ctx.ClearVariables()
	require.Equal(t, 0, ctx.NumVariables())
	_, err := NewRunner(ctx).Run(v)
	require.ErrorContains(t, err, "uninitialized")

	_, err = ctx.NewVariable([][]int32{{1}, {2, 3}})
	require.Error(t, err)
	require.Equal(t, 0, ctx.NumVariables())
	require.Panics(t, func() { ctx.Variable(nil) })
}

func TestReinitialization(t *testing.T) {
	backend := newCountingBackend()
	ctx := NewContext(backend)
	v := ctx.Variable(int64(1))
	ctx.Variable(int64(2))
	for range 2 {
		_, err := NewRunner(ctx).Run(v)
		require.NoError(t, err)
	}
	require.Equal(t, 4, backend.count(backends.OpTypeAssign), "two variables initialized on each of the two runs")

	// Threading one session and skipping initialization keeps the state.
	session, err := backend.NewSession(ctx.Graph())
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close()) }()
	got, err := NewRunner(ctx).WithSession(session).Run(Assign(v, int64(7)))
	require.NoError(t, err)
	require.Equal(t, int64(7), got)
	require.Equal(t, 7, backend.count(backends.OpTypeAssign))
	got, err = NewRunner(ctx).WithSession(session).WithoutInitialization().Run(Add(v, Const(int64(1))))
	require.NoError(t, err)
	require.Equal(t, int64(8), got)
	require.Equal(t, 7, backend.count(backends.OpTypeAssign))
}

func TestFeeds(t *testing.T) {
	ctx := graphtest.BuildTestContext(t)
	x := Placeholder(dtypes.Float64, WithName("x"))
	y := Mul(x, Const(2.0))

	got, err := NewRunner(ctx).WithFeeds(Feeds{"x": 21.0}).Run(y)
	require.NoError(t, err)
	require.Equal(t, 42.0, got)

	// Runs again in the same graph: "x" is rebuilt as "x_1", but the feed still reaches it.
	got, err = NewRunner(ctx).WithFeeds(Feeds{"x": []float64{1, 2}}).Run(y)
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4}, got)
	_, found := ctx.Graph().Operation("x_1")
	require.True(t, found)

	// Tensors can be fed directly, and are not modified.
	feed := tensors.FromScalar(0.5)
	got, err = NewRunner(ctx).WithFeeds(Feeds{"x:0": feed}).Run(y)
	require.NoError(t, err)
	require.Equal(t, 1.0, got)
	require.Equal(t, 0.5, feed.Value())

	// Missing feed.
	_, err = NewRunner(ctx).Run(y)
	require.ErrorContains(t, err, "missing feed")

	// Feeds only apply to the last node.
	_, err = NewRunner(ctx).WithFeeds(Feeds{"x": 1.0}).Run(y, Const(1.0))
	require.ErrorContains(t, err, "missing feed")

	// Feed errors: wrong dtype, unknown name, value that can't be encoded.
	_, err = NewRunner(ctx).WithFeeds(Feeds{"x": int32(1)}).Run(y)
	require.ErrorContains(t, err, "dtype")
	_, err = NewRunner(ctx).WithFeeds(Feeds{"x": 1.0, "nowhere": 1.0}).Run(y)
	require.ErrorContains(t, err, "nowhere")
	_, err = NewRunner(ctx).WithFeeds(Feeds{"x": struct{}{}}).Run(y)
	require.ErrorContains(t, err, "encode feed")
}

func TestRunOne(t *testing.T) {
	ctx := graphtest.BuildTestContext(t)
	session, err := ctx.Backend().NewSession(ctx.Graph())
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close()) }()

	x := Placeholder(dtypes.Int32, WithName("x"), WithShape(2))
	result, err := RunOne(ctx, session, Add(x, Const(int32(1))), Feeds{"x": []int32{1, 2}})
	require.NoError(t, err)
	require.Equal(t, []int32{2, 3}, result.Value())
	result.Finalize()

	_, err = RunOne(ctx, session, Add(x, Const(int32(1))), Feeds{"x": []int32{1, 2, 3}})
	require.ErrorContains(t, err, "shape")

	require.Panics(t, func() { MustRunOne(ctx, session, Add(Const(int32(1)), Const(1.0)), nil) })
}

func TestRunnerOptions(t *testing.T) {
	backend := newCountingBackend()
	ctx := NewContext(backend)

	var progress [][2]int
	got, err := NewRunner(ctx).
		WithProgress(func(done, total int) { progress = append(progress, [2]int{done, total}) }).
		Run(Const(1), Const(2), Const(3))
	require.NoError(t, err)
	require.Equal(t, int64(3), got)
	require.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)

	// Explicit graph.
	g := backend.NewGraph("explicit")
	got, err = NewRunner(ctx).WithGraph(g).Run(Const(int32(1)))
	require.NoError(t, err)
	require.Equal(t, int32(1), got)
	require.Len(t, g.Operations(), 1)

	// Failures in the sequence abort the run.
	got, err = NewRunner(ctx).Run(Div(Const(int32(1)), Const(int32(0))), Const(int32(2)))
	require.ErrorContains(t, err, "#0")
	require.Nil(t, got)

	// Errors closing the session are reported.
	backend.failClose = true
	_, err = NewRunner(ctx).Run(Const(int32(1)))
	require.ErrorContains(t, err, "close failed")
	backend.failClose = false
	require.Equal(t, backend.sessions, backend.closedSessions)

	require.Panics(t, func() { NewRunner(ctx).MustRun(Placeholder(dtypes.Int32)) })
}

func TestVariableSharedNames(t *testing.T) {
	ctx := graphtest.BuildTestContext(t)

	// Same requested name: distinct variables, each with its own value.
	a := ctx.Variable(int64(1), WithName("v"))
	b := ctx.Variable(int64(100), WithName("v"))
	graphtest.RunAndCompare(t, ctx, int64(101), 0, Add(a, b))
	require.Equal(t, "v", ctx.Variables()[0].SharedName)
	require.Equal(t, "v_1", ctx.Variables()[1].SharedName)

	// A requested name equal to an automatically allocated one.
	c := ctx.Variable(int64(5))
	autoName := ctx.Variables()[2].SharedName
	d := ctx.Variable(int64(7), WithName(autoName))
	require.NotEqual(t, autoName, ctx.Variables()[3].SharedName)
	graphtest.RunAndCompare(t, ctx, int64(12), 0, Add(c, d))

	// Only an explicit "shared_name" shares the state: the last initializer wins.
	e := ctx.Variable(int64(3), WithAttr(backends.AttrSharedName, "shared"))
	f := ctx.Variable(int64(4), WithAttr(backends.AttrSharedName, "shared"))
	require.Equal(t, "shared", ctx.Variables()[4].SharedName)
	require.Equal(t, "shared", ctx.Variables()[5].SharedName)
	graphtest.RunAndCompare(t, ctx, int64(8), 0, Add(e, f))

	// Cleared names are not reused.
	ctx.ClearVariables()
	ctx.Variable(int64(0), WithName("v"))
	require.Equal(t, "v_2", ctx.Variables()[0].SharedName)
}

func TestFeedsWithRepeatedNames(t *testing.T) {
	ctx := graphtest.BuildTestContext(t)
	x1 := Placeholder(dtypes.Float64, WithName("x"))
	x2 := Placeholder(dtypes.Float64, WithName("x"))
	sum := Add(x1, x2)

	// Built as "x" and "x_1" in a new graph: the literal names are fed.
	_, err := NewRunner(ctx).WithFeeds(Feeds{"x": 2.0}).Run(sum)
	require.ErrorContains(t, err, "x_1")
	otherCtx := graphtest.BuildTestContext(t)
	got, err := NewRunner(otherCtx).WithFeeds(Feeds{"x": 2.0, "x_1": 3.0}).Run(sum)
	require.NoError(t, err)
	require.Equal(t, 5.0, got)

	// Rebuilt as "x_2" and "x_3": "x" was not built in this run, and is requested by both.
	_, err = NewRunner(ctx).WithFeeds(Feeds{"x": 2.0, "x_1": 3.0}).Run(sum)
	require.ErrorContains(t, err, "ambiguous")

	// A single node requesting the name still gets the feed, also with an explicit slot.
	got, err = NewRunner(ctx).WithFeeds(Feeds{"x:0": 4.0}).Run(Mul(x1, Const(2.0)))
	require.NoError(t, err)
	require.Equal(t, 8.0, got)
}
