package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/gomlx/lazygraph/pkg/core/graph"
	"github.com/gomlx/lazygraph/pkg/core/graph/graphtest"
	"github.com/gomlx/lazygraph/pkg/graphdef"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `
placeholder "x" { dtype = "int32" }
constant "one" {
  value = 1
  dtype = "int32"
}
op "y" {
  type   = "Add"
  inputs = [placeholder.x, constant.one]
}
run = [op.y]
`

func TestParseFeeds(t *testing.T) {
	d := must.M1(graphdef.Parse([]byte(definition), "cli.hcl"))
	feeds, err := parseFeeds(d, []string{"x=[1, 2]"})
	require.NoError(t, err)
	require.Contains(t, feeds, "x")

	_, err = parseFeeds(d, []string{"x=1", "x=2"})
	require.ErrorContains(t, err, "fed twice")
	_, err = parseFeeds(d, []string{"one=1"})
	require.Error(t, err)

	var f feedsFlag
	require.NoError(t, f.Set("x=1"))
	require.NoError(t, f.Set("y=2"))
	assert.Equal(t, "x=1, y=2", f.String())
}

func TestSummary(t *testing.T) {
	d := must.M1(graphdef.Parse([]byte(definition), "cli.hcl"))
	ctx := graphtest.BuildTestContext(t)
	nodes := must.M1(d.Nodes(ctx))
	feeds := must.M1(parseFeeds(d, []string{"x=[1, 2]"}))
	result := must.M1(graph.NewRunner(ctx).WithFeeds(feeds).RunTensor(nodes))
	defer result.Finalize()
	assert.Equal(t, []int32{2, 3}, result.Value())

	text := summary(d, ctx, nodes, result)
	for _, want := range []string{"cli.hcl", "Operations in graph", "Int32", "[2]", "8 B"} {
		assert.Contains(t, text, want)
	}
}

func TestProgressBar(t *testing.T) {
	var p *progressBar
	p.Finish()

	p = newProgressBar()
	for done := 1; done <= 3; done++ {
		p.Update(done, 3)
	}
	p.Finish()
	require.NotNil(t, p.bar)
}

func TestRun(t *testing.T) {
	d := must.M1(graphdef.Parse([]byte(definition), "cli.hcl"))
	var out bytes.Buffer
	require.NoError(t, run(graphtest.BuildTestContext(t), d, []string{"x=[1, 2]"}, true, false, &out))
	assert.Contains(t, out.String(), "Operations in graph")

	// Errors are returned, not panicked.
	require.ErrorContains(t, run(graphtest.BuildTestContext(t), d, nil, false, false, io.Discard), "missing feed")
	require.ErrorContains(t, run(graphtest.BuildTestContext(t), d, []string{"x=true"}, false, false, io.Discard), "x=true")

	// A definition that fails to compile.
	bad := &graphdef.Definition{
		Declarations: []*graphdef.Declaration{{
			Ref:    graphdef.Ref{Kind: graphdef.KindOp, Name: "bad"},
			OpType: "Abs",
			Attrs:  []graphdef.Attr{{Name: "weird", Value: struct{}{}}},
		}},
		Run: []graphdef.Ref{{Kind: graphdef.KindOp, Name: "bad"}},
	}
	var err error
	require.NotPanics(t, func() { err = run(graphtest.BuildTestContext(t), bad, nil, false, false, io.Discard) })
	require.ErrorContains(t, err, "weird")
}
