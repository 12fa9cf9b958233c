package graphdef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/pkg/core/graph"
	"github.com/gomlx/lazygraph/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

const example = `
constant "a" {
  value = [[1, 2], [3, 4]]
  dtype = "float32"
}

placeholder "x" {
  dtype = "float32"
  shape = [2, 2]
}

variable "w" {
  value = 0.5
  dtype = "float32"
}

op "y" {
  type   = "MatMul"
  inputs = [constant.a, placeholder.x]
  attrs  = { transpose_b = true }
}

op "z" {
  type   = "Mul"
  inputs = [op.y, variable.w]
}

run = [op.z]
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(example), "example.hcl")
	require.NoError(t, err)
	require.Len(t, d.Declarations, 5)

	// Grouped by kind, in declaration order.
	var names []string
	for _, decl := range d.Declarations {
		names = append(names, decl.Ref.String())
	}
	assert.Equal(t, []string{"constant.a", "placeholder.x", "variable.w", "op.y", "op.z"}, names)
	assert.Equal(t, []Ref{{KindOp, "z"}}, d.Run)

	a, found := d.Lookup("a")
	require.True(t, found)
	assert.Equal(t, dtypes.Float32, a.Value.DType())
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, a.Value.Value())

	x, _ := d.Lookup("x")
	assert.Equal(t, dtypes.Float32, x.DType)
	assert.Equal(t, []int{2, 2}, x.Shape)
	assert.Equal(t, []*Declaration{x}, d.Placeholders())

	y, _ := d.Lookup("y")
	assert.Equal(t, "MatMul", y.OpType)
	assert.Equal(t, []Attr{{Name: "transpose_b", Value: true}}, y.Attrs)
	assert.Equal(t, []Ref{{KindConstant, "a"}, {KindPlaceholder, "x"}}, y.Inputs)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name, src, errorContains string
	}{
		{"syntax", `constant "a" {`, "failed to parse"},
		{"missing run", `constant "a" { value = 1 }`, "run"},
		{"empty run", `run = []`, "at least one node"},
		{"duplicate", `
constant "a" { value = 1 }
variable "a" { value = 2 }
run = [constant.a]`, "declared twice"},
		{"undeclared", `run = [op.nowhere]`, "undeclared op.nowhere"},
		{"wrong kind", `
constant "a" { value = 1 }
run = [variable.a]`, "undeclared variable.a"},
		{"bad kind", `run = [tensor.a]`, "invalid reference kind"},
		{"cycle", `
op "a" {
  type = "Abs"
  inputs = [op.b]
}
op "b" {
  type = "Abs"
  inputs = [op.a]
}
run = [op.a]`, "cycle"},
		{"bad dtype", `
placeholder "x" { dtype = "float128" }
run = [placeholder.x]`, "float128"},
		{"negative shape", `
placeholder "x" {
  dtype = "int32"
  shape = [-1]
}
run = [placeholder.x]`, "negative"},
		{"irregular", `
constant "a" { value = [[1, 2], [3]] }
run = [constant.a]`, "irregular"},
		{"mixed", `
constant "a" { value = [1, true] }
run = [constant.a]`, "mix"},
		{"string value", `
constant "a" { value = "one" }
run = [constant.a]`, "numbers or bools"},
		{"fraction in int", `
constant "a" {
  value = 1.5
  dtype = "int32"
}
run = [constant.a]`, "invalid value"},
		{"bad attr", `
constant "a" { value = 1 }
op "b" {
  type = "Sum"
  inputs = [constant.a]
  attrs = { keep_dims = ["no"] }
}
run = [op.b]`, "integers"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.src), tc.name+".hcl")
			require.Error(t, err)
			require.ErrorContains(t, err, tc.errorContains)
		})
	}
}

func TestValues(t *testing.T) {
	d, err := Parse([]byte(`
constant "default" { value = [1, 2] }
constant "flag" { value = [[true], [false]] }
constant "i" {
  value = -3
  dtype = "Int64"
}
constant "h" {
  value = 1.5
  dtype = "float16"
}
run = [constant.default]
`), "values.hcl")
	require.NoError(t, err)
	want := map[string]any{
		"default": []float64{1, 2},
		"flag":    [][]bool{{true}, {false}},
		"i":       int64(-3),
		"h":       float16.Fromfloat32(1.5),
	}
	for name, value := range want {
		decl, found := d.Lookup(name)
		require.True(t, found, name)
		assert.Equal(t, value, decl.Value.Value(), name)
	}
}

func TestAttrs(t *testing.T) {
	d, err := Parse([]byte(`
constant "a" { value = [[1, 2]] }
op "s" {
  type = "Sum"
  inputs = [constant.a, constant.a]
  attrs = {
    keep_dims = true
    out_type  = "float32"
    shape     = [1, 2]
    axes      = [0, 1]
    scale     = 0.5
    count     = 3
    label     = "sum"
  }
}
run = [op.s]
`), "attrs.hcl")
	require.NoError(t, err)
	s, _ := d.Lookup("s")
	got := make(map[string]any)
	for _, attr := range s.Attrs {
		got[attr.Name] = attr.Value
	}
	assert.Equal(t, true, got["keep_dims"])
	assert.Equal(t, dtypes.Float32, got["out_type"])
	assert.Equal(t, []int{0, 1}, got["axes"])
	assert.Equal(t, 0.5, got["scale"])
	assert.Equal(t, int64(3), got["count"])
	assert.Equal(t, "sum", got["label"])
	assert.EqualValues(t, []int{1, 2}, got["shape"])
}

func TestParseFeed(t *testing.T) {
	d, err := Parse([]byte(example), "example.hcl")
	require.NoError(t, err)

	name, value, err := d.ParseFeed("x = [[1, 0], [0, 1]]")
	require.NoError(t, err)
	assert.Equal(t, "x", name)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, value.Value())

	for _, assignment := range []string{"x", "=1", "a=1", "nowhere=1", "x=[1,", "x=var.y", "x=\"text\""} {
		_, _, err = d.ParseFeed(assignment)
		assert.Errorf(t, err, "ParseFeed(%q)", assignment)
	}
}

func TestRun(t *testing.T) {
	d, err := Parse([]byte(example), "example.hcl")
	require.NoError(t, err)
	ctx := graphtest.BuildTestContext(t)

	_, feed, err := d.ParseFeed("x=[[1, 0], [0, 1]]")
	require.NoError(t, err)
	got, err := d.Run(ctx, graph.Feeds{"x": feed})
	require.NoError(t, err)
	// a @ x^T * 0.5
	assert.Equal(t, [][]float32{{0.5, 1}, {1.5, 2}}, got)
	assert.Equal(t, 1, ctx.NumVariables())

	// Compiling again in the same context rebuilds the nodes, and the feed still reaches "x".
	got, err = d.Run(ctx, graph.Feeds{"x": [][]float32{{2, 0}, {0, 2}}})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, got)

	_, err = d.Run(ctx, nil)
	require.ErrorContains(t, err, "missing feed")
}

func TestRunSequence(t *testing.T) {
	d, err := Parse([]byte(`
variable "v" {
  value = [1, 2]
  dtype = "int64"
}
constant "two" {
  value = 2
  dtype = "int64"
}
constant "axis" {
  value = 0
  dtype = "int32"
}
op "doubled" {
  type = "Mul"
  inputs = [variable.v, constant.two]
}
op "update" {
  type = "Assign"
  inputs = [variable.v, op.doubled]
}
op "total" {
  type = "Sum"
  inputs = [variable.v, constant.axis]
  attrs = { keep_dims = false }
}
run = [op.update, op.total]
`), "sequence.hcl")
	require.NoError(t, err)
	ctx := graphtest.BuildTestContext(t)

	// The update in the sequence is seen by the result: 2 + 4.
	got, err := d.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)

	// Variables are re-initialized on every run.
	got, err = d.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)

	_, _, err = d.ParseFeed("v=0")
	require.Error(t, err, "variables can't be fed")
}

func TestLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "example.hcl")
	require.NoError(t, os.WriteFile(filename, []byte(example), 0o644))
	d, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, filename, d.Filename)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
}
