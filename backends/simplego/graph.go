package simplego

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Graph implements backends.Graph.
type Graph struct {
	backend *Backend
	name    string

	mu     sync.RWMutex
	ops    []*Operation
	byName map[string]*Operation
}

var _ backends.Graph = &Graph{}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// NewOperation implements backends.Graph.
func (g *Graph) NewOperation(opType, name string) backends.OperationBuilder {
	return &opBuilder{
		graph:  g,
		opType: opType,
		name:   name,
		attrs:  make(map[string]backends.Attr),
	}
}

// Operation implements backends.Graph.
func (g *Graph) Operation(name string) (backends.Operation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	op, found := g.byName[name]
	if !found {
		return nil, false
	}
	return op, true
}

// Operations implements backends.Graph.
func (g *Graph) Operations() []backends.Operation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ops := make([]backends.Operation, len(g.ops))
	for ii, op := range g.ops {
		ops[ii] = op
	}
	return ops
}

// NumOperations returns the number of operations in the graph.
func (g *Graph) NumOperations() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.ops)
}

// lookup returns the *Operation with the given name, or nil.
func (g *Graph) lookup(name string) *Operation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byName[name]
}

// Operation implements backends.Operation.
//
// All operations in this engine have exactly one output, whose dtype is always known
// when the operation is built. The dimensions may be unknown (e.g.: Placeholder without a shape).
type Operation struct {
	graph  *Graph
	name   string
	opType string
	schema *opSchema
	attrs  map[string]backends.Attr
	inputs []*Operation

	dtype      dtypes.DType
	dims       []int
	shapeKnown bool
}

var _ backends.Operation = &Operation{}

// Name implements backends.Operation.
func (op *Operation) Name() string { return op.name }

// Type implements backends.Operation.
func (op *Operation) Type() string { return op.opType }

// NumOutputs implements backends.Operation. It's always 1 for this engine.
func (op *Operation) NumOutputs() int { return 1 }

// Output implements backends.Operation.
func (op *Operation) Output(slot int) backends.Output {
	return backends.Output{Op: op, Index: slot}
}

// Inputs implements backends.Operation.
func (op *Operation) Inputs() []backends.Output {
	outputs := make([]backends.Output, len(op.inputs))
	for ii, input := range op.inputs {
		outputs[ii] = input.Output(0)
	}
	return outputs
}

// Attrs implements backends.Operation.
func (op *Operation) Attrs() map[string]backends.Attr { return op.attrs }

// DType of the output of the operation.
func (op *Operation) DType() dtypes.DType { return op.dtype }

// Shape of the output of the operation, and whether its dimensions are known at build time.
func (op *Operation) Shape() (shape shapes.Shape, known bool) {
	return shapes.Make(op.dtype, op.dims...), op.shapeKnown
}

// opBuilder implements backends.OperationBuilder.
type opBuilder struct {
	graph    *Graph
	opType   string
	name     string
	attrs    map[string]backends.Attr
	inputs   []backends.Output
	finished bool
}

// SetAttr implements backends.OperationBuilder.
func (b *opBuilder) SetAttr(name string, value backends.Attr) backends.OperationBuilder {
	b.attrs[name] = value
	return b
}

// AddInput implements backends.OperationBuilder.
func (b *opBuilder) AddInput(input backends.Output) backends.OperationBuilder {
	b.inputs = append(b.inputs, input)
	return b
}

// Finish implements backends.OperationBuilder: it validates the operation against its schema, infers its
// output dtype and shape, and adds it to the graph.
func (b *opBuilder) Finish() (backends.Operation, error) {
	if b.finished {
		return nil, errors.Errorf("operation %q (%s) already finished", b.name, b.opType)
	}
	b.finished = true
	op, err := b.validate()
	if err != nil {
		return nil, errors.WithMessagef(err, "graph %q rejected operation %q (%s)", b.graph.name, b.name, b.opType)
	}

	g := b.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, found := g.byName[op.name]; found {
		return nil, errors.Errorf("graph %q rejected operation %q (%s): an operation with the same name already exists",
			g.name, op.name, op.opType)
	}
	g.ops = append(g.ops, op)
	g.byName[op.name] = op
	if klog.V(2).Enabled() {
		shape, known := op.Shape()
		klog.Infof("simplego: graph %q added %s %q: shape=%s (known=%v)", g.name, op.opType, op.name, shape, known)
	}
	return op, nil
}

func (b *opBuilder) validate() (*Operation, error) {
	if b.name == "" {
		return nil, errors.New("operation name cannot be empty")
	}
	schema, found := opSchemas[b.opType]
	if !found {
		return nil, errors.Errorf("unknown operation type %q", b.opType)
	}
	op := &Operation{
		graph:  b.graph,
		name:   b.name,
		opType: b.opType,
		schema: schema,
		attrs:  maps.Clone(b.attrs),
	}

	// Inputs.
	if len(b.inputs) != schema.numInputs {
		return nil, errors.Errorf("expected %d inputs, got %d", schema.numInputs, len(b.inputs))
	}
	op.inputs = make([]*Operation, len(b.inputs))
	for ii, input := range b.inputs {
		inputOp, ok := input.Op.(*Operation)
		if !ok || inputOp.graph != b.graph {
			return nil, errors.Errorf("input #%d (%s) doesn't belong to graph %q", ii, input, b.graph.name)
		}
		if input.Index < 0 || input.Index >= inputOp.NumOutputs() {
			return nil, errors.Errorf("input #%d refers to invalid output slot %d of %q", ii, input.Index, inputOp.name)
		}
		op.inputs[ii] = inputOp
	}

	// Attributes.
	for _, attrName := range slices.Sorted(maps.Keys(b.attrs)) {
		spec, found := schema.attrs[attrName]
		if !found {
			return nil, errors.Errorf("unknown attribute %q", attrName)
		}
		if kind := b.attrs[attrName].Kind(); kind != spec.kind {
			return nil, errors.Errorf("attribute %q must be of kind %s, got %s", attrName, spec.kind, kind)
		}
	}
	for _, attrName := range slices.Sorted(maps.Keys(schema.attrs)) {
		if _, found := b.attrs[attrName]; !found && schema.attrs[attrName].required {
			return nil, errors.Errorf("missing required attribute %q", attrName)
		}
	}

	if err := schema.infer(op); err != nil {
		return nil, err
	}
	return op, nil
}
