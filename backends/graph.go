package backends

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Graph is a mutable collection of named operations, owned by a Backend.
//
// Operations are only ever added: there is no way to remove or modify an operation once OperationBuilder.Finish
// returns it. Implementations must be safe for concurrent use.
type Graph interface {
	// Name of the graph.
	Name() string

	// NewOperation opens a builder for an operation of the given type and name.
	// Nothing is added to the graph until OperationBuilder.Finish is called.
	NewOperation(opType, name string) OperationBuilder

	// Operation returns the operation with the given name, if it exists.
	Operation(name string) (Operation, bool)

	// Operations returns all operations in the graph, in creation order.
	Operations() []Operation
}

// OperationBuilder accumulates the attributes and inputs of an operation before it is added to the graph.
//
// The builder doesn't validate anything until Finish: that's where the engine checks the operation type,
// the attributes against the operation schema and the inputs, and returns an error if any is wrong.
type OperationBuilder interface {
	// SetAttr sets (or overwrites) the attribute with the given name.
	SetAttr(name string, value Attr) OperationBuilder

	// AddInput appends an input to the operation. Order matters.
	AddInput(input Output) OperationBuilder

	// Finish validates the operation and adds it to the graph.
	// The builder cannot be used after Finish is called.
	Finish() (Operation, error)
}

// Operation is a finished node in a Graph.
type Operation interface {
	// Name is unique within the graph.
	Name() string

	// Type of the operation, e.g.: "Add".
	Type() string

	// NumOutputs returns the number of outputs of the operation.
	NumOutputs() int

	// Output returns a reference to the output at the given slot.
	Output(slot int) Output

	// Inputs returns the inputs the operation was built with, in order.
	Inputs() []Output

	// Attrs returns the attributes of the operation. The returned map should not be modified.
	Attrs() map[string]Attr
}

// Output references one of the output slots of an operation.
type Output struct {
	Op    Operation
	Index int
}

// Ok returns whether the Output refers to an operation.
func (o Output) Ok() bool { return o.Op != nil }

// Name returns the output name in the format "<op_name>:<slot>".
func (o Output) Name() string {
	if o.Op == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%d", o.Op.Name(), o.Index)
}

// String implements fmt.Stringer.
func (o Output) String() string { return o.Name() }

// ParseOutputName splits a name in the format "<op_name>" or "<op_name>:<slot>" into the operation name and slot.
// If no slot is given, it defaults to 0.
func ParseOutputName(name string) (opName string, slot int, err error) {
	idx := strings.LastIndex(name, ":")
	if idx == -1 {
		return name, 0, nil
	}
	slot, err = strconv.Atoi(name[idx+1:])
	if err != nil || slot < 0 {
		return "", 0, errors.Errorf("invalid output name %q: expected \"<op_name>:<slot>\"", name)
	}
	return name[:idx], slot, nil
}
