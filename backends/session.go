package backends

import "github.com/gomlx/lazygraph/pkg/core/tensors"

// Session is an execution context bound to exactly one Graph.
//
// It owns the engine state of the execution, in particular the values of variables, which persist
// across calls to Runner.Run in the same session.
type Session interface {
	// Graph the session is bound to.
	Graph() Graph

	// Runner returns a new runner to execute one step in the session.
	Runner() Runner

	// Close releases the resources of the session. Using the session after it is closed returns errors.
	// Closing it twice is a no-op.
	Close() error
}

// Runner configures one execution step: which values to feed, and which outputs to fetch.
type Runner interface {
	// Feed binds the output with the given name (either "<op_name>" or "<op_name>:<slot>") to the given value.
	Feed(name string, value *tensors.Tensor) Runner

	// Fetch requests the value of the output with the given name (either "<op_name>" or "<op_name>:<slot>").
	Fetch(name string) Runner

	// Run executes the graph, and returns one tensor per fetched output, in order.
	//
	// It blocks until the execution is complete. The returned tensors are owned by the caller.
	Run() ([]*tensors.Tensor, error)
}
