package simplego

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Session implements backends.Session. It holds the values of the variables.
type Session struct {
	graph *Graph

	// mu serializes Run calls and protects the fields below.
	mu        sync.Mutex
	closed    bool
	variables map[string]*tensors.Tensor
}

var _ backends.Session = &Session{}

func newSession(g *Graph) *Session {
	return &Session{
		graph:     g,
		variables: make(map[string]*tensors.Tensor),
	}
}

// Graph implements backends.Session.
func (s *Session) Graph() backends.Graph { return s.graph }

// Runner implements backends.Session.
func (s *Session) Runner() backends.Runner {
	return &Runner{
		session: s,
		feeds:   make(map[string]*tensors.Tensor),
	}
}

// Close implements backends.Session: it releases the variables values.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, value := range s.variables {
		value.Finalize()
	}
	s.variables = nil
	return nil
}

// NumInitializedVariables returns the number of variables that hold a value in the session.
func (s *Session) NumInitializedVariables() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.variables)
}

// variableKey returns the key used to store the value of a variable in the session.
func variableKey(op *Operation) string {
	sharedName := op.stringAttr(backends.AttrSharedName)
	if sharedName == "" {
		return op.name
	}
	return op.stringAttr(backends.AttrContainer) + "/" + sharedName
}

// Runner implements backends.Runner.
type Runner struct {
	session *Session
	feeds   map[string]*tensors.Tensor // Indexed by operation name.
	fetches []string
	err     error
}

var _ backends.Runner = &Runner{}

// Feed implements backends.Runner.
func (r *Runner) Feed(name string, value *tensors.Tensor) backends.Runner {
	opName, slot, err := backends.ParseOutputName(name)
	if err != nil {
		r.setErr(err)
		return r
	}
	if slot != 0 {
		r.setErr(errors.Errorf("cannot feed %q: operation %q has only one output", name, opName))
		return r
	}
	r.feeds[opName] = value
	return r
}

// Fetch implements backends.Runner.
func (r *Runner) Fetch(name string) backends.Runner {
	r.fetches = append(r.fetches, name)
	return r
}

func (r *Runner) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Run implements backends.Runner.
func (r *Runner) Run() ([]*tensors.Tensor, error) {
	if r.err != nil {
		return nil, r.err
	}
	s := r.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Errorf("session of graph %q is closed", s.graph.name)
	}

	feeds := make(map[*Operation]*tensors.Tensor, len(r.feeds))
	for name, value := range r.feeds {
		op := s.graph.lookup(name)
		if op == nil {
			return nil, errors.Errorf("cannot feed %q: no such operation in graph %q", name, s.graph.name)
		}
		if err := checkFeed(op, value); err != nil {
			return nil, err
		}
		feeds[op] = value
	}
	fetchOps := make([]*Operation, 0, len(r.fetches))
	for _, name := range r.fetches {
		opName, slot, err := backends.ParseOutputName(name)
		if err != nil {
			return nil, err
		}
		op := s.graph.lookup(opName)
		if op == nil {
			return nil, errors.Errorf("cannot fetch %q: no such operation in graph %q", name, s.graph.name)
		}
		if slot >= op.NumOutputs() {
			return nil, errors.Errorf("cannot fetch %q: operation %q has only %d output(s)", name, opName, op.NumOutputs())
		}
		fetchOps = append(fetchOps, op)
	}

	e := &executor{session: s, feeds: feeds, values: make(map[*Operation]*tensors.Tensor)}
	defer e.release()
	results := make([]*tensors.Tensor, 0, len(fetchOps))
	for _, op := range fetchOps {
		value, err := e.evaluate(op)
		if err != nil {
			for _, result := range results {
				result.Finalize()
			}
			return nil, err
		}
		results = append(results, cloneTensor(value))
	}
	return results, nil
}

// checkFeed verifies a fed value is compatible with the output of op.
func checkFeed(op *Operation, value *tensors.Tensor) error {
	if !value.Ok() {
		return errors.Errorf("cannot feed %q: invalid tensor", op.name)
	}
	if value.DType() != op.dtype {
		return errors.Errorf("cannot feed %q: expected dtype %s, got %s", op.name, op.dtype, value.DType())
	}
	if shape, known := op.Shape(); known && !shape.EqualDimensions(value.Shape()) {
		return errors.Errorf("cannot feed %q: expected shape %s, got %s", op.name, shape, value.Shape())
	}
	return nil
}

// executor evaluates operations for one Run call: each operation is executed at most once.
type executor struct {
	session *Session
	feeds   map[*Operation]*tensors.Tensor
	values  map[*Operation]*tensors.Tensor
}

// evaluate op and its dependencies, using an explicit stack.
// The returned tensor is owned by the executor.
func (e *executor) evaluate(target *Operation) (*tensors.Tensor, error) {
	stack := []*Operation{target}
	for len(stack) > 0 {
		op := stack[len(stack)-1]
		if _, done := e.values[op]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		if fed, found := e.feeds[op]; found {
			e.values[op] = cloneTensor(fed)
			stack = stack[:len(stack)-1]
			continue
		}

		// Schedule missing dependencies first.
		pending := false
		for ii, input := range op.inputs {
			if ii == 0 && op.schema.refInput {
				continue
			}
			if _, done := e.values[input]; !done {
				stack = append(stack, input)
				pending = true
			}
		}
		if pending {
			continue
		}

		inputs := make([]*tensors.Tensor, len(op.inputs))
		for ii, input := range op.inputs {
			inputs[ii] = e.values[input]
		}
		value, err := e.execute(op, inputs)
		if err != nil {
			return nil, err
		}
		e.values[op] = value
		stack = stack[:len(stack)-1]
	}
	return e.values[target], nil
}

// execute runs the kernel of op, converting panics to errors.
func (e *executor) execute(op *Operation, inputs []*tensors.Tensor) (value *tensors.Tensor, err error) {
	if klog.V(2).Enabled() {
		klog.Infof("simplego: executing %s %q", op.opType, op.name)
	}
	var kernelErr error
	err = exceptions.TryCatch[error](func() {
		value, kernelErr = op.schema.exec(e.session, op, inputs)
	})
	if err == nil {
		err = kernelErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed executing %s %q", op.opType, op.name)
	}
	return value, nil
}

// release finalizes the intermediary values of the execution.
func (e *executor) release() {
	for _, value := range e.values {
		value.Finalize()
	}
	e.values = nil
}

// cloneTensor returns a deep copy of t.
func cloneTensor(t *tensors.Tensor) *tensors.Tensor {
	output := tensors.FromShape(t.Shape())
	t.ConstFlatData(func(flat any) {
		output.MutableFlatData(func(outFlat any) {
			copyFlat(outFlat, flat)
		})
	})
	return output
}
