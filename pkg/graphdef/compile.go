package graphdef

import (
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/graph"
	"github.com/gomlx/lazygraph/pkg/support/sets"
	"github.com/pkg/errors"
)

// topologicalOrder returns the declarations such that inputs come before the operations that use them.
// It fails if the operations have a cycle.
func (d *Definition) topologicalOrder() ([]*Declaration, error) {
	order := make([]*Declaration, 0, len(d.Declarations))
	done := sets.Make[string](len(d.Declarations))
	visiting := sets.Make[string]()

	type frame struct {
		decl      *Declaration
		nextInput int
	}
	for _, root := range d.Declarations {
		if done.Has(root.Name) {
			continue
		}
		stack := []frame{{decl: root}}
		visiting.Insert(root.Name)
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.nextInput < len(top.decl.Inputs) {
				input := d.byName[top.decl.Inputs[top.nextInput].Name]
				top.nextInput++
				if done.Has(input.Name) {
					continue
				}
				if visiting.Has(input.Name) {
					return nil, errors.Errorf("%s: cycle detected: %s depends on itself", input.Range, input.Ref)
				}
				visiting.Insert(input.Name)
				stack = append(stack, frame{decl: input})
				continue
			}
			visiting.Delete(top.decl.Name)
			done.Insert(top.decl.Name)
			order = append(order, top.decl)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

// Nodes compiles the definition to graph nodes, and returns the nodes listed in "run".
//
// Variables are declared in ctx (see graph.Context.NewVariable) on every call, so each call adds
// new entries to the variable registry.
func (d *Definition) Nodes(ctx *graph.Context) ([]*graph.Node, error) {
	if ctx == nil {
		ctx = graph.Default()
	}
	order, err := d.topologicalOrder()
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]*graph.Node, len(order))
	for _, decl := range order {
		var node *graph.Node
		switch decl.Kind {
		case KindConstant:
			node, err = graph.NewConst(decl.Value, graph.WithName(decl.Name))
		case KindVariable:
			node, err = ctx.NewVariable(decl.Value, graph.WithName(decl.Name))
		case KindPlaceholder:
			options := []graph.OpOption{graph.WithName(decl.Name)}
			if decl.Shape != nil {
				options = append(options, graph.WithShape(decl.Shape...))
			}
			node = graph.Placeholder(decl.DType, options...)
		case KindOp:
			node, err = d.buildOp(decl, nodes)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "%s: failed to compile %s", decl.Range, decl.Ref)
		}
		nodes[decl.Name] = node
	}

	run := make([]*graph.Node, len(d.Run))
	for ii, ref := range d.Run {
		run[ii] = nodes[ref.Name]
	}
	return run, nil
}

func (d *Definition) buildOp(decl *Declaration, nodes map[string]*graph.Node) (*graph.Node, error) {
	profile := graph.Profile{Operation: decl.OpType, Name: decl.Name}
	for _, attr := range decl.Attrs {
		value, err := backends.AttrFromValue(attr.Value)
		if err != nil {
			return nil, errors.WithMessagef(err, "attribute %q", attr.Name)
		}
		profile.SetAttr(attr.Name, value)
	}
	for _, input := range decl.Inputs {
		profile.Inputs = append(profile.Inputs, nodes[input.Name])
	}
	return graph.Build(profile), nil
}

// Run compiles the definition and runs it in ctx with the given feeds. See graph.Runner.
// If ctx is nil, the graph.Default context is used.
func (d *Definition) Run(ctx *graph.Context, feeds graph.Feeds) (any, error) {
	if ctx == nil {
		ctx = graph.Default()
	}
	nodes, err := d.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	return graph.NewRunner(ctx).WithFeeds(feeds).Run(nodes)
}
