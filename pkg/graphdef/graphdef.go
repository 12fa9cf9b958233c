// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphdef loads lazy graph definitions written in HCL, and compiles them to graph nodes.
//
// A definition declares named constants, placeholders, variables and operations, and lists the nodes to
// run (the last one is the result):
//
//	constant "a" {
//	  value = [[1, 2], [3, 4]]
//	  dtype = "float32"
//	}
//
//	placeholder "x" {
//	  dtype = "float32"
//	  shape = [2, 2]
//	}
//
//	variable "w" {
//	  value = 0.5
//	  dtype = "float32"
//	}
//
//	op "y" {
//	  type   = "MatMul"
//	  inputs = [constant.a, placeholder.x]
//	  attrs  = { transpose_b = true }
//	}
//
//	op "z" {
//	  type   = "Mul"
//	  inputs = [op.y, variable.w]
//	}
//
//	run = [op.z]
//
// Inputs and run entries are references "<kind>.<name>", where kind is one of constant, placeholder,
// variable or op. Names are unique across all kinds, and are used as operation names: placeholders
// are fed by their name.
//
// Numbers default to dtype float64.
package graphdef

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"k8s.io/klog/v2"
)

// Kind of declaration in a definition.
type Kind string

const (
	KindConstant    Kind = "constant"
	KindPlaceholder Kind = "placeholder"
	KindVariable    Kind = "variable"
	KindOp          Kind = "op"
)

var allKinds = []Kind{KindConstant, KindPlaceholder, KindVariable, KindOp}

// Ref references a declaration: "<kind>.<name>".
type Ref struct {
	Kind Kind
	Name string
}

// String implements fmt.Stringer.
func (r Ref) String() string { return fmt.Sprintf("%s.%s", r.Kind, r.Name) }

// Declaration is one named block of a definition.
type Declaration struct {
	Ref

	// Value is set for constants and variables.
	Value *tensors.Tensor

	// DType is set for placeholders.
	DType dtypes.DType

	// Shape is optionally set for placeholders.
	Shape []int

	// OpType, Attrs and Inputs are set for operations.
	OpType string
	Attrs  []Attr
	Inputs []Ref

	// Range where the declaration was defined, for error messages.
	Range hcl.Range
}

// Attr is one attribute of an operation, converted from HCL.
type Attr struct {
	Name  string
	Value any
}

// Definition is a parsed graph definition.
type Definition struct {
	// Filename the definition was parsed from.
	Filename string

	// Declarations in the order they were declared, grouped by kind.
	Declarations []*Declaration

	// Run lists the nodes to execute, the last one being the result.
	Run []Ref

	byName map[string]*Declaration
}

// Lookup returns the declaration with the given name.
func (d *Definition) Lookup(name string) (*Declaration, bool) {
	decl, found := d.byName[name]
	return decl, found
}

// Placeholders returns the placeholder declarations.
func (d *Definition) Placeholders() []*Declaration {
	var placeholders []*Declaration
	for _, decl := range d.Declarations {
		if decl.Kind == KindPlaceholder {
			placeholders = append(placeholders, decl)
		}
	}
	return placeholders
}

// hclFile is the top-level structure of a definition file, for decoding.
type hclFile struct {
	Constants    []*hclValueBlock  `hcl:"constant,block"`
	Placeholders []*hclPlaceholder `hcl:"placeholder,block"`
	Variables    []*hclValueBlock  `hcl:"variable,block"`
	Ops          []*hclOp          `hcl:"op,block"`
	Run          hcl.Expression    `hcl:"run"`
}

type hclValueBlock struct {
	Name   string    `hcl:"name,label"`
	Value  cty.Value `hcl:"value"`
	DType  string    `hcl:"dtype,optional"`
	Remain hcl.Body  `hcl:",remain"`
}

type hclPlaceholder struct {
	Name  string   `hcl:"name,label"`
	DType string   `hcl:"dtype"`
	Shape []int    `hcl:"shape,optional"`
	Body  hcl.Body `hcl:",remain"`
}

type hclOp struct {
	Name   string         `hcl:"name,label"`
	Type   string         `hcl:"type"`
	Inputs hcl.Expression `hcl:"inputs"`
	Attrs  *cty.Value     `hcl:"attrs,optional"`
	Body   hcl.Body       `hcl:",remain"`
}

// Load parses the definition in the given HCL file.
func Load(filename string) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse graph definition %s", filename)
	}
	return decode(file, filename)
}

// Parse parses a definition from HCL source. The filename is only used in error messages.
func Parse(src []byte, filename string) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse graph definition %s", filename)
	}
	return decode(file, filename)
}

func decode(file *hcl.File, filename string) (*Definition, error) {
	var root hclFile
	diags := gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to decode graph definition %s", filename)
	}

	d := &Definition{Filename: filename, byName: make(map[string]*Declaration)}
	add := func(decl *Declaration) error {
		if previous, found := d.byName[decl.Name]; found {
			return errors.Errorf("%s: name %q declared twice, as %s (at %s) and as %s",
				decl.Range, decl.Name, previous.Ref, previous.Range, decl.Ref)
		}
		d.byName[decl.Name] = decl
		d.Declarations = append(d.Declarations, decl)
		return nil
	}

	valueBlocks := []struct {
		kind   Kind
		blocks []*hclValueBlock
	}{{KindConstant, root.Constants}, {KindVariable, root.Variables}}
	for _, group := range valueBlocks {
		for _, block := range group.blocks {
			decl := &Declaration{Ref: Ref{group.kind, block.Name}, Range: block.Remain.MissingItemRange()}
			var err error
			decl.Value, err = decodeValue(block.Value, block.DType)
			if err != nil {
				return nil, errors.WithMessagef(err, "%s: invalid value for %s", decl.Range, decl.Ref)
			}
			if err = add(decl); err != nil {
				return nil, err
			}
		}
	}
	for _, block := range root.Placeholders {
		decl := &Declaration{Ref: Ref{KindPlaceholder, block.Name}, Shape: block.Shape, Range: block.Body.MissingItemRange()}
		var err error
		decl.DType, err = ParseDType(block.DType)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s: %s", decl.Range, decl.Ref)
		}
		if slices.ContainsFunc(block.Shape, func(dim int) bool { return dim < 0 }) {
			return nil, errors.Errorf("%s: %s has negative dimensions in shape %v", decl.Range, decl.Ref, block.Shape)
		}
		if err = add(decl); err != nil {
			return nil, err
		}
	}
	for _, block := range root.Ops {
		decl := &Declaration{Ref: Ref{KindOp, block.Name}, OpType: block.Type, Range: block.Body.MissingItemRange()}
		var err error
		decl.Inputs, err = decodeRefs(block.Inputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "inputs of %s", decl.Ref)
		}
		if block.Attrs != nil {
			decl.Attrs, err = decodeAttrs(*block.Attrs)
			if err != nil {
				return nil, errors.WithMessagef(err, "%s: attrs of %s", decl.Range, decl.Ref)
			}
		}
		if err = add(decl); err != nil {
			return nil, err
		}
	}
	// Group declarations by kind.
	slices.SortStableFunc(d.Declarations, func(a, b *Declaration) int {
		return slices.Index(allKinds, a.Kind) - slices.Index(allKinds, b.Kind)
	})

	var err error
	d.Run, err = decodeRefs(root.Run)
	if err != nil {
		return nil, errors.WithMessage(err, "run")
	}
	if len(d.Run) == 0 {
		return nil, errors.Errorf("%s: \"run\" must list at least one node", root.Run.Range())
	}
	if err = d.validate(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("graphdef: loaded %s: %d declaration(s), %d node(s) to run", filename, len(d.Declarations), len(d.Run))
	return d, nil
}

// decodeRefs decodes a static list of references "<kind>.<name>".
func decodeRefs(expr hcl.Expression) ([]Ref, error) {
	items, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, diags
	}
	refs := make([]Ref, 0, len(items))
	for _, item := range items {
		traversal, diags := hcl.AbsTraversalForExpr(item)
		if diags.HasErrors() {
			return nil, diags
		}
		if len(traversal) != 2 {
			return nil, errors.Errorf("%s: invalid reference, expected \"<kind>.<name>\"", item.Range())
		}
		kind := Kind(traversal.RootName())
		if !slices.Contains(allKinds, kind) {
			return nil, errors.Errorf("%s: invalid reference kind %q, expected one of %v", item.Range(), kind, allKinds)
		}
		attr, ok := traversal[1].(hcl.TraverseAttr)
		if !ok {
			return nil, errors.Errorf("%s: invalid reference, expected \"<kind>.<name>\"", item.Range())
		}
		refs = append(refs, Ref{Kind: kind, Name: attr.Name})
	}
	return refs, nil
}

// validate checks that all references exist and that operations have no cycles.
func (d *Definition) validate() error {
	check := func(ref Ref, context string) error {
		decl, found := d.byName[ref.Name]
		if !found || decl.Kind != ref.Kind {
			return errors.Errorf("%s references undeclared %s", context, ref)
		}
		return nil
	}
	for _, decl := range d.Declarations {
		for _, input := range decl.Inputs {
			if err := check(input, fmt.Sprintf("%s: %s", decl.Range, decl.Ref)); err != nil {
				return err
			}
		}
	}
	for _, ref := range d.Run {
		if err := check(ref, "run"); err != nil {
			return err
		}
	}
	_, err := d.topologicalOrder()
	return err
}
