package graphdef

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/backends"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// knownDTypes that can be given by name in a definition.
var knownDTypes = []dtypes.DType{
	dtypes.Bool,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Float16, dtypes.Float32, dtypes.Float64,
}

// ParseDType parses a dtype name, case-insensitive: e.g. "float32", "Int64" or "bool".
func ParseDType(name string) (dtypes.DType, error) {
	for _, dtype := range knownDTypes {
		if strings.EqualFold(dtype.String(), name) {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown or unsupported dtype %q", name)
}

// decodeValue converts a number, a bool or nested lists of them to a tensor.
// If dtypeName is empty, numbers are converted to Float64.
func decodeValue(value cty.Value, dtypeName string) (*tensors.Tensor, error) {
	dims, leaves, err := flattenValue(value)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return nil, errors.New("empty values are not supported")
	}

	dtype := dtypes.Float64
	if leaves[0].Type() == cty.Bool {
		dtype = dtypes.Bool
	}
	if dtypeName != "" {
		dtype, err = ParseDType(dtypeName)
		if err != nil {
			return nil, err
		}
	}
	switch dtype {
	case dtypes.Bool:
		return leavesToTensor[bool](leaves, dims)
	case dtypes.Int8:
		return leavesToTensor[int8](leaves, dims)
	case dtypes.Int16:
		return leavesToTensor[int16](leaves, dims)
	case dtypes.Int32:
		return leavesToTensor[int32](leaves, dims)
	case dtypes.Int64:
		return leavesToTensor[int64](leaves, dims)
	case dtypes.Uint8:
		return leavesToTensor[uint8](leaves, dims)
	case dtypes.Uint16:
		return leavesToTensor[uint16](leaves, dims)
	case dtypes.Uint32:
		return leavesToTensor[uint32](leaves, dims)
	case dtypes.Uint64:
		return leavesToTensor[uint64](leaves, dims)
	case dtypes.Float32:
		return leavesToTensor[float32](leaves, dims)
	case dtypes.Float64:
		return leavesToTensor[float64](leaves, dims)
	case dtypes.Float16:
		f32, err := leavesToFlat[float32](leaves)
		if err != nil {
			return nil, err
		}
		flat := make([]float16.Float16, len(f32))
		for ii, v := range f32 {
			flat[ii] = float16.Fromfloat32(v)
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), nil
	}
	return nil, errors.Errorf("dtype %s not supported for values", dtype)
}

func leavesToFlat[T bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64](
	leaves []cty.Value) ([]T, error) {
	flat := make([]T, len(leaves))
	for ii, leaf := range leaves {
		if err := gocty.FromCtyValue(leaf, &flat[ii]); err != nil {
			return nil, errors.Wrapf(err, "element #%d", ii)
		}
	}
	return flat, nil
}

func leavesToTensor[T bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64](
	leaves []cty.Value, dims []int) (*tensors.Tensor, error) {
	flat, err := leavesToFlat[T](leaves)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// flattenValue returns the dimensions of nested lists (or tuples) and their leaves in row-major order.
// Nested lists must be regular, and all leaves must have the same type (number or bool).
func flattenValue(value cty.Value) (dims []int, leaves []cty.Value, err error) {
	if value.IsNull() || !value.IsWhollyKnown() {
		return nil, nil, errors.New("value must be known and not null")
	}
	level := []cty.Value{value}
	for {
		ty := level[0].Type()
		if !ty.IsListType() && !ty.IsTupleType() {
			break
		}
		dim := level[0].LengthInt()
		var next []cty.Value
		for _, v := range level {
			if (!v.Type().IsListType() && !v.Type().IsTupleType()) || v.LengthInt() != dim {
				return nil, nil, errors.Errorf("irregular nested lists: expected all lists at axis %d with length %d", len(dims), dim)
			}
			for it := v.ElementIterator(); it.Next(); {
				_, element := it.Element()
				next = append(next, element)
			}
		}
		dims = append(dims, dim)
		if len(next) == 0 {
			return dims, nil, nil
		}
		level = next
	}
	leafType := level[0].Type()
	if leafType != cty.Number && leafType != cty.Bool {
		return nil, nil, errors.Errorf("values must be numbers or bools, got %s", leafType.FriendlyName())
	}
	for _, leaf := range level {
		if !leaf.Type().Equals(leafType) {
			return nil, nil, errors.Errorf("values mix %s and %s", leafType.FriendlyName(), leaf.Type().FriendlyName())
		}
	}
	return dims, level, nil
}

// decodeAttrs converts an HCL object to operation attributes, sorted by name.
//
// Bools and numbers are converted to the bool, int64 or float64 attributes. Strings are converted to
// dtypes for the keys "dtype" and "out_type", and lists of numbers are converted to a shape for the
// key "shape", or to a list of ints otherwise.
func decodeAttrs(object cty.Value) ([]Attr, error) {
	if object.IsNull() {
		return nil, nil
	}
	if !object.Type().IsObjectType() && !object.Type().IsMapType() {
		return nil, errors.Errorf("expected an object, got %s", object.Type().FriendlyName())
	}
	var attrs []Attr
	for it := object.ElementIterator(); it.Next(); {
		key, value := it.Element()
		name := key.AsString()
		attr, err := decodeAttr(name, value)
		if err != nil {
			return nil, errors.WithMessagef(err, "attribute %q", name)
		}
		attrs = append(attrs, Attr{Name: name, Value: attr})
	}
	return attrs, nil
}

func decodeAttr(name string, value cty.Value) (any, error) {
	if value.IsNull() || !value.IsWhollyKnown() {
		return nil, errors.New("value must be known and not null")
	}
	ty := value.Type()
	switch {
	case ty == cty.Bool:
		return value.True(), nil
	case ty == cty.String:
		if name == backends.AttrDType || name == backends.AttrOutType {
			return ParseDType(value.AsString())
		}
		return value.AsString(), nil
	case ty == cty.Number:
		if value.AsBigFloat().IsInt() {
			var i int64
			err := gocty.FromCtyValue(value, &i)
			return i, err
		}
		var f float64
		err := gocty.FromCtyValue(value, &f)
		return f, err
	case ty.IsListType() || ty.IsTupleType():
		ints := make([]int, 0, value.LengthInt())
		for it := value.ElementIterator(); it.Next(); {
			_, element := it.Element()
			var i int
			if err := gocty.FromCtyValue(element, &i); err != nil {
				return nil, errors.Wrap(err, "lists must hold integers")
			}
			ints = append(ints, i)
		}
		if name == backends.AttrShape {
			return backends.ShapeAttr(ints), nil
		}
		return ints, nil
	}
	return nil, errors.Errorf("unsupported type %s", ty.FriendlyName())
}

// ParseFeed parses an assignment "<placeholder>=<HCL value>", e.g. "x=[1, 2.5]", into a placeholder name and
// its value, converted to the dtype of the placeholder.
func (d *Definition) ParseFeed(assignment string) (name string, value *tensors.Tensor, err error) {
	name, src, found := strings.Cut(assignment, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return "", nil, errors.Errorf("invalid feed %q: expected \"<placeholder>=<value>\"", assignment)
	}
	decl, found := d.byName[name]
	if !found || decl.Kind != KindPlaceholder {
		return "", nil, errors.Errorf("invalid feed %q: no placeholder named %q", assignment, name)
	}
	expr, diags := hclsyntax.ParseExpression([]byte(src), "feed "+name, hcl.InitialPos)
	if diags.HasErrors() {
		return "", nil, errors.Wrapf(diags, "invalid feed %q", assignment)
	}
	ctyValue, diags := expr.Value(nil)
	if diags.HasErrors() {
		return "", nil, errors.Wrapf(diags, "invalid feed %q", assignment)
	}
	value, err = decodeValue(ctyValue, decl.DType.String())
	if err != nil {
		return "", nil, errors.WithMessagef(err, "invalid feed %q", assignment)
	}
	return name, value, nil
}
