package backends

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// AttrKind enumerates the kinds of values an operation attribute can hold.
type AttrKind int

const (
	AttrKindInvalid AttrKind = iota
	AttrKindInt
	AttrKindFloat
	AttrKindBool
	AttrKindString
	AttrKindDType
	AttrKindShape
	AttrKindTensor
	AttrKindInts
)

var attrKindNames = map[AttrKind]string{
	AttrKindInvalid: "invalid",
	AttrKindInt:     "int",
	AttrKindFloat:   "float",
	AttrKindBool:    "bool",
	AttrKindString:  "string",
	AttrKindDType:   "dtype",
	AttrKindShape:   "shape",
	AttrKindTensor:  "tensor",
	AttrKindInts:    "ints",
}

// String implements fmt.Stringer.
func (k AttrKind) String() string {
	if name, found := attrKindNames[k]; found {
		return name
	}
	return fmt.Sprintf("AttrKind(%d)", int(k))
}

// Attr is the value of an operation attribute. It is a closed union: the only implementations are
// IntAttr, FloatAttr, BoolAttr, StringAttr, DTypeAttr, ShapeAttr, TensorAttr and IntsAttr.
type Attr interface {
	fmt.Stringer

	// Kind of the attribute value.
	Kind() AttrKind

	isAttr()
}

type (
	// IntAttr is an integer attribute.
	IntAttr int64

	// FloatAttr is a floating point attribute.
	FloatAttr float64

	// BoolAttr is a boolean attribute.
	BoolAttr bool

	// StringAttr is a string attribute.
	StringAttr string

	// DTypeAttr is a data type attribute.
	DTypeAttr dtypes.DType

	// ShapeAttr holds the dimensions of a shape. The dtype is usually given by a separate DTypeAttr.
	ShapeAttr []int

	// IntsAttr is a list of integers attribute.
	IntsAttr []int64

	// TensorAttr is a tensor literal attribute.
	TensorAttr struct{ Tensor *tensors.Tensor }
)

func (IntAttr) Kind() AttrKind    { return AttrKindInt }
func (FloatAttr) Kind() AttrKind  { return AttrKindFloat }
func (BoolAttr) Kind() AttrKind   { return AttrKindBool }
func (StringAttr) Kind() AttrKind { return AttrKindString }
func (DTypeAttr) Kind() AttrKind  { return AttrKindDType }
func (ShapeAttr) Kind() AttrKind  { return AttrKindShape }
func (IntsAttr) Kind() AttrKind   { return AttrKindInts }
func (TensorAttr) Kind() AttrKind { return AttrKindTensor }

func (IntAttr) isAttr()    {}
func (FloatAttr) isAttr()  {}
func (BoolAttr) isAttr()   {}
func (StringAttr) isAttr() {}
func (DTypeAttr) isAttr()  {}
func (ShapeAttr) isAttr()  {}
func (IntsAttr) isAttr()   {}
func (TensorAttr) isAttr() {}

func (a IntAttr) String() string    { return fmt.Sprintf("%d", int64(a)) }
func (a FloatAttr) String() string  { return fmt.Sprintf("%g", float64(a)) }
func (a BoolAttr) String() string   { return fmt.Sprintf("%v", bool(a)) }
func (a StringAttr) String() string { return fmt.Sprintf("%q", string(a)) }
func (a DTypeAttr) String() string  { return dtypes.DType(a).String() }
func (a ShapeAttr) String() string  { return fmt.Sprintf("%v", []int(a)) }
func (a IntsAttr) String() string   { return fmt.Sprintf("%v", []int64(a)) }
func (a TensorAttr) String() string {
	if a.Tensor == nil {
		return "<nil tensor>"
	}
	return a.Tensor.Summary()
}

// DType returns the dtype held by the attribute.
func (a DTypeAttr) DType() dtypes.DType { return dtypes.DType(a) }

// AttrFromValue converts a Go value to the corresponding Attr. It accepts an Attr (returned as is),
// integers, floats, bool, string, dtypes.DType, []int, []int64 and *tensors.Tensor.
//
// []int is converted to IntsAttr: use ShapeAttr explicitly for shapes.
func AttrFromValue(value any) (Attr, error) {
	switch v := value.(type) {
	case Attr:
		return v, nil
	case int:
		return IntAttr(v), nil
	case int32:
		return IntAttr(v), nil
	case int64:
		return IntAttr(v), nil
	case float32:
		return FloatAttr(v), nil
	case float64:
		return FloatAttr(v), nil
	case bool:
		return BoolAttr(v), nil
	case string:
		return StringAttr(v), nil
	case dtypes.DType:
		return DTypeAttr(v), nil
	case []int:
		ints := make(IntsAttr, len(v))
		for ii, x := range v {
			ints[ii] = int64(x)
		}
		return ints, nil
	case []int64:
		return IntsAttr(v), nil
	case *tensors.Tensor:
		return TensorAttr{Tensor: v}, nil
	}
	return nil, errors.Errorf("value of type %T cannot be used as an operation attribute", value)
}
