package backends

// Operation types emitted by github.com/gomlx/lazygraph/pkg/core/graph.
//
// The names follow the TensorFlow graph conventions, so an engine built on a TensorFlow-like runtime
// can accept them as is. Nothing precludes an engine from supporting other operation types: the
// graph package only passes the names along.
const (
	OpTypeConst       = "Const"
	OpTypePlaceholder = "Placeholder"
	OpTypeVariable    = "VariableV2"
	OpTypeAssign      = "Assign"
	OpTypeIdentity    = "Identity"

	OpTypeAdd       = "Add"
	OpTypeSub       = "Sub"
	OpTypeMul       = "Mul"
	OpTypeDiv       = "Div"
	OpTypePow       = "Pow"
	OpTypeMatMul    = "MatMul"
	OpTypeSum       = "Sum"
	OpTypeMean      = "Mean"
	OpTypeTranspose = "Transpose"
	OpTypeTanh      = "Tanh"
	OpTypeSigmoid   = "Sigmoid"
	OpTypeAbs       = "Abs"
	OpTypeSize      = "Size"
)

// Attribute names used by the operation types above.
const (
	AttrDType         = "dtype"
	AttrValue         = "value"
	AttrShape         = "shape"
	AttrContainer     = "container"
	AttrSharedName    = "shared_name"
	AttrValidateShape = "validate_shape"
	AttrUseLocking    = "use_locking"
	AttrTransposeA    = "transpose_a"
	AttrTransposeB    = "transpose_b"
	AttrKeepDims      = "keep_dims"
	AttrOutType       = "out_type"
)
