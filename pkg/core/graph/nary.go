package graph

import "github.com/gomlx/exceptions"

// NAry generalizes a binary node function to any number of operands, folding from the left:
//
//	NAry(f)(x1, x2, x3, x4) == f(f(f(x1, x2), x3), x4)
//
// With one operand it returns it unchanged, and it panics with none.
// The fold is a loop, so the number of operands is only bounded by memory.
func NAry(fn func(x, y *Node) *Node) func(operands ...*Node) *Node {
	return func(operands ...*Node) *Node {
		if len(operands) == 0 {
			exceptions.Panicf("graph.NAry: at least one operand is required")
		}
		result := operands[0]
		for _, operand := range operands[1:] {
			result = fn(result, operand)
		}
		return result
	}
}

var (
	// AddN returns x1 + x2 + ... + xn.
	AddN = NAry(Add)

	// SubN returns x1 - x2 - ... - xn.
	SubN = NAry(Sub)

	// MulN returns x1 * x2 * ... * xn.
	MulN = NAry(Mul)

	// DivN returns ((x1 / x2) / ...) / xn.
	DivN = NAry(Div)

	// PowN returns ((x1 ^ x2) ^ ...) ^ xn.
	PowN = NAry(Pow)

	// MatMulN returns the chained matrix multiplication x1 · x2 · ... · xn.
	MatMulN = NAry(MatMul)
)
