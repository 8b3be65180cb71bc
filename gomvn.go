// Package gomvn provides extended Gorgonia operations used to build
// differentiable multivariate normal distributions
package gomvn

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// Erf computes the element-wise error function
func Erf(x *G.Node) (*G.Node, error) {
	return G.ApplyOp(&pointwiseOp{erfFn}, x)
}

// Erfinv computes the element-wise inverse error function
func Erfinv(x *G.Node) (*G.Node, error) {
	return G.ApplyOp(&pointwiseOp{erfinvFn}, x)
}

// Softplus computes the element-wise softplus log(1 + exp(x)). The
// computation saturates to x for large positive x and to 0 for large
// negative x instead of overflowing, so it is safe on extreme
// pre-activation values.
func Softplus(x *G.Node) (*G.Node, error) {
	return G.ApplyOp(&pointwiseOp{softplusFn}, x)
}

// Erfc computes the element-wise complementary error function
func Erfc(x *G.Node) (*G.Node, error) {
	retVal, err := Erf(x)
	if err != nil {
		return nil, fmt.Errorf("erfc: %v", err)
	}

	var one *G.Node
	switch x.Dtype() {
	case G.Float64:
		one = G.NewScalar(
			x.Graph(),
			G.Float64,
			G.WithValue(1.0),
		)

	case G.Float32:
		one = G.NewScalar(
			x.Graph(),
			G.Float32,
			G.WithValue(float32(1.0)),
		)

	default:
		return nil, fmt.Errorf("erfc: data type %v unsupported", x.Dtype())
	}

	return G.Sub(one, retVal)
}

// Detach returns x with the gradient path severed: the returned node
// evaluates to the same value as x, but backpropagation stops at the
// returned node and never reaches x
func Detach(x *G.Node) (*G.Node, error) {
	return G.ApplyOp(newDetachOp(), x)
}

// Repeat repeats each element of x repeats times along axis
func Repeat(x *G.Node, axis, repeats int) (*G.Node, error) {
	op, err := newRepeatOp(axis, repeats)
	if err != nil {
		return nil, fmt.Errorf("repeat: %v", err)
	}

	return G.ApplyOp(op, x)
}

// InvSoftplus is the inverse of the softplus function, so that
// softplus(InvSoftplus(y)) == y for y > 0
func InvSoftplus(y float64) float64 {
	return math.Log(math.Expm1(y))
}
