package distribution

import (
	"fmt"
	"hash"

	"github.com/chewxy/hm"
	"github.com/samuelfneumann/gomvn"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// The capacitance ops factorize batches of small symmetric positive
// definite matrices — the rank x rank blocks I + Wᵀ D⁻¹ W of the
// Woodbury identity — with a Cholesky decomposition per batch entry.
// The matrices are tiny (rank is typically below a few tens), so the
// O(batch · rank³) kernels stay cheap regardless of the event
// dimension.

// capLogDetOp computes the log-determinant of each (r, r) block of a
// (batch, r, r) positive definite input, producing a (batch,) output
type capLogDetOp struct {
	dt    tensor.Dtype
	shape tensor.Shape
}

func newCapLogDetOp(dt tensor.Dtype, shape tensor.Shape) (*capLogDetOp,
	error) {
	if err := checkCapShape(dt, shape); err != nil {
		return nil, fmt.Errorf("newCapLogDetOp: %v", err)
	}

	return &capLogDetOp{dt: dt, shape: shape.Clone()}, nil
}

func (c *capLogDetOp) Arity() int { return 1 }

func (c *capLogDetOp) Type() hm.Type {
	in := G.TensorType{Dims: 3, Of: c.dt}
	out := G.TensorType{Dims: 1, Of: c.dt}

	return hm.NewFnType(in, out)
}

func (c *capLogDetOp) InferShape(...G.DimSizer) (tensor.Shape, error) {
	return tensor.Shape{c.shape[0]}, nil
}

func (c *capLogDetOp) ReturnsPtr() bool { return false }

func (c *capLogDetOp) CallsExtern() bool { return false }

func (c *capLogDetOp) OverwritesInput() int { return -1 }

func (c *capLogDetOp) String() string {
	return fmt.Sprintf("CapLogDet{shape=%v}()", c.shape)
}

func (c *capLogDetOp) WriteHash(h hash.Hash) { fmt.Fprint(h, c.String()) }

func (c *capLogDetOp) Hashcode() uint32 { return gomvn.SimpleHash(c) }

func (c *capLogDetOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := c.checkInputs(inputs...); err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	in := inputs[0].(tensor.Tensor)
	batch, r := c.shape[0], c.shape[1]
	data := in.Data().([]float64)

	out := tensor.New(
		tensor.WithShape(batch),
		tensor.Of(tensor.Float64),
	)
	outData := out.Data().([]float64)

	var chol mat.Cholesky
	for b := 0; b < batch; b++ {
		sym := symmetrize(data[b*r*r:(b+1)*r*r], r)
		if ok := chol.Factorize(sym); !ok {
			return nil, fmt.Errorf("do: matrix %v is not positive "+
				"definite", b)
		}
		outData[b] = chol.LogDet()
	}

	return out, nil
}

// SymDiff uses ∂ logdet(A) / ∂A = A⁻¹ for symmetric A, broadcasting
// the incoming per-batch gradient over each block
func (c *capLogDetOp) SymDiff(inputs G.Nodes, output,
	grad *G.Node) (G.Nodes, error) {
	err := gomvn.CheckArity(c, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	inv, err := capInverse(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	expanded, err := G.Reshape(grad, tensor.Shape{c.shape[0], 1, 1})
	if err != nil {
		return nil, fmt.Errorf("symDiff: could not expand gradient: %v",
			err)
	}

	nodes := make(G.Nodes, 1)
	nodes[0], err = G.BroadcastHadamardProd(inv, expanded, nil,
		[]byte{1, 2})

	return nodes, err
}

func (c *capLogDetOp) DiffWRT(inputs int) []bool {
	if inputs != 1 {
		panic(fmt.Sprintf("capLogDet operator only supports one input, "+
			"got %d instead", inputs))
	}
	return []bool{true}
}

func (c *capLogDetOp) checkInputs(inputs ...G.Value) error {
	return checkCapInputs(c, c.dt, c.shape, inputs...)
}

// capInverseOp computes the inverse of each (r, r) block of a
// (batch, r, r) positive definite input
type capInverseOp struct {
	dt    tensor.Dtype
	shape tensor.Shape
}

func newCapInverseOp(dt tensor.Dtype, shape tensor.Shape) (*capInverseOp,
	error) {
	if err := checkCapShape(dt, shape); err != nil {
		return nil, fmt.Errorf("newCapInverseOp: %v", err)
	}

	return &capInverseOp{dt: dt, shape: shape.Clone()}, nil
}

func (c *capInverseOp) Arity() int { return 1 }

func (c *capInverseOp) Type() hm.Type {
	tt := G.TensorType{Dims: 3, Of: c.dt}

	return hm.NewFnType(tt, tt)
}

func (c *capInverseOp) InferShape(...G.DimSizer) (tensor.Shape, error) {
	return c.shape.Clone(), nil
}

func (c *capInverseOp) ReturnsPtr() bool { return false }

func (c *capInverseOp) CallsExtern() bool { return false }

func (c *capInverseOp) OverwritesInput() int { return -1 }

func (c *capInverseOp) String() string {
	return fmt.Sprintf("CapInverse{shape=%v}()", c.shape)
}

func (c *capInverseOp) WriteHash(h hash.Hash) { fmt.Fprint(h, c.String()) }

func (c *capInverseOp) Hashcode() uint32 { return gomvn.SimpleHash(c) }

func (c *capInverseOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := c.checkInputs(inputs...); err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	in := inputs[0].(tensor.Tensor)
	batch, r := c.shape[0], c.shape[1]
	data := in.Data().([]float64)

	out := tensor.New(
		tensor.WithShape(c.shape.Clone()...),
		tensor.Of(tensor.Float64),
	)
	outData := out.Data().([]float64)

	var chol mat.Cholesky
	var inv mat.SymDense
	for b := 0; b < batch; b++ {
		sym := symmetrize(data[b*r*r:(b+1)*r*r], r)
		if ok := chol.Factorize(sym); !ok {
			return nil, fmt.Errorf("do: matrix %v is not positive "+
				"definite", b)
		}
		if err := chol.InverseTo(&inv); err != nil {
			return nil, fmt.Errorf("do: could not invert matrix %v: %v", b,
				err)
		}

		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				outData[b*r*r+i*r+j] = inv.At(i, j)
			}
		}
	}

	return out, nil
}

// SymDiff uses ∂A⁻¹: the adjoint is -A⁻¹ Ḡ A⁻¹ for symmetric A, built
// from the op's own output. The products use batchMul so a rank of one
// never degenerates the block operands.
func (c *capInverseOp) SymDiff(inputs G.Nodes, output,
	grad *G.Node) (G.Nodes, error) {
	err := gomvn.CheckArity(c, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	left, err := batchMul(output, grad)
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	both, err := batchMul(left, output)
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	nodes := make(G.Nodes, 1)
	nodes[0], err = G.Neg(both)

	return nodes, err
}

func (c *capInverseOp) DiffWRT(inputs int) []bool {
	if inputs != 1 {
		panic(fmt.Sprintf("capInverse operator only supports one input, "+
			"got %d instead", inputs))
	}
	return []bool{true}
}

func (c *capInverseOp) checkInputs(inputs ...G.Value) error {
	return checkCapInputs(c, c.dt, c.shape, inputs...)
}

// capLogDet applies a capLogDetOp to x, which must hold (batch, r, r)
// positive definite matrices
func capLogDet(x *G.Node) (*G.Node, error) {
	op, err := newCapLogDetOp(x.Dtype(), x.Shape())
	if err != nil {
		return nil, fmt.Errorf("capLogDet: %v", err)
	}

	return G.ApplyOp(op, x)
}

// capInverse applies a capInverseOp to x, which must hold
// (batch, r, r) positive definite matrices
func capInverse(x *G.Node) (*G.Node, error) {
	op, err := newCapInverseOp(x.Dtype(), x.Shape())
	if err != nil {
		return nil, fmt.Errorf("capInverse: %v", err)
	}

	return G.ApplyOp(op, x)
}

// symmetrize copies an r x r block into a SymDense, averaging the off
// diagonal pairs to absorb round-off asymmetry
func symmetrize(block []float64, r int) *mat.SymDense {
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, 0.5*(block[i*r+j]+block[j*r+i]))
		}
	}

	return sym
}

func checkCapShape(dt tensor.Dtype, shape tensor.Shape) error {
	if dt != tensor.Float64 {
		return fmt.Errorf("dtype %v not supported", dt)
	}
	if shape.Dims() != 3 {
		return fmt.Errorf("expected a (batch, r, r) input but got shape %v",
			shape)
	}
	if shape[1] != shape[2] {
		return fmt.Errorf("expected square blocks but got shape %v", shape)
	}

	return nil
}

func checkCapInputs(op G.Op, dt tensor.Dtype, shape tensor.Shape,
	inputs ...G.Value) error {
	if err := gomvn.CheckArity(op, len(inputs)); err != nil {
		return err
	}

	t, ok := inputs[0].(tensor.Tensor)
	if !ok {
		return fmt.Errorf("expected tensor, received %T", inputs[0])
	} else if t == nil {
		return fmt.Errorf("cannot factorize nil tensor")
	} else if !t.Shape().Eq(shape) {
		return fmt.Errorf("expected input to have shape %v but got %v",
			shape, t.Shape())
	} else if !t.Dtype().Eq(dt) {
		return fmt.Errorf("expected input to have dtype %v but got %v", dt,
			t.Dtype())
	}

	return nil
}
