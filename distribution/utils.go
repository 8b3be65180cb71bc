package distribution

import (
	"fmt"

	"github.com/samuelfneumann/gomvn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func ones64(size int) []float64 {
	slice := make([]float64, size)
	for i := range slice {
		slice[i] = 1.0
	}

	return slice
}

func full64(size int, val float64) []float64 {
	slice := make([]float64, size)
	for i := range slice {
		slice[i] = val
	}

	return slice
}

// fullNode returns a constant tensor node filled with val
func fullNode(g *G.ExprGraph, name string, val float64,
	shape ...int) *G.Node {
	t := tensor.NewDense(
		tensor.Float64,
		shape,
		tensor.WithBacking(full64(tensor.ProdInts(shape), val)),
	)

	return G.NewTensor(
		g,
		t.Dtype(),
		t.Dims(),
		G.WithValue(t),
		G.WithName(gomvn.UnixNano(name)),
	)
}

// eyeBatchNode returns a constant (batch, dim, dim) node holding the
// identity matrix in every batch entry
func eyeBatchNode(g *G.ExprGraph, batch, dim int) *G.Node {
	backing := make([]float64, batch*dim*dim)
	for b := 0; b < batch; b++ {
		for i := 0; i < dim; i++ {
			backing[b*dim*dim+i*dim+i] = 1.0
		}
	}

	t := tensor.NewDense(
		tensor.Float64,
		[]int{batch, dim, dim},
		tensor.WithBacking(backing),
	)

	return G.NewTensor(
		g,
		t.Dtype(),
		t.Dims(),
		G.WithValue(t),
		G.WithName(gomvn.UnixNano("eye")),
	)
}

// batchMul multiplies batches of matrices a, of shape (batch, p, q),
// and b, of shape (batch, q, s), returning a (batch, p, s) node. The
// contraction is written as a broadcast product reduced over the shared
// axis rather than a per-entry matrix multiply, because Gorgonia's
// BatchedMatMul squeezes size-1 dimensions when it slices out a batch
// entry and then rejects the operands as non-matrices. Rank-1 factors
// and column vectors stay legal here.
func batchMul(a, b *G.Node) (*G.Node, error) {
	if a.Dims() != 3 || b.Dims() != 3 {
		return nil, shapeErrorf("batchMul: expected 3-dimensional operands "+
			"but got shapes %v and %v", a.Shape(), b.Shape())
	}

	batch, p, q := a.Shape()[0], a.Shape()[1], a.Shape()[2]
	s := b.Shape()[2]
	if b.Shape()[0] != batch || b.Shape()[1] != q {
		return nil, shapeErrorf("batchMul: cannot multiply shapes %v and %v",
			a.Shape(), b.Shape())
	}

	left, err := G.Reshape(a, tensor.Shape{batch, p, q, 1})
	if err != nil {
		return nil, fmt.Errorf("batchMul: could not expand left operand: %v",
			err)
	}
	right, err := G.Reshape(b, tensor.Shape{batch, 1, q, s})
	if err != nil {
		return nil, fmt.Errorf("batchMul: could not expand right operand: "+
			"%v", err)
	}

	prod, err := G.BroadcastHadamardProd(left, right, []byte{3}, []byte{1})
	if err != nil {
		return nil, fmt.Errorf("batchMul: %v", err)
	}

	out, err := G.Sum(prod, 2)
	if err != nil {
		return nil, fmt.Errorf("batchMul: could not contract: %v", err)
	}

	return out, nil
}

// tileBatch repeats a parameter node n times along a new leading axis
// and folds the copies back into the batch dimension, so a (B, ...)
// node becomes an (n*B, ...) node holding n copies of the original
func tileBatch(x *G.Node, n int) (*G.Node, error) {
	if n == 1 {
		return x, nil
	}

	shape := x.Shape().Clone()

	expanded, err := G.Reshape(x, append(tensor.Shape{1}, shape...))
	if err != nil {
		return nil, fmt.Errorf("tileBatch: could not expand: %v", err)
	}

	repeated, err := gomvn.Repeat(expanded, 0, n)
	if err != nil {
		return nil, fmt.Errorf("tileBatch: %v", err)
	}

	folded := append(tensor.Shape{n * shape[0]}, shape[1:]...)
	out, err := G.Reshape(repeated, folded)
	if err != nil {
		return nil, fmt.Errorf("tileBatch: could not fold: %v", err)
	}

	return out, nil
}
