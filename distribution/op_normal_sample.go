package distribution

import (
	"fmt"
	"hash"

	"golang.org/x/exp/rand"

	"github.com/chewxy/hm"
	"github.com/samuelfneumann/gomvn"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// normalSampleOp draws numSamples independent normal variates for each
// element of its (mean, stddev) inputs, producing an output of shape
// (numSamples, *shape). The op re-draws on every evaluation and is not
// differentiable: it is the gradient boundary of Sample.
type normalSampleOp struct {
	dt         tensor.Dtype
	shape      tensor.Shape
	dist       distuv.Normal
	numSamples int
}

func newNormalSampleOp(dt tensor.Dtype, seed uint64, numSamples int,
	shape ...int) (*normalSampleOp, error) {
	if dt != tensor.Float64 && dt != tensor.Float32 {
		return nil, fmt.Errorf("newNormalSampleOp: dtype %v not supported",
			dt)
	}
	if numSamples < 1 {
		return nil, fmt.Errorf("newNormalSampleOp: expected numSamples "+
			"to be > 0 but got %v", numSamples)
	}

	return &normalSampleOp{
		dt:    dt,
		shape: tensor.Shape(shape),
		dist: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
		numSamples: numSamples,
	}, nil
}

func (n *normalSampleOp) Arity() int { return 2 }

func (n *normalSampleOp) Type() hm.Type {
	in := G.TensorType{
		Dims: n.shape.Dims(),
		Of:   n.dt,
	}
	out := G.TensorType{
		Dims: n.shape.Dims() + 1,
		Of:   n.dt,
	}

	return hm.NewFnType(in, in, out)
}

func (n *normalSampleOp) InferShape(...G.DimSizer) (tensor.Shape, error) {
	return append(tensor.Shape{n.numSamples}, n.shape...), nil
}

func (n *normalSampleOp) ReturnsPtr() bool { return false }

func (n *normalSampleOp) CallsExtern() bool { return false }

func (n *normalSampleOp) OverwritesInput() int { return -1 }

func (n *normalSampleOp) String() string {
	return fmt.Sprintf("NormalSample{shape=%v, samples=%v}()", n.shape,
		n.numSamples)
}

func (n *normalSampleOp) WriteHash(h hash.Hash) {
	fmt.Fprint(h, n.String())
}

func (n *normalSampleOp) Hashcode() uint32 {
	return gomvn.SimpleHash(n)
}

// SymDiff is never called because DiffWRT marks both inputs as
// non-differentiable
func (n *normalSampleOp) SymDiff(inputs G.Nodes, output,
	grad *G.Node) (G.Nodes, error) {
	return nil, fmt.Errorf("symDiff: sampling is not differentiable; " +
		"use reparameterized sampling instead")
}

// DiffWRT reports that sampling is not differentiable with respect to
// either the mean or the standard deviation
func (n *normalSampleOp) DiffWRT(inputs int) []bool {
	if inputs != 2 {
		panic(fmt.Sprintf("normal sample operator only supports two "+
			"inputs, got %d instead", inputs))
	}
	return []bool{false, false}
}

func (n *normalSampleOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := n.checkInputs(inputs...); err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	mean := inputs[0].(tensor.Tensor)
	std := inputs[1].(tensor.Tensor)
	size := mean.Size()

	out := tensor.New(
		tensor.WithShape(append([]int{n.numSamples}, n.shape...)...),
		tensor.Of(n.dt),
	)

	switch n.dt {
	case tensor.Float64:
		mu := mean.Data().([]float64)
		sigma := std.Data().([]float64)
		data := out.Data().([]float64)
		for j := 0; j < n.numSamples; j++ {
			for i := 0; i < size; i++ {
				data[j*size+i] = n.dist.Rand()*sigma[i] + mu[i]
			}
		}

	case tensor.Float32:
		mu := mean.Data().([]float32)
		sigma := std.Data().([]float32)
		data := out.Data().([]float32)
		for j := 0; j < n.numSamples; j++ {
			for i := 0; i < size; i++ {
				data[j*size+i] = float32(n.dist.Rand())*sigma[i] + mu[i]
			}
		}
	}

	return out, nil
}

func (n *normalSampleOp) checkInputs(inputs ...G.Value) error {
	if err := gomvn.CheckArity(n, len(inputs)); err != nil {
		return err
	}

	mean := inputs[0].(tensor.Tensor)
	if mean == nil {
		return fmt.Errorf("cannot sample from nil mean")
	} else if mean.Size() == 0 {
		return fmt.Errorf("cannot sample from empty mean tensor")
	} else if !mean.Shape().Eq(n.shape) {
		return fmt.Errorf("expected mean to have shape %v but got %v",
			n.shape, mean.Shape())
	} else if !mean.Dtype().Eq(n.dt) {
		return fmt.Errorf("expected mean to have dtype %v but got %v",
			n.dt, mean.Dtype())
	}

	stddev := inputs[1].(tensor.Tensor)
	if stddev == nil {
		return fmt.Errorf("cannot sample from nil stddev")
	} else if stddev.Size() == 0 {
		return fmt.Errorf("cannot sample from empty stddev tensor")
	} else if !stddev.Shape().Eq(n.shape) {
		return fmt.Errorf("expected stddev to have shape %v but got %v",
			n.shape, stddev.Shape())
	} else if !stddev.Dtype().Eq(n.dt) {
		return fmt.Errorf("expected stddev to have dtype %v but got %v",
			n.dt, stddev.Dtype())
	}

	return nil
}

// NormalRand returns a node that draws numSamples fresh normal
// variates per element of mean and stddev on each evaluation, with
// output shape (numSamples, *mean.Shape()). The node is not
// differentiable.
func NormalRand(mean, stddev *G.Node, seed uint64,
	numSamples int) (*G.Node, error) {
	if mean.Dtype() != stddev.Dtype() {
		return nil, fmt.Errorf("normalRand: mean and stddev should have "+
			"same dtype but got %v and %v", mean.Dtype(), stddev.Dtype())
	}

	if !mean.Shape().Eq(stddev.Shape()) {
		return nil, fmt.Errorf("normalRand: mean and stddev should have "+
			"same shape but got %v and %v", mean.Shape(), stddev.Shape())
	}

	n, err := newNormalSampleOp(mean.Dtype(), seed, numSamples,
		mean.Shape()...)
	if err != nil {
		return nil, fmt.Errorf("normalRand: %v", err)
	}

	return G.ApplyOp(n, mean, stddev)
}

// standardNormal returns a node of shape (numSamples, *shape) holding
// fresh draws from the standard normal distribution
func standardNormal(g *G.ExprGraph, shape tensor.Shape, seed uint64,
	numSamples int) (*G.Node, error) {
	zero := fullNode(g, "stdNormalMean", 0.0, shape...)
	one := fullNode(g, "stdNormalStdDev", 1.0, shape...)

	return NormalRand(zero, one, seed, numSamples)
}
