package gomvn

import (
	"fmt"
	"hash"
	"math"

	"github.com/chewxy/hm"
	"github.com/chewxy/math32"
	sfmath32 "github.com/samuelfneumann/math32"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// pointwiseFn is a differentiable scalar function applied element-wise
// by a pointwiseOp. The df kernels evaluate the derivative at the
// input value.
type pointwiseFn struct {
	name string
	f64  func(float64) float64
	f32  func(float32) float32
	df64 func(float64) float64
	df32 func(float32) float32
}

var erfFn = &pointwiseFn{
	name: "Erf",
	f64:  math.Erf,
	f32: func(x float32) float32 {
		return float32(math.Erf(float64(x)))
	},
	df64: func(x float64) float64 {
		return 2.0 / math.Sqrt(math.Pi) * math.Exp(-x*x)
	},
	df32: func(x float32) float32 {
		return 2.0 / math32.Sqrt(math32.Pi) * math32.Exp(-x*x)
	},
}

var erfinvFn = &pointwiseFn{
	name: "Erfinv",
	f64:  math.Erfinv,
	f32:  sfmath32.Erfinv,
	df64: func(x float64) float64 {
		y := math.Erfinv(x)
		return 0.5 * math.Sqrt(math.Pi) * math.Exp(y*y)
	},
	df32: func(x float32) float32 {
		y := sfmath32.Erfinv(x)
		return 0.5 * math32.Sqrt(math32.Pi) * math32.Exp(y*y)
	},
}

var softplusFn = &pointwiseFn{
	name: "Softplus",
	f64:  softplus64,
	f32:  softplus32,
	df64: sigmoid64,
	df32: sigmoid32,
}

// softplus64 computes log(1 + exp(x)) without overflowing for large x
func softplus64(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func softplus32(x float32) float32 {
	if x > 0 {
		return x + math32.Log1p(math32.Exp(-x))
	}
	return math32.Log1p(math32.Exp(x))
}

// sigmoid64 is the derivative of softplus64
func sigmoid64(x float64) float64 {
	if x >= 0 {
		return 1.0 / (1.0 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1.0 + e)
}

func sigmoid32(x float32) float32 {
	if x >= 0 {
		return 1.0 / (1.0 + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1.0 + e)
}

// pointwiseOp applies a pointwiseFn element-wise to a scalar or tensor
// node. It supports tensor.Float64 and tensor.Float32.
type pointwiseOp struct {
	fn *pointwiseFn
}

func (p *pointwiseOp) Arity() int { return 1 }

func (p *pointwiseOp) Type() hm.Type {
	// All pointwise unary operations have this type:
	// op :: (Arithable a) => a -> a
	a := hm.TypeVariable('a')
	return hm.NewFnType(a, a)
}

func (p *pointwiseOp) ReturnsPtr() bool { return false }

func (p *pointwiseOp) CallsExtern() bool { return false }

func (p *pointwiseOp) OverwritesInput() int { return -1 }

func (p *pointwiseOp) String() string { return p.fn.name }

// InferShape returns the output shape as a function of the inputs
func (p *pointwiseOp) InferShape(inputs ...G.DimSizer) (tensor.Shape,
	error) {
	err := CheckArity(p, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}
	if inputs[0] == nil {
		return nil, fmt.Errorf("inferShape: nil input")
	}

	return inputs[0].(tensor.Shape), nil
}

// WriteHash writes the hash of the receiver to a hash struct
func (p *pointwiseOp) WriteHash(h hash.Hash) {
	fmt.Fprintf(h, "%v()", p.fn.name)
}

// Hashcode returns the hash code of the receiver
func (p *pointwiseOp) Hashcode() uint32 { return SimpleHash(p) }

func (p *pointwiseOp) Do(values ...G.Value) (G.Value, error) {
	err := p.checkInputs(values...)
	if err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	switch v := values[0].(type) {
	case *G.F64:
		return G.NewF64(p.fn.f64(float64(*v))), nil

	case *G.F32:
		return G.NewF32(p.fn.f32(float32(*v))), nil

	case tensor.Tensor:
		return p.tensorKernel(v)

	default:
		return nil, fmt.Errorf("do: unable to compute %v on type %T",
			p.fn.name, v)
	}
}

// tensorKernel applies the pointwise function to a fresh tensor of the
// same shape and dtype as v.
func (p *pointwiseOp) tensorKernel(v tensor.Tensor) (G.Value, error) {
	out := tensor.New(
		tensor.WithShape(v.Shape().Clone()...),
		tensor.Of(v.Dtype()),
	)

	switch v.Dtype() {
	case tensor.Float64:
		in := v.Data().([]float64)
		data := out.Data().([]float64)
		for i, elem := range in {
			data[i] = p.fn.f64(elem)
		}

	case tensor.Float32:
		in := v.Data().([]float32)
		data := out.Data().([]float32)
		for i, elem := range in {
			data[i] = p.fn.f32(elem)
		}

	default:
		return nil, fmt.Errorf("tensorKernel: dtype %v unsupported",
			v.Dtype())
	}

	return out, nil
}

// SymDiff constructs the symbolic derivative of the pointwise function
func (p *pointwiseOp) SymDiff(inputs G.Nodes, output,
	grad *G.Node) (G.Nodes, error) {
	err := CheckArity(p, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	diffOp := &pointwiseDiffOp{p.fn}
	nodes := make(G.Nodes, 1)

	nodes[0], err = G.ApplyOp(diffOp, inputs[0], grad)

	return nodes, err
}

// DiffWRT returns which inputs the operation is differentiable with
// respect to
func (p *pointwiseOp) DiffWRT(inputs int) []bool {
	if inputs != 1 {
		panic(fmt.Sprintf("%v operator only supports one input, got %d "+
			"instead", p.fn.name, inputs))
	}
	return []bool{true}
}

// checkInputs returns an error if the input to this Op is invalid
func (p *pointwiseOp) checkInputs(inputs ...G.Value) error {
	if err := CheckArity(p, len(inputs)); err != nil {
		return err
	}

	_, okF64 := inputs[0].(*G.F64)
	_, okF32 := inputs[0].(*G.F32)
	t, okTensor := inputs[0].(tensor.Tensor)

	if okTensor && (len(t.Shape()) <= 0 || t.Size() == 0) {
		return fmt.Errorf("tensor does not have any elements")
	}

	if !(okF64 || okF32 || okTensor) {
		return fmt.Errorf("expected input to be a tensor, got %T", inputs[0])
	}

	return nil
}

// pointwiseDiffOp computes grad ⊙ fn'(x) for the derivative kernel of
// its pointwiseFn
type pointwiseDiffOp struct {
	fn *pointwiseFn
}

func (p *pointwiseDiffOp) Arity() int { return 2 }

func (p *pointwiseDiffOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	return hm.NewFnType(a, a, a)
}

func (p *pointwiseDiffOp) ReturnsPtr() bool { return false }

func (p *pointwiseDiffOp) CallsExtern() bool { return false }

func (p *pointwiseDiffOp) OverwritesInput() int { return -1 }

func (p *pointwiseDiffOp) String() string {
	return fmt.Sprintf("%vDiff()", p.fn.name)
}

func (p *pointwiseDiffOp) InferShape(inputs ...G.DimSizer) (tensor.Shape,
	error) {
	err := CheckArity(p, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}
	if inputs[0] == nil {
		return nil, fmt.Errorf("inferShape: nil input")
	}

	return inputs[0].(tensor.Shape), nil
}

func (p *pointwiseDiffOp) WriteHash(h hash.Hash) {
	fmt.Fprint(h, p.String())
}

func (p *pointwiseDiffOp) Hashcode() uint32 { return SimpleHash(p) }

func (p *pointwiseDiffOp) Do(inputs ...G.Value) (G.Value, error) {
	err := p.checkInputs(inputs...)
	if err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	switch v := inputs[0].(type) {
	case *G.F64:
		grad := float64(*(inputs[1].(*G.F64)))
		return G.NewF64(grad * p.fn.df64(float64(*v))), nil

	case *G.F32:
		grad := float32(*(inputs[1].(*G.F32)))
		return G.NewF32(grad * p.fn.df32(float32(*v))), nil
	}

	x := inputs[0].(tensor.Tensor)
	grad := inputs[1].(tensor.Tensor)

	out := tensor.New(
		tensor.WithShape(x.Shape().Clone()...),
		tensor.Of(x.Dtype()),
	)

	switch x.Dtype() {
	case tensor.Float64:
		in := x.Data().([]float64)
		g := grad.Data().([]float64)
		data := out.Data().([]float64)
		for i, elem := range in {
			data[i] = g[i] * p.fn.df64(elem)
		}

	case tensor.Float32:
		in := x.Data().([]float32)
		g := grad.Data().([]float32)
		data := out.Data().([]float32)
		for i, elem := range in {
			data[i] = g[i] * p.fn.df32(elem)
		}

	default:
		return nil, fmt.Errorf("do: dtype %v unsupported", x.Dtype())
	}

	return out, nil
}

// checkInputs returns an error if the input to this Op is invalid
func (p *pointwiseDiffOp) checkInputs(inputs ...G.Value) error {
	if err := CheckArity(p, len(inputs)); err != nil {
		return err
	}

	_, okF64 := inputs[0].(*G.F64)
	_, okF32 := inputs[0].(*G.F32)
	t, okTensor := inputs[0].(tensor.Tensor)
	var okGrad bool
	if okTensor {
		_, okGrad = inputs[1].(tensor.Tensor)
		if len(t.Shape()) <= 0 || t.Size() == 0 {
			return fmt.Errorf("tensor does not have any elements")
		}
	} else if okF64 {
		_, okGrad = inputs[1].(*G.F64)
	} else if okF32 {
		_, okGrad = inputs[1].(*G.F32)
	}

	if !((okF64 || okF32 || okTensor) && okGrad) {
		return fmt.Errorf("expected input to be a tensor, got %T", inputs[0])
	}

	return nil
}
