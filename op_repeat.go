package gomvn

import (
	"fmt"
	"hash"

	"github.com/chewxy/hm"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// repeatOp repeats each element of its input repeats times along axis,
// following the semantics of tensor.Repeat. The gradient of an output
// element flows back to the input element it was copied from, so the
// input gradient is the group-sum of the output gradient.
type repeatOp struct {
	axis    int
	repeats int
}

func newRepeatOp(axis int, repeats int) (*repeatOp, error) {
	if repeats < 1 {
		return nil, fmt.Errorf("newRepeatOp: expected repeats to be > 0, "+
			"got %v", repeats)
	}
	if axis < 0 {
		return nil, fmt.Errorf("newRepeatOp: expected axis to be >= 0, "+
			"got %v", axis)
	}

	return &repeatOp{
		axis:    axis,
		repeats: repeats,
	}, nil
}

func (r *repeatOp) Arity() int { return 1 }

func (r *repeatOp) Type() hm.Type {
	// The number of dimensions is unchanged, so the repeat acts like a
	// pointwise operation at the type level
	a := hm.TypeVariable('a')
	return hm.NewFnType(a, a)
}

func (r *repeatOp) OverwritesInput() int { return -1 }

func (r *repeatOp) ReturnsPtr() bool { return false }

func (r *repeatOp) CallsExtern() bool { return false }

func (r *repeatOp) String() string {
	return fmt.Sprintf("Repeat{axis=%v, repeats=%v}()", r.axis, r.repeats)
}

func (r *repeatOp) WriteHash(h hash.Hash) { fmt.Fprint(h, r.String()) }

func (r *repeatOp) Hashcode() uint32 { return SimpleHash(r) }

func (r *repeatOp) InferShape(in ...G.DimSizer) (tensor.Shape, error) {
	err := CheckArity(r, len(in))
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}
	if in[0] == nil {
		return nil, fmt.Errorf("inferShape: nil input")
	}

	shape := in[0].(tensor.Shape).Clone()
	if r.axis >= len(shape) {
		return nil, fmt.Errorf("inferShape: axis [%v] out of range for "+
			"shape %v", r.axis, shape)
	}
	shape[r.axis] *= r.repeats

	return shape, nil
}

func (r *repeatOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := r.checkInputs(inputs...); err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	input := inputs[0].(tensor.Tensor)

	return tensor.Repeat(input, r.axis, r.repeats)
}

// SymDiff sums the output gradient over each group of repeated
// elements by splitting the repeated axis into (original, repeats) and
// reducing the repeats axis
func (r *repeatOp) SymDiff(inputs G.Nodes, output, grad *G.Node) (G.Nodes,
	error) {
	err := CheckArity(r, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("symDiff: %v", err)
	}

	inShape := inputs[0].Shape()
	split := make(tensor.Shape, 0, len(inShape)+1)
	split = append(split, inShape[:r.axis+1]...)
	split = append(split, r.repeats)
	split = append(split, inShape[r.axis+1:]...)

	regrouped, err := G.Reshape(grad, split)
	if err != nil {
		return nil, fmt.Errorf("symDiff: could not regroup gradient: %v",
			err)
	}

	summed, err := G.Sum(regrouped, r.axis+1)
	if err != nil {
		return nil, fmt.Errorf("symDiff: could not reduce gradient "+
			"groups: %v", err)
	}

	return G.Nodes{summed}, nil
}

// DiffWRT returns which inputs the operation is differentiable with
// respect to
func (r *repeatOp) DiffWRT(inputs int) []bool {
	if inputs != 1 {
		panic(fmt.Sprintf("repeat operator only supports one input, got "+
			"%d instead", inputs))
	}
	return []bool{true}
}

func (r *repeatOp) checkInputs(inputs ...G.Value) error {
	if err := CheckArity(r, len(inputs)); err != nil {
		return err
	}

	t, ok := inputs[0].(tensor.Tensor)
	if !ok {
		return fmt.Errorf("expected tensor, received %T", inputs[0])
	} else if t == nil {
		return fmt.Errorf("cannot repeat nil tensor")
	} else if t.Size() == 0 {
		return fmt.Errorf("cannot repeat empty tensor")
	} else if r.axis >= len(t.Shape()) {
		return fmt.Errorf("axis [%v] out of range for tensor with shape %v",
			r.axis, t.Shape())
	}

	return nil
}
