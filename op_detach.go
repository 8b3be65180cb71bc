package gomvn

import (
	"fmt"
	"hash"

	"github.com/chewxy/hm"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// detachOp is the identity operation with the gradient path severed.
// Any node behind a detachOp is invisible to backpropagation, which is
// how non-reparameterized sampling detaches distribution parameters at
// the sampling boundary.
type detachOp struct{}

func newDetachOp() G.Op { return &detachOp{} }

func (d *detachOp) Arity() int { return 1 }

func (d *detachOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	return hm.NewFnType(a, a)
}

func (d *detachOp) Do(values ...G.Value) (G.Value, error) {
	if err := d.checkInputs(values...); err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	return values[0], nil
}

func (d *detachOp) ReturnsPtr() bool { return true }

func (d *detachOp) CallsExtern() bool { return false }

func (d *detachOp) OverwritesInput() int { return 0 }

func (d *detachOp) String() string { return "Detach" }

// InferShape returns the output shape as a function of the inputs
func (d *detachOp) InferShape(inputs ...G.DimSizer) (tensor.Shape, error) {
	err := CheckArity(d, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("inferShape: %v", err)
	}
	if inputs[0] == nil {
		return nil, fmt.Errorf("inferShape: nil input")
	}

	return inputs[0].(tensor.Shape), nil
}

// WriteHash writes the hash of the receiver to a hash struct
func (d *detachOp) WriteHash(h hash.Hash) { fmt.Fprint(h, "Detach()") }

// Hashcode returns the hash code of the receiver
func (d *detachOp) Hashcode() uint32 { return SimpleHash(d) }

// SymDiff is never called because DiffWRT marks the input as
// non-differentiable
func (d *detachOp) SymDiff(inputs G.Nodes, output, grad *G.Node) (G.Nodes,
	error) {
	return nil, fmt.Errorf("symDiff: detach is not differentiable")
}

// DiffWRT reports that the operation is not differentiable with
// respect to its input
func (d *detachOp) DiffWRT(inputs int) []bool {
	if inputs != 1 {
		panic(fmt.Sprintf("detach operator only supports one input, got "+
			"%d instead", inputs))
	}
	return []bool{false}
}

func (d *detachOp) checkInputs(inputs ...G.Value) error {
	if err := CheckArity(d, len(inputs)); err != nil {
		return err
	}

	if inputs[0] == nil {
		return fmt.Errorf("cannot detach nil value")
	}

	return nil
}
