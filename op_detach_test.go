package gomvn

import (
	"math/rand"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestDetachForward(t *testing.T) {
	const size int = 8

	backing := make([]float64, size)
	for i := range backing {
		backing[i] = rand.Float64()
	}

	g := G.NewGraph()
	inTensor := tensor.NewDense(
		tensor.Float64,
		[]int{size},
		tensor.WithBacking(backing),
	)
	in := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("in"),
		G.WithValue(inTensor),
	)

	detached, err := Detach(in)
	if err != nil {
		t.Error(err)
	}
	var computed G.Value
	G.Read(detached, &computed)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	output := computed.Data().([]float64)
	for i := range backing {
		if output[i] != backing[i] {
			t.Errorf("expected %v but got %v", backing[i], output[i])
		}
	}
}

func TestDetachBlocksGradient(t *testing.T) {
	g := G.NewGraph()
	in := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("in"),
		G.WithShape(4),
		G.WithInit(G.Ones()),
	)

	detached, err := Detach(in)
	if err != nil {
		t.Error(err)
	}

	cost := G.Must(G.Sum(detached))

	// The only path from the cost to in runs through the detach, so no
	// gradient should exist
	if _, err := G.Grad(cost, in); err == nil {
		t.Error("expected gradient through a detached node to fail")
	}
}
