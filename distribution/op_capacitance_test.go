package distribution

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// randomSPD fills a (batch, r, r) backing slice with symmetric positive
// definite matrices M·Mᵀ + I
func randomSPD(batch, r int) []float64 {
	backing := make([]float64, batch*r*r)
	for b := 0; b < batch; b++ {
		m := make([]float64, r*r)
		for i := range m {
			m[i] = rand.NormFloat64()
		}

		block := backing[b*r*r : (b+1)*r*r]
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				for k := 0; k < r; k++ {
					block[i*r+j] += m[i*r+k] * m[j*r+k]
				}
			}
			block[i*r+i] += 1.0
		}
	}

	return backing
}

// The node is named so Gorgonia's (dtype, shape, name) interning never
// collapses it into another input of the same shape
func spdNode(g *G.ExprGraph, backing []float64, batch, r int) *G.Node {
	in := tensor.NewDense(
		tensor.Float64,
		[]int{batch, r, r},
		tensor.WithBacking(backing),
	)

	return G.NewTensor(g, tensor.Float64, 3, G.WithName("spd"),
		G.WithValue(in))
}

func TestCapLogDet(t *testing.T) {
	const tolerance float64 = 0.0001
	const batch int = 4
	const r int = 3

	backing := randomSPD(batch, r)

	g := G.NewGraph()
	in := spdNode(g, backing, batch, r)

	logDetNode, err := capLogDet(in)
	if err != nil {
		t.Fatal(err)
	}
	var logDet G.Value
	G.Read(logDetNode, &logDet)

	// The gradient of Σ_b logdet(A_b) with respect to A_b is A_b⁻¹
	cost := G.Must(G.Sum(logDetNode))
	diff, err := G.Grad(cost, in)
	if err != nil {
		t.Fatal(err)
	}
	var computedDiff G.Value
	G.Read(diff[0], &computedDiff)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	output := logDet.Data().([]float64)
	outGrad := computedDiff.Data().([]float64)
	var chol mat.Cholesky
	for b := 0; b < batch; b++ {
		sym := symmetrize(backing[b*r*r:(b+1)*r*r], r)
		if ok := chol.Factorize(sym); !ok {
			t.Fatalf("test matrix %v is not positive definite", b)
		}

		expected := chol.LogDet()
		if math.Abs(output[b]-expected) > tolerance {
			t.Errorf("incorrect value\nexpected: %v \nreceived:%v",
				expected, output[b])
		}

		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				got := outGrad[b*r*r+i*r+j]
				if math.Abs(got-inv.At(i, j)) > tolerance {
					t.Errorf("incorrect gradient value\nexpected: %v "+
						"\nreceived:%v", inv.At(i, j), got)
				}
			}
		}
	}
}

func TestCapInverse(t *testing.T) {
	const tolerance float64 = 0.0001
	const batch int = 3
	const r int = 4

	backing := randomSPD(batch, r)

	// Random symmetric weighting for the scalar cost Σ J ⊙ A⁻¹, whose
	// gradient with respect to A is -A⁻¹ J A⁻¹
	weights := make([]float64, batch*r*r)
	for b := 0; b < batch; b++ {
		for i := 0; i < r; i++ {
			for j := i; j < r; j++ {
				v := rand.NormFloat64()
				weights[b*r*r+i*r+j] = v
				weights[b*r*r+j*r+i] = v
			}
		}
	}

	g := G.NewGraph()
	in := spdNode(g, backing, batch, r)

	invNode, err := capInverse(in)
	if err != nil {
		t.Fatal(err)
	}
	var computed G.Value
	G.Read(invNode, &computed)

	weightTensor := tensor.NewDense(
		tensor.Float64,
		[]int{batch, r, r},
		tensor.WithBacking(weights),
	)
	jNode := G.NewTensor(g, tensor.Float64, 3, G.WithName("weights"),
		G.WithValue(weightTensor))

	cost := G.Must(G.Sum(G.Must(G.HadamardProd(invNode, jNode))))
	diff, err := G.Grad(cost, in)
	if err != nil {
		t.Fatal(err)
	}
	var computedDiff G.Value
	G.Read(diff[0], &computedDiff)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	output := computed.Data().([]float64)
	outGrad := computedDiff.Data().([]float64)
	var chol mat.Cholesky
	for b := 0; b < batch; b++ {
		sym := symmetrize(backing[b*r*r:(b+1)*r*r], r)
		if ok := chol.Factorize(sym); !ok {
			t.Fatalf("test matrix %v is not positive definite", b)
		}
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				got := output[b*r*r+i*r+j]
				if math.Abs(got-inv.At(i, j)) > tolerance {
					t.Errorf("incorrect value\nexpected: %v \nreceived:%v",
						inv.At(i, j), got)
				}
			}
		}

		jMat := mat.NewDense(r, r, weights[b*r*r:(b+1)*r*r])
		var left, expected mat.Dense
		left.Mul(&inv, jMat)
		expected.Mul(&left, &inv)
		expected.Scale(-1.0, &expected)

		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				got := outGrad[b*r*r+i*r+j]
				if math.Abs(got-expected.At(i, j)) > tolerance {
					t.Errorf("incorrect gradient value\nexpected: %v "+
						"\nreceived:%v", expected.At(i, j), got)
				}
			}
		}
	}
}

// TestCapOpsOneByOne checks both kernels and their gradients on 1 x 1
// blocks, the block size a rank-1 covariance factor produces
func TestCapOpsOneByOne(t *testing.T) {
	const tolerance float64 = 1e-10
	const batch int = 2

	backing := []float64{2.0, 4.0}

	g := G.NewGraph()
	in := spdNode(g, backing, batch, 1)

	logDetNode, err := capLogDet(in)
	if err != nil {
		t.Fatal(err)
	}
	invNode, err := capInverse(in)
	if err != nil {
		t.Fatal(err)
	}
	var logDet, inv G.Value
	G.Read(logDetNode, &logDet)
	G.Read(invNode, &inv)

	cost := G.Must(G.Add(G.Must(G.Sum(logDetNode)),
		G.Must(G.Sum(invNode))))
	diff, err := G.Grad(cost, in)
	if err != nil {
		t.Fatal(err)
	}
	var computedDiff G.Value
	G.Read(diff[0], &computedDiff)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	logDetData := logDet.Data().([]float64)
	invData := inv.Data().([]float64)
	gradData := computedDiff.Data().([]float64)
	for b := 0; b < batch; b++ {
		a := backing[b]
		if math.Abs(logDetData[b]-math.Log(a)) > tolerance {
			t.Errorf("incorrect value\nexpected: %v \nreceived:%v",
				math.Log(a), logDetData[b])
		}
		if math.Abs(invData[b]-1.0/a) > tolerance {
			t.Errorf("incorrect value\nexpected: %v \nreceived:%v", 1.0/a,
				invData[b])
		}

		// d/da (log a + 1/a) = 1/a - 1/a²
		expectedGrad := 1.0/a - 1.0/(a*a)
		if math.Abs(gradData[b]-expectedGrad) > tolerance {
			t.Errorf("incorrect gradient value\nexpected: %v \nreceived:%v",
				expectedGrad, gradData[b])
		}
	}
}

// TestCapLogDetNotPositiveDefinite ensures factorizing an indefinite
// matrix fails at run time rather than returning garbage
func TestCapLogDetNotPositiveDefinite(t *testing.T) {
	backing := []float64{
		1.0, 0.0,
		0.0, -1.0,
	}

	g := G.NewGraph()
	in := spdNode(g, backing, 1, 2)

	logDetNode, err := capLogDet(in)
	if err != nil {
		t.Fatal(err)
	}
	var computed G.Value
	G.Read(logDetNode, &computed)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err == nil {
		t.Error("expected an error when factorizing an indefinite matrix")
	}
}

func TestCapOpInvalidShapes(t *testing.T) {
	g := G.NewGraph()

	// Non-square blocks
	rect := G.NewTensor(
		g,
		tensor.Float64,
		3,
		G.WithName("rect"),
		G.WithShape(2, 3, 4),
		G.WithInit(G.Zeroes()),
	)
	if _, err := capLogDet(rect); err == nil {
		t.Error("expected an error for non-square blocks")
	}
	if _, err := capInverse(rect); err == nil {
		t.Error("expected an error for non-square blocks")
	}

	// Missing batch dimension
	square := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("square"),
		G.WithShape(3, 3),
		G.WithInit(G.Zeroes()),
	)
	if _, err := capLogDet(square); err == nil {
		t.Error("expected an error for a 2-dimensional input")
	}
}
