package distribution

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// denseCov materializes diag(d) + w·wᵀ for a single batch entry
func denseCov(d, w []float64, dim, rank int) *mat.SymDense {
	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			var v float64
			for k := 0; k < rank; k++ {
				v += w[i*rank+k] * w[j*rank+k]
			}
			if i == j {
				v += d[i]
			}
			cov.SetSym(i, j, v)
		}
	}

	return cov
}

// randomLowRankParams draws random parameter backings with the
// diagonal bounded away from zero
func randomLowRankParams(batch, dim, rank int) (mu, d, w []float64) {
	mu = make([]float64, batch*dim)
	d = make([]float64, batch*dim)
	w = make([]float64, batch*dim*rank)
	for i := range mu {
		mu[i] = rand.NormFloat64()
		d[i] = 0.5 + rand.Float64()
	}
	for i := range w {
		w[i] = rand.NormFloat64()
	}

	return mu, d, w
}

// Input nodes carry explicit names: Gorgonia interns nodes by dtype,
// shape, and name, so unnamed inputs of equal shape would collapse
// into a single node and share one value.
func lowRankNodes(g *G.ExprGraph, mu, d, w []float64, batch, dim,
	rank int) (muNode, dNode, wNode *G.Node) {
	muNode = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("mu"),
		G.WithValue(tensor.NewDense(
			tensor.Float64,
			[]int{batch, dim},
			tensor.WithBacking(mu),
		)),
	)
	dNode = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("d"),
		G.WithValue(tensor.NewDense(
			tensor.Float64,
			[]int{batch, dim},
			tensor.WithBacking(d),
		)),
	)
	wNode = G.NewTensor(
		g,
		tensor.Float64,
		3,
		G.WithName("w"),
		G.WithValue(tensor.NewDense(
			tensor.Float64,
			[]int{batch, dim, rank},
			tensor.WithBacking(w),
		)),
	)

	return muNode, dNode, wNode
}

func TestLowRankNormalLogProb(t *testing.T) {
	const tolerance float64 = 0.0001
	const batch int = 3
	const dim int = 6

	// A rank of one exercises the degenerate factor shapes that the
	// broadcast contractions must keep legal
	for _, rank := range []int{1, 2, 4} {
		mu, d, w := randomLowRankParams(batch, dim, rank)
		x := make([]float64, batch*dim)
		for i := range x {
			x[i] = rand.NormFloat64()
		}

		g := G.NewGraph()
		muNode, dNode, wNode := lowRankNodes(g, mu, d, w, batch, dim, rank)
		xNode := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithName("x"),
			G.WithValue(tensor.NewDense(
				tensor.Float64,
				[]int{batch, dim},
				tensor.WithBacking(x),
			)),
		)

		dist, err := NewLowRankNormal(muNode, dNode, wNode,
			uint64(rand.Int63()))
		if err != nil {
			t.Fatal(err)
		}

		lpNode, err := dist.LogProb(xNode)
		if err != nil {
			t.Fatal(err)
		}
		if !lpNode.Shape().Eq(tensor.Shape{batch}) {
			t.Fatalf("expected shape %v but got %v", tensor.Shape{batch},
				lpNode.Shape())
		}
		var lp G.Value
		G.Read(lpNode, &lp)

		// The log-density should be differentiable with respect to all
		// three parameters, and the backward pass must execute
		cost := G.Must(G.Mean(lpNode))
		grads, err := G.Grad(cost, muNode, dNode, wNode)
		if err != nil {
			t.Fatal(err)
		}
		gradVals := make([]G.Value, len(grads))
		for i := range grads {
			G.Read(grads[i], &gradVals[i])
		}

		vm := G.NewTapeMachine(g)
		if err := vm.RunAll(); err != nil {
			t.Fatalf("rank %v: %v", rank, err)
		}
		vm.Reset()
		vm.Close()

		for i := range gradVals {
			for _, v := range gradVals[i].Data().([]float64) {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Errorf("rank %v: gradient %v is not finite", rank, v)
				}
			}
		}

		output := lp.Data().([]float64)
		for b := 0; b < batch; b++ {
			cov := denseCov(d[b*dim:(b+1)*dim],
				w[b*dim*rank:(b+1)*dim*rank], dim, rank)
			ref, ok := distmv.NewNormal(mu[b*dim:(b+1)*dim], cov, nil)
			if !ok {
				t.Fatalf("reference covariance %v is not positive "+
					"definite", b)
			}

			expected := ref.LogProb(x[b*dim : (b+1)*dim])
			if math.Abs(output[b]-expected) > tolerance {
				t.Errorf("rank %v: incorrect value\nexpected: %v "+
					"\nreceived:%v", rank, expected, output[b])
			}
		}
	}
}

func TestLowRankNormalLogProbSamples(t *testing.T) {
	const tolerance float64 = 0.0001
	const n int = 4
	const batch int = 2
	const dim int = 5
	const rank int = 3

	mu, d, w := randomLowRankParams(batch, dim, rank)
	x := make([]float64, n*batch*dim)
	for i := range x {
		x[i] = rand.NormFloat64()
	}

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, batch, dim, rank)
	xNode := G.NewTensor(
		g,
		tensor.Float64,
		3,
		G.WithName("x"),
		G.WithValue(tensor.NewDense(
			tensor.Float64,
			[]int{n, batch, dim},
			tensor.WithBacking(x),
		)),
	)

	dist, err := NewLowRankNormal(muNode, dNode, wNode, uint64(rand.Int63()))
	if err != nil {
		t.Fatal(err)
	}

	lpNode, err := dist.LogProb(xNode)
	if err != nil {
		t.Fatal(err)
	}
	if !lpNode.Shape().Eq(tensor.Shape{n, batch}) {
		t.Fatalf("expected shape %v but got %v", tensor.Shape{n, batch},
			lpNode.Shape())
	}
	var lp G.Value
	G.Read(lpNode, &lp)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	output := lp.Data().([]float64)
	for b := 0; b < batch; b++ {
		cov := denseCov(d[b*dim:(b+1)*dim], w[b*dim*rank:(b+1)*dim*rank],
			dim, rank)
		ref, ok := distmv.NewNormal(mu[b*dim:(b+1)*dim], cov, nil)
		if !ok {
			t.Fatalf("reference covariance %v is not positive definite", b)
		}

		for s := 0; s < n; s++ {
			point := x[s*batch*dim+b*dim : s*batch*dim+(b+1)*dim]
			expected := ref.LogProb(point)
			if math.Abs(output[s*batch+b]-expected) > tolerance {
				t.Errorf("incorrect value\nexpected: %v \nreceived:%v",
					expected, output[s*batch+b])
			}
		}
	}
}

// TestLowRankNormalKnownDensity pins the density of a unit-mean-free
// distribution with covariance diag(2, 1, 1), realized as an identity
// diagonal plus a rank-1 factor on the first dimension
func TestLowRankNormalKnownDensity(t *testing.T) {
	const tolerance float64 = 1e-10
	const dim int = 3
	const rank int = 1

	mu := []float64{0, 0, 0}
	d := []float64{1, 1, 1}
	w := []float64{1, 0, 0}

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, 1, dim, rank)
	xNode := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("x"),
		G.WithShape(1, dim),
		G.WithInit(G.Zeroes()),
	)

	dist, err := NewLowRankNormal(muNode, dNode, wNode, 0)
	if err != nil {
		t.Fatal(err)
	}

	lpNode, err := dist.LogProb(xNode)
	if err != nil {
		t.Fatal(err)
	}
	var lp G.Value
	G.Read(lpNode, &lp)

	covNode, err := dist.CovarianceMatrix()
	if err != nil {
		t.Fatal(err)
	}
	var cov G.Value
	G.Read(covNode, &cov)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	// |Σ| = 2, so log N(0; 0, Σ) = -½·log((2π)³·2)
	expected := -0.5 * math.Log(math.Pow(2.0*math.Pi, 3.0)*2.0)
	got := lp.Data().([]float64)[0]
	if math.Abs(got-expected) > tolerance {
		t.Errorf("incorrect value\nexpected: %v \nreceived:%v", expected,
			got)
	}

	expectedCov := []float64{
		2, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
	covData := cov.Data().([]float64)
	for i := range expectedCov {
		if math.Abs(covData[i]-expectedCov[i]) > tolerance {
			t.Errorf("incorrect covariance at %v\nexpected: %v "+
				"\nreceived:%v", i, expectedCov[i], covData[i])
		}
	}
}

func TestLowRankNormalMoments(t *testing.T) {
	const tolerance float64 = 0.0001
	const batch int = 2
	const dim int = 4
	const rank int = 2

	mu, d, w := randomLowRankParams(batch, dim, rank)

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, batch, dim, rank)

	dist, err := NewLowRankNormal(muNode, dNode, wNode, uint64(rand.Int63()))
	if err != nil {
		t.Fatal(err)
	}

	var variance, stddev, cov G.Value
	G.Read(dist.Variance(), &variance)
	G.Read(dist.StdDev(), &stddev)

	covNode, err := dist.CovarianceMatrix()
	if err != nil {
		t.Fatal(err)
	}
	G.Read(covNode, &cov)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	varData := variance.Data().([]float64)
	stdData := stddev.Data().([]float64)
	covData := cov.Data().([]float64)
	for b := 0; b < batch; b++ {
		dense := denseCov(d[b*dim:(b+1)*dim], w[b*dim*rank:(b+1)*dim*rank],
			dim, rank)

		for i := 0; i < dim; i++ {
			expected := dense.At(i, i)
			if math.Abs(varData[b*dim+i]-expected) > tolerance {
				t.Errorf("incorrect variance\nexpected: %v \nreceived:%v",
					expected, varData[b*dim+i])
			}
			if math.Abs(stdData[b*dim+i]-math.Sqrt(expected)) > tolerance {
				t.Errorf("incorrect stddev\nexpected: %v \nreceived:%v",
					math.Sqrt(expected), stdData[b*dim+i])
			}

			for j := 0; j < dim; j++ {
				got := covData[b*dim*dim+i*dim+j]
				if math.Abs(got-dense.At(i, j)) > tolerance {
					t.Errorf("incorrect covariance\nexpected: %v "+
						"\nreceived:%v", dense.At(i, j), got)
				}
			}
		}
	}
}

func TestLowRankNormalEntropy(t *testing.T) {
	const tolerance float64 = 0.0001
	const batch int = 3
	const dim int = 5
	const rank int = 2

	mu, d, w := randomLowRankParams(batch, dim, rank)

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, batch, dim, rank)

	dist, err := NewLowRankNormal(muNode, dNode, wNode, uint64(rand.Int63()))
	if err != nil {
		t.Fatal(err)
	}

	entropyNode, err := dist.Entropy()
	if err != nil {
		t.Fatal(err)
	}
	var entropy G.Value
	G.Read(entropyNode, &entropy)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	output := entropy.Data().([]float64)
	var chol mat.Cholesky
	for b := 0; b < batch; b++ {
		cov := denseCov(d[b*dim:(b+1)*dim], w[b*dim*rank:(b+1)*dim*rank],
			dim, rank)
		if ok := chol.Factorize(cov); !ok {
			t.Fatalf("reference covariance %v is not positive definite", b)
		}

		expected := 0.5 * (float64(dim)*(1.0+math.Log(2.0*math.Pi)) +
			chol.LogDet())
		if math.Abs(output[b]-expected) > tolerance {
			t.Errorf("incorrect value\nexpected: %v \nreceived:%v",
				expected, output[b])
		}
	}
}

// TestLowRankNormalZeroFactor checks that a zero covariance factor
// degenerates to an independent normal with stddev √d
func TestLowRankNormalZeroFactor(t *testing.T) {
	const tolerance float64 = 0.0001
	const batch int = 2
	const dim int = 4
	const rank int = 3

	mu, d, _ := randomLowRankParams(batch, dim, rank)
	w := make([]float64, batch*dim*rank)
	sigma := make([]float64, batch*dim)
	for i := range sigma {
		sigma[i] = math.Sqrt(d[i])
	}
	x := make([]float64, batch*dim)
	for i := range x {
		x[i] = rand.NormFloat64()
	}

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, batch, dim, rank)
	sigmaNode := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("sigma"),
		G.WithValue(tensor.NewDense(
			tensor.Float64,
			[]int{batch, dim},
			tensor.WithBacking(sigma),
		)),
	)
	xNode := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("x"),
		G.WithValue(tensor.NewDense(
			tensor.Float64,
			[]int{batch, dim},
			tensor.WithBacking(x),
		)),
	)

	lowRank, err := NewLowRankNormal(muNode, dNode, wNode, 0)
	if err != nil {
		t.Fatal(err)
	}
	independent, err := NewIndependentNormal(muNode, sigmaNode, 0)
	if err != nil {
		t.Fatal(err)
	}

	lowRankLp, err := lowRank.LogProb(xNode)
	if err != nil {
		t.Fatal(err)
	}
	independentLp, err := independent.LogProb(xNode)
	if err != nil {
		t.Fatal(err)
	}

	var got, expected G.Value
	G.Read(lowRankLp, &got)
	G.Read(independentLp, &expected)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	gotData := got.Data().([]float64)
	expectedData := expected.Data().([]float64)
	for b := 0; b < batch; b++ {
		if math.Abs(gotData[b]-expectedData[b]) > tolerance {
			t.Errorf("incorrect value\nexpected: %v \nreceived:%v",
				expectedData[b], gotData[b])
		}
	}
}

func TestLowRankNormalRsampleMoments(t *testing.T) {
	const samples int = 30000
	const dim int = 3
	const rank int = 2
	const tolerance float64 = 0.1

	mu := []float64{-0.5, 0.0, 1.0}
	d := []float64{0.8, 1.2, 0.6}
	w := []float64{
		0.5, -0.3,
		0.2, 0.7,
		-0.4, 0.1,
	}

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, 1, dim, rank)

	dist, err := NewLowRankNormal(muNode, dNode, wNode, uint64(rand.Int63()))
	if err != nil {
		t.Fatal(err)
	}

	out, err := dist.Rsample(samples)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{samples, 1, dim}) {
		t.Fatalf("expected shape %v but got %v",
			tensor.Shape{samples, 1, dim}, out.Shape())
	}
	var computed G.Value
	G.Read(out, &computed)

	// Gradients must flow back to the parameters
	cost := G.Must(G.Mean(out))
	if _, err := G.Grad(cost, muNode, dNode, wNode); err != nil {
		t.Fatal(err)
	}

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	data := computed.Data().([]float64)
	empMean := make([]float64, dim)
	for s := 0; s < samples; s++ {
		for i := 0; i < dim; i++ {
			empMean[i] += data[s*dim+i]
		}
	}
	for i := range empMean {
		empMean[i] /= float64(samples)
		if math.Abs(empMean[i]-mu[i]) > tolerance {
			t.Errorf("incorrect empirical mean\nexpected: %v \nreceived:%v",
				mu[i], empMean[i])
		}
	}

	cov := denseCov(d, w, dim, rank)
	empCov := make([]float64, dim*dim)
	for s := 0; s < samples; s++ {
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				empCov[i*dim+j] += (data[s*dim+i] - empMean[i]) *
					(data[s*dim+j] - empMean[j])
			}
		}
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			got := empCov[i*dim+j] / float64(samples)
			if math.Abs(got-cov.At(i, j)) > tolerance {
				t.Errorf("incorrect empirical covariance\nexpected: %v "+
					"\nreceived:%v", cov.At(i, j), got)
			}
		}
	}
}

// TestLowRankNormalRsampleRankOne draws reparameterized samples with a
// single-column covariance factor, where both the sampling transform
// and its backward pass work on one-wide factor shapes
func TestLowRankNormalRsampleRankOne(t *testing.T) {
	const samples int = 30000
	const dim int = 3
	const rank int = 1
	const tolerance float64 = 0.1

	mu := []float64{1.0, -1.0, 0.5}
	d := []float64{0.7, 1.1, 0.9}
	w := []float64{0.6, -0.2, 0.3}

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, 1, dim, rank)

	dist, err := NewLowRankNormal(muNode, dNode, wNode, uint64(rand.Int63()))
	if err != nil {
		t.Fatal(err)
	}

	out, err := dist.Rsample(samples)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{samples, 1, dim}) {
		t.Fatalf("expected shape %v but got %v",
			tensor.Shape{samples, 1, dim}, out.Shape())
	}
	var computed G.Value
	G.Read(out, &computed)

	cost := G.Must(G.Mean(out))
	grads, err := G.Grad(cost, muNode, dNode, wNode)
	if err != nil {
		t.Fatal(err)
	}
	gradVals := make([]G.Value, len(grads))
	for i := range grads {
		G.Read(grads[i], &gradVals[i])
	}

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	for i := range gradVals {
		for _, v := range gradVals[i].Data().([]float64) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("gradient %v is not finite", v)
			}
		}
	}

	data := computed.Data().([]float64)
	empMean := make([]float64, dim)
	for s := 0; s < samples; s++ {
		for i := 0; i < dim; i++ {
			empMean[i] += data[s*dim+i]
		}
	}
	for i := range empMean {
		empMean[i] /= float64(samples)
		if math.Abs(empMean[i]-mu[i]) > tolerance {
			t.Errorf("incorrect empirical mean\nexpected: %v \nreceived:%v",
				mu[i], empMean[i])
		}
	}

	cov := denseCov(d, w, dim, rank)
	empCov := make([]float64, dim*dim)
	for s := 0; s < samples; s++ {
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				empCov[i*dim+j] += (data[s*dim+i] - empMean[i]) *
					(data[s*dim+j] - empMean[j])
			}
		}
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			got := empCov[i*dim+j] / float64(samples)
			if math.Abs(got-cov.At(i, j)) > tolerance {
				t.Errorf("incorrect empirical covariance\nexpected: %v "+
					"\nreceived:%v", cov.At(i, j), got)
			}
		}
	}
}

// TestLowRankNormalSampleNoGrad ensures Sample severs the gradient path
// to the distribution parameters while Rsample keeps it
func TestLowRankNormalSampleNoGrad(t *testing.T) {
	const batch int = 2
	const dim int = 3
	const rank int = 1

	mu, d, w := randomLowRankParams(batch, dim, rank)

	g := G.NewGraph()
	muNode, dNode, wNode := lowRankNodes(g, mu, d, w, batch, dim, rank)

	dist, err := NewLowRankNormal(muNode, dNode, wNode, uint64(rand.Int63()))
	if err != nil {
		t.Fatal(err)
	}
	if !dist.HasRsample() {
		t.Error("expected reparameterized sampling to be supported")
	}

	out, err := dist.Sample(5)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{5, batch, dim}) {
		t.Fatalf("expected shape %v but got %v",
			tensor.Shape{5, batch, dim}, out.Shape())
	}

	cost := G.Must(G.Mean(out))
	if _, err := G.Grad(cost, muNode); err == nil {
		t.Error("expected an error when differentiating through Sample")
	}
}

func TestLowRankNormalShapeErrors(t *testing.T) {
	g := G.NewGraph()

	mu := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("mu"),
		G.WithShape(2, 3),
		G.WithInit(G.Zeroes()),
	)
	d := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("dBad"),
		G.WithShape(2, 4),
		G.WithInit(G.Ones()),
	)
	w := G.NewTensor(
		g,
		tensor.Float64,
		3,
		G.WithName("w"),
		G.WithShape(2, 3, 1),
		G.WithInit(G.Zeroes()),
	)

	var shapeErr *ShapeError
	if _, err := NewLowRankNormal(mu, d, w, 0); !errors.As(err, &shapeErr) {
		t.Errorf("expected a shape error for mismatched d but got %v", err)
	}

	dOk := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("d"),
		G.WithShape(2, 3),
		G.WithInit(G.Ones()),
	)
	wWrong := G.NewTensor(
		g,
		tensor.Float64,
		3,
		G.WithName("wBad"),
		G.WithShape(2, 4, 1),
		G.WithInit(G.Zeroes()),
	)
	if _, err := NewLowRankNormal(mu, dOk, wWrong, 0); !errors.As(err,
		&shapeErr) {
		t.Errorf("expected a shape error for mismatched w but got %v", err)
	}

	dist, err := NewLowRankNormal(mu, dOk, w, 0)
	if err != nil {
		t.Fatal(err)
	}

	xWrong := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("xBad"),
		G.WithShape(2, 4),
		G.WithInit(G.Zeroes()),
	)
	if _, err := dist.LogProb(xWrong); !errors.As(err, &shapeErr) {
		t.Errorf("expected a shape error for mismatched x but got %v", err)
	}
}

// TestLowRankNormalVectorParams checks that vector parameters are
// promoted to a batch of one
func TestLowRankNormalVectorParams(t *testing.T) {
	const dim int = 3
	const rank int = 2

	g := G.NewGraph()
	mu := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("mu"),
		G.WithShape(dim),
		G.WithInit(G.Zeroes()),
	)
	d := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("d"),
		G.WithShape(dim),
		G.WithInit(G.Ones()),
	)
	w := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("w"),
		G.WithShape(dim, rank),
		G.WithInit(G.Zeroes()),
	)

	dist, err := NewLowRankNormal(mu, d, w, 0)
	if err != nil {
		t.Fatal(err)
	}

	if !dist.BatchShape().Eq(tensor.Shape{1}) {
		t.Errorf("expected batch shape %v but got %v", tensor.Shape{1},
			dist.BatchShape())
	}
	if !dist.EventShape().Eq(tensor.Shape{dim}) {
		t.Errorf("expected event shape %v but got %v", tensor.Shape{dim},
			dist.EventShape())
	}
	if dist.EventDim() != 1 {
		t.Errorf("expected event dim 1 but got %v", dist.EventDim())
	}
	if dist.Rank() != rank {
		t.Errorf("expected rank %v but got %v", rank, dist.Rank())
	}
}
