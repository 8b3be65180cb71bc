package distribution

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gomvn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LowRankNormal is a batch of multivariate normal distributions whose
// covariance matrix has the low-rank-plus-diagonal form
//
//	Σ = diag(D) + W·Wᵀ
//
// with D a positive (batch, dim) diagonal and W an unconstrained
// (batch, dim, rank) factor. The full Σ is never formed: the
// log-density uses the matrix determinant lemma and the Woodbury
// identity
//
//	log|Σ| = Σ_i log D_i + log|I_r + Wᵀ diag(D)⁻¹ W|
//	Σ⁻¹   = D⁻¹ - D⁻¹ W (I_r + Wᵀ D⁻¹ W)⁻¹ Wᵀ D⁻¹
//
// so each evaluation costs O(dim·rank² + rank³) per batch entry
// instead of O(dim³). Only CovarianceMatrix materializes Σ.
//
// A vector mean of shape (dim,) with W of shape (dim, rank) is
// treated as a batch of one. Only tensor.Float64 is supported.
type LowRankNormal struct {
	mu *G.Node // (batch, dim)
	d  *G.Node // (batch, dim), strictly positive
	w  *G.Node // (batch, dim, rank)

	dim  int
	rank int
	seed uint64
}

// NewLowRankNormal returns a new LowRankNormal with mean mu, diagonal
// d, and low-rank covariance factor w. The diagonal must be strictly
// positive; constructing it with the LowRankArgProj domain map
// guarantees this.
func NewLowRankNormal(mu, d, w *G.Node, seed uint64) (*LowRankNormal,
	error) {
	if mu.Dtype() != tensor.Float64 || d.Dtype() != tensor.Float64 ||
		w.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("newLowRankNormal: data types %v, %v, %v "+
			"unsupported", mu.Dtype(), d.Dtype(), w.Dtype())
	}

	var err error
	if mu.Dims() == 1 {
		if mu, err = G.Reshape(mu, tensor.Shape{1, mu.Shape()[0]}); err != nil {
			return nil, fmt.Errorf("newLowRankNormal: could not expand "+
				"mu: %v", err)
		}
	}
	if d.Dims() == 1 {
		if d, err = G.Reshape(d, tensor.Shape{1, d.Shape()[0]}); err != nil {
			return nil, fmt.Errorf("newLowRankNormal: could not expand "+
				"d: %v", err)
		}
	}
	if w.Dims() == 2 {
		shape := append(tensor.Shape{1}, w.Shape()...)
		if w, err = G.Reshape(w, shape); err != nil {
			return nil, fmt.Errorf("newLowRankNormal: could not expand "+
				"w: %v", err)
		}
	}

	if mu.Dims() != 2 {
		return nil, shapeErrorf("newLowRankNormal: expected mu to have "+
			"shape (batch, dim) but got %v", mu.Shape())
	}
	if !d.Shape().Eq(mu.Shape()) {
		return nil, shapeErrorf("newLowRankNormal: expected d to have "+
			"shape %v but got %v", mu.Shape(), d.Shape())
	}
	if w.Dims() != 3 {
		return nil, shapeErrorf("newLowRankNormal: expected w to have "+
			"shape (batch, dim, rank) but got %v", w.Shape())
	}
	if w.Shape()[0] != mu.Shape()[0] || w.Shape()[1] != mu.Shape()[1] {
		return nil, shapeErrorf("newLowRankNormal: expected w to have "+
			"leading shape %v but got %v", mu.Shape(), w.Shape())
	}
	if w.Shape()[2] < 1 {
		return nil, shapeErrorf("newLowRankNormal: expected rank to be "+
			">= 1 but got %v", w.Shape()[2])
	}

	return &LowRankNormal{
		mu:   mu,
		d:    d,
		w:    w,
		dim:  mu.Shape()[1],
		rank: w.Shape()[2],
		seed: seed,
	}, nil
}

// Dim returns the dimensionality of a single observation
func (l *LowRankNormal) Dim() int { return l.dim }

// Rank returns the rank of the covariance factor
func (l *LowRankNormal) Rank() int { return l.rank }

func (l *LowRankNormal) BatchShape() tensor.Shape {
	return tensor.Shape{l.mu.Shape()[0]}
}

func (l *LowRankNormal) EventShape() tensor.Shape {
	return tensor.Shape{l.dim}
}

func (l *LowRankNormal) EventDim() int { return 1 }

// Mean returns the mean of the distribution(s) stored by the receiver
func (l *LowRankNormal) Mean() *G.Node { return l.mu }

// Variance returns the per-dimension marginal variance
// D + Σ_r W², computed without forming the covariance matrix
func (l *LowRankNormal) Variance() *G.Node {
	wSq := G.Must(G.HadamardProd(l.w, l.w))
	rowNorm := G.Must(G.Sum(wSq, 2))

	return G.Must(G.Add(l.d, rowNorm))
}

// StdDev returns the per-dimension marginal standard deviation
func (l *LowRankNormal) StdDev() *G.Node {
	return G.Must(G.Sqrt(l.Variance()))
}

// CovarianceMatrix materializes diag(D) + W·Wᵀ with shape
// (batch, dim, dim). This is an O(dim²·rank) operation and exists for
// diagnostics only; every other method avoids it.
func (l *LowRankNormal) CovarianceMatrix() (*G.Node, error) {
	batch := l.mu.Shape()[0]

	wT, err := G.Transpose(l.w, 0, 2, 1)
	if err != nil {
		return nil, fmt.Errorf("covarianceMatrix: %v", err)
	}

	wwT, err := batchMul(l.w, wT)
	if err != nil {
		return nil, fmt.Errorf("covarianceMatrix: %v", err)
	}

	eye := eyeBatchNode(l.mu.Graph(), batch, l.dim)
	dRow := G.Must(G.Reshape(l.d, tensor.Shape{batch, 1, l.dim}))
	diag := G.Must(G.BroadcastHadamardProd(eye, dRow, nil, []byte{1}))

	return G.Add(wwT, diag)
}

// LogProb returns the log probability density of x, which must have
// shape (batch, dim) or (n, batch, dim). The output has shape
// (batch,), or (n, batch) respectively.
func (l *LowRankNormal) LogProb(x *G.Node) (*G.Node, error) {
	x, mu, d, w, n, err := l.broadcastParams(x)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	lp, err := l.logDensity(x, mu, d, w)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	if n > 0 {
		batch := l.mu.Shape()[0]
		lp, err = G.Reshape(lp, tensor.Shape{n, batch})
		if err != nil {
			return nil, fmt.Errorf("logProb: could not unfold samples: %v",
				err)
		}
	}

	return lp, nil
}

// Prob returns the probability density of x. The shape of x is
// treated in the same way as the LogProb() method.
func (l *LowRankNormal) Prob(x *G.Node) (*G.Node, error) {
	lp, err := l.LogProb(x)
	if err != nil {
		return nil, fmt.Errorf("prob: %v", err)
	}

	return G.Exp(lp)
}

// Entropy returns the differential entropy
// ½·(dim·(1 + log 2π) + log|Σ|) of each distribution in the batch,
// with log|Σ| computed through the matrix determinant lemma
func (l *LowRankNormal) Entropy() (*G.Node, error) {
	g := l.mu.Graph()

	_, capLD, err := capacitanceTerms(l.d, l.w)
	if err != nil {
		return nil, fmt.Errorf("entropy: %v", err)
	}

	logDetD := G.Must(G.Sum(G.Must(G.Log(l.d)), 1))
	logDet := G.Must(G.Add(logDetD, capLD))

	half := g.Constant(G.NewF64(0.5))
	c := g.Constant(G.NewF64(float64(l.dim) * (1.0 + math.Log(2.0*math.Pi))))

	entropy := G.Must(G.Add(c, logDet))

	return G.HadamardProd(half, entropy)
}

func (l *LowRankNormal) HasRsample() bool { return true }

// Rsample returns reparameterized samples of shape
// (samples, batch, dim) constructed as
//
//	mu + √D ⊙ z_d + W·z_r,  z_d ~ N(0, I_dim), z_r ~ N(0, I_rank)
//
// which is distributed as N(mu, diag(D) + W·Wᵀ). Gradients flow
// through mu, D, and W; the noise terms are gradient-free leaves.
func (l *LowRankNormal) Rsample(samples int) (*G.Node, error) {
	out, err := l.affineSample(l.mu, l.d, l.w, samples)
	if err != nil {
		return nil, fmt.Errorf("rsample: %v", err)
	}

	return out, nil
}

// Sample returns samples of shape (samples, batch, dim). The returned
// node carries no gradient path to the distribution parameters.
func (l *LowRankNormal) Sample(samples int) (*G.Node, error) {
	mu, err := gomvn.Detach(l.mu)
	if err != nil {
		return nil, fmt.Errorf("sample: could not detach mu: %v", err)
	}
	d, err := gomvn.Detach(l.d)
	if err != nil {
		return nil, fmt.Errorf("sample: could not detach d: %v", err)
	}
	w, err := gomvn.Detach(l.w)
	if err != nil {
		return nil, fmt.Errorf("sample: could not detach w: %v", err)
	}

	out, err := l.affineSample(mu, d, w, samples)
	if err != nil {
		return nil, fmt.Errorf("sample: %v", err)
	}

	return out, nil
}

// affineSample draws standard normal noise and applies the
// reparameterization transform with the given parameter nodes
func (l *LowRankNormal) affineSample(mu, d, w *G.Node,
	samples int) (*G.Node, error) {
	if samples < 1 {
		return nil, fmt.Errorf("expected samples to be > 0 but got %v",
			samples)
	}

	g := mu.Graph()
	batch := mu.Shape()[0]

	// The two noise sources use offset seeds so they never replay the
	// same stream, even when dim == rank
	zDiag, err := standardNormal(g, tensor.Shape{batch, l.dim}, l.seed,
		samples)
	if err != nil {
		return nil, fmt.Errorf("could not draw diagonal noise: %v", err)
	}
	zRank, err := standardNormal(g, tensor.Shape{batch, l.rank}, l.seed+1,
		samples)
	if err != nil {
		return nil, fmt.Errorf("could not draw rank noise: %v", err)
	}

	rows := samples * batch
	zDiag = G.Must(G.Reshape(zDiag, tensor.Shape{rows, l.dim}))
	zRank = G.Must(G.Reshape(zRank, tensor.Shape{rows, 1, l.rank}))

	if mu, err = tileBatch(mu, samples); err != nil {
		return nil, err
	}
	if d, err = tileBatch(d, samples); err != nil {
		return nil, err
	}
	if w, err = tileBatch(w, samples); err != nil {
		return nil, err
	}

	diagTerm := G.Must(G.HadamardProd(G.Must(G.Sqrt(d)), zDiag))

	// W·z_r as a broadcast product summed over the rank axis, which
	// stays well-formed at rank one
	rankProd := G.Must(G.BroadcastHadamardProd(w, zRank, nil, []byte{1}))
	rankTerm := G.Must(G.Sum(rankProd, 2))

	out := G.Must(G.Add(mu, diagTerm))
	out = G.Must(G.Add(out, rankTerm))

	return G.Reshape(out, tensor.Shape{samples, batch, l.dim})
}

// broadcastParams validates the shape of x against the distribution
// and, when x carries a leading sample axis, folds that axis into the
// batch dimension and tiles the parameters to match. It returns the
// possibly folded x, matching parameter nodes, and the sample count
// (0 when x has no sample axis).
func (l *LowRankNormal) broadcastParams(x *G.Node) (xOut, mu, d,
	w *G.Node, n int, err error) {
	mu, d, w = l.mu, l.d, l.w
	batch := mu.Shape()[0]

	switch x.Dims() {
	case 2:
		if !x.Shape().Eq(mu.Shape()) {
			return nil, nil, nil, nil, 0, shapeErrorf("expected shape to "+
				"match distribution shape %v but got %v", mu.Shape(),
				x.Shape())
		}

	case 3:
		if x.Shape()[1] != batch || x.Shape()[2] != l.dim {
			return nil, nil, nil, nil, 0, shapeErrorf("expected shape to "+
				"match distribution shape %v at all dimensions except the "+
				"sample dimension (dim 0) but got x shape %v", mu.Shape(),
				x.Shape())
		}

		n = x.Shape()[0]
		x, err = G.Reshape(x, tensor.Shape{n * batch, l.dim})
		if err != nil {
			return nil, nil, nil, nil, 0, fmt.Errorf("could not fold "+
				"sample dimension: %v", err)
		}

		if mu, err = tileBatch(mu, n); err != nil {
			return nil, nil, nil, nil, 0, err
		}
		if d, err = tileBatch(d, n); err != nil {
			return nil, nil, nil, nil, 0, err
		}
		if w, err = tileBatch(w, n); err != nil {
			return nil, nil, nil, nil, 0, err
		}

	default:
		return nil, nil, nil, nil, 0, shapeErrorf("expected x to have "+
			"2 or 3 dimensions but got shape %v", x.Shape())
	}

	return x, mu, d, w, n, nil
}

// logDensity computes the log-density for row-aligned x and parameter
// nodes of shapes (N, dim), (N, dim), and (N, dim, rank), returning an
// (N,) node
func (l *LowRankNormal) logDensity(x, mu, d, w *G.Node) (*G.Node, error) {
	g := x.Graph()
	rows := x.Shape()[0]

	half := g.Constant(G.NewF64(0.5))
	normalizer := g.Constant(G.NewF64(
		float64(l.dim) * math.Log(2.0*math.Pi)))

	diff := G.Must(G.Sub(x, mu))
	dInv := G.Must(G.Inverse(d))
	scaled := G.Must(G.HadamardProd(diff, dInv))

	// (x-mu)ᵗ D⁻¹ (x-mu)
	quadDiag := G.Must(G.Sum(G.Must(G.HadamardProd(scaled, diff)), 1))

	capInv, capLD, err := capacitanceTerms(d, w)
	if err != nil {
		return nil, err
	}

	// Woodbury correction bᵗ C⁻¹ b with b = Wᵗ D⁻¹ (x-mu). The
	// contractions are written element-wise so a rank (or dim) of one
	// never produces a degenerate matrix operand.
	scaledCol := G.Must(G.Reshape(scaled, tensor.Shape{rows, l.dim, 1}))
	weighted := G.Must(G.BroadcastHadamardProd(w, scaledCol, nil,
		[]byte{2}))
	b := G.Must(G.Sum(weighted, 1))

	bRow := G.Must(G.Reshape(b, tensor.Shape{rows, 1, l.rank}))
	colScaled := G.Must(G.BroadcastHadamardProd(capInv, bRow, nil,
		[]byte{1}))
	invB := G.Must(G.Sum(colScaled, 2))
	quadCorr := G.Must(G.Sum(G.Must(G.HadamardProd(invB, b)), 1))

	quad := G.Must(G.Sub(quadDiag, quadCorr))

	// Matrix determinant lemma
	logDetD := G.Must(G.Sum(G.Must(G.Log(d)), 1))
	logDet := G.Must(G.Add(logDetD, capLD))

	sum := G.Must(G.Add(normalizer, logDet))
	sum = G.Must(G.Add(sum, quad))

	return G.Neg(G.Must(G.HadamardProd(half, sum)))
}

// capacitanceTerms builds the capacitance matrix C = I + Wᵗ D⁻¹ W and
// returns its inverse and log-determinant, both differentiable
func capacitanceTerms(d, w *G.Node) (capInv, capLD *G.Node, err error) {
	g := d.Graph()
	rows, dim, rank := w.Shape()[0], w.Shape()[1], w.Shape()[2]

	dInv := G.Must(G.Inverse(d))
	dInvCol := G.Must(G.Reshape(dInv, tensor.Shape{rows, dim, 1}))
	dInvW := G.Must(G.BroadcastHadamardProd(w, dInvCol, nil, []byte{2}))

	wT := G.Must(G.Transpose(w, 0, 2, 1))
	capMat, err := batchMul(wT, dInvW)
	if err != nil {
		return nil, nil, fmt.Errorf("capacitanceTerms: %v", err)
	}
	capMat = G.Must(G.Add(capMat, eyeBatchNode(g, rows, rank)))

	capInv, err = capInverse(capMat)
	if err != nil {
		return nil, nil, fmt.Errorf("capacitanceTerms: %v", err)
	}

	capLD, err = capLogDet(capMat)
	if err != nil {
		return nil, nil, fmt.Errorf("capacitanceTerms: %v", err)
	}

	return capInv, capLD, nil
}
