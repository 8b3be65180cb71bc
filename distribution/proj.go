package distribution

import (
	"fmt"

	"github.com/samuelfneumann/gomvn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// SigmaMinimum is the default floor added to projected variances so a
// distribution can never collapse onto its mean
const SigmaMinimum float64 = 1e-3

// positiveDiagonal maps unconstrained pre-activations to a strictly
// positive diagonal: softplus(raw + invSoftplus(sigmaInit²)) +
// sigmaMinimum. The constant shift makes a zero pre-activation produce
// a variance of sigmaInit², so freshly initialized projections start
// out with a sensible scale. When sigmaInit is 0 no shift is applied.
func positiveDiagonal(raw *G.Node, sigmaInit,
	sigmaMinimum float64) (*G.Node, error) {
	g := raw.Graph()

	if sigmaInit > 0 {
		bias := g.Constant(G.NewF64(gomvn.InvSoftplus(sigmaInit * sigmaInit)))
		var err error
		if raw, err = G.Add(raw, bias); err != nil {
			return nil, fmt.Errorf("positiveDiagonal: %v", err)
		}
	}

	out, err := gomvn.Softplus(raw)
	if err != nil {
		return nil, fmt.Errorf("positiveDiagonal: %v", err)
	}

	return G.Add(out, g.Constant(G.NewF64(sigmaMinimum)))
}

// LowRankArgProj projects per-dimension feature vectors into the
// arguments of a LowRankNormal: the mean, the positive diagonal, and
// the low-rank covariance factor.
//
// The input has shape (batch, dim, hidden), one hidden feature vector
// per event dimension. The diagonal projection sees the feature vector
// augmented with the squared norm of that dimension's covariance
// factor row, so the diagonal can compensate for variance the low-rank
// part already explains.
//
// The projection weights are created lazily on the first call to
// Forward, which fixes the event and hidden dimensions; later calls
// must match them. The weights are Glorot-initialized matrices and
// zero biases registered on the input's graph, retrievable through
// Learnables.
type LowRankArgProj struct {
	rank int

	sigmaInit    float64
	sigmaMinimum float64
	muRatio      float64
	dropoutRate  float64

	// Bound on first Forward
	dim    int
	hidden int
	muW    *G.Node
	muB    *G.Node
	wW     *G.Node
	wB     *G.Node
	sigmaW *G.Node
	sigmaB *G.Node
}

// NewLowRankArgProj returns a projection producing arguments for a
// rank-rank LowRankNormal. sigmaInit sets the variance a zero
// pre-activation maps to, sigmaMinimum floors the diagonal, muRatio
// rescales the projected mean, and dropoutRate applies dropout to the
// raw projections during training.
func NewLowRankArgProj(rank int, sigmaInit, sigmaMinimum, muRatio,
	dropoutRate float64) (*LowRankArgProj, error) {
	if rank < 1 {
		return nil, configErrorf("newLowRankArgProj: expected rank to be "+
			">= 1 but got %v", rank)
	}
	if sigmaInit < 0 {
		return nil, configErrorf("newLowRankArgProj: expected sigmaInit "+
			"to be >= 0 but got %v", sigmaInit)
	}
	if sigmaMinimum < 0 {
		return nil, configErrorf("newLowRankArgProj: expected "+
			"sigmaMinimum to be >= 0 but got %v", sigmaMinimum)
	}
	if dropoutRate < 0 || dropoutRate >= 1 {
		return nil, configErrorf("newLowRankArgProj: expected dropoutRate "+
			"to be in [0, 1) but got %v", dropoutRate)
	}

	return &LowRankArgProj{
		rank:         rank,
		sigmaInit:    sigmaInit,
		sigmaMinimum: sigmaMinimum,
		muRatio:      muRatio,
		dropoutRate:  dropoutRate,
	}, nil
}

// Rank returns the rank of the projected covariance factor
func (p *LowRankArgProj) Rank() int { return p.rank }

// Learnables returns the projection's trainable weights. The slice is
// empty before the first call to Forward.
func (p *LowRankArgProj) Learnables() G.Nodes {
	if p.hidden == 0 {
		return nil
	}

	return G.Nodes{p.muW, p.muB, p.wW, p.wB, p.sigmaW, p.sigmaB}
}

func (p *LowRankArgProj) bind(g *G.ExprGraph, dim, hidden int) {
	p.dim = dim
	p.hidden = hidden

	p.muW = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(hidden, 1),
		G.WithInit(G.GlorotN(1.0)),
		G.WithName(gomvn.UnixNano("lowRankProjMuW")),
	)
	p.muB = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, 1),
		G.WithInit(G.Zeroes()),
		G.WithName(gomvn.UnixNano("lowRankProjMuB")),
	)

	p.wW = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(hidden, p.rank),
		G.WithInit(G.GlorotN(1.0)),
		G.WithName(gomvn.UnixNano("lowRankProjWW")),
	)
	p.wB = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, p.rank),
		G.WithInit(G.Zeroes()),
		G.WithName(gomvn.UnixNano("lowRankProjWB")),
	)

	// The diagonal projection sees the features plus the squared norm
	// of the corresponding covariance factor row
	p.sigmaW = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(hidden+1, 1),
		G.WithInit(G.GlorotN(1.0)),
		G.WithName(gomvn.UnixNano("lowRankProjSigmaW")),
	)
	p.sigmaB = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, 1),
		G.WithInit(G.Zeroes()),
		G.WithName(gomvn.UnixNano("lowRankProjSigmaB")),
	)
}

// dense computes x·w + b. The bias is a (1, k) matrix broadcast over
// the rows of the input.
func dense(x, w, b *G.Node) (*G.Node, error) {
	out, err := G.Mul(x, w)
	if err != nil {
		return nil, err
	}

	return G.BroadcastAdd(out, b, nil, []byte{0})
}

// Forward projects x, of shape (batch, dim, hidden) or (dim, hidden),
// into the mean, diagonal, and covariance factor of a LowRankNormal,
// with shapes (batch, dim), (batch, dim), and (batch, dim, rank)
func (p *LowRankArgProj) Forward(x *G.Node) (mu, d, w *G.Node,
	err error) {
	if x.Dtype() != tensor.Float64 {
		return nil, nil, nil, fmt.Errorf("forward: data type %v "+
			"unsupported", x.Dtype())
	}

	if x.Dims() == 2 {
		shape := append(tensor.Shape{1}, x.Shape()...)
		if x, err = G.Reshape(x, shape); err != nil {
			return nil, nil, nil, fmt.Errorf("forward: could not expand "+
				"x: %v", err)
		}
	}
	if x.Dims() != 3 {
		return nil, nil, nil, shapeErrorf("forward: expected x to have "+
			"shape (batch, dim, hidden) but got %v", x.Shape())
	}

	batch, dim, hidden := x.Shape()[0], x.Shape()[1], x.Shape()[2]
	if p.hidden == 0 {
		p.bind(x.Graph(), dim, hidden)
	} else if dim != p.dim || hidden != p.hidden {
		return nil, nil, nil, shapeErrorf("forward: projection is bound "+
			"to (dim, hidden) = (%v, %v) but got input shape %v", p.dim,
			p.hidden, x.Shape())
	}

	rows := batch * dim
	xf, err := G.Reshape(x, tensor.Shape{rows, hidden})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forward: could not fold x: %v",
			err)
	}

	muRaw, err := dense(xf, p.muW, p.muB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forward: could not project "+
			"mu: %v", err)
	}
	wRaw, err := dense(xf, p.wW, p.wB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forward: could not project "+
			"w: %v", err)
	}

	// Dropout must land on mu and w before the diagonal projection so
	// the squared-norm feature describes the covariance factor the
	// caller actually receives
	if p.dropoutRate > 0 {
		if muRaw, err = G.Dropout(muRaw, p.dropoutRate); err != nil {
			return nil, nil, nil, fmt.Errorf("forward: %v", err)
		}
		if wRaw, err = G.Dropout(wRaw, p.dropoutRate); err != nil {
			return nil, nil, nil, fmt.Errorf("forward: %v", err)
		}
	}

	wNorm := G.Must(G.Sum(G.Must(G.HadamardProd(wRaw, wRaw)), 1))
	wNormCol := G.Must(G.Reshape(wNorm, tensor.Shape{rows, 1}))
	augmented, err := G.Concat(1, xf, wNormCol)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forward: could not augment "+
			"diagonal input: %v", err)
	}

	dRaw, err := dense(augmented, p.sigmaW, p.sigmaB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forward: could not project "+
			"diagonal: %v", err)
	}

	if p.dropoutRate > 0 {
		if dRaw, err = G.Dropout(dRaw, p.dropoutRate); err != nil {
			return nil, nil, nil, fmt.Errorf("forward: %v", err)
		}
	}

	mu = G.Must(G.Reshape(muRaw, tensor.Shape{batch, dim}))
	if p.muRatio != 1.0 {
		ratio := x.Graph().Constant(G.NewF64(p.muRatio))
		mu = G.Must(G.HadamardProd(mu, ratio))
	}

	dFlat, err := positiveDiagonal(dRaw, p.sigmaInit, p.sigmaMinimum)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("forward: %v", err)
	}
	d = G.Must(G.Reshape(dFlat, tensor.Shape{batch, dim}))

	w = G.Must(G.Reshape(wRaw, tensor.Shape{batch, dim, p.rank}))

	return mu, d, w, nil
}

// IndependentArgProj projects a feature vector into the arguments of
// an IndependentNormal: the mean and the raw, unconstrained standard
// deviation. The input has shape (batch, hidden) or (hidden,); the
// outputs have shape (batch, dim).
//
// The raw standard deviation is unconstrained: apply the owning
// output's domain map (or gomvn.Softplus directly) before
// constructing a distribution. Weights are created lazily on the
// first call to Forward, which fixes the hidden dimension.
type IndependentArgProj struct {
	dim int

	hidden int
	muW    *G.Node
	muB    *G.Node
	sigmaW *G.Node
	sigmaB *G.Node
}

// NewIndependentArgProj returns a projection producing arguments for a
// dim-dimensional IndependentNormal
func NewIndependentArgProj(dim int) (*IndependentArgProj, error) {
	if dim < 1 {
		return nil, configErrorf("newIndependentArgProj: expected dim to "+
			"be >= 1 but got %v", dim)
	}

	return &IndependentArgProj{dim: dim}, nil
}

// Dim returns the dimensionality of the projected distribution
func (p *IndependentArgProj) Dim() int { return p.dim }

// Learnables returns the projection's trainable weights. The slice is
// empty before the first call to Forward.
func (p *IndependentArgProj) Learnables() G.Nodes {
	if p.hidden == 0 {
		return nil
	}

	return G.Nodes{p.muW, p.muB, p.sigmaW, p.sigmaB}
}

func (p *IndependentArgProj) bind(g *G.ExprGraph, hidden int) {
	p.hidden = hidden

	p.muW = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(hidden, p.dim),
		G.WithInit(G.GlorotN(1.0)),
		G.WithName(gomvn.UnixNano("independentProjMuW")),
	)
	p.muB = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, p.dim),
		G.WithInit(G.Zeroes()),
		G.WithName(gomvn.UnixNano("independentProjMuB")),
	)

	p.sigmaW = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(hidden, p.dim),
		G.WithInit(G.GlorotN(1.0)),
		G.WithName(gomvn.UnixNano("independentProjSigmaW")),
	)
	p.sigmaB = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, p.dim),
		G.WithInit(G.Zeroes()),
		G.WithName(gomvn.UnixNano("independentProjSigmaB")),
	)
}

// Forward projects x, of shape (batch, hidden) or (hidden,), into the
// mean and raw standard deviation of an IndependentNormal, each with
// shape (batch, dim)
func (p *IndependentArgProj) Forward(x *G.Node) (mu, sigmaRaw *G.Node,
	err error) {
	if x.Dtype() != tensor.Float64 {
		return nil, nil, fmt.Errorf("forward: data type %v unsupported",
			x.Dtype())
	}

	if x.Dims() == 1 {
		shape := tensor.Shape{1, x.Shape()[0]}
		if x, err = G.Reshape(x, shape); err != nil {
			return nil, nil, fmt.Errorf("forward: could not expand x: %v",
				err)
		}
	}
	if x.Dims() != 2 {
		return nil, nil, shapeErrorf("forward: expected x to have shape "+
			"(batch, hidden) but got %v", x.Shape())
	}

	hidden := x.Shape()[1]
	if p.hidden == 0 {
		p.bind(x.Graph(), hidden)
	} else if hidden != p.hidden {
		return nil, nil, shapeErrorf("forward: projection is bound to "+
			"hidden dimension %v but got input shape %v", p.hidden,
			x.Shape())
	}

	if mu, err = dense(x, p.muW, p.muB); err != nil {
		return nil, nil, fmt.Errorf("forward: could not project mu: %v",
			err)
	}
	if sigmaRaw, err = dense(x, p.sigmaW, p.sigmaB); err != nil {
		return nil, nil, fmt.Errorf("forward: could not project sigma: %v",
			err)
	}

	return mu, sigmaRaw, nil
}
