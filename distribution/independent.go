package distribution

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gomvn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// IndependentNormal is a batch of multivariate normal distributions
// with diagonal covariance: each event dimension is an independent
// univariate normal, and the log-density is the sum of the
// per-dimension closed forms over the event axis.
//
// The mean and standard deviation have shape (batch, dim); a vector
// mean of shape (dim,) is treated as a batch of one. The standard
// deviation must be strictly positive. Only tensor.Float64 is
// supported.
type IndependentNormal struct {
	mu    *G.Node // (batch, dim)
	sigma *G.Node // (batch, dim), strictly positive

	dim  int
	seed uint64
}

// NewIndependentNormal returns a new IndependentNormal with mean mu
// and per-dimension standard deviation sigma
func NewIndependentNormal(mu, sigma *G.Node,
	seed uint64) (*IndependentNormal, error) {
	if mu.Dtype() != sigma.Dtype() {
		return nil, fmt.Errorf("newIndependentNormal: expected mu and "+
			"sigma to have the same data type but got %v and %v",
			mu.Dtype(), sigma.Dtype())
	} else if mu.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("newIndependentNormal: data type %v "+
			"unsupported", mu.Dtype())
	}

	var err error
	if mu.Dims() == 1 {
		if mu, err = G.Reshape(mu, tensor.Shape{1, mu.Shape()[0]}); err != nil {
			return nil, fmt.Errorf("newIndependentNormal: could not "+
				"expand mu: %v", err)
		}
	}
	if sigma.Dims() == 1 {
		shape := tensor.Shape{1, sigma.Shape()[0]}
		if sigma, err = G.Reshape(sigma, shape); err != nil {
			return nil, fmt.Errorf("newIndependentNormal: could not "+
				"expand sigma: %v", err)
		}
	}

	if mu.Dims() != 2 {
		return nil, shapeErrorf("newIndependentNormal: expected mu to "+
			"have shape (batch, dim) but got %v", mu.Shape())
	}
	if !sigma.Shape().Eq(mu.Shape()) {
		return nil, shapeErrorf("newIndependentNormal: expected mu and "+
			"sigma to have the same shape but got %v and %v", mu.Shape(),
			sigma.Shape())
	}

	return &IndependentNormal{
		mu:    mu,
		sigma: sigma,
		dim:   mu.Shape()[1],
		seed:  seed,
	}, nil
}

// Dim returns the dimensionality of a single observation
func (i *IndependentNormal) Dim() int { return i.dim }

func (i *IndependentNormal) BatchShape() tensor.Shape {
	return tensor.Shape{i.mu.Shape()[0]}
}

func (i *IndependentNormal) EventShape() tensor.Shape {
	return tensor.Shape{i.dim}
}

func (i *IndependentNormal) EventDim() int { return 1 }

// Mean returns the mean of the distribution(s) stored by the receiver
func (i *IndependentNormal) Mean() *G.Node { return i.mu }

// StdDev returns the per-dimension standard deviation
func (i *IndependentNormal) StdDev() *G.Node { return i.sigma }

// Variance returns the per-dimension variance
func (i *IndependentNormal) Variance() *G.Node {
	return G.Must(G.HadamardProd(i.sigma, i.sigma))
}

// CovarianceMatrix materializes the diagonal covariance with shape
// (batch, dim, dim). This costs O(dim²) memory for what is
// conceptually a vector; prefer Variance unless a matrix is required.
func (i *IndependentNormal) CovarianceMatrix() (*G.Node, error) {
	batch := i.mu.Shape()[0]

	eye := eyeBatchNode(i.mu.Graph(), batch, i.dim)
	varRow, err := G.Reshape(i.Variance(), tensor.Shape{batch, 1, i.dim})
	if err != nil {
		return nil, fmt.Errorf("covarianceMatrix: %v", err)
	}

	return G.BroadcastHadamardProd(eye, varRow, nil, []byte{1})
}

// LogProb returns the log probability density of x, summed over the
// event axis. x must have shape (batch, dim) or (n, batch, dim); the
// output has shape (batch,) or (n, batch) respectively.
func (i *IndependentNormal) LogProb(x *G.Node) (*G.Node, error) {
	x, mu, sigma, n, err := i.broadcastParams(x)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	g := x.Graph()
	half := g.Constant(G.NewF64(0.5))
	lnRootTwoPi := g.Constant(G.NewF64(0.5 * math.Log(2.0*math.Pi)))

	z := G.Must(G.Sub(x, mu))
	z = G.Must(G.HadamardDiv(z, sigma))
	z = G.Must(G.HadamardProd(z, z))
	z = G.Must(G.HadamardProd(half, z))
	z = G.Must(G.Add(z, G.Must(G.Log(sigma))))
	z = G.Must(G.Add(z, lnRootTwoPi))

	lp := G.Must(G.Neg(G.Must(G.Sum(z, 1))))

	if n > 0 {
		batch := i.mu.Shape()[0]
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
func (i *IndependentNormal) Prob(x *G.Node) (*G.Node, error) {
	lp, err := i.LogProb(x)
	if err != nil {
		return nil, fmt.Errorf("prob: %v", err)
	}

	return G.Exp(lp)
}

// Entropy returns the differential entropy
// Σ_d ½·log(2πe·σ_d²) of each distribution in the batch
func (i *IndependentNormal) Entropy() (*G.Node, error) {
	g := i.mu.Graph()
	c := g.Constant(G.NewF64(
		0.5 * float64(i.dim) * (1.0 + math.Log(2.0*math.Pi))))

	logSigma, err := G.Log(i.sigma)
	if err != nil {
		return nil, fmt.Errorf("entropy: %v", err)
	}

	entropy, err := G.Sum(logSigma, 1)
	if err != nil {
		return nil, fmt.Errorf("entropy: could not combine event "+
			"dims: %v", err)
	}

	return G.Add(entropy, c)
}

// Cdf computes the element-wise cumulative distribution function of x
// through the identity Φ(z) = (erf(z/√2) + 1)/2. The output has the
// same shape as x: unlike LogProb, no reduction over the event axis
// is performed.
func (i *IndependentNormal) Cdf(x *G.Node) (*G.Node, error) {
	outShape := x.Shape().Clone()

	x, mu, sigma, n, err := i.broadcastParams(x)
	if err != nil {
		return nil, fmt.Errorf("cdf: %v", err)
	}

	g := x.Graph()
	rootTwo := g.Constant(G.NewF64(math.Sqrt(2.0)))
	one := g.Constant(G.NewF64(1.0))
	half := g.Constant(G.NewF64(0.5))

	u := G.Must(G.Sub(x, mu))
	u = G.Must(G.HadamardDiv(u, sigma))
	u = G.Must(G.HadamardDiv(u, rootTwo))
	u = G.Must(gomvn.Erf(u))
	u = G.Must(G.Add(u, one))
	u = G.Must(G.HadamardProd(half, u))

	if n > 0 {
		u, err = G.Reshape(u, outShape)
		if err != nil {
			return nil, fmt.Errorf("cdf: could not unfold samples: %v", err)
		}
	}

	return u, nil
}

// Cdfinv computes the element-wise inverse cumulative distribution
// function at probability p, the quantile μ + σ·√2·erfinv(2p - 1).
// The output has the same shape as p.
func (i *IndependentNormal) Cdfinv(p *G.Node) (*G.Node, error) {
	outShape := p.Shape().Clone()

	p, mu, sigma, n, err := i.broadcastParams(p)
	if err != nil {
		return nil, fmt.Errorf("cdfinv: %v", err)
	}

	g := p.Graph()
	rootTwo := g.Constant(G.NewF64(math.Sqrt(2.0)))
	one := g.Constant(G.NewF64(1.0))
	two := g.Constant(G.NewF64(2.0))

	u := G.Must(G.HadamardProd(two, p))
	u = G.Must(G.Sub(u, one))
	u = G.Must(gomvn.Erfinv(u))
	u = G.Must(G.HadamardProd(u, rootTwo))
	u = G.Must(G.HadamardProd(u, sigma))
	u = G.Must(G.Add(u, mu))

	if n > 0 {
		u, err = G.Reshape(u, outShape)
		if err != nil {
			return nil, fmt.Errorf("cdfinv: could not unfold samples: %v",
				err)
		}
	}

	return u, nil
}

func (i *IndependentNormal) HasRsample() bool { return true }

// Rsample returns reparameterized samples of shape
// (samples, batch, dim) constructed as mu + sigma ⊙ z with
// z ~ N(0, I). Gradients flow through mu and sigma.
func (i *IndependentNormal) Rsample(samples int) (*G.Node, error) {
	if samples < 1 {
		return nil, fmt.Errorf("rsample: expected samples to be > 0 but "+
			"got %v", samples)
	}

	g := i.mu.Graph()
	batch := i.mu.Shape()[0]

	z, err := standardNormal(g, tensor.Shape{batch, i.dim}, i.seed,
		samples)
	if err != nil {
		return nil, fmt.Errorf("rsample: could not draw noise: %v", err)
	}

	rows := samples * batch
	z = G.Must(G.Reshape(z, tensor.Shape{rows, i.dim}))

	mu, err := tileBatch(i.mu, samples)
	if err != nil {
		return nil, fmt.Errorf("rsample: %v", err)
	}
	sigma, err := tileBatch(i.sigma, samples)
	if err != nil {
		return nil, fmt.Errorf("rsample: %v", err)
	}

	out := G.Must(G.Add(mu, G.Must(G.HadamardProd(sigma, z))))

	return G.Reshape(out, tensor.Shape{samples, batch, i.dim})
}

// Sample returns samples of shape (samples, batch, dim) with no
// gradient path to the distribution parameters
func (i *IndependentNormal) Sample(samples int) (*G.Node, error) {
	return NormalRand(i.mu, i.sigma, i.seed, samples)
}

// broadcastParams validates the shape of x against the distribution
// and, when x carries a leading sample axis, folds that axis into the
// batch dimension and tiles the parameters to match
func (i *IndependentNormal) broadcastParams(x *G.Node) (xOut, mu,
	sigma *G.Node, n int, err error) {
	mu, sigma = i.mu, i.sigma
	batch := mu.Shape()[0]

	switch x.Dims() {
	case 2:
		if !x.Shape().Eq(mu.Shape()) {
			return nil, nil, nil, 0, shapeErrorf("expected shape to match "+
				"distribution shape %v but got %v", mu.Shape(), x.Shape())
		}

	case 3:
		if x.Shape()[1] != batch || x.Shape()[2] != i.dim {
			return nil, nil, nil, 0, shapeErrorf("expected shape to match "+
				"distribution shape %v at all dimensions except the sample "+
				"dimension (dim 0) but got x shape %v", mu.Shape(),
				x.Shape())
		}

		n = x.Shape()[0]
		x, err = G.Reshape(x, tensor.Shape{n * batch, i.dim})
		if err != nil {
			return nil, nil, nil, 0, fmt.Errorf("could not fold sample "+
				"dimension: %v", err)
		}

		if mu, err = tileBatch(mu, n); err != nil {
			return nil, nil, nil, 0, err
		}
		if sigma, err = tileBatch(sigma, n); err != nil {
			return nil, nil, nil, 0, err
		}

	default:
		return nil, nil, nil, 0, shapeErrorf("expected x to have 2 or 3 "+
			"dimensions but got shape %v", x.Shape())
	}

	return x, mu, sigma, n, nil
}
