package distribution

import (
	"fmt"

	"github.com/samuelfneumann/gomvn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LowRankNormalOutput constructs LowRankNormal distributions from
// projected arguments. It is the output head of a forecasting model
// whose targets are dim-dimensional with a rank-rank covariance
// factor.
type LowRankNormalOutput struct {
	dim  int
	rank int

	sigmaInit    float64
	sigmaMinimum float64
	muRatio      float64
	dropoutRate  float64

	seed uint64
}

// NewLowRankNormalOutput returns an output head over dim-dimensional
// events with covariance rank rank. The remaining arguments
// parameterize the projections this output creates; see
// NewLowRankArgProj.
func NewLowRankNormalOutput(dim, rank int, sigmaInit, sigmaMinimum,
	muRatio, dropoutRate float64, seed uint64) (*LowRankNormalOutput,
	error) {
	if dim < 1 {
		return nil, configErrorf("newLowRankNormalOutput: expected dim "+
			"to be >= 1 but got %v", dim)
	}

	// Validates the projection hyperparameters
	if _, err := NewLowRankArgProj(rank, sigmaInit, sigmaMinimum, muRatio,
		dropoutRate); err != nil {
		return nil, fmt.Errorf("newLowRankNormalOutput: %v", err)
	}

	return &LowRankNormalOutput{
		dim:          dim,
		rank:         rank,
		sigmaInit:    sigmaInit,
		sigmaMinimum: sigmaMinimum,
		muRatio:      muRatio,
		dropoutRate:  dropoutRate,
		seed:         seed,
	}, nil
}

// ArgsDim returns the width each argument projection must produce per
// event dimension
func (o *LowRankNormalOutput) ArgsDim() map[string]int {
	return map[string]int{
		"mu":    1,
		"sigma": 1,
		"w":     o.rank,
	}
}

// ArgProjection returns a fresh projection producing this output's
// arguments. Each call creates new, independently initialized weights.
func (o *LowRankNormalOutput) ArgProjection() (*LowRankArgProj, error) {
	proj, err := NewLowRankArgProj(o.rank, o.sigmaInit, o.sigmaMinimum,
		o.muRatio, o.dropoutRate)
	if err != nil {
		return nil, fmt.Errorf("argProjection: %v", err)
	}

	return proj, nil
}

// Distribution constructs a LowRankNormal from projected arguments
// [mu, d, w]. When scale is non-nil, the distribution is rescaled so
// densities and samples are expressed in unscaled data units.
func (o *LowRankNormalOutput) Distribution(args []*G.Node,
	scale *G.Node) (Distribution, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("distribution: expected 3 arguments "+
			"(mu, d, w) but got %v", len(args))
	}

	dist, err := NewLowRankNormal(args[0], args[1], args[2], o.seed)
	if err != nil {
		return nil, fmt.Errorf("distribution: %v", err)
	}
	if dist.Dim() != o.dim {
		return nil, shapeErrorf("distribution: expected arguments for "+
			"%v event dimensions but got %v", o.dim, dist.Dim())
	}
	if dist.Rank() != o.rank {
		return nil, shapeErrorf("distribution: expected a rank %v "+
			"covariance factor but got rank %v", o.rank, dist.Rank())
	}

	if scale == nil {
		return dist, nil
	}

	transform, err := NewAffineTransform(scale)
	if err != nil {
		return nil, fmt.Errorf("distribution: %v", err)
	}

	return NewTransformed(dist, transform)
}

func (o *LowRankNormalOutput) EventShape() tensor.Shape {
	return tensor.Shape{o.dim}
}

func (o *LowRankNormalOutput) EventDim() int { return 1 }

// IndependentNormalOutput constructs IndependentNormal distributions
// from projected arguments
type IndependentNormalOutput struct {
	dim  int
	seed uint64
}

// NewIndependentNormalOutput returns an output head over
// dim-dimensional events with diagonal covariance
func NewIndependentNormalOutput(dim int,
	seed uint64) (*IndependentNormalOutput, error) {
	if dim < 1 {
		return nil, configErrorf("newIndependentNormalOutput: expected "+
			"dim to be >= 1 but got %v", dim)
	}

	return &IndependentNormalOutput{dim: dim, seed: seed}, nil
}

// ArgsDim returns the width each argument projection must produce
func (o *IndependentNormalOutput) ArgsDim() map[string]int {
	return map[string]int{
		"mu":    o.dim,
		"sigma": o.dim,
	}
}

// ArgProjection returns a fresh projection producing this output's
// arguments. Each call creates new, independently initialized weights.
func (o *IndependentNormalOutput) ArgProjection() (*IndependentArgProj,
	error) {
	proj, err := NewIndependentArgProj(o.dim)
	if err != nil {
		return nil, fmt.Errorf("argProjection: %v", err)
	}

	return proj, nil
}

// DomainMap maps raw projections into valid distribution arguments:
// the mean passes through unchanged and the standard deviation is made
// positive with a softplus. Unlike the low-rank head there is no
// variance floor.
func (o *IndependentNormalOutput) DomainMap(mu,
	sigmaRaw *G.Node) (muOut, sigma *G.Node, err error) {
	sigma, err = gomvn.Softplus(sigmaRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("domainMap: %v", err)
	}

	return mu, sigma, nil
}

// Distribution constructs an IndependentNormal from projected and
// domain-mapped arguments [mu, sigma]. When scale is non-nil, the
// distribution is rescaled so densities and samples are expressed in
// unscaled data units.
func (o *IndependentNormalOutput) Distribution(args []*G.Node,
	scale *G.Node) (Distribution, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("distribution: expected 2 arguments "+
			"(mu, sigma) but got %v", len(args))
	}

	dist, err := NewIndependentNormal(args[0], args[1], o.seed)
	if err != nil {
		return nil, fmt.Errorf("distribution: %v", err)
	}
	if dist.Dim() != o.dim {
		return nil, shapeErrorf("distribution: expected arguments for "+
			"%v event dimensions but got %v", o.dim, dist.Dim())
	}

	if scale == nil {
		return dist, nil
	}

	transform, err := NewAffineTransform(scale)
	if err != nil {
		return nil, fmt.Errorf("distribution: %v", err)
	}

	return NewTransformed(dist, transform)
}

func (o *IndependentNormalOutput) EventShape() tensor.Shape {
	return tensor.Shape{o.dim}
}

func (o *IndependentNormalOutput) EventDim() int { return 1 }
