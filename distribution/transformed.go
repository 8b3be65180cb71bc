package distribution

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// AffineTransform rescales each event dimension by a fixed positive
// factor, mapping a distribution over normalized data back to the
// original units: y = scale ⊙ x. The scale has shape (batch, dim); a
// vector scale of shape (dim,) is treated as a batch of one.
type AffineTransform struct {
	scale *G.Node // (batch, dim), strictly positive
}

// NewAffineTransform returns a new AffineTransform with the given
// per-dimension scale
func NewAffineTransform(scale *G.Node) (*AffineTransform, error) {
	if scale.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("newAffineTransform: data type %v "+
			"unsupported", scale.Dtype())
	}

	var err error
	if scale.Dims() == 1 {
		shape := tensor.Shape{1, scale.Shape()[0]}
		if scale, err = G.Reshape(scale, shape); err != nil {
			return nil, fmt.Errorf("newAffineTransform: could not expand "+
				"scale: %v", err)
		}
	}

	if scale.Dims() != 2 {
		return nil, shapeErrorf("newAffineTransform: expected scale to "+
			"have shape (batch, dim) but got %v", scale.Shape())
	}

	return &AffineTransform{scale: scale}, nil
}

// Scale returns the per-dimension scale node
func (a *AffineTransform) Scale() *G.Node { return a.scale }

// LogDetJacobian returns the per-batch log absolute determinant of the
// transform's Jacobian, Σ_d log scale_d, with shape (batch,)
func (a *AffineTransform) LogDetJacobian() (*G.Node, error) {
	logScale, err := G.Log(a.scale)
	if err != nil {
		return nil, fmt.Errorf("logDetJacobian: %v", err)
	}

	return G.Sum(logScale, 1)
}

// apply multiplies or divides x by the scale element-wise. x must have
// shape (batch, dim) or (n, batch, dim); the output keeps the shape
// of x.
func (a *AffineTransform) apply(x *G.Node, invert bool) (*G.Node, error) {
	batch, dim := a.scale.Shape()[0], a.scale.Shape()[1]
	scale := a.scale

	n := 0
	var err error
	switch x.Dims() {
	case 2:
		if !x.Shape().Eq(scale.Shape()) {
			return nil, shapeErrorf("expected shape %v but got %v",
				scale.Shape(), x.Shape())
		}

	case 3:
		if x.Shape()[1] != batch || x.Shape()[2] != dim {
			return nil, shapeErrorf("expected trailing shape %v but got "+
				"shape %v", scale.Shape(), x.Shape())
		}

		n = x.Shape()[0]
		x, err = G.Reshape(x, tensor.Shape{n * batch, dim})
		if err != nil {
			return nil, fmt.Errorf("could not fold sample dimension: %v",
				err)
		}
		if scale, err = tileBatch(scale, n); err != nil {
			return nil, err
		}

	default:
		return nil, shapeErrorf("expected x to have 2 or 3 dimensions "+
			"but got shape %v", x.Shape())
	}

	var out *G.Node
	if invert {
		out, err = G.HadamardDiv(x, scale)
	} else {
		out, err = G.HadamardProd(x, scale)
	}
	if err != nil {
		return nil, err
	}

	if n > 0 {
		out, err = G.Reshape(out, tensor.Shape{n, batch, dim})
		if err != nil {
			return nil, fmt.Errorf("could not unfold samples: %v", err)
		}
	}

	return out, nil
}

// Forward maps a point from the base distribution's space to the data
// space
func (a *AffineTransform) Forward(x *G.Node) (*G.Node, error) {
	out, err := a.apply(x, false)
	if err != nil {
		return nil, fmt.Errorf("forward: %v", err)
	}

	return out, nil
}

// Inverse maps a point from the data space back to the base
// distribution's space
func (a *AffineTransform) Inverse(y *G.Node) (*G.Node, error) {
	out, err := a.apply(y, true)
	if err != nil {
		return nil, fmt.Errorf("inverse: %v", err)
	}

	return out, nil
}

// TransformedDistribution is a Distribution pushed forward through an
// AffineTransform. Densities pick up the change-of-variables
// correction and samples and moments are expressed in the transformed
// space.
type TransformedDistribution struct {
	base      Distribution
	transform *AffineTransform
}

// NewTransformed returns the push-forward of base through transform.
// The transform's scale must match the base distribution's batch and
// event shapes.
func NewTransformed(base Distribution,
	transform *AffineTransform) (*TransformedDistribution, error) {
	if base.EventDim() != 1 {
		return nil, shapeErrorf("newTransformed: expected base to have "+
			"event dimension 1 but got %v", base.EventDim())
	}

	scale := transform.Scale().Shape()
	batch := base.BatchShape()[0]
	dim := base.EventShape()[0]
	if scale[0] != batch || scale[1] != dim {
		return nil, shapeErrorf("newTransformed: expected scale to have "+
			"shape (%v, %v) but got %v", batch, dim, scale)
	}

	return &TransformedDistribution{base: base, transform: transform}, nil
}

// Base returns the distribution before the transform
func (t *TransformedDistribution) Base() Distribution { return t.base }

func (t *TransformedDistribution) BatchShape() tensor.Shape {
	return t.base.BatchShape()
}

func (t *TransformedDistribution) EventShape() tensor.Shape {
	return t.base.EventShape()
}

func (t *TransformedDistribution) EventDim() int {
	return t.base.EventDim()
}

// Mean returns the transformed mean scale ⊙ mean
func (t *TransformedDistribution) Mean() *G.Node {
	return G.Must(G.HadamardProd(t.base.Mean(), t.transform.Scale()))
}

// StdDev returns the transformed per-dimension standard deviation
func (t *TransformedDistribution) StdDev() *G.Node {
	return G.Must(G.HadamardProd(t.base.StdDev(), t.transform.Scale()))
}

// Variance returns the transformed per-dimension variance
func (t *TransformedDistribution) Variance() *G.Node {
	scale := t.transform.Scale()
	scaleSq := G.Must(G.HadamardProd(scale, scale))

	return G.Must(G.HadamardProd(t.base.Variance(), scaleSq))
}

// CovarianceMatrix returns the transformed covariance
// scale_i · scale_j · Σ_ij with shape (batch, dim, dim)
func (t *TransformedDistribution) CovarianceMatrix() (*G.Node, error) {
	cov, err := t.base.CovarianceMatrix()
	if err != nil {
		return nil, fmt.Errorf("covarianceMatrix: %v", err)
	}

	scale := t.transform.Scale()
	batch, dim := scale.Shape()[0], scale.Shape()[1]

	col, err := G.Reshape(scale, tensor.Shape{batch, dim, 1})
	if err != nil {
		return nil, fmt.Errorf("covarianceMatrix: %v", err)
	}
	row, err := G.Reshape(scale, tensor.Shape{batch, 1, dim})
	if err != nil {
		return nil, fmt.Errorf("covarianceMatrix: %v", err)
	}

	cov, err = G.BroadcastHadamardProd(cov, col, nil, []byte{2})
	if err != nil {
		return nil, fmt.Errorf("covarianceMatrix: %v", err)
	}

	return G.BroadcastHadamardProd(cov, row, nil, []byte{1})
}

// LogProb returns the log probability density of y in the transformed
// space: base.LogProb(y / scale) - Σ_d log scale_d. The shape of y is
// treated in the same way as the base distribution's LogProb.
func (t *TransformedDistribution) LogProb(y *G.Node) (*G.Node, error) {
	x, err := t.transform.Inverse(y)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	lp, err := t.base.LogProb(x)
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	ldj, err := t.transform.LogDetJacobian()
	if err != nil {
		return nil, fmt.Errorf("logProb: %v", err)
	}

	if lp.Dims() == 2 {
		// (n, batch) log-probabilities against a (batch,) correction
		ldj, err = G.Reshape(ldj, tensor.Shape{1, ldj.Shape()[0]})
		if err != nil {
			return nil, fmt.Errorf("logProb: %v", err)
		}

		return G.BroadcastSub(lp, ldj, nil, []byte{0})
	}

	return G.Sub(lp, ldj)
}

// Prob returns the probability density of y in the transformed space
func (t *TransformedDistribution) Prob(y *G.Node) (*G.Node, error) {
	lp, err := t.LogProb(y)
	if err != nil {
		return nil, fmt.Errorf("prob: %v", err)
	}

	return G.Exp(lp)
}

// Entropy returns the differential entropy in the transformed space,
// the base entropy plus the log-determinant of the transform
func (t *TransformedDistribution) Entropy() (*G.Node, error) {
	entropy, err := t.base.Entropy()
	if err != nil {
		return nil, fmt.Errorf("entropy: %v", err)
	}

	ldj, err := t.transform.LogDetJacobian()
	if err != nil {
		return nil, fmt.Errorf("entropy: %v", err)
	}

	return G.Add(entropy, ldj)
}

func (t *TransformedDistribution) HasRsample() bool {
	return t.base.HasRsample()
}

// Rsample returns reparameterized samples of shape
// (samples, batch, dim) in the transformed space
func (t *TransformedDistribution) Rsample(samples int) (*G.Node, error) {
	x, err := t.base.Rsample(samples)
	if err != nil {
		return nil, fmt.Errorf("rsample: %v", err)
	}

	out, err := t.transform.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("rsample: %v", err)
	}

	return out, nil
}

// Sample returns samples of shape (samples, batch, dim) in the
// transformed space, with no gradient path to the base distribution's
// parameters. Gradients still flow to the scale node.
func (t *TransformedDistribution) Sample(samples int) (*G.Node, error) {
	x, err := t.base.Sample(samples)
	if err != nil {
		return nil, fmt.Errorf("sample: %v", err)
	}

	out, err := t.transform.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("sample: %v", err)
	}

	return out, nil
}

// Cdf forwards to the base distribution's CDF when it has one, since
// a positive rescaling leaves cumulative probabilities unchanged:
// P(Y ≤ y) = P(X ≤ y / scale)
func (t *TransformedDistribution) Cdf(y *G.Node) (*G.Node, error) {
	base, ok := t.base.(Cdfer)
	if !ok {
		return nil, fmt.Errorf("cdf: base distribution %T has no "+
			"closed-form CDF", t.base)
	}

	x, err := t.transform.Inverse(y)
	if err != nil {
		return nil, fmt.Errorf("cdf: %v", err)
	}

	return base.Cdf(x)
}

// Cdfinv returns the quantile in the transformed space,
// scale ⊙ baseQuantile(p)
func (t *TransformedDistribution) Cdfinv(p *G.Node) (*G.Node, error) {
	base, ok := t.base.(Quantiler)
	if !ok {
		return nil, fmt.Errorf("cdfinv: base distribution %T has no "+
			"quantile function", t.base)
	}

	x, err := base.Cdfinv(p)
	if err != nil {
		return nil, fmt.Errorf("cdfinv: %v", err)
	}

	return t.transform.Forward(x)
}
