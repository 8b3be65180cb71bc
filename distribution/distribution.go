// Package distribution provides differentiable multivariate
// probability distributions for use as the output heads of
// probabilistic forecasting models
package distribution

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Distribution is a batch of multivariate probability distributions.
// A Distribution with batch shape (B) and event shape (D) holds B
// independent D-dimensional distributions. Methods accepting an input
// node require the input to have shape (B, D), or (N, B, D) when N
// samples per distribution are evaluated at once.
//
// Distributions are read-only after construction and may be shared by
// concurrent readers building nodes on the same graph, subject to the
// graph's own concurrency rules.
type Distribution interface {
	// BatchShape returns the shape of the batch axes
	BatchShape() tensor.Shape

	// EventShape returns the shape of a single observation
	EventShape() tensor.Shape

	// EventDim returns the number of trailing axes of an input that
	// make up one observation
	EventDim() int

	// LogProb returns the log probability density of the node, with
	// the event axis reduced away. The output shape is the batch
	// shape, preceded by the sample axis if the input has one.
	LogProb(*G.Node) (*G.Node, error)

	// Prob returns the probability density of the node, with the same
	// shape contract as LogProb
	Prob(*G.Node) (*G.Node, error)

	// Entropy returns the differential entropy of each distribution
	// in the batch
	Entropy() (*G.Node, error)

	Mean() *G.Node

	// StdDev returns the per-dimension marginal standard deviation,
	// shaped like the mean
	StdDev() *G.Node

	// Variance returns the per-dimension marginal variance, shaped
	// like the mean
	Variance() *G.Node

	// CovarianceMatrix materializes the full covariance matrix with
	// shape (batch, D, D). This can be far more expensive than any
	// other method and exists for diagnostics only.
	CovarianceMatrix() (*G.Node, error)

	// Sample returns a node holding samples of shape
	// (samples, batch, D) drawn fresh on each run. The returned node
	// is not differentiable.
	Sample(samples int) (*G.Node, error)

	// Rsample returns reparameterized samples of shape
	// (samples, batch, D): the node is differentiable with respect to
	// the distribution parameters
	Rsample(samples int) (*G.Node, error)

	// HasRsample returns whether the distribution supports
	// reparameterized sampling
	HasRsample() bool
}

// Cdfer is a Distribution with a closed-form cumulative distribution
// function, evaluated element-wise along the event axis
type Cdfer interface {
	Distribution
	Cdf(*G.Node) (*G.Node, error)
}

// Quantiler is a Cdfer that can also return the inverse of the CDF,
// sometimes called the quantile function
type Quantiler interface {
	Cdfer
	Cdfinv(*G.Node) (*G.Node, error)
}

// Output adapts raw network projections into a Distribution. An
// Output describes the raw argument widths a projection must produce
// and constructs the distribution from the projected arguments,
// optionally composing an affine rescaling when the data was
// normalized upstream.
type Output interface {
	// ArgsDim maps each parameter name to the width of its raw
	// projection per event dimension
	ArgsDim() map[string]int

	// Distribution constructs the distribution from projected
	// arguments. When scale is non-nil the distribution is wrapped so
	// that densities and samples are expressed in unscaled data units.
	Distribution(args []*G.Node, scale *G.Node) (Distribution, error)

	// EventShape returns the event shape of constructed distributions
	EventShape() tensor.Shape

	// EventDim returns the event dimension of constructed
	// distributions
	EventDim() int
}

// ShapeError reports a tensor rank or dimension mismatch. It is
// returned at construction time, never after a distribution has been
// built.
type ShapeError struct {
	msg string
}

func shapeErrorf(format string, args ...interface{}) *ShapeError {
	return &ShapeError{msg: fmt.Sprintf(format, args...)}
}

func (e *ShapeError) Error() string { return e.msg }

// ConfigError reports an invalid hyperparameter. It is returned when
// a projection or output is constructed, before any forward pass.
type ConfigError struct {
	msg string
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string { return e.msg }
