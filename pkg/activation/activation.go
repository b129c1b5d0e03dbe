// Package activation provides the catalog of nonlinearities used by the
// neural field, together with the sine-specific weight initialization scheme
// from the SIREN formulation. Activation names are resolved once at network
// construction time into fixed Function values, so the hot path never
// compares strings.
package activation

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrUnsupportedActivation indicates an activation name outside the catalog.
var ErrUnsupportedActivation = errors.New("activation: unsupported activation function")

// Kind enumerates the supported activation functions.
type Kind int

const (
	Identity Kind = iota
	ReLU
	LeakyReLU
	Sigmoid
	Tanh
	ELU
	Sine
)

// SineFrequency is the fixed frequency factor of the sine activation.
// See the SIREN paper, supplement section 1.5, for the choice of 30.
const SineFrequency = 30.0

// leakySlope is the negative-side slope of the leaky rectifier.
const leakySlope = 0.01

// Function is a resolved activation: a unary transform plus its derivative.
// Derivative receives both the pre-activation and the activation value so
// each kind can use whichever is cheaper.
type Function struct {
	Kind  Kind
	Name  string
	Apply func(x float64) float64
	// Derivative returns d(Apply)/dx given the pre-activation x and the
	// already-computed output y = Apply(x).
	Derivative func(x, y float64) float64
}

// Resolve maps an activation name to its Function. Unknown names fail with
// ErrUnsupportedActivation naming the offending value.
func Resolve(name string) (Function, error) {
	switch name {
	case "none":
		return Function{
			Kind:       Identity,
			Name:       name,
			Apply:      func(x float64) float64 { return x },
			Derivative: func(x, y float64) float64 { return 1 },
		}, nil
	case "relu":
		return Function{
			Kind: ReLU,
			Name: name,
			Apply: func(x float64) float64 {
				if x > 0 {
					return x
				}
				return 0
			},
			Derivative: func(x, y float64) float64 {
				if x > 0 {
					return 1
				}
				return 0
			},
		}, nil
	case "leaky_relu":
		return Function{
			Kind: LeakyReLU,
			Name: name,
			Apply: func(x float64) float64 {
				if x > 0 {
					return x
				}
				return leakySlope * x
			},
			Derivative: func(x, y float64) float64 {
				if x > 0 {
					return 1
				}
				return leakySlope
			},
		}, nil
	case "sigmoid":
		return Function{
			Kind:       Sigmoid,
			Name:       name,
			Apply:      SigmoidFn,
			Derivative: func(x, y float64) float64 { return y * (1 - y) },
		}, nil
	case "tanh":
		return Function{
			Kind:       Tanh,
			Name:       name,
			Apply:      math.Tanh,
			Derivative: func(x, y float64) float64 { return 1 - y*y },
		}, nil
	case "elu":
		return Function{
			Kind: ELU,
			Name: name,
			Apply: func(x float64) float64 {
				if x > 0 {
					return x
				}
				return math.Exp(x) - 1
			},
			Derivative: func(x, y float64) float64 {
				if x > 0 {
					return 1
				}
				return y + 1
			},
		}, nil
	case "sine":
		return Function{
			Kind:       Sine,
			Name:       name,
			Apply:      func(x float64) float64 { return math.Sin(SineFrequency * x) },
			Derivative: func(x, y float64) float64 { return SineFrequency * math.Cos(SineFrequency*x) },
		}, nil
	default:
		return Function{}, fmt.Errorf("%w: %q", ErrUnsupportedActivation, name)
	}
}

// SigmoidFn is the logistic sigmoid, exported because the network's output
// layer always applies it regardless of the configured hidden activation.
func SigmoidFn(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// SineInit draws weights uniformly from [-sqrt(6/fanIn)/30, sqrt(6/fanIn)/30].
// This preserves the distribution of sine pre-activations across depth; a
// network initialized outside this range fails to train.
func SineInit(weights []float64, fanIn int, rng *rand.Rand) {
	bound := math.Sqrt(6/float64(fanIn)) / SineFrequency
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * bound
	}
}

// FirstLayerSineInit draws weights uniformly from [-1/fanIn, 1/fanIn]. The
// first layer sees raw low-dimensional coordinates rather than activations
// from a prior sine layer, so it uses the wider range.
func FirstLayerSineInit(weights []float64, fanIn int, rng *rand.Rand) {
	bound := 1 / float64(fanIn)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * bound
	}
}
