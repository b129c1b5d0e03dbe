// Package optimize provides the gradient-based optimizer and learning-rate
// schedule used to fit the neural field.
package optimize

import (
	"math"

	"neurotomo/pkg/field"
)

// Adam hyperparameter defaults, matching the values the rest of the field
// machinery was tuned against.
const (
	DefaultBeta1       = 0.9
	DefaultBeta2       = 0.999
	DefaultEpsilon     = 1e-8
	DefaultWeightDecay = 0.01
)

// AdamW implements the AdamW update with the amsgrad stabilization: the
// second-moment estimate used in the denominator is the running maximum of
// all past estimates, which prevents the effective step size from growing
// when the variance estimate collapses.
//
// Update rule per element:
//
//	m = beta1*m + (1-beta1)*g
//	v = beta2*v + (1-beta2)*g^2
//	vMax = max(vMax, v)
//	param -= lr * (mHat / (sqrt(vMaxHat) + eps) + weightDecay*param)
//
// with bias-corrected mHat and vMaxHat. Weight decay is decoupled from the
// gradient (the "W" in AdamW).
type AdamW struct {
	lr          float64
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	params []field.Parameter
	m      [][]float64
	v      [][]float64
	vMax   [][]float64
	t      int
}

// NewAdamW creates the optimizer over a fixed parameter set with the given
// base learning rate and default moments.
func NewAdamW(params []field.Parameter, lr float64) *AdamW {
	opt := &AdamW{
		lr:          lr,
		beta1:       DefaultBeta1,
		beta2:       DefaultBeta2,
		epsilon:     DefaultEpsilon,
		weightDecay: DefaultWeightDecay,
		params:      params,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
		vMax:        make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.m[i] = make([]float64, len(p.Data))
		opt.v[i] = make([]float64, len(p.Data))
		opt.vMax[i] = make([]float64, len(p.Data))
	}
	return opt
}

// SetLR updates the learning rate; called by the scheduler at epoch
// boundaries.
func (opt *AdamW) SetLR(lr float64) { opt.lr = lr }

// LR returns the current learning rate.
func (opt *AdamW) LR() float64 { return opt.lr }

// Step applies one update from the accumulated gradients.
func (opt *AdamW) Step() {
	opt.t++
	bias1 := 1 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range opt.params {
		m, v, vMax := opt.m[i], opt.v[i], opt.vMax[i]
		for j := range p.Data {
			g := p.Grad[j]

			m[j] = opt.beta1*m[j] + (1-opt.beta1)*g
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*g*g
			if v[j] > vMax[j] {
				vMax[j] = v[j]
			}

			mHat := m[j] / bias1
			vHat := vMax[j] / bias2

			p.Data[j] -= opt.lr * (mHat/(math.Sqrt(vHat)+opt.epsilon) + opt.weightDecay*p.Data[j])
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (opt *AdamW) ZeroGrad() {
	for _, p := range opt.params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}
