package optimize

import (
	"math"

	"neurotomo/pkg/field"
)

// Warm-restart periods in epochs: imagefit cycles are short because
// pointwise supervision converges quickly, projection cycles are longer.
const (
	ImagefitRestartPeriod   = 10
	ProjectionRestartPeriod = 50
	restartPeriodMult       = 2
)

// CosineWarmRestarts anneals the learning rate from its base value to zero
// over a restart period following a cosine curve, then resets to the base
// value with the period doubled. Stepped once per completed epoch, not per
// batch.
type CosineWarmRestarts struct {
	opt    *AdamW
	baseLR float64
	period int // current cycle length in epochs
	cycle  int // epochs elapsed within the current cycle
}

// NewCosineWarmRestarts wraps an optimizer with the schedule. initialPeriod
// is the length of the first cycle in epochs.
func NewCosineWarmRestarts(opt *AdamW, initialPeriod int) *CosineWarmRestarts {
	return &CosineWarmRestarts{
		opt:    opt,
		baseLR: opt.LR(),
		period: initialPeriod,
	}
}

// Step advances the schedule by one epoch and updates the optimizer's
// learning rate.
func (s *CosineWarmRestarts) Step() {
	s.cycle++
	if s.cycle >= s.period {
		// Warm restart: back to the base rate, period doubles.
		s.cycle = 0
		s.period *= restartPeriodMult
	}
	s.opt.SetLR(s.LR())
}

// LR returns the scheduled learning rate for the current position in the
// cycle.
func (s *CosineWarmRestarts) LR() float64 {
	progress := float64(s.cycle) / float64(s.period)
	return s.baseLR * 0.5 * (1 + math.Cos(math.Pi*progress))
}

// Schedule builds the optimizer and scheduler pair for a training run:
// AdamW with amsgrad at the configured learning rate, and cosine annealing
// with warm restarts whose initial period depends on the training mode.
func Schedule(params []field.Parameter, lr float64, imagefit bool) (*AdamW, *CosineWarmRestarts) {
	opt := NewAdamW(params, lr)
	period := ProjectionRestartPeriod
	if imagefit {
		period = ImagefitRestartPeriod
	}
	return opt, NewCosineWarmRestarts(opt, period)
}
