package optimize

import (
	"math"
	"testing"
)

// TestCosineAnnealing verifies the rate decays monotonically within a cycle
// and follows the cosine curve.
func TestCosineAnnealing(t *testing.T) {
	opt := NewAdamW(nil, 1.0)
	sched := NewCosineWarmRestarts(opt, 10)

	if sched.LR() != 1.0 {
		t.Errorf("LR at cycle start = %f, want 1.0", sched.LR())
	}

	prev := sched.LR()
	for epoch := 1; epoch < 10; epoch++ {
		sched.Step()
		lr := sched.LR()
		if lr >= prev {
			t.Errorf("Epoch %d: LR %f did not decrease from %f", epoch, lr, prev)
		}
		want := 0.5 * (1 + math.Cos(math.Pi*float64(epoch)/10))
		if math.Abs(lr-want) > 1e-12 {
			t.Errorf("Epoch %d: LR = %f, want %f", epoch, lr, want)
		}
		if opt.LR() != lr {
			t.Errorf("Epoch %d: optimizer LR %f not synced with schedule %f", epoch, opt.LR(), lr)
		}
		prev = lr
	}
}

// TestWarmRestartDoublesPeriod verifies the rate snaps back to base at the
// cycle boundary and the next cycle is twice as long.
func TestWarmRestartDoublesPeriod(t *testing.T) {
	opt := NewAdamW(nil, 1.0)
	sched := NewCosineWarmRestarts(opt, 10)

	for epoch := 0; epoch < 10; epoch++ {
		sched.Step()
	}
	// The restart resets the rate to base.
	if sched.LR() != 1.0 {
		t.Errorf("LR after restart = %f, want 1.0", sched.LR())
	}

	// Halfway through the doubled cycle the cosine is at its midpoint.
	for epoch := 0; epoch < 10; epoch++ {
		sched.Step()
	}
	if math.Abs(sched.LR()-0.5) > 1e-12 {
		t.Errorf("LR at midpoint of doubled cycle = %f, want 0.5", sched.LR())
	}
}

// TestScheduleModePeriods verifies the training mode picks the initial
// restart period.
func TestScheduleModePeriods(t *testing.T) {
	_, imagefit := Schedule(nil, 1.0, true)
	_, projection := Schedule(nil, 1.0, false)

	// Stepping an imagefit schedule to its period triggers the restart;
	// the projection schedule at the same epoch is still mid-cycle.
	for epoch := 0; epoch < ImagefitRestartPeriod; epoch++ {
		imagefit.Step()
		projection.Step()
	}
	if imagefit.LR() != 1.0 {
		t.Errorf("Imagefit LR after %d epochs = %f, want restart to 1.0", ImagefitRestartPeriod, imagefit.LR())
	}
	if projection.LR() >= 1.0 {
		t.Errorf("Projection LR after %d epochs = %f, want mid-cycle decay", ImagefitRestartPeriod, projection.LR())
	}
}
