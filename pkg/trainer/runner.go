package trainer

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Runner drives the epoch loop: every training batch steps the optimizer,
// every validation epoch ends with a reconstruction pass, and the scheduler
// advances once per completed epoch.
type Runner struct {
	Field  TrainableField
	Train  Dataset
	Val    ValidationDataset
	Epochs int

	// LogEvery controls how often per-step progress lines are printed.
	LogEvery int
}

// Run executes the full training workload. Cancellation is honored at batch
// boundaries; any step failure aborts the run.
func (r *Runner) Run(ctx context.Context) error {
	if r.Epochs <= 0 {
		return fmt.Errorf("trainer: epochs must be > 0, got %d", r.Epochs)
	}
	logEvery := r.LogEvery
	if logEvery <= 0 {
		logEvery = 50
	}

	_, sched := r.Field.ConfigureOptimizers()

	for epoch := 0; epoch < r.Epochs; epoch++ {
		start := time.Now()

		for b := 0; b < r.Train.NumBatches(); b++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample, err := r.Train.Batch(b)
			if err != nil {
				return fmt.Errorf("epoch %d: loading training batch %d: %w", epoch, b, err)
			}
			loss, err := r.Field.TrainingStep(sample)
			if err != nil {
				return fmt.Errorf("epoch %d: training batch %d: %w", epoch, b, err)
			}
			if b%logEvery == 0 {
				log.Printf("epoch=%d batch=%d/%d loss=%.6f", epoch, b, r.Train.NumBatches(), loss)
			}
		}

		for b := 0; b < r.Val.NumBatches(); b++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample, err := r.Val.Batch(b)
			if err != nil {
				return fmt.Errorf("epoch %d: loading validation batch %d: %w", epoch, b, err)
			}
			if err := r.Field.ValidationStep(sample); err != nil {
				return fmt.Errorf("epoch %d: validation batch %d: %w", epoch, b, err)
			}
		}

		if err := r.Field.OnValidationEpochEnd(); err != nil {
			return fmt.Errorf("epoch %d: validation epoch end: %w", epoch, err)
		}

		sched.Step()
		log.Printf("epoch=%d done in %.2fs lr=%.2e", epoch, time.Since(start).Seconds(), sched.LR())
	}

	return nil
}
