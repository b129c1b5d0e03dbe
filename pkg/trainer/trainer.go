// Package trainer orchestrates fitting the neural field: per-batch forward
// passes, loss computation and backpropagation, scalar logging, validation
// accumulation, and the end-of-epoch reconstruction that turns buffered
// predictions back into volumes and projection images.
//
// The two training regimes are separate implementations of TrainableField,
// selected once at construction: ImagefitField supervises the network
// directly with known voxel intensities, ProjectionField supervises it
// indirectly through line-integral detector readings.
package trainer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"neurotomo/internal/models"
	"neurotomo/pkg/config"
	"neurotomo/pkg/encoder"
	"neurotomo/pkg/field"
	"neurotomo/pkg/metrics"
	"neurotomo/pkg/optimize"
)

// TrainableField is one training regime over the neural field. A variant is
// constructed once and drives every step of its run; there is no mode flag
// consulted at step time.
type TrainableField interface {
	// TrainingStep runs one batch forward, computes the loss, backpropagates
	// and applies one optimizer update. Returns the loss used for the update.
	TrainingStep(sample *models.Sample) (float64, error)

	// ValidationStep runs one batch forward without touching parameters and
	// appends the predictions and targets to the epoch-scoped buffers.
	ValidationStep(sample *models.Sample) error

	// OnValidationEpochEnd reassembles the buffered predictions into a
	// volume or projection set, logs reconstruction metrics and images, and
	// clears the buffers unconditionally.
	OnValidationEpochEnd() error

	// ConfigureOptimizers returns the optimizer and epoch-wise learning-rate
	// scheduler for the run. Called once at setup.
	ConfigureOptimizers() (*optimize.AdamW, *optimize.CosineWarmRestarts)

	// Network exposes the underlying field, used by the command line entry
	// point for the final dense evaluation.
	Network() *field.Network
}

// Dataset supplies batches. The ordering of validation batches must be
// stable across an epoch so the accumulated predictions can be scattered
// back into the full projection or volume shape.
type Dataset interface {
	NumBatches() int
	Batch(i int) (*models.Sample, error)
}

// ValidationDataset additionally exposes the ground-truth tensors the
// epoch-end reconstruction compares against.
type ValidationDataset interface {
	Dataset

	// Volume returns the true volume tensor the field is reconstructing.
	Volume() *models.Volume

	// ProjectionShape reports the full projection-space dimensions.
	ProjectionShape() (numProjections, height, width int)

	// ValidMask marks which projection-space positions carry real
	// measurements; positions outside the mask stay zero when scattering.
	ValidMask() []bool
}

// Accumulator collects validation predictions and targets across the batches
// of one epoch. Its lifecycle is owned by the field variant: append during
// the epoch, finalize at epoch end, reset exactly once afterwards.
type Accumulator struct {
	preds  []float64
	truth  []float64
}

// Append adds one batch of detached predictions and targets.
func (a *Accumulator) Append(preds, truth []float64) {
	a.preds = append(a.preds, preds...)
	a.truth = append(a.truth, truth...)
}

// Finalize returns the concatenated buffers.
func (a *Accumulator) Finalize() (preds, truth []float64) {
	return a.preds, a.truth
}

// Reset clears the buffers for the next epoch.
func (a *Accumulator) Reset() {
	a.preds = a.preds[:0]
	a.truth = a.truth[:0]
}

// Len returns the number of accumulated predictions.
func (a *Accumulator) Len() int { return len(a.preds) }

// New constructs the field variant selected by the configuration, together
// with its optimizer and scheduler. projectionShape is the full
// projection-space shape [numProjections, height, width]; numVolumes bounds
// the latent table in imagefit mode.
func New(cfg *config.Config, val ValidationDataset, numVolumes int, logger metrics.Logger) (TrainableField, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}

	var enc field.Encoder
	switch cfg.Model.Encoder {
	case "":
		// raw coordinates
	case "frequency":
		enc = encoder.NewFrequency(cfg.Model.NumFreqBands)
	default:
		return nil, fmt.Errorf("trainer: unknown encoder %q", cfg.Model.Encoder)
	}

	net, err := field.NewNetwork(field.Options{
		NumHiddenLayers: cfg.Model.NumHiddenLayers,
		HiddenFeatures:  cfg.Model.NumHiddenFeatures,
		Activation:      cfg.Model.ActivationFunction,
		LatentSize:      cfg.Model.LatentSize,
		NumVolumes:      numVolumes,
		Imagefit:        cfg.Training.ImagefitMode,
		Encoder:         enc,
		Seed:            cfg.Runtime.Seed,
	})
	if err != nil {
		return nil, err
	}

	opt, sched := optimize.Schedule(net.Parameters(), cfg.Training.LearningRate, cfg.Training.ImagefitMode)

	if cfg.Training.ImagefitMode {
		return &ImagefitField{
			net:    net,
			opt:    opt,
			sched:  sched,
			logger: logger,
			val:    val,
		}, nil
	}
	return &ProjectionField{
		net:        net,
		opt:        opt,
		sched:      sched,
		logger:     logger,
		val:        val,
		regWeight:  cfg.Training.RegularizationWeight,
		numWorkers: cfg.Runtime.NumWorkers,
		seed:       cfg.Runtime.Seed,
	}, nil
}

// pointsDense views a sample's flat coordinate buffer as an [n, 3] matrix.
func pointsDense(s *models.Sample) (*mat.Dense, error) {
	n := s.NumPoints()
	if len(s.Points) != n*field.CoordinateDim {
		return nil, fmt.Errorf("%w: %d coordinate values for %d points", field.ErrShapeMismatch, len(s.Points), n)
	}
	return mat.NewDense(n, field.CoordinateDim, s.Points), nil
}
