package trainer

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"

	"neurotomo/internal/models"
	"neurotomo/pkg/field"
	"neurotomo/pkg/metrics"
	"neurotomo/pkg/optimize"
	"neurotomo/pkg/visualization"
)

// ImagefitField fits the network directly against known voxel intensities.
// Each sample row carries one coordinate and the matching ground-truth
// value; the per-volume latent code is looked up, broadcast across the batch
// and concatenated to the coordinate features.
type ImagefitField struct {
	net    *field.Network
	opt    *optimize.AdamW
	sched  *optimize.CosineWarmRestarts
	logger metrics.Logger
	val    ValidationDataset

	acc       Accumulator
	valWindow metrics.Window
}

// Network returns the underlying field.
func (f *ImagefitField) Network() *field.Network { return f.net }

// ConfigureOptimizers returns the optimizer and scheduler built at
// construction.
func (f *ImagefitField) ConfigureOptimizers() (*optimize.AdamW, *optimize.CosineWarmRestarts) {
	return f.opt, f.sched
}

// forward runs the latent lookup, broadcast and network evaluation shared by
// the training and validation steps.
func (f *ImagefitField) forward(sample *models.Sample) (*mat.Dense, []int, error) {
	if sample.RaySamples != 1 {
		return nil, nil, fmt.Errorf("%w: imagefit samples carry one point per row, got %d", field.ErrShapeMismatch, sample.RaySamples)
	}
	if len(sample.VolumeIndex) != sample.Batch {
		return nil, nil, fmt.Errorf("%w: %d volume indices for %d rows", field.ErrShapeMismatch, len(sample.VolumeIndex), sample.Batch)
	}
	pts, err := pointsDense(sample)
	if err != nil {
		return nil, nil, err
	}

	latent := f.net.Latent().Broadcast(sample.VolumeIndex)
	out, err := f.net.Forward(pts, latent)
	if err != nil {
		return nil, nil, err
	}
	rows, _ := out.Dims()
	if rows != len(sample.Target) {
		return nil, nil, fmt.Errorf("%w: %d predictions for %d targets", field.ErrShapeMismatch, rows, len(sample.Target))
	}
	return out, sample.VolumeIndex, nil
}

// TrainingStep runs one MSE step against voxel ground truth. No
// regularization term is applied in this mode.
func (f *ImagefitField) TrainingStep(sample *models.Sample) (float64, error) {
	f.net.ZeroGrad()

	out, idxs, err := f.forward(sample)
	if err != nil {
		return 0, err
	}

	n := sample.Batch
	loss := 0.0
	gradOut := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		d := out.At(i, 0) - sample.Target[i]
		loss += d * d
		gradOut.Set(i, 0, 2*d/float64(n))
	}
	loss /= float64(n)

	gradIn, err := f.net.Backward(gradOut)
	if err != nil {
		return 0, err
	}
	latentGrad := gradIn.Slice(0, n, 0, f.net.LatentDim()).(*mat.Dense)
	f.net.Latent().AccumulateGrad(idxs, latentGrad)

	f.opt.Step()

	f.logger.LogScalar("train/loss", loss, metrics.ReduceMean)
	return loss, nil
}

// ValidationStep evaluates one batch and buffers detached predictions and
// targets. Only val/loss is tracked in this mode; the smoothness and total
// losses of the projection regime are undefined here and never emitted.
func (f *ImagefitField) ValidationStep(sample *models.Sample) error {
	out, _, err := f.forward(sample)
	if err != nil {
		return err
	}

	n := sample.Batch
	preds := make([]float64, n)
	for i := 0; i < n; i++ {
		preds[i] = out.At(i, 0)
	}

	loss, err := metrics.MSE(preds, sample.Target)
	if err != nil {
		return err
	}
	f.valWindow.Record(loss)
	f.acc.Append(preds, sample.Target)
	return nil
}

// OnValidationEpochEnd reshapes the buffered predictions to the known volume
// shape, logs a mid-slice image pair and the full-volume PSNR, and clears
// the buffers.
func (f *ImagefitField) OnValidationEpochEnd() error {
	defer f.acc.Reset()

	f.logger.LogScalar("val/loss", f.valWindow.Mean(), metrics.ReduceMean)

	preds, truth := f.acc.Finalize()
	vol := f.val.Volume()
	if len(preds) != len(vol.Data) {
		return fmt.Errorf("%w: %d buffered predictions for a volume of %d voxels", field.ErrShapeMismatch, len(preds), len(vol.Data))
	}

	predVol := &models.Volume{Data: preds, Width: vol.Width, Height: vol.Height, Depth: vol.Depth}
	truthVol := &models.Volume{Data: truth, Width: vol.Width, Height: vol.Height, Depth: vol.Depth}

	mid := vol.Depth / 2
	f.logger.LogImages("val/reconstruction",
		[]image.Image{
			visualization.SliceImage(predVol.SliceZ(mid), vol.Width, vol.Height),
			visualization.SliceImage(truthVol.SliceZ(mid), vol.Width, vol.Height),
		},
		[]string{"pred", "gt"},
	)

	psnr, err := metrics.PSNR(preds, truth)
	if err != nil {
		return err
	}
	f.logger.LogScalar("val/reconstruction", psnr, metrics.ReduceMean)

	return nil
}

// BufferedLen reports the current validation buffer size, exposed for
// lifecycle tests.
func (f *ImagefitField) BufferedLen() int { return f.acc.Len() }
