package trainer

import (
	"fmt"
	"image"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"neurotomo/internal/models"
	"neurotomo/pkg/field"
	"neurotomo/pkg/metrics"
	"neurotomo/pkg/optimize"
	"neurotomo/pkg/projection"
	"neurotomo/pkg/visualization"
)

// numLoggedProjections is how many randomly chosen projection triplets
// (prediction, ground truth, residual) are emitted at each validation epoch
// end.
const numLoggedProjections = 5

// ProjectionField fits the network indirectly: sampled densities along each
// ray are integrated into a predicted detector value and compared against
// the physical measurement, with an L1 smoothness penalty tying adjacent ray
// samples together.
type ProjectionField struct {
	net    *field.Network
	opt    *optimize.AdamW
	sched  *optimize.CosineWarmRestarts
	logger metrics.Logger
	val    ValidationDataset

	regWeight  float64
	numWorkers int
	seed       int64

	acc          Accumulator
	valWindow    metrics.Window
	valTotal     metrics.Window
	valSmooth    metrics.Window
	epochCounter int
}

// Network returns the underlying field.
func (f *ProjectionField) Network() *field.Network { return f.net }

// ConfigureOptimizers returns the optimizer and scheduler built at
// construction.
func (f *ProjectionField) ConfigureOptimizers() (*optimize.AdamW, *optimize.CosineWarmRestarts) {
	return f.opt, f.sched
}

// forward evaluates the network over every ray sample of the batch and
// reshapes the output to [batch, raySamples].
func (f *ProjectionField) forward(sample *models.Sample) (*mat.Dense, []float64, error) {
	if sample.RaySamples < 2 {
		return nil, nil, fmt.Errorf("%w: rays need at least 2 samples, got %d", field.ErrShapeMismatch, sample.RaySamples)
	}
	pts, err := pointsDense(sample)
	if err != nil {
		return nil, nil, err
	}

	lengths, err := projection.RayLengths(sample.Points, sample.Batch, sample.RaySamples)
	if err != nil {
		return nil, nil, err
	}

	out, err := f.net.Forward(pts, nil)
	if err != nil {
		return nil, nil, err
	}

	// [batch*raySamples, 1] and [batch, raySamples] share a row-major
	// layout, so the reshape is a view of the same backing data.
	raw := out.RawMatrix().Data
	values := mat.NewDense(sample.Batch, sample.RaySamples, raw)
	return values, lengths, nil
}

// losses computes the predicted detector values, the data loss against the
// target readings, and the smoothness penalty over adjacent samples.
func (f *ProjectionField) losses(values *mat.Dense, lengths []float64, target []float64) (preds []float64, dataLoss, smoothness float64, err error) {
	rows, cols := values.Dims()

	preds, err = projection.Integrate(cols, values, lengths)
	if err != nil {
		return nil, 0, 0, err
	}
	dataLoss, err = metrics.MSE(preds, target)
	if err != nil {
		return nil, 0, 0, err
	}

	// Mean absolute difference between each adjacent sample pair.
	sum := 0.0
	for r := 0; r < rows; r++ {
		for c := 1; c < cols; c++ {
			sum += math.Abs(values.At(r, c) - values.At(r, c-1))
		}
	}
	smoothness = sum / float64(rows*(cols-1))
	return preds, dataLoss, smoothness, nil
}

// TrainingStep runs one batch: integrate sampled densities per ray, compare
// to the measured detector values, penalize roughness along the ray, and
// apply one optimizer update on the combined loss.
func (f *ProjectionField) TrainingStep(sample *models.Sample) (float64, error) {
	f.net.ZeroGrad()

	values, lengths, err := f.forward(sample)
	if err != nil {
		return 0, err
	}
	preds, dataLoss, smoothness, err := f.losses(values, lengths, sample.Target)
	if err != nil {
		return 0, err
	}
	total := dataLoss + f.regWeight*smoothness

	rows, cols := values.Dims()
	dx := projection.SampleSpacing(cols, lengths)
	pairNorm := f.regWeight / float64(rows*(cols-1))

	// d(total)/d(density[r,c]): the data term distributes the detector
	// residual across the ray via the quadrature spacing; the smoothness
	// term contributes the signs of the two adjacent differences.
	gradOut := mat.NewDense(rows*cols, 1, nil)
	for r := 0; r < rows; r++ {
		residual := 2 * (preds[r] - sample.Target[r]) / float64(rows)
		for c := 0; c < cols; c++ {
			g := residual * dx[r]
			if c > 0 {
				g += pairNorm * sign(values.At(r, c)-values.At(r, c-1))
			}
			if c < cols-1 {
				g -= pairNorm * sign(values.At(r, c+1)-values.At(r, c))
			}
			gradOut.Set(r*cols+c, 0, g)
		}
	}

	if _, err := f.net.Backward(gradOut); err != nil {
		return 0, err
	}
	f.opt.Step()

	f.logger.LogScalar("train/loss", dataLoss, metrics.ReduceMean)
	f.logger.LogScalar("train/loss_total", total, metrics.ReduceMean)
	f.logger.LogScalar("train/l1_regularization", smoothness, metrics.ReduceMean)
	return total, nil
}

// ValidationStep evaluates one batch without updating parameters and buffers
// the detached detector predictions and targets.
func (f *ProjectionField) ValidationStep(sample *models.Sample) error {
	values, lengths, err := f.forward(sample)
	if err != nil {
		return err
	}
	preds, dataLoss, smoothness, err := f.losses(values, lengths, sample.Target)
	if err != nil {
		return err
	}

	f.valWindow.Record(dataLoss)
	f.valSmooth.Record(smoothness)
	f.valTotal.Record(dataLoss + f.regWeight*smoothness)
	f.acc.Append(preds, sample.Target)
	return nil
}

// OnValidationEpochEnd scatters the buffered predictions back into the full
// projection shape through the validity mask, logs sample projection
// triplets, then densely resamples the field on a regular grid to produce a
// full volumetric reconstruction compared against the true volume. Buffers
// are cleared unconditionally.
func (f *ProjectionField) OnValidationEpochEnd() error {
	defer f.acc.Reset()

	f.logger.LogScalar("val/loss", f.valWindow.Mean(), metrics.ReduceMean)
	f.logger.LogScalar("val/loss_total", f.valTotal.Mean(), metrics.ReduceMean)
	f.logger.LogScalar("val/l1_regularization", f.valSmooth.Mean(), metrics.ReduceMean)

	numProj, height, width := f.val.ProjectionShape()
	mask := f.val.ValidMask()
	if len(mask) != numProj*height*width {
		return fmt.Errorf("%w: validity mask has %d entries for projection shape [%d, %d, %d]", field.ErrShapeMismatch, len(mask), numProj, height, width)
	}

	bufPreds, bufTruth := f.acc.Finalize()
	predStack := models.NewProjectionStack(numProj, height, width)
	truthStack := models.NewProjectionStack(numProj, height, width)
	cursor := 0
	for i, valid := range mask {
		if !valid {
			continue
		}
		if cursor >= len(bufPreds) {
			return fmt.Errorf("%w: validity mask selects more positions than the %d buffered predictions", field.ErrShapeMismatch, len(bufPreds))
		}
		predStack.Data[i] = bufPreds[cursor]
		truthStack.Data[i] = bufTruth[cursor]
		cursor++
	}

	f.logProjectionTriplets(predStack, truthStack)

	return f.reconstructVolume()
}

// logProjectionTriplets emits prediction/truth/residual image triplets for a
// few randomly chosen projection angles.
func (f *ProjectionField) logProjectionTriplets(pred, truth *models.ProjectionStack) {
	rng := rand.New(rand.NewSource(f.seed + int64(f.epochCounter)))
	f.epochCounter++

	// Detector readings can exceed 1; normalize image intensity by the
	// stack maximum so the logged projections stay comparable.
	scale := 1.0
	for _, v := range truth.Data {
		if v > scale {
			scale = v
		}
	}

	for n := 0; n < numLoggedProjections; n++ {
		i := rng.Intn(pred.NumProjections)
		p := pred.Projection(i)
		g := truth.Projection(i)
		for j := range p {
			p[j] /= scale
			g[j] /= scale
		}
		f.logger.LogImages("val/projection",
			[]image.Image{
				visualization.SliceImage(p, pred.Width, pred.Height),
				visualization.SliceImage(g, pred.Width, pred.Height),
				visualization.ResidualImage(p, g, pred.Width, pred.Height),
			},
			[]string{
				fmt.Sprintf("pred_%d", i),
				fmt.Sprintf("gt_%d", i),
				fmt.Sprintf("residual_%d", i),
			},
		)
	}
}

// reconstructVolume evaluates the field over a dense regular grid spanning
// the normalized [-1, 1] cube at the true volume's resolution, one z-slice
// per task to bound memory, and logs the reconstruction MSE plus three
// orthogonal mid-slice triplets.
func (f *ProjectionField) reconstructVolume() error {
	vol := f.val.Volume()
	recon, err := EvaluateGrid(f.net, vol.Width, vol.Height, vol.Depth, f.numWorkers)
	if err != nil {
		return err
	}

	mse, err := metrics.MSE(recon.Data, vol.Data)
	if err != nil {
		return err
	}
	f.logger.LogScalar("val/loss_reconstruction", mse, metrics.ReduceMean)

	midX, midY, midZ := vol.Width/2, vol.Height/2, vol.Depth/2
	f.logger.LogImages("val/reconstruction",
		[]image.Image{
			visualization.SliceImage(recon.SliceZ(midZ), vol.Width, vol.Height),
			visualization.SliceImage(vol.SliceZ(midZ), vol.Width, vol.Height),
			visualization.ResidualImage(recon.SliceZ(midZ), vol.SliceZ(midZ), vol.Width, vol.Height),
			visualization.SliceImage(recon.SliceX(midX), vol.Height, vol.Depth),
			visualization.SliceImage(vol.SliceX(midX), vol.Height, vol.Depth),
			visualization.ResidualImage(recon.SliceX(midX), vol.SliceX(midX), vol.Height, vol.Depth),
			visualization.SliceImage(recon.SliceY(midY), vol.Width, vol.Depth),
			visualization.SliceImage(vol.SliceY(midY), vol.Width, vol.Depth),
			visualization.ResidualImage(recon.SliceY(midY), vol.SliceY(midY), vol.Width, vol.Depth),
		},
		[]string{
			"pred_xy", "gt_xy", "residual_xy",
			"pred_yz", "gt_yz", "residual_yz",
			"pred_xz", "gt_xz", "residual_xz",
		},
	)
	return nil
}

// EvaluateGrid resamples the field on a regular width x height x depth grid
// over the normalized [-1, 1] coordinate cube. Slices are distributed across
// workers; each task evaluates one z-slice so peak memory stays bounded by
// the slice size rather than the volume size.
func EvaluateGrid(net *field.Network, width, height, depth, numWorkers int) (*models.Volume, error) {
	recon := models.NewVolume(width, height, depth)
	if numWorkers < 1 {
		numWorkers = 1
	}

	type result struct {
		z   int
		err error
	}

	tasks := make(chan int)
	results := make(chan result, depth)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range tasks {
				err := evaluateSlice(net, recon, z)
				results <- result{z: z, err: err}
			}
		}()
	}

	go func() {
		for z := 0; z < depth; z++ {
			tasks <- z
		}
		close(tasks)
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("grid evaluation failed at slice %d: %w", res.z, res.err)
		}
	}
	return recon, nil
}

// evaluateSlice fills one z-slice of the reconstruction using the cache-free
// forward pass, which only reads network weights and is safe to call from
// several workers at once.
func evaluateSlice(net *field.Network, recon *models.Volume, z int) error {
	width, height, depth := recon.Width, recon.Height, recon.Depth
	pts := mat.NewDense(width*height, field.CoordinateDim, nil)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			row := y*width + x
			pts.Set(row, 0, normalized(x, width))
			pts.Set(row, 1, normalized(y, height))
			pts.Set(row, 2, normalized(z, depth))
		}
	}

	out, err := net.EvalOnly(pts)
	if err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			recon.SetAt(x, y, z, out.At(y*width+x, 0))
		}
	}
	return nil
}

// normalized maps grid index i of n to the [-1, 1] range.
func normalized(i, n int) float64 {
	if n == 1 {
		return -1
	}
	return -1 + 2*float64(i)/float64(n-1)
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
