package trainer

import (
	"context"
	"image"
	"math"
	"sync"
	"testing"

	"neurotomo/internal/phantom"
	"neurotomo/pkg/config"
	"neurotomo/pkg/field"
	"neurotomo/pkg/metrics"
)

// recordingLogger captures scalar names and image-set sizes for assertions.
type recordingLogger struct {
	mu       sync.Mutex
	scalars  map[string]float64
	images   map[string]int
	captions []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{
		scalars: make(map[string]float64),
		images:  make(map[string]int),
	}
}

func (l *recordingLogger) LogScalar(name string, value float64, reduce metrics.Reduction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scalars[name] = value
}

func (l *recordingLogger) LogImages(key string, images []image.Image, captions []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images[key] += len(images)
	l.captions = append(l.captions, captions...)
}

func (l *recordingLogger) has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.scalars[name]
	return ok
}

func smallConfig(imagefit bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Training.ImagefitMode = imagefit
	cfg.Training.LearningRate = 1e-3
	cfg.Training.BatchSize = 16
	cfg.Model.NumHiddenLayers = 1
	cfg.Model.NumHiddenFeatures = 8
	cfg.Model.LatentSize = 4
	cfg.Runtime.NumWorkers = 2
	cfg.Runtime.Seed = 42
	return cfg
}

// TestAccumulatorLifecycle verifies append, finalize and reset behavior.
func TestAccumulatorLifecycle(t *testing.T) {
	var acc Accumulator
	acc.Append([]float64{1, 2}, []float64{3, 4})
	acc.Append([]float64{5}, []float64{6})

	if acc.Len() != 3 {
		t.Errorf("Len = %d, want 3", acc.Len())
	}
	preds, truth := acc.Finalize()
	if len(preds) != 3 || len(truth) != 3 || preds[2] != 5 || truth[2] != 6 {
		t.Errorf("Finalize = %v, %v", preds, truth)
	}

	acc.Reset()
	if acc.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", acc.Len())
	}
}

// TestImagefitValidationEpoch runs one full validation epoch and verifies the
// logged keys and the buffer reset.
func TestImagefitValidationEpoch(t *testing.T) {
	data := phantom.NewImagefit(phantom.Options{Size: 4, BatchSize: 16})
	logger := newRecordingLogger()

	fld, err := New(smallConfig(true), data, 1, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	imagefit := fld.(*ImagefitField)

	for b := 0; b < data.NumBatches(); b++ {
		sample, _ := data.Batch(b)
		if err := fld.ValidationStep(sample); err != nil {
			t.Fatalf("ValidationStep(%d) failed: %v", b, err)
		}
	}
	if imagefit.BufferedLen() != 4*4*4 {
		t.Fatalf("Buffered %d predictions, want 64", imagefit.BufferedLen())
	}

	if err := fld.OnValidationEpochEnd(); err != nil {
		t.Fatalf("OnValidationEpochEnd failed: %v", err)
	}

	if imagefit.BufferedLen() != 0 {
		t.Errorf("Buffer not cleared after epoch end: %d", imagefit.BufferedLen())
	}
	if !logger.has("val/loss") {
		t.Error("val/loss not logged")
	}
	if !logger.has("val/reconstruction") {
		t.Error("val/reconstruction PSNR not logged")
	}
	// The projection-only losses never appear in this regime.
	if logger.has("val/loss_total") || logger.has("val/l1_regularization") {
		t.Error("Projection-regime scalars logged by the imagefit variant")
	}
	if logger.images["val/reconstruction"] != 2 {
		t.Errorf("Logged %d reconstruction images, want a pred/gt pair", logger.images["val/reconstruction"])
	}
}

// TestImagefitTrainingReducesLoss verifies repeated steps on a fixed batch
// descend.
func TestImagefitTrainingReducesLoss(t *testing.T) {
	data := phantom.NewImagefit(phantom.Options{Size: 4, BatchSize: 64})
	logger := newRecordingLogger()

	fld, err := New(smallConfig(true), data, 1, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sample, _ := data.Batch(0)
	first, err := fld.TrainingStep(sample)
	if err != nil {
		t.Fatalf("TrainingStep failed: %v", err)
	}
	var last float64
	for i := 0; i < 200; i++ {
		last, err = fld.TrainingStep(sample)
		if err != nil {
			t.Fatalf("TrainingStep failed at iteration %d: %v", i, err)
		}
	}
	if last >= first {
		t.Errorf("Loss did not decrease: first %f, last %f", first, last)
	}
	if !logger.has("train/loss") {
		t.Error("train/loss not logged")
	}
}

// TestImagefitRejectsRayBatches verifies the pointwise regime refuses
// multi-sample rows.
func TestImagefitRejectsRayBatches(t *testing.T) {
	data := phantom.NewProjection(phantom.Options{Size: 6, NumProjections: 2, RaySamples: 8, BatchSize: 8})
	logger := newRecordingLogger()

	imagefitData := phantom.NewImagefit(phantom.Options{Size: 4, BatchSize: 16})
	fld, err := New(smallConfig(true), imagefitData, 1, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sample, _ := data.Batch(0)
	if _, err := fld.TrainingStep(sample); err == nil {
		t.Error("Expected error for a ray batch in the pointwise regime")
	}
}

// TestProjectionTrainingStep verifies the combined loss decomposition is
// logged and the step descends on a fixed batch.
func TestProjectionTrainingStep(t *testing.T) {
	data := phantom.NewProjection(phantom.Options{Size: 6, NumProjections: 2, RaySamples: 8, BatchSize: 16})
	logger := newRecordingLogger()

	fld, err := New(smallConfig(false), data, 1, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sample, _ := data.Batch(0)
	first, err := fld.TrainingStep(sample)
	if err != nil {
		t.Fatalf("TrainingStep failed: %v", err)
	}
	var last float64
	for i := 0; i < 200; i++ {
		last, err = fld.TrainingStep(sample)
		if err != nil {
			t.Fatalf("TrainingStep failed at iteration %d: %v", i, err)
		}
	}
	if last >= first {
		t.Errorf("Total loss did not decrease: first %f, last %f", first, last)
	}

	for _, name := range []string{"train/loss", "train/loss_total", "train/l1_regularization"} {
		if !logger.has(name) {
			t.Errorf("%s not logged", name)
		}
	}
}

// TestProjectionValidationEpoch runs one validation epoch and verifies the
// scatter, the logged projection triplets and the dense reconstruction.
func TestProjectionValidationEpoch(t *testing.T) {
	data := phantom.NewProjection(phantom.Options{Size: 6, NumProjections: 2, RaySamples: 8, BatchSize: 16})
	logger := newRecordingLogger()

	fld, err := New(smallConfig(false), data, 1, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for b := 0; b < data.NumBatches(); b++ {
		sample, _ := data.Batch(b)
		if err := fld.ValidationStep(sample); err != nil {
			t.Fatalf("ValidationStep(%d) failed: %v", b, err)
		}
	}
	if err := fld.OnValidationEpochEnd(); err != nil {
		t.Fatalf("OnValidationEpochEnd failed: %v", err)
	}

	for _, name := range []string{"val/loss", "val/loss_total", "val/l1_regularization", "val/loss_reconstruction"} {
		if !logger.has(name) {
			t.Errorf("%s not logged", name)
		}
	}
	if logger.images["val/projection"] != numLoggedProjections*3 {
		t.Errorf("Logged %d projection images, want %d triplets", logger.images["val/projection"], numLoggedProjections)
	}
	if logger.images["val/reconstruction"] != 9 {
		t.Errorf("Logged %d reconstruction images, want 9 (three planes, pred/gt/residual)", logger.images["val/reconstruction"])
	}
}

// TestEvaluateGridParallelConsistent verifies worker count does not change
// the reconstruction.
func TestEvaluateGridParallelConsistent(t *testing.T) {
	net, err := field.NewNetwork(field.Options{
		NumHiddenLayers: 1,
		HiddenFeatures:  8,
		Activation:      "sine",
		Seed:            3,
	})
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}

	serial, err := EvaluateGrid(net, 5, 5, 5, 1)
	if err != nil {
		t.Fatalf("EvaluateGrid serial failed: %v", err)
	}
	parallel, err := EvaluateGrid(net, 5, 5, 5, 4)
	if err != nil {
		t.Fatalf("EvaluateGrid parallel failed: %v", err)
	}
	for i := range serial.Data {
		if serial.Data[i] != parallel.Data[i] {
			t.Fatalf("Voxel %d differs between worker counts: %v vs %v", i, serial.Data[i], parallel.Data[i])
		}
	}

	// The grid spans [-1, 1]; the center voxel sits at the origin.
	center := serial.At(2, 2, 2)
	if center <= 0 || center >= 1 {
		t.Errorf("Center voxel %v outside (0, 1)", center)
	}
}

// TestRunnerFullEpoch drives the complete loop for two epochs.
func TestRunnerFullEpoch(t *testing.T) {
	data := phantom.NewProjection(phantom.Options{Size: 6, NumProjections: 2, RaySamples: 8, BatchSize: 32})
	logger := newRecordingLogger()

	fld, err := New(smallConfig(false), data, 1, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	runner := &Runner{Field: fld, Train: data, Val: data, Epochs: 2, LogEvery: 100}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !logger.has("val/loss_reconstruction") {
		t.Error("Full run did not log the reconstruction loss")
	}
}

// TestRunnerRejectsZeroEpochs verifies the epoch count is validated.
func TestRunnerRejectsZeroEpochs(t *testing.T) {
	runner := &Runner{Epochs: 0}
	if err := runner.Run(context.Background()); err == nil {
		t.Error("Expected error for zero epochs")
	}
}

// TestRunnerHonorsCancellation verifies a canceled context stops the run.
func TestRunnerHonorsCancellation(t *testing.T) {
	data := phantom.NewProjection(phantom.Options{Size: 6, NumProjections: 2, RaySamples: 8, BatchSize: 32})
	logger := newRecordingLogger()

	fld, err := New(smallConfig(false), data, 1, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &Runner{Field: fld, Train: data, Val: data, Epochs: 5}
	if err := runner.Run(ctx); err == nil {
		t.Error("Expected error from canceled context")
	}
}

// TestNewRejectsUnknownEncoder verifies encoder names are validated at
// construction.
func TestNewRejectsUnknownEncoder(t *testing.T) {
	data := phantom.NewImagefit(phantom.Options{Size: 4, BatchSize: 16})
	cfg := smallConfig(true)
	cfg.Model.Encoder = "hash"
	if _, err := New(cfg, data, 1, newRecordingLogger()); err == nil {
		t.Error("Expected error for unknown encoder")
	}
}

// TestFrequencyEncoderEndToEnd verifies the encoded variant trains and stays
// in range.
func TestFrequencyEncoderEndToEnd(t *testing.T) {
	data := phantom.NewImagefit(phantom.Options{Size: 4, BatchSize: 16})
	cfg := smallConfig(true)
	cfg.Model.Encoder = "frequency"
	cfg.Model.NumFreqBands = 2

	fld, err := New(cfg, data, 1, newRecordingLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	sample, _ := data.Batch(0)
	loss, err := fld.TrainingStep(sample)
	if err != nil {
		t.Fatalf("TrainingStep failed: %v", err)
	}
	if math.IsNaN(loss) || loss < 0 {
		t.Errorf("Loss = %v, want a non-negative finite value", loss)
	}
}
