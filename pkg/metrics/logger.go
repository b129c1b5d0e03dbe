package metrics

import (
	"image"
	"log"
	"sync"
)

// Reduction declares how a scalar is aggregated when the run is replicated
// across several workers. The core always logs with an explicit reduction so
// a data-parallel orchestrator can substitute a cross-replica reducer
// without touching call sites.
type Reduction int

const (
	// ReduceMean averages the value across replicas.
	ReduceMean Reduction = iota
	// ReduceLast keeps the most recent value (single-replica runs).
	ReduceLast
)

// Logger is the sink for named scalar metrics and image sets. Implementations
// must be safe for reduction-compatible aggregation: scalars logged with
// ReduceMean must be combined with a mean, never by keeping replica-local
// state.
type Logger interface {
	// LogScalar records one named scalar for the current step or epoch.
	LogScalar(name string, value float64, reduce Reduction)

	// LogImages records a named image set with one caption per image.
	LogImages(key string, images []image.Image, captions []string)
}

// RunLogger is the default Logger: scalars go to the process log, images are
// handed to a save callback (typically pkg/visualization writing JPEGs).
type RunLogger struct {
	mu sync.Mutex

	// SaveImage persists one image under the given key and caption. May be
	// nil, in which case image sets are counted but dropped.
	SaveImage func(key, caption string, img image.Image) error

	scalars map[string]float64
}

// NewRunLogger creates a logger with the given image sink.
func NewRunLogger(saveImage func(key, caption string, img image.Image) error) *RunLogger {
	return &RunLogger{
		SaveImage: saveImage,
		scalars:   make(map[string]float64),
	}
}

// LogScalar records and prints a scalar value.
func (l *RunLogger) LogScalar(name string, value float64, reduce Reduction) {
	l.mu.Lock()
	l.scalars[name] = value
	l.mu.Unlock()
	log.Printf("%s=%.6f", name, value)
}

// LogImages persists an image set through the save callback.
func (l *RunLogger) LogImages(key string, images []image.Image, captions []string) {
	if l.SaveImage == nil {
		return
	}
	for i, img := range images {
		caption := ""
		if i < len(captions) {
			caption = captions[i]
		}
		if err := l.SaveImage(key, caption, img); err != nil {
			log.Printf("warning: failed to save image %s/%s: %v", key, caption, err)
		}
	}
}

// Scalar returns the last logged value for a name, for inspection in tests
// and the command-line entry point.
func (l *RunLogger) Scalar(name string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.scalars[name]
	return v, ok
}

// Window accumulates per-step scalar losses and reports their mean at epoch
// boundaries.
type Window struct {
	sum   float64
	steps int
}

// Record adds one step's value.
func (w *Window) Record(value float64) {
	w.sum += value
	w.steps++
}

// Mean returns the running mean and resets the window.
func (w *Window) Mean() float64 {
	if w.steps == 0 {
		return 0
	}
	mean := w.sum / float64(w.steps)
	w.sum = 0
	w.steps = 0
	return mean
}
