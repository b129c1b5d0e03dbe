package field

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LatentTable holds one learned code vector per distinct volume instance,
// looked up by volume index. It is owned exclusively by the network and
// mutated only by gradient-based optimization. Codes are initialized once
// from a zero-mean Gaussian with standard deviation 1/sqrt(latentSize).
type LatentTable struct {
	numVolumes int
	latentSize int
	data       []float64 // row-major [numVolumes, latentSize]
	grad       []float64
}

// NewLatentTable allocates and initializes the table.
func NewLatentTable(numVolumes, latentSize int, seed int64) *LatentTable {
	t := &LatentTable{
		numVolumes: numVolumes,
		latentSize: latentSize,
		data:       make([]float64, numVolumes*latentSize),
		grad:       make([]float64, numVolumes*latentSize),
	}
	rng := rand.New(rand.NewSource(seed))
	std := 1 / math.Sqrt(float64(latentSize))
	for i := range t.data {
		t.data[i] = rng.NormFloat64() * std
	}
	return t
}

// Lookup returns the code for a volume index. The slice aliases the table's
// storage; callers must treat it as read-only. Repeated lookups between
// optimizer steps return identical values.
func (t *LatentTable) Lookup(idx int) []float64 {
	return t.data[idx*t.latentSize : (idx+1)*t.latentSize]
}

// Broadcast builds the [len(idxs), latentSize] matrix of codes for a batch,
// one row per sample, ready for concatenation with coordinate features.
func (t *LatentTable) Broadcast(idxs []int) *mat.Dense {
	out := mat.NewDense(len(idxs), t.latentSize, nil)
	for r, idx := range idxs {
		out.SetRow(r, t.Lookup(idx))
	}
	return out
}

// AccumulateGrad scatters per-row latent gradients back into the table.
// latentGrad must have one row per index in idxs and latentSize columns;
// rows sharing a volume index accumulate.
func (t *LatentTable) AccumulateGrad(idxs []int, latentGrad *mat.Dense) {
	for r, idx := range idxs {
		base := idx * t.latentSize
		for c := 0; c < t.latentSize; c++ {
			t.grad[base+c] += latentGrad.At(r, c)
		}
	}
}

// Parameter exposes the table to the optimizer as one flat block.
func (t *LatentTable) Parameter() Parameter {
	return Parameter{Name: "latent", Data: t.data, Grad: t.grad}
}

// ZeroGrad clears the accumulated gradient.
func (t *LatentTable) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// NumVolumes returns the number of rows in the table.
func (t *LatentTable) NumVolumes() int { return t.numVolumes }

// LatentSize returns the code width.
func (t *LatentTable) LatentSize() int { return t.latentSize }
