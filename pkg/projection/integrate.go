// Package projection converts per-ray density samples into predicted
// line-integral (detector) values. The quadrature is the numerical link
// between the continuous field and the physical measurement model: a
// Riemann-sum approximation of the Beer-Lambert attenuation integral with an
// implicit unit incident intensity.
package projection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"neurotomo/pkg/field"
)

// Integrate approximates the line integral along each ray. values holds the
// sampled densities, one ray per row with numPoints columns; lengths holds
// the physical span of each ray (distance between its first and last
// sample). For uniform spacing dx = length/numPoints, the predicted detector
// value is sum(density * dx) over the row.
//
// The function is pure: identical inputs produce identical outputs, in
// training and in validation alike.
func Integrate(numPoints int, values *mat.Dense, lengths []float64) ([]float64, error) {
	rows, cols := values.Dims()
	if cols != numPoints {
		return nil, fmt.Errorf("%w: density values have %d columns, want %d", field.ErrShapeMismatch, cols, numPoints)
	}
	if len(lengths) != rows {
		return nil, fmt.Errorf("%w: %d ray lengths for %d rays", field.ErrShapeMismatch, len(lengths), rows)
	}

	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		dx := lengths[r] / float64(numPoints)
		sum := 0.0
		for c := 0; c < numPoints; c++ {
			sum += values.At(r, c) * dx
		}
		out[r] = sum
	}
	return out, nil
}

// SampleSpacing returns d(predicted)/d(density) for each ray, which for the
// uniform quadrature is simply the spacing dx = length/numPoints. Used by the
// backward pass to distribute the detector-value gradient across samples.
func SampleSpacing(numPoints int, lengths []float64) []float64 {
	dx := make([]float64, len(lengths))
	for i, l := range lengths {
		dx[i] = l / float64(numPoints)
	}
	return dx
}

// RayLengths computes the Euclidean distance between the first and last
// sample of each ray. points is the flat coordinate buffer of a projection
// batch: batch rays, numPoints samples per ray, 3 components per sample.
// Samples are assumed uniformly spaced along each ray.
func RayLengths(points []float64, batch, numPoints int) ([]float64, error) {
	if len(points) != batch*numPoints*3 {
		return nil, fmt.Errorf("%w: %d coordinates for %d rays of %d points", field.ErrShapeMismatch, len(points), batch, numPoints)
	}

	lengths := make([]float64, batch)
	stride := numPoints * 3
	for r := 0; r < batch; r++ {
		first := points[r*stride : r*stride+3]
		last := points[r*stride+(numPoints-1)*3 : r*stride+numPoints*3]
		var sum float64
		for c := 0; c < 3; c++ {
			d := last[c] - first[c]
			sum += d * d
		}
		lengths[r] = math.Sqrt(sum)
	}
	return lengths, nil
}
