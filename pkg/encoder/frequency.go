// Package encoder provides coordinate encodings that lift raw 3D positions
// into higher-dimensional feature embeddings before the field's first linear
// layer. The field treats encoders as opaque collaborators; coordinates are
// leaves of the computation, so encoders need no backward pass.
package encoder

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Frequency implements the standard positional frequency encoding: each
// coordinate component x is expanded into
//
//	[x, sin(2^0 pi x), cos(2^0 pi x), ..., sin(2^(K-1) pi x), cos(2^(K-1) pi x)]
//
// for K frequency bands. Low bands capture coarse structure, high bands fine
// detail.
type Frequency struct {
	numBands int
}

// NewFrequency creates an encoding with the given number of frequency bands.
func NewFrequency(numBands int) *Frequency {
	return &Frequency{numBands: numBands}
}

// OutputDim reports the embedding width: 3 passthrough components plus
// sin/cos pairs per band per component.
func (f *Frequency) OutputDim() int {
	return 3 + 3*2*f.numBands
}

// Encode maps an [n, 3] coordinate matrix to [n, OutputDim()] features.
func (f *Frequency) Encode(pts *mat.Dense) *mat.Dense {
	rows, _ := pts.Dims()
	out := mat.NewDense(rows, f.OutputDim(), nil)
	for r := 0; r < rows; r++ {
		col := 0
		for c := 0; c < 3; c++ {
			out.Set(r, col, pts.At(r, c))
			col++
		}
		for k := 0; k < f.numBands; k++ {
			freq := math.Pi * math.Pow(2, float64(k))
			for c := 0; c < 3; c++ {
				v := freq * pts.At(r, c)
				out.Set(r, col, math.Sin(v))
				out.Set(r, col+1, math.Cos(v))
				col += 2
			}
		}
	}
	return out
}
