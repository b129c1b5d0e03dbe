// Package phantom provides a small synthetic data source used by the
// command-line entry point and the integration tests: a two-sphere density
// phantom over the normalized [-1, 1] cube, sampled either pointwise
// (imagefit) or along axis-tilted parallel rays (projection). It is a test
// harness, not a geometry engine; real acquisitions come from an external
// data source.
package phantom

import (
	"math"

	"neurotomo/internal/models"
)

// Density evaluates the ground-truth phantom at a normalized coordinate:
// a large central sphere with a smaller, denser inclusion.
func Density(x, y, z float64) float64 {
	v := 0.0
	if x*x+y*y+z*z < 0.6*0.6 {
		v = 0.5
	}
	dx, dy, dz := x-0.2, y-0.1, z
	if dx*dx+dy*dy+dz*dz < 0.25*0.25 {
		v = 0.9
	}
	return v
}

// BuildVolume samples the phantom at voxel centers of a cubic grid.
func BuildVolume(size int) *models.Volume {
	vol := models.NewVolume(size, size, size)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				vol.SetAt(x, y, z, Density(normalized(x, size), normalized(y, size), normalized(z, size)))
			}
		}
	}
	return vol
}

// Options configures the synthetic data source.
type Options struct {
	// Size is the cubic volume resolution.
	Size int

	// NumProjections is the count of parallel-beam projection angles.
	NumProjections int

	// RaySamples is the number of density samples per ray.
	RaySamples int

	// BatchSize is the number of rays (or voxels) per batch.
	BatchSize int
}

// Dataset is an in-memory data source implementing both the training and
// validation dataset contracts of the trainer.
type Dataset struct {
	opts Options
	vol  *models.Volume

	points  []float64 // flat coordinates, one run of rows per batch row
	targets []float64
	rows    int // total batch rows
	perRow  int // ray samples per row (1 in imagefit mode)

	projShape [3]int
	mask      []bool
}

// NewImagefit builds the pointwise dataset: every voxel center paired with
// its true intensity, in volume storage order so validation buffers
// reassemble into the volume directly.
func NewImagefit(opts Options) *Dataset {
	vol := BuildVolume(opts.Size)
	d := &Dataset{opts: opts, vol: vol, perRow: 1}

	size := opts.Size
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				d.points = append(d.points, normalized(x, size), normalized(y, size), normalized(z, size))
				d.targets = append(d.targets, vol.At(x, y, z))
				d.rows++
			}
		}
	}
	return d
}

// NewProjection builds the ray dataset: parallel beams tilted about the
// vertical axis, one detector row/column pair per ray, integrated against
// the analytic phantom for the ground-truth readings. Rays whose samples
// leave the unit cube are excluded by the validity mask.
func NewProjection(opts Options) *Dataset {
	vol := BuildVolume(opts.Size)
	d := &Dataset{
		opts:      opts,
		vol:       vol,
		perRow:    opts.RaySamples,
		projShape: [3]int{opts.NumProjections, opts.Size, opts.Size},
	}

	size := opts.Size
	for p := 0; p < opts.NumProjections; p++ {
		theta := math.Pi * float64(p) / float64(opts.NumProjections)
		dirX, dirZ := math.Sin(theta), math.Cos(theta)
		// Detector axes: u in the tilted horizontal plane, v vertical.
		uX, uZ := math.Cos(theta), -math.Sin(theta)

		for vi := 0; vi < size; vi++ {
			v := normalized(vi, size)
			for ui := 0; ui < size; ui++ {
				u := normalized(ui, size)

				pts := make([]float64, 0, opts.RaySamples*3)
				valid := true
				sum := 0.0
				for s := 0; s < opts.RaySamples; s++ {
					t := normalized(s, opts.RaySamples)
					x := u*uX + t*dirX
					y := v
					z := u*uZ + t*dirZ
					if x < -1 || x > 1 || y < -1 || y > 1 || z < -1 || z > 1 {
						valid = false
						break
					}
					pts = append(pts, x, y, z)
					sum += Density(x, y, z)
				}

				d.mask = append(d.mask, valid)
				if !valid {
					continue
				}

				// Same uniform quadrature the model uses: dx = length/samples,
				// with length the first-to-last sample distance (here 2).
				const length = 2.0
				d.points = append(d.points, pts...)
				d.targets = append(d.targets, sum*length/float64(opts.RaySamples))
				d.rows++
			}
		}
	}
	return d
}

// NumBatches reports how many batches one epoch consumes.
func (d *Dataset) NumBatches() int {
	return (d.rows + d.opts.BatchSize - 1) / d.opts.BatchSize
}

// Batch returns the i-th batch in stable order.
func (d *Dataset) Batch(i int) (*models.Sample, error) {
	start := i * d.opts.BatchSize
	end := start + d.opts.BatchSize
	if end > d.rows {
		end = d.rows
	}
	n := end - start

	idxs := make([]int, n)
	return &models.Sample{
		Points:      d.points[start*d.perRow*3 : end*d.perRow*3],
		Batch:       n,
		RaySamples:  d.perRow,
		Target:      d.targets[start:end],
		VolumeIndex: idxs,
	}, nil
}

// Volume returns the ground-truth phantom volume.
func (d *Dataset) Volume() *models.Volume { return d.vol }

// ProjectionShape reports the full projection-space dimensions.
func (d *Dataset) ProjectionShape() (int, int, int) {
	return d.projShape[0], d.projShape[1], d.projShape[2]
}

// ValidMask marks which projection positions carry real rays.
func (d *Dataset) ValidMask() []bool { return d.mask }

// NumRays reports the number of valid rows in the dataset.
func (d *Dataset) NumRays() int { return d.rows }

func normalized(i, n int) float64 {
	if n == 1 {
		return -1
	}
	return -1 + 2*float64(i)/float64(n-1)
}
