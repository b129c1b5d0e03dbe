package models

// Sample is one supervised training example handed to the field by the data
// source. In imagefit mode Points holds one coordinate per row ([batch, 3])
// and Target the matching voxel intensities. In projection mode Points holds
// every sample along each ray ([batch, raySamples, 3], flattened row-major)
// and Target the measured detector readings.
type Sample struct {
	// Points is the flat coordinate buffer, row-major, 3 values per point.
	Points []float64

	// Batch is the number of rows (rays or voxels) in the sample.
	Batch int

	// RaySamples is the number of points per ray; 1 in imagefit mode.
	RaySamples int

	// Target holds one ground-truth scalar per row.
	Target []float64

	// VolumeIndex identifies which volume each row belongs to, used to look
	// up the matching latent code in imagefit mode.
	VolumeIndex []int
}

// NumPoints returns the total number of coordinate rows in the sample.
func (s *Sample) NumPoints() int {
	return s.Batch * s.RaySamples
}
