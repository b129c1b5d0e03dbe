package models

// Volume represents a dense 3D scalar field stored as a 1D array in
// row-major order, indexed z*Width*Height + y*Width + x. Intensities are
// normalized to [0, 1].
type Volume struct {
	// Data is the voxel buffer of length Width*Height*Depth.
	Data []float64

	// Width, Height, Depth are the volume dimensions in voxels.
	Width, Height, Depth int
}

// NewVolume allocates a zeroed volume with the given dimensions.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// At returns the voxel value at (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// SetAt stores a voxel value at (x, y, z).
func (v *Volume) SetAt(x, y, z int, value float64) {
	v.Data[z*v.Width*v.Height+y*v.Width+x] = value
}

// SliceZ extracts the XY plane at depth z as a flat Width*Height buffer.
func (v *Volume) SliceZ(z int) []float64 {
	out := make([]float64, v.Width*v.Height)
	copy(out, v.Data[z*v.Width*v.Height:(z+1)*v.Width*v.Height])
	return out
}

// SliceY extracts the XZ plane at row y.
func (v *Volume) SliceY(y int) []float64 {
	out := make([]float64, v.Width*v.Depth)
	for z := 0; z < v.Depth; z++ {
		for x := 0; x < v.Width; x++ {
			out[z*v.Width+x] = v.At(x, y, z)
		}
	}
	return out
}

// SliceX extracts the YZ plane at column x.
func (v *Volume) SliceX(x int) []float64 {
	out := make([]float64, v.Height*v.Depth)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			out[z*v.Height+y] = v.At(x, y, z)
		}
	}
	return out
}

// ProjectionStack is a dense stack of 2D detector readings, one image per
// projection angle, stored row-major as [NumProjections][Height][Width].
type ProjectionStack struct {
	Data                          []float64
	NumProjections, Height, Width int
}

// NewProjectionStack allocates a zeroed stack with the given shape.
func NewProjectionStack(numProjections, height, width int) *ProjectionStack {
	return &ProjectionStack{
		Data:           make([]float64, numProjections*height*width),
		NumProjections: numProjections,
		Height:         height,
		Width:          width,
	}
}

// Projection returns the flat detector image at the given angle index.
func (p *ProjectionStack) Projection(idx int) []float64 {
	size := p.Height * p.Width
	out := make([]float64, size)
	copy(out, p.Data[idx*size:(idx+1)*size])
	return out
}

// Size returns the total number of detector positions in the stack.
func (p *ProjectionStack) Size() int {
	return p.NumProjections * p.Height * p.Width
}
