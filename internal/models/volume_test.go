package models

import "testing"

// TestVolumeIndexing verifies the z-major storage order behind At/SetAt.
func TestVolumeIndexing(t *testing.T) {
	v := NewVolume(3, 4, 5)
	if len(v.Data) != 60 {
		t.Fatalf("Volume buffer has %d values, want 60", len(v.Data))
	}

	v.SetAt(2, 3, 4, 0.7)
	if v.At(2, 3, 4) != 0.7 {
		t.Errorf("At(2,3,4) = %v, want 0.7", v.At(2, 3, 4))
	}
	// z*W*H + y*W + x = 4*12 + 3*3 + 2 = 59.
	if v.Data[59] != 0.7 {
		t.Errorf("Data[59] = %v, want 0.7", v.Data[59])
	}
}

// TestVolumeSlices verifies each slice plane picks up the right voxels.
func TestVolumeSlices(t *testing.T) {
	v := NewVolume(2, 3, 4)
	counter := 0.0
	for z := 0; z < 4; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 2; x++ {
				v.SetAt(x, y, z, counter)
				counter++
			}
		}
	}

	sz := v.SliceZ(1)
	if len(sz) != 6 {
		t.Fatalf("SliceZ has %d values, want 6", len(sz))
	}
	if sz[0] != v.At(0, 0, 1) || sz[5] != v.At(1, 2, 1) {
		t.Errorf("SliceZ corners = %v, %v, want %v, %v", sz[0], sz[5], v.At(0, 0, 1), v.At(1, 2, 1))
	}

	sy := v.SliceY(2)
	if len(sy) != 8 {
		t.Fatalf("SliceY has %d values, want 8", len(sy))
	}
	if sy[0] != v.At(0, 2, 0) || sy[7] != v.At(1, 2, 3) {
		t.Errorf("SliceY corners = %v, %v, want %v, %v", sy[0], sy[7], v.At(0, 2, 0), v.At(1, 2, 3))
	}

	sx := v.SliceX(1)
	if len(sx) != 12 {
		t.Fatalf("SliceX has %d values, want 12", len(sx))
	}
	if sx[0] != v.At(1, 0, 0) || sx[11] != v.At(1, 2, 3) {
		t.Errorf("SliceX corners = %v, %v, want %v, %v", sx[0], sx[11], v.At(1, 0, 0), v.At(1, 2, 3))
	}
}

// TestProjectionStack verifies the per-angle image extraction.
func TestProjectionStack(t *testing.T) {
	p := NewProjectionStack(3, 2, 2)
	if p.Size() != 12 {
		t.Fatalf("Stack size = %d, want 12", p.Size())
	}

	for i := range p.Data {
		p.Data[i] = float64(i)
	}
	img := p.Projection(1)
	want := []float64{4, 5, 6, 7}
	for i := range want {
		if img[i] != want[i] {
			t.Errorf("Projection(1)[%d] = %v, want %v", i, img[i], want[i])
		}
	}

	// The extraction copies; mutating it must not touch the stack.
	img[0] = -1
	if p.Data[4] != 4 {
		t.Error("Projection image aliases the stack storage")
	}
}

// TestSampleNumPoints verifies the row count accounting.
func TestSampleNumPoints(t *testing.T) {
	s := &Sample{Batch: 8, RaySamples: 16}
	if s.NumPoints() != 128 {
		t.Errorf("NumPoints = %d, want 128", s.NumPoints())
	}
}
