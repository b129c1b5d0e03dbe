// Package visualization renders volumes, projections and residuals as
// grayscale images for the validation-time image logs.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"neurotomo/internal/models"
)

// Viewer extracts 2D slice images from a reconstructed 3D volume.
type Viewer struct {
	vol *models.Volume
}

// NewViewer wraps a volume for slice extraction.
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{vol: vol}
}

// ExtractSlice extracts a 2D slice image along the specified axis:
// x yields the YZ plane, y the XZ plane, z the XY plane.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	switch strings.ToLower(axis) {
	case "x":
		if position >= v.vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.vol.Width)
		}
		return SliceImage(v.vol.SliceX(position), v.vol.Height, v.vol.Depth), nil
	case "y":
		if position >= v.vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.vol.Height)
		}
		return SliceImage(v.vol.SliceY(position), v.vol.Width, v.vol.Depth), nil
	case "z":
		if position >= v.vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.vol.Depth)
		}
		return SliceImage(v.vol.SliceZ(position), v.vol.Width, v.vol.Height), nil
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// SaveSliceSequence extracts and saves every slice along the given axis as a
// numbered JPEG sequence.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch strings.ToLower(axis) {
	case "x":
		maxPos = v.vol.Width
	case "y":
		maxPos = v.vol.Height
	case "z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := SaveImage(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// SliceImage converts a flat slice of normalized [0, 1] values into a 16-bit
// grayscale image of the given dimensions. Values are clamped.
func SliceImage(data []float64, width, height int) image.Image {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if idx < len(data) {
				value := uint16(math.Max(0, math.Min(65535, data[idx]*65535)))
				img.SetGray16(x, y, color.Gray16{Y: value})
			}
		}
	}
	return img
}

// ResidualImage renders the absolute difference between a prediction and its
// ground truth as a grayscale image.
func ResidualImage(pred, truth []float64, width, height int) image.Image {
	diff := make([]float64, len(pred))
	for i := range pred {
		if i < len(truth) {
			diff[i] = math.Abs(truth[i] - pred[i])
		}
	}
	return SliceImage(diff, width, height)
}

// SaveImage writes an image as a JPEG file.
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// ImageSaver returns a callback suitable for the metrics logger: images are
// written under baseDir/key/caption.jpg.
func ImageSaver(baseDir string) func(key, caption string, img image.Image) error {
	return func(key, caption string, img image.Image) error {
		dir := filepath.Join(baseDir, filepath.FromSlash(key))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		return SaveImage(img, filepath.Join(dir, caption+".jpg"))
	}
}
