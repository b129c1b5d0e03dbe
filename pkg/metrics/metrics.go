// Package metrics provides the reconstruction-quality measures and the
// scalar/image logging sink consumed by the training controller.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"neurotomo/pkg/field"
)

// MSE computes the mean squared error between two equally-shaped buffers.
// Differently-sized buffers are a fatal shape error, never silently
// broadcast.
func MSE(pred, truth []float64) (float64, error) {
	if len(pred) != len(truth) {
		return 0, fmt.Errorf("%w: prediction has %d elements, truth has %d", field.ErrShapeMismatch, len(pred), len(truth))
	}
	if len(pred) == 0 {
		return 0, fmt.Errorf("%w: empty buffers", field.ErrShapeMismatch)
	}
	sum := 0.0
	for i := range pred {
		d := pred[i] - truth[i]
		sum += d * d
	}
	return sum / float64(len(pred)), nil
}

// RMSE is the square root of MSE.
func RMSE(pred, truth []float64) (float64, error) {
	mse, err := MSE(pred, truth)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// PSNR computes the peak signal-to-noise ratio in decibels over normalized
// [0, 1] data: 10*log10(1/mse). Identical buffers yield +Inf.
func PSNR(pred, truth []float64) (float64, error) {
	mse, err := MSE(pred, truth)
	if err != nil {
		return 0, err
	}
	if mse == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(1/mse), nil
}

// SSIM computes a global structural similarity index over normalized [0, 1]
// data using gonum's moment estimators.
func SSIM(pred, truth []float64) (float64, error) {
	if len(pred) != len(truth) || len(pred) == 0 {
		return 0, fmt.Errorf("%w: prediction has %d elements, truth has %d", field.ErrShapeMismatch, len(pred), len(truth))
	}

	const (
		l  = 1.0
		k1 = 0.01
		k2 = 0.03
	)
	c1 := (k1 * l) * (k1 * l)
	c2 := (k2 * l) * (k2 * l)

	muX := stat.Mean(pred, nil)
	muY := stat.Mean(truth, nil)
	sigmaX := stat.Variance(pred, nil)
	sigmaY := stat.Variance(truth, nil)
	sigmaXY := stat.Covariance(pred, truth, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}
