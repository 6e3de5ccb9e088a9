package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fusheng-ji/MINER/tensor"
)

func checkSame(pred, target *tensor.Tensor) error {
	if !pred.SameShape(target) {
		return fmt.Errorf("%w: prediction %v, target %v", tensor.ErrShapeMismatch, pred.Shape, target.Shape)
	}
	return nil
}

// MSE is the mean squared error over every element.
func MSE(pred, target *tensor.Tensor) (float64, error) {
	if err := checkSame(pred, target); err != nil {
		return 0, err
	}
	if pred.Size() == 0 {
		return 0, nil
	}
	d := floats.Distance(pred.Data, target.Data, 2)
	return d * d / float64(pred.Size()), nil
}

// BlockMSE returns the mean squared error of each block (leading-axis row).
// An external scheduler uses it to decide which blocks to freeze.
func BlockMSE(pred, target *tensor.Tensor) ([]float64, error) {
	if err := checkSame(pred, target); err != nil {
		return nil, err
	}
	n := pred.Shape[0]
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}
	per := pred.Size() / n
	if per == 0 {
		return out, nil
	}
	for k := 0; k < n; k++ {
		d := floats.Distance(pred.Block(k), target.Block(k), 2)
		out[k] = d * d / float64(per)
	}
	return out, nil
}

// PSNR converts a mean squared error on [0,1] signals to decibels.
func PSNR(mse float64) float64 {
	if mse <= 0 {
		return math.Inf(1)
	}
	return -10 * math.Log10(mse)
}

// IoU is the intersection over union of occupancy above threshold. Two empty
// volumes have IoU 1.
func IoU(pred, target *tensor.Tensor, threshold float64) (float64, error) {
	if err := checkSame(pred, target); err != nil {
		return 0, err
	}
	inter, union := 0, 0
	for i, v := range pred.Data {
		a, b := v > threshold, target.Data[i] > threshold
		if a && b {
			inter++
		}
		if a || b {
			union++
		}
	}
	if union == 0 {
		return 1, nil
	}
	return float64(inter) / float64(union), nil
}
