package nn

import (
	"errors"
	"math"
	"testing"

	"github.com/fusheng-ji/MINER/tensor"
)

func TestMSEAndPSNR(t *testing.T) {
	pred := tensor.FromSlice([]float64{0, 0.5, 1, 1}, 2, 1, 2)
	target := tensor.FromSlice([]float64{0, 0.5, 0.9, 0.9}, 2, 1, 2)

	mse, err := MSE(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mse-0.005) > 1e-12 {
		t.Errorf("mse %v, want 0.005", mse)
	}
	if got := PSNR(0.01); math.Abs(got-20) > 1e-9 {
		t.Errorf("psnr %v, want 20", got)
	}
	if !math.IsInf(PSNR(0), 1) {
		t.Error("psnr of a perfect fit should be +Inf")
	}

	per, err := BlockMSE(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	if per[0] != 0 || math.Abs(per[1]-0.01) > 1e-12 {
		t.Errorf("block mse %v", per)
	}

	if _, err := MSE(pred, tensor.New(4)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("shape mismatch: got %v", err)
	}
}

func TestIoU(t *testing.T) {
	pred := tensor.FromSlice([]float64{0.9, 0.8, 0.1, 0.7}, 1, 4, 1)
	target := tensor.FromSlice([]float64{1, 0, 0, 1}, 1, 4, 1)
	iou, err := IoU(pred, target, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(iou-2.0/3) > 1e-12 {
		t.Errorf("iou %v, want 2/3", iou)
	}

	empty := tensor.New(1, 4, 1)
	if iou, _ := IoU(empty, empty, 0.5); iou != 1 {
		t.Errorf("empty volumes gave %v", iou)
	}
}
