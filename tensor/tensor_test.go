package tensor

import (
	"errors"
	"math"
	"testing"
)

// TestTensorCreation verifies basic tensor construction
func TestTensorCreation(t *testing.T) {
	tensor := New(3, 4)
	if tensor.Size() != 12 {
		t.Errorf("Expected size 12, got %d", tensor.Size())
	}
	if len(tensor.Shape) != 2 || tensor.Shape[0] != 3 || tensor.Shape[1] != 4 {
		t.Errorf("Expected shape [3, 4], got %v", tensor.Shape)
	}
	if tensor.Strides[0] != 4 || tensor.Strides[1] != 1 {
		t.Errorf("Expected strides [4, 1], got %v", tensor.Strides)
	}

	tensor2 := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if tensor2 == nil || tensor2.Data[5] != 6 {
		t.Fatal("FromSlice did not wrap data")
	}
	if FromSlice([]float64{1, 2, 3}, 2, 2) != nil {
		t.Error("FromSlice with wrong length should return nil")
	}
}

// TestTensorClone verifies tensor cloning
func TestTensorClone(t *testing.T) {
	original := FromSlice([]float64{1, 2, 3, 4}, 4)
	clone := original.Clone()
	original.Data[0] = 100
	if clone.Data[0] != 1 {
		t.Errorf("Clone was modified when original changed")
	}
}

// TestTensorReshape verifies reshape views
func TestTensorReshape(t *testing.T) {
	tensor := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 6)
	reshaped := tensor.Reshape(2, 3)
	if reshaped == nil {
		t.Fatal("Reshape returned nil")
	}
	reshaped.Data[0] = 9
	if tensor.Data[0] != 9 {
		t.Error("Reshape should share storage")
	}
	if tensor.Reshape(2, 2) != nil {
		t.Error("Invalid reshape should return nil")
	}
}

func TestRowsAndGather(t *testing.T) {
	x := FromSlice([]float64{0, 1, 10, 11, 20, 21, 30, 31}, 4, 1, 2)

	rows := x.Rows(1, 3)
	if rows.Shape[0] != 2 || rows.Data[0] != 10 || rows.Data[3] != 21 {
		t.Errorf("Rows(1,3) = %v %v", rows.Shape, rows.Data)
	}

	g := x.Gather([]int{3, 0})
	if g.Shape[0] != 2 || g.Data[0] != 30 || g.Data[2] != 0 {
		t.Errorf("Gather = %v", g.Data)
	}
	g.Data[0] = -1
	if x.Data[6] != 30 {
		t.Error("Gather must copy")
	}
}

func TestMatrixView(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2)
	m := x.Matrix(1)
	if m.At(0, 1) != 6 || m.At(1, 0) != 7 {
		t.Errorf("Matrix(1) wrong: %v", m.RawMatrix().Data)
	}
	m.Set(0, 0, 50)
	if x.Data[4] != 50 {
		t.Error("Matrix view should share storage")
	}
}

func TestCopyFromShape(t *testing.T) {
	a := New(2, 3)
	b := New(3, 2)
	if err := a.CopyFrom(b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	c := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if err := a.CopyFrom(c); err != nil {
		t.Fatal(err)
	}
	if a.Data[5] != 6 {
		t.Error("CopyFrom did not copy")
	}
}

func TestCheckFinite(t *testing.T) {
	x := FromSlice([]float64{0, 1, 2}, 3)
	if err := CheckFinite(x); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	x.Data[1] = math.NaN()
	if err := CheckFinite(x); !errors.Is(err, ErrNumericalInstability) {
		t.Errorf("expected ErrNumericalInstability, got %v", err)
	}
	x.Data[1] = math.Inf(-1)
	if err := CheckFinite(x); !errors.Is(err, ErrNumericalInstability) {
		t.Errorf("expected ErrNumericalInstability for Inf, got %v", err)
	}
}
