package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense row-major array. Block-parallel code treats axis 0 as the
// block axis, so most helpers here slice or gather along it.
type Tensor struct {
	Data    []float64
	Shape   []int // row-major
	Strides []int
}

// New allocates a zeroed tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Data: make([]float64, volume(shape)), Shape: cloneInts(shape), Strides: strides(shape)}
}

// FromSlice wraps data (without copying) with the given shape.
// It returns nil when the element count does not match.
func FromSlice(data []float64, shape ...int) *Tensor {
	if len(data) != volume(shape) {
		return nil
	}
	return &Tensor{Data: data, Shape: cloneInts(shape), Strides: strides(shape)}
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = s
		s *= shape[i]
	}
	return st
}

func cloneInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Dim returns the length of axis i.
func (t *Tensor) Dim(i int) int { return t.Shape[i] }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Data: data, Shape: cloneInts(t.Shape), Strides: cloneInts(t.Strides)}
}

// Reshape returns a view with a new shape sharing the same data, or nil if
// the element count would change.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if volume(shape) != len(t.Data) {
		return nil
	}
	return &Tensor{Data: t.Data, Shape: cloneInts(shape), Strides: strides(shape)}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// CopyFrom overwrites t with the values of src. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.SameShape(src) {
		return fmt.Errorf("%w: copy %v into %v", ErrShapeMismatch, src.Shape, t.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// rowSize is the number of elements in one slice along axis 0.
func (t *Tensor) rowSize() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return volume(t.Shape[1:])
}

// Rows returns a view of the leading-axis range [from, to).
func (t *Tensor) Rows(from, to int) *Tensor {
	rs := t.rowSize()
	shape := cloneInts(t.Shape)
	shape[0] = to - from
	return &Tensor{Data: t.Data[from*rs : to*rs], Shape: shape, Strides: strides(shape)}
}

// Gather copies the leading-axis rows named by idx, in order.
func (t *Tensor) Gather(idx []int) *Tensor {
	rs := t.rowSize()
	shape := cloneInts(t.Shape)
	shape[0] = len(idx)
	out := New(shape...)
	for k, i := range idx {
		copy(out.Data[k*rs:(k+1)*rs], t.Data[i*rs:(i+1)*rs])
	}
	return out
}

// Block returns the k-th leading slice of a 3-axis tensor as a flat slice.
func (t *Tensor) Block(k int) []float64 {
	rs := t.rowSize()
	return t.Data[k*rs : (k+1)*rs]
}

// Matrix views the k-th leading slice of a 3-axis tensor (n, r, c) as an r×c
// gonum matrix sharing t's storage.
func (t *Tensor) Matrix(k int) *mat.Dense {
	return mat.NewDense(t.Shape[1], t.Shape[2], t.Block(k))
}

// CheckFinite reports ErrNumericalInstability if any element is NaN or ±Inf.
func CheckFinite(t *Tensor) error {
	for i, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: element %d is %v", ErrNumericalInstability, i, v)
		}
	}
	return nil
}
