package grid

import (
	"fmt"
	"math"

	"github.com/fusheng-ji/MINER/tensor"
)

// Resize resamples a (domain..., channels) signal to a new domain with
// separable linear interpolation: bilinear for 2-D, trilinear for 3-D.
// Sample centers sit at half-cell offsets and reads past the edge clamp.
func Resize(signal *tensor.Tensor, domain []int, mode Interp) (*tensor.Tensor, error) {
	d := len(signal.Shape) - 1
	want := 2
	if mode == Trilinear {
		want = 3
	}
	if d != want || len(domain) != d {
		return nil, fmt.Errorf("%w: %s resize of %v to %v", tensor.ErrShapeMismatch, mode, signal.Shape, domain)
	}
	for _, n := range domain {
		if n <= 0 {
			return nil, fmt.Errorf("%w: non-positive target domain %v", tensor.ErrConfiguration, domain)
		}
	}

	cur := signal
	for a := 0; a < d; a++ {
		if cur.Shape[a] != domain[a] {
			cur = resizeAxis(cur, a, domain[a])
		}
	}
	if cur == signal {
		cur = signal.Clone()
	}
	return cur, nil
}

// resizeAxis linearly resamples one axis of t to length n.
func resizeAxis(t *tensor.Tensor, axis, n int) *tensor.Tensor {
	shape := append([]int(nil), t.Shape...)
	in := shape[axis]
	shape[axis] = n
	out := tensor.New(shape...)

	outer := prod(t.Shape[:axis])
	inner := prod(t.Shape[axis+1:])
	scale := float64(in) / float64(n)

	for j := 0; j < n; j++ {
		src := (float64(j)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int(math.Floor(src))
		if i0 > in-1 {
			i0 = in - 1
		}
		i1 := i0 + 1
		if i1 > in-1 {
			i1 = in - 1
		}
		w := src - float64(i0)
		for o := 0; o < outer; o++ {
			dst := out.Data[(o*n+j)*inner : (o*n+j+1)*inner]
			a := t.Data[(o*in+i0)*inner : (o*in+i0+1)*inner]
			b := t.Data[(o*in+i1)*inner : (o*in+i1+1)*inner]
			for k := range dst {
				dst[k] = (1-w)*a[k] + w*b[k]
			}
		}
	}
	return out
}
