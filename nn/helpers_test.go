package nn

import (
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/fusheng-ji/MINER/tensor"
)

func randomTensor(seed uint64, lo, hi float64, shape ...int) *tensor.Tensor {
	r := rand.New(rand.NewSource(seed))
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = lo + (hi-lo)*r.Float64()
	}
	return t
}

// countingDevice records how many chunk outputs are held at once.
type countingDevice struct {
	puts    int
	live    int
	maxLive int
}

func (d *countingDevice) Name() string { return "counting" }

func (d *countingDevice) Put(t *tensor.Tensor) (Resident, error) {
	d.puts++
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	return &countingResident{d: d, t: t.Clone()}, nil
}

type countingResident struct {
	d *countingDevice
	t *tensor.Tensor
}

func (r *countingResident) Fetch() (*tensor.Tensor, error) { return r.t, nil }
func (r *countingResident) Release() {
	if r.t != nil {
		r.d.live--
		r.t = nil
	}
}

func assertClose(t *testing.T, name string, got, want *tensor.Tensor, tol float64) {
	t.Helper()
	if !got.SameShape(want) {
		t.Fatalf("%s: shape %v, want %v", name, got.Shape, want.Shape)
	}
	if !floats.EqualApprox(got.Data, want.Data, tol) {
		t.Fatalf("%s: values differ beyond %g", name, tol)
	}
}

// checkGradients compares analytic gradients with central differences for
// every parameter tensor.
func checkGradients(t *testing.T, e Ensemble, loss func() float64, grads []*tensor.Tensor, tol float64) {
	t.Helper()
	params := e.Params()
	if len(params) != len(grads) {
		t.Fatalf("%d params but %d grads", len(params), len(grads))
	}
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
	for i, p := range params {
		if !grads[i].SameShape(p) {
			t.Fatalf("grad %d shape %v, param shape %v", i, grads[i].Shape, p.Shape)
		}
		orig := append([]float64(nil), p.Data...)
		f := func(v []float64) float64 {
			copy(p.Data, v)
			return loss()
		}
		numeric := fd.Gradient(nil, f, orig, settings)
		copy(p.Data, orig)
		for k := range numeric {
			if !scalar.EqualWithinAbsOrRel(grads[i].Data[k], numeric[k], tol, tol) {
				t.Fatalf("param %d element %d: analytic %g, numeric %g", i, k, grads[i].Data[k], numeric[k])
			}
		}
	}
}
