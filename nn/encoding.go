package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fusheng-ji/MINER/grid"
	"github.com/fusheng-ji/MINER/tensor"
)

// icosahedral holds 21 unit directions from an icosahedral sampling of the
// upper hemisphere, one (x, y, z) triple per row.
var icosahedral = []float64{
	0.8506508, 0, 0.5257311,
	0.809017, 0.5, 0.309017,
	0.5257311, 0.8506508, 0,
	1, 0, 0,
	0.809017, 0.5, -0.309017,
	0.8506508, 0, -0.5257311,
	0.309017, 0.809017, -0.5,
	0, 0.5257311, -0.8506508,
	0.5, 0.309017, -0.809017,
	0, 1, 0,
	-0.5257311, 0.8506508, 0,
	-0.309017, 0.809017, -0.5,
	0, 0.5257311, 0.8506508,
	-0.309017, 0.809017, 0.5,
	0.309017, 0.809017, 0.5,
	0.5, 0.309017, 0.809017,
	0.5, -0.309017, 0.809017,
	0, 0, 1,
	-0.5, 0.309017, 0.809017,
	-0.809017, 0.5, 0.309017,
	-0.809017, 0.5, -0.309017,
}

// Encoder is a fixed sinusoidal feature map: features = [sin(x·P), cos(x·P)]
// where the columns of P are base directions scaled by 2^i for each octave.
type Encoder struct {
	basis *mat.Dense // (dims, directions*octaves)
}

// NewEncoder builds the basis for a task kind: the coordinate axes for
// images, the icosahedral directions for meshes.
func NewEncoder(kind grid.Kind, octaves int) (*Encoder, error) {
	if octaves <= 0 {
		return nil, fmt.Errorf("%w: encoder needs a positive octave count, got %d", tensor.ErrConfiguration, octaves)
	}
	var dirs *mat.Dense
	switch kind {
	case grid.KindImage:
		dirs = mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	case grid.KindMesh:
		var t mat.Dense
		t.CloneFrom(mat.NewDense(21, 3, icosahedral).T())
		dirs = &t
	default:
		return nil, fmt.Errorf("%w: no encoding basis for %s", tensor.ErrConfiguration, kind)
	}

	d, nd := dirs.Dims()
	basis := mat.NewDense(d, nd*octaves, nil)
	for o := 0; o < octaves; o++ {
		s := math.Pow(2, float64(o))
		for r := 0; r < d; r++ {
			for c := 0; c < nd; c++ {
				basis.Set(r, o*nd+c, dirs.At(r, c)*s)
			}
		}
	}
	return &Encoder{basis: basis}, nil
}

// InDim is the coordinate dimensionality the encoder accepts.
func (e *Encoder) InDim() int {
	r, _ := e.basis.Dims()
	return r
}

// Columns is the number of basis columns.
func (e *Encoder) Columns() int {
	_, c := e.basis.Dims()
	return c
}

// OutDim is the encoded feature width, twice the basis column count.
func (e *Encoder) OutDim() int { return 2 * e.Columns() }

// Encode maps (n, cells, dims) coordinates to (n, cells, OutDim()) features.
func (e *Encoder) Encode(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 || x.Shape[2] != e.InDim() {
		return nil, fmt.Errorf("%w: encoder expects (n, cells, %d), got %v", tensor.ErrShapeMismatch, e.InDim(), x.Shape)
	}
	f := e.Columns()
	out := tensor.New(x.Shape[0], x.Shape[1], 2*f)
	rows := x.Shape[0] * x.Shape[1]
	if rows == 0 {
		return out, nil
	}
	proj := encodeRows(x, e.basis)
	for r := 0; r < rows; r++ {
		src := proj.RawRowView(r)
		dst := out.Data[r*2*f : (r+1)*2*f]
		for i, v := range src {
			dst[i] = math.Sin(v)
			dst[f+i] = math.Cos(v)
		}
	}
	return out, nil
}
