package nn

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fusheng-ji/MINER/tensor"
)

// Block-batched linear algebra. Each chunk-local block j of an activation
// tensor pairs with parameter block blocks[j]; the products are independent,
// which is what lets a chunk boundary fall anywhere on the block axis.

// blockLinear returns x[j]·W[blocks[j]] + b[blocks[j]] for every block j of
// the chunk. x is (k, rows, in), W is (N, in, out), b is (N, 1, out).
func blockLinear(x, w, b *tensor.Tensor, blocks []int) *tensor.Tensor {
	rows := x.Shape[1]
	out := tensor.New(len(blocks), rows, w.Shape[2])
	if rows == 0 {
		return out
	}
	for j, blk := range blocks {
		om := out.Matrix(j)
		om.Mul(x.Matrix(j), w.Matrix(blk))
		bias := b.Block(blk)
		for r := 0; r < rows; r++ {
			floats.Add(om.RawRowView(r), bias)
		}
	}
	return out
}

// blockLinearBackward writes the weight and bias gradients of
// z = x·W + b into gw and gb for each block of the chunk and, when wantInput
// is set, returns dL/dx.
func blockLinearBackward(x, w, gz, gw, gb *tensor.Tensor, blocks []int, wantInput bool) *tensor.Tensor {
	rows := x.Shape[1]
	var gx *tensor.Tensor
	if wantInput {
		gx = tensor.New(x.Shape...)
	}
	if rows == 0 {
		return gx
	}
	for j, blk := range blocks {
		gzm := gz.Matrix(j)
		gw.Matrix(blk).Mul(x.Matrix(j).T(), gzm)

		bias := gb.Block(blk)
		for r := 0; r < rows; r++ {
			floats.Add(bias, gzm.RawRowView(r))
		}
		if wantInput {
			gx.Matrix(j).Mul(gzm, w.Matrix(blk).T())
		}
	}
	return gx
}

// encodeRows projects every row of a (k, rows, d) tensor through basis.
func encodeRows(x *tensor.Tensor, basis *mat.Dense) *mat.Dense {
	var proj mat.Dense
	proj.Mul(mat.NewDense(x.Shape[0]*x.Shape[1], x.Shape[2], x.Data), basis)
	return &proj
}
