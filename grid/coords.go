package grid

import (
	"fmt"

	"github.com/fusheng-ji/MINER/tensor"
)

// Coordinates builds a normalized sampling grid over a 2-D (H, W) or 3-D
// (D, H, W) lattice. The result is shaped (1, cells, dims): cells are
// enumerated row-major and component 0 follows the fastest axis (x), then y,
// then z. Each axis spans [-1, 1] inclusive; an axis of length 1 sits at -1.
func Coordinates(res ...int) (*tensor.Tensor, error) {
	if len(res) != 2 && len(res) != 3 {
		return nil, fmt.Errorf("%w: grid needs 2 or 3 resolutions, got %d", tensor.ErrConfiguration, len(res))
	}
	for _, r := range res {
		if r <= 0 {
			return nil, fmt.Errorf("%w: non-positive resolution in %v", tensor.ErrConfiguration, res)
		}
	}

	d := len(res)
	cells := prod(res)
	out := tensor.New(1, cells, d)
	pos := make([]int, d)
	for p := 0; p < cells; p++ {
		for j := 0; j < d; j++ {
			axis := d - 1 - j
			out.Data[p*d+j] = linspace(pos[axis], res[axis])
		}
		advance(pos, res)
	}
	return out, nil
}

func linspace(i, n int) float64 {
	if n == 1 {
		return -1
	}
	return -1 + 2*float64(i)/float64(n-1)
}

// advance increments a row-major multi-index in place.
func advance(pos, shape []int) {
	for a := len(shape) - 1; a >= 0; a-- {
		pos[a]++
		if pos[a] < shape[a] {
			return
		}
		pos[a] = 0
	}
}

// Repeat broadcasts a (1, cells, dims) grid to n blocks.
func Repeat(g *tensor.Tensor, n int) *tensor.Tensor {
	cells, d := g.Shape[1], g.Shape[2]
	out := tensor.New(n, cells, d)
	row := g.Block(0)
	for k := 0; k < n; k++ {
		copy(out.Block(k), row)
	}
	return out
}
