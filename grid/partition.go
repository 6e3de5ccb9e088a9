package grid

import (
	"fmt"

	"github.com/fusheng-ji/MINER/tensor"
)

// walk visits every domain cell in row-major order and reports its flat
// position, the index of the block containing it and its index inside that
// block. Blocks are enumerated row-major over the block grid.
func walk(domain, block []int, fn func(pos, blk, cell int)) {
	d := len(domain)
	nb := make([]int, d)
	for a := range nb {
		nb[a] = domain[a] / block[a]
	}
	idx := make([]int, d)
	total := prod(domain)
	for pos := 0; pos < total; pos++ {
		blk, cell := 0, 0
		for a := 0; a < d; a++ {
			blk = blk*nb[a] + idx[a]/block[a]
			cell = cell*block[a] + idx[a]%block[a]
		}
		fn(pos, blk, cell)
		advance(idx, domain)
	}
}

func checkTiling(domain, block []int) error {
	if len(domain) != len(block) || len(block) == 0 {
		return fmt.Errorf("%w: domain %v and block %v differ in rank", tensor.ErrShapeMismatch, domain, block)
	}
	for a := range domain {
		if block[a] <= 0 || domain[a] <= 0 {
			return fmt.Errorf("%w: non-positive extent in domain %v block %v", tensor.ErrConfiguration, domain, block)
		}
		if domain[a]%block[a] != 0 {
			return fmt.Errorf("%w: axis %d of length %d not divisible by block %d",
				tensor.ErrShapeMismatch, a, domain[a], block[a])
		}
	}
	return nil
}

// Partition reshapes a (domain..., channels) signal into
// (num_blocks, cells_per_block, channels).
func Partition(signal *tensor.Tensor, block []int) (*tensor.Tensor, error) {
	if len(signal.Shape) < 2 {
		return nil, fmt.Errorf("%w: signal shape %v has no channel axis", tensor.ErrShapeMismatch, signal.Shape)
	}
	domain := signal.Shape[:len(signal.Shape)-1]
	if err := checkTiling(domain, block); err != nil {
		return nil, err
	}
	ch := signal.Shape[len(signal.Shape)-1]
	cells := prod(block)
	out := tensor.New(prod(domain)/cells, cells, ch)
	walk(domain, block, func(pos, blk, cell int) {
		copy(out.Data[(blk*cells+cell)*ch:(blk*cells+cell+1)*ch], signal.Data[pos*ch:(pos+1)*ch])
	})
	return out, nil
}

// Unpartition is the inverse of Partition.
func Unpartition(blocks *tensor.Tensor, domain, block []int) (*tensor.Tensor, error) {
	if err := checkTiling(domain, block); err != nil {
		return nil, err
	}
	if len(blocks.Shape) != 3 {
		return nil, fmt.Errorf("%w: blocks must be 3-axis, got %v", tensor.ErrShapeMismatch, blocks.Shape)
	}
	cells := prod(block)
	if blocks.Shape[1] != cells || blocks.Shape[0]*cells != prod(domain) {
		return nil, fmt.Errorf("%w: blocks %v cannot tile domain %v with block %v",
			tensor.ErrShapeMismatch, blocks.Shape, domain, block)
	}
	ch := blocks.Shape[2]
	shape := append(append([]int(nil), domain...), ch)
	out := tensor.New(shape...)
	walk(domain, block, func(pos, blk, cell int) {
		copy(out.Data[pos*ch:(pos+1)*ch], blocks.Data[(blk*cells+cell)*ch:(blk*cells+cell+1)*ch])
	})
	return out, nil
}

// SelectActive keeps the blocks whose mask entry is true, in order. An empty
// mask selects nothing.
func SelectActive(blocks *tensor.Tensor, mask []bool) (*tensor.Tensor, error) {
	if len(mask) == 0 {
		shape := append([]int(nil), blocks.Shape...)
		shape[0] = 0
		return tensor.New(shape...), nil
	}
	if len(mask) != blocks.Shape[0] {
		return nil, fmt.Errorf("%w: mask of %d entries for %d blocks", tensor.ErrShapeMismatch, len(mask), blocks.Shape[0])
	}
	return blocks.Gather(ActiveIndices(mask)), nil
}

// ActiveIndices lists the positions of true entries.
func ActiveIndices(mask []bool) []int {
	idx := make([]int, 0, len(mask))
	for i, on := range mask {
		if on {
			idx = append(idx, i)
		}
	}
	return idx
}

// ExpandMask paints a per-block mask onto every cell of the domain, returning
// a row-major per-cell mask.
func ExpandMask(mask []bool, domain, block []int) ([]bool, error) {
	if err := checkTiling(domain, block); err != nil {
		return nil, err
	}
	if len(mask) != prod(domain)/prod(block) {
		return nil, fmt.Errorf("%w: mask of %d entries for %d blocks",
			tensor.ErrShapeMismatch, len(mask), prod(domain)/prod(block))
	}
	out := make([]bool, prod(domain))
	walk(domain, block, func(pos, blk, _ int) {
		out[pos] = mask[blk]
	})
	return out, nil
}
