package gpu

import (
	"fmt"

	"github.com/fusheng-ji/MINER/tensor"
)

// packed is a chunk output narrowed to float32 for a storage buffer, with the
// shape needed to rebuild it.
type packed struct {
	shape []int
	data  []float32
}

func pack(t *tensor.Tensor) packed {
	p := packed{shape: append([]int(nil), t.Shape...), data: make([]float32, len(t.Data))}
	for i, v := range t.Data {
		p.data[i] = float32(v)
	}
	return p
}

// bytes is the buffer size the packed values occupy.
func (p packed) bytes() uint64 { return uint64(len(p.data)) * 4 }

// unpack widens data read back from a buffer into a tensor of shape.
func unpack(data []float32, shape []int) (*tensor.Tensor, error) {
	out := tensor.New(shape...)
	if len(data) != out.Size() {
		return nil, fmt.Errorf("%w: buffer holds %d values, shape %v needs %d",
			tensor.ErrShapeMismatch, len(data), shape, out.Size())
	}
	for i, v := range data {
		out.Data[i] = float64(v)
	}
	return out, nil
}
