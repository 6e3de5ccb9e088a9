package nn

import (
	"fmt"

	"github.com/fusheng-ji/MINER/grid"
	"github.com/fusheng-ji/MINER/tensor"
)

// DefaultChunkSize is the number of blocks advanced together when a caller
// does not pick one.
const DefaultChunkSize = 16384

// Ensemble is a stack of independent per-block networks that share depth and
// width. Every parameter tensor's leading axis is the block axis.
type Ensemble interface {
	// Blocks is the number of member networks.
	Blocks() int
	// InDim is the width of the network input (after any encoding).
	InDim() int
	// OutDim is the number of output channels.
	OutDim() int
	// Forward evaluates the selected blocks on x, shaped (selected, cells, d).
	Forward(x *tensor.Tensor, opts ForwardOptions) (*tensor.Tensor, error)
	// Gradients evaluates the mean squared error against target and returns
	// it along with one gradient tensor per entry of Params.
	Gradients(x, target *tensor.Tensor, opts ForwardOptions) (float64, []*tensor.Tensor, error)
	// Params lists the parameter tensors in a fixed order.
	Params() []*tensor.Tensor
	// Clone returns a deep copy with no shared storage.
	Clone() Ensemble
}

// ForwardOptions controls one batched evaluation.
type ForwardOptions struct {
	// ChunkSize bounds how many blocks are advanced through the layers at once.
	ChunkSize int
	// EmitToHost fetches each chunk off the device as soon as it completes.
	EmitToHost bool
	// Active selects blocks; nil means every block. When set, the input's
	// leading axis must equal the number of true entries.
	Active []bool
	// Encoder, when non-nil, is applied to each chunk's coordinates first.
	Encoder *Encoder
	// Device holds chunk outputs; nil means HostDevice.
	Device Device
}

// chunk is a contiguous run of input rows and the parameter blocks they use.
type chunk struct {
	from, to int
	blocks   []int
}

// planChunks validates x against the selection and splits it into chunks of
// at most opts.ChunkSize blocks.
func planChunks(nBlocks, inDim int, x *tensor.Tensor, opts ForwardOptions) ([]chunk, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", tensor.ErrConfiguration, opts.ChunkSize)
	}
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("%w: input must be (blocks, cells, dims), got %v", tensor.ErrShapeMismatch, x.Shape)
	}
	if x.Shape[2] != inDim {
		return nil, fmt.Errorf("%w: input width %d, network expects %d", tensor.ErrShapeMismatch, x.Shape[2], inDim)
	}

	var selected []int
	if opts.Active == nil {
		selected = make([]int, nBlocks)
		for i := range selected {
			selected[i] = i
		}
	} else {
		if len(opts.Active) != nBlocks {
			return nil, fmt.Errorf("%w: active mask has %d entries for %d blocks", tensor.ErrShapeMismatch, len(opts.Active), nBlocks)
		}
		selected = grid.ActiveIndices(opts.Active)
	}
	if x.Shape[0] != len(selected) {
		return nil, fmt.Errorf("%w: input has %d blocks, %d selected", tensor.ErrShapeMismatch, x.Shape[0], len(selected))
	}

	var chunks []chunk
	for c := 0; c < len(selected); c += opts.ChunkSize {
		end := c + opts.ChunkSize
		if end > len(selected) {
			end = len(selected)
		}
		chunks = append(chunks, chunk{from: c, to: end, blocks: selected[c:end]})
	}
	return chunks, nil
}

// coordWidth is the width the caller must supply given an optional encoder.
func coordWidth(inDim int, enc *Encoder) int {
	if enc != nil {
		return enc.InDim()
	}
	return inDim
}

// runChunks drives a chunked forward pass. step maps one chunk's input rows to
// its (k, cells, out) output; results land in the output in original order.
func runChunks(chunks []chunk, x *tensor.Tensor, outDim int, opts ForwardOptions,
	step func(c chunk, xs *tensor.Tensor) (*tensor.Tensor, error)) (*tensor.Tensor, error) {

	dev := opts.Device
	if dev == nil {
		dev = HostDevice{}
	}
	out := tensor.New(x.Shape[0], x.Shape[1], outDim)

	type pending struct {
		c chunk
		r Resident
	}
	var held []pending
	release := func() {
		for _, p := range held {
			p.r.Release()
		}
		held = nil
	}

	gather := func(c chunk, r Resident) error {
		defer r.Release()
		t, err := r.Fetch()
		if err != nil {
			return fmt.Errorf("fetch chunk [%d,%d) from %s: %w", c.from, c.to, dev.Name(), err)
		}
		if len(t.Data) != len(out.Rows(c.from, c.to).Data) {
			return fmt.Errorf("%w: chunk [%d,%d) came back with %d values", tensor.ErrShapeMismatch, c.from, c.to, len(t.Data))
		}
		copy(out.Rows(c.from, c.to).Data, t.Data)
		return nil
	}

	for _, c := range chunks {
		y, err := step(c, x.Rows(c.from, c.to))
		if err != nil {
			release()
			return nil, err
		}
		r, err := dev.Put(y)
		if err != nil {
			release()
			return nil, fmt.Errorf("put chunk [%d,%d) on %s: %w", c.from, c.to, dev.Name(), err)
		}
		if opts.EmitToHost {
			if err := gather(c, r); err != nil {
				release()
				return nil, err
			}
			continue
		}
		held = append(held, pending{c: c, r: r})
	}

	for i, p := range held {
		if err := gather(p.c, p.r); err != nil {
			for _, rest := range held[i+1:] {
				rest.r.Release()
			}
			held = nil
			return nil, err
		}
	}
	return out, nil
}

// checkShape reports ErrShapeMismatch unless t is present with exactly the
// wanted shape and backing length.
func checkShape(name string, t *tensor.Tensor, want ...int) error {
	if t == nil {
		return fmt.Errorf("%w: %s is missing", tensor.ErrShapeMismatch, name)
	}
	size := 1
	for _, d := range want {
		size *= d
	}
	ok := len(t.Shape) == len(want) && len(t.Data) == size
	for i := 0; ok && i < len(want); i++ {
		ok = t.Shape[i] == want[i]
	}
	if !ok {
		return fmt.Errorf("%w: %s has shape %v, want %v", tensor.ErrShapeMismatch, name, t.Shape, want)
	}
	return nil
}

// encodeChunk applies the optional encoder to one chunk of coordinates.
func encodeChunk(xs *tensor.Tensor, enc *Encoder) (*tensor.Tensor, error) {
	if enc == nil {
		return xs, nil
	}
	return enc.Encode(xs)
}

// mseSeed writes dL/dy = 2(y-t)/count into y in place and returns the chunk's
// summed squared error.
func mseSeed(y, t *tensor.Tensor, count int) float64 {
	sum := 0.0
	for i, v := range y.Data {
		d := v - t.Data[i]
		sum += d * d
		y.Data[i] = 2 * d / float64(count)
	}
	return sum
}

func zerosLike(params []*tensor.Tensor) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = tensor.New(p.Shape...)
	}
	return out
}

func checkTarget(x, target *tensor.Tensor, outDim int) error {
	if len(target.Shape) != 3 || target.Shape[0] != x.Shape[0] || target.Shape[1] != x.Shape[1] || target.Shape[2] != outDim {
		return fmt.Errorf("%w: target %v for input %v with %d outputs", tensor.ErrShapeMismatch, target.Shape, x.Shape, outDim)
	}
	return nil
}
