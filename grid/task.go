package grid

import (
	"fmt"
	"strings"

	"github.com/fusheng-ji/MINER/tensor"
)

// Kind selects the signal domain.
type Kind int

const (
	KindImage Kind = 0 // 2-D domain, RGB
	KindMesh  Kind = 1 // 3-D domain, occupancy
)

// Interp is the resampling mode used between scale levels.
type Interp int

const (
	Bilinear  Interp = 0
	Trilinear Interp = 1
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindMesh:
		return "mesh"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (m Interp) String() string {
	if m == Trilinear {
		return "trilinear"
	}
	return "bilinear"
}

// ParseKind maps a task name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return KindImage, nil
	case "mesh":
		return KindMesh, nil
	default:
		return 0, fmt.Errorf("%w: unknown task %q", tensor.ErrConfiguration, s)
	}
}

// Dims returns the spatial dimensionality of the kind.
func (k Kind) Dims() int {
	if k == KindMesh {
		return 3
	}
	return 2
}

// Channels returns the output channel count of the kind.
func (k Kind) Channels() int {
	if k == KindMesh {
		return 1
	}
	return 3
}

// Task is the per-level layout record shared by the grid builder and the
// partitioner. Domain and Block are ordered slowest axis first, e.g. (H, W)
// or (D, H, W).
type Task struct {
	Kind     Kind
	Domain   []int
	Block    []int
	Channels int
	Interp   Interp
}

// NewTask validates a layout and fills in the kind's channel count and
// interpolation mode.
func NewTask(kind Kind, domain, block []int) (Task, error) {
	d := kind.Dims()
	if len(domain) != d || len(block) != d {
		return Task{}, fmt.Errorf("%w: %s task needs %d axes, got domain %v block %v",
			tensor.ErrConfiguration, kind, d, domain, block)
	}
	for a := 0; a < d; a++ {
		if domain[a] <= 0 || block[a] <= 0 {
			return Task{}, fmt.Errorf("%w: non-positive extent in domain %v block %v",
				tensor.ErrConfiguration, domain, block)
		}
		if domain[a]%block[a] != 0 {
			return Task{}, fmt.Errorf("%w: axis %d of length %d not divisible by block %d",
				tensor.ErrShapeMismatch, a, domain[a], block[a])
		}
	}
	interp := Bilinear
	if kind == KindMesh {
		interp = Trilinear
	}
	return Task{
		Kind:     kind,
		Domain:   append([]int(nil), domain...),
		Block:    append([]int(nil), block...),
		Channels: kind.Channels(),
		Interp:   interp,
	}, nil
}

// Dims returns the spatial dimensionality.
func (t Task) Dims() int { return len(t.Domain) }

// BlockGrid returns the number of blocks along each axis.
func (t Task) BlockGrid() []int {
	g := make([]int, len(t.Domain))
	for a := range g {
		g[a] = t.Domain[a] / t.Block[a]
	}
	return g
}

// NumBlocks returns the total block count.
func (t Task) NumBlocks() int { return prod(t.BlockGrid()) }

// CellsPerBlock returns the number of cells in one block.
func (t Task) CellsPerBlock() int { return prod(t.Block) }

// Coordinates returns the per-block coordinate array (blocks, cells, dims).
func (t Task) Coordinates() (*tensor.Tensor, error) {
	g, err := Coordinates(t.Block...)
	if err != nil {
		return nil, err
	}
	return Repeat(g, t.NumBlocks()), nil
}

// Partition splits a (domain..., channels) signal into blocks.
func (t Task) Partition(signal *tensor.Tensor) (*tensor.Tensor, error) {
	if len(signal.Shape) != t.Dims()+1 {
		return nil, fmt.Errorf("%w: signal shape %v for %d-D task", tensor.ErrShapeMismatch, signal.Shape, t.Dims())
	}
	for a, d := range t.Domain {
		if signal.Shape[a] != d {
			return nil, fmt.Errorf("%w: signal shape %v, task domain %v", tensor.ErrShapeMismatch, signal.Shape, t.Domain)
		}
	}
	return Partition(signal, t.Block)
}

// Unpartition reassembles blocks into a (domain..., channels) signal.
func (t Task) Unpartition(blocks *tensor.Tensor) (*tensor.Tensor, error) {
	return Unpartition(blocks, t.Domain, t.Block)
}

// ExpandMask paints a block mask onto the task's cells.
func (t Task) ExpandMask(mask []bool) ([]bool, error) {
	return ExpandMask(mask, t.Domain, t.Block)
}

func prod(s []int) int {
	n := 1
	for _, v := range s {
		n *= v
	}
	return n
}
