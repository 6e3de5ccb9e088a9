package nn

import (
	"fmt"
	"strings"

	"github.com/fusheng-ji/MINER/tensor"
)

// Pair owns a trainable ensemble and a frozen mirror of identical shape. The
// mirror is a separate copy that only changes through Sync. Pair is not safe
// for concurrent use; callers serialize Sync against mirror forwards.
type Pair struct {
	enc     *Encoder
	train   Ensemble
	mirror  Ensemble
	mask    []bool
	dev     Device
	chunk   int
	version int
}

// NewPair builds the encoder, the trainable ensemble and its mirror from a
// validated config. Every block starts active.
func NewPair(cfg Config) (*Pair, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := cfg.Kind()
	final, _ := cfg.Final()
	blocks, _ := cfg.NumBlocks()
	src := NewSource(cfg.Seed)

	var (
		enc   *Encoder
		train Ensemble
		err   error
	)
	switch strings.ToLower(cfg.Arch) {
	case ArchMLP:
		in := kind.Dims()
		if cfg.Freqs > 0 {
			if enc, err = NewEncoder(kind, cfg.Freqs); err != nil {
				return nil, err
			}
			in = enc.OutDim()
		}
		train, err = NewMLP(MLPConfig{
			Blocks: blocks, In: in, Out: kind.Channels(),
			Layers: cfg.Layers, Hidden: cfg.Hidden, Final: final, A: cfg.A,
		}, src)
	case ArchGabor:
		train, err = NewGabor(GaborConfig{
			Blocks: blocks, In: kind.Dims(), Out: kind.Channels(),
			Layers: cfg.Layers, Hidden: cfg.Hidden, Final: final, A: cfg.A,
			WeightScale: cfg.WeightScale, Alpha: cfg.Alpha, Beta: cfg.Beta,
		}, src)
	}
	if err != nil {
		return nil, err
	}
	return NewPairFrom(train, enc, cfg.ChunkSize)
}

// NewPairFrom wraps an existing ensemble; the mirror starts as a deep copy.
func NewPairFrom(train Ensemble, enc *Encoder, chunkSize int) (*Pair, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", tensor.ErrConfiguration, chunkSize)
	}
	mask := make([]bool, train.Blocks())
	for i := range mask {
		mask[i] = true
	}
	return &Pair{
		enc:    enc,
		train:  train,
		mirror: train.Clone(),
		mask:   mask,
		dev:    HostDevice{},
		chunk:  chunkSize,
	}, nil
}

// Trainable returns the ensemble that receives gradient updates.
func (p *Pair) Trainable() Ensemble { return p.train }

// Mirror returns the frozen copy used for evaluation and export.
func (p *Pair) Mirror() Ensemble { return p.mirror }

// Encoder returns the positional encoder, or nil.
func (p *Pair) Encoder() *Encoder { return p.enc }

// Version counts Sync calls.
func (p *Pair) Version() int { return p.version }

// SetDevice selects where chunk outputs are held. nil restores the host.
func (p *Pair) SetDevice(d Device) {
	if d == nil {
		d = HostDevice{}
	}
	p.dev = d
}

// SetChunkSize changes the chunk size used by Forward and Gradients.
func (p *Pair) SetChunkSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", tensor.ErrConfiguration, n)
	}
	p.chunk = n
	return nil
}

// Sync overwrites every mirror parameter with the trainable values.
func (p *Pair) Sync() error {
	src, dst := p.train.Params(), p.mirror.Params()
	if len(src) != len(dst) {
		return fmt.Errorf("%w: trainable has %d parameter tensors, mirror %d", tensor.ErrShapeMismatch, len(src), len(dst))
	}
	for i := range src {
		if err := dst[i].CopyFrom(src[i]); err != nil {
			return fmt.Errorf("sync parameter %d: %w", i, err)
		}
	}
	p.version++
	return nil
}

// Forward evaluates the trainable ensemble on the active blocks, or the
// mirror on every block. The mirror path always emits chunks to the host.
func (p *Pair) Forward(x *tensor.Tensor, useMirror bool) (*tensor.Tensor, error) {
	opts := ForwardOptions{ChunkSize: p.chunk, Encoder: p.enc, Device: p.dev}
	if useMirror {
		opts.EmitToHost = true
		return p.mirror.Forward(x, opts)
	}
	opts.Active = p.Mask()
	return p.train.Forward(x, opts)
}

// Gradients evaluates the loss of the trainable ensemble on the active
// blocks against target and returns per-parameter gradients.
func (p *Pair) Gradients(x, target *tensor.Tensor) (float64, []*tensor.Tensor, error) {
	return p.train.Gradients(x, target, ForwardOptions{ChunkSize: p.chunk, Encoder: p.enc, Active: p.Mask()})
}

// Mask returns a copy of the active-block mask.
func (p *Pair) Mask() []bool {
	out := make([]bool, len(p.mask))
	copy(out, p.mask)
	return out
}

// SetMask replaces the active-block mask.
func (p *Pair) SetMask(mask []bool) error {
	if len(mask) != len(p.mask) {
		return fmt.Errorf("%w: mask of %d entries for %d blocks", tensor.ErrShapeMismatch, len(mask), len(p.mask))
	}
	copy(p.mask, mask)
	return nil
}

// SetActive flips one block in or out of training.
func (p *Pair) SetActive(block int, on bool) error {
	if block < 0 || block >= len(p.mask) {
		return fmt.Errorf("%w: block %d out of range [0,%d)", tensor.ErrShapeMismatch, block, len(p.mask))
	}
	p.mask[block] = on
	return nil
}

// ActiveCount returns the number of active blocks.
func (p *Pair) ActiveCount() int {
	n := 0
	for _, on := range p.mask {
		if on {
			n++
		}
	}
	return n
}
