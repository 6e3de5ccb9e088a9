package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/fusheng-ji/MINER/tensor"
)

// MLPConfig sizes a Gaussian-activation ensemble.
type MLPConfig struct {
	Blocks int // member networks
	In     int // input width (encoded width when an encoder is used)
	Out    int // output channels
	Layers int // total layers, at least 2
	Hidden int // hidden width
	Final  FinalActivation
	A      float64 // initial activation scale
}

func (c MLPConfig) validate() error {
	if c.Blocks <= 0 || c.In <= 0 || c.Out <= 0 || c.Hidden <= 0 {
		return fmt.Errorf("%w: mlp sizes must be positive: %+v", tensor.ErrConfiguration, c)
	}
	if c.Layers < 2 {
		return fmt.Errorf("%w: mlp needs at least 2 layers, got %d", tensor.ErrConfiguration, c.Layers)
	}
	if !c.Final.valid() {
		return fmt.Errorf("%w: unknown final activation %d", tensor.ErrConfiguration, int(c.Final))
	}
	if c.A <= 0 {
		return fmt.Errorf("%w: activation scale must be positive, got %v", tensor.ErrConfiguration, c.A)
	}
	return nil
}

// layerDims returns the input and output width of layer i.
func (c MLPConfig) layerDims(i int) (in, out int) {
	in, out = c.Hidden, c.Hidden
	if i == 0 {
		in = c.In
	}
	if i == c.Layers-1 {
		out = c.Out
	}
	return in, out
}

// scaled reports whether layer i carries an activation scale.
func (c MLPConfig) scaled(i int) bool { return i < c.Layers-1 || c.Final == FinalSine }

// MLPLayer is one layer of every member network.
type MLPLayer struct {
	W *tensor.Tensor // (blocks, in, out)
	B *tensor.Tensor // (blocks, 1, out)
	A *tensor.Tensor // (blocks, 1, 1); nil on a sigmoid terminal layer
}

// MLP evaluates Blocks independent fully-connected networks with Gaussian
// hidden activations exp(-z²/(2a²)).
type MLP struct {
	cfg    MLPConfig
	Layers []MLPLayer
}

// NewMLP allocates and initializes an ensemble. Weights and biases of every
// layer are drawn from U(-1/√fan_in, 1/√fan_in).
func NewMLP(cfg MLPConfig, src rand.Source) (*MLP, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &MLP{cfg: cfg, Layers: make([]MLPLayer, cfg.Layers)}
	for i := range m.Layers {
		in, out := cfg.layerDims(i)
		bound := 1 / math.Sqrt(float64(in))

		l := MLPLayer{W: tensor.New(cfg.Blocks, in, out), B: tensor.New(cfg.Blocks, 1, out)}
		fillUniform(l.W, -bound, bound, src)
		fillUniform(l.B, -bound, bound, src)
		if cfg.scaled(i) {
			l.A = tensor.New(cfg.Blocks, 1, 1)
			l.A.Fill(cfg.A)
		}
		m.Layers[i] = l
	}
	return m, nil
}

func (m *MLP) Blocks() int { return m.cfg.Blocks }
func (m *MLP) InDim() int  { return m.cfg.In }
func (m *MLP) OutDim() int { return m.cfg.Out }

// Config returns the sizes the ensemble was built with.
func (m *MLP) Config() MLPConfig { return m.cfg }

func (m *MLP) Params() []*tensor.Tensor { return mlpParams(m.Layers) }

func mlpParams(layers []MLPLayer) []*tensor.Tensor {
	var ps []*tensor.Tensor
	for _, l := range layers {
		ps = append(ps, l.W, l.B)
		if l.A != nil {
			ps = append(ps, l.A)
		}
	}
	return ps
}

func (m *MLP) Clone() Ensemble {
	c := &MLP{cfg: m.cfg, Layers: make([]MLPLayer, len(m.Layers))}
	for i, l := range m.Layers {
		c.Layers[i] = MLPLayer{W: l.W.Clone(), B: l.B.Clone()}
		if l.A != nil {
			c.Layers[i].A = l.A.Clone()
		}
	}
	return c
}

// checkParams verifies every layer still has the shapes the config implies.
// Layers is exported, so a caller may have replaced a tensor.
func (m *MLP) checkParams() error {
	if len(m.Layers) != m.cfg.Layers {
		return fmt.Errorf("%w: mlp has %d layers, config says %d", tensor.ErrShapeMismatch, len(m.Layers), m.cfg.Layers)
	}
	n := m.cfg.Blocks
	for i, l := range m.Layers {
		in, out := m.cfg.layerDims(i)
		if err := checkShape(fmt.Sprintf("layer %d weight", i), l.W, n, in, out); err != nil {
			return err
		}
		if err := checkShape(fmt.Sprintf("layer %d bias", i), l.B, n, 1, out); err != nil {
			return err
		}
		if m.cfg.scaled(i) {
			if err := checkShape(fmt.Sprintf("layer %d scale", i), l.A, n, 1, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MLP) checkEncoder(enc *Encoder) error {
	if enc != nil && enc.OutDim() != m.cfg.In {
		return fmt.Errorf("%w: encoder emits %d features, mlp expects %d", tensor.ErrConfiguration, enc.OutDim(), m.cfg.In)
	}
	return nil
}

// Forward evaluates the selected blocks chunk by chunk.
func (m *MLP) Forward(x *tensor.Tensor, opts ForwardOptions) (*tensor.Tensor, error) {
	if err := m.checkParams(); err != nil {
		return nil, err
	}
	if err := m.checkEncoder(opts.Encoder); err != nil {
		return nil, err
	}
	chunks, err := planChunks(m.cfg.Blocks, coordWidth(m.cfg.In, opts.Encoder), x, opts)
	if err != nil {
		return nil, err
	}
	return runChunks(chunks, x, m.cfg.Out, opts, func(c chunk, xs *tensor.Tensor) (*tensor.Tensor, error) {
		h, err := encodeChunk(xs, opts.Encoder)
		if err != nil {
			return nil, err
		}
		y, _ := m.forwardChunk(c, h, false)
		return y, nil
	})
}

// mlpTrace keeps what backprop needs from one chunk: the input and
// pre-activation of every layer.
type mlpTrace struct {
	inputs []*tensor.Tensor
	pre    []*tensor.Tensor
}

func (m *MLP) forwardChunk(c chunk, h *tensor.Tensor, keep bool) (*tensor.Tensor, *mlpTrace) {
	var tr *mlpTrace
	if keep {
		tr = &mlpTrace{}
	}
	last := len(m.Layers) - 1
	for i, l := range m.Layers {
		z := blockLinear(h, l.W, l.B, c.blocks)
		if keep {
			tr.inputs = append(tr.inputs, h)
			tr.pre = append(tr.pre, z.Clone())
		}
		if i == last {
			applyFinal(z, m.cfg.Final, l.A, c.blocks)
		} else {
			for j, blk := range c.blocks {
				a := l.A.Data[blk]
				row := z.Block(j)
				for k, v := range row {
					row[k] = gaussian(v, a)
				}
			}
		}
		h = z
	}
	return h, tr
}

// Gradients returns the mean squared error over all selected outputs and its
// gradient with respect to every parameter, in Params order. Rows of blocks
// outside the selection stay zero.
func (m *MLP) Gradients(x, target *tensor.Tensor, opts ForwardOptions) (float64, []*tensor.Tensor, error) {
	if err := m.checkParams(); err != nil {
		return 0, nil, err
	}
	if err := m.checkEncoder(opts.Encoder); err != nil {
		return 0, nil, err
	}
	chunks, err := planChunks(m.cfg.Blocks, coordWidth(m.cfg.In, opts.Encoder), x, opts)
	if err != nil {
		return 0, nil, err
	}
	if err := checkTarget(x, target, m.cfg.Out); err != nil {
		return 0, nil, err
	}

	grads := make([]MLPLayer, len(m.Layers))
	for i, l := range m.Layers {
		grads[i] = MLPLayer{W: tensor.New(l.W.Shape...), B: tensor.New(l.B.Shape...)}
		if l.A != nil {
			grads[i].A = tensor.New(l.A.Shape...)
		}
	}
	count := target.Size()
	if count == 0 {
		return 0, mlpParams(grads), nil
	}

	sum := 0.0
	for _, c := range chunks {
		h, err := encodeChunk(x.Rows(c.from, c.to), opts.Encoder)
		if err != nil {
			return 0, nil, err
		}
		y, tr := m.forwardChunk(c, h, true)
		g := y.Clone()
		sum += mseSeed(g, target.Rows(c.from, c.to), count)
		m.backwardChunk(c, g, y, tr, grads)
	}
	return sum / float64(count), mlpParams(grads), nil
}

// backwardChunk propagates dL/dy (gy, overwritten) back through the layers.
func (m *MLP) backwardChunk(c chunk, gy, y *tensor.Tensor, tr *mlpTrace, grads []MLPLayer) {
	last := len(m.Layers) - 1
	g := gy
	for i := last; i >= 0; i-- {
		l := m.Layers[i]
		z := tr.pre[i]
		if i == last {
			finalBackward(g, z, y, m.cfg.Final, l.A, grads[i].A, c.blocks)
		} else {
			for j, blk := range c.blocks {
				a := l.A.Data[blk]
				gr, zr := g.Block(j), z.Block(j)
				da := 0.0
				for k, v := range zr {
					dv, dA := gaussianGrad(v, a, gaussian(v, a))
					da += gr[k] * dA
					gr[k] *= dv
				}
				grads[i].A.Data[blk] += da
			}
		}
		g = blockLinearBackward(tr.inputs[i], l.W, g, grads[i].W, grads[i].B, c.blocks, i > 0)
	}
}
