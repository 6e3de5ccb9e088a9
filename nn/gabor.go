package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/fusheng-ji/MINER/tensor"
)

// GaborConfig sizes a multiplicative Gabor-filter ensemble.
type GaborConfig struct {
	Blocks int
	In     int // raw coordinate width
	Out    int
	Layers int // total layers, at least 2
	Hidden int
	Final  FinalActivation
	A      float64 // initial scale of a scaled-sine terminal layer

	WeightScale float64 // filter frequency scale, divided by √(Layers-1)
	Alpha       float64 // Gamma shape, divided by (Layers-1)
	Beta        float64 // Gamma rate
}

func (c GaborConfig) validate() error {
	if c.Blocks <= 0 || c.In <= 0 || c.Out <= 0 || c.Hidden <= 0 {
		return fmt.Errorf("%w: gabor sizes must be positive: %+v", tensor.ErrConfiguration, c)
	}
	if c.Layers < 2 {
		return fmt.Errorf("%w: gabor needs at least 2 layers, got %d", tensor.ErrConfiguration, c.Layers)
	}
	if !c.Final.valid() {
		return fmt.Errorf("%w: unknown final activation %d", tensor.ErrConfiguration, int(c.Final))
	}
	if c.WeightScale <= 0 || c.Alpha <= 0 || c.Beta <= 0 {
		return fmt.Errorf("%w: weight_scale, alpha and beta must be positive", tensor.ErrConfiguration)
	}
	if c.Final == FinalSine && c.A <= 0 {
		return fmt.Errorf("%w: activation scale must be positive, got %v", tensor.ErrConfiguration, c.A)
	}
	return nil
}

// GaborLayer is one layer of every member network. Filter fields are set on
// layers 0..L-2, the mixing W/B on layers 1..L-1 and A only on a scaled-sine
// terminal layer.
type GaborLayer struct {
	FilterW *tensor.Tensor // (blocks, in, hidden)
	FilterB *tensor.Tensor // (blocks, 1, hidden)
	Center  *tensor.Tensor // (blocks, hidden, in)
	Rate    *tensor.Tensor // (blocks, 1, hidden)

	W *tensor.Tensor // (blocks, hidden, out)
	B *tensor.Tensor // (blocks, 1, out)
	A *tensor.Tensor // (blocks, 1, 1)
}

// Gabor evaluates Blocks independent multiplicative filter networks whose
// filters are sin(x·fW+fb)·exp(-½·rate·‖x-center‖²).
type Gabor struct {
	cfg    GaborConfig
	Layers []GaborLayer
}

// NewGabor allocates and initializes an ensemble. Filter rates are sampled
// once from Gamma(Alpha/(L-1), Beta) and filter weights are scaled by
// WeightScale/√(L-1)·√rate per hidden unit.
func NewGabor(cfg GaborConfig, src rand.Source) (*Gabor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n, h := cfg.Blocks, cfg.Hidden
	filters := float64(cfg.Layers - 1)
	scale := cfg.WeightScale / math.Sqrt(filters)
	inBound := 1 / math.Sqrt(float64(cfg.In))
	hidBound := 1 / math.Sqrt(float64(h))

	g := &Gabor{cfg: cfg, Layers: make([]GaborLayer, cfg.Layers)}
	for i := range g.Layers {
		var l GaborLayer
		if i < cfg.Layers-1 {
			l.FilterW = tensor.New(n, cfg.In, h)
			l.FilterB = tensor.New(n, 1, h)
			l.Center = tensor.New(n, h, cfg.In)
			l.Rate = tensor.New(n, 1, h)
			fillUniform(l.FilterW, -inBound, inBound, src)
			fillUniform(l.FilterB, -math.Pi, math.Pi, src)
			fillUniform(l.Center, -1, 1, src)
			fillGamma(l.Rate, cfg.Alpha/filters, cfg.Beta, src)

			for blk := 0; blk < n; blk++ {
				rate := l.Rate.Block(blk)
				fw := l.FilterW.Block(blk)
				for d := 0; d < cfg.In; d++ {
					for u := 0; u < h; u++ {
						fw[d*h+u] *= scale * math.Sqrt(rate[u])
					}
				}
			}
		}
		if i > 0 {
			out := h
			if i == cfg.Layers-1 {
				out = cfg.Out
			}
			l.W = tensor.New(n, h, out)
			l.B = tensor.New(n, 1, out)
			fillUniform(l.W, -hidBound, hidBound, src)
			fillUniform(l.B, -hidBound, hidBound, src)
		}
		if i == cfg.Layers-1 && cfg.Final == FinalSine {
			l.A = tensor.New(n, 1, 1)
			l.A.Fill(cfg.A)
		}
		g.Layers[i] = l
	}
	return g, nil
}

func (g *Gabor) Blocks() int { return g.cfg.Blocks }
func (g *Gabor) InDim() int  { return g.cfg.In }
func (g *Gabor) OutDim() int { return g.cfg.Out }

// Config returns the sizes the ensemble was built with.
func (g *Gabor) Config() GaborConfig { return g.cfg }

func (g *Gabor) Params() []*tensor.Tensor { return gaborParams(g.Layers) }

func gaborParams(layers []GaborLayer) []*tensor.Tensor {
	var ps []*tensor.Tensor
	for _, l := range layers {
		for _, p := range []*tensor.Tensor{l.FilterW, l.FilterB, l.Center, l.Rate, l.W, l.B, l.A} {
			if p != nil {
				ps = append(ps, p)
			}
		}
	}
	return ps
}

func cloneOrNil(t *tensor.Tensor) *tensor.Tensor {
	if t == nil {
		return nil
	}
	return t.Clone()
}

func (g *Gabor) Clone() Ensemble {
	c := &Gabor{cfg: g.cfg, Layers: make([]GaborLayer, len(g.Layers))}
	for i, l := range g.Layers {
		c.Layers[i] = GaborLayer{
			FilterW: cloneOrNil(l.FilterW), FilterB: cloneOrNil(l.FilterB),
			Center: cloneOrNil(l.Center), Rate: cloneOrNil(l.Rate),
			W: cloneOrNil(l.W), B: cloneOrNil(l.B), A: cloneOrNil(l.A),
		}
	}
	return c
}

// Forward evaluates the selected blocks chunk by chunk. Filters read the raw
// coordinates, so opts.Encoder is not used.
func (g *Gabor) Forward(x *tensor.Tensor, opts ForwardOptions) (*tensor.Tensor, error) {
	if err := g.checkParams(); err != nil {
		return nil, err
	}
	chunks, err := planChunks(g.cfg.Blocks, g.cfg.In, x, opts)
	if err != nil {
		return nil, err
	}
	return runChunks(chunks, x, g.cfg.Out, opts, func(c chunk, xs *tensor.Tensor) (*tensor.Tensor, error) {
		y, _ := g.forwardChunk(c, xs, false)
		return y, nil
	})
}

// checkParams verifies every layer still has the shapes the config implies.
func (g *Gabor) checkParams() error {
	c := g.cfg
	if len(g.Layers) != c.Layers {
		return fmt.Errorf("%w: gabor has %d layers, config says %d", tensor.ErrShapeMismatch, len(g.Layers), c.Layers)
	}
	n, h := c.Blocks, c.Hidden
	for i, l := range g.Layers {
		type want struct {
			name  string
			t     *tensor.Tensor
			shape []int
		}
		var ws []want
		if i < c.Layers-1 {
			ws = append(ws,
				want{"filter weight", l.FilterW, []int{n, c.In, h}},
				want{"filter bias", l.FilterB, []int{n, 1, h}},
				want{"center", l.Center, []int{n, h, c.In}},
				want{"rate", l.Rate, []int{n, 1, h}},
			)
		}
		if i > 0 {
			out := h
			if i == c.Layers-1 {
				out = c.Out
			}
			ws = append(ws, want{"weight", l.W, []int{n, h, out}}, want{"bias", l.B, []int{n, 1, out}})
		}
		if i == c.Layers-1 && c.Final == FinalSine {
			ws = append(ws, want{"scale", l.A, []int{n, 1, 1}})
		}
		for _, w := range ws {
			if err := checkShape(fmt.Sprintf("layer %d %s", i, w.name), w.t, w.shape...); err != nil {
				return err
			}
		}
	}
	return nil
}

// sqDist returns D[j, cell, u] = ‖x[j, cell] - center[blocks[j], u]‖².
func sqDist(x, center *tensor.Tensor, blocks []int) *tensor.Tensor {
	cells, d := x.Shape[1], x.Shape[2]
	h := center.Shape[1]
	out := tensor.New(len(blocks), cells, h)
	for j, blk := range blocks {
		xr, mu, dr := x.Block(j), center.Block(blk), out.Block(j)
		for c := 0; c < cells; c++ {
			xc := xr[c*d : (c+1)*d]
			for u := 0; u < h; u++ {
				m := mu[u*d : (u+1)*d]
				s := 0.0
				for k, v := range xc {
					diff := v - m[k]
					s += diff * diff
				}
				dr[c*h+u] = s
			}
		}
	}
	return out
}

// gaborTrace keeps per-layer intermediates of one chunk for backprop.
type gaborTrace struct {
	phase  []*tensor.Tensor // x·fW + fb, filter layers
	dist   []*tensor.Tensor // squared distances, filter layers
	filt   []*tensor.Tensor // filter responses, filter layers
	mix    []*tensor.Tensor // h·W + b, layers 1..L-1 (index by layer)
	inputs []*tensor.Tensor // running activation entering each mixing layer
}

// filter evaluates layer l's Gabor basis on raw coordinates x.
func (g *Gabor) filter(l GaborLayer, x *tensor.Tensor, blocks []int) (phase, dist, resp *tensor.Tensor) {
	phase = blockLinear(x, l.FilterW, l.FilterB, blocks)
	dist = sqDist(x, l.Center, blocks)
	resp = tensor.New(phase.Shape...)
	h := g.cfg.Hidden
	for j, blk := range blocks {
		rate := l.Rate.Block(blk)
		p, d, r := phase.Block(j), dist.Block(j), resp.Block(j)
		for i := range r {
			r[i] = math.Sin(p[i]) * math.Exp(-0.5*d[i]*rate[i%h])
		}
	}
	return phase, dist, resp
}

func (g *Gabor) forwardChunk(c chunk, x *tensor.Tensor, keep bool) (*tensor.Tensor, *gaborTrace) {
	L := len(g.Layers)
	var tr *gaborTrace
	if keep {
		tr = &gaborTrace{
			phase: make([]*tensor.Tensor, L), dist: make([]*tensor.Tensor, L), filt: make([]*tensor.Tensor, L),
			mix: make([]*tensor.Tensor, L), inputs: make([]*tensor.Tensor, L),
		}
	}

	var h *tensor.Tensor
	for i, l := range g.Layers {
		if i == L-1 {
			if keep {
				tr.inputs[i] = h
			}
			z := blockLinear(h, l.W, l.B, c.blocks)
			if keep {
				tr.mix[i] = z.Clone()
			}
			applyFinal(z, g.cfg.Final, l.A, c.blocks)
			return z, tr
		}

		phase, dist, resp := g.filter(l, x, c.blocks)
		if keep {
			tr.phase[i], tr.dist[i], tr.filt[i] = phase, dist, resp
		}
		if i == 0 {
			h = resp
			continue
		}
		if keep {
			tr.inputs[i] = h
		}
		lin := blockLinear(h, l.W, l.B, c.blocks)
		if keep {
			tr.mix[i] = lin.Clone()
		}
		for k := range lin.Data {
			lin.Data[k] *= resp.Data[k]
		}
		h = lin
	}
	return h, tr
}

// Gradients returns the mean squared error over all selected outputs and its
// gradient with respect to every parameter, in Params order.
func (g *Gabor) Gradients(x, target *tensor.Tensor, opts ForwardOptions) (float64, []*tensor.Tensor, error) {
	if err := g.checkParams(); err != nil {
		return 0, nil, err
	}
	chunks, err := planChunks(g.cfg.Blocks, g.cfg.In, x, opts)
	if err != nil {
		return 0, nil, err
	}
	if err := checkTarget(x, target, g.cfg.Out); err != nil {
		return 0, nil, err
	}

	grads := make([]GaborLayer, len(g.Layers))
	for i, l := range g.Layers {
		grads[i] = GaborLayer{
			FilterW: zeroOrNil(l.FilterW), FilterB: zeroOrNil(l.FilterB),
			Center: zeroOrNil(l.Center), Rate: zeroOrNil(l.Rate),
			W: zeroOrNil(l.W), B: zeroOrNil(l.B), A: zeroOrNil(l.A),
		}
	}
	count := target.Size()
	if count == 0 {
		return 0, gaborParams(grads), nil
	}

	sum := 0.0
	for _, c := range chunks {
		xs := x.Rows(c.from, c.to)
		y, tr := g.forwardChunk(c, xs, true)
		gy := y.Clone()
		sum += mseSeed(gy, target.Rows(c.from, c.to), count)
		g.backwardChunk(c, xs, gy, y, tr, grads)
	}
	return sum / float64(count), gaborParams(grads), nil
}

func zeroOrNil(t *tensor.Tensor) *tensor.Tensor {
	if t == nil {
		return nil
	}
	return tensor.New(t.Shape...)
}

func (g *Gabor) backwardChunk(c chunk, x, gy, y *tensor.Tensor, tr *gaborTrace, grads []GaborLayer) {
	L := len(g.Layers)
	last := g.Layers[L-1]
	finalBackward(gy, tr.mix[L-1], y, g.cfg.Final, last.A, grads[L-1].A, c.blocks)
	gh := blockLinearBackward(tr.inputs[L-1], last.W, gy, grads[L-1].W, grads[L-1].B, c.blocks, true)

	for i := L - 2; i >= 0; i-- {
		l := g.Layers[i]
		resp := tr.filt[i]
		var gResp *tensor.Tensor
		if i == 0 {
			gResp = gh
		} else {
			// h_{i+1} = mix_i ⊙ resp_i
			gMix := tensor.New(gh.Shape...)
			gResp = tensor.New(gh.Shape...)
			mix := tr.mix[i]
			for k, v := range gh.Data {
				gMix.Data[k] = v * resp.Data[k]
				gResp.Data[k] = v * mix.Data[k]
			}
			gh = blockLinearBackward(tr.inputs[i], l.W, gMix, grads[i].W, grads[i].B, c.blocks, true)
		}
		g.filterBackward(l, grads[i], x, tr.phase[i], tr.dist[i], resp, gResp, c.blocks)
	}
}

// filterBackward accumulates the gradients of one Gabor filter layer given
// dL/dresp.
func (g *Gabor) filterBackward(l, gl GaborLayer, x, phase, dist, resp, gResp *tensor.Tensor, blocks []int) {
	cells, d := x.Shape[1], x.Shape[2]
	h := g.cfg.Hidden
	gPhase := tensor.New(phase.Shape...)
	for j, blk := range blocks {
		rate, mu := l.Rate.Block(blk), l.Center.Block(blk)
		gRate, gMu := gl.Rate.Block(blk), gl.Center.Block(blk)
		xr := x.Block(j)
		p, dd, r, gr, gp := phase.Block(j), dist.Block(j), resp.Block(j), gResp.Block(j), gPhase.Block(j)
		for cell := 0; cell < cells; cell++ {
			xc := xr[cell*d : (cell+1)*d]
			for u := 0; u < h; u++ {
				k := cell*h + u
				env := math.Exp(-0.5 * dd[k] * rate[u])
				gp[k] = gr[k] * math.Cos(p[k]) * env
				gRate[u] += gr[k] * r[k] * (-0.5 * dd[k])
				s := gr[k] * r[k] * rate[u]
				m := mu[u*d : (u+1)*d]
				gm := gMu[u*d : (u+1)*d]
				for q := range xc {
					gm[q] += s * (xc[q] - m[q])
				}
			}
		}
	}
	blockLinearBackward(x, l.FilterW, gPhase, gl.FilterW, gl.FilterB, blocks, false)
}
