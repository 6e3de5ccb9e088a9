package nn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fusheng-ji/MINER/grid"
	"github.com/fusheng-ji/MINER/tensor"
)

func testEnsembles(t *testing.T, blocks int) map[string]Ensemble {
	t.Helper()
	m, err := NewMLP(MLPConfig{Blocks: blocks, In: 2, Out: 3, Layers: 3, Hidden: 6, Final: FinalSigmoid, A: 0.4}, NewSource(31))
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGabor(GaborConfig{Blocks: blocks, In: 2, Out: 3, Layers: 3, Hidden: 6,
		Final: FinalSine, A: 1, WeightScale: 32, Alpha: 6, Beta: 1}, NewSource(32))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Ensemble{"mlp": m, "gabor": g}
}

func TestChunkSizeDoesNotChangeOutput(t *testing.T) {
	const blocks = 7
	x := randomTensor(33, -1, 1, blocks, 5, 2)
	for name, e := range testEnsembles(t, blocks) {
		ref, err := e.Forward(x, ForwardOptions{ChunkSize: blocks})
		if err != nil {
			t.Fatal(err)
		}
		for _, size := range []int{1, 2, 3, 6, 100} {
			for _, emit := range []bool{false, true} {
				y, err := e.Forward(x, ForwardOptions{ChunkSize: size, EmitToHost: emit})
				if err != nil {
					t.Fatal(err)
				}
				assertClose(t, fmt.Sprintf("%s chunk=%d emit=%v", name, size, emit), y, ref, 1e-12)
			}
		}
	}
}

func TestActiveSubsetMatchesFullForward(t *testing.T) {
	const blocks = 6
	x := randomTensor(34, -1, 1, blocks, 4, 2)
	mask := []bool{false, true, true, false, true, false}
	sub, err := grid.SelectActive(x, mask)
	if err != nil {
		t.Fatal(err)
	}
	for name, e := range testEnsembles(t, blocks) {
		full, err := e.Forward(x, ForwardOptions{ChunkSize: 4})
		if err != nil {
			t.Fatal(err)
		}
		want := full.Gather(grid.ActiveIndices(mask))
		for _, size := range []int{1, 2, 5} {
			y, err := e.Forward(sub, ForwardOptions{ChunkSize: size, Active: mask})
			if err != nil {
				t.Fatal(err)
			}
			assertClose(t, fmt.Sprintf("%s chunk=%d", name, size), y, want, 1e-12)
		}
	}
}

func TestGradientsChunkInvariant(t *testing.T) {
	const blocks = 5
	x := randomTensor(35, -1, 1, blocks, 3, 2)
	target := randomTensor(36, 0, 1, blocks, 3, 3)
	for name, e := range testEnsembles(t, blocks) {
		refLoss, ref, err := e.Gradients(x, target, ForwardOptions{ChunkSize: blocks})
		if err != nil {
			t.Fatal(err)
		}
		loss, grads, err := e.Gradients(x, target, ForwardOptions{ChunkSize: 2})
		if err != nil {
			t.Fatal(err)
		}
		if diff := loss - refLoss; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("%s: loss %v vs %v", name, loss, refLoss)
		}
		for i := range ref {
			assertClose(t, fmt.Sprintf("%s grad %d", name, i), grads[i], ref[i], 1e-12)
		}
	}
}

func TestEmitToHostReleasesEachChunk(t *testing.T) {
	const blocks = 9
	x := randomTensor(37, -1, 1, blocks, 2, 2)
	for name, e := range testEnsembles(t, blocks) {
		dev := &countingDevice{}
		if _, err := e.Forward(x, ForwardOptions{ChunkSize: 2, EmitToHost: true, Device: dev}); err != nil {
			t.Fatal(err)
		}
		if dev.puts != 5 || dev.maxLive != 1 || dev.live != 0 {
			t.Errorf("%s emit: puts=%d maxLive=%d live=%d", name, dev.puts, dev.maxLive, dev.live)
		}

		dev = &countingDevice{}
		if _, err := e.Forward(x, ForwardOptions{ChunkSize: 2, Device: dev}); err != nil {
			t.Fatal(err)
		}
		if dev.puts != 5 || dev.maxLive != 5 || dev.live != 0 {
			t.Errorf("%s held: puts=%d maxLive=%d live=%d", name, dev.puts, dev.maxLive, dev.live)
		}
	}
}

func TestForwardShapeErrors(t *testing.T) {
	for name, e := range testEnsembles(t, 3) {
		cases := []struct {
			x    *tensor.Tensor
			opts ForwardOptions
			want error
		}{
			{tensor.New(3, 2, 2), ForwardOptions{ChunkSize: 0}, tensor.ErrConfiguration},
			{tensor.New(2, 2, 2), ForwardOptions{ChunkSize: 1}, tensor.ErrShapeMismatch},
			{tensor.New(3, 2, 3), ForwardOptions{ChunkSize: 1}, tensor.ErrShapeMismatch},
			{tensor.New(3, 2), ForwardOptions{ChunkSize: 1}, tensor.ErrShapeMismatch},
			{tensor.New(3, 2, 2), ForwardOptions{ChunkSize: 1, Active: []bool{true, true}}, tensor.ErrShapeMismatch},
			{tensor.New(3, 2, 2), ForwardOptions{ChunkSize: 1, Active: []bool{true, false, true}}, tensor.ErrShapeMismatch},
		}
		for i, c := range cases {
			if _, err := e.Forward(c.x, c.opts); !errors.Is(err, c.want) {
				t.Errorf("%s case %d: got %v, want %v", name, i, err, c.want)
			}
		}
		if _, _, err := e.Gradients(tensor.New(3, 2, 2), tensor.New(3, 2, 1), ForwardOptions{ChunkSize: 1}); !errors.Is(err, tensor.ErrShapeMismatch) {
			t.Errorf("%s target: got %v", name, err)
		}
	}
}

func TestEmptySelection(t *testing.T) {
	for name, e := range testEnsembles(t, 3) {
		y, err := e.Forward(tensor.New(0, 4, 2), ForwardOptions{ChunkSize: 2, Active: []bool{false, false, false}})
		if err != nil {
			t.Fatal(err)
		}
		if y.Size() != 0 || y.Shape[0] != 0 || y.Shape[2] != 3 {
			t.Errorf("%s: shape %v", name, y.Shape)
		}
	}
}

type failingDevice struct{ countingDevice }

func (d *failingDevice) Put(t *tensor.Tensor) (Resident, error) {
	if d.puts == 2 {
		return nil, errors.New("out of memory")
	}
	return d.countingDevice.Put(t)
}

func TestDeviceFailureReleasesHeldChunks(t *testing.T) {
	e := testEnsembles(t, 6)["mlp"]
	dev := &failingDevice{}
	_, err := e.Forward(randomTensor(38, -1, 1, 6, 2, 2), ForwardOptions{ChunkSize: 2, Device: dev})
	if err == nil {
		t.Fatal("expected an error")
	}
	if dev.live != 0 {
		t.Errorf("%d residents leaked", dev.live)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	for name, e := range testEnsembles(t, 2) {
		c := e.Clone()
		src, dst := e.Params(), c.Params()
		if len(src) != len(dst) {
			t.Fatalf("%s: %d vs %d params", name, len(src), len(dst))
		}
		for i := range src {
			if &src[i].Data[0] == &dst[i].Data[0] {
				t.Fatalf("%s: param %d shares storage", name, i)
			}
		}
		src[0].Data[0] += 1
		if dst[0].Data[0] == src[0].Data[0] {
			t.Errorf("%s: clone follows the original", name)
		}
	}
}

func TestReplacedParamShapeIsRejected(t *testing.T) {
	m, err := NewMLP(MLPConfig{Blocks: 4, In: 2, Out: 3, Layers: 2, Hidden: 8, Final: FinalSigmoid, A: 0.1}, NewSource(51))
	if err != nil {
		t.Fatal(err)
	}
	m.Layers[1].W = tensor.New(2, 8, 3)
	x := randomTensor(52, -1, 1, 4, 1, 2)
	if _, err := m.Forward(x, ForwardOptions{ChunkSize: 2}); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("mlp forward: got %v", err)
	}
	if _, _, err := m.Gradients(x, tensor.New(4, 1, 3), ForwardOptions{ChunkSize: 2}); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("mlp gradients: got %v", err)
	}

	m.Layers[1].W = tensor.New(4, 8, 3)
	m.Layers[0].A = nil
	if _, err := m.Forward(x, ForwardOptions{ChunkSize: 2}); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("mlp missing scale: got %v", err)
	}

	g, err := NewGabor(GaborConfig{Blocks: 4, In: 2, Out: 3, Layers: 3, Hidden: 5,
		Final: FinalSigmoid, WeightScale: 4, Alpha: 6, Beta: 1}, NewSource(53))
	if err != nil {
		t.Fatal(err)
	}
	cases := []func(c *Gabor){
		func(c *Gabor) { c.Layers[0].Center = tensor.New(4, 3, 2) },
		func(c *Gabor) { c.Layers[1].Rate = nil },
		func(c *Gabor) { c.Layers[2].B = tensor.New(1, 1, 3) },
		func(c *Gabor) { c.Layers = c.Layers[:2] },
	}
	for i, breakIt := range cases {
		c := g.Clone().(*Gabor)
		breakIt(c)
		if _, err := c.Forward(x, ForwardOptions{ChunkSize: 3}); !errors.Is(err, tensor.ErrShapeMismatch) {
			t.Errorf("gabor case %d forward: got %v", i, err)
		}
		if _, _, err := c.Gradients(x, tensor.New(4, 1, 3), ForwardOptions{ChunkSize: 3}); !errors.Is(err, tensor.ErrShapeMismatch) {
			t.Errorf("gabor case %d gradients: got %v", i, err)
		}
	}
	if _, err := g.Forward(x, ForwardOptions{ChunkSize: 3}); err != nil {
		t.Errorf("untouched gabor: %v", err)
	}
}
