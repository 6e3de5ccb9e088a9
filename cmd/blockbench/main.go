// Command blockbench fits a block ensemble to a synthetic signal and times the
// chunked forward pass at several chunk sizes.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/fusheng-ji/MINER/gpu"
	"github.com/fusheng-ji/MINER/grid"
	"github.com/fusheng-ji/MINER/nn"
	"github.com/fusheng-ji/MINER/tensor"
)

func main() {
	configPath := flag.String("config", "", "JSON config (default: 64x64 image, 8x8 blocks)")
	device := flag.String("device", "host", "where chunk outputs are held: host or gpu")
	chunkList := flag.String("chunks", "1,4,16,64", "comma-separated chunk sizes to time")
	steps := flag.Int("steps", 50, "gradient steps on the trainable ensemble")
	lr := flag.Float64("lr", 0.05, "step size")
	freeze := flag.Float64("freeze", 1e-4, "freeze blocks whose mirror MSE falls below this")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	task, err := layout(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	coords, target, err := synthetic(task)
	if err != nil {
		log.Fatalf("signal: %v", err)
	}

	pair, err := nn.NewPair(cfg)
	if err != nil {
		log.Fatalf("pair: %v", err)
	}
	if *device == "gpu" {
		dev, err := gpu.NewDevice()
		if err != nil {
			log.Fatalf("gpu device: %v", err)
		}
		pair.SetDevice(dev)
		if rep, err := gpu.Probe(); err == nil {
			n, _ := cfg.ChunkSizeForBudget(rep.BudgetBytes, task.CellsPerBlock())
			log.Printf("gpu %s: budget %d bytes allows %d blocks per chunk", rep.Name, rep.BudgetBytes, n)
		}
	}
	log.Printf("%s %s: %d blocks of %v, %d layers x %d hidden", cfg.Task, cfg.Arch, task.NumBlocks(), task.Block, cfg.Layers, cfg.Hidden)

	sizes, err := parseChunks(*chunkList)
	if err != nil {
		log.Fatalf("chunks: %v", err)
	}
	if err := benchChunks(pair, coords, sizes); err != nil {
		log.Fatalf("bench: %v", err)
	}
	if err := pair.SetChunkSize(cfg.ChunkSize); err != nil {
		log.Fatalf("chunk size: %v", err)
	}

	for step := 0; step < *steps; step++ {
		idx := grid.ActiveIndices(pair.Mask())
		if len(idx) == 0 {
			log.Printf("step %d: every block frozen", step)
			break
		}
		loss, grads, err := pair.Gradients(coords.Gather(idx), target.Gather(idx))
		if err != nil {
			log.Fatalf("step %d: %v", step, err)
		}
		norm := 0.0
		for i, p := range pair.Trainable().Params() {
			floats.AddScaled(p.Data, -*lr, grads[i].Data)
			norm += math.Pow(floats.Norm(grads[i].Data, 2), 2)
		}
		if err := pair.Sync(); err != nil {
			log.Fatalf("sync: %v", err)
		}
		frozen, err := freezeConverged(pair, coords, target, *freeze)
		if err != nil {
			log.Fatalf("freeze: %v", err)
		}
		if step%10 == 0 || step == *steps-1 {
			log.Printf("step %d: loss %.6f (%.2f dB) grad norm %.4g, %d active, %d frozen this step",
				step, loss, nn.PSNR(loss), math.Sqrt(norm), pair.ActiveCount(), frozen)
		}
	}

	pred, err := pair.Forward(coords, true)
	if err != nil {
		log.Fatalf("mirror forward: %v", err)
	}
	if err := tensor.CheckFinite(pred); err != nil {
		log.Fatalf("mirror output: %v", err)
	}
	mse, _ := nn.MSE(pred, target)
	log.Printf("mirror: mse %.6f, psnr %.2f dB after %d syncs", mse, nn.PSNR(mse), pair.Version())
	if task.Kind == grid.KindMesh {
		iou, _ := nn.IoU(pred, target, 0.5)
		log.Printf("mirror: occupancy iou %.4f", iou)
	}
}

func loadConfig(path string) (nn.Config, error) {
	if path != "" {
		return nn.LoadConfig(path)
	}
	cfg := nn.DefaultConfig("image")
	cfg.Domain = []int{64, 64}
	cfg.Block = []int{8, 8}
	cfg.Layers = 3
	cfg.Hidden = 16
	cfg.Freqs = 2
	cfg.A = 0.3
	cfg.ChunkSize = 16
	return cfg, cfg.Validate()
}

// layout resolves the domain tiling. A config that only counts blocks cannot
// be rendered, so domain and block are required here.
func layout(cfg nn.Config) (grid.Task, error) {
	if !cfg.HasTask() {
		return grid.Task{}, fmt.Errorf("%w: blockbench needs \"domain\" and \"block\"; n_blocks alone cannot be rendered",
			tensor.ErrConfiguration)
	}
	return cfg.Layout()
}

// synthetic renders a smooth image or a sphere occupancy volume over the
// task's domain and returns block-local coordinates with the partitioned
// signal.
func synthetic(task grid.Task) (coords, target *tensor.Tensor, err error) {
	full, err := grid.Coordinates(task.Domain...)
	if err != nil {
		return nil, nil, err
	}
	d, ch := task.Dims(), task.Channels
	cells := full.Shape[1]
	shape := append(append([]int(nil), task.Domain...), ch)
	signal := tensor.New(shape...)
	for c := 0; c < cells; c++ {
		p := full.Data[c*d : (c+1)*d]
		out := signal.Data[c*ch : (c+1)*ch]
		if task.Kind == grid.KindMesh {
			if floats.Norm(p, 2) < 0.6 {
				out[0] = 1
			}
			continue
		}
		for k := range out {
			out[k] = 0.5 + 0.5*math.Sin(math.Pi*float64(k+1)*p[0])*math.Cos(math.Pi*p[1])
		}
	}
	if target, err = task.Partition(signal); err != nil {
		return nil, nil, err
	}
	if coords, err = task.Coordinates(); err != nil {
		return nil, nil, err
	}
	return coords, target, nil
}

func parseChunks(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// benchChunks times the mirror forward at each size and checks the outputs
// agree.
func benchChunks(pair *nn.Pair, coords *tensor.Tensor, sizes []int) error {
	var ref *tensor.Tensor
	for _, n := range sizes {
		if err := pair.SetChunkSize(n); err != nil {
			return err
		}
		start := time.Now()
		y, err := pair.Forward(coords, true)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		if ref == nil {
			ref = y
			log.Printf("chunk %d: %v", n, elapsed)
			continue
		}
		dev := 0.0
		for i, v := range y.Data {
			dev = math.Max(dev, math.Abs(v-ref.Data[i]))
		}
		log.Printf("chunk %d: %v, max deviation %.3g", n, elapsed, dev)
	}
	return nil
}

// freezeConverged deactivates blocks whose mirror error is below threshold.
func freezeConverged(pair *nn.Pair, coords, target *tensor.Tensor, threshold float64) (int, error) {
	pred, err := pair.Forward(coords, true)
	if err != nil {
		return 0, err
	}
	per, err := nn.BlockMSE(pred, target)
	if err != nil {
		return 0, err
	}
	mask := pair.Mask()
	n := 0
	for k, e := range per {
		if mask[k] && e < threshold {
			mask[k] = false
			n++
		}
	}
	return n, pair.SetMask(mask)
}
