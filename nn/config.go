package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fusheng-ji/MINER/grid"
	"github.com/fusheng-ji/MINER/tensor"
)

// Architectures recognized by Config.Arch.
const (
	ArchMLP   = "mlp"
	ArchGabor = "gabor"
)

// Config is the recognized option surface for one scale level.
type Config struct {
	Task     string `json:"task"`      // "image" or "mesh"
	Arch     string `json:"arch"`      // "mlp" or "gabor"
	Layers   int    `json:"n_layers"`  // total layers per block network
	Hidden   int    `json:"n_hidden"`  // hidden width
	FinalAct string `json:"final_act"` // "sigmoid" or "sin"
	Freqs    int    `json:"n_freq"`    // positional-encoding octaves, 0 disables encoding

	// Either give the block count directly or the domain and block shape it
	// follows from. When both are set they must agree.
	Blocks int   `json:"n_blocks"`
	Domain []int `json:"domain,omitempty"`
	Block  []int `json:"block,omitempty"`

	ChunkSize int `json:"b_chunks"`

	A           float64 `json:"a"`
	WeightScale float64 `json:"weight_scale"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`

	Seed uint64 `json:"seed"`
}

// DefaultConfig returns the defaults for a task name.
func DefaultConfig(task string) Config {
	return Config{
		Task:        task,
		Arch:        ArchMLP,
		Layers:      2,
		Hidden:      16,
		FinalAct:    "sigmoid",
		ChunkSize:   DefaultChunkSize,
		A:           0.1,
		WeightScale: 256,
		Alpha:       6,
		Beta:        1,
	}
}

// LoadConfig reads a JSON config file over the defaults of its task.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var probe struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg := DefaultConfig(probe.Task)
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Kind parses the task name.
func (c Config) Kind() (grid.Kind, error) { return grid.ParseKind(c.Task) }

// Final parses the terminal activation name.
func (c Config) Final() (FinalActivation, error) { return ParseFinalActivation(c.FinalAct) }

// HasTask reports whether a domain layout was given.
func (c Config) HasTask() bool { return len(c.Domain) > 0 || len(c.Block) > 0 }

// Layout builds the task record from Domain and Block.
func (c Config) Layout() (grid.Task, error) {
	kind, err := c.Kind()
	if err != nil {
		return grid.Task{}, err
	}
	return grid.NewTask(kind, c.Domain, c.Block)
}

// NumBlocks resolves the block count.
func (c Config) NumBlocks() (int, error) {
	if !c.HasTask() {
		if c.Blocks <= 0 {
			return 0, fmt.Errorf("%w: n_blocks must be positive, got %d", tensor.ErrConfiguration, c.Blocks)
		}
		return c.Blocks, nil
	}
	task, err := c.Layout()
	if err != nil {
		return 0, err
	}
	if c.Blocks != 0 && c.Blocks != task.NumBlocks() {
		return 0, fmt.Errorf("%w: n_blocks %d but domain %v / block %v gives %d",
			tensor.ErrConfiguration, c.Blocks, c.Domain, c.Block, task.NumBlocks())
	}
	return task.NumBlocks(), nil
}

// Validate checks every option.
func (c Config) Validate() error {
	kind, err := c.Kind()
	if err != nil {
		return err
	}
	if _, err := c.Final(); err != nil {
		return err
	}
	arch := strings.ToLower(c.Arch)
	if arch != ArchMLP && arch != ArchGabor {
		return fmt.Errorf("%w: unknown arch %q", tensor.ErrConfiguration, c.Arch)
	}
	if c.Layers < 2 || c.Hidden <= 0 {
		return fmt.Errorf("%w: need n_layers >= 2 and n_hidden > 0, got %d and %d", tensor.ErrConfiguration, c.Layers, c.Hidden)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: b_chunks must be positive, got %d", tensor.ErrConfiguration, c.ChunkSize)
	}
	if c.Freqs < 0 {
		return fmt.Errorf("%w: n_freq must not be negative, got %d", tensor.ErrConfiguration, c.Freqs)
	}
	if c.A <= 0 {
		return fmt.Errorf("%w: a must be positive, got %v", tensor.ErrConfiguration, c.A)
	}
	if arch == ArchGabor && (c.WeightScale <= 0 || c.Alpha <= 0 || c.Beta <= 0) {
		return fmt.Errorf("%w: weight_scale, alpha and beta must be positive", tensor.ErrConfiguration)
	}
	if c.HasTask() && len(c.Domain) != kind.Dims() {
		return fmt.Errorf("%w: %s task needs %d domain axes", tensor.ErrConfiguration, kind, kind.Dims())
	}
	_, err = c.NumBlocks()
	return err
}

// ChunkSizeForBudget estimates how many blocks fit in budget bytes of
// intermediates when each block has cells samples, clamped to [1, blocks].
func (c Config) ChunkSizeForBudget(budget uint64, cells int) (int, error) {
	blocks, err := c.NumBlocks()
	if err != nil {
		return 0, err
	}
	kind, err := c.Kind()
	if err != nil {
		return 0, err
	}
	in := kind.Dims()
	if c.Freqs > 0 && strings.ToLower(c.Arch) == ArchMLP {
		in = 2 * c.Freqs * encoderDirections(kind)
	}
	// input, two live hidden activations, output
	width := in + 2*c.Hidden + kind.Channels()
	if strings.ToLower(c.Arch) == ArchGabor {
		// phase, distance and filter response of the current layer
		width += 3 * c.Hidden
	}
	perBlock := uint64(cells*width) * 8
	if perBlock == 0 {
		return blocks, nil
	}
	n := int(budget / perBlock)
	if n < 1 {
		n = 1
	}
	if n > blocks {
		n = blocks
	}
	return n, nil
}

func encoderDirections(kind grid.Kind) int {
	if kind == grid.KindMesh {
		return len(icosahedral) / 3
	}
	return 2
}
