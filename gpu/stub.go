//go:build !gpu

package gpu

import "github.com/fusheng-ji/MINER/nn"

// NewDevice is unavailable without the gpu build tag.
func NewDevice() (nn.Device, error) { return nil, ErrNoGPU }

// Probe is unavailable without the gpu build tag.
func Probe() (*Report, error) { return nil, ErrNoGPU }
