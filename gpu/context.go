//go:build gpu

package gpu

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	err      error
}

var ctx Context

// GetContext returns the shared context, initializing it on first use.
func GetContext() (*Context, error) {
	ctx.once.Do(func() { ctx.err = ctx.init() })
	if ctx.err != nil {
		return nil, ctx.err
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("webgpu device or queue not initialized")
	}
	return &ctx, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("%w: failed to create webgpu instance", ErrNoGPU)
	}

	// Prefer a discrete NVIDIA part when one is enumerated.
	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		name := strings.ToLower(info.Name + " " + info.VendorName)
		if strings.Contains(name, "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			log.Printf("gpu: adapter request failed: %v", err)
		}
	}
	if c.Adapter == nil {
		return fmt.Errorf("%w: all adapter requests failed: %v", ErrNoGPU, err)
	}

	info := c.Adapter.GetInfo()
	log.Printf("gpu: using adapter %s (%s)", info.Name, info.VendorName)

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	c.Queue = c.Device.GetQueue()
	return nil
}
