//go:build gpu

package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/fusheng-ji/MINER/nn"
	"github.com/fusheng-ji/MINER/tensor"
)

// readTimeout bounds how long mapping a staging buffer may take.
const readTimeout = 2 * time.Second

// Device parks chunk outputs in WebGPU storage buffers. Values are held as
// float32, so a fetched chunk carries single-precision rounding.
type Device struct {
	ctx  *Context
	name string
}

// NewDevice initializes the shared context and returns a device bound to it.
func NewDevice() (nn.Device, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	info := c.Adapter.GetInfo()
	return &Device{ctx: c, name: "webgpu:" + info.Name}, nil
}

func (d *Device) Name() string { return d.name }

// Put uploads t into a new storage buffer. Empty chunks get no buffer.
func (d *Device) Put(t *tensor.Tensor) (nn.Resident, error) {
	p := pack(t)
	r := &resident{dev: d, shape: p.shape, size: len(p.data)}
	if r.size == 0 {
		return r, nil
	}
	buf, err := d.ctx.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    fmt.Sprintf("chunk%v", p.shape),
		Contents: wgpu.ToBytes(p.data),
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("upload chunk %v (%d bytes): %w", p.shape, p.bytes(), err)
	}
	r.buf = buf
	return r, nil
}

// readback copies size floats out of buf through a mappable staging buffer.
func (d *Device) readback(buf *wgpu.Buffer, size int) ([]float32, error) {
	n := uint64(size) * 4
	staging, err := d.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "chunk-staging",
		Size:  n,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Destroy()

	enc, err := d.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(buf, 0, staging, 0, n)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("finish copy: %w", err)
	}
	d.ctx.Queue.Submit(cmd)

	done := make(chan error, 1)
	err = staging.MapAsync(wgpu.MapModeRead, 0, n, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("map staging buffer: status %v", status)
			return
		}
		done <- nil
	})
	if err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}

	deadline := time.Now().Add(readTimeout)
	for {
		d.ctx.Device.Poll(false, nil)
		select {
		case err := <-done:
			if err != nil {
				return nil, err
			}
			out := make([]float32, size)
			copy(out, wgpu.FromBytes[float32](staging.GetMappedRange(0, uint(n))))
			staging.Unmap()
			return out, nil
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("readback of %d values timed out after %v", size, readTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

type resident struct {
	dev   *Device
	buf   *wgpu.Buffer
	shape []int
	size  int
}

func (r *resident) Fetch() (*tensor.Tensor, error) {
	if r.size == 0 {
		return tensor.New(r.shape...), nil
	}
	if r.buf == nil {
		return nil, fmt.Errorf("fetch chunk %v: buffer already released", r.shape)
	}
	data, err := r.dev.readback(r.buf, r.size)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %v: %w", r.shape, err)
	}
	return unpack(data, r.shape)
}

func (r *resident) Release() {
	if r.buf != nil {
		r.buf.Destroy()
		r.buf = nil
	}
}
