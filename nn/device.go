package nn

import "github.com/fusheng-ji/MINER/tensor"

// Device is where finished chunk outputs live until the forward pass
// concatenates them. A forward pass with EmitToHost fetches each chunk back as
// soon as it completes, so at most one chunk is ever resident on the device.
type Device interface {
	Name() string
	Put(t *tensor.Tensor) (Resident, error)
}

// Resident is a chunk output held by a Device.
type Resident interface {
	// Fetch copies the chunk back into host memory.
	Fetch() (*tensor.Tensor, error)
	// Release frees the device copy. Fetch must not be called afterwards.
	Release()
}

// HostDevice keeps chunk outputs in ordinary Go memory.
type HostDevice struct{}

func (HostDevice) Name() string { return "host" }

func (HostDevice) Put(t *tensor.Tensor) (Resident, error) {
	return &hostResident{t: t}, nil
}

type hostResident struct{ t *tensor.Tensor }

func (r *hostResident) Fetch() (*tensor.Tensor, error) { return r.t, nil }
func (r *hostResident) Release()                       { r.t = nil }
