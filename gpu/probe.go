//go:build gpu

package gpu

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// Probe queries the default high-performance adapter and returns its limits
// along with the memory budget for chunk intermediates.
func Probe() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("%w: wgpu.CreateInstance returned nil", ErrNoGPU)
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request adapter: %v", ErrNoGPU, err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter", ErrNoGPU)
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	rep := &Report{
		WhenISO:                     time.Now().UTC().Format(time.RFC3339),
		Backend:                     info.BackendType.String(),
		AdapterType:                 info.AdapterType.String(),
		VendorID:                    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:                    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:                        strings.TrimSpace(info.Name),
		Driver:                      strings.TrimSpace(info.DriverDescription),
		MaxBufferSize:               limits.Limits.MaxBufferSize,
		MaxStorageBufferBindingSize: limits.Limits.MaxStorageBufferBindingSize,
	}
	rep.BudgetBytes = clampBudget(BudgetFromEnv(), rep.MaxBufferSize)
	return rep, nil
}
