// Package gpu holds chunk outputs in WebGPU buffers. Builds without the gpu
// tag carry only the report types and return ErrNoGPU.
package gpu

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
)

// ErrNoGPU is returned by every entry point when no adapter is usable.
var ErrNoGPU = errors.New("gpu unavailable (build with -tags=gpu to enable)")

// BudgetEnv overrides the default memory budget, in MiB.
const BudgetEnv = "BLOCKNET_BUDGET_MB"

// DefaultBudget is the soft budget for chunk intermediates.
const DefaultBudget = uint64(128 * 1024 * 1024)

// Report is a portable summary of the adapter a device would run on.
type Report struct {
	WhenISO     string `json:"when_iso"`
	Backend     string `json:"backend"`
	AdapterType string `json:"adapter_type"`
	VendorID    string `json:"vendor_id_hex"`
	DeviceID    string `json:"device_id_hex"`
	Name        string `json:"name"`
	Driver      string `json:"driver"`

	MaxBufferSize               uint64 `json:"max_buffer_size"`
	MaxStorageBufferBindingSize uint64 `json:"max_storage_buffer_binding_size"`

	// BudgetBytes is the soft budget for chunk intermediates.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// JSON renders the report indented.
func (r *Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BudgetFromEnv returns the budget named by BLOCKNET_BUDGET_MB, or
// DefaultBudget when unset or invalid.
func BudgetFromEnv() uint64 {
	if s := os.Getenv(BudgetEnv); s != "" {
		if mb, err := strconv.Atoi(s); err == nil && mb > 0 {
			return uint64(mb) * 1024 * 1024
		}
	}
	return DefaultBudget
}

// clampBudget keeps the budget within a single buffer.
func clampBudget(budget, maxBuffer uint64) uint64 {
	if maxBuffer > 0 && budget > maxBuffer {
		return maxBuffer
	}
	return budget
}
