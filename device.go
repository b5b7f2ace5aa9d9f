package bodysim

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/bodysim/internal/gpu"
)

// Device is a compute capability the simulator runs on.
type Device = gpu.Device

// Limits are the device capabilities checked when a Simulator is built.
type Limits = gpu.Limits

// SoftwareOptions configures a host device.
type SoftwareOptions = gpu.SoftwareOptions

// HostDevice runs the reference kernel on the host. It can stall, resume
// and lose itself, which makes it the device of choice for tests.
type HostDevice = gpu.SoftwareDevice

// ErrBackendUnavailable is returned when a backend is not compiled in or
// finds no adapter.
var ErrBackendUnavailable = errors.New("bodysim: backend unavailable")

// SoftwareDevice creates a host device. At most one SoftwareOptions value
// is used.
func SoftwareDevice(opts ...SoftwareOptions) *HostDevice {
	var o SoftwareOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	return gpu.NewSoftwareDevice(o)
}

// OpenVulkan opens a standalone Vulkan device through gogpu/wgpu.
// Destroy releases the device and its instance.
func OpenVulkan() (Device, error) {
	d, err := gpu.OpenStandalone()
	if err != nil {
		return nil, fmt.Errorf("%w: vulkan: %w", ErrBackendUnavailable, err)
	}
	return d, nil
}

// SharedDevice adopts the device of a gpucontext.DeviceProvider, such as a
// gogpu window. The provider must also expose HalDevice() and HalQueue().
// The device stays owned by the provider; Destroy on the returned Device
// only waits for and frees the simulator's own submissions.
func SharedDevice(provider gpucontext.DeviceProvider) (Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is nil", ErrConfiguration)
	}
	d, err := gpu.FromProvider("shared", provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return d, nil
}
