//go:build wgpunative

package bodysim

import (
	"fmt"

	"github.com/gogpu/bodysim/internal/gpu"
)

// OpenNative opens a device through the wgpu-native bindings.
func OpenNative() (Device, error) {
	d, err := gpu.NewNativeDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: native: %w", ErrBackendUnavailable, err)
	}
	return d, nil
}
