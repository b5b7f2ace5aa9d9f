//go:build !wgpunative

package bodysim

import "fmt"

// OpenNative opens a device through the wgpu-native bindings. This build
// does not include them; rebuild with -tags wgpunative.
func OpenNative() (Device, error) {
	return nil, fmt.Errorf("%w: built without the wgpunative tag", ErrBackendUnavailable)
}
