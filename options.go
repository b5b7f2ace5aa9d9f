package bodysim

import "time"

// Option configures a Simulator during creation.
// Use functional options to customize the pipeline and dispatch.
//
// Example:
//
//	// Default kernel and a 128 MiB budget
//	sim, err := bodysim.New(dev, 1000)
//
//	// Smaller buffers and a custom kernel
//	sim, err := bodysim.New(dev, 1000,
//	    bodysim.WithBudget(1<<20),
//	    bodysim.WithKernelSource(src))
type Option func(*options)

// options holds optional configuration for Simulator creation.
type options struct {
	budget        int
	kernelSource  string
	entryPoint    string
	label         string
	mapTimeout    time.Duration
	maxWorkgroups uint32
}

// defaultOptions returns the default simulator options.
func defaultOptions() options {
	return options{
		budget: DefaultBudget,
		// Empty kernel, entry point and label select the bundled defaults.
	}
}

// WithBudget sets the byte size of the device buffers. It must match the
// size of the BodyBuffer passed to Step.
func WithBudget(bytes int) Option {
	return func(o *options) {
		o.budget = bytes
	}
}

// WithKernelSource replaces the bundled WGSL kernel.
//
// The kernel must declare a read-only storage array of 24-byte records at
// binding 0 and a read-write one at binding 1, both in group 0.
func WithKernelSource(src string) Option {
	return func(o *options) {
		o.kernelSource = src
	}
}

// WithEntryPoint sets the kernel entry point (default "main").
func WithEntryPoint(name string) Option {
	return func(o *options) {
		o.entryPoint = name
	}
}

// WithLabel sets the debug label prefix of the device resources.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithMapTimeout bounds how long Step waits for the readback.
func WithMapTimeout(d time.Duration) Option {
	return func(o *options) {
		o.mapTimeout = d
	}
}

// WithMaxWorkgroupsPerDimension caps each dimension of the dispatch grid
// below the device limit. Grid shapes never change results.
func WithMaxWorkgroupsPerDimension(n uint32) Option {
	return func(o *options) {
		o.maxWorkgroups = n
	}
}
