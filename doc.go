// Package bodysim runs one GPU-accelerated particle simulation step.
//
// # Overview
//
// A population of circular bodies is initialized with random positions and
// velocities, uploaded to device memory, advanced by one fixed Euler step in
// a WGSL compute kernel, and read back to host memory.
//
// # Quick Start
//
//	import "github.com/gogpu/bodysim"
//
//	bodies, err := bodysim.Initialize(1000, 800, 600, bodysim.WithSeed(42))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dev := bodysim.SoftwareDevice()
//	defer dev.Destroy()
//
//	sim, err := bodysim.New(dev, bodies.Count)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sim.Close()
//
//	result, err := sim.Step(ctx, bodies)
//
// Step leaves bodies untouched; Advance writes the new positions back so
// the next step continues from them.
//
// # Memory Layout
//
// Each body is a 24-byte record of six little-endian f32 values:
// radius, padding, position.xy, velocity.xy. A [BodyBuffer] always spans the
// full byte budget (128 MiB by default); only its first Count records are
// simulated.
//
// # Dispatch
//
// The kernel runs with @workgroup_size(64) over a 3-D grid sized for the
// buffer capacity. Every invocation computes a linear index from its global
// id and returns early when the index is past the bound output array, which
// holds exactly Count records. The step completes when the staging buffer
// has been mapped, copied out and unmapped.
//
// # Devices
//
// The device is an injected capability. [SoftwareDevice] runs the reference
// kernel on the host; [OpenVulkan] opens a standalone gogpu/wgpu device;
// [SharedDevice] adopts one from a gpucontext.DeviceProvider.
//
// # Errors
//
// Errors wrap one of [ErrConfiguration], [ErrPipelineBuild], [ErrSubmission]
// or [ErrMap] together with the cause. Nothing is retried.
package bodysim

// Version is the current version of the library.
const Version = "0.1.0"
