// Package gpu runs the body simulation step on a compute device.
//
// The package is organised in three layers:
//
//   - Device: the compute capability the pipeline runs on. HALDevice drives
//     a gogpu/wgpu hal device (Vulkan standalone or a shared device from a
//     gpucontext provider), SoftwareDevice executes the registered host
//     kernels on a worker pool, and NativeDevice (build tag wgpunative)
//     drives wgpu-native through cogentcore/webgpu.
//   - Resources: Buffer wraps a device buffer with the WebGPU map state
//     machine (Unmapped, Pending, Mapped). CommandEncoder and
//     ComputePassEncoder record a device-agnostic CommandBuffer.
//   - Pipeline: BuildPipeline allocates the input, output and staging
//     buffers, compiles the kernel against a two-slot layout and binds the
//     live record range. Dispatcher drives one step through upload, record,
//     submit, map and readback. Every step is a StepTask with an explicit
//     state machine that can be polled, waited on, or abandoned.
//
// # Errors
//
// Failures are classified by four sentinels: ErrConfiguration,
// ErrPipelineBuild, ErrSubmission and ErrMap. Each returned error wraps
// the class and the underlying cause, so errors.Is matches both.
//
// # Logging
//
// The package logs through log/slog and is silent by default. The root
// bodysim package propagates its logger here via SetLogger.
package gpu
