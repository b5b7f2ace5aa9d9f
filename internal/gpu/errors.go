package gpu

import "errors"

// Error classes. Every error returned by the pipeline wraps exactly one of
// these together with the underlying cause.
var (
	// ErrConfiguration is returned when a body count, buffer budget, grid
	// or upload does not fit the pipeline.
	ErrConfiguration = errors.New("gpu: invalid configuration")

	// ErrPipelineBuild is returned when the kernel is rejected or a device
	// resource cannot be created.
	ErrPipelineBuild = errors.New("gpu: pipeline build failed")

	// ErrSubmission is returned when the device rejects a command buffer.
	ErrSubmission = errors.New("gpu: command submission failed")

	// ErrMap is returned when the staging buffer cannot be mapped, the map
	// times out, or the step is abandoned before the map completes.
	ErrMap = errors.New("gpu: staging buffer map failed")
)

// Causes.
var (
	// ErrNilDevice is returned when a nil device is supplied.
	ErrNilDevice = errors.New("gpu: device is nil")

	// ErrDeviceLost is returned by a device that can no longer execute work.
	ErrDeviceLost = errors.New("gpu: device lost")

	// ErrForeignResource is returned when a resource created by one device
	// is handed to another.
	ErrForeignResource = errors.New("gpu: resource belongs to a different device")

	// ErrPipelineBusy is returned when a step is submitted while another
	// step on the same pipeline state is still in flight.
	ErrPipelineBusy = errors.New("gpu: pipeline has a step in flight")

	// ErrPipelineReleased is returned when a released pipeline state is used.
	ErrPipelineReleased = errors.New("gpu: pipeline state released")

	// ErrStepAbandoned is the cause recorded when a step is abandoned.
	ErrStepAbandoned = errors.New("gpu: step abandoned before readback")

	// ErrMapTimeout is the cause recorded when a map does not complete in time.
	ErrMapTimeout = errors.New("gpu: staging map timed out")
)
