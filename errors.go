package bodysim

import "github.com/gogpu/bodysim/internal/gpu"

// Error classes. Every error returned by bodysim wraps one of them.
var (
	// ErrConfiguration reports a body count, extent, budget or grid that
	// does not fit.
	ErrConfiguration = gpu.ErrConfiguration

	// ErrPipelineBuild reports a rejected kernel or a failed allocation.
	ErrPipelineBuild = gpu.ErrPipelineBuild

	// ErrSubmission reports a command submission the device refused.
	ErrSubmission = gpu.ErrSubmission

	// ErrMap reports a staging map that failed, timed out or was abandoned.
	ErrMap = gpu.ErrMap
)

// Causes wrapped by the error classes.
var (
	ErrDeviceLost       = gpu.ErrDeviceLost
	ErrPipelineBusy     = gpu.ErrPipelineBusy
	ErrPipelineReleased = gpu.ErrPipelineReleased
	ErrStepAbandoned    = gpu.ErrStepAbandoned
	ErrMapTimeout       = gpu.ErrMapTimeout
)
