package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

// TaskState is the lifecycle state of a StepTask.
//
//	Submitted -> Mapping -> Mapped -> Unmapped
//
// Failed and Abandoned are terminal as well. Mapped is transient: the
// mapped bytes are copied out and the staging buffer unmapped in the same
// Poll that observes the map.
type TaskState int

const (
	// TaskSubmitted means the commands are queued and no map is requested.
	TaskSubmitted TaskState = iota
	// TaskMapping means a staging map is pending.
	TaskMapping
	// TaskMapped means the staging buffer is readable by the host.
	TaskMapped
	// TaskUnmapped means the result was copied out and the staging buffer
	// released. This is the success state.
	TaskUnmapped
	// TaskFailed means the map was rejected.
	TaskFailed
	// TaskAbandoned means the step was cancelled before its map completed.
	TaskAbandoned
)

// String returns the string representation of TaskState.
func (s TaskState) String() string {
	switch s {
	case TaskSubmitted:
		return "Submitted"
	case TaskMapping:
		return "Mapping"
	case TaskMapped:
		return "Mapped"
	case TaskUnmapped:
		return "Unmapped"
	case TaskFailed:
		return "Failed"
	case TaskAbandoned:
		return "Abandoned"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Done reports whether s is terminal.
func (s TaskState) Done() bool {
	return s == TaskUnmapped || s == TaskFailed || s == TaskAbandoned
}

// StepTask is one submitted step. It is driven by Poll or Wait and is safe
// for concurrent use.
type StepTask struct {
	id         uuid.UUID
	dispatcher *Dispatcher
	submission SubmissionIndex
	started    time.Time
	log        *slog.Logger

	// mapStatus receives the staging map callback status. The callback may
	// fire from Release on another goroutine, so it never takes mu.
	mapStatus chan BufferMapAsyncStatus

	mu     sync.Mutex
	state  TaskState
	result []Body
	data   []byte
	err    error
}

// ID returns the step id used in log records.
func (t *StepTask) ID() uuid.UUID { return t.id }

// Submission returns the device submission index, or 0 for an empty step.
func (t *StepTask) Submission() SubmissionIndex { return t.submission }

// State returns the current state.
func (t *StepTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Result returns the decoded bodies, or the error of a failed or abandoned
// step. Before the task is done both are nil.
func (t *StepTask) Result() ([]Body, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Data returns the host copy of the whole staging buffer after success.
func (t *StepTask) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

// Poll advances the task without blocking and reports whether it is done.
func (t *StepTask) Poll() bool {
	return t.poll(0)
}

func (t *StepTask) poll(timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Done() {
		return true
	}
	staging := t.dispatcher.state.staging
	size := t.dispatcher.state.config.BufferSize

	if t.state == TaskSubmitted {
		err := staging.MapAsync(gputypes.MapModeRead, 0, size, func(status BufferMapAsyncStatus) {
			select {
			case t.mapStatus <- status:
			default:
			}
		})
		if err != nil {
			t.failLocked(TaskFailed, fmt.Errorf("%w: map staging: %w", ErrMap, err))
			return true
		}
		t.state = TaskMapping
		t.log.Debug("gpu: staging map requested")
	}

	if !staging.PollMapAsync(timeout) {
		return false
	}

	var status BufferMapAsyncStatus
	select {
	case status = <-t.mapStatus:
	default:
		status = BufferMapAsyncStatusUnknown
	}
	if status != BufferMapAsyncStatusSuccess {
		cause := staging.MapError()
		switch {
		case status == BufferMapAsyncStatusDestroyedBeforeCallback:
			cause = ErrPipelineReleased
		case cause == nil:
			cause = fmt.Errorf("map status %s", status)
		}
		t.failLocked(TaskFailed, fmt.Errorf("%w: %s: %w", ErrMap, status, cause))
		return true
	}

	t.state = TaskMapped
	t.readbackLocked(staging, size)
	return true
}

// readbackLocked copies the mapped range into host memory, unmaps and
// decodes the first N records.
func (t *StepTask) readbackLocked(staging *Buffer, size uint64) {
	defer func() {
		if err := staging.Unmap(); err != nil {
			t.log.Warn("gpu: staging unmap failed", "error", err)
		}
	}()

	mapped, err := staging.GetMappedRange(0, size)
	if err != nil {
		t.failLocked(TaskFailed, fmt.Errorf("%w: mapped range: %w", ErrMap, err))
		return
	}
	data := make([]byte, len(mapped))
	copy(data, mapped)

	n := t.dispatcher.state.config.Records
	t.completeLocked(data, bodycompute.LoadBodies(data, n))
	t.log.Debug("gpu: step completed", "records", n, "elapsed", time.Since(t.started))
}

// Wait polls until the task is done, ctx is cancelled, or the map timeout
// expires. Cancellation and timeout abandon the step.
func (t *StepTask) Wait(ctx context.Context) ([]Body, error) {
	opts := t.dispatcher.opts
	deadline := t.started.Add(opts.MapTimeout)
	for {
		if t.poll(opts.PollInterval) {
			return t.Result()
		}
		if err := ctx.Err(); err != nil {
			t.abandon(err)
			return t.Result()
		}
		if time.Now().After(deadline) {
			t.abandon(fmt.Errorf("%w after %s", ErrMapTimeout, opts.MapTimeout))
			return t.Result()
		}
	}
}

// Abandon cancels a pending step. The staging buffer is unmapped and no
// result is decoded. Abandoning a finished task is a no-op.
func (t *StepTask) Abandon() {
	t.abandon(ErrStepAbandoned)
}

func (t *StepTask) abandon(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Done() {
		return
	}
	if t.state == TaskMapping {
		if err := t.dispatcher.state.staging.Unmap(); err != nil && !errReleased(err) {
			t.log.Warn("gpu: unmap of abandoned step failed", "error", err)
		}
	}
	t.log.Warn("gpu: step abandoned", "state", t.state.String(), "cause", cause)
	t.failLocked(TaskAbandoned, fmt.Errorf("%w: %w", ErrMap, cause))
}

func (t *StepTask) complete(data []byte, result []Body) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completeLocked(data, result)
}

func (t *StepTask) completeLocked(data []byte, result []Body) {
	t.state = TaskUnmapped
	t.data = data
	t.result = result
	t.err = nil
	t.dispatcher.state.releaseStep()
}

func (t *StepTask) failLocked(state TaskState, err error) {
	t.state = state
	t.result = nil
	t.data = nil
	t.err = err
	t.dispatcher.state.releaseStep()
	if state == TaskFailed {
		t.log.Debug("gpu: step failed", "error", err)
	}
}
