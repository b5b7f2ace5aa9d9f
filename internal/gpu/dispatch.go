package gpu

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

// Default dispatch timings.
const (
	DefaultMapTimeout   = 10 * time.Second
	DefaultPollInterval = time.Millisecond
)

// DispatchOptions tunes a Dispatcher.
type DispatchOptions struct {
	// MapTimeout bounds how long Wait waits for the staging map
	// (0 = DefaultMapTimeout).
	MapTimeout time.Duration

	// PollInterval is how long each Wait iteration blocks on the device
	// (0 = DefaultPollInterval).
	PollInterval time.Duration

	// MaxWorkgroupsPerDimension caps each grid dimension. Zero or a value
	// above the device limit selects the device limit.
	MaxWorkgroupsPerDimension uint32
}

// Dispatcher runs simulation steps on a PipelineState.
//
// Each step uploads the host bodies, dispatches the kernel over a grid
// sized for the buffer capacity, copies the output into the staging
// buffer, and maps it back. Nothing is retried.
type Dispatcher struct {
	state *PipelineState
	opts  DispatchOptions
	grid  bodycompute.Grid
}

// NewDispatcher sizes the grid for state and returns a Dispatcher.
func NewDispatcher(state *PipelineState, opts DispatchOptions) (*Dispatcher, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: pipeline state is nil", ErrConfiguration)
	}
	if opts.MapTimeout <= 0 {
		opts.MapTimeout = DefaultMapTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	limit := state.device.Limits().MaxWorkgroupsPerDimension
	if limit == 0 {
		limit = bodycompute.MaxWorkgroupsPerDimension
	}
	if opts.MaxWorkgroupsPerDimension == 0 || opts.MaxWorkgroupsPerDimension > limit {
		opts.MaxWorkgroupsPerDimension = limit
	}

	grid, err := bodycompute.GridFor(state.Capacity(), opts.MaxWorkgroupsPerDimension)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return &Dispatcher{state: state, opts: opts, grid: grid}, nil
}

// Grid returns the dispatch grid.
func (d *Dispatcher) Grid() bodycompute.Grid { return d.grid }

// Options returns the resolved options.
func (d *Dispatcher) Options() DispatchOptions { return d.opts }

// Submit uploads host, records and submits one step, and returns its task
// in the Submitted state. host is the full body buffer; its first N
// records are simulated.
//
// With zero records nothing is uploaded or submitted and the returned
// task has already completed with an empty result.
func (d *Dispatcher) Submit(host []byte) (*StepTask, error) {
	s := d.state
	if err := s.acquire(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	t := newStepTask(d)

	if s.config.Records == 0 {
		t.complete(nil, []Body{})
		t.log.Debug("gpu: empty step completed without submission")
		return t, nil
	}

	if uint64(len(host)) > s.config.BufferSize {
		s.releaseStep()
		return nil, fmt.Errorf("%w: upload of %d bytes exceeds buffer size %d",
			ErrConfiguration, len(host), s.config.BufferSize)
	}
	if len(host) < s.config.Records*bodycompute.RecordStride {
		s.releaseStep()
		return nil, fmt.Errorf("%w: upload of %d bytes holds fewer than %d records",
			ErrConfiguration, len(host), s.config.Records)
	}

	if err := s.input.Write(0, host); err != nil {
		s.releaseStep()
		return nil, fmt.Errorf("%w: upload: %w", ErrSubmission, err)
	}

	cmd, err := d.record()
	if err != nil {
		s.releaseStep()
		return nil, fmt.Errorf("%w: record: %w", ErrSubmission, err)
	}

	idx, err := Submit(s.device, cmd)
	if err != nil {
		s.releaseStep()
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	t.submission = idx
	t.log.Debug("gpu: step submitted", "index", uint64(idx), "grid", d.grid.String(), "records", s.config.Records)
	return t, nil
}

// record encodes the compute pass and the output to staging copy.
func (d *Dispatcher) record() (*CommandBuffer, error) {
	s := d.state
	encoder := NewCommandEncoder(s.config.Label+"_step", Limits{
		MaxBufferSize:             s.device.Limits().MaxBufferSize,
		MaxWorkgroupsPerDimension: d.opts.MaxWorkgroupsPerDimension,
	})

	pass, err := encoder.BeginComputePass(s.config.Label + "_advance")
	if err != nil {
		return nil, err
	}
	if err := pass.SetPipeline(s.program); err != nil {
		return nil, err
	}
	if err := pass.SetBindGroup(0, s.bindGroup); err != nil {
		return nil, err
	}
	if err := pass.Dispatch(d.grid); err != nil {
		return nil, err
	}
	if err := pass.End(); err != nil {
		return nil, err
	}

	if err := encoder.CopyBufferToBuffer(s.output, 0, s.staging, 0, s.config.BufferSize); err != nil {
		return nil, err
	}
	return encoder.Finish()
}

// Step submits one step and waits for its result.
func (d *Dispatcher) Step(ctx context.Context, host []byte) ([]Body, error) {
	t, err := d.Submit(host)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// Body is the record type of the body kernel.
type Body = bodycompute.Body

func newStepTask(d *Dispatcher) *StepTask {
	id := uuid.New()
	return &StepTask{
		id:         id,
		dispatcher: d,
		state:      TaskSubmitted,
		started:    time.Now(),
		mapStatus:  make(chan BufferMapAsyncStatus, 1),
		log:        slogger().With("step", id.String()),
	}
}
