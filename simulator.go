// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bodysim

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/bodysim/internal/gpu"
	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

// Grid is a dispatch grid in workgroups.
type Grid = bodycompute.Grid

// Task is one submitted step. See [TaskState] for its lifecycle.
type Task = gpu.StepTask

// TaskState is the lifecycle state of a Task.
type TaskState = gpu.TaskState

// Task states.
const (
	TaskSubmitted = gpu.TaskSubmitted
	TaskMapping   = gpu.TaskMapping
	TaskMapped    = gpu.TaskMapped
	TaskUnmapped  = gpu.TaskUnmapped
	TaskFailed    = gpu.TaskFailed
	TaskAbandoned = gpu.TaskAbandoned
)

// Simulator owns the compiled kernel and the device buffers for a fixed
// body count and byte budget. It runs one step at a time.
//
// The device is borrowed: Close releases the simulator's resources and
// leaves the device open.
type Simulator struct {
	device     Device
	state      *gpu.PipelineState
	dispatcher *gpu.Dispatcher
	count      int
	budget     int

	closeOnce sync.Once
}

// New builds a simulator for n bodies on dev.
//
// It compiles the kernel, allocates the input, output and staging buffers
// of the byte budget and sizes the dispatch grid for the budget capacity.
func New(dev Device, n int, opts ...Option) (*Simulator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.budget <= 0 {
		return nil, fmt.Errorf("%w: budget %d is not positive", ErrConfiguration, o.budget)
	}

	state, err := gpu.BuildPipeline(dev, gpu.PipelineConfig{
		KernelSource: o.kernelSource,
		EntryPoint:   o.entryPoint,
		BufferSize:   uint64(o.budget),
		Records:      n,
		Label:        o.label,
	})
	if err != nil {
		return nil, err
	}

	dispatcher, err := gpu.NewDispatcher(state, gpu.DispatchOptions{
		MapTimeout:                o.mapTimeout,
		MaxWorkgroupsPerDimension: o.maxWorkgroups,
	})
	if err != nil {
		state.Release()
		return nil, err
	}

	Logger().Debug("bodysim: simulator ready",
		"device", dev.Name(), "bodies", n, "budget", o.budget, "grid", dispatcher.Grid().String())
	return &Simulator{
		device:     dev,
		state:      state,
		dispatcher: dispatcher,
		count:      n,
		budget:     o.budget,
	}, nil
}

// Count returns the number of simulated bodies.
func (s *Simulator) Count() int { return s.count }

// Budget returns the byte size of the device buffers.
func (s *Simulator) Budget() int { return s.budget }

// Grid returns the dispatch grid.
func (s *Simulator) Grid() Grid { return s.dispatcher.Grid() }

// Device returns the device the simulator runs on.
func (s *Simulator) Device() Device { return s.device }

// Submit uploads bodies and submits one step without waiting for it.
// Drive the returned task with Poll or Wait.
func (s *Simulator) Submit(bodies *BodyBuffer) (*Task, error) {
	if err := s.check(bodies); err != nil {
		return nil, err
	}
	return s.dispatcher.Submit(bodies.Data)
}

// Step runs one step and returns the first Count bodies of the output.
//
// The kernel only writes positions, so radius and velocity of the returned
// bodies are zero. bodies is not modified; use Advance or
// [BodyBuffer.Apply] to continue from the result.
func (s *Simulator) Step(ctx context.Context, bodies *BodyBuffer) ([]Body, error) {
	if err := s.check(bodies); err != nil {
		return nil, err
	}
	return s.dispatcher.Step(ctx, bodies.Data)
}

// Advance runs one step and writes the new positions back into bodies.
func (s *Simulator) Advance(ctx context.Context, bodies *BodyBuffer) error {
	result, err := s.Step(ctx, bodies)
	if err != nil {
		return err
	}
	bodies.Apply(result)
	return nil
}

func (s *Simulator) check(bodies *BodyBuffer) error {
	switch {
	case bodies == nil:
		return fmt.Errorf("%w: body buffer is nil", ErrConfiguration)
	case bodies.Count != s.count:
		return fmt.Errorf("%w: buffer holds %d bodies, simulator was built for %d",
			ErrConfiguration, bodies.Count, s.count)
	case len(bodies.Data) != s.budget:
		return fmt.Errorf("%w: buffer is %d bytes, simulator budget is %d",
			ErrConfiguration, len(bodies.Data), s.budget)
	}
	return nil
}

// Close releases the pipeline and its buffers. A step still in flight
// fails with ErrMap. Close is idempotent.
func (s *Simulator) Close() {
	s.closeOnce.Do(s.state.Release)
}
