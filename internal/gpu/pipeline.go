package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

// PipelineConfig describes a body pipeline.
type PipelineConfig struct {
	// KernelSource is the WGSL source. Empty selects the bundled kernel.
	KernelSource string

	// EntryPoint is the compute entry point (default "main").
	EntryPoint string

	// BufferSize is the byte size of the input, output and staging buffers.
	BufferSize uint64

	// Records is the number of bodies the kernel binds (N).
	Records int

	// Label prefixes device object labels.
	Label string
}

func (c *PipelineConfig) defaults() {
	if c.KernelSource == "" {
		c.KernelSource = bodycompute.AdvanceBodiesWGSL
	}
	if c.EntryPoint == "" {
		c.EntryPoint = bodycompute.EntryPoint
	}
	if c.Label == "" {
		c.Label = "bodies"
	}
}

func (c *PipelineConfig) validate() error {
	if c.BufferSize == 0 {
		return fmt.Errorf("%w: buffer size is 0", ErrConfiguration)
	}
	if c.BufferSize%4 != 0 {
		return fmt.Errorf("%w: buffer size %d is not a multiple of 4", ErrConfiguration, c.BufferSize)
	}
	if c.Records < 0 {
		return fmt.Errorf("%w: negative record count %d", ErrConfiguration, c.Records)
	}
	if need := uint64(c.Records) * bodycompute.RecordStride; need > c.BufferSize {
		return fmt.Errorf("%w: %d records need %d bytes, buffer holds %d",
			ErrConfiguration, c.Records, need, c.BufferSize)
	}
	return nil
}

// PipelineState owns every device object of one body pipeline: the input,
// output and staging buffers, the compiled program and its bind group.
//
// A PipelineState is immutable once built. Changing the record count, the
// buffer size or the kernel requires a new one.
type PipelineState struct {
	device  Device
	config  PipelineConfig
	input   *Buffer
	output  *Buffer
	staging *Buffer
	program Program

	// bindGroup is nil when Records is 0.
	bindGroup BindGroup

	mu       sync.Mutex
	busy     bool
	released bool
}

// bodySlots is the binding layout of the body kernel.
var bodySlots = []BindingSlot{
	{Binding: 0, ReadOnly: true},
	{Binding: 1},
}

// BuildPipeline allocates the buffers, compiles the kernel and binds the
// first Records records of input and output to slots 0 and 1.
//
// On failure every object created so far is released and the error wraps
// ErrConfiguration or ErrPipelineBuild.
func BuildPipeline(device Device, cfg PipelineConfig) (*PipelineState, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, ErrNilDevice)
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if limit := device.Limits().MaxBufferSize; limit != 0 && cfg.BufferSize > limit {
		return nil, fmt.Errorf("%w: buffer size %d exceeds device limit %d", ErrConfiguration, cfg.BufferSize, limit)
	}

	s := &PipelineState{device: device, config: cfg}
	if err := s.build(); err != nil {
		s.destroy()
		return nil, fmt.Errorf("%w: %s: %w", ErrPipelineBuild, cfg.Label, err)
	}
	slogger().Info("gpu: pipeline built",
		"label", cfg.Label, "device", device.Name(), "records", cfg.Records, "buffer_size", cfg.BufferSize)
	return s, nil
}

func (s *PipelineState) build() error {
	var err error
	label := s.config.Label
	size := s.config.BufferSize

	s.input, err = CreateBuffer(s.device, &BufferDescriptor{
		Label: label + "_input",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	s.output, err = CreateBuffer(s.device, &BufferDescriptor{
		Label: label + "_output",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}
	s.staging, err = CreateStagingBuffer(s.device, size, label+"_staging")
	if err != nil {
		return err
	}

	s.program, err = s.device.CreateProgram(&ProgramDescriptor{
		Label:      label + "_advance",
		Source:     s.config.KernelSource,
		EntryPoint: s.config.EntryPoint,
		Bindings:   bodySlots,
	})
	if err != nil {
		return err
	}

	if s.config.Records == 0 {
		return nil
	}
	bindSize := uint64(s.config.Records) * bodycompute.RecordStride
	s.bindGroup, err = s.device.CreateBindGroup(&BindGroupDescriptor{
		Label:   label + "_bind_group",
		Program: s.program,
		Entries: []BindGroupEntry{
			{Binding: 0, Buffer: s.input.Raw(), Size: bindSize},
			{Binding: 1, Buffer: s.output.Raw(), Size: bindSize},
		},
	})
	return err
}

// destroy releases whatever has been created, in reverse order.
func (s *PipelineState) destroy() {
	if s.bindGroup != nil {
		s.device.DestroyBindGroup(s.bindGroup)
		s.bindGroup = nil
	}
	if s.program != nil {
		s.device.DestroyProgram(s.program)
		s.program = nil
	}
	for _, b := range []**Buffer{&s.staging, &s.output, &s.input} {
		if *b != nil {
			(*b).Destroy()
			*b = nil
		}
	}
}

// Release frees every device object. It is safe to call more than once.
// A release while a step is mapping cancels the map.
func (s *PipelineState) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	busy := s.busy
	s.mu.Unlock()

	if busy {
		slogger().Warn("gpu: pipeline released with a step in flight", "label", s.config.Label)
	}
	s.destroy()
	slogger().Debug("gpu: pipeline released", "label", s.config.Label)
}

// Config returns the configuration the state was built with.
func (s *PipelineState) Config() PipelineConfig { return s.config }

// Records returns N.
func (s *PipelineState) Records() int { return s.config.Records }

// Capacity returns the number of records the buffers hold.
func (s *PipelineState) Capacity() int { return bodycompute.Capacity(int(s.config.BufferSize)) }

// Device returns the device the state was built on.
func (s *PipelineState) Device() Device { return s.device }

// Staging returns the readback buffer.
func (s *PipelineState) Staging() *Buffer { return s.staging }

// acquire claims the state for one step.
func (s *PipelineState) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrPipelineReleased
	}
	if s.busy {
		return ErrPipelineBusy
	}
	s.busy = true
	return nil
}

func (s *PipelineState) releaseStep() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// errReleased reports whether err came from using released buffers.
func errReleased(err error) bool {
	return errors.Is(err, ErrBufferDestroyed) || errors.Is(err, ErrPipelineReleased)
}
