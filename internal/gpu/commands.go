package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

// Command recording errors.
var (
	// ErrEncoderLocked is returned when operations are called on an encoder
	// that is locked (a pass is in progress).
	ErrEncoderLocked = errors.New("gpu: encoder is locked (pass in progress)")

	// ErrEncoderFinished is returned when operations are called on an encoder
	// that has already been finished.
	ErrEncoderFinished = errors.New("gpu: encoder already finished")

	// ErrComputePassEnded is returned when operations are called on an ended compute pass.
	ErrComputePassEnded = errors.New("gpu: compute pass has already ended")

	// ErrNilComputePipeline is returned when SetPipeline is called with nil.
	ErrNilComputePipeline = errors.New("gpu: compute pipeline is nil")

	// ErrNilComputeBindGroup is returned when SetBindGroup is called with nil.
	ErrNilComputeBindGroup = errors.New("gpu: bind group is nil")

	// ErrComputeBindGroupIndexOutOfRange is returned when bind group index exceeds maximum.
	ErrComputeBindGroupIndexOutOfRange = errors.New("gpu: bind group index exceeds maximum (3)")

	// ErrNoPipelineBound is returned when Dispatch is called before SetPipeline.
	ErrNoPipelineBound = errors.New("gpu: dispatch without a bound pipeline")

	// ErrWorkgroupCountExceedsLimit is returned when a grid dimension exceeds device limits.
	ErrWorkgroupCountExceedsLimit = errors.New("gpu: workgroup count exceeds device limit")

	// ErrCopyRangeOutOfBounds is returned when a copy operation exceeds buffer bounds.
	ErrCopyRangeOutOfBounds = errors.New("gpu: copy range out of bounds")

	// ErrCopyUsage is returned when a copy source or destination lacks the
	// matching usage flag.
	ErrCopyUsage = errors.New("gpu: buffer usage does not allow copy")

	// ErrCopyOffsetNotAligned is returned when offset is not properly aligned.
	ErrCopyOffsetNotAligned = errors.New("gpu: copy offset must be 4-byte aligned")

	// ErrCopySizeNotAligned is returned when size is not properly aligned.
	ErrCopySizeNotAligned = errors.New("gpu: copy size must be 4-byte aligned")
)

// maxBindGroups is the WebGPU default for maxBindGroups.
const maxBindGroups = 4

// PassOpKind identifies a compute pass operation.
type PassOpKind int

const (
	PassOpSetPipeline PassOpKind = iota
	PassOpSetBindGroup
	PassOpDispatch
)

func (k PassOpKind) String() string {
	switch k {
	case PassOpSetPipeline:
		return "SetPipeline"
	case PassOpSetBindGroup:
		return "SetBindGroup"
	case PassOpDispatch:
		return "Dispatch"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// PassOp is one recorded compute pass operation. Only the fields that
// belong to Kind are set.
type PassOp struct {
	Kind      PassOpKind
	Program   Program
	Index     uint32
	BindGroup BindGroup
	Grid      bodycompute.Grid
}

// BufferCopy is a recorded CopyBufferToBuffer.
type BufferCopy struct {
	Src, Dst             *Buffer
	SrcOffset, DstOffset uint64
	Size                 uint64
}

// Command is one top-level entry of a command buffer: either a compute
// pass (Pass != nil) or a buffer copy (Copy != nil).
type Command struct {
	Label string
	Pass  []PassOp
	Copy  *BufferCopy
}

// CommandBuffer is a finished, device-agnostic recording. Devices replay it
// in order on Submit.
type CommandBuffer struct {
	Label    string
	Commands []Command
}

// Dispatches returns the number of dispatch operations in the buffer.
func (c *CommandBuffer) Dispatches() int {
	n := 0
	for _, cmd := range c.Commands {
		for _, op := range cmd.Pass {
			if op.Kind == PassOpDispatch {
				n++
			}
		}
	}
	return n
}

// EncoderState is the state of a CommandEncoder.
type EncoderState int

const (
	EncoderStateRecording EncoderState = iota
	EncoderStateLocked
	EncoderStateFinished
)

func (s EncoderState) String() string {
	switch s {
	case EncoderStateRecording:
		return "Recording"
	case EncoderStateLocked:
		return "Locked"
	case EncoderStateFinished:
		return "Finished"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// CommandEncoder records commands for one submission.
//
// State machine:
//
//	Recording -> BeginComputePass -> Locked
//	Locked    -> pass.End()       -> Recording
//	Recording -> Finish()         -> Finished
//
// CommandEncoder is NOT safe for concurrent use.
type CommandEncoder struct {
	label  string
	limits Limits
	state  EncoderState
	active *ComputePassEncoder
	buffer CommandBuffer
}

// NewCommandEncoder creates an encoder that validates against limits.
func NewCommandEncoder(label string, limits Limits) *CommandEncoder {
	return &CommandEncoder{
		label:  label,
		limits: limits,
		buffer: CommandBuffer{Label: label},
	}
}

// State returns the current encoder state.
func (e *CommandEncoder) State() EncoderState {
	return e.state
}

func (e *CommandEncoder) checkRecording() error {
	switch e.state {
	case EncoderStateRecording:
		return nil
	case EncoderStateLocked:
		return ErrEncoderLocked
	default:
		return ErrEncoderFinished
	}
}

// BeginComputePass starts a compute pass and locks the encoder until the
// pass ends.
func (e *CommandEncoder) BeginComputePass(label string) (*ComputePassEncoder, error) {
	if err := e.checkRecording(); err != nil {
		return nil, fmt.Errorf("begin compute pass: %w", err)
	}
	p := &ComputePassEncoder{encoder: e, label: label}
	e.active = p
	e.state = EncoderStateLocked
	return p, nil
}

func (e *CommandEncoder) endComputePass(p *ComputePassEncoder) error {
	if e.active != p {
		return fmt.Errorf("end compute pass: wrong pass being ended")
	}
	e.active = nil
	e.state = EncoderStateRecording
	e.buffer.Commands = append(e.buffer.Commands, Command{Label: p.label, Pass: p.ops})
	return nil
}

// CopyBufferToBuffer records a copy of size bytes from src to dst.
//
// Offsets and size must be 4-byte aligned and both ranges must be in
// bounds. dst must have CopyDst usage and src CopySrc usage.
func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) error {
	if err := e.checkRecording(); err != nil {
		return fmt.Errorf("copy buffer to buffer: %w", err)
	}
	if src == nil || dst == nil || src.IsDestroyed() || dst.IsDestroyed() {
		return fmt.Errorf("copy buffer to buffer: %w", ErrBufferDestroyed)
	}
	if !src.Usage().Contains(gputypes.BufferUsageCopySrc) {
		return fmt.Errorf("%w: source %q lacks CopySrc usage", ErrCopyUsage, src.Label())
	}
	if !dst.Usage().Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("%w: destination %q lacks CopyDst usage", ErrCopyUsage, dst.Label())
	}

	const alignment uint64 = 4
	if srcOffset%alignment != 0 {
		return fmt.Errorf("%w: source offset %d", ErrCopyOffsetNotAligned, srcOffset)
	}
	if dstOffset%alignment != 0 {
		return fmt.Errorf("%w: destination offset %d", ErrCopyOffsetNotAligned, dstOffset)
	}
	if size%alignment != 0 {
		return fmt.Errorf("%w: size %d", ErrCopySizeNotAligned, size)
	}
	if srcOffset+size > src.Size() {
		return fmt.Errorf("%w: source %q [%d, %d) of %d", ErrCopyRangeOutOfBounds, src.Label(), srcOffset, srcOffset+size, src.Size())
	}
	if dstOffset+size > dst.Size() {
		return fmt.Errorf("%w: destination %q [%d, %d) of %d", ErrCopyRangeOutOfBounds, dst.Label(), dstOffset, dstOffset+size, dst.Size())
	}

	e.buffer.Commands = append(e.buffer.Commands, Command{
		Label: src.Label() + "->" + dst.Label(),
		Copy:  &BufferCopy{Src: src, Dst: dst, SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
	return nil
}

// Finish completes recording and returns the command buffer.
func (e *CommandEncoder) Finish() (*CommandBuffer, error) {
	if err := e.checkRecording(); err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	e.state = EncoderStateFinished
	cmd := e.buffer
	return &cmd, nil
}

// ComputePassState represents the state of a compute pass encoder.
type ComputePassState int

const (
	// ComputePassStateRecording means the pass is actively recording commands.
	ComputePassStateRecording ComputePassState = iota

	// ComputePassStateEnded means the pass has been ended.
	ComputePassStateEnded
)

// String returns the string representation of ComputePassState.
func (s ComputePassState) String() string {
	switch s {
	case ComputePassStateRecording:
		return "Recording"
	case ComputePassStateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ComputePassEncoder records compute commands within a compute pass.
//
// State Machine:
//
//	Recording -> End() -> Ended
type ComputePassEncoder struct {
	encoder  *CommandEncoder
	label    string
	state    ComputePassState
	pipeline Program
	ops      []PassOp
}

// State returns the current pass state.
func (p *ComputePassEncoder) State() ComputePassState {
	return p.state
}

func (p *ComputePassEncoder) checkRecording() error {
	if p.state != ComputePassStateRecording {
		return ErrComputePassEnded
	}
	return nil
}

// SetPipeline binds the program used by subsequent dispatches.
func (p *ComputePassEncoder) SetPipeline(program Program) error {
	if err := p.checkRecording(); err != nil {
		return fmt.Errorf("set pipeline: %w", err)
	}
	if program == nil {
		return ErrNilComputePipeline
	}
	p.pipeline = program
	p.ops = append(p.ops, PassOp{Kind: PassOpSetPipeline, Program: program})
	return nil
}

// SetBindGroup binds bg at group index.
func (p *ComputePassEncoder) SetBindGroup(index uint32, bg BindGroup) error {
	if err := p.checkRecording(); err != nil {
		return fmt.Errorf("set bind group: %w", err)
	}
	if index >= maxBindGroups {
		return fmt.Errorf("%w: index %d", ErrComputeBindGroupIndexOutOfRange, index)
	}
	if bg == nil {
		return ErrNilComputeBindGroup
	}
	p.ops = append(p.ops, PassOp{Kind: PassOpSetBindGroup, Index: index, BindGroup: bg})
	return nil
}

// Dispatch records a dispatch of grid workgroups. An empty grid is
// recorded as a no-op.
func (p *ComputePassEncoder) Dispatch(grid bodycompute.Grid) error {
	if err := p.checkRecording(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if p.pipeline == nil {
		return ErrNoPipelineBound
	}
	if limit := p.encoder.limits.MaxWorkgroupsPerDimension; limit != 0 &&
		(grid.X > limit || grid.Y > limit || grid.Z > limit) {
		return fmt.Errorf("%w: %v with limit %d", ErrWorkgroupCountExceedsLimit, grid, limit)
	}
	p.ops = append(p.ops, PassOp{Kind: PassOpDispatch, Grid: grid})
	return nil
}

// End completes the pass and unlocks the parent encoder. End is idempotent.
func (p *ComputePassEncoder) End() error {
	if p.state == ComputePassStateEnded {
		return nil
	}
	p.state = ComputePassStateEnded
	return p.encoder.endComputePass(p)
}

// DispatchCount returns the number of dispatch calls made during this pass.
func (p *ComputePassEncoder) DispatchCount() int {
	n := 0
	for _, op := range p.ops {
		if op.Kind == PassOpDispatch {
			n++
		}
	}
	return n
}

// Submit hands cmd to device and marks every copy destination as written
// by the returned submission.
func Submit(device Device, cmd *CommandBuffer) (SubmissionIndex, error) {
	idx, err := device.Submit(cmd)
	if err != nil {
		return 0, err
	}
	for _, c := range cmd.Commands {
		if c.Copy != nil {
			c.Copy.Dst.trackSubmission(idx)
		}
	}
	return idx, nil
}
