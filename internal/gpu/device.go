package gpu

import (
	"time"

	"github.com/gogpu/gputypes"
)

// SubmissionIndex identifies one accepted Submit call. Zero means "nothing
// submitted".
type SubmissionIndex uint64

// Limits are the device capabilities the pipeline checks against.
type Limits struct {
	// MaxBufferSize is the largest buffer the device can allocate.
	MaxBufferSize uint64

	// MaxWorkgroupsPerDimension caps each dimension of a dispatch grid.
	MaxWorkgroupsPerDimension uint32
}

// Device is a compute capability: it owns buffers, compiled programs and
// bind groups, executes recorded command buffers, and reports completion.
//
// Resources returned by a Device are opaque handles and may only be passed
// back to the same Device.
type Device interface {
	// Name is a human readable adapter or backend name.
	Name() string

	// Limits reports the device capabilities.
	Limits() Limits

	CreateBuffer(desc *BufferDescriptor) (RawBuffer, error)
	DestroyBuffer(buf RawBuffer)

	// CreateProgram compiles a compute kernel against a binding layout.
	// Partially created objects are released on failure.
	CreateProgram(desc *ProgramDescriptor) (Program, error)
	DestroyProgram(p Program)

	CreateBindGroup(desc *BindGroupDescriptor) (BindGroup, error)
	DestroyBindGroup(bg BindGroup)

	// WriteBuffer copies data into buf at offset through the queue.
	WriteBuffer(buf RawBuffer, offset uint64, data []byte) error

	// Submit hands a finished command buffer to the queue.
	Submit(cmd *CommandBuffer) (SubmissionIndex, error)

	// Poll reports whether submission idx has completed, waiting up to
	// timeout. A zero timeout never blocks.
	Poll(idx SubmissionIndex, timeout time.Duration) (bool, error)

	// ReadBuffer copies len(dst) bytes of buf starting at offset into dst.
	// The buffer must be mappable for reading.
	ReadBuffer(buf RawBuffer, offset uint64, dst []byte) error

	// Destroy releases the device. Resources must be destroyed first.
	Destroy()
}

// RawBuffer is a device-owned buffer handle.
type RawBuffer interface {
	Label() string
	Size() uint64
}

// Program is a compiled compute kernel together with its layout.
type Program interface {
	Label() string
	EntryPoint() string
}

// BindGroup binds buffer ranges to the slots of a Program's layout.
type BindGroup interface {
	Label() string
}

// BindingSlot declares one storage buffer slot of a program layout.
type BindingSlot struct {
	Binding  uint32
	ReadOnly bool
}

// BindingType returns the WebGPU binding type of the slot.
func (s BindingSlot) BindingType() gputypes.BufferBindingType {
	if s.ReadOnly {
		return gputypes.BufferBindingTypeReadOnlyStorage
	}
	return gputypes.BufferBindingTypeStorage
}

// ProgramDescriptor describes a compute program to compile.
type ProgramDescriptor struct {
	Label      string
	Source     string // WGSL
	EntryPoint string
	Bindings   []BindingSlot
}

// BindGroupDescriptor binds buffers to the slots of Program.
type BindGroupDescriptor struct {
	Label   string
	Program Program
	Entries []BindGroupEntry
}

// BindGroupEntry binds [Offset, Offset+Size) of Buffer to slot Binding.
type BindGroupEntry struct {
	Binding uint32
	Buffer  RawBuffer
	Offset  uint64
	Size    uint64
}
