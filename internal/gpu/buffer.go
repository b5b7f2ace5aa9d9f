package gpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
)

// Buffer errors.
var (
	// ErrBufferDestroyed is returned when operating on a destroyed buffer.
	ErrBufferDestroyed = errors.New("gpu: buffer has been destroyed")

	// ErrInvalidBufferSize is returned when buffer size is invalid.
	ErrInvalidBufferSize = errors.New("gpu: invalid buffer size")

	// ErrBufferAlreadyMapped is returned when attempting to map an already mapped buffer.
	ErrBufferAlreadyMapped = errors.New("gpu: buffer is already mapped or mapping is pending")

	// ErrBufferNotMapped is returned when attempting to access unmapped buffer data.
	ErrBufferNotMapped = errors.New("gpu: buffer is not mapped")

	// ErrBufferMapPending is returned when accessing a buffer with pending map operation.
	ErrBufferMapPending = errors.New("gpu: buffer mapping is pending")

	// ErrInvalidMapMode is returned when mapping with an invalid mode.
	ErrInvalidMapMode = errors.New("gpu: invalid map mode")

	// ErrInvalidMapRange is returned when the map range is out of bounds.
	ErrInvalidMapRange = errors.New("gpu: map range out of bounds")

	// ErrMapUsageMismatch is returned when mapping mode doesn't match buffer usage.
	ErrMapUsageMismatch = errors.New("gpu: map mode does not match buffer usage flags")

	// ErrCallbackNil is returned when MapAsync is called with nil callback.
	ErrCallbackNil = errors.New("gpu: map callback is nil")
)

// BufferMapState represents the mapping state of a buffer.
type BufferMapState int

const (
	// BufferMapStateUnmapped means the buffer is not mapped.
	BufferMapStateUnmapped BufferMapState = iota
	// BufferMapStatePending means a map operation is pending.
	BufferMapStatePending
	// BufferMapStateMapped means the buffer is mapped.
	BufferMapStateMapped
)

// String returns the string representation of BufferMapState.
func (s BufferMapState) String() string {
	switch s {
	case BufferMapStateUnmapped:
		return "Unmapped"
	case BufferMapStatePending:
		return "Pending"
	case BufferMapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// BufferMapAsyncStatus represents the result of an async map operation.
type BufferMapAsyncStatus int

const (
	// BufferMapAsyncStatusSuccess indicates mapping completed successfully.
	BufferMapAsyncStatusSuccess BufferMapAsyncStatus = iota
	// BufferMapAsyncStatusValidationError indicates a validation error.
	BufferMapAsyncStatusValidationError
	// BufferMapAsyncStatusUnknown indicates an unknown error.
	BufferMapAsyncStatusUnknown
	// BufferMapAsyncStatusDeviceLost indicates the device was lost.
	BufferMapAsyncStatusDeviceLost
	// BufferMapAsyncStatusDestroyedBeforeCallback indicates buffer was destroyed.
	BufferMapAsyncStatusDestroyedBeforeCallback
	// BufferMapAsyncStatusUnmappedBeforeCallback indicates buffer was unmapped.
	BufferMapAsyncStatusUnmappedBeforeCallback
	// BufferMapAsyncStatusMappingAlreadyPending indicates another map is pending.
	BufferMapAsyncStatusMappingAlreadyPending
	// BufferMapAsyncStatusOffsetOutOfRange indicates offset is out of range.
	BufferMapAsyncStatusOffsetOutOfRange
	// BufferMapAsyncStatusSizeOutOfRange indicates size is out of range.
	BufferMapAsyncStatusSizeOutOfRange
)

// String returns the string representation of BufferMapAsyncStatus.
func (s BufferMapAsyncStatus) String() string {
	switch s {
	case BufferMapAsyncStatusSuccess:
		return "Success"
	case BufferMapAsyncStatusValidationError:
		return "ValidationError"
	case BufferMapAsyncStatusUnknown:
		return "Unknown"
	case BufferMapAsyncStatusDeviceLost:
		return "DeviceLost"
	case BufferMapAsyncStatusDestroyedBeforeCallback:
		return "DestroyedBeforeCallback"
	case BufferMapAsyncStatusUnmappedBeforeCallback:
		return "UnmappedBeforeCallback"
	case BufferMapAsyncStatusMappingAlreadyPending:
		return "MappingAlreadyPending"
	case BufferMapAsyncStatusOffsetOutOfRange:
		return "OffsetOutOfRange"
	case BufferMapAsyncStatusSizeOutOfRange:
		return "SizeOutOfRange"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Buffer is a device buffer with WebGPU mapping semantics.
//
// A map request completes only after every submission that wrote the
// buffer has finished on the device. Completion is driven by
// PollMapAsync, which polls the device and copies the mapped range into
// host memory owned by the buffer until Unmap.
//
// Thread Safety:
// Buffer is safe for concurrent access. The map callback is invoked
// without the buffer lock held, from the goroutine that polls.
//
// Lifecycle:
//  1. Create via CreateBuffer()
//  2. Use MapAsync() to initiate mapping
//  3. Poll with PollMapAsync() until complete
//  4. Access data with GetMappedRange()
//  5. Call Unmap() when done
//  6. Call Destroy() when the buffer is no longer needed
type Buffer struct {
	mu sync.RWMutex

	raw    RawBuffer
	device Device

	// descriptor holds the buffer configuration (immutable after creation).
	descriptor BufferDescriptor

	mapState  BufferMapState
	mapMode   gputypes.MapMode
	mapOffset uint64
	mapSize   uint64

	// mappedData holds the mapped bytes (only valid when mapped).
	mappedData []byte

	mapCallback func(BufferMapAsyncStatus)

	// mapErr is the cause of the last failed map, if any.
	mapErr error

	// submission is the last submission that writes this buffer.
	submission SubmissionIndex

	destroyed bool
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage gputypes.BufferUsage
}

// Label returns the buffer's debug label.
func (b *Buffer) Label() string {
	return b.descriptor.Label
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 {
	return b.descriptor.Size
}

// Usage returns the buffer usage flags.
func (b *Buffer) Usage() gputypes.BufferUsage {
	return b.descriptor.Usage
}

// MapState returns the current mapping state.
func (b *Buffer) MapState() BufferMapState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mapState
}

// MapError returns the cause of the most recent failed map, or nil.
func (b *Buffer) MapError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mapErr
}

// IsDestroyed returns true if the buffer has been destroyed.
func (b *Buffer) IsDestroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// Raw returns the device handle, or nil if the buffer has been destroyed.
func (b *Buffer) Raw() RawBuffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.destroyed {
		return nil
	}
	return b.raw
}

// Write uploads data at offset through the device queue.
func (b *Buffer) Write(offset uint64, data []byte) error {
	b.mu.RLock()
	destroyed, state, raw := b.destroyed, b.mapState, b.raw
	b.mu.RUnlock()
	if destroyed {
		return ErrBufferDestroyed
	}
	if state != BufferMapStateUnmapped {
		return ErrBufferAlreadyMapped
	}
	if offset+uint64(len(data)) > b.descriptor.Size {
		return fmt.Errorf("%w: write of %d bytes at %d exceeds buffer size %d",
			ErrInvalidBufferSize, len(data), offset, b.descriptor.Size)
	}
	return b.device.WriteBuffer(raw, offset, data)
}

// trackSubmission records that submission idx writes this buffer, so a
// later map waits for it.
func (b *Buffer) trackSubmission(idx SubmissionIndex) {
	b.mu.Lock()
	b.submission = idx
	b.mu.Unlock()
}

// MapAsync initiates an async map operation.
//
// After MapAsync returns successfully, the map state is Pending. Poll with
// PollMapAsync until the callback has been invoked.
//
// Returns an error if:
//   - The buffer has been destroyed
//   - The buffer is already mapped or mapping is pending
//   - The mode doesn't match buffer usage flags
//   - The range is out of bounds or misaligned
//   - The callback is nil
func (b *Buffer) MapAsync(mode gputypes.MapMode, offset, size uint64, callback func(BufferMapAsyncStatus)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return ErrBufferDestroyed
	}

	if b.mapState != BufferMapStateUnmapped {
		if callback != nil {
			callback(BufferMapAsyncStatusMappingAlreadyPending)
		}
		return ErrBufferAlreadyMapped
	}

	if callback == nil {
		return ErrCallbackNil
	}

	if mode == 0 {
		callback(BufferMapAsyncStatusValidationError)
		return ErrInvalidMapMode
	}

	if mode == gputypes.MapModeRead && !b.descriptor.Usage.Contains(gputypes.BufferUsageMapRead) {
		callback(BufferMapAsyncStatusValidationError)
		return fmt.Errorf("%w: buffer does not have MapRead usage", ErrMapUsageMismatch)
	}
	if mode == gputypes.MapModeWrite && !b.descriptor.Usage.Contains(gputypes.BufferUsageMapWrite) {
		callback(BufferMapAsyncStatusValidationError)
		return fmt.Errorf("%w: buffer does not have MapWrite usage", ErrMapUsageMismatch)
	}

	if offset > b.descriptor.Size {
		callback(BufferMapAsyncStatusOffsetOutOfRange)
		return fmt.Errorf("%w: offset %d > buffer size %d", ErrInvalidMapRange, offset, b.descriptor.Size)
	}
	if offset+size > b.descriptor.Size {
		callback(BufferMapAsyncStatusSizeOutOfRange)
		return fmt.Errorf("%w: offset %d + size %d > buffer size %d", ErrInvalidMapRange, offset, size, b.descriptor.Size)
	}

	// WebGPU requires 8-byte aligned map offsets; size may run to the end.
	const mapAlignment uint64 = 8
	if offset%mapAlignment != 0 {
		callback(BufferMapAsyncStatusValidationError)
		return fmt.Errorf("%w: offset %d must be %d-byte aligned", ErrInvalidMapRange, offset, mapAlignment)
	}
	if size%mapAlignment != 0 && size != b.descriptor.Size-offset {
		callback(BufferMapAsyncStatusValidationError)
		return fmt.Errorf("%w: size %d must be %d-byte aligned", ErrInvalidMapRange, size, mapAlignment)
	}

	b.mapState = BufferMapStatePending
	b.mapMode = mode
	b.mapOffset = offset
	b.mapSize = size
	b.mapCallback = callback
	b.mapErr = nil

	slogger().Debug("gpu: map requested",
		"buffer", b.descriptor.Label, "offset", offset, "size", size, "after", uint64(b.submission))
	return nil
}

// PollMapAsync drives a pending map, waiting up to timeout for the device
// to finish the submission that writes the buffer. A zero timeout never
// blocks.
//
// Returns true if mapping is complete (success or failure) and false if
// it is still pending. The MapAsync callback runs exactly once, from the
// call that completes the map.
func (b *Buffer) PollMapAsync(timeout time.Duration) bool {
	b.mu.Lock()
	if b.mapState != BufferMapStatePending {
		b.mu.Unlock()
		return true
	}
	device, raw, idx := b.device, b.raw, b.submission
	offset, size := b.mapOffset, b.mapSize
	b.mu.Unlock()

	var err error
	if idx != 0 {
		var ready bool
		ready, err = device.Poll(idx, timeout)
		if err == nil && !ready {
			return false
		}
	}

	var data []byte
	if err == nil {
		data = make([]byte, size)
		err = device.ReadBuffer(raw, offset, data)
	}

	b.mu.Lock()
	if b.mapState != BufferMapStatePending {
		// Unmapped or destroyed while the device was polled; that path
		// already reported to the callback.
		b.mu.Unlock()
		return true
	}
	callback := b.mapCallback
	b.mapCallback = nil
	status := BufferMapAsyncStatusSuccess
	if err != nil {
		b.mapState = BufferMapStateUnmapped
		b.mapErr = err
		status = BufferMapAsyncStatusUnknown
		if errors.Is(err, ErrDeviceLost) {
			status = BufferMapAsyncStatusDeviceLost
		}
	} else {
		b.mappedData = data
		b.mapState = BufferMapStateMapped
		b.submission = 0
	}
	b.mu.Unlock()

	if callback != nil {
		callback(status)
	}
	return true
}

// GetMappedRange returns the mapped data slice.
//
// The returned slice is only valid while the buffer is mapped.
// Do not use the slice after calling Unmap().
//
// Returns an error if:
//   - The buffer has been destroyed
//   - The buffer is not mapped
//   - The range is outside the mapped region
func (b *Buffer) GetMappedRange(offset, size uint64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, ErrBufferDestroyed
	}

	if b.mapState == BufferMapStatePending {
		return nil, ErrBufferMapPending
	}
	if b.mapState != BufferMapStateMapped {
		return nil, ErrBufferNotMapped
	}

	// offset and size are relative to the buffer, not the mapped region.
	if offset < b.mapOffset {
		return nil, fmt.Errorf("%w: offset %d is before mapped region start %d",
			ErrInvalidMapRange, offset, b.mapOffset)
	}
	if offset+size > b.mapOffset+b.mapSize {
		return nil, fmt.Errorf("%w: offset %d + size %d exceeds mapped region end %d",
			ErrInvalidMapRange, offset, size, b.mapOffset+b.mapSize)
	}

	rel := offset - b.mapOffset
	return b.mappedData[rel : rel+size], nil
}

// Unmap returns the buffer to the Unmapped state.
//
// A pending map is cancelled and its callback receives
// BufferMapAsyncStatusUnmappedBeforeCallback. Slices returned by
// GetMappedRange become invalid. Unmapping an unmapped buffer is a no-op.
func (b *Buffer) Unmap() error {
	b.mu.Lock()

	if b.destroyed {
		b.mu.Unlock()
		return ErrBufferDestroyed
	}

	if b.mapState == BufferMapStatePending {
		callback := b.mapCallback
		b.mapCallback = nil
		b.mapState = BufferMapStateUnmapped
		b.mappedData = nil
		b.mu.Unlock()
		if callback != nil {
			callback(BufferMapAsyncStatusUnmappedBeforeCallback)
		}
		return nil
	}

	b.mapState = BufferMapStateUnmapped
	b.mappedData = nil
	b.mapCallback = nil
	b.mu.Unlock()
	return nil
}

// Destroy releases the buffer. A pending map callback receives
// BufferMapAsyncStatusDestroyedBeforeCallback.
//
// This method is idempotent - calling it multiple times is safe.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	device, raw := b.device, b.raw
	callback := b.mapCallback
	wasMapping := b.mapState == BufferMapStatePending
	b.raw = nil
	b.mappedData = nil
	b.mapCallback = nil
	b.mapState = BufferMapStateUnmapped
	b.mu.Unlock()

	if wasMapping && callback != nil {
		callback(BufferMapAsyncStatusDestroyedBeforeCallback)
	}
	if device != nil && raw != nil {
		device.DestroyBuffer(raw)
	}
}

// CreateBuffer allocates a buffer on device.
//
// The size is rounded up to 4 bytes for copy operations.
func CreateBuffer(device Device, desc *BufferDescriptor) (*Buffer, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if desc == nil {
		return nil, fmt.Errorf("gpu: buffer descriptor is nil")
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: size is 0", ErrInvalidBufferSize)
	}
	if desc.Usage == 0 {
		return nil, fmt.Errorf("gpu: buffer %q usage is empty", desc.Label)
	}
	if limit := device.Limits().MaxBufferSize; limit != 0 && desc.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds device limit %d", ErrInvalidBufferSize, desc.Size, limit)
	}

	const copyBufferAlignment uint64 = 4
	resolved := *desc
	resolved.Size = (desc.Size + copyBufferAlignment - 1) &^ (copyBufferAlignment - 1)

	raw, err := device.CreateBuffer(&resolved)
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %q: %w", desc.Label, err)
	}
	slogger().Debug("gpu: buffer created", "label", resolved.Label, "size", resolved.Size)
	return &Buffer{
		raw:        raw,
		device:     device,
		descriptor: resolved,
		mapState:   BufferMapStateUnmapped,
	}, nil
}

// CreateStagingBuffer creates a readback buffer (MapRead | CopyDst).
func CreateStagingBuffer(device Device, size uint64, label string) (*Buffer, error) {
	return CreateBuffer(device, &BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
}
