package gpu

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

type fakeProgram struct{}

func (fakeProgram) Label() string      { return "fake" }
func (fakeProgram) EntryPoint() string { return "main" }

type fakeBindGroup struct{}

func (fakeBindGroup) Label() string { return "fake" }

func testLimits() Limits {
	return Limits{MaxBufferSize: 1 << 20, MaxWorkgroupsPerDimension: 8}
}

func TestCommandEncoder_StateMachine(t *testing.T) {
	e := NewCommandEncoder("test", testLimits())
	if e.State() != EncoderStateRecording {
		t.Fatalf("State() = %v, want Recording", e.State())
	}

	pass, err := e.BeginComputePass("pass")
	if err != nil {
		t.Fatalf("BeginComputePass: %v", err)
	}
	if e.State() != EncoderStateLocked {
		t.Errorf("State() = %v, want Locked", e.State())
	}
	if _, err := e.BeginComputePass("second"); !errors.Is(err, ErrEncoderLocked) {
		t.Errorf("nested BeginComputePass error = %v, want ErrEncoderLocked", err)
	}
	if _, err := e.Finish(); !errors.Is(err, ErrEncoderLocked) {
		t.Errorf("Finish during pass error = %v, want ErrEncoderLocked", err)
	}

	if err := pass.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := pass.End(); err != nil {
		t.Errorf("second End = %v, want nil", err)
	}
	if pass.State() != ComputePassStateEnded {
		t.Errorf("pass State() = %v, want Ended", pass.State())
	}

	cmd, err := e.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(cmd.Commands) != 1 {
		t.Errorf("len(Commands) = %d, want 1", len(cmd.Commands))
	}
	if _, err := e.BeginComputePass("late"); !errors.Is(err, ErrEncoderFinished) {
		t.Errorf("BeginComputePass after Finish error = %v, want ErrEncoderFinished", err)
	}
}

func TestComputePassEncoder_Validation(t *testing.T) {
	tests := []struct {
		name string
		run  func(p *ComputePassEncoder) error
		want error
	}{
		{
			name: "dispatch without pipeline",
			run: func(p *ComputePassEncoder) error {
				return p.Dispatch(bodycompute.Grid{X: 1, Y: 1, Z: 1})
			},
			want: ErrNoPipelineBound,
		},
		{
			name: "nil pipeline",
			run:  func(p *ComputePassEncoder) error { return p.SetPipeline(nil) },
			want: ErrNilComputePipeline,
		},
		{
			name: "nil bind group",
			run:  func(p *ComputePassEncoder) error { return p.SetBindGroup(0, nil) },
			want: ErrNilComputeBindGroup,
		},
		{
			name: "bind group index out of range",
			run:  func(p *ComputePassEncoder) error { return p.SetBindGroup(maxBindGroups, fakeBindGroup{}) },
			want: ErrComputeBindGroupIndexOutOfRange,
		},
		{
			name: "grid over limit",
			run: func(p *ComputePassEncoder) error {
				if err := p.SetPipeline(fakeProgram{}); err != nil {
					return err
				}
				return p.Dispatch(bodycompute.Grid{X: 9, Y: 1, Z: 1})
			},
			want: ErrWorkgroupCountExceedsLimit,
		},
		{
			name: "ended pass",
			run: func(p *ComputePassEncoder) error {
				_ = p.End()
				return p.SetPipeline(fakeProgram{})
			},
			want: ErrComputePassEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewCommandEncoder("test", testLimits())
			p, err := e.BeginComputePass("pass")
			if err != nil {
				t.Fatalf("BeginComputePass: %v", err)
			}
			if err := tt.run(p); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestComputePassEncoder_Records(t *testing.T) {
	e := NewCommandEncoder("test", testLimits())
	p, _ := e.BeginComputePass("pass")
	_ = p.SetPipeline(fakeProgram{})
	_ = p.SetBindGroup(0, fakeBindGroup{})
	_ = p.Dispatch(bodycompute.Grid{X: 8, Y: 8, Z: 8})
	_ = p.Dispatch(bodycompute.Grid{})
	if got := p.DispatchCount(); got != 2 {
		t.Errorf("DispatchCount() = %d, want 2", got)
	}
	_ = p.End()
	cmd, _ := e.Finish()

	ops := cmd.Commands[0].Pass
	want := []PassOpKind{PassOpSetPipeline, PassOpSetBindGroup, PassOpDispatch, PassOpDispatch}
	if len(ops) != len(want) {
		t.Fatalf("recorded %d ops, want %d", len(ops), len(want))
	}
	for i, k := range want {
		if ops[i].Kind != k {
			t.Errorf("op %d = %v, want %v", i, ops[i].Kind, k)
		}
	}
	if cmd.Dispatches() != 2 {
		t.Errorf("Dispatches() = %d, want 2", cmd.Dispatches())
	}
}

func TestCommandEncoder_CopyBufferToBuffer(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1})
	defer dev.Destroy()

	mk := func(label string, usage gputypes.BufferUsage) *Buffer {
		t.Helper()
		b, err := CreateBuffer(dev, &BufferDescriptor{Label: label, Size: 64, Usage: usage})
		if err != nil {
			t.Fatalf("CreateBuffer(%s): %v", label, err)
		}
		return b
	}
	src := mk("src", gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	dst := mk("dst", gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	plain := mk("plain", gputypes.BufferUsageStorage)
	defer src.Destroy()
	defer dst.Destroy()
	defer plain.Destroy()

	tests := []struct {
		name     string
		src, dst *Buffer
		srcOff   uint64
		dstOff   uint64
		size     uint64
		want     error
	}{
		{"full range", src, dst, 0, 0, 64, nil},
		{"source lacks CopySrc", plain, dst, 0, 0, 64, ErrCopyUsage},
		{"destination lacks CopyDst", src, plain, 0, 0, 64, ErrCopyUsage},
		{"unaligned offset", src, dst, 2, 0, 4, ErrCopyOffsetNotAligned},
		{"unaligned size", src, dst, 0, 0, 6, ErrCopySizeNotAligned},
		{"source overrun", src, dst, 8, 0, 64, ErrCopyRangeOutOfBounds},
		{"destination overrun", src, dst, 0, 8, 64, ErrCopyRangeOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewCommandEncoder("copy", testLimits())
			err := e.CopyBufferToBuffer(tt.src, tt.srcOff, tt.dst, tt.dstOff, tt.size)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("CopyBufferToBuffer: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmit_TracksCopyDestination(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1, PendingPolls: 1})
	defer dev.Destroy()

	src, _ := CreateBuffer(dev, &BufferDescriptor{Label: "src", Size: 16, Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst})
	dst, _ := CreateStagingBuffer(dev, 16, "dst")
	defer src.Destroy()
	defer dst.Destroy()

	if err := src.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	e := NewCommandEncoder("copy", dev.Limits())
	if err := e.CopyBufferToBuffer(src, 0, dst, 0, 16); err != nil {
		t.Fatalf("CopyBufferToBuffer: %v", err)
	}
	cmd, _ := e.Finish()
	idx, err := Submit(dev, cmd)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if idx == 0 {
		t.Fatal("Submit returned index 0")
	}

	var status BufferMapAsyncStatus = -1
	if err := dst.MapAsync(gputypes.MapModeRead, 0, 16, func(s BufferMapAsyncStatus) { status = s }); err != nil {
		t.Fatalf("MapAsync: %v", err)
	}
	// One pending poll is configured, so the first non-blocking poll
	// must see the copy as still running.
	if dst.PollMapAsync(0) {
		t.Fatal("map completed before the submission")
	}
	if !dst.PollMapAsync(0) {
		t.Fatal("map still pending after the submission completed")
	}
	if status != BufferMapAsyncStatusSuccess {
		t.Fatalf("status = %v, want Success", status)
	}
	data, err := dst.GetMappedRange(0, 16)
	if err != nil {
		t.Fatalf("GetMappedRange: %v", err)
	}
	if data[0] != 1 || data[15] != 16 {
		t.Errorf("mapped data = %v", data)
	}
}
