package gpu

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

func TestSoftwareDevice_Defaults(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{})
	defer dev.Destroy()

	if dev.Name() != "software" {
		t.Errorf("Name() = %q", dev.Name())
	}
	lim := dev.Limits()
	if lim.MaxWorkgroupsPerDimension != bodycompute.MaxWorkgroupsPerDimension {
		t.Errorf("MaxWorkgroupsPerDimension = %d, want %d", lim.MaxWorkgroupsPerDimension, bodycompute.MaxWorkgroupsPerDimension)
	}
	if lim.MaxBufferSize != uint64(gputypes.DefaultLimits().MaxBufferSize) {
		t.Errorf("MaxBufferSize = %d", lim.MaxBufferSize)
	}
}

func TestSoftwareDevice_CreateProgram(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1})
	defer dev.Destroy()

	tests := []struct {
		name     string
		source   string
		entry    string
		bindings []BindingSlot
		wantErr  string
	}{
		{
			name:     "bundled kernel",
			source:   bodycompute.AdvanceBodiesWGSL,
			entry:    bodycompute.EntryPoint,
			bindings: bodySlots,
		},
		{
			name:     "no compute stage",
			source:   "fn main() {}",
			entry:    "main",
			bindings: bodySlots,
			wantErr:  "no compute entry point",
		},
		{
			name:     "missing entry point",
			source:   bodycompute.AdvanceBodiesWGSL,
			entry:    "advance",
			bindings: bodySlots,
			wantErr:  "does not declare entry point",
		},
		{
			name:     "wrong slots",
			source:   bodycompute.AdvanceBodiesWGSL,
			entry:    bodycompute.EntryPoint,
			bindings: []BindingSlot{{Binding: 0}},
			wantErr:  "exactly slots 0 and 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := dev.CreateProgram(&ProgramDescriptor{
				Label:      "test",
				Source:     tt.source,
				EntryPoint: tt.entry,
				Bindings:   tt.bindings,
			})
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("CreateProgram: %v", err)
				}
				if p.EntryPoint() != tt.entry {
					t.Errorf("EntryPoint() = %q, want %q", p.EntryPoint(), tt.entry)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSoftwareDevice_UnregisteredKernel(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1, Kernels: map[string]bodycompute.Kernel{}})
	defer dev.Destroy()

	_, err := dev.CreateProgram(&ProgramDescriptor{
		Label:      "test",
		Source:     bodycompute.AdvanceBodiesWGSL,
		EntryPoint: bodycompute.EntryPoint,
		Bindings:   bodySlots,
	})
	if err == nil || !strings.Contains(err.Error(), "no host kernel") {
		t.Errorf("error = %v, want missing host kernel", err)
	}
}

func TestSoftwareDevice_StrictShadersRejectsGarbage(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1, StrictShaders: true})
	defer dev.Destroy()

	_, err := dev.CreateProgram(&ProgramDescriptor{
		Label:      "garbage",
		Source:     "@compute @workgroup_size(64) fn main( {",
		EntryPoint: "main",
		Bindings:   bodySlots,
	})
	if err == nil {
		t.Fatal("strict device accepted malformed WGSL")
	}
}

func TestSoftwareDevice_CreateBindGroup(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1})
	defer dev.Destroy()

	prog, err := dev.CreateProgram(&ProgramDescriptor{
		Label:      "test",
		Source:     bodycompute.AdvanceBodiesWGSL,
		EntryPoint: bodycompute.EntryPoint,
		Bindings:   bodySlots,
	})
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}
	storage, _ := dev.CreateBuffer(&BufferDescriptor{Label: "storage", Size: 96, Usage: gputypes.BufferUsageStorage})
	staging, _ := dev.CreateBuffer(&BufferDescriptor{Label: "staging", Size: 96, Usage: gputypes.BufferUsageMapRead})

	tests := []struct {
		name    string
		entries []BindGroupEntry
		ok      bool
	}{
		{"valid", []BindGroupEntry{{Binding: 0, Buffer: storage, Size: 48}, {Binding: 1, Buffer: storage, Offset: 48, Size: 48}}, true},
		{"missing slot", []BindGroupEntry{{Binding: 0, Buffer: storage, Size: 48}}, false},
		{"zero size", []BindGroupEntry{{Binding: 0, Buffer: storage}, {Binding: 1, Buffer: storage, Size: 48}}, false},
		{"overrun", []BindGroupEntry{{Binding: 0, Buffer: storage, Size: 48}, {Binding: 1, Buffer: storage, Offset: 64, Size: 48}}, false},
		{"no storage usage", []BindGroupEntry{{Binding: 0, Buffer: staging, Size: 48}, {Binding: 1, Buffer: storage, Size: 48}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dev.CreateBindGroup(&BindGroupDescriptor{Label: tt.name, Program: prog, Entries: tt.entries})
			if (err == nil) != tt.ok {
				t.Errorf("CreateBindGroup error = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	dev.DestroyBuffer(storage)
	dev.DestroyBuffer(staging)
	if dev.LiveBuffers() != 0 {
		t.Errorf("LiveBuffers() = %d, want 0", dev.LiveBuffers())
	}
}

func TestSoftwareDevice_UsageChecks(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1})
	defer dev.Destroy()

	storage, _ := dev.CreateBuffer(&BufferDescriptor{Label: "storage", Size: 16, Usage: gputypes.BufferUsageStorage})
	defer dev.DestroyBuffer(storage)

	if err := dev.WriteBuffer(storage, 0, make([]byte, 4)); err == nil {
		t.Error("WriteBuffer without CopyDst succeeded")
	}
	if err := dev.ReadBuffer(storage, 0, make([]byte, 4)); err == nil {
		t.Error("ReadBuffer without MapRead succeeded")
	}
}

func TestSoftwareDevice_Poll(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1, PendingPolls: 2})
	defer dev.Destroy()

	idx, err := dev.Submit(&CommandBuffer{Label: "empty"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for i := 0; i < 2; i++ {
		if done, err := dev.Poll(idx, 0); done || err != nil {
			t.Fatalf("poll %d = %v, %v; want pending", i, done, err)
		}
	}
	if done, err := dev.Poll(idx, 0); !done || err != nil {
		t.Fatalf("third poll = %v, %v; want done", done, err)
	}
	if done, _ := dev.Poll(idx, 0); !done {
		t.Error("completed submission reported pending")
	}

	// A blocking poll completes without counting down.
	idx, _ = dev.Submit(&CommandBuffer{Label: "empty"})
	if done, err := dev.Poll(idx, time.Millisecond); !done || err != nil {
		t.Errorf("blocking poll = %v, %v; want done", done, err)
	}
	if dev.Submissions() != 2 {
		t.Errorf("Submissions() = %d, want 2", dev.Submissions())
	}
}

func TestSoftwareDevice_StallAndLose(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1})
	defer dev.Destroy()

	idx, _ := dev.Submit(&CommandBuffer{Label: "empty"})
	dev.Stall()
	if done, _ := dev.Poll(idx, time.Millisecond); done {
		t.Error("stalled submission completed")
	}
	dev.Resume()
	if done, _ := dev.Poll(idx, 0); !done {
		t.Error("resumed submission still pending")
	}

	dev.Lose()
	if _, err := dev.Submit(&CommandBuffer{Label: "empty"}); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("Submit on lost device = %v, want ErrDeviceLost", err)
	}
	if _, err := dev.Poll(idx, 0); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("Poll on lost device = %v, want ErrDeviceLost", err)
	}
}
