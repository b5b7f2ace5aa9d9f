package gpu

import (
	"errors"
	"testing"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
)

// newBodyPipeline builds a pipeline for n records in budget bytes on a
// fresh software device.
func newBodyPipeline(t *testing.T, opts SoftwareOptions, n int, budget uint64) (*SoftwareDevice, *PipelineState) {
	t.Helper()
	dev := NewSoftwareDevice(opts)
	state, err := BuildPipeline(dev, PipelineConfig{BufferSize: budget, Records: n, Label: t.Name()})
	if err != nil {
		dev.Destroy()
		t.Fatalf("BuildPipeline: %v", err)
	}
	t.Cleanup(func() {
		state.Release()
		dev.Destroy()
	})
	return dev, state
}

func TestBuildPipeline_Configuration(t *testing.T) {
	dev := NewSoftwareDevice(SoftwareOptions{Workers: 1, MaxBufferSize: 4096})
	defer dev.Destroy()

	tests := []struct {
		name string
		dev  Device
		cfg  PipelineConfig
	}{
		{"nil device", nil, PipelineConfig{BufferSize: 240, Records: 1}},
		{"zero buffer", dev, PipelineConfig{Records: 0}},
		{"unaligned buffer", dev, PipelineConfig{BufferSize: 242, Records: 1}},
		{"negative records", dev, PipelineConfig{BufferSize: 240, Records: -1}},
		{"records exceed buffer", dev, PipelineConfig{BufferSize: 240, Records: 11}},
		{"buffer exceeds device", dev, PipelineConfig{BufferSize: 8192, Records: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := BuildPipeline(tt.dev, tt.cfg)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("error = %v, want ErrConfiguration", err)
			}
			if state != nil {
				t.Error("state returned with error")
			}
		})
	}
	if dev.LiveBuffers() != 0 {
		t.Errorf("LiveBuffers() = %d, want 0", dev.LiveBuffers())
	}
}

func TestBuildPipeline_InvalidKernel(t *testing.T) {
	sources := map[string]string{
		"not wgsl":          "this is not a shader",
		"vertex only":       "@vertex fn main() -> @builtin(position) vec4<f32> { return vec4<f32>(); }",
		"wrong entry point": "@compute @workgroup_size(64) fn advance() {}",
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			dev := NewSoftwareDevice(SoftwareOptions{Workers: 1})
			defer dev.Destroy()

			state, err := BuildPipeline(dev, PipelineConfig{KernelSource: src, BufferSize: 240, Records: 10})
			if !errors.Is(err, ErrPipelineBuild) {
				t.Fatalf("error = %v, want ErrPipelineBuild", err)
			}
			if state != nil {
				t.Error("state returned with error")
			}
			if dev.LiveBuffers() != 0 {
				t.Errorf("LiveBuffers() = %d after failed build, want 0", dev.LiveBuffers())
			}
		})
	}
}

func TestBuildPipeline_Resources(t *testing.T) {
	dev, state := newBodyPipeline(t, SoftwareOptions{Workers: 1}, 10, 480)

	if dev.LiveBuffers() != 3 {
		t.Errorf("LiveBuffers() = %d, want 3", dev.LiveBuffers())
	}
	if state.Records() != 10 || state.Capacity() != 20 {
		t.Errorf("Records, Capacity = %d, %d; want 10, 20", state.Records(), state.Capacity())
	}
	if state.bindGroup == nil {
		t.Error("bind group not created")
	}
	if state.Config().EntryPoint != bodycompute.EntryPoint {
		t.Errorf("EntryPoint = %q", state.Config().EntryPoint)
	}
	if state.Staging().Size() != 480 {
		t.Errorf("staging size = %d, want 480", state.Staging().Size())
	}

	state.Release()
	state.Release()
	if dev.LiveBuffers() != 0 {
		t.Errorf("LiveBuffers() after Release = %d, want 0", dev.LiveBuffers())
	}
}

func TestBuildPipeline_ZeroRecords(t *testing.T) {
	_, state := newBodyPipeline(t, SoftwareOptions{Workers: 1}, 0, 240)
	if state.bindGroup != nil {
		t.Error("zero-record pipeline created a bind group")
	}
	if state.program == nil {
		t.Error("zero-record pipeline has no program")
	}
}
