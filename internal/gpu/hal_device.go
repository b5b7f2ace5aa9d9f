package gpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// HALDevice drives a gogpu/wgpu hal device.
//
// Every Submit gets its own fence; Poll waits on it and frees the fence and
// command buffer once the submission has completed.
type HALDevice struct {
	name   string
	device hal.Device
	queue  hal.Queue
	limits Limits

	// release tears down what OpenStandalone created. Nil for shared devices.
	release func()

	mu       sync.Mutex
	next     SubmissionIndex
	inflight map[SubmissionIndex]*halSubmission
}

type halSubmission struct {
	fence hal.Fence
	cmd   hal.CommandBuffer
}

// NewHALDevice wraps an open hal device and queue. The caller keeps
// ownership: Destroy releases only the resources HALDevice created.
func NewHALDevice(name string, device hal.Device, queue hal.Queue) (*HALDevice, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	limits := gputypes.DefaultLimits()
	return &HALDevice{
		name:   name,
		device: device,
		queue:  queue,
		limits: Limits{
			MaxBufferSize:             uint64(limits.MaxBufferSize),
			MaxWorkgroupsPerDimension: defaultMaxWorkgroupsPerDimension,
		},
		inflight: make(map[SubmissionIndex]*halSubmission),
	}, nil
}

// defaultMaxWorkgroupsPerDimension is maxComputeWorkgroupsPerDimension of
// the WebGPU default limits, which is what devices are opened with.
const defaultMaxWorkgroupsPerDimension = 65535

type halBuffer struct {
	raw   hal.Buffer
	label string
	size  uint64
}

func (b *halBuffer) Label() string { return b.label }
func (b *halBuffer) Size() uint64  { return b.size }

type halProgram struct {
	label    string
	entry    string
	module   hal.ShaderModule
	layout   hal.BindGroupLayout
	pipeLay  hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func (p *halProgram) Label() string      { return p.label }
func (p *halProgram) EntryPoint() string { return p.entry }

type halBindGroup struct {
	label string
	raw   hal.BindGroup
}

func (g *halBindGroup) Label() string { return g.label }

// Name implements Device.
func (d *HALDevice) Name() string { return d.name }

// Limits implements Device.
func (d *HALDevice) Limits() Limits { return d.limits }

// CreateBuffer implements Device.
func (d *HALDevice) CreateBuffer(desc *BufferDescriptor) (RawBuffer, error) {
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, err
	}
	return &halBuffer{raw: raw, label: desc.Label, size: desc.Size}, nil
}

// DestroyBuffer implements Device.
func (d *HALDevice) DestroyBuffer(buf RawBuffer) {
	if b, ok := buf.(*halBuffer); ok && b.raw != nil {
		d.device.DestroyBuffer(b.raw)
		b.raw = nil
	}
}

func (d *HALDevice) buffer(buf RawBuffer) (hal.Buffer, error) {
	b, ok := buf.(*halBuffer)
	if !ok {
		return nil, ErrForeignResource
	}
	if b.raw == nil {
		return nil, ErrBufferDestroyed
	}
	return b.raw, nil
}

// CreateProgram implements Device.
func (d *HALDevice) CreateProgram(desc *ProgramDescriptor) (Program, error) {
	p := &halProgram{label: desc.Label, entry: desc.EntryPoint}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{WGSL: desc.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	p.module = module

	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Bindings))
	for i, s := range desc.Bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    s.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: s.BindingType()},
		}
	}
	layout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		d.destroyPartialProgram(p)
		return nil, fmt.Errorf("create bind group layout: %w", err)
	}
	p.layout = layout

	pipeLay, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout},
	})
	if err != nil {
		d.destroyPartialProgram(p)
		return nil, fmt.Errorf("create pipeline layout: %w", err)
	}
	p.pipeLay = pipeLay

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  pipeLay,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		d.destroyPartialProgram(p)
		return nil, fmt.Errorf("create compute pipeline: %w", err)
	}
	p.pipeline = pipeline
	return p, nil
}

// destroyPartialProgram releases whatever CreateProgram managed to create.
func (d *HALDevice) destroyPartialProgram(p *halProgram) {
	if p.pipeline != nil {
		d.device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLay != nil {
		d.device.DestroyPipelineLayout(p.pipeLay)
		p.pipeLay = nil
	}
	if p.layout != nil {
		d.device.DestroyBindGroupLayout(p.layout)
		p.layout = nil
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// DestroyProgram implements Device.
func (d *HALDevice) DestroyProgram(p Program) {
	if hp, ok := p.(*halProgram); ok {
		d.destroyPartialProgram(hp)
	}
}

// CreateBindGroup implements Device.
func (d *HALDevice) CreateBindGroup(desc *BindGroupDescriptor) (BindGroup, error) {
	prog, ok := desc.Program.(*halProgram)
	if !ok || prog.layout == nil {
		return nil, ErrForeignResource
	}
	entries := make([]gputypes.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		raw, err := d.buffer(e.Buffer)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", e.Binding, err)
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding:  e.Binding,
			Resource: gputypes.BufferBinding{Buffer: raw.NativeHandle(), Offset: e.Offset, Size: e.Size},
		}
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  prog.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	return &halBindGroup{label: desc.Label, raw: bg}, nil
}

// DestroyBindGroup implements Device.
func (d *HALDevice) DestroyBindGroup(bg BindGroup) {
	if g, ok := bg.(*halBindGroup); ok && g.raw != nil {
		d.device.DestroyBindGroup(g.raw)
		g.raw = nil
	}
}

// WriteBuffer implements Device.
func (d *HALDevice) WriteBuffer(buf RawBuffer, offset uint64, data []byte) error {
	raw, err := d.buffer(buf)
	if err != nil {
		return err
	}
	d.queue.WriteBuffer(raw, offset, data)
	return nil
}

// Submit implements Device.
func (d *HALDevice) Submit(cmd *CommandBuffer) (SubmissionIndex, error) {
	halCmd, err := d.encode(cmd)
	if err != nil {
		return 0, err
	}

	fence, err := d.device.CreateFence()
	if err != nil {
		d.device.FreeCommandBuffer(halCmd)
		return 0, fmt.Errorf("create fence: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{halCmd}, fence, 1); err != nil {
		d.device.DestroyFence(fence)
		d.device.FreeCommandBuffer(halCmd)
		return 0, fmt.Errorf("submit: %w", err)
	}

	d.mu.Lock()
	d.next++
	idx := d.next
	d.inflight[idx] = &halSubmission{fence: fence, cmd: halCmd}
	d.mu.Unlock()
	return idx, nil
}

// encode replays cmd into a hal command encoder.
func (d *HALDevice) encode(cmd *CommandBuffer) (hal.CommandBuffer, error) {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cmd.Label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(cmd.Label); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	for _, c := range cmd.Commands {
		if c.Copy != nil {
			src, err := d.buffer(c.Copy.Src.Raw())
			if err != nil {
				encoder.DiscardEncoding()
				return nil, fmt.Errorf("%s: %w", c.Label, err)
			}
			dst, err := d.buffer(c.Copy.Dst.Raw())
			if err != nil {
				encoder.DiscardEncoding()
				return nil, fmt.Errorf("%s: %w", c.Label, err)
			}
			encoder.CopyBufferToBuffer(src, dst, []hal.BufferCopy{
				{SrcOffset: c.Copy.SrcOffset, DstOffset: c.Copy.DstOffset, Size: c.Copy.Size},
			})
			continue
		}

		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: c.Label})
		for _, op := range c.Pass {
			switch op.Kind {
			case PassOpSetPipeline:
				p, ok := op.Program.(*halProgram)
				if !ok || p.pipeline == nil {
					pass.End()
					encoder.DiscardEncoding()
					return nil, ErrForeignResource
				}
				pass.SetPipeline(p.pipeline)
			case PassOpSetBindGroup:
				g, ok := op.BindGroup.(*halBindGroup)
				if !ok || g.raw == nil {
					pass.End()
					encoder.DiscardEncoding()
					return nil, ErrForeignResource
				}
				pass.SetBindGroup(op.Index, g.raw, nil)
			case PassOpDispatch:
				if op.Grid.Empty() {
					continue
				}
				pass.Dispatch(op.Grid.X, op.Grid.Y, op.Grid.Z)
			}
		}
		pass.End()
	}

	halCmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	return halCmd, nil
}

// Poll implements Device.
func (d *HALDevice) Poll(idx SubmissionIndex, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	sub, ok := d.inflight[idx]
	d.mu.Unlock()
	if !ok {
		return true, nil
	}

	done, err := d.device.Wait(sub.fence, 1, timeout)
	if err != nil {
		return false, fmt.Errorf("%w: wait for submission %d: %w", ErrDeviceLost, idx, err)
	}
	if !done {
		return false, nil
	}

	d.mu.Lock()
	delete(d.inflight, idx)
	d.mu.Unlock()
	d.device.DestroyFence(sub.fence)
	d.device.FreeCommandBuffer(sub.cmd)
	return true, nil
}

// ReadBuffer implements Device.
func (d *HALDevice) ReadBuffer(buf RawBuffer, offset uint64, dst []byte) error {
	raw, err := d.buffer(buf)
	if err != nil {
		return err
	}
	return d.queue.ReadBuffer(raw, offset, dst)
}

// Destroy waits for outstanding submissions, frees them, and tears down
// the device if OpenStandalone created it.
func (d *HALDevice) Destroy() {
	d.mu.Lock()
	inflight := d.inflight
	d.inflight = make(map[SubmissionIndex]*halSubmission)
	d.mu.Unlock()

	for idx, sub := range inflight {
		if ok, err := d.device.Wait(sub.fence, 1, 5*time.Second); err != nil || !ok {
			slogger().Warn("gpu: submission still pending at destroy", "index", uint64(idx), "error", err)
		}
		d.device.DestroyFence(sub.fence)
		d.device.FreeCommandBuffer(sub.cmd)
	}
	if d.release != nil {
		d.release()
		d.release = nil
	}
}
