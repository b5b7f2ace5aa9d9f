//go:build wgpunative

package gpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gputypes"
)

// NativeDevice drives wgpu-native through the cogentcore/webgpu bindings.
// It needs cgo and the wgpu-native library, hence the wgpunative tag.
type NativeDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string

	mu   sync.Mutex
	next SubmissionIndex
	// done is the highest index known complete.
	done SubmissionIndex
}

// NewNativeDevice requests a high-performance adapter and a device with
// default limits.
func NewNativeDevice() (*NativeDevice, error) {
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("gpu: request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "bodysim"})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}
	d := &NativeDevice{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		name:     "wgpu-native",
	}
	slogger().Info("gpu: native device opened")
	return d, nil
}

type nativeBuffer struct {
	raw   *wgpu.Buffer
	label string
	size  uint64
}

func (b *nativeBuffer) Label() string { return b.label }
func (b *nativeBuffer) Size() uint64  { return b.size }

type nativeProgram struct {
	label    string
	entry    string
	layout   *wgpu.BindGroupLayout
	pipeLay  *wgpu.PipelineLayout
	pipeline *wgpu.ComputePipeline
}

func (p *nativeProgram) Label() string      { return p.label }
func (p *nativeProgram) EntryPoint() string { return p.entry }

type nativeBindGroup struct {
	label string
	raw   *wgpu.BindGroup
}

func (g *nativeBindGroup) Label() string { return g.label }

// Name implements Device.
func (d *NativeDevice) Name() string { return d.name }

// Limits implements Device.
func (d *NativeDevice) Limits() Limits {
	return Limits{
		MaxBufferSize:             uint64(gputypes.DefaultLimits().MaxBufferSize),
		MaxWorkgroupsPerDimension: defaultMaxWorkgroupsPerDimension,
	}
}

func nativeUsage(u gputypes.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u&gputypes.BufferUsageMapRead != 0 {
		out |= wgpu.BufferUsageMapRead
	}
	if u&gputypes.BufferUsageMapWrite != 0 {
		out |= wgpu.BufferUsageMapWrite
	}
	if u&gputypes.BufferUsageCopySrc != 0 {
		out |= wgpu.BufferUsageCopySrc
	}
	if u&gputypes.BufferUsageCopyDst != 0 {
		out |= wgpu.BufferUsageCopyDst
	}
	if u&gputypes.BufferUsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&gputypes.BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	return out
}

// CreateBuffer implements Device.
func (d *NativeDevice) CreateBuffer(desc *BufferDescriptor) (RawBuffer, error) {
	raw, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: nativeUsage(desc.Usage),
	})
	if err != nil {
		return nil, err
	}
	return &nativeBuffer{raw: raw, label: desc.Label, size: desc.Size}, nil
}

// DestroyBuffer implements Device.
func (d *NativeDevice) DestroyBuffer(buf RawBuffer) {
	if b, ok := buf.(*nativeBuffer); ok && b.raw != nil {
		b.raw.Release()
		b.raw = nil
	}
}

func (d *NativeDevice) buffer(buf RawBuffer) (*wgpu.Buffer, error) {
	b, ok := buf.(*nativeBuffer)
	if !ok {
		return nil, ErrForeignResource
	}
	if b.raw == nil {
		return nil, ErrBufferDestroyed
	}
	return b.raw, nil
}

// CreateProgram implements Device.
func (d *NativeDevice) CreateProgram(desc *ProgramDescriptor) (Program, error) {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	defer module.Release()

	entries := make([]wgpu.BindGroupLayoutEntry, len(desc.Bindings))
	for i, s := range desc.Bindings {
		typ := wgpu.BufferBindingTypeStorage
		if s.ReadOnly {
			typ = wgpu.BufferBindingTypeReadOnlyStorage
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    s.Binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: typ},
		}
	}

	p := &nativeProgram{label: desc.Label, entry: desc.EntryPoint}
	p.layout, err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group layout: %w", err)
	}
	p.pipeLay, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.layout},
	})
	if err != nil {
		d.DestroyProgram(p)
		return nil, fmt.Errorf("create pipeline layout: %w", err)
	}
	p.pipeline, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.pipeLay,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		d.DestroyProgram(p)
		return nil, fmt.Errorf("create compute pipeline: %w", err)
	}
	return p, nil
}

// DestroyProgram implements Device.
func (d *NativeDevice) DestroyProgram(prog Program) {
	p, ok := prog.(*nativeProgram)
	if !ok {
		return
	}
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.pipeLay != nil {
		p.pipeLay.Release()
		p.pipeLay = nil
	}
	if p.layout != nil {
		p.layout.Release()
		p.layout = nil
	}
}

// CreateBindGroup implements Device.
func (d *NativeDevice) CreateBindGroup(desc *BindGroupDescriptor) (BindGroup, error) {
	prog, ok := desc.Program.(*nativeProgram)
	if !ok || prog.layout == nil {
		return nil, ErrForeignResource
	}
	entries := make([]wgpu.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		raw, err := d.buffer(e.Buffer)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", e.Binding, err)
		}
		entries[i] = wgpu.BindGroupEntry{
			Binding: e.Binding,
			Buffer:  raw,
			Offset:  e.Offset,
			Size:    e.Size,
		}
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  prog.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	return &nativeBindGroup{label: desc.Label, raw: bg}, nil
}

// DestroyBindGroup implements Device.
func (d *NativeDevice) DestroyBindGroup(bg BindGroup) {
	if g, ok := bg.(*nativeBindGroup); ok && g.raw != nil {
		g.raw.Release()
		g.raw = nil
	}
}

// WriteBuffer implements Device.
func (d *NativeDevice) WriteBuffer(buf RawBuffer, offset uint64, data []byte) error {
	raw, err := d.buffer(buf)
	if err != nil {
		return err
	}
	return d.queue.WriteBuffer(raw, offset, data)
}

// Submit implements Device.
func (d *NativeDevice) Submit(cmd *CommandBuffer) (SubmissionIndex, error) {
	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: cmd.Label})
	if err != nil {
		return 0, fmt.Errorf("create command encoder: %w", err)
	}
	defer encoder.Release()

	for _, c := range cmd.Commands {
		if c.Copy != nil {
			src, err := d.buffer(c.Copy.Src.Raw())
			if err != nil {
				return 0, fmt.Errorf("%s: %w", c.Label, err)
			}
			dst, err := d.buffer(c.Copy.Dst.Raw())
			if err != nil {
				return 0, fmt.Errorf("%s: %w", c.Label, err)
			}
			if err := encoder.CopyBufferToBuffer(src, c.Copy.SrcOffset, dst, c.Copy.DstOffset, c.Copy.Size); err != nil {
				return 0, fmt.Errorf("%s: %w", c.Label, err)
			}
			continue
		}
		if err := d.encodePass(encoder, c); err != nil {
			return 0, err
		}
	}

	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		return 0, fmt.Errorf("finish: %w", err)
	}
	defer cmdBuf.Release()
	d.queue.Submit(cmdBuf)

	d.mu.Lock()
	d.next++
	idx := d.next
	d.mu.Unlock()
	return idx, nil
}

func (d *NativeDevice) encodePass(encoder *wgpu.CommandEncoder, c Command) error {
	pass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: c.Label})
	defer pass.Release()
	for _, op := range c.Pass {
		switch op.Kind {
		case PassOpSetPipeline:
			p, ok := op.Program.(*nativeProgram)
			if !ok || p.pipeline == nil {
				_ = pass.End()
				return ErrForeignResource
			}
			pass.SetPipeline(p.pipeline)
		case PassOpSetBindGroup:
			g, ok := op.BindGroup.(*nativeBindGroup)
			if !ok || g.raw == nil {
				_ = pass.End()
				return ErrForeignResource
			}
			pass.SetBindGroup(op.Index, g.raw, nil)
		case PassOpDispatch:
			if !op.Grid.Empty() {
				pass.DispatchWorkgroups(op.Grid.X, op.Grid.Y, op.Grid.Z)
			}
		}
	}
	return pass.End()
}

// Poll implements Device. wgpu-native reports queue emptiness rather than
// per-submission state, so an empty queue completes every index.
func (d *NativeDevice) Poll(idx SubmissionIndex, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	if idx <= d.done {
		d.mu.Unlock()
		return true, nil
	}
	d.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if d.device.Poll(false, nil) {
			d.mu.Lock()
			d.done = d.next
			d.mu.Unlock()
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

var errNativeMap = errors.New("gpu: native map failed")

// ReadBuffer implements Device by mapping buf, which must carry MapRead.
func (d *NativeDevice) ReadBuffer(buf RawBuffer, offset uint64, dst []byte) error {
	raw, err := d.buffer(buf)
	if err != nil {
		return err
	}
	size := uint64(len(dst))
	var status wgpu.BufferMapAsyncStatus
	if err := raw.MapAsync(wgpu.MapModeRead, offset, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return err
	}
	d.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("%w: status %v", errNativeMap, status)
	}
	copy(dst, raw.GetMappedRange(uint(offset), uint(size)))
	return raw.Unmap()
}

// Destroy implements Device.
func (d *NativeDevice) Destroy() {
	d.device.Poll(true, nil)
	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}
