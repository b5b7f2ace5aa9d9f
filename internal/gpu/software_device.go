package gpu

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"

	"github.com/gogpu/bodysim/internal/gpu/bodycompute"
	"github.com/gogpu/bodysim/internal/parallel"
)

// SoftwareOptions configures a SoftwareDevice.
type SoftwareOptions struct {
	// Workers is the number of worker goroutines (0 = GOMAXPROCS).
	Workers int

	// MaxBufferSize caps buffer allocations (0 = gputypes default).
	MaxBufferSize uint64

	// MaxWorkgroupsPerDimension caps each grid dimension (0 = 65535).
	MaxWorkgroupsPerDimension uint32

	// PendingPolls is the number of non-blocking polls a submission reports
	// as incomplete before it completes.
	PendingPolls int

	// StrictShaders fails CreateProgram on any naga error. By default naga
	// diagnostics are logged and only the structural checks (a @compute
	// function with the requested entry point name) reject a program.
	StrictShaders bool

	// Kernels maps entry point names to host kernels. The bundled
	// AdvanceBodies kernel is registered as "main" when Kernels is nil.
	Kernels map[string]bodycompute.Kernel
}

// SoftwareDevice executes command buffers on the host.
//
// Programs are validated with naga and must name an entry point that has a
// registered host kernel. Work runs at Submit; completion becomes visible
// to Poll after PendingPolls non-blocking polls, or never while stalled.
type SoftwareDevice struct {
	opts    SoftwareOptions
	limits  Limits
	kernels map[string]bodycompute.Kernel
	pool    *parallel.WorkerPool

	mu          sync.Mutex
	buffers     map[*softBuffer]struct{}
	pending     map[SubmissionIndex]int
	next        SubmissionIndex
	submissions int
	stalled     bool
	lost        bool
	destroyed   bool
}

// NewSoftwareDevice creates a host device.
func NewSoftwareDevice(opts SoftwareOptions) *SoftwareDevice {
	limits := Limits{
		MaxBufferSize:             opts.MaxBufferSize,
		MaxWorkgroupsPerDimension: opts.MaxWorkgroupsPerDimension,
	}
	if limits.MaxBufferSize == 0 {
		limits.MaxBufferSize = uint64(gputypes.DefaultLimits().MaxBufferSize)
	}
	if limits.MaxWorkgroupsPerDimension == 0 {
		limits.MaxWorkgroupsPerDimension = bodycompute.MaxWorkgroupsPerDimension
	}
	kernels := opts.Kernels
	if kernels == nil {
		kernels = map[string]bodycompute.Kernel{bodycompute.EntryPoint: bodycompute.AdvanceBodies}
	}
	d := &SoftwareDevice{
		opts:    opts,
		limits:  limits,
		kernels: kernels,
		pool:    parallel.NewWorkerPool(opts.Workers),
		buffers: make(map[*softBuffer]struct{}),
		pending: make(map[SubmissionIndex]int),
	}
	slogger().Info("gpu: software device created", "workers", d.pool.Workers(), "max_workgroups", limits.MaxWorkgroupsPerDimension)
	return d
}

type softBuffer struct {
	label     string
	usage     gputypes.BufferUsage
	data      []byte
	destroyed bool
}

func (b *softBuffer) Label() string { return b.label }
func (b *softBuffer) Size() uint64  { return uint64(len(b.data)) }

type softProgram struct {
	label  string
	entry  string
	kernel bodycompute.Kernel
	slots  []BindingSlot
}

func (p *softProgram) Label() string      { return p.label }
func (p *softProgram) EntryPoint() string { return p.entry }

type softBinding struct {
	buf          *softBuffer
	offset, size uint64
}

func (b softBinding) bytes() []byte { return b.buf.data[b.offset : b.offset+b.size] }

type softBindGroup struct {
	label   string
	program *softProgram
	slots   map[uint32]softBinding
}

func (g *softBindGroup) Label() string { return g.label }

// Name implements Device.
func (d *SoftwareDevice) Name() string { return "software" }

// Limits implements Device.
func (d *SoftwareDevice) Limits() Limits { return d.limits }

// Stall keeps every current and future submission pending until Resume.
func (d *SoftwareDevice) Stall() {
	d.mu.Lock()
	d.stalled = true
	d.mu.Unlock()
}

// Resume ends a Stall.
func (d *SoftwareDevice) Resume() {
	d.mu.Lock()
	d.stalled = false
	d.mu.Unlock()
}

// Lose marks the device lost. Later submissions and polls fail with
// ErrDeviceLost.
func (d *SoftwareDevice) Lose() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
	slogger().Warn("gpu: software device lost")
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *SoftwareDevice) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Submissions returns the number of accepted submissions.
func (d *SoftwareDevice) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// CreateBuffer implements Device.
func (d *SoftwareDevice) CreateBuffer(desc *BufferDescriptor) (RawBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, ErrDeviceLost
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidBufferSize, desc.Size, d.limits.MaxBufferSize)
	}
	b := &softBuffer{label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size)}
	d.buffers[b] = struct{}{}
	return b, nil
}

// DestroyBuffer implements Device.
func (d *SoftwareDevice) DestroyBuffer(buf RawBuffer) {
	b, ok := buf.(*softBuffer)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b.destroyed = true
	b.data = nil
	delete(d.buffers, b)
}

func (d *SoftwareDevice) buffer(buf RawBuffer) (*softBuffer, error) {
	b, ok := buf.(*softBuffer)
	if !ok {
		return nil, ErrForeignResource
	}
	if b.destroyed {
		return nil, ErrBufferDestroyed
	}
	return b, nil
}

// CreateProgram implements Device.
func (d *SoftwareDevice) CreateProgram(desc *ProgramDescriptor) (Program, error) {
	if !computeAttr.MatchString(desc.Source) {
		return nil, fmt.Errorf("gpu: shader %q has no compute entry point", desc.Label)
	}
	entryRe := regexp.MustCompile(`\bfn\s+` + regexp.QuoteMeta(desc.EntryPoint) + `\s*\(`)
	if !entryRe.MatchString(desc.Source) {
		return nil, fmt.Errorf("gpu: shader %q does not declare entry point %q", desc.Label, desc.EntryPoint)
	}
	if _, err := naga.Compile(desc.Source); err != nil {
		if d.opts.StrictShaders {
			return nil, fmt.Errorf("gpu: compile shader %q: %w", desc.Label, err)
		}
		slogger().Warn("gpu: naga could not validate shader", "label", desc.Label,
			"limitation", nagaLimitation(err), "error", err)
	}

	kernel, ok := d.kernels[desc.EntryPoint]
	if !ok {
		return nil, fmt.Errorf("gpu: no host kernel registered for entry point %q", desc.EntryPoint)
	}
	if len(desc.Bindings) != 2 || desc.Bindings[0].Binding != 0 || desc.Bindings[1].Binding != 1 {
		return nil, fmt.Errorf("gpu: software programs bind exactly slots 0 and 1, got %v", desc.Bindings)
	}
	return &softProgram{
		label:  desc.Label,
		entry:  desc.EntryPoint,
		kernel: kernel,
		slots:  append([]BindingSlot(nil), desc.Bindings...),
	}, nil
}

var computeAttr = regexp.MustCompile(`@compute\b`)

// nagaLimitation reports whether err is naga declining a valid feature
// rather than rejecting the source.
func nagaLimitation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported")
}

// DestroyProgram implements Device.
func (d *SoftwareDevice) DestroyProgram(Program) {}

// CreateBindGroup implements Device.
func (d *SoftwareDevice) CreateBindGroup(desc *BindGroupDescriptor) (BindGroup, error) {
	prog, ok := desc.Program.(*softProgram)
	if !ok {
		return nil, ErrForeignResource
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	g := &softBindGroup{label: desc.Label, program: prog, slots: make(map[uint32]softBinding)}
	for _, e := range desc.Entries {
		b, err := d.buffer(e.Buffer)
		if err != nil {
			return nil, fmt.Errorf("gpu: bind group %q slot %d: %w", desc.Label, e.Binding, err)
		}
		if !b.usage.Contains(gputypes.BufferUsageStorage) {
			return nil, fmt.Errorf("gpu: bind group %q slot %d: buffer %q lacks Storage usage", desc.Label, e.Binding, b.label)
		}
		if e.Size == 0 || e.Size%4 != 0 || e.Offset+e.Size > b.Size() {
			return nil, fmt.Errorf("gpu: bind group %q slot %d: range [%d, %d) invalid for %d-byte buffer",
				desc.Label, e.Binding, e.Offset, e.Offset+e.Size, b.Size())
		}
		g.slots[e.Binding] = softBinding{buf: b, offset: e.Offset, size: e.Size}
	}
	for _, s := range prog.slots {
		if _, ok := g.slots[s.Binding]; !ok {
			return nil, fmt.Errorf("gpu: bind group %q leaves slot %d unbound", desc.Label, s.Binding)
		}
	}
	return g, nil
}

// DestroyBindGroup implements Device.
func (d *SoftwareDevice) DestroyBindGroup(BindGroup) {}

// WriteBuffer implements Device.
func (d *SoftwareDevice) WriteBuffer(buf RawBuffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return ErrDeviceLost
	}
	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if !b.usage.Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("gpu: write to %q without CopyDst usage", b.label)
	}
	if offset+uint64(len(data)) > b.Size() {
		return fmt.Errorf("%w: write [%d, %d) of %q", ErrInvalidBufferSize, offset, offset+uint64(len(data)), b.label)
	}
	copy(b.data[offset:], data)
	return nil
}

// Submit implements Device.
func (d *SoftwareDevice) Submit(cmd *CommandBuffer) (SubmissionIndex, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return 0, ErrDeviceLost
	}
	if d.destroyed {
		return 0, fmt.Errorf("gpu: software device destroyed")
	}
	for _, c := range cmd.Commands {
		var err error
		switch {
		case c.Copy != nil:
			err = d.copyLocked(c.Copy)
		default:
			err = d.runPassLocked(c.Pass)
		}
		if err != nil {
			return 0, fmt.Errorf("gpu: %s: %w", c.Label, err)
		}
	}
	d.next++
	d.submissions++
	d.pending[d.next] = d.opts.PendingPolls
	slogger().Debug("gpu: software submission executed", "label", cmd.Label, "index", uint64(d.next), "dispatches", cmd.Dispatches())
	return d.next, nil
}

func (d *SoftwareDevice) copyLocked(c *BufferCopy) error {
	src, err := d.buffer(c.Src.Raw())
	if err != nil {
		return err
	}
	dst, err := d.buffer(c.Dst.Raw())
	if err != nil {
		return err
	}
	copy(dst.data[c.DstOffset:c.DstOffset+c.Size], src.data[c.SrcOffset:c.SrcOffset+c.Size])
	return nil
}

func (d *SoftwareDevice) runPassLocked(ops []PassOp) error {
	var (
		program *softProgram
		groups  [maxBindGroups]*softBindGroup
	)
	for _, op := range ops {
		switch op.Kind {
		case PassOpSetPipeline:
			p, ok := op.Program.(*softProgram)
			if !ok {
				return ErrForeignResource
			}
			program = p
		case PassOpSetBindGroup:
			g, ok := op.BindGroup.(*softBindGroup)
			if !ok {
				return ErrForeignResource
			}
			groups[op.Index] = g
		case PassOpDispatch:
			if op.Grid.Empty() {
				continue
			}
			g := groups[0]
			if program == nil || g == nil {
				return ErrNoPipelineBound
			}
			if g.program != program {
				return fmt.Errorf("gpu: bind group %q was created for a different program", g.label)
			}
			if err := d.dispatch(program, g, op.Grid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *SoftwareDevice) dispatch(p *softProgram, g *softBindGroup, grid bodycompute.Grid) error {
	for _, b := range g.slots {
		if b.buf.destroyed {
			return ErrBufferDestroyed
		}
	}
	input, output := g.slots[0].bytes(), g.slots[1].bytes()
	ok := d.pool.ExecuteRange(grid.Workgroups(), func(lo, hi uint64) {
		for i := lo; i < hi; i++ {
			bodycompute.RunWorkgroup(p.kernel, grid, grid.At(i), input, output)
		}
	})
	if !ok {
		return fmt.Errorf("gpu: software device destroyed")
	}
	return nil
}

// Poll implements Device.
func (d *SoftwareDevice) Poll(idx SubmissionIndex, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return false, ErrDeviceLost
	}
	remaining, ok := d.pending[idx]
	if !ok {
		d.mu.Unlock()
		return true, nil
	}
	if d.stalled {
		d.mu.Unlock()
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return false, nil
	}
	if remaining > 0 && timeout == 0 {
		d.pending[idx] = remaining - 1
		d.mu.Unlock()
		return false, nil
	}
	delete(d.pending, idx)
	d.mu.Unlock()
	return true, nil
}

// ReadBuffer implements Device.
func (d *SoftwareDevice) ReadBuffer(buf RawBuffer, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return ErrDeviceLost
	}
	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if !b.usage.Contains(gputypes.BufferUsageMapRead) {
		return fmt.Errorf("gpu: read from %q without MapRead usage", b.label)
	}
	if offset+uint64(len(dst)) > b.Size() {
		return fmt.Errorf("%w: read [%d, %d) of %q", ErrInvalidMapRange, offset, offset+uint64(len(dst)), b.label)
	}
	copy(dst, b.data[offset:])
	return nil
}

// Destroy implements Device.
func (d *SoftwareDevice) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	live := len(d.buffers)
	d.mu.Unlock()

	d.pool.Close()
	if live > 0 {
		slogger().Warn("gpu: software device destroyed with live buffers", "count", live)
	}
}
