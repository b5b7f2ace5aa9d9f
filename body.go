package bodysim

import "github.com/gogpu/bodysim/internal/gpu/bodycompute"

// Body is one simulated circle. See the package documentation for its
// device layout.
type Body = bodycompute.Body

// Record layout and kernel constants.
const (
	FloatsPerRecord = bodycompute.FloatsPerRecord
	RecordStride    = bodycompute.RecordStride
	WorkgroupSize   = bodycompute.WorkgroupSize
	TimeStep        = bodycompute.TimeStep

	// DefaultBudget is the default byte size of a BodyBuffer (128 MiB).
	DefaultBudget = bodycompute.DefaultBudget
)

// BodyBuffer is a host buffer of body records. Data spans the whole byte
// budget; records [Count, Capacity()) are zero and never simulated.
type BodyBuffer struct {
	Data  []byte
	Count int
}

// Capacity returns how many records Data holds.
func (b *BodyBuffer) Capacity() int {
	return bodycompute.Capacity(len(b.Data))
}

// Body returns record i.
func (b *BodyBuffer) Body(i int) Body {
	return Decode(b.Data, i)
}

// Bodies decodes the first Count records.
func (b *BodyBuffer) Bodies() []Body {
	return DecodeAll(b.Data, b.Count)
}

// Apply writes the positions of a step result into the buffer, so that the
// next step continues from them. Radius and velocity are kept.
func (b *BodyBuffer) Apply(result []Body) {
	bodycompute.StorePositions(b.Data, result)
}

// DefaultEntryPoint is the entry point of the bundled kernel.
const DefaultEntryPoint = bodycompute.EntryPoint

// DefaultKernelSource returns the bundled WGSL kernel.
func DefaultKernelSource() string {
	return bodycompute.AdvanceBodiesWGSL
}
