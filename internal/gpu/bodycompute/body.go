// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package bodycompute holds the host-side view of the body simulation kernel:
// the 24-byte record layout shared with WGSL, the bundled kernel source, the
// dispatch grid arithmetic, and a pure-Go reference of the kernel that runs
// invocation-for-invocation like the GPU version.
//
// The reference is used by the software device and as the oracle in tests.
// Any change to advance_bodies.wgsl must be mirrored in AdvanceBodies.
package bodycompute

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// FloatsPerRecord is the number of f32 slots in one body record.
	FloatsPerRecord = 6

	// RecordStride is the byte size of one body record.
	RecordStride = FloatsPerRecord * 4

	// WorkgroupSize matches @workgroup_size in advance_bodies.wgsl.
	WorkgroupSize = 64

	// TimeStep is the fixed Euler step applied by the kernel.
	TimeStep float32 = 0.016

	// DefaultBudget is the default byte size of every body buffer (128 MiB).
	DefaultBudget = 134217728
)

// Body is one simulated circle.
//
// Layout in device memory (little-endian f32, 24 bytes):
//
//	offset  0: radius
//	offset  4: padding (unused, aligns position to 8 bytes)
//	offset  8: position.x, position.y
//	offset 16: velocity.x, velocity.y
type Body struct {
	Radius   float32
	Padding  float32
	Position mgl32.Vec2
	Velocity mgl32.Vec2
}

// Advanced returns b moved by one step of length dt along its velocity.
func (b Body) Advanced(dt float32) Body {
	b.Position = b.Position.Add(b.Velocity.Mul(dt))
	return b
}

// Capacity returns how many whole records fit in byteLen bytes.
func Capacity(byteLen int) int {
	return byteLen / RecordStride
}

// StoreBody writes b as record i of dst.
// It panics if record i does not fit in dst.
func StoreBody(dst []byte, i int, b Body) {
	rec := dst[i*RecordStride : (i+1)*RecordStride]
	putF32(rec[0:], b.Radius)
	putF32(rec[4:], b.Padding)
	putF32(rec[8:], b.Position.X())
	putF32(rec[12:], b.Position.Y())
	putF32(rec[16:], b.Velocity.X())
	putF32(rec[20:], b.Velocity.Y())
}

// LoadBody reads record i of src.
// It panics if record i does not fit in src.
func LoadBody(src []byte, i int) Body {
	rec := src[i*RecordStride : (i+1)*RecordStride]
	return Body{
		Radius:   getF32(rec[0:]),
		Padding:  getF32(rec[4:]),
		Position: mgl32.Vec2{getF32(rec[8:]), getF32(rec[12:])},
		Velocity: mgl32.Vec2{getF32(rec[16:]), getF32(rec[20:])},
	}
}

// LoadBodies reads records [0, n) of src.
func LoadBodies(src []byte, n int) []Body {
	out := make([]Body, n)
	for i := range out {
		out[i] = LoadBody(src, i)
	}
	return out
}

// StorePositions writes the position of bodies[i] into record i of dst and
// leaves every other field untouched. The kernel writes only positions, so
// this folds a step result back into the buffer it was computed from.
func StorePositions(dst []byte, bodies []Body) {
	for i, b := range bodies {
		storePosition(dst, i, b.Position)
	}
}

// storePosition writes only the position field of record i.
func storePosition(dst []byte, i int, p mgl32.Vec2) {
	off := i*RecordStride + 8
	putF32(dst[off:], p.X())
	putF32(dst[off+4:], p.Y())
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func getF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
