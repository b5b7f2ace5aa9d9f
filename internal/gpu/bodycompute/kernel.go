// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bodycompute

import _ "embed"

// AdvanceBodiesWGSL is the bundled compute kernel.
//
//go:embed shaders/advance_bodies.wgsl
var AdvanceBodiesWGSL string

// EntryPoint is the compute entry point of AdvanceBodiesWGSL.
const EntryPoint = "main"

// Invocation carries the builtins a single kernel invocation observes.
type Invocation struct {
	GlobalID      [3]uint32
	NumWorkgroups [3]uint32
}

// LinearIndex folds the 3-D global id into the record index the kernel
// operates on.
func (inv Invocation) LinearIndex() uint32 {
	row := inv.NumWorkgroups[0] * WorkgroupSize
	return inv.GlobalID[0] + inv.GlobalID[1]*row + inv.GlobalID[2]*row*inv.NumWorkgroups[1]
}

// AdvanceBodies runs one invocation of the kernel.
//
// input and output are the bound storage ranges of slots 0 and 1; the
// array length seen by the guard is len(output)/RecordStride. Only the
// position of the output record is written.
func AdvanceBodies(inv Invocation, input, output []byte) {
	index := int(inv.LinearIndex())
	if index >= len(output)/RecordStride {
		return
	}
	storePosition(output, index, LoadBody(input, index).Advanced(TimeStep).Position)
}

// Kernel is a host implementation of a compute entry point.
type Kernel func(inv Invocation, input, output []byte)

// RunWorkgroup executes every invocation of workgroup wg for a dispatch of
// grid workgroups.
func RunWorkgroup(k Kernel, grid Grid, wg [3]uint32, input, output []byte) {
	inv := Invocation{NumWorkgroups: [3]uint32{grid.X, grid.Y, grid.Z}}
	inv.GlobalID[1] = wg[1]
	inv.GlobalID[2] = wg[2]
	for local := uint32(0); local < WorkgroupSize; local++ {
		inv.GlobalID[0] = wg[0]*WorkgroupSize + local
		k(inv, input, output)
	}
}

// Step applies the kernel to the first n records of a host buffer in place
// and returns the updated bodies. It is the sequential oracle for tests.
func Step(buf []byte, n int) []Body {
	out := make([]Body, n)
	for i := range out {
		b := LoadBody(buf, i).Advanced(TimeStep)
		storePosition(buf, i, b.Position)
		out[i] = b
	}
	return out
}

// Displacement returns the distance each body travels during one step.
func Displacement(b Body) float32 {
	return b.Velocity.Mul(TimeStep).Len()
}
