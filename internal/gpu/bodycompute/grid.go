// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package bodycompute

import (
	"errors"
	"fmt"
)

// MaxWorkgroupsPerDimension is the WebGPU default for
// maxComputeWorkgroupsPerDimension.
const MaxWorkgroupsPerDimension = 65535

// ErrGridTooLarge is returned when a workload cannot be folded into a grid
// whose every dimension stays within the limit.
var ErrGridTooLarge = errors.New("bodycompute: workgroup count exceeds grid limits")

// Grid is a dispatch size in workgroups.
type Grid struct {
	X, Y, Z uint32
}

// Workgroups returns the number of workgroups in the grid.
func (g Grid) Workgroups() uint64 {
	return uint64(g.X) * uint64(g.Y) * uint64(g.Z)
}

// Invocations returns the number of kernel invocations the grid launches.
func (g Grid) Invocations() uint64 {
	return g.Workgroups() * WorkgroupSize
}

// Empty reports whether the grid launches nothing.
func (g Grid) Empty() bool {
	return g.X == 0 || g.Y == 0 || g.Z == 0
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%dx%d", g.X, g.Y, g.Z)
}

// WorkgroupCount returns ceil(records / WorkgroupSize). Zero records need
// zero workgroups.
func WorkgroupCount(records int) uint64 {
	if records <= 0 {
		return 0
	}
	return (uint64(records) + WorkgroupSize - 1) / WorkgroupSize
}

// GridFor folds the workgroups needed for records into a 3-D grid.
//
// X is filled first, then Y, then Z, each capped at maxPerDim. The grid
// may launch more invocations than records; the kernel guard discards the
// surplus. A maxPerDim of 0 selects MaxWorkgroupsPerDimension.
func GridFor(records int, maxPerDim uint32) (Grid, error) {
	if maxPerDim == 0 {
		maxPerDim = MaxWorkgroupsPerDimension
	}
	groups := WorkgroupCount(records)
	if groups == 0 {
		return Grid{}, nil
	}
	limit := uint64(maxPerDim)

	x := min(groups, limit)
	rest := ceilDiv(groups, x)
	y := min(rest, limit)
	z := ceilDiv(rest, y)
	if z > limit {
		return Grid{}, fmt.Errorf("%w: %d workgroups with %d per dimension", ErrGridTooLarge, groups, maxPerDim)
	}
	return Grid{X: uint32(x), Y: uint32(y), Z: uint32(z)}, nil //nolint:gosec // each dimension is capped at maxPerDim
}

// Each calls fn for every workgroup id of g in X-major order.
func (g Grid) Each(fn func(wg [3]uint32)) {
	for z := uint32(0); z < g.Z; z++ {
		for y := uint32(0); y < g.Y; y++ {
			for x := uint32(0); x < g.X; x++ {
				fn([3]uint32{x, y, z})
			}
		}
	}
}

// At returns the workgroup id at linear position i of g (X-major).
func (g Grid) At(i uint64) [3]uint32 {
	x := i % uint64(g.X)
	i /= uint64(g.X)
	y := i % uint64(g.Y)
	z := i / uint64(g.Y)
	return [3]uint32{uint32(x), uint32(y), uint32(z)} //nolint:gosec // bounded by grid dimensions
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
