package bodysim

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	buf := make([]byte, 3*RecordStride)
	b := Body{Radius: 5, Position: mgl32.Vec2{1, 2}, Velocity: mgl32.Vec2{-3, 4}}
	Encode(buf, 1, b)

	assert.Equal(t, b, Decode(buf, 1))
	assert.Equal(t, Body{}, Decode(buf, 0))
	assert.Equal(t, Body{}, Decode(buf, 2))
	assert.Equal(t, []Body{{}, b}, DecodeAll(buf, 2))
}

func TestEncodeLayout(t *testing.T) {
	buf := make([]byte, RecordStride)
	Encode(buf, 0, Body{Radius: 1, Padding: 2, Position: mgl32.Vec2{3, 4}, Velocity: mgl32.Vec2{5, 6}})

	// 1.0f = 0x3f800000, little-endian.
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, buf[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0xc0, 0x40}, buf[20:24], "velocity.y = 6")
}

func TestEncodeOutOfRangePanics(t *testing.T) {
	buf := make([]byte, RecordStride)
	assert.Panics(t, func() { Encode(buf, 1, Body{}) })
	assert.Panics(t, func() { Decode(buf, 1) })
}

func TestBodyBufferApply(t *testing.T) {
	bodies, err := Initialize(4, 100, 100, WithSeed(5), WithSceneBudget(240))
	require.NoError(t, err)
	before := bodies.Bodies()

	result := make([]Body, 4)
	for i := range result {
		result[i].Position = mgl32.Vec2{float32(i), float32(-i)}
	}
	bodies.Apply(result)

	for i, b := range bodies.Bodies() {
		assert.Equal(t, result[i].Position, b.Position)
		assert.Equal(t, before[i].Radius, b.Radius)
		assert.Equal(t, before[i].Velocity, b.Velocity)
	}
	assert.Equal(t, before[0].Radius, bodies.Body(0).Radius)
}
