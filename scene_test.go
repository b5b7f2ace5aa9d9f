package bodysim

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBudget = 24 * 2000

func TestInitializeRanges(t *testing.T) {
	const n, width, height = 1000, 800, 600
	bodies, err := Initialize(n, width, height, WithSeed(1), WithSceneBudget(testBudget))
	require.NoError(t, err)
	require.Len(t, bodies.Data, testBudget)
	assert.Equal(t, n, bodies.Count)
	assert.Equal(t, 2000, bodies.Capacity())

	for i, b := range bodies.Bodies() {
		assert.GreaterOrEqual(t, b.Radius, float32(MinRadius), "body %d radius", i)
		assert.LessOrEqual(t, b.Radius, float32(MaxRadius), "body %d radius", i)
		assert.Zero(t, b.Padding, "body %d padding", i)
		assert.GreaterOrEqual(t, b.Position.X(), float32(0), "body %d x", i)
		assert.Less(t, b.Position.X(), float32(width), "body %d x", i)
		assert.GreaterOrEqual(t, b.Position.Y(), float32(0), "body %d y", i)
		assert.Less(t, b.Position.Y(), float32(height), "body %d y", i)
		for _, v := range b.Velocity {
			assert.GreaterOrEqual(t, v, float32(-MaxVelocity), "body %d velocity", i)
			assert.LessOrEqual(t, v, float32(MaxVelocity), "body %d velocity", i)
		}
	}

	tail := bodies.Data[n*RecordStride:]
	assert.Equal(t, make([]byte, len(tail)), tail, "records past Count must stay zero")
}

func TestInitializeDeterministic(t *testing.T) {
	a, err := Initialize(100, 320, 240, WithSeed(9), WithSceneBudget(testBudget))
	require.NoError(t, err)
	b, err := Initialize(100, 320, 240, WithSeed(9), WithSceneBudget(testBudget))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a.Data, b.Data))

	c, err := Initialize(100, 320, 240, WithSeed(10), WithSceneBudget(testBudget))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a.Data, c.Data))
}

func TestInitializeWithRand(t *testing.T) {
	r1 := rand.New(rand.NewPCG(3, 4))
	r2 := rand.New(rand.NewPCG(3, 4))
	a, err := Initialize(10, 100, 100, WithRand(r1), WithSceneBudget(240))
	require.NoError(t, err)
	b, err := Initialize(10, 100, 100, WithRand(r2), WithSceneBudget(240))
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	// Nil keeps the default source.
	_, err = Initialize(10, 100, 100, WithRand(nil), WithSceneBudget(240))
	assert.NoError(t, err)
}

func TestInitializeDefaultBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates the 128 MiB default budget")
	}
	bodies, err := Initialize(0, 1, 1)
	require.NoError(t, err)
	assert.Len(t, bodies.Data, DefaultBudget)
	assert.Equal(t, DefaultBudget/RecordStride, bodies.Capacity())
}

func TestInitializeErrors(t *testing.T) {
	tests := []struct {
		name    string
		n, w, h int
		budget  int
	}{
		{"too many bodies", 11, 10, 10, 240},
		{"negative count", -1, 10, 10, 240},
		{"zero width", 1, 0, 10, 240},
		{"negative height", 1, 10, -5, 240},
		{"zero budget", 0, 10, 10, 0},
		{"unaligned budget", 1, 10, 10, 242},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bodies, err := Initialize(tt.n, tt.w, tt.h, WithSeed(1), WithSceneBudget(tt.budget))
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Nil(t, bodies)
		})
	}
}

func TestInitializeExactFit(t *testing.T) {
	bodies, err := Initialize(10, 10, 10, WithSeed(1), WithSceneBudget(240))
	require.NoError(t, err)
	assert.Equal(t, 10, bodies.Capacity())
}
