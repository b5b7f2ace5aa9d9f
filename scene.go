package bodysim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Scene ranges.
const (
	MinRadius   = 2
	MaxRadius   = 10
	MaxVelocity = 100
)

// SceneOption configures Initialize.
//
// Example:
//
//	bodies, err := bodysim.Initialize(1000, 800, 600,
//	    bodysim.WithSeed(7),
//	    bodysim.WithSceneBudget(1<<20))
type SceneOption func(*sceneOptions)

type sceneOptions struct {
	rng    *rand.Rand
	budget int
}

func defaultSceneOptions() sceneOptions {
	now := uint64(time.Now().UnixNano()) //nolint:gosec // seed only
	return sceneOptions{
		rng:    rand.New(rand.NewPCG(now, now>>1|1)),
		budget: DefaultBudget,
	}
}

// WithRand sets the random source. Nil keeps the default time-seeded one.
func WithRand(r *rand.Rand) SceneOption {
	return func(o *sceneOptions) {
		if r != nil {
			o.rng = r
		}
	}
}

// WithSeed seeds a PCG source, making Initialize deterministic.
func WithSeed(seed uint64) SceneOption {
	return func(o *sceneOptions) {
		o.rng = rand.New(rand.NewPCG(seed, seed^0x853c49e6748fea9b))
	}
}

// WithSceneBudget sets the byte size of the returned buffer.
func WithSceneBudget(bytes int) SceneOption {
	return func(o *sceneOptions) {
		o.budget = bytes
	}
}

// Initialize returns a zero-filled buffer of the byte budget whose first n
// records hold random bodies: radius in [2, 10], position inside the
// width x height extent, each velocity component in [-100, 100].
//
// The buffer size does not depend on n. An n that does not fit the budget,
// a negative n, a non-positive extent, or a budget that is not a positive
// multiple of 4 returns ErrConfiguration and no buffer.
func Initialize(n, width, height int, opts ...SceneOption) (*BodyBuffer, error) {
	o := defaultSceneOptions()
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case o.budget <= 0 || o.budget%4 != 0:
		return nil, fmt.Errorf("%w: budget %d is not a positive multiple of 4", ErrConfiguration, o.budget)
	case n < 0:
		return nil, fmt.Errorf("%w: negative body count %d", ErrConfiguration, n)
	case width <= 0 || height <= 0:
		return nil, fmt.Errorf("%w: extent %dx%d", ErrConfiguration, width, height)
	case n*RecordStride > o.budget:
		return nil, fmt.Errorf("%w: %d bodies need %d bytes, budget is %d",
			ErrConfiguration, n, n*RecordStride, o.budget)
	}

	buf := &BodyBuffer{Data: make([]byte, o.budget), Count: n}
	for i := 0; i < n; i++ {
		Encode(buf.Data, i, randomBody(o.rng, width, height))
	}
	Logger().Debug("bodysim: scene initialized", "bodies", n, "width", width, "height", height, "budget", o.budget)
	return buf, nil
}

func randomBody(r *rand.Rand, width, height int) Body {
	return Body{
		Radius:   MinRadius + (MaxRadius-MinRadius)*r.Float32(),
		Position: mgl32.Vec2{below(r, width), below(r, height)},
		Velocity: mgl32.Vec2{
			MaxVelocity * (2*r.Float32() - 1),
			MaxVelocity * (2*r.Float32() - 1),
		},
	}
}

// below returns a uniform float32 in [0, limit).
func below(r *rand.Rand, limit int) float32 {
	v := float32(r.Float64() * float64(limit))
	if v >= float32(limit) {
		v = math.Nextafter32(float32(limit), 0)
	}
	return v
}
