package vision

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIOUIdenticalAndDisjoint(t *testing.T) {
	a := Box{10, 10, 50, 50}
	assert.InDelta(t, 1.0, IOU(a, a), 1e-6)

	b := Box{100, 100, 140, 140}
	assert.Equal(t, 0.0, IOU(a, b))

	// Touching edges share no area.
	c := Box{50, 10, 90, 50}
	assert.Equal(t, 0.0, IOU(a, c))
}

func TestIOUKnownOverlap(t *testing.T) {
	a := Box{10, 10, 50, 50}
	b := Box{12, 12, 52, 52}
	// 38*38 / (1600 + 1600 - 1444)
	assert.InDelta(t, 1444.0/1756.0, IOU(a, b), 1e-6)
	assert.Greater(t, IOU(a, b), 0.4)
}

func TestIOUDegenerateBoxes(t *testing.T) {
	zero := Box{20, 20, 20, 20}
	inverted := Box{50, 50, 10, 10}
	normal := Box{0, 0, 100, 100}

	assert.Equal(t, 0.0, IOU(zero, zero))
	assert.Equal(t, 0.0, IOU(zero, normal))
	assert.Equal(t, 0.0, IOU(inverted, normal))
	assert.Equal(t, 0.0, IOU(inverted, inverted))
}

func TestIOUSymmetryAndBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randBox := func() Box {
		// Includes malformed boxes on purpose.
		return Box{
			X1: rng.Float64()*200 - 20,
			Y1: rng.Float64()*200 - 20,
			X2: rng.Float64()*200 - 20,
			Y2: rng.Float64()*200 - 20,
		}
	}

	for i := 0; i < 5000; i++ {
		a, b := randBox(), randBox()
		ab, ba := IOU(a, b), IOU(b, a)
		if ab != ba {
			t.Fatalf("IOU not symmetric for %v %v: %v vs %v", a, b, ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Fatalf("IOU out of bounds for %v %v: %v", a, b, ab)
		}
	}
}

func TestBoxHelpers(t *testing.T) {
	b := Box{10, 20, 30, 60}
	cx, cy := b.Center()
	assert.Equal(t, 20.0, cx)
	assert.Equal(t, 40.0, cy)
	assert.Equal(t, 800.0, b.Area())
	assert.Equal(t, [4]float64{10, 20, 30, 60}, b.Array())
	assert.Equal(t, b, NewBox(b.Array()))

	clipped := Box{-5, -5, 700, 500}.Clip(640, 480)
	assert.Equal(t, Box{0, 0, 640, 480}, clipped)
}
