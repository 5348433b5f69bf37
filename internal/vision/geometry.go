package vision

import "math"

// iouEpsilon keeps IOU finite for zero-area boxes.
const iouEpsilon = 1e-6

// Box is an axis-aligned bounding box in frame pixel coordinates.
// Well-formed boxes have X1 < X2 and Y1 < Y2; degenerate boxes are tolerated.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// NewBox builds a Box from an [x1, y1, x2, y2] array.
func NewBox(b [4]float64) Box {
	return Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
}

// Array returns the box as [x1, y1, x2, y2].
func (b Box) Array() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area is the signed area; it is zero or negative for malformed boxes.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the box centroid.
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Clip clamps the box to a w x h frame.
func (b Box) Clip(w, h float64) Box {
	return Box{
		X1: clamp(b.X1, 0, w),
		Y1: clamp(b.Y1, 0, h),
		X2: clamp(b.X2, 0, w),
		Y2: clamp(b.Y2, 0, h),
	}
}

// IOU returns the intersection-over-union of two boxes. The union carries a
// small epsilon so degenerate boxes yield a low score instead of NaN.
func IOU(a, b Box) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	if inter == 0 {
		return 0
	}

	union := a.Area() + b.Area() - inter + iouEpsilon
	if union <= 0 {
		return 0
	}
	return math.Min(1, inter/union)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
