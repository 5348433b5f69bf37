package ads

import (
	"image"
	"time"

	"github.com/your-org/retailedge/internal/vision"
)

// Clothing styles.
const (
	StyleBright  = "bright"
	StyleFormal  = "formal"
	StyleCasual  = "casual"
	StyleUnknown = "unknown"
)

// Person is a tracked person enriched with face and clothing attributes.
type Person struct {
	ID            int        `json:"id"`
	Box           vision.Box `json:"box"`
	Age           *int       `json:"age,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	Expression    string     `json:"expression"`
	ClothingStyle string     `json:"clothing_style"`
	IsChild       bool       `json:"is_child"`
}

// Context is the scene summary rules are evaluated against.
type Context struct {
	PeopleCount int      `json:"people_count"`
	TimeOfDay   string   `json:"time_of_day"`
	Persons     []Person `json:"persons"`
}

// Fuse joins tracked people with their face infos (matched by position) and
// classifies clothing from the torso region of frame.
func Fuse(frame image.Image, tracked []vision.TrackedPerson, faces []vision.FaceInfo, now time.Time) (Context, []Person) {
	n := min(len(tracked), len(faces))
	persons := make([]Person, 0, n)

	for i := 0; i < n; i++ {
		t, f := tracked[i], faces[i]
		expr := f.Expression
		if expr == "" {
			expr = "neutral"
		}
		persons = append(persons, Person{
			ID:            t.ID,
			Box:           t.Box,
			Age:           f.Age,
			Gender:        f.Gender,
			Expression:    expr,
			ClothingStyle: ClothingStyle(frame, t.Box),
			IsChild:       f.IsChild,
		})
	}

	return Context{
		PeopleCount: len(persons),
		TimeOfDay:   TimeOfDay(now),
		Persons:     persons,
	}, persons
}

// TimeOfDay labels the local hour of t.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

// ClothingStyle classifies the torso band of box (30% to 80% of its height)
// by mean HSV value and saturation on a 0-255 scale.
func ClothingStyle(frame image.Image, box vision.Box) string {
	if frame == nil {
		return StyleUnknown
	}
	h := box.Height()
	torso := image.Rect(
		int(box.X1), int(box.Y1+0.3*h),
		int(box.X2), int(box.Y1+0.8*h),
	).Intersect(frame.Bounds())
	if torso.Empty() {
		return StyleUnknown
	}

	var sumV, sumS float64
	for y := torso.Min.Y; y < torso.Max.Y; y++ {
		for x := torso.Min.X; x < torso.Max.X; x++ {
			r, g, b, _ := frame.At(x, y).RGBA()
			v, s := valueSaturation(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			sumV += v
			sumS += s
		}
	}
	px := float64(torso.Dx() * torso.Dy())
	meanV, meanS := sumV/px, sumS/px

	switch {
	case meanV > 170 && meanS > 60:
		return StyleBright
	case meanV < 110:
		return StyleFormal
	default:
		return StyleCasual
	}
}

func valueSaturation(r, g, b uint8) (v, s float64) {
	hi := max(r, g, b)
	lo := min(r, g, b)
	if hi == 0 {
		return 0, 0
	}
	return float64(hi), 255 * float64(hi-lo) / float64(hi)
}
