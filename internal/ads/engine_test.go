package ads

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/retailedge/internal/timeutil"
	"github.com/your-org/retailedge/internal/vision"
)

const testRules = `
global:
  cooldown_seconds: 45
  min_person_conf: 0.3
  min_face_conf: 0.5
guardrails:
  ignore_children: true
rules:
  - name: young_bright
    when:
      age_range: [18, 30]
      clothing_style_any_of: [bright]
    show: ads/sneakers.mp4
  - name: crowd
    when:
      people_count: ">=3"
    show: ads/group_offer.mp4
  - name: evening_formal
    when:
      time_of_day_any_of: [evening]
      clothing_style_any_of: [formal]
    show: ads/watch.mp4
  - name: fallback
    when: {}
    show: ads/default.mp4
`

func intp(v int) *int { return &v }

func newTestEngine(t *testing.T) (*Engine, *timeutil.MockClock) {
	t.Helper()
	rules, err := ParseRules([]byte(testRules))
	require.NoError(t, err)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	return NewEngineWithRules(rules, clock, nil), clock
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(testRules))
	require.NoError(t, err)
	assert.Len(t, rules.Rules, 4)
	assert.Equal(t, 45*time.Second, rules.Cooldown())
	assert.True(t, rules.IgnoreChildren())
	assert.Equal(t, 0.3, rules.Global.MinPersonConf)
}

func TestParseRulesDefaults(t *testing.T) {
	rules, err := ParseRules([]byte("rules:\n  - show: a.mp4\n"))
	require.NoError(t, err)
	assert.Equal(t, defaultCooldown, rules.Cooldown())
	assert.True(t, rules.IgnoreChildren())
	assert.Equal(t, "rule-1", rules.Rules[0].Name)
}

func TestParseRulesRejectsBadClauses(t *testing.T) {
	for _, doc := range []string{
		"rules:\n  - when: {people_count: '>3'}\n",
		"rules:\n  - when: {people_count: '>=x'}\n",
		"rules:\n  - when: {age_range: [1, 2, 3]}\n",
		"global: {cooldown_seconds: -1}\n",
		"rules: [",
	} {
		_, err := ParseRules([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestChooseChildrenOnlyGuardrail(t *testing.T) {
	e, _ := newTestEngine(t)
	ad, reason := e.Choose(Context{PeopleCount: 2, Persons: []Person{
		{ID: 1, IsChild: true},
		{ID: 2, IsChild: true},
	}})
	assert.Empty(t, ad)
	assert.Equal(t, ReasonChildrenOnly, reason)
}

func TestChooseDominantIsFirstAdult(t *testing.T) {
	e, _ := newTestEngine(t)
	ad, reason := e.Choose(Context{PeopleCount: 2, TimeOfDay: "morning", Persons: []Person{
		{ID: 1, IsChild: true, Age: intp(8), ClothingStyle: StyleBright},
		{ID: 2, Age: intp(24), ClothingStyle: StyleBright},
	}})
	assert.Equal(t, "ads/sneakers.mp4", ad)
	assert.Equal(t, "Matched rule 'young_bright'", reason)
}

func TestChooseRulesInOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := Context{PeopleCount: 1, TimeOfDay: "evening", Persons: []Person{
		{ID: 5, Age: intp(50), ClothingStyle: StyleFormal},
	}}
	ad, _ := e.Choose(ctx)
	assert.Equal(t, "ads/watch.mp4", ad)
}

func TestChooseCooldownFallsThrough(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := Context{PeopleCount: 1, TimeOfDay: "morning", Persons: []Person{
		{ID: 3, Age: intp(22), ClothingStyle: StyleBright},
	}}

	ad, _ := e.Choose(ctx)
	assert.Equal(t, "ads/sneakers.mp4", ad)

	// Same person inside the cooldown: every matching rule is skipped.
	clock.Advance(10 * time.Second)
	ad, reason := e.Choose(ctx)
	assert.Empty(t, ad)
	assert.Equal(t, ReasonNoMatch, reason)

	clock.Advance(36 * time.Second)
	ad, _ = e.Choose(ctx)
	assert.Equal(t, "ads/sneakers.mp4", ad)
}

func TestChooseEmptyScene(t *testing.T) {
	e, _ := newTestEngine(t)

	// Nobody present: person clauses are not evaluated and there is no
	// cooldown to respect.
	ad, reason := e.Choose(Context{TimeOfDay: "night"})
	assert.Equal(t, "ads/sneakers.mp4", ad)
	assert.Equal(t, "Matched rule 'young_bright'", reason)
}

func TestChooseNoRuleMatched(t *testing.T) {
	rules, err := ParseRules([]byte("rules:\n  - name: crowd\n    when: {people_count: '==4'}\n    show: x\n"))
	require.NoError(t, err)
	e := NewEngineWithRules(rules, nil, nil)

	ad, reason := e.Choose(Context{PeopleCount: 1, Persons: []Person{{ID: 1}}})
	assert.Empty(t, ad)
	assert.Equal(t, ReasonNoMatch, reason)
}

func TestChooseGuardrailDisabled(t *testing.T) {
	rules, err := ParseRules([]byte("guardrails: {ignore_children: false}\nrules:\n  - name: any\n    show: kids.mp4\n"))
	require.NoError(t, err)
	e := NewEngineWithRules(rules, nil, nil)

	ad, _ := e.Choose(Context{PeopleCount: 1, Persons: []Person{{ID: 1, IsChild: true}}})
	assert.Equal(t, "kids.mp4", ad)
}

func TestForget(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := Context{PeopleCount: 1, Persons: []Person{{ID: 9, Age: intp(20), ClothingStyle: StyleBright}}}
	e.Choose(ctx)
	require.Len(t, e.lastShow, 1)

	e.Forget(map[int]struct{}{})
	assert.Empty(t, e.lastShow)
}

func TestWatchReloadsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: a\n    show: a.mp4\n"), 0o644))

	e, err := NewEngine(path, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: b\n    show: b.mp4\n"), 0o644))

	assert.Eventually(t, func() bool {
		r := e.Rules()
		return len(r.Rules) == 1 && r.Rules[0].Name == "b"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestReloadKeepsRulesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: a\n    show: a.mp4\n"), 0o644))
	e, err := NewEngine(path, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))
	assert.Error(t, e.Reload())
	assert.Equal(t, "a", e.Rules().Rules[0].Name)
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestClothingStyle(t *testing.T) {
	box := vision.Box{X1: 10, Y1: 10, X2: 50, Y2: 90}

	assert.Equal(t, StyleBright, ClothingStyle(solid(100, 100, color.RGBA{R: 250, G: 40, B: 40, A: 255}), box))
	assert.Equal(t, StyleFormal, ClothingStyle(solid(100, 100, color.RGBA{R: 30, G: 30, B: 40, A: 255}), box))
	assert.Equal(t, StyleCasual, ClothingStyle(solid(100, 100, color.RGBA{R: 200, G: 200, B: 200, A: 255}), box))
	assert.Equal(t, StyleUnknown, ClothingStyle(solid(100, 100, color.RGBA{}), vision.Box{X1: 200, Y1: 200, X2: 300, Y2: 300}))
	assert.Equal(t, StyleUnknown, ClothingStyle(nil, box))
}

func TestTimeOfDay(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 1, 1, h, 30, 0, 0, time.UTC) }
	assert.Equal(t, "night", TimeOfDay(at(5)))
	assert.Equal(t, "morning", TimeOfDay(at(6)))
	assert.Equal(t, "afternoon", TimeOfDay(at(12)))
	assert.Equal(t, "evening", TimeOfDay(at(17)))
	assert.Equal(t, "evening", TimeOfDay(at(20)))
	assert.Equal(t, "night", TimeOfDay(at(21)))
}

func TestFuse(t *testing.T) {
	frame := solid(200, 200, color.RGBA{R: 30, G: 30, B: 30, A: 255})
	tracked := []vision.TrackedPerson{
		{ID: 1, Box: vision.Box{X1: 0, Y1: 0, X2: 50, Y2: 100}},
		{ID: 2, Box: vision.Box{X1: 100, Y1: 0, X2: 150, Y2: 100}},
	}
	faces := []vision.FaceInfo{
		{HasFace: true, Age: intp(35), Gender: "female", Expression: "neutral"},
		{},
	}

	ctx, persons := Fuse(frame, tracked, faces, time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC))
	require.Len(t, persons, 2)
	assert.Equal(t, 2, ctx.PeopleCount)
	assert.Equal(t, "evening", ctx.TimeOfDay)
	assert.Equal(t, 35, *persons[0].Age)
	assert.Equal(t, StyleFormal, persons[0].ClothingStyle)
	assert.Equal(t, "neutral", persons[1].Expression)
	assert.Nil(t, persons[1].Age)

	// Fewer face infos than people: only aligned pairs are fused.
	ctx, persons = Fuse(frame, tracked, faces[:1], time.Now())
	assert.Len(t, persons, 1)
	assert.Equal(t, 1, ctx.PeopleCount)
}
