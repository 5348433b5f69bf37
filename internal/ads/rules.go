// Package ads selects an advertisement for the current scene from YAML rules.
package ads

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleSet is the parsed rules file.
type RuleSet struct {
	Global     Global     `yaml:"global"`
	Guardrails Guardrails `yaml:"guardrails"`
	Rules      []Rule     `yaml:"rules"`
}

type Global struct {
	CooldownSeconds *float64 `yaml:"cooldown_seconds"`
	MinPersonConf   float64  `yaml:"min_person_conf"`
	MinFaceConf     float64  `yaml:"min_face_conf"`
}

type Guardrails struct {
	IgnoreChildren *bool `yaml:"ignore_children"`
}

// Rule shows an ad when every condition in When holds.
type Rule struct {
	Name string    `yaml:"name"`
	When Condition `yaml:"when"`
	Show string    `yaml:"show"`
}

// Condition is a conjunction of optional clauses. A nil list means the
// clause is absent; an empty list never matches.
type Condition struct {
	PeopleCount        string   `yaml:"people_count"`
	TimeOfDayAnyOf     []string `yaml:"time_of_day_any_of"`
	AgeRange           []int    `yaml:"age_range"`
	ExpressionAnyOf    []string `yaml:"expression_any_of"`
	ClothingStyleAnyOf []string `yaml:"clothing_style_any_of"`

	count *countClause
}

type countClause struct {
	op string
	n  int
}

const defaultCooldown = 45 * time.Second

// Cooldown is the per-person interval between two ads.
func (r *RuleSet) Cooldown() time.Duration {
	if r.Global.CooldownSeconds == nil {
		return defaultCooldown
	}
	return time.Duration(*r.Global.CooldownSeconds * float64(time.Second))
}

// IgnoreChildren reports whether children-only scenes get no ad.
func (r *RuleSet) IgnoreChildren() bool {
	return r.Guardrails.IgnoreChildren == nil || *r.Guardrails.IgnoreChildren
}

// LoadRules reads and validates a rules file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates rules YAML.
func ParseRules(data []byte) (*RuleSet, error) {
	rs := &RuleSet{}
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *RuleSet) compile() error {
	if r.Global.CooldownSeconds != nil && *r.Global.CooldownSeconds < 0 {
		return fmt.Errorf("global.cooldown_seconds must not be negative")
	}
	for i := range r.Rules {
		rule := &r.Rules[i]
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i+1)
		}
		if rule.When.PeopleCount != "" {
			c, err := parseCount(rule.When.PeopleCount)
			if err != nil {
				return fmt.Errorf("rule %q: %w", rule.Name, err)
			}
			rule.When.count = c
		}
		if rule.When.AgeRange != nil && len(rule.When.AgeRange) != 2 {
			return fmt.Errorf("rule %q: age_range needs [min, max]", rule.Name)
		}
	}
	return nil
}

// parseCount parses ">=N", "==N" or "<=N".
func parseCount(expr string) (*countClause, error) {
	s := strings.TrimSpace(expr)
	if len(s) < 3 {
		return nil, fmt.Errorf("people_count %q: want >=N, ==N or <=N", expr)
	}
	op := s[:2]
	switch op {
	case ">=", "==", "<=":
	default:
		return nil, fmt.Errorf("people_count %q: unknown operator", expr)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[2:]))
	if err != nil {
		return nil, fmt.Errorf("people_count %q: %w", expr, err)
	}
	return &countClause{op: op, n: n}, nil
}

func (c *countClause) holds(v int) bool {
	switch c.op {
	case ">=":
		return v >= c.n
	case "==":
		return v == c.n
	default:
		return v <= c.n
	}
}

// match evaluates the condition against the scene and its dominant person.
// Person clauses are not checked when the scene has nobody in it.
func (c *Condition) match(ctx Context, dom *Person) bool {
	if c.count != nil && !c.count.holds(ctx.PeopleCount) {
		return false
	}
	if c.TimeOfDayAnyOf != nil && !contains(c.TimeOfDayAnyOf, ctx.TimeOfDay) {
		return false
	}
	if dom == nil {
		return true
	}
	if c.AgeRange != nil {
		if dom.Age == nil || *dom.Age < c.AgeRange[0] || *dom.Age > c.AgeRange[1] {
			return false
		}
	}
	if c.ExpressionAnyOf != nil && !contains(c.ExpressionAnyOf, dom.Expression) {
		return false
	}
	if c.ClothingStyleAnyOf != nil && !contains(c.ClothingStyleAnyOf, dom.ClothingStyle) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
