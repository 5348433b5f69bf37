package ads

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/your-org/retailedge/internal/timeutil"
)

const (
	ReasonChildrenOnly = "Guardrail: children-only scene"
	ReasonNoMatch      = "No rule matched"
)

// Engine picks an ad per frame and remembers when each person last saw one.
// It is safe for concurrent use; Watch may reload the rules while Choose runs.
type Engine struct {
	mu       sync.RWMutex
	path     string
	rules    *RuleSet
	lastShow map[int]time.Time

	clock  timeutil.Clock
	logger *slog.Logger
}

// NewEngine loads the rules file at path.
func NewEngine(path string, clock timeutil.Clock, logger *slog.Logger) (*Engine, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	e := NewEngineWithRules(rules, clock, logger)
	e.path = path
	return e, nil
}

// NewEngineWithRules builds an engine from already parsed rules.
func NewEngineWithRules(rules *RuleSet, clock timeutil.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:    rules,
		lastShow: make(map[int]time.Time),
		clock:    timeutil.OrReal(clock),
		logger:   logger,
	}
}

// Rules returns the active rule set.
func (e *Engine) Rules() *RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// Choose returns the ad to show for the scene and a human readable reason.
// adID is empty when no ad should be shown.
//
// Children-only scenes are refused when the guardrail is on. Otherwise the
// dominant person is the first non-child (or the first person), and the first
// matching rule wins unless that person saw an ad within the cooldown, in
// which case evaluation moves on to the next rule.
func (e *Engine) Choose(ctx Context) (adID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules := e.rules
	if rules.IgnoreChildren() && len(ctx.Persons) > 0 && allChildren(ctx.Persons) {
		return "", ReasonChildrenOnly
	}

	dom := dominant(ctx.Persons)
	now := e.clock.Now()
	cooldown := rules.Cooldown()

	for i := range rules.Rules {
		rule := &rules.Rules[i]
		if !rule.When.match(ctx, dom) {
			continue
		}
		if dom != nil {
			if last, ok := e.lastShow[dom.ID]; ok && now.Sub(last) < cooldown {
				continue
			}
			e.lastShow[dom.ID] = now
		}
		return rule.Show, fmt.Sprintf("Matched rule '%s'", rule.Name)
	}
	return "", ReasonNoMatch
}

// Forget drops cooldown state for ids that are no longer tracked.
func (e *Engine) Forget(live map[int]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.lastShow {
		if _, ok := live[id]; !ok {
			delete(e.lastShow, id)
		}
	}
}

// Reload re-reads the rules file. On error the current rules stay active.
func (e *Engine) Reload() error {
	if e.path == "" {
		return fmt.Errorf("reload rules: engine has no backing file")
	}
	rules, err := LoadRules(e.path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()

	e.logger.Info("ad rules reloaded", "path", e.path, "rules", len(rules.Rules))
	return nil
}

// Watch reloads the rules whenever the file is written or replaced, until
// ctx is cancelled. The parent directory is watched so that editors which
// save by rename are picked up.
func (e *Engine) Watch(ctx context.Context) error {
	if e.path == "" {
		return fmt.Errorf("watch rules: engine has no backing file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(e.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", e.path, err)
	}

	target := filepath.Clean(e.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				time.Sleep(100 * time.Millisecond) // debounce
				if err := e.Reload(); err != nil {
					e.logger.Error("failed to reload ad rules", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Error("rules watch error", "error", err)
			}
		}
	}()
	return nil
}

func allChildren(persons []Person) bool {
	for _, p := range persons {
		if !p.IsChild {
			return false
		}
	}
	return true
}

func dominant(persons []Person) *Person {
	for i := range persons {
		if !persons[i].IsChild {
			return &persons[i]
		}
	}
	if len(persons) > 0 {
		return &persons[0]
	}
	return nil
}
