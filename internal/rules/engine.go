// Package rules implements the Conditional evaluator and the rule-selection
// algorithm that decides which MatchRule an application currently belongs
// to, including its enter_time dwell-timer hysteresis.
package rules

import (
	"slices"
	"sync"
	"time"

	"github.com/hammock-linux/hammockd/internal/config"
)

// Context is everything evaluate needs to test a Conditional against one
// application at one point in time.
type Context struct {
	CurrentRule config.Rule
	Tags        []config.Tag
	Event       *config.Event // nil when evaluating outside of a specific triggering event
}

// HasTag reports whether tag is present in the context's tag set.
func (c Context) HasTag(tag config.Tag) bool {
	return slices.Contains(c.Tags, tag)
}

// Evaluate tests a Conditional against ctx. A nil Conditional (an unset
// only_from/never_from) evaluates to false: an absent restriction excludes
// nothing by itself, but evaluate is only ever called when the caller
// already knows a restriction is present.
func Evaluate(cond *config.Conditional, ctx Context) bool {
	if cond == nil {
		return false
	}

	switch {
	case cond.Rule != nil:
		return ctx.CurrentRule == *cond.Rule
	case cond.Event != nil:
		return ctx.Event != nil && *ctx.Event == *cond.Event
	case cond.Tag != nil:
		return ctx.HasTag(*cond.Tag)
	case cond.Not != nil:
		return !Evaluate(cond.Not, ctx)
	case cond.AnyOf != nil:
		for _, c := range cond.AnyOf {
			if Evaluate(c, ctx) {
				return true
			}
		}
		return false
	case cond.AllOf != nil:
		for _, c := range cond.AllOf {
			if !Evaluate(c, ctx) {
				return false
			}
		}
		return true
	case cond.OneOf != nil:
		count := 0
		for _, c := range cond.OneOf {
			if Evaluate(c, ctx) {
				count++
			}
		}
		return count == 1
	default:
		return false
	}
}

// Engine selects which MatchRule an application belongs in, applying each
// rule's enter_time dwell timer: a candidate only becomes the active rule
// once it has been the best match continuously for that long. The rule
// list is behind a read/write guard so a config reload can swap it while
// evaluations proceed on the controller goroutine.
type Engine struct {
	mu    sync.RWMutex
	rules []config.MatchRule
}

// NewEngine builds an Engine over the configured match rules, in the order
// they appear in the config file; that order is the tie-break when more
// than one rule's only_from/never_from both permit the application.
func NewEngine(rules []config.MatchRule) *Engine {
	return &Engine{rules: rules}
}

// Replace swaps the configured match rules for a newly loaded set. Callers
// must validate the new set first; a half-checked rule tree installed here
// mis-places every application until the next reload.
func (e *Engine) Replace(rules []config.MatchRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}

// candidate returns the first configured rule (in config order) whose
// only_from/never_from conditions both permit ctx.
func (e *Engine) candidate(ctx Context) (config.MatchRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, mr := range e.rules {
		if mr.OnlyFrom != nil && !Evaluate(mr.OnlyFrom, ctx) {
			continue
		}
		if mr.NeverFrom != nil && Evaluate(mr.NeverFrom, ctx) {
			continue
		}
		return mr, true
	}
	return config.MatchRule{}, false
}

// PendingState tracks a single application's candidate-rule dwell timer
// across successive Engine.Select calls.
type PendingState struct {
	Candidate config.Rule
	Since     time.Time
}

// Select determines whether ctx's application should transition to a new
// rule at time now, given its prior pending dwell state. It returns the
// rule to apply (unchanged from ctx.CurrentRule if no dwell-qualifying
// transition is due) and the updated PendingState to persist for next
// time.
func (e *Engine) Select(ctx Context, pending PendingState, now time.Time) (config.Rule, PendingState) {
	mr, ok := e.candidate(ctx)
	if !ok {
		return ctx.CurrentRule, pending
	}

	if mr.Name == ctx.CurrentRule {
		return ctx.CurrentRule, PendingState{}
	}

	if pending.Candidate != mr.Name {
		pending = PendingState{Candidate: mr.Name, Since: now}
	}

	dwell := mr.EnterTime.Lookup(ctx.CurrentRule)
	if now.Sub(pending.Since) >= time.Duration(dwell)*time.Millisecond {
		return mr.Name, PendingState{}
	}

	return ctx.CurrentRule, pending
}
