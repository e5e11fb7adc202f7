// Package lifecycle implements the top-level event loop: it drains the
// aggregated HammockEvent channel, mutates the application registry, asks
// the rule engine which match rule each application now belongs to, and
// realizes that decision through the cgroup controller and the
// suspend/resume handshake with logind.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hammock-linux/hammockd/internal/cgroup"
	"github.com/hammock-linux/hammockd/internal/config"
	"github.com/hammock-linux/hammockd/internal/dbussrc"
	hmerr "github.com/hammock-linux/hammockd/internal/errors"
	"github.com/hammock-linux/hammockd/internal/events"
	"github.com/hammock-linux/hammockd/internal/logging"
	"github.com/hammock-linux/hammockd/internal/registry"
	"github.com/hammock-linux/hammockd/internal/rules"
	"github.com/hammock-linux/hammockd/internal/wakeup"
)

// tickPeriod is the controller's target loop period.
const tickPeriod = 200 * time.Millisecond

// suspendSettle is how long the controller waits after SystemSuspend(true)
// before freezing, giving the compositor time to turn off outputs.
const suspendSettle = 400 * time.Millisecond

// activatedTag is the derived tag the controller maintains on an App
// whenever its most recently committed toplevel reports the Activated
// state. rules.DefaultRuleSet's Foreground rule keys off this tag, which
// is how the degenerate "Activated -> Foreground, else -> Background"
// policy survives as the fallback rule set rather than as a parallel
// code path.
const activatedTag config.Tag = "activated"

// Deps are the already-constructed collaborators a Controller drives.
// Suspend and Wakeup are optional: a misconfigured or unavailable logind
// inhibitor or an empty wake_sources list should not prevent hammockd
// from tracking applications.
type Deps struct {
	Bus      *events.Bus
	Registry *registry.Registry
	Engine   *rules.Engine
	Cgroups  *cgroup.Controller
	Root     *cgroup.Handle
	Suspend  *dbussrc.SuspendSource
	Wakeup   *wakeup.Probe
	Log      *logging.Logger
}

// Controller is the daemon's single event consumer. It is not safe for
// concurrent use: Run's goroutine is the sole mutator of pending, and all
// registry/cgroup access happens from that same goroutine.
type Controller struct {
	bus      *events.Bus
	registry *registry.Registry
	engine   *rules.Engine
	cgroups  *cgroup.Controller
	root     *cgroup.Handle
	suspend  *dbussrc.SuspendSource
	wakeup   *wakeup.Probe
	log      *logging.Logger

	// pending tracks each application's in-progress enter_time dwell
	// timer between ticks.
	pending map[registry.Key]rules.PendingState
}

// New creates a Controller over the given dependencies.
func New(d Deps) *Controller {
	log := d.Log
	if log == nil {
		log = logging.NopLogger()
	}
	return &Controller{
		bus:      d.Bus,
		registry: d.Registry,
		engine:   d.Engine,
		cgroups:  d.Cgroups,
		root:     d.Root,
		suspend:  d.Suspend,
		wakeup:   d.Wakeup,
		log:      log.WithComponent("lifecycle"),
		pending:  make(map[registry.Key]rules.PendingState),
	}
}

// Run drains the event bus on a fixed tick until ctx is cancelled. Each
// tick drains every event currently buffered and dispatches it in arrival
// order before the next tick fires, then re-evaluates every app whose
// enter_time dwell is still pending, so a transition commits once its
// dwell has elapsed even if no further event arrives for that app. It
// does not itself sleep beyond waiting for the ticker.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, ev := range c.bus.Drain() {
				c.Handle(ev)
			}
			for key, p := range c.pending {
				if p.Candidate == "" {
					continue
				}
				if _, ok := c.registry.Get(key); !ok {
					delete(c.pending, key)
					continue
				}
				c.evaluate(key, nil)
			}
		}
	}
}

// Handle dispatches a single event. Exported so tests (and a future
// synchronous debug mode) can drive the controller without a ticker.
func (c *Controller) Handle(ev events.Event) {
	switch e := ev.(type) {
	case events.NewApplicationEvent:
		c.handleNewApplication(e)
	case events.NewToplevelEvent:
		c.handleToplevel(e.Handle, e.Snapshot, true)
	case events.ToplevelChangedEvent:
		c.handleToplevel(e.Handle, e.Snapshot, false)
	case events.ToplevelClosedEvent:
		c.handleToplevelClosed(e)
	case events.SystemSuspendEvent:
		c.handleSystemSuspend()
	case events.SystemResumeEvent:
		c.handleSystemResume()
	default:
		c.log.Warn("unhandled event type", "event_type", ev.EventType())
	}
}

// handleNewApplication records a D-Bus-launched application and lets the
// rule engine place it.
func (c *Controller) handleNewApplication(ev events.NewApplicationEvent) {
	app := c.registry.InsertFromLaunch(ev)
	launch := config.EventLaunch
	c.evaluate(app.Key, &launch)
}

// handleToplevel correlates a toplevel commit to its App and re-evaluates
// that App's rule. isNew is true when the aggregator's generation counter
// is 1, i.e. the handle's first commit.
func (c *Controller) handleToplevel(handle uint64, snap events.ToplevelSnapshot, isNew bool) {
	var app registry.App
	if isNew {
		app = c.registry.InsertFromToplevel(handle, snap)
	} else if a, ok := c.registry.UpdateToplevel(handle, snap); ok {
		app = a
	} else if snap.AppId != "" || snap.PID != 0 {
		// The handle outran its own NewToplevel commit (e.g. the registry
		// evicted the owning App between commits). Re-resolve rather than
		// dropping a live window.
		app = c.registry.InsertFromToplevel(handle, snap)
	} else {
		c.log.Warn("dropping ToplevelChanged with no app_id or pid to correlate", "handle", handle)
		return
	}

	tags := deriveTags(snap)
	if updated, ok := c.registry.SetTags(app.Key, tags); ok {
		app = updated
	}

	c.evaluate(app.Key, nil)
}

// deriveTags derives the controller-maintained tag set from a toplevel's
// committed state. Only "activated" is derived today; operator-defined
// tags would be added here by whatever future mechanism assigns them.
func deriveTags(snap events.ToplevelSnapshot) []config.Tag {
	if snap.State == events.ToplevelActivated {
		return []config.Tag{activatedTag}
	}
	return nil
}

// handleToplevelClosed removes the toplevel, dropping the whole App if it
// was the last one open. A closed handle the registry never tracked is a
// no-op, not an error.
func (c *Controller) handleToplevelClosed(ev events.ToplevelClosedEvent) {
	app, evicted, ok := c.registry.RemoveToplevel(ev.Handle)
	if !ok {
		c.log.Debug("ToplevelClosed for unknown handle, ignoring", "handle", ev.Handle)
		return
	}
	if evicted {
		delete(c.pending, app.Key)
	}
}

// evaluate re-reads an App's current state, asks the RuleEngine whether
// its dwell-timer-qualified rule has changed, and if so realizes the
// transition through the cgroup Controller. trigger is the event that
// prompted this evaluation, nil when there isn't a specific one; a
// Conditional's Event atom only matches when one is supplied.
func (c *Controller) evaluate(key registry.Key, trigger *config.Event) {
	app, ok := c.registry.Get(key)
	if !ok {
		return
	}

	ctx := rules.Context{CurrentRule: app.Rule, Tags: app.Tags, Event: trigger}
	now := time.Now()
	newRule, pending := c.engine.Select(ctx, c.pending[key], now)
	c.pending[key] = pending

	if newRule == app.Rule {
		return
	}
	if err := c.moveToRule(app, newRule); err != nil {
		c.log.Warn("failed to move app to rule", "app_id", app.Key.AppId, "pid", app.Key.FirstPID, "rule", newRule, "error", err)
		return
	}
	c.registry.SetRule(key, newRule, now)
}

// moveToRule migrates app's own per-app cgroup out of its current rule's
// cgroup and into rule's, then persists the new Handle on the registry's
// copy of app. A task that has already exited when the migration copies
// it over is a logged warning, not an aborted transition. The destination rule
// cgroup's own freezer state (Background/Snooze frozen, everything else
// thawed, applied once at startup and reconciled on resume, see
// ReconcileFreezeState) is what actually determines whether app runs:
// cgroup v2 freezer state is inherited down the hierarchy, so nesting
// app's cgroup under rule's is enough on its own.
func (c *Controller) moveToRule(app registry.App, rule config.Rule) error {
	if app.Cgroup == nil {
		return hmerr.NewConfigurationError("registry", fmt.Sprintf("app %s/%d has no cgroup to migrate", app.Key.AppId, app.Key.FirstPID))
	}

	next, errs := c.cgroups.MoveAppCgroup(app.Cgroup, app.Cgroup.Name(), string(app.Rule), string(rule))
	for _, err := range errs {
		c.log.Warn("pid race migrating app cgroup", "app_id", app.Key.AppId, "pid", app.Key.FirstPID, "rule", rule, "error", err)
	}
	if next == nil {
		return hmerr.NewConfigurationError("match_rules", fmt.Sprintf("no cgroup configured for rule %q", rule))
	}

	c.registry.SetCgroup(app.Key, next)
	return nil
}

// freezesOnEntry reports whether rule's cgroup should be frozen by
// default. Foreground, Recents, and Media stay runnable; Background and
// Snooze freeze, matching the degenerate Activated->Foreground/else->
// Background policy of DefaultRuleSet, generalized across all five
// rules. ReconcileFreezeState applies this at startup and on every
// resume from suspend except a Modem wake.
func freezesOnEntry(rule config.Rule) bool {
	switch rule {
	case config.RuleBackground, config.RuleSnooze:
		return true
	default:
		return false
	}
}

// ReconcileFreezeState thaws every rule cgroup and then re-freezes the
// ones whose default policy (freezesOnEntry) calls for it. Since cgroup
// v2 freezer state is inherited down the hierarchy, this single pass
// over the rule cgroups is enough to correctly (re-)freeze every app
// cgroup nested beneath them, without the controller tracking each app
// individually; it's exercised at startup (internal/cmd) and again on
// every SystemResume except a Modem wake.
func (c *Controller) ReconcileFreezeState() {
	if c.cgroups == nil {
		return
	}
	for _, err := range c.cgroups.ThawAll() {
		c.log.Warn("failed to thaw rule cgroup during reconcile", "error", err)
	}

	all := config.AllRules()
	except := make([]string, 0, len(all))
	for _, rule := range all {
		if !freezesOnEntry(rule) {
			except = append(except, string(rule))
		}
	}
	for _, err := range c.cgroups.FreezeAll(except...) {
		c.log.Warn("failed to freeze rule cgroup during reconcile", "error", err)
	}
}

// handleSystemSuspend runs the pre-sleep handshake: settle, freeze
// user-space, release the delay inhibitor. It must not block the
// controller's ability to keep draining the event bus, so the sequence
// runs on its own goroutine; nothing else in the controller touches the
// root cgroup or the inhibitor concurrently with it.
func (c *Controller) handleSystemSuspend() {
	go func() {
		time.Sleep(suspendSettle)

		if c.root != nil {
			if err := c.root.Freeze(); err != nil {
				c.log.Warn("failed to freeze root grouping cgroup before suspend", "error", err)
			}
		}
		if c.suspend != nil {
			if err := c.suspend.ReleaseInhibitor(); err != nil {
				c.log.Warn("failed to release suspend delay inhibitor", "error", err)
			}
		}
	}()
}

// handleSystemResume queries the wake cause and applies the
// wake-cause-dependent policy table.
func (c *Controller) handleSystemResume() {
	var cause config.WakeupKind
	if c.wakeup != nil {
		cause, _ = c.wakeup.Cause()
	}

	// Modem: keep the root cgroup frozen pending external call detection.
	// Every other cause thaws immediately and reconciles each rule
	// cgroup's freezer state, which covers every app nested under a rule
	// cgroup in one pass (ReconcileFreezeState).
	if cause != config.WakeupModem {
		if c.root != nil {
			if err := c.root.Thaw(); err != nil {
				c.log.Warn("failed to thaw root grouping cgroup on resume", "error", err)
			}
		}
		c.ReconcileFreezeState()

		// Re-evaluate every tracked app against the wake event, so rule
		// trees with an Event("wake") atom can promote or demote on resume.
		wake := config.EventWake
		for _, app := range c.registry.Find(nil) {
			c.evaluate(app.Key, &wake)
		}
	}

	// Motion is the one cause that does not re-arm, pending an
	// auto-resuspend timer for motion wakes.
	// TODO: once a Motion idle timer exists, re-arm here too and let it
	// drive the next SystemSuspend(true) after 3-5s of no interaction.
	if cause == config.WakeupMotion || c.suspend == nil {
		return
	}
	if err := c.suspend.ReacquireInhibitor(); err != nil {
		c.log.Warn("failed to reacquire suspend delay inhibitor", "error", err)
	}
}
