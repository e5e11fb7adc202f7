//go:build linux

package cgroup

import (
	"fmt"
	"os"

	hmerr "github.com/hammock-linux/hammockd/internal/errors"
)

// Controller owns the set of Handle instances for every configured Rule
// and, through them, every per-app cgroup nested beneath a rule: the
// registry creates one such cgroup per tracked App, and the
// LifecycleController migrates it between rule cgroups as the rule
// engine re-evaluates that App. Controller also applies freeze/thaw
// transitions across the rule cgroups themselves, which cgroup v2's
// hierarchical freezer state propagates down to every app nested inside.
type Controller struct {
	handles map[string]*Handle
}

// NewController wraps an already-created map of rule name to Handle.
func NewController(handles map[string]*Handle) *Controller {
	return &Controller{handles: handles}
}

// Handle returns the cgroup Handle for the named rule, or nil if unknown.
func (c *Controller) Handle(rule string) *Handle {
	return c.handles[rule]
}

// NewAppCgroup creates a new per-app cgroup named name under rule's
// persistent cgroup, the "{app_id}-{pid}" directory every tracked App
// gets when first registered.
func (c *Controller) NewAppCgroup(rule, name string) (*Handle, error) {
	parent, ok := c.handles[rule]
	if !ok {
		return nil, hmerr.NewConfigurationError("match_rules", fmt.Sprintf("no cgroup configured for rule %q", rule))
	}
	return newChildCgroup(parent, name)
}

// LoadAppCgroup returns a Handle for an already-existing per-app cgroup
// under rule, for a toplevel that correlates to an App the registry
// already tracks.
func (c *Controller) LoadAppCgroup(rule, name string) (*Handle, error) {
	parent, ok := c.handles[rule]
	if !ok {
		return nil, hmerr.NewConfigurationError("match_rules", fmt.Sprintf("no cgroup configured for rule %q", rule))
	}
	return loadChildCgroup(parent, name)
}

// MoveAppCgroup relocates an App's per-app cgroup from fromRule to
// toRule when the rule engine moves it: it creates the cgroup anew under
// toRule, copies every live task from the old cgroup into it one PID at
// a time (a PID that has already exited is a non-fatal skip, same as
// AddProcess), and removes the now-empty old directory. cgroup v2 allows
// writing any task's PID to any cgroup in the hierarchy, not just a
// direct parent, so this is a plain migration rather than a
// kernel-assisted move.
func (c *Controller) MoveAppCgroup(app *Handle, name, fromRule, toRule string) (*Handle, []error) {
	next, err := c.NewAppCgroup(toRule, name)
	if err != nil {
		return nil, []error{err}
	}

	var errs []error
	tasks, err := app.Tasks()
	if err != nil {
		errs = append(errs, fmt.Errorf("reading live tasks from %s cgroup %s: %w", fromRule, app.path, err))
		tasks = nil
	}
	for _, pid := range tasks {
		if err := next.AddProcess(pid); err != nil {
			errs = append(errs, err)
		}
	}

	if err := os.RemoveAll(app.path); err != nil {
		errs = append(errs, hmerr.NewTransientError("cgroup", fmt.Sprintf("remove vacated app cgroup %s", app.path), err))
	}

	return next, errs
}

// FreezeAll freezes every configured rule's cgroup except the ones named in
// except. The grouping cgroup's foreground rule is the usual exception: the
// active application must keep running even while everything else is
// suspended.
func (c *Controller) FreezeAll(except ...string) []error {
	skip := make(map[string]bool, len(except))
	for _, name := range except {
		skip[name] = true
	}

	var errs []error
	for name, h := range c.handles {
		if skip[name] {
			continue
		}
		if err := h.Freeze(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ThawAll thaws every configured rule's cgroup, used on resume from suspend
// before re-evaluating which rule each application belongs in.
func (c *Controller) ThawAll() []error {
	var errs []error
	for _, h := range c.handles {
		if err := h.Thaw(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
