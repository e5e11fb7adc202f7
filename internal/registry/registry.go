// Package registry correlates D-Bus launch signals and Wayland toplevels
// into a single view of each running application: its AppId, the rule it
// currently belongs to, the toplevel handles it owns, and the per-app
// cgroup, which outlives any App referencing it.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/hammock-linux/hammockd/internal/cgroup"
	"github.com/hammock-linux/hammockd/internal/config"
	"github.com/hammock-linux/hammockd/internal/events"
	"github.com/hammock-linux/hammockd/internal/logging"
)

// CgroupHandler is the subset of *cgroup.Controller the registry needs:
// create (or load) the per-app cgroup named "{app_id}-{pid}" under an
// App's starting rule. A new App always starts in config.RuleBackground
// until the rule engine's first Select call places it (the dwell timer
// begins when Select first sees a candidate, not from some
// already-decided rule).
type CgroupHandler interface {
	NewAppCgroup(rule, name string) (*cgroup.Handle, error)
	LoadAppCgroup(rule, name string) (*cgroup.Handle, error)
}

// Key identifies one tracked application: its AppId plus the PID of the
// process D-Bus first reported launching it (or, if no launch signal was
// ever seen, the PID of its first toplevel).
type Key struct {
	AppId    string
	FirstPID uint32
}

// cgroupName returns the per-app cgroup name, "{app_id}-{pid}".
func (k Key) cgroupName() string {
	return fmt.Sprintf("%s-%d", k.AppId, k.FirstPID)
}

// App is one tracked application's current state.
type App struct {
	Key       Key
	Rule      config.Rule
	EnteredAt time.Time // when Rule last changed
	Toplevels map[uint64]events.ToplevelSnapshot
	Tags      []config.Tag
	Cgroup    *cgroup.Handle // this App's own cgroup; nil if none could be created
}

// hasToplevels reports whether the app still owns any open toplevel.
func (a *App) hasToplevels() bool {
	return len(a.Toplevels) > 0
}

// Registry is the mutex-guarded map of every tracked application. Every
// method copies its App argument and results so callers never hold a
// pointer into Registry-owned state across a lock release.
type Registry struct {
	mu   sync.Mutex
	apps map[Key]*App

	// pidIndex maps a PID we've seen (from a launch signal or a toplevel's
	// Credentials event) to the Key it belongs to, so a later toplevel
	// carrying only a PID can be correlated to the right App.
	pidIndex map[uint32]Key
	// handleIndex maps a live toplevel handle to the Key that owns it, so
	// ToplevelChanged/ToplevelClosed can find their App without a PID.
	handleIndex map[uint64]Key

	handler CgroupHandler
	log     *logging.Logger
}

// SetLogger attaches a Logger for diagnostics the registry can't return to
// its caller, e.g. a failed per-app cgroup creation. Optional: a Registry
// with no logger silently drops these, same as a nil CgroupHandler.
func (r *Registry) SetLogger(log *logging.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = log
}

// New creates an empty Registry. handler creates and loads the per-app
// cgroup each tracked App gets; a nil handler leaves every
// App's Cgroup field nil, which InsertFromLaunch/InsertFromToplevel
// tolerate (tests that don't care about cgroups don't need a real one).
func New(handler CgroupHandler) *Registry {
	return &Registry{
		apps:        make(map[Key]*App),
		pidIndex:    make(map[uint32]Key),
		handleIndex: make(map[uint64]Key),
		handler:     handler,
	}
}

// newApp creates the per-app cgroup for a freshly tracked Key and returns
// the new App; its Cgroup is nil if creation failed or no handler is
// configured. A
// new App always starts in config.RuleBackground: the rule engine's own
// dwell timer, not the registry, is what can promote it from there.
func (r *Registry) newApp(key Key) *App {
	app := &App{
		Key:       key,
		Rule:      config.RuleBackground,
		Toplevels: make(map[uint64]events.ToplevelSnapshot),
	}
	if r.handler != nil {
		h, err := r.handler.NewAppCgroup(string(config.RuleBackground), key.cgroupName())
		if err != nil {
			r.warn("create per-app cgroup failed", key, err)
		} else {
			app.Cgroup = h
			// A process that's already exited by the time we add it is a
			// routine race, not a reason to discard the cgroup: later
			// toplevels may still add live tasks.
			// FirstPID is 0 when a toplevel arrived with no compositor
			// Credentials event at all; there's no pid to add yet.
			if key.FirstPID != 0 {
				if err := h.AddProcess(key.FirstPID); err != nil {
					r.warn("add launch pid to its new cgroup failed", key, err)
				}
			}
		}
	}
	return app
}

func (r *Registry) warn(msg string, key Key, err error) {
	if r.log == nil {
		return
	}
	r.log.Warn(msg, "app_id", key.AppId, "pid", key.FirstPID, "error", err)
}

// InsertFromLaunch records a new application from a D-Bus Launched signal.
// If an App already exists for this PID (a toplevel arrived first), it is
// returned unchanged.
func (r *Registry) InsertFromLaunch(ev events.NewApplicationEvent) App {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := r.pidIndex[ev.PID]; ok {
		return *r.apps[key]
	}

	key := Key{AppId: ev.AppId, FirstPID: ev.PID}
	app := r.newApp(key)
	app.EnteredAt = ev.Timestamp()
	r.apps[key] = app
	r.pidIndex[ev.PID] = key

	return *app
}

// InsertFromToplevel correlates a new toplevel to an existing App by PID
// when the compositor sent Credentials, falling back to matching on AppId
// alone, and creating a new App (with its own per-app cgroup) if neither
// match. Returns the resulting App's current state.
func (r *Registry) InsertFromToplevel(handle uint64, snap events.ToplevelSnapshot) App {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.correlate(snap)
	if !ok {
		key = Key{AppId: snap.AppId, FirstPID: snap.PID}
		app := r.newApp(key)
		app.EnteredAt = time.Now()
		r.apps[key] = app
	}

	app := r.apps[key]
	app.Toplevels[handle] = snap
	r.handleIndex[handle] = key
	if snap.PID != 0 {
		r.pidIndex[snap.PID] = key
	}

	return *app
}

// correlate finds the Key an incoming toplevel snapshot belongs to: first
// by PID (if the compositor sent Credentials), otherwise by matching
// AppId against any existing tracked application.
func (r *Registry) correlate(snap events.ToplevelSnapshot) (Key, bool) {
	if snap.PID != 0 {
		if key, ok := r.pidIndex[snap.PID]; ok {
			return key, true
		}
	}
	for key := range r.apps {
		if key.AppId == snap.AppId {
			return key, true
		}
	}
	return Key{}, false
}

// UpdateToplevel refreshes a tracked toplevel's snapshot after a
// ToplevelChangedEvent. A handle with no known owner is dropped silently:
// it means the handle's NewToplevel commit raced with a Closed the
// registry already processed.
func (r *Registry) UpdateToplevel(handle uint64, snap events.ToplevelSnapshot) (App, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.handleIndex[handle]
	if !ok {
		return App{}, false
	}
	app := r.apps[key]
	app.Toplevels[handle] = snap
	return *app, true
}

// RemoveToplevel detaches a closed toplevel handle from its App. If the
// App has no other open toplevels, it is evicted from the Registry
// entirely and the second return value reports that eviction.
func (r *Registry) RemoveToplevel(handle uint64) (app App, evicted bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, found := r.handleIndex[handle]
	if !found {
		return App{}, false, false
	}
	delete(r.handleIndex, handle)

	a, found := r.apps[key]
	if !found {
		return App{}, false, false
	}
	delete(a.Toplevels, handle)

	if !a.hasToplevels() {
		delete(r.apps, key)
		delete(r.pidIndex, key.FirstPID)
		return *a, true, true
	}
	return *a, false, true
}

// Filter selects Apps to return from Find.
type Filter func(App) bool

// Find returns a copy of every App matching filter. When filter is nil,
// every tracked App is returned.
func (r *Registry) Find(filter Filter) []App {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []App
	for _, app := range r.apps {
		if filter == nil || filter(*app) {
			out = append(out, *app)
		}
	}
	return out
}

// ByAppId matches Apps by exact AppId.
func ByAppId(id string) Filter {
	return func(a App) bool { return a.Key.AppId == id }
}

// ByRule matches Apps currently placed in rule.
func ByRule(rule config.Rule) Filter {
	return func(a App) bool { return a.Rule == rule }
}

// ByPid matches the App whose cgroup currently contains pid. It queries
// the App's own cgroup's live task set rather than any PID the registry
// itself remembers, since a multi-process application can add tasks to
// its cgroup that the registry never observed through D-Bus or Wayland.
func ByPid(pid uint32) Filter {
	return func(a App) bool {
		if a.Cgroup == nil {
			return false
		}
		tasks, err := a.Cgroup.Tasks()
		if err != nil {
			return false
		}
		for _, t := range tasks {
			if t == pid {
				return true
			}
		}
		return false
	}
}

// Get returns a copy of the App for key, if tracked.
func (r *Registry) Get(key Key) (App, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[key]
	if !ok {
		return App{}, false
	}
	return *app, true
}

// SetRule updates an App's current Rule and resets its EnteredAt to now,
// returning the updated copy. Used by the rule engine once a candidate has
// survived its dwell timer.
func (r *Registry) SetRule(key Key, rule config.Rule, at time.Time) (App, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[key]
	if !ok {
		return App{}, false
	}
	app.Rule = rule
	app.EnteredAt = at
	return *app, true
}

// SetCgroup replaces an App's Cgroup handle, returning the updated copy.
// Used by the LifecycleController after migrating an App's per-app
// cgroup to its newly entered rule: the cgroup outlives any App
// referencing it, but the reference itself can change to point at its
// successor.
func (r *Registry) SetCgroup(key Key, h *cgroup.Handle) (App, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[key]
	if !ok {
		return App{}, false
	}
	app.Cgroup = h
	return *app, true
}

// SetTags replaces an App's tag set, returning the updated copy. Used by
// the controller to keep an app's derived tags (e.g. "activated") in sync
// with its most recent toplevel snapshot before the rule engine evaluates
// it.
func (r *Registry) SetTags(key Key, tags []config.Tag) (App, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[key]
	if !ok {
		return App{}, false
	}
	app.Tags = tags
	return *app, true
}

// Remove evicts key entirely, regardless of open toplevels. Used when an
// application's process group is confirmed gone (e.g. the registry wants
// to garbage-collect a launch that never produced a toplevel).
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.apps, key)
	delete(r.pidIndex, key.FirstPID)
	for h, k := range r.handleIndex {
		if k == key {
			delete(r.handleIndex, h)
		}
	}
}

// Len returns the number of tracked applications.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.apps)
}
