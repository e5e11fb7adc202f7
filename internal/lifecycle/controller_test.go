//go:build linux

package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hammock-linux/hammockd/internal/cgroup"
	"github.com/hammock-linux/hammockd/internal/config"
	"github.com/hammock-linux/hammockd/internal/events"
	"github.com/hammock-linux/hammockd/internal/logging"
	"github.com/hammock-linux/hammockd/internal/registry"
	"github.com/hammock-linux/hammockd/internal/rules"
	"github.com/hammock-linux/hammockd/internal/wakeup"
)

// newTestController builds a Controller over real cgroup directories
// under t.TempDir(), seeded the same way internal/cgroup's own tests seed
// fake cgroup filesystems, plus the default Activated->Foreground/
// else->Background rule set. Each rule directory also gets
// cgroup.subtree_control seeded so the registry
// can nest a per-app cgroup underneath it, the same way a real rule
// cgroup delegates controllers down to its apps (cgroup.Manager.NewCgroup).
func newTestController(t *testing.T, names ...string) (*Controller, map[string]string) {
	t.Helper()
	root := t.TempDir()
	handles := make(map[string]*cgroup.Handle)
	paths := make(map[string]string)

	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.Mkdir(path, 0o755); err != nil {
			t.Fatalf("Mkdir: %v", err)
		}
		for _, f := range []string{"cgroup.procs", "cgroup.freeze", "cgroup.events", "cgroup.subtree_control"} {
			if err := os.WriteFile(filepath.Join(path, f), []byte("0"), 0o644); err != nil {
				t.Fatalf("seed %s: %v", f, err)
			}
		}
		handles[name] = cgroup.NewHandleForPath(path)
		paths[name] = path
	}

	cgroups := cgroup.NewController(handles)
	c := New(Deps{
		Bus:      events.NewBus(),
		Registry: registry.New(cgroups),
		Engine:   rules.NewEngine(rules.DefaultRuleSet()),
		Cgroups:  cgroups,
		Log:      logging.NopLogger(),
	})
	// Mirrors internal/cmd's startup sequence: apply each rule's default
	// freezer policy before any application exists, so a newly created or
	// migrated-in per-app cgroup inherits the right state automatically.
	c.ReconcileFreezeState()
	return c, paths
}

func freezeState(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(path, "cgroup.freeze"))
	if err != nil {
		t.Fatalf("ReadFile cgroup.freeze: %v", err)
	}
	return string(data)
}

// appCgroupProcs reads the cgroup.procs file of the per-app cgroup nested
// under rulePath named name ("{app_id}-{pid}").
func appCgroupProcs(t *testing.T, rulePath, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(rulePath, name, "cgroup.procs"))
	if err != nil {
		t.Fatalf("ReadFile app cgroup.procs: %v", err)
	}
	return string(data)
}

// Launch, then focus. The app should end up in the foreground cgroup,
// thawed.
func TestController_LaunchAndFocus(t *testing.T) {
	c, paths := newTestController(t, "foreground", "background")

	c.Handle(events.NewApplication("org.foo", 42, time.Now()))
	c.Handle(events.NewToplevel(1, events.ToplevelSnapshot{
		AppId: "org.foo", PID: 42, State: events.ToplevelActivated,
	}, time.Now()))

	apps := c.registry.Find(func(a registry.App) bool { return a.Key.AppId == "org.foo" })
	if len(apps) != 1 {
		t.Fatalf("expected 1 app, got %d", len(apps))
	}
	if apps[0].Rule != config.RuleForeground {
		t.Errorf("Rule = %q, want %q", apps[0].Rule, config.RuleForeground)
	}
	if got := freezeState(t, paths["foreground"]); got != "0" {
		t.Errorf("foreground cgroup.freeze = %q, want thawed", got)
	}

	if content := appCgroupProcs(t, paths["foreground"], "org.foo-42"); content != "42" {
		t.Errorf("per-app cgroup.procs = %q, want pid moved in", content)
	}
	if _, err := os.Stat(filepath.Join(paths["background"], "org.foo-42")); !os.IsNotExist(err) {
		t.Error("expected the app's cgroup to be vacated from background after moving to foreground")
	}
}

// Defocus moves the app to Background, frozen.
func TestController_BackgroundOnDefocus(t *testing.T) {
	c, paths := newTestController(t, "foreground", "background")

	c.Handle(events.NewApplication("org.foo", 42, time.Now()))
	c.Handle(events.NewToplevel(1, events.ToplevelSnapshot{
		AppId: "org.foo", PID: 42, State: events.ToplevelActivated,
	}, time.Now()))
	c.Handle(events.ToplevelChanged(1, events.ToplevelSnapshot{
		AppId: "org.foo", PID: 42, State: 0,
	}, time.Now()))

	apps := c.registry.Find(func(a registry.App) bool { return a.Key.AppId == "org.foo" })
	if len(apps) != 1 || apps[0].Rule != config.RuleBackground {
		t.Fatalf("expected app in background rule, got %+v", apps)
	}
	if got := freezeState(t, paths["background"]); got != "1" {
		t.Errorf("background cgroup.freeze = %q, want frozen", got)
	}
	if content := appCgroupProcs(t, paths["background"], "org.foo-42"); content != "42" {
		t.Errorf("per-app cgroup.procs = %q, want pid moved back into background", content)
	}
	if apps[0].Cgroup == nil || apps[0].Cgroup.Path() != filepath.Join(paths["background"], "org.foo-42") {
		t.Errorf("App.Cgroup = %+v, want the migrated background/org.foo-42 handle", apps[0].Cgroup)
	}
}

// Closing the last toplevel empties the registry.
func TestController_Close(t *testing.T) {
	c, _ := newTestController(t, "foreground", "background")

	c.Handle(events.NewApplication("org.foo", 42, time.Now()))
	c.Handle(events.NewToplevel(1, events.ToplevelSnapshot{AppId: "org.foo", PID: 42}, time.Now()))
	c.Handle(events.ToplevelClosed(1, "org.foo", 42, time.Now()))

	if n := c.registry.Len(); n != 0 {
		t.Errorf("registry.Len() = %d, want 0 after close", n)
	}
}

// A D-Bus-activated app with no prior launch record is still tracked
// from its toplevel alone.
func TestController_DBusActivatedNoLaunch(t *testing.T) {
	c, _ := newTestController(t, "foreground", "background")

	c.Handle(events.NewToplevel(7, events.ToplevelSnapshot{AppId: "org.bar", PID: 77}, time.Now()))

	apps := c.registry.Find(func(a registry.App) bool { return a.Key.AppId == "org.bar" })
	if len(apps) != 1 || apps[0].Key.FirstPID != 77 {
		t.Fatalf("expected org.bar/77 tracked, got %+v", apps)
	}
}

// newSuspendTestController is newTestController plus a root grouping
// cgroup and a WakeupProbe over seeded counter files, for the suspend
// handshake tests. The returned paths map gains a "root" entry, and
// the counter files live at counters[kind].
func newSuspendTestController(t *testing.T, kinds ...config.WakeupKind) (*Controller, map[string]string, map[config.WakeupKind]string) {
	t.Helper()
	c, paths := newTestController(t, "foreground", "background")

	rootPath := filepath.Join(t.TempDir(), "root")
	if err := os.Mkdir(rootPath, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(rootPath, "cgroup.freeze"), []byte("0"), 0o644); err != nil {
		t.Fatalf("seed root cgroup.freeze: %v", err)
	}
	paths["root"] = rootPath
	c.root = cgroup.NewHandleForPath(rootPath)

	counters := make(map[config.WakeupKind]string, len(kinds))
	var sources []config.WakeSourceConfig
	deviceRoot := t.TempDir()
	for _, kind := range kinds {
		// The probe globs <device>/*/wakeup<N>/wakeup_count under each
		// configured device directory, the layout sysfs gives wakeup
		// sources.
		deviceDir := filepath.Join(deviceRoot, string(kind))
		counterDir := filepath.Join(deviceDir, string(kind)+".0", "wakeup0")
		if err := os.MkdirAll(counterDir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		path := filepath.Join(counterDir, "wakeup_count")
		if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
			t.Fatalf("seed wakeup counter: %v", err)
		}
		counters[kind] = path
		sources = append(sources, config.WakeSourceConfig{Name: string(kind), Kind: kind, SysfsPath: deviceDir})
	}
	probe, err := wakeup.NewProbe(sources)
	if err != nil {
		t.Fatalf("NewProbe: %v", err)
	}
	c.wakeup = probe

	return c, paths, counters
}

// waitForFreezeState polls a cgroup.freeze file until it reads want or the
// deadline passes; the suspend handshake freezes on its own goroutine
// after the compositor settle interval.
func waitForFreezeState(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if freezeState(t, path) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("cgroup.freeze at %s never reached %q (currently %q)", path, want, freezeState(t, path))
}

// A suspend cycle with a button wake freezes the root grouping cgroup
// after the settle interval and thaws it on resume.
func TestController_SuspendCycleButtonWake(t *testing.T) {
	c, paths, counters := newSuspendTestController(t, config.WakeupButton)

	c.Handle(events.SystemSuspend(time.Now()))
	waitForFreezeState(t, paths["root"], "1")

	if err := os.WriteFile(counters[config.WakeupButton], []byte("1"), 0o644); err != nil {
		t.Fatalf("advance button counter: %v", err)
	}
	c.Handle(events.SystemResume("", time.Now()))

	if got := freezeState(t, paths["root"]); got != "0" {
		t.Errorf("root cgroup.freeze = %q after button wake, want thawed", got)
	}
	// The per-rule freeze policy is reconciled on resume too.
	if got := freezeState(t, paths["background"]); got != "1" {
		t.Errorf("background cgroup.freeze = %q after resume, want refrozen", got)
	}
	if got := freezeState(t, paths["foreground"]); got != "0" {
		t.Errorf("foreground cgroup.freeze = %q after resume, want thawed", got)
	}
}

// A modem wake keeps user-space frozen pending call detection.
func TestController_ModemWakeKeepsFrozen(t *testing.T) {
	c, paths, counters := newSuspendTestController(t, config.WakeupModem)

	c.Handle(events.SystemSuspend(time.Now()))
	waitForFreezeState(t, paths["root"], "1")

	if err := os.WriteFile(counters[config.WakeupModem], []byte("1"), 0o644); err != nil {
		t.Fatalf("advance modem counter: %v", err)
	}
	c.Handle(events.SystemResume("", time.Now()))

	if got := freezeState(t, paths["root"]); got != "1" {
		t.Errorf("root cgroup.freeze = %q after modem wake, want still frozen", got)
	}
}

// ToplevelClosed for an unknown handle is a no-op.
func TestController_CloseUnknownHandleIsNoop(t *testing.T) {
	c, _ := newTestController(t, "foreground", "background")

	c.Handle(events.ToplevelClosed(999, "org.ghost", 1, time.Now()))

	if n := c.registry.Len(); n != 0 {
		t.Errorf("registry.Len() = %d, want 0", n)
	}
}
