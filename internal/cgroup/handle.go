//go:build linux

package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	hmerr "github.com/hammock-linux/hammockd/internal/errors"
)

// controllers are the subtree_control entries delegated from the
// grouping cgroup down into each rule's cgroup.
var controllers = []string{"cpuset", "pids", "freezer"}

// Handle is a reference to one cgroup directory: a rule's persistent
// cgroup, a per-app cgroup nested under one, or the grouping cgroup
// itself (RootHandle).
// Creating a Handle does not touch the filesystem; New or Load does.
type Handle struct {
	path string
}

// Path returns the cgroup's absolute directory path.
func (h *Handle) Path() string { return h.path }

// Name returns the cgroup directory's base name, e.g. "org.gnome.Mail-42"
// for a per-app cgroup or a rule name for a rule's own cgroup.
func (h *Handle) Name() string { return filepath.Base(h.path) }

// NewHandleForPath wraps an already-existing cgroup directory in a Handle
// without going through a Manager. Exported for other packages' tests
// that need a Handle over a seeded temp directory (mirroring how this
// package's own tests build one via the unexported Handle{path: ...}
// literal) without depending on a real cgroup2 mount.
func NewHandleForPath(path string) *Handle {
	return &Handle{path: path}
}

// RootHandle returns a Handle over the top-level grouping cgroup itself,
// distinct from any individual rule's cgroup beneath it. Freezing it
// freezes every descendant cgroup's tasks too, since cgroup v2's freezer
// state is inherited down the subtree; the suspend handshake uses this to
// freeze all of user-space in one write, rather than per-rule transitions.
func (m *Manager) RootHandle() *Handle {
	return &Handle{path: m.groupPath}
}

// Manager owns the top-level grouping cgroup under which every rule's
// persistent cgroup lives. All cgroup filesystem access in hammockd goes
// through a Manager.
type Manager struct {
	root      string // mounted cgroup2 hierarchy, e.g. /sys/fs/cgroup/unified
	groupName string // top-level grouping cgroup directory name
	groupPath string
}

// NewManager validates the cgroup2 mount and the grouping cgroup, creating
// the grouping cgroup and delegating controllers into it if it doesn't
// already exist. This is a startup-time operation: any failure here is
// fatal.
func NewManager(root, groupName string) (*Manager, error) {
	ver, err := DetectVersion(root)
	if err != nil {
		return nil, hmerr.NewStartupError("cgroup", "detect cgroup version", err)
	}
	if ver != V2 && ver != Hybrid {
		return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("cgroup root %s is not cgroup v2 (detected %s)", root, ver), nil)
	}

	m := &Manager{
		root:      root,
		groupName: groupName,
		groupPath: filepath.Join(root, groupName),
	}

	if err := ensureDir(m.groupPath); err != nil {
		return nil, hmerr.NewStartupError("cgroup", "create grouping cgroup", err)
	}
	if err := writeSubtreeControl(root, controllers); err != nil {
		return nil, hmerr.NewStartupError("cgroup", "delegate controllers to grouping cgroup", err)
	}
	if err := writeSubtreeControl(m.groupPath, controllers); err != nil {
		return nil, hmerr.NewStartupError("cgroup", "delegate controllers from grouping cgroup", err)
	}

	return m, nil
}

// ensureDir creates dir if it does not already exist. Creating a cgroup
// directory is how cgroupfs creates a new cgroup; this is idempotent.
func ensureDir(dir string) error {
	if err := os.Mkdir(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func writeSubtreeControl(dir string, names []string) error {
	path := filepath.Join(dir, "cgroup.subtree_control")
	existing, _ := os.ReadFile(path)
	have := make(map[string]bool)
	for _, f := range strings.Fields(string(existing)) {
		have[strings.TrimPrefix(f, "-")] = true
	}

	for _, name := range names {
		if have[name] {
			continue
		}
		if err := os.WriteFile(path, []byte("+"+name+"\n"), 0o644); err != nil {
			return fmt.Errorf("enable controller %s: %w", name, err)
		}
	}
	return nil
}

// NewCgroup creates a new persistent cgroup named name directly under the
// grouping cgroup, applying the given resource controls. Creating an
// already-existing cgroup is not an error: cgroup creation is idempotent so
// repeated daemon starts against a stale hierarchy don't fail startup.
func (m *Manager) NewCgroup(name string, cores []int, memLow, memMax int64) (*Handle, error) {
	path := filepath.Join(m.groupPath, name)
	if err := ensureDir(path); err != nil {
		return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("create cgroup %s", name), err)
	}

	// A rule's own cgroup is never a leaf: every App the rule engine ever
	// places here gets its own per-instance cgroup nested underneath, so
	// this directory needs subtree_control delegated into it too, same as
	// the grouping cgroup above it. cgroup v2's no-internal-process rule
	// means this directory should hold no tasks of its own once that's
	// enabled; App cgroups are the only leaves.
	if err := writeSubtreeControl(path, controllers); err != nil {
		return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("delegate controllers into rule cgroup %s", name), err)
	}

	if len(cores) > 0 {
		if err := os.WriteFile(filepath.Join(path, "cpuset.cpus"), []byte(coresToList(cores)), 0o644); err != nil {
			return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("set cpuset.cpus for %s", name), err)
		}
	}
	if memLow > 0 {
		if err := os.WriteFile(filepath.Join(path, "memory.low"), []byte(strconv.FormatInt(memLow, 10)), 0o644); err != nil {
			return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("set memory.low for %s", name), err)
		}
	}
	if memMax > 0 {
		if err := os.WriteFile(filepath.Join(path, "memory.max"), []byte(strconv.FormatInt(memMax, 10)), 0o644); err != nil {
			return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("set memory.max for %s", name), err)
		}
	}

	return &Handle{path: path}, nil
}

// LoadCgroup returns a Handle for an already-existing rule cgroup, failing
// if the directory is absent.
func (m *Manager) LoadCgroup(name string) (*Handle, error) {
	path := filepath.Join(m.groupPath, name)
	if _, err := os.Stat(path); err != nil {
		return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("load cgroup %s", name), err)
	}
	return &Handle{path: path}, nil
}

// AddProcess moves pid into this cgroup. Moving a pid that has already
// exited is a TransientError, not fatal: processes routinely die between
// the registry deciding to move them and the move happening.
func (h *Handle) AddProcess(pid uint32) error {
	path := filepath.Join(h.path, "cgroup.procs")
	if err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(pid), 10)), 0o644); err != nil {
		return hmerr.NewTransientError("cgroup", fmt.Sprintf("add pid %d to %s", pid, h.path), err)
	}
	return nil
}

// Tasks returns the PIDs currently listed in this cgroup's cgroup.procs,
// the live membership the registry's ByPid filter queries instead of
// trusting its own notion of an App's processes.
func (h *Handle) Tasks() ([]uint32, error) {
	data, err := os.ReadFile(filepath.Join(h.path, "cgroup.procs"))
	if err != nil {
		return nil, hmerr.NewTransientError("cgroup", fmt.Sprintf("read cgroup.procs for %s", h.path), err)
	}
	var pids []uint32
	for _, field := range strings.Fields(string(data)) {
		pid, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			continue
		}
		pids = append(pids, uint32(pid))
	}
	return pids, nil
}

// newChildCgroup creates a new cgroup named name directly under parent,
// the per-app cgroup hammockd creates for each application instance
// ("{app_id}-{pid}") nested under its current rule's cgroup.
func newChildCgroup(parent *Handle, name string) (*Handle, error) {
	path := filepath.Join(parent.path, name)
	if err := ensureDir(path); err != nil {
		return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("create app cgroup %s under %s", name, parent.path), err)
	}
	return &Handle{path: path}, nil
}

// loadChildCgroup returns a Handle for an already-existing cgroup named
// name under parent, failing if the directory is absent.
func loadChildCgroup(parent *Handle, name string) (*Handle, error) {
	path := filepath.Join(parent.path, name)
	if _, err := os.Stat(path); err != nil {
		return nil, hmerr.NewStartupError("cgroup", fmt.Sprintf("load app cgroup %s under %s", name, parent.path), err)
	}
	return &Handle{path: path}, nil
}

// Freeze sets cgroup.freeze to 1, requesting the kernel freeze every task
// in this cgroup.
func (h *Handle) Freeze() error {
	return h.setFreeze("1")
}

// Thaw sets cgroup.freeze to 0, releasing a frozen cgroup.
func (h *Handle) Thaw() error {
	return h.setFreeze("0")
}

func (h *Handle) setFreeze(value string) error {
	path := filepath.Join(h.path, "cgroup.freeze")
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return hmerr.NewTransientError("cgroup", fmt.Sprintf("write cgroup.freeze=%s to %s", value, h.path), err)
	}
	return nil
}

// Frozen reports whether the kernel currently reports this cgroup as
// fully frozen (cgroup.events' "frozen 1").
func (h *Handle) Frozen() (bool, error) {
	data, err := os.ReadFile(filepath.Join(h.path, "cgroup.events"))
	if err != nil {
		return false, hmerr.NewTransientError("cgroup", fmt.Sprintf("read cgroup.events for %s", h.path), err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "frozen" {
			return fields[1] == "1", nil
		}
	}
	return false, nil
}

func coresToList(cores []int) string {
	parts := make([]string, len(cores))
	for i, c := range cores {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
