//go:build linux

// Package cgroup manages the cgroup v2 hierarchy hammockd uses to freeze
// and thaw applications: a per-Rule persistent cgroup under the
// configured root, with controllers delegated down from the root.
package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// cgroup2SuperMagic is CGROUP2_SUPER_MAGIC from linux/magic.h, the
// filesystem magic number statfs(2) reports for a cgroup2 mount. Checking
// it is a cheaper, harder-to-spoof confirmation than mountinfo's fstype
// field alone, so DetectVersion uses it as a cross-check rather than its
// sole signal (mountinfo still carries the information statfs can't: which
// path cgroup2 is mounted at).
const cgroup2SuperMagic = 0x63677270

// isCgroup2FS reports whether path is the root of a cgroup2 filesystem,
// via statfs(2)'s f_type field.
func isCgroup2FS(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return int64(st.Type) == cgroup2SuperMagic
}

// Version identifies which cgroup API a mount point implements.
type Version int

const (
	Unsupported Version = iota
	V1
	V2
	Hybrid
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	case Hybrid:
		return "cgroup hybrid"
	default:
		return "unsupported"
	}
}

// DetectVersion parses /proc/self/mountinfo to determine which cgroup
// version is mounted at root. hammockd requires V2 or Hybrid (with a
// cgroup2 mount present); V1-only and Unsupported are startup errors.
func DetectVersion(root string) (Version, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return Unsupported, fmt.Errorf("open mountinfo: %w", err)
	}
	defer func() { _ = f.Close() }()

	var hasV1, hasV2, rootIsV2 bool

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		sep := " - "
		i := strings.LastIndex(line, sep)
		if i < 0 {
			continue
		}
		tail := strings.Fields(line[i+len(sep):])
		if len(tail) < 1 {
			continue
		}
		fstype := tail[0]

		pre := strings.Fields(line[:i])
		if len(pre) < 5 {
			continue
		}
		mountPoint := pre[4]

		switch fstype {
		case "cgroup2":
			hasV2 = true
			if mountPoint == root {
				rootIsV2 = true
			}
		case "cgroup":
			hasV1 = true
		}
	}
	if err := sc.Err(); err != nil {
		return Unsupported, fmt.Errorf("scan mountinfo: %w", err)
	}

	// mountinfo only tells us a cgroup2 filesystem exists somewhere; some
	// container setups bind-mount the cgroup2 root to a path that doesn't
	// literally appear as a "cgroup2" entry for root itself. Confirm with
	// statfs before trusting rootIsV2 either way the mountinfo scan missed.
	if !rootIsV2 && isCgroup2FS(root) {
		rootIsV2 = true
		hasV2 = true
	}

	switch {
	case rootIsV2 && hasV1:
		return Hybrid, nil
	case rootIsV2:
		return V2, nil
	case hasV1 && hasV2:
		return Hybrid, nil
	case hasV2:
		return V2, nil
	case hasV1:
		return V1, nil
	default:
		return Unsupported, nil
	}
}
