// Package wakeup classifies what woke the machine from suspend by polling
// the sysfs wakeup-source event counters named in config.WakeSourceConfig.
package wakeup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hammock-linux/hammockd/internal/config"
	"github.com/hammock-linux/hammockd/internal/errors"
)

// source tracks one configured wakeup counter between polls.
type source struct {
	name string
	kind config.WakeupKind
	path string
	last uint64
}

// Probe polls a fixed set of sysfs wakeup-count files and reports which
// one incremented since the last check, classifying the wakeup's hardware
// cause.
type Probe struct {
	sources []*source

	// lastCause is the most recent attributable cause, returned again when
	// a later poll finds no counter advanced (the kernel coalesces wakeups,
	// so a resume can reach us after its counter tick was already consumed).
	lastCause config.WakeupKind
	haveCause bool
}

// NewProbe resolves each configured wake source's device directory down
// to its wakeup-count file and primes the initial counter values so the
// first Cause() call after startup reflects only wakeups that happen
// after hammockd starts.
func NewProbe(sources []config.WakeSourceConfig) (*Probe, error) {
	p := &Probe{}
	for _, sc := range sources {
		path, err := resolvePath(sc.SysfsPath)
		if err != nil {
			return nil, errors.NewStartupError("wakeup", "resolve sysfs path for "+sc.Name, err)
		}

		count, err := readCounter(path)
		if err != nil {
			return nil, errors.NewStartupError("wakeup", "read initial counter for "+sc.Name, err)
		}

		p.sources = append(p.sources, &source{
			name: sc.Name,
			kind: sc.Kind,
			path: path,
			last: count,
		})
	}
	return p, nil
}

// resolvePath resolves a configured wake-source device directory to its
// counter file. The kernel registers each device's wakeup source as
// <device>/*/wakeup<N>/wakeup_count, with the wakeup class index N not
// stable across boots, so the suffix is globbed fresh at startup rather
// than configured.
func resolvePath(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*", "wakeup[0-9]*", "wakeup_count"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", os.ErrNotExist
	}
	return matches[0], nil
}

func readCounter(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// Cause polls every configured source and returns the kind of the first
// one (in config order) whose counter advanced since the previous call;
// every counter is refreshed either way. If none advanced, the cause of
// the previous attributable wakeup is returned again; ok is false only
// when no wakeup has ever been attributed (e.g. the resume came from an
// RTC alarm or a source operators didn't list).
func (p *Probe) Cause() (kind config.WakeupKind, ok bool) {
	var advanced *source
	for _, s := range p.sources {
		count, err := readCounter(s.path)
		if err != nil {
			continue
		}
		if count > s.last && advanced == nil {
			advanced = s
		}
		s.last = count
	}

	if advanced != nil {
		p.lastCause = advanced.kind
		p.haveCause = true
	}
	return p.lastCause, p.haveCause
}
