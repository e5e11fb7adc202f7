package config

// Rule names one of the five lifecycle buckets an application can occupy.
// Each Rule is backed by exactly one persistent cgroup created at startup.
type Rule string

const (
	RuleForeground Rule = "foreground"
	RuleRecents    Rule = "recents"
	RuleBackground Rule = "background"
	RuleSnooze     Rule = "snooze"
	RuleMedia      Rule = "media"
)

// AllRules returns the five lifecycle Rules, each backed by exactly one
// persistent cgroup, in a fixed order.
func AllRules() []Rule {
	return []Rule{RuleForeground, RuleRecents, RuleBackground, RuleSnooze, RuleMedia}
}

// Event names a triggering occurrence a Conditional's Event atom can match
// against. Unlike Rule and Tag, the vocabulary is open: operators may
// reference arbitrary event names from a Conditional, so Event is a plain
// string rather than a closed enum. Of the constants below, the
// controller itself supplies only EventLaunch and EventWake as triggers.
type Event string

const (
	EventWake          Event = "wake"
	EventLaunch        Event = "launch"
	EventToplevelClose Event = "toplevel_close"
	EventSuspend       Event = "suspend"
)

// Tag is an opaque per-application marker a Conditional can test for
// membership. The tag vocabulary is entirely operator-defined.
type Tag string

// WakeupKind identifies the hardware source responsible for the most
// recent resume from suspend.
type WakeupKind string

const (
	WakeupButton       WakeupKind = "button"
	WakeupMotion       WakeupKind = "motion"
	WakeupCharger      WakeupKind = "charger"
	WakeupModem        WakeupKind = "modem"
	WakeupNotification WakeupKind = "notification"
)

// Conditional is a recursive boolean expression over Rule/Event/Tag atoms.
// Exactly one field should be populated; validateConditional enforces this
// at load time since mapstructure can't express a sum type directly.
type Conditional struct {
	Rule  *Rule  `mapstructure:"rule"`
	Event *Event `mapstructure:"event"`
	Tag   *Tag   `mapstructure:"tag"`

	Not   *Conditional   `mapstructure:"not"`
	AnyOf []*Conditional `mapstructure:"any_of"`
	AllOf []*Conditional `mapstructure:"all_of"`
	OneOf []*Conditional `mapstructure:"one_of"`
}

// EnterTimeOverride pins a non-default dwell time when transitioning into a
// rule from a specific source rule.
type EnterTimeOverride struct {
	From Rule   `mapstructure:"from"`
	Ms   uint32 `mapstructure:"ms"`
}

// EnterTimeConfig is the dwell-timer configuration for a MatchRule:
// selection becomes effective only once the candidate has been stable for
// this long.
type EnterTimeConfig struct {
	DefaultMs uint32              `mapstructure:"default_ms"`
	From      []EnterTimeOverride `mapstructure:"from"`
}

// Lookup returns the dwell duration in milliseconds to apply when entering
// this rule from fromRule, falling back to DefaultMs when no override
// matches.
func (e EnterTimeConfig) Lookup(fromRule Rule) uint32 {
	for _, o := range e.From {
		if o.From == fromRule {
			return o.Ms
		}
	}
	return e.DefaultMs
}

// CgroupConfig describes the resource controls applied to a rule's
// persistent cgroup.
type CgroupConfig struct {
	// Cores lists CPU indices placed in cpuset.cpus for this rule's cgroup.
	// An empty list leaves cpuset.cpus unset (inherits the parent's).
	Cores []int `mapstructure:"cores"`
	// Memory is a [min, max] pair in bytes for memory.low/memory.max.
	// A zero entry leaves the corresponding limit unset.
	Memory [2]int64 `mapstructure:"memory"`
}

// MatchRule binds a Rule name to the membership conditions, dwell timer,
// and cgroup resource controls that govern it.
type MatchRule struct {
	Name      Rule            `mapstructure:"name"`
	OnlyFrom  *Conditional    `mapstructure:"only_from"`
	NeverFrom *Conditional    `mapstructure:"never_from"`
	EnterTime EnterTimeConfig `mapstructure:"enter_time"`
	Cgroup    CgroupConfig    `mapstructure:"cgroup"`
}

// WakeSourceConfig names one sysfs device the wakeup probe should watch
// to classify the cause of a resume from suspend. SysfsPath is the
// device's directory (e.g. "/sys/devices/platform/gpio-keys"); the probe
// locates the wakeup_count file nested underneath it, since the kernel's
// wakeup class index in that path is not stable across boots.
type WakeSourceConfig struct {
	Name      string     `mapstructure:"name"`
	Kind      WakeupKind `mapstructure:"kind"`
	SysfsPath string     `mapstructure:"sysfs_path"`
}
