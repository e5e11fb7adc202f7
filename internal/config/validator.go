package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "match_rules[2].name")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidRules returns the list of valid Rule names.
func ValidRules() []string {
	return []string{
		string(RuleForeground), string(RuleRecents),
		string(RuleBackground), string(RuleSnooze), string(RuleMedia),
	}
}

// IsValidRule reports whether r names one of the five lifecycle buckets.
func IsValidRule(r Rule) bool {
	return slices.Contains(ValidRules(), string(r))
}

// ValidWakeupKinds returns the list of valid WakeSourceConfig.Kind values.
func ValidWakeupKinds() []string {
	return []string{
		string(WakeupButton), string(WakeupMotion),
		string(WakeupCharger), string(WakeupModem), string(WakeupNotification),
	}
}

// ValidLogLevels returns the list of valid logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found. An unresolved rule name or malformed
// Conditional shape is a Configuration error: fatal at startup when
// returned from here, downgraded to a Warning if re-validated mid-run
// (see errors.ConfigurationError.Downgrade).
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateMatchRules()...)
	errs = append(errs, c.validateWakeSources()...)
	errs = append(errs, c.validateCgroupRoot()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateMatchRules() []ValidationError {
	var errs []ValidationError

	seen := make(map[Rule]bool)
	for i, mr := range c.MatchRules {
		fieldPrefix := fmt.Sprintf("match_rules[%d]", i)

		if !IsValidRule(mr.Name) {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".name",
				Value:   mr.Name,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRules(), ", ")),
			})
		} else if seen[mr.Name] {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".name",
				Value:   mr.Name,
				Message: "duplicate match rule name",
			})
		}
		seen[mr.Name] = true

		if mr.OnlyFrom != nil {
			errs = append(errs, validateConditional(mr.OnlyFrom, fieldPrefix+".only_from")...)
		}
		if mr.NeverFrom != nil {
			errs = append(errs, validateConditional(mr.NeverFrom, fieldPrefix+".never_from")...)
		}

		for j, override := range mr.EnterTime.From {
			if !IsValidRule(override.From) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.enter_time.from[%d].from", fieldPrefix, j),
					Value:   override.From,
					Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRules(), ", ")),
				})
			}
		}

		for _, core := range mr.Cgroup.Cores {
			if core < 0 {
				errs = append(errs, ValidationError{
					Field:   fieldPrefix + ".cgroup.cores",
					Value:   mr.Cgroup.Cores,
					Message: "core indices must be non-negative",
				})
				break
			}
		}
		if mr.Cgroup.Memory[0] < 0 || mr.Cgroup.Memory[1] < 0 {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".cgroup.memory",
				Value:   mr.Cgroup.Memory,
				Message: "memory bounds must be non-negative",
			})
		}
		if mr.Cgroup.Memory[1] > 0 && mr.Cgroup.Memory[0] > mr.Cgroup.Memory[1] {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".cgroup.memory",
				Value:   mr.Cgroup.Memory,
				Message: "memory[0] (low) must not exceed memory[1] (max)",
			})
		}
	}

	return errs
}

// validateConditional enforces a Conditional's "exactly one field set"
// shape. A Conditional with zero or more than one
// populated field is malformed; any other shape evaluates to false at
// runtime (harmless but almost certainly a config mistake), so it is
// flagged here rather than silently accepted.
func validateConditional(c *Conditional, field string) []ValidationError {
	if c == nil {
		return nil
	}

	var errs []ValidationError

	set := 0
	if c.Rule != nil {
		set++
	}
	if c.Event != nil {
		set++
	}
	if c.Tag != nil {
		set++
	}
	if c.Not != nil {
		set++
	}
	if c.AnyOf != nil {
		set++
	}
	if c.AllOf != nil {
		set++
	}
	if c.OneOf != nil {
		set++
	}

	if set != 1 {
		errs = append(errs, ValidationError{
			Field:   field,
			Value:   set,
			Message: "exactly one of rule/event/tag/not/any_of/all_of/one_of must be set",
		})
	}

	if c.Rule != nil && !IsValidRule(*c.Rule) {
		errs = append(errs, ValidationError{
			Field:   field + ".rule",
			Value:   *c.Rule,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRules(), ", ")),
		})
	}

	if c.Not != nil {
		errs = append(errs, validateConditional(c.Not, field+".not")...)
	}
	for i, child := range c.AnyOf {
		errs = append(errs, validateConditional(child, fmt.Sprintf("%s.any_of[%d]", field, i))...)
	}
	for i, child := range c.AllOf {
		errs = append(errs, validateConditional(child, fmt.Sprintf("%s.all_of[%d]", field, i))...)
	}
	for i, child := range c.OneOf {
		errs = append(errs, validateConditional(child, fmt.Sprintf("%s.one_of[%d]", field, i))...)
	}

	return errs
}

func (c *Config) validateWakeSources() []ValidationError {
	var errs []ValidationError

	for i, ws := range c.WakeSources {
		fieldPrefix := fmt.Sprintf("wake_sources[%d]", i)

		if ws.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".name",
				Value:   ws.Name,
				Message: "cannot be empty",
			})
		}
		if !slices.Contains(ValidWakeupKinds(), string(ws.Kind)) {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".kind",
				Value:   ws.Kind,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidWakeupKinds(), ", ")),
			})
		}
		if ws.SysfsPath == "" {
			errs = append(errs, ValidationError{
				Field:   fieldPrefix + ".sysfs_path",
				Value:   ws.SysfsPath,
				Message: "cannot be empty",
			})
		}
	}

	return errs
}

func (c *Config) validateCgroupRoot() []ValidationError {
	var errs []ValidationError

	if c.CgroupRoot == "" {
		errs = append(errs, ValidationError{
			Field:   "cgroup_root",
			Value:   c.CgroupRoot,
			Message: "cannot be empty",
		})
	}
	if c.GroupName == "" {
		errs = append(errs, ValidationError{
			Field:   "group_name",
			Value:   c.GroupName,
			Message: "cannot be empty",
		})
	}
	for _, core := range c.Cores {
		if core < 0 {
			errs = append(errs, ValidationError{
				Field:   "cores",
				Value:   c.Cores,
				Message: "core indices must be non-negative",
			})
			break
		}
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errs
}
