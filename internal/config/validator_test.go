package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func TestConfig_Validate_MatchRuleName(t *testing.T) {
	tests := []struct {
		name     string
		rule     Rule
		hasError bool
	}{
		{"valid foreground", RuleForeground, false},
		{"valid background", RuleBackground, false},
		{"valid snooze", RuleSnooze, false},
		{"invalid rule", Rule("hibernate"), true},
		{"empty rule", Rule(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.MatchRules = []MatchRule{{Name: tt.rule}}
			errs := cfg.Validate()
			hasError := len(errs) > 0
			if hasError != tt.hasError {
				t.Errorf("Validate() errors = %v, hasError = %v, want %v", errs, hasError, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_DuplicateMatchRule(t *testing.T) {
	cfg := Default()
	cfg.MatchRules = []MatchRule{
		{Name: RuleForeground},
		{Name: RuleForeground},
	}

	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e.Message, "duplicate") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a duplicate match rule error, got %v", errs)
	}
}

func TestValidateConditional_ExactlyOneField(t *testing.T) {
	rule := RuleForeground
	event := EventWake
	tag := Tag("busy")

	tests := []struct {
		name     string
		cond     *Conditional
		hasError bool
	}{
		{"nil is fine (unset)", nil, false},
		{"rule only", &Conditional{Rule: &rule}, false},
		{"event only", &Conditional{Event: &event}, false},
		{"tag only", &Conditional{Tag: &tag}, false},
		{"not only", &Conditional{Not: &Conditional{Rule: &rule}}, false},
		{"any_of only", &Conditional{AnyOf: []*Conditional{{Rule: &rule}}}, false},
		{"all_of only", &Conditional{AllOf: []*Conditional{{Rule: &rule}}}, false},
		{"one_of only", &Conditional{OneOf: []*Conditional{{Rule: &rule}}}, false},
		{"zero fields set", &Conditional{}, true},
		{"two fields set", &Conditional{Rule: &rule, Tag: &tag}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateConditional(tt.cond, "only_from")
			hasError := len(errs) > 0
			if hasError != tt.hasError {
				t.Errorf("validateConditional() errors = %v, hasError = %v, want %v", errs, hasError, tt.hasError)
			}
		})
	}
}

func TestValidateConditional_RecursesIntoChildren(t *testing.T) {
	badRule := Rule("not-a-rule")
	cond := &Conditional{
		AllOf: []*Conditional{
			{Rule: &badRule},
		},
	}

	errs := validateConditional(cond, "only_from")
	if len(errs) == 0 {
		t.Fatal("expected a validation error from the nested bad rule")
	}
	if !strings.Contains(errs[0].Field, "all_of[0]") {
		t.Errorf("expected error field to reference all_of[0], got %q", errs[0].Field)
	}
}

func TestConfig_Validate_WakeSources(t *testing.T) {
	tests := []struct {
		name     string
		ws       WakeSourceConfig
		hasError bool
	}{
		{"valid", WakeSourceConfig{Name: "power", Kind: WakeupButton, SysfsPath: "/sys/class/power"}, false},
		{"missing name", WakeSourceConfig{Name: "", Kind: WakeupButton, SysfsPath: "/sys/class/power"}, true},
		{"invalid kind", WakeSourceConfig{Name: "power", Kind: WakeupKind("earthquake"), SysfsPath: "/sys/class/power"}, true},
		{"missing path", WakeSourceConfig{Name: "power", Kind: WakeupButton, SysfsPath: ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.WakeSources = []WakeSourceConfig{tt.ws}
			errs := cfg.Validate()
			hasError := len(errs) > 0
			if hasError != tt.hasError {
				t.Errorf("Validate() errors = %v, hasError = %v, want %v", errs, hasError, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_CgroupRoot(t *testing.T) {
	cfg := Default()
	cfg.CgroupRoot = ""
	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Error("expected an error for empty cgroup_root")
	}

	cfg = Default()
	cfg.GroupName = ""
	errs = cfg.Validate()
	if len(errs) == 0 {
		t.Error("expected an error for empty group_name")
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Error("expected an error for invalid log level")
	}

	cfg = Default()
	cfg.Logging.MaxSizeMB = -1
	errs = cfg.Validate()
	if len(errs) == 0 {
		t.Error("expected an error for negative max_size_mb")
	}
}

func TestConfig_Validate_MemoryBounds(t *testing.T) {
	cfg := Default()
	cfg.MatchRules = []MatchRule{
		{
			Name: RuleForeground,
			Cgroup: CgroupConfig{
				Memory: [2]int64{100, 50},
			},
		},
	}
	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e.Field, "cgroup.memory") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a memory bounds error, got %v", errs)
	}
}
