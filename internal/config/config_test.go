package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.CgroupRoot != "/sys/fs/cgroup/unified" {
		t.Errorf("CgroupRoot = %q, want %q", cfg.CgroupRoot, "/sys/fs/cgroup/unified")
	}
	if cfg.GroupName != "tinydm" {
		t.Errorf("GroupName = %q, want %q", cfg.GroupName, "tinydm")
	}
	if len(cfg.MatchRules) != 0 {
		t.Error("default MatchRules should be empty; callers fall back to rules.DefaultRuleSet()")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.MaxSizeMB != 10 {
		t.Errorf("Logging.MaxSizeMB = %d, want 10", cfg.Logging.MaxSizeMB)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/hammockd"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "hammockd")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	original := os.Getenv("XDG_CONFIG_HOME")
	defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

	_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/hammockd/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.CgroupRoot != "/sys/fs/cgroup/unified" {
		t.Errorf("Get().CgroupRoot = %q, want %q", cfg.CgroupRoot, "/sys/fs/cgroup/unified")
	}
}

func TestSetDefaults_ViperOverride(t *testing.T) {
	viper.Reset()
	SetDefaults()

	viper.Set("cgroup_root", "/sys/fs/cgroup/custom")
	cfg := Get()
	if cfg.CgroupRoot != "/sys/fs/cgroup/custom" {
		t.Errorf("CgroupRoot = %q, want %q", cfg.CgroupRoot, "/sys/fs/cgroup/custom")
	}
}

func TestEnterTimeConfig_Lookup(t *testing.T) {
	et := EnterTimeConfig{
		DefaultMs: 1000,
		From: []EnterTimeOverride{
			{From: RuleForeground, Ms: 200},
		},
	}

	if got := et.Lookup(RuleForeground); got != 200 {
		t.Errorf("Lookup(Foreground) = %d, want 200", got)
	}
	if got := et.Lookup(RuleBackground); got != 1000 {
		t.Errorf("Lookup(Background) = %d, want 1000 (default)", got)
	}
}

func TestLoadFromViperRoundTrip(t *testing.T) {
	viper.Reset()
	SetDefaults()

	viper.Set("description", "phone profile")
	viper.Set("match_rules", []map[string]any{
		{
			"name": "foreground",
			"enter_time": map[string]any{
				"default_ms": 500,
			},
		},
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Description != "phone profile" {
		t.Errorf("Description = %q, want %q", cfg.Description, "phone profile")
	}
	if len(cfg.MatchRules) != 1 {
		t.Fatalf("expected 1 match rule, got %d", len(cfg.MatchRules))
	}
	if cfg.MatchRules[0].Name != RuleForeground {
		t.Errorf("MatchRules[0].Name = %q, want %q", cfg.MatchRules[0].Name, RuleForeground)
	}
	if cfg.MatchRules[0].EnterTime.DefaultMs != 500 {
		t.Errorf("MatchRules[0].EnterTime.DefaultMs = %d, want 500", cfg.MatchRules[0].EnterTime.DefaultMs)
	}
}
