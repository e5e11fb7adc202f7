package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the complete hammockd configuration: the rule tree the
// RuleEngine evaluates, the cgroup root the CGroupHandler mounts, the
// wake sources WakeupProbe polls, and the ambient daemon settings.
type Config struct {
	// Description is free-text, round-tripped from the config file and
	// logged at startup. Not otherwise used.
	Description string `mapstructure:"description"`

	// CgroupRoot is the mounted cgroup2 hierarchy root under which the
	// top-level grouping cgroup is created.
	CgroupRoot string `mapstructure:"cgroup_root"`
	// GroupName is the top-level grouping cgroup's directory name
	// (historically "tinydm").
	GroupName string `mapstructure:"group_name"`

	// Cores and Memory are cgroup resource controls for the top-level
	// grouping cgroup. They are decoded and validated but not written to
	// any cgroup; only the per-rule controls in MatchRules[i].Cgroup are
	// applied.
	Cores  []int    `mapstructure:"cores"`
	Memory [2]int64 `mapstructure:"memory"`

	MatchRules  []MatchRule        `mapstructure:"match_rules"`
	WakeSources []WakeSourceConfig `mapstructure:"wake_sources"`
	Tags        []Tag              `mapstructure:"tags"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig controls hammockd's own log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level"`
	// Path is the daemon log file. Empty means log to stderr.
	Path string `mapstructure:"path"`
	// MaxSizeMB is the rotation threshold; 0 disables rotation.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated files to retain.
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated backups.
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values. The default
// MatchRules set is empty; callers needing a working rule tree with no
// config file present should use rules.DefaultRuleSet() as a fallback
// rather than relying on this returning one.
func Default() *Config {
	return &Config{
		Description: "",
		CgroupRoot:  "/sys/fs/cgroup/unified",
		GroupName:   "tinydm",
		Cores:       []int{},
		Memory:      [2]int64{0, 0},
		MatchRules:  []MatchRule{},
		WakeSources: []WakeSourceConfig{},
		Tags:        []Tag{},
		Logging: LoggingConfig{
			Level:      "info",
			Path:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with viper so they apply before
// any config file or environment override is read.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("description", defaults.Description)
	viper.SetDefault("cgroup_root", defaults.CgroupRoot)
	viper.SetDefault("group_name", defaults.GroupName)
	viper.SetDefault("cores", defaults.Cores)
	viper.SetDefault("memory", defaults.Memory)
	viper.SetDefault("match_rules", defaults.MatchRules)
	viper.SetDefault("wake_sources", defaults.WakeSources)
	viper.SetDefault("tags", defaults.Tags)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.path", defaults.Logging.Path)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if
// unmarshaling fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to hammockd's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hammockd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hammockd"
	}
	return filepath.Join(home, ".config", "hammockd")
}

// ConfigFile returns the path to the default config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
