package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hammock-linux/hammockd/internal/cgroup"
	"github.com/hammock-linux/hammockd/internal/config"
	"github.com/hammock-linux/hammockd/internal/dbussrc"
	hmerr "github.com/hammock-linux/hammockd/internal/errors"
	"github.com/hammock-linux/hammockd/internal/events"
	"github.com/hammock-linux/hammockd/internal/lifecycle"
	"github.com/hammock-linux/hammockd/internal/lockfile"
	"github.com/hammock-linux/hammockd/internal/logging"
	"github.com/hammock-linux/hammockd/internal/registry"
	"github.com/hammock-linux/hammockd/internal/rules"
	"github.com/hammock-linux/hammockd/internal/wakeup"
	"github.com/hammock-linux/hammockd/internal/wayland"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hammockd daemon in the foreground",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(cfg.Logging.Path, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer log.Close()

	if cfg.Description != "" {
		log.Info("starting hammockd", "description", cfg.Description)
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return hmerr.NewStartupError("env", "XDG_RUNTIME_DIR is required", nil)
	}

	lock := lockfile.New(runtimeDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire singleton lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another hammockd instance already holds %s", lock.Path())
	}
	defer lock.Unlock()

	bus := events.NewBus()

	mgr, err := cgroup.NewManager(cfg.CgroupRoot, cfg.GroupName)
	if err != nil {
		return err
	}

	matchRules := cfg.MatchRules
	if len(matchRules) == 0 {
		log.Warn("no match_rules configured, falling back to the default foreground/background rule set")
		matchRules = rules.DefaultRuleSet()
	}

	// Every rule gets its persistent cgroup at startup, configured or not:
	// a reloaded rule tree may start placing apps into a rule the original
	// config never mentioned, and the cgroup has to already be there.
	cgroupCfg := make(map[config.Rule]config.CgroupConfig, len(matchRules))
	for _, mr := range matchRules {
		cgroupCfg[mr.Name] = mr.Cgroup
	}
	handles := make(map[string]*cgroup.Handle, len(config.AllRules()))
	for _, rule := range config.AllRules() {
		cc := cgroupCfg[rule]
		h, err := mgr.NewCgroup(string(rule), cc.Cores, cc.Memory[0], cc.Memory[1])
		if err != nil {
			return err
		}
		handles[string(rule)] = h
	}

	engine := rules.NewEngine(matchRules)
	watchRules(engine, log)
	cgroups := cgroup.NewController(handles)
	reg := registry.New(cgroups)
	reg.SetLogger(log)

	wlSource, err := wayland.NewSource(bus, log)
	if err != nil {
		return err
	}

	launchMon, err := dbussrc.NewLaunchMonitor(bus, log)
	if err != nil {
		return err
	}

	suspendSrc, err := dbussrc.NewSuspendSource(bus, log)
	if err != nil {
		log.Warn("suspend coordination unavailable", "error", err)
		suspendSrc = nil
	}

	var probe *wakeup.Probe
	if len(cfg.WakeSources) > 0 {
		probe, err = wakeup.NewProbe(cfg.WakeSources)
		if err != nil {
			log.Warn("wakeup probe unavailable", "error", err)
			probe = nil
		}
	}

	ctrl := lifecycle.New(lifecycle.Deps{
		Bus:      bus,
		Registry: reg,
		Engine:   engine,
		Cgroups:  cgroups,
		Root:     mgr.RootHandle(),
		Suspend:  suspendSrc,
		Wakeup:   probe,
		Log:      log,
	})

	// Apply each rule's default freezer policy once at startup, the same
	// reconciliation handleSystemResume performs on every wake except a
	// Modem wake: Foreground,
	// Recents, and Media stay runnable, Background and Snooze start frozen.
	ctrl.ReconcileFreezeState()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopCh := make(chan struct{})

	go func() {
		if err := wlSource.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("wayland dispatch loop exited", "error", err)
		}
	}()
	go launchMon.Run(stopCh)
	if suspendSrc != nil {
		go suspendSrc.Run(stopCh)
	}

	log.Info("hammockd started", "cgroup_root", cfg.CgroupRoot, "group_name", cfg.GroupName, "rules", len(matchRules))

	runErr := ctrl.Run(ctx)

	close(stopCh)
	wlSource.Stop()
	launchMon.Stop()
	if suspendSrc != nil {
		suspendSrc.Stop()
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	log.Info("hammockd shutting down")
	return nil
}

// watchRules re-reads and re-validates the config file whenever it
// changes, swapping the engine's rule tree only when the new tree passes
// validation. A validation failure mid-run is a Warning, not a reason to
// stop enforcing the rules already loaded.
func watchRules(engine *rules.Engine, log *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	log = log.WithComponent("config")
	viper.OnConfigChange(func(fsnotify.Event) {
		cfg, err := config.Load()
		if err != nil {
			log.Warn("config changed but failed to decode, keeping previous rules", "error", err)
			return
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			log.Warn("config changed but failed validation, keeping previous rules", "error", config.ValidationErrors(errs))
			return
		}

		matchRules := cfg.MatchRules
		if len(matchRules) == 0 {
			matchRules = rules.DefaultRuleSet()
		}
		engine.Replace(matchRules)
		log.Info("reloaded match rules", "rules", len(matchRules))
	})
	viper.WatchConfig()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	return cfg, nil
}
