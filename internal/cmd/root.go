// Package cmd provides the CLI command structure for hammockd: a single
// daemon mode plus a version command.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hammock-linux/hammockd/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "hammockd",
	Short: "Application lifecycle controller for constrained Linux desktops",
	Long: `hammockd classifies running graphical applications into lifecycle
match rules (foreground, recents, background, snooze, media) and enforces
them through cgroup v2 freezing, coordinating with Wayland toplevel
activity, D-Bus application launches, and system suspend/resume so the
active application always keeps running and everything else doesn't.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is "+config.ConfigFile()+")")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("/etc/hammockd")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HAMMOCKD")

	_ = viper.ReadInConfig()
}
