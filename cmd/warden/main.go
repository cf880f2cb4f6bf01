package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "warden - declarative agent fleet controller",
	Long: `warden reconciles a fleet of isolated worker agents from declarative
spec files. Drop a create/modify/delete spec into the watched directory
and the daemon validates it, applies it against the registry and task
schedule, and renames the file to record the outcome.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
)

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(homeDir, ".warden", "config.yaml")

	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7410", "Daemon API address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to config file")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(specCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
