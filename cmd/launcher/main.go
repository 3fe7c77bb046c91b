package main

import (
	"fmt"
	"os"

	"github.com/claraverse/mcp-gateway/internal/commands"
	"github.com/claraverse/mcp-gateway/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version    = "0.0.0-dev"
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "launcher",
	Short: "ClaraVerse launcher - spawn local tool servers for the gateway",
	Long: `The launcher is the only process allowed to start local tool servers.
It attaches to the gateway, validates every spawn request against the
sandbox allow-lists, and relays protocol traffic over the tool server's stdio.

Commands:
  start                      Attach to the gateway and serve requests
  check <command> [args...]  Run the sandbox against a command line
  config                     Show the resolved configuration
  config init                Write a config file
  version                    Print the version

Config: ~/.claraverse/launcher.yaml (override with CLARA_LAUNCHER_* variables)`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.claraverse/launcher.yaml)")

	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.CheckCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	// .env is optional
	_ = godotenv.Load()
	logging.Init()

	commands.AppVersion = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
