package commands

import (
	"fmt"

	"github.com/claraverse/mcp-gateway/internal/launcher"
	"github.com/spf13/cobra"
)

var (
	initGatewayURL string
	initSecret     string
)

var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved launcher configuration",
	Long:  `Prints the configuration after defaults, the config file and CLARA_LAUNCHER_* environment variables are merged.`,
	RunE:  runConfig,
}

var ConfigInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a launcher config file",
	Long: `Writes the resolved configuration to the config file, with owner-only permissions.

Example:
  launcher config init --gateway-url wss://gateway.example.com/mcp/launcher --secret <shared secret>`,
	RunE: runConfigInit,
}

func init() {
	ConfigInitCmd.Flags().StringVar(&initGatewayURL, "gateway-url", "", "Gateway websocket URL")
	ConfigInitCmd.Flags().StringVar(&initSecret, "secret", "", "Shared secret used to sign attach tokens")
	ConfigCmd.AddCommand(ConfigInitCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📁 Config file:     %s\n", path)
	fmt.Fprintf(out, "🌐 Gateway:         %s\n", cfg.GatewayURL)
	fmt.Fprintf(out, "🆔 Launcher ID:     %s\n", cfg.LauncherID)
	fmt.Fprintf(out, "🔐 Secret:          %s\n", maskSecret(cfg.Secret))
	fmt.Fprintf(out, "⏱️  Request timeout: %s\n", cfg.RequestTimeout)
	fmt.Fprintf(out, "📦 Max servers:     %d\n", cfg.MaxServers)
	fmt.Fprintf(out, "🚦 Spawn rate:      %.2f/s (burst %d)\n", cfg.SpawnRate, cfg.SpawnBurst)
	fmt.Fprintf(out, "🔊 Verbose:         %t\n", cfg.Verbose)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "\n⚠️  %v\n", err)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if initGatewayURL != "" {
		cfg.GatewayURL = initGatewayURL
	}
	if initSecret != "" {
		cfg.Secret = initSecret
	}

	if err := launcher.SaveConfig(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Config written to %s\n", path)
	return nil
}

func maskSecret(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) <= 4:
		return "****"
	default:
		return secret[:2] + "****" + secret[len(secret)-2:]
	}
}
