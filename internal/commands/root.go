package commands

import (
	"fmt"

	"github.com/claraverse/mcp-gateway/internal/launcher"
	"github.com/spf13/cobra"
)

// AppVersion is set by main from the build version
var AppVersion = "0.0.0-dev"

// loadConfig resolves the --config flag and applies --verbose on top of the file
func loadConfig(cmd *cobra.Command) (*launcher.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = launcher.DefaultConfigPath()
	}

	cfg, err := launcher.LoadConfig(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	return cfg, path, nil
}
