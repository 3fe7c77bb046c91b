package launcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGatewayURL     = "ws://localhost:3001/mcp/launcher"
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxServers     = 16
	DefaultSpawnRate      = 2.0
	DefaultSpawnBurst     = 4
)

// Config represents the launcher configuration
type Config struct {
	GatewayURL     string        `yaml:"gateway_url" mapstructure:"gateway_url"`
	Secret         string        `yaml:"secret" mapstructure:"secret"`
	LauncherID     string        `yaml:"launcher_id" mapstructure:"launcher_id"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	MaxServers     int           `yaml:"max_servers" mapstructure:"max_servers"`
	SpawnRate      float64       `yaml:"spawn_rate" mapstructure:"spawn_rate"`
	SpawnBurst     int           `yaml:"spawn_burst" mapstructure:"spawn_burst"`
	Verbose        bool          `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfigPath returns ~/.claraverse/launcher.yaml for the invoking user
func DefaultConfigPath() string {
	// When running under sudo, os.UserHomeDir() returns /root.
	var home string
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			home = u.HomeDir
		}
	}
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			home = "."
		}
	}
	return filepath.Join(home, ".claraverse", "launcher.yaml")
}

// LoadConfig reads the config file at path. A missing file is not an error:
// defaults and CLARA_LAUNCHER_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLARA_LAUNCHER")
	v.AutomaticEnv()

	v.SetDefault("gateway_url", DefaultGatewayURL)
	v.SetDefault("secret", "")
	v.SetDefault("launcher_id", "")
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("max_servers", DefaultMaxServers)
	v.SetDefault("spawn_rate", DefaultSpawnRate)
	v.SetDefault("spawn_burst", DefaultSpawnBurst)
	v.SetDefault("verbose", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.LauncherID == "" {
		cfg.LauncherID = uuid.New().String()
	}

	return &cfg, nil
}

// Validate checks the settings needed to attach to a gateway
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return errors.New("gateway_url is required")
	}
	if c.Secret == "" {
		return errors.New("secret is required (set it in the config file or CLARA_LAUNCHER_SECRET)")
	}
	return nil
}

// SaveConfig writes cfg to path with owner-only permissions
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
