package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	maxWalkDepth = 25
)

// Config represents the arbiter configuration from arbiter.yaml.
type Config struct {
	// Top-level convenience fields
	Schema string `mapstructure:"schema"`
	Policy string `mapstructure:"policy"`

	// Per-command configuration
	Generate GenerateConfig `mapstructure:"generate"`
	Explain  ExplainConfig  `mapstructure:"explain"`
}

// GenerateConfig holds path builder generation settings.
type GenerateConfig struct {
	Schema  string `mapstructure:"schema"`
	Output  string `mapstructure:"output"`
	Package string `mapstructure:"package"`
}

// ExplainConfig holds explain command settings.
type ExplainConfig struct {
	Schema string `mapstructure:"schema"`
	Policy string `mapstructure:"policy"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("ARBITER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	// Top-level defaults
	v.SetDefault("schema", "arbiter/schema.yaml")
	v.SetDefault("policy", "arbiter/policy.yaml")

	// Generate defaults
	v.SetDefault("generate.schema", "")
	v.SetDefault("generate.output", "")
	v.SetDefault("generate.package", "authz")

	// Explain defaults
	v.SetDefault("explain.schema", "")
	v.SetDefault("explain.policy", "")
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for arbiter.yaml or arbiter.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		// Try arbiter.yaml then arbiter.yml
		for _, name := range []string{"arbiter.yaml", "arbiter.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// ResolvedSchema returns the effective schema path for a command, with the
// command-specific override taking precedence over top-level.
func (c *Config) ResolvedSchema(commandSchema string) string {
	if commandSchema != "" {
		return commandSchema
	}
	return c.Schema
}

// ResolvedPolicy returns the effective policy path for a command.
func (c *Config) ResolvedPolicy(commandPolicy string) string {
	if commandPolicy != "" {
		return commandPolicy
	}
	return c.Policy
}
