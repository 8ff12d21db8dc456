package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI     AIConfig    `yaml:"ai" validate:"required"`
	Gate   GateConfig  `yaml:"gate"`
	Paths  PathsConfig `yaml:"paths" validate:"required"`
	Limits Limits      `yaml:"limits" validate:"required"`
}

type AIConfig struct {
	APIKey  string `yaml:"api_key" validate:"required,min=20"`
	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Timeout int    `yaml:"timeout" validate:"required,min=10,max=3600"`
}

// GateConfig controls the validation pass run when an agent claims a stage
// is complete. FailOpen decides what happens when the validator itself is
// unavailable: approve the work anyway (true) or hold the stage (false).
type GateConfig struct {
	Model    string `yaml:"model" validate:"required"`
	FailOpen *bool  `yaml:"fail_open"`
}

type PathsConfig struct {
	DataDir    string `yaml:"data_dir" validate:"required,dirpath"`
	PromptsDir string `yaml:"prompts_dir" validate:"required,dirpath"`
}

// Load reads the YAML config, applying environment overrides. A missing
// config file is not an error: defaults are used so the tool works out of
// the box with just an API key in the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := getConfigPath()

	cfg := Default()
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if cfg.AI.APIKey == "" || strings.HasPrefix(cfg.AI.APIKey, "${") {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.AI.APIKey = apiKey
		} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			cfg.AI.APIKey = apiKey
			cfg.AI.BaseURL = "https://api.anthropic.com"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration before file and environment
// overrides are applied.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:   "gpt-4o",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 120,
		},
		Gate: GateConfig{
			Model: "gpt-4o",
		},
		Paths: PathsConfig{
			DataDir:    defaultDataDir(),
			PromptsDir: defaultPromptsDir(),
		},
		Limits: DefaultLimits(),
	}
}

// IsFailOpen reports the gate failure policy, defaulting to open.
func (g GateConfig) IsFailOpen() bool {
	if g.FailOpen == nil {
		return true
	}
	return *g.FailOpen
}

func getConfigPath() string {
	// 1. Explicit config path via environment variable
	if path := os.Getenv("STAGEFLOW_CONFIG"); path != "" {
		return path
	}

	// 2. XDG_CONFIG_HOME (XDG Base Directory Specification)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stageflow", "config.yaml")
	}

	// 3. Default to ~/.config/stageflow/config.yaml
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "stageflow", "config.yaml")
}

func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "stageflow", "data")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "stageflow", "data")
}

func defaultPromptsDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "stageflow", "prompts")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "stageflow", "prompts")
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) validate() error {
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = defaultDataDir()
	} else {
		c.Paths.DataDir = expandTilde(c.Paths.DataDir)
	}
	if c.Paths.PromptsDir == "" {
		c.Paths.PromptsDir = defaultPromptsDir()
	} else {
		c.Paths.PromptsDir = expandTilde(c.Paths.PromptsDir)
	}
	if c.Gate.Model == "" {
		c.Gate.Model = c.AI.Model
	}
	if c.Limits.MaxAutoIterations == 0 {
		c.Limits = DefaultLimits()
	}

	validate := validator.New()

	// Directories are created at startup if missing, so only require the
	// path to be set here.
	validate.RegisterValidation("dirpath", func(fl validator.FieldLevel) bool {
		return fl.Field().String() != ""
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}
