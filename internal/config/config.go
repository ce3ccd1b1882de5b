package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// Config holds every option recognized by the worker. Resource caps use the
// Docker notations: CPUs are fractional cores, memory limits are strings such
// as "1g" or "512m". Timeouts are in seconds.
type Config struct {
	Name             string  `yaml:"name"`
	GameHostImage    string  `yaml:"game_host_image"`
	HTTPBaseURL      string  `yaml:"http_base_url"`
	WebsocketURL     string  `yaml:"websocket_url"`
	AgentCPUs        float64 `yaml:"agent_cpus"`
	AgentMemLimit    string  `yaml:"agent_mem_limit"`
	GameHostCPUs     float64 `yaml:"game_host_cpus"`
	GameHostMemLimit string  `yaml:"game_host_mem_limit"`
	JudgeTimeout     float64 `yaml:"judge_timeout"`
	BuildTimeout     float64 `yaml:"build_timeout"`
	LoggingLevel     string  `yaml:"logging_level"`
	DataDir          string  `yaml:"data_dir"`
}

// Default returns a Config populated with the implementation-chosen defaults.
// Name and GameHostImage have no defaults and must be provided.
func Default() Config {
	return Config{
		HTTPBaseURL:      "https://api.dev.saiblo.net",
		WebsocketURL:     "wss://api.dev.saiblo.net/ws/",
		AgentCPUs:        0.5,
		AgentMemLimit:    "1g",
		GameHostCPUs:     1,
		GameHostMemLimit: "1g",
		JudgeTimeout:     600,
		BuildTimeout:     60,
		LoggingLevel:     "INFO",
		DataDir:          "data",
	}
}

// Load reads a YAML config file, overlays SAIBLO_WORKER_* environment
// variables, and validates the result. An empty path skips the file and uses
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto cfg via viper, so the worker
// can run config-file-free inside a container.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("SAIBLO_WORKER")
	v.AutomaticEnv()

	for key, set := range map[string]func(){
		"NAME":                func() { cfg.Name = v.GetString("NAME") },
		"GAME_HOST_IMAGE":     func() { cfg.GameHostImage = v.GetString("GAME_HOST_IMAGE") },
		"HTTP_BASE_URL":       func() { cfg.HTTPBaseURL = v.GetString("HTTP_BASE_URL") },
		"WEBSOCKET_URL":       func() { cfg.WebsocketURL = v.GetString("WEBSOCKET_URL") },
		"AGENT_CPUS":          func() { cfg.AgentCPUs = v.GetFloat64("AGENT_CPUS") },
		"AGENT_MEM_LIMIT":     func() { cfg.AgentMemLimit = v.GetString("AGENT_MEM_LIMIT") },
		"GAME_HOST_CPUS":      func() { cfg.GameHostCPUs = v.GetFloat64("GAME_HOST_CPUS") },
		"GAME_HOST_MEM_LIMIT": func() { cfg.GameHostMemLimit = v.GetString("GAME_HOST_MEM_LIMIT") },
		"JUDGE_TIMEOUT":       func() { cfg.JudgeTimeout = v.GetFloat64("JUDGE_TIMEOUT") },
		"BUILD_TIMEOUT":       func() { cfg.BuildTimeout = v.GetFloat64("BUILD_TIMEOUT") },
		"LOGGING_LEVEL":       func() { cfg.LoggingLevel = v.GetString("LOGGING_LEVEL") },
		"DATA_DIR":            func() { cfg.DataDir = v.GetString("DATA_DIR") },
	} {
		if v.IsSet(key) {
			set()
		}
	}
}

// Validate checks the required options and value ranges.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("config: name is required")
	}
	if c.GameHostImage == "" {
		return errors.New("config: game_host_image is required")
	}
	if c.AgentCPUs <= 0 {
		return fmt.Errorf("config: agent_cpus must be positive, got %v", c.AgentCPUs)
	}
	if c.GameHostCPUs <= 0 {
		return fmt.Errorf("config: game_host_cpus must be positive, got %v", c.GameHostCPUs)
	}
	if c.JudgeTimeout <= 0 {
		return fmt.Errorf("config: judge_timeout must be positive, got %v", c.JudgeTimeout)
	}
	if c.BuildTimeout <= 0 {
		return fmt.Errorf("config: build_timeout must be positive, got %v", c.BuildTimeout)
	}
	return nil
}
