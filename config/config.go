package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/martinemde/codepair/sandbox"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Model        ModelConfig        `yaml:"model"`
	Conversation ConversationConfig `yaml:"conversation"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	NATS         NATSConfig         `yaml:"nats"`
	Store        StoreConfig        `yaml:"store"`
	Web          WebConfig          `yaml:"web"`
	Log          LogConfig          `yaml:"log"`
}

type ModelConfig struct {
	Provider    string   `yaml:"provider"`
	Name        string   `yaml:"name"`
	APIKey      string   `yaml:"api_key"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	MaxRetries  int      `yaml:"max_retries"`
}

type ConversationConfig struct {
	MaxTurns       int    `yaml:"max_turns"`
	ApproveTrigger string `yaml:"approve_trigger"`
	ExitTrigger    string `yaml:"exit_trigger"`
	MaxToolRounds  int    `yaml:"max_tool_rounds"`
	EventBuffer    int    `yaml:"event_buffer"`
}

type SandboxConfig struct {
	Toolchain      string        `yaml:"toolchain"`
	BaseDir        string        `yaml:"base_dir"`
	CompileTimeout time.Duration `yaml:"compile_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Embedded bool   `yaml:"embedded"`
	URL      string `yaml:"url"`
	Port     int    `yaml:"port"` // -1 picks a random port
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		Model: ModelConfig{
			Provider:   "gemini",
			Name:       "gemini-2.0-flash",
			MaxTokens:  4096,
			MaxRetries: 2,
		},
		Conversation: ConversationConfig{
			ApproveTrigger: "Approved",
			ExitTrigger:    "exit",
			MaxToolRounds:  25,
			EventBuffer:    64,
		},
		Sandbox: SandboxConfig{
			Toolchain:      "java",
			CompileTimeout: 60 * time.Second,
			RunTimeout:     10 * time.Second,
			MaxOutputBytes: 1 << 20,
		},
		NATS: NATSConfig{
			Embedded: true,
			Port:     4222,
		},
		Store: StoreConfig{
			Path: "data/codepair.db",
		},
		Web: WebConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads $CODEPAIR_CONFIG (or config/codepair.yaml) over the defaults
// and applies CODEPAIR_* environment overrides. A missing file is not an
// error.
func Load() (*Config, error) {
	path := os.Getenv("CODEPAIR_CONFIG")
	if path == "" {
		path = "config/codepair.yaml"
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CODEPAIR_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("CODEPAIR_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("CODEPAIR_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("CODEPAIR_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversation.MaxTurns = n
		}
	}
	if v := os.Getenv("CODEPAIR_TOOLCHAIN"); v != "" {
		cfg.Sandbox.Toolchain = v
	}
	if v := os.Getenv("CODEPAIR_SANDBOX_DIR"); v != "" {
		cfg.Sandbox.BaseDir = v
	}
	if v := os.Getenv("CODEPAIR_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Embedded = false
	}
	if v := os.Getenv("CODEPAIR_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CODEPAIR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CODEPAIR_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CODEPAIR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Conversation.MaxTurns < 0 {
		return fmt.Errorf("conversation.max_turns must not be negative")
	}
	if c.Conversation.EventBuffer < 0 {
		return fmt.Errorf("conversation.event_buffer must not be negative")
	}
	if _, err := sandbox.ToolchainByName(c.Sandbox.Toolchain); err != nil {
		return fmt.Errorf("sandbox.toolchain: %w", err)
	}
	if c.Sandbox.CompileTimeout <= 0 || c.Sandbox.RunTimeout <= 0 {
		return fmt.Errorf("sandbox timeouts must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SandboxSettings converts the sandbox section for sandbox.New.
func (c *Config) SandboxSettings() (sandbox.Config, error) {
	tc, err := sandbox.ToolchainByName(c.Sandbox.Toolchain)
	if err != nil {
		return sandbox.Config{}, err
	}
	sc := sandbox.DefaultConfig()
	sc.Toolchain = tc
	sc.BaseDir = c.Sandbox.BaseDir
	sc.CompileTimeout = c.Sandbox.CompileTimeout
	sc.RunTimeout = c.Sandbox.RunTimeout
	if c.Sandbox.MaxOutputBytes > 0 {
		sc.MaxOutputBytes = c.Sandbox.MaxOutputBytes
	}
	return sc, nil
}
