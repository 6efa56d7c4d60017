package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for file extensions with no decoder.
var ErrUnsupportedFormat = errors.New("unsupported config extension")

// CORS configures cross-origin access for page-context callers.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Store selects the backend for usage bookkeeping and chat histories.
type Store struct {
	// memory, sqlite or redis
	Type        string `json:"type" yaml:"type" toml:"type"`
	Path        string `json:"path" yaml:"path" toml:"path"`
	RedisAddr   string `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisDB     int    `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	RedisPrefix string `json:"redis_prefix" yaml:"redis_prefix" toml:"redis_prefix"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr           string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir      string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DataDir        string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	DefaultBackend string `json:"default_backend" yaml:"default_backend" toml:"default_backend"`
	UseMMap        *bool  `json:"use_mmap" yaml:"use_mmap" toml:"use_mmap"`
	VRAMBudgetMB   int    `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb"`
	Threads        int    `json:"threads" yaml:"threads" toml:"threads"`

	IdleTimeoutSeconds     int `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds"`
	ToolCallTimeoutSeconds int `json:"tool_call_timeout_seconds" yaml:"tool_call_timeout_seconds" toml:"tool_call_timeout_seconds"`
	RequestTimeoutSeconds  int `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	MaxQueueDepth          int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds         int `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`

	LogLevel       string  `json:"log_level" yaml:"log_level" toml:"log_level"`
	MaxBodyBytes   int64   `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst" toml:"rate_limit_burst"`

	CORS  CORS  `json:"cors" yaml:"cors" toml:"cors"`
	Store Store `json:"store" yaml:"store" toml:"store"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Unmarshal(filepath.Ext(path), b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Unmarshal decodes b into v using the format named by ext (".yaml", ".json", ...).
func Unmarshal(ext string, b []byte, v any) error {
	switch ext = strings.ToLower(ext); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, v)
	case ".json":
		return json.Unmarshal(b, v)
	case ".toml":
		return toml.Unmarshal(b, v)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// Supported reports whether ext has a decoder.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}
