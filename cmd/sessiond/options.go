package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sessiond/internal/common/fsutil"
	"sessiond/internal/config"
	"sessiond/internal/toolbridge"
)

// Defaults applied after flags, config file and environment.
const (
	defaultAddr      = ":8080"
	defaultModelsDir = "~/models/llm"
	defaultDataDir   = "~/.local/share/sessiond"
	defaultLogLevel  = "info"

	// An operation may wait on a tool call for the whole tool-call timeout,
	// so the request timeout is kept at least this far above it.
	requestTimeoutMargin = 60
)

// options are the raw flag values.
type options struct {
	configPath  string
	addr        string
	modelsDir   string
	corsOrigins string
	logLevel    string
	logFormat   string
	reqTimeout  int
}

func (o *options) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "Path to a YAML, JSON or TOML config file")
	f.StringVar(&o.addr, "addr", "", "HTTP listen address (default "+defaultAddr+", env SESSIOND_ADDR)")
	f.StringVar(&o.modelsDir, "models-dir", "", "Directory holding model files and manifests (default "+defaultModelsDir+")")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS when set")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringVar(&o.logFormat, "log-format", "json", "Log format: json|console")
	f.IntVar(&o.reqTimeout, "request-timeout", 0, "Per-operation timeout in seconds; 0 disables")
}

// resolve merges flags over the config file over the environment over defaults.
func (o *options) resolve(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("addr") {
		cfg.Addr = o.addr
	}
	if changed("models-dir") {
		cfg.ModelsDir = o.modelsDir
	}
	if changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if changed("request-timeout") {
		cfg.RequestTimeoutSeconds = o.reqTimeout
	}
	if changed("cors-origins") {
		cfg.CORS.Origins = splitCSV(o.corsOrigins)
		cfg.CORS.Enabled = len(cfg.CORS.Origins) > 0
	}
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("SESSIOND_ADDR")
	}
	applyDefaults(&cfg)

	var err error
	if cfg.ModelsDir, err = fsutil.ExpandHome(cfg.ModelsDir); err != nil {
		return cfg, err
	}
	if cfg.DataDir, err = fsutil.ExpandHome(cfg.DataDir); err != nil {
		return cfg, err
	}
	if strings.EqualFold(cfg.Store.Type, "sqlite") && cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "sessiond.db")
	}
	return cfg, nil
}

func applyDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = defaultModelsDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.RequestTimeoutSeconds > 0 {
		tool := cfg.ToolCallTimeoutSeconds
		if tool <= 0 {
			tool = int(toolbridge.DefaultTimeout / time.Second)
		}
		cfg.RequestTimeoutSeconds = max(cfg.RequestTimeoutSeconds, tool+requestTimeoutMargin)
	}
	if cfg.UseMMap == nil {
		t := true
		cfg.UseMMap = &t
	}
	if cfg.CORS.Enabled {
		if len(cfg.CORS.Methods) == 0 {
			cfg.CORS.Methods = []string{"GET", "POST", "OPTIONS"}
		}
		if len(cfg.CORS.Headers) == 0 {
			cfg.CORS.Headers = []string{"Content-Type", "X-Log-Level"}
		}
	}
}

// newLogger builds the root logger.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "sessiond").Logger(), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
