// Package config defines the runtime configuration for linechat and the
// layered loaders that build it.
package config

import (
	"fmt"
	"strings"
	"time"

	"linechat/internal/chat"
	"linechat/internal/errors"
)

// Config holds every tuneable for a linechat server.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Host    string `yaml:"host"    env:"LINECHAT_HOST"`
	Port    int    `yaml:"port"    env:"LINECHAT_PORT"`
	Backlog int    `yaml:"backlog" env:"LINECHAT_BACKLOG"`

	// ── Chat ─────────────────────────────────────────────────────────
	MaxLineLength int           `yaml:"max_line_length" env:"LINECHAT_MAX_LINE"`
	ReadChunk     int           `yaml:"read_chunk"      env:"LINECHAT_READ_CHUNK"`
	Welcome       string        `yaml:"welcome"         env:"LINECHAT_WELCOME"`
	Echo          bool          `yaml:"echo"            env:"LINECHAT_ECHO"`
	LabelWithPort bool          `yaml:"label_with_port" env:"LINECHAT_LABEL_PORT"`
	WriteTimeout  time.Duration `yaml:"write_timeout"   env:"LINECHAT_WRITE_TIMEOUT"`

	// ── Discovery ────────────────────────────────────────────────────
	MDNS         bool   `yaml:"mdns"          env:"LINECHAT_MDNS"`
	MDNSInstance string `yaml:"mdns_instance" env:"LINECHAT_MDNS_NAME"`

	// ── Output ───────────────────────────────────────────────────────
	Stats     bool   `yaml:"stats"      env:"LINECHAT_STATS"`
	Verbose   int    `yaml:"verbose"    env:"LINECHAT_VERBOSE"`
	LogFormat string `yaml:"log_format" env:"LINECHAT_LOG_FORMAT"`
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &errors.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 0-65535",
			Hint:    "use 0 to pick a free port",
		}
	}
	if c.MaxLineLength < 2 {
		return &errors.ConfigError{
			Field:   "max-line",
			Value:   c.MaxLineLength,
			Message: "must be at least 2",
			Hint:    fmt.Sprintf("the default is %d", DefaultMaxLineLength),
		}
	}
	if c.ReadChunk < 1 {
		return &errors.ConfigError{
			Field:   "read-chunk",
			Value:   c.ReadChunk,
			Message: "must be positive",
		}
	}
	if c.Backlog < 1 {
		return &errors.ConfigError{
			Field:   "backlog",
			Value:   c.Backlog,
			Message: "must be positive",
		}
	}
	if c.WriteTimeout <= 0 {
		return &errors.ConfigError{
			Field:   "write-timeout",
			Value:   c.WriteTimeout,
			Message: "must be positive",
			Hint:    "e.g. 2s or 500ms",
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case LogFormatConsole, LogFormatJSON:
	default:
		return &errors.ConfigError{
			Field:   "log-format",
			Value:   c.LogFormat,
			Message: "unknown log format",
			Hint:    "use console or json",
		}
	}
	if c.MDNS && c.Port == 0 {
		return &errors.ConfigError{
			Field:   "mdns",
			Value:   c.MDNS,
			Message: "advertising needs a fixed port",
			Hint:    "set --port",
		}
	}
	return nil
}

// JSONLogs reports whether the JSON log encoder was requested.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.LogFormat, LogFormatJSON)
}

// Server converts c into the chat server's configuration.
func (c *Config) Server() chat.Config {
	return chat.Config{
		Host:          c.Host,
		Port:          c.Port,
		Backlog:       c.Backlog,
		LineCapacity:  c.MaxLineLength,
		ReadChunk:     c.ReadChunk,
		Welcome:       c.Welcome,
		IncludeOrigin: c.Echo,
		LabelWithPort: c.LabelWithPort,
		WriteTimeout:  c.WriteTimeout,
	}
}
