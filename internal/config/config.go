// Package config defines the scaleconnect settings and the sync documents
// they carry.
//
// Conventions:
// - New(ctx) builds a Config with defaults; Load layers file and env on top.
// - Errors returned by Load wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// MetricsAddr enables the ops HTTP server (/metrics, /healthz) when set.
	MetricsAddr string `koanf:"metrics_addr"`

	// TokensPath is the JSON file that keeps vendor session tokens.
	TokensPath string `koanf:"tokens_path"`

	// Repeat reruns the sync document at this interval. Zero runs once.
	Repeat time.Duration `koanf:"repeat"`

	// Interactive also reads sync documents from stdin, one per line.
	Interactive bool `koanf:"interactive"`

	// QueueSize bounds the number of pending sync documents.
	QueueSize int `koanf:"queue_size"`

	// AccountTTL is how long logged-in accounts are reused.
	AccountTTL time.Duration `koanf:"account_ttl"`

	// DedupeMaxKeys bounds the keys one dedupe pass remembers. Zero keeps all.
	DedupeMaxKeys int `koanf:"dedupe_max_keys"`

	// Xiaomi tunes the vendor client.
	Xiaomi Xiaomi `koanf:"xiaomi"`

	// Metrics shapes the Prometheus collectors.
	Metrics Metrics `koanf:"metrics"`

	// Syncs holds the named syncs of the loaded document.
	Syncs map[string]Sync `koanf:"-"`

	// Document is the raw loaded document, resubmitted on every repeat.
	Document []byte `koanf:"-"`

	// Source names where the document came from.
	Source string `koanf:"-"`
}

// Xiaomi holds the vendor client settings.
type Xiaomi struct {
	Timeout        time.Duration `koanf:"timeout"`
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`
	// RateLimit is in requests per second; zero disables pacing.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// Metrics holds the collector settings.
type Metrics struct {
	Enabled   bool              `koanf:"enabled"`
	Namespace string            `koanf:"namespace"`
	Subsystem string            `koanf:"subsystem"`
	Buckets   []float64         `koanf:"buckets"`
	Labels    map[string]string `koanf:"labels"`
}

// Sync moves weights from one place to another.
type Sync struct {
	// From is a source line ("csv path", "xiaomi user pass [filter]", ...),
	// a single weight object or a list of them.
	From any `koanf:"from"`
	// To is a target line ("csv path", "json stdout", "json/latest url", ...).
	To string `koanf:"to"`
	// Expr rewrites weight fields with expressions, keyed by field name.
	Expr map[string]string `koanf:"expr"`
	// Dedupe drops repeated (Date, Source) records before writing.
	Dedupe bool `koanf:"dedupe"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:   "info",
		LogFormat:  "text",
		TokensPath: "scaleconnect.json",
		QueueSize:  10,
		AccountTTL: 23 * time.Hour,
		Xiaomi: Xiaomi{
			Timeout:        time.Minute,
			RetryAttempts:  1,
			RetryBaseDelay: 500 * time.Millisecond,
			RetryMaxDelay:  10 * time.Second,
			RateBurst:      1,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "scaleconnect",
		},
	}
}
