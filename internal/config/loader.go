package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "SCALECONNECT_"
	envConfig  = envPrefix + "CONFIG"
	configName = "scaleconnect.yaml"
)

// Load builds a Config by layering defaults, the document and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. document: path (or SCALECONNECT_CONFIG) which may be a file or an
//     inline JSON object, else scaleconnect.yaml in CWD, else next to the
//     binary (CWD is then moved there so the tokens file sits beside it)
//  3. env (prefix SCALECONNECT_)
//
// A missing document is not an error; Document is then empty.
func Load(ctx context.Context, path string) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envConfig)
	}

	data, source, err := readDocument(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if data != nil {
		if err = k.Load(Bytes(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, source, err)
		}
	}

	// Environment variables: SCALECONNECT_LOG_LEVEL -> log_level,
	// SCALECONNECT_XIAOMI_RETRY_ATTEMPTS -> xiaomi.retry_attempts.
	envProvider := env.Provider(envPrefix, ".", envKey)
	if err = k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if cfg.Syncs, err = syncs(k); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	cfg.Document = data
	cfg.Source = source

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"xiaomi", "metrics"} {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return s
}

func readDocument(path string) ([]byte, string, error) {
	if path != "" {
		if strings.HasPrefix(strings.TrimSpace(path), "{") {
			return []byte(path), "inline", nil
		}
		data, err := file.Provider(path).ReadBytes()
		return data, path, err
	}

	if data, err := file.Provider(configName).ReadBytes(); err == nil {
		return data, configName, nil
	}

	ex, err := os.Executable()
	if err != nil {
		return nil, "", nil
	}
	dir := filepath.Dir(ex)
	name := filepath.Join(dir, configName)

	data, err := file.Provider(name).ReadBytes()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", nil
		}
		return nil, "", err
	}

	return data, name, os.Chdir(dir)
}

// Validate reports the first setting out of range.
func (c *Config) Validate() error {
	switch {
	case c.Repeat < 0:
		return fmt.Errorf("%w: repeat must not be negative", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.AccountTTL < 0:
		return fmt.Errorf("%w: account_ttl must not be negative", ErrInvalidConfig)
	case c.Xiaomi.Timeout < 0:
		return fmt.Errorf("%w: xiaomi.timeout must not be negative", ErrInvalidConfig)
	case c.Xiaomi.RetryAttempts < 1:
		return fmt.Errorf("%w: xiaomi.retry_attempts must be at least 1", ErrInvalidConfig)
	case c.Xiaomi.RetryBaseDelay < 0, c.Xiaomi.RetryMaxDelay < 0:
		return fmt.Errorf("%w: xiaomi retry delays must not be negative", ErrInvalidConfig)
	case c.Xiaomi.RateLimit < 0:
		return fmt.Errorf("%w: xiaomi.rate_limit must not be negative", ErrInvalidConfig)
	case c.DedupeMaxKeys < 0:
		return fmt.Errorf("%w: dedupe_max_keys must not be negative", ErrInvalidConfig)
	case !slices.IsSorted(c.Metrics.Buckets):
		return fmt.Errorf("%w: metrics.buckets must be in increasing order", ErrInvalidConfig)
	}
	return nil
}

// ParseSyncs decodes a sync document: YAML or JSON with the syncs either
// under "sync" or at the top level.
func ParseSyncs(data []byte) (map[string]Sync, error) {
	k := koanf.New(".")
	if err := k.Load(Bytes(data), yaml.Parser()); err != nil {
		return nil, err
	}
	return syncs(k)
}

// syncs collects every object that has both from and to.
func syncs(k *koanf.Koanf) (map[string]Sync, error) {
	root := k
	if k.Exists("sync") {
		root = k.Cut("sync")
	}

	out := map[string]Sync{}
	for name, v := range root.Raw() {
		if _, ok := v.(map[string]any); !ok {
			continue
		}

		var s Sync
		if err := root.UnmarshalWithConf(name, &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, fmt.Errorf("sync %q: %w", name, err)
		}
		if s.From == nil || s.From == "" || s.To == "" {
			continue
		}
		out[name] = s
	}
	return out, nil
}
