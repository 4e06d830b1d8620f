package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file
const (
	EnvRedisURL     = "REDIS_URL"
	EnvLogLevel     = "FUNNEL_LOG_LEVEL"
	EnvCacheBackend = "FUNNEL_CACHE_BACKEND"
	EnvQueueBackend = "FUNNEL_QUEUE_BACKEND"
	EnvHTTPAddr     = "FUNNEL_HTTP_ADDR"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes YAML over the defaults. ${VAR} references in the document
// and the override variables are resolved through lookup.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if len(data) > 0 {
		expanded := expandEnvVars(string(data), lookup)
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	applyEnv(cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with its value, keeping unset references as is
func expandEnvVars(input string, lookup func(string) (string, bool)) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value, ok := lookup(name); ok {
			return value
		}
		return match
	})
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	overrides := []struct {
		name   string
		target *string
	}{
		{EnvRedisURL, &cfg.Redis.URL},
		{EnvLogLevel, &cfg.Log.Level},
		{EnvCacheBackend, &cfg.Cache.Backend},
		{EnvQueueBackend, &cfg.Queue.Backend},
		{EnvHTTPAddr, &cfg.HTTP.Addr},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.name); ok && v != "" {
			*o.target = v
		}
	}
}
