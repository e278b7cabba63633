package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the provider names that ship with Synchron.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live", "openai-realtime"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
//
// The provider api_key field is expanded against the process environment, so
// "${GEMINI_API_KEY}" resolves to the variable's value at load time.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	cfg.Provider.APIKey = os.ExpandEnv(cfg.Provider.APIKey)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else {
		if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
			slog.Warn("unknown provider name — may be a typo or third-party provider",
				"name", cfg.Provider.Name,
				"known", ValidProviderNames,
			)
		}
		if cfg.Provider.APIKey == "" {
			errs = append(errs, fmt.Errorf("provider.api_key is required for provider %q (check that the referenced environment variable is set)", cfg.Provider.Name))
		}
	}

	// Audio
	if cfg.Audio.MaxQueuedBlocks < 0 {
		errs = append(errs, fmt.Errorf("audio.max_queued_blocks %d must not be negative", cfg.Audio.MaxQueuedBlocks))
	}

	// Session
	if cfg.Session.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout %s must not be negative", cfg.Session.ConnectTimeout))
	}
	for i, phrase := range cfg.Session.StopPhrases {
		if strings.TrimSpace(phrase) == "" {
			errs = append(errs, fmt.Errorf("session.stop_phrases[%d] is empty", i))
		}
	}
	if rc := cfg.Session.Reconnect; rc.Enabled {
		if rc.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("session.reconnect.max_retries %d must not be negative", rc.MaxRetries))
		}
		if rc.Backoff < 0 || rc.MaxBackoff < 0 {
			errs = append(errs, errors.New("session.reconnect backoff values must not be negative"))
		}
	}

	if len(cfg.Session.StopPhrases) == 0 {
		slog.Warn("no stop phrases configured; the session can only be ended via signal or API")
	}

	return errors.Join(errs...)
}
