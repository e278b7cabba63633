// Package config provides the configuration schema, loader, and provider
// registry for the Synchron voice assistant.
package config

import "time"

// LogLevel controls log verbosity for the Synchron process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Synchron.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`
	Audio    AudioConfig   `yaml:"audio"`
	Session  SessionConfig `yaml:"session"`
}

// ServerConfig holds network and logging settings for the diagnostics server.
type ServerConfig struct {
	// ListenAddr is the TCP address the diagnostics HTTP server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry selects and configures the realtime speech provider. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "gemini-live", "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. Supports
	// ${ENV_VAR} expansion so keys can stay out of the config file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "models/gemini-2.0-flash-exp", "gpt-4o-realtime-preview").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice name for synthesised speech.
	Voice string `yaml:"voice"`

	// Instructions is a free-text persona / behaviour prompt sent at session
	// setup.
	Instructions string `yaml:"instructions"`

	// Transcribe enables input and output transcription when the provider
	// supports it.
	Transcribe bool `yaml:"transcribe"`
}

// AudioConfig holds microphone and playback settings.
type AudioConfig struct {
	// InputDevice names the capture device to open. Empty means the system
	// default input device.
	InputDevice string `yaml:"input_device"`

	// MaxQueuedBlocks bounds the number of captured audio blocks held while
	// no session is attached. Zero means the built-in default.
	MaxQueuedBlocks int `yaml:"max_queued_blocks"`
}

// SessionConfig holds conversation session behaviour.
type SessionConfig struct {
	// ConnectTimeout bounds how long a connection attempt may take.
	// Zero means the built-in default.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// StopPhrases lists spoken phrases that end the session when detected in
	// the user's transcript (e.g., "stop listening"). Matching is phonetic,
	// so close mispronunciations still count.
	StopPhrases []string `yaml:"stop_phrases"`

	// Reconnect configures automatic reconnection after an unexpected
	// session drop.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig controls automatic reconnection behaviour.
type ReconnectConfig struct {
	// Enabled turns automatic reconnection on. Off by default: a dropped
	// session returns to idle and the user restarts explicitly.
	Enabled bool `yaml:"enabled"`

	// MaxRetries is the number of reconnection attempts before giving up.
	// Zero means the built-in default.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial delay between attempts; it doubles per attempt.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}
