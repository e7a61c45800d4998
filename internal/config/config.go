// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the voicebridge server.
package config

import "github.com/pdsaudio/voicebridge/internal/filter"

// LogLevel controls log verbosity for the voicebridge server.
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

// Config is the root configuration structure for voicebridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Filter    FilterConfig    `yaml:"filter"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the voicebridge server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server (control channel,
	// health, metrics) listens on (e.g., ":8765").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the audio backend and the device pair the bridge
// binds at boot.
type AudioConfig struct {
	// Backend names the registered audio platform ("portaudio" in
	// production, "mock" in tests). Empty selects "portaudio".
	Backend string `yaml:"backend"`

	// InputDevice and OutputDevice identify devices by enumeration index
	// (digits) or by (substring of) name.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// FallbackDefaultOutput retries the boot with the system default
	// output when the configured output cannot be opened, so a missing
	// virtual sink degrades to audible monitoring instead of a dead boot.
	FallbackDefaultOutput bool `yaml:"fallback_default_output"`

	// SampleRate in Hz. Zero selects 44100.
	SampleRate float64 `yaml:"sample_rate"`

	// BlockSize in samples per callback. Zero selects 512.
	BlockSize int `yaml:"block_size"`
}

// FilterConfig is the filter state installed at boot. Zero values select
// the voice-optimised defaults from [filter.Defaults].
type FilterConfig struct {
	Type       string  `yaml:"type"`
	Cutoff     float64 `yaml:"cutoff"`
	Q          float64 `yaml:"q"`
	GainDB     float64 `yaml:"gain_db"`
	OutputGain float64 `yaml:"output_gain"`
	Bypass     bool    `yaml:"bypass"`
}

// Params converts the section into filter parameters, filling unset fields
// from the defaults.
func (f FilterConfig) Params() filter.Params {
	p := filter.Defaults()
	if f.Type != "" {
		p.Type = filter.Type(f.Type)
	}
	if f.Cutoff != 0 {
		p.Cutoff = f.Cutoff
	}
	if f.Q != 0 {
		p.Q = f.Q
	}
	p.GainDB = f.GainDB
	if f.OutputGain != 0 {
		p.OutputGain = f.OutputGain
	}
	p.Bypass = f.Bypass
	return p
}

// ProvidersConfig selects the external service backends.
type ProvidersConfig struct {
	// Speech configures the cloud speech backend for the transcribe, tts,
	// chatAgent and voiceToVoice actions. An empty name disables them.
	Speech ProviderEntry `yaml:"speech"`
}

// ProviderEntry is the generic configuration for one provider backend.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. Supports ${ENV_VAR}
	// expansion at load time so keys stay out of config files.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Language is an optional ISO-639-1 hint for transcription.
	Language string `yaml:"language"`

	// Options holds backend-specific settings (model overrides etc.).
	Options map[string]string `yaml:"options"`
}

// Option returns the named backend-specific option or the empty string.
func (p ProviderEntry) Option(key string) string {
	return p.Options[key]
}
