package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/pdsaudio/voicebridge/internal/filter"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"speech": {"openai"},
	"audio":  {"portaudio", "mock"},
}

// Default returns the configuration used when no file is given: the
// PulseAudio capture source into the virtual microphone sink, with the
// voice-optimised filter defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, expands
// environment references in secrets, and validates the result. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	cfg.Providers.Speech.APIKey = os.ExpandEnv(cfg.Providers.Speech.APIKey)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with the stock deployment values.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8765"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = "portaudio"
	}
	if cfg.Audio.InputDevice == "" {
		cfg.Audio.InputDevice = "pulse"
	}
	if cfg.Audio.OutputDevice == "" {
		cfg.Audio.OutputDevice = "VirtualMicPDS"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 44100
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = 512
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %v", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", cfg.Audio.BlockSize))
	}

	// Filter
	if cfg.Filter.Type != "" && !filter.Type(cfg.Filter.Type).IsValid() {
		errs = append(errs, fmt.Errorf("filter.type %q is invalid; valid values: lowpass, highpass, bandpass, notch", cfg.Filter.Type))
	}
	if cfg.Filter.Cutoff < 0 {
		errs = append(errs, fmt.Errorf("filter.cutoff must not be negative, got %v", cfg.Filter.Cutoff))
	}
	if cfg.Filter.Q < 0 {
		errs = append(errs, fmt.Errorf("filter.q must not be negative, got %v", cfg.Filter.Q))
	}
	if cfg.Filter.OutputGain < 0 {
		errs = append(errs, fmt.Errorf("filter.output_gain must not be negative, got %v", cfg.Filter.OutputGain))
	}

	// Providers
	validateProviderName("speech", cfg.Providers.Speech.Name)
	if cfg.Providers.Speech.Name != "" && cfg.Providers.Speech.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.speech.api_key is required when providers.speech.name is set"))
	}

	return errors.Join(errs...)
}

// validateProviderName warns (but does not fail) when a provider name is
// not in the known list, so new backends can be registered by embedding
// applications without a schema change.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name; ensure a matching factory is registered",
			"kind", kind, "name", name)
	}
}
