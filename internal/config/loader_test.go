package config_test

import (
	"strings"
	"testing"

	"github.com/pdsaudio/voicebridge/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9900"
  log_level: debug
audio:
  backend: portaudio
  input_device: pulse
  output_device: VirtualMicPDS
  fallback_default_output: true
  sample_rate: 48000
  block_size: 256
filter:
  type: notch
  cutoff: 60
  q: 10
providers:
  speech:
    name: openai
    api_key: sk-test
    language: en
    options:
      chat_model: gpt-4o
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9900" {
		t.Errorf("listen_addr = %q, want :9900", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.BlockSize != 256 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if !cfg.Audio.FallbackDefaultOutput {
		t.Error("fallback_default_output not decoded")
	}
	if cfg.Filter.Type != "notch" || cfg.Filter.Cutoff != 60 {
		t.Errorf("filter = %+v", cfg.Filter)
	}
	if cfg.Providers.Speech.Option("chat_model") != "gpt-4o" {
		t.Errorf("speech options = %+v", cfg.Providers.Speech.Options)
	}
}

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8765" {
		t.Errorf("listen_addr default = %q, want :8765", cfg.Server.ListenAddr)
	}
	if cfg.Audio.Backend != "portaudio" {
		t.Errorf("backend default = %q, want portaudio", cfg.Audio.Backend)
	}
	if cfg.Audio.InputDevice != "pulse" || cfg.Audio.OutputDevice != "VirtualMicPDS" {
		t.Errorf("device defaults = %q / %q", cfg.Audio.InputDevice, cfg.Audio.OutputDevice)
	}
	if cfg.Audio.SampleRate != 44100 || cfg.Audio.BlockSize != 512 {
		t.Errorf("engine defaults = %v / %d", cfg.Audio.SampleRate, cfg.Audio.BlockSize)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_port: 8765\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "listen_port") {
		t.Errorf("error should name the unknown field, got %v", err)
	}
}

func TestLoadFromReaderExpandsAPIKeyEnv(t *testing.T) {
	t.Setenv("VOICEBRIDGE_TEST_KEY", "sk-from-env")
	in := `
providers:
  speech:
    name: openai
    api_key: ${VOICEBRIDGE_TEST_KEY}
`
	cfg, err := config.LoadFromReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.Speech.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want sk-from-env", cfg.Providers.Speech.APIKey)
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	t.Parallel()
	in := `
server:
  log_level: verbose
audio:
  sample_rate: -1
filter:
  type: reverb
  q: -3
providers:
  speech:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(in))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"server.log_level",
		"audio.sample_rate",
		"filter.type",
		"filter.q",
		"providers.speech.api_key",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/voicebridge.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("error = %v", err)
	}
}
