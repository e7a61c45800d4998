// Command voicebridge is the main entry point for the voice-filtering
// bridge: microphone in, filtered audio out to a virtual device, with a
// WebSocket control channel for live parameter and device changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pdsaudio/voicebridge/internal/app"
	"github.com/pdsaudio/voicebridge/internal/config"
	"github.com/pdsaudio/voicebridge/internal/observe"
	"github.com/pdsaudio/voicebridge/internal/resilience"
	"github.com/pdsaudio/voicebridge/pkg/device"
	devmock "github.com/pdsaudio/voicebridge/pkg/device/mock"
	"github.com/pdsaudio/voicebridge/pkg/device/portaudio"
	"github.com/pdsaudio/voicebridge/pkg/provider/speech"
	speechopenai "github.com/pdsaudio/voicebridge/pkg/provider/speech/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (empty: built-in defaults)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var cfg *config.Config
	var watcher *config.Watcher
	if *configPath == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voicebridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := &slog.LevelVar{}
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("voicebridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicebridge",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	application, err := app.New(cfg, providers,
		app.WithLogger(logger),
		app.WithLogLevelVar(levelVar),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	if closer, ok := providers.Audio.(interface{ Close() error }); ok {
		application.AddCloser(closer.Close)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// voicebridge into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterAudio("portaudio", func(config.AudioConfig) (device.Platform, error) {
		return portaudio.New()
	})

	// The mock backend runs the full control plane without touching real
	// devices, for protocol development and CI.
	reg.RegisterAudio("mock", func(config.AudioConfig) (device.Platform, error) {
		return devmock.NewPlatform(
			device.Info{ID: 0, Name: "Mock Microphone", MaxInput: 1},
			device.Info{ID: 1, Name: "Mock Output", MaxOutput: 2},
		), nil
	})

	reg.RegisterSpeech("openai", func(entry config.ProviderEntry) (speech.Service, error) {
		var opts []speechopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, speechopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, speechopenai.WithLanguage(entry.Language))
		}
		opts = append(opts, speechopenai.WithModels(
			entry.Option("transcribe_model"),
			entry.Option("tts_model"),
			entry.Option("chat_model"),
		))
		return speechopenai.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	platform, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	ps.Audio = platform
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	if name := cfg.Providers.Speech.Name; name != "" {
		svc, err := reg.CreateSpeech(cfg.Providers.Speech)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("speech provider not registered — AI actions disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create speech provider %q: %w", name, err)
		} else {
			// A shared breaker keeps a dead cloud endpoint from holding
			// control-channel requests for a full network timeout each.
			ps.Speech = resilience.NewSpeechBreaker(svc, resilience.Config{Name: name})
			slog.Info("provider created", "kind", "speech", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, providers *app.Providers) {
	speechStatus := cfg.Providers.Speech.Name
	if providers.Speech == nil {
		speechStatus = "(disabled)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      voicebridge — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio backend", cfg.Audio.Backend)
	printRow("Input device", cfg.Audio.InputDevice)
	printRow("Output device", cfg.Audio.OutputDevice)
	printRow("Sample rate", fmt.Sprintf("%.0f Hz", cfg.Audio.SampleRate))
	printRow("Block size", fmt.Sprintf("%d", cfg.Audio.BlockSize))
	printRow("Speech", speechStatus)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
