// Package app wires all voicebridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run boots the audio stream and serves the control plane, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via the Providers struct and
// functional options. When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/pdsaudio/voicebridge/internal/config"
	"github.com/pdsaudio/voicebridge/internal/control"
	"github.com/pdsaudio/voicebridge/internal/engine"
	"github.com/pdsaudio/voicebridge/internal/filter"
	"github.com/pdsaudio/voicebridge/internal/health"
	"github.com/pdsaudio/voicebridge/internal/observe"
	"github.com/pdsaudio/voicebridge/internal/stream"
	"github.com/pdsaudio/voicebridge/pkg/device"
	"github.com/pdsaudio/voicebridge/pkg/provider/speech"
)

// Providers holds one interface value per provider slot. Audio is required;
// a nil Speech disables the cloud speech actions on the control channel.
// Populated by main.go via the config registry.
type Providers struct {
	Audio  device.Platform
	Speech speech.Service
}

// App owns all subsystem lifetimes and orchestrates the voice bridge.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	// Subsystems, initialised in New, torn down in Shutdown.
	params  *filter.Store
	eng     *engine.Engine
	streams *stream.Manager
	metrics *observe.Metrics
	server  *http.Server

	// logLevel, when injected, lets config reloads change verbosity live.
	logLevel *slog.LevelVar

	// statsReg unhooks the engine counters from the meter on shutdown.
	statsReg metric.Registration

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger injects the application logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLogLevelVar injects the level var backing the logger so config
// reloads can adjust verbosity without a restart.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetrics injects a metrics bundle instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: the boot filter cascade is
// designed and primed, the engine and stream manager are constructed, and
// the HTTP mux (control channel, health, metrics) is assembled. No devices
// are touched until Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil {
		return nil, fmt.Errorf("app: an audio platform is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	streamCfg := device.StreamConfig{
		SampleRate: cfg.Audio.SampleRate,
		BlockSize:  cfg.Audio.BlockSize,
	}

	// ── Filter chain ─────────────────────────────────────────────────────
	p := cfg.Filter.Params()
	a.params = filter.NewStore(p)
	sections := filter.Design(p, streamCfg.SampleRate)
	a.eng = engine.New(streamCfg.BlockSize, sections, filter.StepState(sections))
	a.eng.ApplyParams(p)

	// ── Stream manager ───────────────────────────────────────────────────
	a.streams = stream.NewManager(providers.Audio, a.eng, a.params, streamCfg, a.log)

	// ── Engine counters → observable instruments ─────────────────────────
	reg, err := a.metrics.RegisterAudioStats(func() observe.AudioStats {
		s := a.eng.Stats()
		return observe.AudioStats{
			Blocks:           s.Blocks,
			Swaps:            s.Swaps,
			DroppedUpdates:   s.DroppedUpdates,
			InputOverflows:   s.InputOverflows,
			OutputUnderflows: s.OutputUnderflows,
			ClippedSamples:   s.ClippedSamples,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("app: register audio stats: %w", err)
	}
	a.statsReg = reg

	// ── HTTP surface ─────────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// buildMux assembles the HTTP routes. The WebSocket endpoint is mounted
// outside the metrics middleware: a long-lived connection would otherwise
// register as one giant request, and the handler records its own metrics.
func (a *App) buildMux() http.Handler {
	handler := control.NewHandler(control.HandlerConfig{
		Params:        a.params,
		Engine:        a.eng,
		Streams:       a.streams,
		Platform:      a.providers.Audio,
		Speech:        a.providers.Speech,
		SampleRate:    a.cfg.Audio.SampleRate,
		DefaultInput:  bootSelector(a.cfg.Audio.InputDevice),
		DefaultOutput: bootSelector(a.cfg.Audio.OutputDevice),
		Metrics:       a.metrics,
		Logger:        a.log,
	})

	checks := health.New(
		health.Devices(a.providers.Audio),
		health.Stream(a.streams),
	)

	instrumented := http.NewServeMux()
	instrumented.HandleFunc("/healthz", checks.Healthz)
	instrumented.HandleFunc("/readyz", checks.Readyz)
	instrumented.Handle("/metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.Handle("/ws", control.NewServer(handler, a.metrics, a.log))
	mux.Handle("/", observe.Middleware(a.metrics)(instrumented))
	return mux
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run boots the audio stream, starts the HTTP server, and blocks until ctx
// is cancelled. A failed boot is logged but not fatal: the control channel
// stays up so a client can point the bridge at working devices.
func (a *App) Run(ctx context.Context) error {
	a.bootStream()

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.log.Info("control plane listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// bootStream opens the configured device pair. When the configured output is
// missing and fallback is enabled, the system default output is tried so a
// missing virtual sink degrades to audible monitoring instead of a dead boot.
func (a *App) bootStream() {
	input := bootSelector(a.cfg.Audio.InputDevice)
	output := bootSelector(a.cfg.Audio.OutputDevice)

	in, out, err := a.streams.Restart(input, output)
	if err == nil {
		a.log.Info("audio bridge started", "input", in.Name, "output", out.Name)
		return
	}
	a.log.Warn("boot with configured devices failed", "error", err)

	if !a.cfg.Audio.FallbackDefaultOutput {
		a.log.Error("audio stream not running; use the control channel to select devices")
		return
	}

	def, derr := a.providers.Audio.DefaultOutput()
	if derr != nil {
		a.log.Error("no default output device available", "error", derr)
		return
	}
	in, out, err = a.streams.Restart(input, device.ByIndex(def.ID))
	if err != nil {
		a.log.Error("fallback to default output failed", "error", err)
		return
	}
	a.log.Warn("running on default output; virtual sink not found",
		"input", in.Name, "output", out.Name)
}

// bootSelector converts a configured device string into a selector. Config
// validation guarantees non-empty strings, so parse failures cannot occur
// for the supported value types; fall back to a name match regardless.
func bootSelector(s string) device.Selector {
	sel, err := device.ParseSelector(s)
	if err != nil {
		return device.ByName(s)
	}
	return sel
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies a hot config reload. Log level and filter changes take
// effect immediately; a device change restarts the stream; engine format
// changes are deferred to the next boot.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.FilterChanged {
		p := new.Filter.Params()
		if _, err := a.params.Apply(fullUpdate(p)); err != nil {
			a.log.Warn("reloaded filter config rejected", "error", err)
		} else {
			sections := filter.Design(p, a.cfg.Audio.SampleRate)
			a.eng.Enqueue(engine.Update{Sections: sections, State: filter.StepState(sections)})
			a.eng.ApplyParams(p)
			a.log.Info("filter parameters reloaded",
				"type", p.Type, "cutoff", p.Cutoff, "q", p.Q)
		}
	}

	if d.DevicesChanged {
		input := bootSelector(new.Audio.InputDevice)
		output := bootSelector(new.Audio.OutputDevice)
		if _, _, err := a.streams.Restart(input, output); err != nil {
			a.log.Warn("restart with reloaded devices failed", "error", err)
		}
	}

	if d.EngineChanged {
		a.log.Warn("sample rate, block size and backend changes take effect on the next start")
	}

	a.cfg = new
}

// fullUpdate converts a complete parameter set into a Store update.
func fullUpdate(p filter.Params) filter.Update {
	return filter.Update{
		Type:       &p.Type,
		Cutoff:     &p.Cutoff,
		Q:          &p.Q,
		GainDB:     &p.GainDB,
		OutputGain: &p.OutputGain,
		Bypass:     &p.Bypass,
	}
}

// slogLevel maps the config level to a slog level.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
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

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		// Stop audio first so the callback quiesces before anything else
		// is released.
		a.streams.Stop()

		if a.statsReg != nil {
			if err := a.statsReg.Unregister(); err != nil {
				a.log.Warn("unregister audio stats", "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// AddCloser appends a teardown function run during Shutdown. main uses this
// for resources it hands to the app, such as the audio platform itself.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}
