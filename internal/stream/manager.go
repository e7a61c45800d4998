// Package stream owns the lifecycle of the audio device pair: opening,
// starting, stopping, and the restart sequence the control plane triggers
// when devices change.
//
// Restarts are serialized with a mutex held only by control-plane callers;
// the realtime callback never touches the manager. The manager does not
// retry on failure: the boot sequence decides whether a fallback device is
// appropriate.
package stream

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pdsaudio/voicebridge/internal/engine"
	"github.com/pdsaudio/voicebridge/internal/filter"
	"github.com/pdsaudio/voicebridge/pkg/device"
)

// State is the manager's lifecycle phase.
type State string

const (
	Stopped  State = "stopped"
	Starting State = "starting"
	Running  State = "running"
)

// Manager opens device streams bound to the engine callback and replaces
// them as a unit on restart. Safe for concurrent use.
type Manager struct {
	platform device.Platform
	eng      *engine.Engine
	params   *filter.Store
	cfg      device.StreamConfig
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	current device.Stream
	input   device.Info
	output  device.Info
}

// NewManager creates a stopped manager. cfg fixes the stream format for
// every stream the manager opens.
func NewManager(platform device.Platform, eng *engine.Engine, params *filter.Store, cfg device.StreamConfig, log *slog.Logger) *Manager {
	return &Manager{
		platform: platform,
		eng:      eng,
		params:   params,
		cfg:      cfg,
		log:      log,
		state:    Stopped,
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Devices returns the device pair of the running stream. Zero values when
// stopped.
func (m *Manager) Devices() (input, output device.Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input, m.output
}

// Restart stops any active stream, reprimes the engine from the current
// parameters, and starts a new stream over the given device pair. At most
// one restart proceeds at a time; concurrent callers queue on the lock.
// On failure the manager is left Stopped and the error goes to the caller.
func (m *Manager) Restart(input, output device.Selector) (device.Info, device.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.state = Starting

	// Fresh cascade and primed state: the old delay memory belongs to a
	// stream that no longer exists.
	p := m.params.Snapshot()
	sections := filter.Design(p, m.cfg.SampleRate)
	m.eng.Reset(sections, filter.StepState(sections))
	m.eng.ApplyParams(p)

	s, err := m.platform.Open(input, output, m.cfg, m.eng.Process)
	if err != nil {
		m.state = Stopped
		return device.Info{}, device.Info{}, fmt.Errorf("stream: open %s -> %s: %w", input, output, err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		m.state = Stopped
		return device.Info{}, device.Info{}, fmt.Errorf("stream: start %s -> %s: %w", input, output, err)
	}

	in, err := m.platform.Resolve(input)
	if err != nil {
		in = device.Info{Name: input.String()}
	}
	out, err := m.platform.Resolve(output)
	if err != nil {
		out = device.Info{Name: output.String()}
	}

	m.current = s
	m.input, m.output = in, out
	m.state = Running
	m.log.Info("stream running",
		"input", in.Name,
		"output", out.Name,
		"sampleRate", m.cfg.SampleRate,
		"blockSize", m.cfg.BlockSize,
	)
	return in, out, nil
}

// Stop halts and releases the active stream, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// stopLocked requires m.mu. The driver flushes the in-flight block before
// Stop returns, so processing is never cut mid-block.
func (m *Manager) stopLocked() {
	if m.current == nil {
		m.state = Stopped
		return
	}
	if err := m.current.Stop(); err != nil {
		m.log.Warn("stopping stream", "error", err)
	}
	if err := m.current.Close(); err != nil {
		m.log.Warn("closing stream", "error", err)
	}
	m.current = nil
	m.input, m.output = device.Info{}, device.Info{}
	m.state = Stopped
}
