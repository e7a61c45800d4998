// Package portaudio implements device.Platform on top of the PortAudio
// bindings. It is the production backend: device enumeration, name or
// index resolution, and full-duplex low-latency float32 streams.
package portaudio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/pdsaudio/voicebridge/pkg/device"
)

// Compile-time assertion that Platform satisfies the device interface.
var _ device.Platform = (*Platform)(nil)

// Platform wraps the PortAudio library. Create it with [New] and release
// it with [Close]; both bracket the library's global init/terminate.
type Platform struct {
	mu     sync.Mutex
	closed bool
}

// New initialises the PortAudio library and returns the platform.
func New() (*Platform, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Platform{}, nil
}

// Close terminates the PortAudio library. Idempotent.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Devices enumerates the devices PortAudio currently sees.
func (p *Platform) Devices() ([]device.Info, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	out := make([]device.Info, len(devs))
	for i, d := range devs {
		out[i] = device.Info{
			ID:        i,
			Name:      d.Name,
			MaxInput:  d.MaxInputChannels,
			MaxOutput: d.MaxOutputChannels,
		}
	}
	return out, nil
}

// Resolve maps a selector to a device: by index, by exact name, then by
// case-insensitive substring (the shape users paste from device lists).
func (p *Platform) Resolve(sel device.Selector) (device.Info, error) {
	devs, err := p.Devices()
	if err != nil {
		return device.Info{}, err
	}
	return resolve(devs, sel)
}

// DefaultOutput returns the system default output device.
func (p *Platform) DefaultOutput() (device.Info, error) {
	d, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return device.Info{}, fmt.Errorf("portaudio: default output: %w", err)
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return device.Info{}, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	for i, cand := range devs {
		if cand == d {
			return device.Info{ID: i, Name: d.Name, MaxInput: d.MaxInputChannels, MaxOutput: d.MaxOutputChannels}, nil
		}
	}
	return device.Info{Name: d.Name, MaxInput: d.MaxInputChannels, MaxOutput: d.MaxOutputChannels}, nil
}

// Open binds a mono full-duplex stream over the resolved device pair to
// cb, requesting the driver's low-latency setting on both sides.
func (p *Platform) Open(input, output device.Selector, cfg device.StreamConfig, cb device.Callback) (device.Stream, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}

	in, err := resolveRaw(devs, input)
	if err != nil {
		return nil, fmt.Errorf("portaudio: input %q: %w", input, err)
	}
	out, err := resolveRaw(devs, output)
	if err != nil {
		return nil, fmt.Errorf("portaudio: output %q: %w", output, err)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   in,
			Channels: 1,
			Latency:  in.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   out,
			Channels: 1,
			Latency:  out.DefaultLowOutputLatency,
		},
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.BlockSize,
	}

	handler := func(in, out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		cb(in, out, device.Status{
			InputOverflow:   flags&portaudio.InputOverflow != 0,
			OutputUnderflow: flags&portaudio.OutputUnderflow != 0,
		})
	}

	s, err := portaudio.OpenStream(params, handler)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream (%q -> %q): %w", in.Name, out.Name, err)
	}
	return &stream{s: s}, nil
}

// stream adapts *portaudio.Stream to device.Stream.
type stream struct {
	s *portaudio.Stream
}

func (s *stream) Start() error {
	if err := s.s.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	return nil
}

func (s *stream) Stop() error {
	if err := s.s.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop stream: %w", err)
	}
	return nil
}

func (s *stream) Close() error {
	if err := s.s.Close(); err != nil {
		return fmt.Errorf("portaudio: close stream: %w", err)
	}
	return nil
}

// resolve implements the selector matching rules over an enumerated list.
func resolve(devs []device.Info, sel device.Selector) (device.Info, error) {
	if sel.ByIndex() {
		if sel.Index < 0 || sel.Index >= len(devs) {
			return device.Info{}, fmt.Errorf("device index %d out of range (have %d devices)", sel.Index, len(devs))
		}
		return devs[sel.Index], nil
	}

	for _, d := range devs {
		if d.Name == sel.Name {
			return d, nil
		}
	}
	needle := strings.ToLower(sel.Name)
	for _, d := range devs {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return device.Info{}, fmt.Errorf("no device matching %q", sel.Name)
}

// resolveRaw resolves a selector against the raw PortAudio device list.
func resolveRaw(devs []*portaudio.DeviceInfo, sel device.Selector) (*portaudio.DeviceInfo, error) {
	infos := make([]device.Info, len(devs))
	for i, d := range devs {
		infos[i] = device.Info{ID: i, Name: d.Name, MaxInput: d.MaxInputChannels, MaxOutput: d.MaxOutputChannels}
	}
	info, err := resolve(infos, sel)
	if err != nil {
		return nil, err
	}
	return devs[info.ID], nil
}
