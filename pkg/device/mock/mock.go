// Package mock provides an in-memory implementation of [device.Platform]
// and [device.Stream] for unit tests.
//
// The mock is safe for concurrent use. It records every open/start/stop so
// tests can assert on lifecycle ordering, and it exposes exported fields
// that control return values. The callback bound by Open can be driven
// manually via [Stream.RunBlock], standing in for the driver's realtime
// thread.
//
// Typical usage:
//
//	p := mock.NewPlatform(
//	    device.Info{ID: 0, Name: "mic", MaxInput: 1},
//	    device.Info{ID: 1, Name: "virtual-out", MaxOutput: 2},
//	)
//	s, _ := p.Open(device.ByName("mic"), device.ByName("virtual-out"), cfg, cb)
//	_ = s.Start()
//	out := st.RunBlock(in, device.Status{})
package mock

import (
	"fmt"
	"sync"

	"github.com/pdsaudio/voicebridge/pkg/device"
)

// Compile-time assertion that Platform satisfies the device interface.
var _ device.Platform = (*Platform)(nil)

// Platform is a mock implementation of [device.Platform].
type Platform struct {
	mu sync.Mutex

	// DeviceList is returned by Devices and used for Resolve.
	DeviceList []device.Info

	// DevicesError, when non-nil, is returned by Devices and Resolve.
	DevicesError error

	// OpenError, when non-nil, makes Open fail.
	OpenError error

	// StartError, when non-nil, makes Stream.Start fail.
	StartError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// Streams holds every stream created by Open, in creation order.
	Streams []*Stream
}

// NewPlatform creates a mock platform pre-seeded with the given devices.
func NewPlatform(devs ...device.Info) *Platform {
	return &Platform{DeviceList: devs}
}

// Devices implements [device.Platform].
func (p *Platform) Devices() ([]device.Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DevicesError != nil {
		return nil, p.DevicesError
	}
	out := make([]device.Info, len(p.DeviceList))
	copy(out, p.DeviceList)
	return out, nil
}

// Resolve implements [device.Platform] with the same rules as the real
// backend: index, exact name, then substring.
func (p *Platform) Resolve(sel device.Selector) (device.Info, error) {
	devs, err := p.Devices()
	if err != nil {
		return device.Info{}, err
	}
	return resolve(devs, sel)
}

// DefaultOutput implements [device.Platform]: the first device with output
// channels.
func (p *Platform) DefaultOutput() (device.Info, error) {
	devs, err := p.Devices()
	if err != nil {
		return device.Info{}, err
	}
	for _, d := range devs {
		if d.MaxOutput > 0 {
			return d, nil
		}
	}
	return device.Info{}, fmt.Errorf("mock: no output device")
}

// Open implements [device.Platform]. The returned stream delivers blocks
// only when the test calls [Stream.RunBlock].
func (p *Platform) Open(input, output device.Selector, cfg device.StreamConfig, cb device.Callback) (device.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountOpen++

	if p.OpenError != nil {
		return nil, p.OpenError
	}
	in, err := resolve(p.DeviceList, input)
	if err != nil {
		return nil, fmt.Errorf("mock: input: %w", err)
	}
	out, err := resolve(p.DeviceList, output)
	if err != nil {
		return nil, fmt.Errorf("mock: output: %w", err)
	}

	s := &Stream{
		Input:      in,
		Output:     out,
		Config:     cfg,
		cb:         cb,
		startError: p.StartError,
	}
	p.Streams = append(p.Streams, s)
	return s, nil
}

// Running returns how many of the created streams are currently started.
func (p *Platform) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.Streams {
		if s.IsRunning() {
			n++
		}
	}
	return n
}

// Stream is a mock implementation of [device.Stream].
type Stream struct {
	// Input and Output are the resolved device pair.
	Input, Output device.Info

	// Config is the stream configuration passed to Open.
	Config device.StreamConfig

	mu         sync.Mutex
	cb         device.Callback
	startError error
	running    bool
	closed     bool

	// CallCountStart and CallCountStop record lifecycle calls.
	CallCountStart int
	CallCountStop  int
}

// Start implements [device.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.startError != nil {
		return s.startError
	}
	if s.closed {
		return fmt.Errorf("mock: start on closed stream")
	}
	s.running = true
	return nil
}

// Stop implements [device.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.running = false
	return nil
}

// Close implements [device.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.closed = true
	return nil
}

// IsRunning reports whether the stream is started and not closed.
func (s *Stream) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.closed
}

// RunBlock invokes the stream's callback with in and the given status,
// returning the produced output block. It panics if the stream is not
// running, mirroring a driver that never calls back a stopped stream.
func (s *Stream) RunBlock(in []float32, status device.Status) []float32 {
	s.mu.Lock()
	cb := s.cb
	running := s.running && !s.closed
	s.mu.Unlock()

	if !running {
		panic("mock: RunBlock on a stream that is not running")
	}
	out := make([]float32, len(in))
	cb(in, out, status)
	return out
}

func resolve(devs []device.Info, sel device.Selector) (device.Info, error) {
	if sel.ByIndex() {
		if sel.Index < 0 || sel.Index >= len(devs) {
			return device.Info{}, fmt.Errorf("device index %d out of range", sel.Index)
		}
		return devs[sel.Index], nil
	}
	for _, d := range devs {
		if d.Name == sel.Name {
			return d, nil
		}
	}
	for _, d := range devs {
		if containsFold(d.Name, sel.Name) {
			return d, nil
		}
	}
	return device.Info{}, fmt.Errorf("no device matching %q", sel.Name)
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	lower := func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}
outer:
	for i := 0; i+len(n) <= len(h); i++ {
		for j := range n {
			if lower(h[i+j]) != lower(n[j]) {
				continue outer
			}
		}
		return true
	}
	return false
}
