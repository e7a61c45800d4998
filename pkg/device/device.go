// Package device defines the audio device capability voicebridge runs on.
//
// The two primary abstractions are:
//
//   - [Platform] — enumerates devices and opens full-duplex streams.
//   - [Stream] — a started stream whose driver invokes the registered
//     [Callback] once per fixed-size block on a dedicated realtime thread.
//
// Implementations are provided by backend packages (device/portaudio for
// the real driver, device/mock for tests). The interfaces are intentionally
// narrow: the engine and stream manager never see driver types.
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Info describes one enumerable audio device.
type Info struct {
	// ID is the backend's device index, stable for the life of the process.
	ID int `json:"id"`

	// Name is the driver-reported device name.
	Name string `json:"name"`

	// MaxInput and MaxOutput are the channel capacities. A pure capture
	// device reports MaxOutput == 0 and vice versa.
	MaxInput  int `json:"maxInput"`
	MaxOutput int `json:"maxOutput"`
}

// Selector identifies a device either by index or by name. Name resolution
// is backend-defined but must accept an exact match and should fall back to
// a case-insensitive substring match, which is what users paste from device
// lists.
type Selector struct {
	Name    string
	Index   int
	byIndex bool
}

// ByIndex selects the device at the given enumeration index.
func ByIndex(i int) Selector {
	return Selector{Index: i, byIndex: true}
}

// ByName selects a device by (substring of its) name.
func ByName(name string) Selector {
	return Selector{Name: name}
}

// ByIndex reports whether the selector carries an index rather than a name.
func (s Selector) ByIndex() bool { return s.byIndex }

// String returns the selector in human-readable form for logs and errors.
func (s Selector) String() string {
	if s.byIndex {
		return "#" + strconv.Itoa(s.Index)
	}
	return s.Name
}

// ParseSelector converts a control-channel or config value into a Selector.
// JSON numbers become indices; strings consisting only of digits do too,
// matching how device indices are commonly pasted as text.
func ParseSelector(v any) (Selector, error) {
	switch t := v.(type) {
	case float64:
		return ByIndex(int(t)), nil
	case int:
		return ByIndex(t), nil
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return Selector{}, fmt.Errorf("device: empty device selector")
		}
		if n, err := strconv.Atoi(trimmed); err == nil {
			return ByIndex(n), nil
		}
		return ByName(trimmed), nil
	default:
		return Selector{}, fmt.Errorf("device: selector must be a name or an index, got %T", v)
	}
}

// Status carries the driver's per-block diagnostics. Both flags are
// non-fatal: the callback keeps processing whatever data is present.
type Status struct {
	// InputOverflow means capture data was lost before this block.
	InputOverflow bool

	// OutputUnderflow means the previous output block missed its deadline.
	OutputUnderflow bool
}

// Callback processes one block of audio. in and out have equal length
// (the configured block size, mono). It runs on the backend's realtime
// thread: it must not block, allocate unboundedly, or take locks shared
// with non-realtime code.
type Callback func(in, out []float32, status Status)

// StreamConfig fixes the stream format. voicebridge always runs mono
// 32-bit float with a fixed block size and asks the driver for its
// low-latency setting.
type StreamConfig struct {
	SampleRate float64
	BlockSize  int
}

// Stream is an open device pair bound to a callback.
type Stream interface {
	// Start begins callback delivery.
	Start() error

	// Stop flushes in-flight blocks and halts callbacks. The last block
	// given to the callback is always completed, never cut mid-block.
	Stop() error

	// Close releases the device pair. The stream must be stopped first.
	Close() error
}

// Platform is the entry point for an audio backend.
//
// Implementations must be safe for concurrent use: enumeration and stream
// opening may be called from the control plane while a stream is running.
type Platform interface {
	// Devices enumerates the currently visible devices.
	Devices() ([]Info, error)

	// Resolve maps a selector to a concrete device.
	Resolve(sel Selector) (Info, error)

	// DefaultOutput returns the system default output device, used by the
	// boot sequence as a fallback when the configured output is missing.
	DefaultOutput() (Info, error)

	// Open binds a full-duplex stream over the given device pair to cb.
	// The stream is created stopped; callers Start it explicitly.
	Open(input, output Selector, cfg StreamConfig, cb Callback) (Stream, error)
}
