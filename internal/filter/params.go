// Package filter holds the user-facing filter parameter model and the
// designer that turns parameters into cascaded second-order sections.
//
// Parameters are owned by the control plane: a [Store] keeps the
// last-known-good snapshot and rejects invalid updates before any field is
// assigned. The realtime engine never reads a Store directly; it only sees
// coefficient cascades produced by [Design] and, per block, plain scalar
// gain values.
package filter

import (
	"fmt"
	"math"
	"sync"
)

// Type selects the filter topology. The set is closed: exactly four
// topologies are supported, all rendered as a 2-section cascade.
type Type string

const (
	Lowpass  Type = "lowpass"
	Highpass Type = "highpass"
	Bandpass Type = "bandpass"
	Notch    Type = "notch"
)

// IsValid reports whether t is a recognised filter type.
func (t Type) IsValid() bool {
	switch t {
	case Lowpass, Highpass, Bandpass, Notch:
		return true
	}
	return false
}

// Domain limits applied by the designer. Cutoff is kept away from both DC
// and Nyquist; Q is bounded so band edges stay finite.
const (
	MinCutoffHz    = 20.0
	EdgeMarginHz   = 500.0
	MinQ           = 0.1
	MaxQ           = 20.0
	MinBandwidthHz = 30.0
)

// Params is an immutable snapshot of the user-facing filter settings.
// Cutoff and Q are stored as given; the designer clamps them to the valid
// domain, so the snapshot echoed back to the control channel always shows
// what the user asked for.
type Params struct {
	Type       Type    `json:"filterType"`
	Cutoff     float64 `json:"cutoff"`     // Hz
	Q          float64 `json:"q"`          // quality factor
	GainDB     float64 `json:"filterGain"` // dB, applied post-filter
	OutputGain float64 `json:"outputGain"` // linear, applied post-gain
	Bypass     bool    `json:"bypass"`
}

// Defaults returns the startup parameters: a gentle highpass that removes
// subsonic rumble without touching the vocal fundamental.
func Defaults() Params {
	return Params{
		Type:       Highpass,
		Cutoff:     80,
		Q:          0.7,
		GainDB:     0,
		OutputGain: 1,
		Bypass:     false,
	}
}

// Update is a partial parameter change. Nil fields are left untouched by
// [Store.Apply].
type Update struct {
	Type       *Type
	Cutoff     *float64
	Q          *float64
	GainDB     *float64
	OutputGain *float64
	Bypass     *bool
}

// Validate checks every provided field without applying anything.
func (u Update) Validate() error {
	if u.Type != nil && !u.Type.IsValid() {
		return fmt.Errorf("filter: unknown filter type %q", *u.Type)
	}
	for name, v := range map[string]*float64{
		"cutoff":     u.Cutoff,
		"q":          u.Q,
		"filterGain": u.GainDB,
		"outputGain": u.OutputGain,
	} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("filter: %s must be a finite number", name)
		}
	}
	return nil
}

// Store holds the control plane's current parameters. It is safe for
// concurrent use by the control plane and the stream lifecycle manager;
// the audio callback never touches it.
type Store struct {
	mu sync.Mutex
	p  Params
}

// NewStore creates a Store seeded with initial.
func NewStore(initial Params) *Store {
	return &Store{p: initial}
}

// Snapshot returns the current parameters.
func (s *Store) Snapshot() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// Apply validates u and, only if every field passes, merges it into the
// stored parameters. On error the store is left exactly as it was.
func (s *Store) Apply(u Update) (Params, error) {
	if err := u.Validate(); err != nil {
		return Params{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Type != nil {
		s.p.Type = *u.Type
	}
	if u.Cutoff != nil {
		s.p.Cutoff = *u.Cutoff
	}
	if u.Q != nil {
		s.p.Q = *u.Q
	}
	if u.GainDB != nil {
		s.p.GainDB = *u.GainDB
	}
	if u.OutputGain != nil {
		s.p.OutputGain = *u.OutputGain
	}
	if u.Bypass != nil {
		s.p.Bypass = *u.Bypass
	}
	return s.p, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
