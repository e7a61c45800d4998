// Package engine implements the realtime audio path: one callback per
// fixed-size block, fed by the device backend on its realtime thread.
//
// The engine owns the cascade and its delay-line state exclusively. The
// control plane communicates with it through exactly two channels:
//
//   - [Engine.Enqueue] posts a freshly designed cascade; the callback
//     drains the queue at the start of the next block and installs only
//     the most recent update.
//   - Gain and bypass values are plain atomics read once per block.
//
// Nothing in the block path allocates, logs, or takes a lock the control
// plane can hold.
package engine

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"

	"github.com/pdsaudio/voicebridge/internal/filter"
	"github.com/pdsaudio/voicebridge/pkg/device"
)

// updateQueueDepth bounds pending cascade updates. The callback drains the
// whole queue each block, so depth only matters for bursts of control
// messages inside one block period.
const updateQueueDepth = 8

// Update is one pending cascade swap. State is the primed delay-line state
// for the new sections, computed by the control plane so the callback does
// not have to allocate.
type Update struct {
	Sections []biquad.Coefficients
	State    [][2]float64
}

// Stats is a point-in-time snapshot of the engine's diagnostic counters.
type Stats struct {
	Blocks           uint64
	Swaps            uint64
	DroppedUpdates   uint64
	InputOverflows   uint64
	OutputUnderflows uint64
	ClippedSamples   uint64
}

// Engine is the block processor. Construct with [New]; its Process method
// satisfies [device.Callback].
type Engine struct {
	chain   *biquad.Chain
	scratch []float64

	updates chan Update

	filterGain atomic.Uint64 // linear multiplier, Float64bits
	outputGain atomic.Uint64 // linear multiplier, Float64bits
	bypass     atomic.Bool

	blocks     atomic.Uint64
	swaps      atomic.Uint64
	dropped    atomic.Uint64
	overflows  atomic.Uint64
	underflows atomic.Uint64
	clipped    atomic.Uint64
}

// New creates an engine processing blocks of at most blockSize samples,
// running the given cascade primed with the given state.
func New(blockSize int, sections []biquad.Coefficients, state [][2]float64) *Engine {
	e := &Engine{
		chain:   biquad.NewChain(sections),
		scratch: make([]float64, blockSize),
		updates: make(chan Update, updateQueueDepth),
	}
	e.chain.SetState(state)
	e.SetFilterGainDB(0)
	e.SetOutputGain(1)
	return e
}

// Enqueue posts a cascade update for the callback to pick up. It never
// blocks: when the queue is full the oldest pending update is discarded,
// which is safe because newer cascades supersede older ones anyway.
func (e *Engine) Enqueue(u Update) {
	for {
		select {
		case e.updates <- u:
			return
		default:
		}
		select {
		case <-e.updates:
			e.dropped.Add(1)
		default:
		}
	}
}

// SetFilterGainDB sets the post-filter gain, given in dB.
func (e *Engine) SetFilterGainDB(db float64) {
	e.filterGain.Store(math.Float64bits(math.Pow(10, db/20)))
}

// SetOutputGain sets the final linear output multiplier.
func (e *Engine) SetOutputGain(g float64) {
	e.outputGain.Store(math.Float64bits(g))
}

// SetBypass toggles pass-through mode.
func (e *Engine) SetBypass(b bool) {
	e.bypass.Store(b)
}

// ApplyParams installs the scalar portion of a parameter snapshot. The
// cascade itself travels separately through [Engine.Enqueue].
func (e *Engine) ApplyParams(p filter.Params) {
	e.SetFilterGainDB(p.GainDB)
	e.SetOutputGain(p.OutputGain)
	e.SetBypass(p.Bypass)
}

// Reset replaces the cascade and state directly, bypassing the queue. Only
// the stream lifecycle manager calls this, and only while no stream is
// delivering blocks.
func (e *Engine) Reset(sections []biquad.Coefficients, state [][2]float64) {
	// Flush stale updates so an old cascade cannot overwrite the fresh one
	// on the first block.
	for {
		select {
		case <-e.updates:
			e.dropped.Add(1)
		default:
			e.chain.UpdateCoefficients(sections, 1)
			e.chain.SetState(state)
			return
		}
	}
}

// Stats returns the current counter values.
func (e *Engine) Stats() Stats {
	return Stats{
		Blocks:           e.blocks.Load(),
		Swaps:            e.swaps.Load(),
		DroppedUpdates:   e.dropped.Load(),
		InputOverflows:   e.overflows.Load(),
		OutputUnderflows: e.underflows.Load(),
		ClippedSamples:   e.clipped.Load(),
	}
}

// Process handles one audio block. It is the [device.Callback] bound into
// the stream and runs on the backend's realtime thread.
func (e *Engine) Process(in, out []float32, status device.Status) {
	if status.InputOverflow {
		e.overflows.Add(1)
	}
	if status.OutputUnderflow {
		e.underflows.Add(1)
	}
	e.blocks.Add(1)

	e.drainLatest()

	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	if len(e.scratch) < n {
		n = len(e.scratch)
	}

	if e.bypass.Load() {
		copy(out[:n], in[:n])
		return
	}

	buf := e.scratch[:n]
	for i := 0; i < n; i++ {
		buf[i] = float64(in[i])
	}
	e.chain.ProcessBlock(buf)

	gain := math.Float64frombits(e.filterGain.Load()) * math.Float64frombits(e.outputGain.Load())

	clipped := uint64(0)
	for i := 0; i < n; i++ {
		v := buf[i] * gain
		if v > 1 {
			v = 1
			clipped++
		} else if v < -1 {
			v = -1
			clipped++
		}
		out[i] = float32(v)
	}
	if clipped > 0 {
		e.clipped.Add(clipped)
	}
}

// drainLatest empties the update queue and installs the newest cascade, if
// any arrived since the previous block. Superseded updates count as dropped.
func (e *Engine) drainLatest() {
	var pending Update
	have := false
	for {
		select {
		case u := <-e.updates:
			if have {
				e.dropped.Add(1)
			}
			pending = u
			have = true
		default:
			if have {
				e.install(pending)
			}
			return
		}
	}
}

// install swaps the cascade in, scaling the new primed state toward the
// energy of the old one so the transition does not click. The scale is
// clamped to [0.1, 10] and then capped at 1: on a mismatch the filter leans
// toward silence rather than amplification.
func (e *Engine) install(u Update) {
	ns := e.chain.NumSections()
	oldSum := 0.0
	for i := 0; i < ns; i++ {
		st := e.chain.Section(i).State()
		oldSum += math.Abs(st[0]) + math.Abs(st[1])
	}
	newSum := 0.0
	for _, st := range u.State {
		newSum += math.Abs(st[0]) + math.Abs(st[1])
	}

	scale := 1.0
	if ns > 0 && len(u.State) > 0 {
		oldMean := oldSum / float64(2*ns)
		newMean := newSum / float64(2*len(u.State))
		scale = oldMean / (newMean + 1e-10)
		if scale < 0.1 {
			scale = 0.1
		} else if scale > 10 {
			scale = 10
		}
		if scale > 1 {
			scale = 1
		}
	}

	e.chain.UpdateCoefficients(u.Sections, 1)
	for i := range u.State {
		e.chain.Section(i).SetState([2]float64{u.State[i][0] * scale, u.State[i][1] * scale})
	}
	e.swaps.Add(1)
}
