package filter

import "github.com/cwbudde/algo-dsp/dsp/filter/biquad"

// StepState computes the Direct Form II Transposed delay-line state each
// section would hold in steady state while passing a unit step. Priming a
// fresh cascade with this state avoids the turn-on transient a zeroed delay
// line would produce on the first processed block.
//
// Each section's steady-state output feeds the next section as its step
// amplitude, so the state accounts for the cumulative DC gain of the chain.
func StepState(sections []biquad.Coefficients) [][2]float64 {
	states := make([][2]float64, len(sections))

	x := 1.0
	for i, c := range sections {
		// Steady state: y = H(1) * x, with H(1) the section DC gain.
		var y float64
		if den := 1 + c.A1 + c.A2; den != 0 {
			y = x * (c.B0 + c.B1 + c.B2) / den
		}

		// DF2T recurrences with constant x and y:
		//   d1 = B2*x - A2*y
		//   d0 = B1*x - A1*y + d1
		d1 := c.B2*x - c.A2*y
		d0 := c.B1*x - c.A1*y + d1
		states[i] = [2]float64{d0, d1}

		x = y
	}
	return states
}
