package filter

import (
	"math"
	"math/cmplx"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
)

// NumSections is the fixed cascade length: two biquads, a 4th-order
// response with a -24 dB/octave rolloff.
const NumSections = 2

// filterOrder is the total IIR order realised by the cascade.
const filterOrder = 2 * NumSections

// Design turns a parameter snapshot into a Butterworth cascade of exactly
// [NumSections] normalized second-order sections. It is pure and
// deterministic: out-of-domain cutoff and Q values are clamped, so there is
// no failure path.
//
// For bandpass and notch the single (cutoff, Q) pair is converted into an
// approximate band: Q controls the bandwidth inversely, so a high Q yields
// the narrow notch needed for mains-hum rejection.
func Design(p Params, sampleRate float64) []biquad.Coefficients {
	nyquist := sampleRate / 2
	cutoff := clamp(p.Cutoff, MinCutoffHz, nyquist-EdgeMarginHz)
	q := clamp(p.Q, MinQ, MaxQ)

	switch p.Type {
	case Lowpass:
		return butterworthPass(cutoff, sampleRate, false)
	case Highpass:
		return butterworthPass(cutoff, sampleRate, true)
	case Bandpass, Notch:
		bandwidth := math.Max(MinBandwidthHz, cutoff/q)
		low := math.Max(MinCutoffHz, cutoff-bandwidth/2)
		high := math.Min(nyquist-EdgeMarginHz, cutoff+bandwidth/2)
		return butterworthBand(low, high, sampleRate, p.Type == Notch)
	}

	// Unreachable for valid types: a wide bandpass spanning most of the
	// spectrum, so audio keeps flowing even on a corrupt type value.
	return butterworthBand(0.05*nyquist, 0.95*nyquist, sampleRate, false)
}

// butterworthQ returns the quality factor of the i-th biquad section of an
// order-n Butterworth filter, from the analog prototype pole angles.
func butterworthQ(order, index int) float64 {
	theta := math.Pi * float64(2*index+1) / (2 * float64(order))
	return 1 / (2 * math.Sin(theta))
}

// butterworthPass designs a 4th-order Butterworth lowpass or highpass as
// two RBJ biquads sharing the corner frequency, each with the Q of one
// analog prototype pole pair. The product equals the bilinear transform of
// the full 4th-order prototype.
func butterworthPass(freq, sampleRate float64, highpass bool) []biquad.Coefficients {
	sections := make([]biquad.Coefficients, 0, NumSections)
	for i := NumSections - 1; i >= 0; i-- {
		q := butterworthQ(filterOrder, i)
		if highpass {
			sections = append(sections, rbjHighpass(freq, q, sampleRate))
		} else {
			sections = append(sections, rbjLowpass(freq, q, sampleRate))
		}
	}
	return sections
}

func rbjLowpass(freq, q, sampleRate float64) biquad.Coefficients {
	w0 := 2 * math.Pi * freq / sampleRate
	cw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 - cw) / 2
	b1 := 1 - cw
	b2 := (1 - cw) / 2
	a0 := 1 + alpha
	a1 := -2 * cw
	a2 := 1 - alpha

	return biquad.Coefficients{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

func rbjHighpass(freq, q, sampleRate float64) biquad.Coefficients {
	w0 := 2 * math.Pi * freq / sampleRate
	cw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 + cw) / 2
	b1 := -(1 + cw)
	b2 := (1 + cw) / 2
	a0 := 1 + alpha
	a1 := -2 * cw
	a2 := 1 - alpha

	return biquad.Coefficients{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// butterworthBand designs a 4th-order Butterworth bandpass or band-stop
// with passband (resp. stopband) edges lowHz/highHz, via the classic
// lowpass-prototype frequency transform and the bilinear transform.
//
// The order-2 analog prototype contributes one upper-half-plane pole; the
// band transform splits it into two, and conjugation supplies the mirror
// pair, yielding two digital sections.
func butterworthBand(lowHz, highHz, sampleRate float64, bandstop bool) []biquad.Coefficients {
	fs2 := 2 * sampleRate

	// Prewarped band edges and derived center / width (rad/s).
	w1 := fs2 * math.Tan(math.Pi*lowHz/sampleRate)
	w2 := fs2 * math.Tan(math.Pi*highHz/sampleRate)
	w0 := math.Sqrt(w1 * w2)
	bw := w2 - w1

	// Upper prototype pole of the order-2 Butterworth lowpass (wc = 1).
	proto := cmplx.Exp(complex(0, 3*math.Pi/4))

	var sa, sb complex128
	if bandstop {
		inv := complex(bw/2, 0) / proto
		d := cmplx.Sqrt(inv*inv - complex(w0*w0, 0))
		sa, sb = inv+d, inv-d
	} else {
		pb := proto * complex(bw/2, 0)
		d := cmplx.Sqrt(pb*pb - complex(w0*w0, 0))
		sa, sb = pb+d, pb-d
	}

	// Analog zeros: bandpass has a double zero at s=0 (plus two at
	// infinity); band-stop has conjugate zero pairs at +-j*w0.
	var sZeros []complex128
	gain := 1.0
	if bandstop {
		sZeros = []complex128{
			complex(0, w0), complex(0, -w0),
			complex(0, w0), complex(0, -w0),
		}
	} else {
		sZeros = []complex128{0, 0}
		gain = bw * bw
	}
	sPoles := []complex128{sa, cmplx.Conj(sa), sb, cmplx.Conj(sb)}

	// Bilinear transform gain correction: H(z) picks up the factor
	// prod(fs2 - z_i) / prod(fs2 - p_i) over the finite analog roots.
	num := complex(1, 0)
	for _, z := range sZeros {
		num *= complex(fs2, 0) - z
	}
	den := complex(1, 0)
	for _, p := range sPoles {
		den *= complex(fs2, 0) - p
	}
	gain *= real(num / den)

	za := bilinearRoot(sa, fs2)
	zb := bilinearRoot(sb, fs2)

	// Numerator roots per section. Bandpass: one zero at z=1 (from s=0)
	// and one at z=-1 (from infinity) each. Band-stop: each section gets
	// one conjugate pair on the unit circle at the mapped center.
	var n0, n1, n2 float64
	if bandstop {
		zj := bilinearRoot(complex(0, w0), fs2)
		n0, n1, n2 = 1, -2*real(zj), 1
	} else {
		n0, n1, n2 = 1, 0, -1
	}

	sections := []biquad.Coefficients{
		sectionFromRoots(n0, n1, n2, za, gain),
		sectionFromRoots(n0, n1, n2, zb, 1),
	}
	return sections
}

// bilinearRoot maps an analog root s to the z-plane: z = (fs2+s)/(fs2-s).
func bilinearRoot(s complex128, fs2 float64) complex128 {
	return (complex(fs2, 0) + s) / (complex(fs2, 0) - s)
}

// sectionFromRoots builds one normalized section from a real numerator
// polynomial, a digital pole (paired with its conjugate), and a gain folded
// into the numerator.
func sectionFromRoots(n0, n1, n2 float64, pole complex128, gain float64) biquad.Coefficients {
	return biquad.Coefficients{
		B0: gain * n0,
		B1: gain * n1,
		B2: gain * n2,
		A1: -2 * real(pole),
		A2: real(pole)*real(pole) + imag(pole)*imag(pole),
	}
}
