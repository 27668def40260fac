package spectral

import (
	"math"
)

// DFT evaluates X[k] = Σ x[n]·e^{-2πi·k·n/N} directly.
//
// This is O(N²) and exists to pin down the semantics the fast backends must
// reproduce. The phase index k·n is reduced mod N before the table lookup so
// large N does not lose precision in the angle.
func DFT(x []float64) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	if n == 0 {
		return out
	}

	cos, sin := twiddles(n)
	for k := range n {
		var re, im float64
		idx := 0
		for t := range n {
			re += x[t] * cos[idx]
			im -= x[t] * sin[idx]
			idx += k
			if idx >= n {
				idx -= n
			}
		}
		out[k] = complex(re, im)
	}
	return out
}

// IDFT evaluates x[n] = (1/N) Σ X[k]·e^{+2πi·k·n/N} directly.
func IDFT(spectrum []complex128) []complex128 {
	n := len(spectrum)
	out := make([]complex128, n)
	if n == 0 {
		return out
	}

	cos, sin := twiddles(n)
	scale := 1 / float64(n)
	for t := range n {
		var re, im float64
		idx := 0
		for k := range n {
			c, s := cos[idx], sin[idx]
			xr, xi := real(spectrum[k]), imag(spectrum[k])
			// (xr + i·xi)(c + i·s)
			re += xr*c - xi*s
			im += xr*s + xi*c
			idx += t
			if idx >= n {
				idx -= n
			}
		}
		out[t] = complex(re*scale, im*scale)
	}
	return out
}

// twiddles returns cos(2πj/N) and sin(2πj/N) for j in [0, N).
func twiddles(n int) ([]float64, []float64) {
	cos := make([]float64, n)
	sin := make([]float64, n)
	for j := range n {
		angle := 2 * math.Pi * float64(j) / float64(n)
		sin[j], cos[j] = math.Sincos(angle)
	}
	return cos, sin
}
