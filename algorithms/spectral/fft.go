package spectral

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Backend selects the transform implementation behind FFT.
type Backend string

const (
	// BackendGoDSP uses mjibson/go-dsp (radix-2 and Bluestein, parallel for large sizes).
	BackendGoDSP Backend = "godsp"
	// BackendGonum uses gonum's FFTPACK port.
	BackendGonum Backend = "gonum"
	// BackendDFT is the direct O(N²) sum. Slow; kept as reference semantics.
	BackendDFT Backend = "dft"
)

// ParseBackend maps a configuration string to a Backend. The empty string
// selects BackendGoDSP.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendGoDSP:
		return BackendGoDSP, nil
	case BackendGonum:
		return BackendGonum, nil
	case BackendDFT:
		return BackendDFT, nil
	default:
		return "", fmt.Errorf("unknown transform backend %q", s)
	}
}

// FFT computes forward and inverse discrete Fourier transforms of a fixed size.
//
// Compute is unnormalized; ComputeInverse scales by 1/N. Every call returns a
// newly allocated slice and no frame data is retained between calls. Passing a
// slice whose length differs from Size is a programming error and panics.
type FFT struct {
	size    int
	backend Backend

	// gonum plans carry scratch space, so calls are serialized
	mu   sync.Mutex
	real *fourier.FFT
	cmpl *fourier.CmplxFFT
}

// NewFFT creates a transform for frames of exactly size samples.
func NewFFT(size int, backend Backend) (*FFT, error) {
	if size < 1 {
		return nil, fmt.Errorf("transform size must be positive: %d", size)
	}
	if backend == "" {
		backend = BackendGoDSP
	}

	f := &FFT{size: size, backend: backend}
	switch backend {
	case BackendGoDSP, BackendDFT:
	case BackendGonum:
		f.real = fourier.NewFFT(size)
		f.cmpl = fourier.NewCmplxFFT(size)
	default:
		return nil, fmt.Errorf("unknown transform backend %q", backend)
	}
	return f, nil
}

// Size returns the frame length N the transform was built for.
func (f *FFT) Size() int {
	return f.size
}

// Backend returns the implementation in use.
func (f *FFT) Backend() Backend {
	return f.backend
}

// Compute returns the N-point spectrum of a real-valued frame.
func (f *FFT) Compute(x []float64) []complex128 {
	f.checkLength("frame", len(x))

	switch f.backend {
	case BackendGonum:
		return f.gonumForward(x)
	case BackendDFT:
		return DFT(x)
	default:
		// go-dsp handles non power-of-two sizes via Bluestein
		return fft.FFTReal(x)
	}
}

// ComputeInverse returns the complex time-domain sequence for an N-point spectrum.
func (f *FFT) ComputeInverse(x []complex128) []complex128 {
	f.checkLength("spectrum", len(x))

	switch f.backend {
	case BackendGonum:
		return f.gonumInverse(x)
	case BackendDFT:
		return IDFT(x)
	default:
		return fft.IFFT(x)
	}
}

// ComputeInverseReal computes the inverse transform and returns the real part only.
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	result := f.ComputeInverse(x)
	realResult := make([]float64, len(result))

	for i, val := range result {
		realResult[i] = real(val)
	}

	return realResult
}

func (f *FFT) checkLength(what string, n int) {
	if n != f.size {
		panic(fmt.Sprintf("spectral: %s length %d does not match transform size %d", what, n, f.size))
	}
}

// gonumForward uses the real-input plan for bins [0, N/2] and fills the upper
// half from conjugate symmetry.
func (f *FFT) gonumForward(x []float64) []complex128 {
	f.mu.Lock()
	half := f.real.Coefficients(nil, x)
	f.mu.Unlock()

	out := make([]complex128, f.size)
	copy(out, half)
	for k := len(half); k < f.size; k++ {
		c := out[f.size-k]
		out[k] = complex(real(c), -imag(c))
	}
	return out
}

func (f *FFT) gonumInverse(x []complex128) []complex128 {
	f.mu.Lock()
	out := f.cmpl.Sequence(nil, x)
	f.mu.Unlock()

	scale := 1 / float64(f.size)
	for i := range out {
		out[i] *= complex(scale, 0)
	}
	return out
}
