package signal

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/siffror/iiot-machine-health/errors"
)

// Band is an inclusive frequency range in Hz.
type Band struct {
	Low  float64
	High float64
}

// NewBand validates and returns a frequency band.
func NewBand(low, high float64) (Band, error) {
	if low < 0 || !isFinite(low) {
		return Band{}, errors.WrapInvalid(errors.ErrInvalidConfig,
			"signal", "NewBand", fmt.Sprintf("band low %v must be non-negative", low))
	}
	if high <= low || !isFinite(high) {
		return Band{}, errors.WrapInvalid(errors.ErrInvalidConfig,
			"signal", "NewBand", fmt.Sprintf("band high %v must exceed low %v", high, low))
	}
	return Band{Low: low, High: high}, nil
}

// String renders the band with integer-truncated bounds, matching the
// field naming convention.
func (b Band) String() string {
	return fmt.Sprintf("%d_%d", int(b.Low), int(b.High))
}

// RMS returns the root mean square amplitude of samples.
func RMS(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, errors.WrapInvalid(errors.ErrEmptySignal,
			"signal", "RMS", "no samples")
	}

	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}
	return math.Sqrt(sumSq / float64(len(samples))), nil
}

// Spectrum is the one-sided magnitude spectrum of a real signal.
// Bin i sits at frequency rate*i/n; bin 0 is the DC component.
type Spectrum struct {
	mags  []float64
	freqs []float64
}

// ComputeSpectrum runs a real FFT over samples recorded at rate Hz.
// Any sample count is accepted; the transform is not padded to a power
// of two.
func ComputeSpectrum(samples []float64, rate float64) (*Spectrum, error) {
	if len(samples) == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptySignal,
			"signal", "ComputeSpectrum", "no samples")
	}
	if rate <= 0 || !isFinite(rate) {
		return nil, errors.WrapInvalid(errors.ErrInvalidRate,
			"signal", "ComputeSpectrum", fmt.Sprintf("sample rate %v must be positive", rate))
	}

	fft := fourier.NewFFT(len(samples))
	coeffs := fft.Coefficients(nil, samples)

	s := &Spectrum{
		mags:  make([]float64, len(coeffs)),
		freqs: make([]float64, len(coeffs)),
	}
	for i, c := range coeffs {
		s.mags[i] = cmplx.Abs(c)
		s.freqs[i] = fft.Freq(i) * rate
	}
	return s, nil
}

// Bins returns the number of spectral bins including DC.
func (s *Spectrum) Bins() int {
	return len(s.mags)
}

// PeakFrequency returns the frequency of the strongest non-DC bin.
// Ties resolve to the lowest frequency. A spectrum with no non-DC bins
// (signals shorter than two samples) yields 0.
func (s *Spectrum) PeakFrequency() float64 {
	if len(s.mags) < 2 {
		return 0
	}

	best := 1
	for i := 2; i < len(s.mags); i++ {
		if s.mags[i] > s.mags[best] {
			best = i
		}
	}
	return s.freqs[best]
}

// BandEnergy sums squared magnitudes over bins whose frequency falls
// inside the band. The upper bound is clamped to Nyquist, and the DC
// bin is always excluded so constant offsets do not count as band
// energy. An empty effective band yields 0.
func (s *Spectrum) BandEnergy(b Band, rate float64) float64 {
	high := b.High
	if nyquist := rate / 2; high > nyquist {
		high = nyquist
	}
	if high < b.Low {
		return 0
	}

	var energy float64
	for i := 1; i < len(s.mags); i++ {
		f := s.freqs[i]
		if f < b.Low || f > high {
			continue
		}
		energy += s.mags[i] * s.mags[i]
	}
	return energy
}

// AxisFeatures holds the extracted features for one axis.
type AxisFeatures struct {
	Axis          string
	RMS           float64
	PeakFrequency float64
	BandEnergy    float64
}

// ExtractAxisFeatures computes all per-axis features in one pass.
func ExtractAxisFeatures(sig AxisSignal, rate float64, band Band) (AxisFeatures, error) {
	rms, err := RMS(sig.Samples)
	if err != nil {
		return AxisFeatures{}, err
	}

	spectrum, err := ComputeSpectrum(sig.Samples, rate)
	if err != nil {
		return AxisFeatures{}, err
	}

	return AxisFeatures{
		Axis:          sig.Axis,
		RMS:           rms,
		PeakFrequency: spectrum.PeakFrequency(),
		BandEnergy:    spectrum.BandEnergy(band, rate),
	}, nil
}
