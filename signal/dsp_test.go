package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siffror/iiot-machine-health/errors"
)

// sine generates n samples of sin(2*pi*freq*t) at the given sample rate.
func sine(n int, freq, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / rate)
	}
	return out
}

func TestNewBand(t *testing.T) {
	b, err := NewBand(0, 200)
	require.NoError(t, err)
	assert.Equal(t, "0_200", b.String())

	_, err = NewBand(-1, 200)
	assert.Error(t, err)

	_, err = NewBand(200, 200)
	assert.Error(t, err)

	_, err = NewBand(200, 100)
	assert.Error(t, err)

	_, err = NewBand(0, math.Inf(1))
	assert.Error(t, err)
}

func TestBandStringTruncates(t *testing.T) {
	b := Band{Low: 10.9, High: 199.5}
	assert.Equal(t, "10_199", b.String())
}

func TestRMSConstantSignal(t *testing.T) {
	for _, c := range []float64{0, 1, -3.5, 42} {
		samples := []float64{c, c, c, c, c}
		got, err := RMS(samples)
		require.NoError(t, err)
		assert.InDelta(t, math.Abs(c), got, 1e-12)
	}
}

func TestRMSKnownValues(t *testing.T) {
	got, err := RMS([]float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(12.5), got, 1e-12)

	// Full-scale sine RMS approaches 1/sqrt(2)
	got, err = RMS(sine(4096, 50, 4096))
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, got, 1e-3)
}

func TestRMSEmpty(t *testing.T) {
	_, err := RMS(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptySignal))
}

func TestComputeSpectrumErrors(t *testing.T) {
	_, err := ComputeSpectrum(nil, 100)
	assert.True(t, errors.Is(err, errors.ErrEmptySignal))

	_, err = ComputeSpectrum([]float64{1, 2}, 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidRate))

	_, err = ComputeSpectrum([]float64{1, 2}, -5)
	assert.True(t, errors.Is(err, errors.ErrInvalidRate))
}

func TestPeakFrequencySineAtExactBin(t *testing.T) {
	// 50 Hz sine, 256 samples at 256 Hz: bin width 1 Hz so the tone
	// lands exactly on bin 50.
	s, err := ComputeSpectrum(sine(256, 50, 256), 256)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, s.PeakFrequency(), 1e-9)
}

func TestPeakFrequencyNonPowerOfTwo(t *testing.T) {
	// 30 Hz tone, 300 samples at 300 Hz: bin width 1 Hz again, but the
	// transform length is not a power of two.
	s, err := ComputeSpectrum(sine(300, 30, 300), 300)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, s.PeakFrequency(), 1e-9)
}

func TestPeakFrequencyIgnoresDC(t *testing.T) {
	// Large constant offset plus a small tone: DC dominates the raw
	// spectrum but must never win.
	samples := sine(256, 40, 256)
	for i := range samples {
		samples[i] = samples[i]*0.1 + 100
	}
	s, err := ComputeSpectrum(samples, 256)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, s.PeakFrequency(), 1e-9)
}

func TestPeakFrequencyShortSignal(t *testing.T) {
	s, err := ComputeSpectrum([]float64{7}, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.PeakFrequency())
}

func TestPeakFrequencyTieBreaksLow(t *testing.T) {
	s := &Spectrum{
		mags:  []float64{5, 3, 3, 1},
		freqs: []float64{0, 10, 20, 30},
	}
	assert.Equal(t, 10.0, s.PeakFrequency())
}

func TestBandEnergyExcludesDC(t *testing.T) {
	// Constant signal: all energy is at DC, so any band reports zero.
	s, err := ComputeSpectrum([]float64{2, 2, 2, 2, 2, 2, 2, 2}, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.BandEnergy(Band{Low: 0, High: 50}, 100))
}

func TestBandEnergyFullBandEqualsNonDCTotal(t *testing.T) {
	samples := sine(256, 50, 256)
	for i := range samples {
		samples[i] += 0.3 * math.Sin(2*math.Pi*90*float64(i)/256)
	}
	s, err := ComputeSpectrum(samples, 256)
	require.NoError(t, err)

	var total float64
	for i := 1; i < s.Bins(); i++ {
		total += s.mags[i] * s.mags[i]
	}
	assert.InDelta(t, total, s.BandEnergy(Band{Low: 0, High: 128}, 256), 1e-9)
}

func TestBandEnergyMonotonic(t *testing.T) {
	samples := sine(512, 60, 512)
	for i := range samples {
		samples[i] += 0.5 * math.Sin(2*math.Pi*150*float64(i)/512)
	}
	s, err := ComputeSpectrum(samples, 512)
	require.NoError(t, err)

	narrow := s.BandEnergy(Band{Low: 40, High: 80}, 512)
	wide := s.BandEnergy(Band{Low: 0, High: 200}, 512)
	full := s.BandEnergy(Band{Low: 0, High: 256}, 512)

	assert.LessOrEqual(t, narrow, wide)
	assert.LessOrEqual(t, wide, full)
	assert.Greater(t, narrow, 0.0)
}

func TestBandEnergySelectsTone(t *testing.T) {
	// 60 Hz tone: a band around it captures nearly everything, a band
	// away from it nearly nothing.
	s, err := ComputeSpectrum(sine(512, 60, 512), 512)
	require.NoError(t, err)

	around := s.BandEnergy(Band{Low: 55, High: 65}, 512)
	away := s.BandEnergy(Band{Low: 150, High: 200}, 512)
	assert.Greater(t, around, 1000*math.Max(away, 1e-12))
}

func TestBandEnergyClampsToNyquist(t *testing.T) {
	s, err := ComputeSpectrum(sine(256, 50, 256), 256)
	require.NoError(t, err)

	clamped := s.BandEnergy(Band{Low: 0, High: 128}, 256)
	beyond := s.BandEnergy(Band{Low: 0, High: 10000}, 256)
	assert.Equal(t, clamped, beyond)
}

func TestBandEnergyEmptyEffectiveBand(t *testing.T) {
	s, err := ComputeSpectrum(sine(256, 50, 256), 256)
	require.NoError(t, err)

	// Band entirely above Nyquist clamps to nothing.
	assert.Equal(t, 0.0, s.BandEnergy(Band{Low: 200, High: 400}, 256))
}

func TestExtractAxisFeatures(t *testing.T) {
	sig := AxisSignal{Axis: "ax", Samples: sine(256, 50, 256)}
	f, err := ExtractAxisFeatures(sig, 256, Band{Low: 0, High: 100})
	require.NoError(t, err)

	assert.Equal(t, "ax", f.Axis)
	assert.InDelta(t, 1/math.Sqrt2, f.RMS, 1e-3)
	assert.InDelta(t, 50.0, f.PeakFrequency, 1e-9)
	assert.Greater(t, f.BandEnergy, 0.0)
}

func TestExtractAxisFeaturesEmpty(t *testing.T) {
	_, err := ExtractAxisFeatures(AxisSignal{Axis: "ax"}, 256, Band{Low: 0, High: 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptySignal))
}
