package signal

import "fmt"

// Field naming convention for extracted features. Names are flat so
// records drop straight into wide time-series rows:
//
//	rms_ax, rms_ay, rms_az
//	peak_freq_ax, ...
//	bandE<low>_<high>_ax, ... (integer-truncated bounds)

// RMSField returns the RMS field name for an axis.
func RMSField(axis string) string {
	return "rms_" + axis
}

// PeakFreqField returns the dominant-frequency field name for an axis.
func PeakFreqField(axis string) string {
	return "peak_freq_" + axis
}

// BandEnergyField returns the band-energy field name for an axis.
func BandEnergyField(b Band, axis string) string {
	return fmt.Sprintf("bandE%s_%s", b.String(), axis)
}

// FeatureFields renders one axis's features under the naming
// convention.
func FeatureFields(f AxisFeatures, b Band) map[string]float64 {
	return map[string]float64{
		RMSField(f.Axis):           f.RMS,
		PeakFreqField(f.Axis):      f.PeakFrequency,
		BandEnergyField(b, f.Axis): f.BandEnergy,
	}
}
