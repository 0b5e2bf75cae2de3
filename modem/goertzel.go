package modem

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// ToFloat converts unsigned 8-bit PCM into samples in [-1, 1).
func ToFloat(pcm []byte) []float64 {
	out := make([]float64, len(pcm))
	for i, b := range pcm {
		out[i] = float64(int(b)-FloatToByteShift) / FloatToByteShift
	}
	return out
}

// ToByte quantizes a sample in [-1, 1] to unsigned 8-bit PCM.
func ToByte(x float64) byte {
	v := int(math.Round(x*FloatToByteShift)) + FloatToByteShift
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return byte(v)
}

// goertzelPower is |X(f)|^2 of the window at frequency f.
func goertzelPower(samples []float64, f, fs float64) float64 {
	coeff := 2 * math.Cos(2*math.Pi*f/fs)
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return max(s1*s1+s2*s2-coeff*s1*s2, 0)
}

// Magnitude is |X(f)| normalised so a full window sine of amplitude a reads a.
func Magnitude(samples []float64, f, fs float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return 2 * math.Sqrt(goertzelPower(samples, f, fs)) / float64(len(samples))
}

// NoiseFloor estimates the per-sample variance of broadband noise in samples from the median of its
// power spectrum. Tones occupy a handful of bins and barely move the median.
func NoiseFloor(samples []float64) float64 {
	n := len(samples)
	if n < 4 {
		return 0
	}
	coeff := fourier.NewFFT(n).Coefficients(nil, samples)
	power := make([]float64, 0, len(coeff)-1)
	for _, c := range coeff[1:] {
		power = append(power, real(c)*real(c)+imag(c)*imag(c))
	}
	slices.Sort(power)
	// white noise bins are exponential with mean n*variance, their median is ln 2 of that
	return stat.Quantile(0.5, stat.Empirical, power, nil) / (math.Ln2 * float64(n))
}
