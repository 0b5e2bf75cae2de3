package modem

import (
	"math"

	"github.com/racerxdl/segdsp/tools"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// SNRCalc keeps an exponentially smoothed estimate of tone energy against everything else in the
// duration.
type SNRCalc struct {
	Signal float64
	Noise  float64
	Alpha  float64
	Beta   float64
}

func NewSNRCalc() *SNRCalc {
	alpha := 0.2
	return &SNRCalc{Alpha: alpha, Beta: 1.0 - alpha}
}

// Update folds one duration into the estimate and returns the current SNR in dB. tones are the
// frequencies expected to be present.
func (s *SNRCalc) Update(samples []float64, tones []float64, fs float64) float64 {
	total := floats.Dot(samples, samples)
	if total == 0 || len(samples) == 0 {
		return s.Current()
	}
	var signal float64
	for _, f := range tones {
		signal += 2 * goertzelPower(samples, f, fs) / float64(len(samples))
	}
	signal = min(signal, total)
	s.Signal = s.Alpha*signal + s.Beta*s.Signal
	s.Noise = s.Alpha*(total-signal) + s.Beta*s.Noise
	return s.Current()
}

func (s *SNRCalc) Current() float64 {
	if s.Signal <= 0 {
		return 0
	}
	if s.Noise <= 0 {
		return 99
	}
	return max(0, 10.0*math.Log10(s.Signal/s.Noise))
}

// Spectrum returns a power spectrum in dB of the PCM window folded into bins buckets, suitable for
// plotting.
func Spectrum(pcm []byte, bins int) []float64 {
	if len(pcm) < 2 || bins < 1 {
		return nil
	}
	input := ToFloat(pcm)
	fft := fourier.NewFFT(len(input))
	coeff := fft.Coefficients(nil, input)

	per := max(1, len(coeff)/bins)
	output := make([]float64, 0, bins)
	for start := 0; start+per <= len(coeff) && len(output) < bins; start += per {
		var peak float32
		for _, c := range coeff[start : start+per] {
			peak = max(peak, tools.ComplexAbsSquared(complex64(c)))
		}
		v := 10.0 * math.Log10(float64(peak)+1e-12)
		output = append(output, max(v, 0))
	}
	return output
}
