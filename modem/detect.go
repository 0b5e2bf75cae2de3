package modem

import "gonum.org/v1/gonum/floats"

// KeyStrengths are the tone magnitudes measured on the reference duration that follows the hail.
// Data durations are judged against them.
type KeyStrengths struct {
	Bits    [BitsPerByte]float64
	Carrier float64
}

type Detector struct {
	params Params
	freqs  [BitsPerByte]float64
	spd    int
}

func NewDetector(p Params) *Detector {
	return &Detector{params: p, freqs: p.Frequencies(), spd: p.SamplesPerDuration()}
}

// hailSignificance is how far the hail bin must rise above a noise-only bin before a window counts.
const hailSignificance = 10

// hailScore is the share of the window's non-noise energy found at the hail frequency, capped at 1.
// noise is the per-sample noise variance from NoiseFloor.
func (d *Detector) hailScore(x []float64, noise float64) float64 {
	n := float64(len(x))
	total := floats.Dot(x, x)
	p := goertzelPower(x, d.params.HailFrequency, d.params.SampleRate)
	if total == 0 || p < hailSignificance*n*noise {
		return 0
	}
	signal := total - n*noise
	if signal <= 0 {
		return 0
	}
	return min(2*p/(n*signal), 1)
}

// FindKeyCoarse returns the first offset, stepping by granularity, whose one duration window is
// dominated by the hail tone, or -1.
func (d *Detector) FindKeyCoarse(samples []byte, granularity int) int {
	x := ToFloat(samples)
	noise := NoiseFloor(x)
	for o := 0; o+d.spd <= len(x); o += granularity {
		if d.hailScore(x[o:o+d.spd], noise) >= d.params.KeyThreshold {
			return o
		}
	}
	return -1
}

// FindKeyFine returns the offset in [0, span] that maximises the mean hail score over all hail
// durations, and that mean. A run of equal best scores resolves to its middle. The offset is -1 when
// samples is too short for any candidate.
func (d *Detector) FindKeyFine(samples []byte, granularity, span int) (int, float64) {
	x := ToFloat(samples)
	noise := NoiseFloor(x)
	hail := d.params.HailDurations
	first, last, bestScore := -1, -1, -1.0
	for o := 0; o <= span && o+hail*d.spd <= len(x); o += granularity {
		var score float64
		for i := 0; i < hail; i++ {
			start := o + i*d.spd
			score += d.hailScore(x[start:start+d.spd], noise)
		}
		score /= float64(hail)
		switch {
		case score > bestScore:
			first, last, bestScore = o, o, score
		case score == bestScore && last == o-granularity:
			last = o
		}
	}
	if first < 0 {
		return -1, bestScore
	}
	return first + (last-first)/2, bestScore
}

func (d *Detector) magnitudes(duration []byte) ([BitsPerByte]float64, float64) {
	x := ToFloat(duration)
	fs := d.params.SampleRate
	var bits [BitsPerByte]float64
	for k, f := range d.freqs {
		bits[k] = Magnitude(x, f, fs)
	}
	return bits, Magnitude(x, d.params.HailFrequency, fs)
}

func (d *Detector) KeySignalStrengths(duration []byte) KeyStrengths {
	bits, carrier := d.magnitudes(duration)
	return KeyStrengths{Bits: bits, Carrier: carrier}
}

// DecodeDuration reads one byte from a data duration. carrier is false when the duration holds no
// carrier, which marks the end of a transmission.
func (d *Detector) DecodeDuration(duration []byte, ref KeyStrengths) (value byte, carrier bool) {
	bits, c := d.magnitudes(duration)
	if c < ref.Carrier*d.params.CarrierThreshold {
		return 0, false
	}
	for k, m := range bits {
		if m > ref.Bits[k]*d.params.BitThreshold {
			value |= 1 << k
		}
	}
	return value, true
}
