package modem

import (
	"math"
	"time"

	"github.com/charmbracelet/log"
)

type Encoder struct {
	params Params
	freqs  [BitsPerByte]float64
	spd    int
}

func NewEncoder(p Params) *Encoder {
	return &Encoder{params: p, freqs: p.Frequencies(), spd: p.SamplesPerDuration()}
}

func (e *Encoder) Params() Params {
	return e.params
}

// Durations is the number of durations a frame of frameLen bytes occupies on the line.
func (e *Encoder) Durations(frameLen int) int {
	return e.params.HailDurations + 1 + frameLen + 1
}

// PlayDuration is how long playback of a frameLen byte frame is expected to take, including the
// jitter allowance of the audio path.
func (e *Encoder) PlayDuration(frameLen int) time.Duration {
	return e.params.Duration(e.params.PlayJitter + e.Durations(frameLen))
}

func (e *Encoder) tonesFor(b byte) []float64 {
	tones := []float64{e.params.HailFrequency}
	for bit := 0; bit < BitsPerByte; bit++ {
		if b&(1<<bit) != 0 {
			tones = append(tones, e.freqs[bit])
		}
	}
	return tones
}

// Encode renders the frame as unsigned 8-bit PCM at the configured sample rate.
func (e *Encoder) Encode(frame []byte) []byte {
	out := make([]byte, 0, e.Durations(len(frame))*e.spd)

	hail := []float64{e.params.HailFrequency}
	for i := 0; i < e.params.HailDurations; i++ {
		out = e.synthesize(out, hail)
	}
	out = e.synthesize(out, e.tonesFor(0xFF))
	for _, b := range frame {
		out = e.synthesize(out, e.tonesFor(b))
	}
	out = e.synthesize(out, nil)

	log.Debugf("[modem] encoded %d bytes into %d samples (%s)", len(frame), len(out), e.params.Backlog(len(out)))
	return out
}

func (e *Encoder) synthesize(dst []byte, tones []float64) []byte {
	fs := e.params.SampleRate
	for n := 0; n < e.spd; n++ {
		var x float64
		for _, f := range tones {
			x += e.params.Amplitude * math.Sin(2*math.Pi*f*float64(n)/fs)
		}
		x = max(-1, min(1, x))
		dst = append(dst, ToByte(x))
	}
	return dst
}
