// Package modem is the acoustic physical layer: it turns frame bytes into 8-bit PCM tone bursts and
// recovers them again from a stream of captured samples.
//
// Line format, in durations: hail tone x HailDurations, one reference duration carrying the carrier and
// all eight data tones, one duration per frame byte, then one silent duration marking the end. Every
// data duration carries the carrier (the hail frequency) plus the data tone of each set bit, so a 0x00
// byte is still audible and only silence ends a transmission.
package modem

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	BitsPerByte      = 8
	FloatToByteShift = 128
)

// multipliers over the base frequency, in 24ths
var toneMultipliers = [BitsPerByte]int{24, 27, 30, 36, 40, 48, 54, 60}

type Params struct {
	SampleRate        float64
	DurationSeconds   float64
	BaseFrequency     float64
	HailFrequency     float64
	HailDurations     int
	Amplitude         float64
	KeyThreshold      float64
	BitThreshold      float64
	CarrierThreshold  float64
	PlayJitter        int
	CoarseGranularity int
	FineGranularity   int
	MaxFrameBytes     int
}

func DefaultParams() Params {
	return Params{
		SampleRate:        22050,
		DurationSeconds:   0.2,
		BaseFrequency:     1000,
		HailFrequency:     3000,
		HailDurations:     3,
		// the reference duration sums nine tones, 0.1 keeps that peak below full scale
		Amplitude:         0.1,
		KeyThreshold:      0.7,
		BitThreshold:      0.5,
		CarrierThreshold:  0.5,
		PlayJitter:        5,
		CoarseGranularity: 400,
		FineGranularity:   20,
		MaxFrameBytes:     1024,
	}
}

var ErrParams = errors.New("modem: invalid parameters")

func (p Params) Validate() error {
	nyquist := p.SampleRate / 2
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %f", ErrParams, p.SampleRate)
	case p.SamplesPerDuration() < 1:
		return fmt.Errorf("%w: duration %fs holds no samples", ErrParams, p.DurationSeconds)
	case p.HailDurations < 1:
		return fmt.Errorf("%w: hail needs at least one duration", ErrParams)
	case p.HailFrequency >= nyquist || p.BaseFrequency*60/24 >= nyquist:
		return fmt.Errorf("%w: tones above nyquist %f", ErrParams, nyquist)
	case p.Amplitude <= 0 || p.Amplitude > 1:
		return fmt.Errorf("%w: amplitude %f", ErrParams, p.Amplitude)
	case p.CoarseGranularity < 1 || p.FineGranularity < 1:
		return fmt.Errorf("%w: search granularity must be positive", ErrParams)
	}
	for _, f := range p.Frequencies() {
		if f == p.HailFrequency {
			return fmt.Errorf("%w: data tone %f collides with hail", ErrParams, f)
		}
	}
	return nil
}

func (p Params) SamplesPerDuration() int {
	return int(p.SampleRate * p.DurationSeconds)
}

// Frequencies is the data tone for each bit, lowest bit first. Values are truncated to whole hertz.
func (p Params) Frequencies() [BitsPerByte]float64 {
	var out [BitsPerByte]float64
	for i, m := range toneMultipliers {
		out[i] = float64(int(p.BaseFrequency * float64(m) / 24))
	}
	return out
}

func (p Params) Duration(durations int) time.Duration {
	return time.Duration(math.Round(float64(durations) * p.DurationSeconds * float64(time.Second)))
}

// Backlog converts a sample count into the time it represents.
func (p Params) Backlog(samples int) time.Duration {
	return time.Duration(math.Round(float64(samples) / p.SampleRate * float64(time.Second)))
}
