package modem

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/jrwynneiii/sonictext/audiobuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silence(n int) []byte {
	return bytes.Repeat([]byte{FloatToByteShift}, n)
}

func TestFrequencies(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, [BitsPerByte]float64{1000, 1125, 1250, 1500, 1666, 2000, 2250, 2500}, p.Frequencies())
	assert.Equal(t, 4410, p.SamplesPerDuration())
	assert.LessOrEqual(t, 9*p.Amplitude, 1.0, "reference duration must not clip")
	require.NoError(t, p.Validate())

	bad := p
	bad.HailFrequency = 1250
	assert.ErrorIs(t, bad.Validate(), ErrParams)
	bad = p
	bad.SampleRate = 4000
	assert.ErrorIs(t, bad.Validate(), ErrParams)
}

func TestPCMConversion(t *testing.T) {
	assert.Equal(t, byte(128), ToByte(0))
	assert.Equal(t, byte(255), ToByte(1))
	assert.Equal(t, byte(0), ToByte(-1))
	assert.Equal(t, []float64{0, -1, 0.5}, ToFloat([]byte{128, 0, 192}))
}

func TestHailScore(t *testing.T) {
	const fs, f, n = 22050.0, 3000.0, 4410
	det := NewDetector(DefaultParams())
	tone := make([]float64, n)
	for i := range tone {
		tone[i] = 0.3 * math.Sin(2*math.Pi*f*float64(i)/fs)
	}
	assert.InDelta(t, 1.0, det.hailScore(tone, 0), 1e-6)
	assert.InDelta(t, 0.3, Magnitude(tone, f, fs), 1e-6)

	half := append(make([]float64, n/2), tone[:n/2]...)
	assert.InDelta(t, 0.5, det.hailScore(half, 0), 0.01)

	other := make([]float64, n)
	for i := range other {
		other[i] = 0.3 * math.Sin(2*math.Pi*1000*float64(i)/fs)
	}
	assert.Less(t, det.hailScore(other, 0), 0.01)
	assert.Zero(t, det.hailScore(make([]float64, n), 0))

	// a weak hail bin does not count against a strong noise floor
	assert.Zero(t, det.hailScore(other, 0.01))
}

func TestEncoderLayout(t *testing.T) {
	p := DefaultParams()
	enc := NewEncoder(p)
	det := NewDetector(p)
	spd := p.SamplesPerDuration()

	frame := []byte{0xFD, 3, 'S', 'O', 'S', 0x42}
	pcm := enc.Encode(frame)
	require.Len(t, pcm, (p.HailDurations+1+len(frame)+1)*spd)
	assert.Equal(t, 3200*time.Millisecond, enc.PlayDuration(len(frame)))

	for i := 0; i < p.HailDurations; i++ {
		assert.Greater(t, det.hailScore(ToFloat(pcm[i*spd:(i+1)*spd]), 0), 0.99, "hail duration %d", i)
	}
	assert.Equal(t, silence(spd), pcm[len(pcm)-spd:], "end marker is silent")
}

func TestDecodeDurationEveryByte(t *testing.T) {
	p := DefaultParams()
	enc := NewEncoder(p)
	det := NewDetector(p)
	spd := p.SamplesPerDuration()

	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	pcm := enc.Encode(all)
	refStart := p.HailDurations * spd
	ref := det.KeySignalStrengths(pcm[refStart : refStart+spd])
	assert.InDelta(t, p.Amplitude, ref.Carrier, 0.01)

	for i, want := range all {
		start := refStart + (i+1)*spd
		got, carrier := det.DecodeDuration(pcm[start:start+spd], ref)
		require.True(t, carrier, "byte %d", i)
		require.Equal(t, want, got, "byte %d", i)
	}

	_, carrier := det.DecodeDuration(pcm[len(pcm)-spd:], ref)
	assert.False(t, carrier)
}

func TestStreamDecoderLocksAfterSilence(t *testing.T) {
	p := DefaultParams()
	spd := p.SamplesPerDuration()
	frame := []byte{0xFD, 3, 'S', 'O', 'S', 0x00, 0xFF, 0x80}

	buf := audiobuf.New()
	buf.Write(silence(12345))
	buf.Write(NewEncoder(p).Encode(frame))
	buf.Write(silence(5 * spd))

	dec := NewStreamDecoder(p, buf, 4)
	dec.Drain()

	select {
	case got := <-dec.Received():
		assert.Equal(t, frame, got)
	default:
		t.Fatal("no transmission decoded")
	}
	select {
	case extra := <-dec.Received():
		t.Fatalf("unexpected extra transmission %v", extra)
	default:
	}

	stats := dec.Stats()
	assert.Equal(t, 1, stats.Locks)
	assert.Equal(t, 1, stats.Frames)
	assert.Equal(t, Searching, stats.State)
	assert.Greater(t, stats.CurrentSNR, 10.0)
}

// withNoise adds white Gaussian noise of the given deviation to unsigned 8-bit PCM.
func withNoise(pcm []byte, sigma float64, r *rand.Rand) []byte {
	out := make([]byte, len(pcm))
	for i, x := range ToFloat(pcm) {
		out[i] = ToByte(x + sigma*r.NormFloat64())
	}
	return out
}

func TestNoiseFloor(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	x := make([]float64, 13230)
	for i := range x {
		x[i] = 0.05*r.NormFloat64() + 0.1*math.Sin(2*math.Pi*3000*float64(i)/22050)
	}
	assert.InDelta(t, 0.0025, NoiseFloor(x), 0.0003)
	assert.Zero(t, NoiseFloor(make([]float64, 4410)))
}

func TestStreamDecoderLocksInNoise(t *testing.T) {
	p := DefaultParams()
	spd := p.SamplesPerDuration()
	frame := []byte{0xFD, 3, 'S', 'O', 'S', 0x00, 0xFF, 0x80}
	r := rand.New(rand.NewSource(11))

	for _, lead := range []int{0, 1, 399, 1234, 4409, 4410, 9999, 13229} {
		for _, sigma := range []float64{0.02, 0.05} {
			var line []byte
			line = append(line, silence(lead)...)
			line = append(line, NewEncoder(p).Encode(frame)...)
			line = append(line, silence(5*spd)...)

			buf := audiobuf.New()
			buf.Write(withNoise(line, sigma, r))
			dec := NewStreamDecoder(p, buf, 4)
			dec.Drain()

			require.Len(t, dec.Received(), 1, "lead %d sigma %.2f", lead, sigma)
			assert.Equal(t, frame, <-dec.Received(), "lead %d sigma %.2f", lead, sigma)
		}
	}
}

func TestStreamDecoderIgnoresNoise(t *testing.T) {
	p := DefaultParams()
	buf := audiobuf.New()
	buf.Write(withNoise(silence(20*p.SamplesPerDuration()), 0.05, rand.New(rand.NewSource(7))))

	dec := NewStreamDecoder(p, buf, 1)
	dec.Drain()
	assert.Len(t, dec.Received(), 0)
	assert.Zero(t, dec.Stats().Locks)
}

func TestStreamDecoderIgnoresSilence(t *testing.T) {
	p := DefaultParams()
	buf := audiobuf.New()
	buf.Write(silence(10 * p.SamplesPerDuration()))

	dec := NewStreamDecoder(p, buf, 1)
	dec.Drain()
	assert.Len(t, dec.Received(), 0)
	assert.Zero(t, dec.Stats().Locks)
	assert.Less(t, buf.Size(), p.HailDurations*p.SamplesPerDuration())
	assert.Positive(t, dec.Stats().DeletedSamples)
}

func TestStreamDecoderTwoTransmissions(t *testing.T) {
	p := DefaultParams()
	enc := NewEncoder(p)
	spd := p.SamplesPerDuration()

	buf := audiobuf.New()
	buf.Write(silence(777))
	buf.Write(enc.Encode([]byte("first")))
	buf.Write(silence(3 * spd))
	buf.Write(enc.Encode([]byte("second")))
	buf.Write(silence(4 * spd))

	dec := NewStreamDecoder(p, buf, 4)
	dec.Drain()
	require.Len(t, dec.Received(), 2)
	assert.Equal(t, []byte("first"), <-dec.Received())
	assert.Equal(t, []byte("second"), <-dec.Received())
}

func TestStreamDecoderMaxFrameGuard(t *testing.T) {
	p := DefaultParams()
	p.MaxFrameBytes = 4
	buf := audiobuf.New()
	buf.Write(NewEncoder(p).Encode([]byte("abcdef")))
	buf.Write(silence(4 * p.SamplesPerDuration()))

	dec := NewStreamDecoder(p, buf, 4)
	dec.Drain()
	require.NotEmpty(t, dec.Received())
	assert.Equal(t, []byte("abcd"), <-dec.Received())
	assert.Equal(t, 1, dec.Stats().Truncated)
}

func TestStreamDecoderGoroutine(t *testing.T) {
	p := DefaultParams()
	buf := audiobuf.New()
	dec := NewStreamDecoder(p, buf, 1)
	dec.Start()
	dec.Start()

	buf.Write(silence(1000))
	buf.Write(NewEncoder(p).Encode([]byte("hi")))
	buf.Write(silence(4 * p.SamplesPerDuration()))

	select {
	case got := <-dec.Received():
		assert.Equal(t, []byte("hi"), got)
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for transmission")
	}
	dec.Quit()
	dec.Quit()
	assert.False(t, dec.HasKey())
}

func TestStatus(t *testing.T) {
	p := DefaultParams()
	buf := audiobuf.New()
	dec := NewStreamDecoder(p, buf, 1)
	assert.Equal(t, "", dec.Status())

	buf.Write(silence(int(p.SampleRate)))
	assert.Equal(t, "Backlog: 1000 ms ", dec.Status())
}

func TestSpectrum(t *testing.T) {
	p := DefaultParams()
	pcm := NewEncoder(p).Encode([]byte{0})
	out := Spectrum(pcm[:p.SamplesPerDuration()], 64)
	require.Len(t, out, 64)
	assert.Nil(t, Spectrum(nil, 64))
}
