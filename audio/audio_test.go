package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrwynneiii/sonictext/audiobuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 1000, 4411} {
		var buf bytes.Buffer
		require.NoError(t, WriteWAV(&buf, ramp(n), 22050))
		assert.Zero(t, buf.Len()%2, "chunks are word aligned")

		pcm, rate, err := ReadWAV(&buf)
		require.NoError(t, err)
		assert.Equal(t, 22050, rate)
		assert.Equal(t, ramp(n), pcm)
	}
}

func TestReadWAVSixteenBitStereo(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")

	// an unknown chunk before fmt is skipped
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{1, 2, 3, 0})

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, wavFormat{
		AudioFormat: 1, NumChannels: 2, SampleRate: 48000, ByteRate: 192000, BlockAlign: 4, BitsPerSample: 16,
	})
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(12))
	binary.Write(&buf, binary.LittleEndian, []int16{-32768, 5, 0, 5, 32767, 5})

	pcm, rate, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 48000, rate)
	assert.Equal(t, []byte{0, 128, 255}, pcm)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	_, _, err := ReadWAV(bytes.NewReader([]byte("definitely not a wav file")))
	assert.ErrorIs(t, err, ErrWAVFormat)
}

func TestWAVSinkAndSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink := NewWAVSink(path, 11025)
	require.NoError(t, sink.WriteSamples(ramp(100)))
	require.NoError(t, sink.WriteSamples(ramp(50)))
	require.NoError(t, sink.Close())

	src, err := OpenWAVSource(path)
	require.NoError(t, err)
	assert.Equal(t, 11025, src.SampleRate)

	var got []byte
	chunk := make([]byte, 64)
	for {
		n, err := src.ReadSamples(chunk)
		got = append(got, chunk[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, append(ramp(100), ramp(50)...), got)
}

func TestLoopback(t *testing.T) {
	l := NewLoopback()
	l.Wait = time.Millisecond

	buf := make([]byte, 4)
	n, err := l.ReadSamples(buf)
	require.NoError(t, err)
	assert.Zero(t, n, "empty loopback times out quietly")

	require.NoError(t, l.WriteSamples([]byte{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, 6, l.Pending())
	n, err = l.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])

	require.NoError(t, l.Close())
	n, err = l.ReadSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, buf[:n], "queued samples drain before EOF")
	_, err = l.ReadSamples(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, l.WriteSamples([]byte{1}), ErrClosed)
}

func TestCaptureCopiesSourceIntoBuffer(t *testing.T) {
	buf := audiobuf.New()
	c := NewCapture(NewWAVSource(ramp(5000), 22050), buf, nil, 512)
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, ramp(5000), buf.Read(5000))
	assert.Equal(t, int64(5000), c.Captured)
}

func TestCaptureStopsOnCancel(t *testing.T) {
	l := NewLoopback()
	buf := audiobuf.New()
	c := NewCapture(l, buf, nil, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.NoError(t, l.WriteSamples(ramp(10)))
	require.Eventually(t, func() bool { return buf.Size() == 10 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not stop")
	}
}

func TestFloatConversion(t *testing.T) {
	pcm := make([]byte, 3)
	FloatToPCM(pcm, []float32{-1, 0, 1})
	assert.Equal(t, []byte{0, 128, 255}, pcm)

	f := make([]float32, 2)
	PCMToFloat(f, []byte{0, 192})
	assert.Equal(t, []float32{-1, 0.5}, f)
}
