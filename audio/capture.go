package audio

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/audiobuf"
	"github.com/racerxdl/segdsp/dsp"
)

// Prefilter is a low-pass FIR run over captured audio ahead of the tone detector.
type Prefilter struct {
	fir *dsp.FirFilter
}

func NewPrefilter(sampleRate, cutoff, transitionWidth float64) *Prefilter {
	taps := dsp.MakeLowPass(1, sampleRate, cutoff, transitionWidth)
	log.Debugf("[audio] prefilter with %d taps, cutoff %.0f Hz", len(taps), cutoff)
	return &Prefilter{fir: dsp.MakeFirFilter(taps)}
}

func (p *Prefilter) Work(pcm []byte) []byte {
	input := make([]complex64, len(pcm))
	for i, b := range pcm {
		input[i] = complex(float32(int(b)-byteShift)/byteShift, 0)
	}
	filtered := p.fir.Work(input)

	out := make([]byte, len(filtered))
	real32 := make([]float32, len(filtered))
	for i, c := range filtered {
		real32[i] = real(c)
	}
	FloatToPCM(out, real32)
	return out
}

// Capture pumps samples from a Source into the buffer the stream decoder consumes.
type Capture struct {
	Source    Source
	Buffer    *audiobuf.Buffer
	Filter    *Prefilter
	ChunkSize int
	Captured  int64
}

func NewCapture(src Source, buf *audiobuf.Buffer, filter *Prefilter, chunkSize int) *Capture {
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	return &Capture{Source: src, Buffer: buf, Filter: filter, ChunkSize: chunkSize}
}

// Start reads until ctx is cancelled or the source ends. Reaching the end of a finite source is not
// an error.
func (c *Capture) Start(ctx context.Context) error {
	chunk := make([]byte, c.ChunkSize)
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			c.flush(buf)
			return nil
		default:
		}

		n, err := c.Source.ReadSamples(chunk)
		buf = append(buf, chunk[:n]...)
		// idle reads flush the partial chunk
		if len(buf) >= c.ChunkSize || n == 0 {
			c.flush(buf)
			buf = buf[:0]
		}

		if errors.Is(err, io.EOF) {
			c.flush(buf)
			log.Infof("[audio] capture source finished after %d samples", c.Captured)
			return nil
		}
		if err != nil {
			c.flush(buf)
			return err
		}
	}
}

func (c *Capture) flush(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if c.Filter != nil {
		buf = c.Filter.Work(buf)
	}
	c.Buffer.Write(buf)
	c.Captured += int64(len(buf))
}
