// Package audio moves unsigned 8-bit PCM between the modem and whatever plays or records it: sound
// cards, a JACK graph, WAV files or an in-memory loopback.
package audio

import (
	"errors"
)

var ErrClosed = errors.New("audio: device closed")

// Source produces captured samples. ReadSamples may return 0 samples with a nil error when nothing
// arrived in time; io.EOF marks the end of a finite source.
type Source interface {
	ReadSamples(buf []byte) (int, error)
}

// Sink plays samples. WriteSamples blocks until the samples are handed to the device.
type Sink interface {
	WriteSamples(pcm []byte) error
}

type Device interface {
	Source
	Sink
	Close() error
}

const byteShift = 128

// FloatToPCM quantizes float samples in [-1, 1] into dst, which must be at least len(src) long.
func FloatToPCM(dst []byte, src []float32) {
	for i, s := range src {
		v := int(s*byteShift) + byteShift
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		dst[i] = byte(v)
	}
}

// PCMToFloat expands unsigned 8-bit samples into dst, which must be at least len(src) long.
func PCMToFloat(dst []float32, src []byte) {
	for i, b := range src {
		dst[i] = float32(int(b)-byteShift) / byteShift
	}
}
