package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrWAVFormat = errors.New("audio: unsupported WAV file")

// wavHeader is the canonical 44 byte PCM header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// WriteWAV writes mono unsigned 8-bit PCM as a WAV file.
func WriteWAV(w io.Writer, pcm []byte, sampleRate int) error {
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm) + len(pcm)%2),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate),
		BlockAlign:    1,
		BitsPerSample: 8,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	if len(pcm)%2 == 1 {
		_, err := w.Write([]byte{0})
		return err
	}
	return nil
}

// ReadWAV reads a PCM WAV file and returns its first channel as unsigned 8-bit samples. 8 and 16 bit
// files are accepted.
func ReadWAV(r io.Reader) ([]byte, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrWAVFormat, err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrWAVFormat)
	}

	var format *wavFormat
	for {
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, 0, fmt.Errorf("%w: no data chunk", ErrWAVFormat)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrWAVFormat, err)
		}

		switch string(id[:]) {
		case "fmt ":
			chunk := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, chunk); err != nil || size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrWAVFormat)
			}
			format = &wavFormat{}
			if err := binary.Read(bytes.NewReader(chunk[:16]), binary.LittleEndian, format); err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrWAVFormat, err)
			}
		case "data":
			if format == nil {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrWAVFormat)
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, fmt.Errorf("%w: %v", ErrWAVFormat, err)
			}
			pcm, err := toUnsigned8(data[:n], format)
			return pcm, int(format.SampleRate), err
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrWAVFormat, err)
			}
		}
	}
}

func toUnsigned8(data []byte, f *wavFormat) ([]byte, error) {
	if f.AudioFormat != 1 || f.NumChannels == 0 {
		return nil, fmt.Errorf("%w: format %d with %d channels", ErrWAVFormat, f.AudioFormat, f.NumChannels)
	}
	frame := int(f.NumChannels) * int(f.BitsPerSample/8)
	if frame == 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrWAVFormat, f.BitsPerSample)
	}
	out := make([]byte, len(data)/frame)
	for i := range out {
		s := data[i*frame:]
		switch f.BitsPerSample {
		case 8:
			out[i] = s[0]
		case 16:
			out[i] = byte(int(int16(binary.LittleEndian.Uint16(s))>>8) + byteShift)
		default:
			return nil, fmt.Errorf("%w: %d bits per sample", ErrWAVFormat, f.BitsPerSample)
		}
	}
	return out, nil
}

// WAVSink collects played samples and writes them out as a WAV file on Close.
type WAVSink struct {
	path       string
	sampleRate int
	data       []byte
}

func NewWAVSink(path string, sampleRate int) *WAVSink {
	return &WAVSink{path: path, sampleRate: sampleRate}
}

func (w *WAVSink) WriteSamples(pcm []byte) error {
	w.data = append(w.data, pcm...)
	return nil
}

func (w *WAVSink) Close() error {
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := WriteWAV(file, w.data, w.sampleRate); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WAVSource replays a WAV file once and then reports io.EOF.
type WAVSource struct {
	SampleRate int
	data       []byte
	pos        int
}

func OpenWAVSource(path string) (*WAVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	pcm, rate, err := ReadWAV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &WAVSource{SampleRate: rate, data: pcm}, nil
}

func NewWAVSource(pcm []byte, sampleRate int) *WAVSource {
	return &WAVSource{SampleRate: sampleRate, data: pcm}
}

func (w *WAVSource) ReadSamples(buf []byte) (int, error) {
	if w.pos >= len(w.data) {
		return 0, io.EOF
	}
	n := copy(buf, w.data[w.pos:])
	w.pos += n
	return n, nil
}
