// Package portaudio drives a sound card through PortAudio blocking streams.
package portaudio

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"github.com/jrwynneiii/sonictext/audio"
)

type DeviceInfo struct {
	Index           int
	Name            string
	MaxInputs       int
	MaxOutputs      int
	SampleRate      float64
	IsDefaultInput  bool
	IsDefaultOutput bool
}

// Devices lists the sound devices PortAudio can see.
func Devices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get device list: %w", err)
	}
	var defaultIn, defaultOut string
	if d, err := portaudio.DefaultInputDevice(); err == nil && d != nil {
		defaultIn = d.Name
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil && d != nil {
		defaultOut = d.Name
	}

	out := make([]DeviceInfo, 0, len(devices))
	for i, d := range devices {
		out = append(out, DeviceInfo{
			Index:           i,
			Name:            d.Name,
			MaxInputs:       d.MaxInputChannels,
			MaxOutputs:      d.MaxOutputChannels,
			SampleRate:      d.DefaultSampleRate,
			IsDefaultInput:  d.Name == defaultIn,
			IsDefaultOutput: d.Name == defaultOut,
		})
	}
	return out, nil
}

// Device is a mono capture stream and a mono playback stream on the default sound card.
type Device struct {
	input  *portaudio.Stream
	output *portaudio.Stream
	inBuf  []float32
	outBuf []float32

	readMutex  sync.Mutex
	pending    []byte
	writeMutex sync.Mutex
}

func Open(sampleRate float64, framesPerBuffer int) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	d := &Device{
		inBuf:  make([]float32, framesPerBuffer),
		outBuf: make([]float32, framesPerBuffer),
	}

	var err error
	d.input, err = portaudio.OpenDefaultStream(1, 0, sampleRate, framesPerBuffer, d.inBuf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}
	d.output, err = portaudio.OpenDefaultStream(0, 1, sampleRate, framesPerBuffer, d.outBuf)
	if err != nil {
		d.input.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open playback stream: %w", err)
	}
	if err := d.input.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start capture stream: %w", err)
	}
	if err := d.output.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start playback stream: %w", err)
	}
	log.Infof("[audio] PortAudio streams open at %.0f Hz, %d frames per buffer", sampleRate, framesPerBuffer)
	return d, nil
}

func (d *Device) ReadSamples(buf []byte) (int, error) {
	d.readMutex.Lock()
	defer d.readMutex.Unlock()
	if len(d.pending) == 0 {
		if err := d.input.Read(); err != nil {
			if err != portaudio.InputOverflowed {
				return 0, fmt.Errorf("%w: %v", audio.ErrClosed, err)
			}
			log.Warnf("[audio] capture overflow")
		}
		pcm := make([]byte, len(d.inBuf))
		audio.FloatToPCM(pcm, d.inBuf)
		d.pending = pcm
	}
	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *Device) WriteSamples(pcm []byte) error {
	d.writeMutex.Lock()
	defer d.writeMutex.Unlock()
	for len(pcm) > 0 {
		n := min(len(pcm), len(d.outBuf))
		audio.PCMToFloat(d.outBuf, pcm[:n])
		clear(d.outBuf[n:])
		if err := d.output.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("playback failed: %w", err)
		}
		pcm = pcm[n:]
	}
	return nil
}

func (d *Device) Close() error {
	var firstErr error
	for _, s := range []*portaudio.Stream{d.input, d.output} {
		if s == nil {
			continue
		}
		s.Stop()
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
