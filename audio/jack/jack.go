// Package jack connects the modem to a JACK server through one input and one output port.
package jack

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/audio"
	"github.com/xthexder/go-jack"
)

var ErrNoServer = errors.New("jack: could not connect to server")

type Conf struct {
	ClientName   string
	CapturePort  string
	PlaybackPort string
	QueueSize    int
}

type Client struct {
	client   *jack.Client
	inPort   *jack.Port
	outPort  *jack.Port
	capture  chan jack.AudioSample
	playback chan jack.AudioSample
	rate     uint32
}

func Open(conf Conf) (*Client, error) {
	client, status := jack.ClientOpen(conf.ClientName, jack.NoStartServer)
	if client == nil {
		return nil, fmt.Errorf("%w: status %d", ErrNoServer, status)
	}
	queue := max(conf.QueueSize, 4096)
	c := &Client{
		client:   client,
		capture:  make(chan jack.AudioSample, queue),
		playback: make(chan jack.AudioSample, queue),
		rate:     client.GetSampleRate(),
	}
	c.inPort = client.PortRegister("input", jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
	c.outPort = client.PortRegister("output", jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)

	if code := client.SetProcessCallback(c.process); code != 0 {
		client.Close()
		return nil, fmt.Errorf("jack: failed to set process callback (%d)", code)
	}
	if code := client.Activate(); code != 0 {
		client.Close()
		return nil, fmt.Errorf("jack: failed to activate client (%d)", code)
	}

	if conf.CapturePort != "" {
		if p := client.GetPortByName(conf.CapturePort); p != nil {
			client.ConnectPorts(p, c.inPort)
		} else {
			log.Warnf("[audio] jack port %s not found", conf.CapturePort)
		}
	}
	if conf.PlaybackPort != "" {
		if p := client.GetPortByName(conf.PlaybackPort); p != nil {
			client.ConnectPorts(c.outPort, p)
		} else {
			log.Warnf("[audio] jack port %s not found", conf.PlaybackPort)
		}
	}
	log.Infof("[audio] jack client %s active at %d Hz", conf.ClientName, c.rate)
	return c, nil
}

func (c *Client) SampleRate() uint32 {
	return c.rate
}

func (c *Client) process(nframes uint32) int {
	inBuffer := c.inPort.GetBuffer(nframes)
	outBuffer := c.outPort.GetBuffer(nframes)

	for i := range outBuffer {
		select {
		case sample := <-c.playback:
			outBuffer[i] = sample
		default:
			outBuffer[i] = 0
		}
	}
	for _, sample := range inBuffer {
		select {
		case c.capture <- sample:
		default:
			// decoder fell behind
		}
	}
	return 0
}

func (c *Client) ReadSamples(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	floats := make([]float32, 0, len(buf))
	select {
	case s := <-c.capture:
		floats = append(floats, float32(s))
	case <-time.After(50 * time.Millisecond):
		return 0, nil
	}
drain:
	for len(floats) < len(buf) {
		select {
		case s := <-c.capture:
			floats = append(floats, float32(s))
		default:
			break drain
		}
	}
	audio.FloatToPCM(buf, floats)
	return len(floats), nil
}

// WriteSamples queues the samples and waits for the process callback to play them.
func (c *Client) WriteSamples(pcm []byte) error {
	floats := make([]float32, len(pcm))
	audio.PCMToFloat(floats, pcm)
	for _, s := range floats {
		c.playback <- jack.AudioSample(s)
	}
	for len(c.playback) > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (c *Client) Close() error {
	if code := c.client.Close(); code != 0 {
		return fmt.Errorf("jack: close failed (%d)", code)
	}
	return nil
}
