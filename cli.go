package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/audio"
	"github.com/jrwynneiii/sonictext/audio/portaudio"
	"github.com/jrwynneiii/sonictext/audiobuf"
	"github.com/jrwynneiii/sonictext/metrics"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/jrwynneiii/sonictext/relay"
	"github.com/jrwynneiii/sonictext/session"
	"github.com/jrwynneiii/sonictext/tui"
)

var cli struct {
	Verbose bool   `help:"Prints debug output by default"`
	Profile bool   `help:"Output a pprof profile"`
	Config  string `help:"Use this config file instead of searching the default locations" type:"path"`
	Probe   struct {
	} `cmd:"" help:"List the available sound devices"`
	Send struct {
		Text []string `arg:"" help:"Message to transmit"`
	} `cmd:"" help:"Transmit one message and exit"`
	Listen struct {
	} `cmd:"" help:"Print received messages until interrupted"`
	Chat struct {
	} `cmd:"" help:"Starts the TUI"`
	Encode struct {
		Out  string   `short:"o" default:"message.wav" help:"WAV file to write"`
		Text []string `arg:"" help:"Message to encode"`
	} `cmd:"" help:"Write a message to a WAV file instead of playing it"`
	Decode struct {
		File string `arg:"" type:"existingfile" help:"WAV file to decode"`
	} `cmd:"" help:"Decode every message in a WAV file"`
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func (r runner) sessionOptions(src audio.Source, sink audio.Sink, collector *metrics.Collector) session.Options {
	opts := session.Options{
		Params:    r.params,
		Frame:     r.frame,
		Source:    src,
		Sink:      sink,
		QueueSize: r.conf.Modem.QueueSize,
		ChunkSize: r.conf.Audio.ChunkSize,
		Spectrum:  r.conf.Modem.DoFFT,
	}
	if r.conf.Audio.Prefilter {
		opts.PrefilterCutoff = r.conf.Audio.PrefilterCutoff
		opts.PrefilterWidth = r.conf.Audio.PrefilterWidth
	}
	if collector != nil {
		opts.Recorder = collector
	}
	return opts
}

func (r runner) connectRelay() (*relay.Publisher, error) {
	if !r.conf.Relay.Enabled {
		return nil, nil
	}
	return relay.Connect(relay.Conf{
		Broker:    r.conf.Relay.Broker,
		ClientID:  r.conf.Relay.ClientID,
		Username:  r.conf.Relay.Username,
		Password:  r.conf.Relay.Password,
		Topic:     r.conf.Relay.Topic,
		SendTopic: r.conf.Relay.SendTopic,
		QoS:       byte(r.conf.Relay.QoS),
		Retain:    r.conf.Relay.Retain,
		Station:   r.conf.Relay.Station,
	})
}

// waitForPlayback returns once the session has finished playing or ctx is done.
func waitForPlayback(ctx context.Context, sess *session.Session) {
	sess.Wait()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for sess.IsPlaying() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// transmit sends text and goes back to listening afterwards.
func transmit(ctx context.Context, sess *session.Session, text string) {
	if _, err := sess.Send(ctx, text); err != nil {
		log.Errorf("Could not send message: %v", err)
	} else {
		waitForPlayback(ctx, sess)
	}
	if ctx.Err() != nil {
		return
	}
	if err := sess.Listen(); err != nil {
		log.Errorf("Could not resume listening: %v", err)
	}
}

func (r runner) probe() error {
	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	log.Infof("Found %d sound devices", len(devices))
	for _, d := range devices {
		var tags []string
		if d.IsDefaultInput {
			tags = append(tags, "default input")
		}
		if d.IsDefaultOutput {
			tags = append(tags, "default output")
		}
		log.Infof("[%d] %s: %d in / %d out, %.0f Hz %s", d.Index, d.Name, d.MaxInputs, d.MaxOutputs, d.SampleRate, strings.Join(tags, ", "))
	}
	return nil
}

func (r runner) send(ctx context.Context, text string) error {
	dev, err := openDevice(r.conf, r.params)
	if err != nil {
		return err
	}
	defer dev.Close()

	sess, err := session.New(r.sessionOptions(nil, dev, startMetrics(ctx, r.conf.Metrics)))
	if err != nil {
		return err
	}
	defer sess.Close()

	ms, err := sess.Send(ctx, text)
	if err != nil {
		return err
	}
	log.Infof("Transmitting %d ms of audio", ms)
	waitForPlayback(ctx, sess)
	return nil
}

func (r runner) listen(ctx context.Context) error {
	dev, err := openDevice(r.conf, r.params)
	if err != nil {
		return err
	}
	defer dev.Close()

	collector := startMetrics(ctx, r.conf.Metrics)
	pub, err := r.connectRelay()
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	opts := r.sessionOptions(dev, dev, collector)
	opts.OnMessage = func(m session.Message) {
		fmt.Printf("%s %s\n", m.Received.Format(time.TimeOnly), m.Text)
		if pub != nil {
			pub.Handle(m)
		}
	}
	sess, err := session.New(opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	if pub != nil {
		var sendMutex sync.Mutex
		err := pub.Subscribe(func(text string) {
			go func() {
				sendMutex.Lock()
				defer sendMutex.Unlock()
				transmit(ctx, sess, text)
			}()
		})
		if err != nil {
			return err
		}
	}

	if err := sess.Listen(); err != nil {
		return err
	}
	log.Infof("Listening at %.0f Hz, press Ctrl-C to stop", r.params.SampleRate)

	scrape := r.conf.Metrics.Scrape
	if scrape <= 0 {
		scrape = time.Second
	}
	ticker := time.NewTicker(scrape)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if dec := sess.Decoder(); dec != nil && collector != nil {
				collector.ObserveDecoder(dec.Stats(), dec.Backlog())
			}
		}
	}
}

func (r runner) chat(ctx context.Context) error {
	dev, err := openDevice(r.conf, r.params)
	if err != nil {
		return err
	}
	defer dev.Close()

	collector := startMetrics(ctx, r.conf.Metrics)
	pub, err := r.connectRelay()
	if err != nil {
		return err
	}
	opts := r.sessionOptions(dev, dev, collector)
	if pub != nil {
		defer pub.Close()
		opts.OnMessage = pub.Handle
	}
	sess, err := session.New(opts)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.Listen(); err != nil {
		return err
	}

	var observe tui.Observer
	if collector != nil {
		observe = collector.ObserveDecoder
	}
	tui.StartUI(ctx, sess, r.params, r.conf.Tui, observe)
	return nil
}

func (r runner) encode(ctx context.Context, text, out string) error {
	sink := audio.NewWAVSink(out, int(r.params.SampleRate))
	sess, err := session.New(r.sessionOptions(nil, sink, nil))
	if err != nil {
		return err
	}
	defer sess.Close()

	ms, err := sess.Send(ctx, text)
	if err != nil {
		return err
	}
	sess.Wait()
	if err := sink.Close(); err != nil {
		return err
	}
	log.Infof("Wrote %d ms of audio to %s", ms, out)
	return nil
}

func (r runner) decode(ctx context.Context, path string) error {
	src, err := audio.OpenWAVSource(path)
	if err != nil {
		return err
	}
	if float64(src.SampleRate) != r.params.SampleRate {
		return fmt.Errorf("%s is sampled at %d Hz but the modem is configured for %.0f Hz", path, src.SampleRate, r.params.SampleRate)
	}

	var filter *audio.Prefilter
	if r.conf.Audio.Prefilter {
		filter = audio.NewPrefilter(r.params.SampleRate, r.conf.Audio.PrefilterCutoff, r.conf.Audio.PrefilterWidth)
	}
	buf := audiobuf.New()
	if err := audio.NewCapture(src, buf, filter, r.conf.Audio.ChunkSize).Start(ctx); err != nil {
		return err
	}
	// a transmission running to the end of the file still needs its closing silence
	tail := make([]byte, 2*r.params.SamplesPerDuration())
	for i := range tail {
		tail[i] = modem.FloatToByteShift
	}
	buf.Write(tail)

	found := 0
	opts := r.sessionOptions(nil, nil, nil)
	opts.OnMessage = func(m session.Message) {
		found++
		fmt.Println(m.Text)
	}
	sess, err := session.New(opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	dec := modem.NewStreamDecoder(r.params, buf, r.conf.Modem.QueueSize)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case data := <-dec.Received():
				sess.Receive(data)
			case <-done:
				for {
					select {
					case data := <-dec.Received():
						sess.Receive(data)
					default:
						return
					}
				}
			}
		}
	}()
	dec.Drain()
	close(done)
	wg.Wait()

	if found == 0 {
		log.Warnf("No transmissions found in %s", path)
	}
	return nil
}
