// Package session is the half-duplex text link: it frames and plays outgoing messages and listens for,
// parses and accumulates incoming ones.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/audio"
	"github.com/jrwynneiii/sonictext/audiobuf"
	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"golang.org/x/text/encoding/charmap"
)

var (
	ErrEncodingFailure = errors.New("encoding failure")
	ErrNoSource        = errors.New("session: no audio source to listen on")
	ErrNoSink          = errors.New("session: no audio sink to play to")
)

const (
	NoticeCorrupt      = "[corrupt frame]"
	NoticeUnrepairable = "[unrepairable frame]"
)

// Message is one received transmission, or the notice that replaced it.
type Message struct {
	Text     string
	Notice   bool
	Err      error
	Stats    frame.Stats
	Received time.Time
}

// Recorder receives link events, typically for metrics.
type Recorder interface {
	FrameSent(stats frame.Stats, playTime time.Duration)
	FrameReceived(stats frame.Stats, err error)
	EncodingFailure()
}

type Options struct {
	Params    modem.Params
	Frame     frame.Config
	Source    audio.Source
	Sink      audio.Sink
	QueueSize int
	ChunkSize int
	// PrefilterCutoff enables a low-pass on captured audio when positive.
	PrefilterCutoff float64
	PrefilterWidth  float64
	Spectrum        bool
	Recorder        Recorder
	OnMessage       func(Message)
}

type Session struct {
	opts    Options
	encoder *modem.Encoder

	configMutex sync.RWMutex
	config      frame.Config

	textMutex sync.Mutex
	text      strings.Builder

	listenMutex   sync.Mutex
	decoder       *modem.StreamDecoder
	captureCancel context.CancelFunc
	listenWG      sync.WaitGroup

	playing   atomic.Bool
	playTimer *time.Timer
	playMutex sync.Mutex
	sendMutex sync.Mutex
	sendWG    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) (*Session, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:    opts,
		encoder: modem.NewEncoder(opts.Params),
		config:  opts.Frame,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *Session) SetUseCompression(v bool) {
	s.configMutex.Lock()
	defer s.configMutex.Unlock()
	s.config.UseCompression = v
}

func (s *Session) SetUseChecksum(v bool) {
	s.configMutex.Lock()
	defer s.configMutex.Unlock()
	s.config.UseChecksum = v
}

func (s *Session) SetUseFEC(v bool) {
	s.configMutex.Lock()
	defer s.configMutex.Unlock()
	s.config.UseFEC = v
}

// Config is a snapshot of the current frame configuration.
func (s *Session) Config() frame.Config {
	s.configMutex.RLock()
	defer s.configMutex.RUnlock()
	return s.config
}

// Send stops listening, frames and encodes text and starts playing it in the background. It returns
// the expected play time in milliseconds. Playback stops early when ctx is cancelled or the session
// is closed. Playback errors are logged and counted; they surface as ErrEncodingFailure in the log.
func (s *Session) Send(ctx context.Context, text string) (int64, error) {
	if s.opts.Sink == nil {
		return 0, ErrNoSink
	}
	s.StopListening()

	data, stats, err := frame.Build([]byte(text), s.Config())
	if err != nil {
		return 0, err
	}
	pcm := s.encoder.Encode(data)
	playTime := s.encoder.PlayDuration(len(data))
	log.Infof("[session] sending %d byte frame, %s of audio", len(data), playTime)

	s.markPlaying()
	if s.opts.Recorder != nil {
		s.opts.Recorder.FrameSent(stats, playTime)
	}

	playCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	s.sendWG.Add(1)
	go func() {
		defer s.sendWG.Done()
		defer stop()
		defer cancel()
		if err := s.play(playCtx, pcm, playTime); err != nil {
			log.Errorf("[session] %v", err)
			s.clearPlaying()
			if s.opts.Recorder != nil {
				s.opts.Recorder.EncodingFailure()
			}
		}
	}()
	return playTime.Milliseconds(), nil
}

// play writes pcm once earlier playbacks are done. The playing flag runs for playTime from then on.
func (s *Session) play(ctx context.Context, pcm []byte, playTime time.Duration) error {
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()
	if ctx.Err() == nil {
		s.startPlayTimer(playTime)
	}
	chunk := s.opts.Params.SamplesPerDuration()
	for len(pcm) > 0 {
		if err := ctx.Err(); err != nil {
			log.Infof("[session] playback cancelled")
			s.clearPlaying()
			return nil
		}
		n := min(chunk, len(pcm))
		if err := s.opts.Sink.WriteSamples(pcm[:n]); err != nil {
			return fmt.Errorf("%w: %v", ErrEncodingFailure, err)
		}
		pcm = pcm[n:]
	}
	return nil
}

// markPlaying raises the playing flag for a queued playback. Any running timer belongs to an earlier
// playback and must not clear the flag under it.
func (s *Session) markPlaying() {
	s.playMutex.Lock()
	defer s.playMutex.Unlock()
	if s.playTimer != nil {
		s.playTimer.Stop()
	}
	s.playing.Store(true)
}

func (s *Session) startPlayTimer(d time.Duration) {
	s.playMutex.Lock()
	defer s.playMutex.Unlock()
	if s.playTimer != nil {
		s.playTimer.Stop()
	}
	s.playing.Store(true)
	s.playTimer = time.AfterFunc(d, func() { s.playing.Store(false) })
}

func (s *Session) clearPlaying() {
	s.playMutex.Lock()
	defer s.playMutex.Unlock()
	if s.playTimer != nil {
		s.playTimer.Stop()
	}
	s.playing.Store(false)
}

// Wait blocks until every started playback has finished writing to the sink.
func (s *Session) Wait() {
	s.sendWG.Wait()
}

func (s *Session) IsPlaying() bool {
	return s.playing.Load()
}

// Listen starts capturing and decoding. Received text is reset.
func (s *Session) Listen() error {
	if s.opts.Source == nil {
		return ErrNoSource
	}
	s.listenMutex.Lock()
	defer s.listenMutex.Unlock()
	if s.decoder != nil {
		return nil
	}
	s.resetText()

	buf := audiobuf.New()
	dec := modem.NewStreamDecoder(s.opts.Params, buf, s.opts.QueueSize)
	dec.DoFFT = s.opts.Spectrum

	var filter *audio.Prefilter
	if s.opts.PrefilterCutoff > 0 {
		filter = audio.NewPrefilter(s.opts.Params.SampleRate, s.opts.PrefilterCutoff, s.opts.PrefilterWidth)
	}
	capture := audio.NewCapture(s.opts.Source, buf, filter, s.opts.ChunkSize)

	ctx, cancel := context.WithCancel(s.ctx)
	s.listenWG.Add(2)
	go func() {
		defer s.listenWG.Done()
		if err := capture.Start(ctx); err != nil {
			log.Errorf("[session] capture stopped: %v", err)
		}
	}()
	go func() {
		defer s.listenWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-dec.Received():
				s.Receive(data)
			}
		}
	}()
	dec.Start()

	s.decoder = dec
	s.captureCancel = cancel
	log.Infof("[session] listening")
	return nil
}

// StopListening stops capture and waits for the decoder to exit. It is a no-op when not listening.
func (s *Session) StopListening() {
	s.listenMutex.Lock()
	defer s.listenMutex.Unlock()
	if s.decoder == nil {
		return
	}
	s.captureCancel()
	s.decoder.Quit()
	s.listenWG.Wait()
	s.decoder = nil
	s.captureCancel = nil
	s.resetText()
	log.Infof("[session] stopped listening")
}

func (s *Session) IsListening() bool {
	s.listenMutex.Lock()
	defer s.listenMutex.Unlock()
	return s.decoder != nil
}

// Decoder is the active stream decoder, nil when not listening.
func (s *Session) Decoder() *modem.StreamDecoder {
	s.listenMutex.Lock()
	defer s.listenMutex.Unlock()
	return s.decoder
}

// Receive parses one received transmission and appends its text, or a notice, to the received text.
func (s *Session) Receive(data []byte) {
	payload, stats, err := frame.Parse(data, s.Config())
	msg := Message{Stats: stats, Err: err, Received: time.Now()}
	switch {
	case errors.Is(err, frame.ErrUnrepairableFrame):
		msg.Text, msg.Notice = NoticeUnrepairable, true
	case err != nil:
		msg.Text, msg.Notice = NoticeCorrupt, true
	default:
		msg.Text = decodeText(payload)
	}
	if err != nil {
		log.Warnf("[session] dropped %d received bytes: %v", len(data), err)
	} else {
		log.Infof("[session] received %q", msg.Text)
	}

	s.textMutex.Lock()
	s.text.WriteString(msg.Text)
	s.text.WriteByte('\n')
	s.textMutex.Unlock()

	if s.opts.Recorder != nil {
		s.opts.Recorder.FrameReceived(stats, err)
	}
	if s.opts.OnMessage != nil {
		s.opts.OnMessage(msg)
	}
}

// decodeText reads UTF-8, falling back to ISO-8859-1 for payloads that are not valid UTF-8.
func decodeText(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(payload)
	if err != nil {
		return string(payload)
	}
	return string(out)
}

func (s *Session) resetText() {
	s.textMutex.Lock()
	defer s.textMutex.Unlock()
	s.text.Reset()
}

func (s *Session) ReceivedText() string {
	s.textMutex.Lock()
	defer s.textMutex.Unlock()
	return s.text.String()
}

func (s *Session) Status() string {
	var sb strings.Builder
	if dec := s.Decoder(); dec != nil {
		sb.WriteString("Listening ")
		sb.WriteString(dec.Status())
	}
	if s.IsPlaying() {
		sb.WriteString("Playing ")
	}
	return strings.TrimSpace(sb.String())
}

// Close cancels playback in flight and stops listening.
func (s *Session) Close() {
	s.cancel()
	s.StopListening()
	s.Wait()
	s.clearPlaying()
}
