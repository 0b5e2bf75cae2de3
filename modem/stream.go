package modem

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/audiobuf"
)

type State int

const (
	Searching State = iota
	Refining
	Demodulating
)

func (s State) String() string {
	switch s {
	case Refining:
		return "refining"
	case Demodulating:
		return "demodulating"
	default:
		return "searching"
	}
}

// Stats is a snapshot of the decoder's lock and signal quality counters.
type Stats struct {
	State          State
	Locks          int
	FalseLocks     int
	Frames         int
	Truncated      int
	Dropped        int
	LastKeyScore   float64
	Strengths      KeyStrengths
	CurrentSNR     float64
	PeakSNR        float64
	DeletedSamples int64
}

// StreamDecoder is the sole consumer of an audio buffer. It looks for the hail tone, locks onto it and
// demodulates durations until the carrier stops, then posts the bytes it collected on Received.
type StreamDecoder struct {
	Buffer     *audiobuf.Buffer
	CurrentFFT []float64
	DoFFT      bool
	FFTMutex   sync.RWMutex

	params   Params
	detector *Detector
	encoder  *Encoder
	spd      int
	received chan []byte

	runMutex sync.Mutex
	running  bool
	done     chan struct{}

	statsMutex sync.RWMutex
	stats      Stats
	snr        *SNRCalc
	fftWorking bool

	ref     KeyStrengths
	pending []byte
}

func NewStreamDecoder(p Params, buf *audiobuf.Buffer, queueSize int) *StreamDecoder {
	if buf == nil {
		buf = audiobuf.New()
	}
	return &StreamDecoder{
		Buffer:   buf,
		params:   p,
		detector: NewDetector(p),
		encoder:  NewEncoder(p),
		spd:      p.SamplesPerDuration(),
		received: make(chan []byte, max(queueSize, 1)),
		snr:      NewSNRCalc(),
	}
}

// Received delivers one byte slice per detected transmission.
func (s *StreamDecoder) Received() <-chan []byte {
	return s.received
}

func (s *StreamDecoder) Start() {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	go s.run(s.done)
}

// Quit stops the decoding loop and waits for it to exit. It is safe to call when not running.
func (s *StreamDecoder) Quit() {
	s.runMutex.Lock()
	if !s.running {
		s.runMutex.Unlock()
		return
	}
	s.running = false
	done := s.done
	s.runMutex.Unlock()
	<-done
}

func (s *StreamDecoder) isRunning() bool {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	return s.running
}

func (s *StreamDecoder) run(done chan struct{}) {
	defer close(done)
	log.Infof("[modem] stream decoder started")
	for s.isRunning() {
		if !s.Step() {
			// give the capture side a chance to keep up
			time.Sleep(10 * time.Millisecond)
		}
	}
	s.reset()
	log.Infof("[modem] stream decoder stopped")
}

// Step advances the state machine by at most one unit of work and reports whether it consumed
// anything. It must only be called from one goroutine at a time.
func (s *StreamDecoder) Step() bool {
	switch s.State() {
	case Refining:
		return s.refine()
	case Demodulating:
		return s.demodulate()
	default:
		return s.search()
	}
}

// Drain runs the state machine until the buffer no longer holds enough samples to make progress.
func (s *StreamDecoder) Drain() {
	for s.Step() {
	}
}

func (s *StreamDecoder) search() bool {
	samples := s.Buffer.Read(s.params.HailDurations * s.spd)
	if samples == nil {
		return false
	}
	s.spectrum(samples)
	start := s.detector.FindKeyCoarse(samples, s.params.CoarseGranularity)
	if start < 0 {
		s.discard(s.spd)
		return true
	}
	rough := max(start-s.spd, 0)
	log.Debugf("[modem] rough key start at %d", s.deleted()+int64(start))
	s.discard(rough)
	s.setState(Searching, Refining)
	return true
}

func (s *StreamDecoder) refine() bool {
	hail := s.params.HailDurations
	samples := s.Buffer.Read((hail + 3) * s.spd)
	if samples == nil {
		return false
	}
	offset, score := s.detector.FindKeyFine(samples, s.params.FineGranularity, 2*s.spd)
	if offset < 0 || score < s.params.KeyThreshold {
		log.Debugf("[modem] key rejected with score %.3f", score)
		s.statsMutex.Lock()
		s.stats.FalseLocks++
		s.stats.LastKeyScore = score
		s.statsMutex.Unlock()
		s.discard(s.spd)
		s.setState(Refining, Searching)
		return true
	}

	refStart := offset + hail*s.spd
	s.ref = s.detector.KeySignalStrengths(samples[refStart : refStart+s.spd])
	s.pending = s.pending[:0]
	log.Infof("[modem] found key sequence at %d (score %.3f)", s.deleted()+int64(offset), score)

	s.statsMutex.Lock()
	s.stats.Locks++
	s.stats.LastKeyScore = score
	s.stats.Strengths = s.ref
	s.statsMutex.Unlock()

	s.discard(refStart + s.spd)
	s.setState(Refining, Demodulating)
	return true
}

func (s *StreamDecoder) demodulate() bool {
	samples := s.Buffer.Read(s.spd)
	if samples == nil {
		return false
	}
	s.spectrum(samples)
	value, carrier := s.detector.DecodeDuration(samples, s.ref)
	s.discard(s.spd)
	if !carrier {
		s.dispatch(false)
		return true
	}

	s.pending = append(s.pending, value)
	s.updateSNR(samples, value)
	log.Debugf("[modem] decoded byte %#02x (%d so far)", value, len(s.pending))
	if s.params.MaxFrameBytes > 0 && len(s.pending) >= s.params.MaxFrameBytes {
		log.Warnf("[modem] no end marker after %d bytes, dispatching", len(s.pending))
		s.dispatch(true)
	}
	return true
}

func (s *StreamDecoder) dispatch(truncated bool) {
	out := append([]byte(nil), s.pending...)
	s.pending = s.pending[:0]

	s.statsMutex.Lock()
	s.stats.State = Searching
	if truncated {
		s.stats.Truncated++
	}
	s.statsMutex.Unlock()

	if len(out) == 0 {
		return
	}
	select {
	case s.received <- out:
		s.statsMutex.Lock()
		s.stats.Frames++
		s.statsMutex.Unlock()
		log.Infof("[modem] received %d bytes", len(out))
	default:
		s.statsMutex.Lock()
		s.stats.Dropped++
		s.statsMutex.Unlock()
		log.Errorf("[modem] receive queue full, dropped %d bytes", len(out))
	}
}

func (s *StreamDecoder) discard(n int) {
	if n <= 0 {
		return
	}
	if err := s.Buffer.Delete(n); err != nil {
		log.Errorf("[modem] %v", err)
		return
	}
	s.statsMutex.Lock()
	s.stats.DeletedSamples += int64(n)
	s.statsMutex.Unlock()
}

func (s *StreamDecoder) deleted() int64 {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats.DeletedSamples
}

func (s *StreamDecoder) setState(from, to State) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	if s.stats.State == from {
		s.stats.State = to
	}
}

func (s *StreamDecoder) reset() {
	s.pending = s.pending[:0]
	s.statsMutex.Lock()
	s.stats.State = Searching
	s.statsMutex.Unlock()
}

func (s *StreamDecoder) updateSNR(samples []byte, value byte) {
	tones := s.encoder.tonesFor(value)
	snr := s.snr.Update(ToFloat(samples), tones, s.params.SampleRate)
	s.statsMutex.Lock()
	s.stats.CurrentSNR = snr
	s.stats.PeakSNR = max(s.stats.PeakSNR, snr)
	s.statsMutex.Unlock()
}

func (s *StreamDecoder) spectrum(samples []byte) {
	s.FFTMutex.Lock()
	if !s.DoFFT || s.fftWorking {
		s.FFTMutex.Unlock()
		return
	}
	s.fftWorking = true
	s.FFTMutex.Unlock()

	go func() {
		out := Spectrum(samples, 128)
		s.FFTMutex.Lock()
		s.CurrentFFT = out
		s.FFTMutex.Unlock()

		time.Sleep(500 * time.Millisecond)
		s.FFTMutex.Lock()
		s.fftWorking = false
		s.FFTMutex.Unlock()
	}()
}

func (s *StreamDecoder) State() State {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats.State
}

func (s *StreamDecoder) HasKey() bool {
	return s.State() == Demodulating
}

func (s *StreamDecoder) Stats() Stats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// Backlog is the captured audio not yet consumed.
func (s *StreamDecoder) Backlog() time.Duration {
	return s.params.Backlog(s.Buffer.Size())
}

// Status is a one line human readable summary of backlog and lock state.
func (s *StreamDecoder) Status() string {
	var sb strings.Builder
	if backlog := s.Backlog(); backlog >= time.Millisecond {
		fmt.Fprintf(&sb, "Backlog: %d ms ", backlog.Milliseconds())
	}
	if s.HasKey() {
		sb.WriteString("Found key sequence ")
	}
	return sb.String()
}
