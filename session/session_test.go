package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrwynneiii/sonictext/audio"
	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	sent     int
	received int
	failed   int
	errs     []error
}

func (r *recorder) FrameSent(frame.Stats, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
}

func (r *recorder) FrameReceived(_ frame.Stats, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
	r.errs = append(r.errs, err)
}

func (r *recorder) EncodingFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
}

func (r *recorder) failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

type brokenSink struct{}

func (brokenSink) WriteSamples([]byte) error { return errors.New("speaker unplugged") }

// gatedSink blocks every write until open is closed. entered is closed by the first write.
type gatedSink struct {
	open    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newGatedSink() *gatedSink {
	return &gatedSink{open: make(chan struct{}), entered: make(chan struct{})}
}

func (g *gatedSink) WriteSamples([]byte) error {
	g.once.Do(func() { close(g.entered) })
	<-g.open
	return nil
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Params == (modem.Params{}) {
		opts.Params = modem.DefaultParams()
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSendAndReceiveOverLoopback(t *testing.T) {
	link := audio.NewLoopback()
	messages := make(chan Message, 4)
	rec := &recorder{}

	rx := newSession(t, Options{
		Frame:     frame.DefaultConfig(),
		Source:    link,
		Recorder:  rec,
		OnMessage: func(m Message) { messages <- m },
	})
	tx := newSession(t, Options{Frame: frame.DefaultConfig(), Sink: link, Recorder: rec})

	require.NoError(t, rx.Listen())
	assert.True(t, rx.IsListening())

	ms, err := tx.Send(context.Background(), "meet me at the tower")
	require.NoError(t, err)
	assert.Positive(t, ms)
	assert.True(t, tx.IsPlaying())
	tx.Wait()

	// trailing silence lets the decoder see the end of the transmission
	spd := modem.DefaultParams().SamplesPerDuration()
	quiet := make([]byte, 4*spd)
	for i := range quiet {
		quiet[i] = modem.FloatToByteShift
	}
	require.NoError(t, link.WriteSamples(quiet))

	select {
	case m := <-messages:
		assert.Equal(t, "meet me at the tower", m.Text)
		assert.False(t, m.Notice)
		assert.NoError(t, m.Err)
	case <-time.After(60 * time.Second):
		t.Fatal("no message received")
	}
	assert.Equal(t, "meet me at the tower\n", rx.ReceivedText())
	assert.Contains(t, rx.Status(), "Listening")

	rec.mu.Lock()
	assert.Equal(t, 1, rec.sent)
	assert.Equal(t, 1, rec.received)
	rec.mu.Unlock()

	rx.StopListening()
	assert.False(t, rx.IsListening())
	assert.Empty(t, rx.ReceivedText(), "received text resets when listening stops")
}

func TestReceiveNotices(t *testing.T) {
	s := newSession(t, Options{Frame: frame.DefaultConfig()})

	s.Receive([]byte{0x12})
	data, _, err := frame.Build([]byte("hello"), s.Config())
	require.NoError(t, err)
	for i := 2; i < 2+10 && i < len(data); i++ {
		data[i] ^= 0xA5
	}
	s.Receive(data)

	text := s.ReceivedText()
	assert.Contains(t, text, NoticeCorrupt+"\n")
	assert.True(t, text == NoticeCorrupt+"\n"+NoticeCorrupt+"\n" || text == NoticeCorrupt+"\n"+NoticeUnrepairable+"\n", text)
}

func TestReceiveFallsBackToLatin1(t *testing.T) {
	s := newSession(t, Options{})
	data, _, err := frame.Build([]byte{'c', 'a', 'f', 0xE9}, s.Config())
	require.NoError(t, err)

	var got Message
	s.opts.OnMessage = func(m Message) { got = m }
	s.Receive(data)
	assert.Equal(t, "café", got.Text)
	assert.Equal(t, "café\n", s.ReceivedText())
}

func TestConfigSetters(t *testing.T) {
	s := newSession(t, Options{Frame: frame.DefaultConfig()})
	s.SetUseCompression(false)
	s.SetUseChecksum(false)
	s.SetUseFEC(false)
	cfg := s.Config()
	assert.False(t, cfg.UseCompression)
	assert.False(t, cfg.UseChecksum)
	assert.False(t, cfg.UseFEC)

	s.SetUseFEC(true)
	assert.True(t, s.Config().UseFEC)
	assert.False(t, cfg.UseFEC, "snapshots do not follow later changes")
}

func TestSendErrors(t *testing.T) {
	s := newSession(t, Options{})
	_, err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoSink)
	assert.ErrorIs(t, s.Listen(), ErrNoSource)

	s = newSession(t, Options{Sink: audio.NewLoopback()})
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.Send(context.Background(), string(long))
	assert.ErrorIs(t, err, frame.ErrPayloadTooLarge)
	assert.False(t, s.IsPlaying())
}

func TestPlaybackFailureClearsPlaying(t *testing.T) {
	rec := &recorder{}
	s := newSession(t, Options{Sink: brokenSink{}, Recorder: rec})
	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	s.Wait()
	assert.False(t, s.IsPlaying())
	assert.Equal(t, 1, rec.failures())
}

func TestCancelledPlaybackStops(t *testing.T) {
	link := audio.NewLoopback()
	s := newSession(t, Options{Sink: link})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Send(ctx, "hi")
	require.NoError(t, err)
	s.Wait()
	assert.False(t, s.IsPlaying())
	assert.Zero(t, link.Pending())
}

func TestStopListeningIsIdempotent(t *testing.T) {
	s := newSession(t, Options{Source: audio.NewLoopback()})
	s.StopListening()
	require.NoError(t, s.Listen())
	require.NoError(t, s.Listen())
	s.StopListening()
	s.StopListening()
	assert.False(t, s.IsListening())
	assert.Empty(t, s.Status())
}

func TestQueuedSendKeepsPlaying(t *testing.T) {
	p := modem.DefaultParams()
	p.DurationSeconds = 0.01
	p.PlayJitter = 0
	sink := newGatedSink()
	s := newSession(t, Options{Params: p, Sink: sink, Frame: frame.Config{UseChecksum: true}})

	first, err := s.Send(context.Background(), "one")
	require.NoError(t, err)
	<-sink.entered
	_, err = s.Send(context.Background(), "two")
	require.NoError(t, err)

	// the first playback's time has run out but the second has not started
	time.Sleep(3 * time.Duration(first) * time.Millisecond)
	assert.True(t, s.IsPlaying())

	close(sink.open)
	s.Wait()
	assert.Eventually(t, func() bool { return !s.IsPlaying() }, 5*time.Second, 10*time.Millisecond)
}
