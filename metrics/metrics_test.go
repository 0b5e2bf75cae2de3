package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorCountsFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.FrameSent(frame.Stats{FrameLength: 20, CompressionRatio: 0.5}, 3*time.Second)
	c.FrameReceived(frame.Stats{Corrected: 2}, nil)
	c.FrameReceived(frame.Stats{}, frame.ErrCorruptFrame)
	c.FrameReceived(frame.Stats{}, errors.Join(frame.ErrUnrepairableFrame))
	c.EncodingFailure()

	out := scrape(t, reg)
	assert.Contains(t, out, "sonictext_frames_sent_total 1")
	assert.Contains(t, out, "sonictext_frame_bytes_sent_total 20")
	assert.Contains(t, out, "sonictext_airtime_seconds_total 3")
	assert.Contains(t, out, `sonictext_frames_received_total{result="ok"} 1`)
	assert.Contains(t, out, `sonictext_frames_received_total{result="corrupt"} 1`)
	assert.Contains(t, out, `sonictext_frames_received_total{result="unrepairable"} 1`)
	assert.Contains(t, out, "sonictext_fec_corrected_bytes_total 2")
	assert.Contains(t, out, "sonictext_encoding_failures_total 1")
	assert.Contains(t, out, "sonictext_compression_ratio_count 1")
}

func TestObserveDecoder(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveDecoder(modem.Stats{State: modem.Demodulating, Locks: 3, FalseLocks: 1, CurrentSNR: 12.5}, 250*time.Millisecond)

	out := scrape(t, reg)
	assert.Contains(t, out, `sonictext_decoder_state{state="demodulating"} 1`)
	assert.Contains(t, out, `sonictext_decoder_state{state="searching"} 0`)
	assert.Contains(t, out, "sonictext_decoder_locks 3")
	assert.Contains(t, out, "sonictext_decoder_false_locks 1")
	assert.Contains(t, out, "sonictext_snr_db 12.5")
	assert.Contains(t, out, "sonictext_capture_backlog_seconds 0.25")
}
