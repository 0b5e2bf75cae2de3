// Package metrics exports link and decoder counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sonictext"

// Collector implements session.Recorder.
type Collector struct {
	framesSent       prometheus.Counter
	bytesSent        prometheus.Counter
	airtime          prometheus.Counter
	encodingFailures prometheus.Counter
	framesReceived   *prometheus.CounterVec // result: ok, corrupt, unrepairable
	correctedBytes   prometheus.Counter
	compressionRatio prometheus.Histogram

	decoderState *prometheus.GaugeVec
	locks        prometheus.Gauge
	falseLocks   prometheus.Gauge
	truncated    prometheus.Gauge
	dropped      prometheus.Gauge
	keyScore     prometheus.Gauge
	snr          prometheus.Gauge
	peakSNR      prometheus.Gauge
	backlog      prometheus.Gauge
}

// New registers the collectors with reg, or the default registry when reg is nil.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Frames handed to the audio sink",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frame_bytes_sent_total",
			Help: "Wire bytes of sent frames",
		}),
		airtime: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "airtime_seconds_total",
			Help: "Audio time spent transmitting",
		}),
		encodingFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "encoding_failures_total",
			Help: "Transmissions the audio sink refused",
		}),
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Received frames by parse result",
		}, []string{"result"}),
		correctedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fec_corrected_bytes_total",
			Help: "Bytes repaired by forward error correction",
		}),
		compressionRatio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "compression_ratio",
			Help:    "Compressed over original payload size of sent frames",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 12),
		}),
		decoderState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decoder_state",
			Help: "1 for the stream decoder's current state",
		}, []string{"state"}),
		locks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decoder_locks",
			Help: "Hail locks since listening started",
		}),
		falseLocks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decoder_false_locks",
			Help: "Locks that produced no bytes",
		}),
		truncated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decoder_truncated_frames",
			Help: "Transmissions cut at the frame size limit",
		}),
		dropped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decoder_dropped_frames",
			Help: "Transmissions dropped on a full queue",
		}),
		keyScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decoder_key_score",
			Help: "Hail energy ratio at the last lock",
		}),
		snr: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "snr_db",
			Help: "Smoothed tone SNR",
		}),
		peakSNR: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "snr_peak_db",
			Help: "Peak tone SNR",
		}),
		backlog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "capture_backlog_seconds",
			Help: "Captured audio waiting for the decoder",
		}),
	}
}

func (c *Collector) FrameSent(stats frame.Stats, playTime time.Duration) {
	c.framesSent.Inc()
	c.bytesSent.Add(float64(stats.FrameLength))
	c.airtime.Add(playTime.Seconds())
	if stats.CompressionRatio != 1 {
		c.compressionRatio.Observe(stats.CompressionRatio)
	}
}

func (c *Collector) FrameReceived(stats frame.Stats, err error) {
	result := "ok"
	switch {
	case errors.Is(err, frame.ErrUnrepairableFrame):
		result = "unrepairable"
	case err != nil:
		result = "corrupt"
	}
	c.framesReceived.WithLabelValues(result).Inc()
	c.correctedBytes.Add(float64(stats.Corrected))
}

func (c *Collector) EncodingFailure() {
	c.encodingFailures.Inc()
}

// ObserveDecoder copies a stream decoder snapshot into the gauges.
func (c *Collector) ObserveDecoder(stats modem.Stats, backlog time.Duration) {
	for _, s := range []modem.State{modem.Searching, modem.Refining, modem.Demodulating} {
		v := 0.0
		if s == stats.State {
			v = 1
		}
		c.decoderState.WithLabelValues(s.String()).Set(v)
	}
	c.locks.Set(float64(stats.Locks))
	c.falseLocks.Set(float64(stats.FalseLocks))
	c.truncated.Set(float64(stats.Truncated))
	c.dropped.Set(float64(stats.Dropped))
	c.keyScore.Set(stats.LastKeyScore)
	c.snr.Set(stats.CurrentSNR)
	c.peakSNR.Set(stats.PeakSNR)
	c.backlog.Set(backlog.Seconds())
}

// Serve exposes gatherer on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("[metrics] serving on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
