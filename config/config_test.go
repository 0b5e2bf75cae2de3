package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
modem {
  sample_rate = 44100
  key_threshold = 0.6
  do_fft = false
}

frame {
  scheme = "fountain"
  symbol_size = 8
  codec = "deflate"
}

metrics {
  enabled = true
  scrape_interval = "5s"
}

relay {
  station = "attic"
}
`

func TestDefaultsAreValid(t *testing.T) {
	conf := Default()
	p, err := conf.Modem.Params()
	require.NoError(t, err)
	assert.Equal(t, modem.DefaultParams(), p)

	cfg, err := conf.Frame.Config()
	require.NoError(t, err)
	assert.Equal(t, frame.DefaultConfig(), cfg)
}

func TestReadFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	conf, err := Load(Read([]string{filepath.Join(t.TempDir(), "missing.hcl"), path}))
	require.NoError(t, err)

	assert.Equal(t, 44100.0, conf.Modem.SampleRate)
	assert.Equal(t, 0.6, conf.Modem.KeyThreshold)
	assert.False(t, conf.Modem.DoFFT)
	assert.Equal(t, 0.2, conf.Modem.DurationSeconds, "absent keys keep their defaults")
	assert.True(t, conf.Metrics.Enabled)
	assert.Equal(t, 5*time.Second, conf.Metrics.Scrape)
	assert.Equal(t, "attic", conf.Relay.Station)
	assert.Equal(t, "sonictext/received", conf.Relay.Topic)

	cfg, err := conf.Frame.Config()
	require.NoError(t, err)
	assert.Equal(t, frame.Fountain(8, 0.5), cfg.Fec)
	assert.Equal(t, frame.CompressionDeflate, cfg.Compression)
	assert.True(t, cfg.UseFEC)
}

func TestReadFallsBackToEnvironment(t *testing.T) {
	t.Setenv("SONICTEXT_MODEM_HAIL_DURATIONS", "5")
	t.Setenv("SONICTEXT_FRAME_FEC", "false")
	t.Setenv("SONICTEXT_AUDIO_DRIVER", "jack")

	conf, err := Load(Read([]string{filepath.Join(t.TempDir(), "missing.hcl")}))
	require.NoError(t, err)
	assert.Equal(t, 5, conf.Modem.HailDurations)
	assert.False(t, conf.Frame.FEC)
	assert.Equal(t, "jack", conf.Audio.Driver)
	assert.True(t, conf.Frame.Checksum)
}

func TestFrameConfRejectsUnknownNames(t *testing.T) {
	f := Default().Frame
	f.Scheme = "turbo"
	_, err := f.Config()
	assert.Error(t, err)

	f = Default().Frame
	f.Codec = "zstd"
	_, err = f.Config()
	assert.Error(t, err)
}

func TestNoneSchemeDisablesFEC(t *testing.T) {
	f := Default().Frame
	f.Scheme = "none"
	cfg, err := f.Config()
	require.NoError(t, err)
	assert.False(t, cfg.UseFEC)
}
