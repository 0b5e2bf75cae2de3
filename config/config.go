package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/modem"
	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "SONICTEXT_"

type ModemConf struct {
	SampleRate        float64 `koanf:"sample_rate"`
	DurationSeconds   float64 `koanf:"duration_seconds"`
	BaseFrequency     float64 `koanf:"base_frequency"`
	HailFrequency     float64 `koanf:"hail_frequency"`
	HailDurations     int     `koanf:"hail_durations"`
	Amplitude         float64 `koanf:"amplitude"`
	KeyThreshold      float64 `koanf:"key_threshold"`
	BitThreshold      float64 `koanf:"bit_threshold"`
	CarrierThreshold  float64 `koanf:"carrier_threshold"`
	PlayJitter        int     `koanf:"play_jitter"`
	CoarseGranularity int     `koanf:"coarse_granularity"`
	FineGranularity   int     `koanf:"fine_granularity"`
	MaxFrameBytes     int     `koanf:"max_frame_bytes"`
	QueueSize         int     `koanf:"queue_size"`
	DoFFT             bool    `koanf:"do_fft"`
}

type FrameConf struct {
	Compression bool    `koanf:"compression"`
	Checksum    bool    `koanf:"checksum"`
	FEC         bool    `koanf:"fec"`
	Codec       string  `koanf:"codec"`
	Scheme      string  `koanf:"scheme"`
	ErrorBudget int     `koanf:"error_budget"`
	SymbolSize  int     `koanf:"symbol_size"`
	RepairRatio float64 `koanf:"repair_ratio"`
}

type AudioConf struct {
	Driver          string  `koanf:"driver"`
	FramesPerBuffer int     `koanf:"frames_per_buffer"`
	ChunkSize       int     `koanf:"chunk_size"`
	Prefilter       bool    `koanf:"prefilter"`
	PrefilterCutoff float64 `koanf:"prefilter_cutoff"`
	PrefilterWidth  float64 `koanf:"prefilter_width"`
	JackClient      string  `koanf:"jack_client"`
	JackCapture     string  `koanf:"jack_capture_port"`
	JackPlayback    string  `koanf:"jack_playback_port"`
}

type TuiConf struct {
	RefreshMs       int     `koanf:"refresh_ms"`
	EnableLogOutput bool    `koanf:"enable_log_output"`
	BacklogWarnPct  float64 `koanf:"backlog_warn_pct"`
	BacklogCritPct  float64 `koanf:"backlog_crit_pct"`
}

type MetricsConf struct {
	Enabled bool          `koanf:"enabled"`
	Address string        `koanf:"address"`
	Scrape  time.Duration `koanf:"scrape_interval"`
}

type RelayConf struct {
	Enabled   bool   `koanf:"enabled"`
	Broker    string `koanf:"broker"`
	ClientID  string `koanf:"client_id"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	Topic     string `koanf:"topic"`
	SendTopic string `koanf:"send_topic"`
	QoS       int    `koanf:"qos"`
	Retain    bool   `koanf:"retain"`
	Station   string `koanf:"station"`
}

type Conf struct {
	Modem   ModemConf   `koanf:"modem"`
	Frame   FrameConf   `koanf:"frame"`
	Audio   AudioConf   `koanf:"audio"`
	Tui     TuiConf     `koanf:"tui"`
	Metrics MetricsConf `koanf:"metrics"`
	Relay   RelayConf   `koanf:"relay"`
}

func Default() Conf {
	p := modem.DefaultParams()
	return Conf{
		Modem: ModemConf{
			SampleRate:        p.SampleRate,
			DurationSeconds:   p.DurationSeconds,
			BaseFrequency:     p.BaseFrequency,
			HailFrequency:     p.HailFrequency,
			HailDurations:     p.HailDurations,
			Amplitude:         p.Amplitude,
			KeyThreshold:      p.KeyThreshold,
			BitThreshold:      p.BitThreshold,
			CarrierThreshold:  p.CarrierThreshold,
			PlayJitter:        p.PlayJitter,
			CoarseGranularity: p.CoarseGranularity,
			FineGranularity:   p.FineGranularity,
			MaxFrameBytes:     p.MaxFrameBytes,
			QueueSize:         16,
			DoFFT:             true,
		},
		Frame: FrameConf{
			Compression: true,
			Checksum:    true,
			FEC:         true,
			Codec:       frame.CompressionSmaz,
			Scheme:      frame.FecReedSolomon.String(),
			ErrorBudget: 4,
			SymbolSize:  16,
			RepairRatio: 0.5,
		},
		Audio: AudioConf{
			Driver:          "portaudio",
			FramesPerBuffer: 1024,
			ChunkSize:       1024,
			PrefilterCutoff: 4000,
			PrefilterWidth:  1000,
			JackClient:      "sonictext",
		},
		Tui: TuiConf{
			RefreshMs:       250,
			EnableLogOutput: true,
			BacklogWarnPct:  50,
			BacklogCritPct:  90,
		},
		Metrics: MetricsConf{
			Address: ":9464",
			Scrape:  time.Second,
		},
		Relay: RelayConf{
			Broker: "tcp://localhost:1883",
			Topic:  "sonictext/received",
		},
	}
}

// Params validates the modem section.
func (m ModemConf) Params() (modem.Params, error) {
	p := modem.Params{
		SampleRate:        m.SampleRate,
		DurationSeconds:   m.DurationSeconds,
		BaseFrequency:     m.BaseFrequency,
		HailFrequency:     m.HailFrequency,
		HailDurations:     m.HailDurations,
		Amplitude:         m.Amplitude,
		KeyThreshold:      m.KeyThreshold,
		BitThreshold:      m.BitThreshold,
		CarrierThreshold:  m.CarrierThreshold,
		PlayJitter:        m.PlayJitter,
		CoarseGranularity: m.CoarseGranularity,
		FineGranularity:   m.FineGranularity,
		MaxFrameBytes:     m.MaxFrameBytes,
	}
	return p, p.Validate()
}

func (f FrameConf) Config() (frame.Config, error) {
	kind, err := frame.ParseFecKind(f.Scheme)
	if err != nil {
		return frame.Config{}, err
	}
	if _, err := frame.CompressorByName(f.Codec); err != nil {
		return frame.Config{}, err
	}
	cfg := frame.Config{
		UseCompression: f.Compression,
		UseChecksum:    f.Checksum,
		UseFEC:         f.FEC && kind != frame.FecNone,
		Compression:    f.Codec,
	}
	switch kind {
	case frame.FecReedSolomon:
		cfg.Fec = frame.ReedSolomon(f.ErrorBudget)
	case frame.FecFountain:
		cfg.Fec = frame.Fountain(f.SymbolSize, f.RepairRatio)
	}
	return cfg, nil
}

// SearchPaths are the config file locations, in order of preference.
func SearchPaths() []string {
	paths := []string{"/etc/sonictext/config.hcl"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sonictext", "config.hcl"))
	}
	return append(paths, "./config.hcl")
}

func FindConfigFile(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			log.Infof("Found config file: %s", path)
			return path
		}
	}
	log.Info("Config file not found!")
	return ""
}

// Read loads the first config file found in paths, falling back to SONICTEXT_ environment variables
// when there is none or it cannot be parsed.
func Read(paths []string) *koanf.Koanf {
	k := koanf.New(".")
	path := FindConfigFile(paths)
	var err error
	if path == "" {
		err = errors.New("no config file")
	} else {
		err = k.Load(file.Provider(path), hcl.Parser(true))
	}
	if err != nil {
		log.Errorf("Could not read config file: %v", err)
		log.Error("Attempting to use environment variables")
		k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(k, v string) (string, any) {
				key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
				key = strings.Replace(key, "_", ".", 1)
				log.Debugf("Found config env var: %s=%v", key, v)
				return key, v
			},
		}), nil)
	}
	return k
}

// Load applies the values in k over the defaults.
func Load(k *koanf.Koanf) (Conf, error) {
	conf := Default()
	if err := k.Unmarshal("", &conf); err != nil {
		return conf, fmt.Errorf("invalid configuration: %w", err)
	}
	log.Debugf("Found configuration: %##v", conf)
	return conf, nil
}
