package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/sonictext/audio"
	"github.com/jrwynneiii/sonictext/audio/jack"
	"github.com/jrwynneiii/sonictext/audio/portaudio"
	"github.com/jrwynneiii/sonictext/config"
	"github.com/jrwynneiii/sonictext/frame"
	"github.com/jrwynneiii/sonictext/metrics"
	"github.com/jrwynneiii/sonictext/modem"
)

func openDevice(conf config.Conf, p modem.Params) (audio.Device, error) {
	switch conf.Audio.Driver {
	case "jack":
		c, err := jack.Open(jack.Conf{
			ClientName:   conf.Audio.JackClient,
			CapturePort:  conf.Audio.JackCapture,
			PlaybackPort: conf.Audio.JackPlayback,
		})
		if err != nil {
			return nil, err
		}
		if float64(c.SampleRate()) != p.SampleRate {
			c.Close()
			return nil, fmt.Errorf("jack runs at %d Hz but the modem is configured for %.0f Hz", c.SampleRate(), p.SampleRate)
		}
		return c, nil
	case "portaudio", "":
		return portaudio.Open(p.SampleRate, conf.Audio.FramesPerBuffer)
	}
	return nil, fmt.Errorf("unsupported audio driver %q, supported drivers are [portaudio jack]", conf.Audio.Driver)
}

func startMetrics(ctx context.Context, conf config.MetricsConf) *metrics.Collector {
	if !conf.Enabled {
		return nil
	}
	collector := metrics.New(nil)
	go func() {
		if err := metrics.Serve(ctx, conf.Address, nil); err != nil {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	return collector
}

func main() {
	log.Info("Starting sonictext")
	flags := kong.Parse(&cli)
	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if cli.Profile {
		prof, err := os.Create("./cpu.pprof")
		if err != nil {
			log.Fatalf("Could not create profile: %v", err)
		}
		pprof.StartCPUProfile(prof)
		defer pprof.StopCPUProfile()
	}

	paths := config.SearchPaths()
	if cli.Config != "" {
		paths = []string{cli.Config}
	}
	conf, err := config.Load(config.Read(paths))
	if err != nil {
		log.Fatalf("%v", err)
	}
	params, err := conf.Modem.Params()
	if err != nil {
		log.Fatalf("Invalid modem configuration: %v", err)
	}
	frameConf, err := conf.Frame.Config()
	if err != nil {
		log.Fatalf("Invalid frame configuration: %v", err)
	}
	log.Debugf("Using modem parameters %##v", params)
	log.Debugf("Using frame configuration %##v", frameConf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := runner{conf: conf, params: params, frame: frameConf}
	switch flags.Command() {
	case "probe":
		err = run.probe()
	case "send <text>":
		err = run.send(ctx, joinArgs(cli.Send.Text))
	case "listen":
		err = run.listen(ctx)
	case "chat":
		err = run.chat(ctx)
	case "encode <text>":
		err = run.encode(ctx, joinArgs(cli.Encode.Text), cli.Encode.Out)
	case "decode <file>":
		err = run.decode(ctx, cli.Decode.File)
	default:
		log.Info("Command not recognized")
	}
	if err != nil {
		log.Errorf("%v", err)
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

type runner struct {
	conf   config.Conf
	params modem.Params
	frame  frame.Config
}
