package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-audio/audio"
	"github.com/leandrodaf/fwaudio/internal/cycle"
	"github.com/leandrodaf/fwaudio/internal/graph"
	"github.com/leandrodaf/fwaudio/internal/logger"
	"github.com/leandrodaf/fwaudio/internal/rtthread"
	"github.com/leandrodaf/fwaudio/internal/sequencer/seqrtmidi"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"github.com/leandrodaf/fwaudio/sdk/driver"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

var errDurationReached = errors.New("duration reached")

type options struct {
	device     string
	backend    string
	rate       int
	period     int
	nperiods   int
	capture    bool
	playback   bool
	inLatency  int
	outLatency int
	duration   int
	record     string
	realtime   bool
	priority   int
	midi       bool
	rtmidi     bool
	logLevel   string
	logFile    string
}

func main() {
	var o options

	flag.StringVar(&o.device, "device", contracts.DefaultDevice, "The device to use, hw:port[,node]")
	flag.StringVar(&o.backend, "backend", driver.DefaultBackend, fmt.Sprintf("Transport backend (%s)", strings.Join(driver.Backends(), ", ")))
	flag.IntVar(&o.rate, "rate", driver.DefaultSampleRate, "The sample rate in Hz")
	flag.IntVar(&o.period, "period", driver.DefaultPeriodSize, "Frames per period")
	flag.IntVar(&o.nperiods, "nperiods", driver.DefaultBuffers, "Number of periods of playback latency")
	flag.BoolVar(&o.capture, "capture", false, "Provide capture ports only (unless -playback is also set)")
	flag.BoolVar(&o.playback, "playback", false, "Provide playback ports only (unless -capture is also set)")
	flag.IntVar(&o.inLatency, "input-latency", 0, "Extra input latency in frames")
	flag.IntVar(&o.outLatency, "output-latency", 0, "Extra output latency in frames")
	flag.IntVar(&o.duration, "duration", 0, "Seconds to run, 0 runs until interrupted")
	flag.StringVar(&o.record, "record", "", "Record the capture ports to this WAV file")
	flag.BoolVar(&o.realtime, "realtime", false, "Run the cycle with realtime scheduling")
	flag.IntVar(&o.priority, "priority", 70, "Realtime priority of the cycle task")
	flag.BoolVar(&o.midi, "midi", true, "Bridge MIDI streams to the sequencer")
	flag.BoolVar(&o.rtmidi, "rtmidi", false, "Expose MIDI ports as RtMidi virtual ports")
	flag.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&o.logFile, "log-file", "", "Write logs to this file")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(s string) (contracts.LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return contracts.DebugLevel, nil
	case "info":
		return contracts.InfoLevel, nil
	case "warn", "warning":
		return contracts.WarnLevel, nil
	case "error":
		return contracts.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// buildOptions turns the command line into driver options.
func buildOptions(o options, log contracts.Logger) ([]contracts.Option, error) {
	level, err := parseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}

	opts := []contracts.Option{
		contracts.WithLogger(log),
		contracts.WithLogLevel(level),
		contracts.WithDeviceName(o.device),
		contracts.WithBackend(o.backend),
		contracts.WithSampleRate(o.rate),
		contracts.WithPeriodSize(o.period),
		contracts.WithBuffers(o.nperiods),
		contracts.WithLatency(o.inLatency, o.outLatency),
		contracts.WithMIDI(o.midi),
		contracts.WithEngineControl(contracts.EngineControl{
			RealTime: o.realtime,
			Priority: o.priority,
			Verbose:  level == contracts.DebugLevel,
		}),
	}
	if o.logFile != "" {
		opts = append(opts, contracts.WithLogFile(o.logFile))
	}
	if o.capture {
		opts = append(opts, contracts.WithCapture())
	}
	if o.playback {
		opts = append(opts, contracts.WithPlayback())
	}
	return opts, nil
}

func run(o options) (err error) {
	log := logger.NewZapLogger()

	opts, err := buildOptions(o, log)
	if err != nil {
		return err
	}

	g := graph.New(o.rate, log)
	opts = append(opts, contracts.WithGraph(g))

	if o.midi && o.rtmidi {
		drv, err := rtmididrv.New()
		if err != nil {
			return fmt.Errorf("rtmididrv: %w", err)
		}
		defer drv.Close()
		opts = append(opts, contracts.WithSequencer(seqrtmidi.Opener(drv, seqrtmidi.Config{Logger: log})))
	}

	d, err := driver.NewDriver(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := d.Attach(); err != nil {
		return err
	}
	defer func() {
		if derr := d.Detach(); derr != nil && err == nil {
			err = derr
		}
	}()

	var rec *recorder
	if o.record != "" {
		if rec, err = newRecorder(o.record, o.rate, capturePorts(d, g)); err != nil {
			return err
		}
		defer func() {
			log.Info("recording finished",
				log.Field().String("file", o.record),
				log.Field().Int("frames", rec.Frames()))
			if rerr := rec.Close(); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}

	if err := d.Start(); err != nil {
		return err
	}

	limit := o.duration * o.rate
	var frames int
	process := func(n int) error {
		if rec != nil {
			if err := rec.capture(n); err != nil {
				return err
			}
		}
		frames += n
		if limit > 0 && frames >= limit {
			return errDurationReached
		}
		return nil
	}

	runErr := make(chan error, 1)
	prio := rtthread.ComputePriority(o.priority, 0, o.realtime)
	task, err := rtthread.Start("cycle", prio, func(ctx context.Context) {
		runErr <- d.Run(ctx, process)
	})
	if err != nil {
		_ = d.Stop()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info("driver running; press Ctrl+C to stop",
		log.Field().String("device", d.Config().Device.String()),
		log.Field().String("backend", o.backend))

	select {
	case <-sigChan:
		log.Info("interrupted")
		task.Stop()
		err = <-runErr
	case err = <-runErr:
		task.Stop()
	}
	if errors.Is(err, errDurationReached) || errors.Is(err, context.Canceled) {
		err = nil
	}

	if d.State() == cycle.StateRunning {
		if serr := d.Stop(); serr != nil && err == nil {
			err = serr
		}
	}

	stats := g.Stats()
	timing := d.Timing()
	log.Info("driver stopped",
		log.Field().Uint64("cycles", d.Processed()),
		log.Field().Uint64("xruns", stats.XRuns),
		log.Field().Float64("max_delayed_usecs", stats.MaxDelayed),
		log.Field().Uint64("late_waits", timing.WaitLate))
	return err
}

// capturePorts returns the graph buffers of the registered capture audio ports.
func capturePorts(d *cycle.Controller, g *graph.Graph) []*audio.Float32Buffer {
	var bufs []*audio.Float32Buffer
	for _, b := range d.Ports().Bindings(contracts.Capture) {
		if b.Kind != contracts.StreamAudio || !b.Registered() {
			continue
		}
		if buf, err := g.PortBuffer(b.Port); err == nil {
			bufs = append(bufs, buf)
		}
	}
	return bufs
}
