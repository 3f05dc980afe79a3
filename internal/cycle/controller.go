package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/fwaudio/internal/logger"
	"github.com/leandrodaf/fwaudio/internal/midibridge"
	"github.com/leandrodaf/fwaudio/internal/rtthread"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"go.uber.org/multierr"
)

var (
	// ErrIncompatibleTransport is returned by Open for a transport built against another API revision.
	ErrIncompatibleTransport = errors.New("incompatible transport API version")
	// ErrInvalidConfig is returned by Open for unusable settings.
	ErrInvalidConfig = errors.New("invalid driver configuration")
	// ErrInvalidState is returned for an operation not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in current driver state")
	// ErrXRun is returned by Read when the cycle was skipped. The engine should try again.
	ErrXRun = errors.New("xrun")
	// ErrWaitFailed is returned by Read when the transport failed. The driver is stopped.
	ErrWaitFailed = errors.New("hardware wait failed")
	// ErrBufferSizeUnsupported is returned by SetBufferSize.
	ErrBufferSizeUnsupported = errors.New("buffer size changes are not supported")
)

// State is the lifecycle state of a Controller.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateAttached
	StateRunning
	StateStopped
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ProcessFunc is called by Run once per cycle, between Read and Write.
type ProcessFunc func(frames int) error

// Option customizes a Controller.
type Option func(*Controller)

// WithTimeSource replaces the monotonic clock used to time hardware waits.
func WithTimeSource(now TimeSource) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithMIDIPollInterval sets the sleep between two passes of the MIDI tasks.
func WithMIDIPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.midiPoll = d
	}
}

// WithMIDITaskStarter replaces the function used to start the MIDI tasks.
func WithMIDITaskStarter(start rtthread.StartFunc) Option {
	return func(c *Controller) {
		c.midiStart = start
	}
}

// Controller drives the hardware cycle of one device and implements contracts.Driver.
type Controller struct {
	mu    sync.Mutex // serializes lifecycle calls
	state atomic.Int32

	cfg       contracts.DriverConfig
	log       contracts.Logger
	backend   contracts.TransportBackend
	graph     contracts.Graph
	transport contracts.Transport

	clock  *Clock
	bridge *BufferBridge
	ports  *PortTable
	midi   *midibridge.Bridge

	now       TimeSource
	midiPoll  time.Duration
	midiStart rtthread.StartFunc
	processed atomic.Uint64
}

var _ contracts.Driver = (*Controller)(nil)

// New returns a closed controller.
func New(opts ...Option) *Controller {
	c := &Controller{now: MonotonicMicros}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

func (c *Controller) expect(op string, allowed ...State) error {
	s := c.State()
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, s)
}

// Config returns the configuration the driver was opened with.
func (c *Controller) Config() contracts.DriverConfig { return c.cfg }

// Timing returns the cycle bookkeeping.
func (c *Controller) Timing() Timing {
	if c.clock == nil {
		return Timing{}
	}
	return c.clock.Timing()
}

// Ports returns the port table built by Attach, or nil.
func (c *Controller) Ports() *PortTable { return c.ports }

// MIDI returns the MIDI bridge, or nil when MIDI is disabled or degraded.
func (c *Controller) MIDI() *midibridge.Bridge { return c.midi }

// Processed returns the number of completed cycles.
func (c *Controller) Processed() uint64 { return c.processed.Load() }

// Open validates the configuration and the transport backend and sizes the
// per-cycle buffers.
func (c *Controller) Open(cfg contracts.DriverConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("open", StateClosed); err != nil {
		return err
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewZapLogger()
	}
	if err := validate(&cfg); err != nil {
		return err
	}

	log := cfg.Logger
	b := cfg.Transport
	log.Info("transport backend",
		log.Field().String("name", b.Name()),
		log.Field().String("version", b.Version()),
		log.Field().Int("api", b.APIVersion()))

	if b.APIVersion() != contracts.TransportAPIVersion {
		log.Error("incompatible transport API version",
			log.Field().Int("expected", contracts.TransportAPIVersion),
			log.Field().Int("found", b.APIVersion()))
		return fmt.Errorf("%w: %s has %d, need %d", ErrIncompatibleTransport, b.Name(), b.APIVersion(), contracts.TransportAPIVersion)
	}

	c.cfg = cfg
	c.log = log
	c.backend = b
	c.graph = cfg.Graph
	c.clock = NewClock(cfg.PeriodSize, cfg.SampleRate, c.now)

	frames := cfg.PeriodSize
	if cfg.Engine.BufferSize > frames {
		frames = cfg.Engine.BufferSize
	}
	c.bridge = NewBufferBridge(frames)
	c.processed.Store(0)

	t := c.clock.Timing()
	log.Info("driver opened",
		log.Field().String("device", cfg.Device.String()),
		log.Field().Int("sample_rate", cfg.SampleRate),
		log.Field().Int("period_size", cfg.PeriodSize),
		log.Field().Uint64("period_usecs", t.PeriodUsecs),
		log.Field().Int("buffers", cfg.Buffers),
		log.Field().Bool("capture", cfg.Capture),
		log.Field().Bool("playback", cfg.Playback),
		log.Field().Int("capture_latency", cfg.CaptureLatency),
		log.Field().Int("playback_latency", cfg.PlaybackLatency),
		log.Field().Bool("realtime", cfg.Engine.RealTime),
		log.Field().Int("priority", cfg.Engine.Priority),
		log.Field().Bool("midi", cfg.MIDI))

	c.setState(StateOpen)
	return nil
}

func validate(cfg *contracts.DriverConfig) error {
	switch {
	case cfg.Transport == nil:
		return fmt.Errorf("%w: no transport backend", ErrInvalidConfig)
	case cfg.Graph == nil:
		return fmt.Errorf("%w: no graph", ErrInvalidConfig)
	case cfg.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, cfg.SampleRate)
	case cfg.PeriodSize <= 0:
		return fmt.Errorf("%w: period size %d", ErrInvalidConfig, cfg.PeriodSize)
	case cfg.Buffers < 1:
		return fmt.Errorf("%w: %d buffers", ErrInvalidConfig, cfg.Buffers)
	case cfg.CaptureLatency < 0 || cfg.PlaybackLatency < 0:
		return fmt.Errorf("%w: negative latency", ErrInvalidConfig)
	case !cfg.Capture && !cfg.Playback:
		return fmt.Errorf("%w: neither capture nor playback enabled", ErrInvalidConfig)
	}
	if cfg.Engine.BufferSize <= 0 {
		cfg.Engine.BufferSize = cfg.PeriodSize
	}
	if cfg.Engine.SampleRate <= 0 {
		cfg.Engine.SampleRate = cfg.SampleRate
	}
	return nil
}

// Attach initializes the device, the MIDI bridge and the graph ports.
func (c *Controller) Attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("attach", StateOpen, StateDetached); err != nil {
		return err
	}

	cfg := c.cfg
	prio := rtthread.ComputePriority(cfg.Engine.Priority, rtthread.PacketizerRelativePriority, cfg.Engine.RealTime)
	opts := contracts.DeviceOptions{
		SampleRate:         cfg.SampleRate,
		PeriodSize:         cfg.PeriodSize,
		Buffers:            cfg.Buffers,
		Port:               cfg.Device.Port,
		NodeID:             cfg.Device.Node,
		Realtime:           cfg.Engine.RealTime,
		PacketizerPriority: prio.Value,
		IgnoreCapture:      !cfg.Capture,
		IgnorePlayback:     !cfg.Playback,
		Verbose:            cfg.Engine.Verbose,
	}

	t, err := c.backend.Init(opts)
	if err != nil {
		c.log.Error("cannot initialize transport", c.log.Field().Error("error", err))
		return fmt.Errorf("initializing %s transport: %w", c.backend.Name(), err)
	}

	if cfg.MIDI {
		c.midi = c.initMIDI(t)
	}

	ports, err := BuildPorts(t, c.graph, PortConfig{
		ClientName:       cfg.ClientName,
		PeriodSize:       cfg.PeriodSize,
		Buffers:          cfg.Buffers,
		CaptureLatency:   cfg.CaptureLatency,
		PlaybackLatency:  cfg.PlaybackLatency,
		EngineBufferSize: cfg.Engine.BufferSize,
		SyncMode:         cfg.Engine.SyncMode,
		Capacity:         cfg.PortCapacity,
		Capture:          cfg.Capture,
		Playback:         cfg.Playback,
	}, c.log)
	if err != nil {
		if c.midi != nil {
			err = multierr.Append(err, c.midi.Finish())
			c.midi = nil
		}
		err = multierr.Append(err, t.Close())
		c.log.Error("cannot register ports", c.log.Field().Error("error", err))
		return err
	}

	c.transport = t
	c.ports = ports
	c.bridge.Bind(t, c.graph, ports)

	c.log.Info("driver attached",
		c.log.Field().Int("capture_ports", ports.AudioCount(contracts.Capture)),
		c.log.Field().Int("playback_ports", ports.AudioCount(contracts.Playback)),
		c.log.Field().Int("packetizer_priority", prio.Value))
	c.setState(StateAttached)
	return nil
}

// initMIDI brings up the MIDI bridge. A failure leaves MIDI disabled.
func (c *Controller) initMIDI(t contracts.Transport) *midibridge.Bridge {
	mcfg := midibridge.Config{
		Transport:    t,
		Open:         c.cfg.Sequencer,
		Logger:       c.log,
		BasePriority: c.cfg.Engine.Priority,
		Realtime:     c.cfg.Engine.RealTime,
		PollInterval: c.midiPoll,
		StartTask:    c.midiStart,
	}

	m, err := midibridge.New(mcfg)
	if err != nil {
		c.log.Error("MIDI disabled", c.log.Field().Error("error", err))
		return nil
	}
	return m
}

// Start starts the MIDI bridge and then the transport.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start()
}

func (c *Controller) start() error {
	if err := c.expect("start", StateAttached, StateStopped); err != nil {
		return err
	}

	if c.midi != nil {
		if err := c.midi.Start(); err != nil {
			c.log.Error("cannot start MIDI bridge; MIDI disabled", c.log.Field().Error("error", err))
			if ferr := c.midi.Finish(); ferr != nil {
				c.log.Error("cannot close MIDI bridge", c.log.Field().Error("error", ferr))
			}
			c.midi = nil
		}
	}

	if err := c.transport.Start(); err != nil {
		if c.midi != nil {
			c.midi.Stop()
		}
		c.log.Error("cannot start transport", c.log.Field().Error("error", err))
		return fmt.Errorf("starting transport: %w", err)
	}

	c.setState(StateRunning)
	c.log.Info("driver started")
	return nil
}

// Stop stops the MIDI bridge and then the transport. Stopping a stopped driver
// does nothing. A concurrent Read observes the change at its next wait.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop()
}

func (c *Controller) stop() error {
	if c.State() == StateStopped {
		return nil
	}
	if err := c.expect("stop", StateRunning); err != nil {
		return err
	}

	c.setState(StateStopped)
	err := c.halt()
	c.log.Info("driver stopped")
	return err
}

// halt stops both subsystems and reports their combined error.
func (c *Controller) halt() error {
	if c.midi != nil {
		c.midi.Stop()
	}
	if err := c.transport.Stop(); err != nil {
		return fmt.Errorf("stopping transport: %w", err)
	}
	return nil
}

// Restart stops and starts the driver again.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stop(); err != nil {
		return err
	}
	return c.start()
}

// Read waits for the hardware and pulls one engine buffer of capture data.
// It returns ErrXRun when the cycle must be skipped.
func (c *Controller) Read() error {
	if err := c.expect("read", StateRunning); err != nil {
		return err
	}

	frames, status, delayed, err := c.clock.Wait(c.transport)
	switch {
	case status == WaitXRun, status == WaitOK && frames == 0:
		c.graph.NotifyXRun(c.clock.LastValidWake(), float64(delayed))
		c.log.Debug("xrun", c.log.Field().Uint64("delayed_usecs", delayed))
		return ErrXRun
	case status == WaitFatal && c.State() == StateStopped:
		// a concurrent Stop interrupted the wait
		c.log.Debug("wait interrupted by stop", c.log.Field().Error("error", err))
		return fmt.Errorf("%w: stopped during wait", ErrInvalidState)
	case status == WaitFatal:
		c.log.Error("hardware wait failed", c.log.Field().Error("error", err))
		c.mu.Lock()
		if c.State() == StateRunning {
			c.setState(StateStopped)
			if herr := c.halt(); herr != nil {
				c.log.Error("cannot stop after wait failure", c.log.Field().Error("error", herr))
			}
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrWaitFailed, err)
	}

	c.graph.CycleIncTime(c.clock.LastValidWake())

	n := c.cfg.Engine.BufferSize
	if frames != n {
		c.log.Debug("frame count differs from buffer size",
			c.log.Field().Int("frames", frames),
			c.log.Field().Int("buffer_size", n))
	}
	return c.bridge.Read(n)
}

// Write pushes one engine buffer of playback data.
func (c *Controller) Write() error {
	if err := c.expect("write", StateRunning); err != nil {
		return err
	}
	if err := c.bridge.Write(c.cfg.Engine.BufferSize); err != nil {
		return err
	}
	c.processed.Add(1)
	return nil
}

// SetBufferSize always fails; the period size is fixed when the device is opened.
func (c *Controller) SetBufferSize(frames int) error {
	if c.log != nil {
		c.log.Warn("buffer size change rejected", c.log.Field().Int("frames", frames))
	}
	return ErrBufferSizeUnsupported
}

// Run executes cycles until ctx is cancelled, the driver is stopped or a
// cycle fails. Skipped cycles do not call process.
func (c *Controller) Run(ctx context.Context, process ProcessFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.Read()
		switch {
		case errors.Is(err, ErrXRun):
			continue
		case errors.Is(err, ErrInvalidState) && c.State() == StateStopped:
			return nil
		case err != nil:
			return err
		}

		if process != nil {
			if err := process(c.cfg.Engine.BufferSize); err != nil {
				return err
			}
		}
		if err := c.Write(); err != nil {
			if c.State() == StateStopped {
				return nil
			}
			return err
		}
	}
}

// Detach closes the device, the MIDI bridge and releases the graph ports.
func (c *Controller) Detach() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expect("detach", StateAttached, StateStopped); err != nil {
		return err
	}

	var err error
	c.bridge.Unbind()
	err = multierr.Append(err, c.transport.Close())
	if c.midi != nil {
		err = multierr.Append(err, c.midi.Finish())
		c.midi = nil
	}
	err = multierr.Append(err, c.ports.Release())
	c.transport = nil
	c.ports = nil

	c.setState(StateDetached)
	c.log.Info("driver detached")
	return err
}

// Close releases the per-cycle buffers.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return nil
	}
	if err := c.expect("close", StateOpen, StateDetached); err != nil {
		return err
	}

	c.bridge.Release()
	c.bridge = nil
	c.clock = nil
	c.setState(StateClosed)
	c.log.Info("driver closed", c.log.Field().Uint64("cycles", c.processed.Load()))
	return nil
}
