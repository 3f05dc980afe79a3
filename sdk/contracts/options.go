package contracts

// DriverConfig is the immutable configuration of an open driver instance.
type DriverConfig struct {
	Device          DeviceAddress // Bus address of the device.
	DeviceName      string        // Device in "hw:port[,node]" form, parsed into Device when set.
	SampleRate      int           // Frames per second.
	PeriodSize      int           // Frames per cycle.
	Buffers         int           // Number of periods of playback latency.
	Capture         bool          // Provide capture ports.
	Playback        bool          // Provide playback ports.
	CaptureLatency  int           // Extra input latency in frames.
	PlaybackLatency int           // Extra output latency in frames.
	ClientName      string        // Prefix of registered port names.
	PortCapacity    int           // Maximum number of audio ports per direction.
	MIDI            bool          // Bridge MIDI streams to the sequencer.
	Engine          EngineControl // Engine settings the driver depends on.

	Backend   string           // Registered transport backend name, used when Transport is nil.
	Transport TransportBackend // Transport library.
	Graph     Graph            // Audio graph engine.
	Sequencer SequencerOpener  // Sequencer used by the MIDI bridge.

	Logger      Logger   // Logger for cycle, port and MIDI events.
	LogLevel    LogLevel // Level of logging to use.
	LogFilePath string   // File path for logging if file logging is enabled.
}

// Option is a function that modifies DriverConfig.
type Option func(*DriverConfig)

// WithLogger sets the logger for the driver.
func WithLogger(l Logger) Option {
	return func(cfg *DriverConfig) {
		cfg.Logger = l
	}
}

// WithLogLevel sets the logging level for the driver.
func WithLogLevel(level LogLevel) Option {
	return func(cfg *DriverConfig) {
		cfg.LogLevel = level
	}
}

// WithLogFile directs log output to a file.
func WithLogFile(path string) Option {
	return func(cfg *DriverConfig) {
		cfg.LogFilePath = path
	}
}

// WithDevice sets the bus address of the device.
func WithDevice(addr DeviceAddress) Option {
	return func(cfg *DriverConfig) {
		cfg.Device = addr
	}
}

// WithDeviceName sets the device as a "hw:port[,node]" string.
func WithDeviceName(name string) Option {
	return func(cfg *DriverConfig) {
		cfg.DeviceName = name
	}
}

// WithSampleRate sets the sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(cfg *DriverConfig) {
		cfg.SampleRate = rate
	}
}

// WithPeriodSize sets the number of frames per cycle.
func WithPeriodSize(frames int) Option {
	return func(cfg *DriverConfig) {
		cfg.PeriodSize = frames
	}
}

// WithBuffers sets the number of periods of playback latency.
func WithBuffers(n int) Option {
	return func(cfg *DriverConfig) {
		cfg.Buffers = n
	}
}

// WithCapture enables capture ports.
func WithCapture() Option {
	return func(cfg *DriverConfig) {
		cfg.Capture = true
	}
}

// WithPlayback enables playback ports.
func WithPlayback() Option {
	return func(cfg *DriverConfig) {
		cfg.Playback = true
	}
}

// WithDuplex enables both capture and playback ports.
func WithDuplex() Option {
	return func(cfg *DriverConfig) {
		cfg.Capture = true
		cfg.Playback = true
	}
}

// WithLatency sets the extra input and output latency in frames.
func WithLatency(capture, playback int) Option {
	return func(cfg *DriverConfig) {
		cfg.CaptureLatency = capture
		cfg.PlaybackLatency = playback
	}
}

// WithClientName sets the prefix used for registered port names.
func WithClientName(name string) Option {
	return func(cfg *DriverConfig) {
		cfg.ClientName = name
	}
}

// WithPortCapacity sets the maximum number of audio ports per direction.
func WithPortCapacity(n int) Option {
	return func(cfg *DriverConfig) {
		cfg.PortCapacity = n
	}
}

// WithMIDI enables or disables the MIDI bridge.
func WithMIDI(enabled bool) Option {
	return func(cfg *DriverConfig) {
		cfg.MIDI = enabled
	}
}

// WithEngineControl sets the engine settings.
func WithEngineControl(ctl EngineControl) Option {
	return func(cfg *DriverConfig) {
		cfg.Engine = ctl
	}
}

// WithBackend selects a registered transport backend by name.
func WithBackend(name string) Option {
	return func(cfg *DriverConfig) {
		cfg.Backend = name
	}
}

// WithTransport sets the transport library directly.
func WithTransport(t TransportBackend) Option {
	return func(cfg *DriverConfig) {
		cfg.Transport = t
	}
}

// WithGraph sets the graph engine.
func WithGraph(g Graph) Option {
	return func(cfg *DriverConfig) {
		cfg.Graph = g
	}
}

// WithSequencer sets the sequencer used by the MIDI bridge.
func WithSequencer(open SequencerOpener) Option {
	return func(cfg *DriverConfig) {
		cfg.Sequencer = open
	}
}
