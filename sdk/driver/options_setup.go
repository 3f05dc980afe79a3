package driver

import (
	"github.com/leandrodaf/fwaudio/internal/graph"
	"github.com/leandrodaf/fwaudio/internal/logger"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// Defaults applied to options left unset.
const (
	DefaultSampleRate   = 48000
	DefaultPeriodSize   = 1024
	DefaultBuffers      = 3
	DefaultClientName   = "system"
	DefaultPortCapacity = 256
	DefaultBackend      = "dummy"
)

// applyDefaultOptions sets default values for DriverConfig if not explicitly provided.
//
// opts ...contracts.Option: A variadic list of option functions that can modify DriverConfig.
//
// Returns:
//   - contracts.DriverConfig: The finalized driver configuration with defaults applied.
//   - error: An error if the device name cannot be parsed or the backend is unknown.
func applyDefaultOptions(opts ...contracts.Option) (contracts.DriverConfig, error) {
	cfg := &contracts.DriverConfig{MIDI: true}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewZapLogger()
	}
	if cfg.LogFilePath != "" {
		cfg.Logger.SetDestination(contracts.FileLog, cfg.LogFilePath)
	}
	cfg.Logger.SetLevel(cfg.LogLevel)

	if cfg.DeviceName == "" && cfg.Device == (contracts.DeviceAddress{}) {
		cfg.DeviceName = contracts.DefaultDevice
	}
	if cfg.DeviceName != "" {
		addr, err := contracts.ParseDevice(cfg.DeviceName)
		if err != nil {
			return contracts.DriverConfig{}, err
		}
		cfg.Device = addr
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.PeriodSize == 0 {
		cfg.PeriodSize = DefaultPeriodSize
	}
	if cfg.Buffers == 0 {
		cfg.Buffers = DefaultBuffers
	}
	if !cfg.Capture && !cfg.Playback {
		cfg.Capture, cfg.Playback = true, true
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.PortCapacity == 0 {
		cfg.PortCapacity = DefaultPortCapacity
	}
	if cfg.Engine.SampleRate == 0 {
		cfg.Engine.SampleRate = cfg.SampleRate
	}
	if cfg.Engine.BufferSize == 0 {
		cfg.Engine.BufferSize = cfg.PeriodSize
	}

	if cfg.Transport == nil {
		if cfg.Backend == "" {
			cfg.Backend = DefaultBackend
		}
		b, err := NewBackend(cfg.Backend, cfg.Logger)
		if err != nil {
			return contracts.DriverConfig{}, err
		}
		cfg.Transport = b
	}
	if cfg.Graph == nil {
		cfg.Graph = graph.New(cfg.SampleRate, cfg.Logger)
	}
	if cfg.MIDI && cfg.Sequencer == nil {
		cfg.Sequencer = NewSequencer(cfg.Logger)
	}

	return *cfg, nil
}
