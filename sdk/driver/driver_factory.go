package driver

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/leandrodaf/fwaudio/internal/sequencer/loopback"
	"github.com/leandrodaf/fwaudio/internal/sequencer/seqdarwin"
	"github.com/leandrodaf/fwaudio/internal/sequencer/seqwindows"
	"github.com/leandrodaf/fwaudio/internal/transport/alsapcm"
	"github.com/leandrodaf/fwaudio/internal/transport/dummy"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// ErrUnknownBackend is returned when no transport backend is registered under the requested name.
var ErrUnknownBackend = errors.New("unknown transport backend")

// backendInitializers maps backend names to transport backend constructors.
var backendInitializers = map[string]func(contracts.Logger) contracts.TransportBackend{
	dummy.Name: func(log contracts.Logger) contracts.TransportBackend {
		return dummy.New(dummy.Config{Logger: log})
	},
	alsapcm.Name: func(log contracts.Logger) contracts.TransportBackend {
		return alsapcm.New(alsapcm.Config{Logger: log})
	},
}

// sequencerInitializers maps OS names to the native MIDI sequencer.
var sequencerInitializers = map[string]func(contracts.Logger) contracts.SequencerOpener{
	"darwin": func(log contracts.Logger) contracts.SequencerOpener {
		return seqdarwin.Open(seqdarwin.Config{Logger: log})
	},
	"windows": func(log contracts.Logger) contracts.SequencerOpener {
		return seqwindows.Open(seqwindows.Config{Logger: log})
	},
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backendInitializers))
	for name := range backendInitializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend returns the transport backend registered under name.
func NewBackend(name string, log contracts.Logger) (contracts.TransportBackend, error) {
	if initializer, exists := backendInitializers[name]; exists {
		return initializer(log), nil
	}
	return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
}

// NewSequencer returns the native sequencer of the current operating system.
// Other systems get an in-process loopback sequencer.
func NewSequencer(log contracts.Logger) contracts.SequencerOpener {
	if initializer, exists := sequencerInitializers[runtime.GOOS]; exists {
		return initializer(log)
	}
	log.Info("no native MIDI sequencer; using in-process loopback", log.Field().String("os", runtime.GOOS))
	return loopback.New().Open
}
