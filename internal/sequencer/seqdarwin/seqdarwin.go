// Package seqdarwin routes bridge ports through CoreMIDI on macOS. Writable
// endpoints listen to the system MIDI sources; readable endpoints send to the
// system MIDI destinations.
package seqdarwin

import (
	"errors"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// DefaultQueueSize is the number of received events held until the bridge reads them.
const DefaultQueueSize = 1024

// Error definitions for CoreMIDI connection and handling issues.
var (
	ErrUnsupported         = errors.New("CoreMIDI is not available on this platform")
	ErrNoMIDIDevices       = errors.New("no MIDI devices found")
	ErrCreateInputPort     = errors.New("error creating input port")
	ErrCreateOutputPort    = errors.New("error creating output port")
	ErrMIDIConnectionError = errors.New("error connecting to MIDI device")
	ErrUnknownEndpoint     = errors.New("unknown endpoint")
	ErrClosed              = errors.New("sequencer closed")
)

// Config selects the devices the sequencer talks to.
type Config struct {
	Logger contracts.Logger
	// Source restricts writable endpoints to sources whose name contains it.
	Source    string
	QueueSize int
}
