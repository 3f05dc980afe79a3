package contracts

import "gitlab.com/gomidi/midi/v2"

// EndpointID identifies a sequencer port.
type EndpointID int

// InvalidEndpoint marks a disabled MIDI port.
const InvalidEndpoint EndpointID = -1

// SeqPortCaps describe what other sequencer clients can do with a port.
type SeqPortCaps int

const (
	// SeqReadable ports publish events captured from the hardware.
	SeqReadable SeqPortCaps = 1 << iota
	// SeqWritable ports accept events bound for the hardware.
	SeqWritable
)

// SeqEvent is a complete MIDI event routed through the sequencer.
type SeqEvent struct {
	Source      EndpointID
	Dest        EndpointID
	Message     midi.Message
	Direct      bool // deliver immediately, bypassing any queue
	Subscribers bool // deliver to every subscriber of Source
}

// Sequencer is the system MIDI routing service.
type Sequencer interface {
	// CreatePort registers a named endpoint.
	CreatePort(name string, caps SeqPortCaps) (EndpointID, error)
	// ReadEvent returns the next pending event without blocking; ok is false
	// when nothing is pending.
	ReadEvent() (ev SeqEvent, ok bool, err error)
	// EmitDirect delivers an event immediately.
	EmitDirect(ev SeqEvent) error
	Close() error
}

// SequencerOpener opens a sequencer client with the given name.
type SequencerOpener func(clientName string) (Sequencer, error)
