// Package seqwindows routes bridge ports through the winmm MIDI API. A
// writable endpoint opens a MIDI input device, a readable endpoint opens a
// MIDI output device.
package seqwindows

import (
	"errors"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// DefaultQueueSize is the number of received events held until the bridge reads them.
const DefaultQueueSize = 1024

var (
	ErrUnsupported       = errors.New("winmm MIDI is not available on this platform")
	ErrNoMIDIDevices     = errors.New("no MIDI devices found")
	ErrOpenDevice        = errors.New("failed to open MIDI device")
	ErrUnknownEndpoint   = errors.New("unknown endpoint")
	ErrSysExNotSupported = errors.New("system exclusive output is not supported")
	ErrClosed            = errors.New("sequencer closed")
)

// Config selects the winmm devices. Device ids index midiInGetNumDevs and
// midiOutGetNumDevs respectively.
type Config struct {
	Logger         contracts.Logger
	InputDeviceID  int
	OutputDeviceID int
	QueueSize      int
}

// shortMessage packs a channel or system message of up to three bytes the
// way midiOutShortMsg expects it.
func shortMessage(msg []byte) (uint32, error) {
	if len(msg) == 0 || len(msg) > 3 || msg[0] == 0xF0 {
		return 0, ErrSysExNotSupported
	}
	var w uint32
	for i, b := range msg {
		w |= uint32(b) << (8 * i)
	}
	return w, nil
}

// unpackShortMessage splits a MIM_DATA parameter into its three bytes.
func unpackShortMessage(param uintptr) [3]byte {
	return [3]byte{byte(param & 0xFF), byte((param >> 8) & 0xFF), byte((param >> 16) & 0xFF)}
}
