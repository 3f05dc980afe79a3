//go:build windows

package seqwindows

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/leandrodaf/fwaudio/internal/midibridge"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"go.uber.org/multierr"
	"golang.org/x/sys/windows"
)

// Constants for callback flags
const (
	CALLBACK_FUNCTION = 0x00030000
	MIDI_IO_STATUS    = 0x00000020
)

// Constants for MIDI input message types
const (
	MIM_OPEN      = 0x3C1
	MIM_CLOSE     = 0x3C2
	MIM_DATA      = 0x3C3
	MIM_ERROR     = 0x3C5
	MIM_LONGERROR = 0x3C6
	MIM_MOREDATA  = 0x3CC
)

// Load the winmm.dll library and required functions
var (
	winmm                 = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs  = winmm.NewProc("midiInGetNumDevs")
	procMidiInOpen        = winmm.NewProc("midiInOpen")
	procMidiInStart       = winmm.NewProc("midiInStart")
	procMidiInStop        = winmm.NewProc("midiInStop")
	procMidiInClose       = winmm.NewProc("midiInClose")
	procMidiOutGetNumDevs = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutOpen       = winmm.NewProc("midiOutOpen")
	procMidiOutShortMsg   = winmm.NewProc("midiOutShortMsg")
	procMidiOutClose      = winmm.NewProc("midiOutClose")
)

var (
	callbackOnce sync.Once
	callbackPtr  uintptr

	// instances maps the callback instance value to its endpoint.
	instances   sync.Map
	instanceSeq uintptr
	instanceMu  sync.Mutex
)

type endpoint struct {
	seq      *Sequencer
	id       contracts.EndpointID
	instance uintptr
	in       windows.Handle
	out      windows.Handle

	mu    sync.Mutex
	codec *midibridge.Codec
}

// Sequencer implements contracts.Sequencer over winmm.
type Sequencer struct {
	cfg    Config
	logger contracts.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	closed    bool

	queue chan contracts.SeqEvent
}

// Open returns a contracts.SequencerOpener for the configured devices.
func Open(cfg Config) contracts.SequencerOpener {
	return func(clientName string) (contracts.Sequencer, error) {
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = DefaultQueueSize
		}
		if cfg.Logger != nil {
			cfg.Logger.Info("MIDI sequencer created for Windows", cfg.Logger.Field().String("client", clientName))
		}
		return &Sequencer{cfg: cfg, logger: cfg.Logger, queue: make(chan contracts.SeqEvent, cfg.QueueSize)}, nil
	}
}

// CreatePort opens the input and/or output device the endpoint needs.
func (s *Sequencer) CreatePort(name string, caps contracts.SeqPortCaps) (contracts.EndpointID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return contracts.InvalidEndpoint, ErrClosed
	}

	ep := &endpoint{seq: s, id: contracts.EndpointID(len(s.endpoints))}

	if caps&contracts.SeqWritable != 0 {
		if err := s.openInput(ep); err != nil {
			return contracts.InvalidEndpoint, err
		}
	}
	if caps&contracts.SeqReadable != 0 {
		if err := s.openOutput(ep); err != nil {
			return contracts.InvalidEndpoint, multierr.Append(err, ep.close())
		}
	}

	s.endpoints = append(s.endpoints, ep)
	if s.logger != nil {
		s.logger.Info("MIDI port created", s.logger.Field().String("port", name))
	}
	return ep.id, nil
}

func (s *Sequencer) openInput(ep *endpoint) error {
	r0, _, _ := procMidiInGetNumDevs.Call()
	if int(r0) <= s.cfg.InputDeviceID {
		return fmt.Errorf("%w: input %d", ErrNoMIDIDevices, s.cfg.InputDeviceID)
	}

	codec, err := midibridge.NewCodec(midibridge.TransmitBufferSize)
	if err != nil {
		return err
	}
	ep.codec = codec

	callbackOnce.Do(func() { callbackPtr = windows.NewCallback(midiInCallback) })

	instanceMu.Lock()
	instanceSeq++
	ep.instance = instanceSeq
	instanceMu.Unlock()
	instances.Store(ep.instance, ep)

	r1, _, callErr := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&ep.in)),
		uintptr(s.cfg.InputDeviceID),
		callbackPtr,
		ep.instance,
		uintptr(CALLBACK_FUNCTION|MIDI_IO_STATUS),
	)
	if r1 != 0 {
		instances.Delete(ep.instance)
		return fmt.Errorf("%w: input %d: %v", ErrOpenDevice, s.cfg.InputDeviceID, callErr)
	}

	if r1, _, callErr = procMidiInStart.Call(uintptr(ep.in)); r1 != 0 {
		_ = ep.close()
		return fmt.Errorf("%w: starting input %d: %v", ErrOpenDevice, s.cfg.InputDeviceID, callErr)
	}
	return nil
}

func (s *Sequencer) openOutput(ep *endpoint) error {
	r0, _, _ := procMidiOutGetNumDevs.Call()
	if int(r0) <= s.cfg.OutputDeviceID {
		return fmt.Errorf("%w: output %d", ErrNoMIDIDevices, s.cfg.OutputDeviceID)
	}

	r1, _, callErr := procMidiOutOpen.Call(
		uintptr(unsafe.Pointer(&ep.out)),
		uintptr(s.cfg.OutputDeviceID),
		0, 0, 0,
	)
	if r1 != 0 {
		return fmt.Errorf("%w: output %d: %v", ErrOpenDevice, s.cfg.OutputDeviceID, callErr)
	}
	return nil
}

// midiInCallback processes incoming MIDI messages
func midiInCallback(hMidiIn uintptr, wMsg uint32, dwInstance uintptr, dwParam1 uintptr, dwParam2 uintptr) uintptr {
	v, ok := instances.Load(dwInstance)
	if !ok {
		return 0
	}
	ep := v.(*endpoint)
	log := ep.seq.logger

	switch wMsg {
	case MIM_DATA:
		ep.receive(unpackShortMessage(dwParam1))
	case MIM_ERROR, MIM_LONGERROR:
		if log != nil {
			log.Error(fmt.Sprintf("MIDI error: msg=0x%X", wMsg))
		}
	case MIM_OPEN, MIM_CLOSE, MIM_MOREDATA:
	default:
		if log != nil {
			log.Warn(fmt.Sprintf("Unknown MIDI message: 0x%X", wMsg))
		}
	}
	return 0
}

func (ep *endpoint) receive(data [3]byte) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.codec == nil {
		return
	}

	for _, b := range data {
		msg, ok, err := ep.codec.Decode(b)
		if err != nil || !ok {
			continue
		}
		select {
		case ep.seq.queue <- contracts.SeqEvent{Source: contracts.InvalidEndpoint, Dest: ep.id, Message: msg}:
		default:
			if log := ep.seq.logger; log != nil {
				log.Warn("MIDI event channel is full; event discarded")
			}
		}
		return
	}
}

func (ep *endpoint) close() error {
	var err error
	if ep.in != 0 {
		if r1, _, callErr := procMidiInStop.Call(uintptr(ep.in)); r1 != 0 {
			err = multierr.Append(err, fmt.Errorf("failed to stop MIDI input: %v", callErr))
		}
		if r1, _, callErr := procMidiInClose.Call(uintptr(ep.in)); r1 != 0 {
			err = multierr.Append(err, fmt.Errorf("failed to close MIDI input: %v", callErr))
		}
		ep.in = 0
	}
	if ep.instance != 0 {
		instances.Delete(ep.instance)
	}
	if ep.out != 0 {
		if r1, _, callErr := procMidiOutClose.Call(uintptr(ep.out)); r1 != 0 {
			err = multierr.Append(err, fmt.Errorf("failed to close MIDI output: %v", callErr))
		}
		ep.out = 0
	}
	ep.mu.Lock()
	ep.codec = nil
	ep.mu.Unlock()
	return err
}

// ReadEvent pops the next received event without blocking.
func (s *Sequencer) ReadEvent() (contracts.SeqEvent, bool, error) {
	select {
	case ev := <-s.queue:
		return ev, true, nil
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return contracts.SeqEvent{}, false, ErrClosed
	}
	return contracts.SeqEvent{}, false, nil
}

// EmitDirect sends a short message on the output device of ev.Source.
func (s *Sequencer) EmitDirect(ev contracts.SeqEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	id := int(ev.Source)
	if id < 0 || id >= len(s.endpoints) || s.endpoints[id].out == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownEndpoint, ev.Source)
	}

	w, err := shortMessage(ev.Message)
	if err != nil {
		return err
	}
	if r1, _, callErr := procMidiOutShortMsg.Call(uintptr(s.endpoints[id].out), uintptr(w)); r1 != 0 {
		return fmt.Errorf("midiOutShortMsg: %v", callErr)
	}
	return nil
}

// Close stops and closes every device.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for _, ep := range s.endpoints {
		err = multierr.Append(err, ep.close())
	}
	if s.logger != nil {
		s.logger.Info("MIDI devices closed")
	}
	return err
}
