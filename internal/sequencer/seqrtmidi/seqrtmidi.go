// Package seqrtmidi publishes bridge ports as virtual MIDI ports of a gomidi
// driver. A writable endpoint is a virtual input other applications send to;
// a readable endpoint is a virtual output they can listen on.
package seqrtmidi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/multierr"
)

// DefaultQueueSize is the number of received events held until the bridge reads them.
const DefaultQueueSize = 1024

var (
	// ErrClosed is returned by every call on a closed sequencer.
	ErrClosed = errors.New("sequencer closed")
	// ErrUnknownEndpoint is returned by EmitDirect for a source it did not create.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// VirtualDriver is a gomidi driver able to create virtual ports, such as rtmididrv.
type VirtualDriver interface {
	OpenVirtualIn(name string) (drivers.In, error)
	OpenVirtualOut(name string) (drivers.Out, error)
}

type inPort interface {
	Listen(onMsg func(msg []byte, milliseconds int32), config drivers.ListenConfig) (func(), error)
	Close() error
}

type outPort interface {
	Send(data []byte) error
	Close() error
}

type portFactory interface {
	openIn(name string) (inPort, error)
	openOut(name string) (outPort, error)
}

type driverPorts struct{ drv VirtualDriver }

func (d driverPorts) openIn(name string) (inPort, error)   { return d.drv.OpenVirtualIn(name) }
func (d driverPorts) openOut(name string) (outPort, error) { return d.drv.OpenVirtualOut(name) }

// Config tunes the sequencer.
type Config struct {
	Logger    contracts.Logger
	QueueSize int
}

// Opener returns a contracts.SequencerOpener creating virtual ports on drv.
func Opener(drv VirtualDriver, cfg Config) contracts.SequencerOpener {
	return func(clientName string) (contracts.Sequencer, error) {
		if drv == nil {
			return nil, errors.New("no MIDI driver")
		}
		return newSequencer(clientName, driverPorts{drv}, cfg), nil
	}
}

type endpoint struct {
	name string
	in   inPort
	stop func()
	out  outPort
}

// Sequencer implements contracts.Sequencer.
type Sequencer struct {
	client string
	ports  portFactory
	log    contracts.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	closed    bool

	queue   chan contracts.SeqEvent
	dropped atomic.Uint64
}

func newSequencer(client string, ports portFactory, cfg Config) *Sequencer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Sequencer{
		client: client,
		ports:  ports,
		log:    cfg.Logger,
		queue:  make(chan contracts.SeqEvent, cfg.QueueSize),
	}
}

// CreatePort opens a virtual port named "<client>:<name>".
func (s *Sequencer) CreatePort(name string, caps contracts.SeqPortCaps) (contracts.EndpointID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return contracts.InvalidEndpoint, ErrClosed
	}

	full := s.client + ":" + name
	ep := &endpoint{name: full}
	id := contracts.EndpointID(len(s.endpoints))

	if caps&contracts.SeqWritable != 0 {
		in, err := s.ports.openIn(full)
		if err != nil {
			return contracts.InvalidEndpoint, fmt.Errorf("virtual input %s: %w", full, err)
		}
		stop, err := in.Listen(func(msg []byte, _ int32) {
			s.receive(id, msg)
		}, drivers.ListenConfig{SysEx: true, TimeCode: true})
		if err != nil {
			return contracts.InvalidEndpoint, multierr.Append(fmt.Errorf("listening on %s: %w", full, err), in.Close())
		}
		ep.in, ep.stop = in, stop
	}

	if caps&contracts.SeqReadable != 0 {
		out, err := s.ports.openOut(full)
		if err != nil {
			err = fmt.Errorf("virtual output %s: %w", full, err)
			if ep.in != nil {
				ep.stop()
				err = multierr.Append(err, ep.in.Close())
			}
			return contracts.InvalidEndpoint, err
		}
		ep.out = out
	}

	s.endpoints = append(s.endpoints, ep)
	return id, nil
}

// receive runs on the driver callback.
func (s *Sequencer) receive(dest contracts.EndpointID, msg []byte) {
	ev := contracts.SeqEvent{
		Source:  contracts.InvalidEndpoint,
		Dest:    dest,
		Message: midi.Message(append([]byte(nil), msg...)),
	}
	select {
	case s.queue <- ev:
	default:
		if s.dropped.Add(1) == 1 && s.log != nil {
			s.log.Warn("sequencer queue full; dropping MIDI events",
				s.log.Field().String("client", s.client))
		}
	}
}

// ReadEvent pops the next received event without blocking.
func (s *Sequencer) ReadEvent() (contracts.SeqEvent, bool, error) {
	select {
	case ev := <-s.queue:
		return ev, true, nil
	default:
		if s.isClosed() {
			return contracts.SeqEvent{}, false, ErrClosed
		}
		return contracts.SeqEvent{}, false, nil
	}
}

// EmitDirect sends ev.Message on the virtual output of ev.Source.
func (s *Sequencer) EmitDirect(ev contracts.SeqEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var out outPort
	if id := int(ev.Source); id >= 0 && id < len(s.endpoints) {
		out = s.endpoints[id].out
	}
	s.mu.Unlock()

	if out == nil {
		return fmt.Errorf("%w: %d", ErrUnknownEndpoint, ev.Source)
	}
	return out.Send(ev.Message)
}

// Dropped returns the number of received events lost to a full queue.
func (s *Sequencer) Dropped() uint64 { return s.dropped.Load() }

func (s *Sequencer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops listening and closes every virtual port.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for _, ep := range s.endpoints {
		if ep.in != nil {
			ep.stop()
			err = multierr.Append(err, ep.in.Close())
		}
		if ep.out != nil {
			err = multierr.Append(err, ep.out.Close())
		}
	}
	s.endpoints = nil
	return err
}
