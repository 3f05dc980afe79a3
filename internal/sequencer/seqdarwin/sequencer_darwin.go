//go:build darwin

package seqdarwin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/leandrodaf/fwaudio/internal/midibridge"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"github.com/youpy/go-coremidi"
	"go.uber.org/multierr"
)

// portConnection is the handle returned when an input port is connected to a source.
type portConnection interface {
	Disconnect()
}

type endpoint struct {
	name  string
	caps  contracts.SeqPortCaps
	input coremidi.InputPort
	conns []portConnection

	mu    sync.Mutex // guards codec, fed from CoreMIDI callbacks
	codec *midibridge.Codec
}

// Sequencer implements contracts.Sequencer over CoreMIDI.
type Sequencer struct {
	cfg    Config
	logger contracts.Logger
	client coremidi.Client

	mu        sync.Mutex
	output    *coremidi.OutputPort
	endpoints []*endpoint
	closed    bool

	queue chan contracts.SeqEvent
	wg    sync.WaitGroup // callbacks in flight
}

// Open returns a contracts.SequencerOpener creating a CoreMIDI client.
func Open(cfg Config) contracts.SequencerOpener {
	return func(clientName string) (contracts.Sequencer, error) {
		client, err := coremidi.NewClient(clientName)
		if err != nil {
			return nil, err
		}
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = DefaultQueueSize
		}
		if cfg.Logger != nil {
			cfg.Logger.Info("CoreMIDI client successfully created", cfg.Logger.Field().String("client", clientName))
		}
		return &Sequencer{
			cfg:    cfg,
			logger: cfg.Logger,
			client: client,
			queue:  make(chan contracts.SeqEvent, cfg.QueueSize),
		}, nil
	}
}

// CreatePort registers an endpoint. A writable endpoint connects an input port
// to every matching source; a readable endpoint shares the client output port.
func (s *Sequencer) CreatePort(name string, caps contracts.SeqPortCaps) (contracts.EndpointID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return contracts.InvalidEndpoint, ErrClosed
	}

	id := contracts.EndpointID(len(s.endpoints))
	ep := &endpoint{name: name, caps: caps}

	if caps&contracts.SeqWritable != 0 {
		if err := s.connectSources(id, ep); err != nil {
			return contracts.InvalidEndpoint, err
		}
	}

	if caps&contracts.SeqReadable != 0 && s.output == nil {
		out, err := coremidi.NewOutputPort(s.client, "fwaudio output")
		if err != nil {
			ep.disconnect()
			return contracts.InvalidEndpoint, fmt.Errorf("%w: %v", ErrCreateOutputPort, err)
		}
		s.output = &out
	}

	s.endpoints = append(s.endpoints, ep)
	return id, nil
}

func (s *Sequencer) connectSources(id contracts.EndpointID, ep *endpoint) error {
	sources, err := coremidi.AllSources()
	if err != nil {
		return fmt.Errorf("error listing MIDI sources: %w", err)
	}

	codec, err := midibridge.NewCodec(midibridge.TransmitBufferSize)
	if err != nil {
		return err
	}
	ep.codec = codec

	ep.input, err = coremidi.NewInputPort(s.client, ep.name, func(_ coremidi.Source, packet coremidi.Packet) {
		s.handlePacket(id, ep, packet)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateInputPort, err)
	}

	for _, source := range sources {
		if s.cfg.Source != "" && !strings.Contains(source.Name(), s.cfg.Source) {
			continue
		}
		conn, err := ep.input.Connect(source)
		if err != nil {
			ep.disconnect()
			return fmt.Errorf("%w: %s: %v", ErrMIDIConnectionError, source.Name(), err)
		}
		ep.conns = append(ep.conns, conn)
		if s.logger != nil {
			s.logger.Info("MIDI source connected",
				s.logger.Field().String("port", ep.name),
				s.logger.Field().String("source", source.Name()))
		}
	}

	if len(ep.conns) == 0 && s.logger != nil {
		s.logger.Warn(ErrNoMIDIDevices.Error(), s.logger.Field().String("port", ep.name))
	}
	return nil
}

// handlePacket splits a CoreMIDI packet into messages and queues them.
func (s *Sequencer) handlePacket(id contracts.EndpointID, ep *endpoint, packet coremidi.Packet) {
	s.wg.Add(1)
	defer s.wg.Done()

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.codec == nil {
		return
	}

	for _, b := range packet.Data {
		msg, ok, err := ep.codec.Decode(b)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("malformed MIDI packet", s.logger.Field().Error("error", err))
			}
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.queue <- contracts.SeqEvent{Source: contracts.InvalidEndpoint, Dest: id, Message: msg}:
		default:
			if s.logger != nil {
				s.logger.Warn("Event buffer full; dropping MIDI event")
			}
		}
	}
}

func (ep *endpoint) disconnect() {
	for _, c := range ep.conns {
		c.Disconnect()
	}
	ep.conns = nil
	ep.mu.Lock()
	ep.codec = nil
	ep.mu.Unlock()
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

// EmitDirect sends ev.Message to every CoreMIDI destination.
func (s *Sequencer) EmitDirect(ev contracts.SeqEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	id := int(ev.Source)
	if id < 0 || id >= len(s.endpoints) || s.endpoints[id].caps&contracts.SeqReadable == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownEndpoint, ev.Source)
	}

	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return fmt.Errorf("error listing MIDI destinations: %w", err)
	}

	packet := coremidi.NewPacket(ev.Message, 0)
	for i := range destinations {
		err = multierr.Append(err, packet.Send(s.output, &destinations[i]))
	}
	return err
}

// Close disconnects every source and waits for callbacks in flight.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, ep := range s.endpoints {
		ep.disconnect()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.logger != nil {
		s.logger.Info("CoreMIDI sequencer closed")
	}
	return nil
}
