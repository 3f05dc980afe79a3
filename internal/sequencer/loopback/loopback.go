// Package loopback is an in-memory sequencer. Events sent to one of its
// endpoints are queued for the driver, and events the driver emits are kept
// for inspection and fanned out to subscribers.
package loopback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
)

var (
	// ErrClosed is returned by every call on a closed sequencer.
	ErrClosed = errors.New("sequencer closed")
	// ErrNoEndpoint is returned by Send for an unknown or read-only endpoint.
	ErrNoEndpoint = errors.New("no such writable endpoint")
)

type endpoint struct {
	name string
	caps contracts.SeqPortCaps
}

// Sequencer is a contracts.Sequencer kept entirely in memory.
type Sequencer struct {
	mu          sync.Mutex
	client      string
	endpoints   []endpoint
	pending     []contracts.SeqEvent
	emitted     []contracts.SeqEvent
	subscribers []chan contracts.SeqEvent
	failCreate  map[string]error
	closed      bool
}

// New returns an empty sequencer.
func New() *Sequencer {
	return &Sequencer{failCreate: map[string]error{}}
}

// Open hands the sequencer out as a client named clientName. It matches
// contracts.SequencerOpener.
func (s *Sequencer) Open(clientName string) (contracts.Sequencer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.client = clientName
	return s, nil
}

// ClientName returns the name the sequencer was opened with.
func (s *Sequencer) ClientName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// FailCreate makes CreatePort fail with err for the named port.
func (s *Sequencer) FailCreate(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate[name] = err
}

func (s *Sequencer) CreatePort(name string, caps contracts.SeqPortCaps) (contracts.EndpointID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return contracts.InvalidEndpoint, ErrClosed
	}
	if err, ok := s.failCreate[name]; ok {
		return contracts.InvalidEndpoint, err
	}
	s.endpoints = append(s.endpoints, endpoint{name: name, caps: caps})
	return contracts.EndpointID(len(s.endpoints) - 1), nil
}

// Endpoint looks up an endpoint by name.
func (s *Sequencer) Endpoint(name string) (contracts.EndpointID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.endpoints {
		if e.name == name {
			return contracts.EndpointID(i), true
		}
	}
	return contracts.InvalidEndpoint, false
}

// Send queues msg for delivery to a writable endpoint.
func (s *Sequencer) Send(dest contracts.EndpointID, msg midi.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if int(dest) < 0 || int(dest) >= len(s.endpoints) || s.endpoints[dest].caps&contracts.SeqWritable == 0 {
		return fmt.Errorf("%w: %d", ErrNoEndpoint, dest)
	}
	s.pending = append(s.pending, contracts.SeqEvent{Dest: dest, Message: msg})
	return nil
}

// Inject queues a raw event, without validating its destination.
func (s *Sequencer) Inject(ev contracts.SeqEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, ev)
}

func (s *Sequencer) ReadEvent() (contracts.SeqEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return contracts.SeqEvent{}, false, ErrClosed
	}
	if len(s.pending) == 0 {
		return contracts.SeqEvent{}, false, nil
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true, nil
}

func (s *Sequencer) EmitDirect(ev contracts.SeqEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.emitted = append(s.emitted, ev)
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Emitted returns a copy of every event emitted so far.
func (s *Sequencer) Emitted() []contracts.SeqEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contracts.SeqEvent(nil), s.emitted...)
}

// Pending returns the number of queued events not yet read.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Subscribe returns a channel receiving emitted events. Events are dropped
// when the channel is full. The channel is closed by Close.
func (s *Sequencer) Subscribe(size int) <-chan contracts.SeqEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan contracts.SeqEvent, size)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *Sequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	return nil
}
