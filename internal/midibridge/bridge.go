package midibridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leandrodaf/fwaudio/internal/rtthread"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

const (
	// DefaultClientName is the sequencer client name used when none is configured.
	DefaultClientName = "fwaudio MIDI"
	// DefaultPollInterval is the sleep between two passes of a MIDI task.
	DefaultPollInterval = 100 * time.Microsecond
	// TransmitBufferSize is the size of the per-port encode and decode buffers.
	TransmitBufferSize = 1024

	readChunk = 64
)

var (
	// ErrNoSequencer is returned when no sequencer is available for the bridge.
	ErrNoSequencer = errors.New("no MIDI sequencer available")
	// ErrTaskStart is returned when a MIDI task cannot be started.
	ErrTaskStart = errors.New("cannot start MIDI task")
	// ErrUnknownDestination is reported for sequencer events addressed to no known port.
	ErrUnknownDestination = errors.New("MIDI event for unknown port")
	// ErrSendOverrun is reported when the transport rejects a MIDI byte.
	ErrSendOverrun = errors.New("MIDI send buffer overrun")
)

var startTask = rtthread.Start

// Config describes the transport and sequencer a bridge connects.
type Config struct {
	Transport    contracts.Transport
	Open         contracts.SequencerOpener
	Logger       contracts.Logger
	ClientName   string
	BasePriority int  // engine realtime priority
	Realtime     bool // run the tasks with realtime scheduling
	PollInterval time.Duration
	StartTask    rtthread.StartFunc // defaults to rtthread.Start
}

// Port is the state of one bridged MIDI stream. Disabled ports have Stream
// set to -1 and are skipped by both tasks.
type Port struct {
	Name     string
	Stream   int
	Endpoint contracts.EndpointID

	codec *Codec
	work  []byte   // encoded bytes of the event in flight
	word  []uint32 // single transport word
	rbuf  []uint32 // raw words read from the transport
}

// Enabled reports whether the port has a usable stream, endpoint and codec.
func (p *Port) Enabled() bool {
	return p.Stream >= 0 && p.Endpoint != contracts.InvalidEndpoint && p.codec != nil
}

// Bridge moves MIDI between transport streams and sequencer endpoints using a
// queue task (sequencer to hardware) and a dequeue task (hardware to sequencer).
type Bridge struct {
	cfg       Config
	log       contracts.Logger
	transport contracts.Transport
	seq       contracts.Sequencer

	inputs  []*Port // capture streams, published to the sequencer
	outputs []*Port // playback streams, fed from the sequencer

	mu          sync.Mutex
	queueTask   *rtthread.Task
	dequeueTask *rtthread.Task
}

// New opens the sequencer and creates one endpoint per MIDI stream of the
// transport. A failure on a single port disables that port only.
func New(cfg Config) (*Bridge, error) {
	if cfg.Open == nil {
		return nil, ErrNoSequencer
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	seq, err := cfg.Open(cfg.ClientName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSequencer, err)
	}

	b := &Bridge{cfg: cfg, log: cfg.Logger, transport: cfg.Transport, seq: seq}
	b.inputs = b.createPorts(contracts.Capture, contracts.SeqReadable)
	b.outputs = b.createPorts(contracts.Playback, contracts.SeqWritable)

	b.log.Info("MIDI bridge initialized",
		b.log.Field().String("client", cfg.ClientName),
		b.log.Field().Int("inputs", len(b.inputs)),
		b.log.Field().Int("outputs", len(b.outputs)))
	return b, nil
}

func (b *Bridge) createPorts(dir contracts.Direction, caps contracts.SeqPortCaps) []*Port {
	var ports []*Port
	for i := 0; i < b.transport.StreamCount(dir); i++ {
		if b.transport.StreamKind(dir, i) != contracts.StreamMIDI {
			continue
		}

		p := &Port{
			Name:     b.transport.StreamName(dir, i),
			Stream:   i,
			Endpoint: contracts.InvalidEndpoint,
			word:     make([]uint32, 1),
			rbuf:     make([]uint32, readChunk),
		}
		ports = append(ports, p)

		id, err := b.seq.CreatePort(p.Name, caps)
		if err != nil {
			b.log.Error("cannot create MIDI port",
				b.log.Field().String("port", p.Name),
				b.log.Field().String("direction", dir.String()),
				b.log.Field().Error("error", err))
			p.Stream = -1
			continue
		}
		p.Endpoint = id

		codec, err := NewCodec(TransmitBufferSize)
		if err != nil {
			b.log.Error("cannot create MIDI codec",
				b.log.Field().String("port", p.Name),
				b.log.Field().Error("error", err))
			p.Stream = -1
			p.Endpoint = contracts.InvalidEndpoint
			continue
		}
		p.codec = codec
		p.work = make([]byte, TransmitBufferSize)

		b.log.Debug("MIDI port created",
			b.log.Field().String("port", p.Name),
			b.log.Field().String("direction", dir.String()),
			b.log.Field().Int("stream", i),
			b.log.Field().Int("endpoint", int(id)))
	}
	return ports
}

// Inputs returns the capture-side ports.
func (b *Bridge) Inputs() []*Port { return b.inputs }

// Outputs returns the playback-side ports.
func (b *Bridge) Outputs() []*Port { return b.outputs }

// Start launches the queue and dequeue tasks at the engine priority plus
// MIDIRelativePriority. If either cannot be started, neither keeps running.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queueTask != nil || b.dequeueTask != nil {
		return nil
	}

	prio := rtthread.ComputePriority(b.cfg.BasePriority, rtthread.MIDIRelativePriority, b.cfg.Realtime)

	start := b.cfg.StartTask
	if start == nil {
		start = startTask
	}

	queue, err := start("midi-queue", prio, b.queueLoop)
	if err != nil {
		return fmt.Errorf("%w: queue: %v", ErrTaskStart, err)
	}

	dequeue, err := start("midi-dequeue", prio, b.dequeueLoop)
	if err != nil {
		queue.Stop()
		return fmt.Errorf("%w: dequeue: %v", ErrTaskStart, err)
	}

	b.queueTask, b.dequeueTask = queue, dequeue
	b.log.Info("MIDI bridge started",
		b.log.Field().Int("priority", prio.Value),
		b.log.Field().Bool("realtime", prio.Realtime))
	return nil
}

// Stop cancels and joins the queue task, then the dequeue task. It does
// nothing when the bridge is not running.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queueTask == nil && b.dequeueTask == nil {
		return
	}

	b.queueTask.Stop()
	b.dequeueTask.Stop()
	b.queueTask, b.dequeueTask = nil, nil
	b.log.Info("MIDI bridge stopped")
}

// Running reports whether the tasks are started.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueTask != nil
}

// Finish stops the tasks if needed, releases the codecs and closes the sequencer.
func (b *Bridge) Finish() error {
	b.Stop()

	for _, ports := range [][]*Port{b.inputs, b.outputs} {
		for _, p := range ports {
			p.codec = nil
			p.Stream = -1
		}
	}

	if b.seq == nil {
		return nil
	}
	err := b.seq.Close()
	b.seq = nil
	if err != nil {
		return fmt.Errorf("closing sequencer: %w", err)
	}
	return nil
}

// pause sleeps one poll interval measured from now. It returns false once ctx is done.
func (b *Bridge) pause(ctx context.Context, timer *time.Timer) bool {
	timer.Reset(b.cfg.PollInterval)
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func newPollTimer() *time.Timer {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	return timer
}

func (b *Bridge) outputByEndpoint(id contracts.EndpointID) *Port {
	for _, p := range b.outputs {
		if p.Endpoint == id && p.Enabled() {
			return p
		}
	}
	return nil
}
