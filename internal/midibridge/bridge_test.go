package midibridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leandrodaf/fwaudio/internal/logger"
	"github.com/leandrodaf/fwaudio/internal/rtthread"
	"github.com/leandrodaf/fwaudio/internal/sequencer/loopback"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	transport *fakeTransport
	seq       *loopback.Sequencer
	logs      *observer.ObservedLogs
	bridge    *Bridge
}

func newFixture(t *testing.T, capture, playback []contracts.StreamKind) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewZapLoggerFrom(zap.New(core))
	log.SetLevel(contracts.DebugLevel)

	f := &fixture{transport: newFakeTransport(capture, playback), seq: loopback.New(), logs: logs}
	b, err := New(Config{
		Transport:    f.transport,
		Open:         f.seq.Open,
		Logger:       log,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	f.bridge = b
	t.Cleanup(func() { _ = b.Finish() })
	return f
}

var (
	audio = contracts.StreamAudio
	midiK = contracts.StreamMIDI
	other = contracts.StreamOther
)

func TestNew_CreatesPortsForMIDIStreamsOnly(t *testing.T) {
	f := newFixture(t, []contracts.StreamKind{audio, midiK, other, midiK}, []contracts.StreamKind{audio, midiK})

	require.Len(t, f.bridge.Inputs(), 2)
	require.Len(t, f.bridge.Outputs(), 1)
	assert.Equal(t, 1, f.bridge.Inputs()[0].Stream)
	assert.Equal(t, 3, f.bridge.Inputs()[1].Stream)
	assert.Equal(t, 1, f.bridge.Outputs()[0].Stream)
	assert.Equal(t, DefaultClientName, f.seq.ClientName())
	for _, p := range append(f.bridge.Inputs(), f.bridge.Outputs()...) {
		assert.True(t, p.Enabled())
	}
}

func TestNew_NoSequencer(t *testing.T) {
	_, err := New(Config{Transport: newFakeTransport(nil, nil), Logger: logger.NewZapLogger()})
	assert.ErrorIs(t, err, ErrNoSequencer)

	boom := errors.New("no seq daemon")
	_, err = New(Config{
		Transport: newFakeTransport(nil, nil),
		Logger:    logger.NewZapLogger(),
		Open:      func(string) (contracts.Sequencer, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, ErrNoSequencer)
}

func TestNew_FailedEndpointDisablesOnlyThatPort(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	seq := loopback.New()
	tr := newFakeTransport([]contracts.StreamKind{midiK, midiK}, nil)
	seq.FailCreate(tr.StreamName(contracts.Capture, 0), errors.New("busy"))

	b, err := New(Config{Transport: tr, Open: seq.Open, Logger: logger.NewZapLoggerFrom(zap.New(core))})
	require.NoError(t, err)
	defer b.Finish()

	require.Len(t, b.Inputs(), 2)
	assert.False(t, b.Inputs()[0].Enabled())
	assert.Equal(t, -1, b.Inputs()[0].Stream)
	assert.Equal(t, contracts.InvalidEndpoint, b.Inputs()[0].Endpoint)
	assert.True(t, b.Inputs()[1].Enabled())
	assert.Equal(t, 1, logs.FilterMessage("cannot create MIDI port").Len())

	// the disabled port is never read
	tr.feed(0, 0x90, 60, 100)
	b.drainStream(context.Background(), b.Inputs()[1])
	assert.Empty(t, seq.Emitted())
}

func TestQueue_ForwardsEncodedBytes(t *testing.T) {
	f := newFixture(t, nil, []contracts.StreamKind{audio, midiK})
	out := f.bridge.Outputs()[0]

	require.NoError(t, f.seq.Send(out.Endpoint, midi.NoteOn(0, 60, 100)))
	require.NoError(t, f.seq.Send(out.Endpoint, midi.NoteOn(0, 62, 100)))
	f.bridge.drainSequencer(context.Background())

	assert.Equal(t, []byte{0x90, 60, 100, 62, 100}, f.transport.writtenBytes(1))
	assert.Zero(t, f.seq.Pending())
}

func TestQueue_UnknownDestinationIsLoggedOnceAndSkipped(t *testing.T) {
	f := newFixture(t, nil, []contracts.StreamKind{midiK})
	out := f.bridge.Outputs()[0]

	f.seq.Inject(contracts.SeqEvent{Dest: 42, Message: midi.NoteOn(0, 1, 1)})
	require.NoError(t, f.seq.Send(out.Endpoint, midi.NoteOff(0, 60)))
	f.bridge.drainSequencer(context.Background())

	assert.Equal(t, 1, f.logs.FilterMessage(ErrUnknownDestination.Error()).Len())
	assert.Equal(t, []byte{0x80, 60, 0}, f.transport.writtenBytes(0))
}

func TestQueue_OverrunAbandonsRestOfEvent(t *testing.T) {
	f := newFixture(t, nil, []contracts.StreamKind{midiK})
	out := f.bridge.Outputs()[0]
	f.transport.accept[0] = 2

	require.NoError(t, f.seq.Send(out.Endpoint, midi.NoteOn(0, 60, 100)))
	f.bridge.drainSequencer(context.Background())

	assert.Equal(t, []byte{0x90, 60}, f.transport.writtenBytes(0))
	require.Equal(t, 1, f.logs.FilterMessage(ErrSendOverrun.Error()).Len())
	assert.EqualValues(t, 1, f.logs.FilterMessage(ErrSendOverrun.Error()).All()[0].ContextMap()["dropped"])

	// the next event starts with its status byte again
	f.transport.accept[0] = -1
	require.NoError(t, f.seq.Send(out.Endpoint, midi.NoteOn(0, 61, 100)))
	f.bridge.drainSequencer(context.Background())
	assert.Equal(t, []byte{0x90, 60, 0x90, 61, 100}, f.transport.writtenBytes(0))
}

func TestQueue_EncodeFailureDropsEvent(t *testing.T) {
	f := newFixture(t, nil, []contracts.StreamKind{midiK})
	out := f.bridge.Outputs()[0]

	f.seq.Inject(contracts.SeqEvent{Dest: out.Endpoint, Message: midi.Message{}})
	f.bridge.drainSequencer(context.Background())

	assert.Empty(t, f.transport.writtenBytes(0))
	assert.Equal(t, 1, f.logs.FilterMessage("MIDI event dropped").Len())
}

func TestDequeue_EmitsCompleteEvents(t *testing.T) {
	f := newFixture(t, []contracts.StreamKind{midiK}, nil)
	in := f.bridge.Inputs()[0]

	// more than one read chunk, with running status and a byte in the upper bits
	data := []byte{0x90, 60, 100}
	for i := 0; i < 40; i++ {
		data = append(data, byte(61+i%10), 90)
	}
	f.transport.feed(0, data...)
	f.bridge.drainStream(context.Background(), in)

	emitted := f.seq.Emitted()
	require.Len(t, emitted, 41)
	assert.Equal(t, midi.NoteOn(0, 60, 100), emitted[0].Message)
	assert.Equal(t, midi.Message{0x90, 61, 90}, emitted[1].Message)
	for _, ev := range emitted {
		assert.Equal(t, in.Endpoint, ev.Source)
		assert.True(t, ev.Direct)
		assert.True(t, ev.Subscribers)
	}
}

func TestDequeue_ParseErrorIsLogged(t *testing.T) {
	f := newFixture(t, []contracts.StreamKind{midiK}, nil)

	f.transport.feed(0, 0x40, 0xC0, 3)
	f.bridge.drainStream(context.Background(), f.bridge.Inputs()[0])

	assert.Equal(t, 1, f.logs.FilterMessage("MIDI input byte dropped").Len())
	require.Len(t, f.seq.Emitted(), 1)
	assert.Equal(t, midi.Message{0xC0, 3}, f.seq.Emitted()[0].Message)
}

func TestBridge_StartStop(t *testing.T) {
	f := newFixture(t, []contracts.StreamKind{midiK}, []contracts.StreamKind{midiK})

	require.NoError(t, f.bridge.Start())
	require.NoError(t, f.bridge.Start())
	assert.True(t, f.bridge.Running())

	require.NoError(t, f.seq.Send(f.bridge.Outputs()[0].Endpoint, midi.NoteOn(0, 60, 1)))
	f.transport.feed(0, 0xB0, 7, 127)

	require.Eventually(t, func() bool {
		return len(f.transport.writtenBytes(0)) == 3 && len(f.seq.Emitted()) == 1
	}, time.Second, time.Millisecond)

	f.bridge.Stop()
	f.bridge.Stop()
	assert.False(t, f.bridge.Running())
	assert.Equal(t, 1, f.logs.FilterMessage("MIDI bridge stopped").Len())
}

func TestBridge_StopWithoutStart(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.bridge.Stop()
	assert.Zero(t, f.logs.FilterMessage("MIDI bridge stopped").Len())
}

func TestBridge_StartFailureCancelsStartedTask(t *testing.T) {
	f := newFixture(t, nil, []contracts.StreamKind{midiK})

	var queue *rtthread.Task
	var calls atomic.Int32
	startTask = func(name string, prio rtthread.Priority, fn func(context.Context)) (*rtthread.Task, error) {
		if calls.Add(1) == 2 {
			return nil, rtthread.ErrTaskStart
		}
		task, err := rtthread.Start(name, prio, fn)
		queue = task
		return task, err
	}
	defer func() { startTask = rtthread.Start }()

	err := f.bridge.Start()
	assert.ErrorIs(t, err, ErrTaskStart)
	assert.False(t, f.bridge.Running())

	require.NotNil(t, queue)
	select {
	case <-queue.Done():
	default:
		t.Fatal("queue task still running")
	}
}

func TestBridge_PriorityOffset(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.bridge.cfg.BasePriority = 70

	var got rtthread.Priority
	startTask = func(name string, prio rtthread.Priority, fn func(context.Context)) (*rtthread.Task, error) {
		got = prio
		return rtthread.Start(name, rtthread.Priority{}, fn)
	}
	defer func() { startTask = rtthread.Start }()

	require.NoError(t, f.bridge.Start())
	f.bridge.Stop()
	assert.Equal(t, rtthread.Priority{Value: 74, Realtime: false}, got)
}

func TestBridge_FinishClosesSequencer(t *testing.T) {
	f := newFixture(t, []contracts.StreamKind{midiK}, nil)
	require.NoError(t, f.bridge.Start())

	require.NoError(t, f.bridge.Finish())
	assert.False(t, f.bridge.Running())
	assert.False(t, f.bridge.Inputs()[0].Enabled())
	_, _, err := f.seq.ReadEvent()
	assert.ErrorIs(t, err, loopback.ErrClosed)

	require.NoError(t, f.bridge.Finish())
}

func TestBridge_PauseSleepsAfterDrain(t *testing.T) {
	b := &Bridge{cfg: Config{PollInterval: 20 * time.Millisecond}}
	timer := newPollTimer()
	defer timer.Stop()

	// a drain longer than the poll interval
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.True(t, b.pause(context.Background(), timer))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, b.pause(ctx, timer))
}

func TestBridge_ConfiguredTaskStarter(t *testing.T) {
	f := newFixture(t, nil, []contracts.StreamKind{midiK})

	var names []string
	f.bridge.cfg.StartTask = func(name string, prio rtthread.Priority, fn func(context.Context)) (*rtthread.Task, error) {
		names = append(names, name)
		return nil, rtthread.ErrTaskStart
	}

	assert.ErrorIs(t, f.bridge.Start(), ErrTaskStart)
	assert.Equal(t, []string{"midi-queue"}, names)
	assert.False(t, f.bridge.Running())
}
