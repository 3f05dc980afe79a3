// Package dummy is a software clocked transport. It paces cycles with a timer,
// fills capture streams with a sine tone, keeps the last period written to each
// playback stream and queues MIDI words in memory.
package dummy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

const (
	// Name is the backend name reported to the driver.
	Name = "dummy"
	// Version is the backend version reported to the driver.
	Version = "1.0.0"
	// MIDIQueueSize is the number of words a MIDI stream queue holds.
	MIDIQueueSize = 1024

	defaultFrequency = 440.0
	defaultAmplitude = 0.25
)

var (
	// ErrNotRunning is returned by Wait before Start or after Stop.
	ErrNotRunning = errors.New("dummy transport not running")
	// ErrClosed is returned by every call on a closed transport.
	ErrClosed = errors.New("dummy transport closed")
	// ErrStream is returned for a stream index out of range.
	ErrStream = errors.New("no such stream")
)

// Stream describes one channel of the simulated device.
type Stream struct {
	Name string
	Kind contracts.StreamKind
}

// DefaultStreams returns channels audio streams named "<prefix>_N", followed
// by one MIDI stream when midi is set.
func DefaultStreams(prefix string, channels int, midi bool) []Stream {
	streams := make([]Stream, 0, channels+1)
	for i := 1; i <= channels; i++ {
		streams = append(streams, Stream{Name: fmt.Sprintf("%s_%d", prefix, i), Kind: contracts.StreamAudio})
	}
	if midi {
		streams = append(streams, Stream{Name: prefix + "_midi", Kind: contracts.StreamMIDI})
	}
	return streams
}

// Config describes the simulated device.
type Config struct {
	Capture  []Stream
	Playback []Stream

	Frequency float64 // capture tone in Hz
	Amplitude float32
	NoPacing  bool // Wait returns at once instead of sleeping one period
	LoopMIDI  bool // words written to the n-th playback MIDI stream are read back from the n-th capture MIDI stream
	Logger    contracts.Logger
}

// Backend implements contracts.TransportBackend.
type Backend struct {
	cfg Config
}

var _ contracts.TransportBackend = (*Backend)(nil)

// New returns a backend. Without streams it simulates a duplex device with two
// audio channels and one MIDI port per direction.
func New(cfg Config) *Backend {
	if len(cfg.Capture) == 0 && len(cfg.Playback) == 0 {
		cfg.Capture = DefaultStreams("capture", 2, true)
		cfg.Playback = DefaultStreams("playback", 2, true)
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = defaultFrequency
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = defaultAmplitude
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string    { return Name }
func (b *Backend) Version() string { return Version }
func (b *Backend) APIVersion() int { return contracts.TransportAPIVersion }

// Init creates the simulated device. An ignored direction exposes no streams.
func (b *Backend) Init(opts contracts.DeviceOptions) (contracts.Transport, error) {
	if opts.SampleRate <= 0 || opts.PeriodSize <= 0 {
		return nil, fmt.Errorf("dummy: invalid rate %d or period %d", opts.SampleRate, opts.PeriodSize)
	}

	t := &Transport{
		cfg:    b.cfg,
		rate:   opts.SampleRate,
		frames: opts.PeriodSize,
		period: time.Duration(opts.PeriodSize) * time.Second / time.Duration(opts.SampleRate),
	}
	if !opts.IgnoreCapture {
		t.streams[contracts.Capture] = newStreams(b.cfg.Capture, opts.PeriodSize)
	}
	if !opts.IgnorePlayback {
		t.streams[contracts.Playback] = newStreams(b.cfg.Playback, opts.PeriodSize)
	}

	if log := b.cfg.Logger; log != nil {
		log.Debug("dummy transport initialized",
			log.Field().Int("capture_streams", len(t.streams[contracts.Capture])),
			log.Field().Int("playback_streams", len(t.streams[contracts.Playback])),
			log.Field().Duration("period", t.period),
			log.Field().Bool("paced", !b.cfg.NoPacing))
	}
	return t, nil
}

type stream struct {
	Stream
	buf    []float32
	typ    contracts.BufferType
	phase  float64
	played []float32 // last period written, playback audio only

	mu    sync.Mutex
	queue []uint32 // MIDI words
}

func newStreams(desc []Stream, frames int) []*stream {
	out := make([]*stream, len(desc))
	for i, d := range desc {
		out[i] = &stream{Stream: d}
		if d.Kind == contracts.StreamAudio {
			out[i].played = make([]float32, frames)
		}
	}
	return out
}

// Transport implements contracts.Transport.
type Transport struct {
	cfg     Config
	rate    int
	frames  int
	period  time.Duration
	streams [2][]*stream

	mu        sync.Mutex
	running   bool
	closed    bool
	deadline  time.Time
	xruns     int
	waitErr   error
	transfers [2]uint64
}

var _ contracts.Transport = (*Transport)(nil)

func (t *Transport) StreamCount(dir contracts.Direction) int { return len(t.streams[dir]) }

func (t *Transport) StreamKind(dir contracts.Direction, i int) contracts.StreamKind {
	return t.streams[dir][i].Kind
}

func (t *Transport) StreamName(dir contracts.Direction, i int) string {
	return t.streams[dir][i].Name
}

func (t *Transport) SetStreamBuffer(dir contracts.Direction, i int, buf []float32, typ contracts.BufferType) error {
	if i < 0 || i >= len(t.streams[dir]) {
		return fmt.Errorf("%w: %s %d", ErrStream, dir, i)
	}
	s := t.streams[dir][i]
	s.buf, s.typ = buf, typ
	return nil
}

// Transfer fills bound capture buffers or records bound playback buffers.
func (t *Transport) Transfer(dir contracts.Direction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	for _, s := range t.streams[dir] {
		if s.buf == nil || s.Kind != contracts.StreamAudio {
			continue
		}
		n := min(len(s.buf), t.frames)
		if dir == contracts.Capture {
			t.tone(s, s.buf[:n])
		} else {
			copy(s.played, s.buf[:n])
		}
	}
	t.transfers[dir]++
	return nil
}

func (t *Transport) tone(s *stream, dst []float32) {
	step := 2 * math.Pi * t.cfg.Frequency / float64(t.rate)
	for i := range dst {
		dst[i] = t.cfg.Amplitude * float32(math.Sin(s.phase))
		s.phase += step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
}

// Wait sleeps until the next period boundary. A wake more than one period late
// is reported as an xrun and the schedule restarts from now.
func (t *Transport) Wait() (int, error) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return 0, ErrClosed
	case t.waitErr != nil:
		err := t.waitErr
		t.mu.Unlock()
		return 0, err
	case !t.running:
		t.mu.Unlock()
		return 0, ErrNotRunning
	case t.xruns > 0:
		t.xruns--
		t.mu.Unlock()
		return -1, nil
	case t.cfg.NoPacing:
		t.mu.Unlock()
		return t.frames, nil
	}
	deadline := t.deadline
	t.mu.Unlock()

	now := time.Now()
	if now.Sub(deadline) > t.period {
		t.mu.Lock()
		t.deadline = now.Add(t.period)
		t.mu.Unlock()
		return -1, nil
	}
	if d := deadline.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		<-timer.C
	}

	t.mu.Lock()
	t.deadline = deadline.Add(t.period)
	t.mu.Unlock()
	return t.frames, nil
}

// ReadStream pops queued words from a capture MIDI stream.
func (t *Transport) ReadStream(i int, buf []uint32) int {
	s := t.midiStream(contracts.Capture, i)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(buf, s.queue)
	s.queue = s.queue[n:]
	return n
}

// WriteStream queues words on a playback MIDI stream. Words beyond
// MIDIQueueSize are rejected.
func (t *Transport) WriteStream(i int, buf []uint32) int {
	s := t.midiStream(contracts.Playback, i)
	if s == nil {
		return 0
	}

	if t.cfg.LoopMIDI {
		if in := t.loopTarget(i); in != nil {
			return push(in, buf)
		}
	}
	return push(s, buf)
}

func push(s *stream, buf []uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(len(buf), MIDIQueueSize-len(s.queue))
	s.queue = append(s.queue, buf[:n]...)
	return n
}

func (t *Transport) midiStream(dir contracts.Direction, i int) *stream {
	if i < 0 || i >= len(t.streams[dir]) || t.streams[dir][i].Kind != contracts.StreamMIDI {
		return nil
	}
	return t.streams[dir][i]
}

// loopTarget returns the capture MIDI stream with the same MIDI index as the
// playback stream i.
func (t *Transport) loopTarget(i int) *stream {
	var idx int
	for j := 0; j < i; j++ {
		if t.streams[contracts.Playback][j].Kind == contracts.StreamMIDI {
			idx++
		}
	}
	for _, s := range t.streams[contracts.Capture] {
		if s.Kind != contracts.StreamMIDI {
			continue
		}
		if idx == 0 {
			return s
		}
		idx--
	}
	return nil
}

// InjectMIDI queues bytes on a capture MIDI stream as if received from the device.
func (t *Transport) InjectMIDI(i int, data ...byte) error {
	s := t.midiStream(contracts.Capture, i)
	if s == nil {
		return fmt.Errorf("%w: capture midi %d", ErrStream, i)
	}
	words := make([]uint32, len(data))
	for j, b := range data {
		words[j] = uint32(b)
	}
	if push(s, words) != len(words) {
		return fmt.Errorf("dummy: capture midi %d queue full", i)
	}
	return nil
}

// DrainMIDI returns and clears the bytes queued on a playback MIDI stream.
func (t *Transport) DrainMIDI(i int) []byte {
	s := t.midiStream(contracts.Playback, i)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.queue))
	for j, w := range s.queue {
		out[j] = byte(w & 0xFF)
	}
	s.queue = s.queue[:0]
	return out
}

// Played returns a copy of the last period transferred from playback stream i.
func (t *Transport) Played(i int) []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.streams[contracts.Playback]) {
		return nil
	}
	s := t.streams[contracts.Playback][i]
	if s.played == nil {
		return nil
	}
	return append([]float32(nil), s.played...)
}

// Transfers returns the number of transfers made in a direction.
func (t *Transport) Transfers(dir contracts.Direction) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfers[dir]
}

// InjectXRun makes the next n waits report an xrun.
func (t *Transport) InjectXRun(n int) {
	t.mu.Lock()
	t.xruns += n
	t.mu.Unlock()
}

// FailWait makes every following wait fail with err.
func (t *Transport) FailWait(err error) {
	t.mu.Lock()
	t.waitErr = err
	t.mu.Unlock()
}

func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.running = true
	t.deadline = time.Now().Add(t.period)
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.running = false
	t.closed = true
	return nil
}
