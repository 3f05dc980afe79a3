// Package alsapcm is a transport over raw ALSA hw PCM devices. Every hardware
// channel is exposed as one audio stream; samples move as interleaved S32_LE
// frames, one period per transfer.
package alsapcm

import (
	"errors"
	"fmt"
	"math"
	"syscall"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"go.uber.org/multierr"
)

const (
	// Name is the backend name reported to the driver.
	Name = "alsa"
	// Version is the backend version reported to the driver.
	Version = "0.1.0"
)

var (
	// ErrUnsupported is returned by Init on platforms without ALSA.
	ErrUnsupported = errors.New("ALSA is not available on this platform")
	// ErrTimeout is returned by Wait when the device did not become ready in time.
	ErrTimeout = errors.New("timeout waiting for PCM device")
	// ErrNoChannels is returned by Init when no enabled direction has channels.
	ErrNoChannels = errors.New("no PCM channels configured")
)

// pcmDevice is the part of an ALSA PCM handle the transport uses.
type pcmDevice interface {
	Wait(timeoutMs int) (bool, error)
	Read(data any) (int, error)
	Write(data any) (int, error)
	Prepare() error
	Start() error
	Stop() error
	Close() error
}

type pcmConfig struct {
	Card, Device uint
	Capture      bool
	Channels     uint32
	Rate         uint32
	PeriodSize   uint32
	PeriodCount  uint32
}

// openPCM is set per platform.
var openPCM func(cfg pcmConfig) (pcmDevice, error)

// Config selects the channel layout of the card.
type Config struct {
	CaptureChannels  int
	PlaybackChannels int
	Logger           contracts.Logger
}

// Backend implements contracts.TransportBackend.
type Backend struct {
	cfg Config
}

var _ contracts.TransportBackend = (*Backend)(nil)

// New returns a backend. Zero channel counts default to stereo.
func New(cfg Config) *Backend {
	if cfg.CaptureChannels <= 0 {
		cfg.CaptureChannels = 2
	}
	if cfg.PlaybackChannels <= 0 {
		cfg.PlaybackChannels = 2
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string    { return Name }
func (b *Backend) Version() string { return Version }
func (b *Backend) APIVersion() int { return contracts.TransportAPIVersion }

// Init opens the PCM devices of card opts.Port, device opts.NodeID (0 when unset).
func (b *Backend) Init(opts contracts.DeviceOptions) (contracts.Transport, error) {
	if openPCM == nil {
		return nil, ErrUnsupported
	}
	if opts.IgnoreCapture && opts.IgnorePlayback {
		return nil, ErrNoChannels
	}

	device := opts.NodeID
	if device < 0 {
		device = 0
	}
	base := pcmConfig{
		Card:        uint(opts.Port),
		Device:      uint(device),
		Rate:        uint32(opts.SampleRate),
		PeriodSize:  uint32(opts.PeriodSize),
		PeriodCount: uint32(max(opts.Buffers, 2)),
	}

	t := &Transport{
		log:     b.cfg.Logger,
		frames:  opts.PeriodSize,
		buffers: opts.Buffers,
		timeout: max(2*opts.PeriodSize*1000/opts.SampleRate, 1),
	}

	if !opts.IgnoreCapture {
		cfg := base
		cfg.Capture = true
		cfg.Channels = uint32(b.cfg.CaptureChannels)
		dev, err := openPCM(cfg)
		if err != nil {
			return nil, fmt.Errorf("opening capture hw:%d,%d: %w", cfg.Card, cfg.Device, err)
		}
		t.capture = newSide(dev, b.cfg.CaptureChannels, opts.PeriodSize)
	}

	if !opts.IgnorePlayback {
		cfg := base
		cfg.Channels = uint32(b.cfg.PlaybackChannels)
		dev, err := openPCM(cfg)
		if err != nil {
			if t.capture != nil {
				err = multierr.Append(err, t.capture.dev.Close())
			}
			return nil, fmt.Errorf("opening playback hw:%d,%d: %w", cfg.Card, cfg.Device, err)
		}
		t.playback = newSide(dev, b.cfg.PlaybackChannels, opts.PeriodSize)
	}

	if log := b.cfg.Logger; log != nil {
		log.Info("ALSA transport opened",
			log.Field().Int("card", opts.Port),
			log.Field().Int("device", device),
			log.Field().Int("capture_channels", t.StreamCount(contracts.Capture)),
			log.Field().Int("playback_channels", t.StreamCount(contracts.Playback)))
	}
	return t, nil
}

// side is one PCM device with its interleaved transfer buffer.
type side struct {
	dev   pcmDevice
	bufs  [][]float32
	frame []int32
}

func newSide(dev pcmDevice, channels, frames int) *side {
	return &side{
		dev:   dev,
		bufs:  make([][]float32, channels),
		frame: make([]int32, channels*frames),
	}
}

func (s *side) channels() int {
	if s == nil {
		return 0
	}
	return len(s.bufs)
}

// Transport implements contracts.Transport.
type Transport struct {
	log      contracts.Logger
	frames   int
	buffers  int
	timeout  int // poll timeout in ms
	capture  *side
	playback *side
}

var _ contracts.Transport = (*Transport)(nil)

func (t *Transport) side(dir contracts.Direction) *side {
	if dir == contracts.Capture {
		return t.capture
	}
	return t.playback
}

func (t *Transport) StreamCount(dir contracts.Direction) int { return t.side(dir).channels() }

func (t *Transport) StreamKind(contracts.Direction, int) contracts.StreamKind {
	return contracts.StreamAudio
}

func (t *Transport) StreamName(dir contracts.Direction, i int) string {
	return fmt.Sprintf("%s_%d", dir, i+1)
}

func (t *Transport) SetStreamBuffer(dir contracts.Direction, i int, buf []float32, typ contracts.BufferType) error {
	s := t.side(dir)
	if i < 0 || i >= s.channels() {
		return fmt.Errorf("alsa: no %s channel %d", dir, i)
	}
	if buf != nil && typ != contracts.BufferFloat {
		buf = nil
	}
	s.bufs[i] = buf
	return nil
}

// Transfer reads one period into the bound capture buffers or writes the bound
// playback buffers as one period. Unbound playback channels play silence.
func (t *Transport) Transfer(dir contracts.Direction) error {
	s := t.side(dir)
	if s == nil {
		return nil
	}

	if dir == contracts.Capture {
		if _, err := s.dev.Read(s.frame); err != nil {
			return fmt.Errorf("alsa capture: %w", err)
		}
		deinterleave(s.frame, s.bufs, t.frames)
		return nil
	}

	interleave(s.bufs, s.frame, t.frames)
	if _, err := s.dev.Write(s.frame); err != nil {
		return fmt.Errorf("alsa playback: %w", err)
	}
	return nil
}

// Wait polls the capture device, or the playback device when capture is
// ignored. An xrun re-prepares and restarts the device and is reported as -1.
func (t *Transport) Wait() (int, error) {
	s := t.capture
	if s == nil {
		s = t.playback
	}

	ready, err := s.dev.Wait(t.timeout)
	switch {
	case errors.Is(err, syscall.EPIPE):
		if rerr := t.recover(s); rerr != nil {
			return 0, rerr
		}
		return -1, nil
	case err != nil:
		return 0, fmt.Errorf("alsa wait: %w", err)
	case !ready:
		return 0, fmt.Errorf("%w after %dms", ErrTimeout, t.timeout)
	}
	return t.frames, nil
}

func (t *Transport) recover(s *side) error {
	if t.log != nil {
		t.log.Warn("ALSA xrun, restarting device")
	}
	if err := s.dev.Prepare(); err != nil {
		return fmt.Errorf("alsa recover: %w", err)
	}
	if s == t.playback {
		if err := t.prefill(); err != nil {
			return err
		}
	}
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("alsa recover: %w", err)
	}
	return nil
}

// ALSA rawmidi is not exposed, so there are no MIDI streams.
func (t *Transport) ReadStream(int, []uint32) int  { return 0 }
func (t *Transport) WriteStream(int, []uint32) int { return 0 }

// prefill queues buffers-1 periods of silence so playback does not underrun on start.
func (t *Transport) prefill() error {
	clear(t.playback.frame)
	for i := 1; i < t.buffers; i++ {
		if _, err := t.playback.dev.Write(t.playback.frame); err != nil {
			return fmt.Errorf("alsa prefill: %w", err)
		}
	}
	return nil
}

func (t *Transport) Start() error {
	if t.playback != nil {
		if err := t.playback.dev.Prepare(); err != nil {
			return err
		}
		if err := t.prefill(); err != nil {
			return err
		}
		if err := t.playback.dev.Start(); err != nil {
			return err
		}
	}
	if t.capture != nil {
		if err := t.capture.dev.Prepare(); err != nil {
			return err
		}
		if err := t.capture.dev.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Stop() error {
	var err error
	for _, s := range []*side{t.capture, t.playback} {
		if s != nil {
			err = multierr.Append(err, s.dev.Stop())
		}
	}
	return err
}

func (t *Transport) Close() error {
	var err error
	for _, s := range []*side{t.capture, t.playback} {
		if s != nil {
			err = multierr.Append(err, s.dev.Close())
		}
	}
	t.capture, t.playback = nil, nil
	return err
}

const fullScale = 1 << 31

func toSample(v float32) int32 {
	switch {
	case v >= 1:
		return math.MaxInt32
	case v <= -1:
		return math.MinInt32
	}
	return int32(float64(v) * fullScale)
}

func fromSample(s int32) float32 {
	return float32(float64(s) / fullScale)
}

func interleave(bufs [][]float32, dst []int32, frames int) {
	ch := len(bufs)
	for c, buf := range bufs {
		for i := 0; i < frames; i++ {
			var v int32
			if i < len(buf) {
				v = toSample(buf[i])
			}
			dst[i*ch+c] = v
		}
	}
}

func deinterleave(src []int32, bufs [][]float32, frames int) {
	ch := len(bufs)
	for c, buf := range bufs {
		n := min(len(buf), frames)
		for i := 0; i < n; i++ {
			buf[i] = fromSample(src[i*ch+c])
		}
	}
}
